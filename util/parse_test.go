package util_test

import (
	"testing"

	"github.com/gaasedelen/simutrace/util"
)

func TestParseInt(t *testing.T) {
	tests := []struct {
		input    string
		fallback int
		want     int
	}{
		{"123", 0, 123},
		{"0", 99, 0},
		{"-5", 0, -5},
		{"abc", 42, 42},
		{"", 7, 7},
		{"   ", 8, 8},
	}

	for _, tt := range tests {
		got := util.ParseInt(tt.input, tt.fallback)
		if got != tt.want {
			t.Errorf("ParseInt(%q, %d) = %d; want %d", tt.input, tt.fallback, got, tt.want)
		}
	}
}

func TestParseBool(t *testing.T) {
	tests := []struct {
		input    string
		fallback bool
		want     bool
	}{
		{"true", false, true},
		{"false", true, false},
		{"1", false, true},
		{"0", true, false},
		{"yes", false, false},
		{"", true, true},
	}

	for _, tt := range tests {
		got := util.ParseBool(tt.input, tt.fallback)
		if got != tt.want {
			t.Errorf("ParseBool(%q, %v) = %v; want %v", tt.input, tt.fallback, got, tt.want)
		}
	}
}

func TestParseSize(t *testing.T) {
	tests := []struct {
		input    string
		fallback int
		want     int
	}{
		{"4096", 0, 4096},
		{"64k", 0, 64 << 10},
		{"4m", 0, 4 << 20},
		{"1g", 0, 1 << 30},
		{"4M", 0, 4 << 20},
		{" 8 m ", 0, 8 << 20},
		{"", 42, 42},
		{"abc", 42, 42},
		{"-1", 42, 42},
	}

	for _, tt := range tests {
		if got := util.ParseSize(tt.input, tt.fallback); got != tt.want {
			t.Errorf("ParseSize(%q, %d) = %d; want %d", tt.input, tt.fallback, got, tt.want)
		}
	}
}

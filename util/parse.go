package util

import (
	"strconv"
	"strings"
)

func ParseInt(str string, fallback int) int {
	if v, err := strconv.Atoi(str); err == nil {
		return v
	}
	return fallback
}

func ParseBool(str string, fallback bool) bool {
	if v, err := strconv.ParseBool(str); err == nil {
		return v
	}
	return fallback
}

// ParseSize parses a byte count with an optional k/m/g suffix, e.g.
// "4m" or "65536". Suffixes are binary multiples.
func ParseSize(str string, fallback int) int {
	s := strings.TrimSpace(strings.ToLower(str))
	if s == "" {
		return fallback
	}

	shift := 0
	switch s[len(s)-1] {
	case 'k':
		shift = 10
		s = s[:len(s)-1]
	case 'm':
		shift = 20
		s = s[:len(s)-1]
	case 'g':
		shift = 30
		s = s[:len(s)-1]
	}

	v, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || v < 0 {
		return fallback
	}
	return v << shift
}

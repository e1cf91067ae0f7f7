package config_test

import (
	"testing"

	"gopkg.in/yaml.v3"

	"github.com/gaasedelen/simutrace/pkg/config"
	"github.com/gaasedelen/simutrace/util"
)

func TestDefaults(t *testing.T) {
	cfg := config.Default()

	if cfg.RetryCount != 24 {
		t.Errorf("RetryCount = %d, want 24", cfg.RetryCount)
	}
	if cfg.RetrySleepMS != 250 {
		t.Errorf("RetrySleepMS = %d, want 250", cfg.RetrySleepMS)
	}
	if cfg.PoolSize != 8 {
		t.Errorf("PoolSize = %d, want 8", cfg.PoolSize)
	}
	if cfg.SegmentSize != 4<<20 {
		t.Errorf("SegmentSize = %d, want %d", cfg.SegmentSize, 4<<20)
	}
	if !cfg.SharedMemory {
		t.Errorf("SharedMemory should default to true")
	}
	if cfg.DisableCache {
		t.Errorf("DisableCache should default to false")
	}
	if cfg.CompressionType != "lz4" {
		t.Errorf("CompressionType = %q, want lz4", cfg.CompressionType)
	}
	if cfg.StoreDir != "trace-store" {
		t.Errorf("StoreDir = %q", cfg.StoreDir)
	}
}

func TestNormalizeClampsInvalidValues(t *testing.T) {
	cfg := &config.Config{
		RetryCount:      -5,
		RetrySleepMS:    0,
		PoolSize:        -1,
		SegmentSize:     512,
		CompressionType: "zstd",
		ExporterPort:    0,
	}
	cfg.Normalize()

	if cfg.RetryCount != 24 || cfg.RetrySleepMS != 250 || cfg.PoolSize != 8 {
		t.Errorf("memmgmt knobs not clamped: %+v", cfg)
	}
	if cfg.SegmentSize != 4<<20 {
		t.Errorf("SegmentSize = %d", cfg.SegmentSize)
	}
	if cfg.CompressionType != "lz4" {
		t.Errorf("CompressionType = %q", cfg.CompressionType)
	}
	if cfg.ExporterPort != 9100 {
		t.Errorf("ExporterPort = %d", cfg.ExporterPort)
	}
}

func TestYAMLConfig(t *testing.T) {
	data := []byte(`
log_level: debug
disable_cache: true
retry_count: 7
retry_sleep_ms: 10
pool_size: 16
segment_size: 8192
shared_memory: false
store_dir: /tmp/traces
compression_type: snappy
`)

	cfg := &config.Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		t.Fatalf("yaml.Unmarshal: %v", err)
	}
	cfg.Normalize()

	if cfg.LogLevel != util.LogLevelDebug {
		t.Errorf("LogLevel = %v", cfg.LogLevel)
	}
	if !cfg.DisableCache {
		t.Errorf("DisableCache not set")
	}
	if cfg.RetryCount != 7 || cfg.RetrySleepMS != 10 || cfg.PoolSize != 16 {
		t.Errorf("memmgmt knobs: %+v", cfg)
	}
	if cfg.SegmentSize != 8192 {
		t.Errorf("SegmentSize = %d", cfg.SegmentSize)
	}
	if cfg.SharedMemory {
		t.Errorf("SharedMemory not overridden")
	}
	if cfg.StoreDir != "/tmp/traces" || cfg.CompressionType != "snappy" {
		t.Errorf("store knobs: %q %q", cfg.StoreDir, cfg.CompressionType)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("SIMUTRACE_MEMMGMT_POOL_SIZE", "32")
	t.Setenv("SIMUTRACE_MEMMGMT_DISABLE_CACHE", "true")
	t.Setenv("SIMUTRACE_ENCODER_COMPRESSION", "gzip")

	cfg := &config.Config{PoolSize: 8}
	cfg.ApplyEnvOverrides()
	cfg.Normalize()

	if cfg.PoolSize != 32 {
		t.Errorf("PoolSize = %d, want 32", cfg.PoolSize)
	}
	if !cfg.DisableCache {
		t.Errorf("DisableCache not overridden")
	}
	if cfg.CompressionType != "gzip" {
		t.Errorf("CompressionType = %q", cfg.CompressionType)
	}
}

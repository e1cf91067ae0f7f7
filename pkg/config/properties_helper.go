package config

import (
	"os"
	"strings"

	"github.com/gaasedelen/simutrace/util"
)

// Normalize clamps every knob to a usable value. Invalid settings fall
// back to their defaults with a warning where the mistake is likely a
// typo rather than an omission.
func (cfg *Config) Normalize() {
	if cfg.ExporterPort <= 0 {
		cfg.ExporterPort = 9100
	}

	// memory management
	if cfg.RetryCount <= 0 {
		cfg.RetryCount = 24
	}
	if cfg.RetrySleepMS <= 0 {
		cfg.RetrySleepMS = 250
	}
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = 8
	}
	if cfg.SegmentSize < 4096 {
		cfg.SegmentSize = 4 << 20 // 4MB
	}

	// store persistence
	if strings.TrimSpace(cfg.StoreDir) == "" {
		cfg.StoreDir = "trace-store"
	}
	if cfg.CompressionType == "" {
		cfg.CompressionType = "lz4"
	}
	if !util.SegmentCodecSupported(cfg.CompressionType) {
		util.Warn("Invalid compression_type '%s', defaulting to 'lz4'", cfg.CompressionType)
		cfg.CompressionType = "lz4"
	}
}

// ApplyEnvOverrides lets SIMUTRACE_* environment variables win over the
// config file, mirroring the flat dotted keys of the server options.
func (cfg *Config) ApplyEnvOverrides() {
	overrideEnvBool(&cfg.DisableCache, "SIMUTRACE_MEMMGMT_DISABLE_CACHE")
	overrideEnvInt(&cfg.RetryCount, "SIMUTRACE_MEMMGMT_RETRY_COUNT")
	overrideEnvInt(&cfg.RetrySleepMS, "SIMUTRACE_MEMMGMT_RETRY_SLEEP")
	overrideEnvInt(&cfg.PoolSize, "SIMUTRACE_MEMMGMT_POOL_SIZE")
	overrideEnvInt(&cfg.SegmentSize, "SIMUTRACE_MEMMGMT_SEGMENT_SIZE")
	overrideEnvBool(&cfg.SharedMemory, "SIMUTRACE_MEMMGMT_SHARED_MEMORY")
	overrideEnvBool(&cfg.SanityChecks, "SIMUTRACE_MEMMGMT_SANITY_CHECKS")
	overrideEnvString(&cfg.StoreDir, "SIMUTRACE_STORE_DIR")
	overrideEnvString(&cfg.CompressionType, "SIMUTRACE_ENCODER_COMPRESSION")
	overrideEnvBool(&cfg.EnableExporter, "SIMUTRACE_ENABLE_EXPORTER")
	overrideEnvInt(&cfg.ExporterPort, "SIMUTRACE_EXPORTER_PORT")
}

func overrideEnvInt(target *int, key string) {
	if v := os.Getenv(key); v != "" {
		*target = util.ParseInt(v, *target)
	}
}

func overrideEnvBool(target *bool, key string) {
	if v := os.Getenv(key); v != "" {
		*target = util.ParseBool(v, *target)
	}
}

func overrideEnvString(target *string, key string) {
	if v := os.Getenv(key); v != "" {
		*target = v
	}
}

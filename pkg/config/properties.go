package config

import (
	"encoding/json"
	"flag"
	"os"
	"strings"

	"github.com/gaasedelen/simutrace/util"
	"gopkg.in/yaml.v3"
)

// Config represents the storage server configuration including the
// memory management knobs of the stream buffer engine.
type Config struct {
	// Server settings
	LogLevel       util.LogLevel `yaml:"log_level" json:"log_level"`
	EnableExporter bool          `yaml:"enable_exporter" json:"enable.exporter"`
	ExporterPort   int           `yaml:"exporter_port" json:"exporter.port"`

	// Memory management (stream buffers)
	DisableCache bool `yaml:"disable_cache" json:"server.memmgmt.disableCache"`
	RetryCount   int  `yaml:"retry_count" json:"server.memmgmt.retryCount"`
	RetrySleepMS int  `yaml:"retry_sleep_ms" json:"server.memmgmt.retrySleep"`
	PoolSize     int  `yaml:"pool_size" json:"server.memmgmt.poolSize"`
	SegmentSize  int  `yaml:"segment_size" json:"server.memmgmt.segmentSize"`
	SharedMemory bool `yaml:"shared_memory" json:"server.memmgmt.sharedMemory"`
	SanityChecks bool `yaml:"sanity_checks" json:"server.memmgmt.sanityChecks"`

	// Store persistence (encoders)
	StoreDir        string `yaml:"store_dir" json:"server.store.dir"`
	CompressionType string `yaml:"compression_type" json:"server.encoder.compression"`
}

// Default returns a configuration with every knob at its default.
func Default() *Config {
	cfg := &Config{
		EnableExporter: true,
		SharedMemory:   true,
	}
	cfg.Normalize()
	return cfg
}

func LoadConfig() (*Config, error) {
	cfg := &Config{
		EnableExporter: true,
		SharedMemory:   true,
	}

	configPath := flag.String("config", "", "Path to YAML/JSON config file")
	logLevelStr := flag.String("log-level", "info", "Log Level (debug, info, warn, error)")
	storeDirStr := flag.String("store-dir", "trace-store", "Path for persisted trace data")
	exporterPortStr := flag.String("exporter-port", "9100", "Prometheus exporter port")
	poolSizeStr := flag.String("pool-size", "8", "Segments per stream buffer")
	segmentSizeStr := flag.String("segment-size", "4m", "Segment payload size in bytes (k/m/g suffixes allowed)")

	if envPath := os.Getenv("CONFIG_PATH"); envPath != "" && *configPath == "" {
		*configPath = envPath
	}

	flag.Parse()

	cfg.LogLevel = parseLogLevel(*logLevelStr)
	cfg.StoreDir = *storeDirStr
	cfg.ExporterPort = util.ParseInt(*exporterPortStr, 9100)
	cfg.PoolSize = util.ParseInt(*poolSizeStr, 8)
	cfg.SegmentSize = util.ParseSize(*segmentSizeStr, 4<<20)

	if *configPath != "" {
		data, err := os.ReadFile(*configPath)
		if err != nil {
			return nil, err
		}

		if strings.HasSuffix(*configPath, ".json") {
			if err := json.Unmarshal(data, cfg); err != nil {
				return nil, err
			}
		} else {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, err
			}
		}
	}

	cfg.ApplyEnvOverrides()
	cfg.Normalize()
	util.SetLevel(cfg.LogLevel)
	util.EnableMemTrace(cfg.SanityChecks)

	return cfg, nil
}

func parseLogLevel(s string) util.LogLevel {
	switch strings.ToLower(s) {
	case "debug":
		return util.LogLevelDebug
	case "info":
		return util.LogLevelInfo
	case "warn", "warning":
		return util.LogLevelWarn
	case "error":
		return util.LogLevelError
	default:
		return util.LogLevelInfo
	}
}

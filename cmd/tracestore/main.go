package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/gaasedelen/simutrace/pkg/config"
	"github.com/gaasedelen/simutrace/pkg/metrics"
	"github.com/gaasedelen/simutrace/pkg/store"
	"github.com/gaasedelen/simutrace/util"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	util.Info("Starting trace store <pool: %d x %d bytes, cache: %v, compression: %s>",
		cfg.PoolSize, cfg.SegmentSize, !cfg.DisableCache, cfg.CompressionType)

	if cfg.EnableExporter {
		metrics.StartMetricsServer(cfg.ExporterPort)
	}

	st, err := store.NewStore(cfg, 0, "default")
	if err != nil {
		log.Fatalf("Failed to create store: %v", err)
	}

	util.Info("Trace store ready <store: %q, buffer fd: %d>",
		st.Name(), st.Buffer().SharedMemoryFd())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh

	util.Info("Received %s, draining store", sig)

	if err := st.Close(); err != nil {
		util.Error("Store shutdown reported: %v", err)
		os.Exit(1)
	}
}

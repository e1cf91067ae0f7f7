package metrics

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gaasedelen/simutrace/util"
)

func init() {
	prometheus.MustRegister(SegmentRequests, SegmentRequestRetries,
		StandbyHits, StandbyEvictions,
		SegmentsSubmitted, SegmentsDropped, SegmentsPurged,
		SegmentsInUse, StandbySegments,
		EncodeSeconds, DecodeSeconds)
}

// StartMetricsServer exposes the Prometheus exporter on the given port.
func StartMetricsServer(port int) {
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		addr := fmt.Sprintf(":%d", port)
		util.Info("Prometheus exporter listening on %s", addr)
		if err := http.ListenAndServe(addr, mux); err != nil {
			util.Error("Failed to start metrics server: %v", err)
		}
	}()
}

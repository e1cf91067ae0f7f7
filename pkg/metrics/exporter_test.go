package metrics_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/gaasedelen/simutrace/pkg/metrics"
)

func gatherFamily(t *testing.T, name string) *dto.MetricFamily {
	t.Helper()

	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}

	for _, family := range families {
		if family.GetName() == name {
			return family
		}
	}
	return nil
}

func TestCollectorsRegistered(t *testing.T) {
	for _, name := range []string{
		"simutrace_segment_requests_total",
		"simutrace_standby_hits_total",
		"simutrace_standby_evictions_total",
		"simutrace_segments_submitted_total",
		"simutrace_segments_in_use",
		"simutrace_standby_segments",
		"simutrace_encode_seconds",
	} {
		if gatherFamily(t, name) == nil {
			t.Errorf("metric family %s not registered", name)
		}
	}
}

func TestCounterIncrements(t *testing.T) {
	before := gatherFamily(t, "simutrace_segment_requests_total")
	var base float64
	if before != nil && len(before.Metric) > 0 {
		base = before.Metric[0].GetCounter().GetValue()
	}

	metrics.SegmentRequests.Inc()
	metrics.SegmentRequests.Inc()

	after := gatherFamily(t, "simutrace_segment_requests_total")
	if after == nil || len(after.Metric) == 0 {
		t.Fatal("counter family missing after increment")
	}
	if got := after.Metric[0].GetCounter().GetValue(); got != base+2 {
		t.Errorf("counter = %v, want %v", got, base+2)
	}
}

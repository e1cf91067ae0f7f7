package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	SegmentRequests = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "simutrace_segment_requests_total",
		Help: "Total number of segment allocations served by the stream buffers",
	})

	SegmentRequestRetries = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "simutrace_segment_request_retries_total",
		Help: "Total number of contention retries while waiting for a free segment",
	})

	StandbyHits = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "simutrace_standby_hits_total",
		Help: "Total number of segment opens served from the standby cache",
	})

	StandbyEvictions = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "simutrace_standby_evictions_total",
		Help: "Total number of standby segments evicted for reuse",
	})

	SegmentsSubmitted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "simutrace_segments_submitted_total",
		Help: "Total number of written segments submitted for encoding",
	})

	SegmentsDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "simutrace_segments_dropped_total",
		Help: "Total number of empty segments dropped on submit",
	})

	SegmentsPurged = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "simutrace_segments_purged_total",
		Help: "Total number of segments returned to the free list",
	})

	SegmentsInUse = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "simutrace_segments_in_use",
		Help: "Segments currently held by writers, readers or the standby cache",
	})

	StandbySegments = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "simutrace_standby_segments",
		Help: "Segments currently parked on the standby list",
	})

	EncodeSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "simutrace_encode_seconds",
		Help:    "Histogram of encoder write latency per segment",
		Buckets: prometheus.DefBuckets,
	})

	DecodeSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "simutrace_decode_seconds",
		Help:    "Histogram of encoder read latency per segment",
		Buckets: prometheus.DefBuckets,
	})
)

// Package telemetry exposes pipeline counters on /metrics.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	JobsStarted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crowd_jobs_started_total",
		Help: "Upload jobs accepted for processing, by media kind.",
	}, []string{"kind"})

	JobsCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "crowd_jobs_completed_total",
		Help: "Upload jobs that reached COMPLETED.",
	})

	JobsFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crowd_jobs_failed_total",
		Help: "Upload jobs that reached FAILED, by reason code.",
	}, []string{"reason"})

	FramesProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "crowd_frames_processed_total",
		Help: "Frames that produced a detection record.",
	})

	FramesSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "crowd_frames_skipped_total",
		Help: "Frames skipped because the detector call failed or timed out.",
	})

	DetectorLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "crowd_detector_call_seconds",
		Help:    "Latency of external detector calls.",
		Buckets: prometheus.DefBuckets,
	})

	OpenAlerts = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "crowd_open_alerts",
		Help: "Alerts currently in OPEN state.",
	})
)

// Handler serves the prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

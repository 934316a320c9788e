package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "qaing_extraction_runs_total",
		Help: "Total number of extraction runs, by outcome",
	}, []string{"status"})

	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "qaing_extraction_stage_duration_seconds",
		Help:    "Duration of extraction pipeline stages",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
	}, []string{"stage"})

	ArtifactsUploadedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "qaing_artifacts_uploaded_total",
		Help: "Total number of artifacts uploaded to object storage, by kind",
	}, []string{"kind"})

	ActiveRuns = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "qaing_active_runs",
		Help: "Number of extraction runs currently executing",
	})

	Subscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "qaing_folder_subscribers",
		Help: "Number of live folder update subscriptions",
	})

	RequeueTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "qaing_extraction_requeue_total",
		Help: "Total number of queued extraction runs sent back for redelivery",
	}, []string{"attempt"})
)

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SourceFetchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dustwatch_source_fetch_total",
			Help: "Total source fetches by outcome",
		},
		[]string{"source", "status"},
	)

	SourceFetchLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dustwatch_source_fetch_latency_seconds",
			Help:    "Source fetch latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"source"},
	)

	CycleDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "dustwatch_cycle_duration_seconds",
			Help:    "Duration of a full collection cycle",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 20, 30, 60},
		},
	)

	ReadingsStored = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dustwatch_readings_stored_total",
			Help: "Total fused readings persisted",
		},
		[]string{"location"},
	)

	FusedDust = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "dustwatch_fused_dust_ugm3",
			Help: "Latest fused dust concentration",
		},
		[]string{"location"},
	)

	FusionConfidence = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "dustwatch_fusion_confidence",
			Help: "Confidence of the latest fused reading (0-100)",
		},
		[]string{"location"},
	)

	QualityScore = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "dustwatch_quality_score",
			Help: "Quality score of the latest fused reading (0-100)",
		},
		[]string{"location"},
	)

	FallbackTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dustwatch_fallback_total",
			Help: "Fusion passes that fell back to a cached or synthetic reading",
		},
		[]string{"location", "kind"},
	)

	PredictionsRecorded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dustwatch_predictions_recorded_total",
			Help: "Hourly predictions recorded for validation",
		},
		[]string{"location"},
	)

	ValidationAccuracy = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "dustwatch_validation_accuracy",
			Help: "Accuracy of the latest validation pass (0-100)",
		},
		[]string{"location"},
	)

	CalibrationFactor = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "dustwatch_calibration_factor",
			Help: "Current calibration factor per location",
		},
		[]string{"location"},
	)

	ModelWeight = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "dustwatch_model_weight",
			Help: "Current ensemble weight per model",
		},
		[]string{"model"},
	)
)

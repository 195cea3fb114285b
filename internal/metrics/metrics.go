package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// GRPCServerHandlingSeconds is a histogram for gRPC server request latencies
	GRPCServerHandlingSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "grpc_server_handling_seconds",
			Help:    "Histogram of response latency (seconds) of gRPC that had been application-level handled by the server.",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "code"},
	)

	// HTTPServerHandlingSeconds is a histogram for HTTP request latencies
	HTTPServerHandlingSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_server_handling_seconds",
			Help:    "Histogram of response latency (seconds) of HTTP requests.",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"route", "code"},
	)

	// InferenceLatencySeconds is a histogram for inference-only latency
	InferenceLatencySeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "liveness_inference_latency_seconds",
			Help:    "Histogram of liveness model latency (seconds) including preprocessing.",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
	)

	// SpoofScore is a histogram of raw model scores
	SpoofScore = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "liveness_spoof_score",
			Help:    "Distribution of spoof scores produced by the liveness model.",
			Buckets: prometheus.LinearBuckets(0, 0.1, 11),
		},
	)

	// VerdictsTotal counts final decisions by outcome
	VerdictsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "liveness_verdicts_total",
			Help: "Total liveness decisions by verdict (live, spoof) and source (model, cache).",
		},
		[]string{"verdict", "source"},
	)

	// ErrorsTotal counts failed classifications by error kind
	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "liveness_errors_total",
			Help: "Total failed liveness classifications by kind.",
		},
		[]string{"kind"},
	)

	// MotionOverridesTotal counts model-live verdicts overturned by motion checks
	MotionOverridesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "liveness_motion_overrides_total",
			Help: "Total model-live verdicts turned into spoof because no blink was observed.",
		},
	)

	// HealthStatus is a gauge indicating the health status of the service
	HealthStatus = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "health_status",
			Help: "Health status of the service (1 = healthy, 0 = unhealthy).",
		},
	)
)

// RecordGRPCLatency records the latency of a gRPC method call
func RecordGRPCLatency(method, code string, seconds float64) {
	GRPCServerHandlingSeconds.WithLabelValues(method, code).Observe(seconds)
}

// RecordHTTPLatency records the latency of an HTTP route
func RecordHTTPLatency(route, code string, seconds float64) {
	HTTPServerHandlingSeconds.WithLabelValues(route, code).Observe(seconds)
}

// RecordInferenceLatency records the latency of an inference call
func RecordInferenceLatency(seconds float64) {
	InferenceLatencySeconds.Observe(seconds)
}

// RecordVerdict records a final decision and, for fresh model runs, its score
func RecordVerdict(live, cached bool, score float32) {
	verdict := "spoof"
	if live {
		verdict = "live"
	}
	source := "model"
	if cached {
		source = "cache"
	} else {
		SpoofScore.Observe(float64(score))
	}
	VerdictsTotal.WithLabelValues(verdict, source).Inc()
}

// RecordError counts a failed classification
func RecordError(kind string) {
	ErrorsTotal.WithLabelValues(kind).Inc()
}

// RecordMotionOverride counts a verdict flipped by motion checks
func RecordMotionOverride() {
	MotionOverridesTotal.Inc()
}

// SetHealthy sets the health status to healthy
func SetHealthy() {
	HealthStatus.Set(1)
}

// SetUnhealthy sets the health status to unhealthy
func SetUnhealthy() {
	HealthStatus.Set(0)
}

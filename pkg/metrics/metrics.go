// Package metrics registers the Prometheus instruments shared by the API
// and the worker.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TasksProcessed counts pipeline completions by terminal status.
	TasksProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "voltaudit",
		Name:      "tasks_processed_total",
		Help:      "Tasks driven to a terminal status by the worker.",
	}, []string{"status"})

	// ExtractionDuration observes end-to-end LLM extraction time per test type.
	ExtractionDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "voltaudit",
		Name:      "extraction_duration_seconds",
		Help:      "Wall time of LLM extraction per test type.",
		Buckets:   []float64{1, 2.5, 5, 10, 20, 40, 80, 160},
	}, []string{"test_type"})

	// LLMTokens counts provider token usage.
	LLMTokens = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "voltaudit",
		Name:      "llm_tokens_total",
		Help:      "Provider tokens consumed, by direction.",
	}, []string{"direction"})

	// FindingsGenerated counts validation findings by severity.
	FindingsGenerated = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "voltaudit",
		Name:      "findings_generated_total",
		Help:      "Validation findings generated, by severity.",
	}, []string{"severity"})

	// Verdicts counts analysis verdicts, including reviewer overrides.
	Verdicts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "voltaudit",
		Name:      "verdicts_total",
		Help:      "Verdicts assigned to analyses.",
	}, []string{"verdict", "source"})

	// HTTPRequestDuration observes API latency per route and status class.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "voltaudit",
		Name:      "http_request_duration_seconds",
		Help:      "API request latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"route", "method", "code"})

	// UploadBytes observes accepted document sizes.
	UploadBytes = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "voltaudit",
		Name:      "upload_bytes",
		Help:      "Size of accepted document uploads.",
		Buckets:   prometheus.ExponentialBuckets(64<<10, 4, 8),
	})

	// RateLimited counts requests refused by the rate limiter.
	RateLimited = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "voltaudit",
		Name:      "rate_limited_total",
		Help:      "Requests refused with 429.",
	})
)

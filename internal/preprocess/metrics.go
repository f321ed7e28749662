package preprocess

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RunsTotal counts pipeline runs.
	// Labels: outcome (success, not_found, error, canceled)
	RunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "devscontext",
			Subsystem: "preprocess",
			Name:      "runs_total",
			Help:      "Total number of preprocessing runs by outcome",
		},
		[]string{"outcome"},
	)

	// RunDuration tracks end-to-end run time.
	RunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "devscontext",
			Subsystem: "preprocess",
			Name:      "run_duration_seconds",
			Help:      "Duration of preprocessing runs in seconds",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
	)

	// QualityScore records the completeness score of stored results.
	QualityScore = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "devscontext",
			Subsystem: "preprocess",
			Name:      "quality_score",
			Help:      "Context quality score of stored results",
			Buckets:   []float64{0, 0.2, 0.4, 0.6, 0.8, 1},
		},
	)

	// SecretsRedacted counts secrets removed from synthesized text.
	SecretsRedacted = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "devscontext",
			Subsystem: "preprocess",
			Name:      "secrets_redacted_total",
			Help:      "Total number of secrets redacted from synthesized context",
		},
	)

	// MultiPassFallbacks counts runs that fell back to single-pass synthesis.
	MultiPassFallbacks = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "devscontext",
			Subsystem: "preprocess",
			Name:      "multipass_fallbacks_total",
			Help:      "Total number of multi-pass synthesis failures that fell back to single pass",
		},
	)
)

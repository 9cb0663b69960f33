// Package metrics exposes the prometheus collectors of the embedding
// runtime. Collectors register themselves at init through promauto and
// are served on /metrics by the API server.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EmbeddingRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "weft_embedding_requests_total",
		Help: "Embedding API requests by outcome status.",
	}, []string{"status"})

	EmbeddingTokensTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "weft_embedding_tokens_total",
		Help: "Total tokens encoded across all requests.",
	})

	TokenizeDuration = promauto.NewSummary(prometheus.SummaryOpts{
		Name: "weft_tokenize_duration_seconds",
		Help: "Duration of the tokenize phase per input.",
	})

	ForwardDuration = promauto.NewSummary(prometheus.SummaryOpts{
		Name: "weft_forward_duration_seconds",
		Help: "Duration of the forward pass per input.",
	})

	RequestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "weft_request_duration_seconds",
		Help:    "End-to-end embedding request duration.",
		Buckets: prometheus.DefBuckets,
	})

	LoadedModels = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "weft_loaded_models",
		Help: "Number of model instances currently resident.",
	})
)

package metrics

import (
	"sync"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	IngestionTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatrag_ingestion_total",
			Help: "Ingestion calls by outcome",
		},
		[]string{"outcome"},
	)

	IngestionDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "chatrag_ingestion_duration_seconds",
			Help:    "End-to-end ingestion duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
	)

	ChunksIndexed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chatrag_chunks_indexed_total",
			Help: "Chunks upserted into the vector index",
		},
	)

	ChatsSkipped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chatrag_chats_skipped_total",
			Help: "Chats dropped because they carried no messages array",
		},
	)

	AccessibilityDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatrag_accessibility_decisions_total",
			Help: "Accessibility labels assigned to ingested documents",
		},
		[]string{"label"},
	)

	QueryDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "chatrag_query_duration_seconds",
			Help:    "Query processing duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		},
	)

	QueryTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatrag_query_total",
			Help: "Queries processed by status",
		},
		[]string{"status"},
	)

	RetrievedCandidates = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "chatrag_retrieved_candidates",
			Help:    "Candidates returned by the retriever per query",
			Buckets: []float64{0, 1, 2, 5, 10, 20, 50},
		},
	)

	CitationsPerAnswer = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "chatrag_citations_per_answer",
			Help:    "Resolved citations per generated answer",
			Buckets: []float64{0, 1, 2, 3, 5, 10},
		},
	)

	CacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatrag_cache_hits_total",
			Help: "Total cache hits",
		},
		[]string{"cache_type"},
	)

	CacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatrag_cache_misses_total",
			Help: "Total cache misses",
		},
		[]string{"cache_type"},
	)

	BreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "chatrag_circuit_breaker_state",
			Help: "Circuit breaker state (0 closed, 1 half-open, 2 open)",
		},
		[]string{"name"},
	)
)

var registerOnce sync.Once

// Init registers the collectors with the default registry. Safe to call more than once.
func Init() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			IngestionTotal,
			IngestionDuration,
			ChunksIndexed,
			ChatsSkipped,
			AccessibilityDecisions,
			QueryDuration,
			QueryTotal,
			RetrievedCandidates,
			CitationsPerAnswer,
			CacheHits,
			CacheMisses,
			BreakerState,
		)
	})
}

func MetricsHandler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}

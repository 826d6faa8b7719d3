package observability

import "github.com/prometheus/client_golang/prometheus"

// Domain metrics. HTTP metrics live with the middleware.
var (
	// Admissions counts Rate Gate decisions by result ("allowed", "denied").
	Admissions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_admissions_total",
			Help: "Rate gate decisions by result.",
		},
		[]string{"result"},
	)

	// RateStoreErrors counts gate checks answered by the fail-open policy.
	RateStoreErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ratelimit_store_errors_total",
			Help: "Rate gate checks that failed open because the counter store was unavailable.",
		},
	)

	// Turns counts finished conversation turns by outcome
	// ("completed", "failed", "cancelled").
	Turns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_turns_total",
			Help: "Conversation turns by outcome.",
		},
		[]string{"outcome"},
	)

	// StreamDeltas counts deltas relayed to readers.
	StreamDeltas = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_stream_deltas_total",
			Help: "Text deltas relayed through streaming channels.",
		},
	)

	// TurnDuration observes the time from submit to terminal state.
	TurnDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "chat_turn_duration_seconds",
			Help:    "Duration of conversation turns in seconds.",
			Buckets: []float64{.25, .5, 1, 2, 5, 10, 20, 40, 80},
		},
	)

	// IndexOrphans counts index entries skipped at read time.
	IndexOrphans = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_index_orphans_total",
			Help: "User index entries skipped because their record was missing or foreign.",
		},
	)
)

func init() {
	prometheus.MustRegister(Admissions, RateStoreErrors, Turns, StreamDeltas, TurnDuration, IndexOrphans)
}

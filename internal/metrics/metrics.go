package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// GamesCreated counts games created, labelled by whether a human seat was filled.
	GamesCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "werewolf_games_created_total",
		Help: "Total number of games created",
	}, []string{"mode"})

	// GamesFinished counts finished games by winning side.
	GamesFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "werewolf_games_finished_total",
		Help: "Total number of games finished, by winner",
	}, []string{"winner"})

	// LLMRequests counts model calls by turn kind (speech, vote, night).
	LLMRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "werewolf_llm_requests_total",
		Help: "Total number of LLM chat requests issued",
	}, []string{"kind"})

	// LLMRetries counts validation-driven re-asks.
	LLMRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "werewolf_llm_retries_total",
		Help: "Total number of LLM retries after a rejected response",
	}, []string{"kind"})

	// LLMFallbacks counts turns resolved by the deterministic fallback.
	LLMFallbacks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "werewolf_llm_fallbacks_total",
		Help: "Total number of turns that fell back to deterministic output",
	}, []string{"kind"})

	// LLMLatency observes wall time of individual model calls.
	LLMLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "werewolf_llm_request_duration_seconds",
		Help:    "Latency of LLM chat requests",
		Buckets: []float64{0.25, 0.5, 1, 2, 4, 8, 16, 30},
	})

	// UtteranceRejections counts validator rejections by rule name.
	UtteranceRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "werewolf_utterance_rejections_total",
		Help: "Total number of utterances rejected by the validator, by rule",
	}, []string{"rule"})

	// EventsAppended counts persisted timeline events by type.
	EventsAppended = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "werewolf_events_appended_total",
		Help: "Total number of round events appended to the log",
	}, []string{"type"})

	// TurnsTaken counts resolved turns by actor kind.
	TurnsTaken = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "werewolf_turns_taken_total",
		Help: "Total number of turns resolved by the scheduler",
	}, []string{"actor"})

	// ActiveRunners tracks per-game runner goroutines currently alive.
	ActiveRunners = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "werewolf_active_runners",
		Help: "Number of per-game runner goroutines currently active",
	})
)

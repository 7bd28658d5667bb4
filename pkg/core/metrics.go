package core

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// AccountSessionsActive tracks the number of live pooled sessions
	AccountSessionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "accfleet_sessions_active",
			Help: "Number of live sessions currently held by the pool",
		},
	)

	// AccountSessionCreateTotal tracks session creation outcomes
	AccountSessionCreateTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "accfleet_session_create_total",
			Help: "Total session creation attempts by result",
		},
		[]string{"result"},
	)

	// AccountCooldownsRecorded tracks cooldowns written to the ledger
	AccountCooldownsRecorded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "accfleet_cooldowns_recorded_total",
			Help: "Total cooldowns recorded by rate-limit class",
		},
		[]string{"class"},
	)

	// AccountTasksActive tracks the number of non-terminal supervised tasks
	AccountTasksActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "accfleet_tasks_active",
			Help: "Number of supervised tasks not yet in a terminal state",
		},
	)

	// AccountTaskOutcomeTotal tracks terminal task states
	AccountTaskOutcomeTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "accfleet_task_outcome_total",
			Help: "Total tasks settled by terminal outcome",
		},
		[]string{"outcome"},
	)

	// AccountRetrievalExhaustedTotal tracks retrievals that ran out of
	// attempts across every alternative
	AccountRetrievalExhaustedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "accfleet_retrieval_exhausted_total",
			Help: "Total retrievals that failed after all attempts and fallbacks",
		},
	)
)

func init() {
	// Register metrics with the default registry
	prometheus.MustRegister(AccountSessionsActive)
	prometheus.MustRegister(AccountSessionCreateTotal)
	prometheus.MustRegister(AccountCooldownsRecorded)
	prometheus.MustRegister(AccountTasksActive)
	prometheus.MustRegister(AccountTaskOutcomeTotal)
	prometheus.MustRegister(AccountRetrievalExhaustedTotal)
}

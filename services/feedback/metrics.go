package feedback

import "github.com/prometheus/client_golang/prometheus"

var (
	sessionsCreated = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "feedback_sessions_created_total",
		Help: "Feedback sessions created.",
	})

	sessionsCompleted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "feedback_sessions_completed_total",
		Help: "Feedback sessions moved to completed.",
	})

	sessionsAbandoned = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "feedback_sessions_abandoned_total",
		Help: "Stale sessions flagged as abandoned by the sweeper.",
	})

	validationFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "feedback_validation_failures_total",
		Help: "Rejected feedback mutations by step.",
	}, []string{"step"})
)

// RegisterMetrics registers the lifecycle counters with reg.
func RegisterMetrics(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{sessionsCreated, sessionsCompleted, sessionsAbandoned, validationFailures} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

package services

import "github.com/prometheus/client_golang/prometheus"

var (
	// notificationsSent counts delivered user-visible notices and reminders by kind
	// (created, rescheduled, cancelled, reminder).
	notificationsSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifications_sent_total",
			Help: "Notifications delivered to users, by kind.",
		},
		[]string{"kind"},
	)

	// notificationsFailed counts failed delivery attempts by kind.
	notificationsFailed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifications_failed_total",
			Help: "Failed notification delivery attempts, by kind.",
		},
		[]string{"kind"},
	)

	// operatorEscalations counts events handed to the human operator.
	operatorEscalations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "operator_escalations_total",
			Help: "Events escalated to the operator sink, by reason.",
		},
		[]string{"reason"},
	)

	// remindersFired counts reminders delivered by the scheduler, by reminder kind.
	remindersFired = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reminders_fired_total",
			Help: "Reminders delivered by the scheduler, by reminder kind.",
		},
		[]string{"kind"},
	)

	remindersCollected = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "reminders_gc_total",
			Help: "Reminders removed after their appointment receded past the cleanup horizon.",
		},
	)

	tickDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "scheduler_tick_duration_seconds",
			Help:    "Duration of one scheduler tick in seconds.",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func init() {
	prometheus.MustRegister(
		notificationsSent,
		notificationsFailed,
		operatorEscalations,
		remindersFired,
		remindersCollected,
		tickDuration,
	)
}

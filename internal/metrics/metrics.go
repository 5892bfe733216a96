package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SessionsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "live_exam_sessions_created_total",
		Help: "Live exam sessions created",
	})

	SessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "live_exam_sessions_active",
		Help: "Live exam sessions currently in STARTED state",
	})

	LifecycleTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "live_exam_transitions_total",
		Help: "Lifecycle transitions of live exam sessions",
	}, []string{"to"})

	QuestionAdvances = promauto.NewCounter(prometheus.CounterOpts{
		Name: "live_exam_question_advances_total",
		Help: "Questions advanced by the scheduler",
	})

	StaleTimers = promauto.NewCounter(prometheus.CounterOpts{
		Name: "live_exam_stale_timers_total",
		Help: "Scheduler firings ignored because the session moved on or vanished",
	})

	Answers = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "live_exam_answers_total",
		Help: "Submitted answers by outcome",
	}, []string{"outcome"})

	StudentsJoined = promauto.NewCounter(prometheus.CounterOpts{
		Name: "live_exam_students_joined_total",
		Help: "Students joined to live sessions",
	})

	WSConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "live_exam_ws_connections",
		Help: "Open gateway connections",
	})

	WSDroppedMessages = promauto.NewCounter(prometheus.CounterOpts{
		Name: "live_exam_ws_dropped_messages_total",
		Help: "Outbound messages dropped because a connection's send buffer was full",
	})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "live_exam_http_request_duration_ms",
		Help:    "HTTP request latency",
		Buckets: prometheus.ExponentialBuckets(1, 2, 12),
	}, []string{"route", "status"})

	ResultsPersisted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "live_exam_results_persisted_total",
		Help: "Finished sessions written to durable storage by outcome",
	}, []string{"outcome"})
)

// Package metrics provides Prometheus metrics for the booking core.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// No attempt, checkpoint or schedule ids in labels.

var (
	// AttemptsTotal counts finished attempts by terminal phase and reason.
	AttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tatkal_attempts_total",
		Help: "Total number of finished booking attempts, by phase and reason.",
	}, []string{"phase", "reason"})

	// AdmissionRejectTotal counts start requests refused by the guard.
	AdmissionRejectTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tatkal_admission_reject_total",
		Help: "Total number of rejected attempt admissions, by origin (now/schedule).",
	}, []string{"origin"})

	// StageRetriesTotal counts retries by stage and failure class.
	StageRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tatkal_stage_retries_total",
		Help: "Total number of stage retries, by stage and failure class.",
	}, []string{"stage", "class"})

	// CheckpointWaitSeconds observes how long human checkpoints stay open.
	CheckpointWaitSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tatkal_checkpoint_wait_seconds",
		Help:    "Time spent waiting on human checkpoints, by kind and outcome.",
		Buckets: []float64{1, 2, 5, 10, 20, 30, 60, 120, 300},
	}, []string{"kind", "outcome"})

	// ClockOffsetSeconds is the last measured offset (true minus local).
	ClockOffsetSeconds = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tatkal_clock_offset_seconds",
		Help: "Last measured clock offset in seconds (true time minus local time).",
	})

	// ClockStale is 1 while the offset is stale.
	ClockStale = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tatkal_clock_stale",
		Help: "1 when the current clock offset is stale, 0 otherwise.",
	})

	// ClockSyncFailuresTotal counts failed sync rounds by source.
	ClockSyncFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tatkal_clock_sync_failures_total",
		Help: "Total number of failed clock sync queries, by source.",
	}, []string{"source"})

	// ScheduleFireSkewSeconds observes fire time minus planned fire time in synchronized time.
	ScheduleFireSkewSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tatkal_schedule_fire_skew_seconds",
		Help:    "Difference between actual and planned fire instant, in synchronized time.",
		Buckets: []float64{-0.05, -0.01, -0.001, 0, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
	})

	// ActiveSchedules tracks armed, not yet fired schedules.
	ActiveSchedules = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tatkal_active_schedules",
		Help: "Current number of armed schedules.",
	})

	// PushSendTotal counts web push deliveries by outcome.
	PushSendTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tatkal_push_send_total",
		Help: "Total number of web push deliveries, by outcome.",
	}, []string{"outcome"})
)

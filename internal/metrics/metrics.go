// Package metrics defines the Prometheus collectors exported by the
// engine's metrics endpoint.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ProbesSentTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "apinger_probes_sent_total",
		Help: "Total number of ICMP echo-requests sent",
	}, []string{"target"})

	ProbesReceivedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "apinger_probes_received_total",
		Help: "Total number of ICMP echo-replies received",
	}, []string{"target"})

	ProbesDroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "apinger_probes_dropped_total",
		Help: "Total number of received packets dropped during decode",
	}, []string{"target", "reason"})

	TargetsCurrent = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "apinger_targets_current",
		Help: "Current number of targets in the registry",
	})

	AlarmsActive = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "apinger_alarms_active",
		Help: "Whether an alarm is currently active for a target (1) or not (0)",
	}, []string{"target", "alarm", "type"})

	AvgDelayMilliseconds = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "apinger_avg_delay_milliseconds",
		Help: "Current average delay per target",
	}, []string{"target"})

	AvgLossPercent = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "apinger_avg_loss_percent",
		Help: "Current average loss percentage per target",
	}, []string{"target"})

	TickDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "apinger_tick_duration_seconds",
		Help:    "Duration of one main-loop iteration, excluding the time blocked in poll",
		Buckets: prometheus.ExponentialBuckets(0.0001, 2, 14), // 100us .. ~0.8s
	})

	NotificationQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "apinger_notification_queue_depth",
		Help: "Number of notifications currently held in the combine-delay queue",
	})

	NotificationsDispatchedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "apinger_notifications_dispatched_total",
		Help: "Total number of notifications dispatched to pipe/command collaborators",
	}, []string{"alarm_type", "polarity"})
)

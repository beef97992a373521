// Package metrics implements Prometheus metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PacketsSentTotal counts readings handed to the stack, by scheduler loop
	PacketsSentTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telenode_packets_sent_total",
			Help: "Total number of telemetry packets accepted by the stack",
		},
		[]string{"loop"},
	)

	// SendFailuresTotal counts failed produce iterations by loop and error kind
	SendFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telenode_send_failures_total",
			Help: "Total number of failed compose or send attempts",
		},
		[]string{"loop", "reason"},
	)

	// ScheduleIntervalSeconds measures the drawn inter-arrival times
	ScheduleIntervalSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "telenode_schedule_interval_seconds",
			Help:    "Inter-arrival time chosen by each scheduler loop",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~20s
		},
		[]string{"loop"},
	)

	// PoolSegmentsInUse tracks live packet buffer segments
	PoolSegmentsInUse = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "telenode_pool_segments_in_use",
			Help: "Number of packet buffer segments currently allocated",
		},
	)

	// PoolMisuseTotal counts detected use-after-release defects
	PoolMisuseTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telenode_pool_misuse_total",
			Help: "Total number of operations on released segments or chains",
		},
		[]string{"op"},
	)

	// DispatchDeliveredTotal counts inbound deliveries to subscriber inboxes
	DispatchDeliveredTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telenode_dispatch_delivered_total",
			Help: "Total number of chain deliveries to subscriber inboxes",
		},
		[]string{"proto"},
	)

	// DispatchUnmatchedTotal counts chains nobody subscribed to
	DispatchUnmatchedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telenode_dispatch_unmatched_total",
			Help: "Total number of chains dispatched with no matching subscriber",
		},
		[]string{"proto"},
	)

	// InboxRejectedTotal counts deliveries rejected by a full inbox
	InboxRejectedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telenode_inbox_rejected_total",
			Help: "Total number of deliveries rejected because the inbox was full",
		},
		[]string{"proto"},
	)

	// InboundPacketsTotal counts packets received from the stack
	InboundPacketsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telenode_inbound_packets_total",
			Help: "Total number of packets received from the network stack",
		},
		[]string{"stack"},
	)

	// InboundMalformedTotal counts inbound chains that decomposed without payload
	InboundMalformedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "telenode_inbound_malformed_total",
			Help: "Total number of malformed inbound packets",
		},
	)

	// StatsTicksTotal counts aggregator ticks
	StatsTicksTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "telenode_stats_ticks_total",
			Help: "Total number of statistics aggregation ticks",
		},
	)

	// SinkErrorsTotal counts record sink write failures
	SinkErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telenode_sink_errors_total",
			Help: "Total number of record sink write failures",
		},
		[]string{"sink"},
	)
)

// Package metrics holds the Prometheus collectors of the record engine.
package metrics

import "github.com/prometheus/client_golang/prometheus"

const (
	recordLabel  = "record"
	outcomeLabel = "outcome"
	kindLabel    = "kind"
	queueLabel   = "queue"
)

var (
	// ProcessCycles counts compute steps per record and outcome (done, pending, refused).
	ProcessCycles = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "procdb_process_cycles_total",
		Help: "Number of record compute steps by outcome",
	}, []string{recordLabel, outcomeLabel})

	// ProcessLatency is the wall time between the start of a cycle and its completion.
	ProcessLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "procdb_process_latency_seconds",
		Help:    "Time from the start of a processing cycle until it finishes",
		Buckets: []float64{0.0001, 0.001, 0.01, 0.1, 1, 5, 30},
	}, []string{recordLabel})

	// AlarmSeverity is the committed severity of each record.
	AlarmSeverity = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "procdb_alarm_severity",
		Help: "Committed alarm severity of the record (0 none, 1 minor, 2 major, 3 invalid)",
	}, []string{recordLabel})

	// EventsPublished counts monitor events by kind mask.
	EventsPublished = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "procdb_events_published_total",
		Help: "Number of monitor events published",
	}, []string{kindLabel})

	// EventsDropped counts events not delivered to a slow subscriber.
	EventsDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "procdb_events_dropped_total",
		Help: "Number of monitor events dropped because a subscriber queue was full",
	})

	// QueueDepth is the number of pending requests per scheduler queue.
	QueueDepth = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "procdb_scan_queue_depth",
		Help: "Pending processing requests per scheduler priority queue",
	}, []string{queueLabel})

	// SchedulingErrors counts contract violations reported by the core and the completion bridge.
	SchedulingErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "procdb_scheduling_errors_total",
		Help: "Number of rejected scheduling requests",
	}, []string{recordLabel})
)

func init() { //nolint:gochecknoinits // Collectors are registered once per process.
	prometheus.MustRegister(
		ProcessCycles,
		ProcessLatency,
		AlarmSeverity,
		EventsPublished,
		EventsDropped,
		QueueDepth,
		SchedulingErrors,
	)
}

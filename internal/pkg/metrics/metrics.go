package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds every pathrunner metric plus the Go and process collectors.
var Registry = prometheus.NewRegistry()

var (
	// DeliveryAttemptsTotal counts waypoint publish attempts.
	// result: acked, reached, timeout, publish_error, cancelled
	DeliveryAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pathrunner_delivery_attempts_total",
			Help: "Total number of waypoint delivery attempts, by result.",
		},
		[]string{"result"},
	)

	// AckLatency measures publish-to-resolution time of successful attempts.
	AckLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pathrunner_ack_latency_seconds",
			Help:    "Time between publishing a waypoint and receiving its acknowledgment.",
			Buckets: prometheus.DefBuckets,
		},
	)

	// PendingWaiters is the number of registered, unsettled waiters.
	PendingWaiters = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "pathrunner_pending_waiters",
			Help: "Number of in-flight waypoints awaiting acknowledgment.",
		},
	)

	// ExecutionsTotal counts lifecycle outcomes.
	// status: COMPLETED, ERROR, rejected, unknown
	ExecutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pathrunner_executions_total",
			Help: "Total number of execution start requests, by outcome.",
		},
		[]string{"status"},
	)

	// ActiveExecutions is the number of running streams.
	ActiveExecutions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "pathrunner_active_executions",
			Help: "Number of executions currently streaming.",
		},
	)

	// InboundMessagesTotal counts decoded inbound messages by type.
	InboundMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pathrunner_inbound_messages_total",
			Help: "Total number of decoded inbound messages, by type.",
		},
		[]string{"type"},
	)

	// MalformedMessagesTotal counts dropped payloads.
	MalformedMessagesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pathrunner_malformed_messages_total",
			Help: "Total number of inbound payloads dropped as malformed.",
		},
	)

	// RobotQueueDepth is the number of commands waiting on the robot.
	RobotQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "pathrunner_robot_queue_depth",
			Help: "Number of accepted commands not yet executed by the robot.",
		},
	)

	// RobotCommandsTotal counts robot-side command outcomes.
	// outcome: accepted, duplicate, queue_full, invalid
	RobotCommandsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pathrunner_robot_commands_total",
			Help: "Total number of commands received by the robot, by outcome.",
		},
		[]string{"outcome"},
	)

	// BrokerConnected is 1 while the MQTT connection is up.
	BrokerConnected = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "pathrunner_broker_connected",
			Help: "The MQTT broker connectivity status (1=Connected, 0=Disconnected).",
		},
	)
)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		DeliveryAttemptsTotal,
		AckLatency,
		PendingWaiters,
		ExecutionsTotal,
		ActiveExecutions,
		InboundMessagesTotal,
		MalformedMessagesTotal,
		RobotQueueDepth,
		RobotCommandsTotal,
		BrokerConnected,
	)
}

// Handler serves Registry in the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{Registry: Registry})
}

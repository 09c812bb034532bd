package topic

// Standard MQTT wildcard definitions.
const (
	// Wildcard is the single-level wildcard "+".
	// Example: "ack/+" matches "ack/robot_1".
	Wildcard = "+"

	// MultiWildcard is the multi-level wildcard "#".
	// It must be the last character in the topic filter.
	MultiWildcard = "#"
)

// Topic segments of the waypoint protocol.
// These are the routing contract between the executor and the robots;
// changing them breaks every deployed robot.
const (
	// SegmentCommand carries WAYPOINT commands (executor -> robot).
	// Structure: {root}/cmd/{robotID}
	SegmentCommand = "cmd"

	// SegmentAck carries ACK and NACK replies (robot -> executor).
	// Structure: {root}/ack/{robotID}
	SegmentAck = "ack"

	// SegmentEvents carries WAYPOINT_REACHED events (robot -> executor).
	// Structure: {root}/events/{robotID}
	SegmentEvents = "events"

	// SegmentTelemetry carries best-effort TELEMETRY (robot -> executor).
	// Structure: {root}/telemetry/{robotID}
	SegmentTelemetry = "telemetry"

	// SegmentExecutor is the control namespace of the executor itself.
	// Structure: {root}/executor/start
	SegmentExecutor = "executor"

	// ExecutorStart is the leaf of the START_EXECUTION topic.
	ExecutorStart = "start"
)

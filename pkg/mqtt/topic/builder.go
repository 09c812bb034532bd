package topic

import (
	"strings"
)

// Builder encapsulates the logic for constructing MQTT topic strings.
type Builder struct {
	// root is an optional namespace prepended to every topic (e.g. "site-a").
	root string

	// share is the shared-subscription group, empty for plain subscriptions.
	share string
}

// NewBuilder creates a Builder for the given root namespace. An empty root
// yields bare topics such as "cmd/robot_1".
func NewBuilder(root string) *Builder {
	return &Builder{root: strings.Trim(root, "/")}
}

// Shared returns a copy of the builder whose wildcard filters are wrapped in
// a "$share/{group}/" prefix, so several executors can split the load.
func (b *Builder) Shared(group string) *Builder {
	return &Builder{root: b.root, share: group}
}

// Command returns the topic robots receive WAYPOINT commands on.
func (b *Builder) Command(robotID string) string {
	return b.Build(SegmentCommand, robotID)
}

// Ack returns the topic a robot acknowledges commands on.
func (b *Builder) Ack(robotID string) string {
	return b.Build(SegmentAck, robotID)
}

// Events returns the topic a robot reports WAYPOINT_REACHED on.
func (b *Builder) Events(robotID string) string {
	return b.Build(SegmentEvents, robotID)
}

// Telemetry returns the topic a robot streams telemetry on.
func (b *Builder) Telemetry(robotID string) string {
	return b.Build(SegmentTelemetry, robotID)
}

// ExecutorStart returns the topic START_EXECUTION requests arrive on.
func (b *Builder) ExecutorStart() string {
	return b.Build(SegmentExecutor, ExecutorStart)
}

// Build joins {root}/{segment}/{id}.
func (b *Builder) Build(segment, id string) string {
	if b.root == "" {
		return segment + "/" + id
	}
	return b.root + "/" + segment + "/" + id
}

// BuildWildcard returns the filter matching segment for every robot,
// honouring the shared-subscription group when one is set.
func (b *Builder) BuildWildcard(segment string) string {
	return b.Filter(b.Build(segment, Wildcard))
}

// Filter wraps a topic filter in the shared-subscription prefix, if any.
func (b *Builder) Filter(filter string) string {
	if b.share != "" {
		return "$share/" + b.share + "/" + filter
	}
	return filter
}

// Parse splits a concrete topic into its segment and identifier.
// ok is false when the topic does not belong to this builder's root.
func (b *Builder) Parse(topic string) (segment, id string, ok bool) {
	if b.root != "" {
		if !strings.HasPrefix(topic, b.root+"/") {
			return "", "", false
		}
		topic = strings.TrimPrefix(topic, b.root+"/")
	}
	segment, id, ok = strings.Cut(topic, "/")
	if !ok || segment == "" || id == "" || strings.Contains(id, "/") {
		return "", "", false
	}
	return segment, id, true
}

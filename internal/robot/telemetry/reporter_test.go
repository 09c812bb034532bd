package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autopeer-io/pathrunner/internal/pkg/protocol"
	"github.com/autopeer-io/pathrunner/internal/robot/core"
	"github.com/autopeer-io/pathrunner/pkg/mqtt"
	"github.com/autopeer-io/pathrunner/pkg/mqtt/topic"
)

type staticSource struct {
	execID string
	head   int
	ok     bool
	pose   core.Pose
}

func (s staticSource) ExecutionID() string  { return s.execID }
func (s staticSource) HeadSeq() (int, bool) { return s.head, s.ok }
func (s staticSource) Pose() core.Pose      { return s.pose }

func TestSampleRanges(t *testing.T) {
	src := staticSource{execID: "e1", head: 4, ok: true, pose: core.Pose{X: 1.23456, Y: -2, NozzleState: 1}}
	r := NewReporter("robot_1", nil, topic.NewBuilder(""), src, 0)

	for i := 0; i < 50; i++ {
		s := r.Sample()
		assert.Equal(t, "e1", s.ExecID)
		assert.Equal(t, 4, *s.SeqCurrent)
		assert.Equal(t, 1.235, *s.X)
		assert.Equal(t, -2.0, *s.Y)
		assert.Equal(t, 1, *s.NozzleState)
		assert.GreaterOrEqual(t, *s.BatteryPct, 85.0)
		assert.Less(t, *s.BatteryPct, 90.0)
		assert.GreaterOrEqual(t, *s.DeviationM, 0.0)
		assert.Less(t, *s.DeviationM, 0.02)
	}
}

func TestSampleEmptyQueue(t *testing.T) {
	r := NewReporter("robot_1", nil, topic.NewBuilder(""), staticSource{}, 0)
	s := r.Sample()
	assert.Equal(t, 0, *s.SeqCurrent)
	assert.Empty(t, s.ExecID)
}

func TestPublishAtMostOnce(t *testing.T) {
	broker := mqtt.NewMemoryBroker()
	client := broker.Client()
	require.NoError(t, client.Start(context.Background()))

	r := NewReporter("robot_1", client, topic.NewBuilder("site"), staticSource{execID: "e1"}, 0)
	r.Publish(context.Background())

	published := broker.Published("site/telemetry/robot_1")
	require.Len(t, published, 1)
	assert.Equal(t, mqtt.AtMostOnce, published[0].QoS)

	msg, err := protocol.Decode(published[0].Payload)
	require.NoError(t, err)
	assert.Equal(t, protocol.TypeTelemetry, msg.Kind())
}

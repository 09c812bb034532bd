package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeAck(t *testing.T) {
	msg, err := Decode([]byte(`{"type":"ACK","msg_id":"m1","exec_id":"e1","seq":0,"status":"RECEIVED","timestamp_ms":42}`))
	require.NoError(t, err)

	ack, ok := msg.(*Ack)
	require.True(t, ok)
	assert.Equal(t, TypeAck, ack.Kind())
	assert.Equal(t, "e1", ack.ExecutionID())
	assert.Equal(t, 0, ack.Seq)
	assert.Equal(t, int64(42), ack.TimestampMs)
	assert.False(t, ack.Rejected())
}

func TestDecodeNack(t *testing.T) {
	msg, err := Decode([]byte(`{"type":"NACK","msg_id":"m1","exec_id":"e1","seq":3,"status":"QUEUE_FULL"}`))
	require.NoError(t, err)

	ack := msg.(*Ack)
	assert.True(t, ack.Rejected())
	assert.Equal(t, StatusQueueFull, ack.Status)
}

func TestDecodeReached(t *testing.T) {
	msg, err := Decode([]byte(`{"type":"WAYPOINT_REACHED","exec_id":"e1","seq":2,"x":1.5,"y":-2,"nozzle_state":1,"timestamp_ms":7}`))
	require.NoError(t, err)

	r := msg.(*WaypointReached)
	assert.Equal(t, 2, r.Seq)
	assert.Equal(t, 1.5, r.X)
	assert.Equal(t, -2.0, r.Y)
	require.NotNil(t, r.NozzleState)
	assert.Equal(t, 1, *r.NozzleState)
}

func TestDecodeTelemetry(t *testing.T) {
	msg, err := Decode([]byte(`{"type":"TELEMETRY","exec_id":"e1","x":0.5,"battery_pct":88.1,"timestamp_ms":99}`))
	require.NoError(t, err)

	tel := msg.(*Telemetry)
	assert.Equal(t, int64(99), tel.TimestampMs)
	assert.Nil(t, tel.SeqCurrent)
	require.NotNil(t, tel.X)
	assert.Equal(t, 0.5, *tel.X)
	assert.Nil(t, tel.NozzleState)
}

func TestDecodeUnknown(t *testing.T) {
	msg, err := Decode([]byte(`{"type":"BATTERY_LOW","exec_id":"e9"}`))
	require.NoError(t, err)

	u := msg.(*Unknown)
	assert.Equal(t, Type("BATTERY_LOW"), u.Kind())
	assert.Equal(t, "e9", u.ExecutionID())
	assert.NotEmpty(t, u.Raw)
}

func TestDecodeMalformed(t *testing.T) {
	cases := map[string]string{
		"not json":             `{"type":`,
		"array":                `[1,2]`,
		"ack without seq":      `{"type":"ACK","exec_id":"e1","status":"RECEIVED"}`,
		"ack negative seq":     `{"type":"ACK","exec_id":"e1","seq":-1,"status":"RECEIVED"}`,
		"ack without status":   `{"type":"ACK","exec_id":"e1","seq":1}`,
		"ack without exec":     `{"type":"ACK","seq":1,"status":"RECEIVED"}`,
		"ack fractional seq":   `{"type":"ACK","exec_id":"e1","seq":1.5,"status":"RECEIVED"}`,
		"reached without x":    `{"type":"WAYPOINT_REACHED","exec_id":"e1","seq":1,"y":0,"timestamp_ms":1}`,
		"reached bad nozzle":   `{"type":"WAYPOINT_REACHED","exec_id":"e1","seq":1,"x":0,"y":0,"nozzle_state":2,"timestamp_ms":1}`,
		"telemetry without ts": `{"type":"TELEMETRY","exec_id":"e1"}`,
		"telemetry string x":   `{"type":"TELEMETRY","exec_id":"e1","x":"a","timestamp_ms":1}`,
		"start without robot":  `{"type":"START_EXECUTION","exec_id":"e1"}`,
	}
	for name, payload := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Decode([]byte(payload))
			assert.ErrorIs(t, err, ErrMalformed)
		})
	}
}

func TestDecodeStartNormalizesVariants(t *testing.T) {
	start, err := DecodeStart([]byte(`{"execId":"e1","robot":"r1","requestedAtMs":5}`))
	require.NoError(t, err)
	assert.Equal(t, &StartExecution{Type: TypeStartExecution, ExecID: "e1", RobotID: "r1", RequestedAtMs: 5}, start)

	start, err = DecodeStart([]byte(`{"type":"START_EXECUTION","exec_id":"e2","execId":"ignored","robotId":"r2"}`))
	require.NoError(t, err)
	assert.Equal(t, "e2", start.ExecID)
	assert.Equal(t, "r2", start.RobotID)

	_, err = DecodeStart([]byte(`{"type":"STOP","exec_id":"e1","robot_id":"r1"}`))
	assert.ErrorIs(t, err, ErrUnexpectedType)
}

func TestDecodeCommandDefaults(t *testing.T) {
	cmd, err := DecodeCommand([]byte(`{"type":"WAYPOINT","msg_id":"m","exec_id":"e1","payload":{"seq":1,"x":2,"y":3,"speed":0}}`))
	require.NoError(t, err)
	assert.Equal(t, DefaultSpeed, cmd.Payload.Speed)
	assert.Equal(t, 1, cmd.Payload.NozzleOn)
	assert.Equal(t, int64(0), cmd.Payload.DwellMs)

	_, err = DecodeCommand([]byte(`{"type":"WAYPOINT","exec_id":"e1","payload":{"seq":1,"x":"2","y":3}}`))
	assert.ErrorIs(t, err, ErrMalformed)

	_, err = DecodeCommand([]byte(`{"type":"WAYPOINT","exec_id":"e1","payload":{"seq":1,"y":3}}`))
	assert.ErrorIs(t, err, ErrMalformed)

	_, err = DecodeCommand([]byte(`{"type":"WAYPOINT","exec_id":"e1"}`))
	assert.ErrorIs(t, err, ErrMalformed)

	_, err = DecodeCommand([]byte(`{"type":"ACK","exec_id":"e1"}`))
	assert.ErrorIs(t, err, ErrUnexpectedType)
}

func TestEncodeUsesWireNames(t *testing.T) {
	data, err := Encode(&WaypointCommand{
		Type:     TypeWaypoint,
		MsgID:    "m1",
		ExecID:   "e1",
		Payload:  WaypointPayload{Seq: 1, X: 1, Y: 2, Speed: 0.4, NozzleOn: 1, DwellMs: 10},
		SentAtMs: 100,
	})
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, "WAYPOINT", got["type"])
	assert.Equal(t, "m1", got["msg_id"])
	assert.Equal(t, "e1", got["exec_id"])
	assert.EqualValues(t, 100, got["sent_at_ms"])
	payload := got["payload"].(map[string]any)
	assert.EqualValues(t, 1, payload["nozzle_on"])
	assert.EqualValues(t, 10, payload["dwell_ms"])
}

package executor

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autopeer-io/pathrunner/internal/executor/core/model"
	"github.com/autopeer-io/pathrunner/internal/executor/lifecycle"
	"github.com/autopeer-io/pathrunner/internal/pkg/protocol"
	"github.com/autopeer-io/pathrunner/internal/robot"
	"github.com/autopeer-io/pathrunner/internal/robot/hal"
	"github.com/autopeer-io/pathrunner/pkg/mqtt"
	"github.com/autopeer-io/pathrunner/pkg/mqtt/topic"
	"github.com/autopeer-io/pathrunner/pkg/options"
)

const robotID = "robot_1"

type harness struct {
	t        *testing.T
	broker   *mqtt.MemoryBroker
	executor *Executor
	cancel   context.CancelFunc
	done     chan struct{}
}

// newHarness runs an instant robot simulator and an executor on one
// in-memory broker.
func newHarness(t *testing.T) *harness {
	return newHarnessWith(t, hal.Timing{}, nil)
}

// newHarnessWith runs the simulator with the given motion profile. tune, if
// set, adjusts the executor options before the executor is built.
func newHarnessWith(t *testing.T, timing hal.Timing, tune func(*options.ExecutorOptions)) *harness {
	t.Helper()
	broker := mqtt.NewMemoryBroker()
	ctx, cancel := context.WithCancel(context.Background())

	sim := hal.NewSimulator(timing, hal.WithJitter(func() float64 { return 0 }))
	bot := robot.NewRobot(robotID, broker.Client(), topic.NewBuilder(""), sim, 10, 0)
	robotDone := make(chan struct{})
	go func() {
		defer close(robotDone)
		_ = bot.Run(ctx)
	}()
	waitForRobot(t, broker)

	eo := options.NewExecutorOptions()
	eo.AckTimeout = 200 * time.Millisecond
	eo.PollInterval = 10 * time.Millisecond
	eo.SendInterval = 0
	if tune != nil {
		tune(eo)
	}

	httpOpts := options.NewHttpOptions()
	httpOpts.Addr = "127.0.0.1:0"

	cfg := &Config{
		MqttOptions:     options.NewMqttOptions(),
		HttpOptions:     httpOpts,
		GrpcOptions:     &options.GrpcOptions{},
		StoreOptions:    &options.StoreOptions{Driver: "sqlite", DSN: filepath.Join(t.TempDir(), "pathrunner.db")},
		ExecutorOptions: eo,
	}
	exec, err := cfg.NewExecutor(ctx, broker.Client())
	require.NoError(t, err)

	h := &harness{t: t, broker: broker, executor: exec, cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(h.done)
		_ = exec.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-h.done
		<-robotDone
	})
	return h
}

// waitForRobot resends a probe command until the robot's subscription is
// live and it acks.
func waitForRobot(t *testing.T, broker *mqtt.MemoryBroker) {
	t.Helper()
	probe := broker.Client()
	require.NoError(t, probe.Start(context.Background()))
	data, err := protocol.Encode(&protocol.WaypointCommand{
		Type:    protocol.TypeWaypoint,
		ExecID:  "probe",
		Payload: protocol.WaypointPayload{Seq: 0},
	})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		_ = probe.Publish(context.Background(), "cmd/"+robotID, mqtt.AtLeastOnce, false, data)
		return len(broker.Published("ack/"+robotID)) > 0
	}, 2*time.Second, 10*time.Millisecond)
}

func (h *harness) seed(execID string, points ...model.Waypoint) {
	ctx := context.Background()
	s := h.executor.Store()
	require.NoError(h.t, s.CreateTrajectory(ctx, &model.Trajectory{ID: "traj-" + execID, Waypoints: points}))
	require.NoError(h.t, s.CreateExecution(ctx, &model.Execution{ID: execID, TrajectoryID: "traj-" + execID, RobotID: robotID}))
}

func (h *harness) status(execID string) model.ExecutionStatus {
	e, err := h.executor.Store().Get(context.Background(), execID)
	require.NoError(h.t, err)
	return e.Status
}

// startOverMQTT publishes START_EXECUTION until the executor picks it up.
func (h *harness) startOverMQTT(execID string) {
	c := h.broker.Client()
	require.NoError(h.t, c.Start(context.Background()))
	data, err := protocol.Encode(&protocol.StartExecution{Type: protocol.TypeStartExecution, ExecID: execID, RobotID: robotID})
	require.NoError(h.t, err)
	require.Eventually(h.t, func() bool {
		_ = c.Publish(context.Background(), "executor/start", mqtt.AtLeastOnce, false, data)
		return h.status(execID) != model.ExecutionPending
	}, 2*time.Second, 20*time.Millisecond)
}

func (h *harness) waitFor(execID string, want model.ExecutionStatus) {
	require.Eventually(h.t, func() bool {
		return h.status(execID) == want
	}, 5*time.Second, 20*time.Millisecond, "execution %s never reached %s", execID, want)
}

// reached returns the seq of every stored WAYPOINT_REACHED event.
func (h *harness) reached(execID string) []int {
	events, err := h.executor.Store().Events(context.Background(), execID)
	require.NoError(h.t, err)
	var seqs []int
	for _, e := range events {
		if e.Type == string(protocol.TypeWaypointReached) && e.Seq != nil {
			seqs = append(seqs, *e.Seq)
		}
	}
	return seqs
}

// commands returns the seq of every WAYPOINT published for execID.
func (h *harness) commands(execID string) []int {
	var seqs []int
	for _, m := range h.broker.Published("cmd/" + robotID) {
		cmd, err := protocol.DecodeCommand(m.Payload)
		require.NoError(h.t, err)
		if cmd.ExecID == execID {
			seqs = append(seqs, cmd.Payload.Seq)
		}
	}
	return seqs
}

func TestExecutionCompletesEndToEnd(t *testing.T) {
	h := newHarness(t)
	h.seed("e1",
		model.Waypoint{Seq: 1, X: 0.5, Y: 1, NozzleOn: true},
		model.Waypoint{Seq: 2, X: 1.5, Y: 1, NozzleOn: false},
	)

	h.startOverMQTT("e1")
	h.waitFor("e1", model.ExecutionCompleted)
	assert.Equal(t, []int{1, 2}, h.commands("e1"))

	require.Eventually(t, func() bool {
		return len(h.reached("e1")) == 2
	}, 2*time.Second, 20*time.Millisecond)
	assert.Equal(t, []int{1, 2}, h.reached("e1"))

	e, err := h.executor.Store().Get(context.Background(), "e1")
	require.NoError(t, err)
	assert.NotNil(t, e.StartedAt)
	assert.NotNil(t, e.EndedAt)
	assert.Empty(t, e.LastError)
}

func TestUnansweredWaypointFailsAfterAllAttempts(t *testing.T) {
	h := newHarness(t)
	h.seed("e2", model.Waypoint{Seq: 1, X: 1, Y: 1}, model.Waypoint{Seq: 2, X: 2, Y: 1})

	// Robot replies never reach the executor.
	h.broker.SetInterceptor(func(m mqtt.Message) bool {
		return m.Topic != "ack/"+robotID && m.Topic != "events/"+robotID
	})

	h.startOverMQTT("e2")
	h.waitFor("e2", model.ExecutionError)

	assert.Equal(t, []int{1, 1, 1}, h.commands("e2"))
	e, err := h.executor.Store().Get(context.Background(), "e2")
	require.NoError(t, err)
	assert.NotEmpty(t, e.LastError)
}

func TestDuplicateStartStreamsOnce(t *testing.T) {
	h := newHarness(t)
	h.seed("e3", model.Waypoint{Seq: 1, X: 1, Y: 1}, model.Waypoint{Seq: 2, X: 2, Y: 2}, model.Waypoint{Seq: 3, X: 3, Y: 3})

	h.startOverMQTT("e3")
	err := h.executor.Controller().Start(context.Background(), "e3", robotID)
	if err != nil {
		assert.ErrorIs(t, err, lifecycle.ErrTerminal)
	}

	h.waitFor("e3", model.ExecutionCompleted)
	assert.Equal(t, []int{1, 2, 3}, h.commands("e3"))
}

func TestStrictModeWaitsOutMotionLongerThanAckTimeout(t *testing.T) {
	// Each motion takes 250ms, longer than the 200ms ack timeout.
	h := newHarnessWith(t, hal.Timing{Travel: 150 * time.Millisecond, Settle: 100 * time.Millisecond}, func(eo *options.ExecutorOptions) {
		eo.StrictWaitForReached = true
	})
	h.seed("e4", model.Waypoint{Seq: 1, X: 0, Y: 0}, model.Waypoint{Seq: 2, X: 1, Y: 1})

	h.startOverMQTT("e4")
	h.waitFor("e4", model.ExecutionCompleted)

	e, err := h.executor.Store().Get(context.Background(), "e4")
	require.NoError(t, err)
	assert.Empty(t, e.LastError)
	assert.Equal(t, []int{1, 2}, h.commands("e4"))
	// strict mode does not complete before the last motion is reported
	assert.Equal(t, []int{1, 2}, h.reached("e4"))
}

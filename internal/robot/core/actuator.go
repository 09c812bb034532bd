package core

import (
	"context"

	"github.com/autopeer-io/pathrunner/internal/pkg/protocol"
)

// Pose is the robot's last achieved position and nozzle state.
type Pose struct {
	X           float64
	Y           float64
	NozzleState int
}

// Actuator moves the robot. It is the boundary between the command
// pipeline and the hardware, real or simulated.
type Actuator interface {
	// Execute drives to the waypoint and returns the achieved pose. It
	// blocks for the whole motion, including settle and dwell.
	Execute(ctx context.Context, wp protocol.WaypointPayload) (Pose, error)

	// Pose returns the current pose without blocking.
	Pose() Pose
}

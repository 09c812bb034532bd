package app

import (
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/autopeer-io/pathrunner/internal/executor/core/model"
)

// Plan is the submit file: a trajectory and the robot to run it on.
type Plan struct {
	Trajectory model.Trajectory `yaml:"trajectory"`
	Execution  struct {
		ID      string `yaml:"id"`
		RobotID string `yaml:"robot_id"`
	} `yaml:"execution"`
}

// ReadPlan decodes a plan, fills in generated ids and validates it.
func ReadPlan(r io.Reader) (*Plan, error) {
	var p Plan
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&p); err != nil {
		return nil, fmt.Errorf("decode plan: %w", err)
	}

	if p.Trajectory.ID == "" {
		p.Trajectory.ID = "traj-" + uuid.NewString()[:8]
	}
	if p.Execution.ID == "" {
		p.Execution.ID = "exec-" + uuid.NewString()
	}
	return &p, p.validate()
}

func (p *Plan) validate() error {
	if p.Execution.RobotID == "" {
		return errors.New("plan: execution.robot_id is required")
	}
	if len(p.Trajectory.Waypoints) == 0 {
		return errors.New("plan: trajectory has no waypoints")
	}
	seen := make(map[int]struct{}, len(p.Trajectory.Waypoints))
	for _, wp := range p.Trajectory.Waypoints {
		if wp.Seq < 0 {
			return fmt.Errorf("plan: negative seq %d", wp.Seq)
		}
		if _, dup := seen[wp.Seq]; dup {
			return fmt.Errorf("plan: seq %d appears twice", wp.Seq)
		}
		seen[wp.Seq] = struct{}{}
		if wp.DwellMs < 0 {
			return fmt.Errorf("plan: seq %d has negative dwell_ms", wp.Seq)
		}
	}
	return nil
}

func (p *Plan) execution() *model.Execution {
	return &model.Execution{
		ID:           p.Execution.ID,
		TrajectoryID: p.Trajectory.ID,
		RobotID:      p.Execution.RobotID,
		Status:       model.ExecutionPending,
	}
}

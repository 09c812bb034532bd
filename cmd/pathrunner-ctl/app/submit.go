package app

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/autopeer-io/pathrunner/internal/pkg/protocol"
	"github.com/autopeer-io/pathrunner/pkg/mqtt"
)

const publishTimeout = 10 * time.Second

func newSubmitCommand(opts *ctlOptions) *cobra.Command {
	var (
		file    string
		noStart bool
	)
	cmd := &cobra.Command{
		Use:   "submit -f plan.yaml",
		Short: "Store a plan as a PENDING execution and ask the executor to start it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			f, err := os.Open(file)
			if err != nil {
				return err
			}
			defer f.Close()

			plan, err := ReadPlan(f)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			s, err := opts.openStore(ctx)
			if err != nil {
				return err
			}
			defer s.Close()

			if err := s.CreateTrajectory(ctx, &plan.Trajectory); err != nil {
				return err
			}
			exec := plan.execution()
			if err := s.CreateExecution(ctx, exec); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "execution %s created (trajectory %s, %d waypoints)\n",
				exec.ID, exec.TrajectoryID, len(plan.Trajectory.Waypoints))

			if noStart {
				return nil
			}
			if err := opts.publishStart(ctx, exec.ID, exec.RobotID); err != nil {
				return fmt.Errorf("publish START_EXECUTION: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "start requested for robot %s\n", exec.RobotID)
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "Plan file (YAML).")
	cmd.Flags().BoolVar(&noStart, "no-start", false, "Only store the execution.")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func (o *ctlOptions) publishStart(ctx context.Context, execID, robotID string) error {
	cfg := o.mqtt.ToClientConfig()
	if cfg.ClientID == "" {
		cfg.ClientID = "pathrunner-ctl-" + uuid.NewString()
	}
	cfg.CleanStart = true
	client, err := mqtt.NewClient(cfg)
	if err != nil {
		return err
	}
	return publishStartWith(ctx, client, o.mqtt.Topics().ExecutorStart(), execID, robotID)
}

func publishStartWith(ctx context.Context, client mqtt.Client, topic, execID, robotID string) error {
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	if err := client.Start(ctx); err != nil {
		return err
	}
	defer client.Disconnect(context.Background())

	if err := client.AwaitConnection(ctx); err != nil {
		return err
	}

	data, err := protocol.Encode(&protocol.StartExecution{
		Type:          protocol.TypeStartExecution,
		ExecID:        execID,
		RobotID:       robotID,
		RequestedAtMs: time.Now().UnixMilli(),
	})
	if err != nil {
		return err
	}
	return client.Publish(ctx, topic, mqtt.AtLeastOnce, false, data)
}

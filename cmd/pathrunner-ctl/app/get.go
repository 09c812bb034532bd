package app

import (
	"fmt"
	"io"
	"time"

	"github.com/gosuri/uitable"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/autopeer-io/pathrunner/internal/executor/core/model"
	"github.com/autopeer-io/pathrunner/internal/executor/store"
)

const (
	outputTable = "table"
	outputYAML  = "yaml"
)

func newListCommand(opts *ctlOptions) *cobra.Command {
	var (
		status string
		robot  string
		limit  int
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List executions, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			s, err := opts.openStore(ctx)
			if err != nil {
				return err
			}
			defer s.Close()

			execs, err := s.List(ctx, store.ListOptions{
				Status:  model.ExecutionStatus(status),
				RobotID: robot,
				Limit:   limit,
			})
			if err != nil {
				return err
			}
			return printExecutions(cmd.OutOrStdout(), opts.output, execs)
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "Only show executions in this status.")
	cmd.Flags().StringVar(&robot, "robot", "", "Only show executions of this robot.")
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum number of executions to show.")
	return cmd
}

func newGetCommand(opts *ctlOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get EXECUTION_ID",
		Short: "Show one execution",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := opts.openStore(ctx)
			if err != nil {
				return err
			}
			defer s.Close()

			exec, err := s.Get(ctx, args[0])
			if err != nil {
				return err
			}
			return printExecutions(cmd.OutOrStdout(), opts.output, []*model.Execution{exec})
		},
	}
}

func printExecutions(w io.Writer, output string, execs []*model.Execution) error {
	switch output {
	case outputYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(execs); err != nil {
			return err
		}
		return enc.Close()
	case outputTable, "":
		table := uitable.New()
		table.MaxColWidth = 60
		table.AddRow("ID", "ROBOT", "TRAJECTORY", "STATUS", "STARTED", "ENDED", "ERROR")
		for _, e := range execs {
			table.AddRow(e.ID, e.RobotID, e.TrajectoryID, e.Status, formatTime(e.StartedAt), formatTime(e.EndedAt), e.LastError)
		}
		_, err := fmt.Fprintln(w, table)
		return err
	default:
		return fmt.Errorf("unknown output format %q", output)
	}
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Local().Format(time.DateTime)
}

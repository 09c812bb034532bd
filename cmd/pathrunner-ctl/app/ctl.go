// Package app implements pathrunner-ctl, the operator CLI that submits
// plans and inspects executions.
package app

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/autopeer-io/pathrunner/internal/executor/store"
	"github.com/autopeer-io/pathrunner/pkg/log"
	"github.com/autopeer-io/pathrunner/pkg/options"
)

type ctlOptions struct {
	store  *options.StoreOptions
	mqtt   *options.MqttOptions
	log    *log.Options
	output string
}

func NewCtlCommand(ctx context.Context) *cobra.Command {
	opts := &ctlOptions{
		store:  options.NewStoreOptions(),
		mqtt:   options.NewMqttOptions(),
		log:    log.NewOptions(),
		output: outputTable,
	}
	opts.log.Level = "warn"

	cmd := &cobra.Command{
		Use:           "pathrunner-ctl",
		Short:         "Submit trajectory plans and inspect executions",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			log.Init(opts.log)
			return nil
		},
	}
	cmd.SetContext(ctx)

	fs := cmd.PersistentFlags()
	opts.store.AddFlags(fs)
	opts.mqtt.AddFlags(fs)
	fs.StringVarP(&opts.output, "output", "o", opts.output, "Output format, one of table or yaml.")
	fs.StringVar(&opts.log.Level, "log.level", opts.log.Level, "Minimum log level.")

	cmd.AddCommand(
		newSubmitCommand(opts),
		newListCommand(opts),
		newGetCommand(opts),
		newHealthCommand(),
	)
	return cmd
}

func (o *ctlOptions) openStore(ctx context.Context) (*store.Store, error) {
	if errs := o.store.Validate(); len(errs) > 0 {
		return nil, errs[0]
	}
	s, err := store.Open(ctx, o.store.Driver, o.store.DSN)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	return s, nil
}

package app

import (
	"fmt"

	genericapiserver "k8s.io/apiserver/pkg/server"

	"github.com/autopeer-io/pathrunner/cmd/pathrunner-executor/app/options"
	"github.com/autopeer-io/pathrunner/pkg/app"
	"github.com/autopeer-io/pathrunner/pkg/log"
)

const (
	commandName = "pathrunner-executor"
	commandDesc = `The Pathrunner executor streams stored trajectories to robots over MQTT,
one acknowledged waypoint at a time, and records every robot event.`
)

func NewApp() *app.App {
	opts := options.NewExecutorOptions()
	application := app.NewApp(
		commandName,
		"Launch the Pathrunner trajectory executor",
		app.WithDescription(commandDesc),
		app.WithOptions(opts),
		app.WithDefaultValidArgs(),
		app.WithEnvAliases(options.EnvAliases),
		app.WithRunFunc(run(opts)),
	)
	return application
}

func run(opts *options.ExecutorOptions) app.RunFunc {
	return func() error {
		log.Init(opts.Log)
		defer log.Sync() //nolint:errcheck

		ctx := genericapiserver.SetupSignalContext()

		cfg, err := opts.Config()
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}

		executor, err := cfg.NewExecutor(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to create executor: %w", err)
		}

		return executor.Run(ctx)
	}
}

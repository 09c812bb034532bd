package app

import (
	"fmt"

	genericapiserver "k8s.io/apiserver/pkg/server"

	"github.com/autopeer-io/pathrunner/cmd/pathrunner-robot/app/options"
	"github.com/autopeer-io/pathrunner/pkg/app"
	"github.com/autopeer-io/pathrunner/pkg/log"
)

const (
	commandName = "pathrunner-robot"
	commandDesc = `The Pathrunner robot simulator accepts WAYPOINT commands on cmd/{robotId},
queues and executes them in order, and reports progress and telemetry.`
)

func NewApp() *app.App {
	opts := options.NewRobotOptions()
	application := app.NewApp(
		commandName,
		"Launch a simulated spraying robot",
		app.WithDescription(commandDesc),
		app.WithOptions(opts),
		app.WithDefaultValidArgs(),
		app.WithEnvAliases(options.EnvAliases),
		app.WithRunFunc(run(opts)),
	)
	return application
}

func run(opts *options.RobotOptions) app.RunFunc {
	return func() error {
		log.Init(opts.Log)
		defer log.Sync() //nolint:errcheck

		ctx := genericapiserver.SetupSignalContext()

		cfg, err := opts.Config()
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}

		robot, err := cfg.NewRobot(nil)
		if err != nil {
			return fmt.Errorf("failed to create robot: %w", err)
		}

		return robot.Run(ctx)
	}
}

package app

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	cliflag "k8s.io/component-base/cli/flag"
	"k8s.io/component-base/cli/globalflag"
)

// RunFunc defines the application's startup callback function.
type RunFunc func() error

// Option defines optional parameters for initializing the application
// structure.
type Option func(*App)

// App is the main structure of a cli application.
type App struct {
	name        string
	shortDesc   string
	description string
	envPrefix   string
	envAliases  map[string][]string
	options     NamedFlagSetOptions
	runFunc     RunFunc
	silence     bool
	args        cobra.PositionalArgs
	cmd         *cobra.Command
}

// WithOptions to open the application's function to read from the command line
// or read parameters from the configuration file.
func WithOptions(opts NamedFlagSetOptions) Option {
	return func(a *App) {
		a.options = opts
	}
}

// WithRunFunc is used to set the application startup callback function option.
func WithRunFunc(run RunFunc) Option {
	return func(a *App) {
		a.runFunc = run
	}
}

// WithDescription is used to set the description of the application.
func WithDescription(desc string) Option {
	return func(a *App) {
		a.description = desc
	}
}

// WithSilence sets the application to silent mode, in which the program startup
// information, configuration information, and version information are not
// printed in the console.
func WithSilence() Option {
	return func(a *App) {
		a.silence = true
	}
}

// WithDefaultValidArgs set default validation function to valid non-flag arguments.
func WithDefaultValidArgs() Option {
	return func(a *App) {
		a.args = func(cmd *cobra.Command, args []string) error {
			for _, arg := range args {
				if len(arg) > 0 {
					return fmt.Errorf("%q does not take any arguments, got %q", cmd.CommandPath(), args)
				}
			}

			return nil
		}
	}
}

// WithEnvPrefix overrides the environment prefix derived from the name.
func WithEnvPrefix(prefix string) Option {
	return func(a *App) {
		a.envPrefix = prefix
	}
}

// WithEnvAliases maps config keys (e.g. "mqtt.broker") to additional
// environment variable names that may set them.
func WithEnvAliases(aliases map[string][]string) Option {
	return func(a *App) {
		a.envAliases = aliases
	}
}

// NewApp creates a new application instance based on the given application name,
// binary name, and other options.
func NewApp(name string, shortDesc string, opts ...Option) *App {
	a := &App{
		name:      name,
		shortDesc: shortDesc,
		envPrefix: envPrefixFor(name),
	}

	for _, o := range opts {
		o(a)
	}

	a.buildCommand()

	return a
}

// Command returns the cobra command backing the application.
func (a *App) Command() *cobra.Command {
	return a.cmd
}

// Run is used to launch the application.
func (a *App) Run() {
	if err := a.cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

func (a *App) buildCommand() {
	cmd := &cobra.Command{
		Use:   a.name,
		Short: a.shortDesc,
		Long:  a.description,
		// stop printing usage when the command errors
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          a.args,
	}
	cmd.SetOut(os.Stdout)
	cmd.SetErr(os.Stderr)
	cmd.Flags().SortFlags = true

	if a.runFunc != nil {
		cmd.RunE = a.runCommand
	}

	var namedFlagSets cliflag.NamedFlagSets
	if a.options != nil {
		namedFlagSets = a.options.Flags()
	}
	globalFlags := namedFlagSets.FlagSet("global")
	globalflag.AddGlobalFlags(globalFlags, cmd.Name())
	if a.options != nil {
		addConfigFlag(a.envPrefix, globalFlags)
	}

	fs := cmd.Flags()
	for _, f := range namedFlagSets.FlagSets {
		fs.AddFlagSet(f)
	}
	cliflag.SetUsageAndHelpFunc(cmd, namedFlagSets, 0)

	a.cmd = cmd
}

func (a *App) runCommand(cmd *cobra.Command, args []string) error {
	if a.options != nil {
		if err := a.applyOptionRules(cmd); err != nil {
			return err
		}
	}

	if !a.silence {
		fmt.Fprintf(cmd.OutOrStdout(), "Starting %s...\n", a.name)
		if used := viper.ConfigFileUsed(); used != "" {
			fmt.Fprintf(cmd.OutOrStdout(), "Using config file: %s\n", used)
		}
	}

	return a.runFunc()
}

// applyOptionRules merges flags, config file and environment into the
// options, then completes and validates them.
func (a *App) applyOptionRules(cmd *cobra.Command) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}
	if err := bindEnvAliases(a.envAliases); err != nil {
		return err
	}
	if err := loadConfig(); err != nil {
		return err
	}
	if err := viper.Unmarshal(a.options); err != nil {
		return fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := a.options.Complete(); err != nil {
		return err
	}

	return a.options.Validate()
}

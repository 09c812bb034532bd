package app

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/autopeer-io/pathrunner/pkg/log"
)

const configFlagName = "config"

var cfgFile string

// addConfigFlag registers --config and wires viper to the environment.
// Variables use the upper-cased command prefix, e.g. PATHRUNNER_MQTT_BROKER
// for --mqtt.broker.
func addConfigFlag(envPrefix string, fs *pflag.FlagSet) {
	fs.StringVarP(&cfgFile, configFlagName, "c", cfgFile, "Read configuration from the specified YAML file.")

	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()
}

// bindEnvAliases lets older variable names set a config key.
func bindEnvAliases(aliases map[string][]string) error {
	for key, envs := range aliases {
		// BindEnv without the prefixed default would drop PATHRUNNER_*, so
		// the canonical name goes first.
		names := append([]string{canonicalEnv(key)}, envs...)
		if err := viper.BindEnv(append([]string{key}, names...)...); err != nil {
			return fmt.Errorf("bind env for %s: %w", key, err)
		}
	}
	return nil
}

func canonicalEnv(key string) string {
	r := strings.NewReplacer(".", "_", "-", "_")
	return strings.ToUpper(viper.GetEnvPrefix() + "_" + r.Replace(key))
}

// loadConfig reads the file named by --config, if any. Later changes to the
// file are logged; options are not re-applied to a running process.
func loadConfig() error {
	if cfgFile == "" {
		return nil
	}

	viper.SetConfigFile(cfgFile)
	if err := viper.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read configuration file(%s): %w", cfgFile, err)
	}

	viper.OnConfigChange(func(e fsnotify.Event) {
		log.Info("Config file changed, restart to apply", "file", e.Name, "op", e.Op.String())
	})
	viper.WatchConfig()
	return nil
}

func envPrefixFor(name string) string {
	base := filepath.Base(name)
	if i := strings.IndexByte(base, '-'); i > 0 {
		base = base[:i]
	}
	return strings.ToUpper(strings.ReplaceAll(base, "-", "_"))
}

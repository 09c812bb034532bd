package app

import (
	"errors"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	cliflag "k8s.io/component-base/cli/flag"
)

type testOptions struct {
	Broker    string `mapstructure:"broker"`
	Completed bool
}

func (o *testOptions) Flags() cliflag.NamedFlagSets {
	fss := cliflag.NamedFlagSets{}
	fss.FlagSet("mqtt").StringVar(&o.Broker, "broker", "mqtt://localhost:1883", "broker url")
	return fss
}

func (o *testOptions) Complete() error {
	o.Completed = true
	return nil
}

func (o *testOptions) Validate() error {
	if o.Broker == "" {
		return errors.New("broker required")
	}
	return nil
}

func TestEnvPrefixFor(t *testing.T) {
	assert.Equal(t, "PATHRUNNER", envPrefixFor("pathrunner-executor"))
	assert.Equal(t, "PATHRUNNER", envPrefixFor("/usr/bin/pathrunner-robot"))
	assert.Equal(t, "TOOL", envPrefixFor("tool"))
}

func TestAppMergesEnvAliases(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)
	t.Setenv("MQTT_URL", "mqtt://broker:1883")

	opts := &testOptions{}
	var ran bool
	a := NewApp("pathrunner-test", "test",
		WithOptions(opts),
		WithSilence(),
		WithDefaultValidArgs(),
		WithEnvAliases(map[string][]string{"broker": {"MQTT_URL"}}),
		WithRunFunc(func() error {
			ran = true
			return nil
		}),
	)
	a.Command().SetArgs([]string{})
	require.NoError(t, a.Command().Execute())

	assert.True(t, ran)
	assert.True(t, opts.Completed)
	assert.Equal(t, "mqtt://broker:1883", opts.Broker)
}

func TestAppFlagOverridesEnv(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)
	t.Setenv("PATHRUNNER_BROKER", "mqtt://env:1883")

	opts := &testOptions{}
	a := NewApp("pathrunner-test", "test",
		WithOptions(opts),
		WithSilence(),
		WithRunFunc(func() error { return nil }),
	)
	a.Command().SetArgs([]string{"--broker", "mqtt://flag:1883"})
	require.NoError(t, a.Command().Execute())
	assert.Equal(t, "mqtt://flag:1883", opts.Broker)
}

func TestAppRejectsPositionalArgs(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	a := NewApp("pathrunner-test", "test",
		WithOptions(&testOptions{}),
		WithSilence(),
		WithDefaultValidArgs(),
		WithRunFunc(func() error { return nil }),
	)
	a.Command().SetArgs([]string{"unexpected"})
	assert.Error(t, a.Command().Execute())
}

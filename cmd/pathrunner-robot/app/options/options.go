package options

import (
	utilerrors "k8s.io/apimachinery/pkg/util/errors"
	cliflag "k8s.io/component-base/cli/flag"

	"github.com/autopeer-io/pathrunner/internal/robot"
	"github.com/autopeer-io/pathrunner/pkg/app"
	"github.com/autopeer-io/pathrunner/pkg/log"
	"github.com/autopeer-io/pathrunner/pkg/options"
)

// EnvAliases are the legacy variable names still accepted.
var EnvAliases = map[string][]string{
	"mqtt.broker":       {"MQTT_URL"},
	"mqtt.username":     {"BROKER_USERNAME"},
	"mqtt.password":     {"BROKER_PASSWORD"},
	"mqtt.client-id":    {"MQTT_CLIENT_ID"},
	"robot.id":          {"ROBOT_ID"},
	"robot.queue-limit": {"QUEUE_LIMIT"},
}

type RobotOptions struct {
	MqttOptions  *options.MqttOptions  `json:"mqtt" mapstructure:"mqtt"`
	RobotOptions *options.RobotOptions `json:"robot" mapstructure:"robot"`
	HttpOptions  *options.HttpOptions  `json:"http" mapstructure:"http"`
	Log          *log.Options          `json:"log" mapstructure:"log"`
}

var _ app.NamedFlagSetOptions = (*RobotOptions)(nil)

func NewRobotOptions() *RobotOptions {
	o := &RobotOptions{
		MqttOptions:  options.NewMqttOptions(),
		RobotOptions: options.NewRobotOptions(),
		HttpOptions:  options.NewHttpOptions(),
		Log:          log.NewOptions(),
	}
	o.HttpOptions.Addr = "0.0.0.0:8081"

	return o
}

func (o *RobotOptions) Flags() cliflag.NamedFlagSets {
	fss := cliflag.NamedFlagSets{}
	o.MqttOptions.AddFlags(fss.FlagSet("mqtt"))
	o.RobotOptions.AddFlags(fss.FlagSet("robot"))
	o.HttpOptions.AddFlags(fss.FlagSet("http"))
	o.Log.AddFlags(fss.FlagSet("log"))
	return fss
}

func (o *RobotOptions) Complete() error {
	return nil
}

func (o *RobotOptions) Validate() error {
	errs := []error{}
	errs = append(errs, o.MqttOptions.Validate()...)
	errs = append(errs, o.RobotOptions.Validate()...)
	errs = append(errs, o.HttpOptions.Validate()...)
	errs = append(errs, o.Log.Validate()...)
	return utilerrors.NewAggregate(errs)
}

func (o *RobotOptions) Config() (*robot.Config, error) {
	return &robot.Config{
		MqttOptions:  o.MqttOptions,
		RobotOptions: o.RobotOptions,
		HttpOptions:  o.HttpOptions,
	}, nil
}

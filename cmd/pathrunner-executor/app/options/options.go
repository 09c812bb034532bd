package options

import (
	"fmt"
	"os"
	"strconv"
	"time"

	utilerrors "k8s.io/apimachinery/pkg/util/errors"
	cliflag "k8s.io/component-base/cli/flag"

	"github.com/autopeer-io/pathrunner/internal/executor"
	"github.com/autopeer-io/pathrunner/pkg/app"
	"github.com/autopeer-io/pathrunner/pkg/log"
	"github.com/autopeer-io/pathrunner/pkg/options"
)

// ackTimeoutEnv is read in Complete because it carries milliseconds, not a
// duration string.
const ackTimeoutEnv = "ACK_TIMEOUT_MS"

// EnvAliases are the legacy variable names still accepted.
var EnvAliases = map[string][]string{
	"mqtt.broker":                      {"MQTT_URL"},
	"mqtt.username":                    {"BROKER_USERNAME"},
	"mqtt.password":                    {"BROKER_PASSWORD"},
	"mqtt.client-id":                   {"MQTT_CLIENT_ID"},
	"executor.ack-retries":             {"ACK_RETRIES"},
	"executor.strict-wait-for-reached": {"STRICT_WAIT_FOR_REACHED"},
}

type ExecutorOptions struct {
	MqttOptions     *options.MqttOptions     `json:"mqtt" mapstructure:"mqtt"`
	HttpOptions     *options.HttpOptions     `json:"http" mapstructure:"http"`
	GrpcOptions     *options.GrpcOptions     `json:"grpc" mapstructure:"grpc"`
	StoreOptions    *options.StoreOptions    `json:"store" mapstructure:"store"`
	S3Options       *options.S3Options       `json:"s3" mapstructure:"s3"`
	ExecutorOptions *options.ExecutorOptions `json:"executor" mapstructure:"executor"`
	Log             *log.Options             `json:"log" mapstructure:"log"`
}

var _ app.NamedFlagSetOptions = (*ExecutorOptions)(nil)

func NewExecutorOptions() *ExecutorOptions {
	o := &ExecutorOptions{
		MqttOptions:     options.NewMqttOptions(),
		HttpOptions:     options.NewHttpOptions(),
		GrpcOptions:     options.NewGrpcOptions(),
		StoreOptions:    options.NewStoreOptions(),
		S3Options:       options.NewS3Options(),
		ExecutorOptions: options.NewExecutorOptions(),
		Log:             log.NewOptions(),
	}

	return o
}

func (o *ExecutorOptions) Flags() cliflag.NamedFlagSets {
	fss := cliflag.NamedFlagSets{}
	o.MqttOptions.AddFlags(fss.FlagSet("mqtt"))
	o.ExecutorOptions.AddFlags(fss.FlagSet("executor"))
	o.StoreOptions.AddFlags(fss.FlagSet("store"))
	o.S3Options.AddFlags(fss.FlagSet("s3"))
	o.HttpOptions.AddFlags(fss.FlagSet("http"))
	o.GrpcOptions.AddFlags(fss.FlagSet("grpc"))
	o.Log.AddFlags(fss.FlagSet("log"))
	return fss
}

func (o *ExecutorOptions) Complete() error {
	if v, ok := os.LookupEnv(ackTimeoutEnv); ok && v != "" {
		ms, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("%s: %w", ackTimeoutEnv, err)
		}
		o.ExecutorOptions.AckTimeout = time.Duration(ms) * time.Millisecond
	}
	return nil
}

func (o *ExecutorOptions) Validate() error {
	errs := []error{}
	errs = append(errs, o.MqttOptions.Validate()...)
	errs = append(errs, o.ExecutorOptions.Validate()...)
	errs = append(errs, o.StoreOptions.Validate()...)
	errs = append(errs, o.S3Options.Validate()...)
	errs = append(errs, o.HttpOptions.Validate()...)
	errs = append(errs, o.GrpcOptions.Validate()...)
	errs = append(errs, o.Log.Validate()...)
	return utilerrors.NewAggregate(errs)
}

func (o *ExecutorOptions) Config() (*executor.Config, error) {
	return &executor.Config{
		MqttOptions:     o.MqttOptions,
		HttpOptions:     o.HttpOptions,
		GrpcOptions:     o.GrpcOptions,
		StoreOptions:    o.StoreOptions,
		S3Options:       o.S3Options,
		ExecutorOptions: o.ExecutorOptions,
	}, nil
}

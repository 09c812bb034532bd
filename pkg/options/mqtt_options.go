package options

import (
	"fmt"
	"net/url"
	"time"

	"github.com/spf13/pflag"

	"github.com/autopeer-io/pathrunner/pkg/mqtt"
	"github.com/autopeer-io/pathrunner/pkg/mqtt/topic"
)

var _ IOptions = (*MqttOptions)(nil)

// MqttOptions contains configuration for MQTT client and topics.
type MqttOptions struct {
	Broker   string `json:"broker" mapstructure:"broker"`
	Username string `json:"username" mapstructure:"username"`
	Password string `json:"password" mapstructure:"password"`
	ClientID string `json:"client-id" mapstructure:"client-id"`

	// Client behavior
	KeepAlive        time.Duration `json:"keep-alive" mapstructure:"keep-alive"`
	ConnectTimeout   time.Duration `json:"connect-timeout" mapstructure:"connect-timeout"`
	ReconnectBackoff time.Duration `json:"reconnect-backoff" mapstructure:"reconnect-backoff"`
	SessionExpiry    uint32        `json:"session-expiry" mapstructure:"session-expiry"`
	CleanStart       bool          `json:"clean-start" mapstructure:"clean-start"`

	// InsecureSkipVerify controls whether a client verifies the server's certificate chain and host name.
	// This should be used only for testing.
	InsecureSkipVerify bool `json:"insecure-skip-verify" mapstructure:"insecure-skip-verify"`

	// TopicRoot is prepended to every topic: {TopicRoot}/cmd/{robotId}.
	TopicRoot string `json:"topic-root" mapstructure:"topic-root"`

	// ShareGroup turns the executor's wildcard subscriptions into shared ones.
	ShareGroup string `json:"share-group" mapstructure:"share-group"`

	Debug bool `json:"debug" mapstructure:"debug"`
}

// NewMqttOptions creates a new MqttOptions with default values.
func NewMqttOptions() *MqttOptions {
	return &MqttOptions{
		Broker:           "mqtt://localhost:1883",
		KeepAlive:        30 * time.Second,
		ConnectTimeout:   5 * time.Second,
		ReconnectBackoff: time.Second,
		SessionExpiry:    3600,
		CleanStart:       false,
	}
}

// Validate is used to parse and validate the parameters entered by the user at
// the command line when the program starts.
func (o *MqttOptions) Validate() []error {
	if o == nil {
		return nil
	}

	errors := []error{}

	if o.Broker == "" {
		errors = append(errors, fmt.Errorf("--mqtt.broker must be set"))
	} else if _, err := url.Parse(o.Broker); err != nil {
		errors = append(errors, fmt.Errorf("--mqtt.broker: %w", err))
	}
	if o.KeepAlive < time.Second || o.KeepAlive.Seconds() > 65535 {
		errors = append(errors, fmt.Errorf("--mqtt.keep-alive must be between 1s and 65535s, got %s", o.KeepAlive))
	}
	if o.ReconnectBackoff <= 0 {
		errors = append(errors, fmt.Errorf("--mqtt.reconnect-backoff must be positive"))
	}

	return errors
}

// AddFlags adds flags for MqttOptions to the specified FlagSet.
func (o *MqttOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.StringVar(&o.Broker, "mqtt.broker", o.Broker, "The URL of the MQTT broker.")
	fs.StringVar(&o.Username, "mqtt.username", o.Username, "The username for MQTT authentication.")
	fs.StringVar(&o.Password, "mqtt.password", o.Password, "The password for MQTT authentication.")
	fs.StringVar(&o.ClientID, "mqtt.client-id", o.ClientID, "Explicit Client ID (optional, generated when empty).")

	fs.DurationVar(&o.KeepAlive, "mqtt.keep-alive", o.KeepAlive, "MQTT Keep Alive interval.")
	fs.DurationVar(&o.ConnectTimeout, "mqtt.connect-timeout", o.ConnectTimeout, "Timeout for establishing MQTT connection.")
	fs.DurationVar(&o.ReconnectBackoff, "mqtt.reconnect-backoff", o.ReconnectBackoff, "Delay between reconnection attempts.")
	fs.Uint32Var(&o.SessionExpiry, "mqtt.session-expiry", o.SessionExpiry, "MQTT Session Expiry Interval in seconds.")
	fs.BoolVar(&o.CleanStart, "mqtt.clean-start", o.CleanStart, "Discard the broker-side session on the first connection.")
	fs.BoolVar(&o.InsecureSkipVerify, "mqtt.insecure-skip-verify", o.InsecureSkipVerify, "If true, skips the TLS certificate verification.")
	fs.BoolVar(&o.Debug, "mqtt.debug", o.Debug, "Log paho client internals at debug level.")

	// Topics
	fs.StringVar(&o.TopicRoot, "mqtt.topic-root", o.TopicRoot, "Optional prefix prepended to every topic.")
	fs.StringVar(&o.ShareGroup, "mqtt.share-group", o.ShareGroup, "Shared subscription group for inbound robot topics (empty for none).")
}

// ToClientConfig maps the options onto a client configuration.
func (o *MqttOptions) ToClientConfig() *mqtt.ClientConfig {
	return &mqtt.ClientConfig{
		BrokerURL:          o.Broker,
		Username:           o.Username,
		Password:           o.Password,
		ClientID:           o.ClientID,
		KeepAlive:          uint16(o.KeepAlive.Seconds()),
		SessionExpiry:      o.SessionExpiry,
		ConnectTimeout:     o.ConnectTimeout,
		ReconnectBackoff:   o.ReconnectBackoff,
		CleanStart:         o.CleanStart,
		InsecureSkipVerify: o.InsecureSkipVerify,
		Debug:              o.Debug,
	}
}

// Topics returns the topic builder for the configured root and share group.
func (o *MqttOptions) Topics() *topic.Builder {
	return topic.NewBuilder(o.TopicRoot).Shared(o.ShareGroup)
}

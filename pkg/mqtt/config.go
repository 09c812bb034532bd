package mqtt

import (
	"errors"
	"fmt"
	"net/url"
	"time"
)

// ClientConfig holds the configuration for creating a new MQTT Client.
type ClientConfig struct {
	BrokerURL string
	ClientID  string
	Username  string
	Password  string

	// KeepAlive in seconds. Default is 30.
	KeepAlive uint16

	// ConnectTimeout for the initial connection. Default is 5s.
	ConnectTimeout time.Duration

	// ReconnectBackoff is the constant delay between connection attempts. Default is 1s.
	ReconnectBackoff time.Duration

	// CleanStart indicates whether to start a clean session.
	// Executor and robot keep persistent sessions so QoS 1 traffic survives a reconnect.
	CleanStart bool

	// SessionExpiry is the MQTT v5 session expiry interval in seconds.
	SessionExpiry uint32

	// InsecureSkipVerify disables TLS certificate verification.
	InsecureSkipVerify bool

	// Last will, published by the broker when the client drops without DISCONNECT.
	WillTopic   string
	WillPayload []byte
	WillQoS     byte
	WillRetain  bool

	// Debug routes paho's internal debug output to the debug log.
	Debug bool
}

// setDefaultConfig applies safe default values to the configuration.
func setDefaultConfig(cfg *ClientConfig) {
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}

	if cfg.KeepAlive == 0 {
		cfg.KeepAlive = 30
	}

	if cfg.ReconnectBackoff == 0 {
		cfg.ReconnectBackoff = time.Second
	}
}

// Validate checks if the configuration is valid.
func (c *ClientConfig) Validate() error {
	if c.BrokerURL == "" {
		return errors.New("broker url is required")
	}
	u, err := url.Parse(c.BrokerURL)
	if err != nil {
		return err
	}
	switch u.Scheme {
	case "mqtt", "tcp", "ssl", "tls", "mqtts", "ws", "wss":
	default:
		return fmt.Errorf("unsupported broker scheme %q", u.Scheme)
	}
	if c.ClientID == "" {
		return errors.New("client id is required")
	}
	if c.WillQoS > 2 {
		return fmt.Errorf("invalid will qos %d", c.WillQoS)
	}
	return nil
}

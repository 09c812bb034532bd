package robot

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/autopeer-io/pathrunner/internal/pkg/server"
	"github.com/autopeer-io/pathrunner/internal/robot/hal"
	"github.com/autopeer-io/pathrunner/pkg/log"
	"github.com/autopeer-io/pathrunner/pkg/mqtt"
	"github.com/autopeer-io/pathrunner/pkg/options"
)

type Config struct {
	MqttOptions  *options.MqttOptions
	RobotOptions *options.RobotOptions
	HttpOptions  *options.HttpOptions
}

// NewRobot wires the simulator. client may be nil, in which case a broker
// client is built from MqttOptions.
func (cfg *Config) NewRobot(client mqtt.Client) (*Robot, error) {
	ro := cfg.RobotOptions
	if ro.ID == "" {
		return nil, errors.New("robot id is required")
	}

	if client == nil {
		mqttConfig := cfg.MqttOptions.ToClientConfig()
		if mqttConfig.ClientID == "" {
			mqttConfig.ClientID = fmt.Sprintf("robot-sim-%s-%s", ro.ID, uuid.NewString())
		}
		var err error
		if client, err = mqtt.NewClient(mqttConfig); err != nil {
			log.Error(err, "failed to new mqtt client")
			return nil, err
		}
	}

	sim := hal.NewSimulator(hal.Timing{
		Travel: ro.TravelTime,
		Jitter: ro.TravelJitter,
		Settle: ro.SettleTime,
	})

	r := NewRobot(ro.ID, client, cfg.MqttOptions.Topics(), sim, ro.QueueLimit, ro.TelemetryInterval)

	if cfg.HttpOptions != nil && cfg.HttpOptions.Addr != "" {
		router := mux.NewRouter()
		server.RegisterProbes(router, server.BrokerCheck(client.IsConnected))
		r.WithServers(server.NewHTTPServer(cfg.HttpOptions, router))
	}
	return r, nil
}

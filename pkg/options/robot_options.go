package options

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"
)

var _ IOptions = (*RobotOptions)(nil)

// RobotOptions configures the simulated robot.
type RobotOptions struct {
	ID string `json:"id" mapstructure:"id"`

	// QueueLimit is the command queue capacity.
	QueueLimit int `json:"queue-limit" mapstructure:"queue-limit"`

	// TravelTime plus a random share of TravelJitter is spent per waypoint,
	// followed by SettleTime and the waypoint's own dwell.
	TravelTime   time.Duration `json:"travel-time" mapstructure:"travel-time"`
	TravelJitter time.Duration `json:"travel-jitter" mapstructure:"travel-jitter"`
	SettleTime   time.Duration `json:"settle-time" mapstructure:"settle-time"`

	TelemetryInterval time.Duration `json:"telemetry-interval" mapstructure:"telemetry-interval"`
}

func NewRobotOptions() *RobotOptions {
	return &RobotOptions{
		ID:                "robot_1",
		QueueLimit:        100,
		TravelTime:        time.Second,
		TravelJitter:      time.Second,
		SettleTime:        time.Second,
		TelemetryInterval: 500 * time.Millisecond,
	}
}

func (o *RobotOptions) Validate() []error {
	if o == nil {
		return nil
	}

	errs := []error{}
	if o.ID == "" {
		errs = append(errs, fmt.Errorf("--robot.id must be set"))
	}
	if o.QueueLimit < 1 {
		errs = append(errs, fmt.Errorf("--robot.queue-limit must be at least 1, got %d", o.QueueLimit))
	}
	if o.TravelTime < 0 || o.TravelJitter < 0 || o.SettleTime < 0 {
		errs = append(errs, fmt.Errorf("robot motion durations must not be negative"))
	}
	if o.TelemetryInterval <= 0 {
		errs = append(errs, fmt.Errorf("--robot.telemetry-interval must be positive"))
	}
	return errs
}

func (o *RobotOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.StringVar(&o.ID, "robot.id", o.ID, "Robot identity, used in every topic.")
	fs.IntVar(&o.QueueLimit, "robot.queue-limit", o.QueueLimit, "Maximum number of accepted, not yet executed commands.")
	fs.DurationVar(&o.TravelTime, "robot.travel-time", o.TravelTime, "Base travel time per waypoint.")
	fs.DurationVar(&o.TravelJitter, "robot.travel-jitter", o.TravelJitter, "Upper bound of the random extra travel time.")
	fs.DurationVar(&o.SettleTime, "robot.settle-time", o.SettleTime, "Settle time after arriving at a waypoint.")
	fs.DurationVar(&o.TelemetryInterval, "robot.telemetry-interval", o.TelemetryInterval, "Telemetry publish interval.")
}

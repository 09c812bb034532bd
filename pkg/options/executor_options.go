package options

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"
)

var _ IOptions = (*ExecutorOptions)(nil)

// ExecutorOptions tunes waypoint delivery.
type ExecutorOptions struct {
	// AckTimeout is the per-attempt deadline for a correlated response.
	AckTimeout time.Duration `json:"ack-timeout" mapstructure:"ack-timeout"`

	// AckRetries is the number of attempts per waypoint, not the number of re-sends.
	AckRetries int `json:"ack-retries" mapstructure:"ack-retries"`

	// StrictWaitForReached makes the streamer wait for a persisted
	// WAYPOINT_REACHED record before advancing.
	StrictWaitForReached bool `json:"strict-wait-for-reached" mapstructure:"strict-wait-for-reached"`

	// StrictTimeout bounds the strict wait for a stored REACHED record.
	// It must cover a full robot motion, not just the acknowledgment.
	StrictTimeout time.Duration `json:"strict-timeout" mapstructure:"strict-timeout"`

	// PollInterval is how often the store is checked in strict mode.
	PollInterval time.Duration `json:"poll-interval" mapstructure:"poll-interval"`

	// SendInterval is the pause after each successful waypoint.
	SendInterval time.Duration `json:"send-interval" mapstructure:"send-interval"`
}

func NewExecutorOptions() *ExecutorOptions {
	return &ExecutorOptions{
		AckTimeout:    2 * time.Second,
		AckRetries:    3,
		StrictTimeout: DefaultStrictTimeout,
		PollInterval:  100 * time.Millisecond,
		SendInterval:  100 * time.Millisecond,
	}
}

// DefaultStrictTimeout comfortably covers the simulator's slowest motion
// (travel, settle and jitter add up to about 3s).
const DefaultStrictTimeout = 10 * time.Second

// EffectiveStrictTimeout returns StrictTimeout, falling back to
// DefaultStrictTimeout when unset.
func (o *ExecutorOptions) EffectiveStrictTimeout() time.Duration {
	if o.StrictTimeout > 0 {
		return o.StrictTimeout
	}
	return DefaultStrictTimeout
}

func (o *ExecutorOptions) Validate() []error {
	if o == nil {
		return nil
	}

	errs := []error{}
	if o.AckTimeout <= 0 {
		errs = append(errs, fmt.Errorf("--executor.ack-timeout must be positive, got %s", o.AckTimeout))
	}
	if o.AckRetries < 1 {
		errs = append(errs, fmt.Errorf("--executor.ack-retries must be at least 1, got %d", o.AckRetries))
	}
	if o.StrictTimeout < 0 {
		errs = append(errs, fmt.Errorf("--executor.strict-timeout must not be negative"))
	}
	if o.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("--executor.poll-interval must be positive"))
	}
	if o.SendInterval < 0 {
		errs = append(errs, fmt.Errorf("--executor.send-interval must not be negative"))
	}
	return errs
}

func (o *ExecutorOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.DurationVar(&o.AckTimeout, "executor.ack-timeout", o.AckTimeout, "Deadline for each delivery attempt.")
	fs.IntVar(&o.AckRetries, "executor.ack-retries", o.AckRetries, "Delivery attempts per waypoint before the execution fails.")
	fs.BoolVar(&o.StrictWaitForReached, "executor.strict-wait-for-reached", o.StrictWaitForReached, "Wait for a stored WAYPOINT_REACHED record before sending the next waypoint.")
	fs.DurationVar(&o.StrictTimeout, "executor.strict-timeout", o.StrictTimeout, "Bound on the strict wait for a stored WAYPOINT_REACHED record.")
	fs.DurationVar(&o.PollInterval, "executor.poll-interval", o.PollInterval, "Store polling interval in strict mode.")
	fs.DurationVar(&o.SendInterval, "executor.send-interval", o.SendInterval, "Pause after each acknowledged waypoint.")
}

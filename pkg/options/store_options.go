package options

import (
	"fmt"

	"github.com/spf13/pflag"
)

var _ IOptions = (*StoreOptions)(nil)

// StoreOptions selects the durable store backing executions and events.
type StoreOptions struct {
	// Driver is "sqlite" or "postgres".
	Driver string `json:"driver" mapstructure:"driver"`

	// DSN is a file path for sqlite or a connection string for postgres.
	DSN string `json:"dsn" mapstructure:"dsn"`
}

func NewStoreOptions() *StoreOptions {
	return &StoreOptions{
		Driver: "sqlite",
		DSN:    "pathrunner.db",
	}
}

func (o *StoreOptions) Validate() []error {
	if o == nil {
		return nil
	}

	errs := []error{}
	switch o.Driver {
	case "sqlite", "postgres":
	default:
		errs = append(errs, fmt.Errorf("--store.driver must be sqlite or postgres, got %q", o.Driver))
	}
	if o.DSN == "" {
		errs = append(errs, fmt.Errorf("--store.dsn must be set"))
	}
	return errs
}

func (o *StoreOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.StringVar(&o.Driver, "store.driver", o.Driver, "Store driver, one of sqlite or postgres.")
	fs.StringVar(&o.DSN, "store.dsn", o.DSN, "Store data source: a file path for sqlite, a connection string for postgres.")
}

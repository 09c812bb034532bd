package app

import (
	cliflag "k8s.io/component-base/cli/flag"
)

// CliOptions abstracts configuration options for reading parameters from the
// command line.
type CliOptions interface {
	// Flags returns the option flags grouped by section.
	Flags() cliflag.NamedFlagSets

	// Validate validates all the required options.
	Validate() error
}

// NamedFlagSetOptions is CliOptions with a Complete step that runs after the
// config file and environment have been merged.
type NamedFlagSetOptions interface {
	CliOptions

	// Complete fills in fields that depend on other fields.
	Complete() error
}

// Package config holds the configurable policy knobs for the payment
// attempt orchestrator. Spec §9 flags the 3-second retry delay as a
// hard-coded constant that should be a configurable policy point; this
// package is that point.
package config

import (
	"time"

	"github.com/jessevdk/go-flags"
)

// defaultRetryDelay is the delay applied before retrying a getroute after a
// block-height-disagreement sendpay failure (spec §4.1).
const defaultRetryDelay = 3 * time.Second

// Config holds the payment orchestrator's configurable policy knobs.
type Config struct {
	// RetryDelay is how long to wait after a TRY_OTHER_ROUTE failure with
	// an EXPIRY_* failcode before retrying the getroute (spec §4.1, §9).
	RetryDelay time.Duration `long:"payment-retry-delay" description:"delay before retrying a payment attempt after a block-height disagreement with a peer"`
}

// Default returns a Config populated with this module's defaults.
func Default() *Config {
	return &Config{
		RetryDelay: defaultRetryDelay,
	}
}

// Parse parses the given command-line arguments into a Config seeded with
// defaults, following the jessevdk/go-flags convention used throughout lnd's
// own configuration structs.
func Parse(args []string) (*Config, error) {
	cfg := Default()

	parser := flags.NewParser(cfg, flags.Default)
	if _, err := parser.ParseArgs(args); err != nil {
		return nil, err
	}

	return cfg, nil
}

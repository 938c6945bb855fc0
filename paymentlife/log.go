package paymentlife

import "github.com/btcsuite/btclog/v2"

// log is the package-wide logger used by the payment lifecycle. It is
// disabled by default and wired in by the caller via UseLogger, following
// the convention used throughout lnd's subpackages.
var log btclog.Logger = btclog.Disabled

// UseLogger sets the package-wide logger used by this package. It should be
// called before the orchestrator is used so that all log lines, including
// those emitted from the first attempt, go to the configured backend.
func UseLogger(logger btclog.Logger) {
	log = logger
}

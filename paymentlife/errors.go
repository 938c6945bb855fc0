package paymentlife

import (
	"errors"
	"fmt"
)

// ErrInvalidInvoice is the umbrella validation error for malformed pay
// command input; individual causes are wrapped with %w and a descriptive
// prefix by ValidateRequest.
var ErrInvalidInvoice = errors.New("invalid pay request")

// classifierBug panics to signal a contract violation by the sendpay
// collaborator. UNPARSEABLE_ONION is never expected to reach the error
// classifier as a terminal outcome (see spec §4.3); if it does, the
// send-path subsystem has a bug and continuing would only hide it.
func classifierBug(detail string) {
	panic(fmt.Sprintf("paymentlife: contract violation: %s", detail))
}

package paymentlife

import "github.com/lightningnetwork/lnd/lnwire"

// Verdict is the outcome of evaluating a proposed route's fee against the
// caller's ceiling (spec §4.2).
type Verdict byte

const (
	// VerdictAccept indicates the fee is within the caller's ceiling; the
	// controller should proceed to dispatch the payment.
	VerdictAccept Verdict = iota

	// VerdictRejectFatal indicates the fee exceeds the ceiling and fuzz
	// is exhausted; the controller should report ROUTE_TOO_EXPENSIVE.
	VerdictRejectFatal

	// VerdictRejectRetry indicates the fee exceeds the ceiling but fuzz
	// can still be lowered; the controller should retry the getroute
	// request without dispatching a send.
	VerdictRejectRetry
)

// FeeEvaluation is the full result of a fee policy decision, carrying the
// figures a ROUTE_TOO_EXPENSIVE reply must echo (spec §6).
type FeeEvaluation struct {
	Verdict    Verdict
	FeeMsat    lnwire.MilliSatoshi
	FeePercent float64
}

// EvaluateFee applies the Fee Policy described in spec §4.2 to a non-empty
// proposed route. Callers must not invoke this with an empty route; that
// case is handled earlier in the controller as ROUTE_NOT_FOUND.
func EvaluateFee(
	rt Route, msatoshi lnwire.MilliSatoshi, maxFeePercent float64,
	fuzz float64) FeeEvaluation {

	first := rt.FirstHopAmount()

	// fee is computed in millisatoshi, then the percentage in float64.
	// msatoshi is constrained to <= 2^32-1 (spec §4.2 Numeric note), well
	// within float64's 52-bit mantissa, so this comparison is exact to
	// far more than the 6 significant digits the spec requires.
	var feeMsat lnwire.MilliSatoshi
	if first > msatoshi {
		feeMsat = first - msatoshi
	}

	feePercent := 100.0 * float64(feeMsat) / float64(msatoshi)
	tooHigh := feePercent > maxFeePercent

	eval := FeeEvaluation{
		FeeMsat:    feeMsat,
		FeePercent: feePercent,
	}

	switch {
	case tooHigh && fuzz < fuzzFloor:
		eval.Verdict = VerdictRejectFatal
	case tooHigh:
		eval.Verdict = VerdictRejectRetry
	default:
		eval.Verdict = VerdictAccept
	}

	return eval
}

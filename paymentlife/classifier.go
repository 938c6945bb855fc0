package paymentlife

import "github.com/lightningnetwork/lnd/lntypes"

// OutcomeKind tags the possible classifications of a SendpayResult (spec
// §4.3). Modeled as an exhaustive tagged sum rather than an integer code
// plus optional fields, per spec §9's design note, so the controller's
// switch over it is checkable.
type OutcomeKind byte

const (
	// OutcomeSuccess indicates the HTLC settled; Preimage is populated.
	OutcomeSuccess OutcomeKind = iota

	// OutcomeReport indicates a policy failure that must be reported to
	// the caller without a retry.
	OutcomeReport

	// OutcomeRetryImmediate indicates a transient failure that should be
	// retried with a fresh getroute, with no delay.
	OutcomeRetryImmediate

	// OutcomeRetryDelayed indicates a transient failure that should be
	// retried after the block-height-disagreement delay.
	OutcomeRetryDelayed
)

// AttemptCounters is attached to report/retry outcomes so the response
// formatter can echo the counters as of the callback that produced them
// (spec §5 Ordering guarantees, §6).
type AttemptCounters struct {
	GetrouteTries uint64
	SendpayTries  uint64
}

// ClassifiedOutcome is the result of running the Error Classifier over a
// SendpayResult (spec §4.3).
type ClassifiedOutcome struct {
	Kind OutcomeKind

	// Preimage is set only when Kind == OutcomeSuccess.
	Preimage lntypes.Preimage

	// ReportCode, RoutingFailure and Counters are set only when Kind ==
	// OutcomeReport.
	ReportCode     ErrorCode
	RoutingFailure RoutingFailure
	Counters       AttemptCounters
}

// Classify maps a sendpay outcome to one of {success, report-and-stop,
// retry-now, retry-after-delay}, per spec §4.3. It is a pure function of its
// inputs: it has no access to the payment context beyond the counters it is
// handed, so the controller remains the single place attempt state mutates.
func Classify(
	result SendpayResult, counters AttemptCounters) ClassifiedOutcome {

	if result.Succeeded {
		return ClassifiedOutcome{
			Kind:     OutcomeSuccess,
			Preimage: result.Preimage,
		}
	}

	switch result.ErrorCode {
	case ErrCodeInProgress, ErrCodeRHashAlreadyUsed:
		return ClassifiedOutcome{
			Kind:       OutcomeReport,
			ReportCode: result.ErrorCode,
			Counters:   counters,
		}

	case ErrCodeDestinationPermFail:
		return ClassifiedOutcome{
			Kind:           OutcomeReport,
			ReportCode:     result.ErrorCode,
			RoutingFailure: result.RoutingFailure,
			Counters:       counters,
		}

	case ErrCodeTryOtherRoute:
		if result.RoutingFailure.Failcode.delayed() {
			return ClassifiedOutcome{Kind: OutcomeRetryDelayed}
		}

		return ClassifiedOutcome{Kind: OutcomeRetryImmediate}

	case ErrCodeUnparseableOnion:
		// This code is never a legitimate sendpay terminal outcome;
		// reaching it here is a bug in the send collaborator (spec
		// §4.1, §7).
		classifierBug("sendpay reported UNPARSEABLE_ONION as a " +
			"terminal outcome")

		// Unreachable: classifierBug panics.
		return ClassifiedOutcome{}

	default:
		classifierBug("unrecognized sendpay error code")
		return ClassifiedOutcome{}
	}
}

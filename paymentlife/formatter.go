package paymentlife

import (
	"strings"
	"time"
	"unicode"

	"github.com/lightningnetwork/lnd/lntypes"
)

// SuccessReply is the payload emitted when a payment settles (spec §6).
type SuccessReply struct {
	PaymentPreimage string `json:"payment_preimage"`
	GetrouteTries   uint64 `json:"getroute_tries"`
	SendpayTries    uint64 `json:"sendpay_tries"`
}

// FailureReply is the payload emitted for any non-success terminal outcome
// (spec §6, §7). Code is one of the wire error codes listed in spec §6's
// table, or INTERNAL for an error returned by a collaborator itself (see
// buildInternalFailure); Data carries the fields for that code.
type FailureReply struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Data    map[string]interface{} `json:"data"`
}

// Reply is the single terminal payload delivered to a Controller's
// TerminalFunc. Exactly one of Success or Failure is non-nil.
type Reply struct {
	Success *SuccessReply
	Failure *FailureReply
}

// sanitizeJSONString enforces spec §8's formatter invariant: only printable
// characters, with control-character bytes replaced by '?'. Quote and
// backslash characters are left untouched here — encoding/json.Marshal
// already escapes them correctly when the string is serialized, so doubling
// that escaping here would corrupt the output instead of protecting it.
func sanitizeJSONString(s string) string {
	var b strings.Builder
	b.Grow(len(s))

	for _, r := range s {
		if r == unicode.ReplacementChar || r < 0x20 || r == 0x7f {
			b.WriteByte('?')
			continue
		}

		b.WriteRune(r)
	}

	return b.String()
}

func countersData(c AttemptCounters) map[string]interface{} {
	return map[string]interface{}{
		"getroute_tries": c.GetrouteTries,
		"sendpay_tries":  c.SendpayTries,
	}
}

func mergeData(base map[string]interface{}, extra map[string]interface{}) map[string]interface{} {
	for k, v := range extra {
		base[k] = v
	}

	return base
}

// buildSuccessReply builds the success payload for a settled payment (spec
// §6). The preimage round-trips exactly as delivered by the send
// collaborator (spec §8).
func buildSuccessReply(preimage lntypes.Preimage, counters AttemptCounters) *SuccessReply {
	return &SuccessReply{
		PaymentPreimage: preimage.String(),
		GetrouteTries:   counters.GetrouteTries,
		SendpayTries:    counters.SendpayTries,
	}
}

// buildExpiredFailure builds the INVOICE_EXPIRED failure reply (spec §6).
func buildExpiredFailure(now, expiry time.Time, counters AttemptCounters) *FailureReply {
	return &FailureReply{
		Code:    "INVOICE_EXPIRED",
		Message: "invoice expired before an attempt could be started",
		Data: mergeData(map[string]interface{}{
			"now":    now.Format(time.RFC3339),
			"expiry": expiry.Format(time.RFC3339),
		}, countersData(counters)),
	}
}

// buildRouteNotFoundFailure builds the ROUTE_NOT_FOUND failure reply (spec
// §6).
func buildRouteNotFoundFailure(counters AttemptCounters) *FailureReply {
	return &FailureReply{
		Code:    "ROUTE_NOT_FOUND",
		Message: "unable to find a route to destination",
		Data:    countersData(counters),
	}
}

// buildRouteTooExpensiveFailure builds the ROUTE_TOO_EXPENSIVE failure
// reply (spec §6).
func buildRouteTooExpensiveFailure(
	eval FeeEvaluation, params PaymentParams,
	counters AttemptCounters) *FailureReply {

	return &FailureReply{
		Code:    "ROUTE_TOO_EXPENSIVE",
		Message: "the cheapest route found exceeds the fee budget",
		Data: mergeData(map[string]interface{}{
			"fee":           uint64(eval.FeeMsat),
			"feepercent":    eval.FeePercent,
			"msatoshi":      uint64(params.Msatoshi),
			"maxfeepercent": params.MaxFeePercent,
		}, countersData(counters)),
	}
}

// buildInternalFailure builds a failure reply for an error surfaced by a
// collaborator (gossip or send subsystem) itself, as opposed to a policy
// decision this core made. Not part of spec §6's table — that table only
// covers this core's own classifications — but any real RouteSource/
// PaySender can fail transport-level, and the glue must still produce
// exactly one terminal reply.
func buildInternalFailure(err error, counters AttemptCounters) *FailureReply {
	return &FailureReply{
		Code:    "INTERNAL",
		Message: sanitizeJSONString(err.Error()),
		Data:    countersData(counters),
	}
}

// buildReportFailure builds the failure reply for an Error Classifier
// OutcomeReport, dispatching on the reported error code (spec §4.3, §6).
func buildReportFailure(outcome ClassifiedOutcome) *FailureReply {
	switch outcome.ReportCode {
	case ErrCodeInProgress:
		return &FailureReply{
			Code:    "IN_PROGRESS",
			Message: "a payment for this hash is already in flight",
			Data:    countersData(outcome.Counters),
		}

	case ErrCodeRHashAlreadyUsed:
		return &FailureReply{
			Code:    "RHASH_ALREADY_USED",
			Message: "payment hash has already been used",
			Data:    countersData(outcome.Counters),
		}

	case ErrCodeDestinationPermFail:
		data := map[string]interface{}{
			"erring_index":   outcome.RoutingFailure.ErringIndex,
			"failcode":       outcome.RoutingFailure.Failcode.String(),
			"erring_node":    outcome.RoutingFailure.ErringNode.String(),
			"erring_channel": outcome.RoutingFailure.ErringChannel,
		}

		outcome.RoutingFailure.ChannelUpdate.WhenSome(func(cu []byte) {
			data["channel_update"] = cu
		})

		return &FailureReply{
			Code:    "DESTINATION_PERM_FAIL",
			Message: "destination reported a permanent failure",
			Data:    data,
		}

	default:
		classifierBug("report outcome with unrecognized error code")
		return nil
	}
}

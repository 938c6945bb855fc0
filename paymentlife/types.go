package paymentlife

import (
	"time"

	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/lightningnetwork/lnd/lntypes"
	"github.com/lightningnetwork/lnd/lnwire"
	"github.com/lightningnetwork/lnd/routing/route"
)

// fuzzStart is the initial route-fuzz factor applied to the first getroute
// request of a payment (spec §3).
const fuzzStart = 0.75

// fuzzStep is the amount fuzz is lowered by on each fee-too-high retry.
const fuzzStep = 0.15

// fuzzFloor is the point below which fuzz is considered exhausted and a
// fee-too-high route can no longer be retried (spec §4.1, §4.2).
const fuzzFloor = 0.01

// RouteHop is a single hop of a proposed route. The first hop's AmountMsat is
// the total amount the sender dispatches; later hops decrease by per-hop
// fees (spec §3).
type RouteHop struct {
	ChannelID   uint64
	NextNodeID  route.Vertex
	AmountMsat  lnwire.MilliSatoshi
	CLTVDelta   uint32
}

// Route is the ordered sequence of hops returned by the route collaborator
// for a single getroute attempt. An empty Route (no hops) signals that no
// path to the destination could be found.
type Route struct {
	Hops []RouteHop
}

// Empty reports whether the route carries no hops, i.e. the route
// collaborator could not find a path.
func (r Route) Empty() bool {
	return len(r.Hops) == 0
}

// FirstHopAmount is the amount, in millisatoshi, the sender must dispatch at
// the first hop, fees included. It is undefined (and should not be read) for
// an empty route.
func (r Route) FirstHopAmount() lnwire.MilliSatoshi {
	return r.Hops[0].AmountMsat
}

// ErrorCode enumerates the sendpay outcomes this orchestrator understands
// (spec §3 SendpayResult, §6).
type ErrorCode int

const (
	// ErrCodeNone indicates the sendpay succeeded; no error code applies.
	ErrCodeNone ErrorCode = iota

	// ErrCodeInProgress indicates another attempt for this payment hash
	// is already in flight at the send collaborator.
	ErrCodeInProgress

	// ErrCodeRHashAlreadyUsed indicates the payment preimage/hash has
	// already been used to settle a payment.
	ErrCodeRHashAlreadyUsed

	// ErrCodeUnparseableOnion indicates the onion reply could not be
	// decoded. Never expected as a terminal sendpay outcome; reaching the
	// classifier with this code is a programming error (spec §4.1).
	ErrCodeUnparseableOnion

	// ErrCodeDestinationPermFail indicates a permanent failure reported
	// by an intermediate or final hop.
	ErrCodeDestinationPermFail

	// ErrCodeTryOtherRoute indicates a transient routing failure; the
	// controller should retry, possibly after a delay (spec §4.1).
	ErrCodeTryOtherRoute
)

// String returns the wire error-code name used in failure replies (spec §6).
func (e ErrorCode) String() string {
	switch e {
	case ErrCodeInProgress:
		return "IN_PROGRESS"
	case ErrCodeRHashAlreadyUsed:
		return "RHASH_ALREADY_USED"
	case ErrCodeUnparseableOnion:
		return "UNPARSEABLE_ONION"
	case ErrCodeDestinationPermFail:
		return "DESTINATION_PERM_FAIL"
	case ErrCodeTryOtherRoute:
		return "TRY_OTHER_ROUTE"
	default:
		return "NONE"
	}
}

// Failcode enumerates the onion failcodes this core inspects to decide
// between an immediate and a delayed retry (spec §4.1).
type Failcode int

const (
	FailcodeUnknown Failcode = iota
	FailcodeExpiryTooFar
	FailcodeExpiryTooSoon
	FailcodeFinalExpiryTooSoon
)

// String returns a human-readable failcode name, used in failure replies.
func (f Failcode) String() string {
	switch f {
	case FailcodeExpiryTooFar:
		return "expiry_too_far"
	case FailcodeExpiryTooSoon:
		return "expiry_too_soon"
	case FailcodeFinalExpiryTooSoon:
		return "final_expiry_too_soon"
	default:
		return "unknown"
	}
}

// delayed reports whether this failcode warrants the 3-second block-height
// disagreement delay rather than an immediate retry.
func (f Failcode) delayed() bool {
	switch f {
	case FailcodeExpiryTooFar, FailcodeExpiryTooSoon,
		FailcodeFinalExpiryTooSoon:

		return true
	default:
		return false
	}
}

// RoutingFailure carries the onion-routing failure detail reported alongside
// a TRY_OTHER_ROUTE or DESTINATION_PERM_FAIL sendpay outcome (spec §3).
type RoutingFailure struct {
	ErringIndex   uint32
	Failcode      Failcode
	ErringNode    route.Vertex
	ErringChannel uint64
	ChannelUpdate fn.Option[[]byte]
}

// SendpayResult is the outcome reported by the payment-send collaborator for
// a single dispatched HTLC (spec §3).
type SendpayResult struct {
	Succeeded bool

	// Preimage is set only when Succeeded is true.
	Preimage lntypes.Preimage

	// ErrorCode, RoutingFailure and Details are set only when Succeeded
	// is false. RoutingFailure is the zero value when the error code
	// carries no routing-failure detail.
	ErrorCode      ErrorCode
	RoutingFailure RoutingFailure
	Details        string
}

// PaymentParams are the caller-supplied, invariant parameters of a payment
// command, validated once at command entry (spec §6, §7 stratum 1).
type PaymentParams struct {
	PaymentHash        lntypes.Hash
	ReceiverID         route.Vertex
	Expiry             time.Time
	MinFinalCLTVExpiry uint32
	Msatoshi           lnwire.MilliSatoshi
	RiskFactorScaled   uint32
	MaxFeePercent      float64
}

// PaymentContext is the mutable, per-command state described in spec §3. It
// lives from command receipt to the single terminal reply.
type PaymentContext struct {
	Params PaymentParams

	GetrouteTries uint64
	SendpayTries  uint64
	Fuzz          float64

	arena *attemptArena
}

// newPaymentContext constructs a PaymentContext with the starting counters
// and fuzz mandated by spec §3.
func newPaymentContext(params PaymentParams) *PaymentContext {
	return &PaymentContext{
		Params: params,
		Fuzz:   fuzzStart,
	}
}

// lowerFuzz applies the fee-too-high fuzz step, clamped to zero, and
// reports the new value. Strictly decreasing until clamped (spec §3, §8).
func (pc *PaymentContext) lowerFuzz() float64 {
	next := pc.Fuzz - fuzzStep
	if next < 0 {
		next = 0
	}

	pc.Fuzz = next

	return pc.Fuzz
}

package paymentlife

import (
	"encoding/binary"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/lightningnetwork/lnd/lntypes"
	"github.com/lightningnetwork/lnd/routing/route"
)

// RouteRequest carries the fields sent to the gossip collaborator for a
// single getroute call (spec §4.5).
type RouteRequest struct {
	SenderID           route.Vertex
	ReceiverID         route.Vertex
	AmountMsat         uint64
	RiskFactorScaled   uint32
	MinFinalCLTVExpiry uint32
	Fuzz               float64
	Seed               uint64
}

// SendRequest carries the fields needed to dispatch a payment along a
// resolved route (spec §4.5).
type SendRequest struct {
	PaymentHash lntypes.Hash
	Route       Route
}

// RouteReplyFunc is the continuation invoked exactly once with the gossip
// collaborator's reply to a RouteRequest. Implementations of RouteSource
// must guarantee exactly-once delivery.
type RouteReplyFunc func(Route, error)

// SendReplyFunc is the continuation invoked exactly once with the result of
// a dispatched payment. Implementations of PaySender must guarantee
// exactly-once delivery.
type SendReplyFunc func(SendpayResult, error)

// RouteSource abstracts the gossip/routing collaborator described in spec
// §1 and §6 as an external component: given a request it eventually invokes
// the supplied continuation with a (possibly empty) route.
//
// This is deliberately the narrowest interface the controller needs, in the
// spirit of the teacher's own derived interfaces (payments.dBMPPayment).
type RouteSource interface {
	GetRoute(req RouteRequest, reply RouteReplyFunc)
}

// PaySender abstracts the payment-send subsystem described in spec §1 and
// §6: given a resolved route it eventually invokes the supplied
// continuation with the sendpay outcome.
type PaySender interface {
	SendPayment(req SendRequest, reply SendReplyFunc)
}

// randomSeed generates a fresh 64-bit random seed for a single getroute
// request, so that fuzzing is unpredictable per attempt (spec §4.5). It
// draws its entropy from a freshly generated secp256k1 session key, the same
// entropy source lnd's own sphinx session keys use, rather than
// reading crypto/rand directly.
func randomSeed() (uint64, error) {
	priv, err := btcec.NewPrivateKey()
	if err != nil {
		return 0, err
	}

	b := priv.Serialize()

	return binary.BigEndian.Uint64(b[:8]), nil
}

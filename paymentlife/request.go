package paymentlife

import (
	"fmt"
	"time"

	"github.com/lightningnetwork/lnd/lntypes"
	"github.com/lightningnetwork/lnd/lnwire"
	"github.com/lightningnetwork/lnd/routing/route"
)

// defaultRiskFactor is applied when the pay command omits riskfactor (spec
// §6).
const defaultRiskFactor = 1.0

// defaultMaxFeePercent is applied when the pay command omits maxfeepercent
// (spec §6).
const defaultMaxFeePercent = 0.5

// PayCommand is the raw "pay" command input (spec §6). Bolt11 decoding
// itself is delegated to an external collaborator (spec §1); this struct
// carries only what the orchestrator's own validation stratum inspects.
type PayCommand struct {
	Bolt11 string

	// Msatoshi is set only when the caller supplied one.
	Msatoshi    *lnwire.MilliSatoshi
	Description string

	// RiskFactor is a pointer so we can distinguish "omitted" (apply
	// defaultRiskFactor) from an explicit zero.
	RiskFactor *float64

	// MaxFeePercent is a pointer for the same reason as RiskFactor.
	MaxFeePercent *float64
}

// DecodedInvoice is the subset of a decoded BOLT11 invoice this core's
// validation stratum needs. Decoding the invoice text itself is delegated
// to an external collaborator (spec §1, §6).
type DecodedInvoice struct {
	PaymentHash        lntypes.Hash
	ReceiverID         route.Vertex
	Expiry             time.Time
	MinFinalCLTVExpiry uint32

	// MsatAmount is nil when the invoice itself carries no amount, in
	// which case the pay command must supply one.
	MsatAmount *lnwire.MilliSatoshi

	// HasDescriptionHash is true when the invoice commits to a
	// description hash rather than embedding the description text, in
	// which case the pay command must supply the description (spec §6).
	HasDescriptionHash bool
}

// ValidateRequest performs spec §7 stratum 1 input validation: it never
// constructs a PaymentContext on failure, returning a descriptive error
// instead (wrapped in ErrInvalidInvoice so callers can match on it with
// errors.Is).
func ValidateRequest(cmd PayCommand, invoice DecodedInvoice) (PaymentParams, error) {
	amountGiven := invoice.MsatAmount != nil

	var amount lnwire.MilliSatoshi

	switch {
	case amountGiven && cmd.Msatoshi != nil:
		return PaymentParams{}, fmt.Errorf(
			"%w: msatoshi must not be specified, the invoice "+
				"already carries an amount", ErrInvalidInvoice,
		)

	case amountGiven:
		amount = *invoice.MsatAmount

	case cmd.Msatoshi != nil:
		amount = *cmd.Msatoshi

	default:
		return PaymentParams{}, fmt.Errorf(
			"%w: msatoshi is required, the invoice carries no "+
				"amount", ErrInvalidInvoice,
		)
	}

	if amount == 0 {
		return PaymentParams{}, fmt.Errorf(
			"%w: msatoshi must be non-zero", ErrInvalidInvoice,
		)
	}

	if uint64(amount) > (1<<32)-1 {
		return PaymentParams{}, fmt.Errorf(
			"%w: msatoshi exceeds the maximum of 2^32-1",
			ErrInvalidInvoice,
		)
	}

	if invoice.HasDescriptionHash && cmd.Description == "" {
		return PaymentParams{}, fmt.Errorf(
			"%w: description is required, the invoice commits "+
				"to a description hash", ErrInvalidInvoice,
		)
	}

	riskFactor := defaultRiskFactor
	if cmd.RiskFactor != nil {
		riskFactor = *cmd.RiskFactor
	}

	maxFeePercent := defaultMaxFeePercent
	if cmd.MaxFeePercent != nil {
		maxFeePercent = *cmd.MaxFeePercent
	}

	if maxFeePercent < 0.0 || maxFeePercent > 100.0 {
		return PaymentParams{}, fmt.Errorf(
			"%w: maxfeepercent must be within [0.0, 100.0], got %v",
			ErrInvalidInvoice, maxFeePercent,
		)
	}

	return PaymentParams{
		PaymentHash:        invoice.PaymentHash,
		ReceiverID:         invoice.ReceiverID,
		Expiry:             invoice.Expiry,
		MinFinalCLTVExpiry: invoice.MinFinalCLTVExpiry,
		Msatoshi:           amount,
		RiskFactorScaled:   uint32(riskFactor * 1000),
		MaxFeePercent:      maxFeePercent,
	}, nil
}

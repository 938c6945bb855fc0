package paymentlife

import (
	"sync"
	"time"

	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/routing/route"
)

// state is the Retry Controller's state machine position (spec §4.1).
type state byte

const (
	stateIdle state = iota
	stateAwaitingRoute
	stateAwaitingSend
	stateDelayed
	stateDone
)

// TerminalFunc is invoked exactly once per Controller with the final reply,
// either from inside Start (a payment that fails validation synchronously,
// e.g. an already-expired invoice) or later, re-entering whenever the
// RouteSource/PaySender/clock deliver their replies (spec §5).
type TerminalFunc func(Reply)

// Controller is the Retry Controller described in spec §4.1: it holds the
// invariant payment parameters and the mutable per-attempt counters and
// fuzz, and drives transitions between Idle, AwaitingRoute, AwaitingSend,
// Delayed and Done.
//
// Controller never holds its own lock while calling out to RouteSource,
// PaySender or the terminal callback — a collaborator is free to invoke its
// reply continuation synchronously, from the same call stack, and holding
// the lock across that call would deadlock against the reply's own
// locking. Every exported entry point and every reply continuation instead
// takes the lock for the short, in-process span where PaymentContext
// fields are actually read or mutated.
//
// A Controller is single-use: once it reaches Done (terminal reply or
// cancellation) it must be discarded.
type Controller struct {
	mu sync.Mutex

	pc     *PaymentContext
	selfID route.Vertex

	routes RouteSource
	sender PaySender
	clk    clock.Clock

	retryDelay time.Duration

	state      state
	onTerminal TerminalFunc

	terminalFired bool
	canceled      bool
}

// NewController constructs a Controller for a single payment command. Call
// Start to begin the attempt loop; onTerminal fires exactly once, unless the
// payment is canceled first (spec §3 "Terminal reply is emitted exactly
// once", §5 Cancellation).
func NewController(
	params PaymentParams, selfID route.Vertex, routes RouteSource,
	sender PaySender, clk clock.Clock, retryDelay time.Duration,
	onTerminal TerminalFunc) *Controller {

	return &Controller{
		pc:         newPaymentContext(params),
		selfID:     selfID,
		routes:     routes,
		sender:     sender,
		clk:        clk,
		retryDelay: retryDelay,
		state:      stateIdle,
		onTerminal: onTerminal,
	}
}

// Start begins the attempt loop (spec §4.1 "Idle → AwaitingRoute"). It may
// invoke the terminal callback synchronously, before returning, if the
// invoice is already expired.
func (c *Controller) Start() {
	c.enterAwaitingRoute(false)
}

// Cancel frees the Payment Context, which transitively releases the current
// Attempt Arena and detaches any pending-reply callback so that a late
// reply is dropped rather than dereferencing canceled state. No terminal
// reply is emitted after cancellation (spec §5 Cancellation).
func (c *Controller) Cancel() {
	c.mu.Lock()
	if c.terminalFired || c.canceled {
		c.mu.Unlock()
		return
	}

	c.canceled = true
	c.state = stateDone
	arena := c.pc.arena
	c.mu.Unlock()

	if arena != nil {
		arena.release()
	}
}

// counters snapshots the payment context's attempt counters as of the
// current callback (spec §5 Ordering guarantees).
func (c *Controller) counters() AttemptCounters {
	c.mu.Lock()
	defer c.mu.Unlock()

	return AttemptCounters{
		GetrouteTries: c.pc.GetrouteTries,
		SendpayTries:  c.pc.SendpayTries,
	}
}

// enterAwaitingRoute transitions into AwaitingRoute and emits a route
// request. skipArenaReset is true only for the single exception called out
// in spec §4.4: retrying immediately from AwaitingSend after a generic
// TRY_OTHER_ROUTE failure does not release and recreate the arena.
func (c *Controller) enterAwaitingRoute(skipArenaReset bool) {
	c.mu.Lock()

	if c.terminalFired || c.canceled {
		c.mu.Unlock()
		return
	}

	now := c.clk.Now()
	if !now.Before(c.pc.Params.Expiry) {
		expiry := c.pc.Params.Expiry
		counters := AttemptCounters{
			GetrouteTries: c.pc.GetrouteTries,
			SendpayTries:  c.pc.SendpayTries,
		}
		c.mu.Unlock()

		c.finish(Reply{
			Failure: buildExpiredFailure(now, expiry, counters),
		})

		return
	}

	if !skipArenaReset || c.pc.arena == nil {
		prev := c.pc.arena
		if prev != nil {
			prev.release()
		}

		c.pc.arena = newAttemptArena(prev)
	}

	c.state = stateAwaitingRoute
	c.pc.GetrouteTries++

	req := RouteRequest{
		SenderID:           c.selfID,
		ReceiverID:         c.pc.Params.ReceiverID,
		AmountMsat:         uint64(c.pc.Params.Msatoshi),
		RiskFactorScaled:   c.pc.Params.RiskFactorScaled,
		MinFinalCLTVExpiry: c.pc.Params.MinFinalCLTVExpiry,
		Fuzz:               c.pc.Fuzz,
	}

	handle := c.pc.arena.handle()
	c.mu.Unlock()

	seed, err := randomSeed()
	if err != nil {
		log.Warnf("paymentlife: failed to generate fuzz seed, "+
			"falling back to 0: %v", err)
	}
	req.Seed = seed

	c.routes.GetRoute(req, func(rt Route, err error) {
		if !handle.live() {
			return
		}

		c.onRouteReply(rt, err)
	})
}

// onRouteReply handles a getroute reply: empty route, fee evaluation, or a
// dispatch into AwaitingSend (spec §4.1, §4.2).
func (c *Controller) onRouteReply(rt Route, err error) {
	if err != nil {
		c.finish(Reply{Failure: buildInternalFailure(err, c.counters())})
		return
	}

	if rt.Empty() {
		c.finish(Reply{Failure: buildRouteNotFoundFailure(c.counters())})
		return
	}

	c.mu.Lock()
	msat := c.pc.Params.Msatoshi
	maxFeePercent := c.pc.Params.MaxFeePercent
	fuzz := c.pc.Fuzz
	c.mu.Unlock()

	eval := EvaluateFee(rt, msat, maxFeePercent, fuzz)

	switch eval.Verdict {
	case VerdictRejectFatal:
		c.mu.Lock()
		params := c.pc.Params
		counters := AttemptCounters{
			GetrouteTries: c.pc.GetrouteTries,
			SendpayTries:  c.pc.SendpayTries,
		}
		c.mu.Unlock()

		c.finish(Reply{Failure: buildRouteTooExpensiveFailure(
			eval, params, counters,
		)})

	case VerdictRejectRetry:
		c.mu.Lock()
		c.pc.lowerFuzz()
		c.mu.Unlock()

		c.enterAwaitingRoute(false)

	default: // VerdictAccept
		c.enterAwaitingSend(rt)
	}
}

// enterAwaitingSend transitions into AwaitingSend and dispatches the
// payment (spec §4.1).
func (c *Controller) enterAwaitingSend(rt Route) {
	c.mu.Lock()
	c.state = stateAwaitingSend
	c.pc.SendpayTries++
	hash := c.pc.Params.PaymentHash
	handle := c.pc.arena.handle()
	c.mu.Unlock()

	req := SendRequest{
		PaymentHash: hash,
		Route:       rt,
	}

	c.sender.SendPayment(req, func(result SendpayResult, err error) {
		if !handle.live() {
			return
		}

		c.onSendReply(result, err)
	})
}

// onSendReply handles a sendpay reply by running it through the Error
// Classifier and acting on the resulting outcome (spec §4.1, §4.3).
func (c *Controller) onSendReply(result SendpayResult, err error) {
	if err != nil {
		c.finish(Reply{Failure: buildInternalFailure(err, c.counters())})
		return
	}

	outcome := Classify(result, c.counters())

	switch outcome.Kind {
	case OutcomeSuccess:
		c.finish(Reply{Success: buildSuccessReply(
			outcome.Preimage, c.counters(),
		)})

	case OutcomeReport:
		c.finish(Reply{Failure: buildReportFailure(outcome)})

	case OutcomeRetryImmediate:
		// The one exception to arena release-on-entry (spec §4.4).
		c.enterAwaitingRoute(true)

	case OutcomeRetryDelayed:
		c.mu.Lock()
		c.state = stateDelayed
		c.mu.Unlock()

		c.scheduleDelayedRetry()
	}
}

// scheduleDelayedRetry sleeps for the configured retry delay (3s by
// default, spec §4.1, §9) before re-entering AwaitingRoute. The timer is
// attached to the current arena via onRelease: if the arena is released
// before it fires — because the payment was canceled, or a later attempt
// already superseded this one — the wait is torn down instead of firing
// (spec §4.4).
func (c *Controller) scheduleDelayedRetry() {
	c.mu.Lock()
	arena := c.pc.arena
	handle := arena.handle()
	c.mu.Unlock()

	stop := make(chan struct{})
	arena.onRelease(func() { close(stop) })

	ch := c.clk.TickAfter(c.retryDelay)

	go func() {
		select {
		case <-stop:
			return
		case <-ch:
		}

		if !handle.live() {
			return
		}

		c.enterAwaitingRoute(false)
	}()
}

// finish transitions to Done and invokes the terminal callback exactly
// once (spec §3, §8).
func (c *Controller) finish(reply Reply) {
	c.mu.Lock()
	if c.terminalFired || c.canceled {
		c.mu.Unlock()
		return
	}

	c.terminalFired = true
	c.state = stateDone
	arena := c.pc.arena
	c.mu.Unlock()

	if arena != nil {
		arena.release()
	}

	c.onTerminal(reply)
}

package paymentlife

import (
	"testing"
	"time"

	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/lightningnetwork/lnd/lntypes"
	"github.com/lightningnetwork/lnd/lnwire"
	"github.com/lightningnetwork/lnd/routing/route"
	"github.com/stretchr/testify/require"
)

// scriptedRoute is one canned reply a fakeRouteSource hands back in order.
type scriptedRoute struct {
	route Route
	err   error
}

// fakeRouteSource replays a scripted sequence of getroute replies
// synchronously, recording how many times it was called.
type fakeRouteSource struct {
	replies []scriptedRoute
	calls   int

	// onCall, if set, runs synchronously before the reply is delivered
	// so a test can mutate shared state (e.g. advance a TestClock)
	// exactly at the point the collaborator "would" reply.
	onCall func(call int)
}

func (f *fakeRouteSource) GetRoute(_ RouteRequest, reply RouteReplyFunc) {
	call := f.calls
	f.calls++

	if f.onCall != nil {
		f.onCall(call)
	}

	r := f.replies[call]
	reply(r.route, r.err)
}

// scriptedSend is one canned reply a fakePaySender hands back in order.
type scriptedSend struct {
	result SendpayResult
	err    error
}

type fakePaySender struct {
	replies []scriptedSend
	calls   int
	onCall  func(call int)
}

func (f *fakePaySender) SendPayment(_ SendRequest, reply SendReplyFunc) {
	call := f.calls
	f.calls++

	if f.onCall != nil {
		f.onCall(call)
	}

	r := f.replies[call]
	reply(r.result, r.err)
}

func twoHopRoute(firstHopMsat lnwire.MilliSatoshi) Route {
	return Route{Hops: []RouteHop{
		{ChannelID: 1, AmountMsat: firstHopMsat, CLTVDelta: 40},
		{ChannelID: 2, AmountMsat: firstHopMsat - 5, CLTVDelta: 40},
	}}
}

func testParams(msat lnwire.MilliSatoshi, maxFeePercent float64, expiry time.Time) PaymentParams {
	return PaymentParams{
		PaymentHash:        lntypes.Hash{0x01},
		Expiry:             expiry,
		MinFinalCLTVExpiry: 18,
		Msatoshi:           msat,
		RiskFactorScaled:   1000,
		MaxFeePercent:      maxFeePercent,
	}
}

func runController(
	t *testing.T, params PaymentParams, routes RouteSource,
	sender PaySender, clk clock.Clock) Reply {

	t.Helper()

	var got *Reply
	ctrl := NewController(
		params, route.Vertex{}, routes, sender, clk,
		3*time.Second, func(r Reply) { got = &r },
	)
	ctrl.Start()

	require.NotNil(t, got, "expected a terminal reply")

	return *got
}

// TestHappyPath covers spec.md §8 scenario 1.
func TestHappyPath(t *testing.T) {
	now := time.Now()
	clk := clock.NewTestClock(now)

	routes := &fakeRouteSource{replies: []scriptedRoute{
		{route: twoHopRoute(10040)},
	}}

	var preimage lntypes.Preimage
	for i := range preimage {
		preimage[i] = 0x11
	}

	sender := &fakePaySender{replies: []scriptedSend{
		{result: SendpayResult{Succeeded: true, Preimage: preimage}},
	}}

	params := testParams(10000, 0.5, now.Add(time.Hour))
	reply := runController(t, params, routes, sender, clk)

	require.NotNil(t, reply.Success)
	require.Nil(t, reply.Failure)
	require.Equal(t, uint64(1), reply.Success.GetrouteTries)
	require.Equal(t, uint64(1), reply.Success.SendpayTries)

	wantHex := ""
	for i := 0; i < 32; i++ {
		wantHex += "11"
	}
	require.Equal(t, wantHex, reply.Success.PaymentPreimage)
}

// TestFeeTooHighThenSucceeds covers spec.md §8 scenario 2.
func TestFeeTooHighThenSucceeds(t *testing.T) {
	now := time.Now()
	clk := clock.NewTestClock(now)

	routes := &fakeRouteSource{replies: []scriptedRoute{
		{route: twoHopRoute(10100)}, // fee 100 = 1.0%
		{route: twoHopRoute(10030)}, // fee 30 = 0.3%
	}}

	var preimage lntypes.Preimage
	sender := &fakePaySender{replies: []scriptedSend{
		{result: SendpayResult{Succeeded: true, Preimage: preimage}},
	}}

	params := testParams(10000, 0.5, now.Add(time.Hour))

	var fuzzAfterFirstRetry float64
	ctrl := NewController(
		params, route.Vertex{}, routes, sender, clk, 3*time.Second,
		func(Reply) {},
	)
	routes.onCall = func(call int) {
		if call == 1 {
			fuzzAfterFirstRetry = ctrl.pc.Fuzz
		}
	}

	var got *Reply
	ctrl.onTerminal = func(r Reply) { got = &r }
	ctrl.Start()

	require.NotNil(t, got)
	require.NotNil(t, got.Success)
	require.Equal(t, uint64(2), got.Success.GetrouteTries)
	require.Equal(t, uint64(1), got.Success.SendpayTries)
	require.InDelta(t, 0.60, fuzzAfterFirstRetry, 1e-9)
}

// TestFeeTooHighFuzzExhausted covers spec.md §8 scenario 3.
func TestFeeTooHighFuzzExhausted(t *testing.T) {
	now := time.Now()
	clk := clock.NewTestClock(now)

	var replies []scriptedRoute
	for i := 0; i < 6; i++ {
		replies = append(replies, scriptedRoute{route: twoHopRoute(10100)})
	}

	routes := &fakeRouteSource{replies: replies}
	sender := &fakePaySender{}

	params := testParams(10000, 0.5, now.Add(time.Hour))
	reply := runController(t, params, routes, sender, clk)

	require.Nil(t, reply.Success)
	require.NotNil(t, reply.Failure)
	require.Equal(t, "ROUTE_TOO_EXPENSIVE", reply.Failure.Code)
	require.Equal(t, uint64(100), reply.Failure.Data["fee"])
	require.InDelta(t, 1.0, reply.Failure.Data["feepercent"].(float64), 1e-9)
	require.Equal(t, uint64(10000), reply.Failure.Data["msatoshi"])
	require.InDelta(t, 0.5, reply.Failure.Data["maxfeepercent"].(float64), 1e-9)
	require.Equal(t, uint64(6), reply.Failure.Data["getroute_tries"])
	require.Equal(t, uint64(0), reply.Failure.Data["sendpay_tries"])
	require.Equal(t, 6, routes.calls)
	require.Equal(t, 0, sender.calls)
}

// TestTransientBlockHeightDisagreement covers spec.md §8 scenario 4: the
// getroute for the second attempt must not begin until at least 3s of
// virtual time have passed after the first send reply.
func TestTransientBlockHeightDisagreement(t *testing.T) {
	now := time.Now()
	clk := clock.NewTestClock(now)

	routes := &fakeRouteSource{replies: []scriptedRoute{
		{route: twoHopRoute(10040)},
		{route: twoHopRoute(10040)},
	}}

	var preimage lntypes.Preimage
	var secondGetrouteAt time.Time

	routes.onCall = func(call int) {
		if call == 1 {
			secondGetrouteAt = clk.Now()
		}
	}

	var firstSendAt time.Time
	sender := &fakePaySender{replies: []scriptedSend{
		{result: SendpayResult{
			ErrorCode: ErrCodeTryOtherRoute,
			RoutingFailure: RoutingFailure{
				Failcode: FailcodeFinalExpiryTooSoon,
			},
		}},
		{result: SendpayResult{Succeeded: true, Preimage: preimage}},
	}}
	sender.onCall = func(call int) {
		if call == 0 {
			firstSendAt = clk.Now()
		}
	}

	params := testParams(10000, 0.5, now.Add(time.Hour))

	done := make(chan Reply, 1)
	ctrl := NewController(
		params, route.Vertex{}, routes, sender, clk, 3*time.Second,
		func(r Reply) { done <- r },
	)
	ctrl.Start()

	// The controller is now sleeping in Delayed state. Advance the
	// virtual clock to fire the timer.
	clk.SetTime(now.Add(3 * time.Second))

	var got Reply
	select {
	case got = <-done:
	case <-time.After(time.Second):
		t.Fatal("terminal reply never arrived after advancing the clock")
	}

	require.NotNil(t, got.Success)
	require.Equal(t, uint64(2), got.Success.GetrouteTries)
	require.Equal(t, uint64(1), got.Success.SendpayTries)
	require.False(t, secondGetrouteAt.Before(firstSendAt.Add(3*time.Second)))
}

// TestPermanentDestinationFailure covers spec.md §8 scenario 5.
func TestPermanentDestinationFailure(t *testing.T) {
	now := time.Now()
	clk := clock.NewTestClock(now)

	routes := &fakeRouteSource{replies: []scriptedRoute{
		{route: twoHopRoute(10040)},
	}}

	channelUpdate := []byte{0xde, 0xad, 0xbe, 0xef}
	sender := &fakePaySender{replies: []scriptedSend{
		{result: SendpayResult{
			ErrorCode: ErrCodeDestinationPermFail,
			RoutingFailure: RoutingFailure{
				ErringIndex:   2,
				Failcode:      FailcodeExpiryTooSoon,
				ErringChannel: 42,
				ChannelUpdate: fn.Some(channelUpdate),
			},
		}},
	}}

	params := testParams(10000, 0.5, now.Add(time.Hour))
	reply := runController(t, params, routes, sender, clk)

	require.NotNil(t, reply.Failure)
	require.Equal(t, "DESTINATION_PERM_FAIL", reply.Failure.Code)
	require.Equal(t, uint32(2), reply.Failure.Data["erring_index"])
	require.Equal(t, uint64(42), reply.Failure.Data["erring_channel"])
	require.Equal(t, channelUpdate, reply.Failure.Data["channel_update"])
}

// TestExpiryDuringRetry covers spec.md §8 scenario 6: the clock crosses the
// invoice's expiry between the first send failure and the retried getroute.
func TestExpiryDuringRetry(t *testing.T) {
	now := time.Now()
	expiry := now.Add(5 * time.Second)
	clk := clock.NewTestClock(now)

	routes := &fakeRouteSource{replies: []scriptedRoute{
		{route: twoHopRoute(10040)},
	}}

	sender := &fakePaySender{replies: []scriptedSend{
		{result: SendpayResult{
			ErrorCode: ErrCodeTryOtherRoute,
			RoutingFailure: RoutingFailure{
				Failcode: FailcodeUnknown,
			},
		}},
	}}
	sender.onCall = func(call int) {
		if call == 0 {
			// Advance the clock past expiry before the immediate
			// retry's expiry check runs.
			clk.SetTime(expiry.Add(time.Second))
		}
	}

	params := testParams(10000, 0.5, expiry)
	reply := runController(t, params, routes, sender, clk)

	require.NotNil(t, reply.Failure)
	require.Equal(t, "INVOICE_EXPIRED", reply.Failure.Code)
}

// TestCancelSuppressesTerminalReply covers spec.md §8's cancellation
// property: zero terminal replies once Cancel preempts completion.
func TestCancelSuppressesTerminalReply(t *testing.T) {
	now := time.Now()
	clk := clock.NewTestClock(now)

	routes := &fakeRouteSource{replies: []scriptedRoute{
		{route: twoHopRoute(10040)},
	}}
	sender := &fakePaySender{}

	fired := false
	params := testParams(10000, 0.5, now.Add(time.Hour))

	routes.onCall = func(int) {}

	ctrl := NewController(
		params, route.Vertex{}, routes, sender, clk, 3*time.Second,
		func(Reply) { fired = true },
	)

	// Cancel before Start so no getroute is ever dispatched.
	ctrl.Cancel()
	ctrl.Start()

	require.False(t, fired)
	require.Equal(t, 0, routes.calls)
}

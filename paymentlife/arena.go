package paymentlife

import "sync"

// attemptArena is a scoped ownership region, re-created for every attempt
// (spec §4.4). All per-attempt allocations — the outstanding route request,
// the route reply, and any timer scheduled for this attempt — are attached
// here so that releasing the arena at the attempt boundary releases them
// atomically, guaranteeing no cross-attempt leakage.
//
// Go's garbage collector reclaims memory on its own; what attemptArena
// actually buys us is *invalidation*: a generation counter that lets
// in-flight callbacks recognize they belong to a superseded attempt (or a
// canceled payment) and drop their reply instead of acting on stale state.
// This mirrors the generation/sequence-number guard channeldb's payment
// store uses to detect superseded payment sequence numbers.
type attemptArena struct {
	mu sync.Mutex

	generation uint64
	live       bool
	cleanups   []func()
}

// newAttemptArena creates a fresh arena for the next attempt, superseding
// any prior arena. The generation counter continues from the previous
// arena's (0 if there was none). It does not release prev; the caller does,
// and handles taken from a released arena report not live.
func newAttemptArena(prev *attemptArena) *attemptArena {
	var gen uint64
	if prev != nil {
		gen = prev.generation + 1
	}

	return &attemptArena{
		generation: gen,
		live:       true,
	}
}

// onRelease registers a cleanup function to run when this arena is released,
// either because the attempt completed and a new arena replaced it, or
// because the owning payment context was canceled. Used to cancel the
// 3-second retry timer and detach its callback (spec §4.4, §5 Cancellation).
func (a *attemptArena) onRelease(fn func()) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.live {
		fn()
		return
	}

	a.cleanups = append(a.cleanups, fn)
}

// handle returns a liveness-checkable token that outstanding requests embed
// instead of a direct back-pointer to the arena or its owning controller
// (spec §9's "weak handle" guidance). Replying through a stale handle is a
// no-op.
func (a *attemptArena) handle() attemptHandle {
	return attemptHandle{arena: a, generation: a.generation}
}

// release runs and clears all registered cleanups and marks the arena dead.
// Idempotent: releasing an already-released arena is a no-op.
func (a *attemptArena) release() {
	a.mu.Lock()
	cleanups := a.cleanups
	a.cleanups = nil
	a.live = false
	a.mu.Unlock()

	for _, fn := range cleanups {
		fn()
	}
}

// attemptHandle is a weak reference to an attemptArena. Request/reply glue
// code resolves it before invoking a continuation; if the arena has been
// released or superseded, the handle is dead and the reply must be dropped
// (spec §5 Cancellation, §9).
type attemptHandle struct {
	arena      *attemptArena
	generation uint64
}

// live reports whether the arena this handle refers to is still the current
// one for its owning payment context.
func (h attemptHandle) live() bool {
	h.arena.mu.Lock()
	defer h.arena.mu.Unlock()

	return h.arena.live && h.arena.generation == h.generation
}

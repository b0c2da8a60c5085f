package mxlink

import (
	"math"
	"sync"
	"time"
)

// Events is a set of link events as a bitfield. Producers post events
// from arbitrary goroutines; bit arithmetic stays inside this file.
//
//	ev := EvLinkUp | EvIPChange
type Events uint32

const (
	// EvReady signals the IP stack finished initializing.
	EvReady Events = 1 << iota
	// EvIPChange signals the interface address changed.
	EvIPChange
	// EvInterfaceUp and EvInterfaceDown signal administrative interface state.
	EvInterfaceUp
	EvInterfaceDown
	// EvLinkUp and EvLinkDown signal physical/association link state.
	EvLinkUp
	EvLinkDown
	// EvStatusUpdate signals the module driver reported a new Status.
	EvStatusUpdate
	// EvReconnectRequest asks the run loop to drop and redo the association.
	EvReconnectRequest

	evAll Events = 1<<iota - 1
)

// Has reports whether every bit of mask is set in e.
func (e Events) Has(mask Events) bool { return e&mask == mask }

// waitForever is accepted by EventWord waits and the Driver timeout
// arguments in place of a bounded timeout.
const waitForever = time.Duration(math.MaxInt64)

// EventWord accumulates event bits for exactly one consumer. Multiple
// producers may Post concurrently and never block; a bit posted twice
// before consumption collapses to a single delivery. Bits that arrive
// while the consumer waits on a different set are re-posted on return
// so a later wait still observes them.
type EventWord struct {
	mu      sync.Mutex
	pending Events
	wake    chan struct{}
}

func NewEventWord() *EventWord {
	return &EventWord{wake: make(chan struct{}, 1)}
}

// Post merges ev into the pending set and wakes the consumer. Safe to
// call from any goroutine, including callbacks that must not block.
func (w *EventWord) Post(ev Events) {
	w.mu.Lock()
	w.pending |= ev
	w.mu.Unlock()
	select {
	case w.wake <- struct{}{}:
	default: // Consumer already has a pending wakeup.
	}
}

// take removes and returns the whole pending set.
func (w *EventWord) take() Events {
	w.mu.Lock()
	ev := w.pending
	w.pending = 0
	w.mu.Unlock()
	return ev
}

// Wait blocks until every bit of target has been delivered since the
// call began, or timeout elapses. Deliveries accumulate across
// producer posts and intermediate wakeups; the timeout is relative to
// the call start, not reset per wakeup. The result is the intersection
// of target and the accumulated bits: callers distinguish success
// (result == target) from a timeout (strict subset). Accumulated bits
// outside target are re-posted before returning.
func (w *EventWord) Wait(target Events, timeout time.Duration) Events {
	deadline := makeDeadline(timeout)
	acc := w.take()
	for !acc.Has(target) {
		if !w.block(deadline) {
			break
		}
		acc |= w.take()
	}
	w.repost(acc &^ target)
	return acc & target
}

// WaitAny blocks until at least one bit of mask is delivered or timeout
// elapses, returning the delivered bits within mask. It is the merge
// point for the run loop's event sources; accumulated bits outside
// mask are re-posted as in Wait.
func (w *EventWord) WaitAny(mask Events, timeout time.Duration) Events {
	deadline := makeDeadline(timeout)
	acc := w.take()
	for acc&mask == 0 {
		if !w.block(deadline) {
			break
		}
		acc |= w.take()
	}
	w.repost(acc &^ mask)
	return acc & mask
}

// makeDeadline converts a timeout into an absolute deadline. The zero
// time means no deadline; adding waitForever to the clock would overflow.
func makeDeadline(timeout time.Duration) time.Time {
	if timeout == waitForever {
		return time.Time{}
	}
	return time.Now().Add(timeout)
}

// block suspends the consumer until a wakeup or the deadline. Reports
// whether time remains.
func (w *EventWord) block(deadline time.Time) bool {
	if deadline.IsZero() {
		<-w.wake
		return true
	}
	remaining := time.Until(deadline)
	if remaining <= 0 {
		return false
	}
	timer := time.NewTimer(remaining)
	select {
	case <-w.wake:
		timer.Stop()
		return true
	case <-timer.C:
		return true // Final take still happens; next block call reports expiry.
	}
}

func (w *EventWord) repost(extra Events) {
	if extra != 0 {
		w.Post(extra)
	}
}

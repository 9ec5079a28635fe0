// Package stream turns a pipeline.Slot into a subscriber channel at a
// caller-chosen rate, dropping intermediate values rather than blocking
// the producer.
package stream

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/apexdata/pitwall/internal/pipeline"
)

// Rate selects how often a subscription emits relative to the source's
// native tick rate.
type Rate struct {
	// Native forwards the slot's latest value on each change the delivery
	// goroutine observes when true, ignoring Hz. Values published while
	// it is busy collapse to the newest one.
	Native bool
	// Hz is the maximum emission rate when Native is false. Subscribe
	// itself does not know the source's native rate; connection.Frames
	// and connection.RawFrames turn a Hz at or above it into Native.
	Hz float64
}

// Subscription is a live handle to a Subscribe call. Unsubscribe (or
// cancelling the context passed to Subscribe) stops delivery and closes
// the returned channel.
type Subscription struct {
	ID string

	cancel context.CancelFunc
}

// Unsubscribe stops the subscription's delivery goroutine and closes its
// channel.
func (s *Subscription) Unsubscribe() {
	s.cancel()
}

// bufSize is the per-subscriber channel depth. One slot's worth of
// buffering is enough: Subscribe always delivers the latest value, never
// a backlog, so a depth of 1 is sufficient to decouple the delivery
// goroutine from a momentarily slow reader.
const bufSize = 1

// Subscribe returns a channel of T values derived by applying apply to
// each S published on slot, at the cadence rate describes. isEnd reports
// whether a published value marks end-of-stream (telemetry frames use a
// nil sentinel for this; session trees have no such marker and should
// pass a function that always returns false, relying solely on the
// slot's Close). The channel and its delivery goroutine are torn down
// when ctx is cancelled or Subscription.Unsubscribe is called.
func Subscribe[S any, T any](
	ctx context.Context,
	slot *pipeline.Slot[S],
	rate Rate,
	apply func(S) (T, error),
	isEnd func(S) bool,
) (<-chan T, *Subscription) {
	ch := make(chan T, bufSize)
	subCtx, cancel := context.WithCancel(ctx)
	sub := &Subscription{ID: uuid.NewString(), cancel: cancel}

	if rate.Native || rate.Hz <= 0 {
		go runNative(subCtx, slot, apply, isEnd, ch)
	} else {
		go runThrottled(subCtx, slot, apply, isEnd, ch, rate.Hz)
	}

	return ch, sub
}

// runNative emits the slot's latest value each time Wait reports a
// change; several Sets between two wakeups yield one emission.
func runNative[S any, T any](
	ctx context.Context,
	slot *pipeline.Slot[S],
	apply func(S) (T, error),
	isEnd func(S) bool,
	ch chan<- T,
) {
	defer close(ch)

	_, version := slot.Get()
	for {
		val, newVersion, closed := slot.Wait(ctx, version)
		if ctx.Err() != nil {
			return
		}
		version = newVersion
		if closed || isEnd(val) {
			return
		}
		emit(ctx, apply, val, ch)
	}
}

// runThrottled implements the drop-intermediate throttle: a mutex-guarded
// "latest pending" value is overwritten as new slot values arrive between
// ticks, and only the value current at each tick boundary is emitted and
// then cleared (every value actually emitted preserves arrival order,
// even though values arriving between ticks are dropped).
func runThrottled[S any, T any](
	ctx context.Context,
	slot *pipeline.Slot[S],
	apply func(S) (T, error),
	isEnd func(S) bool,
	ch chan<- T,
	hz float64,
) {
	defer close(ch)

	var mu sync.Mutex
	var pending S
	var havePending bool

	done := make(chan struct{})
	defer close(done)
	slotDone := make(chan struct{})

	go func() {
		defer close(slotDone)
		_, version := slot.Get()
		for {
			val, newVersion, closed := slot.Wait(ctx, version)
			if ctx.Err() != nil || closed {
				return
			}
			version = newVersion
			mu.Lock()
			pending = val
			havePending = true
			mu.Unlock()
			select {
			case <-done:
				return
			default:
			}
		}
	}()

	ticker := time.NewTicker(time.Duration(float64(time.Second) / hz))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-slotDone:
			return
		case <-ticker.C:
			mu.Lock()
			val := pending
			ok := havePending
			havePending = false
			mu.Unlock()

			if !ok {
				continue
			}
			if isEnd(val) {
				return
			}
			if !emit(ctx, apply, val, ch) {
				return
			}
		}
	}
}

// emit decodes val via apply and performs a non-blocking send to ch. It
// returns false if ctx was cancelled while sending.
func emit[S any, T any](
	ctx context.Context,
	apply func(S) (T, error),
	val S,
	ch chan<- T,
) bool {
	out, err := apply(val)
	if err != nil {
		return true
	}
	select {
	case ch <- out:
		return true
	case <-ctx.Done():
		return false
	default:
		// Backpressured subscriber: drop this value rather than block
		// the delivery goroutine.
		return true
	}
}

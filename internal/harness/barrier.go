package harness

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// StartBarrier is a counting rendezvous that releases every waiter at
// once when the expected number of workers has arrived, or when the
// startup timeout elapses (guarding against a worker that died before
// registering). Release is a single channel close, so there is no
// missed-wakeup window.
type StartBarrier struct {
	expected int
	timeout  time.Duration

	arrived  atomic.Int32
	release  chan struct{}
	once     sync.Once
	timedOut atomic.Bool
	timer    *time.Timer
}

// NewStartBarrier creates a barrier for the given worker count. A
// non-positive timeout disables the startup guard.
func NewStartBarrier(expected int, timeout time.Duration) *StartBarrier {
	b := &StartBarrier{
		expected: expected,
		timeout:  timeout,
		release:  make(chan struct{}),
	}
	if expected <= 0 {
		b.releaseAll(false)
		return b
	}
	if timeout > 0 {
		b.timer = time.AfterFunc(timeout, func() {
			b.releaseAll(true)
		})
	}
	return b
}

// Arrive registers one worker and returns the release channel.
func (b *StartBarrier) Arrive() <-chan struct{} {
	if int(b.arrived.Add(1)) >= b.expected {
		b.releaseAll(false)
	}
	return b.release
}

// ArriveAndWait registers one worker and blocks until release or
// context cancellation.
func (b *StartBarrier) ArriveAndWait(ctx context.Context) error {
	ch := b.Arrive()
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done returns the release channel without registering an arrival.
// The coordinator observes it to log the release.
func (b *StartBarrier) Done() <-chan struct{} {
	return b.release
}

// Released reports whether the barrier has been released.
func (b *StartBarrier) Released() bool {
	select {
	case <-b.release:
		return true
	default:
		return false
	}
}

// TimedOut reports whether the release was forced by the startup
// timeout rather than full arrival.
func (b *StartBarrier) TimedOut() bool {
	return b.timedOut.Load()
}

// Arrived returns the registered arrival count.
func (b *StartBarrier) Arrived() int {
	return int(b.arrived.Load())
}

// Expected returns the arrival count required for release.
func (b *StartBarrier) Expected() int {
	return b.expected
}

func (b *StartBarrier) releaseAll(timedOut bool) {
	b.once.Do(func() {
		if timedOut {
			b.timedOut.Store(true)
		}
		if b.timer != nil {
			b.timer.Stop()
		}
		close(b.release)
	})
}

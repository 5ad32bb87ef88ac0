package realtime

import (
	"sync"
	"time"

	"github.com/mvoronin/pulsechat/internal/errors"
)

const (
	// reconnectBase is the delay before the first retry.
	reconnectBase = time.Second

	// reconnectCeiling caps the exponential backoff.
	reconnectCeiling = 30 * time.Second

	// maxReconnectAttempts is how many consecutive retries are made
	// before giving up.
	maxReconnectAttempts = 5
)

// reconnector owns the retry timer and attempt budget. At most one
// timer is pending at a time; a successful open resets the budget and a
// deliberate close cancels retries for good.
type reconnector struct {
	mu          sync.Mutex
	base        time.Duration
	ceiling     time.Duration
	maxAttempts int
	attempts    int
	timer       *time.Timer
	cancelled   bool
}

func newReconnector() *reconnector {
	return &reconnector{
		base:        reconnectBase,
		ceiling:     reconnectCeiling,
		maxAttempts: maxReconnectAttempts,
	}
}

// Schedule arms the retry timer. A timer already pending makes this a
// no-op, so overlapping drop signals cannot double-schedule. Returns
// ErrSessionClosed after Cancel and ErrRetriesExhausted once the
// attempt budget is spent.
func (r *reconnector) Schedule(fire func()) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cancelled {
		return errors.ErrSessionClosed
	}

	if r.timer != nil {
		return nil
	}

	if r.attempts >= r.maxAttempts {
		return errors.ErrRetriesExhausted
	}

	delay := r.delayLocked()
	r.attempts++

	r.timer = time.AfterFunc(delay, func() {
		r.mu.Lock()
		r.timer = nil
		cancelled := r.cancelled
		r.mu.Unlock()

		if !cancelled {
			fire()
		}
	})

	return nil
}

// delayLocked computes min(ceiling, base * 2^attempts).
func (r *reconnector) delayLocked() time.Duration {
	delay := r.base << r.attempts
	if delay <= 0 || delay > r.ceiling {
		delay = r.ceiling
	}

	return delay
}

// Reset clears the attempt counter after a successful open.
func (r *reconnector) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.attempts = 0
}

// Cancel stops any pending timer and disables future scheduling.
// Called on deliberate close.
func (r *reconnector) Cancel() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.cancelled = true

	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
}

// Cancelled reports whether a deliberate close disabled reconnection.
func (r *reconnector) Cancelled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.cancelled
}

// Attempts returns the consumed attempt count.
func (r *reconnector) Attempts() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.attempts
}

// Pending reports whether a retry timer is armed.
func (r *reconnector) Pending() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.timer != nil
}

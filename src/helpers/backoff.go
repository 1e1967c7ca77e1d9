package helpers

import (
	"math/rand/v2"
	"sync"
	"time"
)

// -----------------------------------------------------------------------------
// Backoff Timer
// -----------------------------------------------------------------------------

// Backoff computes capped exponential delays and owns at most one pending
// retry timer. The zero value is not usable, build it with NewBackoff.
type Backoff struct {
	Initial time.Duration
	Max     time.Duration
	// Jitter in [0,1] spreads scheduled delays by +/- Jitter*delay.
	// NextDelay itself never jitters.
	Jitter float64

	mu      sync.Mutex
	attempt int
	timer   *time.Timer
	gen     uint64
}

// RetryHandle cancels the retry it was returned for
type RetryHandle struct {
	b   *Backoff
	gen uint64
}

// -----------------------------------------------------------------------------

func NewBackoff(initial, max time.Duration) *Backoff {
	if max < initial {
		max = initial
	}
	return &Backoff{Initial: initial, Max: max}
}

// -----------------------------------------------------------------------------

// NextDelay returns min(Initial * 2^attempt, Max). Negative attempts count as 0.
func (b *Backoff) NextDelay(attempt int) time.Duration {
	if b.Initial <= 0 {
		return 0
	}
	d := b.Initial
	for i := 0; i < attempt; i++ {
		if d >= b.Max/2 {
			return b.Max
		}
		d *= 2
	}
	if d > b.Max {
		return b.Max
	}
	return d
}

func (b *Backoff) jittered(d time.Duration) time.Duration {
	if b.Jitter <= 0 || d <= 0 {
		return d
	}
	spread := float64(d) * b.Jitter
	j := time.Duration(float64(d) + spread*(rand.Float64()*2-1))
	if j < 0 {
		return 0
	}
	if j > b.Max {
		return b.Max
	}
	return j
}

// -----------------------------------------------------------------------------

// ScheduleRetry arms a timer for NextDelay(attempt) and runs fn when it
// fires. Returns nil without scheduling anything if a retry is already
// pending.
func (b *Backoff) ScheduleRetry(attempt int, fn func()) *RetryHandle {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.timer != nil {
		return nil
	}
	return b.armLocked(b.jittered(b.NextDelay(attempt)), fn)
}

// -----------------------------------------------------------------------------

// Schedule uses and advances the internal attempt counter. It returns the
// attempt number used and the scheduled delay; ok is false when a retry was
// already pending.
func (b *Backoff) Schedule(fn func()) (attempt int, delay time.Duration, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.timer != nil {
		return b.attempt, 0, false
	}
	attempt = b.attempt
	delay = b.jittered(b.NextDelay(attempt))
	b.attempt++
	b.armLocked(delay, fn)
	return attempt, delay, true
}

func (b *Backoff) armLocked(delay time.Duration, fn func()) *RetryHandle {
	b.gen++
	gen := b.gen
	b.timer = time.AfterFunc(delay, func() {
		b.mu.Lock()
		if b.gen != gen || b.timer == nil {
			b.mu.Unlock()
			return
		}
		b.timer = nil
		b.mu.Unlock()
		fn()
	})
	return &RetryHandle{b: b, gen: gen}
}

// -----------------------------------------------------------------------------

// Cancel stops the retry if it is still the pending one
func (h *RetryHandle) Cancel() {
	if h == nil {
		return
	}
	h.b.mu.Lock()
	defer h.b.mu.Unlock()
	if h.b.gen == h.gen {
		h.b.stopLocked()
	}
}

// -----------------------------------------------------------------------------

// Cancel stops any pending retry
func (b *Backoff) Cancel() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stopLocked()
}

func (b *Backoff) stopLocked() {
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	b.gen++
}

// -----------------------------------------------------------------------------

// Reset zeroes the attempt counter after a successful connection
func (b *Backoff) Reset() {
	b.mu.Lock()
	b.attempt = 0
	b.mu.Unlock()
}

// Attempt returns the next attempt number Schedule will use
func (b *Backoff) Attempt() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.attempt
}

// Pending reports whether a retry timer is armed
func (b *Backoff) Pending() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.timer != nil
}

// Package circuitbreaker implements a per-upstream circuit breaker with a
// sliding-window error rate detector. A host that keeps failing is
// short-circuited so that cache misses fail fast instead of spending their
// whole retry budget on a dead upstream.
package circuitbreaker

import (
	"sync"
	"time"
)

// State represents the circuit breaker state.
type State int

const (
	// StateClosed allows all requests through.
	StateClosed State = iota
	// StateOpen rejects all requests.
	StateOpen
	// StateHalfOpen allows a single probe request.
	StateHalfOpen
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Config holds circuit breaker parameters.
type Config struct {
	ErrorThreshold float64       // weighted error rate to trip (e.g. 0.50)
	MinSamples     int           // minimum attempts before the breaker can open
	WindowSeconds  int           // sliding window duration in seconds, max 60
	OpenTimeout    time.Duration // time in OPEN before a probe is let through
}

// DefaultConfig returns the defaults used when the config file is silent.
func DefaultConfig() Config {
	return Config{
		ErrorThreshold: 0.50,
		MinSamples:     10,
		WindowSeconds:  60,
		OpenTimeout:    30 * time.Second,
	}
}

type bucket struct {
	errors float64 // weighted error sum
	total  int
}

// slidingWindow is a ring of 1-second buckets.
type slidingWindow struct {
	buckets  [60]bucket
	size     int
	head     int
	headTime int64 // unix seconds of head bucket
}

func newSlidingWindow(windowSeconds int) slidingWindow {
	if windowSeconds <= 0 || windowSeconds > 60 {
		windowSeconds = 60
	}
	return slidingWindow{size: windowSeconds}
}

// advance moves the head to nowSec, clearing buckets that fell out of the window.
func (w *slidingWindow) advance(nowSec int64) {
	if w.headTime == 0 {
		w.headTime = nowSec
		return
	}
	gap := nowSec - w.headTime
	if gap <= 0 {
		return
	}
	for i := range min(int(gap), w.size) {
		w.buckets[(w.head+1+i)%w.size] = bucket{}
	}
	w.head = (w.head + int(gap)) % w.size
	w.headTime = nowSec
}

func (w *slidingWindow) record(weight float64, now time.Time) {
	w.advance(now.Unix())
	w.buckets[w.head].total++
	w.buckets[w.head].errors += weight
}

// errorRate returns the weighted error rate and sample count across the window.
func (w *slidingWindow) errorRate(now time.Time) (rate float64, samples int) {
	w.advance(now.Unix())
	var errs float64
	for i := range w.size {
		errs += w.buckets[i].errors
		samples += w.buckets[i].total
	}
	if samples == 0 {
		return 0, 0
	}
	return errs / float64(samples), samples
}

func (w *slidingWindow) reset() {
	*w = newSlidingWindow(w.size)
}

// Breaker is the state machine for one upstream host.
type Breaker struct {
	mu       sync.Mutex
	cfg      Config
	state    State
	window   slidingWindow
	openedAt time.Time
	lastUsed time.Time
	probing  bool // a half-open probe is in flight
	now      func() time.Time
}

// NewBreaker creates a closed breaker.
func NewBreaker(cfg Config) *Breaker {
	return &Breaker{
		cfg:      cfg,
		window:   newSlidingWindow(cfg.WindowSeconds),
		lastUsed: time.Now(),
		now:      time.Now,
	}
}

// State returns the current breaker state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Allow reports whether an attempt may go upstream. In OPEN it lets exactly
// one probe through once OpenTimeout has elapsed.
func (b *Breaker) Allow() bool {
	now := b.now()
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lastUsed = now

	switch b.state {
	case StateClosed:
		return true
	case StateOpen:
		if now.Sub(b.openedAt) < b.cfg.OpenTimeout {
			return false
		}
		b.state = StateHalfOpen
		b.probing = true
		return true
	case StateHalfOpen:
		if b.probing {
			return false
		}
		b.probing = true
		return true
	}
	return false
}

// Record feeds one attempt outcome into the breaker. weight 0 is a success.
func (b *Breaker) Record(weight float64) {
	now := b.now()
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lastUsed = now
	b.window.record(weight, now)

	switch b.state {
	case StateClosed:
		if weight == 0 {
			return
		}
		rate, samples := b.window.errorRate(now)
		if samples >= b.cfg.MinSamples && rate >= b.cfg.ErrorThreshold {
			b.state = StateOpen
			b.openedAt = now
		}
	case StateHalfOpen:
		b.probing = false
		if weight == 0 {
			b.state = StateClosed
			b.window.reset()
			return
		}
		b.state = StateOpen
		b.openedAt = now
	}
}

// LastUsed returns the time of last activity.
func (b *Breaker) LastUsed() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastUsed
}

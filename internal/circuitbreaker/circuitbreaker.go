// Package circuitbreaker tracks per-upstream health so the routing
// pipeline can fail over to the next provider immediately instead of
// waiting out a connect timeout against a provider that is known bad.
package circuitbreaker

import (
	"sync"
	"time"
)

// State is the breaker position for one upstream.
type State int

const (
	// StateClosed admits all requests.
	StateClosed State = iota
	// StateOpen rejects all requests until the cooldown elapses.
	StateOpen
	// StateHalfOpen admits a single probe request.
	StateHalfOpen
)

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

// Config holds breaker tuning. The zero value is unusable; start from
// DefaultConfig.
type Config struct {
	ErrorThreshold float64       // weighted error rate that trips the breaker
	MinSamples     int           // requests required in-window before tripping
	WindowSeconds  int           // sliding window length, capped at 60
	Cooldown       time.Duration // time spent open before probing again
}

// DefaultConfig trips at a 30% weighted error rate over the last minute
// and probes again after 30 seconds.
func DefaultConfig() Config {
	return Config{
		ErrorThreshold: 0.30,
		MinSamples:     10,
		WindowSeconds:  60,
		Cooldown:       30 * time.Second,
	}
}

// slot accumulates outcomes for one second of traffic.
type slot struct {
	errors float64
	total  int
}

// window is a ring of 1-second slots. Fixed backing array, no heap
// growth on the request path.
type window struct {
	slots    [60]slot
	size     int
	head     int
	headTime int64 // unix second of the head slot
}

func newWindow(seconds int) window {
	if seconds <= 0 || seconds > 60 {
		seconds = 60
	}
	return window{size: seconds}
}

// advance rotates the head to the current second, zeroing slots that
// fell out of the window.
func (w *window) advance(nowSec int64) {
	if w.headTime == 0 {
		w.headTime = nowSec
		return
	}
	gap := nowSec - w.headTime
	if gap <= 0 {
		return
	}
	expired := min(int(gap), w.size)
	for i := range expired {
		w.slots[(w.head+1+i)%w.size] = slot{}
	}
	w.head = (w.head + int(gap)) % w.size
	w.headTime = nowSec
}

// record adds one outcome. weight 0 is a success.
func (w *window) record(weight float64, now time.Time) {
	w.advance(now.Unix())
	w.slots[w.head].total++
	w.slots[w.head].errors += weight
}

// errorRate returns the weighted error rate and sample count in-window.
func (w *window) errorRate(now time.Time) (rate float64, samples int) {
	w.advance(now.Unix())
	var errs float64
	var total int
	for i := range w.size {
		errs += w.slots[i].errors
		total += w.slots[i].total
	}
	if total == 0 {
		return 0, 0
	}
	return errs / float64(total), total
}

func (w *window) reset() {
	for i := range w.size {
		w.slots[i] = slot{}
	}
	w.head = 0
	w.headTime = 0
}

// Breaker is the state machine for a single upstream.
type Breaker struct {
	mu       sync.Mutex
	state    State
	win      window
	openedAt time.Time
	probing  bool
	cfg      Config
}

// NewBreaker creates a closed breaker.
func NewBreaker(cfg Config) *Breaker {
	return &Breaker{win: newWindow(cfg.WindowSeconds), cfg: cfg}
}

// State reports the current position.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Allow reports whether a request may be sent to this upstream. After
// the cooldown an open breaker admits exactly one probe; the probe's
// outcome decides between closing and reopening.
func (b *Breaker) Allow() bool {
	now := time.Now()
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return true
	case StateOpen:
		if now.Sub(b.openedAt) < b.cfg.Cooldown {
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

// RecordSuccess counts a successful call. A successful probe closes the
// breaker and clears the window.
func (b *Breaker) RecordSuccess() {
	now := time.Now()
	b.mu.Lock()
	defer b.mu.Unlock()
	b.win.record(0, now)

	if b.state == StateHalfOpen {
		b.state = StateClosed
		b.probing = false
		b.win.reset()
	}
}

// RecordError counts a failed call with the given weight. A failed
// probe reopens immediately; a closed breaker trips once the windowed
// rate crosses the threshold with enough samples behind it.
func (b *Breaker) RecordError(weight float64) {
	now := time.Now()
	b.mu.Lock()
	defer b.mu.Unlock()
	b.win.record(weight, now)

	switch b.state {
	case StateClosed:
		rate, samples := b.win.errorRate(now)
		if samples >= b.cfg.MinSamples && rate >= b.cfg.ErrorThreshold {
			b.state = StateOpen
			b.openedAt = now
		}
	case StateHalfOpen:
		b.state = StateOpen
		b.openedAt = now
		b.probing = false
	}
}

package resilience

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

// ErrOpenCircuit is returned when the breaker refuses to call the dependency.
var ErrOpenCircuit = errors.New("resilience: circuit breaker open")

// State is the breaker position.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

var stateNames = [...]string{Closed: "closed", Open: "open", HalfOpen: "half_open"}

func (s State) String() string {
	if s < Closed || s > HalfOpen {
		return "unknown"
	}
	return stateNames[s]
}

// gauge is the value exported on the breaker_state metric.
func (s State) gauge() float64 {
	if s < Closed || s > HalfOpen {
		return -1
	}
	return float64(s)
}

// tally counts outcomes observed while closed. It is halved once it grows past twice the minimum
// sample so that old outcomes fade.
type tally struct {
	ok, failed int
}

func (t tally) total() int { return t.ok + t.failed }

func (t tally) failureRatio() float64 {
	if t.total() == 0 {
		return 0
	}
	return float64(t.failed) / float64(t.total())
}

func (t *tally) decay() {
	t.ok = (t.ok + 1) / 2
	t.failed = (t.failed + 1) / 2
}

// Breaker trips after the failure ratio crosses a threshold and, after a cool-off, lets one probe
// through to decide whether the dependency recovered.
type Breaker struct {
	mu        sync.Mutex
	state     State
	seen      tally
	minSample int
	threshold float64
	coolOff   time.Duration
	openedAt  time.Time
	probing   bool

	target string
	logger zerolog.Logger
	now    func() time.Time
}

// NewBreaker returns a closed breaker that opens once at least minRequests outcomes were observed
// and the failure share reaches failureRatio. It stays open for openFor.
func NewBreaker(minRequests int, failureRatio float64, openFor time.Duration) *Breaker {
	b := &Breaker{
		minSample: max(minRequests, 1),
		threshold: failureRatio,
		coolOff:   openFor,
		target:    "default",
		logger:    zerolog.Nop(),
		now:       time.Now,
	}
	switch {
	case b.threshold <= 0:
		b.threshold = 0.5
	case b.threshold > 1:
		b.threshold = 1
	}
	if b.coolOff <= 0 {
		b.coolOff = 30 * time.Second
	}
	return b
}

// WithTarget names the guarded dependency in metrics and logs.
func (b *Breaker) WithTarget(target string) *Breaker {
	b.mu.Lock()
	defer b.mu.Unlock()
	if target = strings.TrimSpace(target); target != "" {
		b.target = target
	}
	BreakerState.WithLabelValues(b.target).Set(b.state.gauge())
	return b
}

// WithLogger sets the fallback logger for transitions when the context carries none.
func (b *Breaker) WithLogger(logger zerolog.Logger) *Breaker {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.logger = logger
	return b
}

// WithClock swaps the time source.
func (b *Breaker) WithClock(now func() time.Time) *Breaker {
	b.mu.Lock()
	defer b.mu.Unlock()
	if now != nil {
		b.now = now
	}
	return b
}

// State returns the current position.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Allow reports whether the caller may use the dependency now. Every true result must be followed
// by exactly one Report.
func (b *Breaker) Allow(ctx context.Context) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == Open {
		if b.now().Sub(b.openedAt) < b.coolOff {
			return false
		}
		b.moveTo(ctx, HalfOpen)
	}
	if b.state == HalfOpen {
		if b.probing {
			return false
		}
		b.probing = true
	}
	return true
}

// Report records the outcome of an allowed call.
func (b *Breaker) Report(ctx context.Context, success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Open:
		return
	case HalfOpen:
		if success {
			b.moveTo(ctx, Closed)
		} else {
			b.moveTo(ctx, Open)
		}
		return
	}

	if success {
		b.seen.ok++
	} else {
		b.seen.failed++
	}
	if b.seen.total() < b.minSample {
		return
	}
	if b.seen.failureRatio() >= b.threshold {
		b.moveTo(ctx, Open)
		return
	}
	if b.seen.total() > 2*b.minSample {
		b.seen.decay()
	}
}

// moveTo must be called with mu held.
func (b *Breaker) moveTo(ctx context.Context, next State) {
	prev := b.state
	b.state = next
	b.seen = tally{}
	b.probing = false
	switch next {
	case Open:
		b.openedAt = b.now()
	case Closed:
		b.openedAt = time.Time{}
	}

	BreakerState.WithLabelValues(b.target).Set(next.gauge())
	if prev == next {
		return
	}
	BreakerTransitions.WithLabelValues(b.target, prev.String(), next.String()).Inc()
	if next == Open {
		BreakerOpenedTotal.WithLabelValues(b.target).Inc()
	}

	evt := b.loggerFor(ctx).Info().
		Str("target", b.target).
		Str("from_state", prev.String()).
		Str("to_state", next.String())
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		evt = evt.Str("trace_id", sc.TraceID().String())
	}
	evt.Msg("breaker_transition")
}

// loggerFor prefers the request logger; zerolog.Ctx hands back a disabled logger when none is attached.
func (b *Breaker) loggerFor(ctx context.Context) *zerolog.Logger {
	if l := zerolog.Ctx(ctx); l.GetLevel() != zerolog.Disabled {
		return l
	}
	return &b.logger
}

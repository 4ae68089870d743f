// Package breaker implements the circuit breaker protecting remote sync
// calls.
//
// The breaker is the only thing standing between a degraded remote and a
// tight retry loop: local reads and writes never consult it, background
// sync always goes through it.
package breaker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// ErrOpen is returned by Do when the breaker is open and the call was
// never attempted. Callers distinguish "remote is down" from "this call
// failed" by checking for it with errors.Is.
var ErrOpen = errors.New("breaker: circuit open")

// State is a circuit breaker state.
type State string

const (
	// StateClosed passes calls through and counts consecutive failures.
	StateClosed State = "closed"

	// StateOpen fails every call fast without touching the remote.
	StateOpen State = "open"

	// StateHalfOpen probes the remote; successes close the circuit,
	// any failure re-opens it.
	StateHalfOpen State = "half_open"
)

func (s State) String() string { return string(s) }

// Config tunes the breaker thresholds.
type Config struct {
	// FailureThreshold is the consecutive failure count in Closed that
	// opens the circuit.
	FailureThreshold int

	// SuccessThreshold is the consecutive success count in HalfOpen
	// that closes it.
	SuccessThreshold int

	// Timeout is how long the circuit stays Open before a probe is
	// allowed through.
	Timeout time.Duration
}

// DefaultConfig returns the standard thresholds: 5 failures to open,
// 2 successes to close, 60s open timeout.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Timeout:          60 * time.Second,
	}
}

// Metrics is a snapshot of call outcomes and state churn.
type Metrics struct {
	TotalCalls      int64     `json:"total_calls"`
	SuccessfulCalls int64     `json:"successful_calls"`
	FailedCalls     int64     `json:"failed_calls"`
	Rejected        int64     `json:"rejected"`
	OpenCount       int64     `json:"open_count"`
	LastFailure     time.Time `json:"last_failure,omitempty"`
	LastSuccess     time.Time `json:"last_success,omitempty"`
}

// Breaker is a circuit breaker. The zero value is not usable; construct
// with New.
type Breaker struct {
	name string
	cfg  Config
	log  *slog.Logger

	mu             sync.Mutex
	state          State
	failures       int
	successes      int
	lastTransition time.Time
	metrics        Metrics

	// now is swappable in tests
	now func() time.Time

	callCounter       metric.Int64Counter
	transitionCounter metric.Int64Counter
}

// Option configures a Breaker.
type Option func(*Breaker)

// WithLogger sets the structured logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(b *Breaker) { b.log = l }
}

// WithMeter registers OpenTelemetry instruments on the given meter:
// a call counter (by outcome) and a transition counter (by target state).
func WithMeter(m metric.Meter) Option {
	return func(b *Breaker) {
		var err error
		b.callCounter, err = m.Int64Counter(
			"memstore.breaker.calls",
			metric.WithDescription("Remote calls seen by the circuit breaker"),
			metric.WithUnit("1"),
		)
		if err != nil {
			b.log.Warn("breaker call counter unavailable", "error", err)
		}
		b.transitionCounter, err = m.Int64Counter(
			"memstore.breaker.transitions",
			metric.WithDescription("Circuit breaker state transitions"),
			metric.WithUnit("1"),
		)
		if err != nil {
			b.log.Warn("breaker transition counter unavailable", "error", err)
		}
	}
}

// New creates a Breaker in the Closed state. Zero Config fields fall
// back to DefaultConfig values.
func New(name string, cfg Config, opts ...Option) *Breaker {
	def := DefaultConfig()
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = def.SuccessThreshold
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}

	b := &Breaker{
		name:  name,
		cfg:   cfg,
		log:   slog.Default(),
		state: StateClosed,
		now:   time.Now,
	}
	b.lastTransition = b.now()
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Do runs fn under the breaker. When the circuit is open and the
// timeout has not elapsed, fn is never called and Do returns ErrOpen.
// Otherwise fn's outcome feeds the state machine and its error is
// returned as-is.
func (b *Breaker) Do(ctx context.Context, fn func(context.Context) error) error {
	if !b.allow() {
		b.count(ctx, "rejected")
		return fmt.Errorf("%w: %s", ErrOpen, b.name)
	}

	err := fn(ctx)
	if err != nil {
		b.recordFailure()
		b.count(ctx, "failure")
		return err
	}
	b.recordSuccess()
	b.count(ctx, "success")
	return nil
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Snapshot returns current metrics.
func (b *Breaker) Snapshot() Metrics {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.metrics
}

func (b *Breaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed, StateHalfOpen:
		return true
	case StateOpen:
		if b.now().Sub(b.lastTransition) >= b.cfg.Timeout {
			b.transition(StateHalfOpen)
			return true
		}
		b.metrics.Rejected++
		return false
	}
	return false
}

func (b *Breaker) recordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.metrics.TotalCalls++
	b.metrics.SuccessfulCalls++
	b.metrics.LastSuccess = b.now()

	switch b.state {
	case StateClosed:
		b.failures = 0
	case StateHalfOpen:
		b.successes++
		if b.successes >= b.cfg.SuccessThreshold {
			b.transition(StateClosed)
		}
	}
}

func (b *Breaker) recordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.metrics.TotalCalls++
	b.metrics.FailedCalls++
	b.metrics.LastFailure = b.now()

	switch b.state {
	case StateClosed:
		b.failures++
		if b.failures >= b.cfg.FailureThreshold {
			b.transition(StateOpen)
		}
	case StateHalfOpen:
		// a single probe failure re-opens the circuit
		b.transition(StateOpen)
	}
}

// transition moves to a new state. Caller holds mu.
func (b *Breaker) transition(to State) {
	from := b.state
	b.state = to
	b.failures = 0
	b.successes = 0
	b.lastTransition = b.now()
	if to == StateOpen {
		b.metrics.OpenCount++
	}

	b.log.Info("breaker state change",
		"breaker", b.name, "from", from, "to", to)
	if b.transitionCounter != nil {
		b.transitionCounter.Add(context.Background(), 1,
			metric.WithAttributes(
				attribute.String("breaker", b.name),
				attribute.String("to", string(to)),
			))
	}
}

func (b *Breaker) count(ctx context.Context, outcome string) {
	if b.callCounter == nil {
		return
	}
	b.callCounter.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("breaker", b.name),
			attribute.String("outcome", outcome),
		))
}

// Package resilience guards calls to optional backends so a dead service
// costs one timeout per window instead of one per task.
package resilience

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrOpen is returned without calling the backend while the breaker is open.
var ErrOpen = errors.New("circuit breaker is open")

type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Config holds breaker thresholds.
type Config struct {
	// FailureThreshold consecutive failures open the breaker.
	FailureThreshold int
	// SuccessThreshold trial successes close it again.
	SuccessThreshold int
	// Cooldown is how long the breaker stays open before probing.
	Cooldown time.Duration
	// MaxTrials limits concurrent calls while half-open.
	MaxTrials int
}

func DefaultConfig() Config {
	return Config{
		FailureThreshold: 3,
		SuccessThreshold: 1,
		Cooldown:         30 * time.Second,
		MaxTrials:        1,
	}
}

// Breaker is a consecutive-failure circuit breaker.
type Breaker struct {
	name string
	cfg  Config

	mu        sync.Mutex
	state     State
	failures  int
	successes int
	trials    int
	openedAt  time.Time
	now       func() time.Time
	onChange  func(name string, from, to State)
}

type Option func(*Breaker)

// OnStateChange registers a callback run on every transition, with the
// breaker lock held.
func OnStateChange(fn func(name string, from, to State)) Option {
	return func(b *Breaker) { b.onChange = fn }
}

func New(name string, cfg Config, opts ...Option) *Breaker {
	def := DefaultConfig()
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = def.SuccessThreshold
	}
	if cfg.MaxTrials <= 0 {
		cfg.MaxTrials = def.MaxTrials
	}
	b := &Breaker{name: name, cfg: cfg, now: time.Now}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Breaker) Name() string { return b.name }

// State reports the current state, moving open to half-open once the
// cooldown has passed.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.advance()
	return b.state
}

// Do runs fn unless the breaker is open. A cancelled ctx is returned as is
// and not counted as a backend failure.
func (b *Breaker) Do(ctx context.Context, fn func(context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := b.acquire(); err != nil {
		return err
	}

	err := fn(ctx)
	if err != nil && ctx.Err() != nil {
		b.release()
		return err
	}
	b.record(err)
	return err
}

func (b *Breaker) acquire() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.advance()

	switch b.state {
	case Open:
		return ErrOpen
	case HalfOpen:
		if b.trials >= b.cfg.MaxTrials {
			return ErrOpen
		}
		b.trials++
	}
	return nil
}

func (b *Breaker) release() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == HalfOpen && b.trials > 0 {
		b.trials--
	}
}

func (b *Breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == HalfOpen && b.trials > 0 {
		b.trials--
	}

	if err != nil {
		b.successes = 0
		b.failures++
		if b.state == HalfOpen || b.failures >= b.cfg.FailureThreshold {
			b.openedAt = b.now()
			b.set(Open)
		}
		return
	}

	switch b.state {
	case Closed:
		b.failures = 0
	case HalfOpen:
		b.successes++
		if b.successes >= b.cfg.SuccessThreshold {
			b.failures, b.successes = 0, 0
			b.set(Closed)
		}
	}
}

// advance must be called with mu held.
func (b *Breaker) advance() {
	if b.state == Open && b.now().Sub(b.openedAt) >= b.cfg.Cooldown {
		b.trials, b.successes = 0, 0
		b.set(HalfOpen)
	}
}

func (b *Breaker) set(to State) {
	from := b.state
	b.state = to
	if from != to && b.onChange != nil {
		b.onChange(b.name, from, to)
	}
}

// Reset closes the breaker and clears its counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures, b.successes, b.trials = 0, 0, 0
	b.set(Closed)
}

// Package breaker provides a per-dependency circuit breaker: closed,
// open, and half-open states guarding calls to an external collaborator
// (the graph driver, primarily).
package breaker

import (
	"sync"
	"time"

	"github.com/ultimate-mcp/mcpd/internal/apperr"
)

// State is one of the three circuit states.
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
		return "half_open"
	default:
		return "unknown"
	}
}

// Config configures a Breaker's thresholds.
type Config struct {
	// FailureThreshold is the number of consecutive failures in Closed
	// that trips the breaker to Open.
	FailureThreshold int
	// SuccessThreshold is the number of consecutive successes in
	// HalfOpen required to close the breaker.
	SuccessThreshold int
	// OpenTimeout is how long the breaker stays Open before the next
	// call is allowed through as a half-open probe.
	OpenTimeout time.Duration
	// HalfOpenMax is the maximum number of concurrent probes admitted
	// while HalfOpen.
	HalfOpenMax int
}

// Stats is a snapshot of a Breaker's counters.
type Stats struct {
	Name            string    `json:"name"`
	State           string    `json:"state"`
	TotalCalls      int64     `json:"total_calls"`
	TotalFailures   int64     `json:"total_failures"`
	TotalRejections int64     `json:"total_rejections"`
	ConsecutiveFail int       `json:"consecutive_failures"`
	LastTransition  time.Time `json:"last_transition"`
}

// Breaker guards calls to one named dependency. Safe for concurrent use.
type Breaker struct {
	name   string
	config Config

	mu             sync.Mutex
	state          State
	consecFail     int
	consecSuccess  int
	lastTransition time.Time
	halfOpenActive int

	totalCalls      int64
	totalFailures   int64
	totalRejections int64
}

// New creates a Breaker in the Closed state.
func New(name string, config Config) *Breaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 5
	}
	if config.SuccessThreshold <= 0 {
		config.SuccessThreshold = 2
	}
	if config.OpenTimeout <= 0 {
		config.OpenTimeout = 30 * time.Second
	}
	if config.HalfOpenMax <= 0 {
		config.HalfOpenMax = 1
	}
	return &Breaker{
		name:           name,
		config:         config,
		state:          Closed,
		lastTransition: time.Now(),
	}
}

// State reports the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// allow decides whether a call may proceed, returning a release func to
// call when a half-open probe completes (nil otherwise).
func (b *Breaker) allow() (bool, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.totalCalls++

	switch b.state {
	case Closed:
		return true, nil

	case Open:
		if time.Since(b.lastTransition) < b.config.OpenTimeout {
			b.totalRejections++
			return false, nil
		}
		b.transitionLocked(HalfOpen)
		return b.tryHalfOpenLocked()

	case HalfOpen:
		return b.tryHalfOpenLocked()

	default:
		return false, nil
	}
}

// tryHalfOpenLocked must be called with b.mu held.
func (b *Breaker) tryHalfOpenLocked() (bool, func()) {
	if b.halfOpenActive >= b.config.HalfOpenMax {
		b.totalRejections++
		return false, nil
	}
	b.halfOpenActive++
	return true, func() {
		b.mu.Lock()
		b.halfOpenActive--
		b.mu.Unlock()
	}
}

func (b *Breaker) recordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.consecFail = 0

	if b.state == HalfOpen {
		b.consecSuccess++
		if b.consecSuccess >= b.config.SuccessThreshold {
			b.transitionLocked(Closed)
		}
	}
}

func (b *Breaker) recordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.totalFailures++
	b.consecFail++
	b.consecSuccess = 0

	switch b.state {
	case Closed:
		if b.consecFail >= b.config.FailureThreshold {
			b.transitionLocked(Open)
		}
	case HalfOpen:
		b.transitionLocked(Open)
	}
}

// transitionLocked must be called with b.mu held.
func (b *Breaker) transitionLocked(to State) {
	b.state = to
	b.lastTransition = time.Now()
	b.consecFail = 0
	b.consecSuccess = 0
}

// Execute runs fn under breaker protection. Returns a DependencyUnavailable
// apperr without invoking fn when the breaker is open or the half-open
// probe slot is exhausted.
//
// A validation-class error (bad input the caller sent, not a dependency
// fault) counts toward neither failure nor success: it doesn't indicate
// the guarded dependency is unhealthy, so it must not move the breaker
// toward Open, but it didn't prove the dependency healthy either.
func (b *Breaker) Execute(fn func() error) error {
	allowed, release := b.allow()
	if !allowed {
		return apperr.New(apperr.DependencyUnavailable, "circuit breaker open for "+b.name)
	}
	if release != nil {
		defer release()
	}

	err := fn()
	if isValidationError(err) {
		return err
	}
	if err != nil {
		b.recordFailure()
		return err
	}

	b.recordSuccess()
	return nil
}

// isValidationError reports whether err reflects a mistake in the
// caller's input rather than a fault in the guarded dependency.
func isValidationError(err error) bool {
	if err == nil {
		return false
	}
	switch apperr.KindOf(err) {
	case apperr.InvalidInput, apperr.Conflict, apperr.NotFound:
		return true
	default:
		return false
	}
}

// Stats returns a snapshot of the breaker's counters.
func (b *Breaker) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()

	return Stats{
		Name:            b.name,
		State:           b.state.String(),
		TotalCalls:      b.totalCalls,
		TotalFailures:   b.totalFailures,
		TotalRejections: b.totalRejections,
		ConsecutiveFail: b.consecFail,
		LastTransition:  b.lastTransition,
	}
}

// Reset forces the breaker back to Closed, clearing all counters but the
// lifetime totals.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.state = Closed
	b.consecFail = 0
	b.consecSuccess = 0
	b.halfOpenActive = 0
	b.lastTransition = time.Now()
}

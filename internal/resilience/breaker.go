// Package resilience wraps outbound exchange calls with a per-account
// circuit breaker, bounded retry with exponential backoff, and a per-attempt
// timeout.
package resilience

import (
	"log/slog"
	"sync"
	"time"

	"github.com/lfang615/crypto-trading-service/internal/domain"
)

// State is the circuit breaker state.
type State int

const (
	StateClosed State = iota
	StateOpen
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

// BreakerConfig holds circuit breaker tuning parameters.
type BreakerConfig struct {
	FailureThreshold int           // consecutive failures before opening
	Cooldown         time.Duration // time in open state before a trial call
}

// DefaultBreakerConfig returns the defaults: trip after 3 consecutive
// failures, allow a single trial call after 20 seconds.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 3,
		Cooldown:         20 * time.Second,
	}
}

// Breaker is a circuit breaker for one (account, exchange) pair. Safe for
// concurrent use. In the half-open state exactly one trial call is admitted;
// its outcome decides the next transition.
type Breaker struct {
	name string
	cfg  BreakerConfig
	log  *slog.Logger

	mu            sync.Mutex
	state         State
	failures      int
	lastFailure   time.Time
	trialInFlight bool
}

// NewBreaker creates a closed Breaker identified by name in log output.
func NewBreaker(name string, cfg BreakerConfig, logger *slog.Logger) *Breaker {
	return &Breaker{
		name:  name,
		cfg:   cfg,
		log:   logger.With(slog.String("component", "breaker"), slog.String("pair", name)),
		state: StateClosed,
	}
}

// Allow reports whether a call may proceed. When the circuit is open and the
// cooldown has not elapsed it returns false together with the remaining
// cooldown. At most one caller is admitted as the half-open trial; others
// are rejected until the trial resolves.
func (b *Breaker) Allow() (bool, time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return true, 0

	case StateOpen:
		remaining := b.cfg.Cooldown - time.Since(b.lastFailure)
		if remaining > 0 {
			return false, remaining
		}
		b.state = StateHalfOpen
		b.trialInFlight = true
		b.log.Info("circuit half-open, admitting trial call")
		return true, 0

	case StateHalfOpen:
		if b.trialInFlight {
			return false, b.cfg.Cooldown
		}
		b.trialInFlight = true
		return true, 0
	}
	return false, b.cfg.Cooldown
}

// RecordSuccess resets the consecutive-failure count; a successful trial
// closes the circuit.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateHalfOpen {
		b.log.Info("circuit closed, venue recovered")
	}
	b.state = StateClosed
	b.failures = 0
	b.trialInFlight = false
}

// RecordFailure counts one failure toward the threshold; a failed trial
// reopens the circuit and restarts the cooldown.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.lastFailure = time.Now()

	switch b.state {
	case StateClosed:
		b.failures++
		if b.failures >= b.cfg.FailureThreshold {
			b.state = StateOpen
			b.log.Warn("circuit open", slog.Int("failures", b.failures))
		}
	case StateHalfOpen:
		b.state = StateOpen
		b.trialInFlight = false
		b.log.Warn("circuit reopened, trial call failed")
	}
}

// CurrentState returns the breaker state for observation.
func (b *Breaker) CurrentState() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// BreakerGroup lazily creates one Breaker per (account, exchange) pair.
type BreakerGroup struct {
	cfg BreakerConfig
	log *slog.Logger

	mu       sync.Mutex
	breakers map[string]*Breaker
}

// NewBreakerGroup creates an empty group using cfg for every breaker.
func NewBreakerGroup(cfg BreakerConfig, logger *slog.Logger) *BreakerGroup {
	return &BreakerGroup{
		cfg:      cfg,
		log:      logger,
		breakers: make(map[string]*Breaker),
	}
}

// Get returns the breaker for the pair, creating it on first use.
func (g *BreakerGroup) Get(account string, exchange domain.Exchange) *Breaker {
	key := account + "/" + string(exchange)

	g.mu.Lock()
	defer g.mu.Unlock()

	b, ok := g.breakers[key]
	if !ok {
		b = NewBreaker(key, g.cfg, g.log)
		g.breakers[key] = b
	}
	return b
}

package resilience

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/lfang615/crypto-trading-service/internal/domain"
)

// CallerConfig tunes the retry loop and per-attempt timeout.
type CallerConfig struct {
	MaxAttempts    int           // attempts per call, including the first
	AttemptTimeout time.Duration // deadline applied to each attempt
}

// DefaultCallerConfig returns the defaults: 3 attempts, 10s per attempt.
func DefaultCallerConfig() CallerConfig {
	return CallerConfig{
		MaxAttempts:    3,
		AttemptTimeout: 10 * time.Second,
	}
}

// Caller wraps venue calls with the circuit breaker and retry policy for the
// (account, exchange) pair. Retries apply only to transient failures; a call
// rejected by the venue propagates immediately and, since the venue answered,
// resets the breaker's consecutive-failure count. A retry loop that exhausts
// its attempts counts as one failure toward the breaker.
type Caller struct {
	breakers *BreakerGroup
	cfg      CallerConfig
	log      *slog.Logger
}

// NewCaller creates a Caller sharing the given breaker group.
func NewCaller(breakers *BreakerGroup, cfg CallerConfig, logger *slog.Logger) *Caller {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	return &Caller{
		breakers: breakers,
		cfg:      cfg,
		log:      logger.With(slog.String("component", "resilience")),
	}
}

// Call invokes fn under the pair's breaker. A per-attempt timeout bounds each
// invocation so a hung connection cannot stall the dispatch; timeout expiry
// is classified as transient.
func (c *Caller) Call(
	ctx context.Context,
	account string,
	exchange domain.Exchange,
	fn func(ctx context.Context) (domain.OrderResult, error),
) (domain.OrderResult, error) {
	breaker := c.breakers.Get(account, exchange)

	allowed, retryAfter := breaker.Allow()
	if !allowed {
		return domain.OrderResult{}, &domain.CircuitOpenError{
			Account:    account,
			Exchange:   exchange,
			RetryAfter: retryAfter,
		}
	}

	var lastErr error
	for attempt := 0; attempt < c.cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(backoffDelay(attempt - 1)):
			case <-ctx.Done():
				breaker.RecordFailure()
				return domain.OrderResult{}, ctx.Err()
			}
		}

		res, err := c.attempt(ctx, fn)
		if err == nil {
			breaker.RecordSuccess()
			return res, nil
		}

		if !domain.IsTransient(err) {
			// The venue answered: ambiguous responses and business
			// rejections are not evidence of an unhealthy connection.
			breaker.RecordSuccess()
			return domain.OrderResult{}, err
		}

		lastErr = err
		c.log.Warn("transient dispatch failure",
			slog.String("account", account),
			slog.String("exchange", string(exchange)),
			slog.Int("attempt", attempt+1),
			slog.String("error", err.Error()),
		)
	}

	breaker.RecordFailure()
	return domain.OrderResult{}, &domain.TransientDispatchError{Attempts: c.cfg.MaxAttempts, Err: lastErr}
}

// attempt runs fn with the per-attempt deadline, converting a deadline hit
// into a transient failure.
func (c *Caller) attempt(
	ctx context.Context,
	fn func(ctx context.Context) (domain.OrderResult, error),
) (domain.OrderResult, error) {
	attemptCtx := ctx
	if c.cfg.AttemptTimeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, c.cfg.AttemptTimeout)
		defer cancel()
	}

	res, err := fn(attemptCtx)
	if err != nil && errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		// Only this attempt timed out, not the whole dispatch.
		return domain.OrderResult{}, domain.MarkTransient(err)
	}
	return res, err
}

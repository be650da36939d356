package guard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lfang615/crypto-trading-service/internal/domain"
)

// IdempotencyGuard guarantees at-most-one in-flight dispatch per client
// order id. A claim is backed by a distributed lock whose TTL bounds how
// long a crashed holder can block the id; completed outcomes are retained in
// the outcome cache for a replay window so late duplicates are answered with
// the original result instead of re-dispatching.
type IdempotencyGuard struct {
	locks    domain.LockManager
	outcomes domain.OutcomeCache
	claimTTL time.Duration
	replay   time.Duration
	log      *slog.Logger
}

// NewIdempotencyGuard creates a guard with the given claim and replay
// windows.
func NewIdempotencyGuard(
	locks domain.LockManager,
	outcomes domain.OutcomeCache,
	claimTTL, replayWindow time.Duration,
	logger *slog.Logger,
) *IdempotencyGuard {
	return &IdempotencyGuard{
		locks:    locks,
		outcomes: outcomes,
		claimTTL: claimTTL,
		replay:   replayWindow,
		log:      logger.With(slog.String("component", "idempotency_guard")),
	}
}

// Claim is a held dispatch claim. Release must be called on every exit path;
// it is safe to call more than once.
type Claim struct {
	ClientOrderID string
	release       func()
}

// Release frees the claim so a later submission with the same id can run.
func (c *Claim) Release() {
	if c.release != nil {
		c.release()
	}
}

// Begin claims the client order id for dispatch. When the id is already
// claimed or already completed within the replay window it returns a
// DuplicateError; the error carries the prior OrderResult if that dispatch
// finished.
func (g *IdempotencyGuard) Begin(ctx context.Context, clientOrderID string) (*Claim, error) {
	unlock, err := g.locks.Acquire(ctx, "dispatch:"+clientOrderID, g.claimTTL)
	if err != nil {
		if errors.Is(err, domain.ErrLockHeld) {
			return nil, g.duplicate(ctx, clientOrderID)
		}
		return nil, err
	}

	// The lock may have been released by a completed dispatch whose outcome
	// is still inside the replay window: a late duplicate.
	prior, err := g.outcomes.GetOutcome(ctx, clientOrderID)
	switch {
	case err == nil:
		unlock()
		return nil, &domain.DuplicateError{ClientOrderID: clientOrderID, Prior: &prior}
	case !errors.Is(err, domain.ErrNotFound):
		// Without the cache we cannot prove the id was never completed, so a
		// finished order could be re-dispatched. Fail closed.
		unlock()
		return nil, fmt.Errorf("guard: outcome lookup for %s: %w", clientOrderID, err)
	}

	return &Claim{ClientOrderID: clientOrderID, release: unlock}, nil
}

// RecordOutcome retains the dispatch outcome for the replay window. Failures
// to write the record are logged, not propagated: the dispatch itself
// already succeeded or failed definitively.
func (g *IdempotencyGuard) RecordOutcome(ctx context.Context, res domain.OrderResult) {
	if err := g.outcomes.SetOutcome(ctx, res, g.replay); err != nil {
		g.log.WarnContext(ctx, "failed to record dispatch outcome",
			slog.String("client_order_id", res.ClientOrderID),
			slog.String("error", err.Error()),
		)
	}
}

// duplicate builds the DuplicateError for an id whose claim is held,
// attaching the prior outcome when the earlier dispatch already completed.
func (g *IdempotencyGuard) duplicate(ctx context.Context, clientOrderID string) error {
	if prior, err := g.outcomes.GetOutcome(ctx, clientOrderID); err == nil {
		return &domain.DuplicateError{ClientOrderID: clientOrderID, Prior: &prior}
	}
	return &domain.DuplicateError{ClientOrderID: clientOrderID}
}

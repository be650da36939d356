// Package guard holds the dispatch preconditions: the position guard that
// gates close/TP-SL order types, and the idempotency guard that deduplicates
// submissions by client order id.
package guard

import (
	"context"
	"errors"
	"log/slog"

	"github.com/lfang615/crypto-trading-service/internal/domain"
)

// PositionGuard checks that an order assuming an existing open position is
// only dispatched when one is known to exist. The cache is populated by an
// external position-sync collaborator; a miss or an expired entry blocks the
// order. The guard never infers position state itself.
type PositionGuard struct {
	cache domain.PositionCache
	log   *slog.Logger
}

// NewPositionGuard creates a PositionGuard over the given cache.
func NewPositionGuard(cache domain.PositionCache, logger *slog.Logger) *PositionGuard {
	return &PositionGuard{
		cache: cache,
		log:   logger.With(slog.String("component", "position_guard")),
	}
}

// Check returns nil when the order either needs no position or a cached open
// position exists for its (account, exchange, symbol, side) tuple. Otherwise
// it fails closed with InsufficientPositionError.
func (g *PositionGuard) Check(ctx context.Context, account string, order domain.Order) error {
	if !order.RequiresPositionCheck() {
		return nil
	}

	snap, err := g.cache.GetPosition(ctx, account, order.Exchange, order.Symbol, order.Side)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		// A cache failure is indistinguishable from staleness: block.
		g.log.WarnContext(ctx, "position lookup failed, blocking order",
			slog.String("symbol", order.Symbol),
			slog.String("error", err.Error()),
		)
	}
	if err != nil || !snap.Open {
		return &domain.InsufficientPositionError{
			Account:  account,
			Exchange: order.Exchange,
			Symbol:   order.Symbol,
			Side:     order.Side,
		}
	}
	return nil
}

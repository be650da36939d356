package domain

import (
	"context"
	"time"
)

// PositionCache answers whether an account currently holds an open position
// for a (exchange, symbol, side) tuple. Entries are written out-of-band by
// the position-sync collaborator with a bounded TTL; the dispatch core only
// reads. A missing or expired entry is indistinguishable from "no position"
// and the guard fails closed on both.
type PositionCache interface {
	GetPosition(ctx context.Context, account string, exchange Exchange, symbol string, side OrderSide) (PositionSnapshot, error)
	SetPosition(ctx context.Context, snap PositionSnapshot, ttl time.Duration) error
}

// LockManager provides distributed locking. Acquire returns ErrLockHeld when
// the key is already claimed by another holder.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// OutcomeCache retains the outcome of a completed dispatch for a bounded
// replay window so late duplicate submissions can be answered with the
// original result instead of re-dispatching.
type OutcomeCache interface {
	SetOutcome(ctx context.Context, res OrderResult, ttl time.Duration) error
	GetOutcome(ctx context.Context, clientOrderID string) (OrderResult, error)
}

// EventPublisher emits order submission events. Publication is
// fire-and-forget from the dispatcher's perspective: a failed publish is
// logged, never propagated.
type EventPublisher interface {
	Publish(ctx context.Context, topic, orderID, clientOrderID string) error
}

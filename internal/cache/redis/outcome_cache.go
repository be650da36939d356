package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/lfang615/crypto-trading-service/internal/domain"
)

// OutcomeCache implements domain.OutcomeCache. Dispatch outcomes are kept
// under their client order id for the replay window so late duplicate
// submissions can be answered without contacting the venue again.
type OutcomeCache struct {
	rdb *redis.Client
}

// NewOutcomeCache creates an OutcomeCache backed by the given Client.
func NewOutcomeCache(c *Client) *OutcomeCache {
	return &OutcomeCache{rdb: c.Underlying()}
}

func outcomeKey(clientOrderID string) string {
	return "outcome:" + clientOrderID
}

// SetOutcome stores the result with the replay-window TTL.
func (oc *OutcomeCache) SetOutcome(ctx context.Context, res domain.OrderResult, ttl time.Duration) error {
	key := outcomeKey(res.ClientOrderID)

	data, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("redis: encode outcome %s: %w", key, err)
	}
	if err := oc.rdb.Set(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("redis: set outcome %s: %w", key, err)
	}
	return nil
}

// GetOutcome returns the retained result, or ErrNotFound once the replay
// window has elapsed.
func (oc *OutcomeCache) GetOutcome(ctx context.Context, clientOrderID string) (domain.OrderResult, error) {
	key := outcomeKey(clientOrderID)

	data, err := oc.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.OrderResult{}, domain.ErrNotFound
		}
		return domain.OrderResult{}, fmt.Errorf("redis: get outcome %s: %w", key, err)
	}

	var res domain.OrderResult
	if err := json.Unmarshal(data, &res); err != nil {
		return domain.OrderResult{}, fmt.Errorf("redis: decode outcome %s: %w", key, err)
	}
	return res, nil
}

// Compile-time interface check.
var _ domain.OutcomeCache = (*OutcomeCache)(nil)

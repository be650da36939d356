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

// PositionCache implements domain.PositionCache. Entries are written by the
// external position-sync collaborator with a TTL; once the TTL expires the
// key vanishes and readers see ErrNotFound, which the position guard treats
// as "no position".
type PositionCache struct {
	rdb *redis.Client
}

// NewPositionCache creates a PositionCache backed by the given Client.
func NewPositionCache(c *Client) *PositionCache {
	return &PositionCache{rdb: c.Underlying()}
}

func positionKey(account string, exchange domain.Exchange, symbol string, side domain.OrderSide) string {
	return fmt.Sprintf("position:%s:%s:%s:%s", account, exchange, symbol, side)
}

// GetPosition returns the cached snapshot for the tuple, or ErrNotFound when
// no entry exists or the entry's TTL expired.
func (pc *PositionCache) GetPosition(
	ctx context.Context,
	account string,
	exchange domain.Exchange,
	symbol string,
	side domain.OrderSide,
) (domain.PositionSnapshot, error) {
	key := positionKey(account, exchange, symbol, side)

	data, err := pc.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.PositionSnapshot{}, domain.ErrNotFound
		}
		return domain.PositionSnapshot{}, fmt.Errorf("redis: get position %s: %w", key, err)
	}

	var snap domain.PositionSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return domain.PositionSnapshot{}, fmt.Errorf("redis: decode position %s: %w", key, err)
	}
	return snap, nil
}

// SetPosition stores the snapshot under the tuple key with the given TTL.
// The value is written atomically, so concurrent readers never observe a
// partial update.
func (pc *PositionCache) SetPosition(ctx context.Context, snap domain.PositionSnapshot, ttl time.Duration) error {
	key := positionKey(snap.Account, snap.Exchange, snap.Symbol, snap.Side)

	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("redis: encode position %s: %w", key, err)
	}
	if err := pc.rdb.Set(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("redis: set position %s: %w", key, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.PositionCache = (*PositionCache)(nil)

package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/lfang615/crypto-trading-service/internal/domain"
)

// streamMaxLen is the approximate maximum stream length, enforced via
// XADD MAXLEN ~.
const streamMaxLen int64 = 10000

// EventBus implements domain.EventPublisher using Redis Streams, giving
// downstream consumers a durable, ordered record of order submissions.
type EventBus struct {
	rdb *redis.Client
}

// NewEventBus creates an EventBus backed by the given Client.
func NewEventBus(c *Client) *EventBus {
	return &EventBus{rdb: c.Underlying()}
}

// orderEvent is the published payload shape.
type orderEvent struct {
	OrderID   string `json:"orderId"`
	ClientOid string `json:"clientOid"`
}

// Publish appends a submission event to the topic's stream with automatic
// trimming.
func (eb *EventBus) Publish(ctx context.Context, topic, orderID, clientOrderID string) error {
	payload, err := json.Marshal(orderEvent{OrderID: orderID, ClientOid: clientOrderID})
	if err != nil {
		return fmt.Errorf("redis: encode event: %w", err)
	}

	args := &redis.XAddArgs{
		Stream: topic,
		MaxLen: streamMaxLen,
		Approx: true,
		Values: map[string]interface{}{
			"payload": payload,
		},
	}
	if err := eb.rdb.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("redis: publish %s: %w", topic, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.EventPublisher = (*EventBus)(nil)

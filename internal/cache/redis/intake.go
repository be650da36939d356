package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// intakeBlock bounds how long a fetch waits for new entries so consumers can
// observe context cancellation between reads.
const intakeBlock = 5 * time.Second

// IntakeMessage is one pending order request pulled from the intake stream.
// Body holds the raw JSON submission; ID is the stream entry id used to
// acknowledge the message after processing.
type IntakeMessage struct {
	ID   string
	Body []byte
}

// Intake consumes order requests from a Redis stream through a consumer
// group, so multiple dispatch processes share the stream without double
// delivery.
type Intake struct {
	rdb      *redis.Client
	stream   string
	group    string
	consumer string
}

// NewIntake creates an Intake for the given stream and consumer group,
// creating the group (and the stream, if absent) on first use. consumer
// names this process within the group.
func NewIntake(ctx context.Context, c *Client, stream, group, consumer string) (*Intake, error) {
	err := c.Underlying().XGroupCreateMkStream(ctx, stream, group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return nil, fmt.Errorf("redis: create consumer group %s on %s: %w", group, stream, err)
	}
	return &Intake{
		rdb:      c.Underlying(),
		stream:   stream,
		group:    group,
		consumer: consumer,
	}, nil
}

// Fetch reads up to count pending messages for this consumer, blocking
// briefly when the stream is empty. A nil slice with nil error means the
// wait timed out without new entries.
func (in *Intake) Fetch(ctx context.Context, count int64) ([]IntakeMessage, error) {
	streams, err := in.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    in.group,
		Consumer: in.consumer,
		Streams:  []string{in.stream, ">"},
		Count:    count,
		Block:    intakeBlock,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("redis: read intake stream %s: %w", in.stream, err)
	}

	var msgs []IntakeMessage
	for _, s := range streams {
		for _, m := range s.Messages {
			body, ok := m.Values["payload"].(string)
			if !ok {
				// Malformed entry; ack it so it does not wedge the group.
				_ = in.rdb.XAck(ctx, in.stream, in.group, m.ID).Err()
				continue
			}
			msgs = append(msgs, IntakeMessage{ID: m.ID, Body: []byte(body)})
		}
	}
	return msgs, nil
}

// Ack marks a message as processed so it is not redelivered.
func (in *Intake) Ack(ctx context.Context, id string) error {
	if err := in.rdb.XAck(ctx, in.stream, in.group, id).Err(); err != nil {
		return fmt.Errorf("redis: ack %s on %s: %w", id, in.stream, err)
	}
	return nil
}

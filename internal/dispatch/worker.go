package dispatch

import (
	"context"
	"encoding/json"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/lfang615/crypto-trading-service/internal/cache/redis"
	"github.com/lfang615/crypto-trading-service/internal/validate"
)

// Source supplies pending order requests. It is satisfied by the Redis
// intake consumer.
type Source interface {
	Fetch(ctx context.Context, count int64) ([]redis.IntakeMessage, error)
	Ack(ctx context.Context, id string) error
}

// intakeRequest is the wire shape of an inbound order request.
type intakeRequest struct {
	Account string            `json:"account"`
	Order   validate.RawOrder `json:"order"`
}

// Worker drains a Source with a pool of goroutines, dispatching each order
// request. Every message is acknowledged after processing regardless of
// dispatch outcome; the idempotency guard makes client resubmission safe, so
// redelivery adds nothing.
type Worker struct {
	source     Source
	dispatcher *Dispatcher
	workers    int
	log        *slog.Logger
}

// NewWorker creates a Worker running n concurrent dispatch goroutines.
func NewWorker(source Source, d *Dispatcher, n int, logger *slog.Logger) *Worker {
	if n < 1 {
		n = 1
	}
	return &Worker{
		source:     source,
		dispatcher: d,
		workers:    n,
		log:        logger.With(slog.String("component", "intake_worker")),
	}
}

// Run blocks consuming the source until ctx is cancelled. A fetch error is
// fatal to the pool; individual dispatch failures are logged and the loop
// continues.
func (w *Worker) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < w.workers; i++ {
		g.Go(func() error {
			return w.consume(ctx)
		})
	}
	return g.Wait()
}

func (w *Worker) consume(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		msgs, err := w.source.Fetch(ctx, 1)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}

		for _, msg := range msgs {
			w.handle(ctx, msg)
		}
	}
}

func (w *Worker) handle(ctx context.Context, msg redis.IntakeMessage) {
	defer func() {
		if err := w.source.Ack(ctx, msg.ID); err != nil {
			w.log.WarnContext(ctx, "intake ack failed",
				slog.String("message_id", msg.ID),
				slog.String("error", err.Error()),
			)
		}
	}()

	var req intakeRequest
	if err := json.Unmarshal(msg.Body, &req); err != nil {
		w.log.WarnContext(ctx, "malformed intake message",
			slog.String("message_id", msg.ID),
			slog.String("error", err.Error()),
		)
		return
	}

	result, err := w.dispatcher.PlaceOrder(ctx, req.Account, req.Order)
	if err != nil {
		w.log.WarnContext(ctx, "dispatch failed",
			slog.String("account", req.Account),
			slog.String("client_order_id", req.Order.ClientOrderID),
			slog.String("error", err.Error()),
		)
		return
	}

	w.log.InfoContext(ctx, "order dispatched",
		slog.String("account", req.Account),
		slog.String("client_order_id", result.ClientOrderID),
		slog.String("order_id", result.OrderID),
		slog.String("status", string(result.Status)),
	)
}

// Package dispatch composes validation, the idempotency and position guards,
// the resilience wrapper, and the venue adapters into the end-to-end order
// dispatch flow.
package dispatch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/lfang615/crypto-trading-service/internal/domain"
	"github.com/lfang615/crypto-trading-service/internal/exchange"
	"github.com/lfang615/crypto-trading-service/internal/guard"
	"github.com/lfang615/crypto-trading-service/internal/notify"
	"github.com/lfang615/crypto-trading-service/internal/resilience"
	"github.com/lfang615/crypto-trading-service/internal/validate"
)

// TopicOrdersSubmitted is the event stream confirmed submissions are
// published to.
const TopicOrdersSubmitted = "orders_submitted"

// Alerter receives operator notifications. Alerts are best-effort and never
// fail the dispatch.
type Alerter interface {
	Notify(ctx context.Context, event, title, message string) error
}

// Dispatcher runs each order through the state machine
// Received -> Validated -> IdempotencyClaimed -> (PositionChecked) ->
// Submitted -> {Confirmed | Rejected}. Every dispatch is an independent
// concurrent task; the idempotency guard is the only synchronization point
// between submissions sharing a client order id.
type Dispatcher struct {
	idem      *guard.IdempotencyGuard
	positions *guard.PositionGuard
	creds     domain.CredentialStore
	caller    *resilience.Caller
	venues    exchange.Factory
	results   domain.OrderResultStore
	events    domain.EventPublisher
	archive   domain.BlobWriter // optional; raw payloads for reconciliation
	alerts    Alerter           // optional
	topic     string
	log       *slog.Logger

	// tripped holds the (account, exchange) pairs whose open circuit has
	// already been announced, so a blocked pair alerts once per outage
	// instead of once per rejected dispatch.
	tripped sync.Map
}

// New creates a Dispatcher. The archive writer and alerter are optional;
// when nil, ambiguous outcomes are still persisted but not archived or
// announced.
func New(
	idem *guard.IdempotencyGuard,
	positions *guard.PositionGuard,
	creds domain.CredentialStore,
	caller *resilience.Caller,
	venues exchange.Factory,
	results domain.OrderResultStore,
	events domain.EventPublisher,
	logger *slog.Logger,
) *Dispatcher {
	return &Dispatcher{
		idem:      idem,
		positions: positions,
		creds:     creds,
		caller:    caller,
		venues:    venues,
		results:   results,
		events:    events,
		topic:     TopicOrdersSubmitted,
		log:       logger.With(slog.String("component", "dispatcher")),
	}
}

// WithTopic overrides the stream confirmed submissions are announced on.
func (d *Dispatcher) WithTopic(topic string) *Dispatcher {
	if topic != "" {
		d.topic = topic
	}
	return d
}

// WithArchive attaches an object-storage writer for raw payloads that need
// manual reconciliation.
func (d *Dispatcher) WithArchive(w domain.BlobWriter) *Dispatcher {
	d.archive = w
	return d
}

// WithAlerter attaches an operator alert channel.
func (d *Dispatcher) WithAlerter(a Alerter) *Dispatcher {
	d.alerts = a
	return d
}

// PlaceOrder validates and dispatches one raw order submission for the given
// account. On a duplicate submission whose prior dispatch completed, the
// prior result is returned instead of re-dispatching.
func (d *Dispatcher) PlaceOrder(ctx context.Context, account string, raw validate.RawOrder) (domain.OrderResult, error) {
	// Received -> Validated. Terminal on failure, no side effects yet.
	order, err := validate.Order(raw)
	if err != nil {
		return domain.OrderResult{}, err
	}

	log := d.log.With(
		slog.String("account", account),
		slog.String("client_order_id", order.ClientOrderID),
		slog.String("exchange", string(order.Exchange)),
		slog.String("symbol", order.Symbol),
		slog.String("type", string(order.Type)),
	)

	// Validated -> IdempotencyClaimed.
	claim, err := d.idem.Begin(ctx, order.ClientOrderID)
	if err != nil {
		var dup *domain.DuplicateError
		if errors.As(err, &dup) && dup.Prior != nil {
			log.InfoContext(ctx, "duplicate submission, replaying prior outcome")
			return *dup.Prior, nil
		}
		return domain.OrderResult{}, err
	}
	// The claim must be freed on every exit path, including panics.
	defer claim.Release()

	// IdempotencyClaimed -> PositionChecked (conditional on order type).
	if err := d.positions.Check(ctx, account, order); err != nil {
		log.InfoContext(ctx, "position guard blocked order")
		return domain.OrderResult{}, err
	}

	creds, err := d.creds.Get(ctx, account, order.Exchange)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.OrderResult{}, &domain.CredentialsNotFoundError{
				Account:  account,
				Exchange: order.Exchange,
			}
		}
		return domain.OrderResult{}, fmt.Errorf("dispatch: credentials lookup: %w", err)
	}

	venue, err := d.venues(creds)
	if err != nil {
		return domain.OrderResult{}, fmt.Errorf("dispatch: build adapter: %w", err)
	}

	// Abort before submission when the caller already gave up.
	if err := ctx.Err(); err != nil {
		return domain.OrderResult{}, fmt.Errorf("%w: %w", domain.ErrCancelled, err)
	}

	// -> Submitted. Once the venue call is issued it runs to completion or
	// failure regardless of caller cancellation, so its outcome is always
	// recorded; only the per-attempt timeout bounds it.
	callCtx := context.WithoutCancel(ctx)
	res, err := d.caller.Call(callCtx, account, order.Exchange, func(ctx context.Context) (domain.OrderResult, error) {
		return venue.PlaceOrder(ctx, order)
	})
	if err != nil {
		return domain.OrderResult{}, d.rejected(callCtx, log, account, order, err)
	}

	d.tripped.Delete(pairKey(account, order.Exchange))

	// Submitted -> Confirmed.
	if err := d.results.Save(callCtx, res); err != nil {
		// The exchange accepted the order; surface the persistence failure
		// but keep the replay record so a duplicate cannot re-dispatch.
		d.idem.RecordOutcome(callCtx, res)
		d.alert(callCtx, log, notify.EventPersistFailure, "Order result not persisted",
			notify.OrderAlert(account, string(order.Exchange), order.Symbol, order.ClientOrderID,
				"the venue accepted the order but the result could not be saved: "+err.Error()))
		return domain.OrderResult{}, fmt.Errorf("dispatch: persist result: %w", err)
	}

	if err := d.events.Publish(callCtx, d.topic, res.OrderID, res.ClientOrderID); err != nil {
		log.WarnContext(ctx, "event publish failed", slog.String("error", err.Error()))
	}

	d.idem.RecordOutcome(callCtx, res)
	log.InfoContext(ctx, "order confirmed", slog.String("order_id", res.OrderID))
	return res, nil
}

// rejected handles the Submitted -> Rejected transition. An ambiguous
// outcome is persisted with status unknown, archived, and announced; a clean
// failure records only a rejected replay entry so late duplicates do not
// re-dispatch.
func (d *Dispatcher) rejected(ctx context.Context, log *slog.Logger, account string, order domain.Order, err error) error {
	var ambiguous *domain.AmbiguousOutcomeError
	if errors.As(err, &ambiguous) {
		d.tripped.Delete(pairKey(account, order.Exchange))
		d.reconcile(ctx, log, account, order, ambiguous)
		return err
	}

	log.WarnContext(ctx, "order rejected", slog.String("error", err.Error()))

	// A blocked pair alerts on the first rejection of the outage; PlaceOrder
	// re-arms the alert once a dispatch gets through again.
	var open *domain.CircuitOpenError
	if errors.As(err, &open) {
		if _, announced := d.tripped.LoadOrStore(pairKey(account, order.Exchange), true); !announced {
			d.alert(ctx, log, notify.EventCircuitOpen, "Circuit open",
				notify.OrderAlert(account, string(order.Exchange), order.Symbol, order.ClientOrderID,
					fmt.Sprintf("dispatches blocked, retry after %s", open.RetryAfter)))
		}
		return err
	}
	d.tripped.Delete(pairKey(account, order.Exchange))

	// Only a permanent venue rejection leaves a replay record. Circuit-open
	// and exhausted-retry failures are retryable-later, so the same client
	// order id may legitimately be resubmitted once the venue recovers.
	var rejected *domain.ExchangeRejectedError
	if errors.As(err, &rejected) {
		d.idem.RecordOutcome(ctx, domain.OrderResult{
			ClientOrderID: order.ClientOrderID,
			Account:       account,
			Exchange:      order.Exchange,
			Symbol:        order.Symbol,
			Status:        domain.OrderStatusRejected,
			CreatedAt:     time.Now().UTC(),
		})
	}
	return err
}

// reconcile persists the unknown-status record, archives the raw payload,
// and alerts the operator. The order's live state can only be resolved by
// manual reconciliation against the venue.
func (d *Dispatcher) reconcile(ctx context.Context, log *slog.Logger, account string, order domain.Order, amb *domain.AmbiguousOutcomeError) {
	log.ErrorContext(ctx, "ambiguous dispatch outcome, flagged for reconciliation")

	res := domain.OrderResult{
		ClientOrderID: order.ClientOrderID,
		Account:       account,
		Exchange:      order.Exchange,
		Symbol:        order.Symbol,
		Status:        domain.OrderStatusUnknown,
		Raw:           amb.Raw,
		CreatedAt:     time.Now().UTC(),
	}

	if err := d.results.Save(ctx, res); err != nil {
		log.ErrorContext(ctx, "failed to persist unknown-status result", slog.String("error", err.Error()))
	}
	d.idem.RecordOutcome(ctx, res)

	if d.archive != nil && len(amb.Raw) > 0 {
		path := fmt.Sprintf("reconciliation/%s/%s.json", account, order.ClientOrderID)
		if err := d.archive.Put(ctx, path, bytes.NewReader(amb.Raw), "application/json"); err != nil {
			log.WarnContext(ctx, "failed to archive raw payload", slog.String("error", err.Error()))
		}
	}

	d.alert(ctx, log, notify.EventReconciliationRequired, "Ambiguous order outcome",
		notify.OrderAlert(account, string(order.Exchange), order.Symbol, order.ClientOrderID,
			fmt.Sprintf("%s order has unknown state; reconcile against the venue", order.Type)))
}

// alert delivers a best-effort operator notification.
func (d *Dispatcher) alert(ctx context.Context, log *slog.Logger, event, title, message string) {
	if d.alerts == nil {
		return
	}
	if err := d.alerts.Notify(ctx, event, title, message); err != nil {
		log.WarnContext(ctx, "operator alert failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

func pairKey(account string, exchange domain.Exchange) string {
	return account + "/" + string(exchange)
}

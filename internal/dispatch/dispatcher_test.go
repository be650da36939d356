package dispatch

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lfang615/crypto-trading-service/internal/domain"
	"github.com/lfang615/crypto-trading-service/internal/exchange"
	"github.com/lfang615/crypto-trading-service/internal/guard"
	"github.com/lfang615/crypto-trading-service/internal/notify"
	"github.com/lfang615/crypto-trading-service/internal/resilience"
	"github.com/lfang615/crypto-trading-service/internal/validate"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// ---------------------------------------------------------------------------
// In-memory collaborators
// ---------------------------------------------------------------------------

type memLocks struct {
	mu   sync.Mutex
	held map[string]bool
}

func (m *memLocks) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.held[key] {
		return nil, domain.ErrLockHeld
	}
	m.held[key] = true
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.held, key)
	}, nil
}

type memOutcomes struct {
	mu       sync.Mutex
	outcomes map[string]domain.OrderResult
}

func (c *memOutcomes) SetOutcome(ctx context.Context, res domain.OrderResult, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.outcomes[res.ClientOrderID] = res
	return nil
}

func (c *memOutcomes) GetOutcome(ctx context.Context, clientOrderID string) (domain.OrderResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	res, ok := c.outcomes[clientOrderID]
	if !ok {
		return domain.OrderResult{}, domain.ErrNotFound
	}
	return res, nil
}

type memPositions struct {
	mu        sync.Mutex
	snapshots map[string]domain.PositionSnapshot
}

func pkey(account string, exchange domain.Exchange, symbol string, side domain.OrderSide) string {
	return account + "/" + string(exchange) + "/" + symbol + "/" + string(side)
}

func (c *memPositions) GetPosition(ctx context.Context, account string, exchange domain.Exchange, symbol string, side domain.OrderSide) (domain.PositionSnapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	snap, ok := c.snapshots[pkey(account, exchange, symbol, side)]
	if !ok {
		return domain.PositionSnapshot{}, domain.ErrNotFound
	}
	return snap, nil
}

func (c *memPositions) SetPosition(ctx context.Context, snap domain.PositionSnapshot, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snapshots[pkey(snap.Account, snap.Exchange, snap.Symbol, snap.Side)] = snap
	return nil
}

type memCreds struct {
	creds map[string]domain.ExchangeCredentials
}

func ckey(account string, exchange domain.Exchange) string {
	return account + "/" + string(exchange)
}

func (s *memCreds) Get(ctx context.Context, account string, exchange domain.Exchange) (domain.ExchangeCredentials, error) {
	c, ok := s.creds[ckey(account, exchange)]
	if !ok {
		return domain.ExchangeCredentials{}, domain.ErrNotFound
	}
	return c, nil
}

func (s *memCreds) Put(ctx context.Context, creds domain.ExchangeCredentials) error {
	s.creds[ckey(creds.Account, creds.Exchange)] = creds
	return nil
}

type memResults struct {
	mu      sync.Mutex
	saved   []domain.OrderResult
	saveErr error
}

func (s *memResults) Save(ctx context.Context, res domain.OrderResult) error {
	if s.saveErr != nil {
		return s.saveErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved = append(s.saved, res)
	return nil
}

func (s *memResults) GetByClientOrderID(ctx context.Context, clientOrderID string) (domain.OrderResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.saved) - 1; i >= 0; i-- {
		if s.saved[i].ClientOrderID == clientOrderID {
			return s.saved[i], nil
		}
	}
	return domain.OrderResult{}, domain.ErrNotFound
}

func (s *memResults) ListByAccount(ctx context.Context, account string, limit int) ([]domain.OrderResult, error) {
	return nil, nil
}

func (s *memResults) last(t *testing.T) domain.OrderResult {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	require.NotEmpty(t, s.saved)
	return s.saved[len(s.saved)-1]
}

type memEvents struct {
	mu     sync.Mutex
	topics []string
	ids    []string
}

func (e *memEvents) Publish(ctx context.Context, topic, orderID, clientOrderID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.topics = append(e.topics, topic)
	e.ids = append(e.ids, orderID)
	return nil
}

type memArchive struct {
	mu    sync.Mutex
	paths []string
	data  map[string][]byte
}

func (a *memArchive) Put(ctx context.Context, path string, data io.Reader, contentType string) error {
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(data); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.data == nil {
		a.data = make(map[string][]byte)
	}
	a.paths = append(a.paths, path)
	a.data[path] = buf.Bytes()
	return nil
}

type memAlerts struct {
	mu     sync.Mutex
	events []string
}

func (a *memAlerts) Notify(ctx context.Context, event, title, message string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, event)
	return nil
}

// scriptedVenue returns canned responses and counts invocations.
type scriptedVenue struct {
	calls  atomic.Int64
	result domain.OrderResult
	err    error
}

func (v *scriptedVenue) PlaceOrder(ctx context.Context, order domain.Order) (domain.OrderResult, error) {
	v.calls.Add(1)
	if v.err != nil {
		return domain.OrderResult{}, v.err
	}
	res := v.result
	res.ClientOrderID = order.ClientOrderID
	res.Symbol = order.Symbol
	res.Exchange = order.Exchange
	return res, nil
}

func (v *scriptedVenue) GetBalance(ctx context.Context) (domain.Balance, error) {
	return domain.Balance{}, nil
}

func (v *scriptedVenue) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	return nil
}

// ---------------------------------------------------------------------------
// Harness
// ---------------------------------------------------------------------------

type harness struct {
	dispatcher *Dispatcher
	venue      *scriptedVenue
	results    *memResults
	events     *memEvents
	outcomes   *memOutcomes
	positions  *memPositions
	archive    *memArchive
	alerts     *memAlerts
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return newHarnessWith(t, resilience.DefaultBreakerConfig(), resilience.CallerConfig{
		MaxAttempts:    3,
		AttemptTimeout: time.Second,
	})
}

func newHarnessWith(t *testing.T, breakerCfg resilience.BreakerConfig, callerCfg resilience.CallerConfig) *harness {
	t.Helper()
	logger := testLogger()

	locks := &memLocks{held: make(map[string]bool)}
	outcomes := &memOutcomes{outcomes: make(map[string]domain.OrderResult)}
	positions := &memPositions{snapshots: make(map[string]domain.PositionSnapshot)}
	results := &memResults{}
	events := &memEvents{}
	archive := &memArchive{}
	alerts := &memAlerts{}

	creds := &memCreds{creds: map[string]domain.ExchangeCredentials{}}
	require.NoError(t, creds.Put(context.Background(), domain.ExchangeCredentials{
		Account: "alice", Exchange: domain.ExchangeBitget, APIKey: "k", APISecret: "s", APIPassphrase: "p",
	}))
	require.NoError(t, creds.Put(context.Background(), domain.ExchangeCredentials{
		Account: "alice", Exchange: domain.ExchangeBybit, APIKey: "k", APISecret: "s",
	}))

	venue := &scriptedVenue{result: domain.OrderResult{
		OrderID: "x-100",
		Status:  domain.OrderStatusOpen,
	}}
	factory := exchange.Factory(func(c domain.ExchangeCredentials) (exchange.Venue, error) {
		return venue, nil
	})

	idem := guard.NewIdempotencyGuard(locks, outcomes, 30*time.Second, time.Hour, logger)
	posGuard := guard.NewPositionGuard(positions, logger)
	breakers := resilience.NewBreakerGroup(breakerCfg, logger)
	caller := resilience.NewCaller(breakers, callerCfg, logger)

	d := New(idem, posGuard, creds, caller, factory, results, events, logger).
		WithArchive(archive).
		WithAlerter(alerts)

	return &harness{
		dispatcher: d,
		venue:      venue,
		results:    results,
		events:     events,
		outcomes:   outcomes,
		positions:  positions,
		archive:    archive,
		alerts:     alerts,
	}
}

func limitOrder(clientOrderID string) validate.RawOrder {
	amount := decimal.RequireFromString("0.5")
	price := decimal.RequireFromString("30000")
	return validate.RawOrder{
		Symbol:         "BTCUSDT",
		Type:           "limit",
		Side:           "buy",
		Amount:         &amount,
		Price:          &price,
		PositionAction: "open",
		Exchange:       "bitget",
		ClientOrderID:  clientOrderID,
	}
}

// ---------------------------------------------------------------------------
// Scenarios
// ---------------------------------------------------------------------------

func TestPlaceOrderHappyPath(t *testing.T) {
	h := newHarness(t)

	res, err := h.dispatcher.PlaceOrder(context.Background(), "alice", limitOrder("c-1"))
	require.NoError(t, err)

	assert.Equal(t, "x-100", res.OrderID)
	assert.Equal(t, "c-1", res.ClientOrderID)
	assert.Equal(t, domain.OrderStatusOpen, res.Status)
	assert.EqualValues(t, 1, h.venue.calls.Load(), "exactly one adapter call")

	saved := h.results.last(t)
	assert.Equal(t, "c-1", saved.ClientOrderID)

	require.Len(t, h.events.topics, 1)
	assert.Equal(t, TopicOrdersSubmitted, h.events.topics[0])
	assert.Equal(t, "x-100", h.events.ids[0])

	// The outcome is retained for replay.
	prior, err := h.outcomes.GetOutcome(context.Background(), "c-1")
	require.NoError(t, err)
	assert.Equal(t, "x-100", prior.OrderID)
}

func TestPlaceOrderValidationFailureHasNoSideEffects(t *testing.T) {
	h := newHarness(t)

	raw := limitOrder("c-2")
	raw.Price = nil

	_, err := h.dispatcher.PlaceOrder(context.Background(), "alice", raw)
	var violations domain.ValidationErrors
	require.ErrorAs(t, err, &violations)

	assert.Zero(t, h.venue.calls.Load())
	assert.Empty(t, h.results.saved)
	assert.Empty(t, h.events.topics)
}

func TestPlaceOrderReplaysDuplicate(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	first, err := h.dispatcher.PlaceOrder(ctx, "alice", limitOrder("c-3"))
	require.NoError(t, err)

	second, err := h.dispatcher.PlaceOrder(ctx, "alice", limitOrder("c-3"))
	require.NoError(t, err)

	assert.Equal(t, first.OrderID, second.OrderID)
	assert.EqualValues(t, 1, h.venue.calls.Load(), "duplicate must not re-dispatch")
}

func TestPlaceOrderConcurrentDuplicatesSingleDispatch(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	const submitters = 8
	var wg sync.WaitGroup
	var successes atomic.Int64
	var duplicates atomic.Int64

	for i := 0; i < submitters; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.dispatcher.PlaceOrder(ctx, "alice", limitOrder("c-race"))
			if err == nil {
				successes.Add(1)
				return
			}
			var dup *domain.DuplicateError
			if errors.As(err, &dup) {
				duplicates.Add(1)
			}
		}()
	}
	wg.Wait()

	// Losers that arrived before the winner finished get DuplicateError
	// without a prior; ones that arrived after replay the result. Either
	// way the venue saw exactly one order.
	assert.EqualValues(t, 1, h.venue.calls.Load())
	assert.EqualValues(t, submitters, successes.Load()+duplicates.Load())
	assert.GreaterOrEqual(t, successes.Load(), int64(1))
}

func TestPlaceOrderBlocksCloseWithoutPosition(t *testing.T) {
	h := newHarness(t)

	amount := decimal.RequireFromString("1")
	trigger := decimal.RequireFromString("29000")
	raw := validate.RawOrder{
		Symbol:         "BTCUSDT",
		Type:           "stop_market",
		Side:           "sell",
		Amount:         &amount,
		TriggerPrice:   &trigger,
		PositionAction: "close",
		Exchange:       "bitget",
		ClientOrderID:  "c-5",
	}

	_, err := h.dispatcher.PlaceOrder(context.Background(), "alice", raw)
	var insufficient *domain.InsufficientPositionError
	require.ErrorAs(t, err, &insufficient)
	assert.Zero(t, h.venue.calls.Load(), "guard failure must precede the venue call")

	// The claim must have been released: a corrected resubmission runs.
	require.NoError(t, h.positions.SetPosition(context.Background(), domain.PositionSnapshot{
		Account: "alice", Exchange: domain.ExchangeBitget, Symbol: "BTCUSDT",
		Side: domain.OrderSideSell, Open: true,
	}, time.Minute))

	_, err = h.dispatcher.PlaceOrder(context.Background(), "alice", raw)
	require.NoError(t, err)
	assert.EqualValues(t, 1, h.venue.calls.Load())
}

func TestPlaceOrderCredentialsNotFound(t *testing.T) {
	h := newHarness(t)

	_, err := h.dispatcher.PlaceOrder(context.Background(), "mallory", limitOrder("c-6"))
	var notFound *domain.CredentialsNotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, "mallory", notFound.Account)
	assert.Zero(t, h.venue.calls.Load())
}

func TestPlaceOrderAmbiguousOutcomePersistsUnknown(t *testing.T) {
	h := newHarness(t)
	h.venue.err = &domain.AmbiguousOutcomeError{
		ClientOrderID: "c-7",
		Exchange:      domain.ExchangeBitget,
		Raw:           []byte(`{"code":"00000"}`),
	}

	_, err := h.dispatcher.PlaceOrder(context.Background(), "alice", limitOrder("c-7"))
	var ambiguous *domain.AmbiguousOutcomeError
	require.ErrorAs(t, err, &ambiguous)

	saved := h.results.last(t)
	assert.Equal(t, domain.OrderStatusUnknown, saved.Status)
	assert.Equal(t, "c-7", saved.ClientOrderID)

	require.Len(t, h.archive.paths, 1)
	assert.Equal(t, "reconciliation/alice/c-7.json", h.archive.paths[0])
	assert.JSONEq(t, `{"code":"00000"}`, string(h.archive.data[h.archive.paths[0]]))

	require.Len(t, h.alerts.events, 1)
	assert.Equal(t, notify.EventReconciliationRequired, h.alerts.events[0])

	assert.Empty(t, h.events.topics, "an unknown-state order is not announced as submitted")
}

func TestPlaceOrderExchangeRejectionRecordedForReplay(t *testing.T) {
	h := newHarness(t)
	h.venue.err = &domain.ExchangeRejectedError{
		Exchange: domain.ExchangeBitget, Code: "40007", Message: "insufficient balance",
	}

	_, err := h.dispatcher.PlaceOrder(context.Background(), "alice", limitOrder("c-8"))
	var rejected *domain.ExchangeRejectedError
	require.ErrorAs(t, err, &rejected)

	prior, err := h.outcomes.GetOutcome(context.Background(), "c-8")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusRejected, prior.Status)
}

func TestPlaceOrderTransientExhaustionLeavesNoReplayRecord(t *testing.T) {
	h := newHarness(t)
	h.venue.err = domain.MarkTransient(errors.New("gateway timeout"))

	_, err := h.dispatcher.PlaceOrder(context.Background(), "alice", limitOrder("c-9"))
	var exhausted *domain.TransientDispatchError
	require.ErrorAs(t, err, &exhausted)

	// Retryable-later: the client may resubmit the same id once the venue
	// recovers.
	_, err = h.outcomes.GetOutcome(context.Background(), "c-9")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	h.venue.err = nil
	_, err = h.dispatcher.PlaceOrder(context.Background(), "alice", limitOrder("c-9"))
	require.NoError(t, err)
}

func TestPlaceOrderCancelledBeforeSubmission(t *testing.T) {
	h := newHarness(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := h.dispatcher.PlaceOrder(ctx, "alice", limitOrder("c-10"))
	require.ErrorIs(t, err, domain.ErrCancelled)
	assert.Zero(t, h.venue.calls.Load())
}

func TestPlaceOrderPersistFailureStillRecordsOutcome(t *testing.T) {
	h := newHarness(t)
	h.results.saveErr = errors.New("database down")

	_, err := h.dispatcher.PlaceOrder(context.Background(), "alice", limitOrder("c-11"))
	require.Error(t, err)

	// The venue accepted the order, so a duplicate must not re-dispatch.
	prior, err := h.outcomes.GetOutcome(context.Background(), "c-11")
	require.NoError(t, err)
	assert.Equal(t, "x-100", prior.OrderID)

	// The operator hears about the lost record.
	require.Len(t, h.alerts.events, 1)
	assert.Equal(t, notify.EventPersistFailure, h.alerts.events[0])
}

func TestPlaceOrderCircuitOpenAlertsOncePerOutage(t *testing.T) {
	h := newHarnessWith(t, resilience.BreakerConfig{
		FailureThreshold: 1,
		Cooldown:         20 * time.Millisecond,
	}, resilience.CallerConfig{
		MaxAttempts:    1,
		AttemptTimeout: time.Second,
	})
	ctx := context.Background()

	// One exhausted call opens the breaker for alice/bitget.
	h.venue.err = domain.MarkTransient(errors.New("gateway timeout"))
	_, err := h.dispatcher.PlaceOrder(ctx, "alice", limitOrder("c-o1"))
	var exhausted *domain.TransientDispatchError
	require.ErrorAs(t, err, &exhausted)
	assert.Empty(t, h.alerts.events)

	// The first blocked dispatch announces the outage; further blocked
	// dispatches stay quiet.
	_, err = h.dispatcher.PlaceOrder(ctx, "alice", limitOrder("c-o2"))
	var open *domain.CircuitOpenError
	require.ErrorAs(t, err, &open)
	_, err = h.dispatcher.PlaceOrder(ctx, "alice", limitOrder("c-o3"))
	require.ErrorAs(t, err, &open)
	require.Len(t, h.alerts.events, 1)
	assert.Equal(t, notify.EventCircuitOpen, h.alerts.events[0])

	// After the cooldown a successful trial closes the breaker and re-arms
	// the alert.
	time.Sleep(30 * time.Millisecond)
	h.venue.err = nil
	_, err = h.dispatcher.PlaceOrder(ctx, "alice", limitOrder("c-o4"))
	require.NoError(t, err)

	h.venue.err = domain.MarkTransient(errors.New("gateway timeout"))
	_, err = h.dispatcher.PlaceOrder(ctx, "alice", limitOrder("c-o5"))
	require.ErrorAs(t, err, &exhausted)
	_, err = h.dispatcher.PlaceOrder(ctx, "alice", limitOrder("c-o6"))
	require.ErrorAs(t, err, &open)

	require.Len(t, h.alerts.events, 2)
	assert.Equal(t, notify.EventCircuitOpen, h.alerts.events[1])
}

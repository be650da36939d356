package dispatch

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lfang615/crypto-trading-service/internal/cache/redis"
)

// fakeSource serves a fixed batch of messages once, then blocks until the
// context is cancelled.
type fakeSource struct {
	mu     sync.Mutex
	queue  []redis.IntakeMessage
	acked  []string
	served bool
}

func (f *fakeSource) Fetch(ctx context.Context, _ int64) ([]redis.IntakeMessage, error) {
	f.mu.Lock()
	if !f.served {
		f.served = true
		msgs := f.queue
		f.mu.Unlock()
		return msgs, nil
	}
	f.mu.Unlock()
	<-ctx.Done()
	return nil, ctx.Err()
}

func (f *fakeSource) Ack(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acked = append(f.acked, id)
	return nil
}

func (f *fakeSource) ackedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.acked...)
}

func intakeBody(t *testing.T, account, clientOrderID string) []byte {
	t.Helper()
	body, err := json.Marshal(map[string]any{
		"account": account,
		"order":   limitOrder(clientOrderID),
	})
	require.NoError(t, err)
	return body
}

func TestWorkerDispatchesAndAcks(t *testing.T) {
	h := newHarness(t)
	src := &fakeSource{queue: []redis.IntakeMessage{
		{ID: "1-0", Body: intakeBody(t, "alice", "w-1")},
	}}
	w := NewWorker(src, h.dispatcher, 2, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	require.Eventually(t, func() bool {
		return len(src.ackedIDs()) == 1
	}, 2*time.Second, 10*time.Millisecond)
	cancel()
	<-done

	assert.Equal(t, []string{"1-0"}, src.ackedIDs())
	assert.EqualValues(t, 1, h.venue.calls.Load())

	saved := h.results.last(t)
	assert.Equal(t, "w-1", saved.ClientOrderID)
}

func TestWorkerAcksMalformedMessages(t *testing.T) {
	h := newHarness(t)
	src := &fakeSource{queue: []redis.IntakeMessage{
		{ID: "1-0", Body: []byte("{not json")},
	}}
	w := NewWorker(src, h.dispatcher, 1, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	require.Eventually(t, func() bool {
		return len(src.ackedIDs()) == 1
	}, 2*time.Second, 10*time.Millisecond)
	cancel()
	<-done

	assert.EqualValues(t, 0, h.venue.calls.Load())
}

func TestWorkerAcksFailedDispatches(t *testing.T) {
	h := newHarness(t)
	src := &fakeSource{queue: []redis.IntakeMessage{
		{ID: "1-0", Body: intakeBody(t, "mallory", "w-2")},
	}}
	w := NewWorker(src, h.dispatcher, 1, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	require.Eventually(t, func() bool {
		return len(src.ackedIDs()) == 1
	}, 2*time.Second, 10*time.Millisecond)
	cancel()
	<-done

	assert.EqualValues(t, 0, h.venue.calls.Load())
}

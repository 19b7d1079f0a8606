// internal/historian/historian_test.go
package historian

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/parchi/internal/models"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeQueue serves BLPop from an in-memory list.
type fakeQueue struct {
	redis.Cmdable
	mu    sync.Mutex
	items []string
}

func (q *fakeQueue) push(t *testing.T, a models.GameAction) {
	t.Helper()
	data, err := json.Marshal(a)
	require.NoError(t, err)
	q.mu.Lock()
	q.items = append(q.items, string(data))
	q.mu.Unlock()
}

func (q *fakeQueue) BLPop(ctx context.Context, timeout time.Duration, keys ...string) *redis.StringSliceCmd {
	q.mu.Lock()
	if len(q.items) > 0 {
		item := q.items[0]
		q.items = q.items[1:]
		q.mu.Unlock()
		return redis.NewStringSliceResult([]string{keys[0], item}, nil)
	}
	q.mu.Unlock()

	select {
	case <-ctx.Done():
		return redis.NewStringSliceResult(nil, ctx.Err())
	case <-time.After(timeout):
		return redis.NewStringSliceResult(nil, redis.Nil)
	}
}

type recordingSink struct {
	mu      sync.Mutex
	batches [][]models.GameAction
	err     error
}

func (s *recordingSink) InsertActions(_ context.Context, actions []models.GameAction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.batches = append(s.batches, append([]models.GameAction(nil), actions...))
	return nil
}

func (s *recordingSink) total() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, b := range s.batches {
		n += len(b)
	}
	return n
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return l
}

func action(gameID uuid.UUID, idx int) models.GameAction {
	return models.GameAction{
		GameID:      gameID,
		RoomID:      1,
		ActionIndex: idx,
		ActorID:     int64(idx),
		ActionType:  models.ActionPass,
		Card:        1,
		Timestamp:   time.Now().UTC(),
	}
}

func TestFlushOnBatchSize(t *testing.T) {
	sink := &recordingSink{}
	svc := NewService(&fakeQueue{}, sink, quietLogger(), Options{BatchSize: 2, FlushDelay: time.Hour})
	ctx := context.Background()
	id := uuid.New()

	for i := 1; i <= 3; i++ {
		data, err := json.Marshal(action(id, i))
		require.NoError(t, err)
		require.NoError(t, svc.handlePayload(ctx, string(data)))
	}
	require.Len(t, sink.batches, 1)
	assert.Len(t, sink.batches[0], 2)
	assert.Equal(t, 1, svc.Pending())
}

func TestInvalidPayloadIsDropped(t *testing.T) {
	sink := &recordingSink{}
	svc := NewService(&fakeQueue{}, sink, quietLogger(), Options{})
	require.NoError(t, svc.handlePayload(context.Background(), "not json"))
	assert.Equal(t, 0, svc.Pending())
}

func TestFailedFlushKeepsActions(t *testing.T) {
	sink := &recordingSink{err: errors.New("db down")}
	svc := NewService(&fakeQueue{}, sink, quietLogger(), Options{BatchSize: 10})
	ctx := context.Background()
	data, err := json.Marshal(action(uuid.New(), 1))
	require.NoError(t, err)
	require.NoError(t, svc.handlePayload(ctx, string(data)))

	assert.ErrorContains(t, svc.Flush(ctx), "db down")
	assert.Equal(t, 1, svc.Pending())

	sink.mu.Lock()
	sink.err = nil
	sink.mu.Unlock()
	require.NoError(t, svc.Flush(ctx))
	assert.Equal(t, 0, svc.Pending())
	assert.Equal(t, 1, sink.total())
}

func TestRunDrainsQueue(t *testing.T) {
	q := &fakeQueue{}
	sink := &recordingSink{}
	svc := NewService(q, sink, quietLogger(), Options{
		BatchSize:  100,
		FlushDelay: 20 * time.Millisecond,
		PopTimeout: 10 * time.Millisecond,
	})
	id := uuid.New()
	for i := 1; i <= 5; i++ {
		q.push(t, action(id, i))
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()

	// the ticker flushes even though the batch never fills
	require.Eventually(t, func() bool { return sink.total() == 5 }, 2*time.Second, 10*time.Millisecond)

	q.push(t, action(id, 6))
	require.Eventually(t, func() bool { return sink.total() == 6 }, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("historian did not stop")
	}
}

// downQueue fails every pop like an unreachable server.
type downQueue struct {
	redis.Cmdable
	mu    sync.Mutex
	calls int
}

func (q *downQueue) BLPop(context.Context, time.Duration, ...string) *redis.StringSliceCmd {
	q.mu.Lock()
	q.calls++
	q.mu.Unlock()
	return redis.NewStringSliceResult(nil, errors.New("connection refused"))
}

func TestRunBacksOffWhenRedisIsDown(t *testing.T) {
	q := &downQueue{}
	svc := NewService(q, &recordingSink{}, quietLogger(), Options{
		FlushDelay: time.Hour,
		RetryDelay: 40 * time.Millisecond,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	require.NoError(t, svc.Run(ctx))

	// 40ms, 80ms, 160ms fit in the window; a tight loop would spin thousands of times
	q.mu.Lock()
	defer q.mu.Unlock()
	assert.LessOrEqual(t, q.calls, 5)
	assert.GreaterOrEqual(t, q.calls, 2)
}

func TestNextBackoff(t *testing.T) {
	d := nextBackoff(0, time.Second)
	assert.Equal(t, time.Second, d)
	d = nextBackoff(d, time.Second)
	assert.Equal(t, 2*time.Second, d)
	assert.Equal(t, maxRetryDelay, nextBackoff(8*time.Second, time.Second))
}

func TestDirectWritesThrough(t *testing.T) {
	sink := &recordingSink{}
	d := Direct{Sink: sink}
	require.NoError(t, d.PublishGameAction(context.Background(), action(uuid.New(), 1)))
	assert.Equal(t, 1, sink.total())
}

// internal/historian/historian.go
package historian

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jason-s-yu/parchi/internal/cache"
	"github.com/jason-s-yu/parchi/internal/models"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// Sink persists a batch of actions. Re-delivered actions must be ignored.
type Sink interface {
	InsertActions(ctx context.Context, actions []models.GameAction) error
}

// Options tunes the consumer. Zero values fall back to defaults.
type Options struct {
	Queue      string
	BatchSize  int
	FlushDelay time.Duration
	PopTimeout time.Duration
	// RetryDelay is the first pause after a failed pop; it doubles on every
	// further failure up to maxRetryDelay.
	RetryDelay time.Duration
}

const (
	defaultBatchSize  = 20
	defaultFlushDelay = 500 * time.Millisecond
	defaultPopTimeout = 3 * time.Second
	defaultRetryDelay = 250 * time.Millisecond
	maxRetryDelay     = 10 * time.Second
)

// Service drains the action queue written by cache.Publisher and writes the
// actions to the Sink in batches.
type Service struct {
	rdb        redis.Cmdable
	sink       Sink
	logger     *logrus.Logger
	queue      string
	batchSize  int
	flushDelay time.Duration
	popTimeout time.Duration
	retryDelay time.Duration

	mu    sync.Mutex
	batch []models.GameAction
}

func NewService(rdb redis.Cmdable, sink Sink, logger *logrus.Logger, opts Options) *Service {
	if opts.Queue == "" {
		opts.Queue = cache.DefaultQueueName
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}
	if opts.FlushDelay <= 0 {
		opts.FlushDelay = defaultFlushDelay
	}
	if opts.PopTimeout <= 0 {
		opts.PopTimeout = defaultPopTimeout
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = defaultRetryDelay
	}
	return &Service{
		rdb:        rdb,
		sink:       sink,
		logger:     logger,
		queue:      opts.Queue,
		batchSize:  opts.BatchSize,
		flushDelay: opts.FlushDelay,
		popTimeout: opts.PopTimeout,
		retryDelay: opts.RetryDelay,
		batch:      make([]models.GameAction, 0, opts.BatchSize),
	}
}

// Run pops actions until ctx is cancelled, then flushes what is left.
func (s *Service) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.flushDelay)
	defer ticker.Stop()

	s.logger.WithField("queue", s.queue).Info("historian started")
	backoff := time.Duration(0)
	for {
		select {
		case <-ctx.Done():
			// ctx is gone; give the last flush its own deadline
			fctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			err := s.Flush(fctx)
			cancel()
			s.logger.Info("historian stopped")
			return err

		case <-ticker.C:
			if err := s.Flush(ctx); err != nil {
				s.logger.WithError(err).Error("flush failed")
			}

		default:
			res, err := s.rdb.BLPop(ctx, s.popTimeout, s.queue).Result()
			if err != nil {
				if errors.Is(err, redis.Nil) || ctx.Err() != nil {
					continue
				}
				backoff = nextBackoff(backoff, s.retryDelay)
				s.logger.WithError(err).WithField("retry_in", backoff).Error("BLPop")
				select {
				case <-ctx.Done():
				case <-time.After(backoff):
				}
				continue
			}
			backoff = 0
			// res[0] is the queue name and res[1] the payload
			if len(res) < 2 {
				continue
			}
			if err := s.handlePayload(ctx, res[1]); err != nil {
				s.logger.WithError(err).Error("flush failed")
			}
		}
	}
}

func nextBackoff(cur, initial time.Duration) time.Duration {
	if cur == 0 {
		return initial
	}
	return min(cur*2, maxRetryDelay)
}

func (s *Service) handlePayload(ctx context.Context, payload string) error {
	var action models.GameAction
	if err := json.Unmarshal([]byte(payload), &action); err != nil {
		s.logger.WithError(err).Warn("dropping invalid action record")
		return nil
	}

	s.mu.Lock()
	s.batch = append(s.batch, action)
	full := len(s.batch) >= s.batchSize
	s.mu.Unlock()

	if full {
		return s.Flush(ctx)
	}
	return nil
}

// Flush writes the pending batch. On failure the actions stay pending and are
// retried by the next flush.
func (s *Service) Flush(ctx context.Context) error {
	s.mu.Lock()
	if len(s.batch) == 0 {
		s.mu.Unlock()
		return nil
	}
	pending := s.batch
	s.batch = make([]models.GameAction, 0, s.batchSize)
	s.mu.Unlock()

	if err := s.sink.InsertActions(ctx, pending); err != nil {
		s.mu.Lock()
		s.batch = append(pending, s.batch...)
		s.mu.Unlock()
		return fmt.Errorf("insert %d actions: %w", len(pending), err)
	}
	s.logger.WithField("count", len(pending)).Debug("flushed actions")
	return nil
}

// Pending returns the number of actions waiting for the next flush.
func (s *Service) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.batch)
}

// Direct records each action straight into the Sink. The server uses it when
// no Redis queue is configured.
type Direct struct {
	Sink Sink
}

func (d Direct) PublishGameAction(ctx context.Context, action models.GameAction) error {
	return d.Sink.InsertActions(ctx, []models.GameAction{action})
}

// internal/notify/redis.go
package notify

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// ChannelPrefix prefixes the pub/sub channel of every recipient.
const ChannelPrefix = "parchi:notify:"

// Channel returns the pub/sub channel for recipient.
func Channel(recipient int64) string {
	return fmt.Sprintf("%s%d", ChannelPrefix, recipient)
}

// RedisPublisher publishes notifications on per-recipient Redis channels so
// that an external bot gateway can deliver them.
type RedisPublisher struct {
	rdb redis.Cmdable
}

func NewRedisPublisher(rdb redis.Cmdable) *RedisPublisher {
	return &RedisPublisher{rdb: rdb}
}

func (p *RedisPublisher) Notify(ctx context.Context, recipient int64, text string) error {
	if err := p.rdb.Publish(ctx, Channel(recipient), text).Err(); err != nil {
		return fmt.Errorf("failed to publish notification for %d: %w", recipient, err)
	}
	return nil
}

package events

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/tos-network/kale-analytics/internal/util"
)

// DefaultChannelPrefix is prepended to the joined topic to form the channel
const DefaultChannelPrefix = "kale:events:"

// RedisPublisher publishes events on Redis pub/sub channels such as
// "kale:events:farming:session".
type RedisPublisher struct {
	client  *redis.Client
	prefix  string
	timeout time.Duration
}

// NewRedisPublisher creates a publisher on an existing client
func NewRedisPublisher(client *redis.Client, prefix string) *RedisPublisher {
	if prefix == "" {
		prefix = DefaultChannelPrefix
	}
	return &RedisPublisher{client: client, prefix: prefix, timeout: 2 * time.Second}
}

// Channel returns the channel an event with topic is published on
func (p *RedisPublisher) Channel(topic []string) string {
	return p.prefix + strings.Join(topic, ":")
}

// Publish sends ev as JSON; failures are logged and dropped
func (p *RedisPublisher) Publish(ctx context.Context, ev Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		util.Warnf("Failed to encode event %s: %v", ev.Name(), err)
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.timeout)
	defer cancel()

	if err := p.client.Publish(ctx, p.Channel(ev.Topic), data).Err(); err != nil {
		util.Warnf("Failed to publish event %s: %v", ev.Name(), err)
	}
}

package publisher

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fortuna/aegis/internal/reconciliation"
)

const DefaultStream = "series.events.dota2"

// RedisStreamPublisher appends series events to a Redis stream.
type RedisStreamPublisher struct {
	client *redis.Client
	stream string
	maxLen int64
}

// NewRedisStreamPublisher creates a publisher from an existing client.
func NewRedisStreamPublisher(client *redis.Client, stream string) *RedisStreamPublisher {
	if stream == "" {
		stream = DefaultStream
	}
	return &RedisStreamPublisher{
		client: client,
		stream: stream,
		maxLen: 10000,
	}
}

func (p *RedisStreamPublisher) Name() string {
	return "redis_stream"
}

// Handle publishes one event. The stream is trimmed approximately to
// maxLen entries.
func (p *RedisStreamPublisher) Handle(ctx context.Context, ev reconciliation.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	return p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		MaxLen: p.maxLen,
		Approx: true,
		Values: map[string]interface{}{
			"type":       string(ev.Type),
			"series_key": ev.SeriesKey,
			"data":       string(data),
			"timestamp":  time.Now().Unix(),
		},
	}).Err()
}

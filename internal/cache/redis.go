package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fortuna/aegis/internal/store"
)

const (
	defaultKeyPrefix = "aegis:cache:"

	docLive      = "live"
	docCompleted = "completed"
	docMaster    = "master"
)

// RedisPersister stores the three cache documents as JSON strings.
type RedisPersister struct {
	client *redis.Client
	prefix string
}

// NewRedisPersister connects to Redis and verifies the connection.
func NewRedisPersister(redisURL string) (*RedisPersister, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return NewRedisPersisterFromClient(client), nil
}

// NewRedisPersisterFromClient wraps an existing client.
func NewRedisPersisterFromClient(client *redis.Client) *RedisPersister {
	return &RedisPersister{client: client, prefix: defaultKeyPrefix}
}

// Client returns the underlying Redis client.
func (p *RedisPersister) Client() *redis.Client {
	return p.client
}

// Close closes the Redis connection.
func (p *RedisPersister) Close() error {
	return p.client.Close()
}

// HealthCheck pings Redis.
func (p *RedisPersister) HealthCheck(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}

func (p *RedisPersister) key(doc string) string {
	return p.prefix + doc
}

// Save writes all documents in a single MULTI/EXEC.
func (p *RedisPersister) Save(ctx context.Context, docs Documents) error {
	payloads := make(map[string][]byte, 3)
	for name, doc := range map[string]map[string]*store.Series{
		docLive:      docs.Live,
		docCompleted: docs.Completed,
		docMaster:    docs.Master,
	} {
		data, err := json.Marshal(doc)
		if err != nil {
			return fmt.Errorf("marshal %s document: %w", name, err)
		}
		payloads[name] = data
	}

	_, err := p.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for name, data := range payloads {
			pipe.Set(ctx, p.key(name), data, 0)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("save cache documents: %w", err)
	}
	return nil
}

// Load reads all documents. Missing keys yield empty documents.
func (p *RedisPersister) Load(ctx context.Context) (Documents, error) {
	docs := Documents{}
	targets := map[string]*map[string]*store.Series{
		docLive:      &docs.Live,
		docCompleted: &docs.Completed,
		docMaster:    &docs.Master,
	}
	for name, target := range targets {
		data, err := p.client.Get(ctx, p.key(name)).Bytes()
		if errors.Is(err, redis.Nil) {
			*target = map[string]*store.Series{}
			continue
		}
		if err != nil {
			return Documents{}, fmt.Errorf("load %s document: %w", name, err)
		}
		if err := json.Unmarshal(data, target); err != nil {
			return Documents{}, fmt.Errorf("decode %s document: %w", name, err)
		}
	}
	return docs, nil
}

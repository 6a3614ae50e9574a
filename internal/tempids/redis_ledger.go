// Package tempids remembers which record each temporary client token
// created, so a retried submission updates that record instead of creating
// a second one.
package tempids

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"labeller/api/internal/taxonomy"
)

const defaultTTL = 24 * time.Hour

// RedisLedger stores token mappings as plain keys that expire after ttl.
type RedisLedger struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisLedger connects to redisURL and checks the connection.
func NewRedisLedger(redisURL string, ttl time.Duration) (*RedisLedger, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisLedgerWithClient(client, ttl), nil
}

func NewRedisLedgerWithClient(client *redis.Client, ttl time.Duration) *RedisLedger {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &RedisLedger{
		client: client,
		prefix: "tempid:",
		ttl:    ttl,
	}
}

func (l *RedisLedger) key(kind taxonomy.Kind, token string) string {
	return l.prefix + string(kind) + ":" + token
}

func (l *RedisLedger) Lookup(ctx context.Context, kind taxonomy.Kind, token string) (int64, bool, error) {
	raw, err := l.client.Get(ctx, l.key(kind, token)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("lookup temp id: %w", err)
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("parse temp id %q: %w", raw, err)
	}
	return id, true, nil
}

// Remember stores every mapping entry in one round trip.
func (l *RedisLedger) Remember(ctx context.Context, kind taxonomy.Kind, mapping map[string]int64) error {
	if len(mapping) == 0 {
		return nil
	}
	pipe := l.client.Pipeline()
	for token, id := range mapping {
		pipe.Set(ctx, l.key(kind, token), strconv.FormatInt(id, 10), l.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("remember temp ids: %w", err)
	}
	return nil
}

func (l *RedisLedger) Close() error {
	return l.client.Close()
}

func (l *RedisLedger) Ping(ctx context.Context) error {
	return l.client.Ping(ctx).Err()
}

package worker

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Registry records which workers are alive.
type Registry interface {
	Heartbeat(ctx context.Context, s Stats, ttl time.Duration) error
	Deregister(ctx context.Context, workerID string) error
}

const workerKeyPrefix = "campaign-engine:worker:"

// RedisRegistry keeps one expiring hash per worker. A crashed worker simply
// stops refreshing and its entry expires.
type RedisRegistry struct {
	client redis.UniversalClient
}

// NewRedisRegistry creates a registry on client.
func NewRedisRegistry(client redis.UniversalClient) *RedisRegistry {
	return &RedisRegistry{client: client}
}

func workerKey(id string) string { return workerKeyPrefix + id }

// Heartbeat stores s and refreshes its expiry.
func (r *RedisRegistry) Heartbeat(ctx context.Context, s Stats, ttl time.Duration) error {
	key := workerKey(s.WorkerID)
	fields := map[string]interface{}{
		"passes":       s.Passes,
		"errors":       s.Errors,
		"tenants":      s.Tenants,
		"deliveries":   s.Deliveries,
		"heartbeat_at": time.Now().UTC().Format(time.RFC3339),
		"last_error":   s.LastError,
	}
	if !s.LastPassAt.IsZero() {
		fields["last_pass_at"] = s.LastPassAt.UTC().Format(time.RFC3339)
	}
	pipe := r.client.TxPipeline()
	pipe.HSet(ctx, key, fields)
	pipe.Expire(ctx, key, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("heartbeat %s: %w", s.WorkerID, err)
	}
	return nil
}

// Deregister removes the worker's entry.
func (r *RedisRegistry) Deregister(ctx context.Context, workerID string) error {
	return r.client.Del(ctx, workerKey(workerID)).Err()
}

// Workers lists live workers.
func (r *RedisRegistry) Workers(ctx context.Context) ([]Stats, error) {
	var out []Stats
	iter := r.client.Scan(ctx, 0, workerKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		h, err := r.client.HGetAll(ctx, key).Result()
		if err != nil {
			return nil, err
		}
		if len(h) == 0 {
			continue
		}
		s := Stats{
			WorkerID:   key[len(workerKeyPrefix):],
			Passes:     atoi(h["passes"]),
			Errors:     atoi(h["errors"]),
			Tenants:    atoi(h["tenants"]),
			Deliveries: atoi(h["deliveries"]),
			LastError:  h["last_error"],
		}
		if t, err := time.Parse(time.RFC3339, h["last_pass_at"]); err == nil {
			s.LastPassAt = t
		}
		out = append(out, s)
	}
	return out, iter.Err()
}

func atoi(s string) int64 {
	n, _ := strconv.ParseInt(s, 10, 64)
	return n
}

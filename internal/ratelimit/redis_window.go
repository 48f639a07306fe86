package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisWindow is a sliding window shared by every process using the same key.
// It backs the optional shared edit budget, where all jobs writing to one
// platform draw from a single per-minute allowance.
type RedisWindow struct {
	client *redis.Client
	key    string
	limit  int
	window time.Duration
}

func NewRedisWindow(client *redis.Client, key string, limit int, window time.Duration) *RedisWindow {
	return &RedisWindow{client: client, key: key, limit: limit, window: window}
}

// Admit prunes entries older than the window and reports whether another fits.
func (w *RedisWindow) Admit(ctx context.Context, now time.Time) (bool, error) {
	cutoff := now.Add(-w.window).UnixMilli()
	n, err := admitScript.Run(ctx, w.client, []string{w.key}, cutoff).Int64()
	if err != nil {
		return false, fmt.Errorf("edit window %s: %w", w.key, err)
	}
	return n < int64(w.limit), nil
}

// Record adds one event at now.
func (w *RedisWindow) Record(ctx context.Context, now time.Time) error {
	pipe := w.client.TxPipeline()
	pipe.ZAdd(ctx, w.key, redis.Z{Score: float64(now.UnixMilli()), Member: uuid.NewString()})
	pipe.PExpire(ctx, w.key, 2*w.window)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("record edit %s: %w", w.key, err)
	}
	return nil
}

var admitScript = redis.NewScript(`
local key = KEYS[1]
local cutoff = tonumber(ARGV[1])
redis.call('ZREMRANGEBYSCORE', key, '-inf', '(' .. cutoff)
return redis.call('ZCARD', key)
`)

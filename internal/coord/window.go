package coord

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// Window counts events per key over a trailing time window.
type Window interface {
	// Hit records one event for key at the given time and returns the number of
	// events inside the window ending at that time, including this one.
	Hit(ctx context.Context, key string, at time.Time) (int, error)
	// Reset forgets every event recorded for key.
	Reset(ctx context.Context, key string) error
}

// MemoryWindow is an in-process Window.
type MemoryWindow struct {
	size time.Duration

	mu     sync.Mutex
	events map[string][]time.Time
}

// NewMemoryWindow creates a Window of the given length.
func NewMemoryWindow(size time.Duration) *MemoryWindow {
	return &MemoryWindow{size: size, events: make(map[string][]time.Time)}
}

func (w *MemoryWindow) Hit(_ context.Context, key string, at time.Time) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	cutoff := at.Add(-w.size)
	kept := w.events[key][:0]
	for _, t := range w.events[key] {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	kept = append(kept, at)
	w.events[key] = kept
	return len(kept), nil
}

func (w *MemoryWindow) Reset(_ context.Context, key string) error {
	w.mu.Lock()
	delete(w.events, key)
	w.mu.Unlock()
	return nil
}

// RedisWindow keeps each key as a sorted set scored by event time in milliseconds.
type RedisWindow struct {
	client *redis.Client
	prefix string
	size   time.Duration
}

// NewRedisWindow creates a Redis-backed Window.
func NewRedisWindow(client *redis.Client, prefix string, size time.Duration) *RedisWindow {
	return &RedisWindow{client: client, prefix: prefix, size: size}
}

func (w *RedisWindow) key(k string) string {
	return w.prefix + ":window:" + k
}

func (w *RedisWindow) Hit(ctx context.Context, key string, at time.Time) (int, error) {
	k := w.key(key)
	nowMs := at.UnixMilli()
	cutoff := at.Add(-w.size).UnixMilli()

	pipe := w.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, k, "-inf", strconv.FormatInt(cutoff, 10))
	pipe.ZAdd(ctx, k, &redis.Z{Score: float64(nowMs), Member: uuid.New().String()})
	card := pipe.ZCard(ctx, k)
	pipe.PExpire(ctx, k, w.size)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return int(card.Val()), nil
}

func (w *RedisWindow) Reset(ctx context.Context, key string) error {
	return w.client.Del(ctx, w.key(key)).Err()
}

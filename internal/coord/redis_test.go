package coord

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client, err := NewRedisClient(context.Background(), &RedisConfig{Addr: mr.Addr()})
	if err != nil {
		t.Fatalf("NewRedisClient: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func TestRedisLocker(t *testing.T) {
	mr, client := newTestRedis(t)
	l := NewRedisLocker(client, "twparser")
	ctx := context.Background()

	release, ok, err := l.TryLock(ctx, "scheduler", time.Minute)
	if err != nil || !ok {
		t.Fatalf("first TryLock: ok=%v err=%v", ok, err)
	}
	if !mr.Exists("twparser:lock:scheduler") {
		t.Fatal("lock key not written")
	}
	if _, ok, err := l.TryLock(ctx, "scheduler", time.Minute); ok || err != nil {
		t.Errorf("second TryLock on a held key: ok=%v err=%v", ok, err)
	}
	if _, ok, _ := l.TryLock(ctx, "other", time.Minute); !ok {
		t.Error("independent keys should not contend")
	}

	release()
	release()
	release, ok, _ = l.TryLock(ctx, "scheduler", time.Minute)
	if !ok {
		t.Fatal("TryLock after release should succeed")
	}

	// The holder's lease lapses and a second instance takes the lock; the
	// stale release must leave the new holder's lock in place.
	mr.FastForward(time.Minute)
	_, ok, _ = l.TryLock(ctx, "scheduler", time.Minute)
	if !ok {
		t.Fatal("TryLock after ttl should succeed")
	}
	release()
	if _, ok, _ := l.TryLock(ctx, "scheduler", time.Minute); ok {
		t.Error("stale release freed a lock it no longer owned")
	}
}

func TestRedisWindow(t *testing.T) {
	_, client := newTestRedis(t)
	w := NewRedisWindow(client, "twparser", time.Minute)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		key  string
		at   time.Duration
		want int
	}{
		{"first hit", "slot-1", 0, 1},
		{"inside window", "slot-1", 10 * time.Second, 2},
		{"separate key", "slot-2", 20 * time.Second, 1},
		{"still inside window", "slot-1", 50 * time.Second, 3},
		{"oldest trimmed", "slot-1", 65 * time.Second, 3},
		{"all trimmed", "slot-1", 3 * time.Minute, 1},
	}
	for _, tt := range tests {
		got, err := w.Hit(ctx, tt.key, base.Add(tt.at))
		if err != nil {
			t.Fatalf("%s: Hit: %v", tt.name, err)
		}
		if got != tt.want {
			t.Errorf("%s: count = %d, want %d", tt.name, got, tt.want)
		}
	}

	if err := w.Reset(ctx, "slot-1"); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if got, _ := w.Hit(ctx, "slot-1", base.Add(3*time.Minute)); got != 1 {
		t.Errorf("count after reset = %d, want 1", got)
	}
}

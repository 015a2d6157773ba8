// Package mock provides a runtime that fabricates posts locally. It fails a
// configurable share of calls so retry and cooldown paths get exercised.
package mock

import (
	"context"
	"fmt"
	"hash/fnv"
	"math/rand"
	"sync"
	"time"

	"github.com/timmy/twparser/internal/domain"
	"github.com/timmy/twparser/internal/runtime"
)

// DefaultFailureRate is the share of calls that fail when none is configured.
const DefaultFailureRate = 0.05

var failureCodes = []domain.ErrorCode{
	domain.ErrCodeParserDown,
	domain.ErrCodeTimedOut,
	domain.ErrCodeRateLimit,
}

var phrases = []string{
	"BTC holding the range, watching the weekly close",
	"ETH gas is cheap again, good time to bridge",
	"New L2 airdrop rumours everywhere today",
	"Funding flipped negative on most majors",
	"SOL ecosystem TVL just printed a new high",
	"Stablecoin supply keeps climbing, liquidity is back",
}

// Config controls the fabricated behaviour.
type Config struct {
	FailureRate float64
	Latency     time.Duration
}

// Runtime is the mock runtime for one slot.
type Runtime struct {
	slotID string
	cfg    Config

	mu   sync.Mutex
	rand *rand.Rand
	now  func() time.Time
}

// New creates a mock runtime. A negative failure rate disables failures.
func New(slotID string, cfg Config) *Runtime {
	if cfg.FailureRate == 0 {
		cfg.FailureRate = DefaultFailureRate
	}
	return &Runtime{
		slotID: slotID,
		cfg:    cfg,
		rand:   rand.New(rand.NewSource(time.Now().UnixNano())),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Factory returns a registry factory building mock runtimes.
func Factory(cfg Config) runtime.Factory {
	return func(slot domain.EgressSlot) (runtime.Runtime, error) {
		return New(slot.ID, cfg), nil
	}
}

// WithRand replaces the random source. Used by tests for repeatable runs.
func (r *Runtime) WithRand(src *rand.Rand) *Runtime {
	r.mu.Lock()
	r.rand = src
	r.mu.Unlock()
	return r
}

func (r *Runtime) SourceType() domain.SlotType {
	return domain.SlotTypeMock
}

func (r *Runtime) float() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Float64()
}

func (r *Runtime) intn(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Intn(n)
}

// simulate waits out the configured latency and rolls for a failure.
func (r *Runtime) simulate(ctx context.Context) error {
	if r.cfg.Latency > 0 {
		timer := time.NewTimer(r.cfg.Latency)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}
	if r.cfg.FailureRate > 0 && r.float() < r.cfg.FailureRate {
		code := failureCodes[r.intn(len(failureCodes))]
		return runtime.NewError(code, "simulated failure on slot %s", r.slotID)
	}
	return nil
}

func (r *Runtime) Execute(ctx context.Context, req *runtime.Request) (*runtime.Result, error) {
	if err := r.simulate(ctx); err != nil {
		return nil, err
	}
	limit := req.Limit
	if limit <= 0 {
		limit = 20
	}
	items := Items(req.Query, limit, r.now())
	return &runtime.Result{
		Status:  domain.TaskStatusDone,
		Fetched: len(items),
		Planned: limit,
		Items:   items,
	}, nil
}

func (r *Runtime) Warm(ctx context.Context, req *runtime.Request) error {
	return r.simulate(ctx)
}

func (r *Runtime) HealthCheck(ctx context.Context) error {
	return ctx.Err()
}

// Items fabricates n posts for query. The same query always yields the same
// ids and texts; timestamps count back one minute per item from now.
func Items(query string, n int, now time.Time) []runtime.Item {
	h := fnv.New32a()
	h.Write([]byte(query))
	seed := h.Sum32()

	items := make([]runtime.Item, 0, n)
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("mock-%08x-%d", seed, i)
		author := fmt.Sprintf("trader_%d", (int(seed)+i*7)%97)
		items = append(items, runtime.Item{
			ID:        id,
			Author:    author,
			Text:      fmt.Sprintf("%s #%s", phrases[(int(seed%64)+i)%len(phrases)], query),
			URL:       "https://twitter.com/" + author + "/status/" + id,
			CreatedAt: now.Add(-time.Duration(i) * time.Minute),
		})
	}
	return items
}

// Package remote delegates parses to an out-of-process browser worker over its
// REST API.
package remote

import (
	"context"
	"fmt"
	"time"

	"github.com/timmy/twparser/internal/domain"
	"github.com/timmy/twparser/internal/runtime"
)

// APIKeyHeader carries the shared worker key.
const APIKeyHeader = "X-API-Key"

// Config holds settings shared by all remote workers.
type Config struct {
	APIKey  string
	Timeout time.Duration
}

// Runtime talks to one remote worker.
type Runtime struct {
	client *runtime.HTTPClient
}

// New builds a runtime for slot's worker base URL.
func New(slot domain.EgressSlot, cfg Config) (*Runtime, error) {
	if slot.WorkerBaseURL == "" {
		return nil, fmt.Errorf("slot %s has no worker base url", slot.ID)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 90 * time.Second
	}
	client := runtime.NewHTTPClient(slot.WorkerBaseURL, cfg.Timeout)
	if cfg.APIKey != "" {
		client.Resty().SetHeader(APIKeyHeader, cfg.APIKey)
	}
	return &Runtime{client: client}, nil
}

// Factory returns a registry factory for remote worker slots.
func Factory(cfg Config) runtime.Factory {
	return func(slot domain.EgressSlot) (runtime.Runtime, error) {
		return New(slot, cfg)
	}
}

func (r *Runtime) SourceType() domain.SlotType {
	return domain.SlotTypeRemoteWorker
}

func (r *Runtime) Execute(ctx context.Context, req *runtime.Request) (*runtime.Result, error) {
	var result runtime.Result
	if err := r.client.Post(ctx, "/execute", req, &result); err != nil {
		return nil, err
	}
	if result.Status == "" {
		result.Status = domain.TaskStatusDone
	}
	return &result, nil
}

func (r *Runtime) Warm(ctx context.Context, req *runtime.Request) error {
	return r.client.Post(ctx, "/warm", req, nil)
}

func (r *Runtime) HealthCheck(ctx context.Context) error {
	return r.client.Get(ctx, "/health", nil)
}

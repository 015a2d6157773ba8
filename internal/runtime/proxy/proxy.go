// Package proxy runs parses against the parser service with traffic routed
// through the slot's egress proxy.
package proxy

import (
	"context"
	"fmt"
	"time"

	"github.com/timmy/twparser/internal/domain"
	"github.com/timmy/twparser/internal/runtime"
)

// Config points at the parser service.
type Config struct {
	ParserURL string
	Timeout   time.Duration
}

// Runtime calls the parser service for one proxy slot.
type Runtime struct {
	client *runtime.HTTPClient
}

// New builds a runtime for slot. The slot must carry a proxy URL.
func New(slot domain.EgressSlot, cfg Config) (*Runtime, error) {
	if cfg.ParserURL == "" {
		return nil, fmt.Errorf("parser url is not configured")
	}
	if slot.ProxyURL == "" {
		return nil, fmt.Errorf("slot %s has no proxy url", slot.ID)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	client := runtime.NewHTTPClient(cfg.ParserURL, cfg.Timeout)
	client.Resty().SetProxy(slot.ProxyURL)
	return &Runtime{client: client}, nil
}

// Factory returns a registry factory for proxy slots.
func Factory(cfg Config) runtime.Factory {
	return func(slot domain.EgressSlot) (runtime.Runtime, error) {
		return New(slot, cfg)
	}
}

func (r *Runtime) SourceType() domain.SlotType {
	return domain.SlotTypeProxy
}

func (r *Runtime) Execute(ctx context.Context, req *runtime.Request) (*runtime.Result, error) {
	var result runtime.Result
	if err := r.client.Post(ctx, "/parse", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (r *Runtime) Warm(ctx context.Context, req *runtime.Request) error {
	return r.client.Post(ctx, "/warm", req, nil)
}

func (r *Runtime) HealthCheck(ctx context.Context) error {
	return r.client.Get(ctx, "/health", nil)
}

// Package runtime defines the executor abstraction the worker drives. Concrete
// runtimes live in subpackages: mock for local runs, proxy for HTTP through an
// egress proxy, and remote for out-of-process browser workers.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/timmy/twparser/internal/domain"
)

// Request is everything a runtime needs to execute one parse.
type Request struct {
	TaskID     string               `json:"taskId"`
	Type       domain.TaskType      `json:"type"`
	Query      string               `json:"query"`
	Limit      int                  `json:"limit"`
	AccountID  string               `json:"accountId"`
	SessionID  string               `json:"sessionId"`
	Cookies    []domain.Cookie      `json:"cookies"`
	UserAgent  string               `json:"userAgent,omitempty"`
	ScrollHint domain.ScrollProfile `json:"scrollProfileHint"`
}

// Item is a single scraped post.
type Item struct {
	ID        string    `json:"id"`
	Author    string    `json:"author"`
	Text      string    `json:"text"`
	URL       string    `json:"url,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Result is a normalized successful execution.
type Result struct {
	Status  domain.TaskStatus `json:"status"` // DONE or PARTIAL
	Fetched int               `json:"fetched"`
	Planned int               `json:"planned"`
	Items   []Item            `json:"items,omitempty"`
}

// Runtime executes parses through one egress slot.
type Runtime interface {
	// SourceType returns the slot type this runtime serves.
	SourceType() domain.SlotType

	// Execute runs the parse. Failures should be returned as *Error so the
	// worker can classify them.
	Execute(ctx context.Context, req *Request) (*Result, error)

	// Warm exercises the session without collecting results.
	Warm(ctx context.Context, req *Request) error

	// HealthCheck verifies the egress path itself is reachable.
	HealthCheck(ctx context.Context) error
}

// Error is a runtime failure with a normalized code.
type Error struct {
	Code    domain.ErrorCode
	Message string
	Err     error
}

// NewError creates a runtime error with the given code.
func NewError(code domain.ErrorCode, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Code)
	}
	return string(e.Code) + ": " + e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// CodeOf normalizes any execution error into an error code.
func CodeOf(err error) domain.ErrorCode {
	if err == nil {
		return ""
	}
	var rtErr *Error
	if errors.As(err, &rtErr) && rtErr.Code != "" {
		return rtErr.Code
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return domain.ErrCodeTimedOut
	case errors.Is(err, context.Canceled):
		return domain.ErrCodeAborted
	}
	return domain.ErrCodeUnknown
}

// Factory builds a runtime for one slot.
type Factory func(slot domain.EgressSlot) (Runtime, error)

// Registry resolves the runtime for a slot, caching one instance per slot.
type Registry struct {
	mu        sync.Mutex
	factories map[domain.SlotType]Factory
	instances map[string]Runtime
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[domain.SlotType]Factory),
		instances: make(map[string]Runtime),
	}
}

// Register installs the factory for a slot type.
func (r *Registry) Register(t domain.SlotType, f Factory) {
	r.mu.Lock()
	r.factories[t] = f
	r.mu.Unlock()
}

// For returns the runtime for a slot.
func (r *Registry) For(slot domain.EgressSlot) (Runtime, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if rt, ok := r.instances[slot.ID]; ok {
		return rt, nil
	}
	f, ok := r.factories[slot.Type]
	if !ok {
		return nil, fmt.Errorf("no runtime registered for slot type %s", slot.Type)
	}
	rt, err := f(slot)
	if err != nil {
		return nil, fmt.Errorf("build runtime for slot %s: %w", slot.ID, err)
	}
	r.instances[slot.ID] = rt
	return rt, nil
}

// Forget drops the cached runtime for a slot, e.g. after its settings change.
func (r *Registry) Forget(slotID string) {
	r.mu.Lock()
	delete(r.instances, slotID)
	r.mu.Unlock()
}

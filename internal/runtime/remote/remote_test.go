package remote

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/timmy/twparser/internal/domain"
	"github.com/timmy/twparser/internal/runtime"
)

func newWorker(t *testing.T, handler http.HandlerFunc) *Runtime {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	rt, err := New(domain.EgressSlot{ID: "w1", WorkerBaseURL: srv.URL}, Config{APIKey: "secret"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return rt
}

func TestExecute(t *testing.T) {
	rt := newWorker(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/execute" || r.Method != http.MethodPost {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get(APIKeyHeader); got != "secret" {
			t.Errorf("api key = %q, want secret", got)
		}
		var req runtime.Request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(runtime.Result{
			Status:  domain.TaskStatusPartial,
			Fetched: 3,
			Planned: req.Limit,
			Items:   []runtime.Item{{ID: "1"}, {ID: "2"}, {ID: "3"}},
		})
	})

	res, err := rt.Execute(context.Background(), &runtime.Request{Query: "btc", Limit: 20})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Status != domain.TaskStatusPartial || res.Fetched != 3 || res.Planned != 20 || len(res.Items) != 3 {
		t.Errorf("Execute = %+v", res)
	}
}

func TestExecuteErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   domain.ErrorCode
	}{
		{"rate limited", http.StatusTooManyRequests, `{}`, domain.ErrCodeRateLimit},
		{"unauthorized", http.StatusUnauthorized, `{}`, domain.ErrCodeSessionInvalid},
		{"server error", http.StatusBadGateway, `{}`, domain.ErrCodeParserDown},
		{"body code wins", http.StatusBadRequest, `{"errorCode":"CAPTCHA","message":"solve me"}`, domain.ErrCodeCaptcha},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rt := newWorker(t, func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			})
			_, err := rt.Execute(context.Background(), &runtime.Request{Query: "q"})
			if got := runtime.CodeOf(err); got != tt.want {
				t.Errorf("CodeOf = %s, want %s (err %v)", got, tt.want, err)
			}
		})
	}
}

func TestTransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	rt, err := New(domain.EgressSlot{ID: "w1", WorkerBaseURL: url}, Config{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	err = rt.HealthCheck(context.Background())
	if got := runtime.CodeOf(err); got != domain.ErrCodeConnReset {
		t.Errorf("CodeOf = %s, want %s", got, domain.ErrCodeConnReset)
	}
}

func TestNewRequiresBaseURL(t *testing.T) {
	if _, err := New(domain.EgressSlot{ID: "w1"}, Config{}); err == nil {
		t.Error("New without base url succeeded")
	}
}

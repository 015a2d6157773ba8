package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/timmy/twparser/internal/api/middleware"
	"github.com/timmy/twparser/internal/app"
	"github.com/timmy/twparser/internal/config"
	"github.com/timmy/twparser/internal/domain"
	"github.com/timmy/twparser/internal/logger"
)

type envelope struct {
	OK          bool            `json:"ok"`
	Data        json.RawMessage `json:"data"`
	Error       string          `json:"error"`
	Reason      string          `json:"reason"`
	RemainingMs int64           `json:"remainingMs"`
}

type testServer struct {
	t      *testing.T
	app    *app.App
	router *gin.Engine
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	cfg := &config.Config{
		Server: config.ServerConfig{Mode: "test", DefaultUserID: "dev-user"},
		Database: config.DatabaseConfig{
			Driver:       "sqlite",
			Path:         filepath.Join(t.TempDir(), "twparser.db"),
			MaxIdleConns: 1,
			MaxOpenConns: 1,
			AutoMigrate:  true,
			LogLevel:     "silent",
		},
		Crypto: config.CryptoConfig{Secret: "router-test-secret", Salt: "router-test-salt"},
	}
	log := logger.New(&logger.Config{Level: "error", Format: "text", Output: io.Discard})

	a, err := app.New(context.Background(), cfg, log)
	if err != nil {
		t.Fatalf("app.New: %v", err)
	}
	t.Cleanup(a.Close)

	router := SetupRouter(&Services{
		Selection:    a.Selection,
		Slots:        a.SlotService,
		Credentials:  a.Credentials,
		Cooldowns:    a.Cooldowns,
		Parse:        a.Parse,
		Scheduler:    a.Scheduler,
		Execution:    a.Execution,
		Worker:       a.Worker,
		Risk:         a.Risk,
		Warmth:       a.Warmth,
		HealthWorker: a.HealthWorker,
	}, cfg.Server, log)
	return &testServer{t: t, app: a, router: router}
}

func (s *testServer) do(method, path, owner string, body interface{}) (int, envelope) {
	s.t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			s.t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if owner != "" {
		req.Header.Set(middleware.OwnerHeader, owner)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	var env envelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		s.t.Fatalf("%s %s: decode %q: %v", method, path, rec.Body.String(), err)
	}
	return rec.Code, env
}

// seed creates one mock slot and one account owned by owner, with cookies
// ingested through the credentials endpoint.
func (s *testServer) seed(owner, accountID string) {
	s.t.Helper()
	ctx := context.Background()
	if err := s.app.SlotService.Create(ctx, &domain.EgressSlot{
		ID: "slot-1", Label: "mock", Type: domain.SlotTypeMock, Enabled: true,
	}); err != nil {
		s.t.Fatalf("create slot: %v", err)
	}
	if err := s.app.Accounts.Create(ctx, &domain.Account{
		ID: accountID, OwnerUserID: owner, Username: accountID, Enabled: true,
	}); err != nil {
		s.t.Fatalf("create account: %v", err)
	}
	code, env := s.do(http.MethodPost, "/api/v4/twitter/accounts/"+accountID+"/credentials", owner, map[string]interface{}{
		"cookies": []domain.Cookie{
			{Name: domain.CookieAuthToken, Value: "token"},
			{Name: domain.CookieCt0, Value: "csrf"},
		},
		"userAgent": "test-agent",
	})
	if code != http.StatusOK {
		s.t.Fatalf("ingest credentials = %d %s", code, env.Error)
	}
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("body = %v", body)
	}
}

func TestParseSearch(t *testing.T) {
	s := newTestServer(t)
	s.seed("user-1", "acc-1")

	tests := []struct {
		name       string
		owner      string
		body       interface{}
		wantStatus int
		wantReason string
	}{
		{"blank keyword", "user-1", map[string]interface{}{"keyword": "  "}, http.StatusBadRequest, ""},
		{"owner without accounts", "user-2", map[string]interface{}{"keyword": "golang"}, http.StatusBadRequest, "NO_ELIGIBLE_SESSION"},
		{"default owner", "", map[string]interface{}{"keyword": "golang"}, http.StatusBadRequest, "NO_ELIGIBLE_SESSION"},
		{"unknown explicit account", "user-1", map[string]interface{}{"keyword": "golang", "accountId": "missing"}, http.StatusBadRequest, "ACCOUNT_NOT_FOUND"},
		{"proxy required", "user-1", map[string]interface{}{"keyword": "golang", "requireProxy": true}, http.StatusBadRequest, "NO_PROXY_AVAILABLE"},
		{"queued", "user-1", map[string]interface{}{"keyword": "golang", "limit": 20}, http.StatusOK, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, env := s.do(http.MethodPost, "/api/v4/twitter/parse/search", tt.owner, tt.body)
			if code != tt.wantStatus {
				t.Fatalf("status = %d (%s), want %d", code, env.Error, tt.wantStatus)
			}
			if env.Reason != tt.wantReason {
				t.Errorf("reason = %q, want %q", env.Reason, tt.wantReason)
			}
		})
	}
}

func TestTaskLifecycle(t *testing.T) {
	s := newTestServer(t)
	s.seed("user-1", "acc-1")

	code, env := s.do(http.MethodPost, "/api/v4/twitter/parse/account", "user-1", map[string]interface{}{"username": "@jack"})
	if code != http.StatusOK {
		t.Fatalf("parse account = %d %s", code, env.Error)
	}
	var queued struct {
		Status    string `json:"status"`
		TaskID    string `json:"taskId"`
		AccountID string `json:"accountId"`
	}
	if err := json.Unmarshal(env.Data, &queued); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if queued.Status != string(domain.TaskStatusQueued) || queued.AccountID != "acc-1" || queued.TaskID == "" {
		t.Fatalf("queued = %+v", queued)
	}

	if code, _ := s.do(http.MethodGet, "/api/v4/twitter/parse/tasks/"+queued.TaskID, "user-1", nil); code != http.StatusOK {
		t.Errorf("owner GET task = %d", code)
	}
	code, env = s.do(http.MethodGet, "/api/v4/twitter/parse/tasks/"+queued.TaskID, "user-2", nil)
	if code != http.StatusNotFound || env.Error != "not found" {
		t.Errorf("foreign GET task = %d %q", code, env.Error)
	}
	if code, _ := s.do(http.MethodGet, "/api/v4/twitter/parse/tasks/missing", "user-1", nil); code != http.StatusNotFound {
		t.Errorf("missing task = %d", code)
	}

	code, env = s.do(http.MethodGet, "/api/v4/twitter/parse/tasks?limit=5", "user-1", nil)
	if code != http.StatusOK {
		t.Fatalf("list tasks = %d", code)
	}
	var page struct {
		Total int64 `json:"total"`
	}
	if err := json.Unmarshal(env.Data, &page); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if page.Total != 1 {
		t.Errorf("total = %d, want 1", page.Total)
	}
}

func TestAccountCooldownEndpoints(t *testing.T) {
	s := newTestServer(t)
	s.seed("user-1", "acc-1")
	ctx := context.Background()

	if _, err := s.app.Cooldowns.ApplyAccountCooldown(ctx, "acc-1", domain.CooldownRateLimit); err != nil {
		t.Fatalf("apply cooldown: %v", err)
	}

	code, env := s.do(http.MethodGet, "/api/v4/twitter/runtime/selection?accountId=acc-1", "user-1", nil)
	if code != http.StatusBadRequest || env.Reason != "ACCOUNT_ON_COOLDOWN" || env.RemainingMs <= 0 {
		t.Errorf("selection on cooldown = %d %q %d", code, env.Reason, env.RemainingMs)
	}

	if code, env := s.do(http.MethodDelete, "/api/v4/twitter/accounts/acc-1/cooldown", "user-1", nil); code != http.StatusOK {
		t.Fatalf("clear cooldown = %d %s", code, env.Error)
	}
	if code, env := s.do(http.MethodGet, "/api/v4/twitter/runtime/selection", "user-1", nil); code != http.StatusOK {
		t.Errorf("selection after clear = %d %q", code, env.Reason)
	}
}

func TestSlotPauseBlocksSelection(t *testing.T) {
	s := newTestServer(t)
	s.seed("user-1", "acc-1")

	if code, env := s.do(http.MethodPost, "/api/v4/twitter/runtime/slots/slot-1/pause", "user-1", map[string]string{"reason": "maintenance"}); code != http.StatusOK {
		t.Fatalf("pause = %d %s", code, env.Error)
	}
	code, env := s.do(http.MethodGet, "/api/v4/twitter/runtime/selection", "user-1", nil)
	if code != http.StatusBadRequest || env.Reason != "SLOTS_PAUSED" {
		t.Errorf("selection with paused slot = %d %q", code, env.Reason)
	}

	if code, env := s.do(http.MethodPost, "/api/v4/twitter/runtime/slots/slot-1/resume", "user-1", nil); code != http.StatusOK {
		t.Fatalf("resume = %d %s", code, env.Error)
	}
	if code, _ := s.do(http.MethodGet, "/api/v4/twitter/runtime/selection", "user-1", nil); code != http.StatusOK {
		t.Errorf("selection after resume = %d", code)
	}
	if code, _ := s.do(http.MethodPost, "/api/v4/twitter/runtime/slots/nope/pause", "user-1", nil); code != http.StatusNotFound {
		t.Errorf("pause unknown slot = %d", code)
	}
}

package repository

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/timmy/twparser/internal/domain"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.New().String())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:  gormlogger.Default.LogMode(gormlogger.Silent),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql.DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	if err := Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func seedAccount(t *testing.T, repo *AccountRepository, id, owner string) {
	t.Helper()
	if err := repo.Create(context.Background(), &domain.Account{
		ID: id, OwnerUserID: owner, Username: id, Enabled: true,
	}); err != nil {
		t.Fatalf("create account: %v", err)
	}
}

func TestSessionRepository_IngestKeepsOneActiveSession(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	accounts := NewAccountRepository(db)
	sessions := NewSessionRepository(db)
	seedAccount(t, accounts, "acc-1", "owner")

	first, err := sessions.Ingest(ctx, &domain.Session{AccountID: "acc-1", HasAuthToken: true, HasCt0: true})
	if err != nil {
		t.Fatalf("first ingest: %v", err)
	}
	if first.Session.Version != 1 || first.VersionIncremented || first.PreviousDeactivated != nil {
		t.Errorf("first ingest = %+v", first)
	}
	if first.Session.Status != domain.SessionStatusOK {
		t.Errorf("status = %s, want OK", first.Session.Status)
	}

	for want := 2; want <= 4; want++ {
		res, err := sessions.Ingest(ctx, &domain.Session{AccountID: "acc-1", HasAuthToken: true})
		if err != nil {
			t.Fatalf("ingest v%d: %v", want, err)
		}
		if res.Session.Version != want {
			t.Errorf("version = %d, want %d", res.Session.Version, want)
		}
		if !res.VersionIncremented || res.PreviousDeactivated == nil {
			t.Errorf("ingest v%d should deactivate the previous session", want)
		}
		if res.PreviousDeactivated.Version != want-1 {
			t.Errorf("deactivated version = %d, want %d", res.PreviousDeactivated.Version, want-1)
		}
		if res.Session.Status != domain.SessionStatusStale {
			t.Errorf("missing ct0 should be STALE, got %s", res.Session.Status)
		}
	}

	var active int64
	db.Model(&domain.Session{}).Where("account_id = ? AND is_active = ?", "acc-1", true).Count(&active)
	if active != 1 {
		t.Errorf("active sessions = %d, want 1", active)
	}

	account, _ := accounts.GetByID(ctx, "acc-1")
	if account.SessionsCount != 4 {
		t.Errorf("sessionsCount = %d, want 4", account.SessionsCount)
	}
}

func TestSessionRepository_IngestUnknownAccount(t *testing.T) {
	sessions := NewSessionRepository(newTestDB(t))
	_, err := sessions.Ingest(context.Background(), &domain.Session{AccountID: "missing"})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

func TestSessionRepository_Invalidate(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	seedAccount(t, NewAccountRepository(db), "acc-1", "owner")
	sessions := NewSessionRepository(db)

	res, _ := sessions.Ingest(ctx, &domain.Session{AccountID: "acc-1", HasAuthToken: true, HasCt0: true})
	if err := sessions.Invalidate(ctx, res.Session.ID, domain.SessionStatusExpired, "SESSION_EXPIRED"); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	got, _ := sessions.GetActive(ctx, "acc-1")
	if got == nil || got.Status != domain.SessionStatusExpired {
		t.Errorf("active session after invalidate = %+v", got)
	}
}

func TestAccountRepository_ApplyCooldownIsMonotonic(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	accounts := NewAccountRepository(db)
	seedAccount(t, accounts, "acc-1", "owner")

	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	long := now.Add(30 * time.Minute)
	short := now.Add(15 * time.Minute)

	tests := []struct {
		name        string
		until       time.Time
		at          time.Time
		wantEntered bool
		wantUntil   time.Time
		wantCount   int
	}{
		{"enter", long, now, true, long, 1},
		{"shorter does not reduce", short, now.Add(time.Minute), false, long, 1},
		{"longer extends", long.Add(time.Minute), now.Add(2 * time.Minute), false, long.Add(time.Minute), 1},
		{"re-enter after expiry", now.Add(3 * time.Hour), now.Add(2 * time.Hour), true, now.Add(3 * time.Hour), 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entered, err := accounts.ApplyCooldown(ctx, "acc-1", tt.until, domain.CooldownRateLimit, tt.at)
			if err != nil {
				t.Fatalf("ApplyCooldown: %v", err)
			}
			if entered != tt.wantEntered {
				t.Errorf("entered = %v, want %v", entered, tt.wantEntered)
			}
			account, _ := accounts.GetByID(ctx, "acc-1")
			if account.CooldownUntil == nil || !account.CooldownUntil.Equal(tt.wantUntil) {
				t.Errorf("cooldownUntil = %v, want %v", account.CooldownUntil, tt.wantUntil)
			}
			if account.CooldownCount != tt.wantCount {
				t.Errorf("cooldownCount = %d, want %d", account.CooldownCount, tt.wantCount)
			}
		})
	}

	if _, err := accounts.ApplyCooldown(ctx, "missing", long, domain.CooldownRateLimit, now); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing account error = %v, want ErrNotFound", err)
	}
}

func TestAccountRepository_SetPreferredIsExclusive(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	accounts := NewAccountRepository(db)
	seedAccount(t, accounts, "a", "owner")
	seedAccount(t, accounts, "b", "owner")
	seedAccount(t, accounts, "c", "other")

	if err := accounts.SetPreferred(ctx, "owner", "a"); err != nil {
		t.Fatalf("SetPreferred a: %v", err)
	}
	if err := accounts.SetPreferred(ctx, "owner", "b"); err != nil {
		t.Fatalf("SetPreferred b: %v", err)
	}
	if err := accounts.SetPreferred(ctx, "other", "c"); err != nil {
		t.Fatalf("SetPreferred c: %v", err)
	}

	preferred, _ := accounts.GetPreferred(ctx, "owner")
	if preferred == nil || preferred.ID != "b" {
		t.Errorf("preferred = %+v, want b", preferred)
	}
	var count int64
	db.Model(&domain.Account{}).Where("owner_user_id = ? AND is_preferred = ?", "owner", true).Count(&count)
	if count != 1 {
		t.Errorf("preferred accounts for owner = %d, want 1", count)
	}

	if err := accounts.SetPreferred(ctx, "owner", "c"); !errors.Is(err, ErrNotFound) {
		t.Errorf("foreign account error = %v, want ErrNotFound", err)
	}

	if err := accounts.ClearPreferred(ctx, "owner"); err != nil {
		t.Fatalf("ClearPreferred: %v", err)
	}
	if p, _ := accounts.GetPreferred(ctx, "owner"); p != nil {
		t.Errorf("preferred after clear = %+v", p)
	}
	if p, _ := accounts.GetPreferred(ctx, "other"); p == nil || p.ID != "c" {
		t.Error("clearing one owner must not touch another")
	}
}

func TestSlotRepository_BindIsExclusive(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	accounts := NewAccountRepository(db)
	slots := NewSlotRepository(db)
	seedAccount(t, accounts, "a", "owner")
	seedAccount(t, accounts, "b", "owner")
	for _, id := range []string{"s1", "s2"} {
		if err := slots.Create(ctx, &domain.EgressSlot{ID: id, Label: id, Type: domain.SlotTypeProxy, Enabled: true}); err != nil {
			t.Fatalf("create slot: %v", err)
		}
	}

	if err := slots.Bind(ctx, "s1", "a"); err != nil {
		t.Fatalf("bind s1->a: %v", err)
	}
	// Moving account a to s2 releases s1.
	if err := slots.Bind(ctx, "s2", "a"); err != nil {
		t.Fatalf("bind s2->a: %v", err)
	}
	s1, _ := slots.GetByID(ctx, "s1")
	s2, _ := slots.GetByID(ctx, "s2")
	if s1.BoundAccountID != nil {
		t.Errorf("s1 still bound to %s", *s1.BoundAccountID)
	}
	if !s2.BoundTo("a") {
		t.Error("s2 should be bound to a")
	}

	// Rebinding a slot replaces its account.
	if err := slots.Bind(ctx, "s2", "b"); err != nil {
		t.Fatalf("bind s2->b: %v", err)
	}
	s2, _ = slots.GetByID(ctx, "s2")
	if !s2.BoundTo("b") {
		t.Error("s2 should be bound to b")
	}

	if err := slots.Bind(ctx, "s1", "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown account error = %v, want ErrNotFound", err)
	}
}

func TestTargetRepository_EmptyCounterAndStats(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	targets := NewTargetRepository(db)
	if err := targets.Create(ctx, &domain.Target{ID: "t1", OwnerUserID: "owner", Type: domain.TargetTypeKeyword, Query: "go", Enabled: true}); err != nil {
		t.Fatalf("create target: %v", err)
	}

	for want := 1; want <= 3; want++ {
		got, err := targets.IncrementEmpty(ctx, "t1")
		if err != nil {
			t.Fatalf("IncrementEmpty: %v", err)
		}
		if got != want {
			t.Errorf("IncrementEmpty() = %d, want %d", got, want)
		}
	}

	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	if _, err := targets.ApplyCooldown(ctx, "t1", now.Add(10*time.Minute), domain.CooldownConsecutiveEmpty, now); err != nil {
		t.Fatalf("ApplyCooldown: %v", err)
	}
	if err := targets.ClearCooldown(ctx, "t1"); err != nil {
		t.Fatalf("ClearCooldown: %v", err)
	}
	if err := targets.RecordRun(ctx, "t1", 12, now); err != nil {
		t.Fatalf("RecordRun: %v", err)
	}

	target, _ := targets.GetByID(ctx, "t1")
	if target.ConsecutiveEmptyCount != 0 || target.CooldownUntil != nil || target.CooldownReason != nil {
		t.Errorf("ClearCooldown should reset cooldown and counter: %+v", target)
	}
	if target.TotalRuns != 1 || target.TotalPostsFetched != 12 || target.LastRunAt == nil {
		t.Errorf("stats = runs %d fetched %d", target.TotalRuns, target.TotalPostsFetched)
	}

	if _, err := targets.IncrementEmpty(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("IncrementEmpty(missing) error = %v, want ErrNotFound", err)
	}
}

func TestTaskRepository_CreatePlannedGuardsDoubleBooking(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	targets := NewTargetRepository(db)
	tasks := NewTaskRepository(db)
	targets.Create(ctx, &domain.Target{ID: "t1", OwnerUserID: "owner", Type: domain.TargetTypeKeyword, Query: "go", Enabled: true})

	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	targetID := "t1"

	created, err := tasks.CreatePlanned(ctx, &domain.Task{OwnerUserID: "owner", Type: domain.TaskTypeSearch, TargetID: &targetID}, 0, now)
	if err != nil || !created {
		t.Fatalf("first commit: created=%v err=%v", created, err)
	}
	// A second commit from the same plan snapshot must not book the target again.
	created, err = tasks.CreatePlanned(ctx, &domain.Task{OwnerUserID: "owner", Type: domain.TaskTypeSearch, TargetID: &targetID}, 0, now)
	if err != nil || created {
		t.Errorf("stale commit: created=%v err=%v, want false,nil", created, err)
	}

	// A target put on cooldown between plan and commit is not booked.
	targets.ApplyCooldown(ctx, "t1", now.Add(time.Hour), domain.CooldownRateLimit, now)
	created, _ = tasks.CreatePlanned(ctx, &domain.Task{OwnerUserID: "owner", Type: domain.TaskTypeSearch, TargetID: &targetID}, 1, now)
	if created {
		t.Error("target on cooldown must not be booked")
	}

	queued, _ := tasks.ListByStatus(ctx, domain.TaskStatusQueued)
	if len(queued) != 1 || queued[0].TargetID == nil || *queued[0].TargetID != "t1" {
		t.Errorf("queued = %+v, want one task carrying target t1", queued)
	}
}

func TestTaskRepository_Transition(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	tasks := NewTaskRepository(db)

	task := &domain.Task{OwnerUserID: "owner", Type: domain.TaskTypeSearch, Query: "go", Limit: 50}
	if err := tasks.Create(ctx, task); err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := tasks.Transition(ctx, task.ID, domain.TaskStatusQueued, domain.TaskStatusRunning, nil); err != nil {
		t.Fatalf("QUEUED->RUNNING: %v", err)
	}
	if err := tasks.Transition(ctx, task.ID, domain.TaskStatusQueued, domain.TaskStatusRunning, nil); !errors.Is(err, ErrConflict) {
		t.Errorf("second claim error = %v, want ErrConflict", err)
	}
	if err := tasks.Transition(ctx, task.ID, domain.TaskStatusRunning, domain.TaskStatusQueued, nil); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Errorf("RUNNING->QUEUED error = %v, want ErrInvalidTransition", err)
	}

	done := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	if err := tasks.Transition(ctx, task.ID, domain.TaskStatusRunning, domain.TaskStatusDone, map[string]interface{}{
		"fetched": 42, "completed_at": done, "duration_ms": int64(1500),
	}); err != nil {
		t.Fatalf("RUNNING->DONE: %v", err)
	}

	got, _ := tasks.GetByID(ctx, task.ID)
	if got.Status != domain.TaskStatusDone || got.Fetched != 42 || got.DurationMs != 1500 || got.CompletedAt == nil {
		t.Errorf("task = %+v", got)
	}

	counts, _ := tasks.CountByStatus(ctx)
	if counts[domain.TaskStatusDone] != 1 {
		t.Errorf("CountByStatus[DONE] = %d, want 1", counts[domain.TaskStatusDone])
	}
}

package service

import (
	"context"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/timmy/twparser/internal/config"
	"github.com/timmy/twparser/internal/coord"
	"github.com/timmy/twparser/internal/crypto"
	"github.com/timmy/twparser/internal/domain"
	"github.com/timmy/twparser/internal/logger"
	"github.com/timmy/twparser/internal/repository"
	"github.com/timmy/twparser/internal/runtime"
	"github.com/timmy/twparser/internal/storage"
)

const testOwner = "owner-1"

// fakeRuntime answers Execute from a script so tests control every outcome.
type fakeRuntime struct {
	mu      sync.Mutex
	calls   int
	reqs    []runtime.Request
	execute func(ctx context.Context, call int, req *runtime.Request) (*runtime.Result, error)
	warm    func(ctx context.Context, req *runtime.Request) error
}

func (f *fakeRuntime) SourceType() domain.SlotType { return domain.SlotTypeMock }

func (f *fakeRuntime) Execute(ctx context.Context, req *runtime.Request) (*runtime.Result, error) {
	f.mu.Lock()
	f.calls++
	call := f.calls
	f.reqs = append(f.reqs, *req)
	fn := f.execute
	f.mu.Unlock()
	if fn == nil {
		return &runtime.Result{Status: domain.TaskStatusDone, Fetched: 1, Items: []runtime.Item{{ID: "1"}}}, nil
	}
	return fn(ctx, call, req)
}

func (f *fakeRuntime) Warm(ctx context.Context, req *runtime.Request) error {
	if f.warm == nil {
		return nil
	}
	return f.warm(ctx, req)
}

func (f *fakeRuntime) HealthCheck(context.Context) error { return nil }

func (f *fakeRuntime) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fixture struct {
	t     *testing.T
	ctx   context.Context
	clock time.Time
	log   *logger.Logger

	db       *gorm.DB
	accounts *repository.AccountRepository
	sessions *repository.SessionRepository
	signals  *repository.SignalRepository
	slotRepo *repository.SlotRepository
	targets  *repository.TargetRepository
	tasks    *repository.TaskRepository

	sealer    *crypto.Sealer
	runtime   *fakeRuntime
	runtimes  *runtime.Registry
	store     *storage.MemoryStorage
	locker    *coord.LocalLocker
	risk      *RiskService
	cooldowns *CooldownService
	slots     *SlotService
	selection *SelectionService
	scheduler *SchedulerService
	archive   *ArchiveService
	worker    *TaskWorker
	parse     *ParseService

	sleepMu sync.Mutex
	sleeps  []time.Duration
}

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

	if err := repository.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func newTestLogger() *logger.Logger {
	return logger.New(&logger.Config{Level: "error", Format: "text", Output: io.Discard})
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := newTestDB(t)
	f := &fixture{
		t:        t,
		ctx:      context.Background(),
		clock:    time.Now().UTC(),
		log:      newTestLogger(),
		db:       db,
		accounts: repository.NewAccountRepository(db),
		sessions: repository.NewSessionRepository(db),
		signals:  repository.NewSignalRepository(db),
		slotRepo: repository.NewSlotRepository(db),
		targets:  repository.NewTargetRepository(db),
		tasks:    repository.NewTaskRepository(db),
		runtime:  &fakeRuntime{},
		runtimes: runtime.NewRegistry(),
		store:    storage.NewMemoryStorage(),
		locker:   coord.NewLocalLocker(),
	}

	sealer, err := crypto.NewSealer("test-secret", "test-salt")
	if err != nil {
		t.Fatalf("sealer: %v", err)
	}
	f.sealer = sealer
	f.runtimes.Register(domain.SlotTypeMock, func(domain.EgressSlot) (runtime.Runtime, error) {
		return f.runtime, nil
	})

	now := func() time.Time { return f.clock }
	policy := DefaultCooldownPolicy()

	f.risk = NewRiskService(f.sessions, f.accounts, f.signals, f.log, DefaultRiskConfig())
	f.risk.now = now
	f.cooldowns = NewCooldownService(f.accounts, f.targets, coord.NewMemoryWindow(policy.AbortStormWindow), f.log, policy)
	f.cooldowns.now = now
	f.slots = NewSlotService(f.slotRepo, NewCapacityManager(config.CapacityConfig{}), f.runtimes, f.log)
	f.selection = NewSelectionService(f.accounts, f.sessions, f.slots, f.risk, f.sealer, f.log)
	f.selection.now = now
	f.scheduler = NewSchedulerService(f.targets, f.tasks, f.selection, f.slots, f.locker, f.log, config.SchedulerConfig{})
	f.scheduler.now = now
	f.archive = NewArchiveService(f.store, "results", f.log)
	f.worker = NewTaskWorker(TaskWorkerDeps{
		Tasks:     f.tasks,
		Targets:   f.targets,
		Accounts:  f.accounts,
		Sessions:  f.sessions,
		Selection: f.selection,
		Cooldowns: f.cooldowns,
		Risk:      f.risk,
		Slots:     f.slots,
		Runtimes:  f.runtimes,
		Archive:   f.archive,
	}, f.log, config.WorkerConfig{RuntimeTimeout: 5 * time.Second})
	f.worker.now = now
	f.worker.sleep = func(_ context.Context, d time.Duration) error {
		f.sleepMu.Lock()
		f.sleeps = append(f.sleeps, d)
		f.sleepMu.Unlock()
		return nil
	}
	f.parse = NewParseService(f.tasks, f.selection, f.archive, f.log)
	return f
}

type accountSpec struct {
	id        string
	owner     string
	risk      int
	priority  int
	noCt0     bool
	preferred bool
	disabled  bool
}

// addAccount creates an account with one active session and returns the session.
func (f *fixture) addAccount(spec accountSpec) *domain.Session {
	f.t.Helper()
	if spec.owner == "" {
		spec.owner = testOwner
	}
	if err := f.accounts.Create(f.ctx, &domain.Account{
		ID:          spec.id,
		OwnerUserID: spec.owner,
		Username:    spec.id,
		Enabled:     true,
		Priority:    spec.priority,
	}); err != nil {
		f.t.Fatalf("create account %s: %v", spec.id, err)
	}
	if spec.disabled {
		if err := f.accounts.SetEnabled(f.ctx, spec.id, false); err != nil {
			f.t.Fatalf("disable account: %v", err)
		}
	}

	cookies := []domain.Cookie{{Name: domain.CookieAuthToken, Value: "token-" + spec.id}}
	if !spec.noCt0 {
		cookies = append(cookies, domain.Cookie{Name: domain.CookieCt0, Value: "ct0-" + spec.id})
	}
	sealed, err := f.sealer.SealCookies(cookies)
	if err != nil {
		f.t.Fatalf("seal: %v", err)
	}
	hasAuth, hasCt0 := domain.CookieFlags(cookies)
	res, err := f.sessions.Ingest(f.ctx, &domain.Session{
		AccountID:      spec.id,
		HasAuthToken:   hasAuth,
		HasCt0:         hasCt0,
		CookiesSealed:  sealed,
		CookieIssuedAt: f.clock,
	})
	if err != nil {
		f.t.Fatalf("ingest session: %v", err)
	}
	if spec.risk != 0 {
		if err := f.sessions.UpdateRisk(f.ctx, res.Session.ID, spec.risk); err != nil {
			f.t.Fatalf("update risk: %v", err)
		}
		res.Session.RiskScore = spec.risk
	}
	if spec.preferred {
		if err := f.accounts.SetPreferred(f.ctx, spec.owner, spec.id); err != nil {
			f.t.Fatalf("set preferred: %v", err)
		}
	}
	return res.Session
}

func (f *fixture) addSlot(slot domain.EgressSlot) {
	f.t.Helper()
	if slot.Label == "" {
		slot.Label = slot.ID
	}
	if slot.Type == "" {
		slot.Type = domain.SlotTypeMock
	}
	slot.Enabled = true
	if err := f.slots.Create(f.ctx, &slot); err != nil {
		f.t.Fatalf("create slot %s: %v", slot.ID, err)
	}
}

func (f *fixture) addTarget(target domain.Target) *domain.Target {
	f.t.Helper()
	if target.OwnerUserID == "" {
		target.OwnerUserID = testOwner
	}
	if target.Type == "" {
		target.Type = domain.TargetTypeKeyword
	}
	if target.Query == "" {
		target.Query = "query-" + target.ID
	}
	if target.MaxPostsPerRun == 0 {
		target.MaxPostsPerRun = 20
	}
	target.Enabled = true
	if err := f.targets.Create(f.ctx, &target); err != nil {
		f.t.Fatalf("create target %s: %v", target.ID, err)
	}
	return &target
}

func (f *fixture) addTask(task domain.Task) *domain.Task {
	f.t.Helper()
	if task.OwnerUserID == "" {
		task.OwnerUserID = testOwner
	}
	if task.Type == "" {
		task.Type = domain.TaskTypeSearch
	}
	if task.Query == "" {
		task.Query = "golang"
	}
	if task.Limit == 0 {
		task.Limit = 20
	}
	if err := f.tasks.Create(f.ctx, &task); err != nil {
		f.t.Fatalf("create task: %v", err)
	}
	return &task
}

func (f *fixture) task(id string) *domain.Task {
	f.t.Helper()
	task, err := f.tasks.GetByID(f.ctx, id)
	if err != nil {
		f.t.Fatalf("get task %s: %v", id, err)
	}
	return task
}

func (f *fixture) processNext() {
	f.t.Helper()
	processed, err := f.worker.ProcessNext(f.ctx)
	if err != nil {
		f.t.Fatalf("ProcessNext: %v", err)
	}
	if !processed {
		f.t.Fatal("ProcessNext found no queued task")
	}
}

func (f *fixture) recordedSleeps() []time.Duration {
	f.sleepMu.Lock()
	defer f.sleepMu.Unlock()
	return append([]time.Duration(nil), f.sleeps...)
}

func selectionReason(t *testing.T, err error) FailureReason {
	t.Helper()
	if err == nil {
		t.Fatal("expected a selection error, got nil")
	}
	selErr, ok := AsSelectionError(err)
	if !ok {
		t.Fatalf("error %v is not a selection error", err)
	}
	return selErr.Reason
}

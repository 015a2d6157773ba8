package service

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/timmy/twparser/internal/config"
	"github.com/timmy/twparser/internal/domain"
	"github.com/timmy/twparser/internal/logger"
	"github.com/timmy/twparser/internal/repository"
	"github.com/timmy/twparser/internal/runtime"
)

// WarmthCandidate is an idle session due for a keep-alive.
type WarmthCandidate struct {
	SessionID    string     `json:"sessionId"`
	AccountID    string     `json:"accountId"`
	IdleHours    float64    `json:"idleHours"`
	LastWarmthAt *time.Time `json:"lastWarmthAt,omitempty"`
}

// WarmthResult counts one warmth pass.
type WarmthResult struct {
	Checked int `json:"checked"`
	Success int `json:"success"`
	Failed  int `json:"failed"`
	Skipped int `json:"skipped"`
}

// WarmthService keeps idle sessions alive with lightweight requests.
type WarmthService struct {
	accounts  *repository.AccountRepository
	sessions  *repository.SessionRepository
	selection *SelectionService
	risk      *RiskService
	slots     *SlotService
	runtimes  *runtime.Registry
	cfg       config.WarmthConfig
	timeout   time.Duration
	logger    *logger.Logger
	now       func() time.Time
}

// NewWarmthService creates a new warmth service.
func NewWarmthService(
	accounts *repository.AccountRepository,
	sessions *repository.SessionRepository,
	selection *SelectionService,
	risk *RiskService,
	slots *SlotService,
	runtimes *runtime.Registry,
	log *logger.Logger,
	cfg config.WarmthConfig,
) *WarmthService {
	if cfg.Interval <= 0 {
		cfg.Interval = 6 * time.Hour
	}
	if cfg.IdleThreshold <= 0 {
		cfg.IdleThreshold = 12 * time.Hour
	}
	if cfg.RatePerMinute <= 0 {
		cfg.RatePerMinute = 6
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	return &WarmthService{
		accounts:  accounts,
		sessions:  sessions,
		selection: selection,
		risk:      risk,
		slots:     slots,
		runtimes:  runtimes,
		cfg:       cfg,
		timeout:   30 * time.Second,
		logger:    log,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Config returns the warmth settings in use.
func (s *WarmthService) Config() config.WarmthConfig {
	return s.cfg
}

func lastActivity(session *domain.Session) time.Time {
	last := session.CreatedAt
	for _, t := range []*time.Time{session.LastUsedAt, session.LastSuccessAt, session.LastWarmthAt} {
		if t != nil && t.After(last) {
			last = *t
		}
	}
	return last
}

// NeedingWarmth lists usable active sessions idle for at least the idle
// threshold and not warmed within the interval.
func (s *WarmthService) NeedingWarmth(ctx context.Context) ([]WarmthCandidate, error) {
	sessions, err := s.sessions.ListActive(ctx)
	if err != nil {
		return nil, err
	}
	now := s.now()
	out := make([]WarmthCandidate, 0)
	for i := range sessions {
		session := &sessions[i]
		if !session.Status.Usable() {
			continue
		}
		idle := now.Sub(lastActivity(session))
		if idle < s.cfg.IdleThreshold {
			continue
		}
		if session.LastWarmthAt != nil && now.Sub(*session.LastWarmthAt) < s.cfg.Interval {
			continue
		}
		out = append(out, WarmthCandidate{
			SessionID:    session.ID,
			AccountID:    session.AccountID,
			IdleHours:    idle.Hours(),
			LastWarmthAt: session.LastWarmthAt,
		})
	}
	return out, nil
}

// Run warms every session that needs it, paced by the configured rate.
func (s *WarmthService) Run(ctx context.Context) (*WarmthResult, error) {
	ctx = logger.SetComponent(logger.FromContextOr(ctx, s.logger).WithContext(ctx), "warmth")
	start := time.Now()

	candidates, err := s.NeedingWarmth(ctx)
	if err != nil {
		return nil, err
	}

	limiter := rate.NewLimiter(rate.Limit(s.cfg.RatePerMinute/60), s.cfg.Burst)
	result := &WarmthResult{}
	for _, c := range candidates {
		if err := limiter.Wait(ctx); err != nil {
			return result, err
		}
		result.Checked++

		ok, err := s.warm(ctx, c)
		switch {
		case err != nil:
			result.Skipped++
			logger.FromContext(ctx).WithError(err).WithField(logger.FieldSessionID, c.SessionID).Debug("Warmth skipped")
		case ok:
			result.Success++
		default:
			result.Failed++
		}
	}

	logger.For(s.logger).With(logger.Fields{
		"checked": result.Checked,
		"success": result.Success,
		"failed":  result.Failed,
	}).WithDuration(time.Since(start).Milliseconds()).Info(ctx, "Warmth pass finished")
	return result, nil
}

// warm exercises one session. A non-nil error means no attempt was made.
func (s *WarmthService) warm(ctx context.Context, c WarmthCandidate) (bool, error) {
	account, err := s.accounts.GetByID(ctx, c.AccountID)
	if err != nil {
		return false, err
	}
	sel, err := s.selection.SelectForExecution(ctx, SelectionRequest{
		OwnerUserID: account.OwnerUserID,
		Mode:        SelectionAuto,
		AccountID:   account.ID,
	})
	if err != nil {
		return false, err
	}
	defer sel.Release()
	if sel.Session.ID != c.SessionID {
		return false, fmt.Errorf("active session changed to %s", sel.Session.ID)
	}

	cookies, err := s.selection.OpenCookies(&sel.Session)
	if err != nil {
		return false, err
	}
	rt, err := s.runtimes.For(sel.Slot)
	if err != nil {
		return false, err
	}

	warmCtx, cancel := context.WithTimeout(ctx, s.timeout)
	warmErr := rt.Warm(warmCtx, &runtime.Request{
		AccountID:  account.ID,
		SessionID:  sel.Session.ID,
		Cookies:    cookies,
		UserAgent:  sel.Session.UserAgent,
		ScrollHint: domain.ScrollSafe,
	})
	cancel()

	ok := warmErr == nil
	s.slots.Manager().ReportOutcome(sel.Slot.ID, ok || runtimeErrorClass(warmErr) != ErrorClassRetryable)
	if err := s.risk.RecordWarmth(ctx, sel.Session.ID, ok); err != nil {
		logger.FromContext(ctx).WithError(err).Warn("Failed to record warmth signal")
	}
	if err := s.sessions.MarkWarmed(ctx, sel.Session.ID, s.now()); err != nil {
		logger.FromContext(ctx).WithError(err).Warn("Failed to mark session warmed")
	}
	if !ok {
		logger.FromContext(ctx).WithError(warmErr).WithFields(logger.Fields{
			logger.FieldSessionID: sel.Session.ID,
			logger.FieldSlotID:    sel.Slot.ID,
		}).Warn("Session warmth failed")
	}
	return ok, nil
}

func runtimeErrorClass(err error) ErrorClass {
	return DefaultCooldownPolicy().Classify(runtime.CodeOf(err))
}

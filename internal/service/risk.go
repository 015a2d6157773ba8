package service

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/timmy/twparser/internal/config"
	"github.com/timmy/twparser/internal/domain"
	"github.com/timmy/twparser/internal/logger"
	"github.com/timmy/twparser/internal/repository"
)

// DefaultRiskConfig returns the reference scoring policy.
func DefaultRiskConfig() config.RiskConfig {
	return config.RiskConfig{
		CookieAgeWeight:      25,
		WarmthWeight:         25,
		ParserErrorWeight:    20,
		RateLimitWeight:      15,
		IdleWeight:           10,
		RequestRatePenalty:   5,
		MissingCookiePenalty: 30,
		CookieAgeSaturation:  720 * time.Hour,
		RateLimitSaturation:  5,
		IdleGrace:            24 * time.Hour,
		IdleSaturation:       168 * time.Hour,
		HighRequestsPerHour:  60,
		SignalWindow:         24 * time.Hour,
		SessionMaxAge:        1440 * time.Hour,
		WarningAt:            30,
		CriticalAt:           90,
	}
}

// RiskFactors is the input snapshot for one score computation.
type RiskFactors struct {
	CookieAgeHours     float64 `json:"cookieAgeHours"`
	WarmthFailureRate  float64 `json:"warmthFailureRate"`
	ParserErrorRate    float64 `json:"parserErrorRate"`
	RateLimitHits      int     `json:"rateLimitHits"`
	IdleHours          float64 `json:"idleHours"`
	RequestsLastHour   int     `json:"requestsLastHour"`
	HasRequiredCookies bool    `json:"hasRequiredCookies"`
}

// RiskBreakdown is each factor's contribution to the score.
type RiskBreakdown struct {
	CookieAge      float64 `json:"cookieAge"`
	WarmthFailures float64 `json:"warmthFailures"`
	ParserErrors   float64 `json:"parserErrors"`
	RateLimits     float64 `json:"rateLimits"`
	Idle           float64 `json:"idle"`
	RequestRate    float64 `json:"requestRate"`
	MissingCookies float64 `json:"missingCookies"`
}

func saturate(v, limit float64) float64 {
	if limit <= 0 || v <= 0 {
		return 0
	}
	return math.Min(v/limit, 1)
}

// ComputeRisk scores a factor snapshot into [0,100].
func ComputeRisk(f RiskFactors, cfg config.RiskConfig) (int, RiskBreakdown) {
	var b RiskBreakdown

	b.CookieAge = saturate(f.CookieAgeHours, cfg.CookieAgeSaturation.Hours()) * cfg.CookieAgeWeight
	b.WarmthFailures = math.Min(math.Max(f.WarmthFailureRate, 0), 1) * cfg.WarmthWeight
	b.ParserErrors = math.Min(math.Max(f.ParserErrorRate, 0), 1) * cfg.ParserErrorWeight
	b.RateLimits = saturate(float64(f.RateLimitHits), float64(cfg.RateLimitSaturation)) * cfg.RateLimitWeight

	grace := cfg.IdleGrace.Hours()
	b.Idle = saturate(f.IdleHours-grace, cfg.IdleSaturation.Hours()-grace) * cfg.IdleWeight

	// Busy sessions hammering requests look automated.
	if f.IdleHours < 1 && cfg.HighRequestsPerHour > 0 && f.RequestsLastHour > cfg.HighRequestsPerHour {
		b.RequestRate = cfg.RequestRatePenalty
	}
	if !f.HasRequiredCookies {
		b.MissingCookies = cfg.MissingCookiePenalty
	}

	total := b.CookieAge + b.WarmthFailures + b.ParserErrors + b.RateLimits + b.Idle + b.RequestRate + b.MissingCookies
	score := int(math.Round(total))
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	return score, b
}

// RiskBandFor buckets a score using the configured boundaries.
func RiskBandFor(score int, cfg config.RiskConfig) domain.RiskBand {
	switch {
	case score >= cfg.CriticalAt:
		return domain.RiskBandCritical
	case score >= cfg.WarningAt:
		return domain.RiskBandWarning
	default:
		return domain.RiskBandHealthy
	}
}

// ScrollHintFor maps a session's health to the pacing a runtime should use.
func ScrollHintFor(status domain.SessionStatus, band domain.RiskBand) domain.ScrollProfile {
	if status != domain.SessionStatusOK {
		return domain.ScrollSafe
	}
	switch band {
	case domain.RiskBandHealthy:
		return domain.ScrollAggressive
	case domain.RiskBandWarning:
		return domain.ScrollNormal
	default:
		return domain.ScrollSafe
	}
}

// RiskAssessment is the observable result of scoring one session.
type RiskAssessment struct {
	SessionID string               `json:"sessionId"`
	AccountID string               `json:"accountId"`
	Status    domain.SessionStatus `json:"status"`
	Score     int                  `json:"riskScore"`
	Band      domain.RiskBand      `json:"band"`
	Factors   RiskFactors          `json:"factors"`
	Breakdown RiskBreakdown        `json:"breakdown"`
}

// RecalculateResult summarizes a batch recalculation.
type RecalculateResult struct {
	Checked int `json:"checked"`
	Changed int `json:"changed"`
	Expired int `json:"expired"`
}

// RiskReport counts active sessions per band.
type RiskReport struct {
	Total  int `json:"total"`
	ByRisk struct {
		Healthy  int `json:"healthy"`
		Warning  int `json:"warning"`
		Critical int `json:"critical"`
	} `json:"byRisk"`
}

// RiskService scores sessions from their stored state and signal log.
type RiskService struct {
	sessions *repository.SessionRepository
	accounts *repository.AccountRepository
	signals  *repository.SignalRepository
	cfg      config.RiskConfig
	logger   *logger.Logger
	now      func() time.Time
}

// NewRiskService creates a new risk service.
func NewRiskService(
	sessions *repository.SessionRepository,
	accounts *repository.AccountRepository,
	signals *repository.SignalRepository,
	log *logger.Logger,
	cfg config.RiskConfig,
) *RiskService {
	return &RiskService{
		sessions: sessions,
		accounts: accounts,
		signals:  signals,
		cfg:      withRiskDefaults(cfg),
		logger:   log,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// withRiskDefaults fills unset weights and thresholds from DefaultRiskConfig.
func withRiskDefaults(cfg config.RiskConfig) config.RiskConfig {
	d := DefaultRiskConfig()
	setFloat(&d.CookieAgeWeight, cfg.CookieAgeWeight)
	setFloat(&d.WarmthWeight, cfg.WarmthWeight)
	setFloat(&d.ParserErrorWeight, cfg.ParserErrorWeight)
	setFloat(&d.RateLimitWeight, cfg.RateLimitWeight)
	setFloat(&d.IdleWeight, cfg.IdleWeight)
	setFloat(&d.RequestRatePenalty, cfg.RequestRatePenalty)
	setFloat(&d.MissingCookiePenalty, cfg.MissingCookiePenalty)
	setDuration(&d.CookieAgeSaturation, cfg.CookieAgeSaturation)
	setInt(&d.RateLimitSaturation, cfg.RateLimitSaturation)
	setDuration(&d.IdleGrace, cfg.IdleGrace)
	setDuration(&d.IdleSaturation, cfg.IdleSaturation)
	setInt(&d.HighRequestsPerHour, cfg.HighRequestsPerHour)
	setDuration(&d.SignalWindow, cfg.SignalWindow)
	setDuration(&d.SessionMaxAge, cfg.SessionMaxAge)
	setInt(&d.WarningAt, cfg.WarningAt)
	setInt(&d.CriticalAt, cfg.CriticalAt)
	return d
}

func setFloat(dst *float64, v float64) {
	if v > 0 {
		*dst = v
	}
}

func (s *RiskService) log(ctx context.Context) *logger.Logger {
	return logger.FromContextOr(ctx, s.logger)
}

// Config returns the scoring policy in use.
func (s *RiskService) Config() config.RiskConfig {
	return s.cfg
}

// Band buckets a score.
func (s *RiskService) Band(score int) domain.RiskBand {
	return RiskBandFor(score, s.cfg)
}

// Factors builds the factor snapshot for a session at now.
func (s *RiskService) Factors(ctx context.Context, session *domain.Session, now time.Time) (RiskFactors, error) {
	window, err := s.signals.Counts(ctx, session.ID, now.Add(-s.cfg.SignalWindow))
	if err != nil {
		return RiskFactors{}, fmt.Errorf("count signals: %w", err)
	}
	lastHour, err := s.signals.Counts(ctx, session.ID, now.Add(-time.Hour))
	if err != nil {
		return RiskFactors{}, fmt.Errorf("count recent signals: %w", err)
	}

	issued := session.CookieIssuedAt
	if issued.IsZero() {
		issued = session.CreatedAt
	}
	lastActive := session.CreatedAt
	if session.LastUsedAt != nil {
		lastActive = *session.LastUsedAt
	}
	if session.LastSuccessAt != nil && session.LastSuccessAt.After(lastActive) {
		lastActive = *session.LastSuccessAt
	}

	f := RiskFactors{
		CookieAgeHours:     math.Max(now.Sub(issued).Hours(), 0),
		RateLimitHits:      window.RateLimitHits,
		IdleHours:          math.Max(now.Sub(lastActive).Hours(), 0),
		RequestsLastHour:   lastHour.Requests,
		HasRequiredCookies: session.HasRequiredCookies(),
	}
	if window.WarmthTotal > 0 {
		f.WarmthFailureRate = float64(window.WarmthFailed) / float64(window.WarmthTotal)
	}
	if window.ParseTotal > 0 {
		f.ParserErrorRate = float64(window.ParseFailed) / float64(window.ParseTotal)
	}
	return f, nil
}

// Assess scores a session without writing anything.
func (s *RiskService) Assess(ctx context.Context, sessionID string) (*RiskAssessment, error) {
	session, err := s.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return s.assess(ctx, session, s.now())
}

func (s *RiskService) assess(ctx context.Context, session *domain.Session, now time.Time) (*RiskAssessment, error) {
	f, err := s.Factors(ctx, session, now)
	if err != nil {
		return nil, err
	}
	score, breakdown := ComputeRisk(f, s.cfg)
	return &RiskAssessment{
		SessionID: session.ID,
		AccountID: session.AccountID,
		Status:    session.Status,
		Score:     score,
		Band:      RiskBandFor(score, s.cfg),
		Factors:   f,
		Breakdown: breakdown,
	}, nil
}

// Recalculate rescores a session and persists the score. Sessions older than
// SessionMaxAge are marked EXPIRED. It reports whether anything changed.
func (s *RiskService) Recalculate(ctx context.Context, session *domain.Session) (bool, error) {
	now := s.now()
	a, err := s.assess(ctx, session, now)
	if err != nil {
		return false, err
	}

	changed := false
	if a.Score != session.RiskScore {
		if err := s.sessions.UpdateRisk(ctx, session.ID, a.Score); err != nil {
			return false, fmt.Errorf("update risk: %w", err)
		}
		session.RiskScore = a.Score
		changed = true
	}

	if s.cfg.SessionMaxAge > 0 && session.Status.Usable() &&
		a.Factors.CookieAgeHours >= s.cfg.SessionMaxAge.Hours() {
		if err := s.sessions.Invalidate(ctx, session.ID, domain.SessionStatusExpired, "cookie age exceeded"); err != nil {
			return changed, fmt.Errorf("expire session: %w", err)
		}
		session.Status = domain.SessionStatusExpired
		session.Invalidation = domain.SessionStatusExpired
		changed = true
		s.log(ctx).WithFields(logger.Fields{
			logger.FieldSessionID: session.ID,
			logger.FieldAccountID: session.AccountID,
		}).Warn("Session expired by age")
	}
	return changed, nil
}

// RecalculateAll rescores every active session and refreshes each account's
// average. Sessions are independent, so it can run alongside live scoring.
func (s *RiskService) RecalculateAll(ctx context.Context) (*RecalculateResult, error) {
	sessions, err := s.sessions.ListActive(ctx)
	if err != nil {
		return nil, err
	}

	result := &RecalculateResult{}
	for i := range sessions {
		session := &sessions[i]
		result.Checked++
		changed, err := s.Recalculate(ctx, session)
		if err != nil {
			s.log(ctx).WithError(err).WithField(logger.FieldSessionID, session.ID).Warn("Risk recalculation failed")
			continue
		}
		if changed {
			result.Changed++
		}
		if session.Status == domain.SessionStatusExpired {
			result.Expired++
		}
		if err := s.accounts.UpdateRiskAvg(ctx, session.AccountID, float64(session.RiskScore)); err != nil {
			s.log(ctx).WithError(err).WithField(logger.FieldAccountID, session.AccountID).Warn("Failed to update account risk")
		}
	}

	logger.For(s.logger).With(logger.Fields{"checked": result.Checked, "changed": result.Changed}).
		Info(ctx, "Risk recalculation finished")
	return result, nil
}

// Report counts active sessions per band using their stored scores.
func (s *RiskService) Report(ctx context.Context) (*RiskReport, error) {
	sessions, err := s.sessions.ListActive(ctx)
	if err != nil {
		return nil, err
	}
	report := &RiskReport{Total: len(sessions)}
	for _, session := range sessions {
		switch s.Band(session.RiskScore) {
		case domain.RiskBandHealthy:
			report.ByRisk.Healthy++
		case domain.RiskBandWarning:
			report.ByRisk.Warning++
		default:
			report.ByRisk.Critical++
		}
	}
	return report, nil
}

// RecordWarmth appends a warmth check outcome.
func (s *RiskService) RecordWarmth(ctx context.Context, sessionID string, ok bool) error {
	return s.signals.Record(ctx, sessionID, domain.SignalWarmth, ok, s.now())
}

// RecordParse appends a parse outcome attributed to the session.
func (s *RiskService) RecordParse(ctx context.Context, sessionID string, ok bool) error {
	return s.signals.Record(ctx, sessionID, domain.SignalParse, ok, s.now())
}

// RecordRateLimit appends a rate-limit hit.
func (s *RiskService) RecordRateLimit(ctx context.Context, sessionID string) error {
	return s.signals.Record(ctx, sessionID, domain.SignalRateLimit, false, s.now())
}

// RecordRequest appends one outbound request made with the session.
func (s *RiskService) RecordRequest(ctx context.Context, sessionID string) error {
	return s.signals.Record(ctx, sessionID, domain.SignalRequest, true, s.now())
}

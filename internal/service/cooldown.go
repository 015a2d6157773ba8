package service

import (
	"context"
	"fmt"
	"time"

	"github.com/timmy/twparser/internal/config"
	"github.com/timmy/twparser/internal/coord"
	"github.com/timmy/twparser/internal/domain"
	"github.com/timmy/twparser/internal/logger"
	"github.com/timmy/twparser/internal/repository"
)

// Reference cooldown and backoff policy.
const (
	RateLimitCooldown        = 15 * time.Minute
	AbortStormCooldown       = 30 * time.Minute
	ConsecutiveEmptyCooldown = 10 * time.Minute
	CaptchaCooldown          = 60 * time.Minute

	AbortStormThreshold       = 3
	AbortStormWindow          = 10 * time.Minute
	ConsecutiveEmptyThreshold = 5

	BackoffBaseDelay   = 30 * time.Second
	BackoffMaxDelay    = 15 * time.Minute
	BackoffMaxAttempts = 3
)

// ErrorClass is how the worker reacts to an execution error.
type ErrorClass string

const (
	ErrorClassNoRetry   ErrorClass = "NO_RETRY"
	ErrorClassRetryable ErrorClass = "RETRYABLE"
	ErrorClassCooldown  ErrorClass = "COOLDOWN"
)

var errorClasses = map[domain.ErrorCode]ErrorClass{
	domain.ErrCodeRateLimit:         ErrorClassCooldown,
	domain.ErrCodeRateLimited:       ErrorClassCooldown,
	domain.ErrCodeSlotRateLimited:   ErrorClassCooldown,
	domain.ErrCodeCaptcha:           ErrorClassCooldown,
	domain.ErrCodeChallengeRequired: ErrorClassCooldown,

	domain.ErrCodeSessionInvalid:   ErrorClassNoRetry,
	domain.ErrCodeSessionExpired:   ErrorClassNoRetry,
	domain.ErrCodeDecryptFailed:    ErrorClassNoRetry,
	domain.ErrCodeAccountSuspended: ErrorClassNoRetry,

	domain.ErrCodeParserDown:   ErrorClassRetryable,
	domain.ErrCodeConnReset:    ErrorClassRetryable,
	domain.ErrCodeConnRefused:  ErrorClassRetryable,
	domain.ErrCodeTimedOut:     ErrorClassRetryable,
	domain.ErrCodeTimeout:      ErrorClassRetryable,
	domain.ErrCodeNetworkError: ErrorClassRetryable,
}

// CooldownPolicy holds the durations and thresholds of the cooldown policy.
type CooldownPolicy struct {
	RateLimit                 time.Duration
	AbortStorm                time.Duration
	ConsecutiveEmpty          time.Duration
	Captcha                   time.Duration
	AbortStormThreshold       int
	AbortStormWindow          time.Duration
	ConsecutiveEmptyThreshold int
	BackoffBase               time.Duration
	BackoffMax                time.Duration
	BackoffMaxAttempts        int
}

// DefaultCooldownPolicy returns the reference policy.
func DefaultCooldownPolicy() CooldownPolicy {
	return CooldownPolicy{
		RateLimit:                 RateLimitCooldown,
		AbortStorm:                AbortStormCooldown,
		ConsecutiveEmpty:          ConsecutiveEmptyCooldown,
		Captcha:                   CaptchaCooldown,
		AbortStormThreshold:       AbortStormThreshold,
		AbortStormWindow:          AbortStormWindow,
		ConsecutiveEmptyThreshold: ConsecutiveEmptyThreshold,
		BackoffBase:               BackoffBaseDelay,
		BackoffMax:                BackoffMaxDelay,
		BackoffMaxAttempts:        BackoffMaxAttempts,
	}
}

// NewCooldownPolicy builds a policy from configuration, keeping the reference
// value for anything left unset.
func NewCooldownPolicy(cfg config.CooldownConfig) CooldownPolicy {
	p := DefaultCooldownPolicy()
	setDuration(&p.RateLimit, cfg.RateLimit)
	setDuration(&p.AbortStorm, cfg.AbortStorm)
	setDuration(&p.ConsecutiveEmpty, cfg.ConsecutiveEmpty)
	setDuration(&p.Captcha, cfg.Captcha)
	setDuration(&p.AbortStormWindow, cfg.AbortStormWindow)
	setDuration(&p.BackoffBase, cfg.BackoffBase)
	setDuration(&p.BackoffMax, cfg.BackoffMax)
	setInt(&p.AbortStormThreshold, cfg.AbortStormThreshold)
	setInt(&p.ConsecutiveEmptyThreshold, cfg.ConsecutiveEmptyThreshold)
	setInt(&p.BackoffMaxAttempts, cfg.BackoffMaxAttempts)
	return p
}

func setDuration(dst *time.Duration, v time.Duration) {
	if v > 0 {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v > 0 {
		*dst = v
	}
}

// Classify maps an error code to its class. Unknown codes are retryable.
func (p CooldownPolicy) Classify(code domain.ErrorCode) ErrorClass {
	if c, ok := errorClasses[code]; ok {
		return c
	}
	return ErrorClassRetryable
}

// CooldownFor returns the cooldown reason and duration for a COOLDOWN-class code.
func (p CooldownPolicy) CooldownFor(code domain.ErrorCode) (domain.CooldownReason, time.Duration) {
	switch code {
	case domain.ErrCodeCaptcha, domain.ErrCodeChallengeRequired:
		return domain.CooldownCaptcha, p.Captcha
	default:
		return domain.CooldownRateLimit, p.RateLimit
	}
}

// Duration returns the punitive duration for a reason.
func (p CooldownPolicy) Duration(reason domain.CooldownReason) time.Duration {
	switch reason {
	case domain.CooldownAbortStorm:
		return p.AbortStorm
	case domain.CooldownConsecutiveEmpty:
		return p.ConsecutiveEmpty
	case domain.CooldownCaptcha:
		return p.Captcha
	default:
		return p.RateLimit
	}
}

// BackoffDelay returns the delay before retry number retry (0-based) and false
// once the attempt budget is spent.
func (p CooldownPolicy) BackoffDelay(retry int) (time.Duration, bool) {
	if retry < 0 || retry >= p.BackoffMaxAttempts {
		return 0, false
	}
	delay := p.BackoffBase
	for i := 0; i < retry; i++ {
		delay *= 2
		if delay >= p.BackoffMax {
			return p.BackoffMax, true
		}
	}
	if delay > p.BackoffMax {
		delay = p.BackoffMax
	}
	return delay, true
}

// CooldownService applies and reports account and target cooldowns.
type CooldownService struct {
	accounts *repository.AccountRepository
	targets  *repository.TargetRepository
	aborts   coord.Window
	policy   CooldownPolicy
	logger   *logger.Logger
	now      func() time.Time
}

// NewCooldownService creates a new cooldown service. aborts must be sized to
// the policy's AbortStormWindow.
func NewCooldownService(
	accounts *repository.AccountRepository,
	targets *repository.TargetRepository,
	aborts coord.Window,
	log *logger.Logger,
	policy CooldownPolicy,
) *CooldownService {
	return &CooldownService{
		accounts: accounts,
		targets:  targets,
		aborts:   aborts,
		policy:   policy,
		logger:   log,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *CooldownService) log(ctx context.Context) *logger.Logger {
	return logger.FromContextOr(ctx, s.logger)
}

// Policy returns the policy in use.
func (s *CooldownService) Policy() CooldownPolicy {
	return s.policy
}

// ApplyAccountCooldown puts an account on cooldown for the reason's duration.
// Re-applying extends or no-ops; it never shortens.
func (s *CooldownService) ApplyAccountCooldown(ctx context.Context, accountID string, reason domain.CooldownReason) (domain.Cooldown, error) {
	now := s.now()
	until := now.Add(s.policy.Duration(reason))
	entered, err := s.accounts.ApplyCooldown(ctx, accountID, until, reason, now)
	if err != nil {
		return domain.Cooldown{}, fmt.Errorf("apply account cooldown: %w", err)
	}
	if entered {
		logger.For(s.logger).WithAccount(accountID).WithField("until", until).
			WithReason(string(reason)).Warn(ctx, "Account entered cooldown")
	}
	return s.AccountCooldown(ctx, accountID)
}

// ApplyTargetCooldown puts a target on cooldown for the reason's duration.
func (s *CooldownService) ApplyTargetCooldown(ctx context.Context, targetID string, reason domain.CooldownReason) (domain.Cooldown, error) {
	now := s.now()
	until := now.Add(s.policy.Duration(reason))
	entered, err := s.targets.ApplyCooldown(ctx, targetID, until, reason, now)
	if err != nil {
		return domain.Cooldown{}, fmt.Errorf("apply target cooldown: %w", err)
	}
	if entered {
		logger.For(s.logger).WithTarget(targetID).WithField("until", until).
			WithReason(string(reason)).Warn(ctx, "Target entered cooldown")
	}
	return s.TargetCooldown(ctx, targetID)
}

// AccountCooldown reports the account's current cooldown.
func (s *CooldownService) AccountCooldown(ctx context.Context, accountID string) (domain.Cooldown, error) {
	account, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		return domain.Cooldown{}, err
	}
	return account.Cooldown(s.now()), nil
}

// TargetCooldown reports the target's current cooldown.
func (s *CooldownService) TargetCooldown(ctx context.Context, targetID string) (domain.Cooldown, error) {
	target, err := s.targets.GetByID(ctx, targetID)
	if err != nil {
		return domain.Cooldown{}, err
	}
	return target.Cooldown(s.now()), nil
}

// ClearAccountCooldown ends the account's cooldown and forgets its recent aborts.
func (s *CooldownService) ClearAccountCooldown(ctx context.Context, accountID string) error {
	if _, err := s.accounts.GetByID(ctx, accountID); err != nil {
		return err
	}
	if err := s.accounts.ClearCooldown(ctx, accountID); err != nil {
		return err
	}
	if err := s.aborts.Reset(ctx, accountID); err != nil {
		s.log(ctx).WithError(err).Warn("Failed to reset abort window")
	}
	return nil
}

// ClearTargetCooldown ends the target's cooldown and resets its empty counter.
func (s *CooldownService) ClearTargetCooldown(ctx context.Context, targetID string) error {
	if _, err := s.targets.GetByID(ctx, targetID); err != nil {
		return err
	}
	return s.targets.ClearCooldown(ctx, targetID)
}

// TrackEmptyResult counts a zero-result run for the target and applies the
// CONSECUTIVE_EMPTY cooldown once the counter reaches the threshold.
func (s *CooldownService) TrackEmptyResult(ctx context.Context, targetID string) (int, bool, error) {
	count, err := s.targets.IncrementEmpty(ctx, targetID)
	if err != nil {
		return 0, false, fmt.Errorf("increment empty count: %w", err)
	}
	if count < s.policy.ConsecutiveEmptyThreshold {
		return count, false, nil
	}
	if _, err := s.ApplyTargetCooldown(ctx, targetID, domain.CooldownConsecutiveEmpty); err != nil {
		return count, false, err
	}
	return count, true, nil
}

// ResetEmptyCount zeroes the target's consecutive-empty counter.
func (s *CooldownService) ResetEmptyCount(ctx context.Context, targetID string) error {
	return s.targets.ResetEmpty(ctx, targetID)
}

// RecordAbort counts an aborted or timed-out run for the account. Reaching the
// storm threshold inside the window applies ABORT_STORM and starts a fresh window.
func (s *CooldownService) RecordAbort(ctx context.Context, accountID string) (bool, error) {
	hits, err := s.aborts.Hit(ctx, accountID, s.now())
	if err != nil {
		return false, fmt.Errorf("record abort: %w", err)
	}
	if hits < s.policy.AbortStormThreshold {
		return false, nil
	}
	if _, err := s.ApplyAccountCooldown(ctx, accountID, domain.CooldownAbortStorm); err != nil {
		return false, err
	}
	if err := s.aborts.Reset(ctx, accountID); err != nil {
		s.log(ctx).WithError(err).Warn("Failed to reset abort window")
	}
	return true, nil
}

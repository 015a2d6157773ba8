package domain

import "time"

// CooldownReason names the failure signal that put an account or target on cooldown.
type CooldownReason string

const (
	CooldownRateLimit        CooldownReason = "RATE_LIMIT"
	CooldownAbortStorm       CooldownReason = "ABORT_STORM"
	CooldownConsecutiveEmpty CooldownReason = "CONSECUTIVE_EMPTY"
	CooldownCaptcha          CooldownReason = "CAPTCHA"
	CooldownManual           CooldownReason = "MANUAL"
)

// Cooldown is a point-in-time view of a cooldown record.
type Cooldown struct {
	OnCooldown  bool           `json:"isOnCooldown"`
	RemainingMs int64          `json:"remainingMs"`
	Reason      CooldownReason `json:"reason,omitempty"`
	Until       *time.Time     `json:"until,omitempty"`
}

func cooldownAt(until *time.Time, reason *CooldownReason, now time.Time) Cooldown {
	if until == nil || !until.After(now) {
		return Cooldown{}
	}
	c := Cooldown{
		OnCooldown:  true,
		RemainingMs: until.Sub(now).Milliseconds(),
		Until:       until,
	}
	if reason != nil {
		c.Reason = *reason
	}
	return c
}

package service

import (
	"testing"
	"time"

	"github.com/timmy/twparser/internal/config"
	"github.com/timmy/twparser/internal/domain"
)

func TestCooldownPolicy_Classify(t *testing.T) {
	p := DefaultCooldownPolicy()
	tests := []struct {
		code domain.ErrorCode
		want ErrorClass
	}{
		{domain.ErrCodeRateLimit, ErrorClassCooldown},
		{domain.ErrCodeSlotRateLimited, ErrorClassCooldown},
		{domain.ErrCodeCaptcha, ErrorClassCooldown},
		{domain.ErrCodeSessionExpired, ErrorClassNoRetry},
		{domain.ErrCodeDecryptFailed, ErrorClassNoRetry},
		{domain.ErrCodeAccountSuspended, ErrorClassNoRetry},
		{domain.ErrCodeParserDown, ErrorClassRetryable},
		{domain.ErrCodeTimedOut, ErrorClassRetryable},
		{domain.ErrCodeUnknown, ErrorClassRetryable},
		{domain.ErrorCode("SOMETHING_NEW"), ErrorClassRetryable},
	}
	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			if got := p.Classify(tt.code); got != tt.want {
				t.Errorf("Classify(%s) = %s, want %s", tt.code, got, tt.want)
			}
		})
	}
}

func TestCooldownPolicy_BackoffDelay(t *testing.T) {
	p := DefaultCooldownPolicy()
	tests := []struct {
		retry  int
		want   time.Duration
		wantOK bool
	}{
		{0, 30 * time.Second, true},
		{1, 60 * time.Second, true},
		{2, 120 * time.Second, true},
		{3, 0, false},
		{-1, 0, false},
	}
	for _, tt := range tests {
		got, ok := p.BackoffDelay(tt.retry)
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("BackoffDelay(%d) = %v, %v; want %v, %v", tt.retry, got, ok, tt.want, tt.wantOK)
		}
	}

	capped := NewCooldownPolicy(config.CooldownConfig{BackoffMax: 45 * time.Second, BackoffMaxAttempts: 5})
	if got, _ := capped.BackoffDelay(4); got != 45*time.Second {
		t.Errorf("capped BackoffDelay(4) = %v, want 45s", got)
	}
}

func TestCooldownPolicy_CooldownFor(t *testing.T) {
	p := DefaultCooldownPolicy()
	if reason, d := p.CooldownFor(domain.ErrCodeCaptcha); reason != domain.CooldownCaptcha || d != time.Hour {
		t.Errorf("CAPTCHA -> %s %v", reason, d)
	}
	if reason, d := p.CooldownFor(domain.ErrCodeRateLimit); reason != domain.CooldownRateLimit || d != 15*time.Minute {
		t.Errorf("RATE_LIMIT -> %s %v", reason, d)
	}
}

func TestCooldownService_ApplyNeverShortens(t *testing.T) {
	f := newFixture(t)
	f.addAccount(accountSpec{id: "acc-a"})

	cd, err := f.cooldowns.ApplyAccountCooldown(f.ctx, "acc-a", domain.CooldownCaptcha)
	if err != nil {
		t.Fatalf("apply captcha: %v", err)
	}
	if !cd.OnCooldown || cd.Reason != domain.CooldownCaptcha {
		t.Fatalf("cooldown = %+v", cd)
	}
	long := cd.RemainingMs

	cd, err = f.cooldowns.ApplyAccountCooldown(f.ctx, "acc-a", domain.CooldownRateLimit)
	if err != nil {
		t.Fatalf("apply rate limit: %v", err)
	}
	if cd.RemainingMs < long {
		t.Errorf("cooldown shortened from %dms to %dms", long, cd.RemainingMs)
	}

	if err := f.cooldowns.ClearAccountCooldown(f.ctx, "acc-a"); err != nil {
		t.Fatalf("clear: %v", err)
	}
	cd, err = f.cooldowns.AccountCooldown(f.ctx, "acc-a")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if cd.OnCooldown {
		t.Errorf("cooldown still active after clear: %+v", cd)
	}

	// Expiry is driven by the clock alone.
	if _, err := f.cooldowns.ApplyAccountCooldown(f.ctx, "acc-a", domain.CooldownRateLimit); err != nil {
		t.Fatalf("reapply: %v", err)
	}
	f.clock = f.clock.Add(16 * time.Minute)
	if cd, _ := f.cooldowns.AccountCooldown(f.ctx, "acc-a"); cd.OnCooldown {
		t.Errorf("cooldown should have expired: %+v", cd)
	}
}

func TestCooldownService_TrackEmptyResult(t *testing.T) {
	f := newFixture(t)
	f.addTarget(domain.Target{ID: "tgt-1"})

	for i := 1; i <= ConsecutiveEmptyThreshold; i++ {
		count, triggered, err := f.cooldowns.TrackEmptyResult(f.ctx, "tgt-1")
		if err != nil {
			t.Fatalf("TrackEmptyResult: %v", err)
		}
		if count != i {
			t.Errorf("count = %d, want %d", count, i)
		}
		if triggered != (i == ConsecutiveEmptyThreshold) {
			t.Errorf("run %d: triggered = %v", i, triggered)
		}
	}

	cd, err := f.cooldowns.TargetCooldown(f.ctx, "tgt-1")
	if err != nil {
		t.Fatalf("TargetCooldown: %v", err)
	}
	if !cd.OnCooldown || cd.Reason != domain.CooldownConsecutiveEmpty {
		t.Errorf("cooldown = %+v, want CONSECUTIVE_EMPTY", cd)
	}
}

func TestCooldownService_RecordAbortStorm(t *testing.T) {
	f := newFixture(t)
	f.addAccount(accountSpec{id: "acc-a"})

	for i := 1; i < AbortStormThreshold; i++ {
		storm, err := f.cooldowns.RecordAbort(f.ctx, "acc-a")
		if err != nil {
			t.Fatalf("RecordAbort: %v", err)
		}
		if storm {
			t.Fatalf("storm after %d aborts", i)
		}
	}
	storm, err := f.cooldowns.RecordAbort(f.ctx, "acc-a")
	if err != nil {
		t.Fatalf("RecordAbort: %v", err)
	}
	if !storm {
		t.Fatal("expected an abort storm at the threshold")
	}

	cd, _ := f.cooldowns.AccountCooldown(f.ctx, "acc-a")
	if cd.Reason != domain.CooldownAbortStorm {
		t.Errorf("reason = %s, want ABORT_STORM", cd.Reason)
	}

	// The window starts over after a storm.
	if storm, _ := f.cooldowns.RecordAbort(f.ctx, "acc-a"); storm {
		t.Error("storm reported again right after reset")
	}
}

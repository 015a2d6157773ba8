package domain

import (
	"errors"
	"testing"
	"time"
)

func TestTaskStatus_Transitions(t *testing.T) {
	tests := []struct {
		from TaskStatus
		to   TaskStatus
		want bool
	}{
		{TaskStatusQueued, TaskStatusRunning, true},
		{TaskStatusQueued, TaskStatusFailed, true},
		{TaskStatusQueued, TaskStatusAborted, true},
		{TaskStatusQueued, TaskStatusDone, false},
		{TaskStatusRunning, TaskStatusDone, true},
		{TaskStatusRunning, TaskStatusPartial, true},
		{TaskStatusRunning, TaskStatusFailed, true},
		{TaskStatusRunning, TaskStatusAborted, true},
		{TaskStatusRunning, TaskStatusQueued, false},
		{TaskStatusDone, TaskStatusRunning, false},
		{TaskStatusFailed, TaskStatusQueued, false},
		{TaskStatusAborted, TaskStatusDone, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			if got := tt.from.CanTransitionTo(tt.to); got != tt.want {
				t.Errorf("CanTransitionTo() = %v, want %v", got, tt.want)
			}
			err := ValidateTransition(tt.from, tt.to)
			if tt.want && err != nil {
				t.Errorf("ValidateTransition() unexpected error: %v", err)
			}
			if !tt.want && !errors.Is(err, ErrInvalidTransition) {
				t.Errorf("ValidateTransition() error = %v, want ErrInvalidTransition", err)
			}
		})
	}
}

func TestTaskStatus_IsTerminal(t *testing.T) {
	terminal := []TaskStatus{TaskStatusDone, TaskStatusPartial, TaskStatusFailed, TaskStatusAborted}
	for _, s := range terminal {
		if !s.IsTerminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	for _, s := range []TaskStatus{TaskStatusQueued, TaskStatusRunning} {
		if s.IsTerminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}

func TestDeriveSessionStatus(t *testing.T) {
	tests := []struct {
		name         string
		auth, ct0    bool
		invalidation SessionStatus
		want         SessionStatus
	}{
		{"complete cookies", true, true, "", SessionStatusOK},
		{"missing ct0", true, false, "", SessionStatusStale},
		{"missing auth_token", false, true, "", SessionStatusStale},
		{"missing both", false, false, "", SessionStatusStale},
		{"invalidated", true, true, SessionStatusInvalid, SessionStatusInvalid},
		{"expired wins over stale", false, false, SessionStatusExpired, SessionStatusExpired},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DeriveSessionStatus(tt.auth, tt.ct0, tt.invalidation); got != tt.want {
				t.Errorf("DeriveSessionStatus() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestCookieFlags(t *testing.T) {
	auth, ct0 := CookieFlags([]Cookie{
		{Name: "auth_token", Value: "abc"},
		{Name: "ct0", Value: ""},
		{Name: "guest_id", Value: "x"},
	})
	if !auth || ct0 {
		t.Errorf("CookieFlags() = (%v, %v), want (true, false)", auth, ct0)
	}
}

func TestTarget_CooldownAndInterval(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	until := now.Add(90 * time.Second)
	reason := CooldownConsecutiveEmpty
	planned := now.Add(-10 * time.Minute)

	target := Target{CooldownUntil: &until, CooldownReason: &reason, CooldownMin: 30, LastPlannedAt: &planned}

	cd := target.Cooldown(now)
	if !cd.OnCooldown || cd.RemainingMs != 90000 || cd.Reason != CooldownConsecutiveEmpty {
		t.Errorf("Cooldown() = %+v", cd)
	}
	if target.Cooldown(until).OnCooldown {
		t.Error("cooldown should end exactly at until")
	}
	if !target.PlannedRecently(now) {
		t.Error("target planned 10m ago with 30m interval should be recent")
	}
	if target.PlannedRecently(now.Add(25 * time.Minute)) {
		t.Error("target should be plannable after its interval")
	}
}

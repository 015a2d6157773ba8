package service

import (
	"testing"
	"time"

	"github.com/timmy/twparser/internal/domain"
)

func TestComputeRisk(t *testing.T) {
	cfg := DefaultRiskConfig()

	tests := []struct {
		name    string
		factors RiskFactors
		want    int
	}{
		{
			name:    "fresh session",
			factors: RiskFactors{HasRequiredCookies: true},
			want:    0,
		},
		{
			name:    "missing cookies",
			factors: RiskFactors{},
			want:    30,
		},
		{
			name:    "half saturated cookie age",
			factors: RiskFactors{CookieAgeHours: 360, HasRequiredCookies: true},
			want:    13,
		},
		{
			name:    "idle inside grace",
			factors: RiskFactors{IdleHours: 20, HasRequiredCookies: true},
			want:    0,
		},
		{
			name:    "fully idle",
			factors: RiskFactors{IdleHours: 500, HasRequiredCookies: true},
			want:    10,
		},
		{
			name:    "busy session over request threshold",
			factors: RiskFactors{RequestsLastHour: 61, HasRequiredCookies: true},
			want:    5,
		},
		{
			name:    "busy session at threshold",
			factors: RiskFactors{RequestsLastHour: 60, HasRequiredCookies: true},
			want:    0,
		},
		{
			name: "parser and warmth failures",
			factors: RiskFactors{
				WarmthFailureRate:  0.5,
				ParserErrorRate:    1,
				RateLimitHits:      5,
				HasRequiredCookies: true,
			},
			want: 48,
		},
		{
			name: "everything bad clamps to 100",
			factors: RiskFactors{
				CookieAgeHours:    2000,
				WarmthFailureRate: 1,
				ParserErrorRate:   1,
				RateLimitHits:     12,
				IdleHours:         400,
			},
			want: 100,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, _ := ComputeRisk(tt.factors, cfg)
			if got != tt.want {
				t.Errorf("ComputeRisk() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestRiskBandFor(t *testing.T) {
	cfg := DefaultRiskConfig()
	tests := []struct {
		score int
		want  domain.RiskBand
	}{
		{0, domain.RiskBandHealthy},
		{29, domain.RiskBandHealthy},
		{30, domain.RiskBandWarning},
		{89, domain.RiskBandWarning},
		{90, domain.RiskBandCritical},
		{100, domain.RiskBandCritical},
	}
	for _, tt := range tests {
		if got := RiskBandFor(tt.score, cfg); got != tt.want {
			t.Errorf("RiskBandFor(%d) = %s, want %s", tt.score, got, tt.want)
		}
	}
}

func TestScrollHintFor(t *testing.T) {
	tests := []struct {
		status domain.SessionStatus
		band   domain.RiskBand
		want   domain.ScrollProfile
	}{
		{domain.SessionStatusOK, domain.RiskBandHealthy, domain.ScrollAggressive},
		{domain.SessionStatusOK, domain.RiskBandWarning, domain.ScrollNormal},
		{domain.SessionStatusOK, domain.RiskBandCritical, domain.ScrollSafe},
		{domain.SessionStatusStale, domain.RiskBandHealthy, domain.ScrollSafe},
	}
	for _, tt := range tests {
		if got := ScrollHintFor(tt.status, tt.band); got != tt.want {
			t.Errorf("ScrollHintFor(%s, %s) = %s, want %s", tt.status, tt.band, got, tt.want)
		}
	}
}

func TestRiskService_FactorsFromSignals(t *testing.T) {
	f := newFixture(t)
	session := f.addAccount(accountSpec{id: "acc-a"})

	for i := 0; i < 4; i++ {
		if err := f.risk.RecordParse(f.ctx, session.ID, i%2 == 0); err != nil {
			t.Fatalf("RecordParse: %v", err)
		}
	}
	if err := f.risk.RecordWarmth(f.ctx, session.ID, false); err != nil {
		t.Fatalf("RecordWarmth: %v", err)
	}
	if err := f.risk.RecordRateLimit(f.ctx, session.ID); err != nil {
		t.Fatalf("RecordRateLimit: %v", err)
	}

	a, err := f.risk.Assess(f.ctx, session.ID)
	if err != nil {
		t.Fatalf("Assess: %v", err)
	}
	if a.Factors.ParserErrorRate != 0.5 {
		t.Errorf("ParserErrorRate = %v, want 0.5", a.Factors.ParserErrorRate)
	}
	if a.Factors.WarmthFailureRate != 1 {
		t.Errorf("WarmthFailureRate = %v, want 1", a.Factors.WarmthFailureRate)
	}
	if a.Factors.RateLimitHits != 1 {
		t.Errorf("RateLimitHits = %d, want 1", a.Factors.RateLimitHits)
	}
	// 10 parser + 25 warmth + 3 rate limit.
	if a.Score != 38 || a.Band != domain.RiskBandWarning {
		t.Errorf("score = %d band = %s, want 38 WARNING", a.Score, a.Band)
	}
}

func TestRiskService_RecalculateExpiresOldSessions(t *testing.T) {
	f := newFixture(t)
	session := f.addAccount(accountSpec{id: "acc-a"})

	f.clock = f.clock.Add(61 * 24 * time.Hour)
	result, err := f.risk.RecalculateAll(f.ctx)
	if err != nil {
		t.Fatalf("RecalculateAll: %v", err)
	}
	if result.Checked != 1 || result.Expired != 1 {
		t.Errorf("result = %+v, want 1 checked 1 expired", result)
	}

	stored, err := f.sessions.GetByID(f.ctx, session.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if stored.Status != domain.SessionStatusExpired {
		t.Errorf("status = %s, want EXPIRED", stored.Status)
	}
	if stored.RiskScore == 0 {
		t.Error("risk score was not persisted")
	}
}

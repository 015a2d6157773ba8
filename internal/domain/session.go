package domain

import (
	"time"

	"gorm.io/gorm"
)

// SessionStatus is derived from cookie completeness and invalidation; it is never set directly.
type SessionStatus string

const (
	SessionStatusOK      SessionStatus = "OK"
	SessionStatusStale   SessionStatus = "STALE"
	SessionStatusInvalid SessionStatus = "INVALID"
	SessionStatusExpired SessionStatus = "EXPIRED"
)

// Usable reports whether a session in this status may be selected for execution.
func (s SessionStatus) Usable() bool {
	return s == SessionStatusOK || s == SessionStatusStale
}

// Session is one versioned credential bundle for an Account.
// Only one session per account is active at a time.
type Session struct {
	ID             string        `gorm:"type:text;primaryKey" json:"id"`
	AccountID      string        `gorm:"type:text;not null;index" json:"accountId"`
	Version        int           `gorm:"not null" json:"version"`
	Status         SessionStatus `gorm:"type:text;not null" json:"status"`
	RiskScore      int           `gorm:"not null" json:"riskScore"`
	IsActive       bool          `gorm:"not null;index" json:"isActive"`
	HasAuthToken   bool          `gorm:"not null" json:"hasAuthToken"`
	HasCt0         bool          `gorm:"not null" json:"hasCt0"`
	CookiesSealed  string        `gorm:"type:text" json:"-"`
	UserAgent      string        `gorm:"type:text" json:"userAgent,omitempty"`
	Invalidation   SessionStatus `gorm:"type:text" json:"invalidation,omitempty"`
	InvalidReason  string        `gorm:"type:text" json:"invalidReason,omitempty"`
	CookieIssuedAt time.Time     `json:"cookieIssuedAt"`
	LastUsedAt     *time.Time    `json:"lastUsedAt,omitempty"`
	LastSuccessAt  *time.Time    `json:"lastSuccessAt,omitempty"`
	LastWarmthAt   *time.Time    `json:"lastWarmthAt,omitempty"`
	CreatedAt      time.Time     `json:"createdAt"`
	UpdatedAt      time.Time     `json:"updatedAt"`
}

// TableName returns the database table name for Session.
func (Session) TableName() string {
	return "twitter_sessions"
}

// DeriveSessionStatus computes a session status from its stored inputs.
func DeriveSessionStatus(hasAuthToken, hasCt0 bool, invalidation SessionStatus) SessionStatus {
	switch invalidation {
	case SessionStatusInvalid, SessionStatusExpired:
		return invalidation
	}
	if !hasAuthToken || !hasCt0 {
		return SessionStatusStale
	}
	return SessionStatusOK
}

// HasRequiredCookies reports whether both auth_token and ct0 were present at ingestion.
func (s *Session) HasRequiredCookies() bool {
	return s.HasAuthToken && s.HasCt0
}

// BeforeSave keeps Status in step with the fields it is derived from.
func (s *Session) BeforeSave(tx *gorm.DB) error {
	s.Status = DeriveSessionStatus(s.HasAuthToken, s.HasCt0, s.Invalidation)
	return nil
}

// SignalKind classifies entries in the session signal log.
type SignalKind string

const (
	SignalWarmth    SignalKind = "WARMTH"
	SignalParse     SignalKind = "PARSE"
	SignalRateLimit SignalKind = "RATE_LIMIT"
	SignalRequest   SignalKind = "REQUEST"
)

// SessionSignal is one health observation about a session, kept for the risk window.
type SessionSignal struct {
	ID        uint       `gorm:"primaryKey" json:"id"`
	SessionID string     `gorm:"type:text;not null;index:idx_signal_session_at" json:"sessionId"`
	Kind      SignalKind `gorm:"type:text;not null" json:"kind"`
	OK        bool       `gorm:"not null" json:"ok"`
	At        time.Time  `gorm:"not null;index:idx_signal_session_at" json:"at"`
}

// TableName returns the database table name for SessionSignal.
func (SessionSignal) TableName() string {
	return "twitter_session_signals"
}

// Cookie is a single browser cookie in a credential bundle.
type Cookie struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Domain string `json:"domain,omitempty"`
}

// Required cookie names for an authenticated Twitter session.
const (
	CookieAuthToken = "auth_token"
	CookieCt0       = "ct0"
)

// CookieFlags reports which required cookies are present with a non-empty value.
func CookieFlags(cookies []Cookie) (hasAuthToken, hasCt0 bool) {
	for _, c := range cookies {
		if c.Value == "" {
			continue
		}
		switch c.Name {
		case CookieAuthToken:
			hasAuthToken = true
		case CookieCt0:
			hasCt0 = true
		}
	}
	return hasAuthToken, hasCt0
}

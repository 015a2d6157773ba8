package domain

import "time"

// SlotType is the kind of egress path a slot represents.
type SlotType string

const (
	SlotTypeMock         SlotType = "MOCK"
	SlotTypeProxy        SlotType = "PROXY"
	SlotTypeRemoteWorker SlotType = "REMOTE_WORKER"
)

// Egress reports whether traffic through this slot leaves via a proxy or remote worker.
func (t SlotType) Egress() bool {
	return t == SlotTypeProxy || t == SlotTypeRemoteWorker
}

// SlotHealth is derived from recent reservation outcomes, never stored.
type SlotHealth string

const (
	SlotHealthHealthy  SlotHealth = "HEALTHY"
	SlotHealthDegraded SlotHealth = "DEGRADED"
	SlotHealthError    SlotHealth = "ERROR"
)

// EgressSlot is an outbound path with its own request budget.
// BoundAccountID is unique: an account is bound to at most one slot.
type EgressSlot struct {
	ID              string    `gorm:"type:text;primaryKey" json:"id"`
	Label           string    `gorm:"type:text;not null" json:"label"`
	Type            SlotType  `gorm:"type:text;not null;index" json:"type"`
	Enabled         bool      `gorm:"not null" json:"enabled"`
	RequestsPerHour int       `gorm:"not null" json:"requestsPerHour"`
	MaxConcurrent   int       `gorm:"not null" json:"maxConcurrent"`
	Paused          bool      `gorm:"not null" json:"paused"`
	PausedReason    string    `gorm:"type:text" json:"pausedReason,omitempty"`
	ProxyURL        string    `gorm:"type:text" json:"-"`
	WorkerBaseURL   string    `gorm:"type:text" json:"workerBaseUrl,omitempty"`
	BoundAccountID  *string   `gorm:"type:text;uniqueIndex" json:"boundAccountId,omitempty"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// TableName returns the database table name for EgressSlot.
func (EgressSlot) TableName() string {
	return "twitter_egress_slots"
}

// BoundTo reports whether the slot is bound to the given account.
func (s *EgressSlot) BoundTo(accountID string) bool {
	return s.BoundAccountID != nil && *s.BoundAccountID == accountID
}

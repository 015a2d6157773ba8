package domain

import "time"

// TargetType selects what a target scrapes.
type TargetType string

const (
	TargetTypeKeyword TargetType = "KEYWORD"
	TargetTypeAccount TargetType = "ACCOUNT"
)

// TaskType returns the task type planned for this kind of target.
func (t TargetType) TaskType() TaskType {
	if t == TargetTypeAccount {
		return TaskTypeAccount
	}
	return TaskTypeSearch
}

// Target is a recurring scraping objective.
type Target struct {
	ID                    string          `gorm:"type:text;primaryKey" json:"id"`
	OwnerUserID           string          `gorm:"type:text;not null;index" json:"ownerUserId"`
	Type                  TargetType      `gorm:"type:text;not null" json:"type"`
	Query                 string          `gorm:"type:text;not null" json:"query"`
	Enabled               bool            `gorm:"not null;index" json:"enabled"`
	Priority              int             `gorm:"not null" json:"priority"`
	MaxPostsPerRun        int             `gorm:"not null" json:"maxPostsPerRun"`
	CooldownMin           int             `gorm:"not null" json:"cooldownMin"`
	CooldownUntil         *time.Time      `json:"cooldownUntil,omitempty"`
	CooldownReason        *CooldownReason `gorm:"type:text" json:"cooldownReason,omitempty"`
	ConsecutiveEmptyCount int             `gorm:"not null" json:"consecutiveEmptyCount"`
	TotalRuns             int             `gorm:"not null" json:"totalRuns"`
	TotalPostsFetched     int             `gorm:"not null" json:"totalPostsFetched"`
	LastRunAt             *time.Time      `json:"lastRunAt,omitempty"`
	LastPlannedAt         *time.Time      `json:"lastPlannedAt,omitempty"`
	PlanSeq               int             `gorm:"not null" json:"-"`
	CreatedAt             time.Time       `json:"createdAt"`
	UpdatedAt             time.Time       `json:"updatedAt"`
}

// TableName returns the database table name for Target.
func (Target) TableName() string {
	return "twitter_targets"
}

// Cooldown returns the target's cooldown view at now.
func (t *Target) Cooldown(now time.Time) Cooldown {
	return cooldownAt(t.CooldownUntil, t.CooldownReason, now)
}

// PlannedRecently reports whether the target was planned within its cooldownMin interval.
func (t *Target) PlannedRecently(now time.Time) bool {
	if t.LastPlannedAt == nil || t.CooldownMin <= 0 {
		return false
	}
	return now.Sub(*t.LastPlannedAt) < time.Duration(t.CooldownMin)*time.Minute
}

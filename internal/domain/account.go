package domain

import "time"

// Account is a Twitter identity owned by one user of the platform.
// At most one account per owner carries IsPreferred.
type Account struct {
	ID             string          `gorm:"type:text;primaryKey" json:"id"`
	OwnerUserID    string          `gorm:"type:text;not null;index" json:"ownerUserId"`
	Username       string          `gorm:"type:text;not null" json:"username"`
	Enabled        bool            `gorm:"not null" json:"enabled"`
	Priority       int             `gorm:"not null" json:"priority"`
	IsPreferred    bool            `gorm:"not null;index" json:"isPreferred"`
	SessionsCount  int             `json:"sessionsCount"`
	RiskAvg        float64         `json:"riskAvg"`
	CooldownUntil  *time.Time      `json:"cooldownUntil,omitempty"`
	CooldownReason *CooldownReason `gorm:"type:text" json:"cooldownReason,omitempty"`
	CooldownCount  int             `json:"cooldownCount"`
	LastSuccessAt  *time.Time      `json:"lastSuccessAt,omitempty"`
	CreatedAt      time.Time       `json:"createdAt"`
	UpdatedAt      time.Time       `json:"updatedAt"`
}

// TableName returns the database table name for Account.
func (Account) TableName() string {
	return "twitter_accounts"
}

// Cooldown returns the account's cooldown view at now.
func (a *Account) Cooldown(now time.Time) Cooldown {
	return cooldownAt(a.CooldownUntil, a.CooldownReason, now)
}

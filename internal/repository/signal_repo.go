package repository

import (
	"context"
	"time"

	"github.com/timmy/twparser/internal/domain"
	"gorm.io/gorm"
)

// SignalRepository stores the per-session health observations the risk scorer reads.
type SignalRepository struct {
	db *gorm.DB
}

// NewSignalRepository creates a new SignalRepository.
func NewSignalRepository(db *gorm.DB) *SignalRepository {
	return &SignalRepository{db: db}
}

// SignalCounts aggregates a session's signals over a window.
type SignalCounts struct {
	WarmthTotal   int
	WarmthFailed  int
	ParseTotal    int
	ParseFailed   int
	RateLimitHits int
	Requests      int
}

// Record appends a signal.
func (r *SignalRepository) Record(ctx context.Context, sessionID string, kind domain.SignalKind, ok bool, at time.Time) error {
	return r.db.WithContext(ctx).Create(&domain.SessionSignal{
		SessionID: sessionID,
		Kind:      kind,
		OK:        ok,
		At:        at,
	}).Error
}

// Counts tallies signals recorded for the session at or after since.
func (r *SignalRepository) Counts(ctx context.Context, sessionID string, since time.Time) (SignalCounts, error) {
	var rows []struct {
		Kind domain.SignalKind
		OK   bool
		N    int
	}
	err := r.db.WithContext(ctx).Model(&domain.SessionSignal{}).
		Select("kind, ok, COUNT(*) AS n").
		Where("session_id = ? AND at >= ?", sessionID, since).
		Group("kind, ok").
		Scan(&rows).Error
	if err != nil {
		return SignalCounts{}, err
	}

	var c SignalCounts
	for _, row := range rows {
		switch row.Kind {
		case domain.SignalWarmth:
			c.WarmthTotal += row.N
			if !row.OK {
				c.WarmthFailed += row.N
			}
		case domain.SignalParse:
			c.ParseTotal += row.N
			if !row.OK {
				c.ParseFailed += row.N
			}
		case domain.SignalRateLimit:
			c.RateLimitHits += row.N
		case domain.SignalRequest:
			c.Requests += row.N
		}
	}
	return c, nil
}

// Prune deletes signals older than before and returns how many were removed.
func (r *SignalRepository) Prune(ctx context.Context, before time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Where("at < ?", before).Delete(&domain.SessionSignal{})
	return res.RowsAffected, res.Error
}

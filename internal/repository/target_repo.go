package repository

import (
	"context"
	"time"

	"github.com/timmy/twparser/internal/domain"
	"gorm.io/gorm"
)

// TargetRepository handles scraping target records.
type TargetRepository struct {
	db *gorm.DB
}

// NewTargetRepository creates a new TargetRepository.
func NewTargetRepository(db *gorm.DB) *TargetRepository {
	return &TargetRepository{db: db}
}

// Create inserts a new target.
func (r *TargetRepository) Create(ctx context.Context, target *domain.Target) error {
	return r.db.WithContext(ctx).Create(target).Error
}

// GetByID retrieves a target by its ID.
func (r *TargetRepository) GetByID(ctx context.Context, id string) (*domain.Target, error) {
	var target domain.Target
	if err := r.db.WithContext(ctx).First(&target, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &target, nil
}

// ListEnabled returns enabled targets, highest priority first.
func (r *TargetRepository) ListEnabled(ctx context.Context) ([]domain.Target, error) {
	var targets []domain.Target
	err := r.db.WithContext(ctx).
		Where("enabled = ?", true).
		Order("priority DESC").Order("created_at ASC").Order("id ASC").
		Find(&targets).Error
	return targets, err
}

// ApplyCooldown puts a target on cooldown, never shortening an existing one.
// Returns true if the target was not cooling down before the call.
func (r *TargetRepository) ApplyCooldown(ctx context.Context, id string, until time.Time, reason domain.CooldownReason, now time.Time) (bool, error) {
	db := r.db.WithContext(ctx)
	values := map[string]interface{}{"cooldown_until": until, "cooldown_reason": reason}

	res := db.Model(&domain.Target{}).
		Where("id = ? AND (cooldown_until IS NULL OR cooldown_until <= ?)", id, now).
		Updates(values)
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected > 0 {
		return true, nil
	}

	res = db.Model(&domain.Target{}).Where("id = ? AND cooldown_until < ?", id, until).Updates(values)
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 0 {
		if _, err := r.GetByID(ctx, id); err != nil {
			return false, err
		}
	}
	return false, nil
}

// ClearCooldown ends the target's cooldown and resets its empty-result counter.
func (r *TargetRepository) ClearCooldown(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Model(&domain.Target{}).Where("id = ?", id).
		Updates(map[string]interface{}{
			"cooldown_until":          nil,
			"cooldown_reason":         nil,
			"consecutive_empty_count": 0,
		}).Error
}

// IncrementEmpty atomically bumps the consecutive-empty counter and returns the new value.
func (r *TargetRepository) IncrementEmpty(ctx context.Context, id string) (int, error) {
	var count int
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&domain.Target{}).Where("id = ?", id).
			Update("consecutive_empty_count", gorm.Expr("consecutive_empty_count + 1"))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return tx.Model(&domain.Target{}).Where("id = ?", id).
			Select("consecutive_empty_count").Scan(&count).Error
	})
	return count, err
}

// ResetEmpty zeroes the consecutive-empty counter.
func (r *TargetRepository) ResetEmpty(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Model(&domain.Target{}).Where("id = ?", id).
		Update("consecutive_empty_count", 0).Error
}

// RecordRun adds one run and its fetched count to the target's statistics.
func (r *TargetRepository) RecordRun(ctx context.Context, id string, fetched int, at time.Time) error {
	return r.db.WithContext(ctx).Model(&domain.Target{}).Where("id = ?", id).
		Updates(map[string]interface{}{
			"total_runs":          gorm.Expr("total_runs + 1"),
			"total_posts_fetched": gorm.Expr("total_posts_fetched + ?", fetched),
			"last_run_at":         at,
		}).Error
}

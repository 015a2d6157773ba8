package repository

import (
	"context"
	"time"

	"github.com/timmy/twparser/internal/domain"
	"gorm.io/gorm"
)

// AccountRepository handles Twitter account records.
type AccountRepository struct {
	db *gorm.DB
}

// NewAccountRepository creates a new AccountRepository.
func NewAccountRepository(db *gorm.DB) *AccountRepository {
	return &AccountRepository{db: db}
}

// Create inserts a new account record.
func (r *AccountRepository) Create(ctx context.Context, account *domain.Account) error {
	return r.db.WithContext(ctx).Create(account).Error
}

// GetByID retrieves an account by its ID.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - id: account ID.
// Returns:
//   - *domain.Account: account record if found.
//   - error: ErrNotFound if no such account exists.
func (r *AccountRepository) GetByID(ctx context.Context, id string) (*domain.Account, error) {
	var account domain.Account
	if err := r.db.WithContext(ctx).First(&account, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &account, nil
}

// ListByOwner returns every account of an owner, highest priority first.
func (r *AccountRepository) ListByOwner(ctx context.Context, ownerUserID string) ([]domain.Account, error) {
	var accounts []domain.Account
	err := r.db.WithContext(ctx).
		Where("owner_user_id = ?", ownerUserID).
		Order("priority DESC").Order("created_at ASC").
		Find(&accounts).Error
	return accounts, err
}

// GetPreferred returns the owner's preferred account, or nil when none is set.
func (r *AccountRepository) GetPreferred(ctx context.Context, ownerUserID string) (*domain.Account, error) {
	var accounts []domain.Account
	if err := r.db.WithContext(ctx).
		Where("owner_user_id = ? AND is_preferred = ?", ownerUserID, true).
		Limit(1).Find(&accounts).Error; err != nil {
		return nil, err
	}
	if len(accounts) == 0 {
		return nil, nil
	}
	return &accounts[0], nil
}

// SetPreferred marks one account as the owner's preferred account and clears
// the flag on all others in the same transaction.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - ownerUserID: owner whose preference changes.
//   - accountID: account to prefer; must belong to the owner.
// Returns:
//   - error: ErrNotFound if the account does not exist for that owner.
func (r *AccountRepository) SetPreferred(ctx context.Context, ownerUserID, accountID string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var account domain.Account
		if err := tx.First(&account, "id = ? AND owner_user_id = ?", accountID, ownerUserID).Error; err != nil {
			return notFound(err)
		}
		if err := tx.Model(&domain.Account{}).
			Where("owner_user_id = ? AND id <> ? AND is_preferred = ?", ownerUserID, accountID, true).
			Update("is_preferred", false).Error; err != nil {
			return err
		}
		return tx.Model(&domain.Account{}).Where("id = ?", accountID).Update("is_preferred", true).Error
	})
}

// ClearPreferred removes the owner's preference, if any.
func (r *AccountRepository) ClearPreferred(ctx context.Context, ownerUserID string) error {
	return r.db.WithContext(ctx).Model(&domain.Account{}).
		Where("owner_user_id = ? AND is_preferred = ?", ownerUserID, true).
		Update("is_preferred", false).Error
}

// SetEnabled enables or disables an account.
func (r *AccountRepository) SetEnabled(ctx context.Context, id string, enabled bool) error {
	res := r.db.WithContext(ctx).Model(&domain.Account{}).Where("id = ?", id).Update("enabled", enabled)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ApplyCooldown puts an account on cooldown until the given time.
// Entering cooldown sets the reason and bumps cooldown_count; re-applying while
// already cooling down only ever moves the deadline later.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - id: account ID.
//   - until: requested cooldown end.
//   - reason: failure signal that triggered the cooldown.
//   - now: current time, used to decide whether the account is already cooling down.
// Returns:
//   - entered: true if the account was not on cooldown before this call.
//   - error: ErrNotFound if the account does not exist.
func (r *AccountRepository) ApplyCooldown(ctx context.Context, id string, until time.Time, reason domain.CooldownReason, now time.Time) (bool, error) {
	db := r.db.WithContext(ctx)

	res := db.Model(&domain.Account{}).
		Where("id = ? AND (cooldown_until IS NULL OR cooldown_until <= ?)", id, now).
		Updates(map[string]interface{}{
			"cooldown_until":  until,
			"cooldown_reason": reason,
			"cooldown_count":  gorm.Expr("cooldown_count + 1"),
		})
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected > 0 {
		return true, nil
	}

	res = db.Model(&domain.Account{}).
		Where("id = ? AND cooldown_until < ?", id, until).
		Updates(map[string]interface{}{
			"cooldown_until":  until,
			"cooldown_reason": reason,
		})
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

// ClearCooldown ends any cooldown on the account.
func (r *AccountRepository) ClearCooldown(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Model(&domain.Account{}).Where("id = ?", id).
		Updates(map[string]interface{}{"cooldown_until": nil, "cooldown_reason": nil}).Error
}

// MarkSuccess records the time of the account's latest successful task.
func (r *AccountRepository) MarkSuccess(ctx context.Context, id string, at time.Time) error {
	return r.db.WithContext(ctx).Model(&domain.Account{}).Where("id = ?", id).
		Update("last_success_at", at).Error
}

// UpdateRiskAvg stores the account's mean session risk.
func (r *AccountRepository) UpdateRiskAvg(ctx context.Context, id string, avg float64) error {
	return r.db.WithContext(ctx).Model(&domain.Account{}).Where("id = ?", id).
		Update("risk_avg", avg).Error
}

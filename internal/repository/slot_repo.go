package repository

import (
	"context"

	"github.com/timmy/twparser/internal/domain"
	"gorm.io/gorm"
)

// SlotRepository handles egress slot records.
type SlotRepository struct {
	db *gorm.DB
}

// NewSlotRepository creates a new SlotRepository.
func NewSlotRepository(db *gorm.DB) *SlotRepository {
	return &SlotRepository{db: db}
}

// Create inserts a new slot.
func (r *SlotRepository) Create(ctx context.Context, slot *domain.EgressSlot) error {
	return r.db.WithContext(ctx).Create(slot).Error
}

// GetByID retrieves a slot by its ID.
func (r *SlotRepository) GetByID(ctx context.Context, id string) (*domain.EgressSlot, error) {
	var slot domain.EgressSlot
	if err := r.db.WithContext(ctx).First(&slot, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &slot, nil
}

// List returns every slot ordered by label.
func (r *SlotRepository) List(ctx context.Context) ([]domain.EgressSlot, error) {
	var slots []domain.EgressSlot
	err := r.db.WithContext(ctx).Order("label ASC").Order("id ASC").Find(&slots).Error
	return slots, err
}

// SetPaused persists the administrative pause flag.
func (r *SlotRepository) SetPaused(ctx context.Context, id string, paused bool, reason string) error {
	if !paused {
		reason = ""
	}
	res := r.db.WithContext(ctx).Model(&domain.EgressSlot{}).Where("id = ?", id).
		Updates(map[string]interface{}{"paused": paused, "paused_reason": reason})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Bind attaches an account to a slot. Any other slot bound to the same account
// is released in the same transaction, and the slot's previous binding is replaced.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - slotID: slot to bind.
//   - accountID: account to bind it to.
// Returns:
//   - error: ErrNotFound if either record does not exist.
func (r *SlotRepository) Bind(ctx context.Context, slotID, accountID string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var slot domain.EgressSlot
		if err := tx.First(&slot, "id = ?", slotID).Error; err != nil {
			return notFound(err)
		}
		var account domain.Account
		if err := tx.First(&account, "id = ?", accountID).Error; err != nil {
			return notFound(err)
		}
		if err := tx.Model(&domain.EgressSlot{}).
			Where("bound_account_id = ? AND id <> ?", accountID, slotID).
			Update("bound_account_id", nil).Error; err != nil {
			return err
		}
		return tx.Model(&domain.EgressSlot{}).Where("id = ?", slotID).
			Update("bound_account_id", accountID).Error
	})
}

// Unbind clears the slot's account binding.
func (r *SlotRepository) Unbind(ctx context.Context, slotID string) error {
	res := r.db.WithContext(ctx).Model(&domain.EgressSlot{}).Where("id = ?", slotID).
		Update("bound_account_id", nil)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

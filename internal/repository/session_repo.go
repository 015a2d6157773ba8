package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/timmy/twparser/internal/domain"
	"gorm.io/gorm"
)

// SessionRepository is the credential store for account sessions.
type SessionRepository struct {
	db *gorm.DB
}

// NewSessionRepository creates a new SessionRepository.
func NewSessionRepository(db *gorm.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

// IngestResult describes the outcome of a credential ingest.
type IngestResult struct {
	Session             *domain.Session `json:"session"`
	VersionIncremented  bool            `json:"versionIncremented"`
	PreviousDeactivated *domain.Session `json:"previousDeactivated,omitempty"`
}

// Ingest stores a new credential bundle as the account's active session.
// The previous active session is deactivated and the version bumped in one transaction.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - session: new session with AccountID, sealed cookies, cookie flags and user agent filled in.
// Returns:
//   - *IngestResult: the stored session and what it replaced.
//   - error: ErrNotFound for an unknown account, ErrConflict if another ingest won the race.
func (r *SessionRepository) Ingest(ctx context.Context, session *domain.Session) (*IngestResult, error) {
	result := &IngestResult{}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var account domain.Account
		if err := tx.First(&account, "id = ?", session.AccountID).Error; err != nil {
			return notFound(err)
		}

		var previous []domain.Session
		if err := tx.Where("account_id = ? AND is_active = ?", session.AccountID, true).
			Limit(1).Find(&previous).Error; err != nil {
			return err
		}
		if len(previous) > 0 {
			res := tx.Model(&domain.Session{}).
				Where("id = ? AND is_active = ?", previous[0].ID, true).
				Update("is_active", false)
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected != 1 {
				return ErrConflict
			}
			previous[0].IsActive = false
			result.PreviousDeactivated = &previous[0]
		}

		var maxVersion int
		if err := tx.Model(&domain.Session{}).
			Where("account_id = ?", session.AccountID).
			Select("COALESCE(MAX(version), 0)").
			Scan(&maxVersion).Error; err != nil {
			return err
		}

		if session.ID == "" {
			session.ID = uuid.New().String()
		}
		session.Version = maxVersion + 1
		session.IsActive = true
		session.Invalidation = ""
		if err := tx.Create(session).Error; err != nil {
			return err
		}

		result.VersionIncremented = maxVersion > 0
		return tx.Model(&domain.Account{}).Where("id = ?", session.AccountID).
			Update("sessions_count", gorm.Expr("sessions_count + 1")).Error
	})
	if err != nil {
		return nil, err
	}

	result.Session = session
	return result, nil
}

// GetActive returns the account's active session, or nil when it has none.
func (r *SessionRepository) GetActive(ctx context.Context, accountID string) (*domain.Session, error) {
	var sessions []domain.Session
	if err := r.db.WithContext(ctx).
		Where("account_id = ? AND is_active = ?", accountID, true).
		Limit(1).Find(&sessions).Error; err != nil {
		return nil, err
	}
	if len(sessions) == 0 {
		return nil, nil
	}
	return &sessions[0], nil
}

// GetByID retrieves a session by its ID.
func (r *SessionRepository) GetByID(ctx context.Context, id string) (*domain.Session, error) {
	var session domain.Session
	if err := r.db.WithContext(ctx).First(&session, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &session, nil
}

// ListActive returns all active sessions.
func (r *SessionRepository) ListActive(ctx context.Context) ([]domain.Session, error) {
	var sessions []domain.Session
	err := r.db.WithContext(ctx).Where("is_active = ?", true).Order("id").Find(&sessions).Error
	return sessions, err
}

// ActiveByAccount returns the active sessions of the given accounts keyed by account ID.
func (r *SessionRepository) ActiveByAccount(ctx context.Context, accountIDs []string) (map[string]domain.Session, error) {
	out := make(map[string]domain.Session, len(accountIDs))
	if len(accountIDs) == 0 {
		return out, nil
	}
	var sessions []domain.Session
	if err := r.db.WithContext(ctx).
		Where("account_id IN ? AND is_active = ?", accountIDs, true).
		Find(&sessions).Error; err != nil {
		return nil, err
	}
	for _, s := range sessions {
		out[s.AccountID] = s
	}
	return out, nil
}

// Invalidate marks a session INVALID or EXPIRED. The session stays active so the
// account remains visibly blocked until fresh credentials are ingested.
func (r *SessionRepository) Invalidate(ctx context.Context, id string, status domain.SessionStatus, reason string) error {
	res := r.db.WithContext(ctx).Model(&domain.Session{}).Where("id = ?", id).
		Updates(map[string]interface{}{
			"invalidation":   status,
			"invalid_reason": reason,
			"status":         status,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateRisk stores a freshly computed risk score.
func (r *SessionRepository) UpdateRisk(ctx context.Context, id string, score int) error {
	return r.db.WithContext(ctx).Model(&domain.Session{}).Where("id = ?", id).
		Update("risk_score", score).Error
}

// MarkUsed records that the session was handed to a runtime.
func (r *SessionRepository) MarkUsed(ctx context.Context, id string, at time.Time) error {
	return r.touch(ctx, id, "last_used_at", at)
}

// MarkSuccess records a successful execution with the session.
func (r *SessionRepository) MarkSuccess(ctx context.Context, id string, at time.Time) error {
	return r.db.WithContext(ctx).Model(&domain.Session{}).Where("id = ?", id).
		Updates(map[string]interface{}{"last_success_at": at, "last_used_at": at}).Error
}

// MarkWarmed records a warmth check against the session.
func (r *SessionRepository) MarkWarmed(ctx context.Context, id string, at time.Time) error {
	return r.touch(ctx, id, "last_warmth_at", at)
}

func (r *SessionRepository) touch(ctx context.Context, id, column string, at time.Time) error {
	return r.db.WithContext(ctx).Model(&domain.Session{}).Where("id = ?", id).Update(column, at).Error
}

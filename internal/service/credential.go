package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/timmy/twparser/internal/crypto"
	"github.com/timmy/twparser/internal/domain"
	"github.com/timmy/twparser/internal/logger"
	"github.com/timmy/twparser/internal/repository"
)

// ErrNoCookies is returned when a credential bundle carries no cookies.
var ErrNoCookies = errors.New("no cookies provided")

// CredentialService seals and stores session credentials.
type CredentialService struct {
	accounts *repository.AccountRepository
	sessions *repository.SessionRepository
	sealer   *crypto.Sealer
	logger   *logger.Logger
	now      func() time.Time
}

// NewCredentialService creates a new credential service.
func NewCredentialService(accounts *repository.AccountRepository, sessions *repository.SessionRepository, sealer *crypto.Sealer, log *logger.Logger) *CredentialService {
	return &CredentialService{
		accounts: accounts,
		sessions: sessions,
		sealer:   sealer,
		logger:   log,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Ingest stores a new session version for an account. The previous active
// session, if any, is deactivated in the same transaction.
func (s *CredentialService) Ingest(ctx context.Context, accountID string, cookies []domain.Cookie, userAgent string) (*repository.IngestResult, error) {
	if len(cookies) == 0 {
		return nil, ErrNoCookies
	}
	if _, err := s.accounts.GetByID(ctx, accountID); err != nil {
		return nil, err
	}

	sealed, err := s.sealer.SealCookies(cookies)
	if err != nil {
		return nil, fmt.Errorf("seal cookies: %w", err)
	}
	hasAuth, hasCt0 := domain.CookieFlags(cookies)

	result, err := s.sessions.Ingest(ctx, &domain.Session{
		AccountID:      accountID,
		HasAuthToken:   hasAuth,
		HasCt0:         hasCt0,
		CookiesSealed:  sealed,
		UserAgent:      userAgent,
		CookieIssuedAt: s.now(),
	})
	if err != nil {
		return nil, err
	}

	logger.FromContextOr(ctx, s.logger).WithFields(logger.Fields{
		logger.FieldAccountID: accountID,
		logger.FieldSessionID: result.Session.ID,
		logger.FieldStatus:    result.Session.Status,
		"version":             result.Session.Version,
	}).Info("Session credentials ingested")
	return result, nil
}

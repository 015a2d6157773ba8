package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/timmy/twparser/internal/crypto"
	"github.com/timmy/twparser/internal/domain"
	"github.com/timmy/twparser/internal/logger"
	"github.com/timmy/twparser/internal/repository"
)

// SelectionMode chooses between ranked selection and the owner's preferred account.
type SelectionMode string

const (
	SelectionAuto   SelectionMode = "AUTO"
	SelectionManual SelectionMode = "MANUAL"
)

// ParseSelectionMode normalizes a mode string, defaulting to AUTO.
func ParseSelectionMode(s string) SelectionMode {
	if SelectionMode(s) == SelectionManual {
		return SelectionManual
	}
	return SelectionAuto
}

// FailureReason enumerates why no execution context could be chosen.
type FailureReason string

const (
	ReasonNoEligibleSession FailureReason = "NO_ELIGIBLE_SESSION"
	ReasonNoProxyAvailable  FailureReason = "NO_PROXY_AVAILABLE"
	ReasonNoSlotAvailable   FailureReason = "NO_SLOT_AVAILABLE"
	ReasonNoSlotCapacity    FailureReason = "NO_SLOT_CAPACITY"
	ReasonSlotsPaused       FailureReason = "SLOTS_PAUSED"
	ReasonSlotsUnhealthy    FailureReason = "SLOTS_UNHEALTHY"
	ReasonAccountOnCooldown FailureReason = "ACCOUNT_ON_COOLDOWN"
	ReasonAccountNotFound   FailureReason = "ACCOUNT_NOT_FOUND"
	ReasonAccountDisabled   FailureReason = "ACCOUNT_DISABLED"
	ReasonDecryptFailed     FailureReason = "DECRYPT_FAILED"
)

// SelectionError is a selection failure callers can branch on.
type SelectionError struct {
	Reason      FailureReason `json:"reason"`
	AccountID   string        `json:"accountId,omitempty"`
	RemainingMs int64         `json:"remainingMs,omitempty"`
}

func (e *SelectionError) Error() string {
	if e.AccountID != "" {
		return fmt.Sprintf("selection failed: %s (account %s)", e.Reason, e.AccountID)
	}
	return "selection failed: " + string(e.Reason)
}

// AsSelectionError unwraps a *SelectionError.
func AsSelectionError(err error) (*SelectionError, bool) {
	var selErr *SelectionError
	if errors.As(err, &selErr) {
		return selErr, true
	}
	return nil, false
}

// SelectionRequest is the context a caller selects for.
type SelectionRequest struct {
	OwnerUserID  string
	Mode         SelectionMode
	AccountID    string
	RequireProxy bool
}

// Candidate is one account with its active session and eligibility.
type Candidate struct {
	Account  domain.Account  `json:"account"`
	Session  *domain.Session `json:"session,omitempty"`
	Rank     int             `json:"rank"`
	CanParse bool            `json:"canParse"`
	Blocker  FailureReason   `json:"blocker,omitempty"`
	Cooldown domain.Cooldown `json:"cooldown"`
}

// CandidateStats summarizes a candidate listing.
type CandidateStats struct {
	Total         int `json:"total"`
	CanParse      int `json:"canParse"`
	WithOkSession int `json:"withOkSession"`
	WithPreferred int `json:"withPreferred"`
}

// CandidateList is the operator view of every account of an owner.
type CandidateList struct {
	Candidates []Candidate    `json:"candidates"`
	Stats      CandidateStats `json:"stats"`
}

// Selection is a chosen (account, session, slot) triple.
type Selection struct {
	Mode         SelectionMode        `json:"mode"`
	Account      domain.Account       `json:"account"`
	Session      domain.Session       `json:"session"`
	Slot         domain.EgressSlot    `json:"slot"`
	SlotHealth   domain.SlotHealth    `json:"slotHealth"`
	RiskBand     domain.RiskBand      `json:"riskBand"`
	ScrollHint   domain.ScrollProfile `json:"scrollProfileHint"`
	Alternatives []string             `json:"alternativeAccounts"`

	reservation *Reservation
}

// Release gives back the slot reservation, if one was taken.
func (s *Selection) Release() {
	if s != nil {
		s.reservation.Release()
	}
}

// FullSelection adds decrypted credentials to a selection.
type FullSelection struct {
	*Selection
	Cookies   []domain.Cookie `json:"cookies"`
	UserAgent string          `json:"userAgent,omitempty"`
}

// SelectionService picks execution contexts for parse work.
type SelectionService struct {
	accounts *repository.AccountRepository
	sessions *repository.SessionRepository
	slots    *SlotService
	risk     *RiskService
	sealer   *crypto.Sealer
	logger   *logger.Logger
	now      func() time.Time
}

// NewSelectionService creates a new selection service.
func NewSelectionService(
	accounts *repository.AccountRepository,
	sessions *repository.SessionRepository,
	slots *SlotService,
	risk *RiskService,
	sealer *crypto.Sealer,
	log *logger.Logger,
) *SelectionService {
	return &SelectionService{
		accounts: accounts,
		sessions: sessions,
		slots:    slots,
		risk:     risk,
		sealer:   sealer,
		logger:   log,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *SelectionService) log(ctx context.Context) *logger.Logger {
	return logger.FromContextOr(ctx, s.logger)
}

func blockerFor(account *domain.Account, session *domain.Session, now time.Time) FailureReason {
	if !account.Enabled {
		return ReasonAccountDisabled
	}
	if account.Cooldown(now).OnCooldown {
		return ReasonAccountOnCooldown
	}
	if session == nil || !session.IsActive || !session.Status.Usable() {
		return ReasonNoEligibleSession
	}
	return ""
}

func statusRank(status domain.SessionStatus) int {
	if status == domain.SessionStatusOK {
		return 0
	}
	return 1
}

// rankLess orders eligible candidates: OK before STALE, lower risk, higher
// priority, most recent success, then id.
func rankLess(a, b *Candidate) bool {
	if ra, rb := statusRank(a.Session.Status), statusRank(b.Session.Status); ra != rb {
		return ra < rb
	}
	if a.Session.RiskScore != b.Session.RiskScore {
		return a.Session.RiskScore < b.Session.RiskScore
	}
	if a.Account.Priority != b.Account.Priority {
		return a.Account.Priority > b.Account.Priority
	}
	la, lb := a.Account.LastSuccessAt, b.Account.LastSuccessAt
	switch {
	case la != nil && lb == nil:
		return true
	case la == nil && lb != nil:
		return false
	case la != nil && lb != nil && !la.Equal(*lb):
		return la.After(*lb)
	}
	return a.Account.ID < b.Account.ID
}

// candidates loads the owner's accounts, eligible ones first in rank order.
func (s *SelectionService) candidates(ctx context.Context, owner string) ([]Candidate, error) {
	accounts, err := s.accounts.ListByOwner(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	ids := make([]string, len(accounts))
	for i := range accounts {
		ids[i] = accounts[i].ID
	}
	active, err := s.sessions.ActiveByAccount(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load sessions: %w", err)
	}

	now := s.now()
	out := make([]Candidate, 0, len(accounts))
	for _, account := range accounts {
		c := Candidate{Account: account, Cooldown: account.Cooldown(now)}
		if session, ok := active[account.ID]; ok {
			session := session
			c.Session = &session
		}
		c.Blocker = blockerFor(&c.Account, c.Session, now)
		c.CanParse = c.Blocker == ""
		out = append(out, c)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CanParse != out[j].CanParse {
			return out[i].CanParse
		}
		if !out[i].CanParse {
			return out[i].Account.ID < out[j].Account.ID
		}
		return rankLess(&out[i], &out[j])
	})
	for i := range out {
		if out[i].CanParse {
			out[i].Rank = i + 1
		}
	}
	return out, nil
}

// Candidates lists every account of the owner with its rank and blocker. The
// preferred account is listed first.
func (s *SelectionService) Candidates(ctx context.Context, owner string) (*CandidateList, error) {
	cands, err := s.candidates(ctx, owner)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(cands, func(i, j int) bool {
		return cands[i].Account.IsPreferred && !cands[j].Account.IsPreferred
	})

	list := &CandidateList{Candidates: cands}
	list.Stats.Total = len(cands)
	for _, c := range cands {
		if c.CanParse {
			list.Stats.CanParse++
		}
		if c.Session != nil && c.Session.Status == domain.SessionStatusOK {
			list.Stats.WithOkSession++
		}
		if c.Account.IsPreferred {
			list.Stats.WithPreferred++
		}
	}
	return list, nil
}

// Preview chooses an execution context without reserving capacity.
func (s *SelectionService) Preview(ctx context.Context, req SelectionRequest) (*Selection, error) {
	return s.resolve(ctx, req, false)
}

// SelectForExecution chooses an execution context and reserves one unit of the
// slot's capacity in the same step. The caller must Release the selection.
func (s *SelectionService) SelectForExecution(ctx context.Context, req SelectionRequest) (*Selection, error) {
	return s.resolve(ctx, req, true)
}

// ResolveFull is Preview plus the session's decrypted cookies.
func (s *SelectionService) ResolveFull(ctx context.Context, req SelectionRequest) (*FullSelection, error) {
	sel, err := s.Preview(ctx, req)
	if err != nil {
		return nil, err
	}
	cookies, err := s.OpenCookies(&sel.Session)
	if err != nil {
		return nil, err
	}
	return &FullSelection{Selection: sel, Cookies: cookies, UserAgent: sel.Session.UserAgent}, nil
}

// OpenCookies decrypts a session's cookies, reporting failure as DECRYPT_FAILED.
func (s *SelectionService) OpenCookies(session *domain.Session) ([]domain.Cookie, error) {
	if session.CookiesSealed == "" {
		return nil, nil
	}
	cookies, err := s.sealer.OpenCookies(session.CookiesSealed)
	if err != nil {
		return nil, &SelectionError{Reason: ReasonDecryptFailed, AccountID: session.AccountID}
	}
	return cookies, nil
}

func (s *SelectionService) resolve(ctx context.Context, req SelectionRequest, reserve bool) (*Selection, error) {
	cands, err := s.candidates(ctx, req.OwnerUserID)
	if err != nil {
		return nil, err
	}

	var eligible []*Candidate
	for i := range cands {
		if cands[i].CanParse {
			eligible = append(eligible, &cands[i])
		}
	}

	order, manual, err := s.order(cands, eligible, req)
	if err != nil {
		return nil, err
	}

	snapshots, err := s.slots.Snapshots(ctx)
	if err != nil {
		return nil, err
	}

	var firstFailure *SelectionError
	for i, c := range order {
		slot, res, reason := s.bindSlot(snapshots, c.Account.ID, req.RequireProxy, reserve)
		if reason != "" {
			if firstFailure == nil {
				firstFailure = &SelectionError{Reason: reason, AccountID: c.Account.ID}
			}
			continue
		}

		band := s.risk.Band(c.Session.RiskScore)
		sel := &Selection{
			Mode:        SelectionAuto,
			Account:     c.Account,
			Session:     *c.Session,
			Slot:        slot.Slot,
			SlotHealth:  slot.Health,
			RiskBand:    band,
			ScrollHint:  ScrollHintFor(c.Session.Status, band),
			reservation: res,
		}
		if manual && i == 0 {
			sel.Mode = SelectionManual
		}
		for _, alt := range eligible {
			if alt.Account.ID != c.Account.ID && len(sel.Alternatives) < 3 {
				sel.Alternatives = append(sel.Alternatives, alt.Account.ID)
			}
		}

		s.log(ctx).WithFields(logger.Fields{
			logger.FieldAccountID: sel.Account.ID,
			logger.FieldSessionID: sel.Session.ID,
			logger.FieldSlotID:    sel.Slot.ID,
			"mode":                sel.Mode,
			"reserved":            reserve,
		}).Debug("Execution context selected")
		return sel, nil
	}
	if firstFailure == nil {
		firstFailure = &SelectionError{Reason: ReasonNoEligibleSession}
	}
	return nil, firstFailure
}

// order returns the candidates to try, and whether the first one is the
// owner's preferred account chosen in MANUAL mode.
func (s *SelectionService) order(cands []Candidate, eligible []*Candidate, req SelectionRequest) ([]*Candidate, bool, error) {
	now := s.now()

	if req.AccountID != "" {
		for i := range cands {
			c := &cands[i]
			if c.Account.ID != req.AccountID {
				continue
			}
			if !c.CanParse {
				selErr := &SelectionError{Reason: c.Blocker, AccountID: c.Account.ID}
				if c.Blocker == ReasonAccountOnCooldown {
					selErr.RemainingMs = c.Account.Cooldown(now).RemainingMs
				}
				return nil, false, selErr
			}
			return []*Candidate{c}, false, nil
		}
		return nil, false, &SelectionError{Reason: ReasonAccountNotFound, AccountID: req.AccountID}
	}

	if len(eligible) == 0 {
		return nil, false, noEligible(cands, now)
	}

	if req.Mode == SelectionManual {
		for i, c := range eligible {
			if !c.Account.IsPreferred {
				continue
			}
			order := make([]*Candidate, 0, len(eligible))
			order = append(order, c)
			order = append(order, eligible[:i]...)
			order = append(order, eligible[i+1:]...)
			return order, true, nil
		}
	}
	return eligible, false, nil
}

// noEligible reports ACCOUNT_ON_COOLDOWN when cooldowns are the only thing
// blocking the owner's accounts, otherwise NO_ELIGIBLE_SESSION.
func noEligible(cands []Candidate, now time.Time) *SelectionError {
	if len(cands) == 0 {
		return &SelectionError{Reason: ReasonNoEligibleSession}
	}
	var soonest int64
	for _, c := range cands {
		if c.Blocker != ReasonAccountOnCooldown {
			return &SelectionError{Reason: ReasonNoEligibleSession}
		}
		if rem := c.Account.Cooldown(now).RemainingMs; soonest == 0 || rem < soonest {
			soonest = rem
		}
	}
	return &SelectionError{Reason: ReasonAccountOnCooldown, RemainingMs: soonest}
}

func healthRank(h domain.SlotHealth) int {
	switch h {
	case domain.SlotHealthHealthy:
		return 0
	case domain.SlotHealthDegraded:
		return 1
	default:
		return 2
	}
}

func budgetRank(remaining int) int {
	if remaining == Unlimited {
		return int(^uint(0) >> 1)
	}
	return remaining
}

// bindSlot picks a compatible slot for the account, reserving it when asked.
// When every compatible slot is refused, capacity is reported before pauses and
// pauses before ill health.
func (s *SelectionService) bindSlot(snapshots []SlotSnapshot, accountID string, requireProxy, reserve bool) (*SlotSnapshot, *Reservation, FailureReason) {
	var compatible []*SlotSnapshot
	for i := range snapshots {
		snap := &snapshots[i]
		if !snap.Slot.Enabled {
			continue
		}
		if requireProxy && !snap.Slot.Type.Egress() {
			continue
		}
		if snap.Slot.BoundAccountID != nil && *snap.Slot.BoundAccountID != accountID {
			continue
		}
		compatible = append(compatible, snap)
	}
	if len(compatible) == 0 {
		if requireProxy {
			return nil, nil, ReasonNoProxyAvailable
		}
		return nil, nil, ReasonNoSlotAvailable
	}

	sort.SliceStable(compatible, func(i, j int) bool {
		a, b := compatible[i], compatible[j]
		if ba, bb := a.Slot.BoundTo(accountID), b.Slot.BoundTo(accountID); ba != bb {
			return ba
		}
		if ha, hb := healthRank(a.Health), healthRank(b.Health); ha != hb {
			return ha < hb
		}
		return budgetRank(a.Remaining) > budgetRank(b.Remaining)
	})

	var sawCapacity, sawPaused, sawUnhealthy bool
	manager := s.slots.Manager()
	for _, snap := range compatible {
		if snap.Paused {
			sawPaused = true
			continue
		}
		if snap.Health == domain.SlotHealthError {
			sawUnhealthy = true
			continue
		}

		if !reserve {
			u := snap.Usage
			full := (u.MaxPerWindow > 0 && u.RequestsThisWindow >= u.MaxPerWindow) ||
				(u.MaxConcurrent > 0 && u.CurrentConcurrent >= u.MaxConcurrent)
			if full {
				sawCapacity = true
				continue
			}
			return snap, nil, ""
		}

		res, outcome := manager.Reserve(snap.Slot.ID)
		switch outcome {
		case ReserveGranted:
			return snap, res, ""
		case ReserveDeniedCapacity:
			sawCapacity = true
		case ReserveDeniedPaused:
			sawPaused = true
		}
	}

	switch {
	case sawCapacity:
		return nil, nil, ReasonNoSlotCapacity
	case sawPaused:
		return nil, nil, ReasonSlotsPaused
	case sawUnhealthy:
		return nil, nil, ReasonSlotsUnhealthy
	case requireProxy:
		return nil, nil, ReasonNoProxyAvailable
	default:
		return nil, nil, ReasonNoSlotAvailable
	}
}

// SetPreferred makes accountID the owner's preferred account.
func (s *SelectionService) SetPreferred(ctx context.Context, owner, accountID string) error {
	if err := s.accounts.SetPreferred(ctx, owner, accountID); err != nil {
		return err
	}
	s.log(ctx).WithFields(logger.Fields{
		logger.FieldUserID:    owner,
		logger.FieldAccountID: accountID,
	}).Info("Preferred account set")
	return nil
}

// ClearPreferred removes the owner's preferred account.
func (s *SelectionService) ClearPreferred(ctx context.Context, owner string) error {
	return s.accounts.ClearPreferred(ctx, owner)
}

// GetPreferred returns the owner's preferred account, if any, and the mode it implies.
func (s *SelectionService) GetPreferred(ctx context.Context, owner string) (*domain.Account, SelectionMode, error) {
	account, err := s.accounts.GetPreferred(ctx, owner)
	if err != nil {
		return nil, SelectionAuto, err
	}
	if account == nil {
		return nil, SelectionAuto, nil
	}
	return account, SelectionManual, nil
}

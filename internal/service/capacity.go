package service

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/timmy/twparser/internal/config"
	"github.com/timmy/twparser/internal/domain"
)

// Unlimited is reported as remaining budget for slots without a window quota.
const Unlimited = -1

// DefaultCapacityConfig returns the reference capacity and health thresholds.
func DefaultCapacityConfig() config.CapacityConfig {
	return config.CapacityConfig{
		Window:         time.Hour,
		DegradedAfter:  2,
		ErrorAfter:     5,
		RecoveryStreak: 3,
		AutoPauseAfter: 10,
		SampleSize:     20,
	}
}

// ReserveOutcome is the answer to a reservation attempt.
type ReserveOutcome string

const (
	ReserveGranted        ReserveOutcome = "GRANTED"
	ReserveDeniedCapacity ReserveOutcome = "DENIED_CAPACITY"
	ReserveDeniedPaused   ReserveOutcome = "DENIED_PAUSED"
	ReserveDeniedDisabled ReserveOutcome = "DENIED_DISABLED"
	ReserveDeniedUnknown  ReserveOutcome = "DENIED_UNKNOWN"
)

// UsageSnapshot is a slot's consumption at one instant.
type UsageSnapshot struct {
	RequestsThisWindow int `json:"requestsThisWindow"`
	MaxPerWindow       int `json:"maxPerWindow"`
	CurrentConcurrent  int `json:"currentConcurrent"`
	MaxConcurrent      int `json:"maxConcurrent"`
}

// SlotSnapshot is the manager's full view of one slot.
type SlotSnapshot struct {
	Slot         domain.EgressSlot `json:"slot"`
	Health       domain.SlotHealth `json:"health"`
	Usage        UsageSnapshot     `json:"usage"`
	Remaining    int               `json:"remaining"`
	Paused       bool              `json:"paused"`
	PausedReason string            `json:"pausedReason,omitempty"`
}

type slotState struct {
	slot              domain.EgressSlot
	requests          []time.Time
	inFlight          int
	consecutiveErrors int
	successStreak     int
	recent            []bool
}

// Reservation holds one unit of a slot's capacity until released.
type Reservation struct {
	SlotID string

	manager *CapacityManager
	once    sync.Once
}

// Release returns the concurrency unit. Safe to call more than once.
func (r *Reservation) Release() {
	if r == nil {
		return
	}
	r.once.Do(func() {
		r.manager.release(r.SlotID)
	})
}

// CapacityManager tracks per-slot request windows, in-flight counts and health.
// Every check-and-increment happens under one mutex.
type CapacityManager struct {
	cfg config.CapacityConfig
	now func() time.Time

	mu          sync.Mutex
	slots       map[string]*slotState
	onAutoPause func(slotID, reason string)
}

// NewCapacityManager creates an empty manager.
func NewCapacityManager(cfg config.CapacityConfig) *CapacityManager {
	defaults := DefaultCapacityConfig()
	setDuration(&defaults.Window, cfg.Window)
	setInt(&defaults.DegradedAfter, cfg.DegradedAfter)
	setInt(&defaults.ErrorAfter, cfg.ErrorAfter)
	setInt(&defaults.RecoveryStreak, cfg.RecoveryStreak)
	setInt(&defaults.AutoPauseAfter, cfg.AutoPauseAfter)
	setInt(&defaults.SampleSize, cfg.SampleSize)
	return &CapacityManager{
		cfg:   defaults,
		now:   time.Now,
		slots: make(map[string]*slotState),
	}
}

// OnAutoPause registers a callback invoked after a slot is paused for sustained errors.
func (m *CapacityManager) OnAutoPause(fn func(slotID, reason string)) {
	m.mu.Lock()
	m.onAutoPause = fn
	m.mu.Unlock()
}

// Sync replaces the known slot definitions, keeping usage and health for slots
// that still exist.
func (m *CapacityManager) Sync(slots []domain.EgressSlot) {
	m.mu.Lock()
	defer m.mu.Unlock()

	seen := make(map[string]bool, len(slots))
	for _, slot := range slots {
		seen[slot.ID] = true
		if st, ok := m.slots[slot.ID]; ok {
			st.slot = slot
			continue
		}
		m.slots[slot.ID] = &slotState{slot: slot}
	}
	for id, st := range m.slots {
		if !seen[id] && st.inFlight == 0 {
			delete(m.slots, id)
		}
	}
}

func (m *CapacityManager) maxPerWindow(slot domain.EgressSlot) int {
	if slot.RequestsPerHour <= 0 {
		return 0
	}
	return int(math.Round(float64(slot.RequestsPerHour) * m.cfg.Window.Hours()))
}

func (m *CapacityManager) prune(st *slotState, now time.Time) {
	cutoff := now.Add(-m.cfg.Window)
	kept := st.requests[:0]
	for _, t := range st.requests {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	st.requests = kept
}

// Reserve takes one request from the slot's window and one concurrency unit.
// The returned reservation is nil unless the outcome is ReserveGranted.
func (m *CapacityManager) Reserve(slotID string) (*Reservation, ReserveOutcome) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.slots[slotID]
	if !ok {
		return nil, ReserveDeniedUnknown
	}
	if !st.slot.Enabled {
		return nil, ReserveDeniedDisabled
	}
	if st.slot.Paused {
		return nil, ReserveDeniedPaused
	}

	now := m.now()
	m.prune(st, now)
	if limit := m.maxPerWindow(st.slot); limit > 0 && len(st.requests) >= limit {
		return nil, ReserveDeniedCapacity
	}
	if st.slot.MaxConcurrent > 0 && st.inFlight >= st.slot.MaxConcurrent {
		return nil, ReserveDeniedCapacity
	}

	st.requests = append(st.requests, now)
	st.inFlight++
	return &Reservation{SlotID: slotID, manager: m}, ReserveGranted
}

func (m *CapacityManager) release(slotID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if st, ok := m.slots[slotID]; ok && st.inFlight > 0 {
		st.inFlight--
	}
}

// ReportOutcome feeds one execution result into the slot's health.
func (m *CapacityManager) ReportOutcome(slotID string, ok bool) {
	var pausedReason string
	var callback func(string, string)

	m.mu.Lock()
	st, found := m.slots[slotID]
	if !found {
		m.mu.Unlock()
		return
	}
	if ok {
		st.consecutiveErrors = 0
		st.successStreak++
	} else {
		st.consecutiveErrors++
		st.successStreak = 0
	}
	st.recent = append(st.recent, ok)
	if len(st.recent) > m.cfg.SampleSize {
		st.recent = st.recent[len(st.recent)-m.cfg.SampleSize:]
	}
	if !st.slot.Paused && st.consecutiveErrors >= m.cfg.AutoPauseAfter {
		pausedReason = fmt.Sprintf("auto-paused after %d consecutive errors", st.consecutiveErrors)
		st.slot.Paused = true
		st.slot.PausedReason = pausedReason
		callback = m.onAutoPause
	}
	m.mu.Unlock()

	if callback != nil {
		callback(slotID, pausedReason)
	}
}

// DeriveSlotHealth computes health from recent outcomes.
func DeriveSlotHealth(consecutiveErrors, successStreak int, recent []bool, cfg config.CapacityConfig) domain.SlotHealth {
	if consecutiveErrors >= cfg.ErrorAfter {
		return domain.SlotHealthError
	}
	if consecutiveErrors >= cfg.DegradedAfter {
		return domain.SlotHealthDegraded
	}
	if len(recent) > 0 && successStreak < cfg.RecoveryStreak {
		failed := 0
		for _, ok := range recent {
			if !ok {
				failed++
			}
		}
		if float64(failed)/float64(len(recent)) >= 0.5 {
			return domain.SlotHealthDegraded
		}
	}
	return domain.SlotHealthHealthy
}

// Health returns the slot's derived health. Unknown slots report ERROR.
func (m *CapacityManager) Health(slotID string) domain.SlotHealth {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.slots[slotID]
	if !ok {
		return domain.SlotHealthError
	}
	return DeriveSlotHealth(st.consecutiveErrors, st.successStreak, st.recent, m.cfg)
}

// Pause makes the slot deny every reservation until resumed.
func (m *CapacityManager) Pause(slotID, reason string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.slots[slotID]
	if !ok {
		return false
	}
	st.slot.Paused = true
	st.slot.PausedReason = reason
	return true
}

// Resume lifts a pause and clears the error history that may have caused it.
func (m *CapacityManager) Resume(slotID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.slots[slotID]
	if !ok {
		return false
	}
	st.slot.Paused = false
	st.slot.PausedReason = ""
	st.consecutiveErrors = 0
	st.recent = nil
	return true
}

func (m *CapacityManager) usage(st *slotState) UsageSnapshot {
	m.prune(st, m.now())
	return UsageSnapshot{
		RequestsThisWindow: len(st.requests),
		MaxPerWindow:       m.maxPerWindow(st.slot),
		CurrentConcurrent:  st.inFlight,
		MaxConcurrent:      st.slot.MaxConcurrent,
	}
}

func remaining(u UsageSnapshot) int {
	if u.MaxPerWindow <= 0 {
		return Unlimited
	}
	if r := u.MaxPerWindow - u.RequestsThisWindow; r > 0 {
		return r
	}
	return 0
}

// Usage returns the slot's current consumption.
func (m *CapacityManager) Usage(slotID string) (UsageSnapshot, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.slots[slotID]
	if !ok {
		return UsageSnapshot{}, false
	}
	return m.usage(st), true
}

// Remaining returns the requests left in the slot's window, or Unlimited.
func (m *CapacityManager) Remaining(slotID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.slots[slotID]
	if !ok {
		return 0
	}
	return remaining(m.usage(st))
}

// Snapshots returns every known slot ordered by label.
func (m *CapacityManager) Snapshots() []SlotSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]SlotSnapshot, 0, len(m.slots))
	for _, st := range m.slots {
		u := m.usage(st)
		out = append(out, SlotSnapshot{
			Slot:         st.slot,
			Health:       DeriveSlotHealth(st.consecutiveErrors, st.successStreak, st.recent, m.cfg),
			Usage:        u,
			Remaining:    remaining(u),
			Paused:       st.slot.Paused,
			PausedReason: st.slot.PausedReason,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Slot.Label != out[j].Slot.Label {
			return out[i].Slot.Label < out[j].Slot.Label
		}
		return out[i].Slot.ID < out[j].Slot.ID
	})
	return out
}

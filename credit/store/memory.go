// Package store provides in-memory implementations of the credit store
// interfaces for tests and development.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hearth/credit-engine/credit"
)

// =============================================================================
// MEMORY - In-memory implementation of every store interface
// =============================================================================

// Memory implements FamilyStore, TierStore, CreditStore, SettlementStore,
// AuditStore, and Ledger against maps. One mutex guards everything; the
// point is fidelity to the interface contracts, not throughput.
type Memory struct {
	mu sync.RWMutex

	families  map[credit.FamilyID]credit.Family
	tiers     map[credit.FamilyID][]credit.InterestTier
	settings  map[credit.ChildID]credit.CreditSettings
	records   []credit.SettlementRecord
	entries   map[string]*credit.ReportEntry
	auditSlot map[auditKey]string // (family, type, periodStart) -> entry ID

	children map[credit.FamilyID][]credit.ChildID
	balances map[credit.ChildID]int64
	ledgerKs map[string]bool // posted idempotency keys

	lockMu     sync.Mutex
	childLocks map[credit.ChildID]*sync.Mutex
}

type auditKey struct {
	Family credit.FamilyID
	Type   credit.ReportType
	Start  time.Time
}

func NewMemory() *Memory {
	return &Memory{
		families:  make(map[credit.FamilyID]credit.Family),
		tiers:     make(map[credit.FamilyID][]credit.InterestTier),
		settings:  make(map[credit.ChildID]credit.CreditSettings),
		entries:   make(map[string]*credit.ReportEntry),
		auditSlot: make(map[auditKey]string),
		children:  make(map[credit.FamilyID][]credit.ChildID),
		balances:  make(map[credit.ChildID]int64),
		ledgerKs:  make(map[string]bool),

		childLocks: make(map[credit.ChildID]*sync.Mutex),
	}
}

// =============================================================================
// FAMILY STORE
// =============================================================================

func (m *Memory) GetFamily(_ context.Context, id credit.FamilyID) (*credit.Family, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	f, ok := m.families[id]
	if !ok {
		return nil, credit.ErrFamilyNotFound
	}
	return &f, nil
}

func (m *Memory) ListFamilies(_ context.Context) ([]credit.Family, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]credit.Family, 0, len(m.families))
	for _, f := range m.families {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) SaveFamily(_ context.Context, f credit.Family) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.families[f.ID] = f
	return nil
}

// =============================================================================
// TIER STORE
// =============================================================================

func (m *Memory) GetTiers(_ context.Context, familyID credit.FamilyID) ([]credit.InterestTier, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]credit.InterestTier, len(m.tiers[familyID]))
	copy(out, m.tiers[familyID])
	return out, nil
}

func (m *Memory) ReplaceTiers(_ context.Context, familyID credit.FamilyID, tiers []credit.InterestTier) error {
	if err := credit.ValidateTiers(tiers); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	stored := make([]credit.InterestTier, len(tiers))
	copy(stored, tiers)
	m.tiers[familyID] = stored
	return nil
}

// =============================================================================
// CREDIT STORE
// =============================================================================

func (m *Memory) GetSettings(_ context.Context, _ credit.FamilyID, childID credit.ChildID) (*credit.CreditSettings, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.settings[childID]
	if !ok {
		return nil, credit.ErrSettingsNotFound
	}
	return &s, nil
}

func (m *Memory) SaveSettings(_ context.Context, s credit.CreditSettings) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settings[s.ChildID] = s
	return nil
}

func (m *Memory) UpdateLimit(_ context.Context, _ credit.FamilyID, childID credit.ChildID, newLimit int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.settings[childID]
	if !ok {
		return credit.ErrSettingsNotFound
	}
	s.CreditLimit = newLimit
	m.settings[childID] = s
	return nil
}

// =============================================================================
// SETTLEMENT STORE (append-only)
// =============================================================================

func (m *Memory) SaveRecord(_ context.Context, rec credit.SettlementRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, rec)
	return nil
}

func (m *Memory) ListRecords(_ context.Context, familyID credit.FamilyID, limit int) ([]credit.SettlementRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.filterRecords(func(r credit.SettlementRecord) bool { return r.FamilyID == familyID }, limit), nil
}

func (m *Memory) ListRecordsForChild(_ context.Context, childID credit.ChildID, limit int) ([]credit.SettlementRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.filterRecords(func(r credit.SettlementRecord) bool { return r.ChildID == childID }, limit), nil
}

func (m *Memory) filterRecords(keep func(credit.SettlementRecord) bool, limit int) []credit.SettlementRecord {
	var out []credit.SettlementRecord
	for _, r := range m.records {
		if keep(r) {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].SettledAt.After(out[j].SettledAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// =============================================================================
// AUDIT STORE
// =============================================================================

func (m *Memory) Create(_ context.Context, entry *credit.ReportEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := auditKey{Family: entry.FamilyID, Type: entry.Type, Start: entry.PeriodStart.UTC()}
	if _, taken := m.auditSlot[k]; taken {
		return credit.ErrAlreadySettled
	}
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	stored := *entry
	m.entries[entry.ID] = &stored
	m.auditSlot[k] = entry.ID
	return nil
}

func (m *Memory) Exists(_ context.Context, familyID credit.FamilyID, typ credit.ReportType, periodStart time.Time) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.auditSlot[auditKey{Family: familyID, Type: typ, Start: periodStart.UTC()}]
	return ok, nil
}

func (m *Memory) UpdateStatus(_ context.Context, id string, status credit.ReportStatus, sentAt *time.Time, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	if !ok {
		return credit.ErrFamilyNotFound
	}
	e.Status = status
	e.SentAt = sentAt
	e.ErrorMessage = errMsg
	return nil
}

func (m *Memory) ListEntries(_ context.Context, familyID credit.FamilyID, limit int) ([]credit.ReportEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []credit.ReportEntry
	for _, e := range m.entries {
		if e.FamilyID == familyID {
			out = append(out, *e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// =============================================================================
// LEDGER
// =============================================================================

func (m *Memory) childLock(childID credit.ChildID) *sync.Mutex {
	m.lockMu.Lock()
	defer m.lockMu.Unlock()
	l, ok := m.childLocks[childID]
	if !ok {
		l = &sync.Mutex{}
		m.childLocks[childID] = l
	}
	return l
}

// WithChildLock serializes settlement against points writes for one
// child. SetBalance takes the same lock; PostInterestDebit does not,
// because it only ever runs inside a WithChildLock section.
func (m *Memory) WithChildLock(ctx context.Context, childID credit.ChildID, fn func(ctx context.Context) error) error {
	l := m.childLock(childID)
	l.Lock()
	defer l.Unlock()
	return fn(ctx)
}

// SetBalance seeds a child's running balance (negative = debt). Blocks
// while the child is being settled.
func (m *Memory) SetBalance(familyID credit.FamilyID, childID credit.ChildID, balance int64) {
	l := m.childLock(childID)
	l.Lock()
	defer l.Unlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.balances[childID]; !ok {
		m.children[familyID] = append(m.children[familyID], childID)
	}
	m.balances[childID] = balance
}

func (m *Memory) GetBalance(_ context.Context, childID credit.ChildID) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.balances[childID]
	if !ok {
		return 0, credit.ErrChildNotFound
	}
	return b, nil
}

func (m *Memory) GetOutstandingDebt(ctx context.Context, childID credit.ChildID) (int64, error) {
	b, err := m.GetBalance(ctx, childID)
	if err != nil {
		return 0, err
	}
	if b >= 0 {
		return 0, nil
	}
	return -b, nil
}

func (m *Memory) PostInterestDebit(_ context.Context, childID credit.ChildID, amount int64, _ time.Time, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.balances[childID]; !ok {
		return credit.ErrChildNotFound
	}
	if key != "" && m.ledgerKs[key] {
		return nil // already posted, idempotent
	}
	m.balances[childID] -= amount
	if key != "" {
		m.ledgerKs[key] = true
	}
	return nil
}

func (m *Memory) GetChildrenOf(_ context.Context, familyID credit.FamilyID) ([]credit.ChildID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]credit.ChildID, len(m.children[familyID]))
	copy(out, m.children[familyID])
	return out, nil
}

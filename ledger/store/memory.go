// Package store provides the in-memory ledger.TxStore.
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/warp/debt-planner/id"
	"github.com/warp/debt-planner/ledger"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

var _ ledger.TxStore = (*Memory)(nil)

// Memory keeps every record in maps guarded by one RWMutex. WithTx holds
// the write lock for the whole unit of work, snapshots the maps first and
// restores them if fn fails.
type Memory struct {
	mu sync.RWMutex

	liabilities map[string]*ledger.Liability
	entries     map[string]*ledger.Entry
	plans       map[string]*ledger.Plan
	seq         map[string]int64 // insertion order, for stable listing
	next        int64

	faults map[string]error
}

func NewMemory() *Memory {
	return &Memory{
		liabilities: make(map[string]*ledger.Liability),
		entries:     make(map[string]*ledger.Entry),
		plans:       make(map[string]*ledger.Plan),
		seq:         make(map[string]int64),
		faults:      make(map[string]error),
	}
}

// InjectFault makes every later call of the named operation (for example
// "UpdateLiability") fail with err until ClearFaults is called.
func (m *Memory) InjectFault(op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.faults[op] = err
}

func (m *Memory) ClearFaults() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.faults = make(map[string]error)
}

func (m *Memory) fault(op string) error {
	if err, ok := m.faults[op]; ok {
		return fmt.Errorf("memory: %s: %w", op, err)
	}
	return nil
}

func (m *Memory) Migrate(context.Context) error { return nil }
func (m *Memory) Close() error                  { return nil }

func (m *Memory) Ping(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.fault("Ping"); err != nil {
		return err
	}
	return ctx.Err()
}

// =============================================================================
// LOCKED ENTRY POINTS
// =============================================================================

func (m *Memory) CreateLiability(_ context.Context, l *ledger.Liability) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createLiability(l)
}

func (m *Memory) GetLiability(_ context.Context, userID ledger.UserID, liabilityID id.ID) (*ledger.Liability, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getLiability(userID, liabilityID)
}

func (m *Memory) ListLiabilities(_ context.Context, userID ledger.UserID, status ledger.Status) ([]*ledger.Liability, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listLiabilities(userID, status)
}

func (m *Memory) UpdateLiability(_ context.Context, l *ledger.Liability) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateLiability(l)
}

func (m *Memory) DeleteLiability(_ context.Context, userID ledger.UserID, liabilityID id.ID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deleteLiability(userID, liabilityID)
}

func (m *Memory) CreateEntry(_ context.Context, e *ledger.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createEntry(e)
}

func (m *Memory) GetEntry(_ context.Context, userID ledger.UserID, entryID id.ID) (*ledger.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getEntry(userID, entryID)
}

func (m *Memory) ListEntries(_ context.Context, userID ledger.UserID, liabilityID id.ID) ([]*ledger.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listEntries(userID, liabilityID)
}

func (m *Memory) UpdateEntry(_ context.Context, e *ledger.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateEntry(e)
}

func (m *Memory) DeleteEntry(_ context.Context, userID ledger.UserID, entryID id.ID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deleteEntry(userID, entryID)
}

func (m *Memory) DeleteEntries(_ context.Context, userID ledger.UserID, liabilityID id.ID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deleteEntries(userID, liabilityID)
}

func (m *Memory) CreatePlan(_ context.Context, p *ledger.Plan) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createPlan(p)
}

func (m *Memory) GetPlan(_ context.Context, userID ledger.UserID, planID id.ID) (*ledger.Plan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getPlan(userID, planID)
}

func (m *Memory) ListPlans(_ context.Context, userID ledger.UserID) ([]*ledger.Plan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listPlans(userID)
}

func (m *Memory) UpdatePlan(_ context.Context, p *ledger.Plan) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updatePlan(p)
}

// =============================================================================
// UNLOCKED IMPLEMENTATION (caller holds mu)
// =============================================================================

func (m *Memory) stamp(key string) {
	m.next++
	m.seq[key] = m.next
}

func (m *Memory) createLiability(l *ledger.Liability) error {
	if err := m.fault("CreateLiability"); err != nil {
		return err
	}
	key := l.ID.String()
	if _, exists := m.liabilities[key]; exists {
		return fmt.Errorf("memory: liability %s already exists", key)
	}
	m.liabilities[key] = l.Clone()
	m.stamp(key)
	return nil
}

func (m *Memory) getLiability(userID ledger.UserID, liabilityID id.ID) (*ledger.Liability, error) {
	if err := m.fault("GetLiability"); err != nil {
		return nil, err
	}
	l, ok := m.liabilities[liabilityID.String()]
	if !ok || l.UserID != userID {
		return nil, ledger.NewNotFound(ledger.ResourceLiability, liabilityID.String())
	}
	return l.Clone(), nil
}

func (m *Memory) listLiabilities(userID ledger.UserID, status ledger.Status) ([]*ledger.Liability, error) {
	if err := m.fault("ListLiabilities"); err != nil {
		return nil, err
	}
	var out []*ledger.Liability
	for _, l := range m.liabilities {
		if l.UserID != userID || (status != "" && l.Status != status) {
			continue
		}
		out = append(out, l.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		return m.seq[out[i].ID.String()] < m.seq[out[j].ID.String()]
	})
	return out, nil
}

func (m *Memory) updateLiability(l *ledger.Liability) error {
	if err := m.fault("UpdateLiability"); err != nil {
		return err
	}
	existing, ok := m.liabilities[l.ID.String()]
	if !ok || existing.UserID != l.UserID {
		return ledger.NewNotFound(ledger.ResourceLiability, l.ID.String())
	}
	m.liabilities[l.ID.String()] = l.Clone()
	return nil
}

func (m *Memory) deleteLiability(userID ledger.UserID, liabilityID id.ID) error {
	if err := m.fault("DeleteLiability"); err != nil {
		return err
	}
	key := liabilityID.String()
	if l, ok := m.liabilities[key]; !ok || l.UserID != userID {
		return ledger.NewNotFound(ledger.ResourceLiability, key)
	}
	delete(m.liabilities, key)
	delete(m.seq, key)
	return nil
}

func (m *Memory) createEntry(e *ledger.Entry) error {
	if err := m.fault("CreateEntry"); err != nil {
		return err
	}
	key := e.ID.String()
	if _, exists := m.entries[key]; exists {
		return fmt.Errorf("memory: entry %s already exists", key)
	}
	m.entries[key] = e.Clone()
	m.stamp(key)
	return nil
}

func (m *Memory) getEntry(userID ledger.UserID, entryID id.ID) (*ledger.Entry, error) {
	if err := m.fault("GetEntry"); err != nil {
		return nil, err
	}
	e, ok := m.entries[entryID.String()]
	if !ok || e.UserID != userID {
		return nil, ledger.NewNotFound(ledger.ResourceEntry, entryID.String())
	}
	return e.Clone(), nil
}

func (m *Memory) listEntries(userID ledger.UserID, liabilityID id.ID) ([]*ledger.Entry, error) {
	if err := m.fault("ListEntries"); err != nil {
		return nil, err
	}
	var out []*ledger.Entry
	for _, e := range m.entries {
		if e.UserID == userID && e.LiabilityID.String() == liabilityID.String() {
			out = append(out, e.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return m.seq[out[i].ID.String()] < m.seq[out[j].ID.String()]
	})
	return out, nil
}

func (m *Memory) updateEntry(e *ledger.Entry) error {
	if err := m.fault("UpdateEntry"); err != nil {
		return err
	}
	existing, ok := m.entries[e.ID.String()]
	if !ok || existing.UserID != e.UserID {
		return ledger.NewNotFound(ledger.ResourceEntry, e.ID.String())
	}
	m.entries[e.ID.String()] = e.Clone()
	return nil
}

func (m *Memory) deleteEntry(userID ledger.UserID, entryID id.ID) error {
	if err := m.fault("DeleteEntry"); err != nil {
		return err
	}
	key := entryID.String()
	if e, ok := m.entries[key]; !ok || e.UserID != userID {
		return ledger.NewNotFound(ledger.ResourceEntry, key)
	}
	delete(m.entries, key)
	delete(m.seq, key)
	return nil
}

func (m *Memory) deleteEntries(userID ledger.UserID, liabilityID id.ID) (int, error) {
	if err := m.fault("DeleteEntries"); err != nil {
		return 0, err
	}
	n := 0
	for key, e := range m.entries {
		if e.UserID == userID && e.LiabilityID.String() == liabilityID.String() {
			delete(m.entries, key)
			delete(m.seq, key)
			n++
		}
	}
	return n, nil
}

func (m *Memory) createPlan(p *ledger.Plan) error {
	if err := m.fault("CreatePlan"); err != nil {
		return err
	}
	key := p.ID.String()
	if _, exists := m.plans[key]; exists {
		return fmt.Errorf("memory: plan %s already exists", key)
	}
	m.plans[key] = p.Clone()
	m.stamp(key)
	return nil
}

func (m *Memory) getPlan(userID ledger.UserID, planID id.ID) (*ledger.Plan, error) {
	if err := m.fault("GetPlan"); err != nil {
		return nil, err
	}
	p, ok := m.plans[planID.String()]
	if !ok || p.UserID != userID {
		return nil, ledger.NewNotFound(ledger.ResourcePlan, planID.String())
	}
	return p.Clone(), nil
}

func (m *Memory) listPlans(userID ledger.UserID) ([]*ledger.Plan, error) {
	if err := m.fault("ListPlans"); err != nil {
		return nil, err
	}
	var out []*ledger.Plan
	for _, p := range m.plans {
		if p.UserID == userID {
			out = append(out, p.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return m.seq[out[i].ID.String()] > m.seq[out[j].ID.String()]
	})
	return out, nil
}

func (m *Memory) updatePlan(p *ledger.Plan) error {
	if err := m.fault("UpdatePlan"); err != nil {
		return err
	}
	existing, ok := m.plans[p.ID.String()]
	if !ok || existing.UserID != p.UserID {
		return ledger.NewNotFound(ledger.ResourcePlan, p.ID.String())
	}
	m.plans[p.ID.String()] = p.Clone()
	return nil
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx executes fn within a transaction, simulated with a snapshot and a
// rollback on error. A cancelled context before commit also rolls back.
func (m *Memory) WithTx(ctx context.Context, fn func(ledger.Store) error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: begin: %w", ledger.ErrTransactionFailed, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	snap := m.snapshot()
	if err := fn(&txView{m: m}); err != nil {
		m.restore(snap)
		return err
	}
	if err := ctx.Err(); err != nil {
		m.restore(snap)
		return fmt.Errorf("%w: commit: %w", ledger.ErrTransactionFailed, err)
	}
	if err := m.fault("Commit"); err != nil {
		m.restore(snap)
		return fmt.Errorf("%w: commit: %w", ledger.ErrTransactionFailed, err)
	}
	return nil
}

type memorySnapshot struct {
	liabilities map[string]*ledger.Liability
	entries     map[string]*ledger.Entry
	plans       map[string]*ledger.Plan
	seq         map[string]int64
	next        int64
}

// Records are replaced, never mutated in place, so copying the maps is
// enough to restore them.
func (m *Memory) snapshot() memorySnapshot {
	s := memorySnapshot{
		liabilities: make(map[string]*ledger.Liability, len(m.liabilities)),
		entries:     make(map[string]*ledger.Entry, len(m.entries)),
		plans:       make(map[string]*ledger.Plan, len(m.plans)),
		seq:         make(map[string]int64, len(m.seq)),
		next:        m.next,
	}
	for k, v := range m.liabilities {
		s.liabilities[k] = v
	}
	for k, v := range m.entries {
		s.entries[k] = v
	}
	for k, v := range m.plans {
		s.plans[k] = v
	}
	for k, v := range m.seq {
		s.seq[k] = v
	}
	return s
}

func (m *Memory) restore(s memorySnapshot) {
	m.liabilities = s.liabilities
	m.entries = s.entries
	m.plans = s.plans
	m.seq = s.seq
	m.next = s.next
}

// txView is the Store handed to WithTx callbacks. The write lock is already
// held, so it goes straight to the unlocked implementation.
type txView struct {
	m *Memory
}

func (v *txView) CreateLiability(_ context.Context, l *ledger.Liability) error {
	return v.m.createLiability(l)
}

func (v *txView) GetLiability(_ context.Context, userID ledger.UserID, liabilityID id.ID) (*ledger.Liability, error) {
	return v.m.getLiability(userID, liabilityID)
}

func (v *txView) ListLiabilities(_ context.Context, userID ledger.UserID, status ledger.Status) ([]*ledger.Liability, error) {
	return v.m.listLiabilities(userID, status)
}

func (v *txView) UpdateLiability(_ context.Context, l *ledger.Liability) error {
	return v.m.updateLiability(l)
}

func (v *txView) DeleteLiability(_ context.Context, userID ledger.UserID, liabilityID id.ID) error {
	return v.m.deleteLiability(userID, liabilityID)
}

func (v *txView) CreateEntry(_ context.Context, e *ledger.Entry) error {
	return v.m.createEntry(e)
}

func (v *txView) GetEntry(_ context.Context, userID ledger.UserID, entryID id.ID) (*ledger.Entry, error) {
	return v.m.getEntry(userID, entryID)
}

func (v *txView) ListEntries(_ context.Context, userID ledger.UserID, liabilityID id.ID) ([]*ledger.Entry, error) {
	return v.m.listEntries(userID, liabilityID)
}

func (v *txView) UpdateEntry(_ context.Context, e *ledger.Entry) error {
	return v.m.updateEntry(e)
}

func (v *txView) DeleteEntry(_ context.Context, userID ledger.UserID, entryID id.ID) error {
	return v.m.deleteEntry(userID, entryID)
}

func (v *txView) DeleteEntries(_ context.Context, userID ledger.UserID, liabilityID id.ID) (int, error) {
	return v.m.deleteEntries(userID, liabilityID)
}

func (v *txView) CreatePlan(_ context.Context, p *ledger.Plan) error {
	return v.m.createPlan(p)
}

func (v *txView) GetPlan(_ context.Context, userID ledger.UserID, planID id.ID) (*ledger.Plan, error) {
	return v.m.getPlan(userID, planID)
}

func (v *txView) ListPlans(_ context.Context, userID ledger.UserID) ([]*ledger.Plan, error) {
	return v.m.listPlans(userID)
}

func (v *txView) UpdatePlan(_ context.Context, p *ledger.Plan) error {
	return v.m.updatePlan(p)
}

func (v *txView) Ping(ctx context.Context) error { return ctx.Err() }

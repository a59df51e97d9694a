// Package ledgertest provides an in-memory ledger repository for service tests.
package ledgertest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/frahmantamala/league-payments/internal"
	"github.com/frahmantamala/league-payments/internal/core/datamodel/ledger"
	ledgerService "github.com/frahmantamala/league-payments/internal/ledger"
)

var _ ledgerService.RepositoryAPI = (*Memory)(nil)

// Memory keeps rows by value so callers never share state with the store.
type Memory struct {
	mu        sync.Mutex
	rows      map[int64]*ledger.PaymentMethod
	nextID    int64
	failErr   error
	conflicts int
	swaps     int
}

func NewMemory() *Memory {
	return &Memory{rows: make(map[int64]*ledger.PaymentMethod)}
}

// SetShouldFail makes every call return err until cleared with nil.
func (m *Memory) SetShouldFail(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failErr = err
}

// ConflictNext makes the next n compare-and-swaps report a lost race.
func (m *Memory) ConflictNext(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conflicts = n
}

// Swaps counts successful conditional writes.
func (m *Memory) Swaps() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.swaps
}

// Put stores pm as-is, assigning an id when it has none.
func (m *Memory) Put(pm *ledger.PaymentMethod) *ledger.PaymentMethod {
	m.mu.Lock()
	defer m.mu.Unlock()
	if pm.ID == 0 {
		m.nextID++
		pm.ID = m.nextID
	} else if pm.ID > m.nextID {
		m.nextID = pm.ID
	}
	if pm.Version == 0 {
		pm.Version = 1
	}
	m.rows[pm.ID] = Clone(pm)
	return pm
}

func (m *Memory) FindOrCreate(ctx context.Context, seed *ledger.PaymentMethod) (*ledger.PaymentMethod, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return nil, false, m.failErr
	}
	for _, row := range m.rows {
		if row.PlayerID == seed.PlayerID && row.PaymentType == seed.PaymentType {
			return Clone(row), false, nil
		}
	}
	m.nextID++
	created := Clone(seed)
	created.ID = m.nextID
	created.CreatedAt = time.Now()
	created.UpdatedAt = created.CreatedAt
	m.rows[created.ID] = created
	return Clone(created), true, nil
}

func (m *Memory) Create(ctx context.Context, pm *ledger.PaymentMethod) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return m.failErr
	}
	for _, row := range m.rows {
		if row.PlayerID == pm.PlayerID && row.PaymentType == pm.PaymentType {
			return internal.NewConflictError("payment method already exists", internal.ErrCodeValidationFailed)
		}
	}
	m.nextID++
	pm.ID = m.nextID
	pm.CreatedAt = time.Now()
	pm.UpdatedAt = pm.CreatedAt
	m.rows[pm.ID] = Clone(pm)
	return nil
}

func (m *Memory) GetByID(ctx context.Context, id int64) (*ledger.PaymentMethod, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return nil, m.failErr
	}
	row, ok := m.rows[id]
	if !ok {
		return nil, internal.ErrPaymentMethodNotFound
	}
	return Clone(row), nil
}

func (m *Memory) GetByIntentID(ctx context.Context, intentID string) (*ledger.PaymentMethod, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return nil, m.failErr
	}
	for _, row := range m.rows {
		if row.TerminalIntentID != nil && *row.TerminalIntentID == intentID {
			return Clone(row), nil
		}
	}
	return nil, internal.ErrPaymentMethodNotFound
}

func (m *Memory) GetByPlayerAndType(ctx context.Context, playerID int64, paymentType ledger.PaymentType) (*ledger.PaymentMethod, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return nil, m.failErr
	}
	for _, row := range m.rows {
		if row.PlayerID == playerID && row.PaymentType == paymentType {
			return Clone(row), nil
		}
	}
	return nil, internal.ErrPaymentMethodNotFound
}

func (m *Memory) ListByPlayer(ctx context.Context, playerID int64) ([]*ledger.PaymentMethod, error) {
	return m.list(func(row *ledger.PaymentMethod) bool {
		return row.PlayerID == playerID
	}, 0)
}

func (m *Memory) ListOpenByType(ctx context.Context, paymentType ledger.PaymentType, limit int) ([]*ledger.PaymentMethod, error) {
	return m.list(func(row *ledger.PaymentMethod) bool {
		return row.PaymentType == paymentType && row.Status != ledger.StatusCompleted
	}, limit)
}

func (m *Memory) ListInFlightTerminal(ctx context.Context, updatedBefore time.Time, limit int) ([]*ledger.PaymentMethod, error) {
	return m.list(func(row *ledger.PaymentMethod) bool {
		return row.TerminalIntentID != nil &&
			row.Status == ledger.StatusInProgress &&
			!row.UpdatedAt.After(updatedBefore)
	}, limit)
}

func (m *Memory) CompareAndSwap(ctx context.Context, pm *ledger.PaymentMethod, expectedVersion int64, expectedStatus ledger.Status) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return false, m.failErr
	}
	if m.conflicts > 0 {
		m.conflicts--
		return false, nil
	}
	row, ok := m.rows[pm.ID]
	if !ok || row.Version != expectedVersion || row.Status != expectedStatus {
		return false, nil
	}
	if pm.TerminalIntentID != nil {
		for id, other := range m.rows {
			if id != pm.ID && other.TerminalIntentID != nil && *other.TerminalIntentID == *pm.TerminalIntentID {
				return false, internal.NewConflictError("terminal intent already linked", internal.ErrCodeDoubleSubmission)
			}
		}
	}
	next := Clone(pm)
	next.Version = expectedVersion + 1
	next.CreatedAt = row.CreatedAt
	next.UpdatedAt = time.Now()
	m.rows[pm.ID] = next
	m.swaps++
	return true, nil
}

func (m *Memory) Delete(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return m.failErr
	}
	if _, ok := m.rows[id]; !ok {
		return internal.ErrPaymentMethodNotFound
	}
	delete(m.rows, id)
	return nil
}

// Backdate moves a row's UpdatedAt into the past.
func (m *Memory) Backdate(id int64, by time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if row, ok := m.rows[id]; ok {
		row.UpdatedAt = row.UpdatedAt.Add(-by)
	}
}

func (m *Memory) list(match func(*ledger.PaymentMethod) bool, limit int) ([]*ledger.PaymentMethod, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return nil, m.failErr
	}
	var out []*ledger.PaymentMethod
	for _, row := range m.rows {
		if match(row) {
			out = append(out, Clone(row))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Clone copies pm including its nested slices.
func Clone(pm *ledger.PaymentMethod) *ledger.PaymentMethod {
	cp := *pm
	plan := pm.Plan()
	plan.SubscriptionPayments = append([]ledger.SubscriptionPayment(nil), plan.SubscriptionPayments...)
	cp.SetPlan(plan)
	cp.ETransferPayments = append([]ledger.ETransferPayment(nil), pm.ETransferPayments...)
	if pm.TerminalIntentID != nil {
		id := *pm.TerminalIntentID
		cp.TerminalIntentID = &id
	}
	return &cp
}

package deduction

import (
	"context"
	"sort"
	"sync"

	"github.com/dishpay/dishpay/internal/money"
)

// MemoryStore is an in-memory deduction store for demo/development mode.
type MemoryStore struct {
	deductions map[string]*Deduction
	seq        int64
	order      map[string]int64 // insertion sequence, stable FIFO tiebreak
	mu         sync.RWMutex
}

// NewMemoryStore creates a new in-memory deduction store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		deductions: make(map[string]*Deduction),
		order:      make(map[string]int64),
	}
}

func (m *MemoryStore) Create(_ context.Context, d *Deduction) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *d
	m.seq++
	m.deductions[d.ID] = &cp
	m.order[d.ID] = m.seq
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*Deduction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	d, ok := m.deductions[id]
	if !ok {
		return nil, ErrDeductionNotFound
	}
	cp := *d
	return &cp, nil
}

func (m *MemoryStore) Update(_ context.Context, d *Deduction) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.deductions[d.ID]; !ok {
		return ErrDeductionNotFound
	}
	cp := *d
	m.deductions[d.ID] = &cp
	return nil
}

func (m *MemoryStore) ListOutstanding(_ context.Context, tenantID, cookID string) ([]*Deduction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Deduction
	for _, d := range m.deductions {
		if d.TenantID == tenantID && d.CookID == cookID && d.Remaining > 0 {
			cp := *d
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return m.order[result[i].ID] < m.order[result[j].ID]
	})
	return result, nil
}

func (m *MemoryStore) OutstandingTotal(_ context.Context, tenantID, cookID string) (money.Cents, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var total money.Cents
	for _, d := range m.deductions {
		if d.TenantID == tenantID && d.CookID == cookID {
			total += d.Remaining
		}
	}
	return total, nil
}

// Compile-time assertion that MemoryStore implements Store.
var _ Store = (*MemoryStore)(nil)

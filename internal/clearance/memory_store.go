package clearance

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/dishpay/dishpay/internal/money"
)

// MemoryStore is an in-memory clearance store for demo/development mode.
type MemoryStore struct {
	records map[string]*Record
	mu      sync.RWMutex
}

// NewMemoryStore creates a new in-memory clearance store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*Record)}
}

func copyRecord(r *Record) *Record {
	cp := *r
	return &cp
}

func (m *MemoryStore) Create(_ context.Context, r *Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.records[r.ID] = copyRecord(r)
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.records[id]
	if !ok {
		return nil, ErrRecordNotFound
	}
	return copyRecord(r), nil
}

func (m *MemoryStore) GetByOrder(_ context.Context, tenantID, orderID string) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, r := range m.records {
		if r.TenantID == tenantID && r.OrderID == orderID && !r.Cancelled {
			return copyRecord(r), nil
		}
	}
	return nil, ErrRecordNotFound
}

func (m *MemoryStore) Update(_ context.Context, r *Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.records[r.ID]; !ok {
		return ErrRecordNotFound
	}
	m.records[r.ID] = copyRecord(r)
	return nil
}

func (m *MemoryStore) ListEligible(_ context.Context, now time.Time, limit int) ([]*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Record
	for _, r := range m.records {
		if r.Cleared || r.Cancelled || r.Paused {
			continue
		}
		if r.WithdrawableAt.After(now) {
			continue
		}
		out = append(out, copyRecord(r))
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].WithdrawableAt.Before(out[j].WithdrawableAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) SumBlocked(_ context.Context, tenantID string) (money.Cents, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var total money.Cents
	for _, r := range m.records {
		if r.TenantID == tenantID && !r.Cancelled && r.Blocked() {
			total += r.Amount
		}
	}
	return total, nil
}

func (m *MemoryStore) SumBlockedForCook(_ context.Context, tenantID, cookID string) (money.Cents, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var total money.Cents
	for _, r := range m.records {
		if r.TenantID == tenantID && r.CookID == cookID && !r.Cancelled && r.Blocked() {
			total += r.Amount
		}
	}
	return total, nil
}

// Compile-time assertion that MemoryStore implements Store.
var _ Store = (*MemoryStore)(nil)

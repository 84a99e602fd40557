package withdrawal

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/dishpay/dishpay/internal/money"
)

// MemoryStore is an in-memory withdrawal store for demo/development mode.
type MemoryStore struct {
	requests map[string]*Request
	tasks    map[string]*ManualPayoutTask
	mu       sync.RWMutex
}

// NewMemoryStore creates a new in-memory withdrawal store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		requests: make(map[string]*Request),
		tasks:    make(map[string]*ManualPayoutTask),
	}
}

func copyRequest(r *Request) *Request {
	cp := *r
	return &cp
}

func (m *MemoryStore) CreateRequest(_ context.Context, r *Request) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.requests[r.ID] = copyRequest(r)
	return nil
}

func (m *MemoryStore) GetRequest(_ context.Context, id string) (*Request, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.requests[id]
	if !ok {
		return nil, ErrRequestNotFound
	}
	return copyRequest(r), nil
}

func (m *MemoryStore) UpdateRequest(_ context.Context, r *Request) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.requests[r.ID]; !ok {
		return ErrRequestNotFound
	}
	m.requests[r.ID] = copyRequest(r)
	return nil
}

func (m *MemoryStore) CASStatus(_ context.Context, id string, from, to Status) (*Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.requests[id]
	if !ok {
		return nil, ErrRequestNotFound
	}
	if r.Status != from {
		return nil, ErrStatusConflict
	}
	r.Status = to
	r.UpdatedAt = time.Now()
	return copyRequest(r), nil
}

func (m *MemoryStore) ListByStatus(_ context.Context, status Status, limit int) ([]*Request, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Request
	for _, r := range m.requests {
		if r.Status == status {
			out = append(out, copyRequest(r))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) SumForWindow(_ context.Context, tenantID, cookID string, from, to time.Time) (money.Cents, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var total money.Cents
	for _, r := range m.requests {
		if r.TenantID != tenantID || r.CookID != cookID {
			continue
		}
		if !r.Status.CountsTowardDailyLimit() {
			continue
		}
		if r.CreatedAt.Before(from) || !r.CreatedAt.Before(to) {
			continue
		}
		total += r.Amount
	}
	return total, nil
}

func (m *MemoryStore) CreateTask(_ context.Context, t *ManualPayoutTask) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// One escalation per request; a retried failure pass is a no-op.
	for _, existing := range m.tasks {
		if existing.RequestID == t.RequestID {
			return nil
		}
	}
	cp := *t
	m.tasks[t.ID] = &cp
	return nil
}

func (m *MemoryStore) ListOpenTasks(_ context.Context, tenantID string, limit int) ([]*ManualPayoutTask, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*ManualPayoutTask
	for _, t := range m.tasks {
		if t.TenantID == tenantID && t.ResolvedAt == nil {
			cp := *t
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Compile-time assertion that MemoryStore implements Store.
var _ Store = (*MemoryStore)(nil)

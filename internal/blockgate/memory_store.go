package blockgate

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory complaint store for demo/development mode.
type MemoryStore struct {
	complaints map[string]*Complaint
	mu         sync.RWMutex
}

// NewMemoryStore creates a new in-memory complaint store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{complaints: make(map[string]*Complaint)}
}

func copyComplaint(c *Complaint) *Complaint {
	cp := *c
	return &cp
}

func (m *MemoryStore) Create(_ context.Context, c *Complaint) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.complaints[c.ID] = copyComplaint(c)
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*Complaint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.complaints[id]
	if !ok {
		return nil, ErrComplaintNotFound
	}
	return copyComplaint(c), nil
}

func (m *MemoryStore) Update(_ context.Context, c *Complaint) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.complaints[c.ID]; !ok {
		return ErrComplaintNotFound
	}
	m.complaints[c.ID] = copyComplaint(c)
	return nil
}

func (m *MemoryStore) CountOpenByOrder(_ context.Context, tenantID, orderID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := 0
	for _, c := range m.complaints {
		if c.TenantID == tenantID && c.OrderID == orderID && c.Status == ComplaintOpen {
			n++
		}
	}
	return n, nil
}

// Compile-time assertion that MemoryStore implements Store.
var _ Store = (*MemoryStore)(nil)

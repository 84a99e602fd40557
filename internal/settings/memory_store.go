package settings

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory settings store for demo/development mode.
type MemoryStore struct {
	tenants   map[string]*TenantSettings
	cookRates map[string]int // tenant + "/" + cook
	mu        sync.RWMutex
}

// NewMemoryStore creates a new in-memory settings store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tenants:   make(map[string]*TenantSettings),
		cookRates: make(map[string]int),
	}
}

func (m *MemoryStore) GetTenant(_ context.Context, tenantID string) (*TenantSettings, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.tenants[tenantID]
	if !ok {
		return nil, ErrTenantNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *MemoryStore) UpsertTenant(_ context.Context, s *TenantSettings) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *s
	m.tenants[s.TenantID] = &cp
	return nil
}

func (m *MemoryStore) GetCookRate(_ context.Context, tenantID, cookID string) (int, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rate, ok := m.cookRates[tenantID+"/"+cookID]
	return rate, ok, nil
}

func (m *MemoryStore) UpsertCookRate(_ context.Context, tenantID, cookID string, rate int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.cookRates[tenantID+"/"+cookID] = rate
	return nil
}

// Compile-time assertion that MemoryStore implements Store.
var _ Store = (*MemoryStore)(nil)

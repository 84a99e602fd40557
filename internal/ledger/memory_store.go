package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/dishpay/dishpay/internal/pagination"
)

// MemoryStore is an in-memory ledger store for demo/development mode.
type MemoryStore struct {
	entries  []*Entry
	balances map[string]*Balance // key tenant + "/" + cook
	mu       sync.RWMutex
}

// NewMemoryStore creates a new in-memory ledger store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		balances: make(map[string]*Balance),
	}
}

func walletKey(tenantID, cookID string) string {
	return tenantID + "/" + cookID
}

func copyEntry(e *Entry) *Entry {
	cp := *e
	if e.Meta != nil {
		cp.Meta = make(map[string]string, len(e.Meta))
		for k, v := range e.Meta {
			cp.Meta[k] = v
		}
	}
	return &cp
}

func (m *MemoryStore) Append(_ context.Context, e *Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries = append(m.entries, copyEntry(e))
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, e := range m.entries {
		if e.ID == id {
			return copyEntry(e), nil
		}
	}
	return nil, ErrEntryNotFound
}

func (m *MemoryStore) Update(_ context.Context, e *Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, existing := range m.entries {
		if existing.ID == e.ID {
			m.entries[i] = copyEntry(e)
			return nil
		}
	}
	return ErrEntryNotFound
}

func (m *MemoryStore) ListByWallet(_ context.Context, tenantID, cookID string, before *pagination.Cursor, limit int) ([]*Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Entry
	for i := len(m.entries) - 1; i >= 0 && len(result) < limit; i-- {
		e := m.entries[i]
		if e.TenantID != tenantID || e.CookID != cookID {
			continue
		}
		if before != nil && !beforeCursor(e, before) {
			continue
		}
		result = append(result, copyEntry(e))
	}
	return result, nil
}

// beforeCursor reports whether the entry sorts strictly after the
// cursor position in (created_at, id) descending order.
func beforeCursor(e *Entry, c *pagination.Cursor) bool {
	if e.CreatedAt.Before(c.CreatedAt) {
		return true
	}
	return e.CreatedAt.Equal(c.CreatedAt) && e.ID < c.ID
}

func (m *MemoryStore) ListAllByWallet(_ context.Context, tenantID, cookID string) ([]*Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Entry
	for _, e := range m.entries {
		if e.TenantID == tenantID && e.CookID == cookID {
			result = append(result, copyEntry(e))
		}
	}
	return result, nil
}

func (m *MemoryStore) CreditEntryForOrder(_ context.Context, tenantID, orderID string) (*Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, e := range m.entries {
		if e.TenantID == tenantID && e.OrderID == orderID &&
			e.Kind == KindPaymentCredit && e.Status != StatusReversed {
			return copyEntry(e), nil
		}
	}
	return nil, ErrEntryNotFound
}

func (m *MemoryStore) HasWithdrawalSince(_ context.Context, tenantID, cookID string, since time.Time) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, e := range m.entries {
		if e.TenantID == tenantID && e.CookID == cookID &&
			e.Kind == KindWithdrawal && e.CreatedAt.After(since) {
			return true, nil
		}
	}
	return false, nil
}

func (m *MemoryStore) GetBalance(_ context.Context, tenantID, cookID string) (*Balance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if bal, ok := m.balances[walletKey(tenantID, cookID)]; ok {
		cp := *bal
		return &cp, nil
	}
	// Lazily created zero balance for unseen pairs.
	return &Balance{
		TenantID:  tenantID,
		CookID:    cookID,
		UpdatedAt: time.Now(),
	}, nil
}

func (m *MemoryStore) UpsertBalance(_ context.Context, b *Balance) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *b
	m.balances[walletKey(b.TenantID, b.CookID)] = &cp
	return nil
}

// Compile-time assertion that MemoryStore implements Store.
var _ Store = (*MemoryStore)(nil)

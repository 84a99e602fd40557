package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"sync"
	"time"

	"github.com/dishpay/dishpay/internal/money"
)

// AuditEntry records a single wallet mutation with before/after balance
// snapshots. The schema is deliberately generic: actor, subject, states,
// reason. Audit writes never veto the financial mutation they describe.
type AuditEntry struct {
	ID        int64       `json:"id"`
	TenantID  string      `json:"tenantId"`
	CookID    string      `json:"cookId"`
	Operation string      `json:"operation"`
	Amount    money.Cents `json:"amount"`
	Reference string      `json:"reference,omitempty"`
	Before    string      `json:"before,omitempty"`
	After     string      `json:"after,omitempty"`
	Reason    string      `json:"reason,omitempty"`
	CreatedAt time.Time   `json:"createdAt"`
}

// AuditLogger persists audit entries.
type AuditLogger interface {
	LogAudit(ctx context.Context, entry *AuditEntry) error
	QueryAudit(ctx context.Context, tenantID, cookID string, limit int) ([]*AuditEntry, error)
}

// balanceSnapshot returns a JSON string representing the balance state.
func balanceSnapshot(bal *Balance) string {
	if bal == nil {
		return "{}"
	}
	m := map[string]string{
		"total":          bal.Total.String(),
		"withdrawable":   bal.Withdrawable.String(),
		"unwithdrawable": bal.Unwithdrawable.String(),
	}
	b, _ := json.Marshal(m)
	return string(b)
}

// --- PostgresAuditLogger ---

// PostgresAuditLogger writes audit entries to PostgreSQL.
type PostgresAuditLogger struct {
	db *sql.DB
}

// NewPostgresAuditLogger creates an audit logger backed by PostgreSQL.
func NewPostgresAuditLogger(db *sql.DB) *PostgresAuditLogger {
	return &PostgresAuditLogger{db: db}
}

func (l *PostgresAuditLogger) LogAudit(ctx context.Context, entry *AuditEntry) error {
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO audit_log (tenant_id, cook_id, operation, amount_cents, reference, before_state, after_state, reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6::JSONB, $7::JSONB, $8, NOW())
	`, entry.TenantID, entry.CookID, entry.Operation, int64(entry.Amount), entry.Reference,
		entry.Before, entry.After, entry.Reason)
	return err
}

func (l *PostgresAuditLogger) QueryAudit(ctx context.Context, tenantID, cookID string, limit int) ([]*AuditEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := l.db.QueryContext(ctx, `
		SELECT id, tenant_id, cook_id, operation, amount_cents, COALESCE(reference, ''),
		       COALESCE(before_state::TEXT, '{}'), COALESCE(after_state::TEXT, '{}'),
		       COALESCE(reason, ''), created_at
		FROM audit_log
		WHERE tenant_id = $1 AND cook_id = $2
		ORDER BY created_at DESC LIMIT $3`, tenantID, cookID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var entries []*AuditEntry
	for rows.Next() {
		e := &AuditEntry{}
		var amount int64
		if err := rows.Scan(&e.ID, &e.TenantID, &e.CookID, &e.Operation, &amount,
			&e.Reference, &e.Before, &e.After, &e.Reason, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Amount = money.Cents(amount)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// --- MemoryAuditLogger ---

// MemoryAuditLogger stores audit entries in memory for demo/testing.
type MemoryAuditLogger struct {
	entries []*AuditEntry
	nextID  int64
	mu      sync.RWMutex
}

// NewMemoryAuditLogger creates an in-memory audit logger.
func NewMemoryAuditLogger() *MemoryAuditLogger {
	return &MemoryAuditLogger{}
}

func (l *MemoryAuditLogger) LogAudit(_ context.Context, entry *AuditEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.nextID++
	cp := *entry
	cp.ID = l.nextID
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now()
	}
	l.entries = append(l.entries, &cp)
	return nil
}

func (l *MemoryAuditLogger) QueryAudit(_ context.Context, tenantID, cookID string, limit int) ([]*AuditEntry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if limit <= 0 {
		limit = 100
	}

	var result []*AuditEntry
	for i := len(l.entries) - 1; i >= 0 && len(result) < limit; i-- {
		e := l.entries[i]
		if e.TenantID != tenantID || e.CookID != cookID {
			continue
		}
		cp := *e
		result = append(result, &cp)
	}
	return result, nil
}

// Entries returns all stored audit entries (for testing).
func (l *MemoryAuditLogger) Entries() []*AuditEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	result := make([]*AuditEntry, len(l.entries))
	copy(result, l.entries)
	return result
}

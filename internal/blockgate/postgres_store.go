package blockgate

import (
	"context"
	"database/sql"
	"time"

	"github.com/dishpay/dishpay/internal/money"
)

// PostgresStore persists complaints in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed complaint store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Create(ctx context.Context, c *Complaint) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO complaints (
			id, tenant_id, cook_id, order_id, status, resolution,
			refund_amount_cents, filed_at, resolved_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		c.ID, c.TenantID, c.CookID, c.OrderID, string(c.Status), nullString(string(c.Resolution)),
		int64(c.RefundAmount), c.FiledAt, nullTime(c.ResolvedAt),
	)
	return err
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Complaint, error) {
	c := &Complaint{}
	var status string
	var resolution sql.NullString
	var refund int64
	var resolvedAt sql.NullTime

	err := p.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, cook_id, order_id, status, resolution,
		       refund_amount_cents, filed_at, resolved_at
		FROM complaints WHERE id = $1`, id).
		Scan(&c.ID, &c.TenantID, &c.CookID, &c.OrderID, &status, &resolution,
			&refund, &c.FiledAt, &resolvedAt)
	if err == sql.ErrNoRows {
		return nil, ErrComplaintNotFound
	}
	if err != nil {
		return nil, err
	}

	c.Status = ComplaintStatus(status)
	if resolution.Valid {
		c.Resolution = Resolution(resolution.String)
	}
	c.RefundAmount = money.Cents(refund)
	if resolvedAt.Valid {
		c.ResolvedAt = &resolvedAt.Time
	}
	return c, nil
}

func (p *PostgresStore) Update(ctx context.Context, c *Complaint) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE complaints SET
			status = $2, resolution = $3, refund_amount_cents = $4, resolved_at = $5
		WHERE id = $1`,
		c.ID, string(c.Status), nullString(string(c.Resolution)),
		int64(c.RefundAmount), nullTime(c.ResolvedAt),
	)
	if err != nil {
		return err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrComplaintNotFound
	}
	return nil
}

func (p *PostgresStore) CountOpenByOrder(ctx context.Context, tenantID, orderID string) (int, error) {
	var n int
	err := p.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM complaints
		WHERE tenant_id = $1 AND order_id = $2 AND status = 'open'`,
		tenantID, orderID).Scan(&n)
	return n, err
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

// Compile-time assertion that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)

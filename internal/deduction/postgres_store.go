package deduction

import (
	"context"
	"database/sql"
	"time"

	"github.com/dishpay/dishpay/internal/money"
)

// PostgresStore persists deduction rows in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed deduction store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const deductionColumns = `id, tenant_id, cook_id, order_id, original_cents, remaining_cents,
	       reason, source, settled_at, created_at`

func (p *PostgresStore) Create(ctx context.Context, d *Deduction) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO pending_deductions (
			id, tenant_id, cook_id, order_id, original_cents, remaining_cents,
			reason, source, settled_at, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		d.ID, d.TenantID, d.CookID, d.OrderID, int64(d.Original), int64(d.Remaining),
		d.Reason, d.Source, nullTime(d.SettledAt), d.CreatedAt,
	)
	return err
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Deduction, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+deductionColumns+` FROM pending_deductions WHERE id = $1`, id)
	d, err := scanDeduction(row)
	if err == sql.ErrNoRows {
		return nil, ErrDeductionNotFound
	}
	return d, err
}

func (p *PostgresStore) Update(ctx context.Context, d *Deduction) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE pending_deductions SET remaining_cents = $1, settled_at = $2
		WHERE id = $3`,
		int64(d.Remaining), nullTime(d.SettledAt), d.ID,
	)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrDeductionNotFound
	}
	return nil
}

func (p *PostgresStore) ListOutstanding(ctx context.Context, tenantID, cookID string) ([]*Deduction, error) {
	// FOR UPDATE is unnecessary here: the wallet lock serializes callers.
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+deductionColumns+`
		FROM pending_deductions
		WHERE tenant_id = $1 AND cook_id = $2 AND remaining_cents > 0
		ORDER BY created_at ASC, id ASC`, tenantID, cookID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []*Deduction
	for rows.Next() {
		d, err := scanDeduction(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, d)
	}
	return result, rows.Err()
}

func (p *PostgresStore) OutstandingTotal(ctx context.Context, tenantID, cookID string) (money.Cents, error) {
	var total int64
	err := p.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(remaining_cents), 0)
		FROM pending_deductions
		WHERE tenant_id = $1 AND cook_id = $2`, tenantID, cookID).Scan(&total)
	return money.Cents(total), err
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanDeduction(s scanner) (*Deduction, error) {
	d := &Deduction{}
	var (
		original  int64
		remaining int64
		settledAt sql.NullTime
	)
	err := s.Scan(&d.ID, &d.TenantID, &d.CookID, &d.OrderID, &original, &remaining,
		&d.Reason, &d.Source, &settledAt, &d.CreatedAt)
	if err != nil {
		return nil, err
	}
	d.Original = money.Cents(original)
	d.Remaining = money.Cents(remaining)
	if settledAt.Valid {
		d.SettledAt = &settledAt.Time
	}
	return d, nil
}

// nullTime converts a *time.Time to sql.NullTime.
func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

// Compile-time assertion that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)

package clearance

import (
	"context"
	"database/sql"
	"time"

	"github.com/dishpay/dishpay/internal/money"
)

// PostgresStore persists clearance records in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed clearance store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const recordColumns = `
	id, tenant_id, cook_id, order_id, amount_cents, credit_entry_id,
	hold_hours, completed_at, withdrawable_at,
	cleared, paused, cancelled, flagged,
	paused_at, remaining_seconds, complaint_id,
	blocked_at, unblocked_at, cleared_at, cancelled_at,
	created_at, updated_at`

func (p *PostgresStore) Create(ctx context.Context, r *Record) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO clearance_records (
			id, tenant_id, cook_id, order_id, amount_cents, credit_entry_id,
			hold_hours, completed_at, withdrawable_at,
			cleared, paused, cancelled, flagged,
			paused_at, remaining_seconds, complaint_id,
			blocked_at, unblocked_at, cleared_at, cancelled_at,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22)`,
		r.ID, r.TenantID, r.CookID, r.OrderID, int64(r.Amount), r.CreditEntryID,
		r.HoldHours, r.CompletedAt, r.WithdrawableAt,
		r.Cleared, r.Paused, r.Cancelled, r.Flagged,
		nullTime(r.PausedAt), r.RemainingSeconds, nullString(r.ComplaintID),
		nullTime(r.BlockedAt), nullTime(r.UnblockedAt), nullTime(r.ClearedAt), nullTime(r.CancelledAt),
		r.CreatedAt, r.UpdatedAt,
	)
	return err
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Record, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT `+recordColumns+`
		FROM clearance_records WHERE id = $1`, id)
	return scanRecord(row)
}

func (p *PostgresStore) GetByOrder(ctx context.Context, tenantID, orderID string) (*Record, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT `+recordColumns+`
		FROM clearance_records
		WHERE tenant_id = $1 AND order_id = $2 AND cancelled = FALSE`,
		tenantID, orderID)
	return scanRecord(row)
}

func (p *PostgresStore) Update(ctx context.Context, r *Record) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE clearance_records SET
			withdrawable_at = $2,
			cleared = $3, paused = $4, cancelled = $5, flagged = $6,
			paused_at = $7, remaining_seconds = $8, complaint_id = $9,
			blocked_at = $10, unblocked_at = $11, cleared_at = $12, cancelled_at = $13,
			updated_at = $14
		WHERE id = $1`,
		r.ID, r.WithdrawableAt,
		r.Cleared, r.Paused, r.Cancelled, r.Flagged,
		nullTime(r.PausedAt), r.RemainingSeconds, nullString(r.ComplaintID),
		nullTime(r.BlockedAt), nullTime(r.UnblockedAt), nullTime(r.ClearedAt), nullTime(r.CancelledAt),
		r.UpdatedAt,
	)
	if err != nil {
		return err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrRecordNotFound
	}
	return nil
}

func (p *PostgresStore) ListEligible(ctx context.Context, now time.Time, limit int) ([]*Record, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+recordColumns+`
		FROM clearance_records
		WHERE cleared = FALSE AND cancelled = FALSE AND paused = FALSE
		  AND withdrawable_at <= $1
		ORDER BY withdrawable_at ASC
		LIMIT $2`, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRecords(rows)
}

func (p *PostgresStore) SumBlocked(ctx context.Context, tenantID string) (money.Cents, error) {
	var total int64
	err := p.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(amount_cents), 0)
		FROM clearance_records
		WHERE tenant_id = $1 AND cancelled = FALSE AND (paused = TRUE OR flagged = TRUE)`,
		tenantID).Scan(&total)
	return money.Cents(total), err
}

func (p *PostgresStore) SumBlockedForCook(ctx context.Context, tenantID, cookID string) (money.Cents, error) {
	var total int64
	err := p.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(amount_cents), 0)
		FROM clearance_records
		WHERE tenant_id = $1 AND cook_id = $2 AND cancelled = FALSE AND (paused = TRUE OR flagged = TRUE)`,
		tenantID, cookID).Scan(&total)
	return money.Cents(total), err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(s scanner) (*Record, error) {
	r := &Record{}
	var amount int64
	var pausedAt, blockedAt, unblockedAt, clearedAt, cancelledAt sql.NullTime
	var complaintID sql.NullString

	err := s.Scan(
		&r.ID, &r.TenantID, &r.CookID, &r.OrderID, &amount, &r.CreditEntryID,
		&r.HoldHours, &r.CompletedAt, &r.WithdrawableAt,
		&r.Cleared, &r.Paused, &r.Cancelled, &r.Flagged,
		&pausedAt, &r.RemainingSeconds, &complaintID,
		&blockedAt, &unblockedAt, &clearedAt, &cancelledAt,
		&r.CreatedAt, &r.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, err
	}

	r.Amount = money.Cents(amount)
	if pausedAt.Valid {
		r.PausedAt = &pausedAt.Time
	}
	if complaintID.Valid {
		r.ComplaintID = complaintID.String
	}
	if blockedAt.Valid {
		r.BlockedAt = &blockedAt.Time
	}
	if unblockedAt.Valid {
		r.UnblockedAt = &unblockedAt.Time
	}
	if clearedAt.Valid {
		r.ClearedAt = &clearedAt.Time
	}
	if cancelledAt.Valid {
		r.CancelledAt = &cancelledAt.Time
	}
	return r, nil
}

func scanRecords(rows *sql.Rows) ([]*Record, error) {
	var out []*Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
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

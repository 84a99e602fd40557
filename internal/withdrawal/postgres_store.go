package withdrawal

import (
	"context"
	"database/sql"
	"time"

	"github.com/dishpay/dishpay/internal/momo"
	"github.com/dishpay/dishpay/internal/money"
)

// PostgresStore persists withdrawal requests and tasks in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed withdrawal store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const requestColumns = `
	id, tenant_id, cook_id, amount_cents, msisdn, provider,
	idempotency_key, ledger_entry_id, external_id, raw_response,
	status, failure_reason, created_at, updated_at, completed_at`

func (p *PostgresStore) CreateRequest(ctx context.Context, r *Request) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO withdrawal_requests (
			id, tenant_id, cook_id, amount_cents, msisdn, provider,
			idempotency_key, ledger_entry_id, external_id, raw_response,
			status, failure_reason, created_at, updated_at, completed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		r.ID, r.TenantID, r.CookID, int64(r.Amount), r.Destination.Msisdn, r.Destination.Provider,
		r.IdempotencyKey, r.LedgerEntryID, nullString(r.ExternalID), nullString(r.RawResponse),
		string(r.Status), nullString(r.FailureReason), r.CreatedAt, r.UpdatedAt, nullTime(r.CompletedAt),
	)
	return err
}

func (p *PostgresStore) GetRequest(ctx context.Context, id string) (*Request, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT `+requestColumns+`
		FROM withdrawal_requests WHERE id = $1`, id)
	return scanRequest(row)
}

func (p *PostgresStore) UpdateRequest(ctx context.Context, r *Request) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE withdrawal_requests SET
			external_id = $2, raw_response = $3, status = $4,
			failure_reason = $5, updated_at = $6, completed_at = $7
		WHERE id = $1`,
		r.ID, nullString(r.ExternalID), nullString(r.RawResponse), string(r.Status),
		nullString(r.FailureReason), r.UpdatedAt, nullTime(r.CompletedAt),
	)
	if err != nil {
		return err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrRequestNotFound
	}
	return nil
}

func (p *PostgresStore) CASStatus(ctx context.Context, id string, from, to Status) (*Request, error) {
	result, err := p.db.ExecContext(ctx, `
		UPDATE withdrawal_requests SET status = $3, updated_at = NOW()
		WHERE id = $1 AND status = $2`,
		id, string(from), string(to),
	)
	if err != nil {
		return nil, err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		// Distinguish a missing row from a lost race.
		if _, gerr := p.GetRequest(ctx, id); gerr != nil {
			return nil, gerr
		}
		return nil, ErrStatusConflict
	}
	return p.GetRequest(ctx, id)
}

func (p *PostgresStore) ListByStatus(ctx context.Context, status Status, limit int) ([]*Request, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+requestColumns+`
		FROM withdrawal_requests
		WHERE status = $1
		ORDER BY created_at ASC
		LIMIT $2`, string(status), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Request
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (p *PostgresStore) SumForWindow(ctx context.Context, tenantID, cookID string, from, to time.Time) (money.Cents, error) {
	var total int64
	err := p.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(amount_cents), 0)
		FROM withdrawal_requests
		WHERE tenant_id = $1 AND cook_id = $2
		  AND status <> 'failed'
		  AND created_at >= $3 AND created_at < $4`,
		tenantID, cookID, from, to).Scan(&total)
	return money.Cents(total), err
}

func (p *PostgresStore) CreateTask(ctx context.Context, t *ManualPayoutTask) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO manual_payout_tasks (
			id, tenant_id, cook_id, request_id, amount_cents,
			msisdn, provider, reason, raw_response, created_at, resolved_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (request_id) DO NOTHING`,
		t.ID, t.TenantID, t.CookID, t.RequestID, int64(t.Amount),
		t.Destination.Msisdn, t.Destination.Provider, t.Reason,
		nullString(t.RawResponse), t.CreatedAt, nullTime(t.ResolvedAt),
	)
	return err
}

func (p *PostgresStore) ListOpenTasks(ctx context.Context, tenantID string, limit int) ([]*ManualPayoutTask, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, tenant_id, cook_id, request_id, amount_cents,
		       msisdn, provider, reason, raw_response, created_at, resolved_at
		FROM manual_payout_tasks
		WHERE tenant_id = $1 AND resolved_at IS NULL
		ORDER BY created_at ASC
		LIMIT $2`, tenantID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*ManualPayoutTask
	for rows.Next() {
		t := &ManualPayoutTask{}
		var amount int64
		var raw sql.NullString
		var resolvedAt sql.NullTime
		if err := rows.Scan(&t.ID, &t.TenantID, &t.CookID, &t.RequestID, &amount,
			&t.Destination.Msisdn, &t.Destination.Provider, &t.Reason, &raw,
			&t.CreatedAt, &resolvedAt); err != nil {
			return nil, err
		}
		t.Amount = money.Cents(amount)
		if raw.Valid {
			t.RawResponse = raw.String
		}
		if resolvedAt.Valid {
			t.ResolvedAt = &resolvedAt.Time
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRequest(s scanner) (*Request, error) {
	r := &Request{Destination: momo.Destination{}}
	var amount int64
	var externalID, raw, failureReason sql.NullString
	var status string
	var completedAt sql.NullTime

	err := s.Scan(
		&r.ID, &r.TenantID, &r.CookID, &amount, &r.Destination.Msisdn, &r.Destination.Provider,
		&r.IdempotencyKey, &r.LedgerEntryID, &externalID, &raw,
		&status, &failureReason, &r.CreatedAt, &r.UpdatedAt, &completedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrRequestNotFound
	}
	if err != nil {
		return nil, err
	}

	r.Amount = money.Cents(amount)
	r.Status = Status(status)
	if externalID.Valid {
		r.ExternalID = externalID.String
	}
	if raw.Valid {
		r.RawResponse = raw.String
	}
	if failureReason.Valid {
		r.FailureReason = failureReason.String
	}
	if completedAt.Valid {
		r.CompletedAt = &completedAt.Time
	}
	return r, nil
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

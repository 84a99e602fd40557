package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/dishpay/dishpay/internal/money"
	"github.com/dishpay/dishpay/internal/pagination"
)

// PostgresStore persists ledger data in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed ledger store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const entryColumns = `id, tenant_id, cook_id, order_id, source_tx_id, kind, amount_cents,
	       currency, is_withdrawable, withdrawable_at, status, meta, created_at`

func (p *PostgresStore) Append(ctx context.Context, e *Entry) error {
	metaJSON, _ := json.Marshal(e.Meta)
	if e.Meta == nil {
		metaJSON = []byte("{}")
	}
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO ledger_entries (
			id, tenant_id, cook_id, order_id, source_tx_id, kind, amount_cents,
			currency, is_withdrawable, withdrawable_at, status, meta, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		e.ID, e.TenantID, e.CookID, nullString(e.OrderID), nullString(e.SourceTxID),
		string(e.Kind), int64(e.Amount), e.Currency, e.IsWithdrawable,
		nullTime(e.WithdrawableAt), string(e.Status), metaJSON, e.CreatedAt,
	)
	return err
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Entry, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+entryColumns+` FROM ledger_entries WHERE id = $1`, id)
	e, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return nil, ErrEntryNotFound
	}
	return e, err
}

// Update persists the two permitted entry mutations: the withdrawable
// flip and the status flip. Other columns never change after Append.
func (p *PostgresStore) Update(ctx context.Context, e *Entry) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE ledger_entries SET
			is_withdrawable = $1, withdrawable_at = $2, status = $3
		WHERE id = $4`,
		e.IsWithdrawable, nullTime(e.WithdrawableAt), string(e.Status), e.ID,
	)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrEntryNotFound
	}
	return nil
}

func (p *PostgresStore) ListByWallet(ctx context.Context, tenantID, cookID string, before *pagination.Cursor, limit int) ([]*Entry, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if before != nil {
		rows, err = p.db.QueryContext(ctx, `
			SELECT `+entryColumns+`
			FROM ledger_entries
			WHERE tenant_id = $1 AND cook_id = $2 AND (created_at, id) < ($3, $4)
			ORDER BY created_at DESC, id DESC
			LIMIT $5`, tenantID, cookID, before.CreatedAt, before.ID, limit)
	} else {
		rows, err = p.db.QueryContext(ctx, `
			SELECT `+entryColumns+`
			FROM ledger_entries
			WHERE tenant_id = $1 AND cook_id = $2
			ORDER BY created_at DESC, id DESC
			LIMIT $3`, tenantID, cookID, limit)
	}
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	return scanEntries(rows)
}

func (p *PostgresStore) ListAllByWallet(ctx context.Context, tenantID, cookID string) ([]*Entry, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+entryColumns+`
		FROM ledger_entries
		WHERE tenant_id = $1 AND cook_id = $2
		ORDER BY created_at ASC`, tenantID, cookID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	return scanEntries(rows)
}

func (p *PostgresStore) CreditEntryForOrder(ctx context.Context, tenantID, orderID string) (*Entry, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT `+entryColumns+`
		FROM ledger_entries
		WHERE tenant_id = $1 AND order_id = $2 AND kind = 'payment_credit' AND status <> 'reversed'
		LIMIT 1`, tenantID, orderID)
	e, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return nil, ErrEntryNotFound
	}
	return e, err
}

func (p *PostgresStore) HasWithdrawalSince(ctx context.Context, tenantID, cookID string, since time.Time) (bool, error) {
	var exists bool
	err := p.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM ledger_entries
			WHERE tenant_id = $1 AND cook_id = $2 AND kind = 'withdrawal' AND created_at > $3
		)`, tenantID, cookID, since).Scan(&exists)
	return exists, err
}

func (p *PostgresStore) GetBalance(ctx context.Context, tenantID, cookID string) (*Balance, error) {
	b := &Balance{TenantID: tenantID, CookID: cookID}
	var total, withdrawable, unwithdrawable int64
	err := p.db.QueryRowContext(ctx, `
		SELECT total_cents, withdrawable_cents, unwithdrawable_cents, updated_at
		FROM wallet_balances
		WHERE tenant_id = $1 AND cook_id = $2`, tenantID, cookID).
		Scan(&total, &withdrawable, &unwithdrawable, &b.UpdatedAt)
	if err == sql.ErrNoRows {
		// Lazily created zero balance for unseen pairs.
		b.UpdatedAt = time.Now()
		return b, nil
	}
	if err != nil {
		return nil, err
	}
	b.Total = money.Cents(total)
	b.Withdrawable = money.Cents(withdrawable)
	b.Unwithdrawable = money.Cents(unwithdrawable)
	return b, nil
}

func (p *PostgresStore) UpsertBalance(ctx context.Context, b *Balance) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO wallet_balances (tenant_id, cook_id, total_cents, withdrawable_cents, unwithdrawable_cents, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (tenant_id, cook_id) DO UPDATE SET
			total_cents = EXCLUDED.total_cents,
			withdrawable_cents = EXCLUDED.withdrawable_cents,
			unwithdrawable_cents = EXCLUDED.unwithdrawable_cents,
			updated_at = EXCLUDED.updated_at`,
		b.TenantID, b.CookID, int64(b.Total), int64(b.Withdrawable), int64(b.Unwithdrawable), b.UpdatedAt,
	)
	return err
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanEntry(s scanner) (*Entry, error) {
	e := &Entry{}
	var (
		orderID        sql.NullString
		sourceTxID     sql.NullString
		kind           string
		amount         int64
		withdrawableAt sql.NullTime
		status         string
		metaJSON       []byte
	)

	err := s.Scan(
		&e.ID, &e.TenantID, &e.CookID, &orderID, &sourceTxID, &kind, &amount,
		&e.Currency, &e.IsWithdrawable, &withdrawableAt, &status, &metaJSON, &e.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	e.OrderID = orderID.String
	e.SourceTxID = sourceTxID.String
	e.Kind = Kind(kind)
	e.Amount = money.Cents(amount)
	e.Status = EntryStatus(status)
	if withdrawableAt.Valid {
		e.WithdrawableAt = &withdrawableAt.Time
	}
	if len(metaJSON) > 0 {
		_ = json.Unmarshal(metaJSON, &e.Meta)
	}
	return e, nil
}

func scanEntries(rows *sql.Rows) ([]*Entry, error) {
	var result []*Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, e)
	}
	return result, rows.Err()
}

// nullString converts an empty Go string to sql.NullString.
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
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

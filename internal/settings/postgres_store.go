package settings

import (
	"context"
	"database/sql"

	"github.com/dishpay/dishpay/internal/money"
)

// PostgresStore persists settings in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed settings store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) GetTenant(ctx context.Context, tenantID string) (*TenantSettings, error) {
	t := &TenantSettings{TenantID: tenantID}
	var minW, daily int64
	err := p.db.QueryRowContext(ctx, `
		SELECT commission_percent, hold_hours, min_withdrawal_cents, daily_limit_cents, updated_at
		FROM tenant_settings WHERE tenant_id = $1`, tenantID).
		Scan(&t.CommissionPercent, &t.HoldHours, &minW, &daily, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrTenantNotFound
	}
	if err != nil {
		return nil, err
	}
	t.MinWithdrawal = money.Cents(minW)
	t.DailyLimit = money.Cents(daily)
	return t, nil
}

func (p *PostgresStore) UpsertTenant(ctx context.Context, s *TenantSettings) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO tenant_settings (tenant_id, commission_percent, hold_hours, min_withdrawal_cents, daily_limit_cents, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (tenant_id) DO UPDATE SET
			commission_percent = EXCLUDED.commission_percent,
			hold_hours = EXCLUDED.hold_hours,
			min_withdrawal_cents = EXCLUDED.min_withdrawal_cents,
			daily_limit_cents = EXCLUDED.daily_limit_cents,
			updated_at = EXCLUDED.updated_at`,
		s.TenantID, s.CommissionPercent, s.HoldHours,
		int64(s.MinWithdrawal), int64(s.DailyLimit), s.UpdatedAt,
	)
	return err
}

func (p *PostgresStore) GetCookRate(ctx context.Context, tenantID, cookID string) (int, bool, error) {
	var rate int
	err := p.db.QueryRowContext(ctx, `
		SELECT commission_percent FROM cook_commission_rates
		WHERE tenant_id = $1 AND cook_id = $2`, tenantID, cookID).Scan(&rate)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return rate, true, nil
}

func (p *PostgresStore) UpsertCookRate(ctx context.Context, tenantID, cookID string, rate int) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO cook_commission_rates (tenant_id, cook_id, commission_percent, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (tenant_id, cook_id) DO UPDATE SET
			commission_percent = EXCLUDED.commission_percent,
			updated_at = EXCLUDED.updated_at`,
		tenantID, cookID, rate,
	)
	return err
}

// Compile-time assertion that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)

// Package settings provides platform configuration read by the payout
// engine: commission rates, clearance hold duration and withdrawal
// limits, per tenant with optional per-cook commission overrides.
//
// Values are read at the moment they affect a record and snapshotted
// onto it (an order's commission rate, a clearance record's hold hours).
// Later admin changes never retroactively affect existing records.
package settings

import (
	"context"
	"errors"
	"time"

	"github.com/dishpay/dishpay/internal/money"
)

var ErrTenantNotFound = errors.New("tenant settings not found")

// TenantSettings are the per-tenant knobs, falling back to platform
// defaults when no row exists.
type TenantSettings struct {
	TenantID          string      `json:"tenantId"`
	CommissionPercent int         `json:"commissionPercent"`
	HoldHours         int         `json:"holdHours"`
	MinWithdrawal     money.Cents `json:"minWithdrawal"`
	DailyLimit        money.Cents `json:"dailyLimit"`
	UpdatedAt         time.Time   `json:"updatedAt"`
}

// Defaults are the platform-wide fallbacks from config.
type Defaults struct {
	CommissionPercent int
	HoldHours         int
	MinWithdrawal     money.Cents
	DailyLimit        money.Cents
}

// Store persists tenant settings and cook commission overrides.
type Store interface {
	GetTenant(ctx context.Context, tenantID string) (*TenantSettings, error)
	UpsertTenant(ctx context.Context, s *TenantSettings) error
	// GetCookRate returns the cook's commission override for the tenant.
	// ok is false when no override exists.
	GetCookRate(ctx context.Context, tenantID, cookID string) (rate int, ok bool, err error)
	UpsertCookRate(ctx context.Context, tenantID, cookID string, rate int) error
}

// Service resolves effective settings: cook override, then tenant row,
// then platform default.
type Service struct {
	store    Store
	defaults Defaults
}

// NewService creates a settings service with the given fallbacks.
func NewService(store Store, defaults Defaults) *Service {
	return &Service{store: store, defaults: defaults}
}

func (s *Service) tenant(ctx context.Context, tenantID string) (*TenantSettings, error) {
	t, err := s.store.GetTenant(ctx, tenantID)
	if errors.Is(err, ErrTenantNotFound) {
		return &TenantSettings{
			TenantID:          tenantID,
			CommissionPercent: s.defaults.CommissionPercent,
			HoldHours:         s.defaults.HoldHours,
			MinWithdrawal:     s.defaults.MinWithdrawal,
			DailyLimit:        s.defaults.DailyLimit,
		}, nil
	}
	return t, err
}

// Tenant returns the tenant's effective settings, falling back to
// platform defaults when the tenant has no overrides.
func (s *Service) Tenant(ctx context.Context, tenantID string) (*TenantSettings, error) {
	return s.tenant(ctx, tenantID)
}

// CommissionPercent resolves the rate charged on the cook's orders.
func (s *Service) CommissionPercent(ctx context.Context, tenantID, cookID string) (int, error) {
	if rate, ok, err := s.store.GetCookRate(ctx, tenantID, cookID); err != nil {
		return 0, err
	} else if ok {
		return rate, nil
	}
	t, err := s.tenant(ctx, tenantID)
	if err != nil {
		return 0, err
	}
	return t.CommissionPercent, nil
}

// HoldHours returns the clearance hold duration for new clearances.
func (s *Service) HoldHours(ctx context.Context, tenantID string) (int, error) {
	t, err := s.tenant(ctx, tenantID)
	if err != nil {
		return 0, err
	}
	return t.HoldHours, nil
}

// MinWithdrawal returns the minimum accepted withdrawal amount.
func (s *Service) MinWithdrawal(ctx context.Context, tenantID string) (money.Cents, error) {
	t, err := s.tenant(ctx, tenantID)
	if err != nil {
		return 0, err
	}
	return t.MinWithdrawal, nil
}

// DailyLimit returns the per-cook daily withdrawal cap.
func (s *Service) DailyLimit(ctx context.Context, tenantID string) (money.Cents, error) {
	t, err := s.tenant(ctx, tenantID)
	if err != nil {
		return 0, err
	}
	return t.DailyLimit, nil
}

// UpdateTenant stores tenant overrides. Existing snapshotted records are
// unaffected.
func (s *Service) UpdateTenant(ctx context.Context, t *TenantSettings) error {
	t.UpdatedAt = time.Now()
	return s.store.UpsertTenant(ctx, t)
}

// UpdateCookRate stores a per-cook commission override.
func (s *Service) UpdateCookRate(ctx context.Context, tenantID, cookID string, rate int) error {
	return s.store.UpsertCookRate(ctx, tenantID, cookID, rate)
}

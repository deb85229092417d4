package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

var (
	ErrCycleNotOpen        = errors.New("billing_cycle_not_open")
	ErrMultipleOpenCycles  = errors.New("multiple_open_cycles")
	ErrInvalidCyclePeriod  = errors.New("invalid_cycle_period")
	ErrDiscountAlreadyUsed = errors.New("discount_already_used")
)

// CycleExpiry pairs a store with the period end of its open cycle; used to
// rebuild the expiry queue from ledger truth.
type CycleExpiry struct {
	ShopDomain string
	PeriodEnd  time.Time
}

// RolloverParams describes the atomic ledger transition performed when a
// cycle rolls over: close the old cycle, open the next one, and burn the
// ONE_TIME discount that satisfied the charge, all in one transaction.
type RolloverParams struct {
	OldCycle      *BillingCycle
	NewCycleID    snowflake.ID
	CycleDays     int
	UsageAmount   decimal.Decimal
	OrderSnapshot int64
	// OneTimeDiscountID, when set, is deactivated in the same transaction.
	OneTimeDiscountID *snowflake.ID
	Now               time.Time
}

// UpgradeParams describes the ledger transition for a mid-cycle tier
// upgrade: the replacement cycle keeps the old period end and carries the
// order snapshot forward under the new tier label.
type UpgradeParams struct {
	OldCycle          *BillingCycle
	NewCycleID        snowflake.ID
	Tier              string
	UsageAmount       decimal.Decimal
	OneTimeDiscountID *snowflake.ID
	Now               time.Time
}

type Repository interface {
	// FindOpenCycle returns the store's open cycle, or nil when none
	// exists. More than one open cycle is a corrupted ledger and surfaces
	// as ErrMultipleOpenCycles.
	FindOpenCycle(ctx context.Context, shopDomain string) (*BillingCycle, error)
	// ListOpenCycles pages through every open cycle, ordered by id.
	ListOpenCycles(ctx context.Context, limit, offset int) ([]BillingCycle, error)
	// OpenCycleExpiries returns (store, period end) for every open cycle.
	OpenCycleExpiries(ctx context.Context) ([]CycleExpiry, error)
	// FindActiveDiscount resolves at most one active discount whose window
	// overlaps [periodStart, periodEnd].
	FindActiveDiscount(ctx context.Context, shopDomain string, periodStart, periodEnd time.Time) (*Discount, error)
	// Rollover atomically applies RolloverParams and returns the new cycle.
	Rollover(ctx context.Context, params RolloverParams) (*BillingCycle, error)
	// Upgrade atomically applies UpgradeParams and returns the new cycle.
	Upgrade(ctx context.Context, params UpgradeParams) (*BillingCycle, error)
}

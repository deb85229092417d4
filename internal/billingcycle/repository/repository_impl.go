package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	billingcycledomain "github.com/meterbill/meterbill/internal/billingcycle/domain"
	"github.com/meterbill/meterbill/pkg/db"
	"gorm.io/gorm"
)

type repo struct {
	db *gorm.DB
}

func Provide(db *gorm.DB) billingcycledomain.Repository {
	return &repo{db: db}
}

func (r *repo) FindOpenCycle(ctx context.Context, shopDomain string) (*billingcycledomain.BillingCycle, error) {
	var cycles []billingcycledomain.BillingCycle
	err := r.db.WithContext(ctx).
		Where("shop_domain = ? AND status = ?", shopDomain, billingcycledomain.BillingCycleStatusOpen).
		Order("period_end DESC").
		Limit(2).
		Find(&cycles).Error
	if err != nil {
		return nil, err
	}
	switch len(cycles) {
	case 0:
		return nil, nil
	case 1:
		return &cycles[0], nil
	default:
		return nil, billingcycledomain.ErrMultipleOpenCycles
	}
}

func (r *repo) ListOpenCycles(ctx context.Context, limit, offset int) ([]billingcycledomain.BillingCycle, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	var cycles []billingcycledomain.BillingCycle
	err := r.db.WithContext(ctx).
		Where("status = ?", billingcycledomain.BillingCycleStatusOpen).
		Order("id ASC").
		Limit(limit).
		Offset(offset).
		Find(&cycles).Error
	if err != nil {
		return nil, err
	}
	return cycles, nil
}

func (r *repo) OpenCycleExpiries(ctx context.Context) ([]billingcycledomain.CycleExpiry, error) {
	var expiries []billingcycledomain.CycleExpiry
	err := r.db.WithContext(ctx).Raw(
		`SELECT shop_domain, period_end
		 FROM billing_cycles
		 WHERE status = ?
		 ORDER BY period_end ASC`,
		billingcycledomain.BillingCycleStatusOpen,
	).Scan(&expiries).Error
	if err != nil {
		return nil, err
	}
	return expiries, nil
}

func (r *repo) FindActiveDiscount(ctx context.Context, shopDomain string, periodStart, periodEnd time.Time) (*billingcycledomain.Discount, error) {
	var discounts []billingcycledomain.Discount
	err := r.db.WithContext(ctx).
		Where("shop_domain = ? AND active = ? AND start_at <= ? AND end_at >= ?",
			shopDomain, true, periodEnd, periodStart).
		Order("created_at ASC").
		Limit(1).
		Find(&discounts).Error
	if err != nil {
		return nil, err
	}
	if len(discounts) == 0 {
		return nil, nil
	}
	return &discounts[0], nil
}

// Rollover closes the old cycle, opens the next one and burns the ONE_TIME
// discount in a single transaction. The status-guarded UPDATE keeps the
// single-open-cycle invariant under concurrent retries: a second caller
// sees zero affected rows and gets ErrCycleNotOpen.
func (r *repo) Rollover(ctx context.Context, params billingcycledomain.RolloverParams) (*billingcycledomain.BillingCycle, error) {
	old := params.OldCycle
	if old == nil {
		return nil, billingcycledomain.ErrCycleNotOpen
	}
	if params.CycleDays <= 0 {
		return nil, billingcycledomain.ErrInvalidCyclePeriod
	}

	newCycle := &billingcycledomain.BillingCycle{
		ID:             params.NewCycleID,
		ShopDomain:     old.ShopDomain,
		SubscriptionID: old.SubscriptionID,
		LineItemID:     old.LineItemID,
		PeriodStart:    old.PeriodEnd,
		PeriodEnd:      old.PeriodEnd.AddDate(0, 0, params.CycleDays),
		Status:         billingcycledomain.BillingCycleStatusOpen,
		Tier:           old.Tier,
		UsageAmount:    params.UsageAmount,
		OrderCount:     0,
		CreatedAt:      params.Now,
		UpdatedAt:      params.Now,
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := r.closeCycle(ctx, tx, old.ID, params.OrderSnapshot, params.Now); err != nil {
			return err
		}
		if err := r.createCycle(ctx, tx, newCycle); err != nil {
			return err
		}
		return r.burnDiscount(ctx, tx, params.OneTimeDiscountID, params.Now)
	})
	if err != nil {
		return nil, err
	}
	return newCycle, nil
}

// Upgrade closes the current cycle and opens its replacement under the new
// tier. The replacement keeps the old period end so the expiry queue entry
// stays valid, and carries the order snapshot forward.
func (r *repo) Upgrade(ctx context.Context, params billingcycledomain.UpgradeParams) (*billingcycledomain.BillingCycle, error) {
	old := params.OldCycle
	if old == nil {
		return nil, billingcycledomain.ErrCycleNotOpen
	}
	if !old.PeriodEnd.After(params.Now) {
		return nil, billingcycledomain.ErrInvalidCyclePeriod
	}

	newCycle := &billingcycledomain.BillingCycle{
		ID:             params.NewCycleID,
		ShopDomain:     old.ShopDomain,
		SubscriptionID: old.SubscriptionID,
		LineItemID:     old.LineItemID,
		PeriodStart:    params.Now,
		PeriodEnd:      old.PeriodEnd,
		Status:         billingcycledomain.BillingCycleStatusOpen,
		Tier:           params.Tier,
		UsageAmount:    params.UsageAmount,
		OrderCount:     old.OrderCount,
		CreatedAt:      params.Now,
		UpdatedAt:      params.Now,
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := r.closeCycle(ctx, tx, old.ID, old.OrderCount, params.Now); err != nil {
			return err
		}
		if err := r.createCycle(ctx, tx, newCycle); err != nil {
			return err
		}
		return r.burnDiscount(ctx, tx, params.OneTimeDiscountID, params.Now)
	})
	if err != nil {
		return nil, err
	}
	return newCycle, nil
}

// createCycle inserts the successor row. A duplicate on the unique period
// index means another worker already opened this exact period, which is the
// same race closeCycle guards against.
func (r *repo) createCycle(ctx context.Context, tx *gorm.DB, cycle *billingcycledomain.BillingCycle) error {
	err := tx.WithContext(ctx).Create(cycle).Error
	if db.IsDuplicateKeyErr(err) {
		return billingcycledomain.ErrCycleNotOpen
	}
	return err
}

func (r *repo) closeCycle(ctx context.Context, tx *gorm.DB, cycleID snowflake.ID, orderSnapshot int64, now time.Time) error {
	res := tx.WithContext(ctx).Exec(
		`UPDATE billing_cycles
		 SET status = ?, closed_at = ?, order_count = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		billingcycledomain.BillingCycleStatusClosed,
		now,
		orderSnapshot,
		now,
		cycleID,
		billingcycledomain.BillingCycleStatusOpen,
	)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return billingcycledomain.ErrCycleNotOpen
	}
	return nil
}

func (r *repo) burnDiscount(ctx context.Context, tx *gorm.DB, discountID *snowflake.ID, now time.Time) error {
	if discountID == nil {
		return nil
	}
	res := tx.WithContext(ctx).Exec(
		`UPDATE discounts
		 SET active = ?, used_at = ?, updated_at = ?
		 WHERE id = ? AND active = ?`,
		false,
		now,
		now,
		*discountID,
		true,
	)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return billingcycledomain.ErrDiscountAlreadyUsed
	}
	return nil
}

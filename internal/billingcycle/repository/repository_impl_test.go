package repository

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	billingcycledomain "github.com/meterbill/meterbill/internal/billingcycle/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

var testNode *snowflake.Node

func init() {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	testNode = node
}

func newTestRepo(t *testing.T) (billingcycledomain.Repository, *gorm.DB) {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&billingcycledomain.BillingCycle{},
		&billingcycledomain.Discount{},
	))
	return Provide(db), db
}

func seedOpenCycle(t *testing.T, db *gorm.DB, shopDomain string, periodEnd time.Time) *billingcycledomain.BillingCycle {
	t.Helper()
	cycle := &billingcycledomain.BillingCycle{
		ID:             testNode.Generate(),
		ShopDomain:     shopDomain,
		SubscriptionID: "sub_1",
		LineItemID:     "li_1",
		PeriodStart:    periodEnd.AddDate(0, 0, -30),
		PeriodEnd:      periodEnd,
		Status:         billingcycledomain.BillingCycleStatusOpen,
		Tier:           "STANDARD",
		UsageAmount:    decimal.NewFromInt(15),
	}
	require.NoError(t, db.Create(cycle).Error)
	return cycle
}

func TestFindOpenCycle(t *testing.T) {
	repo, db := newTestRepo(t)
	ctx := context.Background()
	periodEnd := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	got, err := repo.FindOpenCycle(ctx, "acme.example")
	require.NoError(t, err)
	assert.Nil(t, got)

	cycle := seedOpenCycle(t, db, "acme.example", periodEnd)
	got, err = repo.FindOpenCycle(ctx, "acme.example")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, cycle.ID, got.ID)
}

func TestFindOpenCycleRejectsCorruptedLedger(t *testing.T) {
	repo, db := newTestRepo(t)
	periodEnd := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	seedOpenCycle(t, db, "acme.example", periodEnd)
	seedOpenCycle(t, db, "acme.example", periodEnd.AddDate(0, 0, 30))

	_, err := repo.FindOpenCycle(context.Background(), "acme.example")
	assert.ErrorIs(t, err, billingcycledomain.ErrMultipleOpenCycles)
}

func TestRolloverClosesOldAndOpensNext(t *testing.T) {
	repo, db := newTestRepo(t)
	ctx := context.Background()
	periodEnd := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	old := seedOpenCycle(t, db, "acme.example", periodEnd)

	now := periodEnd.Add(5 * time.Minute)
	newCycle, err := repo.Rollover(ctx, billingcycledomain.RolloverParams{
		OldCycle:      old,
		NewCycleID:    testNode.Generate(),
		CycleDays:     30,
		UsageAmount:   decimal.NewFromInt(15),
		OrderSnapshot: 120,
		Now:           now,
	})
	require.NoError(t, err)

	// The new period starts exactly where the old one ended.
	assert.True(t, newCycle.PeriodStart.Equal(old.PeriodEnd))
	assert.True(t, newCycle.PeriodEnd.Equal(old.PeriodEnd.AddDate(0, 0, 30)))
	assert.Equal(t, billingcycledomain.BillingCycleStatusOpen, newCycle.Status)
	assert.Equal(t, old.Tier, newCycle.Tier)
	assert.Equal(t, old.LineItemID, newCycle.LineItemID)
	assert.Equal(t, int64(0), newCycle.OrderCount)

	var closed billingcycledomain.BillingCycle
	require.NoError(t, db.First(&closed, "id = ?", old.ID).Error)
	assert.Equal(t, billingcycledomain.BillingCycleStatusClosed, closed.Status)
	assert.Equal(t, int64(120), closed.OrderCount)
	assert.NotNil(t, closed.ClosedAt)

	got, err := repo.FindOpenCycle(ctx, "acme.example")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, newCycle.ID, got.ID)
}

func TestRolloverRejectsAlreadyClosedCycle(t *testing.T) {
	repo, db := newTestRepo(t)
	ctx := context.Background()
	periodEnd := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	old := seedOpenCycle(t, db, "acme.example", periodEnd)
	now := periodEnd.Add(time.Minute)

	_, err := repo.Rollover(ctx, billingcycledomain.RolloverParams{
		OldCycle:    old,
		NewCycleID:  testNode.Generate(),
		CycleDays:   30,
		UsageAmount: decimal.NewFromInt(15),
		Now:         now,
	})
	require.NoError(t, err)

	_, err = repo.Rollover(ctx, billingcycledomain.RolloverParams{
		OldCycle:    old,
		NewCycleID:  testNode.Generate(),
		CycleDays:   30,
		UsageAmount: decimal.NewFromInt(15),
		Now:         now,
	})
	assert.ErrorIs(t, err, billingcycledomain.ErrCycleNotOpen)

	var count int64
	require.NoError(t, db.Model(&billingcycledomain.BillingCycle{}).
		Where("shop_domain = ? AND status = ?", "acme.example", billingcycledomain.BillingCycleStatusOpen).
		Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestRolloverDetectsRacingSuccessor(t *testing.T) {
	repo, db := newTestRepo(t)
	periodEnd := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	old := seedOpenCycle(t, db, "acme.example", periodEnd)

	// Another worker already opened (and closed) the exact successor period.
	successor := &billingcycledomain.BillingCycle{
		ID:          testNode.Generate(),
		ShopDomain:  "acme.example",
		PeriodStart: old.PeriodEnd,
		PeriodEnd:   old.PeriodEnd.AddDate(0, 0, 30),
		Status:      billingcycledomain.BillingCycleStatusClosed,
		Tier:        "STANDARD",
		UsageAmount: decimal.NewFromInt(15),
	}
	require.NoError(t, db.Create(successor).Error)

	_, err := repo.Rollover(context.Background(), billingcycledomain.RolloverParams{
		OldCycle:    old,
		NewCycleID:  testNode.Generate(),
		CycleDays:   30,
		UsageAmount: decimal.NewFromInt(15),
		Now:         periodEnd.Add(time.Minute),
	})
	assert.ErrorIs(t, err, billingcycledomain.ErrCycleNotOpen)
}

func TestRolloverRejectsInvalidCycleDays(t *testing.T) {
	repo, db := newTestRepo(t)
	periodEnd := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	old := seedOpenCycle(t, db, "acme.example", periodEnd)

	_, err := repo.Rollover(context.Background(), billingcycledomain.RolloverParams{
		OldCycle:    old,
		NewCycleID:  testNode.Generate(),
		CycleDays:   0,
		UsageAmount: decimal.NewFromInt(15),
		Now:         periodEnd,
	})
	assert.ErrorIs(t, err, billingcycledomain.ErrInvalidCyclePeriod)
}

func TestRolloverBurnsOneTimeDiscount(t *testing.T) {
	repo, db := newTestRepo(t)
	ctx := context.Background()
	periodEnd := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	old := seedOpenCycle(t, db, "acme.example", periodEnd)

	discount := &billingcycledomain.Discount{
		ID:         testNode.Generate(),
		ShopDomain: "acme.example",
		Type:       billingcycledomain.DiscountTypeFlat,
		Value:      decimal.NewFromInt(5),
		Usage:      billingcycledomain.DiscountUsageOneTime,
		StartAt:    old.PeriodStart,
		EndAt:      old.PeriodEnd,
		Active:     true,
	}
	require.NoError(t, db.Create(discount).Error)

	_, err := repo.Rollover(ctx, billingcycledomain.RolloverParams{
		OldCycle:          old,
		NewCycleID:        testNode.Generate(),
		CycleDays:         30,
		UsageAmount:       decimal.NewFromInt(10),
		OneTimeDiscountID: &discount.ID,
		Now:               periodEnd.Add(time.Minute),
	})
	require.NoError(t, err)

	var burned billingcycledomain.Discount
	require.NoError(t, db.First(&burned, "id = ?", discount.ID).Error)
	assert.False(t, burned.Active)
	assert.NotNil(t, burned.UsedAt)
}

func TestRolloverRollsBackWhenDiscountAlreadyUsed(t *testing.T) {
	repo, db := newTestRepo(t)
	ctx := context.Background()
	periodEnd := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	old := seedOpenCycle(t, db, "acme.example", periodEnd)

	discount := &billingcycledomain.Discount{
		ID:         testNode.Generate(),
		ShopDomain: "acme.example",
		Type:       billingcycledomain.DiscountTypeFlat,
		Value:      decimal.NewFromInt(5),
		Usage:      billingcycledomain.DiscountUsageOneTime,
		StartAt:    old.PeriodStart,
		EndAt:      old.PeriodEnd,
		Active:     false,
	}
	require.NoError(t, db.Create(discount).Error)

	_, err := repo.Rollover(ctx, billingcycledomain.RolloverParams{
		OldCycle:          old,
		NewCycleID:        testNode.Generate(),
		CycleDays:         30,
		UsageAmount:       decimal.NewFromInt(10),
		OneTimeDiscountID: &discount.ID,
		Now:               periodEnd.Add(time.Minute),
	})
	assert.ErrorIs(t, err, billingcycledomain.ErrDiscountAlreadyUsed)

	// Whole transition rolled back: the old cycle is still the open one.
	got, err := repo.FindOpenCycle(ctx, "acme.example")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, old.ID, got.ID)
}

func TestUpgradeKeepsPeriodEndAndOrderCount(t *testing.T) {
	repo, db := newTestRepo(t)
	ctx := context.Background()
	periodEnd := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	old := seedOpenCycle(t, db, "acme.example", periodEnd)
	old.OrderCount = 230
	require.NoError(t, db.Save(old).Error)

	now := periodEnd.AddDate(0, 0, -10)
	newCycle, err := repo.Upgrade(ctx, billingcycledomain.UpgradeParams{
		OldCycle:    old,
		NewCycleID:  testNode.Generate(),
		Tier:        "GROW",
		UsageAmount: decimal.NewFromInt(24),
		Now:         now,
	})
	require.NoError(t, err)

	assert.True(t, newCycle.PeriodStart.Equal(now))
	assert.True(t, newCycle.PeriodEnd.Equal(old.PeriodEnd))
	assert.Equal(t, "GROW", newCycle.Tier)
	assert.Equal(t, int64(230), newCycle.OrderCount)

	got, err := repo.FindOpenCycle(ctx, "acme.example")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, newCycle.ID, got.ID)
}

func TestUpgradeRejectsExpiredCycle(t *testing.T) {
	repo, db := newTestRepo(t)
	periodEnd := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	old := seedOpenCycle(t, db, "acme.example", periodEnd)

	_, err := repo.Upgrade(context.Background(), billingcycledomain.UpgradeParams{
		OldCycle:    old,
		NewCycleID:  testNode.Generate(),
		Tier:        "GROW",
		UsageAmount: decimal.NewFromInt(24),
		Now:         periodEnd.Add(time.Minute),
	})
	assert.ErrorIs(t, err, billingcycledomain.ErrInvalidCyclePeriod)
}

func TestFindActiveDiscountWindow(t *testing.T) {
	repo, db := newTestRepo(t)
	ctx := context.Background()
	periodStart := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	periodEnd := periodStart.AddDate(0, 0, 30)

	outside := &billingcycledomain.Discount{
		ID:         testNode.Generate(),
		ShopDomain: "acme.example",
		Type:       billingcycledomain.DiscountTypeFlat,
		Value:      decimal.NewFromInt(3),
		Usage:      billingcycledomain.DiscountUsageRecurring,
		StartAt:    periodStart.AddDate(0, 0, -60),
		EndAt:      periodStart.AddDate(0, 0, -31),
		Active:     true,
	}
	inactive := &billingcycledomain.Discount{
		ID:         testNode.Generate(),
		ShopDomain: "acme.example",
		Type:       billingcycledomain.DiscountTypeFlat,
		Value:      decimal.NewFromInt(4),
		Usage:      billingcycledomain.DiscountUsageRecurring,
		StartAt:    periodStart,
		EndAt:      periodEnd,
		Active:     false,
	}
	matching := &billingcycledomain.Discount{
		ID:         testNode.Generate(),
		ShopDomain: "acme.example",
		Type:       billingcycledomain.DiscountTypePercent,
		Value:      decimal.NewFromInt(20),
		Usage:      billingcycledomain.DiscountUsageRecurring,
		StartAt:    periodStart.AddDate(0, 0, 5),
		EndAt:      periodEnd.AddDate(0, 0, 5),
		Active:     true,
	}
	require.NoError(t, db.Create(outside).Error)
	require.NoError(t, db.Create(inactive).Error)
	require.NoError(t, db.Create(matching).Error)

	got, err := repo.FindActiveDiscount(ctx, "acme.example", periodStart, periodEnd)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, matching.ID, got.ID)

	got, err = repo.FindActiveDiscount(ctx, "other.example", periodStart, periodEnd)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestOpenCycleExpiriesOrderedByPeriodEnd(t *testing.T) {
	repo, db := newTestRepo(t)
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	late := seedOpenCycle(t, db, "late.example", base.AddDate(0, 0, 20))
	early := seedOpenCycle(t, db, "early.example", base)
	closed := seedOpenCycle(t, db, "closed.example", base.AddDate(0, 0, 10))
	require.NoError(t, db.Model(closed).Update("status", billingcycledomain.BillingCycleStatusClosed).Error)

	expiries, err := repo.OpenCycleExpiries(context.Background())
	require.NoError(t, err)
	require.Len(t, expiries, 2)
	assert.Equal(t, early.ShopDomain, expiries[0].ShopDomain)
	assert.Equal(t, late.ShopDomain, expiries[1].ShopDomain)
}

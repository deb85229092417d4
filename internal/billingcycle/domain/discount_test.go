package domain

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestApplyFlatDiscount(t *testing.T) {
	discount := &Discount{Type: DiscountTypeFlat, Value: decimal.NewFromInt(5)}
	got := discount.Apply(decimal.NewFromInt(15))
	assert.True(t, got.Equal(decimal.NewFromInt(10)), "got %s", got)
}

func TestApplyPercentDiscount(t *testing.T) {
	discount := &Discount{Type: DiscountTypePercent, Value: decimal.NewFromInt(20)}
	got := discount.Apply(decimal.NewFromInt(15))
	assert.True(t, got.Equal(decimal.NewFromInt(12)), "got %s", got)
}

func TestApplyPercentRoundsToCents(t *testing.T) {
	discount := &Discount{Type: DiscountTypePercent, Value: decimal.NewFromInt(33)}
	got := discount.Apply(decimal.NewFromInt(15))
	// 15 - round(4.95) = 10.05
	assert.True(t, got.Equal(decimal.RequireFromString("10.05")), "got %s", got)
}

func TestApplyOverHundredPercentGoesNegative(t *testing.T) {
	discount := &Discount{Type: DiscountTypePercent, Value: decimal.NewFromInt(200)}
	got := discount.Apply(decimal.NewFromInt(15))
	assert.True(t, got.Equal(decimal.NewFromInt(-15)), "got %s", got)
}

func TestApplyNilDiscountReturnsBase(t *testing.T) {
	var discount *Discount
	got := discount.Apply(decimal.NewFromInt(15))
	assert.True(t, got.Equal(decimal.NewFromInt(15)))
}

func TestOverlaps(t *testing.T) {
	periodStart := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	periodEnd := periodStart.AddDate(0, 0, 30)

	inside := &Discount{StartAt: periodStart.AddDate(0, 0, 5), EndAt: periodStart.AddDate(0, 0, 10)}
	assert.True(t, inside.Overlaps(periodStart, periodEnd))

	straddlesStart := &Discount{StartAt: periodStart.AddDate(0, 0, -10), EndAt: periodStart.AddDate(0, 0, 1)}
	assert.True(t, straddlesStart.Overlaps(periodStart, periodEnd))

	before := &Discount{StartAt: periodStart.AddDate(0, 0, -20), EndAt: periodStart.AddDate(0, 0, -1)}
	assert.False(t, before.Overlaps(periodStart, periodEnd))

	after := &Discount{StartAt: periodEnd.AddDate(0, 0, 1), EndAt: periodEnd.AddDate(0, 0, 20)}
	assert.False(t, after.Overlaps(periodStart, periodEnd))

	var nilDiscount *Discount
	assert.False(t, nilDiscount.Overlaps(periodStart, periodEnd))
}

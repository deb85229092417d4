// Package domain contains the durable billing ledger rows: billing cycles
// and the discounts applied to their charges.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// BillingCycleStatus represents the lifecycle state of a billing cycle.
type BillingCycleStatus string

const (
	BillingCycleStatusOpen   BillingCycleStatus = "OPEN"
	BillingCycleStatusClosed BillingCycleStatus = "CLOSED"
)

// BillingCycle represents one metered billing period for one store.
// At most one OPEN cycle exists per store at any time; CLOSED rows are
// historical record and are never deleted.
type BillingCycle struct {
	ID             snowflake.ID       `gorm:"primaryKey"`
	ShopDomain     string             `gorm:"type:text;not null;index;uniqueIndex:ux_billing_cycle_period,priority:1"`
	SubscriptionID string             `gorm:"type:text"`
	LineItemID     string             `gorm:"type:text"`
	PeriodStart    time.Time          `gorm:"not null;uniqueIndex:ux_billing_cycle_period,priority:2"`
	PeriodEnd      time.Time          `gorm:"not null;index;uniqueIndex:ux_billing_cycle_period,priority:3"`
	Status         BillingCycleStatus `gorm:"type:text;not null;default:'OPEN'"`
	Tier           string             `gorm:"type:text;not null"`
	UsageAmount    decimal.Decimal    `gorm:"type:numeric;not null"`
	OrderCount     int64              `gorm:"not null;default:0"`
	Metadata       datatypes.JSONMap  `gorm:"type:jsonb"`
	ClosedAt       *time.Time         `gorm:""`
	CreatedAt      time.Time          `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt      time.Time          `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (BillingCycle) TableName() string { return "billing_cycles" }

// DiscountType distinguishes flat-amount from percentage discounts.
type DiscountType string

const (
	DiscountTypeFlat    DiscountType = "FLAT"
	DiscountTypePercent DiscountType = "PERCENT"
)

// DiscountUsage controls whether a discount survives its first application.
type DiscountUsage string

const (
	DiscountUsageOneTime   DiscountUsage = "ONE_TIME"
	DiscountUsageRecurring DiscountUsage = "RECURRING"
)

// Discount is an optional charge modifier scoped to a store and a time
// window. A ONE_TIME discount transitions active to inactive exactly once,
// at the moment it is applied to a satisfying charge.
type Discount struct {
	ID         snowflake.ID    `gorm:"primaryKey"`
	ShopDomain string          `gorm:"type:text;not null;index"`
	Type       DiscountType    `gorm:"type:text;not null"`
	Value      decimal.Decimal `gorm:"type:numeric;not null"`
	Usage      DiscountUsage   `gorm:"type:text;not null;default:'RECURRING'"`
	StartAt    time.Time       `gorm:"not null"`
	EndAt      time.Time       `gorm:"not null"`
	Active     bool            `gorm:"not null;default:true"`
	UsedAt     *time.Time      `gorm:""`
	CreatedAt  time.Time       `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt  time.Time       `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Discount) TableName() string { return "discounts" }

// Overlaps reports whether the discount window intersects [start, end].
func (d *Discount) Overlaps(start, end time.Time) bool {
	if d == nil {
		return false
	}
	return !d.StartAt.After(end) && !d.EndAt.Before(start)
}

// Apply subtracts the discount from base. FLAT subtracts the value
// directly; PERCENT subtracts value percent of base, rounded to cents.
// Apply never floors the result; callers decide what a non-positive
// charge means.
func (d *Discount) Apply(base decimal.Decimal) decimal.Decimal {
	if d == nil {
		return base
	}
	switch d.Type {
	case DiscountTypeFlat:
		return base.Sub(d.Value)
	case DiscountTypePercent:
		cut := base.Mul(d.Value).Div(decimal.NewFromInt(100)).Round(2)
		return base.Sub(cut)
	default:
		return base
	}
}

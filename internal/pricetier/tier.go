// Package pricetier defines the static plan tier ladder and resolves the
// tier a store has earned from its observed order volume. Tiers are totally
// ordered; the upgrade engine only ever moves a store up the ladder.
package pricetier

import (
	"fmt"

	"github.com/shopspring/decimal"
)

type Tier string

const (
	TierTrial      Tier = "TRIAL"
	TierStandard   Tier = "STANDARD"
	TierGrow       Tier = "GROW"
	TierEnterprise Tier = "ENTERPRISE"
)

// tier ladder, ascending
var ladder = []Tier{TierTrial, TierStandard, TierGrow, TierEnterprise}

var basePrices = map[Tier]decimal.Decimal{
	TierTrial:      decimal.Zero,
	TierStandard:   decimal.NewFromInt(15),
	TierGrow:       decimal.NewFromInt(39),
	TierEnterprise: decimal.NewFromInt(99),
}

// minOrders is the order volume a cycle must exceed to earn each tier.
var minOrders = map[Tier]int64{
	TierTrial:      0,
	TierStandard:   50,
	TierGrow:       200,
	TierEnterprise: 1000,
}

// Parse validates a stored tier label.
func Parse(label string) (Tier, error) {
	tier := Tier(label)
	if _, ok := basePrices[tier]; !ok {
		return "", fmt.Errorf("unknown plan tier %q", label)
	}
	return tier, nil
}

// Rank returns the tier's position in the ladder; higher means pricier.
// Unknown labels rank below TRIAL so they can never block an upgrade.
func (t Tier) Rank() int {
	for i, tier := range ladder {
		if tier == t {
			return i
		}
	}
	return -1
}

// BasePrice returns the tier's recurring base fee.
func (t Tier) BasePrice() decimal.Decimal {
	return basePrices[t]
}

// EligibleForOrders resolves the highest tier whose order threshold the
// given volume exceeds. Zero orders resolve to the lowest tier.
func EligibleForOrders(orders int64) Tier {
	eligible := ladder[0]
	for _, tier := range ladder[1:] {
		if orders > minOrders[tier] {
			eligible = tier
		}
	}
	return eligible
}

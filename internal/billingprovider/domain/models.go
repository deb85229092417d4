// Package domain defines the contract with the external billing provider:
// one operation, create usage charge, idempotent by key, with user-facing
// validation failures surfaced as a typed error distinct from transport
// failures.
package domain

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// UsageCharge is one create-usage-record request.
type UsageCharge struct {
	LineItemID     string
	Amount         decimal.Decimal
	Currency       string
	Description    string
	IdempotencyKey string
}

// ChargeRecord is the provider's acknowledgement of an accepted charge.
type ChargeRecord struct {
	ID        string          `json:"id"`
	Amount    decimal.Decimal `json:"amount"`
	Currency  string          `json:"currency"`
	CreatedAt time.Time       `json:"created_at"`
}

// UserError is one provider-reported validation failure.
type UserError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError aggregates the provider's user-facing rejections of a
// charge request. It is terminal for the attempt: retrying the identical
// request cannot succeed, so callers abort instead of retry-looping.
type ValidationError struct {
	Errors []UserError
}

func (e *ValidationError) Error() string {
	if e == nil || len(e.Errors) == 0 {
		return "billing provider rejected the charge"
	}
	parts := make([]string, 0, len(e.Errors))
	for _, userErr := range e.Errors {
		if userErr.Field != "" {
			parts = append(parts, fmt.Sprintf("%s: %s", userErr.Field, userErr.Message))
			continue
		}
		parts = append(parts, userErr.Message)
	}
	return "billing provider rejected the charge: " + strings.Join(parts, "; ")
}

// Client submits idempotent usage charges on behalf of a store.
type Client interface {
	SubmitUsageCharge(ctx context.Context, shopDomain, accessToken string, charge UsageCharge) (*ChargeRecord, error)
}

// chargeNamespace seeds deterministic idempotency keys.
var chargeNamespace = uuid.NewSHA1(uuid.NameSpaceDNS, []byte("charges.meterbill.io"))

// IdempotencyKey derives a deterministic key for one charge attempt.
// Identical retries of the same operation always produce the same key, so
// resubmitting after a crash has no additional financial effect.
func IdempotencyKey(operation, shopDomain string, periodStart, periodEnd time.Time, tier string) string {
	material := fmt.Sprintf("%s:%s:%d:%d:%s",
		operation,
		shopDomain,
		periodStart.UTC().Unix(),
		periodEnd.UTC().Unix(),
		tier,
	)
	return uuid.NewSHA1(chargeNamespace, []byte(material)).String()
}

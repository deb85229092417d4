package domain

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIdempotencyKeyIsDeterministic(t *testing.T) {
	start := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 0, 30)

	first := IdempotencyKey("rollover", "acme.example", start, end, "STANDARD")
	second := IdempotencyKey("rollover", "acme.example", start, end, "STANDARD")
	assert.Equal(t, first, second)

	_, err := uuid.Parse(first)
	require.NoError(t, err)
}

func TestIdempotencyKeyNormalizesTimeZones(t *testing.T) {
	start := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 0, 30)
	jakarta := time.FixedZone("WIB", 7*3600)

	utcKey := IdempotencyKey("rollover", "acme.example", start, end, "STANDARD")
	zonedKey := IdempotencyKey("rollover", "acme.example", start.In(jakarta), end.In(jakarta), "STANDARD")
	assert.Equal(t, utcKey, zonedKey)
}

func TestIdempotencyKeyVariesPerOperation(t *testing.T) {
	start := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 0, 30)

	rolloverKey := IdempotencyKey("rollover", "acme.example", start, end, "STANDARD")
	upgradeKey := IdempotencyKey("upgrade", "acme.example", start, end, "STANDARD")
	otherStore := IdempotencyKey("rollover", "other.example", start, end, "STANDARD")
	otherTier := IdempotencyKey("rollover", "acme.example", start, end, "GROW")
	otherPeriod := IdempotencyKey("rollover", "acme.example", end, end.AddDate(0, 0, 30), "STANDARD")

	keys := map[string]struct{}{
		rolloverKey: {},
		upgradeKey:  {},
		otherStore:  {},
		otherTier:   {},
		otherPeriod: {},
	}
	assert.Len(t, keys, 5)
}

func TestValidationErrorMessage(t *testing.T) {
	err := &ValidationError{Errors: []UserError{
		{Field: "line_item_id", Message: "is required"},
		{Message: "charge limit exceeded"},
	}}
	assert.Equal(t,
		"billing provider rejected the charge: line_item_id: is required; charge limit exceeded",
		err.Error(),
	)

	empty := &ValidationError{}
	assert.Equal(t, "billing provider rejected the charge", empty.Error())
}

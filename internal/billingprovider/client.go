package billingprovider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	billingproviderdomain "github.com/meterbill/meterbill/internal/billingprovider/domain"
	"github.com/meterbill/meterbill/internal/config"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type chargeRequest struct {
	LineItemID     string      `json:"line_item_id"`
	Price          chargePrice `json:"price"`
	Description    string      `json:"description"`
	IdempotencyKey string      `json:"idempotency_key"`
}

type chargePrice struct {
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
}

type chargeResponse struct {
	UsageCharge *billingproviderdomain.ChargeRecord `json:"usage_charge"`
	Errors      []billingproviderdomain.UserError   `json:"errors"`
}

type client struct {
	http    *http.Client
	baseURL string
	log     *zap.Logger
}

// NewClient builds the HTTP client for the external billing provider.
func NewClient(cfg config.Config, log *zap.Logger) billingproviderdomain.Client {
	timeout := cfg.Provider.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &client{
		http:    &http.Client{Timeout: timeout},
		baseURL: cfg.Provider.BaseURL,
		log:     log.Named("billingprovider"),
	}
}

func (c *client) SubmitUsageCharge(ctx context.Context, shopDomain, accessToken string, charge billingproviderdomain.UsageCharge) (*billingproviderdomain.ChargeRecord, error) {
	if charge.LineItemID == "" {
		return nil, &billingproviderdomain.ValidationError{Errors: []billingproviderdomain.UserError{
			{Field: "line_item_id", Message: "is required"},
		}}
	}
	if charge.IdempotencyKey == "" {
		return nil, errors.New("idempotency key is required")
	}

	body, err := json.Marshal(chargeRequest{
		LineItemID: charge.LineItemID,
		Price: chargePrice{
			Amount:   charge.Amount,
			Currency: charge.Currency,
		},
		Description:    charge.Description,
		IdempotencyKey: charge.IdempotencyKey,
	})
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/v1/usage_charges", c.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Store-Domain", shopDomain)
	req.Header.Set("X-Store-Access-Token", accessToken)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("submit usage charge: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read usage charge response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated:
		var parsed chargeResponse
		if err := json.Unmarshal(payload, &parsed); err != nil {
			return nil, fmt.Errorf("decode usage charge response: %w", err)
		}
		if parsed.UsageCharge == nil {
			return nil, errors.New("provider returned no usage charge record")
		}
		c.log.Debug("usage charge accepted",
			zap.String("shop_domain", shopDomain),
			zap.String("charge_id", parsed.UsageCharge.ID),
			zap.String("idempotency_key", charge.IdempotencyKey),
		)
		return parsed.UsageCharge, nil

	case resp.StatusCode == http.StatusUnprocessableEntity || resp.StatusCode == http.StatusBadRequest:
		var parsed chargeResponse
		if err := json.Unmarshal(payload, &parsed); err != nil || len(parsed.Errors) == 0 {
			return nil, &billingproviderdomain.ValidationError{Errors: []billingproviderdomain.UserError{
				{Message: fmt.Sprintf("provider returned status %d", resp.StatusCode)},
			}}
		}
		return nil, &billingproviderdomain.ValidationError{Errors: parsed.Errors}

	default:
		return nil, fmt.Errorf("billing provider returned status %d", resp.StatusCode)
	}
}

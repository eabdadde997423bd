// Package cards talks to the external card service that checks ownership,
// active status and balance at confirm time.
package cards

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"merchant_backend/internal/domain"
)

type Validator interface {
	Validate(ctx context.Context, tenantID, cardID string, amountMinor int64) error
}

type HTTPValidator struct {
	baseURL string
	client  *http.Client
}

func NewHTTPValidator(baseURL string) *HTTPValidator {
	return &HTTPValidator{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 5 * time.Second},
	}
}

type validateReq struct {
	TenantID    string `json:"tenantId"`
	CardID      string `json:"cardId"`
	AmountMinor int64  `json:"amount"`
}

func (v *HTTPValidator) Validate(ctx context.Context, tenantID, cardID string, amountMinor int64) error {
	body, err := json.Marshal(validateReq{TenantID: tenantID, CardID: cardID, AmountMinor: amountMinor})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.baseURL+"/api/v1/cards/validate", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := v.client.Do(req)
	if err != nil {
		return fmt.Errorf("card service unreachable: %v: %w", err, domain.ErrDependencyFailure)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("card service rejected card %s (status %d): %w", cardID, resp.StatusCode, domain.ErrDependencyFailure)
	}
	return nil
}

// AllowAll accepts every card. Used when no card service is configured (dev)
// and in tests.
type AllowAll struct{}

func (AllowAll) Validate(ctx context.Context, tenantID, cardID string, amountMinor int64) error {
	return nil
}

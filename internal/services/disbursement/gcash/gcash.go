package gcash

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/aralacademy/backend/internal/config"
	"github.com/aralacademy/backend/internal/ledger"
	"github.com/aralacademy/backend/internal/models"
	"github.com/aralacademy/backend/internal/services/disbursement"
)

// GCashProvider implements the disbursement.Provider interface for GCash
type GCashProvider struct {
	baseURL string
	apiKey  string
	sandbox bool
	client  *http.Client
}

// NewGCashProvider creates a new GCash disbursement provider
func NewGCashProvider(cfg config.GCashConfig) *GCashProvider {
	return &GCashProvider{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		sandbox: cfg.UseSandbox,
		client:  &http.Client{Timeout: 15 * time.Second},
	}
}

// DisburseRequest represents a disbursement request to the GCash rail
type DisburseRequest struct {
	Reference   string `json:"reference"`
	Amount      string `json:"amount"`
	Currency    string `json:"currency"`
	Msisdn      string `json:"msisdn"`
	AccountName string `json:"account_name"`
	Sandbox     bool   `json:"sandbox,omitempty"`
}

// DisburseResponse represents a response from the GCash rail
type DisburseResponse struct {
	Status  bool   `json:"status"`
	Message string `json:"message"`
	Data    struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	} `json:"data"`
}

// Disburse submits the payout to the GCash rail
func (p *GCashProvider) Disburse(ctx context.Context, payout *models.Payout, affiliate *models.Affiliate) (string, error) {
	reqBody, err := json.Marshal(DisburseRequest{
		Reference:   payout.Reference,
		Amount:      payout.TotalAmount.StringFixed(2),
		Currency:    string(payout.Currency),
		Msisdn:      affiliate.GcashNumber,
		AccountName: affiliate.Name,
		Sandbox:     p.sandbox,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal disbursement request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", p.baseURL+"/disbursements", bytes.NewBuffer(reqBody))
	if err != nil {
		return "", fmt.Errorf("failed to create disbursement request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		if isTimeout(err) {
			return "", ledger.ErrDisbursementTimeout
		}
		return "", fmt.Errorf("disbursement request failed: %w", err)
	}
	defer resp.Body.Close()

	var response DisburseResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return "", fmt.Errorf("failed to decode disbursement response: %w", err)
	}

	if resp.StatusCode != http.StatusOK || !response.Status {
		return "", fmt.Errorf("disbursement rejected: %s", response.Message)
	}

	return response.Data.ID, nil
}

// CheckStatus polls the rail for the state of a previously submitted disbursement
func (p *GCashProvider) CheckStatus(ctx context.Context, externalRef string) (disbursement.Status, error) {
	httpReq, err := http.NewRequestWithContext(ctx, "GET", p.baseURL+"/disbursements/"+externalRef, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create status request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		if isTimeout(err) {
			return "", ledger.ErrDisbursementTimeout
		}
		return "", fmt.Errorf("status request failed: %w", err)
	}
	defer resp.Body.Close()

	var response DisburseResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return "", fmt.Errorf("failed to decode status response: %w", err)
	}

	switch response.Data.Status {
	case "SUCCESS", "COMPLETED":
		return disbursement.StatusSuccessful, nil
	case "FAILED", "REJECTED":
		return disbursement.StatusFailed, nil
	default:
		return disbursement.StatusPending, nil
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr interface{ Timeout() bool }
	return errors.As(err, &netErr) && netErr.Timeout()
}

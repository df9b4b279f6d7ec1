package bank

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

// BankProvider implements the disbursement.Provider interface for bank transfers
type BankProvider struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewBankProvider creates a new bank-transfer disbursement provider
func NewBankProvider(cfg config.BankConfig) *BankProvider {
	return &BankProvider{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		client:  &http.Client{Timeout: 15 * time.Second},
	}
}

// TransferRequest represents a bank transfer request
type TransferRequest struct {
	Reference     string `json:"reference"`
	Amount        string `json:"amount"`
	Currency      string `json:"currency"`
	BankName      string `json:"bank_name"`
	AccountName   string `json:"account_name"`
	AccountNumber string `json:"account_number"`
}

// TransferResponse represents a response from the bank rail
type TransferResponse struct {
	Status  bool   `json:"status"`
	Message string `json:"message"`
	Data    struct {
		TransferID string `json:"transfer_id"`
		Status     string `json:"status"`
	} `json:"data"`
}

// Disburse submits the payout to the bank rail
func (p *BankProvider) Disburse(ctx context.Context, payout *models.Payout, affiliate *models.Affiliate) (string, error) {
	reqBody, err := json.Marshal(TransferRequest{
		Reference:     payout.Reference,
		Amount:        payout.TotalAmount.StringFixed(2),
		Currency:      string(payout.Currency),
		BankName:      affiliate.BankName,
		AccountName:   affiliate.BankAccountName,
		AccountNumber: affiliate.BankAccountNumber,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal transfer request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", p.baseURL+"/transfers", bytes.NewBuffer(reqBody))
	if err != nil {
		return "", fmt.Errorf("failed to create transfer request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		if isTimeout(err) {
			return "", ledger.ErrDisbursementTimeout
		}
		return "", fmt.Errorf("transfer request failed: %w", err)
	}
	defer resp.Body.Close()

	var response TransferResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return "", fmt.Errorf("failed to decode transfer response: %w", err)
	}

	if resp.StatusCode != http.StatusOK || !response.Status {
		return "", fmt.Errorf("transfer rejected: %s", response.Message)
	}

	return response.Data.TransferID, nil
}

// CheckStatus polls the rail for the state of a previously submitted transfer
func (p *BankProvider) CheckStatus(ctx context.Context, externalRef string) (disbursement.Status, error) {
	httpReq, err := http.NewRequestWithContext(ctx, "GET", p.baseURL+"/transfers/"+externalRef, nil)
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

	var response TransferResponse
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

package handlers

import (
	"bytes"
	"errors"
	"io"
	"log"
	"net/http"

	"github.com/aralacademy/backend/internal/config"
	"github.com/aralacademy/backend/internal/ledger"
	"github.com/aralacademy/backend/internal/models"
	"github.com/aralacademy/backend/internal/services/attribution"
	"github.com/aralacademy/backend/internal/services/commission"
	"github.com/aralacademy/backend/internal/services/payout"
	"github.com/aralacademy/backend/internal/utils"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// WebhookHandler handles inbound webhooks from the checkout collaborator and
// the disbursement rails
type WebhookHandler struct {
	attributionSvc *attribution.AttributionService
	commissionSvc  *commission.CommissionService
	payoutSvc      *payout.PayoutService
	webhookCfg     config.WebhookConfig
}

// NewWebhookHandler creates a new webhook handler
func NewWebhookHandler(
	attributionSvc *attribution.AttributionService,
	commissionSvc *commission.CommissionService,
	payoutSvc *payout.PayoutService,
	webhookCfg config.WebhookConfig,
) *WebhookHandler {
	return &WebhookHandler{
		attributionSvc: attributionSvc,
		commissionSvc:  commissionSvc,
		payoutSvc:      payoutSvc,
		webhookCfg:     webhookCfg,
	}
}

// OrderCompletedRequest represents the order.completed event sent by the
// checkout collaborator after payment confirmation
type OrderCompletedRequest struct {
	OrderID     string          `json:"order_id" binding:"required"`
	VisitorID   string          `json:"visitor_id"`
	AffiliateID *uuid.UUID      `json:"affiliate_id"`
	GMV         decimal.Decimal `json:"gmv" binding:"required"`
	Currency    models.Currency `json:"currency"`
}

// OrderCompleted attributes a completed order and records its commission.
// Redelivered events answer the same way as the first delivery.
func (h *WebhookHandler) OrderCompleted(c *gin.Context) {
	body, ok := h.verifiedBody(c, h.webhookCfg.OrderSecret)
	if !ok {
		return
	}
	c.Request.Body = io.NopCloser(bytes.NewBuffer(body))

	var req OrderCompletedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	currency := req.Currency
	if currency == "" {
		currency = models.CurrencyPHP
	}

	affiliateID := req.AffiliateID
	if affiliateID == nil && req.VisitorID != "" {
		resolved, err := h.attributionSvc.ResolveReferrer(req.VisitorID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		affiliateID = resolved
	}

	if affiliateID == nil {
		// Not a referred order; nothing to ledger.
		c.JSON(http.StatusOK, gin.H{"status": "ignored"})
		return
	}

	conversion, err := h.commissionSvc.RecordConversion(req.OrderID, *affiliateID, req.GMV, currency)
	if err != nil {
		if errors.Is(err, ledger.ErrDuplicateOrder) {
			c.JSON(http.StatusOK, gin.H{"status": "duplicate", "conversion_id": conversion.ID})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"status": "recorded", "conversion_id": conversion.ID})
}

// DisbursementCallbackRequest represents a status callback from a payment rail
type DisbursementCallbackRequest struct {
	Reference string `json:"reference" binding:"required"`
	Status    string `json:"status" binding:"required"`
	Message   string `json:"message"`
}

// DisbursementCallback resolves a processing payout from the rail's callback
func (h *WebhookHandler) DisbursementCallback(c *gin.Context) {
	body, ok := h.verifiedBody(c, h.webhookCfg.DisbursementSecret)
	if !ok {
		return
	}
	c.Request.Body = io.NopCloser(bytes.NewBuffer(body))

	var req DisbursementCallbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	p, err := h.payoutSvc.FindByReference(req.Reference)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if p == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown payout reference"})
		return
	}

	switch req.Status {
	case "SUCCESS", "COMPLETED", "sent":
		err = h.payoutSvc.MarkSent(p.ID, "")
	case "FAILED", "REJECTED", "failed":
		err = h.payoutSvc.MarkFailed(p.ID, req.Message)
	default:
		c.JSON(http.StatusOK, gin.H{"status": "ignored"})
		return
	}
	if err != nil {
		log.Printf("Disbursement callback for payout %s not applied: %v", p.ID, err)
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// verifiedBody reads the request body and verifies its HMAC signature. An
// empty configured secret disables verification (development only).
func (h *WebhookHandler) verifiedBody(c *gin.Context, secret string) ([]byte, bool) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read request body"})
		return nil, false
	}

	if secret != "" {
		signature := c.GetHeader("X-Webhook-Signature")
		if !utils.VerifyWebhookSignature(body, signature, secret) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid webhook signature"})
			return nil, false
		}
	}

	return body, true
}

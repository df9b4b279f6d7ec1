package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/aralacademy/backend/internal/models"
	"github.com/aralacademy/backend/internal/services/affiliate"
	"github.com/aralacademy/backend/internal/services/reporting"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// AffiliateHandler serves the affiliate-facing read API
type AffiliateHandler struct {
	affiliateSvc *affiliate.AffiliateService
	reportingSvc *reporting.ReportingService
}

// NewAffiliateHandler creates a new affiliate handler
func NewAffiliateHandler(affiliateSvc *affiliate.AffiliateService, reportingSvc *reporting.ReportingService) *AffiliateHandler {
	return &AffiliateHandler{affiliateSvc: affiliateSvc, reportingSvc: reportingSvc}
}

// currentAffiliate resolves the affiliate owned by the authenticated user
func (h *AffiliateHandler) currentAffiliate(c *gin.Context) (*models.Affiliate, bool) {
	userIDValue, exists := c.Get("user_id")
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return nil, false
	}
	userID, ok := userIDValue.(uuid.UUID)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "invalid user in context"})
		return nil, false
	}

	a, err := h.affiliateSvc.GetAffiliateByUserID(userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return nil, false
	}
	if a == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no affiliate account for user"})
		return nil, false
	}

	return a, true
}

// listFilter builds the shared list filter from query parameters
func listFilter(c *gin.Context) reporting.ListFilter {
	filter := reporting.ListFilter{
		Status:  c.Query("status"),
		Source:  c.Query("source"),
		Page:    queryInt(c, "page", 1),
		PerPage: queryInt(c, "per_page", 20),
	}
	if from, err := time.Parse(time.RFC3339, c.Query("from")); err == nil {
		filter.From = &from
	}
	if to, err := time.Parse(time.RFC3339, c.Query("to")); err == nil {
		filter.To = &to
	}
	return filter
}

func queryInt(c *gin.Context, key string, defaultValue int) int {
	value := c.Query(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return n
}

// GetSummary returns the affiliate's headline numbers
func (h *AffiliateHandler) GetSummary(c *gin.Context) {
	a, ok := h.currentAffiliate(c)
	if !ok {
		return
	}

	summary, err := h.reportingSvc.AffiliateSummary(a.ID, listFilter(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, summary)
}

// ListClicks returns the affiliate's paginated click history
func (h *AffiliateHandler) ListClicks(c *gin.Context) {
	a, ok := h.currentAffiliate(c)
	if !ok {
		return
	}

	clicks, total, err := h.reportingSvc.ListClicks(a.ID, listFilter(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"clicks": clicks, "total": total})
}

// ListConversions returns the affiliate's paginated conversion history with
// flagged entries masked as under review
func (h *AffiliateHandler) ListConversions(c *gin.Context) {
	a, ok := h.currentAffiliate(c)
	if !ok {
		return
	}

	conversions, total, err := h.reportingSvc.ListConversions(a.ID, listFilter(c), true)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"conversions": conversions, "total": total})
}

// ListPayouts returns the affiliate's paginated payout history
func (h *AffiliateHandler) ListPayouts(c *gin.Context) {
	a, ok := h.currentAffiliate(c)
	if !ok {
		return
	}

	payouts, total, err := h.reportingSvc.ListPayouts(a.ID, listFilter(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"payouts": payouts, "total": total})
}

// UpdatePayoutMethodRequest carries new payout details for the affiliate
type UpdatePayoutMethodRequest struct {
	Method            models.PayoutMethod `json:"method" binding:"required"`
	GcashNumber       string              `json:"gcash_number"`
	BankName          string              `json:"bank_name"`
	BankAccountName   string              `json:"bank_account_name"`
	BankAccountNumber string              `json:"bank_account_number"`
}

// UpdatePayoutMethod replaces the affiliate's payout-method details
func (h *AffiliateHandler) UpdatePayoutMethod(c *gin.Context) {
	a, ok := h.currentAffiliate(c)
	if !ok {
		return
	}

	var req UpdatePayoutMethodRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	err := h.affiliateSvc.UpdatePayoutMethod(a.ID, affiliate.PayoutMethodUpdate{
		Method:            req.Method,
		GcashNumber:       req.GcashNumber,
		BankName:          req.BankName,
		BankAccountName:   req.BankAccountName,
		BankAccountNumber: req.BankAccountNumber,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "updated"})
}

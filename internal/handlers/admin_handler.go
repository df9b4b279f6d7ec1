package handlers

import (
	"errors"
	"net/http"

	"github.com/aralacademy/backend/internal/jobs"
	"github.com/aralacademy/backend/internal/ledger"
	"github.com/aralacademy/backend/internal/models"
	"github.com/aralacademy/backend/internal/queue"
	"github.com/aralacademy/backend/internal/services/affiliate"
	"github.com/aralacademy/backend/internal/services/commission"
	"github.com/aralacademy/backend/internal/services/fraud"
	"github.com/aralacademy/backend/internal/services/payout"
	"github.com/aralacademy/backend/internal/services/reporting"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// AdminHandler handles admin-facing ledger operations
type AdminHandler struct {
	affiliateSvc  *affiliate.AffiliateService
	commissionSvc *commission.CommissionService
	fraudSvc      *fraud.FraudService
	payoutSvc     *payout.PayoutService
	reportingSvc  *reporting.ReportingService
	jobQueue      queue.QueueInterface
}

// NewAdminHandler creates a new admin handler
func NewAdminHandler(
	affiliateSvc *affiliate.AffiliateService,
	commissionSvc *commission.CommissionService,
	fraudSvc *fraud.FraudService,
	payoutSvc *payout.PayoutService,
	reportingSvc *reporting.ReportingService,
	jobQueue queue.QueueInterface,
) *AdminHandler {
	return &AdminHandler{
		affiliateSvc:  affiliateSvc,
		commissionSvc: commissionSvc,
		fraudSvc:      fraudSvc,
		payoutSvc:     payoutSvc,
		reportingSvc:  reportingSvc,
		jobQueue:      jobQueue,
	}
}

// respondLedgerError maps ledger errors onto HTTP statuses: expected
// business outcomes and validation problems are client errors, transition
// conflicts are 409s, everything else is a 500.
func respondLedgerError(c *gin.Context, err error) {
	var invalidTransition *ledger.InvalidTransitionError
	var validation *ledger.ValidationError

	switch {
	case errors.Is(err, ledger.ErrNotEligible),
		errors.Is(err, ledger.ErrNoEligibleCommissions),
		errors.Is(err, ledger.ErrBelowMinimumPayout):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	case errors.As(err, &validation):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "field": validation.Field})
	case errors.As(err, &invalidTransition), errors.Is(err, ledger.ErrFlagAlreadyResolved):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

func parseIDParam(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return uuid.Nil, false
	}
	return id, true
}

// ClearConversionRequest optionally forces clearing before the hold elapses
type ClearConversionRequest struct {
	Force bool `json:"force"`
}

// ClearConversion manually clears a pending conversion
func (h *AdminHandler) ClearConversion(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	var req ClearConversionRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	if err := h.commissionSvc.ClearConversion(id, req.Force); err != nil {
		respondLedgerError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "cleared"})
}

// VoidConversionRequest carries the reason for a manual void
type VoidConversionRequest struct {
	Reason string `json:"reason" binding:"required"`
}

// VoidConversion voids a pending or cleared conversion (e.g. refunded order)
func (h *AdminHandler) VoidConversion(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	var req VoidConversionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.commissionSvc.VoidConversion(id, req.Reason); err != nil {
		respondLedgerError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "voided"})
}

// RaiseFlagRequest represents a manual fraud flag
type RaiseFlagRequest struct {
	AffiliateID  uuid.UUID   `json:"affiliate_id" binding:"required"`
	ConversionID *uuid.UUID  `json:"conversion_id"`
	Reason       string      `json:"reason" binding:"required"`
	Detail       models.JSON `json:"detail"`
}

// RaiseFlag opens a fraud flag against an affiliate or conversion
func (h *AdminHandler) RaiseFlag(c *gin.Context) {
	var req RaiseFlagRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	flag, err := h.fraudSvc.RaiseFlag(req.AffiliateID, req.ConversionID, req.Reason, req.Detail)
	if err != nil {
		respondLedgerError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"status": "flagged", "flag": flag})
}

// ResolveFlagRequest carries a fraud review decision
type ResolveFlagRequest struct {
	Upheld bool   `json:"upheld"`
	Notes  string `json:"notes"`
}

// ResolveFlag closes a fraud flag and releases or voids the held conversions
func (h *AdminHandler) ResolveFlag(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	var req ResolveFlagRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.fraudSvc.ResolveFlag(id, req.Upheld, req.Notes); err != nil {
		respondLedgerError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "resolved"})
}

// ListFlags returns all fraud flags for an affiliate
func (h *AdminHandler) ListFlags(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	flags, err := h.reportingSvc.ListFlags(id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"flags": flags})
}

// RunPayout settles an affiliate's cleared commissions into one payout
// batch per currency and queues their disbursement
func (h *AdminHandler) RunPayout(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	payouts, err := h.payoutSvc.RunPayout(id)
	if err != nil {
		respondLedgerError(c, err)
		return
	}

	var warnings []string
	for _, p := range payouts {
		if err := jobs.EnqueueDisbursementJob(h.jobQueue, p.ID); err != nil {
			// The payout is committed; disbursement can be retried from admin.
			warnings = append(warnings, "disbursement not queued for "+p.Reference+": "+err.Error())
		}
	}
	if len(warnings) > 0 {
		c.JSON(http.StatusCreated, gin.H{"status": "created", "payouts": payouts, "warnings": warnings})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"status": "created", "payouts": payouts})
}

// RetryPayout re-queues a failed payout against its original conversion set
func (h *AdminHandler) RetryPayout(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	p, err := h.payoutSvc.RetryPayout(id)
	if err != nil {
		respondLedgerError(c, err)
		return
	}

	if err := jobs.EnqueueDisbursementJob(h.jobQueue, p.ID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "queued", "payout": p})
}

// CreateAffiliateRequest represents an affiliate application approval
type CreateAffiliateRequest struct {
	UserID uuid.UUID `json:"user_id" binding:"required"`
	Name   string    `json:"name" binding:"required"`
	TierID uuid.UUID `json:"tier_id" binding:"required"`
}

// CreateAffiliate registers a new affiliate in pending status
func (h *AdminHandler) CreateAffiliate(c *gin.Context) {
	var req CreateAffiliateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	a, err := h.affiliateSvc.CreateAffiliate(req.UserID, req.Name, req.TierID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"affiliate": a})
}

// ApproveAffiliate activates a pending affiliate
func (h *AdminHandler) ApproveAffiliate(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	if err := h.affiliateSvc.ApproveAffiliate(id); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "active"})
}

// DeactivateAffiliate soft-deactivates an affiliate
func (h *AdminHandler) DeactivateAffiliate(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	if err := h.affiliateSvc.DeactivateAffiliate(id); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "inactive"})
}

// ChangeTierRequest carries the new tier for an affiliate
type ChangeTierRequest struct {
	TierID uuid.UUID `json:"tier_id" binding:"required"`
}

// ChangeTier moves an affiliate to a new commission tier (future
// conversions only)
func (h *AdminHandler) ChangeTier(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	var req ChangeTierRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.affiliateSvc.ChangeTier(id, req.TierID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "updated"})
}

// VerifyGcash marks an affiliate's GCash number as verified
func (h *AdminHandler) VerifyGcash(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	if err := h.affiliateSvc.VerifyGcashNumber(id); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "verified"})
}

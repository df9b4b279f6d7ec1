package handlers

import (
	"log"
	"net/http"

	"github.com/aralacademy/backend/internal/services/attribution"
	"github.com/gin-gonic/gin"
)

// TrackHandler handles public click-tracking requests
type TrackHandler struct {
	attributionSvc *attribution.AttributionService
}

// NewTrackHandler creates a new track handler
func NewTrackHandler(attributionSvc *attribution.AttributionService) *TrackHandler {
	return &TrackHandler{attributionSvc: attributionSvc}
}

// TrackClickRequest represents a referral click event
type TrackClickRequest struct {
	AffiliateSlug string `json:"affiliate_slug" binding:"required"`
	VisitorID     string `json:"visitor_id" binding:"required"`
	Source        string `json:"source"`
	LandingPage   string `json:"landing_page"`
}

// TrackClick records a referral click. It always answers accepted for a
// well-formed request: tracking failures must never surface to the
// storefront.
func (h *TrackHandler) TrackClick(c *gin.Context) {
	var req TrackClickRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if _, err := h.attributionSvc.RecordClick(req.AffiliateSlug, req.VisitorID, req.Source, req.LandingPage); err != nil {
		// Tracking must never block the storefront; log and answer accepted.
		log.Printf("Failed to record click for slug %s: %v", req.AffiliateSlug, err)
	}

	c.JSON(http.StatusAccepted, gin.H{"status": "accepted"})
}

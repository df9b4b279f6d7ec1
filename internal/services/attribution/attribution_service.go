package attribution

import (
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/aralacademy/backend/internal/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// AttributionService records referral clicks and resolves visitor-to-affiliate
// bindings for conversion attribution
type AttributionService struct {
	db     *gorm.DB
	window time.Duration
}

// NewAttributionService creates a new attribution service
func NewAttributionService(db *gorm.DB, attributionWindow time.Duration) *AttributionService {
	return &AttributionService{db: db, window: attributionWindow}
}

// RecordClick stores a referral click for an affiliate slug.
//
// An unresolvable slug is logged and the click dropped without error:
// tracking must never block page rendering, and a click is never attributed
// to a non-existent affiliate.
func (s *AttributionService) RecordClick(affiliateSlug, visitorID, source, landingPage string) (*models.Click, error) {
	var affiliate models.Affiliate
	err := s.db.Where("slug = ?", affiliateSlug).First(&affiliate).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			log.Printf("Dropping click for unknown affiliate slug %q (visitor %s)", affiliateSlug, visitorID)
			return nil, nil
		}
		return nil, fmt.Errorf("error finding affiliate for click: %w", err)
	}

	click := models.Click{
		AffiliateID: affiliate.ID,
		VisitorID:   visitorID,
		Source:      source,
		LandingPage: landingPage,
	}

	if err := s.db.Create(&click).Error; err != nil {
		return nil, fmt.Errorf("error recording click: %w", err)
	}

	return &click, nil
}

// ResolveReferrer returns the affiliate credited for a visitor under
// last-click attribution: the most recent click inside the attribution
// window. Returns nil when no click qualifies or when the affiliate tied to
// the winning click is not active.
func (s *AttributionService) ResolveReferrer(visitorID string) (*uuid.UUID, error) {
	cutoff := time.Now().Add(-s.window)

	var click models.Click
	err := s.db.
		Where("visitor_id = ? AND created_at >= ?", visitorID, cutoff).
		Order("created_at DESC").
		First(&click).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("error resolving referrer: %w", err)
	}

	var affiliate models.Affiliate
	if err := s.db.First(&affiliate, "id = ?", click.AffiliateID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("error loading affiliate for click: %w", err)
	}

	if affiliate.Status != models.AffiliateStatusActive {
		return nil, nil
	}

	return &affiliate.ID, nil
}

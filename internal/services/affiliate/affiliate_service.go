package affiliate

import (
	"errors"
	"fmt"

	"github.com/aralacademy/backend/internal/models"
	"github.com/google/uuid"
	"github.com/gosimple/slug"
	"gorm.io/gorm"
)

// AffiliateService manages affiliate accounts: application approval, status
// changes, tier assignment and payout-method details
type AffiliateService struct {
	db *gorm.DB
}

// NewAffiliateService creates a new affiliate service
func NewAffiliateService(db *gorm.DB) *AffiliateService {
	return &AffiliateService{db: db}
}

// CreateAffiliate registers an affiliate application in pending status. The
// referral slug is derived from the display name, with a numeric suffix on
// collision.
func (s *AffiliateService) CreateAffiliate(userID uuid.UUID, name string, tierID uuid.UUID) (*models.Affiliate, error) {
	var tier models.MembershipTier
	if err := s.db.First(&tier, "id = ?", tierID).Error; err != nil {
		return nil, fmt.Errorf("error loading tier: %w", err)
	}

	affiliateSlug, err := s.uniqueSlug(name)
	if err != nil {
		return nil, err
	}

	affiliate := models.Affiliate{
		UserID: userID,
		Name:   name,
		Slug:   affiliateSlug,
		Status: models.AffiliateStatusPending,
		TierID: tier.ID,
	}

	if err := s.db.Create(&affiliate).Error; err != nil {
		return nil, fmt.Errorf("error creating affiliate: %w", err)
	}

	return &affiliate, nil
}

func (s *AffiliateService) uniqueSlug(name string) (string, error) {
	base := slug.Make(name)
	candidate := base
	for i := 2; ; i++ {
		var count int64
		if err := s.db.Model(&models.Affiliate{}).Where("slug = ?", candidate).Count(&count).Error; err != nil {
			return "", fmt.Errorf("error checking slug: %w", err)
		}
		if count == 0 {
			return candidate, nil
		}
		candidate = fmt.Sprintf("%s-%d", base, i)
	}
}

// GetAffiliate loads an affiliate by id
func (s *AffiliateService) GetAffiliate(affiliateID uuid.UUID) (*models.Affiliate, error) {
	var affiliate models.Affiliate
	if err := s.db.Preload("Tier").First(&affiliate, "id = ?", affiliateID).Error; err != nil {
		return nil, fmt.Errorf("error loading affiliate: %w", err)
	}
	return &affiliate, nil
}

// GetAffiliateByUserID loads the affiliate owned by a user
func (s *AffiliateService) GetAffiliateByUserID(userID uuid.UUID) (*models.Affiliate, error) {
	var affiliate models.Affiliate
	err := s.db.Preload("Tier").Where("user_id = ?", userID).First(&affiliate).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("error loading affiliate: %w", err)
	}
	return &affiliate, nil
}

// ApproveAffiliate activates a pending affiliate application
func (s *AffiliateService) ApproveAffiliate(affiliateID uuid.UUID) error {
	result := s.db.Model(&models.Affiliate{}).
		Where("id = ? AND status = ?", affiliateID, models.AffiliateStatusPending).
		Update("status", models.AffiliateStatusActive)
	if result.Error != nil {
		return fmt.Errorf("error approving affiliate: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("affiliate %s is not pending approval", affiliateID)
	}
	return nil
}

// DeactivateAffiliate soft-deactivates an affiliate. The record is never
// deleted: historical commissions must remain attributable.
func (s *AffiliateService) DeactivateAffiliate(affiliateID uuid.UUID) error {
	result := s.db.Model(&models.Affiliate{}).
		Where("id = ?", affiliateID).
		Update("status", models.AffiliateStatusInactive)
	if result.Error != nil {
		return fmt.Errorf("error deactivating affiliate: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("affiliate %s not found", affiliateID)
	}
	return nil
}

// ChangeTier moves the affiliate to a new commission tier. This affects
// future conversions only; recorded conversions keep their snapshotted rate.
func (s *AffiliateService) ChangeTier(affiliateID, tierID uuid.UUID) error {
	var tier models.MembershipTier
	if err := s.db.First(&tier, "id = ?", tierID).Error; err != nil {
		return fmt.Errorf("error loading tier: %w", err)
	}

	result := s.db.Model(&models.Affiliate{}).
		Where("id = ?", affiliateID).
		Update("tier_id", tier.ID)
	if result.Error != nil {
		return fmt.Errorf("error changing tier: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("affiliate %s not found", affiliateID)
	}
	return nil
}

// PayoutMethodUpdate carries new payout-method details for an affiliate
type PayoutMethodUpdate struct {
	Method            models.PayoutMethod
	GcashNumber       string
	BankName          string
	BankAccountName   string
	BankAccountNumber string
}

// UpdatePayoutMethod replaces the affiliate's payout-method details. A new
// GCash number always resets verification.
func (s *AffiliateService) UpdatePayoutMethod(affiliateID uuid.UUID, update PayoutMethodUpdate) error {
	updates := map[string]interface{}{
		"payout_method":       update.Method,
		"gcash_number":        update.GcashNumber,
		"gcash_verified":      false,
		"bank_name":           update.BankName,
		"bank_account_name":   update.BankAccountName,
		"bank_account_number": update.BankAccountNumber,
	}

	result := s.db.Model(&models.Affiliate{}).Where("id = ?", affiliateID).Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("error updating payout method: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("affiliate %s not found", affiliateID)
	}
	return nil
}

// VerifyGcashNumber marks the affiliate's GCash number as verified
func (s *AffiliateService) VerifyGcashNumber(affiliateID uuid.UUID) error {
	result := s.db.Model(&models.Affiliate{}).
		Where("id = ? AND gcash_number <> ''", affiliateID).
		Update("gcash_verified", true)
	if result.Error != nil {
		return fmt.Errorf("error verifying gcash number: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("affiliate %s has no GCash number on file", affiliateID)
	}
	return nil
}

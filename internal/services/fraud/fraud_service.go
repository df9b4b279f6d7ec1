package fraud

import (
	"fmt"
	"log"
	"time"

	"github.com/aralacademy/backend/internal/ledger"
	"github.com/aralacademy/backend/internal/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// VelocityRule holds the thresholds for the automated velocity check
type VelocityRule struct {
	Window         time.Duration
	MaxConversions int
	// MaxRatio is the conversion-to-click ratio above which an affiliate is
	// flagged, once MinConversions have accumulated in the window.
	MaxRatio       float64
	MinConversions int
}

// DefaultVelocityRule returns the default thresholds; the window and
// conversion cap normally come from config.
func DefaultVelocityRule(window time.Duration, maxConversions int) VelocityRule {
	return VelocityRule{
		Window:         window,
		MaxConversions: maxConversions,
		MaxRatio:       0.5,
		MinConversions: 5,
	}
}

// FraudService raises and resolves fraud flags and applies the resulting
// ledger transitions
type FraudService struct {
	db   *gorm.DB
	hold time.Duration
	rule VelocityRule
}

// NewFraudService creates a new fraud service
func NewFraudService(db *gorm.DB, clearingHold time.Duration, rule VelocityRule) *FraudService {
	return &FraudService{db: db, hold: clearingHold, rule: rule}
}

// RaiseFlag opens a fraud flag against an affiliate, or against one specific
// conversion when conversionID is given. The targeted conversions (all
// non-terminal conversions of the affiliate for an affiliate-wide flag) move
// to flagged with their prior status recorded, and the affiliate becomes
// payout-ineligible until resolution.
func (s *FraudService) RaiseFlag(affiliateID uuid.UUID, conversionID *uuid.UUID, reason string, detail models.JSON) (*models.FraudFlag, error) {
	flag := models.FraudFlag{
		AffiliateID:  affiliateID,
		ConversionID: conversionID,
		Reason:       reason,
		Detail:       detail,
	}

	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&flag).Error; err != nil {
			return fmt.Errorf("error creating fraud flag: %w", err)
		}

		scope := tx.Model(&models.Conversion{}).
			Where("status IN ?", []ledger.Status{ledger.StatusPending, ledger.StatusCleared})
		if conversionID != nil {
			var conversion models.Conversion
			if err := tx.First(&conversion, "id = ?", *conversionID).Error; err != nil {
				return fmt.Errorf("error loading flagged conversion: %w", err)
			}
			if conversion.AffiliateID != affiliateID {
				return fmt.Errorf("conversion %s does not belong to affiliate %s", conversion.ID, affiliateID)
			}
			if err := ledger.Transition(conversion.Status, ledger.StatusFlagged); err != nil {
				return err
			}
			scope = scope.Where("id = ?", *conversionID)
		} else {
			scope = scope.Where("affiliate_id = ?", affiliateID)
		}

		result := scope.Updates(map[string]interface{}{
			"status":        ledger.StatusFlagged,
			"prior_status":  gorm.Expr("status"),
			"fraud_flag_id": flag.ID,
		})
		if result.Error != nil {
			return fmt.Errorf("error flagging conversions: %w", result.Error)
		}

		// Flagged affiliates are payout-ineligible regardless of ledger state.
		if err := tx.Model(&models.Affiliate{}).
			Where("id = ? AND status = ?", affiliateID, models.AffiliateStatusActive).
			Update("status", models.AffiliateStatusFlagged).Error; err != nil {
			return fmt.Errorf("error flagging affiliate: %w", err)
		}

		log.Printf("Raised fraud flag %s (%s) on affiliate %s, %d conversions held", flag.ID, reason, affiliateID, result.RowsAffected)
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &flag, nil
}

// ResolveFlag closes a flag. Resolution is terminal per flag: an upheld flag
// voids the held conversions, an overturned one releases them back to
// cleared (when their hold had elapsed) or pending.
//
// The held set is everything the flag's scope covers, not just what it
// flagged first: flags over the same affiliate can overlap, and a conversion
// under several open flags stays held until every covering flag is resolved
// in its favor. On release, a conversion still covered by another open flag
// is re-linked to that flag instead.
func (s *FraudService) ResolveFlag(flagID uuid.UUID, upheld bool, notes string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		var flag models.FraudFlag
		if err := tx.First(&flag, "id = ?", flagID).Error; err != nil {
			return fmt.Errorf("error loading fraud flag: %w", err)
		}
		if flag.Resolved {
			return ledger.ErrFlagAlreadyResolved
		}

		now := time.Now()
		result := tx.Model(&models.FraudFlag{}).
			Where("id = ? AND resolved = ?", flag.ID, false).
			Updates(map[string]interface{}{
				"resolved":       true,
				"upheld":         upheld,
				"resolver_notes": notes,
				"resolved_at":    &now,
			})
		if result.Error != nil {
			return fmt.Errorf("error resolving fraud flag: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return ledger.ErrFlagAlreadyResolved
		}

		heldQuery := tx.Where("affiliate_id = ? AND status = ?", flag.AffiliateID, ledger.StatusFlagged)
		if flag.ConversionID != nil {
			heldQuery = heldQuery.Where("id = ?", *flag.ConversionID)
		}
		var held []models.Conversion
		if err := heldQuery.Find(&held).Error; err != nil {
			return fmt.Errorf("error loading held conversions: %w", err)
		}

		var openFlags []models.FraudFlag
		if err := tx.Where("affiliate_id = ? AND resolved = ? AND id <> ?", flag.AffiliateID, false, flag.ID).
			Find(&openFlags).Error; err != nil {
			return fmt.Errorf("error loading open flags: %w", err)
		}

		for _, conversion := range held {
			if !upheld {
				if cover := coveringFlag(openFlags, conversion.ID); cover != nil {
					res := tx.Model(&models.Conversion{}).
						Where("id = ? AND status = ?", conversion.ID, ledger.StatusFlagged).
						Update("fraud_flag_id", cover.ID)
					if res.Error != nil {
						return fmt.Errorf("error re-linking conversion %s: %w", conversion.ID, res.Error)
					}
					continue
				}
			}

			target := ledger.StatusVoided
			updates := map[string]interface{}{"fraud_flag_id": nil, "prior_status": ""}
			if upheld {
				updates["void_reason"] = fmt.Sprintf("fraud upheld: %s", flag.Reason)
			} else {
				target = s.releaseTarget(conversion, now)
				if target == ledger.StatusCleared {
					updates["cleared_at"] = &now
				}
			}
			updates["status"] = target

			res := tx.Model(&models.Conversion{}).
				Where("id = ? AND status = ?", conversion.ID, ledger.StatusFlagged).
				Updates(updates)
			if res.Error != nil {
				return fmt.Errorf("error releasing conversion %s: %w", conversion.ID, res.Error)
			}
		}

		if !upheld && len(openFlags) == 0 {
			// No other open flags remain, so the affiliate comes back.
			if err := tx.Model(&models.Affiliate{}).
				Where("id = ? AND status = ?", flag.AffiliateID, models.AffiliateStatusFlagged).
				Update("status", models.AffiliateStatusActive).Error; err != nil {
				return fmt.Errorf("error restoring affiliate status: %w", err)
			}
		}

		log.Printf("Resolved fraud flag %s (upheld=%v), %d conversions held", flag.ID, upheld, len(held))
		return nil
	})
}

// coveringFlag returns an open flag whose scope includes the conversion, or
// nil. An affiliate-wide flag covers every conversion of the affiliate.
func coveringFlag(openFlags []models.FraudFlag, conversionID uuid.UUID) *models.FraudFlag {
	for i := range openFlags {
		if openFlags[i].ConversionID == nil || *openFlags[i].ConversionID == conversionID {
			return &openFlags[i]
		}
	}
	return nil
}

// releaseTarget decides where an overturned flag sends a conversion: back to
// cleared when it was cleared before, or when its hold has meanwhile
// elapsed, otherwise back to pending.
func (s *FraudService) releaseTarget(conversion models.Conversion, now time.Time) ledger.Status {
	if conversion.PriorStatus == ledger.StatusCleared {
		return ledger.StatusCleared
	}
	if now.Sub(conversion.CreatedAt) >= s.hold {
		return ledger.StatusCleared
	}
	return ledger.StatusPending
}

// RunVelocityCheck sweeps active affiliates and raises a velocity flag for
// any whose conversion volume or conversion-to-click ratio breaches the
// rule. At most one open velocity flag exists per affiliate at a time.
func (s *FraudService) RunVelocityCheck(now time.Time) (int, error) {
	cutoff := now.Add(-s.rule.Window)

	var affiliates []models.Affiliate
	if err := s.db.Where("status = ?", models.AffiliateStatusActive).Find(&affiliates).Error; err != nil {
		return 0, fmt.Errorf("error loading affiliates: %w", err)
	}

	flagged := 0
	for _, affiliate := range affiliates {
		var conversions int64
		if err := s.db.Model(&models.Conversion{}).
			Where("affiliate_id = ? AND created_at >= ?", affiliate.ID, cutoff).
			Count(&conversions).Error; err != nil {
			return flagged, fmt.Errorf("error counting conversions: %w", err)
		}

		var clicks int64
		if err := s.db.Model(&models.Click{}).
			Where("affiliate_id = ? AND created_at >= ?", affiliate.ID, cutoff).
			Count(&clicks).Error; err != nil {
			return flagged, fmt.Errorf("error counting clicks: %w", err)
		}

		breach := conversions > int64(s.rule.MaxConversions)
		if !breach && clicks > 0 && conversions >= int64(s.rule.MinConversions) {
			breach = float64(conversions)/float64(clicks) > s.rule.MaxRatio
		}
		if !breach {
			continue
		}

		var existing int64
		if err := s.db.Model(&models.FraudFlag{}).
			Where("affiliate_id = ? AND reason = ? AND resolved = ?", affiliate.ID, models.FlagReasonVelocityAnomaly, false).
			Count(&existing).Error; err != nil {
			return flagged, fmt.Errorf("error checking existing velocity flags: %w", err)
		}
		if existing > 0 {
			continue
		}

		_, err := s.RaiseFlag(affiliate.ID, nil, models.FlagReasonVelocityAnomaly, models.JSON{
			"window_hours": s.rule.Window.Hours(),
			"conversions":  conversions,
			"clicks":       clicks,
		})
		if err != nil {
			return flagged, err
		}
		flagged++
	}

	return flagged, nil
}

package payout

import (
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/aralacademy/backend/internal/ledger"
	"github.com/aralacademy/backend/internal/models"
	"github.com/aralacademy/backend/internal/utils"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// PayoutService aggregates cleared commissions into payout batches and
// drives the payout status lifecycle
type PayoutService struct {
	db        *gorm.DB
	minAmount decimal.Decimal
}

// NewPayoutService creates a new payout service
func NewPayoutService(db *gorm.DB, minAmount decimal.Decimal) *PayoutService {
	return &PayoutService{db: db, minAmount: minAmount}
}

// RunPayout settles all cleared, unpaid commissions of an affiliate. A
// payout never mixes currencies: the eligible set is partitioned by
// currency and one batch is created per currency, in the order the
// commissions accrued.
//
// Payout creation and the cleared->paid transition of every included
// conversion commit as a single transaction: either the payouts exist and
// all of their conversions are paid, or nothing happened. The unique index
// on payout_items.conversion_id backs this up against concurrent runs.
func (s *PayoutService) RunPayout(affiliateID uuid.UUID) ([]*models.Payout, error) {
	var payouts []*models.Payout

	err := s.db.Transaction(func(tx *gorm.DB) error {
		var affiliate models.Affiliate
		if err := tx.First(&affiliate, "id = ?", affiliateID).Error; err != nil {
			return fmt.Errorf("error loading affiliate: %w", err)
		}

		if affiliate.Status != models.AffiliateStatusActive {
			return ledger.ErrNotEligible
		}

		var openFlags int64
		if err := tx.Model(&models.FraudFlag{}).
			Where("affiliate_id = ? AND resolved = ?", affiliate.ID, false).
			Count(&openFlags).Error; err != nil {
			return fmt.Errorf("error counting fraud flags: %w", err)
		}
		if openFlags > 0 {
			return ledger.ErrNotEligible
		}

		if err := ValidatePayoutMethod(&affiliate); err != nil {
			return err
		}

		var conversions []models.Conversion
		err := tx.
			Where("affiliate_id = ? AND status = ?", affiliate.ID, ledger.StatusCleared).
			Where("NOT EXISTS (SELECT 1 FROM payout_items WHERE payout_items.conversion_id = conversions.id)").
			Order("created_at ASC").
			Find(&conversions).Error
		if err != nil {
			return fmt.Errorf("error selecting cleared conversions: %w", err)
		}
		if len(conversions) == 0 {
			return ledger.ErrNoEligibleCommissions
		}

		currencies := make([]models.Currency, 0, 1)
		batches := make(map[models.Currency][]models.Conversion)
		for _, conversion := range conversions {
			if _, seen := batches[conversion.Currency]; !seen {
				currencies = append(currencies, conversion.Currency)
			}
			batches[conversion.Currency] = append(batches[conversion.Currency], conversion)
		}

		for _, currency := range currencies {
			batch := batches[currency]

			total := decimal.Zero
			ids := make([]uuid.UUID, 0, len(batch))
			for _, conversion := range batch {
				total = total.Add(conversion.CommissionAmount)
				ids = append(ids, conversion.ID)
			}

			// The threshold applies per currency batch; a batch under it
			// stays cleared and keeps accruing.
			if total.LessThan(s.minAmount) {
				continue
			}

			p := models.Payout{
				AffiliateID: affiliate.ID,
				Reference:   utils.GenerateReference("PAYOUT"),
				TotalAmount: total,
				Currency:    currency,
				Method:      affiliate.PayoutMethod,
				Status:      models.PayoutStatusPending,
			}
			if err := tx.Create(&p).Error; err != nil {
				return fmt.Errorf("error creating payout: %w", err)
			}

			items := make([]models.PayoutItem, 0, len(batch))
			for _, conversion := range batch {
				items = append(items, models.PayoutItem{
					PayoutID:     p.ID,
					ConversionID: conversion.ID,
					Amount:       conversion.CommissionAmount,
				})
			}
			if err := tx.Create(&items).Error; err != nil {
				// A unique-index violation here means another run already
				// settled one of these conversions.
				return fmt.Errorf("error creating payout items: %w", err)
			}

			result := tx.Model(&models.Conversion{}).
				Where("id IN ? AND status = ?", ids, ledger.StatusCleared).
				Update("status", ledger.StatusPaid)
			if result.Error != nil {
				return fmt.Errorf("error marking conversions paid: %w", result.Error)
			}
			if result.RowsAffected != int64(len(ids)) {
				// A conversion changed state under us; abort the whole run
				// rather than settle a partial or stale set.
				return &ledger.InvalidTransitionError{From: ledger.StatusCleared, To: ledger.StatusPaid}
			}

			p.Items = items
			payouts = append(payouts, &p)
		}

		if len(payouts) == 0 {
			return ledger.ErrBelowMinimumPayout
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, p := range payouts {
		log.Printf("Created payout %s for affiliate %s: %s %s over %d conversions",
			p.Reference, affiliateID, p.TotalAmount.StringFixed(2), p.Currency, len(p.Items))
	}
	return payouts, nil
}

// RetryPayout re-runs a failed payout against its original, fixed conversion
// set. Conversions are never reselected: if the first disbursement partially
// succeeded externally, reselecting would double-count.
func (s *PayoutService) RetryPayout(payoutID uuid.UUID) (*models.Payout, error) {
	var payout models.Payout
	if err := s.db.Preload("Items").First(&payout, "id = ?", payoutID).Error; err != nil {
		return nil, fmt.Errorf("error loading payout: %w", err)
	}

	if payout.Status != models.PayoutStatusFailed {
		return nil, fmt.Errorf("payout %s is %s, only failed payouts can be retried", payout.ID, payout.Status)
	}

	result := s.db.Model(&models.Payout{}).
		Where("id = ? AND status = ?", payout.ID, models.PayoutStatusFailed).
		Updates(map[string]interface{}{"status": models.PayoutStatusPending, "failure_reason": ""})
	if result.Error != nil {
		return nil, fmt.Errorf("error resetting payout: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, fmt.Errorf("payout %s changed state during retry", payout.ID)
	}

	payout.Status = models.PayoutStatusPending
	payout.FailureReason = ""
	return &payout, nil
}

// MarkProcessing claims a pending payout for disbursement
func (s *PayoutService) MarkProcessing(payoutID uuid.UUID) error {
	now := time.Now()
	result := s.db.Model(&models.Payout{}).
		Where("id = ? AND status = ?", payoutID, models.PayoutStatusPending).
		Updates(map[string]interface{}{"status": models.PayoutStatusProcessing, "processed_at": &now})
	if result.Error != nil {
		return fmt.Errorf("error marking payout processing: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("payout %s is not pending", payoutID)
	}
	return nil
}

// SetExternalReference stores the rail's reference on a processing payout
func (s *PayoutService) SetExternalReference(payoutID uuid.UUID, externalRef string) error {
	return s.db.Model(&models.Payout{}).
		Where("id = ?", payoutID).
		Update("external_reference", externalRef).Error
}

// MarkSent records disbursement confirmation from the payment rail
func (s *PayoutService) MarkSent(payoutID uuid.UUID, externalRef string) error {
	now := time.Now()
	updates := map[string]interface{}{"status": models.PayoutStatusSent, "sent_at": &now}
	if externalRef != "" {
		updates["external_reference"] = externalRef
	}

	result := s.db.Model(&models.Payout{}).
		Where("id = ? AND status IN ?", payoutID, []models.PayoutStatus{models.PayoutStatusPending, models.PayoutStatusProcessing}).
		Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("error marking payout sent: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("payout %s is not awaiting confirmation", payoutID)
	}
	return nil
}

// MarkFailed records disbursement failure. The settled conversions stay
// paid: the payout keeps its fixed set and is retried manually, because the
// disbursement may have partially succeeded on the rail side.
func (s *PayoutService) MarkFailed(payoutID uuid.UUID, reason string) error {
	now := time.Now()
	result := s.db.Model(&models.Payout{}).
		Where("id = ? AND status IN ?", payoutID, []models.PayoutStatus{models.PayoutStatusPending, models.PayoutStatusProcessing}).
		Updates(map[string]interface{}{"status": models.PayoutStatusFailed, "failure_reason": reason, "failed_at": &now})
	if result.Error != nil {
		return fmt.Errorf("error marking payout failed: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("payout %s is not awaiting confirmation", payoutID)
	}
	return nil
}

// FindByReference loads a payout by its internal or external reference,
// used by the disbursement webhook.
func (s *PayoutService) FindByReference(reference string) (*models.Payout, error) {
	var payout models.Payout
	err := s.db.
		Where("reference = ? OR external_reference = ?", reference, reference).
		First(&payout).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("error finding payout by reference: %w", err)
	}
	return &payout, nil
}

// ValidatePayoutMethod checks that the affiliate's payout-method details are
// complete enough to disburse against
func ValidatePayoutMethod(affiliate *models.Affiliate) error {
	switch affiliate.PayoutMethod {
	case models.PayoutMethodGcash:
		if affiliate.GcashNumber == "" {
			return &ledger.ValidationError{Field: "gcash_number", Message: "GCash number is required"}
		}
		if !affiliate.GcashVerified {
			return &ledger.ValidationError{Field: "gcash_number", Message: "GCash number is not verified"}
		}
	case models.PayoutMethodBankTransfer:
		if affiliate.BankName == "" || affiliate.BankAccountName == "" || affiliate.BankAccountNumber == "" {
			return &ledger.ValidationError{Field: "bank_account", Message: "bank name, account name and account number are required"}
		}
	default:
		return &ledger.ValidationError{Field: "payout_method", Message: fmt.Sprintf("method %s cannot be disbursed automatically", affiliate.PayoutMethod)}
	}
	return nil
}

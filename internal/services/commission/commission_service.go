package commission

import (
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/aralacademy/backend/internal/ledger"
	"github.com/aralacademy/backend/internal/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// CommissionService records conversions and drives the non-payout ledger
// transitions (clearing and voiding)
type CommissionService struct {
	db   *gorm.DB
	hold time.Duration
}

// NewCommissionService creates a new commission service
func NewCommissionService(db *gorm.DB, clearingHold time.Duration) *CommissionService {
	return &CommissionService{db: db, hold: clearingHold}
}

// ResolveRate reads the affiliate's current tier and returns its commission
// rate at call time. No caching: each conversion captures a fresh snapshot so
// tier changes never alter history.
func (s *CommissionService) ResolveRate(affiliateID uuid.UUID) (decimal.Decimal, error) {
	var affiliate models.Affiliate
	if err := s.db.Preload("Tier").First(&affiliate, "id = ?", affiliateID).Error; err != nil {
		return decimal.Zero, fmt.Errorf("error loading affiliate tier: %w", err)
	}
	return affiliate.Tier.CommissionRate, nil
}

// RecordConversion creates a pending ledger entry for an attributed order.
//
// Idempotent per order id: on redelivery the existing conversion is returned
// together with ledger.ErrDuplicateOrder, which callers treat as success.
// The commission is gmv times the snapshotted rate, rounded half-even to the
// currency's minor unit.
func (s *CommissionService) RecordConversion(orderID string, affiliateID uuid.UUID, gmv decimal.Decimal, currency models.Currency) (*models.Conversion, error) {
	if orderID == "" {
		return nil, errors.New("order id is required")
	}
	if !gmv.IsPositive() {
		return nil, fmt.Errorf("gmv must be positive, got %s", gmv)
	}

	// Fast path for redelivered webhooks.
	if existing, err := s.findByOrderID(orderID); err != nil {
		return nil, err
	} else if existing != nil {
		return existing, ledger.ErrDuplicateOrder
	}

	rate, err := s.ResolveRate(affiliateID)
	if err != nil {
		return nil, err
	}

	conversion := models.Conversion{
		AffiliateID:      affiliateID,
		OrderID:          orderID,
		Currency:         currency,
		GMV:              gmv,
		CommissionRate:   rate,
		CommissionAmount: gmv.Mul(rate).RoundBank(2),
		Status:           ledger.StatusPending,
	}

	return s.createConversion(&conversion)
}

// createConversion inserts the conversion, falling back to the winning row
// when a concurrent delivery took the unique-index race on order_id.
func (s *CommissionService) createConversion(conversion *models.Conversion) (*models.Conversion, error) {
	if err := s.db.Create(conversion).Error; err != nil {
		if existing, findErr := s.findByOrderID(conversion.OrderID); findErr == nil && existing != nil {
			return existing, ledger.ErrDuplicateOrder
		}
		return nil, fmt.Errorf("error creating conversion: %w", err)
	}
	return conversion, nil
}

func (s *CommissionService) findByOrderID(orderID string) (*models.Conversion, error) {
	var conversion models.Conversion
	err := s.db.Where("order_id = ?", orderID).First(&conversion).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("error checking for existing conversion: %w", err)
	}
	return &conversion, nil
}

// ClearConversion moves a single pending conversion to cleared. Guards: the
// clearing hold has elapsed and no unresolved fraud flag exists on the
// conversion or its affiliate. An admin can force past the hold, never past
// an open flag. A conversion that is already cleared is a no-op so
// concurrent admin actions serialize cleanly.
func (s *CommissionService) ClearConversion(conversionID uuid.UUID, force bool) error {
	var conversion models.Conversion
	if err := s.db.First(&conversion, "id = ?", conversionID).Error; err != nil {
		return fmt.Errorf("error loading conversion: %w", err)
	}

	if conversion.Status == ledger.StatusCleared {
		return nil
	}
	if err := ledger.Transition(conversion.Status, ledger.StatusCleared); err != nil {
		return err
	}

	if !force && time.Since(conversion.CreatedAt) < s.hold {
		return fmt.Errorf("clearing hold has not elapsed for conversion %s", conversion.ID)
	}

	open, err := s.openFlagCount(conversion.AffiliateID, conversion.ID)
	if err != nil {
		return err
	}
	if open > 0 {
		return fmt.Errorf("conversion %s has unresolved fraud flags", conversion.ID)
	}

	now := time.Now()
	result := s.db.Model(&models.Conversion{}).
		Where("id = ? AND status = ?", conversion.ID, ledger.StatusPending).
		Updates(map[string]interface{}{"status": ledger.StatusCleared, "cleared_at": &now})
	if result.Error != nil {
		return fmt.Errorf("error clearing conversion: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		// Lost a race; re-read and report what actually happened.
		var current models.Conversion
		if err := s.db.First(&current, "id = ?", conversion.ID).Error; err != nil {
			return fmt.Errorf("error re-reading conversion: %w", err)
		}
		if current.Status == ledger.StatusCleared {
			return nil
		}
		return &ledger.InvalidTransitionError{From: current.Status, To: ledger.StatusCleared}
	}

	return nil
}

// ClearEligible is the clearing sweep: every pending conversion whose hold
// has elapsed and whose affiliate has no unresolved fraud flag moves to
// cleared. Conversion-level flags already forced those rows to flagged, so
// the status filter covers them.
func (s *CommissionService) ClearEligible(now time.Time) (int64, error) {
	cutoff := now.Add(-s.hold)

	result := s.db.Model(&models.Conversion{}).
		Where("status = ?", ledger.StatusPending).
		Where("created_at <= ?", cutoff).
		Where("NOT EXISTS (SELECT 1 FROM fraud_flags WHERE fraud_flags.affiliate_id = conversions.affiliate_id AND fraud_flags.resolved = ?)", false).
		Updates(map[string]interface{}{"status": ledger.StatusCleared, "cleared_at": now})
	if result.Error != nil {
		return 0, fmt.Errorf("error running clearing sweep: %w", result.Error)
	}

	if result.RowsAffected > 0 {
		log.Printf("Clearing sweep moved %d conversions to cleared", result.RowsAffected)
	}
	return result.RowsAffected, nil
}

// VoidConversion voids a pending or cleared conversion, typically after a
// refunded order. A conversion referenced by any payout can no longer be
// voided.
func (s *CommissionService) VoidConversion(conversionID uuid.UUID, reason string) error {
	var conversion models.Conversion
	if err := s.db.First(&conversion, "id = ?", conversionID).Error; err != nil {
		return fmt.Errorf("error loading conversion: %w", err)
	}

	if conversion.Status != ledger.StatusPending && conversion.Status != ledger.StatusCleared {
		return &ledger.InvalidTransitionError{From: conversion.Status, To: ledger.StatusVoided}
	}

	var paidRefs int64
	if err := s.db.Model(&models.PayoutItem{}).
		Where("conversion_id = ?", conversion.ID).
		Count(&paidRefs).Error; err != nil {
		return fmt.Errorf("error checking payout references: %w", err)
	}
	if paidRefs > 0 {
		return fmt.Errorf("conversion %s is referenced by a payout and cannot be voided", conversion.ID)
	}

	result := s.db.Model(&models.Conversion{}).
		Where("id = ? AND status = ?", conversion.ID, conversion.Status).
		Updates(map[string]interface{}{"status": ledger.StatusVoided, "void_reason": reason})
	if result.Error != nil {
		return fmt.Errorf("error voiding conversion: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		var current models.Conversion
		if err := s.db.First(&current, "id = ?", conversion.ID).Error; err != nil {
			return fmt.Errorf("error re-reading conversion: %w", err)
		}
		if current.Status == ledger.StatusVoided {
			return nil
		}
		return &ledger.InvalidTransitionError{From: current.Status, To: ledger.StatusVoided}
	}

	return nil
}

func (s *CommissionService) openFlagCount(affiliateID, conversionID uuid.UUID) (int64, error) {
	var count int64
	err := s.db.Model(&models.FraudFlag{}).
		Where("resolved = ?", false).
		Where("affiliate_id = ? OR conversion_id = ?", affiliateID, conversionID).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("error counting fraud flags: %w", err)
	}
	return count, nil
}

package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// AffiliateStatus represents the lifecycle state of an affiliate account
type AffiliateStatus string

const (
	AffiliateStatusPending  AffiliateStatus = "pending"
	AffiliateStatusActive   AffiliateStatus = "active"
	AffiliateStatusInactive AffiliateStatus = "inactive"
	AffiliateStatusFlagged  AffiliateStatus = "flagged"
)

// PayoutMethod represents how an affiliate receives payouts
type PayoutMethod string

const (
	PayoutMethodGcash        PayoutMethod = "gcash"
	PayoutMethodBankTransfer PayoutMethod = "bank_transfer"
	PayoutMethodOther        PayoutMethod = "other"
)

// MembershipTier defines a commission rate band. Changing an affiliate's
// tier affects future conversions only; the rate is snapshotted onto each
// conversion at creation.
type MembershipTier struct {
	ID             uuid.UUID       `gorm:"type:uuid;primary_key" json:"id"`
	Name           string          `gorm:"type:varchar(50);uniqueIndex;not null" json:"name"`
	CommissionRate decimal.Decimal `gorm:"type:decimal(5,4);not null" json:"commission_rate"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// BeforeCreate sets the tier ID
func (t *MembershipTier) BeforeCreate(tx *gorm.DB) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	return nil
}

// Affiliate represents a referral partner. Affiliates are never physically
// deleted; historical commissions must remain attributable.
type Affiliate struct {
	Base
	UserID uuid.UUID       `gorm:"type:uuid;index;not null" json:"user_id"`
	Name   string          `gorm:"type:varchar(100);not null" json:"name"`
	Slug   string          `gorm:"type:varchar(100);uniqueIndex;not null" json:"slug"`
	Status AffiliateStatus `gorm:"type:varchar(20);not null;default:'pending'" json:"status"`
	TierID uuid.UUID       `gorm:"type:uuid;not null" json:"tier_id"`
	Tier   MembershipTier  `gorm:"foreignKey:TierID" json:"-"`

	PayoutMethod      PayoutMethod `gorm:"type:varchar(20);not null;default:'gcash'" json:"payout_method"`
	GcashNumber       string       `gorm:"type:varchar(20)" json:"gcash_number,omitempty"`
	GcashVerified     bool         `gorm:"default:false" json:"gcash_verified"`
	BankName          string       `gorm:"type:varchar(100)" json:"bank_name,omitempty"`
	BankAccountName   string       `gorm:"type:varchar(100)" json:"bank_account_name,omitempty"`
	BankAccountNumber string       `gorm:"type:varchar(50)" json:"bank_account_number,omitempty"`
}

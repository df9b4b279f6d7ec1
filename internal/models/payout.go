package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// PayoutStatus represents the disbursement state of a payout batch
type PayoutStatus string

const (
	PayoutStatusPending    PayoutStatus = "pending"
	PayoutStatusProcessing PayoutStatus = "processing"
	PayoutStatusSent       PayoutStatus = "sent"
	PayoutStatusFailed     PayoutStatus = "failed"
)

// Payout is the atomic unit settling a set of cleared commissions into one
// payment. The set of settled conversions is fixed at creation; a failed
// payout is re-run against the same set, never reselected.
type Payout struct {
	Base
	AffiliateID uuid.UUID       `gorm:"type:uuid;index;not null" json:"affiliate_id"`
	Affiliate   Affiliate       `gorm:"foreignKey:AffiliateID" json:"-"`
	Reference   string          `gorm:"type:varchar(100);uniqueIndex;not null" json:"reference"`
	TotalAmount decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"total_amount"`
	Currency    Currency        `gorm:"type:varchar(3);not null" json:"currency"`
	Method      PayoutMethod    `gorm:"type:varchar(20);not null" json:"method"`
	Status      PayoutStatus    `gorm:"type:varchar(20);not null;default:'pending';index" json:"status"`

	ExternalReference string     `gorm:"type:varchar(100)" json:"external_reference,omitempty"`
	FailureReason     string     `gorm:"type:text" json:"failure_reason,omitempty"`
	ProcessedAt       *time.Time `json:"processed_at,omitempty"`
	SentAt            *time.Time `json:"sent_at,omitempty"`
	FailedAt          *time.Time `json:"failed_at,omitempty"`

	Items []PayoutItem `gorm:"foreignKey:PayoutID" json:"items,omitempty"`
}

// PayoutItem links a payout to one settled conversion. The unique index on
// ConversionID is the database-level guarantee that no commission is ever
// paid twice, across all payouts.
type PayoutItem struct {
	ID           uuid.UUID       `gorm:"type:uuid;primary_key" json:"id"`
	PayoutID     uuid.UUID       `gorm:"type:uuid;index;not null" json:"payout_id"`
	ConversionID uuid.UUID       `gorm:"type:uuid;uniqueIndex;not null" json:"conversion_id"`
	Amount       decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"amount"`
	CreatedAt    time.Time       `json:"created_at"`
}

// BeforeCreate sets the payout item ID
func (i *PayoutItem) BeforeCreate(tx *gorm.DB) error {
	if i.ID == uuid.Nil {
		i.ID = uuid.New()
	}
	return nil
}

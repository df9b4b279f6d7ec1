package models

import (
	"time"

	"github.com/aralacademy/backend/internal/ledger"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Conversion is one order attributed to one affiliate: a commission-ledger
// entry. The unique index on OrderID enforces at most one conversion per
// order, which makes recording idempotent under webhook redelivery.
//
// CommissionRate is captured at creation and never recomputed, so later
// tier changes cannot retroactively alter historical commissions.
type Conversion struct {
	Base
	AffiliateID uuid.UUID `gorm:"type:uuid;index;not null" json:"affiliate_id"`
	Affiliate   Affiliate `gorm:"foreignKey:AffiliateID" json:"-"`
	OrderID     string    `gorm:"type:varchar(100);uniqueIndex;not null" json:"order_id"`
	Currency    Currency  `gorm:"type:varchar(3);not null" json:"currency"`

	GMV              decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"gmv"`
	CommissionRate   decimal.Decimal `gorm:"type:decimal(5,4);not null" json:"commission_rate"`
	CommissionAmount decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"commission_amount"`

	Status ledger.Status `gorm:"type:varchar(20);not null;default:'pending';index" json:"status"`

	// PriorStatus holds the state to restore when a fraud flag on this
	// conversion is resolved and not upheld.
	PriorStatus ledger.Status `gorm:"type:varchar(20)" json:"-"`

	ClearedAt   *time.Time `json:"cleared_at,omitempty"`
	VoidReason  string     `gorm:"type:text" json:"void_reason,omitempty"`
	FraudFlagID *uuid.UUID `gorm:"type:uuid" json:"fraud_flag_id,omitempty"`
}

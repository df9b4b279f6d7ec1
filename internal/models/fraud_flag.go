package models

import (
	"time"

	"github.com/google/uuid"
)

// Fraud flag reasons raised by automated rules or admin action
const (
	FlagReasonVelocityAnomaly = "velocity_anomaly"
	FlagReasonManualReview    = "manual_review"
	FlagReasonChargeback      = "chargeback"
	FlagReasonSelfReferral    = "self_referral"
)

// FraudFlag represents a fraud review raised against an affiliate or a
// specific conversion. Resolution is terminal per flag instance; a new
// violation creates a new flag rather than reopening an old one.
type FraudFlag struct {
	Base
	AffiliateID  uuid.UUID  `gorm:"type:uuid;index;not null" json:"affiliate_id"`
	Affiliate    Affiliate  `gorm:"foreignKey:AffiliateID" json:"-"`
	ConversionID *uuid.UUID `gorm:"type:uuid;index" json:"conversion_id,omitempty"`
	Reason       string     `gorm:"type:varchar(100);not null" json:"reason"`
	Detail       JSON       `gorm:"type:jsonb" json:"detail,omitempty"`

	Resolved      bool       `gorm:"default:false;index" json:"resolved"`
	Upheld        bool       `gorm:"default:false" json:"upheld"`
	ResolverNotes string     `gorm:"type:text" json:"resolver_notes,omitempty"`
	ResolvedAt    *time.Time `json:"resolved_at,omitempty"`
}

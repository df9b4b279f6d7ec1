package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Click represents one referral visit. Rows are append-only: there is no
// update or delete path, and no soft-delete column on purpose.
type Click struct {
	ID          uuid.UUID `gorm:"type:uuid;primary_key" json:"id"`
	AffiliateID uuid.UUID `gorm:"type:uuid;index;not null" json:"affiliate_id"`
	Affiliate   Affiliate `gorm:"foreignKey:AffiliateID" json:"-"`
	VisitorID   string    `gorm:"type:varchar(100);index;not null" json:"visitor_id"`
	Source      string    `gorm:"type:varchar(100)" json:"source"`
	LandingPage string    `gorm:"type:varchar(500)" json:"landing_page"`
	CreatedAt   time.Time `gorm:"index" json:"created_at"`
}

// BeforeCreate sets the click ID
func (c *Click) BeforeCreate(tx *gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return nil
}

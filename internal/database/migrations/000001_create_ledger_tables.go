package migrations

import (
	"github.com/aralacademy/backend/internal/models"
	"github.com/aralacademy/backend/internal/queue"
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// createLedgerTables creates the affiliate ledger tables
var createLedgerTables = &gormigrate.Migration{
	ID: "000001_create_ledger_tables",
	Migrate: func(tx *gorm.DB) error {
		return tx.AutoMigrate(
			&models.MembershipTier{},
			&models.Affiliate{},
			&models.Click{},
			&models.Conversion{},
			&models.FraudFlag{},
			&models.Payout{},
			&models.PayoutItem{},
			&queue.Job{},
		)
	},
	Rollback: func(tx *gorm.DB) error {
		return tx.Migrator().DropTable(
			&queue.Job{},
			&models.PayoutItem{},
			&models.Payout{},
			&models.FraudFlag{},
			&models.Conversion{},
			&models.Click{},
			&models.Affiliate{},
			&models.MembershipTier{},
		)
	},
}

// seedMembershipTiers seeds the default commission tiers
var seedMembershipTiers = &gormigrate.Migration{
	ID: "000002_seed_membership_tiers",
	Migrate: func(tx *gorm.DB) error {
		tiers := []models.MembershipTier{
			{Name: "Starter", CommissionRate: decimal.RequireFromString("0.10")},
			{Name: "Pro", CommissionRate: decimal.RequireFromString("0.20")},
			{Name: "Elite", CommissionRate: decimal.RequireFromString("0.30")},
		}
		for _, tier := range tiers {
			if err := tx.Where("name = ?", tier.Name).FirstOrCreate(&tier).Error; err != nil {
				return err
			}
		}
		return nil
	},
	Rollback: func(tx *gorm.DB) error {
		return tx.Where("name IN ?", []string{"Starter", "Pro", "Elite"}).
			Delete(&models.MembershipTier{}).Error
	},
}

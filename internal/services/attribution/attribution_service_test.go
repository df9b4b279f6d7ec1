package attribution

import (
	"testing"
	"time"

	"github.com/aralacademy/backend/internal/models"
	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

const testWindow = 30 * 24 * time.Hour

// setupTestDB creates an in-memory database with the ledger schema
func setupTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	err = db.AutoMigrate(
		&models.MembershipTier{},
		&models.Affiliate{},
		&models.Click{},
		&models.Conversion{},
		&models.FraudFlag{},
	)
	require.NoError(t, err)
	return db
}

func seedAffiliate(t *testing.T, db *gorm.DB, slug string) *models.Affiliate {
	tier := models.MembershipTier{
		Name:           "Pro " + uuid.NewString()[:8],
		CommissionRate: decimal.RequireFromString("0.20"),
	}
	require.NoError(t, db.Create(&tier).Error)

	affiliate := models.Affiliate{
		UserID: uuid.New(),
		Name:   "Test Affiliate",
		Slug:   slug,
		Status: models.AffiliateStatusActive,
		TierID: tier.ID,
	}
	require.NoError(t, db.Create(&affiliate).Error)
	return &affiliate
}

func TestRecordClick(t *testing.T) {
	db := setupTestDB(t)
	svc := NewAttributionService(db, testWindow)
	affiliate := seedAffiliate(t, db, "maria-santos")

	click, err := svc.RecordClick("maria-santos", "visitor-1", "facebook", "/courses/go-101")
	require.NoError(t, err)
	require.NotNil(t, click)
	assert.Equal(t, affiliate.ID, click.AffiliateID)
	assert.Equal(t, "visitor-1", click.VisitorID)
}

func TestRecordClickUnknownSlug(t *testing.T) {
	db := setupTestDB(t)
	svc := NewAttributionService(db, testWindow)

	// An unknown slug is dropped silently; tracking must never fail the page.
	click, err := svc.RecordClick("no-such-affiliate", "visitor-1", "facebook", "/")
	require.NoError(t, err)
	assert.Nil(t, click)

	var count int64
	require.NoError(t, db.Model(&models.Click{}).Count(&count).Error)
	assert.Equal(t, int64(0), count)
}

func TestResolveReferrerLastClickWins(t *testing.T) {
	db := setupTestDB(t)
	svc := NewAttributionService(db, testWindow)
	first := seedAffiliate(t, db, "first-affiliate")
	second := seedAffiliate(t, db, "second-affiliate")

	earlier := models.Click{AffiliateID: first.ID, VisitorID: "visitor-1"}
	require.NoError(t, db.Create(&earlier).Error)
	require.NoError(t, db.Model(&models.Click{}).Where("id = ?", earlier.ID).
		Update("created_at", time.Now().Add(-48*time.Hour)).Error)

	later := models.Click{AffiliateID: second.ID, VisitorID: "visitor-1"}
	require.NoError(t, db.Create(&later).Error)

	resolved, err := svc.ResolveReferrer("visitor-1")
	require.NoError(t, err)
	require.NotNil(t, resolved)
	assert.Equal(t, second.ID, *resolved)
}

func TestResolveReferrerOutsideWindow(t *testing.T) {
	db := setupTestDB(t)
	svc := NewAttributionService(db, testWindow)
	affiliate := seedAffiliate(t, db, "maria-santos")

	click := models.Click{AffiliateID: affiliate.ID, VisitorID: "visitor-1"}
	require.NoError(t, db.Create(&click).Error)
	require.NoError(t, db.Model(&models.Click{}).Where("id = ?", click.ID).
		Update("created_at", time.Now().Add(-31*24*time.Hour)).Error)

	resolved, err := svc.ResolveReferrer("visitor-1")
	require.NoError(t, err)
	assert.Nil(t, resolved)
}

func TestResolveReferrerUnknownVisitor(t *testing.T) {
	db := setupTestDB(t)
	svc := NewAttributionService(db, testWindow)

	resolved, err := svc.ResolveReferrer("never-seen")
	require.NoError(t, err)
	assert.Nil(t, resolved)
}

func TestResolveReferrerInactiveAffiliate(t *testing.T) {
	db := setupTestDB(t)
	svc := NewAttributionService(db, testWindow)
	affiliate := seedAffiliate(t, db, "maria-santos")

	require.NoError(t, db.Create(&models.Click{AffiliateID: affiliate.ID, VisitorID: "visitor-1"}).Error)
	require.NoError(t, db.Model(&models.Affiliate{}).Where("id = ?", affiliate.ID).
		Update("status", models.AffiliateStatusInactive).Error)

	resolved, err := svc.ResolveReferrer("visitor-1")
	require.NoError(t, err)
	assert.Nil(t, resolved)
}

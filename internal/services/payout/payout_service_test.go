package payout

import (
	"errors"
	"testing"
	"time"

	"github.com/aralacademy/backend/internal/ledger"
	"github.com/aralacademy/backend/internal/models"
	"github.com/aralacademy/backend/internal/services/fraud"
	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

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
		&models.Payout{},
		&models.PayoutItem{},
	)
	require.NoError(t, err)
	return db
}

func seedAffiliate(t *testing.T, db *gorm.DB) *models.Affiliate {
	tier := models.MembershipTier{
		Name:           "Pro " + uuid.NewString()[:8],
		CommissionRate: decimal.RequireFromString("0.20"),
	}
	require.NoError(t, db.Create(&tier).Error)

	affiliate := models.Affiliate{
		UserID:        uuid.New(),
		Name:          "Test Affiliate",
		Slug:          "test-affiliate-" + uuid.NewString()[:8],
		Status:        models.AffiliateStatusActive,
		TierID:        tier.ID,
		PayoutMethod:  models.PayoutMethodGcash,
		GcashNumber:   "09171234567",
		GcashVerified: true,
	}
	require.NoError(t, db.Create(&affiliate).Error)
	return &affiliate
}

func seedConversion(t *testing.T, db *gorm.DB, affiliateID uuid.UUID, orderID string, amount string, status ledger.Status) *models.Conversion {
	t.Helper()
	return seedConversionIn(t, db, affiliateID, orderID, amount, models.CurrencyPHP, status)
}

func seedConversionIn(t *testing.T, db *gorm.DB, affiliateID uuid.UUID, orderID string, amount string, currency models.Currency, status ledger.Status) *models.Conversion {
	t.Helper()
	commission := decimal.RequireFromString(amount)
	conversion := models.Conversion{
		AffiliateID:      affiliateID,
		OrderID:          orderID,
		Currency:         currency,
		GMV:              commission.Div(decimal.RequireFromString("0.20")).RoundBank(2),
		CommissionRate:   decimal.RequireFromString("0.20"),
		CommissionAmount: commission,
		Status:           status,
	}
	require.NoError(t, db.Create(&conversion).Error)
	return &conversion
}

func TestRunPayout(t *testing.T) {
	db := setupTestDB(t)
	svc := NewPayoutService(db, decimal.Zero)
	affiliate := seedAffiliate(t, db)

	c1 := seedConversion(t, db, affiliate.ID, "ORD-1", "200.00", ledger.StatusCleared)
	c2 := seedConversion(t, db, affiliate.ID, "ORD-2", "150.50", ledger.StatusCleared)
	pending := seedConversion(t, db, affiliate.ID, "ORD-3", "80.00", ledger.StatusPending)

	payouts, err := svc.RunPayout(affiliate.ID)
	require.NoError(t, err)
	require.Len(t, payouts, 1)
	payout := payouts[0]

	assert.Equal(t, "350.50", payout.TotalAmount.StringFixed(2))
	assert.Equal(t, models.PayoutStatusPending, payout.Status)
	assert.Equal(t, models.PayoutMethodGcash, payout.Method)
	assert.Len(t, payout.Items, 2)
	assert.NotEmpty(t, payout.Reference)

	assertStatus(t, db, c1.ID, ledger.StatusPaid)
	assertStatus(t, db, c2.ID, ledger.StatusPaid)
	assertStatus(t, db, pending.ID, ledger.StatusPending)
}

func TestRunPayoutNoDoublePay(t *testing.T) {
	db := setupTestDB(t)
	svc := NewPayoutService(db, decimal.Zero)
	affiliate := seedAffiliate(t, db)

	seedConversion(t, db, affiliate.ID, "ORD-1", "200.00", ledger.StatusCleared)

	_, err := svc.RunPayout(affiliate.ID)
	require.NoError(t, err)

	// Everything cleared is now settled; a second run finds nothing.
	_, err = svc.RunPayout(affiliate.ID)
	assert.ErrorIs(t, err, ledger.ErrNoEligibleCommissions)

	var items int64
	require.NoError(t, db.Model(&models.PayoutItem{}).Count(&items).Error)
	assert.Equal(t, int64(1), items)
}

func TestRunPayoutIneligibleAffiliate(t *testing.T) {
	db := setupTestDB(t)
	svc := NewPayoutService(db, decimal.Zero)

	for _, status := range []models.AffiliateStatus{
		models.AffiliateStatusPending,
		models.AffiliateStatusInactive,
		models.AffiliateStatusFlagged,
	} {
		affiliate := seedAffiliate(t, db)
		require.NoError(t, db.Model(&models.Affiliate{}).Where("id = ?", affiliate.ID).Update("status", status).Error)
		seedConversion(t, db, affiliate.ID, "ORD-"+string(status), "200.00", ledger.StatusCleared)

		_, err := svc.RunPayout(affiliate.ID)
		assert.ErrorIs(t, err, ledger.ErrNotEligible, "status %s", status)
	}
}

func TestRunPayoutBlockedByOpenFlag(t *testing.T) {
	db := setupTestDB(t)
	svc := NewPayoutService(db, decimal.Zero)
	affiliate := seedAffiliate(t, db)

	seedConversion(t, db, affiliate.ID, "ORD-1", "200.00", ledger.StatusCleared)
	require.NoError(t, db.Create(&models.FraudFlag{AffiliateID: affiliate.ID, Reason: models.FlagReasonManualReview}).Error)

	_, err := svc.RunPayout(affiliate.ID)
	assert.ErrorIs(t, err, ledger.ErrNotEligible)
}

func TestRunPayoutBelowMinimum(t *testing.T) {
	db := setupTestDB(t)
	svc := NewPayoutService(db, decimal.NewFromInt(500))
	affiliate := seedAffiliate(t, db)

	seedConversion(t, db, affiliate.ID, "ORD-1", "200.00", ledger.StatusCleared)

	_, err := svc.RunPayout(affiliate.ID)
	require.ErrorIs(t, err, ledger.ErrBelowMinimumPayout)

	// Nothing was settled; the commissions stay cleared and accrue.
	var settled int64
	require.NoError(t, db.Model(&models.PayoutItem{}).Count(&settled).Error)
	assert.Equal(t, int64(0), settled)

	seedConversion(t, db, affiliate.ID, "ORD-2", "350.00", ledger.StatusCleared)
	payouts, err := svc.RunPayout(affiliate.ID)
	require.NoError(t, err)
	require.Len(t, payouts, 1)
	assert.Equal(t, "550.00", payouts[0].TotalAmount.StringFixed(2))
}

func TestRunPayoutPartitionsByCurrency(t *testing.T) {
	db := setupTestDB(t)
	svc := NewPayoutService(db, decimal.Zero)
	affiliate := seedAffiliate(t, db)

	php := seedConversionIn(t, db, affiliate.ID, "ORD-1", "200.00", models.CurrencyPHP, ledger.StatusCleared)
	usd := seedConversionIn(t, db, affiliate.ID, "ORD-2", "150.00", models.CurrencyUSD, ledger.StatusCleared)

	payouts, err := svc.RunPayout(affiliate.ID)
	require.NoError(t, err)
	require.Len(t, payouts, 2)

	byCurrency := map[models.Currency]*models.Payout{}
	for _, p := range payouts {
		byCurrency[p.Currency] = p
	}
	require.Contains(t, byCurrency, models.CurrencyPHP)
	require.Contains(t, byCurrency, models.CurrencyUSD)
	assert.Equal(t, "200.00", byCurrency[models.CurrencyPHP].TotalAmount.StringFixed(2))
	assert.Equal(t, "150.00", byCurrency[models.CurrencyUSD].TotalAmount.StringFixed(2))
	assert.Len(t, byCurrency[models.CurrencyPHP].Items, 1)
	assert.Len(t, byCurrency[models.CurrencyUSD].Items, 1)

	assertStatus(t, db, php.ID, ledger.StatusPaid)
	assertStatus(t, db, usd.ID, ledger.StatusPaid)
}

func TestRunPayoutMinimumPerCurrency(t *testing.T) {
	db := setupTestDB(t)
	svc := NewPayoutService(db, decimal.NewFromInt(100))
	affiliate := seedAffiliate(t, db)

	php := seedConversionIn(t, db, affiliate.ID, "ORD-1", "200.00", models.CurrencyPHP, ledger.StatusCleared)
	usd := seedConversionIn(t, db, affiliate.ID, "ORD-2", "40.00", models.CurrencyUSD, ledger.StatusCleared)

	payouts, err := svc.RunPayout(affiliate.ID)
	require.NoError(t, err)
	require.Len(t, payouts, 1)
	assert.Equal(t, models.CurrencyPHP, payouts[0].Currency)

	// The USD batch stayed under the threshold and keeps accruing.
	assertStatus(t, db, php.ID, ledger.StatusPaid)
	assertStatus(t, db, usd.ID, ledger.StatusCleared)
}

func TestRunPayoutUnverifiedGcash(t *testing.T) {
	db := setupTestDB(t)
	svc := NewPayoutService(db, decimal.Zero)
	affiliate := seedAffiliate(t, db)
	require.NoError(t, db.Model(&models.Affiliate{}).Where("id = ?", affiliate.ID).Update("gcash_verified", false).Error)

	seedConversion(t, db, affiliate.ID, "ORD-1", "200.00", ledger.StatusCleared)

	_, err := svc.RunPayout(affiliate.ID)
	require.Error(t, err)

	var validation *ledger.ValidationError
	assert.True(t, errors.As(err, &validation))
}

func TestRetryPayout(t *testing.T) {
	db := setupTestDB(t)
	svc := NewPayoutService(db, decimal.Zero)
	affiliate := seedAffiliate(t, db)

	seedConversion(t, db, affiliate.ID, "ORD-1", "200.00", ledger.StatusCleared)

	payouts, err := svc.RunPayout(affiliate.ID)
	require.NoError(t, err)
	require.Len(t, payouts, 1)
	payout := payouts[0]

	// Only failed payouts can be retried.
	_, err = svc.RetryPayout(payout.ID)
	assert.Error(t, err)

	require.NoError(t, svc.MarkProcessing(payout.ID))
	require.NoError(t, svc.MarkFailed(payout.ID, "rail unreachable"))

	retried, err := svc.RetryPayout(payout.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PayoutStatusPending, retried.Status)
	assert.Empty(t, retried.FailureReason)

	// The conversion set is fixed: retrying never reselects.
	seedConversion(t, db, affiliate.ID, "ORD-2", "300.00", ledger.StatusCleared)
	reloaded, err := svc.RetryPayout(payout.ID)
	assert.Error(t, err)
	assert.Nil(t, reloaded)
	assert.Len(t, retried.Items, 1)
}

func TestFlaggedConversionExcludedThenReeligible(t *testing.T) {
	db := setupTestDB(t)
	svc := NewPayoutService(db, decimal.Zero)
	fraudSvc := fraud.NewFraudService(db, 7*24*time.Hour, fraud.DefaultVelocityRule(24*time.Hour, 10))
	affiliate := seedAffiliate(t, db)

	clean := seedConversion(t, db, affiliate.ID, "ORD-1", "200.00", ledger.StatusCleared)
	suspect := seedConversion(t, db, affiliate.ID, "ORD-2", "300.00", ledger.StatusCleared)

	flag, err := fraudSvc.RaiseFlag(affiliate.ID, &suspect.ID, models.FlagReasonVelocityAnomaly, nil)
	require.NoError(t, err)

	// The affiliate itself became flagged, so no payout runs at all.
	_, err = svc.RunPayout(affiliate.ID)
	require.ErrorIs(t, err, ledger.ErrNotEligible)

	require.NoError(t, fraudSvc.ResolveFlag(flag.ID, false, "traffic checks out"))

	payouts, err := svc.RunPayout(affiliate.ID)
	require.NoError(t, err)
	require.Len(t, payouts, 1)
	assert.Equal(t, "500.00", payouts[0].TotalAmount.StringFixed(2))
	assertStatus(t, db, clean.ID, ledger.StatusPaid)
	assertStatus(t, db, suspect.ID, ledger.StatusPaid)
}

func TestPayoutStatusLifecycle(t *testing.T) {
	db := setupTestDB(t)
	svc := NewPayoutService(db, decimal.Zero)
	affiliate := seedAffiliate(t, db)

	seedConversion(t, db, affiliate.ID, "ORD-1", "200.00", ledger.StatusCleared)
	payouts, err := svc.RunPayout(affiliate.ID)
	require.NoError(t, err)
	require.Len(t, payouts, 1)
	payout := payouts[0]

	require.NoError(t, svc.MarkProcessing(payout.ID))
	assert.Error(t, svc.MarkProcessing(payout.ID))

	require.NoError(t, svc.MarkSent(payout.ID, "GC-REF-1"))

	var reloaded models.Payout
	require.NoError(t, db.First(&reloaded, "id = ?", payout.ID).Error)
	assert.Equal(t, models.PayoutStatusSent, reloaded.Status)
	assert.Equal(t, "GC-REF-1", reloaded.ExternalReference)
	require.NotNil(t, reloaded.SentAt)

	// Sent is final; a late failure callback is rejected.
	assert.Error(t, svc.MarkFailed(payout.ID, "late callback"))
}

func TestFindByReference(t *testing.T) {
	db := setupTestDB(t)
	svc := NewPayoutService(db, decimal.Zero)
	affiliate := seedAffiliate(t, db)

	seedConversion(t, db, affiliate.ID, "ORD-1", "200.00", ledger.StatusCleared)
	payouts, err := svc.RunPayout(affiliate.ID)
	require.NoError(t, err)
	require.Len(t, payouts, 1)
	payout := payouts[0]

	require.NoError(t, svc.MarkProcessing(payout.ID))
	require.NoError(t, svc.SetExternalReference(payout.ID, "GC-EXT-9"))

	byInternal, err := svc.FindByReference(payout.Reference)
	require.NoError(t, err)
	require.NotNil(t, byInternal)
	assert.Equal(t, payout.ID, byInternal.ID)

	byExternal, err := svc.FindByReference("GC-EXT-9")
	require.NoError(t, err)
	require.NotNil(t, byExternal)
	assert.Equal(t, payout.ID, byExternal.ID)

	missing, err := svc.FindByReference("UNKNOWN")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestValidatePayoutMethod(t *testing.T) {
	valid := &models.Affiliate{
		PayoutMethod:  models.PayoutMethodGcash,
		GcashNumber:   "09171234567",
		GcashVerified: true,
	}
	assert.NoError(t, ValidatePayoutMethod(valid))

	missingNumber := &models.Affiliate{PayoutMethod: models.PayoutMethodGcash}
	assert.Error(t, ValidatePayoutMethod(missingNumber))

	bank := &models.Affiliate{
		PayoutMethod:      models.PayoutMethodBankTransfer,
		BankName:          "BPI",
		BankAccountName:   "Juan Dela Cruz",
		BankAccountNumber: "1234567890",
	}
	assert.NoError(t, ValidatePayoutMethod(bank))

	partialBank := &models.Affiliate{PayoutMethod: models.PayoutMethodBankTransfer, BankName: "BPI"}
	assert.Error(t, ValidatePayoutMethod(partialBank))

	other := &models.Affiliate{PayoutMethod: models.PayoutMethodOther}
	assert.Error(t, ValidatePayoutMethod(other))
}

func assertStatus(t *testing.T, db *gorm.DB, conversionID uuid.UUID, want ledger.Status) {
	t.Helper()
	var conversion models.Conversion
	require.NoError(t, db.First(&conversion, "id = ?", conversionID).Error)
	assert.Equal(t, want, conversion.Status)
}

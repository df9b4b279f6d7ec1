package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/aralacademy/backend/internal/config"
	"github.com/aralacademy/backend/internal/ledger"
	"github.com/aralacademy/backend/internal/models"
	"github.com/aralacademy/backend/internal/services/attribution"
	"github.com/aralacademy/backend/internal/services/commission"
	"github.com/aralacademy/backend/internal/services/payout"
	"github.com/aralacademy/backend/internal/utils"
	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

const testSecret = "test-webhook-secret"

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

func setupWebhookRouter(t *testing.T, db *gorm.DB) *gin.Engine {
	gin.SetMode(gin.TestMode)

	attributionSvc := attribution.NewAttributionService(db, 30*24*time.Hour)
	commissionSvc := commission.NewCommissionService(db, 7*24*time.Hour)
	payoutSvc := payout.NewPayoutService(db, decimal.Zero)

	handler := NewWebhookHandler(attributionSvc, commissionSvc, payoutSvc, config.WebhookConfig{
		OrderSecret:        testSecret,
		DisbursementSecret: testSecret,
	})

	router := gin.New()
	router.POST("/api/webhooks/orders", handler.OrderCompleted)
	router.POST("/api/webhooks/disbursements", handler.DisbursementCallback)
	return router
}

func seedActiveAffiliate(t *testing.T, db *gorm.DB) *models.Affiliate {
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

func signedRequest(t *testing.T, method, url string, payload interface{}) *http.Request {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)

	req := httptest.NewRequest(method, url, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-Signature", utils.SignWebhookPayload(body, testSecret))
	return req
}

func TestOrderCompletedRejectsBadSignature(t *testing.T) {
	db := setupTestDB(t)
	router := setupWebhookRouter(t, db)

	body := []byte(`{"order_id":"ORD-1","gmv":"1000"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/webhooks/orders", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-Signature", "not-a-valid-signature")

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)

	var count int64
	require.NoError(t, db.Model(&models.Conversion{}).Count(&count).Error)
	assert.Equal(t, int64(0), count)
}

func TestOrderCompletedRecordsConversion(t *testing.T) {
	db := setupTestDB(t)
	router := setupWebhookRouter(t, db)
	affiliate := seedActiveAffiliate(t, db)

	req := signedRequest(t, http.MethodPost, "/api/webhooks/orders", gin.H{
		"order_id":     "ORD-1",
		"affiliate_id": affiliate.ID,
		"gmv":          "1000",
		"currency":     "PHP",
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusCreated, w.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "recorded", resp["status"])

	var conversion models.Conversion
	require.NoError(t, db.First(&conversion, "order_id = ?", "ORD-1").Error)
	assert.Equal(t, affiliate.ID, conversion.AffiliateID)
	assert.Equal(t, ledger.StatusPending, conversion.Status)
	assert.Equal(t, "200.00", conversion.CommissionAmount.StringFixed(2))
}

func TestOrderCompletedRedelivery(t *testing.T) {
	db := setupTestDB(t)
	router := setupWebhookRouter(t, db)
	affiliate := seedActiveAffiliate(t, db)

	payload := gin.H{
		"order_id":     "ORD-1",
		"affiliate_id": affiliate.ID,
		"gmv":          "1000",
	}

	w := httptest.NewRecorder()
	router.ServeHTTP(w, signedRequest(t, http.MethodPost, "/api/webhooks/orders", payload))
	require.Equal(t, http.StatusCreated, w.Code)

	var first map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &first))

	// The redelivered event acknowledges with the original conversion.
	w = httptest.NewRecorder()
	router.ServeHTTP(w, signedRequest(t, http.MethodPost, "/api/webhooks/orders", payload))
	require.Equal(t, http.StatusOK, w.Code)

	var second map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &second))
	assert.Equal(t, "duplicate", second["status"])
	assert.Equal(t, first["conversion_id"], second["conversion_id"])

	var count int64
	require.NoError(t, db.Model(&models.Conversion{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestOrderCompletedAttributesVisitor(t *testing.T) {
	db := setupTestDB(t)
	router := setupWebhookRouter(t, db)
	affiliate := seedActiveAffiliate(t, db)

	require.NoError(t, db.Create(&models.Click{
		AffiliateID: affiliate.ID,
		VisitorID:   "visitor-1",
		Source:      "facebook",
	}).Error)

	req := signedRequest(t, http.MethodPost, "/api/webhooks/orders", gin.H{
		"order_id":   "ORD-1",
		"visitor_id": "visitor-1",
		"gmv":        "500",
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusCreated, w.Code)

	var conversion models.Conversion
	require.NoError(t, db.First(&conversion, "order_id = ?", "ORD-1").Error)
	assert.Equal(t, affiliate.ID, conversion.AffiliateID)
}

func TestOrderCompletedUnattributed(t *testing.T) {
	db := setupTestDB(t)
	router := setupWebhookRouter(t, db)

	req := signedRequest(t, http.MethodPost, "/api/webhooks/orders", gin.H{
		"order_id":   "ORD-1",
		"visitor_id": "never-clicked",
		"gmv":        "500",
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "ignored", resp["status"])

	var count int64
	require.NoError(t, db.Model(&models.Conversion{}).Count(&count).Error)
	assert.Equal(t, int64(0), count)
}

func TestDisbursementCallback(t *testing.T) {
	db := setupTestDB(t)
	router := setupWebhookRouter(t, db)
	affiliate := seedActiveAffiliate(t, db)

	payoutSvc := payout.NewPayoutService(db, decimal.Zero)
	conversion := models.Conversion{
		AffiliateID:      affiliate.ID,
		OrderID:          "ORD-1",
		Currency:         models.CurrencyPHP,
		GMV:              decimal.NewFromInt(1000),
		CommissionRate:   decimal.RequireFromString("0.20"),
		CommissionAmount: decimal.NewFromInt(200),
		Status:           ledger.StatusCleared,
	}
	require.NoError(t, db.Create(&conversion).Error)

	created, err := payoutSvc.RunPayout(affiliate.ID)
	require.NoError(t, err)
	require.Len(t, created, 1)
	p := created[0]
	require.NoError(t, payoutSvc.MarkProcessing(p.ID))

	req := signedRequest(t, http.MethodPost, "/api/webhooks/disbursements", gin.H{
		"reference": p.Reference,
		"status":    "SUCCESS",
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var reloaded models.Payout
	require.NoError(t, db.First(&reloaded, "id = ?", p.ID).Error)
	assert.Equal(t, models.PayoutStatusSent, reloaded.Status)
}

func TestDisbursementCallbackUnknownReference(t *testing.T) {
	db := setupTestDB(t)
	router := setupWebhookRouter(t, db)

	req := signedRequest(t, http.MethodPost, "/api/webhooks/disbursements", gin.H{
		"reference": "PAYOUT_NOPE",
		"status":    "SUCCESS",
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDisbursementCallbackLateFailure(t *testing.T) {
	db := setupTestDB(t)
	router := setupWebhookRouter(t, db)
	affiliate := seedActiveAffiliate(t, db)

	payoutSvc := payout.NewPayoutService(db, decimal.Zero)
	conversion := models.Conversion{
		AffiliateID:      affiliate.ID,
		OrderID:          "ORD-1",
		Currency:         models.CurrencyPHP,
		GMV:              decimal.NewFromInt(1000),
		CommissionRate:   decimal.RequireFromString("0.20"),
		CommissionAmount: decimal.NewFromInt(200),
		Status:           ledger.StatusCleared,
	}
	require.NoError(t, db.Create(&conversion).Error)

	created, err := payoutSvc.RunPayout(affiliate.ID)
	require.NoError(t, err)
	require.Len(t, created, 1)
	p := created[0]
	require.NoError(t, payoutSvc.MarkProcessing(p.ID))
	require.NoError(t, payoutSvc.MarkSent(p.ID, "GC-REF-1"))

	// A failure callback after confirmation is rejected, not applied.
	req := signedRequest(t, http.MethodPost, "/api/webhooks/disbursements", gin.H{
		"reference": p.Reference,
		"status":    "FAILED",
		"message":   "late rejection",
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusConflict, w.Code)

	var reloaded models.Payout
	require.NoError(t, db.First(&reloaded, "id = ?", p.ID).Error)
	assert.Equal(t, models.PayoutStatusSent, reloaded.Status)
}

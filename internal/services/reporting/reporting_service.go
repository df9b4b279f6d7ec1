package reporting

import (
	"fmt"
	"time"

	"github.com/aralacademy/backend/internal/ledger"
	"github.com/aralacademy/backend/internal/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Affiliate-facing conversion views mask flagged entries: fraud-detection
// internals are never exposed outside the admin surface.
const statusUnderReview = "under_review"

// ReportingService serves read-only views over the ledger. These are derived
// projections: they are never consulted for payout-eligibility decisions.
type ReportingService struct {
	db *gorm.DB
}

// NewReportingService creates a new reporting service
func NewReportingService(db *gorm.DB) *ReportingService {
	return &ReportingService{db: db}
}

// Summary is the per-affiliate headline view
type Summary struct {
	AffiliateID      uuid.UUID              `json:"affiliate_id"`
	Status           models.AffiliateStatus `json:"status"`
	TotalEarnings    decimal.Decimal        `json:"total_earnings"`
	PendingEarnings  decimal.Decimal        `json:"pending_earnings"`
	TotalClicks      int64                  `json:"total_clicks"`
	TotalConversions int64                  `json:"total_conversions"`
	CTR              float64                `json:"ctr"`
}

// AffiliateSummary computes the headline numbers for one affiliate. Total
// earnings are the sum of paid and cleared commissions over the whole
// ledger; clicks, conversions and CTR are computed over the filter's date
// range when one is given, otherwise over the whole history.
func (s *ReportingService) AffiliateSummary(affiliateID uuid.UUID, filter ListFilter) (*Summary, error) {
	var affiliate models.Affiliate
	if err := s.db.First(&affiliate, "id = ?", affiliateID).Error; err != nil {
		return nil, fmt.Errorf("error loading affiliate: %w", err)
	}

	earned, err := s.sumCommissions(affiliateID, []ledger.Status{ledger.StatusPaid, ledger.StatusCleared})
	if err != nil {
		return nil, err
	}
	pending, err := s.sumCommissions(affiliateID, []ledger.Status{ledger.StatusPending})
	if err != nil {
		return nil, err
	}

	var clicks int64
	if err := filter.applyRange(s.db.Model(&models.Click{}).Where("affiliate_id = ?", affiliateID)).
		Count(&clicks).Error; err != nil {
		return nil, fmt.Errorf("error counting clicks: %w", err)
	}

	var conversions int64
	if err := filter.applyRange(s.db.Model(&models.Conversion{}).Where("affiliate_id = ?", affiliateID)).
		Count(&conversions).Error; err != nil {
		return nil, fmt.Errorf("error counting conversions: %w", err)
	}

	ctr := 0.0
	if clicks > 0 {
		ctr = float64(conversions) / float64(clicks)
	}

	return &Summary{
		AffiliateID:      affiliate.ID,
		Status:           affiliate.Status,
		TotalEarnings:    earned,
		PendingEarnings:  pending,
		TotalClicks:      clicks,
		TotalConversions: conversions,
		CTR:              ctr,
	}, nil
}

func (s *ReportingService) sumCommissions(affiliateID uuid.UUID, statuses []ledger.Status) (decimal.Decimal, error) {
	var total decimal.NullDecimal
	err := s.db.Model(&models.Conversion{}).
		Select("SUM(commission_amount)").
		Where("affiliate_id = ? AND status IN ?", affiliateID, statuses).
		Scan(&total).Error
	if err != nil {
		return decimal.Zero, fmt.Errorf("error summing commissions: %w", err)
	}
	if !total.Valid {
		return decimal.Zero, nil
	}
	return total.Decimal, nil
}

// ListFilter holds the shared pagination and date-range parameters
type ListFilter struct {
	From    *time.Time
	To      *time.Time
	Status  string
	Source  string
	Page    int
	PerPage int
}

func (f ListFilter) limits() (offset, limit int) {
	page := f.Page
	if page < 1 {
		page = 1
	}
	perPage := f.PerPage
	if perPage < 1 || perPage > 100 {
		perPage = 20
	}
	return (page - 1) * perPage, perPage
}

func (f ListFilter) applyRange(q *gorm.DB) *gorm.DB {
	if f.From != nil {
		q = q.Where("created_at >= ?", *f.From)
	}
	if f.To != nil {
		q = q.Where("created_at <= ?", *f.To)
	}
	return q
}

// ListClicks returns a page of clicks for an affiliate with the total count
func (s *ReportingService) ListClicks(affiliateID uuid.UUID, filter ListFilter) ([]models.Click, int64, error) {
	q := s.db.Model(&models.Click{}).Where("affiliate_id = ?", affiliateID)
	q = filter.applyRange(q)
	if filter.Source != "" {
		q = q.Where("source = ?", filter.Source)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("error counting clicks: %w", err)
	}

	offset, limit := filter.limits()
	var clicks []models.Click
	if err := q.Order("created_at DESC").Offset(offset).Limit(limit).Find(&clicks).Error; err != nil {
		return nil, 0, fmt.Errorf("error listing clicks: %w", err)
	}
	return clicks, total, nil
}

// ConversionView is a conversion row shaped for API responses
type ConversionView struct {
	ID               uuid.UUID       `json:"id"`
	OrderID          string          `json:"order_id"`
	GMV              decimal.Decimal `json:"gmv"`
	CommissionRate   decimal.Decimal `json:"commission_rate"`
	CommissionAmount decimal.Decimal `json:"commission_amount"`
	Currency         models.Currency `json:"currency"`
	Status           string          `json:"status"`
	CreatedAt        time.Time       `json:"created_at"`
}

// ListConversions returns a page of conversions. With maskFlagged set (the
// affiliate-facing view) flagged rows read as "under_review".
func (s *ReportingService) ListConversions(affiliateID uuid.UUID, filter ListFilter, maskFlagged bool) ([]ConversionView, int64, error) {
	q := s.db.Model(&models.Conversion{}).Where("affiliate_id = ?", affiliateID)
	q = filter.applyRange(q)
	if filter.Status != "" {
		q = q.Where("status = ?", filter.Status)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("error counting conversions: %w", err)
	}

	offset, limit := filter.limits()
	var conversions []models.Conversion
	if err := q.Order("created_at DESC").Offset(offset).Limit(limit).Find(&conversions).Error; err != nil {
		return nil, 0, fmt.Errorf("error listing conversions: %w", err)
	}

	views := make([]ConversionView, 0, len(conversions))
	for _, c := range conversions {
		status := string(c.Status)
		if maskFlagged && c.Status == ledger.StatusFlagged {
			status = statusUnderReview
		}
		views = append(views, ConversionView{
			ID:               c.ID,
			OrderID:          c.OrderID,
			GMV:              c.GMV,
			CommissionRate:   c.CommissionRate,
			CommissionAmount: c.CommissionAmount,
			Currency:         c.Currency,
			Status:           status,
			CreatedAt:        c.CreatedAt,
		})
	}
	return views, total, nil
}

// ListPayouts returns a page of payouts for an affiliate with the total count
func (s *ReportingService) ListPayouts(affiliateID uuid.UUID, filter ListFilter) ([]models.Payout, int64, error) {
	q := s.db.Model(&models.Payout{}).Where("affiliate_id = ?", affiliateID)
	q = filter.applyRange(q)
	if filter.Status != "" {
		q = q.Where("status = ?", filter.Status)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("error counting payouts: %w", err)
	}

	offset, limit := filter.limits()
	var payouts []models.Payout
	if err := q.Preload("Items").Order("created_at DESC").Offset(offset).Limit(limit).Find(&payouts).Error; err != nil {
		return nil, 0, fmt.Errorf("error listing payouts: %w", err)
	}
	return payouts, total, nil
}

// ListFlags returns all fraud flags for an affiliate, newest first. Admin
// surface only.
func (s *ReportingService) ListFlags(affiliateID uuid.UUID) ([]models.FraudFlag, error) {
	var flags []models.FraudFlag
	if err := s.db.Where("affiliate_id = ?", affiliateID).
		Order("created_at DESC").
		Find(&flags).Error; err != nil {
		return nil, fmt.Errorf("error listing fraud flags: %w", err)
	}
	return flags, nil
}

package jobs

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/aralacademy/backend/internal/ledger"
	"github.com/aralacademy/backend/internal/models"
	"github.com/aralacademy/backend/internal/queue"
	"github.com/aralacademy/backend/internal/services/disbursement"
	"github.com/aralacademy/backend/internal/services/payout"
	"gorm.io/gorm"
)

const (
	// ReconciliationJobType is the job type for payout reconciliation
	ReconciliationJobType queue.JobType = "reconcile_payouts"

	// Payouts younger than this are left alone; the rail may still be
	// working on them.
	reconcileAfter = 5 * time.Minute
)

// ReconciliationJob resolves payouts stuck in processing by polling the
// payment rail, and repairs ledger rows that a crash left behind
type ReconciliationJob struct {
	db        *gorm.DB
	payoutSvc *payout.PayoutService
	providers *disbursement.Registry
}

// NewReconciliationJob creates a new reconciliation job handler
func NewReconciliationJob(db *gorm.DB, payoutSvc *payout.PayoutService, providers *disbursement.Registry) *ReconciliationJob {
	return &ReconciliationJob{db: db, payoutSvc: payoutSvc, providers: providers}
}

// RegisterReconciliationJobHandlers registers the reconciliation job handlers
func RegisterReconciliationJobHandlers(q queue.QueueInterface, db *gorm.DB, payoutSvc *payout.PayoutService, providers *disbursement.Registry) {
	handler := NewReconciliationJob(db, payoutSvc, providers)
	q.RegisterHandler(ReconciliationJobType, func(ctx context.Context, job *queue.Job) error {
		return handler.ProcessReconciliation(ctx, job)
	})
}

// ProcessReconciliation runs one reconciliation pass
func (j *ReconciliationJob) ProcessReconciliation(ctx context.Context, job *queue.Job) error {
	if err := j.resolveProcessingPayouts(ctx); err != nil {
		return err
	}
	return j.repairUnsettledConversions()
}

// resolveProcessingPayouts polls the rail for payouts whose outcome is
// unknown (submitted but unconfirmed, or timed out on submit)
func (j *ReconciliationJob) resolveProcessingPayouts(ctx context.Context) error {
	cutoff := time.Now().Add(-reconcileAfter)

	var payouts []models.Payout
	err := j.db.
		Where("status = ? AND updated_at <= ?", models.PayoutStatusProcessing, cutoff).
		Limit(50).
		Find(&payouts).Error
	if err != nil {
		return fmt.Errorf("failed to load processing payouts: %w", err)
	}

	for _, p := range payouts {
		if p.ExternalReference == "" {
			// Submit never reached the rail (or the response was lost
			// before the reference landed). Without a reference there is
			// nothing to poll; flag for manual review rather than resubmit.
			log.Printf("ALERT: payout %s is processing with no external reference; manual review required", p.ID)
			continue
		}

		provider, err := j.providers.Get(p.Method)
		if err != nil {
			log.Printf("No provider to reconcile payout %s: %v", p.ID, err)
			continue
		}

		status, err := provider.CheckStatus(ctx, p.ExternalReference)
		if err != nil {
			log.Printf("Failed to check status of payout %s: %v", p.ID, err)
			continue
		}

		switch status {
		case disbursement.StatusSuccessful:
			if err := j.payoutSvc.MarkSent(p.ID, p.ExternalReference); err != nil {
				log.Printf("Failed to mark payout %s sent: %v", p.ID, err)
			}
		case disbursement.StatusFailed:
			if err := j.payoutSvc.MarkFailed(p.ID, "rail reported failure during reconciliation"); err != nil {
				log.Printf("Failed to mark payout %s failed: %v", p.ID, err)
			}
		default:
			// Still pending on the rail; check again next pass.
		}
	}

	return nil
}

// repairUnsettledConversions flips any conversion that a payout references
// but that is not marked paid. The payout transaction makes this impossible
// in normal operation; this is the safety net the reconciliation pass owes
// the ledger.
func (j *ReconciliationJob) repairUnsettledConversions() error {
	result := j.db.Model(&models.Conversion{}).
		Where("status = ?", ledger.StatusCleared).
		Where("EXISTS (SELECT 1 FROM payout_items WHERE payout_items.conversion_id = conversions.id)").
		Update("status", ledger.StatusPaid)
	if result.Error != nil {
		return fmt.Errorf("failed to repair unsettled conversions: %w", result.Error)
	}
	if result.RowsAffected > 0 {
		log.Printf("ALERT: reconciliation repaired %d conversions referenced by payouts but not marked paid", result.RowsAffected)
	}
	return nil
}

package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"github.com/aralacademy/backend/internal/ledger"
	"github.com/aralacademy/backend/internal/models"
	"github.com/aralacademy/backend/internal/queue"
	"github.com/aralacademy/backend/internal/services/disbursement"
	"github.com/aralacademy/backend/internal/services/payout"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	// DisbursementJobType is the job type for sending a payout to its rail
	DisbursementJobType queue.JobType = "disburse_payout"
)

// DisbursementJobPayload represents the payload for a disbursement job
type DisbursementJobPayload struct {
	PayoutID uuid.UUID `json:"payout_id"`
}

// DisbursementJob hands a payout batch to the external payment rail
type DisbursementJob struct {
	db        *gorm.DB
	payoutSvc *payout.PayoutService
	providers *disbursement.Registry
}

// NewDisbursementJob creates a new disbursement job handler
func NewDisbursementJob(db *gorm.DB, payoutSvc *payout.PayoutService, providers *disbursement.Registry) *DisbursementJob {
	return &DisbursementJob{db: db, payoutSvc: payoutSvc, providers: providers}
}

// RegisterDisbursementJobHandlers registers the disbursement job handlers
func RegisterDisbursementJobHandlers(q queue.QueueInterface, db *gorm.DB, payoutSvc *payout.PayoutService, providers *disbursement.Registry) {
	handler := NewDisbursementJob(db, payoutSvc, providers)
	q.RegisterHandler(DisbursementJobType, func(ctx context.Context, job *queue.Job) error {
		return handler.ProcessDisbursement(ctx, job)
	})
}

// EnqueueDisbursementJob enqueues a payout for disbursement
func EnqueueDisbursementJob(q queue.QueueInterface, payoutID uuid.UUID) error {
	_, err := q.Enqueue(DisbursementJobType, DisbursementJobPayload{PayoutID: payoutID})
	return err
}

// ProcessDisbursement submits one payout to its payment rail.
//
// A timeout is an unknown outcome: the payout stays processing and the
// reconciliation job resolves it against the rail. Returning nil here is
// deliberate; a queue retry would risk paying twice.
func (j *DisbursementJob) ProcessDisbursement(ctx context.Context, job *queue.Job) error {
	var jobPayload DisbursementJobPayload
	if err := json.Unmarshal(job.Payload, &jobPayload); err != nil {
		return fmt.Errorf("failed to unmarshal disbursement job payload: %w", err)
	}

	var p models.Payout
	if err := j.db.First(&p, "id = ?", jobPayload.PayoutID).Error; err != nil {
		return fmt.Errorf("failed to get payout: %w", err)
	}

	if p.Status != models.PayoutStatusPending {
		log.Printf("Payout %s is already in status %s, skipping disbursement", p.ID, p.Status)
		return nil
	}

	var affiliate models.Affiliate
	if err := j.db.First(&affiliate, "id = ?", p.AffiliateID).Error; err != nil {
		return fmt.Errorf("failed to get affiliate: %w", err)
	}

	provider, err := j.providers.Get(p.Method)
	if err != nil {
		if markErr := j.payoutSvc.MarkFailed(p.ID, err.Error()); markErr != nil {
			return markErr
		}
		return nil
	}

	if err := j.payoutSvc.MarkProcessing(p.ID); err != nil {
		return err
	}

	externalRef, err := provider.Disburse(ctx, &p, &affiliate)
	if err != nil {
		if errors.Is(err, ledger.ErrDisbursementTimeout) {
			log.Printf("Disbursement for payout %s timed out; leaving in processing for reconciliation", p.ID)
			return nil
		}
		log.Printf("Disbursement for payout %s failed: %v", p.ID, err)
		return j.payoutSvc.MarkFailed(p.ID, err.Error())
	}

	// Accepted by the rail; confirmation arrives via webhook or the
	// reconciliation poll.
	if err := j.payoutSvc.SetExternalReference(p.ID, externalRef); err != nil {
		return err
	}

	log.Printf("Payout %s submitted to %s rail as %s", p.ID, p.Method, externalRef)
	return nil
}

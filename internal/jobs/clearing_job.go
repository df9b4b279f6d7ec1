package jobs

import (
	"context"
	"time"

	"github.com/aralacademy/backend/internal/queue"
	"github.com/aralacademy/backend/internal/services/commission"
)

const (
	// ClearingJobType is the job type for the conversion clearing sweep
	ClearingJobType queue.JobType = "clear_conversions"
)

// ClearingJob moves pending conversions past their hold to cleared
type ClearingJob struct {
	commissionSvc *commission.CommissionService
}

// NewClearingJob creates a new clearing job handler
func NewClearingJob(commissionSvc *commission.CommissionService) *ClearingJob {
	return &ClearingJob{commissionSvc: commissionSvc}
}

// RegisterClearingJobHandlers registers the clearing job handlers
func RegisterClearingJobHandlers(q queue.QueueInterface, commissionSvc *commission.CommissionService) {
	handler := NewClearingJob(commissionSvc)
	q.RegisterHandler(ClearingJobType, func(ctx context.Context, job *queue.Job) error {
		return handler.ProcessClearingSweep(ctx, job)
	})
}

// EnqueueClearingJob enqueues a clearing sweep
func (j *ClearingJob) EnqueueClearingJob(q queue.QueueInterface) error {
	_, err := q.Enqueue(ClearingJobType, nil)
	return err
}

// ProcessClearingSweep runs one clearing sweep
func (j *ClearingJob) ProcessClearingSweep(ctx context.Context, job *queue.Job) error {
	_, err := j.commissionSvc.ClearEligible(time.Now())
	return err
}

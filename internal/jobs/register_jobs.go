package jobs

import (
	"log"

	"github.com/aralacademy/backend/internal/queue"
	"github.com/aralacademy/backend/internal/services/commission"
	"github.com/aralacademy/backend/internal/services/disbursement"
	"github.com/aralacademy/backend/internal/services/fraud"
	"github.com/aralacademy/backend/internal/services/payout"
	"github.com/go-co-op/gocron"
	"gorm.io/gorm"
)

// RegisterAllJobHandlers registers all job handlers with the queue
func RegisterAllJobHandlers(
	q queue.QueueInterface,
	db *gorm.DB,
	commissionSvc *commission.CommissionService,
	fraudSvc *fraud.FraudService,
	payoutSvc *payout.PayoutService,
	providers *disbursement.Registry,
) {
	RegisterClearingJobHandlers(q, commissionSvc)
	RegisterVelocityCheckJobHandlers(q, fraudSvc)
	RegisterDisbursementJobHandlers(q, db, payoutSvc, providers)
	RegisterReconciliationJobHandlers(q, db, payoutSvc, providers)
}

// ScheduleRecurringJobs schedules the recurring ledger sweeps
func ScheduleRecurringJobs(scheduler *gocron.Scheduler, q queue.QueueInterface) error {
	enqueue := func(jobType queue.JobType) func() {
		return func() {
			if _, err := q.Enqueue(jobType, nil); err != nil {
				log.Printf("Failed to enqueue %s: %v", jobType, err)
			}
		}
	}

	if _, err := scheduler.Every(1).Hour().Do(enqueue(ClearingJobType)); err != nil {
		return err
	}
	if _, err := scheduler.Every(1).Hour().Do(enqueue(VelocityCheckJobType)); err != nil {
		return err
	}
	if _, err := scheduler.Every(15).Minutes().Do(enqueue(ReconciliationJobType)); err != nil {
		return err
	}

	return nil
}

package jobs

import (
	"context"
	"log"
	"time"

	"github.com/aralacademy/backend/internal/queue"
	"github.com/aralacademy/backend/internal/services/fraud"
)

const (
	// VelocityCheckJobType is the job type for the fraud velocity sweep
	VelocityCheckJobType queue.JobType = "velocity_check"
)

// VelocityCheckJob runs the automated click-to-conversion velocity rule
type VelocityCheckJob struct {
	fraudSvc *fraud.FraudService
}

// NewVelocityCheckJob creates a new velocity check job handler
func NewVelocityCheckJob(fraudSvc *fraud.FraudService) *VelocityCheckJob {
	return &VelocityCheckJob{fraudSvc: fraudSvc}
}

// RegisterVelocityCheckJobHandlers registers the velocity check job handlers
func RegisterVelocityCheckJobHandlers(q queue.QueueInterface, fraudSvc *fraud.FraudService) {
	handler := NewVelocityCheckJob(fraudSvc)
	q.RegisterHandler(VelocityCheckJobType, func(ctx context.Context, job *queue.Job) error {
		return handler.ProcessVelocityCheck(ctx, job)
	})
}

// ProcessVelocityCheck runs one velocity sweep
func (j *VelocityCheckJob) ProcessVelocityCheck(ctx context.Context, job *queue.Job) error {
	flagged, err := j.fraudSvc.RunVelocityCheck(time.Now())
	if err != nil {
		return err
	}
	if flagged > 0 {
		log.Printf("Velocity sweep raised %d fraud flags", flagged)
	}
	return nil
}

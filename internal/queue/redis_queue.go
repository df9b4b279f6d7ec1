package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

const dispatchList = "ledger:jobs"

// RedisQueue is a Redis-dispatched, database-persisted job queue.
type RedisQueue struct {
	client     *redis.Client
	db         *gorm.DB
	handlers   map[JobType]JobHandler
	handlersMu sync.RWMutex
	numWorkers int
	quit       chan struct{}
	wg         sync.WaitGroup
}

// NewRedisQueue creates a new Redis-backed queue
func NewRedisQueue(client *redis.Client, db *gorm.DB, numWorkers int) *RedisQueue {
	if numWorkers <= 0 {
		numWorkers = 4
	}
	return &RedisQueue{
		client:     client,
		db:         db,
		handlers:   make(map[JobType]JobHandler),
		numWorkers: numWorkers,
		quit:       make(chan struct{}),
	}
}

// RegisterHandler registers a handler for a job type
func (q *RedisQueue) RegisterHandler(jobType JobType, handler JobHandler) {
	q.handlersMu.Lock()
	defer q.handlersMu.Unlock()
	q.handlers[jobType] = handler
}

// Enqueue persists a job row and pushes its id onto the dispatch list
func (q *RedisQueue) Enqueue(jobType JobType, payload interface{}) (*Job, error) {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal job payload: %w", err)
	}

	job := Job{
		ID:      uuid.New(),
		Type:    jobType,
		Payload: payloadBytes,
		Status:  JobStatusPending,
	}

	if err := q.db.Create(&job).Error; err != nil {
		return nil, fmt.Errorf("failed to persist job: %w", err)
	}

	if err := q.client.LPush(context.Background(), dispatchList, job.ID.String()).Err(); err != nil {
		// The row exists; the requeue sweep will pick it up.
		log.Printf("Failed to dispatch job %s to redis: %v", job.ID, err)
	}

	return &job, nil
}

// Start starts the worker goroutines and the retry sweep
func (q *RedisQueue) Start() {
	log.Printf("Starting %d queue workers", q.numWorkers)

	for i := 0; i < q.numWorkers; i++ {
		q.wg.Add(1)
		go q.work(i)
	}

	q.wg.Add(1)
	go q.retrySweep()
}

// Stop stops the workers and waits for in-flight jobs
func (q *RedisQueue) Stop() {
	close(q.quit)
	q.wg.Wait()
}

func (q *RedisQueue) work(workerID int) {
	defer q.wg.Done()

	for {
		select {
		case <-q.quit:
			log.Printf("Queue worker %d stopped", workerID)
			return
		default:
		}

		result, err := q.client.BRPop(context.Background(), 2*time.Second, dispatchList).Result()
		if err != nil {
			if err != redis.Nil {
				log.Printf("Error dequeueing job: %v", err)
				time.Sleep(time.Second)
			}
			continue
		}

		jobID, err := uuid.Parse(result[1])
		if err != nil {
			log.Printf("Discarding malformed job id %q: %v", result[1], err)
			continue
		}

		q.process(jobID)
	}
}

func (q *RedisQueue) process(jobID uuid.UUID) {
	var job Job
	if err := q.db.First(&job, "id = ?", jobID).Error; err != nil {
		log.Printf("Failed to load job %s: %v", jobID, err)
		return
	}

	// Claim the row so a duplicate dispatch is a no-op.
	claim := q.db.Model(&Job{}).
		Where("id = ? AND status IN ?", job.ID, []JobStatus{JobStatusPending, JobStatusFailed}).
		Update("status", JobStatusProcessing)
	if claim.Error != nil || claim.RowsAffected == 0 {
		return
	}

	q.handlersMu.RLock()
	handler, ok := q.handlers[job.Type]
	q.handlersMu.RUnlock()
	if !ok {
		log.Printf("No handler registered for job type %s", job.Type)
		q.db.Model(&Job{}).Where("id = ?", job.ID).
			Updates(map[string]interface{}{"status": JobStatusFailed, "error": "no handler registered"})
		return
	}

	err := handler(context.Background(), &job)
	if err == nil {
		q.db.Model(&Job{}).Where("id = ?", job.ID).Update("status", JobStatusCompleted)
		return
	}

	log.Printf("Job %s (%s) failed: %v", job.ID, job.Type, err)
	updates := map[string]interface{}{
		"error":       err.Error(),
		"retry_count": job.RetryCount + 1,
	}
	if job.RetryCount+1 < job.MaxRetries {
		next := time.Now().Add(backoff(job.RetryCount + 1))
		updates["status"] = JobStatusPending
		updates["next_retry"] = &next
	} else {
		updates["status"] = JobStatusFailed
	}
	q.db.Model(&Job{}).Where("id = ?", job.ID).Updates(updates)
}

// retrySweep re-dispatches jobs whose retry time has come due, plus any
// pending rows whose dispatch signal was lost.
func (q *RedisQueue) retrySweep() {
	defer q.wg.Done()

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-q.quit:
			return
		case <-ticker.C:
			var jobs []Job
			err := q.db.
				Where("status = ? AND (next_retry IS NULL OR next_retry <= ?)", JobStatusPending, time.Now()).
				Where("updated_at <= ?", time.Now().Add(-time.Minute)).
				Limit(100).
				Find(&jobs).Error
			if err != nil {
				log.Printf("Retry sweep query failed: %v", err)
				continue
			}

			for _, job := range jobs {
				if err := q.client.LPush(context.Background(), dispatchList, job.ID.String()).Err(); err != nil {
					log.Printf("Failed to redispatch job %s: %v", job.ID, err)
				}
			}
		}
	}
}

func backoff(attempt int) time.Duration {
	d := time.Duration(attempt*attempt) * 30 * time.Second
	if d > 30*time.Minute {
		d = 30 * time.Minute
	}
	return d
}

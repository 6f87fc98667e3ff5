package queue

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type JobStatus string

const (
	JobStatusQueued    JobStatus = "QUEUED"
	JobStatusRunning   JobStatus = "RUNNING"
	JobStatusSucceeded JobStatus = "SUCCEEDED"
	JobStatusDead      JobStatus = "DEAD"
)

// Job is a durable unit of background work carrying an order identifier.
// Finished jobs are retained until RetainUntil for observability, then swept.
type Job struct {
	gorm.Model  `json:"-"`
	JobID       string    `gorm:"uniqueIndex" json:"job_id"`
	OrderID     string    `gorm:"index" json:"order_id"`
	Status      JobStatus `gorm:"index" json:"status"` // QUEUED, RUNNING, SUCCEEDED, DEAD
	Attempts    int       `json:"attempts"`
	MaxAttempts int       `json:"max_attempts"`
	NextRunAt   time.Time `gorm:"index" json:"next_run_at"`
	LastError   string    `json:"last_error,omitempty"`
	RetainUntil time.Time `json:"retain_until"`
}

// Policy bounds retries and attempt duration for every job on the queue.
type Policy struct {
	MaxAttempts     int
	Backoff         time.Duration // fixed delay between attempts
	AttemptTimeout  time.Duration // hard per-attempt execution timeout
	ResultRetention time.Duration // how long finished jobs stay queryable
	PollInterval    time.Duration
	Workers         int
}

// DefaultPolicy mirrors the production retry contract: 5 attempts, 10s fixed
// backoff, 60s per attempt, results kept for 5000s.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:     5,
		Backoff:         10 * time.Second,
		AttemptTimeout:  60 * time.Second,
		ResultRetention: 5000 * time.Second,
		PollInterval:    time.Second,
		Workers:         4,
	}
}

// Handler processes a single dequeued order identifier. A returned error
// requeues the job with backoff unless wrapped with Unrecoverable.
type Handler func(ctx context.Context, orderID string) error

type unrecoverableError struct {
	err error
}

func (e *unrecoverableError) Error() string {
	return e.err.Error()
}

func (e *unrecoverableError) Unwrap() error {
	return e.err
}

// Unrecoverable marks a handler error as permanent: the job is buried on the
// first occurrence instead of being retried. Re-running a job whose order does
// not exist will never find it.
func Unrecoverable(err error) error {
	return &unrecoverableError{err: err}
}

// IsUnrecoverable reports whether err carries the Unrecoverable marker.
func IsUnrecoverable(err error) bool {
	var ue *unrecoverableError
	return errors.As(err, &ue)
}

// Queue is a durable, retrying work queue persisted alongside the order data.
// Delivery is at-least-once: a worker crash mid-attempt leaves a RUNNING row
// that the janitor requeues once the attempt timeout has clearly passed.
type Queue struct {
	db     *gorm.DB
	policy Policy
}

func New(db *gorm.DB, policy Policy) *Queue {
	if policy.Workers <= 0 {
		policy.Workers = 1
	}
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = 1
	}
	if policy.PollInterval <= 0 {
		policy.PollInterval = time.Second
	}
	return &Queue{
		db:     db,
		policy: policy,
	}
}

// Policy returns the retry policy the queue enforces.
func (q *Queue) Policy() Policy {
	return q.policy
}

// Enqueue records a new job for the order in its own transaction and makes it
// immediately due.
func (q *Queue) Enqueue(ctx context.Context, orderID string) (*Job, error) {
	job := &Job{
		JobID:       uuid.New().String(),
		OrderID:     orderID,
		Status:      JobStatusQueued,
		MaxAttempts: q.policy.MaxAttempts,
		NextRunAt:   time.Now(),
	}
	if err := q.db.WithContext(ctx).Create(job).Error; err != nil {
		return nil, err
	}
	return job, nil
}

// GetJob retrieves a job by its ID, nil when absent or already swept.
func (q *Queue) GetJob(jobID string) (*Job, error) {
	var job Job
	if err := q.db.Where("job_id = ?", jobID).First(&job).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &job, nil
}

// GetJobsForOrder lists the jobs recorded for an order, oldest first.
func (q *Queue) GetJobsForOrder(orderID string) ([]Job, error) {
	var jobs []Job
	if err := q.db.Where("order_id = ?", orderID).Order("id").Find(&jobs).Error; err != nil {
		return nil, err
	}
	return jobs, nil
}

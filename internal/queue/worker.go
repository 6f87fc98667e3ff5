package queue

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

const claimBatchSize = 20

// Runner executes queued jobs with a pool of workers. Jobs are claimed with a
// conditional QUEUED->RUNNING update, so each attempt is delivered to exactly
// one worker per poll cycle.
type Runner struct {
	queue   *Queue
	handler Handler

	jobs   chan Job
	wg     sync.WaitGroup
	cancel context.CancelFunc
	mu     sync.Mutex
}

// NewRunner constructs a worker pool bound to the queue's policy.
func NewRunner(q *Queue, handler Handler) *Runner {
	return &Runner{
		queue:   q,
		handler: handler,
		jobs:    make(chan Job, q.policy.Workers*claimBatchSize),
	}
}

// Start launches the dispatcher, the workers and the janitor.
func (r *Runner) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()

	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel

	logger := log.With().Str("component", "queue_runner").Logger()
	logger.Info().
		Int("workers", r.queue.policy.Workers).
		Int("max_attempts", r.queue.policy.MaxAttempts).
		Dur("backoff", r.queue.policy.Backoff).
		Msg("starting job runner")

	for i := 0; i < r.queue.policy.Workers; i++ {
		r.wg.Add(1)
		go r.worker(runCtx)
	}

	r.wg.Add(1)
	go r.dispatch(runCtx)

	r.wg.Add(1)
	go r.janitor(runCtx)
}

// Stop cancels the run context and waits for in-flight attempts to finish.
func (r *Runner) Stop() {
	r.mu.Lock()
	if r.cancel != nil {
		r.cancel()
		r.cancel = nil
	}
	r.mu.Unlock()

	r.wg.Wait()
}

func (r *Runner) dispatch(ctx context.Context) {
	defer r.wg.Done()
	defer close(r.jobs)

	ticker := time.NewTicker(r.queue.policy.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.claimAndDispatch(ctx)
		}
	}
}

func (r *Runner) claimAndDispatch(ctx context.Context) {
	logger := log.With().Str("component", "queue_runner").Logger()

	var due []Job
	err := r.queue.db.
		Where("status = ? AND next_run_at <= ?", JobStatusQueued, time.Now()).
		Order("next_run_at").
		Limit(claimBatchSize).
		Find(&due).Error
	if err != nil {
		logger.Error().Err(err).Msg("failed to poll for due jobs")
		return
	}

	for _, job := range due {
		claimed, err := r.claim(&job)
		if err != nil {
			logger.Error().Err(err).Str("job_id", job.JobID).Msg("failed to claim job")
			continue
		}
		if !claimed {
			// Another runner picked it up between poll and claim.
			continue
		}

		select {
		case <-ctx.Done():
			return
		case r.jobs <- job:
		}
	}
}

// claim transitions the job QUEUED->RUNNING; false when another runner won.
func (r *Runner) claim(job *Job) (bool, error) {
	result := r.queue.db.Model(&Job{}).
		Where("job_id = ? AND status = ?", job.JobID, JobStatusQueued).
		Updates(map[string]interface{}{
			"status":     JobStatusRunning,
			"updated_at": time.Now(),
		})
	if result.Error != nil {
		return false, result.Error
	}
	if result.RowsAffected == 0 {
		return false, nil
	}
	job.Status = JobStatusRunning
	return true, nil
}

func (r *Runner) worker(ctx context.Context) {
	defer r.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case job, ok := <-r.jobs:
			if !ok {
				return
			}
			r.runJob(ctx, job)
		}
	}
}

// runJob executes one attempt under the per-attempt timeout and records the
// outcome. Timed-out attempts surface as context errors and retry like any
// other failure.
func (r *Runner) runJob(ctx context.Context, job Job) {
	logger := log.With().
		Str("component", "queue_runner").
		Str("job_id", job.JobID).
		Str("order_id", job.OrderID).
		Int("attempt", job.Attempts+1).
		Logger()

	attemptCtx, cancel := context.WithTimeout(ctx, r.queue.policy.AttemptTimeout)
	err := r.handler(attemptCtx, job.OrderID)
	cancel()

	attempts := job.Attempts + 1
	now := time.Now()

	switch {
	case err == nil:
		logger.Info().Msg("job completed")
		r.finish(&job, JobStatusSucceeded, attempts, "")

	case IsUnrecoverable(err):
		logger.Error().Err(err).Msg("job failed with unrecoverable error, burying")
		r.finish(&job, JobStatusDead, attempts, err.Error())

	case attempts >= job.MaxAttempts:
		logger.Error().Err(err).Msg("job failed, retry attempts exhausted")
		r.finish(&job, JobStatusDead, attempts, err.Error())

	default:
		logger.Warn().
			Err(err).
			Dur("backoff", r.queue.policy.Backoff).
			Msg("job failed, scheduling retry")
		result := r.queue.db.Model(&Job{}).
			Where("job_id = ?", job.JobID).
			Updates(map[string]interface{}{
				"status":      JobStatusQueued,
				"attempts":    attempts,
				"next_run_at": now.Add(r.queue.policy.Backoff),
				"last_error":  err.Error(),
				"updated_at":  now,
			})
		if result.Error != nil {
			logger.Error().Err(result.Error).Msg("failed to requeue job")
		}
	}
}

func (r *Runner) finish(job *Job, status JobStatus, attempts int, lastError string) {
	now := time.Now()
	result := r.queue.db.Model(&Job{}).
		Where("job_id = ?", job.JobID).
		Updates(map[string]interface{}{
			"status":       status,
			"attempts":     attempts,
			"last_error":   lastError,
			"retain_until": now.Add(r.queue.policy.ResultRetention),
			"updated_at":   now,
		})
	if result.Error != nil {
		log.Error().
			Err(result.Error).
			Str("job_id", job.JobID).
			Msg("failed to record job outcome")
	}
}

// janitor periodically sweeps expired results and requeues jobs stuck in
// RUNNING well past the attempt timeout, which is what makes delivery
// at-least-once across process crashes.
func (r *Runner) janitor(ctx context.Context) {
	defer r.wg.Done()

	interval := r.queue.policy.PollInterval * 10
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sweep()
		}
	}
}

func (r *Runner) sweep() {
	logger := log.With().Str("component", "queue_janitor").Logger()
	now := time.Now()

	result := r.queue.db.
		Where("status IN ? AND retain_until <= ?", []JobStatus{JobStatusSucceeded, JobStatusDead}, now).
		Delete(&Job{})
	if result.Error != nil {
		logger.Error().Err(result.Error).Msg("failed to sweep expired job results")
	} else if result.RowsAffected > 0 {
		logger.Debug().Int64("swept", result.RowsAffected).Msg("swept expired job results")
	}

	stale := now.Add(-2 * r.queue.policy.AttemptTimeout)
	result = r.queue.db.Model(&Job{}).
		Where("status = ? AND updated_at <= ?", JobStatusRunning, stale).
		Updates(map[string]interface{}{
			"status":      JobStatusQueued,
			"next_run_at": now,
			"updated_at":  now,
		})
	if result.Error != nil {
		logger.Error().Err(result.Error).Msg("failed to requeue stale running jobs")
	} else if result.RowsAffected > 0 {
		logger.Warn().
			Int64("requeued", result.RowsAffected).
			Msg("requeued jobs abandoned mid-attempt")
	}
}

package batch

import (
	"context"
	"log"
	"time"

	"github.com/answerdesk/answerdesk-back/internal/repository"
	"github.com/answerdesk/answerdesk-back/internal/telemetry"
)

// Reconciler sweeps for orphaned jobs: a crashed worker leaves a job in
// processing with rows stuck in processing and nobody driving them. Any
// processing job with no write activity inside the staleness window gets the
// same treatment as a cancellation, so its stuck rows become re-runnable.
type Reconciler struct {
	repo       repository.JobsRepository
	staleAfter time.Duration
	interval   time.Duration
	logger     *log.Logger
}

func NewReconciler(
	repo repository.JobsRepository,
	staleAfter time.Duration,
	interval time.Duration,
	logger *log.Logger,
) *Reconciler {
	if staleAfter <= 0 {
		staleAfter = 15 * time.Minute
	}
	if interval <= 0 {
		interval = time.Minute
	}
	return &Reconciler{
		repo:       repo,
		staleAfter: staleAfter,
		interval:   interval,
		logger:     logger,
	}
}

// Start runs the sweep loop until the context is cancelled.
func (r *Reconciler) Start(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if count, err := r.Sweep(ctx); err != nil {
				if r.logger != nil {
					r.logger.Printf("reconcile sweep failed: %v", err)
				}
			} else if count > 0 && r.logger != nil {
				r.logger.Printf("reconcile sweep reset %d orphaned job(s)", count)
			}
		}
	}
}

// Sweep resets every orphaned job once and returns how many were reset.
func (r *Reconciler) Sweep(ctx context.Context) (int, error) {
	cutoff := time.Now().UTC().Add(-r.staleAfter)
	jobIDs, err := r.repo.FindStaleProcessingJobs(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	reset := 0
	for _, jobID := range jobIDs {
		if err := r.repo.CancelJob(ctx, jobID); err != nil {
			if r.logger != nil {
				r.logger.Printf("reconcile job failed job_id=%s err=%v", jobID, err)
			}
			continue
		}
		telemetry.JobsReconciled.Inc()
		reset++
		if r.logger != nil {
			r.logger.Printf("reconciled orphaned job job_id=%s stale_after=%s", jobID, r.staleAfter)
		}
	}
	return reset, nil
}

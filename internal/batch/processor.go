package batch

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/answerdesk/answerdesk-back/internal/domain"
	"github.com/answerdesk/answerdesk-back/internal/inference"
	"github.com/answerdesk/answerdesk-back/internal/repository"
	"github.com/answerdesk/answerdesk-back/internal/telemetry"
)

var (
	ErrNoPendingRows    = errors.New("job has no pending rows")
	ErrNoSkillsSelected = errors.New("job has no skills selected")
	ErrInvalidBatchSize = errors.New("batch size must be at least 1")
)

// Answerer is the inference surface the processor needs. Implemented by
// inference.Service; tests swap in fakes.
type Answerer interface {
	AnswerBatch(ctx context.Context, request inference.AnswerBatchRequest) (map[int]*domain.AnswerOutput, error)
	ReviewContract(ctx context.Context, request inference.ContractReviewRequest) (*domain.ContractOutput, error)
}

// RunRequest parameterizes one processing run over a job's pending rows.
type RunRequest struct {
	JobID      string
	SkillIDs   []string
	BatchSize  int
	ModelSpeed inference.ModelSpeed
}

// Processor owns the job run lifecycle: processing -> batches -> completed
// or error. Batches run strictly one at a time; one batch's failure never
// aborts the rest of the run.
type Processor struct {
	repo    repository.JobsRepository
	answers Answerer
	logger  *log.Logger
}

func NewProcessor(repo repository.JobsRepository, answers Answerer, logger *log.Logger) *Processor {
	return &Processor{repo: repo, answers: answers, logger: logger}
}

// Run executes one full processing pass. Validation failures happen before
// any state change; after the job is marked processing the only job-level
// failures left are storage unavailability.
func (p *Processor) Run(ctx context.Context, request RunRequest) error {
	if request.BatchSize < 1 {
		return ErrInvalidBatchSize
	}
	if len(request.SkillIDs) == 0 {
		return ErrNoSkillsSelected
	}

	job, err := p.repo.GetJob(ctx, request.JobID)
	if err != nil {
		return fmt.Errorf("load job %s: %w", request.JobID, err)
	}

	rows, err := p.repo.ListRows(ctx, job.ID)
	if err != nil {
		return fmt.Errorf("list rows for job %s: %w", job.ID, err)
	}
	pending := pendingRows(rows)
	if len(pending) == 0 {
		return ErrNoPendingRows
	}

	skills, err := p.repo.GetSkillsByIDs(ctx, request.SkillIDs)
	if err != nil {
		return fmt.Errorf("load skills for job %s: %w", job.ID, err)
	}

	if err := p.repo.UpdateJobStatus(ctx, job.ID, domain.JobStatusProcessing, ""); err != nil {
		return fmt.Errorf("mark job processing: %w", err)
	}
	telemetry.RunsStarted.Inc()
	telemetry.JobsProcessing.Inc()
	defer telemetry.JobsProcessing.Dec()

	batches := Partition(pending, request.BatchSize)
	rowsErrored := false
	cancelled := false

	for batchIndex, rows := range batches {
		batchNumber := batchIndex + 1

		// Cancellation is checked between batches only; an in-flight call is
		// allowed to finish and write its outcomes.
		if batchIndex > 0 {
			current, loadErr := p.repo.GetJob(ctx, job.ID)
			if loadErr != nil {
				return fmt.Errorf("reload job %s: %w", job.ID, loadErr)
			}
			if current.Status != domain.JobStatusProcessing {
				cancelled = true
				p.logf("run stopped early job_id=%s status=%s batches_done=%d", job.ID, current.Status, batchIndex)
				break
			}
		}

		failed := p.processBatch(ctx, job, skills, rows, batchNumber, request.ModelSpeed)
		if failed {
			rowsErrored = true
		}
	}

	if cancelled {
		return nil
	}

	completedAt := time.Now().UTC()
	finalStatus := domain.JobStatusCompleted
	if rowsErrored {
		finalStatus = domain.JobStatusError
	}
	if err := p.repo.SetJobCompleted(ctx, job.ID, finalStatus, completedAt); err != nil {
		return fmt.Errorf("finalize job %s: %w", job.ID, err)
	}
	p.logf("run finished job_id=%s status=%s batches=%d", job.ID, finalStatus, len(batches))
	return nil
}

// processBatch runs one batch end to end and reports whether any of its rows
// ended in error. Persistence failures are logged and skipped: the loop's
// job is maximal forward progress, and an unrecorded row is surfaced through
// logs and the unrecorded counter for manual reconciliation.
func (p *Processor) processBatch(
	ctx context.Context,
	job *domain.Job,
	skills []*domain.Skill,
	rows []*domain.Row,
	batchNumber int,
	speed inference.ModelSpeed,
) bool {
	rowIDs := make([]string, 0, len(rows))
	for _, row := range rows {
		rowIDs = append(rowIDs, row.ID)
	}
	if err := p.repo.MarkRowsProcessing(ctx, job.ID, rowIDs); err != nil {
		errorID := uuid.NewString()
		p.logf("mark batch processing failed job_id=%s batch=%d error_id=%s err=%v", job.ID, batchNumber, errorID, err)
		p.failBatch(ctx, rows, batchNumber, "could not claim rows for processing", errorID)
		return true
	}

	if job.Kind == domain.JobKindContractReview {
		return p.processContractBatch(ctx, job, skills, rows, batchNumber, speed)
	}
	return p.processQuestionBatch(ctx, job, skills, rows, batchNumber, speed)
}

func (p *Processor) processQuestionBatch(
	ctx context.Context,
	job *domain.Job,
	skills []*domain.Skill,
	rows []*domain.Row,
	batchNumber int,
	speed inference.ModelSpeed,
) bool {
	questions := make([]inference.Question, 0, len(rows))
	for index, row := range rows {
		questions = append(questions, inference.Question{
			Index:   index + 1,
			Text:    row.Question,
			Context: row.Context,
		})
	}

	outputs, err := p.answers.AnswerBatch(ctx, inference.AnswerBatchRequest{
		Questions:   questions,
		Skills:      skills,
		FileContext: job.FileContext,
		ModelSpeed:  speed,
	})
	if err != nil {
		errorID := uuid.NewString()
		p.logf("batch inference failed job_id=%s batch=%d error_id=%s err=%v", job.ID, batchNumber, errorID, err)
		telemetry.BatchesFailed.Inc()
		p.failBatch(ctx, rows, batchNumber, err.Error(), errorID)
		return true
	}
	telemetry.BatchesOK.Inc()

	processedAt := time.Now().UTC()
	for index, row := range rows {
		output, ok := outputs[index+1]
		if !ok {
			// The model skipped this index. No fabricated answer: the row
			// goes back to pending so a later run can pick it up.
			p.logf("row skipped by model job_id=%s row=%d batch=%d", job.ID, row.RowNumber, batchNumber)
			if err := p.repo.ResetRowPending(ctx, row.ID); err != nil {
				telemetry.RowsUnrecorded.Inc()
				p.logf("reset skipped row failed job_id=%s row=%d err=%v", job.ID, row.RowNumber, err)
			}
			continue
		}
		outcome := repository.RowOutcome{
			RowID:       row.ID,
			Output:      &domain.RowOutput{Kind: domain.JobKindQuestionBatch, Answer: output},
			BatchNumber: batchNumber,
			ProcessedAt: processedAt,
		}
		if err := p.repo.SaveRowOutcome(ctx, outcome); err != nil {
			telemetry.RowsUnrecorded.Inc()
			p.logf("persist outcome failed job_id=%s row=%d batch=%d err=%v", job.ID, row.RowNumber, batchNumber, err)
			continue
		}
		telemetry.RowsCompleted.Inc()
	}
	return false
}

func (p *Processor) processContractBatch(
	ctx context.Context,
	job *domain.Job,
	skills []*domain.Skill,
	rows []*domain.Row,
	batchNumber int,
	speed inference.ModelSpeed,
) bool {
	output, err := p.answers.ReviewContract(ctx, inference.ContractReviewRequest{
		ContractText: job.FileContext,
		Skills:       skills,
		ModelSpeed:   speed,
	})
	if err != nil {
		errorID := uuid.NewString()
		p.logf("contract review failed job_id=%s error_id=%s err=%v", job.ID, errorID, err)
		telemetry.BatchesFailed.Inc()
		p.failBatch(ctx, rows, batchNumber, err.Error(), errorID)
		return true
	}
	telemetry.BatchesOK.Inc()

	processedAt := time.Now().UTC()
	for _, row := range rows {
		outcome := repository.RowOutcome{
			RowID:       row.ID,
			Output:      &domain.RowOutput{Kind: domain.JobKindContractReview, Contract: output},
			BatchNumber: batchNumber,
			ProcessedAt: processedAt,
		}
		if err := p.repo.SaveRowOutcome(ctx, outcome); err != nil {
			telemetry.RowsUnrecorded.Inc()
			p.logf("persist contract outcome failed job_id=%s row=%d err=%v", job.ID, row.RowNumber, err)
			continue
		}
		telemetry.RowsCompleted.Inc()
	}
	return false
}

// failBatch marks every row of a failed batch as error. A row that cannot
// even be marked is logged and counted, never silently dropped.
func (p *Processor) failBatch(
	ctx context.Context,
	rows []*domain.Row,
	batchNumber int,
	message, errorID string,
) {
	for _, row := range rows {
		if err := p.repo.MarkRowError(ctx, row.ID, message, errorID, batchNumber); err != nil {
			telemetry.RowsUnrecorded.Inc()
			p.logf("mark row error failed row=%d batch=%d err=%v", row.RowNumber, batchNumber, err)
			continue
		}
		telemetry.RowsFailed.Inc()
	}
}

func pendingRows(rows []*domain.Row) []*domain.Row {
	pending := make([]*domain.Row, 0, len(rows))
	for _, row := range rows {
		if row.Status == domain.RowStatusPending {
			pending = append(pending, row)
		}
	}
	return pending
}

func (p *Processor) logf(format string, args ...any) {
	if p.logger != nil {
		p.logger.Printf(format, args...)
	}
}

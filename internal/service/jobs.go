package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"

	"github.com/answerdesk/answerdesk-back/internal/batch"
	"github.com/answerdesk/answerdesk-back/internal/domain"
	"github.com/answerdesk/answerdesk-back/internal/inference"
	"github.com/answerdesk/answerdesk-back/internal/queue"
	"github.com/answerdesk/answerdesk-back/internal/repository"
	"github.com/answerdesk/answerdesk-back/internal/scoring"
)

var (
	ErrJobNotEditable       = errors.New("job is not editable in its current status")
	ErrJobAlreadyProcessing = errors.New("job is already processing")
	ErrRunCapacity          = errors.New("run capacity exhausted, try again later")
	ErrEmptyQuestionSet     = errors.New("at least one question is required")
	ErrEmptyContract        = errors.New("contract text is required")
)

// JobsService owns the job lifecycle entry points: creation, run start,
// cancellation and status polling. Both execution modes funnel into the same
// batch processor; the producer (async) and the pool (sync fire-and-forget)
// only differ in who calls it.
type JobsService struct {
	repo      repository.JobsRepository
	producer  queue.Producer
	processor *batch.Processor
	pool      *ants.Pool
	runCtx    context.Context
	logger    *log.Logger
}

type JobsServiceDependencies struct {
	Repo      repository.JobsRepository
	Producer  queue.Producer
	Processor *batch.Processor
	Pool      *ants.Pool

	// RunCtx scopes pool-submitted runs to the application lifetime instead
	// of the HTTP request that started them.
	RunCtx context.Context
	Logger *log.Logger
}

func NewJobsService(deps JobsServiceDependencies) *JobsService {
	if deps.RunCtx == nil {
		deps.RunCtx = context.Background()
	}
	return &JobsService{
		repo:      deps.Repo,
		producer:  deps.Producer,
		processor: deps.Processor,
		pool:      deps.Pool,
		runCtx:    deps.RunCtx,
		logger:    deps.Logger,
	}
}

// CreateJobInput carries an uploaded question set or a contract document.
type CreateJobInput struct {
	TenantID     string
	Kind         domain.JobKind
	Name         string
	Questions    []QuestionInput
	ContractText string
}

type QuestionInput struct {
	Question string
	Context  string
	Source   string
}

func (s *JobsService) CreateJob(ctx context.Context, input CreateJobInput) (*domain.Job, error) {
	now := time.Now().UTC()
	job := &domain.Job{
		ID:        uuid.NewString(),
		TenantID:  input.TenantID,
		Kind:      input.Kind,
		Name:      strings.TrimSpace(input.Name),
		Status:    domain.JobStatusDraft,
		CreatedAt: now,
		UpdatedAt: now,
	}

	rows := make([]*domain.Row, 0, len(input.Questions))
	switch input.Kind {
	case domain.JobKindContractReview:
		contract := strings.TrimSpace(input.ContractText)
		if contract == "" {
			return nil, ErrEmptyContract
		}
		job.FileContext = contract
		job.FileContextTokens = scoring.EstimateTokens(contract)
		// Contract review keeps all findings on one synthetic row.
		rows = append(rows, &domain.Row{
			ID:        uuid.NewString(),
			JobID:     job.ID,
			RowNumber: 1,
			Question:  "Full contract review",
			Status:    domain.RowStatusPending,
			CreatedAt: now,
			UpdatedAt: now,
		})
	default:
		if len(input.Questions) == 0 {
			return nil, ErrEmptyQuestionSet
		}
		for index, question := range input.Questions {
			text := strings.TrimSpace(question.Question)
			if text == "" {
				continue
			}
			rows = append(rows, &domain.Row{
				ID:        uuid.NewString(),
				JobID:     job.ID,
				RowNumber: index + 1,
				Question:  text,
				Context:   strings.TrimSpace(question.Context),
				Source:    strings.TrimSpace(question.Source),
				Status:    domain.RowStatusPending,
				CreatedAt: now,
				UpdatedAt: now,
			})
		}
		if len(rows) == 0 {
			return nil, ErrEmptyQuestionSet
		}
	}

	if err := s.repo.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}
	if err := s.repo.CreateRows(ctx, rows); err != nil {
		return nil, fmt.Errorf("create rows: %w", err)
	}
	return job, nil
}

func (s *JobsService) GetJob(ctx context.Context, jobID string) (*domain.Job, error) {
	return s.repo.GetJob(ctx, jobID)
}

func (s *JobsService) ListRows(ctx context.Context, jobID string) ([]*domain.Row, error) {
	return s.repo.ListRows(ctx, jobID)
}

// StartRunInput mirrors the startBatchRun entry point.
type StartRunInput struct {
	JobID      string
	SkillIDs   []string
	BatchSize  int
	ModelSpeed string
}

// StartRun validates the request, then hands the run to the async queue when
// one is configured, otherwise to the supervised pool. Validation failures
// leave all state untouched.
func (s *JobsService) StartRun(ctx context.Context, input StartRunInput) error {
	if input.BatchSize < 1 {
		return batch.ErrInvalidBatchSize
	}
	if len(input.SkillIDs) == 0 {
		return batch.ErrNoSkillsSelected
	}

	job, err := s.repo.GetJob(ctx, input.JobID)
	if err != nil {
		return err
	}
	if job.Status == domain.JobStatusProcessing {
		return ErrJobAlreadyProcessing
	}
	if !job.Status.Editable() {
		return ErrJobNotEditable
	}

	counts, err := s.repo.CountRows(ctx, job.ID)
	if err != nil {
		return fmt.Errorf("count rows: %w", err)
	}
	if counts.Pending == 0 {
		return batch.ErrNoPendingRows
	}

	if _, err := s.repo.GetSkillsByIDs(ctx, input.SkillIDs); err != nil {
		return fmt.Errorf("load selected skills: %w", err)
	}

	request := batch.RunRequest{
		JobID:      job.ID,
		SkillIDs:   input.SkillIDs,
		BatchSize:  input.BatchSize,
		ModelSpeed: inference.NormalizeSpeed(input.ModelSpeed),
	}

	if s.producer != nil {
		message := domain.RunMessage{
			JobID:       job.ID,
			TenantID:    job.TenantID,
			SkillIDs:    input.SkillIDs,
			BatchSize:   input.BatchSize,
			ModelSpeed:  string(request.ModelSpeed),
			RequestedAt: time.Now().UTC(),
		}
		if err := s.producer.Enqueue(ctx, message); err != nil {
			return fmt.Errorf("enqueue run: %w", err)
		}
		return nil
	}

	submitErr := s.pool.Submit(func() {
		if err := s.processor.Run(s.runCtx, request); err != nil {
			if s.logger != nil {
				s.logger.Printf("background run failed job_id=%s err=%v", request.JobID, err)
			}
		}
	})
	if submitErr != nil {
		if errors.Is(submitErr, ants.ErrPoolOverload) {
			return ErrRunCapacity
		}
		return fmt.Errorf("submit run: %w", submitErr)
	}
	return nil
}

// Cancel reverts in-flight rows and the job record in one transaction.
// Completed rows stay exactly as they are.
func (s *JobsService) Cancel(ctx context.Context, jobID string) error {
	if _, err := s.repo.GetJob(ctx, jobID); err != nil {
		return err
	}
	return s.repo.CancelJob(ctx, jobID)
}

// StatusReport is the polling payload.
type StatusReport struct {
	JobID             string           `json:"job_id"`
	Status            domain.JobStatus `json:"status"`
	TotalRows         int              `json:"total_rows"`
	PendingRows       int              `json:"pending_rows"`
	ProcessingRows    int              `json:"processing_rows"`
	CompletedRows     int              `json:"completed_rows"`
	ErrorRows         int              `json:"error_rows"`
	CompletionPercent int              `json:"completion_percent"`
	ErrorMessage      string           `json:"error_message,omitempty"`
}

func (s *JobsService) Status(ctx context.Context, jobID string) (StatusReport, error) {
	job, err := s.repo.GetJob(ctx, jobID)
	if err != nil {
		return StatusReport{}, err
	}
	counts, err := s.repo.CountRows(ctx, jobID)
	if err != nil {
		return StatusReport{}, fmt.Errorf("count rows: %w", err)
	}

	return StatusReport{
		JobID:             job.ID,
		Status:            domain.DeriveStatus(job, counts),
		TotalRows:         counts.Total,
		PendingRows:       counts.Pending,
		ProcessingRows:    counts.Processing,
		CompletedRows:     counts.Completed,
		ErrorRows:         counts.Errored,
		CompletionPercent: counts.CompletionPercent(),
		ErrorMessage:      job.ErrorMessage,
	}, nil
}

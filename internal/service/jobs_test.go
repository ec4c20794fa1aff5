package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/answerdesk/answerdesk-back/internal/domain"
	"github.com/answerdesk/answerdesk-back/internal/repository"
)

type captureProducer struct {
	mu       sync.Mutex
	messages []domain.RunMessage
}

func (p *captureProducer) Enqueue(_ context.Context, message domain.RunMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, message)
	return nil
}

func newJobsService(repo repository.JobsRepository, producer *captureProducer) *JobsService {
	deps := JobsServiceDependencies{Repo: repo}
	if producer != nil {
		deps.Producer = producer
	}
	return NewJobsService(deps)
}

func TestCreateJobAssignsSequentialRowNumbers(t *testing.T) {
	repo := repository.NewMemoryJobsRepository()
	jobsService := newJobsService(repo, nil)

	job, err := jobsService.CreateJob(context.Background(), CreateJobInput{
		TenantID: "tenant-1",
		Kind:     domain.JobKindQuestionBatch,
		Questions: []QuestionInput{
			{Question: "First question?"},
			{Question: "   "},
			{Question: "Second question?"},
		},
	})
	if err != nil {
		t.Fatalf("create job: %v", err)
	}
	if job.Status != domain.JobStatusDraft {
		t.Fatalf("expected draft status, got %s", job.Status)
	}

	rows, err := repo.ListRows(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("list rows: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected blank question dropped, got %d rows", len(rows))
	}
	if rows[0].RowNumber >= rows[1].RowNumber {
		t.Fatalf("expected ascending row numbers, got %d then %d", rows[0].RowNumber, rows[1].RowNumber)
	}
}

func TestCreateContractJobBuildsSyntheticRow(t *testing.T) {
	repo := repository.NewMemoryJobsRepository()
	jobsService := newJobsService(repo, nil)

	job, err := jobsService.CreateJob(context.Background(), CreateJobInput{
		TenantID:     "tenant-1",
		Kind:         domain.JobKindContractReview,
		ContractText: "This Agreement is made between the parties hereto...",
	})
	if err != nil {
		t.Fatalf("create job: %v", err)
	}
	if job.FileContext == "" || job.FileContextTokens == 0 {
		t.Fatalf("expected contract text and token estimate stored on the job")
	}

	rows, err := repo.ListRows(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("list rows: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected single synthetic row, got %d", len(rows))
	}
	if rows[0].RowNumber != 1 {
		t.Fatalf("expected row number 1, got %d", rows[0].RowNumber)
	}
}

func TestCreateJobRejectsEmptyInputs(t *testing.T) {
	repo := repository.NewMemoryJobsRepository()
	jobsService := newJobsService(repo, nil)

	_, err := jobsService.CreateJob(context.Background(), CreateJobInput{
		TenantID: "tenant-1",
		Kind:     domain.JobKindQuestionBatch,
	})
	if !errors.Is(err, ErrEmptyQuestionSet) {
		t.Fatalf("expected ErrEmptyQuestionSet, got %v", err)
	}

	_, err = jobsService.CreateJob(context.Background(), CreateJobInput{
		TenantID: "tenant-1",
		Kind:     domain.JobKindContractReview,
	})
	if !errors.Is(err, ErrEmptyContract) {
		t.Fatalf("expected ErrEmptyContract, got %v", err)
	}
}

func TestStartRunEnqueuesWhenQueueConfigured(t *testing.T) {
	repo := repository.NewMemoryJobsRepository()
	producer := &captureProducer{}
	jobsService := newJobsService(repo, producer)

	job, err := jobsService.CreateJob(context.Background(), CreateJobInput{
		TenantID:  "tenant-1",
		Kind:      domain.JobKindQuestionBatch,
		Questions: []QuestionInput{{Question: "q"}},
	})
	if err != nil {
		t.Fatalf("create job: %v", err)
	}
	err = repo.CreateSkill(context.Background(), &domain.Skill{ID: "skill-1", TenantID: "tenant-1", Title: "A"})
	if err != nil {
		t.Fatalf("create skill: %v", err)
	}

	err = jobsService.StartRun(context.Background(), StartRunInput{
		JobID:      job.ID,
		SkillIDs:   []string{"skill-1"},
		BatchSize:  10,
		ModelSpeed: "turbo",
	})
	if err != nil {
		t.Fatalf("start run: %v", err)
	}

	if len(producer.messages) != 1 {
		t.Fatalf("expected 1 enqueued run, got %d", len(producer.messages))
	}
	message := producer.messages[0]
	if message.JobID != job.ID || message.BatchSize != 10 {
		t.Fatalf("unexpected message: %+v", message)
	}
	if message.ModelSpeed != "fast" {
		t.Fatalf("expected unknown speed normalized to fast, got %s", message.ModelSpeed)
	}
}

func TestStartRunRejectsProcessingJob(t *testing.T) {
	repo := repository.NewMemoryJobsRepository()
	jobsService := newJobsService(repo, &captureProducer{})

	job, err := jobsService.CreateJob(context.Background(), CreateJobInput{
		TenantID:  "tenant-1",
		Kind:      domain.JobKindQuestionBatch,
		Questions: []QuestionInput{{Question: "q"}},
	})
	if err != nil {
		t.Fatalf("create job: %v", err)
	}
	err = repo.CreateSkill(context.Background(), &domain.Skill{ID: "skill-1", TenantID: "tenant-1", Title: "A"})
	if err != nil {
		t.Fatalf("create skill: %v", err)
	}
	if err := repo.UpdateJobStatus(context.Background(), job.ID, domain.JobStatusProcessing, ""); err != nil {
		t.Fatalf("mark processing: %v", err)
	}

	err = jobsService.StartRun(context.Background(), StartRunInput{
		JobID:     job.ID,
		SkillIDs:  []string{"skill-1"},
		BatchSize: 10,
	})
	if !errors.Is(err, ErrJobAlreadyProcessing) {
		t.Fatalf("expected ErrJobAlreadyProcessing, got %v", err)
	}
	if len(jobsService.producer.(*captureProducer).messages) != 0 {
		t.Fatalf("expected nothing enqueued")
	}
}

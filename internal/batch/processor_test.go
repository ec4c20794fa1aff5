package batch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/answerdesk/answerdesk-back/internal/domain"
	"github.com/answerdesk/answerdesk-back/internal/inference"
	"github.com/answerdesk/answerdesk-back/internal/repository"
)

type fakeAnswerer struct {
	mu            sync.Mutex
	answerCalls   int
	answerFn      func(call int, request inference.AnswerBatchRequest) (map[int]*domain.AnswerOutput, error)
	contractCalls int
	contractFn    func(request inference.ContractReviewRequest) (*domain.ContractOutput, error)
}

func (f *fakeAnswerer) AnswerBatch(
	_ context.Context,
	request inference.AnswerBatchRequest,
) (map[int]*domain.AnswerOutput, error) {
	f.mu.Lock()
	f.answerCalls++
	call := f.answerCalls
	f.mu.Unlock()
	return f.answerFn(call, request)
}

func (f *fakeAnswerer) ReviewContract(
	_ context.Context,
	request inference.ContractReviewRequest,
) (*domain.ContractOutput, error) {
	f.mu.Lock()
	f.contractCalls++
	f.mu.Unlock()
	return f.contractFn(request)
}

func answerEverything(_ int, request inference.AnswerBatchRequest) (map[int]*domain.AnswerOutput, error) {
	outputs := make(map[int]*domain.AnswerOutput, len(request.Questions))
	for _, question := range request.Questions {
		outputs[question.Index] = &domain.AnswerOutput{
			Response:   "Answer to: " + question.Text,
			Confidence: 0.9,
		}
	}
	return outputs, nil
}

func seedQuestionJob(t *testing.T, repo *repository.MemoryJobsRepository, rowCount int) *domain.Job {
	t.Helper()
	now := time.Now().UTC()
	job := &domain.Job{
		ID:        "job-1",
		TenantID:  "tenant-1",
		Kind:      domain.JobKindQuestionBatch,
		Status:    domain.JobStatusInProgress,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := repo.CreateJob(context.Background(), job); err != nil {
		t.Fatalf("seed job: %v", err)
	}

	rows := make([]*domain.Row, 0, rowCount)
	for index := 0; index < rowCount; index++ {
		rows = append(rows, &domain.Row{
			ID:        fmt.Sprintf("row-%d", index+1),
			JobID:     job.ID,
			RowNumber: index + 1,
			Question:  fmt.Sprintf("Question %d?", index+1),
			Status:    domain.RowStatusPending,
			CreatedAt: now,
			UpdatedAt: now,
		})
	}
	if err := repo.CreateRows(context.Background(), rows); err != nil {
		t.Fatalf("seed rows: %v", err)
	}
	return job
}

func seedSkill(t *testing.T, repo *repository.MemoryJobsRepository, id string) {
	t.Helper()
	err := repo.CreateSkill(context.Background(), &domain.Skill{
		ID:       id,
		TenantID: "tenant-1",
		Title:    "Security Policy",
		Content:  "Answers about security posture.",
	})
	if err != nil {
		t.Fatalf("seed skill: %v", err)
	}
}

func TestRunCompletesAllRows(t *testing.T) {
	repo := repository.NewMemoryJobsRepository()
	job := seedQuestionJob(t, repo, 25)
	seedSkill(t, repo, "skill-1")

	answers := &fakeAnswerer{answerFn: answerEverything}
	processor := NewProcessor(repo, answers, nil)

	err := processor.Run(context.Background(), RunRequest{
		JobID:     job.ID,
		SkillIDs:  []string{"skill-1"},
		BatchSize: 10,
	})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	if answers.answerCalls != 3 {
		t.Fatalf("expected 3 inference calls, got %d", answers.answerCalls)
	}

	updated, err := repo.GetJob(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("load job: %v", err)
	}
	if updated.Status != domain.JobStatusCompleted {
		t.Fatalf("expected job status %s, got %s", domain.JobStatusCompleted, updated.Status)
	}
	if updated.CompletedAt == nil {
		t.Fatalf("expected completed_at to be set")
	}

	counts, err := repo.CountRows(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("count rows: %v", err)
	}
	if counts.Completed != 25 {
		t.Fatalf("expected 25 completed rows, got %d", counts.Completed)
	}

	rows, err := repo.ListRows(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("list rows: %v", err)
	}
	for _, row := range rows {
		if row.Output == nil || row.Output.Answer == nil {
			t.Fatalf("expected answer output on row %d", row.RowNumber)
		}
		if row.Output.Kind != domain.JobKindQuestionBatch {
			t.Fatalf("expected question output kind, got %s", row.Output.Kind)
		}
		if row.BatchNumber < 1 || row.BatchNumber > 3 {
			t.Fatalf("expected batch number in [1,3], got %d", row.BatchNumber)
		}
	}
}

func TestRunIsolatesSingleBatchFailure(t *testing.T) {
	repo := repository.NewMemoryJobsRepository()
	job := seedQuestionJob(t, repo, 25)
	seedSkill(t, repo, "skill-1")

	answers := &fakeAnswerer{
		answerFn: func(call int, request inference.AnswerBatchRequest) (map[int]*domain.AnswerOutput, error) {
			if call == 2 {
				return nil, errors.New("provider returned 500")
			}
			return answerEverything(call, request)
		},
	}
	processor := NewProcessor(repo, answers, nil)

	err := processor.Run(context.Background(), RunRequest{
		JobID:     job.ID,
		SkillIDs:  []string{"skill-1"},
		BatchSize: 10,
	})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	if answers.answerCalls != 3 {
		t.Fatalf("expected all 3 batches attempted, got %d calls", answers.answerCalls)
	}

	counts, err := repo.CountRows(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("count rows: %v", err)
	}
	if counts.Completed != 15 {
		t.Fatalf("expected 15 completed rows, got %d", counts.Completed)
	}
	if counts.Errored != 10 {
		t.Fatalf("expected 10 errored rows, got %d", counts.Errored)
	}
	if counts.Processing != 0 {
		t.Fatalf("expected no rows left processing, got %d", counts.Processing)
	}

	rows, err := repo.ListRows(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("list rows: %v", err)
	}
	for _, row := range rows {
		if row.RowNumber >= 11 && row.RowNumber <= 20 {
			if row.Status != domain.RowStatusError {
				t.Fatalf("expected row %d errored, got %s", row.RowNumber, row.Status)
			}
			if row.ErrorID == "" {
				t.Fatalf("expected error id on row %d", row.RowNumber)
			}
			continue
		}
		if row.Status != domain.RowStatusCompleted {
			t.Fatalf("expected row %d completed, got %s", row.RowNumber, row.Status)
		}
	}

	updated, err := repo.GetJob(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("load job: %v", err)
	}
	if updated.Status != domain.JobStatusError {
		t.Fatalf("expected job status %s, got %s", domain.JobStatusError, updated.Status)
	}
}

func TestRunResetsModelSkippedRows(t *testing.T) {
	repo := repository.NewMemoryJobsRepository()
	job := seedQuestionJob(t, repo, 3)
	seedSkill(t, repo, "skill-1")

	answers := &fakeAnswerer{
		answerFn: func(call int, request inference.AnswerBatchRequest) (map[int]*domain.AnswerOutput, error) {
			outputs, _ := answerEverything(call, request)
			delete(outputs, 2)
			return outputs, nil
		},
	}
	processor := NewProcessor(repo, answers, nil)

	err := processor.Run(context.Background(), RunRequest{
		JobID:     job.ID,
		SkillIDs:  []string{"skill-1"},
		BatchSize: 10,
	})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	rows, err := repo.ListRows(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("list rows: %v", err)
	}
	for _, row := range rows {
		if row.RowNumber == 2 {
			if row.Status != domain.RowStatusPending {
				t.Fatalf("expected skipped row back to pending, got %s", row.Status)
			}
			if row.Output != nil {
				t.Fatalf("expected no fabricated output on skipped row")
			}
			continue
		}
		if row.Status != domain.RowStatusCompleted {
			t.Fatalf("expected row %d completed, got %s", row.RowNumber, row.Status)
		}
	}
}

func TestRunValidationLeavesStateUntouched(t *testing.T) {
	repo := repository.NewMemoryJobsRepository()
	job := seedQuestionJob(t, repo, 2)
	seedSkill(t, repo, "skill-1")

	answers := &fakeAnswerer{answerFn: answerEverything}
	processor := NewProcessor(repo, answers, nil)

	cases := []struct {
		name    string
		request RunRequest
		wantErr error
	}{
		{
			name:    "zero batch size",
			request: RunRequest{JobID: job.ID, SkillIDs: []string{"skill-1"}, BatchSize: 0},
			wantErr: ErrInvalidBatchSize,
		},
		{
			name:    "no skills",
			request: RunRequest{JobID: job.ID, SkillIDs: nil, BatchSize: 10},
			wantErr: ErrNoSkillsSelected,
		},
	}
	for _, testCase := range cases {
		t.Run(testCase.name, func(t *testing.T) {
			err := processor.Run(context.Background(), testCase.request)
			if !errors.Is(err, testCase.wantErr) {
				t.Fatalf("expected %v, got %v", testCase.wantErr, err)
			}

			updated, loadErr := repo.GetJob(context.Background(), job.ID)
			if loadErr != nil {
				t.Fatalf("load job: %v", loadErr)
			}
			if updated.Status != domain.JobStatusInProgress {
				t.Fatalf("expected job untouched in %s, got %s", domain.JobStatusInProgress, updated.Status)
			}
			if answers.answerCalls != 0 {
				t.Fatalf("expected no inference calls, got %d", answers.answerCalls)
			}
		})
	}
}

func TestRunRejectsJobWithoutPendingRows(t *testing.T) {
	repo := repository.NewMemoryJobsRepository()
	job := seedQuestionJob(t, repo, 2)
	seedSkill(t, repo, "skill-1")

	answers := &fakeAnswerer{answerFn: answerEverything}
	processor := NewProcessor(repo, answers, nil)

	request := RunRequest{JobID: job.ID, SkillIDs: []string{"skill-1"}, BatchSize: 10}
	if err := processor.Run(context.Background(), request); err != nil {
		t.Fatalf("first run failed: %v", err)
	}

	err := processor.Run(context.Background(), request)
	if !errors.Is(err, ErrNoPendingRows) {
		t.Fatalf("expected %v on re-run, got %v", ErrNoPendingRows, err)
	}
	if answers.answerCalls != 1 {
		t.Fatalf("expected completed rows not reprocessed, got %d calls", answers.answerCalls)
	}
}

func TestRunStopsBetweenBatchesOnCancellation(t *testing.T) {
	repo := repository.NewMemoryJobsRepository()
	job := seedQuestionJob(t, repo, 20)
	seedSkill(t, repo, "skill-1")

	answers := &fakeAnswerer{}
	answers.answerFn = func(call int, request inference.AnswerBatchRequest) (map[int]*domain.AnswerOutput, error) {
		if call == 1 {
			// Cancellation lands while the first batch is in flight; the batch
			// is allowed to finish and write its outcomes.
			if err := repo.CancelJob(context.Background(), job.ID); err != nil {
				t.Errorf("cancel during batch: %v", err)
			}
		}
		return answerEverything(call, request)
	}
	processor := NewProcessor(repo, answers, nil)

	err := processor.Run(context.Background(), RunRequest{
		JobID:     job.ID,
		SkillIDs:  []string{"skill-1"},
		BatchSize: 10,
	})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	if answers.answerCalls != 1 {
		t.Fatalf("expected run to stop after first batch, got %d calls", answers.answerCalls)
	}

	updated, loadErr := repo.GetJob(context.Background(), job.ID)
	if loadErr != nil {
		t.Fatalf("load job: %v", loadErr)
	}
	if updated.Status != domain.JobStatusInProgress {
		t.Fatalf("expected cancelled job in %s, got %s", domain.JobStatusInProgress, updated.Status)
	}
	if updated.CompletedAt != nil {
		t.Fatalf("expected cancelled run not to finalize the job")
	}

	counts, countErr := repo.CountRows(context.Background(), job.ID)
	if countErr != nil {
		t.Fatalf("count rows: %v", countErr)
	}
	if counts.Completed != 10 {
		t.Fatalf("expected first batch outcomes kept, got %d completed", counts.Completed)
	}
	if counts.Pending != 10 {
		t.Fatalf("expected second batch untouched, got %d pending", counts.Pending)
	}
}

func TestRunContractReviewWritesSingleRow(t *testing.T) {
	repo := repository.NewMemoryJobsRepository()
	now := time.Now().UTC()
	job := &domain.Job{
		ID:          "job-contract",
		TenantID:    "tenant-1",
		Kind:        domain.JobKindContractReview,
		Status:      domain.JobStatusInProgress,
		FileContext: "This Agreement is made between the parties...",
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := repo.CreateJob(context.Background(), job); err != nil {
		t.Fatalf("seed job: %v", err)
	}
	err := repo.CreateRows(context.Background(), []*domain.Row{{
		ID:        "row-1",
		JobID:     job.ID,
		RowNumber: 1,
		Question:  "Full contract review",
		Status:    domain.RowStatusPending,
	}})
	if err != nil {
		t.Fatalf("seed row: %v", err)
	}
	seedSkill(t, repo, "skill-1")

	answers := &fakeAnswerer{
		contractFn: func(request inference.ContractReviewRequest) (*domain.ContractOutput, error) {
			return &domain.ContractOutput{
				OverallRating: "caution",
				Summary:       "Two clauses need review.",
				Findings: []domain.ContractFinding{
					{ID: "finding-1", Issue: "Unlimited liability", ReviewStatus: "open"},
				},
			}, nil
		},
	}
	processor := NewProcessor(repo, answers, nil)

	runErr := processor.Run(context.Background(), RunRequest{
		JobID:     job.ID,
		SkillIDs:  []string{"skill-1"},
		BatchSize: 10,
	})
	if runErr != nil {
		t.Fatalf("run failed: %v", runErr)
	}

	rows, listErr := repo.ListRows(context.Background(), job.ID)
	if listErr != nil {
		t.Fatalf("list rows: %v", listErr)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rows))
	}
	row := rows[0]
	if row.Status != domain.RowStatusCompleted {
		t.Fatalf("expected completed row, got %s", row.Status)
	}
	if row.Output == nil || row.Output.Contract == nil {
		t.Fatalf("expected contract output on row")
	}
	if row.Output.Kind != domain.JobKindContractReview {
		t.Fatalf("expected contract output kind, got %s", row.Output.Kind)
	}
	if len(row.Output.Contract.Findings) != 1 {
		t.Fatalf("expected 1 finding, got %d", len(row.Output.Contract.Findings))
	}
}

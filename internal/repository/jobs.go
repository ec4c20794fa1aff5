package repository

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/answerdesk/answerdesk-back/internal/domain"
)

var ErrNotFound = errors.New("resource not found")

// RowOutcome is one row's final state for a processing attempt.
type RowOutcome struct {
	RowID       string
	Output      *domain.RowOutput
	BatchNumber int
	ProcessedAt time.Time
}

// JobsRepository abstracts persistence for jobs, rows and skills. It is the
// single source of truth for run progress: polling reads must observe every
// committed row write immediately.
type JobsRepository interface {
	CreateJob(ctx context.Context, job *domain.Job) error
	GetJob(ctx context.Context, jobID string) (*domain.Job, error)
	UpdateJobStatus(ctx context.Context, jobID string, status domain.JobStatus, errorMessage string) error
	SetJobCompleted(ctx context.Context, jobID string, status domain.JobStatus, completedAt time.Time) error

	CreateRows(ctx context.Context, rows []*domain.Row) error
	ListRows(ctx context.Context, jobID string) ([]*domain.Row, error)
	MarkRowsProcessing(ctx context.Context, jobID string, rowIDs []string) error
	SaveRowOutcome(ctx context.Context, outcome RowOutcome) error
	MarkRowError(ctx context.Context, rowID, message, errorID string, batchNumber int) error
	ResetRowPending(ctx context.Context, rowID string) error
	CountRows(ctx context.Context, jobID string) (domain.StatusCounts, error)

	// CancelJob atomically reverts every processing row to pending and the
	// job to in_progress. Completed and errored rows are untouched.
	CancelJob(ctx context.Context, jobID string) error

	CreateSkill(ctx context.Context, skill *domain.Skill) error
	ListSkills(ctx context.Context, tenantID string) ([]*domain.Skill, error)
	GetSkillsByIDs(ctx context.Context, ids []string) ([]*domain.Skill, error)

	// FindStaleProcessingJobs returns jobs stuck in processing with no write
	// activity since the cutoff, for the reconciliation sweep.
	FindStaleProcessingJobs(ctx context.Context, cutoff time.Time) ([]string, error)
}

// MemoryJobsRepository keeps everything in process memory. It backs local
// development and the package tests.
type MemoryJobsRepository struct {
	mu     sync.RWMutex
	jobs   map[string]*domain.Job
	rows   map[string]*domain.Row
	skills map[string]*domain.Skill
}

func NewMemoryJobsRepository() *MemoryJobsRepository {
	return &MemoryJobsRepository{
		jobs:   make(map[string]*domain.Job),
		rows:   make(map[string]*domain.Row),
		skills: make(map[string]*domain.Skill),
	}
}

func (r *MemoryJobsRepository) CreateJob(_ context.Context, job *domain.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.jobs[job.ID] = cloneJob(job)
	return nil
}

func (r *MemoryJobsRepository) GetJob(_ context.Context, jobID string) (*domain.Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	job, ok := r.jobs[jobID]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneJob(job), nil
}

func (r *MemoryJobsRepository) UpdateJobStatus(
	_ context.Context,
	jobID string,
	status domain.JobStatus,
	errorMessage string,
) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[jobID]
	if !ok {
		return ErrNotFound
	}
	job.Status = status
	job.ErrorMessage = errorMessage
	job.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *MemoryJobsRepository) SetJobCompleted(
	_ context.Context,
	jobID string,
	status domain.JobStatus,
	completedAt time.Time,
) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[jobID]
	if !ok {
		return ErrNotFound
	}
	job.Status = status
	job.CompletedAt = &completedAt
	job.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *MemoryJobsRepository) CreateRows(_ context.Context, rows []*domain.Row) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, row := range rows {
		r.rows[row.ID] = cloneRow(row)
	}
	return nil
}

func (r *MemoryJobsRepository) ListRows(_ context.Context, jobID string) ([]*domain.Row, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rows := make([]*domain.Row, 0)
	for _, row := range r.rows {
		if row.JobID == jobID {
			rows = append(rows, cloneRow(row))
		}
	}
	sort.Slice(rows, func(i, j int) bool {
		return rows[i].RowNumber < rows[j].RowNumber
	})
	return rows, nil
}

func (r *MemoryJobsRepository) MarkRowsProcessing(_ context.Context, jobID string, rowIDs []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now().UTC()
	for _, rowID := range rowIDs {
		row, ok := r.rows[rowID]
		if !ok || row.JobID != jobID {
			return ErrNotFound
		}
		row.Status = domain.RowStatusProcessing
		row.UpdatedAt = now
	}
	if job, ok := r.jobs[jobID]; ok {
		job.UpdatedAt = now
	}
	return nil
}

func (r *MemoryJobsRepository) SaveRowOutcome(_ context.Context, outcome RowOutcome) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	row, ok := r.rows[outcome.RowID]
	if !ok {
		return ErrNotFound
	}
	processedAt := outcome.ProcessedAt
	row.Status = domain.RowStatusCompleted
	row.Output = cloneOutput(outcome.Output)
	row.BatchNumber = outcome.BatchNumber
	row.ErrorMessage = ""
	row.ErrorID = ""
	row.ProcessedAt = &processedAt
	row.UpdatedAt = time.Now().UTC()
	if job, ok := r.jobs[row.JobID]; ok {
		job.UpdatedAt = row.UpdatedAt
	}
	return nil
}

func (r *MemoryJobsRepository) MarkRowError(
	_ context.Context,
	rowID, message, errorID string,
	batchNumber int,
) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	row, ok := r.rows[rowID]
	if !ok {
		return ErrNotFound
	}
	row.Status = domain.RowStatusError
	row.ErrorMessage = message
	row.ErrorID = errorID
	row.BatchNumber = batchNumber
	row.UpdatedAt = time.Now().UTC()
	if job, ok := r.jobs[row.JobID]; ok {
		job.UpdatedAt = row.UpdatedAt
	}
	return nil
}

func (r *MemoryJobsRepository) ResetRowPending(_ context.Context, rowID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	row, ok := r.rows[rowID]
	if !ok {
		return ErrNotFound
	}
	row.Status = domain.RowStatusPending
	row.BatchNumber = 0
	row.UpdatedAt = time.Now().UTC()
	if job, ok := r.jobs[row.JobID]; ok {
		job.UpdatedAt = row.UpdatedAt
	}
	return nil
}

func (r *MemoryJobsRepository) CountRows(_ context.Context, jobID string) (domain.StatusCounts, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	counts := domain.StatusCounts{}
	for _, row := range r.rows {
		if row.JobID != jobID {
			continue
		}
		counts.Total++
		switch row.Status {
		case domain.RowStatusPending:
			counts.Pending++
		case domain.RowStatusProcessing:
			counts.Processing++
		case domain.RowStatusCompleted:
			counts.Completed++
		case domain.RowStatusError:
			counts.Errored++
		}
	}
	return counts, nil
}

func (r *MemoryJobsRepository) CancelJob(_ context.Context, jobID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[jobID]
	if !ok {
		return ErrNotFound
	}

	now := time.Now().UTC()
	for _, row := range r.rows {
		if row.JobID != jobID || row.Status != domain.RowStatusProcessing {
			continue
		}
		row.Status = domain.RowStatusPending
		row.BatchNumber = 0
		row.UpdatedAt = now
	}
	job.Status = domain.JobStatusInProgress
	job.ErrorMessage = ""
	job.UpdatedAt = now
	return nil
}

func (r *MemoryJobsRepository) CreateSkill(_ context.Context, skill *domain.Skill) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	clone := *skill
	r.skills[skill.ID] = &clone
	return nil
}

func (r *MemoryJobsRepository) ListSkills(_ context.Context, tenantID string) ([]*domain.Skill, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	skills := make([]*domain.Skill, 0)
	for _, skill := range r.skills {
		if tenantID != "" && !strings.EqualFold(skill.TenantID, tenantID) {
			continue
		}
		clone := *skill
		skills = append(skills, &clone)
	}
	sort.Slice(skills, func(i, j int) bool {
		return skills[i].Title < skills[j].Title
	})
	return skills, nil
}

func (r *MemoryJobsRepository) GetSkillsByIDs(_ context.Context, ids []string) ([]*domain.Skill, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	skills := make([]*domain.Skill, 0, len(ids))
	for _, id := range ids {
		skill, ok := r.skills[id]
		if !ok {
			return nil, ErrNotFound
		}
		clone := *skill
		skills = append(skills, &clone)
	}
	return skills, nil
}

func (r *MemoryJobsRepository) FindStaleProcessingJobs(
	_ context.Context,
	cutoff time.Time,
) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stale := make([]string, 0)
	for _, job := range r.jobs {
		if job.Status == domain.JobStatusProcessing && job.UpdatedAt.Before(cutoff) {
			stale = append(stale, job.ID)
		}
	}
	sort.Strings(stale)
	return stale, nil
}

func cloneJob(job *domain.Job) *domain.Job {
	if job == nil {
		return nil
	}
	clone := *job
	clone.SkillIDs = append([]string(nil), job.SkillIDs...)
	if job.CompletedAt != nil {
		completedAt := *job.CompletedAt
		clone.CompletedAt = &completedAt
	}
	return &clone
}

func cloneRow(row *domain.Row) *domain.Row {
	if row == nil {
		return nil
	}
	clone := *row
	clone.Output = cloneOutput(row.Output)
	if row.ProcessedAt != nil {
		processedAt := *row.ProcessedAt
		clone.ProcessedAt = &processedAt
	}
	return &clone
}

func cloneOutput(output *domain.RowOutput) *domain.RowOutput {
	if output == nil {
		return nil
	}
	clone := domain.RowOutput{Kind: output.Kind}
	if output.Answer != nil {
		answer := *output.Answer
		answer.Sources = append([]string(nil), output.Answer.Sources...)
		clone.Answer = &answer
	}
	if output.Contract != nil {
		contract := *output.Contract
		contract.Findings = append([]domain.ContractFinding(nil), output.Contract.Findings...)
		clone.Contract = &contract
	}
	return &clone
}

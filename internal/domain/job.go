package domain

import (
	"time"
)

type JobKind string

const (
	JobKindQuestionBatch  JobKind = "question_batch"
	JobKindContractReview JobKind = "contract_review"
)

type JobStatus string

const (
	JobStatusDraft      JobStatus = "draft"
	JobStatusInProgress JobStatus = "in_progress"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusError      JobStatus = "error"
	JobStatusFinalized  JobStatus = "finalized"
)

// Editable reports whether the job accepts user mutations (row edits, skill
// selection changes) in this status.
func (s JobStatus) Editable() bool {
	return s == JobStatusDraft || s == JobStatusInProgress
}

// Job is one unit of bulk work: a batch of uploaded questions or a single
// contract under review. Rows hang off the job ordered by row number.
type Job struct {
	ID                string
	TenantID          string
	Kind              JobKind
	Name              string
	Status            JobStatus
	SkillIDs          []string
	FileContext       string
	FileContextTokens int
	ErrorMessage      string
	CompletedAt       *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// RunMessage is the transport format for async run requests sent to queue
// backends. Both execution modes end up in the same batch processor.
type RunMessage struct {
	JobID       string    `json:"job_id"`
	TenantID    string    `json:"tenant_id"`
	SkillIDs    []string  `json:"skill_ids"`
	BatchSize   int       `json:"batch_size"`
	ModelSpeed  string    `json:"model_speed"`
	Attempt     int       `json:"attempt"`
	RequestedAt time.Time `json:"requested_at"`
}

// StatusCounts is the per-status row breakdown served to polling clients.
type StatusCounts struct {
	Total      int
	Pending    int
	Processing int
	Completed  int
	Errored    int
}

// CompletionPercent returns completed/total rounded to the nearest integer.
func (c StatusCounts) CompletionPercent() int {
	if c.Total == 0 {
		return 0
	}
	return int(float64(c.Completed)/float64(c.Total)*100 + 0.5)
}

// DeriveStatus resolves the job status visible to polling clients. The job
// record wins while a run is active or finalized; otherwise any errored row
// drags the whole job into error.
func DeriveStatus(job *Job, counts StatusCounts) JobStatus {
	switch {
	case job.Status == JobStatusProcessing:
		return JobStatusProcessing
	case job.Status == JobStatusError || counts.Errored > 0:
		return JobStatusError
	case job.Status == JobStatusCompleted:
		return JobStatusCompleted
	case job.Status == JobStatusFinalized:
		return JobStatusFinalized
	default:
		return JobStatusInProgress
	}
}

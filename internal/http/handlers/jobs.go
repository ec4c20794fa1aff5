package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/answerdesk/answerdesk-back/internal/batch"
	"github.com/answerdesk/answerdesk-back/internal/domain"
	"github.com/answerdesk/answerdesk-back/internal/repository"
	"github.com/answerdesk/answerdesk-back/internal/service"
)

type createJobRequest struct {
	TenantID     string            `json:"tenant_id"`
	Kind         string            `json:"kind"`
	Name         string            `json:"name"`
	Questions    []questionPayload `json:"questions,omitempty"`
	ContractText string            `json:"contract_text,omitempty"`
}

type questionPayload struct {
	Question string `json:"question"`
	Context  string `json:"context,omitempty"`
	Source   string `json:"source,omitempty"`
}

type startRunRequest struct {
	SkillIDs   []string `json:"skill_ids"`
	BatchSize  int      `json:"batch_size,omitempty"`
	ModelSpeed string   `json:"model_speed,omitempty"`
}

// Jobs handles the collection route: POST /v1/jobs.
func (api *API) Jobs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}

	var request createJobRequest
	if err := decodeJSON(r, &request); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "malformed JSON payload")
		return
	}

	tenantID := strings.TrimSpace(request.TenantID)
	if tenantID == "" || len(tenantID) > 64 {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "tenant_id is required")
		return
	}

	kind := domain.JobKind(strings.TrimSpace(request.Kind))
	switch kind {
	case "":
		kind = domain.JobKindQuestionBatch
	case domain.JobKindQuestionBatch, domain.JobKindContractReview:
	default:
		writeError(w, r, http.StatusBadRequest, "invalid_request", "unknown job kind")
		return
	}

	idempotencyKey := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	payloadHash := hashPayload(request)
	if idempotencyKey != "" {
		if entry, ok := api.idempotency.Get(idempotencyKey); ok {
			if entry.PayloadHash != payloadHash {
				writeError(w, r, http.StatusConflict, "idempotency_conflict", "idempotency key reused with a different payload")
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"job_id": entry.JobID, "status": domain.JobStatusDraft})
			return
		}
	}

	questions := make([]service.QuestionInput, 0, len(request.Questions))
	for _, question := range request.Questions {
		questions = append(questions, service.QuestionInput{
			Question: question.Question,
			Context:  question.Context,
			Source:   question.Source,
		})
	}

	job, err := api.jobsService.CreateJob(r.Context(), service.CreateJobInput{
		TenantID:     tenantID,
		Kind:         kind,
		Name:         request.Name,
		Questions:    questions,
		ContractText: request.ContractText,
	})
	if err != nil {
		switch {
		case errors.Is(err, service.ErrEmptyQuestionSet), errors.Is(err, service.ErrEmptyContract):
			writeError(w, r, http.StatusBadRequest, "invalid_request", err.Error())
		default:
			writeError(w, r, http.StatusInternalServerError, "internal_error", "failed to create job")
		}
		return
	}

	if idempotencyKey != "" {
		api.idempotency.Put(idempotencyKey, payloadHash, job.ID)
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"job_id":     job.ID,
		"status":     job.Status,
		"kind":       job.Kind,
		"created_at": job.CreatedAt,
	})
}

// JobByID dispatches /v1/jobs/{id} and its subroutes.
func (api *API) JobByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/jobs/")
	jobID, action, _ := strings.Cut(rest, "/")
	jobID = strings.TrimSpace(jobID)
	if jobID == "" {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "job_id is required")
		return
	}

	switch action {
	case "":
		api.jobDetail(w, r, jobID)
	case "status":
		api.jobStatus(w, r, jobID)
	case "runs":
		api.startRun(w, r, jobID)
	case "cancel":
		api.cancelJob(w, r, jobID)
	default:
		writeError(w, r, http.StatusNotFound, "not_found", "unknown route")
	}
}

func (api *API) jobDetail(w http.ResponseWriter, r *http.Request, jobID string) {
	if r.Method != http.MethodGet {
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}

	job, err := api.jobsService.GetJob(r.Context(), jobID)
	if err != nil {
		writeRepoError(w, r, err, "failed to load job")
		return
	}
	rows, err := api.jobsService.ListRows(r.Context(), jobID)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "internal_error", "failed to load rows")
		return
	}

	rowPayloads := make([]map[string]any, 0, len(rows))
	for _, row := range rows {
		payload := map[string]any{
			"row_id":     row.ID,
			"row_number": row.RowNumber,
			"question":   row.Question,
			"status":     row.Status,
			"updated_at": row.UpdatedAt,
		}
		if row.Output != nil {
			payload["output"] = row.Output
		}
		if row.ErrorMessage != "" {
			payload["error"] = row.ErrorMessage
		}
		rowPayloads = append(rowPayloads, payload)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"job_id":     job.ID,
		"tenant_id":  job.TenantID,
		"kind":       job.Kind,
		"name":       job.Name,
		"status":     job.Status,
		"created_at": job.CreatedAt,
		"updated_at": job.UpdatedAt,
		"rows":       rowPayloads,
	})
}

// jobStatus is the polling endpoint: proxies and intermediaries must not
// cache it, otherwise clients see stale progress.
func (api *API) jobStatus(w http.ResponseWriter, r *http.Request, jobID string) {
	if r.Method != http.MethodGet {
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}

	report, err := api.jobsService.Status(r.Context(), jobID)
	if err != nil {
		writeRepoError(w, r, err, "failed to load job status")
		return
	}

	w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate")
	w.Header().Set("Pragma", "no-cache")
	writeJSON(w, http.StatusOK, report)
}

func (api *API) startRun(w http.ResponseWriter, r *http.Request, jobID string) {
	if r.Method != http.MethodPost {
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}

	var request startRunRequest
	if err := decodeJSON(r, &request); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "malformed JSON payload")
		return
	}
	if request.BatchSize == 0 {
		request.BatchSize = api.defaultBatchSize
	}

	err := api.jobsService.StartRun(r.Context(), service.StartRunInput{
		JobID:      jobID,
		SkillIDs:   request.SkillIDs,
		BatchSize:  request.BatchSize,
		ModelSpeed: request.ModelSpeed,
	})
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrNotFound):
			writeError(w, r, http.StatusNotFound, "not_found", "job or skill not found")
		case errors.Is(err, batch.ErrInvalidBatchSize):
			writeError(w, r, http.StatusBadRequest, "invalid_request", "batch_size must be at least 1")
		case errors.Is(err, batch.ErrNoSkillsSelected):
			writeError(w, r, http.StatusBadRequest, "invalid_request", "at least one skill is required")
		case errors.Is(err, batch.ErrNoPendingRows):
			writeError(w, r, http.StatusConflict, "no_pending_rows", "job has no pending rows to process")
		case errors.Is(err, service.ErrJobAlreadyProcessing):
			writeError(w, r, http.StatusConflict, "already_processing", "job is already processing")
		case errors.Is(err, service.ErrJobNotEditable):
			writeError(w, r, http.StatusConflict, "not_editable", "job is not editable in its current status")
		case errors.Is(err, service.ErrRunCapacity):
			writeError(w, r, http.StatusServiceUnavailable, "capacity", "run capacity exhausted, try again later")
		default:
			writeError(w, r, http.StatusInternalServerError, "internal_error", "failed to start run")
		}
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"job_id": jobID,
		"status": domain.JobStatusProcessing,
	})
}

func (api *API) cancelJob(w http.ResponseWriter, r *http.Request, jobID string) {
	if r.Method != http.MethodPost {
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}

	if err := api.jobsService.Cancel(r.Context(), jobID); err != nil {
		writeRepoError(w, r, err, "failed to cancel job")
		return
	}

	report, err := api.jobsService.Status(r.Context(), jobID)
	if err != nil {
		writeRepoError(w, r, err, "failed to load job status")
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func writeRepoError(w http.ResponseWriter, r *http.Request, err error, fallback string) {
	if errors.Is(err, repository.ErrNotFound) {
		writeError(w, r, http.StatusNotFound, "not_found", "job not found")
		return
	}
	writeError(w, r, http.StatusInternalServerError, "internal_error", fallback)
}

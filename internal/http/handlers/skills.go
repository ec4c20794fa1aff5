package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/answerdesk/answerdesk-back/internal/repository"
	"github.com/answerdesk/answerdesk-back/internal/scoring"
	"github.com/answerdesk/answerdesk-back/internal/service"
)

type createSkillRequest struct {
	TenantID string `json:"tenant_id"`
	Title    string `json:"title"`
	Scope    string `json:"scope,omitempty"`
	Content  string `json:"content,omitempty"`
}

type matchSkillsRequest struct {
	JobID      string `json:"job_id"`
	Mode       string `json:"mode,omitempty"`
	ModelSpeed string `json:"model_speed,omitempty"`
}

type estimateRequest struct {
	JobID               string   `json:"job_id"`
	SkillIDs            []string `json:"skill_ids"`
	ContextWindowTokens int      `json:"context_window_tokens,omitempty"`
}

// Skills handles the collection route: POST and GET /v1/skills.
func (api *API) Skills(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		api.createSkill(w, r)
	case http.MethodGet:
		api.listSkills(w, r)
	default:
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	}
}

func (api *API) createSkill(w http.ResponseWriter, r *http.Request) {
	var request createSkillRequest
	if err := decodeJSON(r, &request); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "malformed JSON payload")
		return
	}
	tenantID := strings.TrimSpace(request.TenantID)
	if tenantID == "" || len(tenantID) > 64 {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "tenant_id is required")
		return
	}

	skill, err := api.skillsService.CreateSkill(r.Context(), service.CreateSkillInput{
		TenantID: tenantID,
		Title:    request.Title,
		Scope:    request.Scope,
		Content:  request.Content,
	})
	if err != nil {
		if errors.Is(err, service.ErrSkillTitleRequired) {
			writeError(w, r, http.StatusBadRequest, "invalid_request", "title is required")
			return
		}
		writeError(w, r, http.StatusInternalServerError, "internal_error", "failed to create skill")
		return
	}

	writeJSON(w, http.StatusCreated, skill)
}

func (api *API) listSkills(w http.ResponseWriter, r *http.Request) {
	tenantID := strings.TrimSpace(r.URL.Query().Get("tenant_id"))
	if tenantID == "" {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "tenant_id is required")
		return
	}

	skills, err := api.skillsService.ListSkills(r.Context(), tenantID)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "internal_error", "failed to list skills")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"skills": skills})
}

// MatchSkills suggests skills for a job's question set.
func (api *API) MatchSkills(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}

	var request matchSkillsRequest
	if err := decodeJSON(r, &request); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "malformed JSON payload")
		return
	}
	if strings.TrimSpace(request.JobID) == "" {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "job_id is required")
		return
	}

	matches, err := api.skillsService.MatchJob(r.Context(), service.MatchJobInput{
		JobID:      request.JobID,
		Mode:       service.MatchMode(strings.ToLower(strings.TrimSpace(request.Mode))),
		ModelSpeed: request.ModelSpeed,
	})
	if err != nil {
		var parseErr *scoring.MatchParseError
		switch {
		case errors.Is(err, repository.ErrNotFound):
			writeError(w, r, http.StatusNotFound, "not_found", "job not found")
		case errors.Is(err, service.ErrUnknownMatchMode):
			writeError(w, r, http.StatusBadRequest, "invalid_request", "mode must be keyword or llm")
		case errors.As(err, &parseErr):
			writeError(w, r, http.StatusBadGateway, "match_unparseable", parseErr.Error())
		default:
			writeError(w, r, http.StatusInternalServerError, "internal_error", "failed to match skills")
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"matches": matches})
}

// Estimate sizes a planned run against the model context window.
func (api *API) Estimate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}

	var request estimateRequest
	if err := decodeJSON(r, &request); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "malformed JSON payload")
		return
	}
	if strings.TrimSpace(request.JobID) == "" {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "job_id is required")
		return
	}

	window := request.ContextWindowTokens
	if window <= 0 {
		window = api.contextWindowTokens
	}

	fit, err := api.skillsService.Estimate(r.Context(), service.EstimateInput{
		JobID:               request.JobID,
		SkillIDs:            request.SkillIDs,
		ContextWindowTokens: window,
		SystemPromptTokens:  api.systemPromptTokens,
	})
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, "not_found", "job or skill not found")
			return
		}
		writeError(w, r, http.StatusInternalServerError, "internal_error", "failed to estimate budget")
		return
	}

	writeJSON(w, http.StatusOK, fit)
}

package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/answerdesk/answerdesk-back/internal/domain"
	"github.com/answerdesk/answerdesk-back/internal/inference"
	"github.com/answerdesk/answerdesk-back/internal/repository"
	"github.com/answerdesk/answerdesk-back/internal/scoring"
)

var (
	ErrSkillTitleRequired = errors.New("skill title is required")
	ErrUnknownMatchMode   = errors.New("unknown match mode")
)

// MatchMode selects the scoring path: the deterministic keyword ranker or a
// single LLM assessment over the whole question set.
type MatchMode string

const (
	MatchModeKeyword MatchMode = "keyword"
	MatchModeLLM     MatchMode = "llm"
)

// SkillsService manages the skill library and the two matching paths.
type SkillsService struct {
	repo    repository.JobsRepository
	matcher *scoring.Matcher
}

func NewSkillsService(repo repository.JobsRepository, matcher *scoring.Matcher) *SkillsService {
	return &SkillsService{repo: repo, matcher: matcher}
}

type CreateSkillInput struct {
	TenantID string
	Title    string
	Scope    string
	Content  string
}

func (s *SkillsService) CreateSkill(ctx context.Context, input CreateSkillInput) (*domain.Skill, error) {
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return nil, ErrSkillTitleRequired
	}

	now := time.Now().UTC()
	skill := &domain.Skill{
		ID:        uuid.NewString(),
		TenantID:  input.TenantID,
		Title:     title,
		Scope:     strings.TrimSpace(input.Scope),
		Content:   input.Content,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.CreateSkill(ctx, skill); err != nil {
		return nil, fmt.Errorf("create skill: %w", err)
	}
	return skill, nil
}

func (s *SkillsService) ListSkills(ctx context.Context, tenantID string) ([]*domain.Skill, error) {
	return s.repo.ListSkills(ctx, tenantID)
}

// MatchJobInput asks for skill suggestions for one job's question set.
type MatchJobInput struct {
	JobID      string
	Mode       MatchMode
	ModelSpeed string
}

// JobSkillMatch is one suggested skill. Score is only populated on the
// keyword path; Confidence and Reason only on the LLM path.
type JobSkillMatch struct {
	SkillID      string                 `json:"skill_id"`
	Title        string                 `json:"title"`
	Score        float64                `json:"score,omitempty"`
	MatchedTerms []string               `json:"matched_terms,omitempty"`
	Confidence   domain.MatchConfidence `json:"confidence,omitempty"`
	Reason       string                 `json:"reason,omitempty"`
}

// MatchJob ranks the tenant's skill library against the job's questions. The
// result is advisory: callers confirm the selection before starting a run.
func (s *SkillsService) MatchJob(ctx context.Context, input MatchJobInput) ([]JobSkillMatch, error) {
	job, err := s.repo.GetJob(ctx, input.JobID)
	if err != nil {
		return nil, err
	}
	rows, err := s.repo.ListRows(ctx, job.ID)
	if err != nil {
		return nil, fmt.Errorf("list rows: %w", err)
	}
	skills, err := s.repo.ListSkills(ctx, job.TenantID)
	if err != nil {
		return nil, fmt.Errorf("list skills: %w", err)
	}

	questions := make([]string, 0, len(rows))
	for _, row := range rows {
		questions = append(questions, row.Question)
	}

	switch input.Mode {
	case MatchModeKeyword, "":
		return keywordJobMatches(questions, skills), nil
	case MatchModeLLM:
		matches, err := s.matcher.Match(ctx, scoring.MatchInput{
			JobID:       job.ID,
			Questions:   questions,
			FileContext: job.FileContext,
			Skills:      skills,
			ModelSpeed:  inference.NormalizeSpeed(input.ModelSpeed),
		})
		if err != nil {
			return nil, err
		}
		result := make([]JobSkillMatch, 0, len(matches))
		for _, match := range matches {
			result = append(result, JobSkillMatch{
				SkillID:    match.SkillID,
				Title:      match.Title,
				Confidence: match.Confidence,
				Reason:     match.Reason,
			})
		}
		return result, nil
	default:
		return nil, ErrUnknownMatchMode
	}
}

// keywordJobMatches sums the per-question keyword scores so a skill that is
// relevant to many questions outranks one relevant to a single question.
func keywordJobMatches(questions []string, skills []*domain.Skill) []JobSkillMatch {
	totals := make(map[string]*JobSkillMatch, len(skills))
	for _, skill := range skills {
		totals[skill.ID] = &JobSkillMatch{SkillID: skill.ID, Title: skill.Title}
	}

	for _, question := range questions {
		for _, match := range scoring.RankSkills(question, skills) {
			total := totals[match.SkillID]
			total.Score += match.Score
			total.MatchedTerms = mergeTerms(total.MatchedTerms, match.MatchedTerms)
		}
	}

	result := make([]JobSkillMatch, 0, len(totals))
	for _, total := range totals {
		result = append(result, *total)
	}
	sort.SliceStable(result, func(i, j int) bool {
		if result[i].Score == result[j].Score {
			return result[i].SkillID < result[j].SkillID
		}
		return result[i].Score > result[j].Score
	})
	return result
}

func mergeTerms(existing, incoming []string) []string {
	seen := make(map[string]struct{}, len(existing))
	for _, term := range existing {
		seen[term] = struct{}{}
	}
	for _, term := range incoming {
		if _, dup := seen[term]; dup {
			continue
		}
		seen[term] = struct{}{}
		existing = append(existing, term)
	}
	return existing
}

// EstimateInput sizes a planned run before it starts.
type EstimateInput struct {
	JobID               string
	SkillIDs            []string
	ContextWindowTokens int
	SystemPromptTokens  int
}

// Estimate reports whether the selected skills leave room for questions in
// the model's context window and suggests a batch size.
func (s *SkillsService) Estimate(ctx context.Context, input EstimateInput) (scoring.BudgetFit, error) {
	job, err := s.repo.GetJob(ctx, input.JobID)
	if err != nil {
		return scoring.BudgetFit{}, err
	}
	rows, err := s.repo.ListRows(ctx, job.ID)
	if err != nil {
		return scoring.BudgetFit{}, fmt.Errorf("list rows: %w", err)
	}
	skills, err := s.repo.GetSkillsByIDs(ctx, input.SkillIDs)
	if err != nil {
		return scoring.BudgetFit{}, fmt.Errorf("load selected skills: %w", err)
	}

	skillTokens := make([]int, 0, len(skills))
	for _, skill := range skills {
		skillTokens = append(skillTokens, scoring.EstimateTokens(skill.Content))
	}

	questionTokens := 0
	for _, row := range rows {
		questionTokens += scoring.EstimateTokens(row.Question + " " + row.Context)
	}
	avgQuestion := 0
	if len(rows) > 0 {
		avgQuestion = questionTokens / len(rows)
	}

	fixed := input.SystemPromptTokens + job.FileContextTokens

	return scoring.EstimateBudget(scoring.BudgetInput{
		ContextWindowTokens: input.ContextWindowTokens,
		SystemPromptTokens:  fixed,
		SkillTokens:         skillTokens,
		QuestionCount:       len(rows),
		AvgQuestionTokens:   avgQuestion,
	}), nil
}

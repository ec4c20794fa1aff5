package scoring

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/answerdesk/answerdesk-back/internal/cache"
	"github.com/answerdesk/answerdesk-back/internal/domain"
	"github.com/answerdesk/answerdesk-back/internal/inference"
)

const (
	compositionSkillMatch = "skill_match_v1"
	questionPreviewLimit  = 30
	fileContextCharLimit  = 6000
	matchPreviewLimit     = 280
)

// SkillConfidence is one LLM-assessed candidate, ordered for display.
type SkillConfidence struct {
	SkillID    string                 `json:"skill_id"`
	Title      string                 `json:"title"`
	Confidence domain.MatchConfidence `json:"confidence"`
	Reason     string                 `json:"reason"`
}

// MatchParseError reports an unparseable matcher response. The preview is
// truncated and the error id is the support correlation handle; callers may
// retry or fall back to keyword-only scoring.
type MatchParseError struct {
	ErrorID string
	Preview string
}

func (e *MatchParseError) Error() string {
	return fmt.Sprintf("skill match response is not a JSON array (error_id=%s, preview=%q)", e.ErrorID, e.Preview)
}

// Matcher ranks skills for a whole job in a single inference call. Its
// output is advisory: a human confirms the selection before any run.
type Matcher struct {
	client inference.Invoker
	cache  *cache.MatchCache
}

func NewMatcher(client inference.Invoker, matchCache *cache.MatchCache) *Matcher {
	if matchCache == nil {
		matchCache = cache.NewMatchCache(cache.Config{})
	}
	return &Matcher{client: client, cache: matchCache}
}

// MatchInput is one job's matching context: its questions, the optional file
// context and the full candidate skill list.
type MatchInput struct {
	JobID       string
	Questions   []string
	FileContext string
	Skills      []*domain.Skill
	ModelSpeed  inference.ModelSpeed
}

func (m *Matcher) Match(ctx context.Context, input MatchInput) ([]SkillConfidence, error) {
	if len(input.Skills) == 0 {
		return []SkillConfidence{}, nil
	}

	signature := m.signature(input)
	if entry, ok := m.cache.Get(signature); ok {
		cached := []SkillConfidence{}
		if err := json.Unmarshal(entry.Value, &cached); err == nil {
			return cached, nil
		}
	}

	preview := input.Questions
	if len(preview) > questionPreviewLimit {
		preview = preview[:questionPreviewLimit]
	}
	questions := make([]inference.Question, 0, len(preview))
	for index, question := range preview {
		questions = append(questions, inference.Question{Index: index + 1, Text: question})
	}

	candidates := make([]inference.SkillPayload, 0, len(input.Skills))
	for _, skill := range input.Skills {
		candidates = append(candidates, inference.SkillPayload{
			ID:      skill.ID,
			Title:   skill.Title,
			Content: skill.Scope,
		})
	}

	fileContext := input.FileContext
	if len(fileContext) > fileContextCharLimit {
		fileContext = fileContext[:fileContextCharLimit]
	}

	result, err := m.client.Invoke(ctx, inference.InvokeRequest{
		CompositionID: compositionSkillMatch,
		Questions:     questions,
		Skills:        candidates,
		FileContext:   fileContext,
		ModelSpeed:    input.ModelSpeed,
	})
	if err != nil {
		return nil, fmt.Errorf("invoke skill match: %w", err)
	}

	matches, err := parseMatches(result.Answer, input.Skills)
	if err != nil {
		return nil, err
	}

	if encoded, encodeErr := json.Marshal(matches); encodeErr == nil {
		m.cache.Put(signature, encoded, result.Usage.Model)
	}
	return matches, nil
}

type matchItem struct {
	SkillID    string `json:"skillId"`
	Confidence string `json:"confidence"`
	Reason     string `json:"reason"`
}

func parseMatches(answer string, skills []*domain.Skill) ([]SkillConfidence, error) {
	stripped := inference.StripCodeFences(answer)

	items := []matchItem{}
	if err := json.Unmarshal([]byte(stripped), &items); err != nil {
		preview := stripped
		if len(preview) > matchPreviewLimit {
			preview = preview[:matchPreviewLimit] + "..."
		}
		return nil, &MatchParseError{ErrorID: uuid.NewString(), Preview: preview}
	}

	byID := make(map[string]matchItem, len(items))
	for _, item := range items {
		byID[item.SkillID] = item
	}

	matches := make([]SkillConfidence, 0, len(skills))
	for _, skill := range skills {
		item, ok := byID[skill.ID]
		if !ok {
			matches = append(matches, SkillConfidence{
				SkillID:    skill.ID,
				Title:      skill.Title,
				Confidence: domain.MatchConfidenceLow,
				Reason:     "Not selected by the matcher; likely unrelated to this question set.",
			})
			continue
		}
		matches = append(matches, SkillConfidence{
			SkillID:    skill.ID,
			Title:      skill.Title,
			Confidence: normalizeConfidence(item.Confidence),
			Reason:     strings.TrimSpace(item.Reason),
		})
	}

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Confidence.Rank() == matches[j].Confidence.Rank() {
			return matches[i].Title < matches[j].Title
		}
		return matches[i].Confidence.Rank() < matches[j].Confidence.Rank()
	})
	return matches, nil
}

func normalizeConfidence(value string) domain.MatchConfidence {
	switch domain.MatchConfidence(strings.ToLower(strings.TrimSpace(value))) {
	case domain.MatchConfidenceHigh:
		return domain.MatchConfidenceHigh
	case domain.MatchConfidenceMedium:
		return domain.MatchConfidenceMedium
	default:
		return domain.MatchConfidenceLow
	}
}

func (m *Matcher) signature(input MatchInput) string {
	parts := make([]string, 0, len(input.Skills)+3)
	parts = append(parts, input.JobID, string(input.ModelSpeed))
	for _, skill := range input.Skills {
		parts = append(parts, skill.ID)
	}
	preview := input.Questions
	if len(preview) > questionPreviewLimit {
		preview = preview[:questionPreviewLimit]
	}
	parts = append(parts, strings.Join(preview, "\n"))
	return m.cache.BuildSignature(parts...)
}

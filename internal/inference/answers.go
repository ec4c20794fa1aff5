package inference

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/answerdesk/answerdesk-back/internal/domain"
	"github.com/answerdesk/answerdesk-back/internal/policy"
)

const (
	compositionAnswerBatch    = "answer_batch_v2"
	compositionContractReview = "contract_review_v1"
)

// Service turns batches of rows into typed outputs through the invoke RPC.
// Prompt text is redacted on the way out; answers come back as returned.
type Service struct {
	client Invoker
}

func NewService(client Invoker) *Service {
	return &Service{client: client}
}

// AnswerBatchRequest carries one batch of a question job.
type AnswerBatchRequest struct {
	Questions   []Question
	Skills      []*domain.Skill
	FileContext string
	ModelSpeed  ModelSpeed
}

// AnswerBatch invokes the service once for the batch and returns outputs
// keyed by the 1-based in-batch index. Indexes missing from the model's
// answer are simply absent from the map; the caller leaves those rows
// untouched rather than fabricating answers.
func (s *Service) AnswerBatch(
	ctx context.Context,
	request AnswerBatchRequest,
) (map[int]*domain.AnswerOutput, error) {
	if len(request.Questions) == 0 {
		return map[int]*domain.AnswerOutput{}, nil
	}

	result, err := s.client.Invoke(ctx, InvokeRequest{
		CompositionID: compositionAnswerBatch,
		Questions:     redactQuestions(request.Questions),
		Skills:        skillPayloads(request.Skills),
		FileContext:   policy.Redact(truncate(request.FileContext, 24000)),
		ModelSpeed:    request.ModelSpeed,
	})
	if err != nil {
		return nil, fmt.Errorf("invoke answer batch: %w", err)
	}

	return parseAnswerBatch(result.Answer)
}

type answerItem struct {
	Index      int      `json:"index"`
	Response   string   `json:"response"`
	Confidence float64  `json:"confidence"`
	Sources    []string `json:"sources"`
	Reasoning  string   `json:"reasoning"`
	Inference  bool     `json:"inference"`
}

func parseAnswerBatch(answer string) (map[int]*domain.AnswerOutput, error) {
	stripped := StripCodeFences(answer)

	items := []answerItem{}
	if err := json.Unmarshal([]byte(stripped), &items); err != nil {
		return nil, newParseError("answer batch is not a JSON array", stripped)
	}

	outputs := make(map[int]*domain.AnswerOutput, len(items))
	for _, item := range items {
		if item.Index < 1 || strings.TrimSpace(item.Response) == "" {
			continue
		}
		outputs[item.Index] = &domain.AnswerOutput{
			Response:   item.Response,
			Confidence: clampConfidence(item.Confidence),
			Sources:    item.Sources,
			Reasoning:  item.Reasoning,
			Inference:  item.Inference,
		}
	}
	return outputs, nil
}

// ContractReviewRequest carries the single synthetic row of a contract job.
type ContractReviewRequest struct {
	ContractText string
	Skills       []*domain.Skill
	ModelSpeed   ModelSpeed
}

// ReviewContract invokes the service once for the whole contract and
// validates the response shape before any augmentation. A malformed response
// is a hard failure; no partial contract result is ever returned.
func (s *Service) ReviewContract(
	ctx context.Context,
	request ContractReviewRequest,
) (*domain.ContractOutput, error) {
	if strings.TrimSpace(request.ContractText) == "" {
		return nil, fmt.Errorf("contract text is empty")
	}

	result, err := s.client.Invoke(ctx, InvokeRequest{
		CompositionID: compositionContractReview,
		Questions: []Question{{
			Index: 1,
			Text:  "Review this contract against the provided knowledge and list findings.",
		}},
		Skills:      skillPayloads(request.Skills),
		FileContext: policy.Redact(request.ContractText),
		ModelSpeed:  request.ModelSpeed,
	})
	if err != nil {
		return nil, fmt.Errorf("invoke contract review: %w", err)
	}

	return parseContractReview(result.Answer)
}

type contractReviewEnvelope struct {
	OverallRating string `json:"overallRating"`
	Summary       string `json:"summary"`
	Findings      []struct {
		Clause         string `json:"clause"`
		Issue          string `json:"issue"`
		Severity       string `json:"severity"`
		Recommendation string `json:"recommendation"`
	} `json:"findings"`
}

func parseContractReview(answer string) (*domain.ContractOutput, error) {
	stripped := StripCodeFences(answer)

	if err := validateContractReviewJSON(stripped); err != nil {
		return nil, newParseError(fmt.Sprintf("contract review failed validation: %v", err), stripped)
	}

	envelope := contractReviewEnvelope{}
	if err := json.Unmarshal([]byte(stripped), &envelope); err != nil {
		return nil, newParseError("contract review is not a JSON object", stripped)
	}

	now := time.Now().UTC().Format(time.RFC3339)
	output := &domain.ContractOutput{
		OverallRating: envelope.OverallRating,
		Summary:       envelope.Summary,
		Findings:      make([]domain.ContractFinding, 0, len(envelope.Findings)),
	}
	for _, finding := range envelope.Findings {
		output.Findings = append(output.Findings, domain.ContractFinding{
			ID:             uuid.NewString(),
			Clause:         finding.Clause,
			Issue:          finding.Issue,
			Severity:       finding.Severity,
			Recommendation: finding.Recommendation,
			ReviewStatus:   "open",
			CreatedAt:      now,
		})
	}
	return output, nil
}

func redactQuestions(questions []Question) []Question {
	redacted := make([]Question, 0, len(questions))
	for _, question := range questions {
		question.Text = policy.Redact(question.Text)
		question.Context = policy.Redact(question.Context)
		redacted = append(redacted, question)
	}
	return redacted
}

func skillPayloads(skills []*domain.Skill) []SkillPayload {
	payloads := make([]SkillPayload, 0, len(skills))
	for _, skill := range skills {
		payloads = append(payloads, SkillPayload{
			ID:      skill.ID,
			Title:   skill.Title,
			Content: skill.Content,
		})
	}
	return payloads
}

func clampConfidence(value float64) float64 {
	if value < 0 {
		return 0
	}
	if value > 1 {
		return 1
	}
	return value
}

func truncate(value string, limit int) string {
	if limit <= 0 || len(value) <= limit {
		return value
	}
	return value[:limit]
}

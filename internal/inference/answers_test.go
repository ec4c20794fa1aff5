package inference

import (
	"context"
	"errors"
	"testing"
)

type stubInvoker struct {
	answer  string
	err     error
	request InvokeRequest
}

func (s *stubInvoker) Invoke(_ context.Context, request InvokeRequest) (InvokeResult, error) {
	s.request = request
	if s.err != nil {
		return InvokeResult{}, s.err
	}
	return InvokeResult{Answer: s.answer}, nil
}

func TestAnswerBatchParsesFencedArray(t *testing.T) {
	invoker := &stubInvoker{answer: "```json\n[" +
		`{"index":1,"response":"Net 30.","confidence":0.9,"sources":["Billing FAQ"]},` +
		`{"index":2,"response":"Yes, via SAML.","confidence":1.4}` +
		"]\n```"}
	service := NewService(invoker)

	outputs, err := service.AnswerBatch(context.Background(), AnswerBatchRequest{
		Questions: []Question{
			{Index: 1, Text: "What are your payment terms?"},
			{Index: 2, Text: "Do you support SSO?"},
		},
	})
	if err != nil {
		t.Fatalf("answer batch failed: %v", err)
	}
	if len(outputs) != 2 {
		t.Fatalf("expected 2 outputs, got %d", len(outputs))
	}
	if outputs[1].Response != "Net 30." {
		t.Fatalf("unexpected response: %q", outputs[1].Response)
	}
	if outputs[1].Sources[0] != "Billing FAQ" {
		t.Fatalf("unexpected sources: %v", outputs[1].Sources)
	}
	if outputs[2].Confidence != 1 {
		t.Fatalf("expected confidence clamped to 1, got %f", outputs[2].Confidence)
	}
	if invoker.request.CompositionID != compositionAnswerBatch {
		t.Fatalf("unexpected composition: %s", invoker.request.CompositionID)
	}
}

func TestAnswerBatchOmitsSkippedAndInvalidIndexes(t *testing.T) {
	invoker := &stubInvoker{answer: `[
		{"index":1,"response":"Answered."},
		{"index":0,"response":"Bad index."},
		{"index":3,"response":"  "}
	]`}
	service := NewService(invoker)

	outputs, err := service.AnswerBatch(context.Background(), AnswerBatchRequest{
		Questions: []Question{
			{Index: 1, Text: "q1"},
			{Index: 2, Text: "q2"},
			{Index: 3, Text: "q3"},
		},
	})
	if err != nil {
		t.Fatalf("answer batch failed: %v", err)
	}
	if len(outputs) != 1 {
		t.Fatalf("expected only the valid answer, got %d outputs", len(outputs))
	}
	if _, ok := outputs[2]; ok {
		t.Fatalf("expected index 2 absent from outputs")
	}
}

func TestAnswerBatchUnparseableResponse(t *testing.T) {
	invoker := &stubInvoker{answer: "Here are your answers: everything looks fine."}
	service := NewService(invoker)

	_, err := service.AnswerBatch(context.Background(), AnswerBatchRequest{
		Questions: []Question{{Index: 1, Text: "q1"}},
	})

	var parseErr *ParseError
	if !errors.As(err, &parseErr) {
		t.Fatalf("expected ParseError, got %v", err)
	}
	if parseErr.ErrorID == "" || parseErr.Preview == "" {
		t.Fatalf("expected populated error id and preview")
	}
}

func TestAnswerBatchRedactsOutboundText(t *testing.T) {
	invoker := &stubInvoker{answer: `[{"index":1,"response":"ok"}]`}
	service := NewService(invoker)

	_, err := service.AnswerBatch(context.Background(), AnswerBatchRequest{
		Questions:   []Question{{Index: 1, Text: "Contact jane.doe@example.com for details"}},
		FileContext: "Call +1 415 555 0100 about the contract.",
	})
	if err != nil {
		t.Fatalf("answer batch failed: %v", err)
	}

	for _, question := range invoker.request.Questions {
		if question.Text == "Contact jane.doe@example.com for details" {
			t.Fatalf("expected email redacted from outbound question")
		}
	}
	if invoker.request.FileContext == "Call +1 415 555 0100 about the contract." {
		t.Fatalf("expected phone redacted from outbound file context")
	}
}

func TestAnswerBatchEmptyQuestions(t *testing.T) {
	invoker := &stubInvoker{answer: "[]"}
	service := NewService(invoker)

	outputs, err := service.AnswerBatch(context.Background(), AnswerBatchRequest{})
	if err != nil {
		t.Fatalf("answer batch failed: %v", err)
	}
	if len(outputs) != 0 {
		t.Fatalf("expected no outputs, got %d", len(outputs))
	}
	if invoker.request.CompositionID != "" {
		t.Fatalf("expected no invocation for empty batch")
	}
}

func TestReviewContractBuildsFindings(t *testing.T) {
	invoker := &stubInvoker{answer: "```json\n" + `{
		"overallRating": "caution",
		"summary": "Liability and termination need attention.",
		"findings": [
			{"clause": "9.2", "issue": "Unlimited liability", "severity": "high", "recommendation": "Cap at fees paid"},
			{"issue": "Auto-renewal without notice"}
		]
	}` + "\n```"}
	service := NewService(invoker)

	output, err := service.ReviewContract(context.Background(), ContractReviewRequest{
		ContractText: "This Agreement is made between...",
	})
	if err != nil {
		t.Fatalf("review failed: %v", err)
	}
	if output.OverallRating != "caution" {
		t.Fatalf("unexpected rating: %s", output.OverallRating)
	}
	if len(output.Findings) != 2 {
		t.Fatalf("expected 2 findings, got %d", len(output.Findings))
	}
	for _, finding := range output.Findings {
		if finding.ID == "" {
			t.Fatalf("expected generated finding id")
		}
		if finding.ReviewStatus != "open" {
			t.Fatalf("expected open review status, got %s", finding.ReviewStatus)
		}
		if finding.CreatedAt == "" {
			t.Fatalf("expected created_at timestamp")
		}
	}
	if invoker.request.CompositionID != compositionContractReview {
		t.Fatalf("unexpected composition: %s", invoker.request.CompositionID)
	}
}

func TestReviewContractRejectsMissingFindings(t *testing.T) {
	invoker := &stubInvoker{answer: `{"overallRating":"ok","summary":"Fine."}`}
	service := NewService(invoker)

	_, err := service.ReviewContract(context.Background(), ContractReviewRequest{
		ContractText: "This Agreement...",
	})

	var parseErr *ParseError
	if !errors.As(err, &parseErr) {
		t.Fatalf("expected ParseError for schema violation, got %v", err)
	}
}

func TestReviewContractRejectsEmptyContract(t *testing.T) {
	service := NewService(&stubInvoker{answer: "{}"})

	if _, err := service.ReviewContract(context.Background(), ContractReviewRequest{}); err == nil {
		t.Fatalf("expected error for empty contract text")
	}
}

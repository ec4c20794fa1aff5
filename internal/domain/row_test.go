package domain

import (
	"encoding/json"
	"testing"
)

func TestRowOutputRejectsArmMismatch(t *testing.T) {
	output := RowOutput{Kind: JobKindQuestionBatch, Contract: &ContractOutput{}}
	if _, err := json.Marshal(output); err == nil {
		t.Fatalf("expected marshal to reject kind without matching arm")
	}

	var decoded RowOutput
	err := json.Unmarshal([]byte(`{"kind":"contract_review","answer":{"response":"x"}}`), &decoded)
	if err == nil {
		t.Fatalf("expected unmarshal to reject contract kind without contract arm")
	}
}

func TestRowOutputRoundTripKeepsSingleArm(t *testing.T) {
	original := RowOutput{
		Kind: JobKindQuestionBatch,
		Answer: &AnswerOutput{
			Response:   "Net 30.",
			Confidence: 0.8,
			Inference:  true,
		},
	}

	encoded, err := json.Marshal(original)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	var decoded RowOutput
	if err := json.Unmarshal(encoded, &decoded); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if decoded.Kind != JobKindQuestionBatch {
		t.Fatalf("expected question kind, got %s", decoded.Kind)
	}
	if decoded.Answer == nil || decoded.Answer.Response != "Net 30." {
		t.Fatalf("expected answer arm preserved")
	}
	if decoded.Contract != nil {
		t.Fatalf("expected contract arm empty")
	}
}

func TestRowOutputRejectsUnknownKind(t *testing.T) {
	var decoded RowOutput
	if err := json.Unmarshal([]byte(`{"kind":"summary"}`), &decoded); err == nil {
		t.Fatalf("expected unmarshal to reject unknown kind")
	}
}

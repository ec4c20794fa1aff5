package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

type RowStatus string

const (
	RowStatusPending    RowStatus = "pending"
	RowStatusProcessing RowStatus = "processing"
	RowStatusCompleted  RowStatus = "completed"
	RowStatusError      RowStatus = "error"
)

// Row is one question inside a question batch, or the single synthetic row
// holding a contract review's findings. RowNumber is assigned at creation,
// unique within the job and never reused.
type Row struct {
	ID           string
	JobID        string
	RowNumber    int
	Question     string
	Context      string
	Source       string
	Status       RowStatus
	Output       *RowOutput
	BatchNumber  int
	ErrorMessage string
	ErrorID      string
	ProcessedAt  *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// RowOutput is a tagged union over the two job kinds. Exactly one arm is set;
// consumers switch on Kind instead of probing loose JSON fields.
type RowOutput struct {
	Kind     JobKind
	Answer   *AnswerOutput
	Contract *ContractOutput
}

// AnswerOutput is one model answer for a question-batch row.
type AnswerOutput struct {
	Response   string   `json:"response"`
	Confidence float64  `json:"confidence"`
	Sources    []string `json:"sources,omitempty"`
	Reasoning  string   `json:"reasoning,omitempty"`
	Inference  bool     `json:"inference"`
}

// ContractOutput is the document-level result of a contract review.
type ContractOutput struct {
	OverallRating string            `json:"overall_rating"`
	Summary       string            `json:"summary"`
	Findings      []ContractFinding `json:"findings"`
}

// ContractFinding is one reviewed clause, augmented with workflow bookkeeping
// before persistence.
type ContractFinding struct {
	ID             string `json:"id"`
	Clause         string `json:"clause,omitempty"`
	Issue          string `json:"issue"`
	Severity       string `json:"severity,omitempty"`
	Recommendation string `json:"recommendation,omitempty"`
	ReviewStatus   string `json:"review_status"`
	CreatedAt      string `json:"created_at"`
}

var errOutputArmMismatch = errors.New("row output kind does not match populated arm")

type rowOutputEnvelope struct {
	Kind     JobKind         `json:"kind"`
	Answer   json.RawMessage `json:"answer,omitempty"`
	Contract json.RawMessage `json:"contract,omitempty"`
}

func (o RowOutput) MarshalJSON() ([]byte, error) {
	envelope := rowOutputEnvelope{Kind: o.Kind}
	switch o.Kind {
	case JobKindQuestionBatch:
		if o.Answer == nil {
			return nil, errOutputArmMismatch
		}
		encoded, err := json.Marshal(o.Answer)
		if err != nil {
			return nil, fmt.Errorf("encode answer output: %w", err)
		}
		envelope.Answer = encoded
	case JobKindContractReview:
		if o.Contract == nil {
			return nil, errOutputArmMismatch
		}
		encoded, err := json.Marshal(o.Contract)
		if err != nil {
			return nil, fmt.Errorf("encode contract output: %w", err)
		}
		envelope.Contract = encoded
	default:
		return nil, fmt.Errorf("unsupported row output kind: %s", o.Kind)
	}
	return json.Marshal(envelope)
}

func (o *RowOutput) UnmarshalJSON(data []byte) error {
	var envelope rowOutputEnvelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		return fmt.Errorf("decode row output envelope: %w", err)
	}

	o.Kind = envelope.Kind
	o.Answer = nil
	o.Contract = nil
	switch envelope.Kind {
	case JobKindQuestionBatch:
		if len(envelope.Answer) == 0 {
			return errOutputArmMismatch
		}
		answer := AnswerOutput{}
		if err := json.Unmarshal(envelope.Answer, &answer); err != nil {
			return fmt.Errorf("decode answer output: %w", err)
		}
		o.Answer = &answer
	case JobKindContractReview:
		if len(envelope.Contract) == 0 {
			return errOutputArmMismatch
		}
		contract := ContractOutput{}
		if err := json.Unmarshal(envelope.Contract, &contract); err != nil {
			return fmt.Errorf("decode contract output: %w", err)
		}
		o.Contract = &contract
	default:
		return fmt.Errorf("unsupported row output kind: %s", envelope.Kind)
	}
	return nil
}

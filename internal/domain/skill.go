package domain

import "time"

// Skill is a reusable piece of organizational knowledge. The pipeline only
// reads skills; authoring happens elsewhere in the product.
type Skill struct {
	ID        string
	TenantID  string
	Title     string
	Content   string
	Scope     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// MatchConfidence is the relevance label assigned by the LLM-assisted matcher.
type MatchConfidence string

const (
	MatchConfidenceHigh   MatchConfidence = "high"
	MatchConfidenceMedium MatchConfidence = "medium"
	MatchConfidenceLow    MatchConfidence = "low"
)

// Rank orders confidences for display, high first.
func (c MatchConfidence) Rank() int {
	switch c {
	case MatchConfidenceHigh:
		return 0
	case MatchConfidenceMedium:
		return 1
	default:
		return 2
	}
}

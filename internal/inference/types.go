package inference

import "context"

// ModelSpeed is the caller's latency/quality hint, resolved to a concrete
// model by the inference service.
type ModelSpeed string

const (
	SpeedFast    ModelSpeed = "fast"
	SpeedQuality ModelSpeed = "quality"
)

// NormalizeSpeed maps unknown hints to the fast tier.
func NormalizeSpeed(value string) ModelSpeed {
	if ModelSpeed(value) == SpeedQuality {
		return SpeedQuality
	}
	return SpeedFast
}

// Question is one prompt item carrying its 1-based in-batch index.
type Question struct {
	Index   int    `json:"index"`
	Text    string `json:"text"`
	Context string `json:"context,omitempty"`
}

// SkillPayload is the (title, content) pair of a selected knowledge artifact
// as sent to the inference service.
type SkillPayload struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Content string `json:"content"`
}

// InvokeRequest is the wire request of the inference service's invoke RPC.
type InvokeRequest struct {
	CompositionID string         `json:"composition_id"`
	Questions     []Question     `json:"questions"`
	Skills        []SkillPayload `json:"skills,omitempty"`
	FileContext   string         `json:"file_context,omitempty"`
	ModelSpeed    ModelSpeed     `json:"model_speed"`
}

type TokenUsage struct {
	InputTokens  int    `json:"input_tokens"`
	OutputTokens int    `json:"output_tokens"`
	Model        string `json:"model"`
}

// InvokeResult is the service's envelope: a single answer string (usually
// JSON that still needs parsing), token accounting and an opaque
// transparency payload.
type InvokeResult struct {
	Answer       string         `json:"answer"`
	Usage        TokenUsage     `json:"usage"`
	Transparency map[string]any `json:"transparency,omitempty"`
}

// Invoker is the boundary to the external language-model service. It is
// costed, non-deterministic and unreliable; callers own fault isolation.
type Invoker interface {
	Invoke(ctx context.Context, request InvokeRequest) (InvokeResult, error)
}

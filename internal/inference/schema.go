package inference

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Contract review responses are structurally validated before anything is
// persisted. overallRating, summary and a findings array are mandatory;
// every finding must at least name an issue.
const contractReviewSchema = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"required": ["overallRating", "summary", "findings"],
	"properties": {
		"overallRating": {"type": "string", "minLength": 1},
		"summary": {"type": "string", "minLength": 1},
		"findings": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["issue"],
				"properties": {
					"clause": {"type": "string"},
					"issue": {"type": "string", "minLength": 1},
					"severity": {"type": "string"},
					"recommendation": {"type": "string"}
				}
			}
		}
	}
}`

var (
	contractSchemaOnce sync.Once
	contractSchema     *jsonschema.Schema
	contractSchemaErr  error
)

func validateContractReviewJSON(payload string) error {
	contractSchemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource(
			"contract_review.json",
			strings.NewReader(contractReviewSchema),
		); err != nil {
			contractSchemaErr = fmt.Errorf("add contract review schema: %w", err)
			return
		}
		contractSchema, contractSchemaErr = compiler.Compile("contract_review.json")
	})
	if contractSchemaErr != nil {
		return contractSchemaErr
	}

	var decoded any
	if err := json.Unmarshal([]byte(payload), &decoded); err != nil {
		return fmt.Errorf("decode contract review: %w", err)
	}
	if err := contractSchema.Validate(decoded); err != nil {
		return fmt.Errorf("contract review schema: %w", err)
	}
	return nil
}

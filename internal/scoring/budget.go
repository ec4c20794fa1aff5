package scoring

import "strings"

// EstimateTokens approximates token usage as one token per four runes. It is
// a deliberate heuristic, not real tokenization: callers get a conservative
// planning number, never an exact count.
func EstimateTokens(text string) int {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return 0
	}
	count := len([]rune(trimmed)) / 4
	if count < 1 {
		count = 1
	}
	return count
}

// BudgetInput describes a planned run: the model's context window, the fixed
// prompt overhead, the chosen skills and the question workload.
type BudgetInput struct {
	ContextWindowTokens int
	SystemPromptTokens  int
	SkillTokens         []int
	QuestionCount       int
	AvgQuestionTokens   int

	// OutputReserveRatio is the share of the window held back for model
	// output. Zero means the default of 25%.
	OutputReserveRatio float64
}

// BudgetFit is the estimator's verdict for one skill selection.
type BudgetFit struct {
	Fits               bool `json:"fits"`
	BudgetTokens       int  `json:"budget_tokens"`
	FixedTokens        int  `json:"fixed_tokens"`
	UtilizationPercent int  `json:"utilization_percent"`
	SuggestedBatchSize int  `json:"suggested_batch_size"`
}

// EstimateBudget computes whether the selection fits under the output
// reserve and how many questions per batch keep the prompt inside budget.
// The suggested batch size is never below 1: a selection that already
// overflows still gets processed one question at a time rather than
// wedging the run.
func EstimateBudget(input BudgetInput) BudgetFit {
	reserve := input.OutputReserveRatio
	if reserve <= 0 || reserve >= 1 {
		reserve = 0.25
	}

	window := input.ContextWindowTokens
	if window <= 0 {
		window = 128000
	}
	budget := int(float64(window) * (1 - reserve))

	fixed := input.SystemPromptTokens
	for _, tokens := range input.SkillTokens {
		fixed += tokens
	}

	avgQuestion := input.AvgQuestionTokens
	if avgQuestion < 1 {
		avgQuestion = 1
	}

	suggested := (budget - fixed) / avgQuestion
	if suggested > input.QuestionCount && input.QuestionCount > 0 {
		suggested = input.QuestionCount
	}
	if suggested < 1 {
		suggested = 1
	}

	used := fixed + suggested*avgQuestion
	utilization := 0
	if budget > 0 {
		utilization = int(float64(used)/float64(budget)*100 + 0.5)
	}

	return BudgetFit{
		Fits:               fixed+avgQuestion <= budget,
		BudgetTokens:       budget,
		FixedTokens:        fixed,
		UtilizationPercent: utilization,
		SuggestedBatchSize: suggested,
	}
}

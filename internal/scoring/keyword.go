package scoring

import (
	"regexp"
	"sort"
	"strings"

	"github.com/answerdesk/answerdesk-back/internal/domain"
)

// SkillMatch is one ranked candidate from the keyword path.
type SkillMatch struct {
	SkillID      string   `json:"skill_id"`
	Score        float64  `json:"score"`
	MatchedTerms []string `json:"matched_terms,omitempty"`
}

const (
	// Earlier keywords in the question weigh up to 1.5x, decaying linearly
	// to 1.0x for the last token.
	maxPositionWeight = 1.5
	minPositionWeight = 1.0

	// A single keyword repeated through a long skill body stops contributing
	// past this many content hits.
	contentHitCap = 5

	scopeHitWeight   = 3.0
	titleHitWeight   = 5.0
	contentHitWeight = 1.0
	titlePhraseBonus = 10.0
)

var stopWords = map[string]struct{}{
	"the": {}, "and": {}, "for": {}, "are": {}, "but": {}, "not": {}, "you": {},
	"all": {}, "can": {}, "had": {}, "her": {}, "was": {}, "one": {}, "our": {},
	"out": {}, "has": {}, "have": {}, "how": {}, "what": {}, "when": {}, "where": {},
	"which": {}, "with": {}, "does": {}, "this": {}, "that": {}, "from": {},
	"your": {}, "will": {}, "would": {}, "could": {}, "should": {}, "about": {},
	"into": {}, "there": {}, "their": {}, "then": {}, "than": {}, "them": {},
	"these": {}, "those": {}, "such": {}, "each": {}, "any": {}, "may": {},
	"who": {}, "why": {}, "his": {}, "she": {}, "its": {}, "were": {}, "been": {},
	"being": {}, "over": {}, "under": {}, "more": {}, "most": {}, "other": {},
	"some": {}, "only": {}, "also": {}, "very": {}, "just": {}, "per": {},
}

var tokenPattern = regexp.MustCompile(`[a-z0-9]+`)

// Keywords extracts the scoreable terms of a question: lowercased tokens
// with stop words and tokens of length <= 2 removed, in order of first
// appearance.
func Keywords(text string) []string {
	tokens := tokenPattern.FindAllString(strings.ToLower(text), -1)
	seen := make(map[string]struct{}, len(tokens))
	keywords := make([]string, 0, len(tokens))
	for _, token := range tokens {
		if len(token) <= 2 {
			continue
		}
		if _, stop := stopWords[token]; stop {
			continue
		}
		if _, dup := seen[token]; dup {
			continue
		}
		seen[token] = struct{}{}
		keywords = append(keywords, token)
	}
	return keywords
}

// RankSkills scores every candidate skill against the question and returns
// them best first. The ranking is deterministic for identical inputs: ties
// break on skill id.
func RankSkills(question string, skills []*domain.Skill) []SkillMatch {
	keywords := Keywords(question)
	matches := make([]SkillMatch, 0, len(skills))
	for _, skill := range skills {
		match := scoreSkill(question, keywords, skill)
		matches = append(matches, match)
	}

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Score == matches[j].Score {
			return matches[i].SkillID < matches[j].SkillID
		}
		return matches[i].Score > matches[j].Score
	})
	return matches
}

func scoreSkill(question string, keywords []string, skill *domain.Skill) SkillMatch {
	title := strings.ToLower(skill.Title)
	scope := strings.ToLower(skill.Scope)
	content := strings.ToLower(skill.Content)

	score := 0.0
	matched := make([]string, 0, len(keywords))
	for position, keyword := range keywords {
		weight := positionWeight(position, len(keywords))

		hit := false
		if strings.Contains(title, keyword) {
			score += titleHitWeight * weight
			hit = true
		}
		if scope != "" {
			if count := strings.Count(scope, keyword); count > 0 {
				score += scopeHitWeight * weight * float64(count)
				hit = true
			}
		}
		if content != "" {
			count := strings.Count(content, keyword)
			if count > contentHitCap {
				count = contentHitCap
			}
			if count > 0 {
				score += contentHitWeight * weight * float64(count)
				hit = true
			}
		}
		if hit {
			matched = append(matched, keyword)
		}
	}

	if phrase := strings.ToLower(strings.TrimSpace(question)); phrase != "" &&
		strings.Contains(phrase, title) && title != "" {
		score += titlePhraseBonus
	}

	return SkillMatch{
		SkillID:      skill.ID,
		Score:        score,
		MatchedTerms: matched,
	}
}

// positionWeight decays linearly from maxPositionWeight for the first
// keyword down to minPositionWeight for the last.
func positionWeight(position, total int) float64 {
	if total <= 1 {
		return maxPositionWeight
	}
	fraction := float64(position) / float64(total-1)
	return maxPositionWeight - (maxPositionWeight-minPositionWeight)*fraction
}

package domain

import (
	"fmt"
)

// KeywordTable maps category → risk tier → keywords. It is the first of
// the two rule documents driving the keyword analyzer.
type KeywordTable map[string]map[RiskTier][]string

// PatternRule is one named regex rule from the pattern document.
type PatternRule struct {
	Pattern     string   `json:"pattern"`
	RiskLevel   RiskTier `json:"risk_level"`
	Description string   `json:"description"`
}

// PatternTable maps pattern name → rule. It is the second rule document.
type PatternTable map[string]PatternRule

// Validate checks the keyword document shape: every tier key must be one
// of the three known tiers and every keyword non-empty.
func (t KeywordTable) Validate() error {
	for category, tiers := range t {
		if category == "" {
			return fmt.Errorf("keyword table: empty category name")
		}
		for tier, words := range tiers {
			if !tier.Valid() {
				return fmt.Errorf("keyword table: category %q has unknown tier %q", category, tier)
			}
			for _, w := range words {
				if w == "" {
					return fmt.Errorf("keyword table: category %q tier %q contains an empty keyword", category, tier)
				}
			}
		}
	}
	return nil
}

// Validate checks the pattern document shape. Regex syntax is checked
// separately at compile time by the corpus loader.
func (t PatternTable) Validate() error {
	for name, rule := range t {
		if name == "" {
			return fmt.Errorf("pattern table: empty pattern name")
		}
		if rule.Pattern == "" {
			return fmt.Errorf("pattern table: pattern %q has an empty regex", name)
		}
		if !rule.RiskLevel.Valid() {
			return fmt.Errorf("pattern table: pattern %q has unknown risk level %q", name, rule.RiskLevel)
		}
	}
	return nil
}

// CorpusLoadError reports a failed corpus load: source unreachable,
// document malformed, or a pattern regex that does not compile. It is
// fatal to the analyzer instance that hit it.
type CorpusLoadError struct {
	Source string
	Err    error
}

func (e *CorpusLoadError) Error() string {
	return fmt.Sprintf("corpus load from %s failed: %v", e.Source, e.Err)
}

func (e *CorpusLoadError) Unwrap() error {
	return e.Err
}

// NewCorpusLoadError wraps an underlying failure with its source name.
func NewCorpusLoadError(source string, err error) *CorpusLoadError {
	return &CorpusLoadError{Source: source, Err: err}
}

// Package corpus provides the rule corpus driving keyword and pattern
// analysis: loading, validation, and regex pre-compilation.
package corpus

import (
	"fmt"
	"regexp"
	"sort"

	"github.com/opensource-trust/magpie/internal/domain"
)

// CompiledPattern is a pattern rule with its regex compiled. Patterns
// are compiled case-insensitive once at load time so analysis can never
// fail on rule-data defects.
type CompiledPattern struct {
	Name        string
	Regexp      *regexp.Regexp
	Tier        domain.RiskTier
	Description string
}

// Corpus is the immutable rule corpus: a keyword table and a compiled
// pattern list. Once built it is read-only and safe to share across
// concurrent analyses without locking.
type Corpus struct {
	keywords domain.KeywordTable
	patterns []CompiledPattern
}

// New validates both documents, compiles every pattern regex, and
// returns an immutable corpus. Any shape or regex defect fails the
// whole build.
func New(keywords domain.KeywordTable, patterns domain.PatternTable) (*Corpus, error) {
	if err := keywords.Validate(); err != nil {
		return nil, err
	}
	if err := patterns.Validate(); err != nil {
		return nil, err
	}

	compiled := make([]CompiledPattern, 0, len(patterns))
	for name, rule := range patterns {
		re, err := regexp.Compile("(?i)" + rule.Pattern)
		if err != nil {
			return nil, fmt.Errorf("pattern %q does not compile: %w", name, err)
		}
		compiled = append(compiled, CompiledPattern{
			Name:        name,
			Regexp:      re,
			Tier:        rule.RiskLevel,
			Description: rule.Description,
		})
	}

	// Map iteration order is random; fix the pattern order so repeated
	// analyses of the same listing produce identical threat ordering.
	sort.Slice(compiled, func(i, j int) bool {
		return compiled[i].Name < compiled[j].Name
	})

	return &Corpus{
		keywords: keywords,
		patterns: compiled,
	}, nil
}

// Keywords returns the keyword table. Callers must not mutate it.
func (c *Corpus) Keywords() domain.KeywordTable {
	return c.keywords
}

// Patterns returns the compiled patterns in stable name order.
func (c *Corpus) Patterns() []CompiledPattern {
	return c.patterns
}

// KeywordCount returns the total number of keywords across all
// categories and tiers.
func (c *Corpus) KeywordCount() int {
	n := 0
	for _, tiers := range c.keywords {
		for _, words := range tiers {
			n += len(words)
		}
	}
	return n
}

// PatternCount returns the number of compiled patterns.
func (c *Corpus) PatternCount() int {
	return len(c.patterns)
}

// mergeKeywords overlays additional keyword rules onto a base table,
// returning a new table. Neither input is mutated.
func mergeKeywords(base, overlay domain.KeywordTable) domain.KeywordTable {
	merged := make(domain.KeywordTable, len(base)+len(overlay))
	for category, tiers := range base {
		dst := make(map[domain.RiskTier][]string, len(tiers))
		for tier, words := range tiers {
			dst[tier] = append([]string(nil), words...)
		}
		merged[category] = dst
	}
	for category, tiers := range overlay {
		dst, ok := merged[category]
		if !ok {
			dst = make(map[domain.RiskTier][]string, len(tiers))
			merged[category] = dst
		}
		for tier, words := range tiers {
			dst[tier] = append(dst[tier], words...)
		}
	}
	return merged
}

// mergePatterns overlays additional pattern rules onto a base table;
// overlay entries win on name collision.
func mergePatterns(base, overlay domain.PatternTable) domain.PatternTable {
	merged := make(domain.PatternTable, len(base)+len(overlay))
	for name, rule := range base {
		merged[name] = rule
	}
	for name, rule := range overlay {
		merged[name] = rule
	}
	return merged
}

// Package rules provides the CEL-Go based custom rule engine. Tenants
// register boolean expressions over listing fields; every rule that
// evaluates to true contributes one finding weighted by its tier.
package rules

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"

	"github.com/opensource-trust/magpie/internal/domain"
)

// Engine compiles and evaluates listing rules.
type Engine struct {
	mu            sync.RWMutex
	env           *cel.Env
	compiledRules map[string]*CompiledRule
	model         *domain.ScoringModel
	maxWorkers    int
}

// CompiledRule holds a pre-compiled CEL program.
type CompiledRule struct {
	Rule    *domain.ListingRule
	Program cel.Program
}

// NewEngine creates a rule engine bound to a scoring model.
func NewEngine(model *domain.ScoringModel, maxWorkers int) (*Engine, error) {
	if maxWorkers <= 0 {
		maxWorkers = 10
	}
	if model == nil {
		model = domain.DefaultScoringModel()
	}

	// Listing variables exposed to rule expressions. Absent optional
	// numerics are bound as -1 so a rule can tell "zero reviews" from
	// "reviews unknown".
	env, err := cel.NewEnv(
		cel.Variable("title", cel.StringType),
		cel.Variable("description", cel.StringType),
		cel.Variable("category", cel.StringType),
		cel.Variable("price", cel.DoubleType),
		cel.Variable("photos_count", cel.IntType),
		cel.Variable("account_age_days", cel.IntType),
		cel.Variable("review_count", cel.IntType),
		cel.Variable("similar_items", cel.IntType),
		cel.Variable("has_seller", cel.BoolType),
		cel.Variable("has_location", cel.BoolType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Engine{
		env:           env,
		compiledRules: make(map[string]*CompiledRule),
		model:         model,
		maxWorkers:    maxWorkers,
	}, nil
}

// ValidateRule compiles a rule without mutating the loaded rule set.
func (e *Engine) ValidateRule(rule *domain.ListingRule) error {
	if rule == nil {
		return fmt.Errorf("rule is required")
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	_, err := e.compileRule(rule)
	return err
}

// LoadRule compiles and loads a rule into the engine.
func (e *Engine) LoadRule(rule *domain.ListingRule) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	compiled, err := e.compileRule(rule)
	if err != nil {
		return err
	}

	e.compiledRules[rule.ID] = compiled

	return nil
}

// LoadRules compiles and loads every enabled rule.
func (e *Engine) LoadRules(rules []*domain.ListingRule) error {
	for _, rule := range rules {
		if rule.Enabled {
			if err := e.LoadRule(rule); err != nil {
				return err
			}
		}
	}
	return nil
}

// EvaluateAll runs every loaded rule against a listing in parallel and
// folds the firing rules into one custom-source partial result. Rules
// that fail at evaluation time are skipped; a bad rule must not sink
// the whole assessment.
func (e *Engine) EvaluateAll(ctx context.Context, listing *domain.Listing) domain.PartialResult {
	e.mu.RLock()
	rules := make([]*CompiledRule, 0, len(e.compiledRules))
	for _, rule := range e.compiledRules {
		rules = append(rules, rule)
	}
	model := e.model
	e.mu.RUnlock()

	// Map order is random; fix it so repeated runs emit findings in
	// the same order.
	sort.Slice(rules, func(i, j int) bool { return rules[i].Rule.ID < rules[j].Rule.ID })

	result := domain.PartialResult{Source: domain.SourceCustom}
	if len(rules) == 0 {
		return result
	}

	activation := activationFor(listing)

	fired := make([]bool, len(rules))
	var wg sync.WaitGroup

	sem := make(chan struct{}, e.maxWorkers)

	for i, rule := range rules {
		wg.Add(1)
		go func(idx int, r *CompiledRule) {
			defer wg.Done()

			sem <- struct{}{}
			defer func() { <-sem }()

			out, _, err := r.Program.ContextEval(ctx, activation)
			if err != nil {
				return
			}
			if b, ok := out.(types.Bool); ok && bool(b) {
				fired[idx] = true
			}
		}(i, rule)
	}

	wg.Wait()

	for i, rule := range rules {
		if !fired[i] {
			continue
		}
		weight := model.TierWeight(rule.Rule.Tier)
		result.Score += weight
		result.Findings = append(result.Findings, domain.ThreatFinding{
			Kind:        domain.FindingCustomRule,
			Tier:        rule.Rule.Tier,
			Descriptor:  rule.Rule.FindingDescriptor(),
			Weight:      weight,
			Description: rule.Rule.Description,
		})
	}

	return result
}

// activationFor maps a listing onto the CEL variable set.
func activationFor(listing *domain.Listing) map[string]any {
	activation := map[string]any{
		"title":            listing.Title,
		"description":      listing.Description,
		"category":         listing.Category,
		"price":            0.0,
		"photos_count":     listing.PhotosCount,
		"account_age_days": -1,
		"review_count":     -1,
		"similar_items":    -1,
		"has_seller":       listing.Seller != nil,
		"has_location":     listing.Location != nil,
	}

	if listing.Price != nil {
		activation["price"] = *listing.Price
	}
	if s := listing.Seller; s != nil {
		if s.AccountAgeDays != nil {
			activation["account_age_days"] = *s.AccountAgeDays
		}
		if s.ReviewCount != nil {
			activation["review_count"] = *s.ReviewCount
		}
		if s.SimilarItemsCount != nil {
			activation["similar_items"] = *s.SimilarItemsCount
		}
	}

	return activation
}

// RulesCount returns the number of loaded rules.
func (e *Engine) RulesCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.compiledRules)
}

// ReloadRules swaps the loaded rule set atomically. This enables
// hot-reloading of rules from the database.
func (e *Engine) ReloadRules(rules []*domain.ListingRule) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	newRules := make(map[string]*CompiledRule)

	for _, rule := range rules {
		if !rule.Enabled {
			continue
		}

		compiled, err := e.compileRule(rule)
		if err != nil {
			return err
		}
		newRules[rule.ID] = compiled
	}

	e.compiledRules = newRules

	return nil
}

// GetLoadedRules returns the currently loaded rule definitions.
func (e *Engine) GetLoadedRules() []*domain.ListingRule {
	e.mu.RLock()
	defer e.mu.RUnlock()

	rules := make([]*domain.ListingRule, 0, len(e.compiledRules))
	for _, compiled := range e.compiledRules {
		rules = append(rules, compiled.Rule)
	}
	return rules
}

// Close cleans up the engine.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.compiledRules = make(map[string]*CompiledRule)
	return nil
}

func (e *Engine) compileRule(rule *domain.ListingRule) (*CompiledRule, error) {
	if !rule.Tier.Valid() {
		return nil, fmt.Errorf("rule %s: invalid tier %q", rule.ID, rule.Tier)
	}

	ast, issues := e.env.Compile(rule.Expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile rule %s: %w", rule.ID, issues.Err())
	}

	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("rule %s: expression must return bool, got %s", rule.ID, ast.OutputType())
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program for rule %s: %w", rule.ID, err)
	}

	return &CompiledRule{
		Rule:    rule,
		Program: program,
	}, nil
}

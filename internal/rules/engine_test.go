package rules

import (
	"context"
	"fmt"
	"testing"

	"github.com/opensource-trust/magpie/internal/domain"
)

func TestEngineCreation(t *testing.T) {
	engine, err := NewEngine(nil, 5)
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}
	defer engine.Close()

	if engine.RulesCount() != 0 {
		t.Errorf("expected 0 rules, got %d", engine.RulesCount())
	}
}

func TestLoadRule(t *testing.T) {
	engine, _ := NewEngine(nil, 5)
	defer engine.Close()

	rule := &domain.ListingRule{
		ID:         "test-rule-001",
		Name:       "Test Rule",
		Expression: "price > 100.0",
		Tier:       domain.TierMedium,
		Enabled:    true,
	}

	if err := engine.LoadRule(rule); err != nil {
		t.Fatalf("failed to load rule: %v", err)
	}

	if engine.RulesCount() != 1 {
		t.Errorf("expected 1 rule, got %d", engine.RulesCount())
	}
}

func TestLoadInvalidRule(t *testing.T) {
	engine, _ := NewEngine(nil, 5)
	defer engine.Close()

	t.Run("bad syntax", func(t *testing.T) {
		rule := &domain.ListingRule{
			ID:         "invalid-rule",
			Expression: "this is not valid CEL !!!",
			Tier:       domain.TierLow,
			Enabled:    true,
		}
		if err := engine.LoadRule(rule); err == nil {
			t.Error("expected error for invalid CEL expression")
		}
	})

	t.Run("non-boolean output", func(t *testing.T) {
		rule := &domain.ListingRule{
			ID:         "numeric-rule",
			Expression: "price * 2.0",
			Tier:       domain.TierLow,
			Enabled:    true,
		}
		if err := engine.LoadRule(rule); err == nil {
			t.Error("expected error for non-boolean expression")
		}
	})

	t.Run("invalid tier", func(t *testing.T) {
		rule := &domain.ListingRule{
			ID:         "bad-tier-rule",
			Expression: "price > 0.0",
			Tier:       "critical",
			Enabled:    true,
		}
		if err := engine.LoadRule(rule); err == nil {
			t.Error("expected error for invalid tier")
		}
	})

	if engine.RulesCount() != 0 {
		t.Errorf("invalid rules must not be loaded, got %d", engine.RulesCount())
	}
}

func TestEvaluateAll(t *testing.T) {
	engine, _ := NewEngine(nil, 5)
	defer engine.Close()

	price := 800.0
	rules := []*domain.ListingRule{
		{
			ID:          "expensive-phone",
			Name:        "Expensive phone",
			Description: "Téléphone coûteux sans avis",
			Expression:  `category == "telephonie" && price > 500.0 && review_count == 0`,
			Tier:        domain.TierHigh,
			Enabled:     true,
		},
		{
			ID:         "no-photos",
			Expression: "photos_count == 0",
			Tier:       domain.TierMedium,
			Enabled:    true,
		},
		{
			ID:         "disabled-rule",
			Expression: "true",
			Tier:       domain.TierHigh,
			Enabled:    false,
		},
	}
	if err := engine.LoadRules(rules); err != nil {
		t.Fatalf("failed to load rules: %v", err)
	}
	if engine.RulesCount() != 2 {
		t.Fatalf("expected 2 enabled rules, got %d", engine.RulesCount())
	}

	reviews := 0
	listing := &domain.Listing{
		ID:          "l-1",
		Title:       "iPhone 15 Pro",
		Category:    "telephonie",
		Price:       &price,
		PhotosCount: 0,
		Seller:      &domain.SellerInfo{ReviewCount: &reviews},
	}

	result := engine.EvaluateAll(context.Background(), listing)

	if result.Source != domain.SourceCustom {
		t.Errorf("unexpected source %q", result.Source)
	}
	if result.Score != 30+15 {
		t.Fatalf("expected score 45, got %v", result.Score)
	}
	if len(result.Findings) != 2 {
		t.Fatalf("expected 2 findings, got %d", len(result.Findings))
	}
	// Findings come back in rule ID order.
	if result.Findings[0].Descriptor != "expensive-phone" || result.Findings[1].Descriptor != "no-photos" {
		t.Errorf("unexpected finding order: %+v", result.Findings)
	}
	if result.Findings[0].Kind != domain.FindingCustomRule {
		t.Errorf("unexpected kind %q", result.Findings[0].Kind)
	}
	if result.Findings[0].Description != "Téléphone coûteux sans avis" {
		t.Errorf("description not carried: %q", result.Findings[0].Description)
	}
}

func TestEvaluateAbsentFields(t *testing.T) {
	engine, _ := NewEngine(nil, 5)
	defer engine.Close()

	// Absent optional numerics are bound as -1, so "zero reviews" must
	// not fire when the seller carries no review count at all.
	engine.LoadRule(&domain.ListingRule{
		ID:         "zero-reviews",
		Expression: "review_count == 0",
		Tier:       domain.TierMedium,
		Enabled:    true,
	})
	engine.LoadRule(&domain.ListingRule{
		ID:         "anonymous-seller",
		Expression: "!has_seller",
		Tier:       domain.TierLow,
		Enabled:    true,
	})

	listing := &domain.Listing{ID: "l-1", Title: "Table"}
	result := engine.EvaluateAll(context.Background(), listing)

	if len(result.Findings) != 1 {
		t.Fatalf("expected 1 finding, got %d", len(result.Findings))
	}
	if result.Findings[0].Descriptor != "anonymous-seller" {
		t.Errorf("unexpected finding %+v", result.Findings[0])
	}
}

func TestEvaluateSkipsFailingRule(t *testing.T) {
	engine, _ := NewEngine(nil, 5)
	defer engine.Close()

	// Integer division by a zero price fails at eval time; the other
	// rule must still produce its finding.
	engine.LoadRule(&domain.ListingRule{
		ID:         "dividing-rule",
		Expression: "100 / int(price) > 2",
		Tier:       domain.TierHigh,
		Enabled:    true,
	})
	engine.LoadRule(&domain.ListingRule{
		ID:         "title-rule",
		Expression: `title.contains("iphone")`,
		Tier:       domain.TierLow,
		Enabled:    true,
	})

	listing := &domain.Listing{ID: "l-1", Title: "iphone cassé"}
	result := engine.EvaluateAll(context.Background(), listing)

	if len(result.Findings) != 1 || result.Findings[0].Descriptor != "title-rule" {
		t.Fatalf("expected only the title rule to fire, got %+v", result.Findings)
	}
}

func TestValidateRule(t *testing.T) {
	engine, _ := NewEngine(nil, 5)
	defer engine.Close()

	valid := &domain.ListingRule{ID: "v", Expression: "price > 0.0", Tier: domain.TierLow}
	if err := engine.ValidateRule(valid); err != nil {
		t.Errorf("expected valid rule, got %v", err)
	}
	if engine.RulesCount() != 0 {
		t.Error("validate must not load the rule")
	}

	if err := engine.ValidateRule(nil); err == nil {
		t.Error("expected error for nil rule")
	}
}

func TestReloadRules(t *testing.T) {
	engine, _ := NewEngine(nil, 5)
	defer engine.Close()

	engine.LoadRule(&domain.ListingRule{ID: "old", Expression: "true", Tier: domain.TierLow, Enabled: true})

	next := []*domain.ListingRule{
		{ID: "new-1", Expression: "price > 50.0", Tier: domain.TierLow, Enabled: true},
		{ID: "new-2", Expression: "photos_count == 1", Tier: domain.TierMedium, Enabled: true},
	}
	if err := engine.ReloadRules(next); err != nil {
		t.Fatalf("reload failed: %v", err)
	}

	if engine.RulesCount() != 2 {
		t.Errorf("expected 2 rules after reload, got %d", engine.RulesCount())
	}
	for _, r := range engine.GetLoadedRules() {
		if r.ID == "old" {
			t.Error("old rule survived reload")
		}
	}

	// A bad batch leaves the current set untouched.
	bad := []*domain.ListingRule{{ID: "broken", Expression: "!!!", Tier: domain.TierLow, Enabled: true}}
	if err := engine.ReloadRules(bad); err == nil {
		t.Fatal("expected reload error")
	}
	if engine.RulesCount() != 2 {
		t.Errorf("failed reload must keep previous rules, got %d", engine.RulesCount())
	}
}

func TestParallelExecution(t *testing.T) {
	engine, _ := NewEngine(nil, 3)
	defer engine.Close()

	for i := 0; i < 10; i++ {
		rule := &domain.ListingRule{
			ID:         fmt.Sprintf("rule-%d", i),
			Expression: "photos_count >= 0",
			Tier:       domain.TierLow,
			Enabled:    true,
		}
		engine.LoadRule(rule)
	}

	if engine.RulesCount() != 10 {
		t.Fatalf("expected 10 rules, got %d", engine.RulesCount())
	}

	result := engine.EvaluateAll(context.Background(), &domain.Listing{ID: "l-1"})

	if len(result.Findings) != 10 {
		t.Errorf("expected 10 findings, got %d", len(result.Findings))
	}
	if result.Score != 50 {
		t.Errorf("expected score 50, got %v", result.Score)
	}
}

package analyzer

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/opensource-trust/magpie/internal/corpus"
	"github.com/opensource-trust/magpie/internal/domain"
	"github.com/opensource-trust/magpie/internal/rules"
)

func newTestAnalyzer(t *testing.T) *RiskAnalyzer {
	t.Helper()
	return New(corpus.NewLoader(corpus.BuiltinSource{}), nil, nil)
}

func ptrF(v float64) *float64 { return &v }
func ptrI(v int) *int         { return &v }
func ptrS(v string) *string   { return &v }

func highRiskListing() *domain.Listing {
	return &domain.Listing{
		ID:          "listing-high",
		TenantID:    "tenant-1",
		Title:       "iPhone 14 urgent urgent!! départ ce soir",
		Description: "",
		Category:    "telephonie",
		Price:       ptrF(300),
		PhotosCount: 1,
		Location:    ptrS("région proche"),
		Seller: &domain.SellerInfo{
			AccountAgeDays:    ptrI(5),
			ReviewCount:       ptrI(0),
			SimilarItemsCount: ptrI(8),
		},
	}
}

func lowRiskListing() *domain.Listing {
	return &domain.Listing{
		ID:          "listing-low",
		TenantID:    "tenant-1",
		Title:       "Table basse bois",
		Description: "Bon état, à récupérer sur place",
		Category:    "informatique",
		Price:       ptrF(45),
		PhotosCount: 4,
		Location:    ptrS("Lyon 3e"),
		Seller: &domain.SellerInfo{
			AccountAgeDays:    ptrI(400),
			ReviewCount:       ptrI(12),
			SimilarItemsCount: ptrI(1),
		},
	}
}

func TestAnalyzeHighRiskListing(t *testing.T) {
	a := newTestAnalyzer(t)

	assessment, err := a.AnalyzeListing(context.Background(), highRiskListing())
	if err != nil {
		t.Fatalf("analysis failed: %v", err)
	}

	if assessment.Level != domain.TierHigh {
		t.Errorf("expected high level, got %q (score %.2f)", assessment.Level, assessment.Score)
	}
	if assessment.Score < 60 {
		t.Errorf("expected score >= 60, got %.2f", assessment.Score)
	}

	wantKinds := []domain.FindingKind{
		domain.FindingNewAccount,
		domain.FindingNoReviews,
		domain.FindingMultipleItems,
		domain.FindingSinglePhoto,
		domain.FindingVagueLocation,
		domain.FindingKeyword,
		domain.FindingPatternMatch,
	}
	seen := make(map[domain.FindingKind]bool)
	for _, f := range assessment.Threats {
		seen[f.Kind] = true
	}
	for _, kind := range wantKinds {
		if !seen[kind] {
			t.Errorf("expected a %q finding, got none", kind)
		}
	}

	// Severity ordering: no threat outranks its predecessor.
	for i := 1; i < len(assessment.Threats); i++ {
		if assessment.Threats[i].Tier.Rank() > assessment.Threats[i-1].Tier.Rank() {
			t.Fatalf("threats not sorted by severity at index %d", i)
		}
	}

	if len(assessment.Recommendations) != 3 {
		t.Errorf("expected 3 high-tier recommendations, got %d", len(assessment.Recommendations))
	}
	if assessment.Metadata.AnalyzersRun != 5 {
		t.Errorf("expected 5 analyzers, got %d", assessment.Metadata.AnalyzersRun)
	}
	if assessment.Metadata.CorpusKeywords == 0 || assessment.Metadata.CorpusPatterns == 0 {
		t.Errorf("corpus stats missing from metadata: %+v", assessment.Metadata)
	}
}

func TestAnalyzeLowRiskListing(t *testing.T) {
	a := newTestAnalyzer(t)

	assessment, err := a.AnalyzeListing(context.Background(), lowRiskListing())
	if err != nil {
		t.Fatalf("analysis failed: %v", err)
	}

	if assessment.Level != domain.TierLow {
		t.Errorf("expected low level, got %q (score %.2f)", assessment.Level, assessment.Score)
	}
	if assessment.Score >= 30 {
		t.Errorf("expected score < 30, got %.2f", assessment.Score)
	}
	if len(assessment.Recommendations) != 2 {
		t.Errorf("expected 2 low-tier recommendations, got %d", len(assessment.Recommendations))
	}
}

func TestAnalyzeDeterministic(t *testing.T) {
	a := newTestAnalyzer(t)
	ctx := context.Background()

	first, err := a.AnalyzeListing(ctx, highRiskListing())
	if err != nil {
		t.Fatalf("analysis failed: %v", err)
	}

	for i := 0; i < 5; i++ {
		next, err := a.AnalyzeListing(ctx, highRiskListing())
		if err != nil {
			t.Fatalf("analysis failed: %v", err)
		}
		if next.Score != first.Score {
			t.Fatalf("run %d: score %v != %v", i, next.Score, first.Score)
		}
		if next.Level != first.Level {
			t.Fatalf("run %d: level %q != %q", i, next.Level, first.Level)
		}
		if !reflect.DeepEqual(next.Threats, first.Threats) {
			t.Fatalf("run %d: threats differ\n%+v\n%+v", i, next.Threats, first.Threats)
		}
		if !reflect.DeepEqual(next.Recommendations, first.Recommendations) {
			t.Fatalf("run %d: recommendations differ", i)
		}
	}
}

func TestAnalyzeWithCustomRules(t *testing.T) {
	engine, err := rules.NewEngine(nil, 5)
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}
	defer engine.Close()
	engine.LoadRule(&domain.ListingRule{
		ID:         "cheap-furniture",
		Expression: `category == "informatique" && price < 100.0`,
		Tier:       domain.TierMedium,
		Enabled:    true,
	})

	a := New(corpus.NewLoader(corpus.BuiltinSource{}), nil, engine)

	assessment, err := a.AnalyzeListing(context.Background(), lowRiskListing())
	if err != nil {
		t.Fatalf("analysis failed: %v", err)
	}

	var custom *domain.ThreatFinding
	for i := range assessment.Threats {
		if assessment.Threats[i].Kind == domain.FindingCustomRule {
			custom = &assessment.Threats[i]
		}
	}
	if custom == nil {
		t.Fatal("expected a custom_rule finding")
	}
	if custom.Descriptor != "cheap-furniture" {
		t.Errorf("unexpected descriptor %q", custom.Descriptor)
	}
	if assessment.Metadata.CustomRulesRun != 1 {
		t.Errorf("expected 1 custom rule run, got %d", assessment.Metadata.CustomRulesRun)
	}
}

// countingSource wraps the builtin corpus and counts fetches.
type countingSource struct {
	fetches atomic.Int32
	fail    bool
}

func (s *countingSource) Name() string { return "counting" }

func (s *countingSource) FetchKeywords(ctx context.Context) (domain.KeywordTable, error) {
	s.fetches.Add(1)
	if s.fail {
		return nil, errors.New("source unavailable")
	}
	return corpus.BuiltinSource{}.FetchKeywords(ctx)
}

func (s *countingSource) FetchPatterns(ctx context.Context) (domain.PatternTable, error) {
	return corpus.BuiltinSource{}.FetchPatterns(ctx)
}

func TestConcurrentFirstAnalysisLoadsOnce(t *testing.T) {
	src := &countingSource{}
	a := New(corpus.NewLoader(src), nil, nil)

	const callers = 16
	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			_, errs[idx] = a.AnalyzeListing(context.Background(), lowRiskListing())
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("caller %d failed: %v", i, err)
		}
	}
	if got := src.fetches.Load(); got != 1 {
		t.Errorf("expected exactly 1 corpus fetch, got %d", got)
	}
}

func TestFailedCorpusLoadIsTerminal(t *testing.T) {
	src := &countingSource{fail: true}
	a := New(corpus.NewLoader(src), nil, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := a.AnalyzeListing(ctx, lowRiskListing())
		if err == nil {
			t.Fatalf("attempt %d: expected error", i)
		}
		var loadErr *domain.CorpusLoadError
		if !errors.As(err, &loadErr) {
			t.Fatalf("attempt %d: expected CorpusLoadError, got %v", i, err)
		}
	}

	// Failure is terminal: no retry fetch happens after the first.
	if got := src.fetches.Load(); got != 1 {
		t.Errorf("expected exactly 1 fetch attempt, got %d", got)
	}
}

func TestAnalyzeNilListing(t *testing.T) {
	a := newTestAnalyzer(t)
	if _, err := a.AnalyzeListing(context.Background(), nil); err == nil {
		t.Fatal("expected error for nil listing")
	}
}

func BenchmarkAnalyzeListing(b *testing.B) {
	a := New(corpus.NewLoader(corpus.BuiltinSource{}), nil, nil)
	listing := highRiskListing()
	ctx := context.Background()
	if _, err := a.AnalyzeListing(ctx, listing); err != nil {
		b.Fatalf("warmup failed: %v", err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := a.AnalyzeListing(ctx, listing); err != nil {
			b.Fatal(err)
		}
	}
}

// Package analyzer wires the detection corpus, the sub-analyzers and
// the custom rule engine into the listing risk analysis pipeline.
package analyzer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/opensource-trust/magpie/internal/analysis"
	"github.com/opensource-trust/magpie/internal/corpus"
	"github.com/opensource-trust/magpie/internal/domain"
	"github.com/opensource-trust/magpie/internal/rules"
)

// RiskAnalyzer runs the full analysis pipeline for one listing: corpus
// load, concurrent sub-analyzers, optional custom rules, aggregation.
// It is safe for concurrent use.
type RiskAnalyzer struct {
	loader *corpus.Loader
	model  *domain.ScoringModel
	engine *rules.Engine
}

// New creates a risk analyzer. The rule engine is optional; pass nil to
// run without tenant custom rules.
func New(loader *corpus.Loader, model *domain.ScoringModel, engine *rules.Engine) *RiskAnalyzer {
	if model == nil {
		model = domain.DefaultScoringModel()
	}
	return &RiskAnalyzer{
		loader: loader,
		model:  model,
		engine: engine,
	}
}

// Model returns the scoring model in use.
func (a *RiskAnalyzer) Model() *domain.ScoringModel {
	return a.model
}

// Initialize loads the corpus eagerly so the first analysis request
// does not pay the load. Calling it is optional; AnalyzeListing loads
// on demand.
func (a *RiskAnalyzer) Initialize(ctx context.Context) error {
	if _, err := a.loader.Load(ctx); err != nil {
		return err
	}
	return nil
}

// ReloadCorpus re-fetches the corpus from its sources. The previous
// corpus stays active if the reload fails.
func (a *RiskAnalyzer) ReloadCorpus(ctx context.Context) (*corpus.Corpus, error) {
	return a.loader.Reload(ctx)
}

// Corpus returns the active corpus, loading it if necessary.
func (a *RiskAnalyzer) Corpus(ctx context.Context) (*corpus.Corpus, error) {
	return a.loader.Load(ctx)
}

// AnalyzeListing runs every sub-analyzer against the listing and
// aggregates their partial results into an assessment. Identical input
// with an identical corpus and rule set yields the same score, level,
// threats and recommendations.
func (a *RiskAnalyzer) AnalyzeListing(ctx context.Context, listing *domain.Listing) (*domain.Assessment, error) {
	if listing == nil {
		return nil, fmt.Errorf("listing is required")
	}

	start := time.Now()

	c, err := a.loader.Load(ctx)
	if err != nil {
		return nil, err
	}

	analysisStart := time.Now()

	// The five sub-analyzers are pure functions over immutable input,
	// so they run concurrently. Each writes its own slot; the fixed
	// slot order keeps aggregation deterministic.
	const analyzerCount = 5
	partials := make([]domain.PartialResult, analyzerCount, analyzerCount+1)

	var wg sync.WaitGroup
	wg.Add(analyzerCount)
	go func() {
		defer wg.Done()
		partials[0] = analysis.AnalyzeKeywords(listing, c, a.model)
	}()
	go func() {
		defer wg.Done()
		partials[1] = analysis.AnalyzePrice(listing, a.model)
	}()
	go func() {
		defer wg.Done()
		partials[2] = analysis.AnalyzeSeller(listing, a.model)
	}()
	go func() {
		defer wg.Done()
		partials[3] = analysis.AnalyzeBehavior(listing, a.model)
	}()
	go func() {
		defer wg.Done()
		partials[4] = analysis.AnalyzePatterns(listing, c, a.model)
	}()
	wg.Wait()

	customRules := 0
	if a.engine != nil && a.engine.RulesCount() > 0 {
		customRules = a.engine.RulesCount()
		partials = append(partials, a.engine.EvaluateAll(ctx, listing))
	}

	analysisMs := time.Since(analysisStart).Milliseconds()

	assessment := analysis.Aggregate(listing, partials, a.model)
	assessment.Metadata = domain.AssessmentMetadata{
		AnalyzersRun:   analyzerCount,
		CustomRulesRun: customRules,
		AnalysisMs:     analysisMs,
		TotalMs:        time.Since(start).Milliseconds(),
		EngineVersion:  a.model.Version,
		CorpusKeywords: c.KeywordCount(),
		CorpusPatterns: c.PatternCount(),
	}

	return assessment, nil
}

package corpus

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/opensource-trust/magpie/internal/domain"
)

// Source supplies the two corpus documents. Implementations may read
// files, a repository, or embedded defaults; a fetch failure or shape
// violation surfaces as a load error.
type Source interface {
	Name() string
	FetchKeywords(ctx context.Context) (domain.KeywordTable, error)
	FetchPatterns(ctx context.Context) (domain.PatternTable, error)
}

// FileSource reads the keyword and pattern documents from JSON files.
type FileSource struct {
	KeywordsPath string
	PatternsPath string
}

func (s FileSource) Name() string {
	return fmt.Sprintf("file(%s, %s)", s.KeywordsPath, s.PatternsPath)
}

func (s FileSource) FetchKeywords(ctx context.Context) (domain.KeywordTable, error) {
	var table domain.KeywordTable
	if err := readJSON(s.KeywordsPath, &table); err != nil {
		return nil, err
	}
	return table, nil
}

func (s FileSource) FetchPatterns(ctx context.Context) (domain.PatternTable, error) {
	var table domain.PatternTable
	if err := readJSON(s.PatternsPath, &table); err != nil {
		return nil, err
	}
	return table, nil
}

func readJSON(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return nil
}

// RepositorySource reads API-managed keyword and pattern rules from the
// repository. Used as an overlay on top of the builtin or file corpus.
type RepositorySource struct {
	Repo     domain.Repository
	TenantID string
}

func (s RepositorySource) Name() string { return "repository" }

func (s RepositorySource) FetchKeywords(ctx context.Context) (domain.KeywordTable, error) {
	return s.Repo.ListKeywordRules(ctx, s.TenantID)
}

func (s RepositorySource) FetchPatterns(ctx context.Context) (domain.PatternTable, error) {
	return s.Repo.ListPatternRules(ctx, s.TenantID)
}

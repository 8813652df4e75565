package corpus

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/opensource-trust/magpie/internal/domain"
)

// fakeSource serves fixed tables and counts fetches; it can be flipped
// to failing between calls.
type fakeSource struct {
	mu       sync.Mutex
	keywords domain.KeywordTable
	patterns domain.PatternTable
	err      error
	fetches  atomic.Int32
}

func (s *fakeSource) Name() string { return "fake" }

func (s *fakeSource) FetchKeywords(ctx context.Context) (domain.KeywordTable, error) {
	s.fetches.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	return s.keywords, nil
}

func (s *fakeSource) FetchPatterns(ctx context.Context) (domain.PatternTable, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	return s.patterns, nil
}

func (s *fakeSource) set(keywords domain.KeywordTable, patterns domain.PatternTable, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keywords, s.patterns, s.err = keywords, patterns, err
}

func okSource() *fakeSource {
	return &fakeSource{
		keywords: domain.KeywordTable{"urgence": {domain.TierHigh: {"urgent"}}},
		patterns: domain.PatternTable{"p": {Pattern: "x", RiskLevel: domain.TierLow}},
	}
}

func TestLoaderLoadOnce(t *testing.T) {
	src := okSource()
	loader := NewLoader(src)
	ctx := context.Background()

	first, err := loader.Load(ctx)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	second, err := loader.Load(ctx)
	if err != nil {
		t.Fatalf("second load failed: %v", err)
	}
	if first != second {
		t.Error("expected the same corpus instance")
	}
	if src.fetches.Load() != 1 {
		t.Errorf("expected 1 fetch, got %d", src.fetches.Load())
	}
}

func TestLoaderConcurrentLoadCoalesces(t *testing.T) {
	src := okSource()
	loader := NewLoader(src)

	const callers = 32
	var wg sync.WaitGroup
	corpora := make([]*Corpus, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			c, err := loader.Load(context.Background())
			if err != nil {
				t.Errorf("caller %d: %v", idx, err)
				return
			}
			corpora[idx] = c
		}(i)
	}
	wg.Wait()

	if src.fetches.Load() != 1 {
		t.Errorf("expected 1 fetch, got %d", src.fetches.Load())
	}
	for i := 1; i < callers; i++ {
		if corpora[i] != corpora[0] {
			t.Fatal("callers observed different corpus instances")
		}
	}
}

func TestLoaderFailureIsTerminal(t *testing.T) {
	src := okSource()
	src.set(nil, nil, errors.New("boom"))
	loader := NewLoader(src)
	ctx := context.Background()

	if _, err := loader.Load(ctx); err == nil {
		t.Fatal("expected load error")
	}

	// Even after the source recovers, the loader stays failed.
	src.set(domain.KeywordTable{}, domain.PatternTable{}, nil)
	_, err := loader.Load(ctx)
	if err == nil {
		t.Fatal("expected terminal failure")
	}
	var loadErr *domain.CorpusLoadError
	if !errors.As(err, &loadErr) {
		t.Fatalf("expected CorpusLoadError, got %T", err)
	}
	if loadErr.Source != "fake" {
		t.Errorf("unexpected source %q", loadErr.Source)
	}
	if src.fetches.Load() != 1 {
		t.Errorf("failed loader must not refetch, got %d fetches", src.fetches.Load())
	}
}

func TestLoaderReload(t *testing.T) {
	src := okSource()
	loader := NewLoader(src)
	ctx := context.Background()

	t.Run("before first load", func(t *testing.T) {
		fresh := NewLoader(okSource())
		if _, err := fresh.Reload(ctx); err == nil {
			t.Fatal("reload before load must fail")
		}
	})

	if _, err := loader.Load(ctx); err != nil {
		t.Fatalf("load failed: %v", err)
	}

	t.Run("swaps corpus", func(t *testing.T) {
		src.set(domain.KeywordTable{
			"urgence": {domain.TierHigh: {"urgent", "flash"}},
		}, domain.PatternTable{}, nil)

		next, err := loader.Reload(ctx)
		if err != nil {
			t.Fatalf("reload failed: %v", err)
		}
		if next.KeywordCount() != 2 {
			t.Errorf("expected 2 keywords, got %d", next.KeywordCount())
		}
		got, _ := loader.Load(ctx)
		if got != next {
			t.Error("Load should return the reloaded corpus")
		}
	})

	t.Run("failure keeps previous corpus", func(t *testing.T) {
		before, _ := loader.Load(ctx)
		src.set(nil, nil, errors.New("down"))

		if _, err := loader.Reload(ctx); err == nil {
			t.Fatal("expected reload error")
		}
		after, err := loader.Load(ctx)
		if err != nil {
			t.Fatalf("load after failed reload: %v", err)
		}
		if after != before {
			t.Error("failed reload must keep the previous corpus")
		}
	})
}

func TestLoaderOverlays(t *testing.T) {
	primary := okSource()
	overlay := &fakeSource{
		keywords: domain.KeywordTable{"douane": {domain.TierMedium: {"hors taxe"}}},
		patterns: domain.PatternTable{"q": {Pattern: "y", RiskLevel: domain.TierHigh}},
	}
	loader := NewLoader(primary, overlay)

	c, err := loader.Load(context.Background())
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if c.KeywordCount() != 2 {
		t.Errorf("expected merged keywords, got %d", c.KeywordCount())
	}
	if c.PatternCount() != 2 {
		t.Errorf("expected merged patterns, got %d", c.PatternCount())
	}
}

func TestFileSource(t *testing.T) {
	dir := t.TempDir()
	keywordsPath := filepath.Join(dir, "keywords.json")
	patternsPath := filepath.Join(dir, "patterns.json")

	keywords := domain.KeywordTable{"paiement": {domain.TierHigh: {"western union"}}}
	patterns := domain.PatternTable{"tel": {Pattern: `0[1-9][0-9]{8}`, RiskLevel: domain.TierHigh, Description: "tel"}}

	writeJSONFile(t, keywordsPath, keywords)
	writeJSONFile(t, patternsPath, patterns)

	loader := NewLoader(FileSource{KeywordsPath: keywordsPath, PatternsPath: patternsPath})
	c, err := loader.Load(context.Background())
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if c.KeywordCount() != 1 || c.PatternCount() != 1 {
		t.Errorf("unexpected corpus size: %d keywords, %d patterns", c.KeywordCount(), c.PatternCount())
	}

	t.Run("missing file", func(t *testing.T) {
		bad := NewLoader(FileSource{KeywordsPath: filepath.Join(dir, "absent.json"), PatternsPath: patternsPath})
		_, err := bad.Load(context.Background())
		var loadErr *domain.CorpusLoadError
		if !errors.As(err, &loadErr) {
			t.Fatalf("expected CorpusLoadError, got %v", err)
		}
	})
}

func writeJSONFile(t *testing.T, path string, v interface{}) {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

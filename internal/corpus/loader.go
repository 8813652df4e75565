package corpus

import (
	"context"
	"fmt"
	"sync"

	"github.com/opensource-trust/magpie/internal/domain"
)

type loadState int

const (
	stateUninitialized loadState = iota
	stateLoading
	stateReady
	stateFailed
)

// Loader owns the corpus lifecycle: a one-time load through an explicit
// state machine. Concurrent callers racing the first load coalesce on a
// single in-flight fetch and all observe its one outcome. A failed load
// is terminal for the loader instance.
type Loader struct {
	mu       sync.Mutex
	primary  Source
	overlays []Source

	state   loadState
	pending chan struct{}
	corpus  *Corpus
	err     error
}

// NewLoader creates a loader reading from the primary source, with
// optional overlay sources merged on top (later overlays win).
func NewLoader(primary Source, overlays ...Source) *Loader {
	return &Loader{
		primary:  primary,
		overlays: overlays,
	}
}

// Load returns the corpus, fetching it on first use. Safe for
// concurrent use: only one fetch is ever in flight.
func (l *Loader) Load(ctx context.Context) (*Corpus, error) {
	for {
		l.mu.Lock()
		switch l.state {
		case stateReady:
			c := l.corpus
			l.mu.Unlock()
			return c, nil

		case stateFailed:
			err := l.err
			l.mu.Unlock()
			return nil, err

		case stateLoading:
			pending := l.pending
			l.mu.Unlock()
			select {
			case <-pending:
				// Outcome settled; loop to observe it.
			case <-ctx.Done():
				return nil, ctx.Err()
			}

		case stateUninitialized:
			l.state = stateLoading
			l.pending = make(chan struct{})
			pending := l.pending
			l.mu.Unlock()

			c, err := l.fetch(ctx)

			l.mu.Lock()
			if err != nil {
				l.state = stateFailed
				l.err = err
			} else {
				l.state = stateReady
				l.corpus = c
			}
			close(pending)
			l.mu.Unlock()
			return c, err
		}
	}
}

// Reload fetches a fresh corpus and swaps it in. Only valid once the
// loader is ready; a reload failure keeps the previous corpus active.
func (l *Loader) Reload(ctx context.Context) (*Corpus, error) {
	l.mu.Lock()
	if l.state != stateReady {
		l.mu.Unlock()
		return nil, fmt.Errorf("corpus loader is not ready")
	}
	l.mu.Unlock()

	c, err := l.fetch(ctx)
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	l.corpus = c
	l.mu.Unlock()
	return c, nil
}

// fetch pulls both documents from every source, merges overlays, and
// builds the compiled corpus. All failures wrap as CorpusLoadError.
func (l *Loader) fetch(ctx context.Context) (*Corpus, error) {
	keywords, err := l.primary.FetchKeywords(ctx)
	if err != nil {
		return nil, domain.NewCorpusLoadError(l.primary.Name(), err)
	}
	patterns, err := l.primary.FetchPatterns(ctx)
	if err != nil {
		return nil, domain.NewCorpusLoadError(l.primary.Name(), err)
	}

	for _, overlay := range l.overlays {
		ok, err := overlay.FetchKeywords(ctx)
		if err != nil {
			return nil, domain.NewCorpusLoadError(overlay.Name(), err)
		}
		op, err := overlay.FetchPatterns(ctx)
		if err != nil {
			return nil, domain.NewCorpusLoadError(overlay.Name(), err)
		}
		keywords = mergeKeywords(keywords, ok)
		patterns = mergePatterns(patterns, op)
	}

	c, err := New(keywords, patterns)
	if err != nil {
		return nil, domain.NewCorpusLoadError(l.primary.Name(), err)
	}
	return c, nil
}

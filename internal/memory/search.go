package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/kukks/rag-mcp/internal/index"
	"github.com/rs/zerolog"
)

// Result pairs a memory with its BM25 score.
type Result struct {
	Memory *Memory
	Score  float64
}

// Filter narrows search results after scoring.
type Filter struct {
	// Tags keeps a hit if it carries at least one of these tags.
	Tags []string
	// MinSimilarity drops hits scoring below MinSimilarity times the
	// best score in the result set. BM25 scores are unbounded, so the
	// threshold is relative rather than absolute.
	MinSimilarity float64
}

// Searcher maintains one BM25 index per scope as a secondary structure
// over the store. An index is built lazily by iterating the scope's
// memories on first search and kept current through Index, Unindex and
// Reset, which callers invoke after each mutation, and through session
// evictions reported by the store. Store.Update does not reach the
// index. It is discarded on shutdown rather than persisted.
type Searcher struct {
	store  *Store
	logger zerolog.Logger
	k1, b  float64

	mu      sync.Mutex
	indexes map[Scope]*index.Index
}

// NewSearcher wires a searcher to a store. Session evictions are
// propagated into the session index automatically.
func NewSearcher(store *Store, k1, b float64, logger zerolog.Logger) *Searcher {
	s := &Searcher{
		store:   store,
		logger:  logger,
		k1:      k1,
		b:       b,
		indexes: make(map[Scope]*index.Index),
	}
	store.OnSessionEvict(func(id string) {
		if ix := s.existing(ScopeSession); ix != nil {
			ix.Remove(id)
		}
	})
	return s
}

// existing returns the scope's index if it has been built, else nil.
func (s *Searcher) existing(scope Scope) *index.Index {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.indexes[scope]
}

// ensure returns the scope's index, building it from the store on
// first use.
func (s *Searcher) ensure(ctx context.Context, scope Scope) (*index.Index, error) {
	s.mu.Lock()
	if ix, ok := s.indexes[scope]; ok {
		s.mu.Unlock()
		return ix, nil
	}
	s.mu.Unlock()

	// Build outside the searcher lock; the store does its own locking.
	memories, err := s.store.List(ctx, scope, 0, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to rebuild %s index: %w", scope, err)
	}

	ix := index.New(s.k1, s.b)
	for _, m := range memories {
		ix.Add(m.ID, m.Content)
	}
	s.logger.Debug().Str("scope", string(scope)).Int("documents", ix.Len()).Msg("Index built")

	s.mu.Lock()
	defer s.mu.Unlock()
	if racing, ok := s.indexes[scope]; ok {
		return racing, nil
	}
	s.indexes[scope] = ix
	return ix, nil
}

// Index adds a stored memory to its scope's index, if built.
func (s *Searcher) Index(m *Memory) {
	if ix := s.existing(m.Scope); ix != nil {
		ix.Add(m.ID, m.Content)
	}
}

// Unindex removes a deleted memory from its scope's index, if built.
func (s *Searcher) Unindex(scope Scope, id string) {
	if ix := s.existing(scope); ix != nil {
		ix.Remove(id)
	}
}

// Reset drops a scope's index so the next search rebuilds it.
func (s *Searcher) Reset(scope Scope) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.indexes, scope)
}

// Search runs BM25 over a single scope and returns up to k results
// ordered by descending score. Searches never cross scope boundaries.
func (s *Searcher) Search(ctx context.Context, scope Scope, query string, k int, filter Filter) ([]Result, error) {
	if k <= 0 {
		return nil, nil
	}

	ix, err := s.ensure(ctx, scope)
	if err != nil {
		return nil, err
	}

	// Score everything that matches; filters shrink the set afterwards.
	hits := ix.Search(query, ix.Len())
	if len(hits) == 0 {
		return nil, nil
	}

	results := make([]Result, 0, len(hits))
	for _, hit := range hits {
		m, err := s.store.Get(ctx, scope, hit.ID)
		if err == ErrNotFound {
			// Index lag; treat as absent.
			continue
		}
		if err != nil {
			return nil, err
		}
		if len(filter.Tags) > 0 && !hasAnyTag(m, filter.Tags) {
			continue
		}
		results = append(results, Result{Memory: m, Score: hit.Score})
	}

	if filter.MinSimilarity > 0 && len(results) > 0 {
		threshold := filter.MinSimilarity * results[0].Score
		kept := results[:0]
		for _, r := range results {
			if r.Score >= threshold {
				kept = append(kept, r)
			}
		}
		results = kept
	}

	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

func hasAnyTag(m *Memory, tags []string) bool {
	for _, want := range tags {
		for _, have := range m.Tags {
			if have == want {
				return true
			}
		}
	}
	return false
}

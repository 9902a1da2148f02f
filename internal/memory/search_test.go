package memory_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/kukks/rag-mcp/internal/index"
	"github.com/kukks/rag-mcp/internal/memory"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSearcher(t *testing.T) (*memory.Store, *memory.Searcher) {
	t.Helper()
	dir := t.TempDir()
	s := memory.NewStore(memory.Options{
		GlobalDBPath:       filepath.Join(dir, "global.db"),
		ProjectDBPath:      filepath.Join(dir, "data.db"),
		MaxSessionMemories: 3,
	}, zerolog.Nop())
	t.Cleanup(func() { s.Close() })
	return s, memory.NewSearcher(s, index.DefaultK1, index.DefaultB, zerolog.Nop())
}

func TestSearchRanking(t *testing.T) {
	ctx := context.Background()
	store, searcher := newTestSearcher(t)

	for _, content := range []string{
		"rust systems language",
		"sled embedded database in rust",
		"postgres relational database",
	} {
		m, err := store.Store(ctx, memory.ScopeSession, content, memory.StoreOptions{})
		require.NoError(t, err)
		searcher.Index(m)
	}

	results, err := searcher.Search(ctx, memory.ScopeSession, "database rust", 3, memory.Filter{})
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, "sled embedded database in rust", results[0].Memory.Content)

	var rustOnly float64
	for _, r := range results {
		if r.Memory.Content == "rust systems language" {
			rustOnly = r.Score
		}
	}
	assert.Greater(t, results[0].Score, rustOnly)
}

func TestSearchScopeIsolation(t *testing.T) {
	ctx := context.Background()
	store, searcher := newTestSearcher(t)

	m, err := store.Store(ctx, memory.ScopeProject, "project secret fact", memory.StoreOptions{})
	require.NoError(t, err)
	searcher.Index(m)

	hits, err := searcher.Search(ctx, memory.ScopeGlobal, "secret fact", 5, memory.Filter{})
	require.NoError(t, err)
	assert.Empty(t, hits)

	hits, err = searcher.Search(ctx, memory.ScopeSession, "secret fact", 5, memory.Filter{})
	require.NoError(t, err)
	assert.Empty(t, hits)

	hits, err = searcher.Search(ctx, memory.ScopeProject, "secret fact", 5, memory.Filter{})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, m.ID, hits[0].Memory.ID)
}

func TestSearchRebuildsFromStore(t *testing.T) {
	// A fresh searcher over an already-populated database must find
	// memories written before it existed.
	ctx := context.Background()
	dir := t.TempDir()
	opts := memory.Options{
		GlobalDBPath:       filepath.Join(dir, "global.db"),
		ProjectDBPath:      filepath.Join(dir, "data.db"),
		MaxSessionMemories: 10,
	}

	writer := memory.NewStore(opts, zerolog.Nop())
	m, err := writer.Store(ctx, memory.ScopeGlobal, "goroutines multiplex onto threads", memory.StoreOptions{})
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	store := memory.NewStore(opts, zerolog.Nop())
	defer store.Close()
	searcher := memory.NewSearcher(store, index.DefaultK1, index.DefaultB, zerolog.Nop())

	hits, err := searcher.Search(ctx, memory.ScopeGlobal, "goroutines threads", 5, memory.Filter{})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, m.ID, hits[0].Memory.ID)
	assert.Greater(t, hits[0].Score, 0.0)
}

func TestSearchTagFilter(t *testing.T) {
	ctx := context.Background()
	store, searcher := newTestSearcher(t)

	tagged, err := store.Store(ctx, memory.ScopeGlobal, "channel select patterns", memory.StoreOptions{Tags: []string{"go"}})
	require.NoError(t, err)
	searcher.Index(tagged)

	other, err := store.Store(ctx, memory.ScopeGlobal, "channel capacity tuning", memory.StoreOptions{Tags: []string{"kafka"}})
	require.NoError(t, err)
	searcher.Index(other)

	hits, err := searcher.Search(ctx, memory.ScopeGlobal, "channel", 5, memory.Filter{Tags: []string{"go"}})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, tagged.ID, hits[0].Memory.ID)
}

func TestSearchMinSimilarity(t *testing.T) {
	ctx := context.Background()
	store, searcher := newTestSearcher(t)

	strong, err := store.Store(ctx, memory.ScopeGlobal, "vector clocks order distributed events", memory.StoreOptions{})
	require.NoError(t, err)
	searcher.Index(strong)

	weak, err := store.Store(ctx, memory.ScopeGlobal, "events and many other unrelated words about various other systems topics", memory.StoreOptions{})
	require.NoError(t, err)
	searcher.Index(weak)

	all, err := searcher.Search(ctx, memory.ScopeGlobal, "vector clocks events", 5, memory.Filter{})
	require.NoError(t, err)
	require.Len(t, all, 2)

	top, err := searcher.Search(ctx, memory.ScopeGlobal, "vector clocks events", 5, memory.Filter{MinSimilarity: 0.9})
	require.NoError(t, err)
	require.Len(t, top, 1)
	assert.Equal(t, strong.ID, top[0].Memory.ID)
}

func TestSearchDeleteUnindexes(t *testing.T) {
	ctx := context.Background()
	store, searcher := newTestSearcher(t)

	m, err := store.Store(ctx, memory.ScopeGlobal, "forgettable detail", memory.StoreOptions{})
	require.NoError(t, err)
	searcher.Index(m)

	hits, err := searcher.Search(ctx, memory.ScopeGlobal, "forgettable", 5, memory.Filter{})
	require.NoError(t, err)
	require.Len(t, hits, 1)

	_, err = store.Delete(ctx, memory.ScopeGlobal, m.ID)
	require.NoError(t, err)
	searcher.Unindex(memory.ScopeGlobal, m.ID)

	hits, err = searcher.Search(ctx, memory.ScopeGlobal, "forgettable", 5, memory.Filter{})
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestSearchSessionEviction(t *testing.T) {
	// Session cap is 3; the evicted memory must drop out of results.
	ctx := context.Background()
	store, searcher := newTestSearcher(t)

	first, err := store.Store(ctx, memory.ScopeSession, "earliest unique pelican", memory.StoreOptions{})
	require.NoError(t, err)
	searcher.Index(first)

	// Force the session index to exist before eviction happens.
	hits, err := searcher.Search(ctx, memory.ScopeSession, "pelican", 5, memory.Filter{})
	require.NoError(t, err)
	require.Len(t, hits, 1)

	for i := 0; i < 3; i++ {
		m, err := store.Store(ctx, memory.ScopeSession, "later filler entry", memory.StoreOptions{})
		require.NoError(t, err)
		searcher.Index(m)
	}

	hits, err = searcher.Search(ctx, memory.ScopeSession, "pelican", 5, memory.Filter{})
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestSearchZeroK(t *testing.T) {
	ctx := context.Background()
	_, searcher := newTestSearcher(t)

	hits, err := searcher.Search(ctx, memory.ScopeGlobal, "anything", 0, memory.Filter{})
	require.NoError(t, err)
	assert.Empty(t, hits)
}

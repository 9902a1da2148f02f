package memory_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/kukks/rag-mcp/internal/memory"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *memory.Store {
	t.Helper()
	dir := t.TempDir()
	s := memory.NewStore(memory.Options{
		GlobalDBPath:       filepath.Join(dir, "global", "global.db"),
		ProjectDBPath:      filepath.Join(dir, "project", ".rag-mcp", "data.db"),
		MaxSessionMemories: 3,
	}, zerolog.Nop())
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRoundTrip(t *testing.T) {
	ctx := context.Background()

	for _, scope := range []memory.Scope{memory.ScopeSession, memory.ScopeProject, memory.ScopeGlobal} {
		t.Run(string(scope), func(t *testing.T) {
			s := newTestStore(t)

			before := time.Now()
			m, err := s.Store(ctx, scope, "Rust prevents data races at compile time", memory.StoreOptions{
				Tags:       []string{"rust", "concurrency"},
				SourceFile: "notes.md",
				Language:   "en",
			})
			require.NoError(t, err)

			assert.NotEmpty(t, m.ID)
			assert.Equal(t, scope, m.Scope)
			assert.Equal(t, int64(1), m.Version)
			assert.Equal(t, 1.0, m.Importance)
			assert.False(t, m.CreatedAt.Before(before.Add(-time.Second)))
			assert.False(t, m.UpdatedAt.Before(m.CreatedAt))

			got, err := s.Get(ctx, scope, m.ID)
			require.NoError(t, err)
			assert.Equal(t, "Rust prevents data races at compile time", got.Content)
			assert.Equal(t, []string{"rust", "concurrency"}, got.Tags)
			assert.Equal(t, "notes.md", got.SourceFile)
			assert.Equal(t, "en", got.Language)
			assert.Equal(t, int64(1), got.Version)

			listed, err := s.List(ctx, scope, 10, 0)
			require.NoError(t, err)
			require.Len(t, listed, 1)
			assert.Equal(t, m.ID, listed[0].ID)
		})
	}
}

func TestGetMissing(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.Get(ctx, memory.ScopeGlobal, "no-such-id")
	assert.ErrorIs(t, err, memory.ErrNotFound)

	_, err = s.Get(ctx, memory.ScopeSession, "no-such-id")
	assert.ErrorIs(t, err, memory.ErrNotFound)
}

func TestUpdateBumpsVersion(t *testing.T) {
	ctx := context.Background()

	for _, scope := range []memory.Scope{memory.ScopeSession, memory.ScopeGlobal} {
		t.Run(string(scope), func(t *testing.T) {
			s := newTestStore(t)

			m, err := s.Store(ctx, scope, "original", memory.StoreOptions{})
			require.NoError(t, err)

			content := "revised"
			tags := []string{"edited"}
			updated, err := s.Update(ctx, scope, m.ID, memory.Patch{
				Content: &content,
				Tags:    &tags,
			})
			require.NoError(t, err)

			assert.Equal(t, "revised", updated.Content)
			assert.Equal(t, []string{"edited"}, updated.Tags)
			assert.Equal(t, int64(2), updated.Version)
			assert.False(t, updated.UpdatedAt.Before(updated.CreatedAt))

			got, err := s.Get(ctx, scope, m.ID)
			require.NoError(t, err)
			assert.Equal(t, "revised", got.Content)
			assert.Equal(t, int64(2), got.Version)

			_, err = s.Update(ctx, scope, "missing", memory.Patch{Content: &content})
			assert.ErrorIs(t, err, memory.ErrNotFound)
		})
	}
}

func TestDeleteIsIdempotent(t *testing.T) {
	ctx := context.Background()

	for _, scope := range []memory.Scope{memory.ScopeSession, memory.ScopeProject} {
		t.Run(string(scope), func(t *testing.T) {
			s := newTestStore(t)

			m, err := s.Store(ctx, scope, "ephemeral", memory.StoreOptions{})
			require.NoError(t, err)

			existed, err := s.Delete(ctx, scope, m.ID)
			require.NoError(t, err)
			assert.True(t, existed)

			existed, err = s.Delete(ctx, scope, m.ID)
			require.NoError(t, err)
			assert.False(t, existed)

			_, err = s.Get(ctx, scope, m.ID)
			assert.ErrorIs(t, err, memory.ErrNotFound)
		})
	}
}

func TestListOrderAndPaging(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	var ids []string
	for i := 0; i < 5; i++ {
		m, err := s.Store(ctx, memory.ScopeGlobal, "entry", memory.StoreOptions{})
		require.NoError(t, err)
		ids = append(ids, m.ID)
		time.Sleep(2 * time.Millisecond) // distinct created_at milliseconds
	}

	listed, err := s.List(ctx, memory.ScopeGlobal, 0, 0)
	require.NoError(t, err)
	require.Len(t, listed, 5)
	// Newest first.
	assert.Equal(t, ids[4], listed[0].ID)
	assert.Equal(t, ids[0], listed[4].ID)

	page, err := s.List(ctx, memory.ScopeGlobal, 2, 1)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, ids[3], page[0].ID)
	assert.Equal(t, ids[2], page[1].ID)
}

func TestCount(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	n, err := s.Count(ctx, memory.ScopeProject)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	for i := 0; i < 3; i++ {
		_, err := s.Store(ctx, memory.ScopeProject, "entry", memory.StoreOptions{})
		require.NoError(t, err)
	}

	n, err = s.Count(ctx, memory.ScopeProject)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}

func TestScopeIsolation(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	m, err := s.Store(ctx, memory.ScopeProject, "project only", memory.StoreOptions{})
	require.NoError(t, err)

	globals, err := s.List(ctx, memory.ScopeGlobal, 0, 0)
	require.NoError(t, err)
	assert.Empty(t, globals)

	_, err = s.Get(ctx, memory.ScopeSession, m.ID)
	assert.ErrorIs(t, err, memory.ErrNotFound)

	projects, err := s.List(ctx, memory.ScopeProject, 0, 0)
	require.NoError(t, err)
	require.Len(t, projects, 1)
	assert.Equal(t, m.ID, projects[0].ID)
}

func TestSessionCapEviction(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t) // cap is 3

	var evicted []string
	s.OnSessionEvict(func(id string) { evicted = append(evicted, id) })

	var ids []string
	for i := 0; i < 4; i++ {
		m, err := s.Store(ctx, memory.ScopeSession, "session entry", memory.StoreOptions{})
		require.NoError(t, err)
		ids = append(ids, m.ID)
	}

	n, err := s.Count(ctx, memory.ScopeSession)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	// M4, M3, M2 remain in that order; M1 is gone.
	listed, err := s.List(ctx, memory.ScopeSession, 0, 0)
	require.NoError(t, err)
	require.Len(t, listed, 3)
	assert.Equal(t, ids[3], listed[0].ID)
	assert.Equal(t, ids[2], listed[1].ID)
	assert.Equal(t, ids[1], listed[2].ID)

	_, err = s.Get(ctx, memory.ScopeSession, ids[0])
	assert.ErrorIs(t, err, memory.ErrNotFound)
	assert.Equal(t, []string{ids[0]}, evicted)
}

func TestClearSession(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.Store(ctx, memory.ScopeSession, "transient", memory.StoreOptions{})
	require.NoError(t, err)

	s.ClearSession()

	n, err := s.Count(ctx, memory.ScopeSession)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestPersistenceAcrossHandles(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	opts := memory.Options{
		GlobalDBPath:       filepath.Join(dir, "global.db"),
		ProjectDBPath:      filepath.Join(dir, "data.db"),
		MaxSessionMemories: 10,
	}

	s1 := memory.NewStore(opts, zerolog.Nop())
	m, err := s1.Store(ctx, memory.ScopeGlobal, "survives restart", memory.StoreOptions{Tags: []string{"durable"}})
	require.NoError(t, err)
	require.NoError(t, s1.Close())

	s2 := memory.NewStore(opts, zerolog.Nop())
	defer s2.Close()

	got, err := s2.Get(ctx, memory.ScopeGlobal, m.ID)
	require.NoError(t, err)
	assert.Equal(t, "survives restart", got.Content)
	assert.Equal(t, []string{"durable"}, got.Tags)
}

func TestConcurrentStores(t *testing.T) {
	// Two stores sharing one database file, the way two dispatcher
	// processes share the global scope. WAL mode must let one write
	// while the other reads, and the reader must see the write.
	ctx := context.Background()
	dir := t.TempDir()
	opts := memory.Options{
		GlobalDBPath:       filepath.Join(dir, "global.db"),
		ProjectDBPath:      filepath.Join(dir, "data.db"),
		MaxSessionMemories: 10,
	}

	writer := memory.NewStore(opts, zerolog.Nop())
	defer writer.Close()
	reader := memory.NewStore(opts, zerolog.Nop())
	defer reader.Close()

	_, err := reader.List(ctx, memory.ScopeGlobal, 0, 0)
	require.NoError(t, err)

	m, err := writer.Store(ctx, memory.ScopeGlobal, "shared write", memory.StoreOptions{})
	require.NoError(t, err)

	got, err := reader.Get(ctx, memory.ScopeGlobal, m.ID)
	require.NoError(t, err)
	assert.Equal(t, "shared write", got.Content)
}

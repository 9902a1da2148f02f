package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Options configures a Store.
type Options struct {
	// GlobalDBPath is the global database file.
	GlobalDBPath string
	// ProjectDBPath is this process's project database file.
	ProjectDBPath string
	// MaxSessionMemories caps the session scope; oldest entries are
	// evicted on overflow.
	MaxSessionMemories int
}

// Store provides durable CRUD for memories across the three scopes.
// Database handles are created lazily on first use of a scope and
// guarded by a mutex, so a failure to open one scope leaves the others
// serviceable. Cross-process exclusion on shared database files is
// delegated entirely to SQLite WAL locking; no PID files or advisory
// locks are used.
type Store struct {
	opts   Options
	logger zerolog.Logger

	mu      sync.Mutex
	session *sessionStore
	dbs     map[Scope]*sqliteStore

	// onEvict is notified when the session scope evicts a memory, so
	// the search index can drop it too.
	onEvict func(id string)
}

// NewStore creates a store. No database file is touched until its scope
// is first used.
func NewStore(opts Options, logger zerolog.Logger) *Store {
	return &Store{
		opts:    opts,
		logger:  logger,
		session: newSessionStore(opts.MaxSessionMemories),
		dbs:     make(map[Scope]*sqliteStore),
	}
}

// OnSessionEvict registers a callback invoked with the id of each
// memory evicted from the session scope. The callback runs with the
// store lock held and must not call back into the store.
func (s *Store) OnSessionEvict(fn func(id string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onEvict = fn
}

// handleLocked returns the database for a persistent scope, opening it
// on first use. Caller holds s.mu.
func (s *Store) handleLocked(scope Scope) (*sqliteStore, error) {
	if db, ok := s.dbs[scope]; ok {
		return db, nil
	}

	var path string
	switch scope {
	case ScopeProject:
		path = s.opts.ProjectDBPath
	case ScopeGlobal:
		path = s.opts.GlobalDBPath
	default:
		return nil, fmt.Errorf("scope %s has no database", scope)
	}

	db, err := openSQLite(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", scope, err)
	}
	s.logger.Debug().Str("scope", string(scope)).Str("path", path).Msg("Database opened")
	s.dbs[scope] = db
	return db, nil
}

// Store creates a memory in the given scope and returns the fully
// populated record. It returns only after the memory is durable.
func (s *Store) Store(ctx context.Context, scope Scope, content string, opts StoreOptions) (*Memory, error) {
	now := time.Now().UTC()
	importance := opts.Importance
	if importance == 0 {
		importance = 1.0
	}
	tags := opts.Tags
	if tags == nil {
		tags = []string{}
	}

	m := &Memory{
		ID:         uuid.New().String(),
		Content:    content,
		Scope:      scope,
		Tags:       append([]string(nil), tags...),
		SourceFile: opts.SourceFile,
		Language:   opts.Language,
		Importance: importance,
		CreatedAt:  now,
		UpdatedAt:  now,
		Version:    1,
		Custom:     opts.Custom,
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if scope == ScopeSession {
		if evicted := s.session.put(m); evicted != "" {
			s.logger.Debug().Str("id", evicted).Msg("Session memory evicted")
			if s.onEvict != nil {
				s.onEvict(evicted)
			}
		}
		return m.Clone(), nil
	}

	db, err := s.handleLocked(scope)
	if err != nil {
		return nil, err
	}
	if err := db.insert(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}

// Get returns the memory with the given id, or ErrNotFound.
func (s *Store) Get(ctx context.Context, scope Scope, id string) (*Memory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if scope == ScopeSession {
		if m, ok := s.session.get(id); ok {
			return m.Clone(), nil
		}
		return nil, ErrNotFound
	}

	db, err := s.handleLocked(scope)
	if err != nil {
		return nil, err
	}
	return db.get(ctx, id)
}

// Update applies a patch, bumps the version and refreshes updated_at.
func (s *Store) Update(ctx context.Context, scope Scope, id string, patch Patch) (*Memory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if scope == ScopeSession {
		m, ok := s.session.get(id)
		if !ok {
			return nil, ErrNotFound
		}
		patch.apply(m)
		m.Version++
		m.UpdatedAt = time.Now().UTC()
		return m.Clone(), nil
	}

	db, err := s.handleLocked(scope)
	if err != nil {
		return nil, err
	}
	m, err := db.get(ctx, id)
	if err != nil {
		return nil, err
	}
	patch.apply(m)
	m.Version++
	m.UpdatedAt = time.Now().UTC()
	if err := db.update(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}

// Delete removes a memory and reports whether it existed.
func (s *Store) Delete(ctx context.Context, scope Scope, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if scope == ScopeSession {
		return s.session.delete(id), nil
	}

	db, err := s.handleLocked(scope)
	if err != nil {
		return false, err
	}
	return db.delete(ctx, id)
}

// List returns memories in a scope ordered by created_at descending.
// A non-positive limit means no limit.
func (s *Store) List(ctx context.Context, scope Scope, limit, offset int) ([]*Memory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if scope == ScopeSession {
		entries := s.session.list(limit, offset)
		out := make([]*Memory, len(entries))
		for i, m := range entries {
			out[i] = m.Clone()
		}
		return out, nil
	}

	db, err := s.handleLocked(scope)
	if err != nil {
		return nil, err
	}
	return db.list(ctx, limit, offset)
}

// Count returns the number of memories in a scope.
func (s *Store) Count(ctx context.Context, scope Scope) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if scope == ScopeSession {
		return int64(s.session.count()), nil
	}

	db, err := s.handleLocked(scope)
	if err != nil {
		return 0, err
	}
	return db.count(ctx)
}

// ClearSession drops every session-scope memory. It never fails.
func (s *Store) ClearSession() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.session.clear()
}

// Close releases all database handles, letting other processes acquire
// the WAL locks without delay.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var firstErr error
	for scope, db := range s.dbs {
		if err := db.close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(s.dbs, scope)
	}
	return firstErr
}

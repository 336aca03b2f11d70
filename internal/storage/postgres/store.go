package postgres

import (
	"context"
	"sync"

	"github.com/jkaninda/msaidizi/internal/callback"
	"github.com/jkaninda/msaidizi/internal/handoff"
	"github.com/jkaninda/msaidizi/internal/scheduler"
	"github.com/jkaninda/msaidizi/internal/storage"
)

// Store implements storage.Store backed by PostgreSQL.
type Store struct {
	db *DB

	// Sub-store instances (created lazily on first access).
	mu        sync.Mutex
	actions   storage.ActionStore
	secrets   storage.SecretStore
	schedules scheduler.EntryStore
	handoffs  handoff.SessionStore
	callbacks callback.Store
}

// NewStore wraps an open connection as the unified Store.
func NewStore(db *DB) *Store {
	return &Store{db: db}
}

func (s *Store) Actions() storage.ActionStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.actions == nil {
		s.actions = NewActionRepository(s.db.GormDB())
	}
	return s.actions
}

func (s *Store) Secrets() storage.SecretStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.secrets == nil {
		s.secrets = NewSecretRepository(s.db.GormDB())
	}
	return s.secrets
}

func (s *Store) Schedules() scheduler.EntryStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.schedules == nil {
		s.schedules = NewScheduleRepository(s.db.GormDB())
	}
	return s.schedules
}

func (s *Store) Handoffs() handoff.SessionStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handoffs == nil {
		s.handoffs = NewHandoffRepository(s.db.GormDB())
	}
	return s.handoffs
}

func (s *Store) Callbacks() callback.Store {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.callbacks == nil {
		s.callbacks = NewCallbackRepository(s.db.GormDB())
	}
	return s.callbacks
}

// Migrate runs GORM AutoMigrate to create/update tables.
func (s *Store) Migrate(_ context.Context) error {
	return AutoMigrate(s.db.GormDB())
}

// Ping checks the connection for health/readiness probes.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// Close releases the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// Driver returns "postgres".
func (s *Store) Driver() string {
	return storage.DriverPostgres
}

// compile-time interface check
var _ storage.Store = (*Store)(nil)

// Package storage defines the unified Store interface that abstracts all
// persistence operations. Two backends are provided: SQLite (default,
// zero-config) and PostgreSQL (production/multi-tenant).
package storage

import (
	"context"

	"github.com/jkaninda/msaidizi/internal/actionstore"
	"github.com/jkaninda/msaidizi/internal/callback"
	"github.com/jkaninda/msaidizi/internal/domain"
	"github.com/jkaninda/msaidizi/internal/handoff"
	"github.com/jkaninda/msaidizi/internal/scheduler"
	"github.com/jkaninda/msaidizi/internal/secrets"
)

// ActionStore extends the cached read path with authoring writes.
// Writers must invalidate the action cache after a successful write.
type ActionStore interface {
	actionstore.Backend
	SaveAction(ctx context.Context, action *domain.Action) error
	DeleteAction(ctx context.Context, bot, name string) error
}

// SecretStore extends the vault read path with authoring writes. Values
// arrive already sealed; this layer never sees plaintext.
type SecretStore interface {
	secrets.RecordStore
	SaveSecret(ctx context.Context, rec *domain.SecretRecord) error
	DeleteSecret(ctx context.Context, bot, key string) error
	SaveCredential(ctx context.Context, cred *domain.IntegrationCredential) error
}

// Store is the unified persistence interface for the engine.
// It provides access to all domain-specific sub-stores through accessor
// methods. Both SQLite and PostgreSQL backends implement this interface.
type Store interface {
	Actions() ActionStore
	Secrets() SecretStore
	Schedules() scheduler.EntryStore
	Handoffs() handoff.SessionStore
	Callbacks() callback.Store

	// Lifecycle.
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error

	// Driver returns the storage driver name ("sqlite" or "postgres").
	Driver() string
}

// Config holds storage configuration for driver selection.
type Config struct {
	Driver   string         `json:"driver" yaml:"driver"` // "sqlite" (default) or "postgres"
	SQLite   SQLiteConfig   `json:"sqlite" yaml:"sqlite"`
	Postgres PostgresConfig `json:"postgres" yaml:"postgres"`
}

// SQLiteConfig holds SQLite-specific settings.
type SQLiteConfig struct {
	Path        string `json:"path,omitempty" yaml:"path,omitempty"`
	JournalMode string `json:"journal_mode" yaml:"journal_mode"` // "wal" (default).
}

// PostgresConfig holds PostgreSQL-specific settings.
type PostgresConfig struct {
	DSN              string `json:"dsn" yaml:"dsn"`
	MaxOpenConns     int    `json:"max_open_conns" yaml:"max_open_conns"`
	MaxIdleConns     int    `json:"max_idle_conns" yaml:"max_idle_conns"`
	ConnMaxLifetimeS int    `json:"conn_max_lifetime_s" yaml:"conn_max_lifetime_s"`
}

// DefaultDriver is the default storage driver.
const DefaultDriver = "sqlite"

// DriverSQLite is the SQLite driver name.
const DriverSQLite = "sqlite"

// DriverPostgres is the PostgreSQL driver name.
const DriverPostgres = "postgres"

package store

import (
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// DSN types returned by DetectDSNType.
const (
	DSNTypePostgres = "postgres"
	DSNTypeSQLite   = "sqlite"
)

// Opts holds configuration options for store backends.
type Opts struct {
	DSN        string        // database connection string (file path for SQLite)
	RedisURL   string        // redis:// URL, selects the Redis backend when set
	SessionTTL time.Duration // idle sessions older than this are evicted; zero disables eviction
}

// Option defines a configuration option for store backends.
type Option func(*Opts)

// WithSQLiteDSN sets the SQLite database file path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
	}
}

// WithPostgresDSN sets the PostgreSQL connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
	}
}

// WithRedisURL selects the Redis backend at the given URL.
func WithRedisURL(url string) Option {
	return func(o *Opts) {
		o.RedisURL = url
	}
}

// WithSessionTTL enables idle session eviction.
func WithSessionTTL(ttl time.Duration) Option {
	return func(o *Opts) {
		o.SessionTTL = ttl
	}
}

// DetectDSNType reports whether a DSN points at PostgreSQL or at an SQLite file.
func DetectDSNType(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") || strings.Contains(dsn, "host=") {
		return DSNTypePostgres
	}
	return DSNTypeSQLite
}

// New creates the store backend selected by the options.
// Redis wins over a DSN; with neither, an in-memory store is returned.
func New(opts ...Option) (Store, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("store.New invoked", "DSN_set", cfg.DSN != "", "RedisURL_set", cfg.RedisURL != "", "session_ttl", cfg.SessionTTL)

	switch {
	case cfg.RedisURL != "":
		st, err := NewRedisStore(opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create redis store: %w", err)
		}
		return st, nil
	case cfg.DSN != "" && DetectDSNType(cfg.DSN) == DSNTypePostgres:
		st, err := NewPostgresStore(opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create postgres store: %w", err)
		}
		return st, nil
	case cfg.DSN != "":
		st, err := NewSQLiteStore(opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create sqlite store: %w", err)
		}
		return st, nil
	default:
		slog.Debug("No database DSN provided, using in-memory store")
		return NewInMemoryStore(), nil
	}
}

// Package store provides storage backends for NutriPipe.
//
// This file implements an SQLite-backed session store.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "embed"

	"github.com/BTreeMap/NutriPipe/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

// Constants for SQLite store configuration
const (
	// DefaultDirPermissions defines the default permissions for database directories
	DefaultDirPermissions = 0755
)

//go:embed migrations_sqlite.sql
var sqliteMigrations string

type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	// Apply options
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	// Determine DSN (required)
	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	// Ensure the directory exists for file paths
	if !strings.HasPrefix(dsn, ":memory:") && !strings.HasPrefix(dsn, "file:") {
		dir := filepath.Dir(dsn)
		if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
			slog.Error("Failed to create database directory", "error", err, "dir", dir)
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
		slog.Debug("SQLite database directory verified/created", "dir", dir)
	}

	slog.Debug("Opening SQLite database connection")
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}
	// SQLite allows one writer; serialize through a single connection.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		db.Close()
		return nil, err
	}
	slog.Debug("SQLite ping successful")

	// Run migrations to ensure tables exist
	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully")

	return &SQLiteStore{db: db}, nil
}

// GetSession retrieves the session for a user.
func (s *SQLiteStore) GetSession(ctx context.Context, userID string) (*models.Session, error) {
	query := `SELECT user_id, state, created_at, updated_at FROM sessions WHERE user_id = ?`

	var session models.Session
	err := s.db.QueryRowContext(ctx, query, userID).Scan(
		&session.UserID, &session.State, &session.CreatedAt, &session.UpdatedAt)
	if err == sql.ErrNoRows {
		slog.Debug("SQLiteStore GetSession not found", "userID", userID)
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetSession failed", "error", err, "userID", userID)
		return nil, fmt.Errorf("failed to get session for %s: %w", userID, err)
	}

	slog.Debug("SQLiteStore GetSession found", "userID", userID, "state", session.State)
	return &session, nil
}

// SaveSession stores or updates a user's session.
func (s *SQLiteStore) SaveSession(ctx context.Context, session models.Session) error {
	query := `
		INSERT OR REPLACE INTO sessions (user_id, state, created_at, updated_at)
		VALUES (?, ?, ?, ?)`

	// Timestamps are stored as UTC text so PurgeIdle can compare them lexically.
	_, err := s.db.ExecContext(ctx, query, session.UserID, session.State, session.CreatedAt.UTC(), session.UpdatedAt.UTC())
	if err != nil {
		slog.Error("SQLiteStore SaveSession failed", "error", err, "userID", session.UserID)
		return fmt.Errorf("failed to save session for %s: %w", session.UserID, err)
	}
	slog.Debug("SQLiteStore SaveSession succeeded", "userID", session.UserID, "state", session.State)
	return nil
}

// DeleteSession removes a user's session.
func (s *SQLiteStore) DeleteSession(ctx context.Context, userID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE user_id = ?`, userID); err != nil {
		slog.Error("SQLiteStore DeleteSession failed", "error", err, "userID", userID)
		return fmt.Errorf("failed to delete session for %s: %w", userID, err)
	}
	slog.Debug("SQLiteStore DeleteSession succeeded", "userID", userID)
	return nil
}

// ListSessions returns all sessions ordered by user ID.
func (s *SQLiteStore) ListSessions(ctx context.Context) ([]models.Session, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT user_id, state, created_at, updated_at FROM sessions ORDER BY user_id`)
	if err != nil {
		slog.Error("SQLiteStore ListSessions query failed", "error", err)
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	sessions, err := scanSessions(rows)
	if err != nil {
		slog.Error("SQLiteStore ListSessions scan failed", "error", err)
		return nil, err
	}
	slog.Debug("SQLiteStore ListSessions succeeded", "count", len(sessions))
	return sessions, nil
}

// PurgeIdle deletes sessions not updated since before.
func (s *SQLiteStore) PurgeIdle(ctx context.Context, before time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE updated_at < ?`, before.UTC())
	if err != nil {
		slog.Error("SQLiteStore PurgeIdle failed", "error", err)
		return 0, fmt.Errorf("failed to purge idle sessions: %w", err)
	}
	n, _ := res.RowsAffected()
	slog.Debug("SQLiteStore PurgeIdle succeeded", "count", n)
	return int(n), nil
}

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	slog.Debug("Closing SQLite database connection")
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close SQLite database", "error", err)
	} else {
		slog.Debug("SQLite database connection closed successfully")
	}
	return err
}

// scanSessions scans all remaining rows into sessions.
func scanSessions(rows *sql.Rows) ([]models.Session, error) {
	var sessions []models.Session
	for rows.Next() {
		var session models.Session
		if err := rows.Scan(&session.UserID, &session.State, &session.CreatedAt, &session.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan session row: %w", err)
		}
		sessions = append(sessions, session)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate session rows: %w", err)
	}
	return sessions, nil
}

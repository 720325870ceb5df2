// This file implements the SQLite-backed store.

package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "embed"

	"github.com/pacific-gateway/tripbot/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

// DefaultDirPermissions defines the default permissions for database directories.
const DefaultDirPermissions = 0755

//go:embed migrations_sqlite.sql
var sqliteMigrations string

// SQLiteStore persists sessions, dedup records and tickets in SQLite.
type SQLiteStore struct {
	db  *sql.DB
	cfg Opts
}

// NewSQLiteStore creates a new SQLite store with the given DSN. The DSN is
// a file path to the database file; its directory is created if missing.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	cfg.applyDefaults()
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	if cfg.DSN == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	dir := filepath.Dir(cfg.DSN)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", cfg.DSN)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}
	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		return nil, err
	}

	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied")

	return &SQLiteStore{db: db, cfg: cfg}, nil
}

// GetSession retrieves the session for a user, or nil if none exists or
// the row is idle past the session TTL.
func (s *SQLiteStore) GetSession(userID string) (*models.Session, error) {
	var data string
	var updatedAt time.Time
	err := s.db.QueryRow(`SELECT data, updated_at FROM sessions WHERE user_id = ?`, userID).Scan(&data, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetSession failed", "error", err, "userID", userID)
		return nil, fmt.Errorf("failed to query session for %s: %w", userID, err)
	}

	if time.Since(updatedAt) > s.cfg.SessionTTL {
		slog.Debug("SQLiteStore GetSession expired, deleting", "userID", userID, "updatedAt", updatedAt)
		if err := s.DeleteSession(userID); err != nil {
			return nil, err
		}
		return nil, nil
	}

	var sess models.Session
	if err := sess.FromJSON(data); err != nil {
		slog.Error("SQLiteStore GetSession unmarshal failed", "error", err, "userID", userID)
		return nil, fmt.Errorf("failed to decode session for %s: %w", userID, err)
	}
	return &sess, nil
}

// SaveSession inserts or replaces the session for its user.
func (s *SQLiteStore) SaveSession(sess models.Session) error {
	data, err := sess.ToJSON()
	if err != nil {
		slog.Error("SQLiteStore SaveSession marshal failed", "error", err, "userID", sess.UserID)
		return err
	}
	_, err = s.db.Exec(
		`INSERT OR REPLACE INTO sessions (user_id, data, created_at, updated_at) VALUES (?, ?, ?, ?)`,
		sess.UserID, data, sess.CreatedAt, sess.UpdatedAt,
	)
	if err != nil {
		slog.Error("SQLiteStore SaveSession failed", "error", err, "userID", sess.UserID)
		return fmt.Errorf("failed to save session for %s: %w", sess.UserID, err)
	}
	slog.Debug("SQLiteStore SaveSession succeeded", "userID", sess.UserID, "step", sess.Step)
	return nil
}

// DeleteSession removes the session for a user.
func (s *SQLiteStore) DeleteSession(userID string) error {
	_, err := s.db.Exec(`DELETE FROM sessions WHERE user_id = ?`, userID)
	if err != nil {
		slog.Error("SQLiteStore DeleteSession failed", "error", err, "userID", userID)
		return fmt.Errorf("failed to delete session for %s: %w", userID, err)
	}
	return nil
}

// ActiveSessionCount reports how many unexpired sessions are stored.
func (s *SQLiteStore) ActiveSessionCount() (int, error) {
	cutoff := time.Now().Add(-s.cfg.SessionTTL)
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM sessions WHERE updated_at >= ?`, cutoff).Scan(&count)
	if err != nil {
		slog.Error("SQLiteStore ActiveSessionCount failed", "error", err)
		return 0, err
	}
	return count, nil
}

// AddTicket records a priced ticket for reporting.
func (s *SQLiteStore) AddTicket(t models.PricedTicket) error {
	data, err := marshalTicket(t)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(
		`INSERT INTO tickets (airline, data, created_at) VALUES (?, ?, ?)`,
		t.Airline, data, time.Now(),
	)
	if err != nil {
		slog.Error("SQLiteStore AddTicket failed", "error", err, "airline", t.Airline)
		return fmt.Errorf("failed to insert ticket: %w", err)
	}
	return nil
}

// GetTickets returns all recorded priced tickets.
func (s *SQLiteStore) GetTickets() ([]models.PricedTicket, error) {
	rows, err := s.db.Query(`SELECT data FROM tickets ORDER BY id`)
	if err != nil {
		slog.Error("SQLiteStore GetTickets query failed", "error", err)
		return nil, fmt.Errorf("failed to query tickets: %w", err)
	}
	defer rows.Close()

	var tickets []models.PricedTicket
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			slog.Error("SQLiteStore GetTickets scan failed", "error", err)
			return nil, fmt.Errorf("failed to scan ticket row: %w", err)
		}
		t, err := unmarshalTicket(data)
		if err != nil {
			return nil, err
		}
		tickets = append(tickets, t)
	}
	if err := rows.Err(); err != nil {
		slog.Error("SQLiteStore GetTickets rows iteration failed", "error", err)
		return nil, fmt.Errorf("failed to iterate ticket rows: %w", err)
	}
	return tickets, nil
}

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	slog.Debug("Closing SQLite database connection")
	return s.db.Close()
}

// Compile-time check that SQLiteStore implements Store.
var _ Store = (*SQLiteStore)(nil)

// This file implements the PostgreSQL-backed store.

package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	_ "github.com/lib/pq"
	"github.com/pacific-gateway/tripbot/internal/models"
)

//go:embed migrations_postgres.sql
var postgresMigrations string

// PostgresStore persists sessions, dedup records and tickets in PostgreSQL.
type PostgresStore struct {
	db  *sql.DB
	cfg Opts
}

// NewPostgresStore creates a new PostgreSQL store with the given DSN.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	cfg.applyDefaults()
	slog.Debug("NewPostgresStore invoked", "DSN_set", cfg.DSN != "")

	if cfg.DSN == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		slog.Error("Failed to open PostgreSQL connection", "error", err)
		return nil, err
	}
	if err := db.Ping(); err != nil {
		slog.Error("PostgreSQL ping failed", "error", err)
		return nil, err
	}

	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("PostgreSQL migrations applied")

	return &PostgresStore{db: db, cfg: cfg}, nil
}

// GetSession retrieves the session for a user, or nil if none exists or
// the row is idle past the session TTL.
func (s *PostgresStore) GetSession(userID string) (*models.Session, error) {
	var data string
	var updatedAt time.Time
	err := s.db.QueryRow(`SELECT data, updated_at FROM sessions WHERE user_id = $1`, userID).Scan(&data, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetSession failed", "error", err, "userID", userID)
		return nil, fmt.Errorf("failed to query session for %s: %w", userID, err)
	}

	if time.Since(updatedAt) > s.cfg.SessionTTL {
		slog.Debug("PostgresStore GetSession expired, deleting", "userID", userID, "updatedAt", updatedAt)
		if err := s.DeleteSession(userID); err != nil {
			return nil, err
		}
		return nil, nil
	}

	var sess models.Session
	if err := sess.FromJSON(data); err != nil {
		slog.Error("PostgresStore GetSession unmarshal failed", "error", err, "userID", userID)
		return nil, fmt.Errorf("failed to decode session for %s: %w", userID, err)
	}
	return &sess, nil
}

// SaveSession inserts or replaces the session for its user.
func (s *PostgresStore) SaveSession(sess models.Session) error {
	data, err := sess.ToJSON()
	if err != nil {
		slog.Error("PostgresStore SaveSession marshal failed", "error", err, "userID", sess.UserID)
		return err
	}
	_, err = s.db.Exec(
		`INSERT INTO sessions (user_id, data, created_at, updated_at) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (user_id) DO UPDATE SET data = EXCLUDED.data, updated_at = EXCLUDED.updated_at`,
		sess.UserID, data, sess.CreatedAt, sess.UpdatedAt,
	)
	if err != nil {
		slog.Error("PostgresStore SaveSession failed", "error", err, "userID", sess.UserID)
		return fmt.Errorf("failed to save session for %s: %w", sess.UserID, err)
	}
	slog.Debug("PostgresStore SaveSession succeeded", "userID", sess.UserID, "step", sess.Step)
	return nil
}

// DeleteSession removes the session for a user.
func (s *PostgresStore) DeleteSession(userID string) error {
	_, err := s.db.Exec(`DELETE FROM sessions WHERE user_id = $1`, userID)
	if err != nil {
		slog.Error("PostgresStore DeleteSession failed", "error", err, "userID", userID)
		return fmt.Errorf("failed to delete session for %s: %w", userID, err)
	}
	return nil
}

// ActiveSessionCount reports how many unexpired sessions are stored.
func (s *PostgresStore) ActiveSessionCount() (int, error) {
	cutoff := time.Now().Add(-s.cfg.SessionTTL)
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM sessions WHERE updated_at >= $1`, cutoff).Scan(&count)
	if err != nil {
		slog.Error("PostgresStore ActiveSessionCount failed", "error", err)
		return 0, err
	}
	return count, nil
}

// AddTicket records a priced ticket for reporting.
func (s *PostgresStore) AddTicket(t models.PricedTicket) error {
	data, err := marshalTicket(t)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(
		`INSERT INTO tickets (airline, data, created_at) VALUES ($1, $2, $3)`,
		t.Airline, data, time.Now(),
	)
	if err != nil {
		slog.Error("PostgresStore AddTicket failed", "error", err, "airline", t.Airline)
		return fmt.Errorf("failed to insert ticket: %w", err)
	}
	return nil
}

// GetTickets returns all recorded priced tickets.
func (s *PostgresStore) GetTickets() ([]models.PricedTicket, error) {
	rows, err := s.db.Query(`SELECT data FROM tickets ORDER BY id`)
	if err != nil {
		slog.Error("PostgresStore GetTickets query failed", "error", err)
		return nil, fmt.Errorf("failed to query tickets: %w", err)
	}
	defer rows.Close()

	var tickets []models.PricedTicket
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			slog.Error("PostgresStore GetTickets scan failed", "error", err)
			return nil, fmt.Errorf("failed to scan ticket row: %w", err)
		}
		t, err := unmarshalTicket(data)
		if err != nil {
			return nil, err
		}
		tickets = append(tickets, t)
	}
	if err := rows.Err(); err != nil {
		slog.Error("PostgresStore GetTickets rows iteration failed", "error", err)
		return nil, fmt.Errorf("failed to iterate ticket rows: %w", err)
	}
	return tickets, nil
}

// Close closes the PostgreSQL connection pool.
func (s *PostgresStore) Close() error {
	slog.Debug("Closing PostgreSQL connection pool")
	return s.db.Close()
}

// Compile-time check that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)

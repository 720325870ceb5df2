// Package store provides storage backends for tripbot.
//
// It includes an in-memory store with bounded session and dedup retention,
// plus SQLite and PostgreSQL backends for persistent deployments.
package store

import (
	"strings"
	"time"

	"github.com/pacific-gateway/tripbot/internal/models"
)

// Default retention bounds. The messaging platform retries webhook
// delivery for at most a day, so dedup records older than that are dead
// weight; idle sessions are abandoned conversations.
const (
	DefaultSessionTTL    = 24 * time.Hour
	DefaultDedupTTL      = 24 * time.Hour
	DefaultDedupCapacity = 100000
)

// Store is the storage contract shared by all backends.
type Store interface {
	DedupRepo

	// GetSession returns the session for a user, or nil if none exists.
	GetSession(userID string) (*models.Session, error)
	// SaveSession inserts or replaces the session for its user.
	SaveSession(s models.Session) error
	// DeleteSession removes the session for a user. Missing sessions are not an error.
	DeleteSession(userID string) error
	// ActiveSessionCount reports how many sessions are currently stored.
	ActiveSessionCount() (int, error)

	// AddTicket records a priced ticket for revenue reporting.
	AddTicket(t models.PricedTicket) error
	// GetTickets returns all recorded priced tickets.
	GetTickets() ([]models.PricedTicket, error)

	Close() error
}

// Opts holds configuration options for store backends.
type Opts struct {
	DSN           string
	SessionTTL    time.Duration
	DedupTTL      time.Duration
	DedupCapacity int
}

// Option defines a configuration option for store backends.
type Option func(*Opts)

// WithSQLiteDSN configures a SQLite database file path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithPostgresDSN configures a PostgreSQL connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithSessionTTL bounds how long an idle session is retained.
func WithSessionTTL(ttl time.Duration) Option {
	return func(o *Opts) { o.SessionTTL = ttl }
}

// WithDedupTTL bounds how long processed message ids are remembered.
func WithDedupTTL(ttl time.Duration) Option {
	return func(o *Opts) { o.DedupTTL = ttl }
}

// WithDedupCapacity bounds how many message ids the in-memory backend keeps.
func WithDedupCapacity(n int) Option {
	return func(o *Opts) { o.DedupCapacity = n }
}

func (o *Opts) applyDefaults() {
	if o.SessionTTL <= 0 {
		o.SessionTTL = DefaultSessionTTL
	}
	if o.DedupTTL <= 0 {
		o.DedupTTL = DefaultDedupTTL
	}
	if o.DedupCapacity <= 0 {
		o.DedupCapacity = DefaultDedupCapacity
	}
}

// DetectDSNType classifies a DSN as "postgres", "sqlite" or "memory".
func DetectDSNType(dsn string) string {
	if dsn == "" {
		return "memory"
	}
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") || strings.Contains(dsn, "host=") {
		return "postgres"
	}
	return "sqlite"
}

// Open creates the store backend matching the configured DSN: PostgreSQL
// for postgres connection strings, SQLite for file paths, in-memory when
// no DSN is set.
func Open(opts ...Option) (Store, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	switch DetectDSNType(cfg.DSN) {
	case "postgres":
		return NewPostgresStore(opts...)
	case "sqlite":
		return NewSQLiteStore(opts...)
	default:
		return NewInMemoryStore(opts...), nil
	}
}

// This file implements the in-memory backend.
//
// Sessions and dedup records are bounded: idle sessions expire after the
// configured TTL and dedup retention is capped by both TTL and capacity,
// so the process does not accumulate state without limit.

package store

import (
	"log/slog"
	"sync"
	"time"

	"github.com/pacific-gateway/tripbot/internal/models"
)

// InMemoryStore keeps all state in process memory, guarded by one mutex.
type InMemoryStore struct {
	mu         sync.Mutex
	cfg        Opts
	sessions   map[string]models.Session
	dedup      map[string]*DedupRecord
	dedupOrder []string // message ids in arrival order, for capacity eviction
	tickets    []models.PricedTicket
}

// NewInMemoryStore creates an in-memory store with bounded retention.
func NewInMemoryStore(opts ...Option) *InMemoryStore {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	cfg.applyDefaults()
	slog.Debug("InMemoryStore created", "sessionTTL", cfg.SessionTTL, "dedupTTL", cfg.DedupTTL, "dedupCapacity", cfg.DedupCapacity)
	return &InMemoryStore{
		cfg:      cfg,
		sessions: make(map[string]models.Session),
		dedup:    make(map[string]*DedupRecord),
	}
}

// GetSession returns the session for a user, or nil if none exists or the
// session expired.
func (s *InMemoryStore) GetSession(userID string) (*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.evictExpiredLocked(time.Now())

	sess, ok := s.sessions[userID]
	if !ok {
		return nil, nil
	}
	out := sess
	return &out, nil
}

// SaveSession inserts or replaces the session for its user.
func (s *InMemoryStore) SaveSession(sess models.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.evictExpiredLocked(time.Now())
	s.sessions[sess.UserID] = sess
	return nil
}

// DeleteSession removes the session for a user.
func (s *InMemoryStore) DeleteSession(userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, userID)
	return nil
}

// ActiveSessionCount reports how many unexpired sessions are stored.
func (s *InMemoryStore) ActiveSessionCount() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.evictExpiredLocked(time.Now())
	return len(s.sessions), nil
}

// evictExpiredLocked drops sessions idle past the TTL and stale dedup
// records. Callers must hold the mutex.
func (s *InMemoryStore) evictExpiredLocked(now time.Time) {
	cutoff := now.Add(-s.cfg.SessionTTL)
	for id, sess := range s.sessions {
		if sess.UpdatedAt.Before(cutoff) {
			slog.Debug("InMemoryStore evicting idle session", "userID", id, "updatedAt", sess.UpdatedAt)
			delete(s.sessions, id)
		}
	}
	s.pruneDedupLocked(now.Add(-s.cfg.DedupTTL))
}

// RecordInbound inserts a new inbound message record, evicting the oldest
// entry when the capacity bound is reached. Returns false for duplicates.
func (s *InMemoryStore) RecordInbound(messageID, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	s.pruneDedupLocked(now.Add(-s.cfg.DedupTTL))

	if _, exists := s.dedup[messageID]; exists {
		return false, nil
	}
	for len(s.dedupOrder) >= s.cfg.DedupCapacity {
		oldest := s.dedupOrder[0]
		s.dedupOrder = s.dedupOrder[1:]
		delete(s.dedup, oldest)
	}
	s.dedup[messageID] = &DedupRecord{MessageID: messageID, UserID: userID, ReceivedAt: now}
	s.dedupOrder = append(s.dedupOrder, messageID)
	return true, nil
}

// MarkProcessed sets the processed timestamp for a message.
func (s *InMemoryStore) MarkProcessed(messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.dedup[messageID]; ok {
		now := time.Now()
		rec.ProcessedAt = &now
	}
	return nil
}

// PruneDedup removes records received before the cutoff.
func (s *InMemoryStore) PruneDedup(cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pruneDedupLocked(cutoff), nil
}

func (s *InMemoryStore) pruneDedupLocked(cutoff time.Time) int {
	dropped := 0
	kept := s.dedupOrder[:0]
	for _, id := range s.dedupOrder {
		rec, ok := s.dedup[id]
		if !ok {
			continue
		}
		if rec.ReceivedAt.Before(cutoff) {
			delete(s.dedup, id)
			dropped++
			continue
		}
		kept = append(kept, id)
	}
	s.dedupOrder = kept
	return dropped
}

// AddTicket records a priced ticket for reporting.
func (s *InMemoryStore) AddTicket(t models.PricedTicket) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tickets = append(s.tickets, t)
	return nil
}

// GetTickets returns all recorded priced tickets.
func (s *InMemoryStore) GetTickets() ([]models.PricedTicket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.PricedTicket, len(s.tickets))
	copy(out, s.tickets)
	return out, nil
}

// Close is a no-op for the in-memory backend.
func (s *InMemoryStore) Close() error { return nil }

// Compile-time check that InMemoryStore implements Store.
var _ Store = (*InMemoryStore)(nil)

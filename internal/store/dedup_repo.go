// This file defines the DedupRepo interface for inbound message deduplication.

package store

import "time"

// DedupRecord represents an inbound message deduplication record.
type DedupRecord struct {
	MessageID   string     `json:"message_id"`
	UserID      string     `json:"user_id"`
	ReceivedAt  time.Time  `json:"received_at"`
	ProcessedAt *time.Time `json:"processed_at"`
}

// DedupRepo defines the interface for inbound message deduplication.
// Records are retention-bounded: backends drop entries past the dedup TTL
// (and, for the in-memory backend, past a fixed capacity).
type DedupRepo interface {
	// RecordInbound inserts a new inbound message record. Returns false if
	// the message id was already recorded (duplicate).
	RecordInbound(messageID, userID string) (bool, error)

	// MarkProcessed sets the processed timestamp for a message.
	MarkProcessed(messageID string) error

	// PruneDedup removes records received before the cutoff and reports how
	// many were dropped.
	PruneDedup(cutoff time.Time) (int, error)
}

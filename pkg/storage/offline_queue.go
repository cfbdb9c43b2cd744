package storage

import (
	"database/sql"
	"encoding/hex"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/ZentaChain/protoz-node/pkg/protocol"
)

// QueuedFrame represents a frame waiting for its recipient to attach
type QueuedFrame struct {
	ID           int64
	RecipientKey string // Hex-encoded address digest
	Recipient    string // Address in readable form
	MessageID    string // Hex-encoded frame message ID
	Payload      []byte // Encoded proto-z header
	Timestamp    int64  // When the frame was queued
	ExpiresAt    int64  // When the frame expires (TTL)
	Attempts     int    // Delivery attempt count
}

// OfflineQueue stores frames for recipients that are not attached to the
// relay
type OfflineQueue struct {
	db  *sql.DB
	ttl time.Duration

	stopOnce sync.Once
	stop     chan struct{}
}

// DefaultQueueTTL is used when NewOfflineQueue is given a zero TTL
const DefaultQueueTTL = 7 * 24 * time.Hour

// NewOfflineQueue opens (or creates) a queue database at dbPath
func NewOfflineQueue(dbPath string, ttl time.Duration) (*OfflineQueue, error) {
	if ttl == 0 {
		ttl = DefaultQueueTTL
	}

	db, err := openDB(dbPath)
	if err != nil {
		return nil, err
	}

	schema := `
	CREATE TABLE IF NOT EXISTS queued_frames (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		recipient_key TEXT NOT NULL,
		recipient TEXT NOT NULL,
		message_id TEXT UNIQUE NOT NULL,
		payload BLOB NOT NULL,
		timestamp INTEGER NOT NULL,
		expires_at INTEGER NOT NULL,
		attempts INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL DEFAULT (strftime('%s', 'now'))
	);

	-- Index for fast lookup by recipient
	CREATE INDEX IF NOT EXISTS idx_frames_recipient ON queued_frames(recipient_key);

	-- Index for expiration cleanup
	CREATE INDEX IF NOT EXISTS idx_frames_expires ON queued_frames(expires_at);
	`
	if err := initSchema(db, schema); err != nil {
		db.Close()
		return nil, err
	}

	q := &OfflineQueue{
		db:   db,
		ttl:  ttl,
		stop: make(chan struct{}),
	}

	go q.cleanupLoop(time.Hour)

	return q, nil
}

func recipientKey(addr protocol.Address) string {
	digest := addr.Digest()
	return hex.EncodeToString(digest[:])
}

// Enqueue stores a frame for an offline recipient. Re-queuing the same
// message ID is a no-op.
func (q *OfflineQueue) Enqueue(recipient protocol.Address, messageID protocol.MessageID, payload []byte) error {
	now := time.Now().Unix()
	expiresAt := now + int64(q.ttl.Seconds())

	query := `
		INSERT OR IGNORE INTO queued_frames (recipient_key, recipient, message_id, payload, timestamp, expires_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	_, err := q.db.Exec(query, recipientKey(recipient), recipient.String(), messageID.String(), payload, now, expiresAt)
	if err != nil {
		return fmt.Errorf("failed to queue frame: %w", err)
	}

	log.Printf("Queued frame %s for offline endpoint %s (expires in %v)", messageID.String()[:8], recipient, q.ttl)
	return nil
}

// Pending returns unexpired frames for a recipient, oldest first
func (q *OfflineQueue) Pending(recipient protocol.Address) ([]*QueuedFrame, error) {
	query := `
		SELECT id, recipient_key, recipient, message_id, payload, timestamp, expires_at, attempts
		FROM queued_frames
		WHERE recipient_key = ? AND expires_at > ?
		ORDER BY id ASC
	`

	rows, err := q.db.Query(query, recipientKey(recipient), time.Now().Unix())
	if err != nil {
		return nil, fmt.Errorf("failed to get queued frames: %w", err)
	}
	defer rows.Close()

	var frames []*QueuedFrame
	for rows.Next() {
		f := &QueuedFrame{}
		if err := rows.Scan(&f.ID, &f.RecipientKey, &f.Recipient, &f.MessageID, &f.Payload, &f.Timestamp, &f.ExpiresAt, &f.Attempts); err != nil {
			return nil, fmt.Errorf("failed to scan frame: %w", err)
		}
		frames = append(frames, f)
	}

	return frames, rows.Err()
}

// Delete removes a frame from the queue after delivery
func (q *OfflineQueue) Delete(messageID string) error {
	result, err := q.db.Exec(`DELETE FROM queued_frames WHERE message_id = ?`, messageID)
	if err != nil {
		return fmt.Errorf("failed to delete frame: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// IncrementAttempts increments the delivery attempt counter
func (q *OfflineQueue) IncrementAttempts(messageID string) error {
	_, err := q.db.Exec(`UPDATE queued_frames SET attempts = attempts + 1 WHERE message_id = ?`, messageID)
	return err
}

// Count returns the number of unexpired frames queued for a recipient
func (q *OfflineQueue) Count(recipient protocol.Address) (int, error) {
	query := `SELECT COUNT(*) FROM queued_frames WHERE recipient_key = ? AND expires_at > ?`

	var count int
	if err := q.db.QueryRow(query, recipientKey(recipient), time.Now().Unix()).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to get frame count: %w", err)
	}
	return count, nil
}

// TotalSize returns the number of unexpired frames in the queue
func (q *OfflineQueue) TotalSize() (int, error) {
	var count int
	if err := q.db.QueryRow(`SELECT COUNT(*) FROM queued_frames WHERE expires_at > ?`, time.Now().Unix()).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to get queue size: %w", err)
	}
	return count, nil
}

// PurgeExpired removes expired frames and returns how many were removed
func (q *OfflineQueue) PurgeExpired(now time.Time) (int64, error) {
	result, err := q.db.Exec(`DELETE FROM queued_frames WHERE expires_at <= ?`, now.Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to purge expired frames: %w", err)
	}
	return result.RowsAffected()
}

// Stats returns queue statistics keyed by recipient
func (q *OfflineQueue) Stats() (map[string]interface{}, error) {
	stats := make(map[string]interface{})

	total, err := q.TotalSize()
	if err != nil {
		return nil, err
	}
	stats["total_frames"] = total

	query := `
		SELECT recipient, COUNT(*) as count
		FROM queued_frames
		WHERE expires_at > ?
		GROUP BY recipient
	`
	rows, err := q.db.Query(query, time.Now().Unix())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	byRecipient := make(map[string]int)
	for rows.Next() {
		var recipient string
		var count int
		if err := rows.Scan(&recipient, &count); err != nil {
			return nil, err
		}
		byRecipient[recipient] = count
	}
	stats["by_recipient"] = byRecipient

	return stats, rows.Err()
}

// cleanupLoop periodically removes expired frames
func (q *OfflineQueue) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-q.stop:
			return
		case now := <-ticker.C:
			count, err := q.PurgeExpired(now)
			if err != nil {
				log.Printf("Failed to cleanup expired frames: %v", err)
				continue
			}
			if count > 0 {
				log.Printf("Cleaned up %d expired frames", count)
			}
		}
	}
}

// Close stops the cleanup loop and closes the database
func (q *OfflineQueue) Close() error {
	q.stopOnce.Do(func() { close(q.stop) })
	return q.db.Close()
}

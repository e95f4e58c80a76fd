package serverdb

import (
	"fmt"
	"time"
)

// AuthEvent represents a row in the auth_events table.
type AuthEvent struct {
	ID            int64
	AuthRequestID string
	Email         string
	EventType     string
	Metadata      string
	CreatedAt     time.Time
}

// Auth event type constants.
const (
	AuthEventStarted      = "started"
	AuthEventCodeVerified = "code_verified"
	AuthEventKeyIssued    = "key_issued"
	AuthEventSignedOut    = "signed_out"
	AuthEventFailed       = "failed"
)

// InsertAuthEvent inserts an auth event row.
func (db *ServerDB) InsertAuthEvent(authRequestID, email, eventType, metadata string) error {
	if metadata == "" {
		metadata = "{}"
	}
	_, err := db.conn.Exec(
		`INSERT INTO auth_events (auth_request_id, email, event_type, metadata, created_at) VALUES (?, ?, ?, ?, ?)`,
		authRequestID, email, eventType, metadata, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert auth event: %w", err)
	}
	return nil
}

// ListAuthEvents returns the most recent auth events for an email, newest first.
func (db *ServerDB) ListAuthEvents(email string, limit int) ([]*AuthEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.conn.Query(
		`SELECT id, auth_request_id, email, event_type, metadata, created_at
		 FROM auth_events WHERE email = ? ORDER BY id DESC LIMIT ?`,
		email, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list auth events: %w", err)
	}
	defer rows.Close()

	var events []*AuthEvent
	for rows.Next() {
		e := &AuthEvent{}
		if err := rows.Scan(&e.ID, &e.AuthRequestID, &e.Email, &e.EventType, &e.Metadata, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan auth event: %w", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list auth events: iterate: %w", err)
	}
	return events, nil
}

// CleanupAuthEvents deletes auth events older than the given duration.
// Returns the number of rows deleted.
func (db *ServerDB) CleanupAuthEvents(olderThan time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	res, err := db.conn.Exec(`DELETE FROM auth_events WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("cleanup auth events: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

package db

import (
	"database/sql"
	"fmt"
)

// Event names logged to reproduction_events.
const (
	EventStageStarted   = "stage_started"
	EventStageCompleted = "stage_completed"
	EventStageFailed    = "stage_failed"
	EventCacheHit       = "cache_hit"
	EventCheckpointSkip = "checkpoint_skip"
	EventResumed        = "resumed"
	EventRunCompleted   = "run_completed"
)

// Event represents a row in the reproduction_events table.
type Event struct {
	ID        int
	SessionID string
	Stage     string
	Event     string
	Detail    string
	Timestamp string
}

// LogEvent inserts one pipeline event.
func (d *DB) LogEvent(sessionID, stage, event, detail string) error {
	_, err := d.conn.Exec(
		`INSERT INTO reproduction_events (session_id, stage, event, detail) VALUES (?, ?, ?, ?)`,
		sessionID, stage, event, detail,
	)
	if err != nil {
		return fmt.Errorf("log event: %w", err)
	}
	return nil
}

// Events returns all events for a session in insertion order.
func (d *DB) Events(sessionID string) ([]Event, error) {
	rows, err := d.conn.Query(
		`SELECT id, session_id, stage, event, detail, timestamp
		 FROM reproduction_events WHERE session_id = ? ORDER BY id ASC`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		var detail sql.NullString
		if err := rows.Scan(&e.ID, &e.SessionID, &e.Stage, &e.Event, &detail, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.Detail = detail.String
		events = append(events, e)
	}
	return events, rows.Err()
}

// LastEvent returns the most recent event for a session, or nil when
// the session has none.
func (d *DB) LastEvent(sessionID string) (*Event, error) {
	row := d.conn.QueryRow(
		`SELECT id, session_id, stage, event, detail, timestamp
		 FROM reproduction_events WHERE session_id = ? ORDER BY id DESC LIMIT 1`,
		sessionID,
	)
	var e Event
	var detail sql.NullString
	err := row.Scan(&e.ID, &e.SessionID, &e.Stage, &e.Event, &detail, &e.Timestamp)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("last event: %w", err)
	}
	e.Detail = detail.String
	return &e, nil
}

package db

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Session is one monitoring run, from process start to shutdown.
type Session struct {
	ID        string
	StartedAt time.Time
	EndedAt   *time.Time
	Frames    uint64
	Events    uint64
	Alerts    uint64
	EndReason string
}

// SessionTotals are the figures recorded when a session ends.
type SessionTotals struct {
	Frames uint64
	Events uint64
	Alerts uint64
}

// StartSession records the beginning of a session. Restarting an existing
// id is an error.
func (db *DB) StartSession(id string, at time.Time) error {
	_, err := db.Exec(`INSERT INTO sessions (session_id, started_unix_nanos) VALUES (?, ?)`, id, at.UnixNano())
	if err != nil {
		return fmt.Errorf("start session %s: %w", id, err)
	}
	return nil
}

// EndSession stamps the end time, totals and reason on a session.
func (db *DB) EndSession(id string, at time.Time, totals SessionTotals, reason string) error {
	res, err := db.Exec(`
		UPDATE sessions
		SET ended_unix_nanos = ?, frames = ?, events = ?, alerts = ?, end_reason = ?
		WHERE session_id = ?`,
		at.UnixNano(), int64(totals.Frames), int64(totals.Events), int64(totals.Alerts), reason, id)
	if err != nil {
		return fmt.Errorf("end session %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("end session %s: %w", id, sql.ErrNoRows)
	}
	return nil
}

// GetSession loads a session by id. A missing session returns an error
// wrapping sql.ErrNoRows.
func (db *DB) GetSession(id string) (Session, error) {
	var s Session
	var started int64
	var ended sql.NullInt64
	var frames, events, alerts int64
	err := db.QueryRow(`
		SELECT session_id, started_unix_nanos, ended_unix_nanos, frames, events, alerts, end_reason
		FROM sessions WHERE session_id = ?`, id).
		Scan(&s.ID, &started, &ended, &frames, &events, &alerts, &s.EndReason)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, fmt.Errorf("session %s: %w", id, err)
	}
	if err != nil {
		return Session{}, fmt.Errorf("get session %s: %w", id, err)
	}
	s.StartedAt = time.Unix(0, started).UTC()
	if ended.Valid {
		t := time.Unix(0, ended.Int64).UTC()
		s.EndedAt = &t
	}
	s.Frames, s.Events, s.Alerts = uint64(frames), uint64(events), uint64(alerts)
	return s, nil
}

package db

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/banshee-data/ppe.report/internal/compliance"
)

// AuditStore persists audit rows to the audit_events table. It satisfies
// compliance.AuditSink.
type AuditStore struct {
	db *DB
}

func NewAuditStore(db *DB) *AuditStore {
	return &AuditStore{db: db}
}

// Append writes the event row and its missing-item rows in one transaction.
func (s *AuditStore) Append(row compliance.AuditRow) error {
	confidences, err := encodeConfidences(row.Confidences)
	if err != nil {
		return err
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin audit insert: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.Exec(`
		INSERT INTO audit_events (
			ts_unix_nanos, session_id, person_id, kind, reason, status,
			missing_items, severity, duration_s, confidences
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		row.Timestamp.UnixNano(), row.SessionID, row.PersonID, string(row.Kind), string(row.Reason),
		string(row.Status), compliance.ItemNames(row.MissingItems), string(row.Severity),
		row.DurationSeconds, confidences,
	)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	eventID, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	for _, item := range row.MissingItems {
		if _, err := tx.Exec(`INSERT INTO audit_event_items (event_id, item) VALUES (?, ?)`, eventID, string(item)); err != nil {
			return fmt.Errorf("insert audit event item %s: %w", item, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit audit event: %w", err)
	}
	return nil
}

func encodeConfidences(c map[compliance.ItemClass]float64) (string, error) {
	if len(c) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("encode confidences: %w", err)
	}
	return string(b), nil
}

// RecentEvents returns up to limit rows, newest first.
func (s *AuditStore) RecentEvents(limit int) ([]compliance.AuditRow, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(`
		SELECT ts_unix_nanos, session_id, person_id, kind, reason, status,
		       missing_items, severity, duration_s, confidences
		FROM audit_events
		ORDER BY event_id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent events: %w", err)
	}
	defer rows.Close()

	var out []compliance.AuditRow
	for rows.Next() {
		r, err := scanAuditRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func scanAuditRow(rows *sql.Rows) (compliance.AuditRow, error) {
	var tsNanos int64
	var session, person, kind, reason, status string
	var missing, severity, confidences string
	var duration float64
	if err := rows.Scan(&tsNanos, &session, &person, &kind, &reason, &status,
		&missing, &severity, &duration, &confidences); err != nil {
		return compliance.AuditRow{}, fmt.Errorf("scan audit event: %w", err)
	}

	row := compliance.AuditRow{
		Timestamp:       time.Unix(0, tsNanos).UTC(),
		SessionID:       session,
		PersonID:        person,
		Kind:            compliance.EventKind(kind),
		Reason:          compliance.CloseReason(reason),
		Status:          compliance.Status(status),
		Severity:        compliance.Severity(severity),
		DurationSeconds: duration,
	}
	if missing != "" {
		for _, name := range strings.Split(missing, "|") {
			row.MissingItems = append(row.MissingItems, compliance.ItemClass(name))
		}
	}
	if confidences != "{}" {
		if err := json.Unmarshal([]byte(confidences), &row.Confidences); err != nil {
			return compliance.AuditRow{}, fmt.Errorf("decode confidences: %w", err)
		}
	}
	return row, nil
}

// ViolationCountsByItem counts, per item, the OPENED and CHANGED events
// since the given time that named it missing. This is the durable
// counterpart of the engine's in-memory counters.
func (s *AuditStore) ViolationCountsByItem(since time.Time) (map[string]int64, error) {
	return s.countQuery(`
		SELECT i.item, COUNT(*)
		FROM audit_event_items i
		JOIN audit_events e ON e.event_id = i.event_id
		WHERE e.kind IN ('OPENED', 'CHANGED') AND e.ts_unix_nanos >= ?
		GROUP BY i.item`, sinceNanos(since))
}

// ClosedSeverityCounts counts closed violations since the given time by
// the severity they had reached when they closed.
func (s *AuditStore) ClosedSeverityCounts(since time.Time) (map[string]int64, error) {
	return s.countQuery(`
		SELECT severity, COUNT(*)
		FROM audit_events
		WHERE kind = 'CLOSED' AND ts_unix_nanos >= ?
		GROUP BY severity`, sinceNanos(since))
}

func (s *AuditStore) countQuery(query string, args ...any) (map[string]int64, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("count query: %w", err)
	}
	defer rows.Close()

	out := make(map[string]int64)
	for rows.Next() {
		var key string
		var n int64
		if err := rows.Scan(&key, &n); err != nil {
			return nil, fmt.Errorf("count query: %w", err)
		}
		out[key] = n
	}
	return out, rows.Err()
}

func sinceNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

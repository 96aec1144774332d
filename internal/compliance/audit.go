package compliance

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/banshee-data/ppe.report/internal/timeutil"
)

// ErrAuditUnavailable is returned once an audit sink has failed every retry.
// The session must stop: continuing would lose compliance history.
var ErrAuditUnavailable = errors.New("audit log unavailable")

// AuditRow is one durable audit record.
type AuditRow struct {
	Timestamp       time.Time
	SessionID       string
	PersonID        string
	Kind            EventKind
	Reason          CloseReason
	Status          Status
	MissingItems    []ItemClass
	Severity        Severity
	DurationSeconds float64
	Confidences     map[ItemClass]float64
}

// NewAuditRow converts an event into a row for sessionID.
func NewAuditRow(sessionID string, ev ViolationEvent) AuditRow {
	return AuditRow{
		Timestamp:       ev.Timestamp,
		SessionID:       sessionID,
		PersonID:        ev.PersonID,
		Kind:            ev.Kind,
		Reason:          ev.Reason,
		Status:          ev.Status,
		MissingItems:    ev.MissingItems,
		Severity:        ev.Severity,
		DurationSeconds: ev.DurationSeconds,
		Confidences:     ev.ItemConfidences,
	}
}

// AuditSink is an append-only store. Append must either persist the whole
// row or return an error.
type AuditSink interface {
	Append(row AuditRow) error
}

// AuditLog fans each event out to every sink, retrying each sink
// independently so a row is never duplicated in a sink that already took it.
// Counters are updated only after every sink has accepted the row.
type AuditLog struct {
	mu        sync.Mutex
	sessionID string
	sinks     []AuditSink
	counters  *Counters
	clock     timeutil.Clock
	retries   int
	backoff   time.Duration
	failed    error
	rows      int64
}

// NewAuditLog creates an AuditLog. retries is the number of attempts per
// sink; backoff doubles after each failed attempt.
func NewAuditLog(sessionID string, counters *Counters, clock timeutil.Clock, retries int, backoff time.Duration, sinks ...AuditSink) *AuditLog {
	if retries < 1 {
		retries = 1
	}
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &AuditLog{
		sessionID: sessionID,
		sinks:     sinks,
		counters:  counters,
		clock:     clock,
		retries:   retries,
		backoff:   backoff,
	}
}

// SessionID returns the session identifier stamped on every row.
func (a *AuditLog) SessionID() string { return a.sessionID }

// Rows returns the number of rows written.
func (a *AuditLog) Rows() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.rows
}

// Record appends ev to every sink. After a persistent failure every call
// returns an error wrapping ErrAuditUnavailable.
func (a *AuditLog) Record(ev ViolationEvent) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.failed != nil {
		return a.failed
	}

	row := NewAuditRow(a.sessionID, ev)
	for i, sink := range a.sinks {
		if err := a.appendWithRetry(sink, row); err != nil {
			a.failed = fmt.Errorf("%w: sink %d: %v", ErrAuditUnavailable, i, err)
			opsf("audit write for %s %s failed after %d attempts: %v", ev.PersonID, ev.Kind, a.retries, err)
			return a.failed
		}
	}
	a.rows++
	if a.counters != nil {
		a.counters.Apply(ev)
	}
	return nil
}

func (a *AuditLog) appendWithRetry(sink AuditSink, row AuditRow) error {
	var err error
	delay := a.backoff
	for attempt := 1; attempt <= a.retries; attempt++ {
		if err = sink.Append(row); err == nil {
			return nil
		}
		if attempt == a.retries {
			break
		}
		opsf("audit append attempt %d/%d failed: %v", attempt, a.retries, err)
		if delay > 0 {
			a.clock.Sleep(delay)
			delay *= 2
		}
	}
	return err
}

package compliance

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/ppe.report/internal/timeutil"
)

// ErrEngineClosed is returned by Tick after Shutdown.
var ErrEngineClosed = errors.New("engine shut down")

// Detector supplies frames. Next blocks until a frame is available and
// returns io.EOF when the stream ends.
type Detector interface {
	Next(ctx context.Context) (Frame, error)
}

// Recorder receives engine telemetry. Implementations must be safe for
// concurrent use.
type Recorder interface {
	FrameProcessed(latency time.Duration, persons int)
	DetectionsDropped(reason string, n int)
	EventEmitted(ev ViolationEvent)
	AlertFired(personID string, severity Severity)
	SideEffectFailed(kind string)
	PersonFailed(personID string)
}

// NopRecorder discards all telemetry.
type NopRecorder struct{}

func (NopRecorder) FrameProcessed(time.Duration, int) {}
func (NopRecorder) DetectionsDropped(string, int)     {}
func (NopRecorder) EventEmitted(ViolationEvent)       {}
func (NopRecorder) AlertFired(string, Severity)       {}
func (NopRecorder) SideEffectFailed(string)           {}
func (NopRecorder) PersonFailed(string)               {}

// Options carries the engine's collaborators. Zero values select defaults:
// RealClock wrapped in a MonotonicClock, a CentroidTracker, no side effects
// and a random session ID.
type Options struct {
	Clock     timeutil.Clock
	Tracker   IdentityTracker
	Alerter   Alerter
	Evidence  EvidenceSink
	Recorder  Recorder
	Sinks     []AuditSink
	SessionID string
}

// PersonSnapshot is a read-only view of a TrackedPerson.
type PersonSnapshot struct {
	ID              string             `json:"id"`
	Status          Status             `json:"status"`
	MissingItems    []ItemClass        `json:"missing_items"`
	Severity        Severity           `json:"severity"`
	DurationSeconds float64            `json:"duration_seconds"`
	Confidences     map[string]float64 `json:"confidences"`
	BBox            BBox               `json:"bbox"`
	LastAlertAt     *time.Time         `json:"last_alert_at,omitempty"`
	LastSeen        time.Time          `json:"last_seen"`
}

// Stats summarises engine activity since start.
type Stats struct {
	SessionID        string        `json:"session_id"`
	Frames           uint64        `json:"frames"`
	DuplicateFrames  uint64        `json:"duplicate_frames"`
	Events           uint64        `json:"events"`
	Alerts           uint64        `json:"alerts"`
	SideEffectErrors uint64        `json:"side_effect_errors"`
	LivePersons      int           `json:"live_persons"`
	LastLatency      time.Duration `json:"last_latency_ns"`
}

// Engine runs the per-frame pipeline: association, identity, smoothing,
// state machine, alert gate, audit. Tick is synchronous; snapshot readers
// may run concurrently.
type Engine struct {
	mu sync.RWMutex

	cfg      EngineConfig
	clock    timeutil.Clock
	assoc    Associator
	tracker  IdentityTracker
	machine  *StateMachine
	gate     *AlertGate
	audit    *AuditLog
	counters *Counters
	recorder Recorder

	persons  map[string]*TrackedPerson
	lastSeq  uint64
	lastTick time.Time
	fatal    error
	closed   bool
	stats    Stats
}

// NewEngine wires an engine from cfg and opts.
func NewEngine(cfg EngineConfig, opts Options) *Engine {
	clock := opts.Clock
	if clock == nil {
		clock = timeutil.NewMonotonicClock(nil)
	}
	tracker := opts.Tracker
	if tracker == nil {
		tracker = NewCentroidTracker(cfg)
	}
	recorder := opts.Recorder
	if recorder == nil {
		recorder = NopRecorder{}
	}
	sessionID := opts.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	counters := NewCounters(cfg.RequiredItems)

	return &Engine{
		cfg:     cfg,
		clock:   clock,
		assoc:   NewAssociator(cfg),
		tracker: tracker,
		machine: NewStateMachine(cfg),
		gate: &AlertGate{
			Cooldown: cfg.AlertCooldown,
			Grace:    cfg.GracePeriod,
			Alerter:  opts.Alerter,
			Evidence: opts.Evidence,
		},
		audit:    NewAuditLog(sessionID, counters, clock, cfg.AuditRetries, cfg.AuditRetryBackoff, opts.Sinks...),
		counters: counters,
		recorder: recorder,
		persons:  make(map[string]*TrackedPerson),
		stats:    Stats{SessionID: sessionID},
	}
}

// SessionID returns the session identifier stamped on audit rows.
func (e *Engine) SessionID() string { return e.audit.SessionID() }

// Counters returns a snapshot of the cumulative violation counts.
func (e *Engine) Counters() map[string]int64 { return e.counters.Snapshot() }

// now returns the clock reading, clamped so tick times never go backwards.
func (e *Engine) now() time.Time {
	t := e.clock.Now()
	if t.Before(e.lastTick) {
		t = e.lastTick
	}
	e.lastTick = t
	return t
}

// Tick processes one frame and returns the events it produced, in audit
// order. A frame whose non-zero Seq is not greater than the last processed
// one is ignored. The only error is an audit failure, which is sticky.
func (e *Engine) Tick(ctx context.Context, frame Frame) ([]ViolationEvent, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil, ErrEngineClosed
	}
	if e.fatal != nil {
		return nil, e.fatal
	}
	if frame.Seq != 0 {
		if frame.Seq <= e.lastSeq {
			e.stats.DuplicateFrames++
			tracef("ignoring re-delivered frame %d (last %d)", frame.Seq, e.lastSeq)
			return nil, nil
		}
		e.lastSeq = frame.Seq
	}

	start := e.clock.Now()
	now := e.now()

	res := e.assoc.Associate(frame.Detections)
	if res.Malformed > 0 {
		e.recorder.DetectionsDropped("malformed", res.Malformed)
	}
	if res.BelowFloor > 0 {
		e.recorder.DetectionsDropped("below_floor", res.BelowFloor)
	}

	upd := e.tracker.Update(res.Persons)

	var events []ViolationEvent
	var seen []*TrackedPerson
	for i, id := range upd.IDs {
		if id == "" {
			continue
		}
		p, ok := e.persons[id]
		if !ok {
			p = NewTrackedPerson(id, e.cfg.RequiredItems, e.cfg.BufferSize, now)
			e.persons[id] = p
		}
		p.BBox = res.Persons[i].BBox
		if ev, ok := e.stepPerson(p, res.Persons[i].Items, now); ok {
			events = append(events, ev)
		}
		seen = append(seen, p)
	}

	for _, id := range upd.Evicted {
		p, ok := e.persons[id]
		if !ok {
			continue
		}
		if ev, ok := e.machine.Close(p, ReasonTrackLost, now); ok {
			events = append(events, ev)
		}
		delete(e.persons, id)
	}

	for _, p := range seen {
		if p.Status == StatusNonCompliant {
			e.evaluateGate(ctx, p, frame, now)
		}
	}

	err := e.record(events)

	e.stats.Frames++
	e.stats.LastLatency = e.clock.Since(start)
	e.recorder.FrameProcessed(e.stats.LastLatency, len(res.Persons))
	tracef("frame %d: %d persons, %d events, %d live", frame.Seq, len(res.Persons), len(events), len(e.persons))
	return events, err
}

// stepPerson runs the state machine for one person, isolating panics so
// one bad record cannot stop the rest of the frame.
func (e *Engine) stepPerson(p *TrackedPerson, obs map[ItemClass]Observation, now time.Time) (ev ViolationEvent, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			opsf("person %s: processing failed: %v", p.ID, r)
			e.recorder.PersonFailed(p.ID)
			ev, ok = ViolationEvent{}, false
		}
	}()
	return e.machine.Step(p, obs, now)
}

func (e *Engine) evaluateGate(ctx context.Context, p *TrackedPerson, frame Frame, now time.Time) {
	defer func() {
		if r := recover(); r != nil {
			opsf("person %s: alert gate failed: %v", p.ID, r)
			e.recorder.SideEffectFailed("panic")
		}
	}()
	res := e.gate.Evaluate(ctx, p, frame.Image, now)
	if !res.Fired {
		return
	}
	e.stats.Alerts++
	e.recorder.AlertFired(p.ID, p.Severity)
	if res.AlertErr != nil {
		e.stats.SideEffectErrors++
		e.recorder.SideEffectFailed("alert")
	}
	if res.EvidenceErr != nil {
		e.stats.SideEffectErrors++
		e.recorder.SideEffectFailed("evidence")
	}
}

// record appends events in order and stops at the first audit failure.
func (e *Engine) record(events []ViolationEvent) error {
	for _, ev := range events {
		if err := e.audit.Record(ev); err != nil {
			e.fatal = err
			return err
		}
		e.stats.Events++
		e.recorder.EventEmitted(ev)
	}
	return nil
}

// Shutdown closes every open violation with reason session_ended and stops
// the engine. It is safe to call more than once.
func (e *Engine) Shutdown() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	if e.fatal != nil {
		return e.fatal
	}

	now := e.now()
	ids := make([]string, 0, len(e.persons))
	for id := range e.persons {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var events []ViolationEvent
	for _, id := range ids {
		if ev, ok := e.machine.Close(e.persons[id], ReasonSessionEnded, now); ok {
			events = append(events, ev)
		}
	}
	if err := e.record(events); err != nil {
		return err
	}
	diagf("session %s ended: %d open violations flushed", e.SessionID(), len(events))
	return nil
}

// Run pulls frames from d until the stream ends or ctx is cancelled, then
// calls Shutdown. Cancellation is a normal stop. An audit failure stops the
// loop immediately and is returned.
func (e *Engine) Run(ctx context.Context, d Detector) error {
	for ctx.Err() == nil {
		frame, err := d.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			if shutErr := e.Shutdown(); shutErr != nil {
				opsf("shutdown after detector failure: %v", shutErr)
			}
			return fmt.Errorf("detector: %w", err)
		}
		if _, err := e.Tick(ctx, frame); err != nil {
			return err
		}
	}
	return e.Shutdown()
}

// Persons returns snapshots of every live person, sorted by ID.
func (e *Engine) Persons() []PersonSnapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()

	now := e.lastTick
	out := make([]PersonSnapshot, 0, len(e.persons))
	for _, p := range e.persons {
		confs := make(map[string]float64, len(p.confidences))
		for k, v := range p.confidences {
			confs[string(k)] = v
		}
		snap := PersonSnapshot{
			ID:              p.ID,
			Status:          p.Status,
			MissingItems:    append([]ItemClass(nil), p.MissingItems...),
			Severity:        p.Severity,
			DurationSeconds: p.Duration(now).Seconds(),
			Confidences:     confs,
			BBox:            p.BBox,
			LastSeen:        p.LastSeen,
		}
		if !p.LastAlertAt.IsZero() {
			t := p.LastAlertAt
			snap.LastAlertAt = &t
		}
		out = append(out, snap)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Stats returns a copy of the engine counters.
func (e *Engine) Stats() Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()
	s := e.stats
	s.LivePersons = len(e.persons)
	return s
}

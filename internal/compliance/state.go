package compliance

import "time"

// TrackedPerson is the per-identity compliance state. It is owned by the
// Engine and only mutated under the engine lock.
type TrackedPerson struct {
	ID     string
	BBox   BBox
	Status Status

	// ViolationStartedAt is non-zero iff Status is NON_COMPLIANT.
	ViolationStartedAt time.Time
	// LastAlertAt is zero until the first alert.
	LastAlertAt time.Time

	MissingItems []ItemClass
	Severity     Severity
	FirstSeen    time.Time
	LastSeen     time.Time

	// Unsampled is the part of MissingItems that has fewer than MinSamples
	// observations. Only the fail_closed cold-start policy fills it.
	Unsampled []ItemClass

	buffers     map[ItemClass]*RingBuffer
	confidences map[ItemClass]float64
}

// NewTrackedPerson creates a PENDING person with empty item buffers.
func NewTrackedPerson(id string, items []ItemClass, capacity int, now time.Time) *TrackedPerson {
	p := &TrackedPerson{
		ID:          id,
		Status:      StatusPending,
		Severity:    SeverityNone,
		FirstSeen:   now,
		LastSeen:    now,
		buffers:     make(map[ItemClass]*RingBuffer, len(items)),
		confidences: make(map[ItemClass]float64, len(items)),
	}
	for _, it := range items {
		p.buffers[it] = NewRingBuffer(capacity)
	}
	return p
}

// Duration returns the elapsed violation time at now, or 0 when compliant.
func (p *TrackedPerson) Duration(now time.Time) time.Duration {
	if p.ViolationStartedAt.IsZero() {
		return 0
	}
	if d := now.Sub(p.ViolationStartedAt); d > 0 {
		return d
	}
	return 0
}

// Buffer returns the ring buffer for item, or nil if it is not required.
func (p *TrackedPerson) Buffer(item ItemClass) *RingBuffer {
	return p.buffers[item]
}

// Confidences returns a copy of the last smoothed confidence per item.
func (p *TrackedPerson) Confidences() map[ItemClass]float64 {
	out := make(map[ItemClass]float64, len(p.confidences))
	for k, v := range p.confidences {
		out[k] = v
	}
	return out
}

// StateMachine applies smoothed verdicts to a TrackedPerson and reports
// transitions as ViolationEvents.
type StateMachine struct {
	items     []ItemClass
	smoother  Smoother
	policy    SeverityPolicy
	coldStart ColdStartPolicy
}

// NewStateMachine builds a StateMachine from engine configuration.
func NewStateMachine(cfg EngineConfig) *StateMachine {
	return &StateMachine{
		items:     cfg.RequiredItems,
		smoother:  Smoother{ConfirmThreshold: cfg.ConfirmThreshold, MinSamples: cfg.MinSamples},
		policy:    cfg.Severity,
		coldStart: cfg.ColdStart,
	}
}

// Step pushes one frame of raw observations for p and evaluates the
// transition. Items missing from obs are recorded as absent.
func (sm *StateMachine) Step(p *TrackedPerson, obs map[ItemClass]Observation, now time.Time) (ViolationEvent, bool) {
	p.LastSeen = now

	var missing, unsampled []ItemClass
	undersampled := false
	for _, it := range sm.items {
		buf := p.buffers[it]
		buf.Push(obs[it])
		v := sm.smoother.Verdict(buf)
		p.confidences[it] = v.MeanConfidence
		if !v.Sampled {
			undersampled = true
		}
		if !v.Confirmed {
			missing = append(missing, it)
			if !v.Sampled {
				unsampled = append(unsampled, it)
			}
		}
	}
	missing = sortedItems(missing)
	unsampled = sortedItems(unsampled)

	if undersampled && sm.coldStart != ColdStartFailClosed && p.Status == StatusPending {
		return ViolationEvent{}, false
	}

	prev := p.Status
	if len(missing) == 0 {
		if prev != StatusNonCompliant {
			p.Status = StatusCompliant
			p.Severity = SeverityNone
			return ViolationEvent{}, false
		}
		ev := sm.event(p, EventClosed, ReasonRestored, now)
		p.Status = StatusCompliant
		ev.Status = StatusCompliant
		p.ViolationStartedAt = time.Time{}
		p.MissingItems = nil
		p.Unsampled = nil
		p.Severity = SeverityNone
		diagf("person %s restored after %.1fs", p.ID, ev.DurationSeconds)
		return ev, true
	}

	if prev != StatusNonCompliant {
		p.Status = StatusNonCompliant
		p.ViolationStartedAt = now
		p.MissingItems = missing
		p.Unsampled = unsampled
		p.Severity = sm.policy.Severity(0, missing)
		diagf("person %s non-compliant, missing %s", p.ID, ItemNames(missing))
		return sm.event(p, EventOpened, ReasonNone, now), true
	}

	// A cold-start absence that survives sampling is a change too: it is
	// now confirmed and counts.
	changed := !sameItems(p.MissingItems, missing) || !sameItems(p.Unsampled, unsampled)
	p.MissingItems = missing
	p.Unsampled = unsampled
	p.Severity = sm.policy.Severity(p.Duration(now), missing)
	if !changed {
		return ViolationEvent{}, false
	}
	diagf("person %s missing set now %s", p.ID, ItemNames(missing))
	return sm.event(p, EventChanged, ReasonNone, now), true
}

// Close ends an open violation for a person leaving the registry. It emits
// nothing unless p is NON_COMPLIANT.
func (sm *StateMachine) Close(p *TrackedPerson, reason CloseReason, now time.Time) (ViolationEvent, bool) {
	if p.Status != StatusNonCompliant {
		return ViolationEvent{}, false
	}
	p.Severity = sm.policy.Severity(p.Duration(now), p.MissingItems)
	ev := sm.event(p, EventClosed, reason, now)
	p.ViolationStartedAt = time.Time{}
	p.Unsampled = nil
	p.Status = StatusPending
	diagf("person %s violation closed (%s) after %.1fs", p.ID, reason, ev.DurationSeconds)
	return ev, true
}

func (sm *StateMachine) event(p *TrackedPerson, kind EventKind, reason CloseReason, now time.Time) ViolationEvent {
	d := p.Duration(now)
	sev := p.Severity
	if kind == EventClosed {
		sev = sm.policy.Severity(d, p.MissingItems)
	}
	return ViolationEvent{
		PersonID:        p.ID,
		Timestamp:       now,
		Kind:            kind,
		Reason:          reason,
		Status:          p.Status,
		MissingItems:    append([]ItemClass(nil), p.MissingItems...),
		Unsampled:       append([]ItemClass(nil), p.Unsampled...),
		Severity:        sev,
		DurationSeconds: d.Seconds(),
		ItemConfidences: p.Confidences(),
	}
}

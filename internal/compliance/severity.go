package compliance

import "time"

// SeverityPolicy maps (duration, missing items) to a severity tier.
//
// The elapsed duration is scaled by the largest escalation factor among the
// missing items (1.0 when an item has none), then banded:
//
//	effective < MediumAfter   → LOW
//	effective < HighAfter     → MEDIUM
//	effective < CriticalAfter → HIGH
//	otherwise                 → CRITICAL (never, when CriticalAfter is 0)
//
// An empty missing set is NONE.
type SeverityPolicy struct {
	MediumAfter   time.Duration
	HighAfter     time.Duration
	CriticalAfter time.Duration
	Escalation    map[ItemClass]float64
}

// Factor returns the escalation factor applied for the missing set.
func (p SeverityPolicy) Factor(missing []ItemClass) float64 {
	factor := 1.0
	for _, item := range missing {
		if f, ok := p.Escalation[item]; ok && f > factor {
			factor = f
		}
	}
	return factor
}

// Severity is total: every duration and missing set maps to exactly one tier.
func (p SeverityPolicy) Severity(d time.Duration, missing []ItemClass) Severity {
	if len(missing) == 0 {
		return SeverityNone
	}
	if d < 0 {
		d = 0
	}
	effective := time.Duration(float64(d) * p.Factor(missing))
	switch {
	case effective < p.MediumAfter:
		return SeverityLow
	case effective < p.HighAfter:
		return SeverityMedium
	case p.CriticalAfter <= 0 || effective < p.CriticalAfter:
		return SeverityHigh
	}
	return SeverityCritical
}

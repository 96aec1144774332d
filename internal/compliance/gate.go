package compliance

import (
	"context"
	"image"
	"time"
)

// Alert is a fire-and-forget notification for an ongoing violation.
type Alert struct {
	PersonID     string
	Severity     Severity
	MissingItems []ItemClass
	Timestamp    time.Time
}

// Evidence is a capture request. Crop is nil when the frame carried no
// image; the sink decides how to handle that.
type Evidence struct {
	PersonID     string
	Severity     Severity
	MissingItems []ItemClass
	Timestamp    time.Time
	BBox         BBox
	Crop         image.Image
}

// Alerter delivers alerts (audible, visual, remote).
type Alerter interface {
	Alert(ctx context.Context, a Alert) error
}

// EvidenceSink persists evidence crops.
type EvidenceSink interface {
	Capture(ctx context.Context, e Evidence) error
}

// GateResult reports what an evaluation did.
type GateResult struct {
	Fired       bool
	AlertErr    error
	EvidenceErr error
}

// AlertGate rate-limits alerts and evidence capture per person. It is the
// only stage that performs side effects besides the audit log, and its
// failures never change compliance state.
type AlertGate struct {
	Cooldown time.Duration
	Grace    time.Duration
	Alerter  Alerter
	Evidence EvidenceSink
}

// Allow reports whether p may alert at now: NON_COMPLIANT for at least the
// grace period, and never alerted or alerted at least Cooldown ago.
func (g *AlertGate) Allow(p *TrackedPerson, now time.Time) bool {
	if p.Status != StatusNonCompliant || p.Duration(now) < g.Grace {
		return false
	}
	return p.LastAlertAt.IsZero() || now.Sub(p.LastAlertAt) >= g.Cooldown
}

// Evaluate fires the side effects for p when allowed. LastAlertAt advances
// whenever the gate opens, whether or not the side effects succeed.
func (g *AlertGate) Evaluate(ctx context.Context, p *TrackedPerson, frame image.Image, now time.Time) GateResult {
	if !g.Allow(p, now) {
		return GateResult{}
	}
	if now.After(p.LastAlertAt) {
		p.LastAlertAt = now
	}
	res := GateResult{Fired: true}
	missing := append([]ItemClass(nil), p.MissingItems...)

	if g.Alerter != nil {
		if err := g.Alerter.Alert(ctx, Alert{
			PersonID:     p.ID,
			Severity:     p.Severity,
			MissingItems: missing,
			Timestamp:    now,
		}); err != nil {
			res.AlertErr = err
			opsf("alert for %s failed: %v", p.ID, err)
		}
	}
	if g.Evidence != nil {
		if err := g.Evidence.Capture(ctx, Evidence{
			PersonID:     p.ID,
			Severity:     p.Severity,
			MissingItems: missing,
			Timestamp:    now,
			BBox:         p.BBox,
			Crop:         cropImage(frame, p.BBox),
		}); err != nil {
			res.EvidenceErr = err
			opsf("evidence capture for %s failed: %v", p.ID, err)
		}
	}
	return res
}

type subImager interface {
	SubImage(r image.Rectangle) image.Image
}

// cropImage returns the part of img under b, clipped to the image bounds.
// It returns img itself when it cannot be sliced, and nil when there is no
// image or no overlap.
func cropImage(img image.Image, b BBox) image.Image {
	if img == nil {
		return nil
	}
	r := b.Rect().Intersect(img.Bounds())
	if r.Empty() {
		return nil
	}
	if si, ok := img.(subImager); ok {
		return si.SubImage(r)
	}
	return img
}

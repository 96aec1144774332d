package compliance

import (
	"image"
	"math"
	"sort"
	"strings"
	"time"
)

// ItemClass is a detector label. ClassPerson marks person regions; every
// other class is a PPE item.
type ItemClass string

const (
	ClassPerson  ItemClass = "person"
	ClassHelmet  ItemClass = "helmet"
	ClassMask    ItemClass = "mask"
	ClassVest    ItemClass = "vest"
	ClassBoots   ItemClass = "boots"
	ClassGoggles ItemClass = "goggles"
	ClassGloves  ItemClass = "gloves"
)

var knownClasses = map[ItemClass]bool{
	ClassPerson:  true,
	ClassHelmet:  true,
	ClassMask:    true,
	ClassVest:    true,
	ClassBoots:   true,
	ClassGoggles: true,
	ClassGloves:  true,
}

// ParseItemClass maps a detector label (case-insensitive) to an ItemClass.
func ParseItemClass(s string) (ItemClass, bool) {
	c := ItemClass(strings.ToLower(strings.TrimSpace(s)))
	return c, knownClasses[c]
}

// BBox is an axis-aligned rectangle in frame pixel coordinates.
type BBox struct {
	X1, Y1, X2, Y2 float64
}

// Valid reports whether the box has finite coordinates and positive area.
func (b BBox) Valid() bool {
	for _, v := range [4]float64{b.X1, b.Y1, b.X2, b.Y2} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return b.X2 > b.X1 && b.Y2 > b.Y1
}

// Area returns the box area, or 0 for an invalid box.
func (b BBox) Area() float64 {
	if !b.Valid() {
		return 0
	}
	return (b.X2 - b.X1) * (b.Y2 - b.Y1)
}

// Center returns the box centroid.
func (b BBox) Center() (x, y float64) {
	return (b.X1 + b.X2) / 2, (b.Y1 + b.Y2) / 2
}

// Contains reports whether the point lies inside the box, edges included.
func (b BBox) Contains(x, y float64) bool {
	return x >= b.X1 && x <= b.X2 && y >= b.Y1 && y <= b.Y2
}

// IoU returns the intersection-over-union of two boxes in [0, 1].
func (b BBox) IoU(o BBox) float64 {
	ix1 := math.Max(b.X1, o.X1)
	iy1 := math.Max(b.Y1, o.Y1)
	ix2 := math.Min(b.X2, o.X2)
	iy2 := math.Min(b.Y2, o.Y2)
	if ix2 <= ix1 || iy2 <= iy1 {
		return 0
	}
	inter := (ix2 - ix1) * (iy2 - iy1)
	union := b.Area() + o.Area() - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

// Rect converts the box to integer image coordinates, rounding outwards.
func (b BBox) Rect() image.Rectangle {
	return image.Rect(int(math.Floor(b.X1)), int(math.Floor(b.Y1)),
		int(math.Ceil(b.X2)), int(math.Ceil(b.Y2)))
}

// Detection is one labelled box from the detector. Detections are owned by
// the caller and never retained past the tick that receives them.
type Detection struct {
	Class      ItemClass
	BBox       BBox
	Confidence float64 // 0-100
	TrackID    string  // optional identity from an upstream tracker
}

// Frame is one detector output. Seq is a monotonically increasing frame
// number; zero disables duplicate suppression. Image is optional and only
// used for evidence crops.
type Frame struct {
	Seq        uint64
	Detections []Detection
	Image      image.Image
}

// Status is the compliance verdict for a tracked person.
type Status string

const (
	StatusPending      Status = "PENDING" // not enough samples yet
	StatusCompliant    Status = "COMPLIANT"
	StatusNonCompliant Status = "NON_COMPLIANT"
)

// Severity is the escalation tier of an open violation.
type Severity string

const (
	SeverityNone     Severity = "NONE"
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// Rank orders severities; NONE is 0.
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	}
	return 0
}

// EventKind identifies the transition a ViolationEvent records.
type EventKind string

const (
	EventOpened  EventKind = "OPENED"
	EventChanged EventKind = "CHANGED"
	EventClosed  EventKind = "CLOSED"
)

// CloseReason says why a violation was closed.
type CloseReason string

const (
	ReasonNone         CloseReason = ""
	ReasonRestored     CloseReason = "restored"
	ReasonTrackLost    CloseReason = "track_lost"
	ReasonSessionEnded CloseReason = "session_ended"
)

// ViolationEvent is emitted by the state machine on every transition.
// Status is the person's status once the event has been applied; for
// track_lost and session_ended closes it is the last known status.
type ViolationEvent struct {
	PersonID        string
	Timestamp       time.Time
	Kind            EventKind
	Reason          CloseReason
	Status          Status
	MissingItems    []ItemClass
	Unsampled       []ItemClass // missing only for lack of samples (fail_closed)
	Severity        Severity
	DurationSeconds float64
	ItemConfidences map[ItemClass]float64
}

// sortedItems returns a sorted copy of items.
func sortedItems(items []ItemClass) []ItemClass {
	out := append([]ItemClass(nil), items...)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func sameItems(a, b []ItemClass) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// ItemNames joins items with "|" for flat log formats.
func ItemNames(items []ItemClass) string {
	parts := make([]string, len(items))
	for i, it := range items {
		parts[i] = string(it)
	}
	return strings.Join(parts, "|")
}

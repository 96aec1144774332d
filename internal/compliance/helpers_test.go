package compliance

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/banshee-data/ppe.report/internal/timeutil"
)

var testStart = time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

// testConfig mirrors config/compliance.defaults.json.
func testConfig() EngineConfig {
	return EngineConfig{
		RequiredItems:    []ItemClass{ClassHelmet, ClassMask, ClassVest},
		DetectionFloor:   25,
		Strategy:         StrategyIoU,
		IoUThreshold:     0.05,
		MaxMisses:        30,
		MatchDistance:    80,
		IDBucketSize:     50,
		BufferSize:       5,
		ConfirmThreshold: 75,
		MinSamples:       3,
		ColdStart:        ColdStartUnknown,
		AlertCooldown:    5 * time.Second,
		GracePeriod:      2 * time.Second,
		Severity: SeverityPolicy{
			MediumAfter:   5 * time.Second,
			HighAfter:     10 * time.Second,
			CriticalAfter: 30 * time.Second,
			Escalation:    map[ItemClass]float64{ClassHelmet: 2},
		},
		AuditRetries:      3,
		AuditRetryBackoff: 100 * time.Millisecond,
	}
}

// ---------------------------------------------------------------------------
// Detection builders
// ---------------------------------------------------------------------------

// personBox is a 100×200 person with its top-left corner at (x, y).
func personBox(x, y float64) BBox { return BBox{X1: x, Y1: y, X2: x + 100, Y2: y + 200} }

// itemBox places a PPE item inside the person box at (x, y), sized so its
// IoU with the person box clears the default 0.05 threshold.
func itemBox(class ItemClass, x, y float64) BBox {
	switch class {
	case ClassHelmet:
		return BBox{X1: x + 20, Y1: y, X2: x + 80, Y2: y + 40}
	case ClassMask:
		return BBox{X1: x + 25, Y1: y + 40, X2: x + 75, Y2: y + 70}
	default:
		return BBox{X1: x + 10, Y1: y + 70, X2: x + 90, Y2: y + 160}
	}
}

// worker returns detections for a person at (x, y) wearing the given items
// at the given confidences.
func worker(x, y float64, items map[ItemClass]float64) []Detection {
	dets := []Detection{{Class: ClassPerson, BBox: personBox(x, y), Confidence: 95}}
	for _, c := range []ItemClass{ClassHelmet, ClassMask, ClassVest} {
		if conf, ok := items[c]; ok {
			dets = append(dets, Detection{Class: c, BBox: itemBox(c, x, y), Confidence: conf})
		}
	}
	return dets
}

func fullyEquipped(x, y float64) []Detection {
	return worker(x, y, map[ItemClass]float64{ClassHelmet: 90, ClassMask: 95, ClassVest: 88})
}

// ---------------------------------------------------------------------------
// Collaborator fakes
// ---------------------------------------------------------------------------

type memSink struct {
	mu       sync.Mutex
	rows     []AuditRow
	failures int // fail this many appends before succeeding; -1 fails forever
	attempts int
}

var errSinkDown = errors.New("sink down")

func (s *memSink) Append(row AuditRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts++
	if s.failures != 0 {
		if s.failures > 0 {
			s.failures--
		}
		return errSinkDown
	}
	s.rows = append(s.rows, row)
	return nil
}

func (s *memSink) Rows() []AuditRow {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]AuditRow(nil), s.rows...)
}

type fakeAlerter struct {
	mu     sync.Mutex
	alerts []Alert
	err    error
}

func (f *fakeAlerter) Alert(_ context.Context, a Alert) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alerts = append(f.alerts, a)
	return f.err
}

func (f *fakeAlerter) Count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.alerts)
}

type fakeEvidence struct {
	mu       sync.Mutex
	captured []Evidence
	err      error
}

func (f *fakeEvidence) Capture(_ context.Context, e Evidence) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.captured = append(f.captured, e)
	return f.err
}

// harness bundles an engine with fakes and a mock clock.
type harness struct {
	engine   *Engine
	clock    *timeutil.MockClock
	sink     *memSink
	alerter  *fakeAlerter
	evidence *fakeEvidence
	seq      uint64
}

func newHarness(cfg EngineConfig) *harness {
	h := &harness{
		clock:    timeutil.NewMockClock(testStart),
		sink:     &memSink{},
		alerter:  &fakeAlerter{},
		evidence: &fakeEvidence{},
	}
	h.engine = NewEngine(cfg, Options{
		Clock:     h.clock,
		Alerter:   h.alerter,
		Evidence:  h.evidence,
		Sinks:     []AuditSink{h.sink},
		SessionID: "test-session",
	})
	return h
}

// tick processes dets as the next frame, then advances the clock by step.
func (h *harness) tick(dets []Detection, step time.Duration) ([]ViolationEvent, error) {
	h.seq++
	evs, err := h.engine.Tick(context.Background(), Frame{Seq: h.seq, Detections: dets})
	h.clock.Advance(step)
	return evs, err
}

// sliceDetector replays frames then returns io.EOF.
type sliceDetector struct {
	frames []Frame
	next   int
	err    error
}

func (d *sliceDetector) Next(ctx context.Context) (Frame, error) {
	if err := ctx.Err(); err != nil {
		return Frame{}, err
	}
	if d.next >= len(d.frames) {
		if d.err != nil {
			return Frame{}, d.err
		}
		return Frame{}, io.EOF
	}
	f := d.frames[d.next]
	d.next++
	return f, nil
}

// Package detector provides Detector implementations that feed the
// compliance engine without a live model.
package detector

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/banshee-data/ppe.report/internal/compliance"
	"github.com/banshee-data/ppe.report/internal/security"
	"github.com/banshee-data/ppe.report/internal/timeutil"
)

// maxLineBytes bounds one fixture line.
const maxLineBytes = 4 * 1024 * 1024

// FixtureFrame is one line of a JSON-lines fixture file.
type FixtureFrame struct {
	Seq        uint64             `json:"seq"`
	Image      string             `json:"image,omitempty"`
	Detections []FixtureDetection `json:"detections"`
}

// FixtureDetection mirrors compliance.Detection with a compact bbox.
type FixtureDetection struct {
	Class      string     `json:"class"`
	BBox       [4]float64 `json:"bbox"` // x1, y1, x2, y2
	Confidence float64    `json:"confidence"`
	TrackID    string     `json:"track_id,omitempty"`
}

// Replay plays back recorded detections. Lines that fail to parse are
// logged and skipped; an unreadable image leaves the frame without one.
type Replay struct {
	// Interval paces frames through Clock; zero replays as fast as the
	// engine consumes them.
	Interval time.Duration
	Clock    timeutil.Clock

	scanner *bufio.Scanner
	baseDir string
	line    int
	skipped int
	started bool
}

// NewReplay reads fixtures from r. Image paths are resolved against baseDir
// and must stay inside it.
func NewReplay(r io.Reader, baseDir string) *Replay {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), maxLineBytes)
	return &Replay{scanner: sc, baseDir: baseDir, Clock: timeutil.RealClock{}}
}

// OpenReplay opens a fixture file; images resolve relative to its
// directory. The returned closer releases the file.
func OpenReplay(path string) (*Replay, io.Closer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open fixtures: %w", err)
	}
	return NewReplay(f, filepath.Dir(path)), f, nil
}

// Skipped returns the number of lines that could not be parsed.
func (r *Replay) Skipped() int { return r.skipped }

// Next returns the next frame, or io.EOF at the end of the fixtures.
func (r *Replay) Next(ctx context.Context) (compliance.Frame, error) {
	if r.started && r.Interval > 0 {
		r.Clock.Sleep(r.Interval)
	}
	r.started = true

	for {
		if err := ctx.Err(); err != nil {
			return compliance.Frame{}, err
		}
		if !r.scanner.Scan() {
			if err := r.scanner.Err(); err != nil {
				return compliance.Frame{}, fmt.Errorf("read fixtures line %d: %w", r.line+1, err)
			}
			return compliance.Frame{}, io.EOF
		}
		r.line++
		raw := r.scanner.Bytes()
		if len(raw) == 0 || raw[0] == '#' {
			continue
		}

		var ff FixtureFrame
		if err := json.Unmarshal(raw, &ff); err != nil {
			r.skipped++
			opsf("skipping fixture line %d: %v", r.line, err)
			continue
		}
		return r.toFrame(ff), nil
	}
}

func (r *Replay) toFrame(ff FixtureFrame) compliance.Frame {
	frame := compliance.Frame{Seq: ff.Seq, Detections: make([]compliance.Detection, 0, len(ff.Detections))}
	for _, d := range ff.Detections {
		// Unknown labels pass through lower-cased; the associator counts
		// them as malformed.
		class, _ := compliance.ParseItemClass(d.Class)
		frame.Detections = append(frame.Detections, compliance.Detection{
			Class:      class,
			BBox:       compliance.BBox{X1: d.BBox[0], Y1: d.BBox[1], X2: d.BBox[2], Y2: d.BBox[3]},
			Confidence: d.Confidence,
			TrackID:    d.TrackID,
		})
	}
	if ff.Image != "" {
		img, err := r.loadImage(ff.Image)
		if err != nil {
			opsf("frame %d: %v", ff.Seq, err)
		} else {
			frame.Image = img
		}
	}
	return frame
}

func (r *Replay) loadImage(name string) (image.Image, error) {
	path := filepath.Join(r.baseDir, name)
	if err := security.ValidatePathWithinDirectory(path, r.baseDir); err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open image: %w", err)
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode image %s: %w", name, err)
	}
	return img, nil
}

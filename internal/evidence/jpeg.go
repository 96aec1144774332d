// Package evidence implements the side effects of the alert gate: JPEG
// crops of violating persons and an audible terminal alert.
package evidence

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/image/draw"

	"github.com/banshee-data/ppe.report/internal/compliance"
	"github.com/banshee-data/ppe.report/internal/fsutil"
	"github.com/banshee-data/ppe.report/internal/security"
)

// ErrNoImage is returned by Capture when the frame carried no image.
var ErrNoImage = errors.New("evidence: frame has no image")

// DefaultQuality matches the encoder quality used for saved crops.
const DefaultQuality = 90

// JPEGWriter saves evidence crops as <person>_<severity>_<timestamp>.jpg.
type JPEGWriter struct {
	// MaxSide bounds the longer edge of a saved crop; larger crops are
	// downscaled. Zero keeps the original size.
	MaxSide int
	Quality int

	mu  sync.Mutex
	fs  fsutil.FileSystem
	dir string
	loc *time.Location
}

// NewJPEGWriter writes crops into dir using fs. loc sets the timestamp
// used in file names (nil means local time).
func NewJPEGWriter(fs fsutil.FileSystem, dir string, loc *time.Location) *JPEGWriter {
	if loc == nil {
		loc = time.Local
	}
	return &JPEGWriter{Quality: DefaultQuality, fs: fs, dir: dir, loc: loc}
}

// FileName returns the base name for e, before collision suffixes.
func (w *JPEGWriter) FileName(e compliance.Evidence) string {
	return fmt.Sprintf("%s_%s_%s.jpg",
		security.SanitizeFilename(e.PersonID),
		e.Severity,
		e.Timestamp.In(w.loc).Format("2006-01-02_15-04-05"))
}

// Capture encodes the crop and writes it. Two captures for the same person
// in the same second get numbered suffixes rather than overwriting.
func (w *JPEGWriter) Capture(ctx context.Context, e compliance.Evidence) error {
	if e.Crop == nil || e.Crop.Bounds().Empty() {
		return ErrNoImage
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	var buf bytes.Buffer
	quality := w.Quality
	if quality <= 0 || quality > 100 {
		quality = DefaultQuality
	}
	if err := jpeg.Encode(&buf, fit(e.Crop, w.MaxSide), &jpeg.Options{Quality: quality}); err != nil {
		return fmt.Errorf("encode crop for %s: %w", e.PersonID, err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.fs.MkdirAll(w.dir, 0755); err != nil {
		return fmt.Errorf("create evidence dir: %w", err)
	}
	path, err := w.freePath(w.FileName(e))
	if err != nil {
		return err
	}
	f, err := w.fs.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if _, err := f.Write(buf.Bytes()); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	diagf("saved evidence %s (%d bytes)", path, buf.Len())
	return nil
}

func (w *JPEGWriter) freePath(name string) (string, error) {
	base := strings.TrimSuffix(name, ".jpg")
	for n := 1; ; n++ {
		candidate := name
		if n > 1 {
			candidate = base + "-" + strconv.Itoa(n) + ".jpg"
		}
		path, err := security.JoinWithin(w.dir, candidate)
		if err != nil {
			return "", err
		}
		if !w.fs.Exists(path) {
			return path, nil
		}
	}
}

// fit downscales img so its longer side is at most maxSide, preserving the
// aspect ratio.
func fit(img image.Image, maxSide int) image.Image {
	b := img.Bounds()
	long := max(b.Dx(), b.Dy())
	if maxSide <= 0 || long <= maxSide {
		return img
	}
	scale := float64(maxSide) / float64(long)
	dw := max(1, int(float64(b.Dx())*scale+0.5))
	dh := max(1, int(float64(b.Dy())*scale+0.5))
	dst := image.NewRGBA(image.Rect(0, 0, dw, dh))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst
}

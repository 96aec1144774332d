// Package audit writes the human-readable daily compliance report: one CSV
// file per calendar day, append-only, with a header row on creation.
package audit

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/banshee-data/ppe.report/internal/compliance"
	"github.com/banshee-data/ppe.report/internal/fsutil"
)

// FilePrefix names the daily report files: ppe_report_YYYY-MM-DD.csv.
const FilePrefix = "ppe_report_"

// CSVSink appends audit rows to date-partitioned CSV files. The file for a
// row is chosen by the row's timestamp, so a session spanning midnight
// rotates to a new file without a restart.
type CSVSink struct {
	mu    sync.Mutex
	fs    fsutil.FileSystem
	dir   string
	items []compliance.ItemClass
	loc   *time.Location
}

// NewCSVSink creates a sink writing to dir. items fixes the per-item
// confidence columns; loc picks the calendar used for the daily split
// (nil means local time).
func NewCSVSink(fs fsutil.FileSystem, dir string, items []compliance.ItemClass, loc *time.Location) *CSVSink {
	if loc == nil {
		loc = time.Local
	}
	return &CSVSink{
		fs:    fs,
		dir:   dir,
		items: append([]compliance.ItemClass(nil), items...),
		loc:   loc,
	}
}

// PathFor returns the report file a row stamped at t belongs to.
func (s *CSVSink) PathFor(t time.Time) string {
	return filepath.Join(s.dir, FilePrefix+t.In(s.loc).Format("2006-01-02")+".csv")
}

// Header returns the column names.
func (s *CSVSink) Header() []string {
	title := cases.Title(language.English)
	h := []string{"Time", "Session", "Person", "Event", "Reason"}
	for _, it := range s.items {
		h = append(h, title.String(string(it))+" %")
	}
	return append(h, "Status", "Missing", "Violation Duration (s)", "Severity")
}

// Append writes row in a single write so a failed attempt never leaves a
// partial line behind.
func (s *CSVSink) Append(row compliance.AuditRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.fs.MkdirAll(s.dir, 0755); err != nil {
		return fmt.Errorf("create audit dir: %w", err)
	}
	path := s.PathFor(row.Timestamp)
	fresh := true
	if info, err := s.fs.Stat(path); err == nil && info.Size() > 0 {
		fresh = false
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if fresh {
		if err := w.Write(s.Header()); err != nil {
			return err
		}
	}
	if err := w.Write(s.record(row)); err != nil {
		return err
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("encode audit row: %w", err)
	}

	f, err := s.fs.OpenAppend(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	if _, err := f.Write(buf.Bytes()); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	if fresh {
		diagf("started daily report %s", path)
	}
	return nil
}

func (s *CSVSink) record(row compliance.AuditRow) []string {
	rec := []string{
		row.Timestamp.In(s.loc).Format(time.RFC3339Nano),
		row.SessionID,
		row.PersonID,
		string(row.Kind),
		string(row.Reason),
	}
	for _, it := range s.items {
		if c, ok := row.Confidences[it]; ok {
			rec = append(rec, strconv.FormatFloat(c, 'f', 1, 64))
		} else {
			rec = append(rec, "")
		}
	}
	return append(rec,
		string(row.Status),
		compliance.ItemNames(row.MissingItems),
		strconv.FormatFloat(row.DurationSeconds, 'f', 1, 64),
		string(row.Severity),
	)
}

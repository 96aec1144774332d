package report

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/ppe.report/internal/compliance"
	"github.com/banshee-data/ppe.report/internal/db"
)

var items = []compliance.ItemClass{compliance.ClassHelmet, compliance.ClassVest, compliance.ClassMask}

type fakeSource struct {
	byItem     map[string]int64
	bySeverity map[string]int64
	err        error
	since      time.Time
}

func (f *fakeSource) ViolationCountsByItem(since time.Time) (map[string]int64, error) {
	f.since = since
	return f.byItem, f.err
}

func (f *fakeSource) ClosedSeverityCounts(time.Time) (map[string]int64, error) {
	return f.bySeverity, nil
}

func TestBuild_OrdersAndFills(t *testing.T) {
	t.Parallel()
	since := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	src := &fakeSource{
		byItem:     map[string]int64{"vest": 4, "gloves": 1, "boots": 2},
		bySeverity: map[string]int64{"MEDIUM": 2, "LOW": 1},
	}

	s, err := Build(src, items, since)
	require.NoError(t, err)
	assert.Equal(t, since, src.since)
	assert.Equal(t, []Count{
		{"helmet", 0}, {"vest", 4}, {"mask", 0}, {"boots", 2}, {"gloves", 1},
	}, s.Items)
	assert.Equal(t, []Count{
		{"LOW", 1}, {"MEDIUM", 2}, {"HIGH", 0}, {"CRITICAL", 0},
	}, s.Severities)
	assert.Equal(t, int64(7), s.TotalViolations())
}

func TestBuild_SourceError(t *testing.T) {
	t.Parallel()
	_, err := Build(&fakeSource{err: errors.New("no such table")}, items, time.Time{})
	assert.ErrorContains(t, err, "no such table")
}

func TestSummary_Table(t *testing.T) {
	t.Parallel()
	s := Summary{
		Items:      []Count{{"helmet", 2}, {"vest", 5}},
		Severities: []Count{{"LOW", 3}},
	}
	out := s.Table()

	assert.Contains(t, out, "Violations by item (all time)")
	assert.Contains(t, out, "Closed violations by severity")
	for _, line := range []string{"helmet", "vest", "LOW"} {
		assert.Contains(t, out, line)
	}
	var totals []string
	for _, line := range strings.Split(out, "\n") {
		if strings.Contains(strings.ToUpper(line), "TOTAL") {
			totals = append(totals, strings.Join(strings.Fields(strings.NewReplacer("│", " ", "|", " ").Replace(line)), " "))
		}
	}
	assert.Equal(t, []string{"TOTAL 7", "TOTAL 3"}, totals)

	s.Since = time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	assert.Contains(t, s.Table(), "since 2026-03-02T00:00:00Z")
}

func TestSummary_WriteChartPNG(t *testing.T) {
	t.Parallel()
	s := Summary{Items: []Count{{"helmet", 0}, {"vest", 3}}}
	var buf bytes.Buffer
	require.NoError(t, s.WriteChartPNG(&buf))
	assert.True(t, bytes.HasPrefix(buf.Bytes(), []byte("\x89PNG\r\n\x1a\n")))

	assert.Error(t, Summary{}.WriteChartPNG(&buf), "nothing to chart")
}

func TestSummary_SaveChart(t *testing.T) {
	t.Parallel()
	s := Summary{Items: []Count{{"vest", 1}}}
	path := filepath.Join(t.TempDir(), "charts", "violations.png")

	require.NoError(t, s.SaveChart(path))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, []byte("\x89PNG")))

	assert.ErrorContains(t, s.SaveChart(filepath.Join(t.TempDir(), "violations.jpg")), ".png")
	assert.Error(t, s.SaveChart("/etc/ppe-violations.png"))
}

func TestBuild_FromAuditStore(t *testing.T) {
	t.Parallel()
	database, err := db.NewDB(filepath.Join(t.TempDir(), "ppe.db"))
	require.NoError(t, err)
	defer database.Close()
	store := db.NewAuditStore(database)

	at := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	rows := []compliance.AuditRow{
		{Timestamp: at, SessionID: "s", PersonID: "P1_1", Kind: compliance.EventOpened, Status: compliance.StatusNonCompliant,
			MissingItems: []compliance.ItemClass{compliance.ClassVest}, Severity: compliance.SeverityLow},
		{Timestamp: at.Add(time.Second), SessionID: "s", PersonID: "P1_1", Kind: compliance.EventChanged, Status: compliance.StatusNonCompliant,
			MissingItems: []compliance.ItemClass{compliance.ClassVest, compliance.ClassHelmet}, Severity: compliance.SeverityMedium},
		{Timestamp: at.Add(2 * time.Second), SessionID: "s", PersonID: "P1_1", Kind: compliance.EventClosed, Reason: compliance.ReasonRestored,
			Status: compliance.StatusNonCompliant, MissingItems: []compliance.ItemClass{compliance.ClassVest, compliance.ClassHelmet}, Severity: compliance.SeverityMedium},
	}
	for _, row := range rows {
		require.NoError(t, store.Append(row))
	}

	s, err := Build(store, items, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, []Count{{"helmet", 1}, {"vest", 2}, {"mask", 0}}, s.Items)
	assert.Equal(t, int64(1), s.Severities[1].N)
}

// Package report summarises the durable audit store: violations per PPE item
// and closed violations per severity, as a terminal table or a PNG chart.
package report

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/ppe.report/internal/compliance"
	"github.com/banshee-data/ppe.report/internal/security"
)

// Source is the subset of the audit store the report reads.
type Source interface {
	ViolationCountsByItem(since time.Time) (map[string]int64, error)
	ClosedSeverityCounts(since time.Time) (map[string]int64, error)
}

// Count is one labelled total.
type Count struct {
	Label string
	N     int64
}

type Summary struct {
	Since      time.Time
	Items      []Count
	Severities []Count
}

var severityOrder = []compliance.Severity{
	compliance.SeverityLow,
	compliance.SeverityMedium,
	compliance.SeverityHigh,
	compliance.SeverityCritical,
}

// Build reads totals since the given time (zero means all time). Required
// items always appear, in order; items only present in the store follow
// alphabetically.
func Build(src Source, items []compliance.ItemClass, since time.Time) (Summary, error) {
	byItem, err := src.ViolationCountsByItem(since)
	if err != nil {
		return Summary{}, fmt.Errorf("item counts: %w", err)
	}
	bySeverity, err := src.ClosedSeverityCounts(since)
	if err != nil {
		return Summary{}, fmt.Errorf("severity counts: %w", err)
	}

	s := Summary{Since: since}
	seen := make(map[string]bool, len(items))
	for _, item := range items {
		name := string(item)
		seen[name] = true
		s.Items = append(s.Items, Count{Label: name, N: byItem[name]})
	}
	s.Items = append(s.Items, leftovers(byItem, seen)...)

	seen = make(map[string]bool, len(severityOrder))
	for _, sev := range severityOrder {
		name := string(sev)
		seen[name] = true
		s.Severities = append(s.Severities, Count{Label: name, N: bySeverity[name]})
	}
	s.Severities = append(s.Severities, leftovers(bySeverity, seen)...)
	return s, nil
}

func leftovers(counts map[string]int64, seen map[string]bool) []Count {
	var keys []string
	for k := range counts {
		if !seen[k] {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	out := make([]Count, 0, len(keys))
	for _, k := range keys {
		out = append(out, Count{Label: k, N: counts[k]})
	}
	return out
}

// TotalViolations sums the per-item counts.
func (s Summary) TotalViolations() int64 {
	var n int64
	for _, c := range s.Items {
		n += c.N
	}
	return n
}

// Table renders the summary as two stacked tables.
func (s Summary) Table() string {
	var b strings.Builder
	scope := "all time"
	if !s.Since.IsZero() {
		scope = "since " + s.Since.Format(time.RFC3339)
	}
	b.WriteString(renderCounts("Violations by item ("+scope+")", "Item", s.Items))
	b.WriteString("\n")
	b.WriteString(renderCounts("Closed violations by severity", "Severity", s.Severities))
	b.WriteString("\n")
	return b.String()
}

func renderCounts(title, label string, counts []Count) string {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	tw.SetTitle(title)
	tw.AppendHeader(table.Row{label, "Count"})
	var total int64
	for _, c := range counts {
		tw.AppendRow(table.Row{c.Label, strconv.FormatInt(c.N, 10)})
		total += c.N
	}
	tw.AppendFooter(table.Row{"Total", strconv.FormatInt(total, 10)})
	tw.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, Align: text.AlignLeft, AlignHeader: text.AlignLeft},
		{Number: 2, Align: text.AlignRight, AlignHeader: text.AlignLeft, AlignFooter: text.AlignRight},
	})
	return tw.Render()
}

// Chart draws violations per item as a bar chart.
func (s Summary) Chart() (*plot.Plot, error) {
	if len(s.Items) == 0 {
		return nil, fmt.Errorf("no items to chart")
	}
	values := make(plotter.Values, len(s.Items))
	names := make([]string, len(s.Items))
	for i, c := range s.Items {
		values[i] = float64(c.N)
		names[i] = c.Label
	}

	p := plot.New()
	p.Title.Text = "PPE violations by item"
	p.Y.Label.Text = "Violations"
	p.Y.Min = 0

	bars, err := plotter.NewBarChart(values, vg.Points(40))
	if err != nil {
		return nil, fmt.Errorf("bar chart: %w", err)
	}
	bars.LineStyle.Width = vg.Length(0)
	p.Add(bars)
	p.NominalX(names...)
	return p, nil
}

// WriteChartPNG renders the chart as PNG to w.
func (s Summary) WriteChartPNG(w io.Writer) error {
	p, err := s.Chart()
	if err != nil {
		return err
	}
	wt, err := p.WriterTo(8*vg.Inch, 4*vg.Inch, "png")
	if err != nil {
		return fmt.Errorf("png writer: %w", err)
	}
	if _, err := wt.WriteTo(w); err != nil {
		return fmt.Errorf("write png: %w", err)
	}
	return nil
}

// SaveChart writes the PNG chart to path, which must be a .png under the
// working directory or the system temp dir.
func (s Summary) SaveChart(path string) error {
	if err := security.ValidateExportPath(path); err != nil {
		return err
	}
	if !strings.EqualFold(filepath.Ext(path), ".png") {
		return fmt.Errorf("chart path %q must have a .png extension", path)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create chart dir: %w", err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create chart: %w", err)
	}
	if err := s.WriteChartPNG(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

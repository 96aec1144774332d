package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/ppe.report/internal/compliance"
)

var _ compliance.Recorder = (*Metrics)(nil)

type fakeSource struct {
	stats    compliance.Stats
	counters map[string]int64
}

func (f *fakeSource) Stats() compliance.Stats    { return f.stats }
func (f *fakeSource) Counters() map[string]int64 { return f.counters }

func TestRecorderCounters(t *testing.T) {
	t.Parallel()
	m := New()

	m.FrameProcessed(4*time.Millisecond, 2)
	m.FrameProcessed(6*time.Millisecond, 3)
	m.DetectionsDropped("malformed", 2)
	m.DetectionsDropped("below_floor", 5)
	m.EventEmitted(compliance.ViolationEvent{Kind: compliance.EventOpened, Severity: compliance.SeverityLow})
	m.EventEmitted(compliance.ViolationEvent{Kind: compliance.EventClosed, Severity: compliance.SeverityMedium})
	m.AlertFired("P1_1", compliance.SeverityLow)
	m.SideEffectFailed("evidence")
	m.PersonFailed("P1_1")

	assert.Equal(t, 2.0, promtest.ToFloat64(m.frames))
	assert.Equal(t, 3.0, promtest.ToFloat64(m.personsFrame))
	assert.Equal(t, 2.0, promtest.ToFloat64(m.dropped.WithLabelValues("malformed")))
	assert.Equal(t, 5.0, promtest.ToFloat64(m.dropped.WithLabelValues("below_floor")))
	assert.Equal(t, 1.0, promtest.ToFloat64(m.events.WithLabelValues("OPENED", "LOW")))
	assert.Equal(t, 1.0, promtest.ToFloat64(m.events.WithLabelValues("CLOSED", "MEDIUM")))
	assert.Equal(t, 1.0, promtest.ToFloat64(m.alerts.WithLabelValues("LOW")))
	assert.Equal(t, 1.0, promtest.ToFloat64(m.sideEffects.WithLabelValues("evidence")))
	assert.Equal(t, 1.0, promtest.ToFloat64(m.personErrors))
	assert.Equal(t, 1, promtest.CollectAndCount(m.tickLatency))
}

func TestBindEngineSamplesAtScrape(t *testing.T) {
	t.Parallel()
	m := New()
	src := &fakeSource{counters: map[string]int64{"helmet": 1, "vest": 0}}
	m.BindEngine(src, []compliance.ItemClass{compliance.ClassHelmet, compliance.ClassVest})

	src.stats.LivePersons = 4
	src.counters["vest"] = 3

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()
	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	text := string(body)
	assert.Contains(t, text, "ppe_live_persons 4")
	assert.Contains(t, text, `ppe_item_violations{item="helmet"} 1`)
	assert.Contains(t, text, `ppe_item_violations{item="vest"} 3`)
	assert.Contains(t, text, "ppe_frames_processed_total 0")
}

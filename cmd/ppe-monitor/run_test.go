package main

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/ppe.report/internal/audit"
	"github.com/banshee-data/ppe.report/internal/db"
)

const fixturePath = "../../internal/detector/testdata/vest_missing.jsonl"

func replayOptions(t *testing.T) (monitorOptions, *bytes.Buffer) {
	t.Helper()
	dir := t.TempDir()
	// Frames replay back to back, so alerts must not wait out a grace period.
	cfgPath := filepath.Join(dir, "tuning.toml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("grace_period = \"0s\"\n"), 0o644))

	var stdout bytes.Buffer
	return monitorOptions{
		ConfigPath:  cfgPath,
		DBPath:      filepath.Join(dir, "ppe.db"),
		AuditDir:    filepath.Join(dir, "audit"),
		EvidenceDir: filepath.Join(dir, "violations"),
		Fixtures:    fixturePath,
		LogLevel:    "ops",
		Timezone:    "UTC",
		Stdout:      &stdout,
		Stderr:      &bytes.Buffer{},
	}, &stdout
}

func TestRunMonitor_ReplaysFixtures(t *testing.T) {
	o, stdout := replayOptions(t)
	require.NoError(t, runMonitor(context.Background(), o))

	csvFiles, err := filepath.Glob(filepath.Join(o.AuditDir, audit.FilePrefix+"*.csv"))
	require.NoError(t, err)
	require.Len(t, csvFiles, 1)
	data, err := os.ReadFile(csvFiles[0])
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 3, "header, OPENED, CLOSED")
	assert.Contains(t, lines[1], "OPENED")
	assert.Contains(t, lines[2], "restored")

	database, err := db.OpenDB(o.DBPath)
	require.NoError(t, err)
	defer database.Close()
	events, err := db.NewAuditStore(database).RecentEvents(10)
	require.NoError(t, err)
	assert.Len(t, events, 2)

	session, err := database.GetSession(events[0].SessionID)
	require.NoError(t, err)
	assert.Equal(t, endReplayDone, session.EndReason)
	assert.Equal(t, uint64(10), session.Frames)
	assert.Equal(t, uint64(2), session.Events)

	out := stdout.String()
	assert.Contains(t, out, "ALERT", "bell alerter wrote to stdout")
	assert.Contains(t, out, "Violations by item")
}

func TestRunMonitor_WebhookAlerts(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(50 * time.Millisecond)
		hits.Add(1)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	o, _ := replayOptions(t)
	o.AlertWebhook = srv.URL
	require.NoError(t, runMonitor(context.Background(), o))
	assert.Positive(t, hits.Load(), "queued alerts are delivered before exit")
}

// writeImageFixture writes a single large frame image and a fixture file
// that shows one worker without a vest on it for five frames.
func writeImageFixture(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	img := image.NewRGBA(image.Rect(0, 0, 1000, 1200))
	for y := 0; y < 1200; y += 10 {
		for x := 0; x < 1000; x += 10 {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 90, A: 255})
		}
	}
	f, err := os.Create(filepath.Join(dir, "frame.png"))
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, img))
	require.NoError(t, f.Close())

	var lines []string
	for seq := 1; seq <= 5; seq++ {
		lines = append(lines, fmt.Sprintf(`{"seq":%d,"image":"frame.png","detections":[`+
			`{"class":"person","bbox":[50,50,950,1150],"confidence":95},`+
			`{"class":"helmet","bbox":[350,50,650,250],"confidence":90},`+
			`{"class":"mask","bbox":[350,250,650,450],"confidence":90}]}`, seq))
	}
	path := filepath.Join(dir, "frames.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644))
	return path
}

func TestRunMonitor_EvidenceCropsRespectMaxSide(t *testing.T) {
	o, _ := replayOptions(t)
	o.Fixtures = writeImageFixture(t)
	require.NoError(t, os.WriteFile(o.ConfigPath, []byte("grace_period = \"0s\"\nevidence_max_side = 200\n"), 0o644))
	require.NoError(t, runMonitor(context.Background(), o))

	crops, err := filepath.Glob(filepath.Join(o.EvidenceDir, "*.jpg"))
	require.NoError(t, err)
	require.NotEmpty(t, crops)
	for _, path := range crops {
		f, err := os.Open(path)
		require.NoError(t, err)
		cfg, err := jpeg.DecodeConfig(f)
		f.Close()
		require.NoError(t, err)
		assert.LessOrEqual(t, max(cfg.Width, cfg.Height), 200, path)
		assert.Equal(t, 200, cfg.Height, "the 900x1100 crop is scaled, not skipped")
	}
}

func TestRunMonitor_Errors(t *testing.T) {
	o, _ := replayOptions(t)
	o.LogLevel = "loud"
	assert.ErrorContains(t, runMonitor(context.Background(), o), "unknown log level")

	o, _ = replayOptions(t)
	o.ConfigPath = filepath.Join(t.TempDir(), "tuning.yaml")
	assert.ErrorContains(t, runMonitor(context.Background(), o), "load config")

	o, _ = replayOptions(t)
	o.Timezone = "Mars/Olympus_Mons"
	assert.ErrorContains(t, runMonitor(context.Background(), o), "unknown timezone")

	o, _ = replayOptions(t)
	o.Fixtures = filepath.Join(t.TempDir(), "missing.jsonl")
	assert.ErrorContains(t, runMonitor(context.Background(), o), "open fixtures")

	o, _ = replayOptions(t)
	held, err := audit.LockDir(o.AuditDir)
	require.NoError(t, err)
	defer held.Unlock()
	assert.ErrorIs(t, runMonitor(context.Background(), o), audit.ErrDirLocked)
}

func TestRunMonitor_CancelledBeforeStart(t *testing.T) {
	o, _ := replayOptions(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, runMonitor(ctx, o))

	database, err := db.OpenDB(o.DBPath)
	require.NoError(t, err)
	defer database.Close()
	var reason string
	require.NoError(t, database.QueryRow(`SELECT end_reason FROM sessions`).Scan(&reason))
	assert.Equal(t, endInterrupt, reason)
}

func TestRunReport(t *testing.T) {
	o, _ := replayOptions(t)
	require.NoError(t, runMonitor(context.Background(), o))

	var out bytes.Buffer
	require.NoError(t, runReport(nil, o.DBPath, "", &out))
	assert.Contains(t, out.String(), "vest")

	chart := filepath.Join(t.TempDir(), "chart.png")
	out.Reset()
	require.NoError(t, runReport([]string{"-out", chart, "-since", "1h"}, o.DBPath, "", &out))
	assert.Contains(t, out.String(), "chart written to")
	info, err := os.Stat(chart)
	require.NoError(t, err)
	assert.Positive(t, info.Size())

	assert.Error(t, runReport([]string{"-since", "-1h"}, o.DBPath, "", &out))
	assert.Error(t, runReport([]string{"-bogus"}, o.DBPath, "", &out))
}

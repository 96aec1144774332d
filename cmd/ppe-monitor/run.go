package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/ppe.report/internal/api"
	"github.com/banshee-data/ppe.report/internal/audit"
	"github.com/banshee-data/ppe.report/internal/compliance"
	"github.com/banshee-data/ppe.report/internal/config"
	"github.com/banshee-data/ppe.report/internal/db"
	"github.com/banshee-data/ppe.report/internal/detector"
	"github.com/banshee-data/ppe.report/internal/evidence"
	"github.com/banshee-data/ppe.report/internal/fsutil"
	"github.com/banshee-data/ppe.report/internal/metrics"
	"github.com/banshee-data/ppe.report/internal/monitoring"
	"github.com/banshee-data/ppe.report/internal/report"
)

type monitorOptions struct {
	ConfigPath      string
	DBPath          string
	AuditDir        string
	EvidenceDir     string
	Fixtures        string
	FixtureInterval time.Duration
	Listen          string
	LogLevel        string
	AlertWebhook    string
	Timezone        string
	Stdout          io.Writer
	Stderr          io.Writer

	// ServeAfterReplay keeps the HTTP server up once the fixtures are
	// exhausted, until ctx is cancelled.
	ServeAfterReplay bool
}

// End reasons stored on the sessions table.
const (
	endReplayDone = "replay_done"
	endInterrupt  = "interrupted"
	endError      = "error"
)

func loadConfig(path string) (*config.ComplianceConfig, error) {
	if path == "" {
		return config.EmptyComplianceConfig(), nil
	}
	return config.LoadComplianceConfig(path)
}

func configureLogging(level string, w io.Writer) error {
	lvl, err := monitoring.ParseLevel(level)
	if err != nil {
		return err
	}
	compliance.SetLogWriters(monitoring.StreamWriters(lvl, w))
	audit.SetLogWriters(monitoring.StreamWriters(lvl, w))
	evidence.SetLogWriters(monitoring.StreamWriters(lvl, w))
	detector.SetLogWriters(monitoring.StreamWriters(lvl, w))
	api.SetLogWriters(monitoring.StreamWriters(lvl, w))
	logger := log.New(w, "[ppe-monitor] ", log.LstdFlags|log.Lmicroseconds)
	monitoring.SetLogger(logger.Printf)
	return nil
}

// runMonitor replays fixtures through the engine with every sink, alerter
// and the HTTP surface attached, and records the session in the database.
func runMonitor(ctx context.Context, o monitorOptions) error {
	if err := configureLogging(o.LogLevel, o.Stderr); err != nil {
		return err
	}
	tuning, err := loadConfig(o.ConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	cfg := compliance.EngineConfigFromTuning(tuning)
	loc, err := config.ResolveTimezone(o.Timezone)
	if err != nil {
		return err
	}

	lock, err := audit.LockDir(o.AuditDir)
	if err != nil {
		return err
	}
	defer lock.Unlock()

	database, err := db.NewDB(o.DBPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer database.Close()
	store := db.NewAuditStore(database)

	replay, closer, err := detector.OpenReplay(o.Fixtures)
	if err != nil {
		return err
	}
	defer closer.Close()
	replay.Interval = o.FixtureInterval

	sessionID := uuid.NewString()
	started := time.Now()
	if err := database.StartSession(sessionID, started); err != nil {
		return err
	}

	osfs := fsutil.OSFileSystem{}
	hub := api.NewHub()
	defer hub.Close()
	m := metrics.New()

	var alerter compliance.Alerter = evidence.NewBellAlerter(o.Stdout)
	var webhook *evidence.AsyncAlerter
	if o.AlertWebhook != "" {
		webhook = evidence.NewAsyncAlerter(evidence.NewWebhookAlerter(o.AlertWebhook, nil), evidence.DefaultAlertQueue)
		alerter = evidence.MultiAlerter{alerter, webhook}
		defer func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			_ = webhook.Close(closeCtx)
		}()
	}
	jpegs := evidence.NewJPEGWriter(osfs, o.EvidenceDir, loc)
	jpegs.MaxSide = tuning.GetEvidenceMaxSide()

	engine := compliance.NewEngine(cfg, compliance.Options{
		Alerter:   alerter,
		Evidence:  jpegs,
		Recorder:  m,
		SessionID: sessionID,
		Sinks: []compliance.AuditSink{
			audit.NewCSVSink(osfs, o.AuditDir, cfg.RequiredItems, loc),
			store,
			hub,
		},
	})
	m.BindEngine(engine, cfg.RequiredItems)
	monitoring.Logf("session %s started: items %s, fixtures %s",
		sessionID, compliance.ItemNames(cfg.RequiredItems), o.Fixtures)

	var wg sync.WaitGroup
	var server *http.Server
	if o.Listen != "" {
		mux := api.NewServer(engine, store, cfg.RequiredItems, m.Handler(), hub).ServeMux()
		if err := database.AttachAdminRoutes(mux); err != nil {
			return fmt.Errorf("admin routes: %w", err)
		}
		server = &http.Server{
			Addr:              o.Listen,
			Handler:           api.LoggingMiddleware(mux),
			ReadHeaderTimeout: 5 * time.Second,
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				monitoring.Logf("HTTP server failed: %v", err)
			}
		}()
		monitoring.Logf("serving dashboard API on %s", o.Listen)
	}

	runErr := engine.Run(ctx, replay)
	reason := endReplayDone
	switch {
	case runErr != nil:
		reason = endError
	case ctx.Err() != nil:
		reason = endInterrupt
	}
	if webhook != nil {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := webhook.Close(closeCtx); err != nil {
			monitoring.Logf("webhook alerts still queued at exit: %v", err)
		}
		cancel()
		monitoring.Logf("webhook alerts: %d delivered, %d failed, %d dropped",
			webhook.Delivered(), webhook.Failed(), webhook.Dropped())
	}
	if skipped := replay.Skipped(); skipped > 0 {
		monitoring.Logf("skipped %d malformed fixture lines", skipped)
	}

	stats := engine.Stats()
	if err := database.EndSession(sessionID, time.Now(), db.SessionTotals{
		Frames: stats.Frames,
		Events: stats.Events,
		Alerts: stats.Alerts,
	}, reason); err != nil {
		monitoring.Logf("end session: %v", err)
	}

	if summary, err := report.Build(store, cfg.RequiredItems, started); err != nil {
		monitoring.Logf("session summary: %v", err)
	} else {
		fmt.Fprint(o.Stdout, summary.Table())
	}

	if server != nil {
		if runErr == nil && reason == endReplayDone && o.ServeAfterReplay {
			monitoring.Logf("replay finished; serving until interrupted")
			<-ctx.Done()
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		hub.Close()
		if err := server.Shutdown(shutdownCtx); err != nil {
			monitoring.Logf("HTTP server shutdown error: %v", err)
			if err := server.Close(); err != nil {
				monitoring.Logf("HTTP server force close error: %v", err)
			}
		}
		wg.Wait()
	}
	return runErr
}

// runReport prints the audit summary table and optionally writes a chart.
func runReport(args []string, dbPath, configPath string, out io.Writer) error {
	fs := flag.NewFlagSet("report", flag.ContinueOnError)
	fs.SetOutput(out)
	chartPath := fs.String("out", "", "Write a PNG chart of violations per item to this path")
	since := fs.Duration("since", 0, "Only count events newer than this (0 = all time)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *since < 0 {
		return errors.New("-since must not be negative")
	}

	tuning, err := loadConfig(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	items := compliance.EngineConfigFromTuning(tuning).RequiredItems

	database, err := db.OpenDB(dbPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer database.Close()

	var from time.Time
	if *since > 0 {
		from = time.Now().Add(-*since)
	}
	summary, err := report.Build(db.NewAuditStore(database), items, from)
	if err != nil {
		return err
	}
	fmt.Fprint(out, summary.Table())

	if *chartPath != "" {
		if err := summary.SaveChart(*chartPath); err != nil {
			return err
		}
		fmt.Fprintf(out, "chart written to %s\n", *chartPath)
	}
	return nil
}

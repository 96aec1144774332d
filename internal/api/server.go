// Package api serves the read side of the compliance monitor: JSON
// snapshots for dashboards, an HTML chart, Prometheus metrics and a
// websocket feed of audit events.
package api

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/banshee-data/ppe.report/internal/compliance"
	"github.com/banshee-data/ppe.report/internal/httputil"
)

const (
	colorCyan      = "\033[36m"
	colorReset     = "\033[0m"
	colorYellow    = "\033[33m"
	colorBoldGreen = "\033[1;32m"
	colorBoldRed   = "\033[1;31m"
)

const (
	defaultEventLimit = 50
	maxEventLimit     = 500
)

// Snapshotter is the read side of the compliance engine.
type Snapshotter interface {
	Counters() map[string]int64
	Persons() []compliance.PersonSnapshot
	Stats() compliance.Stats
}

// EventStore returns persisted audit rows, newest first.
type EventStore interface {
	RecentEvents(limit int) ([]compliance.AuditRow, error)
}

type Server struct {
	engine  Snapshotter
	events  EventStore
	items   []compliance.ItemClass
	metrics http.Handler
	hub     *Hub
}

// NewServer builds a server over engine. events, metrics and hub are
// optional; their routes answer 404 when nil.
func NewServer(engine Snapshotter, events EventStore, items []compliance.ItemClass, metrics http.Handler, hub *Hub) *Server {
	return &Server{
		engine:  engine,
		events:  events,
		items:   items,
		metrics: metrics,
		hub:     hub,
	}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// Hijack passes websocket upgrades through to the underlying connection.
func (lrw *loggingResponseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := lrw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	return h.Hijack()
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration.
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		diagf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/counters", s.showCounters)
	mux.HandleFunc("/api/persons", s.listPersons)
	mux.HandleFunc("/api/stats", s.showStats)
	mux.HandleFunc("/api/events", s.listEvents)
	mux.HandleFunc("/api/dashboard", s.showDashboard)
	mux.HandleFunc("/charts/violations", s.handleViolationsChart)
	if s.metrics != nil {
		mux.Handle("/metrics", s.metrics)
	}
	if s.hub != nil {
		mux.Handle("/ws/events", s.hub)
	}
	return mux
}

// EventView is the JSON shape of an audit row.
type EventView struct {
	Timestamp       time.Time                        `json:"timestamp"`
	SessionID       string                           `json:"session_id"`
	PersonID        string                           `json:"person_id"`
	Kind            compliance.EventKind             `json:"kind"`
	Reason          compliance.CloseReason           `json:"reason,omitempty"`
	Status          compliance.Status                `json:"status"`
	MissingItems    []compliance.ItemClass           `json:"missing_items"`
	Severity        compliance.Severity              `json:"severity"`
	DurationSeconds float64                          `json:"duration_seconds"`
	Confidences     map[compliance.ItemClass]float64 `json:"confidences,omitempty"`
}

func NewEventView(row compliance.AuditRow) EventView {
	missing := row.MissingItems
	if missing == nil {
		missing = []compliance.ItemClass{}
	}
	return EventView{
		Timestamp:       row.Timestamp,
		SessionID:       row.SessionID,
		PersonID:        row.PersonID,
		Kind:            row.Kind,
		Reason:          row.Reason,
		Status:          row.Status,
		MissingItems:    missing,
		Severity:        row.Severity,
		DurationSeconds: row.DurationSeconds,
		Confidences:     row.Confidences,
	}
}

// Dashboard is the single polling payload for the live view.
type Dashboard struct {
	Stats        compliance.Stats            `json:"stats"`
	Counters     map[string]int64            `json:"counters"`
	Persons      []compliance.PersonSnapshot `json:"persons"`
	RecentEvents []EventView                 `json:"recent_events"`
}

func (s *Server) showCounters(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	httputil.WriteJSONOK(w, s.engine.Counters())
}

func (s *Server) listPersons(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	persons := s.engine.Persons()
	if persons == nil {
		persons = []compliance.PersonSnapshot{}
	}
	httputil.WriteJSONOK(w, persons)
}

func (s *Server) showStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	httputil.WriteJSONOK(w, s.engine.Stats())
}

func (s *Server) listEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if s.events == nil {
		httputil.NotFound(w, "no audit store configured")
		return
	}
	limit, err := httputil.QueryInt(r, "limit", defaultEventLimit, 1, maxEventLimit)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	events, err := s.recentEvents(limit)
	if err != nil {
		opsf("list events: %v", err)
		httputil.InternalServerError(w, "failed to read audit events")
		return
	}
	httputil.WriteJSONOK(w, events)
}

func (s *Server) showDashboard(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	d := Dashboard{
		Stats:        s.engine.Stats(),
		Counters:     s.engine.Counters(),
		Persons:      s.engine.Persons(),
		RecentEvents: []EventView{},
	}
	if d.Persons == nil {
		d.Persons = []compliance.PersonSnapshot{}
	}
	if s.events != nil {
		events, err := s.recentEvents(defaultEventLimit)
		if err != nil {
			opsf("dashboard events: %v", err)
			httputil.InternalServerError(w, "failed to read audit events")
			return
		}
		d.RecentEvents = events
	}
	httputil.WriteJSONOK(w, d)
}

func (s *Server) recentEvents(limit int) ([]EventView, error) {
	rows, err := s.events.RecentEvents(limit)
	if err != nil {
		return nil, err
	}
	views := make([]EventView, 0, len(rows))
	for _, row := range rows {
		views = append(views, NewEventView(row))
	}
	return views, nil
}

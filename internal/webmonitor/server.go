package webmonitor

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/samber/lo"

	"github.com/2025-SMHRD-SW-BigData/DevMour/internal/archive"
	"github.com/2025-SMHRD-SW-BigData/DevMour/internal/pipeline"
	"github.com/2025-SMHRD-SW-BigData/DevMour/internal/scheduler"
)

// Scheduler is the part of scheduler.Service the server drives.
type Scheduler interface {
	Targets() []pipeline.Target
	Start() error
	Stop() error
	SetInterval(d time.Duration) (time.Duration, error)
	Force(ctx context.Context, sourceID string) (*pipeline.Report, error)
	InFlight(id string) bool
	Stats() scheduler.Stats
}

// HistoryStore returns persisted reports, newest first.
type HistoryStore interface {
	Recent(ctx context.Context, sourceID string, limit int) ([]*pipeline.Report, error)
}

// Option configures a Server.
type Option func(*Server)

// WithHistoryStore serves /api/history from a persistent store.
func WithHistoryStore(h HistoryStore) Option {
	return func(s *Server) { s.history = h }
}

// WithArchive exposes archive controls.
func WithArchive(a *archive.Archive) Option {
	return func(s *Server) { s.archive = a }
}

// WithMetrics mounts a metrics handler at /metrics.
func WithMetrics(h http.Handler) Option {
	return func(s *Server) { s.metrics = h }
}

// Server serves the monitor dashboard and control endpoints.
type Server struct {
	cfg         Config
	scheduler   Scheduler
	monitor     *Monitor
	broadcaster *ReportBroadcaster
	history     HistoryStore
	archive     *archive.Archive
	metrics     http.Handler
	profiles    []ProfileInfo
}

// NewServer returns a configured monitor server.
func NewServer(cfg Config, sched Scheduler, opts ...Option) *Server {
	if cfg.StatusInterval <= 0 {
		cfg.StatusInterval = DefaultConfig().StatusInterval
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = DefaultConfig().HistorySize
	}
	if cfg.ForceTimeout <= 0 {
		cfg.ForceTimeout = DefaultConfig().ForceTimeout
	}
	s := &Server{
		cfg:         cfg,
		scheduler:   sched,
		monitor:     NewMonitor(cfg.HistorySize),
		broadcaster: NewReportBroadcaster(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Publish records a finished report and pushes it to stream clients.
// Pass it to scheduler.WithReportHook.
func (s *Server) Publish(r *pipeline.Report) {
	summary := s.monitor.UpdateReport(r)
	s.broadcaster.Publish(summary)
}

// Monitor returns the report monitor.
func (s *Server) Monitor() *Monitor {
	return s.monitor
}

// Handler exposes the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/status/stream", s.handleStatusStream)
	mux.HandleFunc("/api/reports/stream", s.handleReportsStream)
	mux.HandleFunc("/api/sources", s.handleSources)
	mux.HandleFunc("/api/latest", s.handleLatest)
	mux.HandleFunc("/api/history", s.handleHistory)
	mux.HandleFunc("/api/analyze", s.handleAnalyze)
	mux.HandleFunc("/api/analyze-image", s.handleAnalyzeImage)
	mux.HandleFunc("/api/models", s.handleModels)
	mux.HandleFunc("/api/classes", s.handleClasses)
	mux.HandleFunc("/api/scheduler/start", s.handleSchedulerStart)
	mux.HandleFunc("/api/scheduler/stop", s.handleSchedulerStop)
	mux.HandleFunc("/api/scheduler/interval", s.handleSchedulerInterval)
	mux.HandleFunc("/api/archive/status", s.handleArchiveStatus)
	mux.HandleFunc("/api/archive/start", s.handleArchiveStart)
	mux.HandleFunc("/api/archive/stop", s.handleArchiveStop)
	if s.metrics != nil {
		mux.Handle("/metrics", s.metrics)
	}

	return mux
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(indexHTML))
}

func (s *Server) statusPayload() map[string]any {
	monitorStats, history := s.monitor.Snapshot()
	return map[string]any{
		"monitor":   monitorStats,
		"scheduler": s.scheduler.Stats(),
		"history":   history,
		"timestamp": float64(time.Now().Unix()),
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.statusPayload())
}

func (s *Server) handleStatusStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := startSSE(w)
	if !ok {
		return
	}

	ticker := time.NewTicker(s.cfg.StatusInterval)
	defer ticker.Stop()

	for {
		if err := writeSSE(w, s.statusPayload()); err != nil {
			return
		}
		flusher.Flush()
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Server) handleReportsStream(w http.ResponseWriter, r *http.Request) {
	id, eventCh := s.broadcaster.Subscribe()
	defer s.broadcaster.Unsubscribe(id)
	streamEventsFromChannel(r.Context(), w, eventCh)
}

func (s *Server) handleSources(w http.ResponseWriter, r *http.Request) {
	sources := lo.Map(s.scheduler.Targets(), func(t pipeline.Target, _ int) SourceStatus {
		st := SourceStatus{
			SourceID: t.ID(),
			Index:    t.Index,
			Name:     t.Name,
			InFlight: s.scheduler.InFlight(t.ID()),
		}
		if latest, ok := s.monitor.Latest(t.ID()); ok {
			st.Latest = &latest
		}
		return st
	})
	writeJSON(w, map[string]any{"sources": sources})
}

func (s *Server) handleLatest(w http.ResponseWriter, r *http.Request) {
	source := r.URL.Query().Get("source")
	if source == "" {
		writeJSONWithStatus(w, map[string]any{"error": "source is required"}, http.StatusBadRequest)
		return
	}
	latest, ok := s.monitor.Latest(source)
	if !ok {
		writeJSONWithStatus(w, map[string]any{"error": "no analysis for source"}, http.StatusNotFound)
		return
	}
	writeJSON(w, latest)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	source := r.URL.Query().Get("source")
	limit := s.cfg.HistorySize
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeJSONWithStatus(w, map[string]any{"error": "invalid limit"}, http.StatusBadRequest)
			return
		}
		limit = n
	}

	if s.history != nil {
		reports, err := s.history.Recent(r.Context(), source, limit)
		if err != nil {
			writeJSONWithStatus(w, map[string]any{"error": err.Error()}, http.StatusInternalServerError)
			return
		}
		writeJSON(w, map[string]any{"history": lo.Map(reports, func(rep *pipeline.Report, _ int) ReportSummary {
			return summarize(rep)
		})})
		return
	}

	_, history := s.monitor.Snapshot()
	if source != "" {
		history = lo.Filter(history, func(h ReportSummary, _ int) bool { return h.SourceID == source })
	}
	if len(history) > limit {
		history = history[:limit]
	}
	writeJSON(w, map[string]any{"history": history})
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	source := r.URL.Query().Get("source")
	if source == "" {
		writeJSONWithStatus(w, map[string]any{"error": "source is required"}, http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.ForceTimeout)
	defer cancel()

	report, err := s.scheduler.Force(ctx, source)
	switch {
	case errors.Is(err, scheduler.ErrUnknownSource):
		writeJSONWithStatus(w, map[string]any{"error": err.Error()}, http.StatusNotFound)
		return
	case errors.Is(err, scheduler.ErrCycleInProgress):
		writeJSONWithStatus(w, map[string]any{"error": err.Error()}, http.StatusConflict)
		return
	case err != nil:
		writeJSONWithStatus(w, map[string]any{"error": err.Error()}, http.StatusBadGateway)
		return
	}
	writeJSON(w, report)
}

func (s *Server) handleSchedulerStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := s.scheduler.Start(); err != nil {
		writeJSONWithStatus(w, map[string]any{"error": err.Error()}, http.StatusBadRequest)
		return
	}
	writeJSON(w, map[string]any{"status": "running", "stats": s.scheduler.Stats()})
}

func (s *Server) handleSchedulerStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := s.scheduler.Stop(); err != nil {
		writeJSONWithStatus(w, map[string]any{"error": err.Error()}, http.StatusBadRequest)
		return
	}
	writeJSON(w, map[string]any{"status": "stopped", "stats": s.scheduler.Stats()})
}

func (s *Server) handleSchedulerInterval(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	seconds, err := strconv.Atoi(r.URL.Query().Get("seconds"))
	if err != nil {
		writeJSONWithStatus(w, map[string]any{"error": "seconds must be an integer"}, http.StatusBadRequest)
		return
	}
	applied, err := s.scheduler.SetInterval(time.Duration(seconds) * time.Second)
	if err != nil {
		writeJSONWithStatus(w, map[string]any{"error": err.Error()}, http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]any{"interval_seconds": int(applied.Seconds())})
}

func (s *Server) handleArchiveStatus(w http.ResponseWriter, r *http.Request) {
	if s.archive == nil {
		writeJSONWithStatus(w, map[string]any{"error": "archive is not configured"}, http.StatusNotFound)
		return
	}
	writeJSON(w, s.archive.Status())
}

func (s *Server) handleArchiveStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.archive == nil {
		writeJSONWithStatus(w, map[string]any{"error": "archive is not configured"}, http.StatusNotFound)
		return
	}
	if err := s.archive.Start(); err != nil {
		writeJSONWithStatus(w, map[string]any{"error": err.Error()}, http.StatusBadRequest)
		return
	}
	writeJSON(w, s.archive.Status())
}

func (s *Server) handleArchiveStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.archive == nil {
		writeJSONWithStatus(w, map[string]any{"error": "archive is not configured"}, http.StatusNotFound)
		return
	}
	if err := s.archive.Stop(); err != nil {
		writeJSONWithStatus(w, map[string]any{"error": err.Error()}, http.StatusBadRequest)
		return
	}
	writeJSON(w, s.archive.Status())
}

func writeJSON(w http.ResponseWriter, payload any) {
	writeJSONWithStatus(w, payload, http.StatusOK)
}

func writeJSONWithStatus(w http.ResponseWriter, payload any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		_, _ = fmt.Fprintf(w, `{"error":"%s"}`, err.Error())
	}
}

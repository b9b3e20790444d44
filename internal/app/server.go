package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/thushan/perch/internal/adapter/metrics"
	"github.com/thushan/perch/internal/config"
	"github.com/thushan/perch/internal/core/domain"
	"github.com/thushan/perch/internal/core/ports"
	"github.com/thushan/perch/internal/logger"
)

// Server is the operator-facing control plane. It exposes lifecycle
// verbs, manual scrape requests, status and a small live-config surface
// over plain JSON. The stdlib mux is deliberate: six routes and no
// middleware do not justify a router dependency; everything heavier
// (metrics, websockets) lives on its own listener.
type Server struct {
	cfg    config.ServerConfig
	engine *Engine
	logger *logger.StyledLogger
	server *http.Server
}

func NewServer(cfg config.ServerConfig, engine *Engine, log *logger.StyledLogger) *Server {
	return &Server{
		cfg:    cfg,
		engine: engine,
		logger: log,
	}
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("POST /scrape/{id}", s.handleScrapeNow)
	mux.HandleFunc("POST /start", s.handleStart)
	mux.HandleFunc("POST /pause", s.handlePause)
	mux.HandleFunc("POST /resume", s.handleResume)
	mux.HandleFunc("POST /stop", s.handleStop)
	mux.HandleFunc("GET /config", s.handleGetConfig)
	mux.HandleFunc("PUT /config", s.handlePutConfig)
	mux.HandleFunc("GET /samples", s.handleSamples)
	mux.HandleFunc("GET /analysis", s.handleAnalysis)
	return mux
}

func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         s.cfg.GetAddress(),
		Handler:      s.routes(),
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		IdleTimeout:  s.cfg.IdleTimeout,
	}

	go func() {
		s.logger.Info("Control plane listening", "address", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Control plane listener failed", "error", err)
		}
	}()
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Status())
}

func (s *Server) handleScrapeNow(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	outcome, err := s.engine.ScrapeNow(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	status := http.StatusAccepted
	if outcome == ports.PrioritizeRunning {
		status = http.StatusOK
	}
	writeJSON(w, status, map[string]string{"status": string(outcome)})
}

// handleStart is idempotent: the engine is already running when this
// listener answers, so a second start just reports the state
func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Start(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "running"})
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	s.engine.Pause()
	writeJSON(w, http.StatusOK, map[string]string{"status": "paused"})
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	s.engine.Resume()
	writeJSON(w, http.StatusOK, map[string]string{"status": "running"})
}

// handleStop acknowledges first, then asks the process to shut down;
// the engine's Stop path closes this listener
func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	s.engine.mu.Lock()
	shutdown := s.engine.requestShutdown
	s.engine.mu.Unlock()

	if shutdown == nil {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "shutdown not wired"})
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "stopping"})
	go shutdown()
}

// configView is the sanitised live-config surface; proxy credentials
// and file paths stay out of it
type configView struct {
	LogLevel    string `json:"logLevel"`
	MaxWorkers  int    `json:"maxWorkers"`
	MaxBrowsers int    `json:"maxBrowsers"`
	BaseURL     string `json:"baseUrl"`
	Paused      bool   `json:"paused"`
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	s.engine.mu.Lock()
	view := configView{
		LogLevel:    s.engine.cfg.Logging.Level,
		MaxWorkers:  s.engine.cfg.Engine.MaxWorkers,
		MaxBrowsers: s.engine.cfg.Browser.MaxBrowsers,
		BaseURL:     s.engine.cfg.Fetcher.BaseURL,
		Paused:      s.engine.paused,
	}
	s.engine.mu.Unlock()
	writeJSON(w, http.StatusOK, view)
}

// handlePutConfig applies the subset of configuration that is safe to
// change live. Only the log level today; worker count is fixed at start.
func (s *Server) handlePutConfig(w http.ResponseWriter, r *http.Request) {
	var req struct {
		LogLevel string `json:"logLevel"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed body"})
		return
	}

	if req.LogLevel == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "no applicable fields"})
		return
	}

	level := strings.ToLower(req.LogLevel)
	switch level {
	case logger.LogLevelDebug, logger.LogLevelInfo, logger.LogLevelWarn, logger.LogLevelWarning, logger.LogLevelError:
	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": fmt.Sprintf("unknown log level %q", req.LogLevel),
		})
		return
	}

	logger.SetLevel(level)
	s.engine.mu.Lock()
	s.engine.cfg.Logging.Level = level
	s.engine.mu.Unlock()

	s.logger.Info("Log level changed", "level", level)
	writeJSON(w, http.StatusOK, map[string]string{"logLevel": level})
}

// handleSamples serves raw samples narrowed to requested metric paths:
// GET /samples?account=a&fields=followers,engagement.avgLikes&from=RFC3339&to=RFC3339&limit=50
// Without an account it returns each account's newest sample instead.
func (s *Server) handleSamples(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var fields []string
	if raw := q.Get("fields"); raw != "" {
		fields = strings.Split(raw, ",")
	}

	limit := 0
	if raw := q.Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed limit"})
			return
		}
		limit = parsed
	}

	var from, to time.Time
	if raw := q.Get("from"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed from timestamp"})
			return
		}
		from = parsed
	}
	if raw := q.Get("to"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed to timestamp"})
			return
		}
		to = parsed
	}

	var (
		samples []*domain.Sample
		err     error
	)
	if account := q.Get("account"); account != "" {
		samples, err = s.engine.samples.Range(r.Context(), account, from, to, limit)
	} else {
		samples, err = s.engine.samples.Latest(r.Context(), limit)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, metrics.ProjectAll(samples, fields))
}

// handleAnalysis serves grouped sample analysis:
// GET /analysis?kind=growth&accounts=a,b&from=RFC3339&to=RFC3339&groupBy=day
func (s *Server) handleAnalysis(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	req := metrics.AnalysisRequest{
		Kind:    metrics.AnalysisKind(q.Get("kind")),
		GroupBy: metrics.Granularity(q.Get("groupBy")),
	}
	if accounts := q.Get("accounts"); accounts != "" {
		req.AccountIDs = strings.Split(accounts, ",")
	}
	if raw := q.Get("from"); raw != "" {
		from, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed from timestamp"})
			return
		}
		req.From = from
	}
	if raw := q.Get("to"); raw != "" {
		to, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed to timestamp"})
			return
		}
		req.To = to
	}

	result, err := s.engine.Analyzer().Analyze(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, err error) {
	var notFound *domain.NotFoundError
	var validation *domain.ValidationError
	var conflict *domain.ConflictError

	status := http.StatusInternalServerError
	switch {
	case errors.As(err, &notFound):
		status = http.StatusNotFound
	case errors.As(err, &validation):
		status = http.StatusBadRequest
	case errors.As(err, &conflict):
		status = http.StatusConflict
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

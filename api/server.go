// Package api provides the HTTP surface for edgarsync.
//
// It exposes endpoints to trigger ingestion, list stored filings, inspect
// sensitive settings, and stream ingestion events over WebSocket. Every /api/v1
// route is guarded by the per-caller token bucket.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/seenimoa/edgarsync/internal/config"
	"github.com/seenimoa/edgarsync/internal/filings"
	"github.com/seenimoa/edgarsync/internal/ingest"
	"github.com/seenimoa/edgarsync/internal/ratelimit"
	"github.com/seenimoa/edgarsync/internal/store"
	"github.com/seenimoa/edgarsync/pkg/models"
)

// Version is reported by /health. Set at build time.
var Version = "dev"

// Ingester runs ingestion flows.
type Ingester interface {
	IngestCompany(ctx context.Context, ticker string, f filings.Filter) ingest.CompanyResult
	IngestBatch(ctx context.Context, targets []ingest.Target, f filings.Filter) ingest.BatchResult
}

// FilingReader serves read-only filing listings.
type FilingReader interface {
	CompanyByTicker(ctx context.Context, ticker string) (models.Company, error)
	FilingsForCompany(ctx context.Context, companyID uint, limit int) ([]models.Filing, error)
	Ping(ctx context.Context) error
}

// Deps are the collaborators the server needs. Limiter may be nil to
// disable inbound rate limiting. Forwarded client addresses are honored
// only from Proxies; a nil Proxies keys every caller on its socket peer.
type Deps struct {
	Ingester Ingester
	Filings  FilingReader
	Limiter  *ratelimit.TokenBucket
	Proxies  *ratelimit.Proxies
	Hub      *WSHub
	Targets  []ingest.Target // default batch when a request names none
	Filter   filings.Filter  // default filter when a request names none
}

// Server is the HTTP API server.
type Server struct {
	router  chi.Router
	cfg     *config.Config
	deps    Deps
	wsHub   *WSHub
	baseCtx context.Context
	cancel  context.CancelFunc
	jobs    sync.WaitGroup
	logger  *slog.Logger
}

// NewServer creates a configured API server with all routes and middleware.
func NewServer(cfg *config.Config, deps Deps) *Server {
	if deps.Hub == nil {
		deps.Hub = NewWSHub()
	}
	ctx, cancel := context.WithCancel(context.Background())
	srv := &Server{
		cfg:     cfg,
		deps:    deps,
		wsHub:   deps.Hub,
		baseCtx: ctx,
		cancel:  cancel,
		logger:  slog.Default().With("component", "api"),
	}
	srv.router = srv.buildRouter()
	return srv
}

// Router returns the chi router for testing.
func (s *Server) Router() chi.Router {
	return s.router
}

// ListenAndServe starts the HTTP server with graceful shutdown.
func (s *Server) ListenAndServe(addr string) error {
	httpSrv := &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 15 * time.Minute, // synchronous ingestion can run through flow retries
		IdleTimeout:  60 * time.Second,
	}

	go s.wsHub.Run()

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", "addr", addr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return err
	case <-done:
	}
	s.logger.Info("shutting down server")
	s.cancel()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(ctx); err != nil {
		return err
	}
	if err := s.drain(ctx); err != nil {
		s.logger.Warn("background ingestion still running at exit", "err", err)
		return err
	}
	return nil
}

// background runs fn on the server context and tracks it until drain.
func (s *Server) background(fn func(ctx context.Context)) {
	s.jobs.Add(1)
	go func() {
		defer s.jobs.Done()
		fn(s.baseCtx)
	}()
}

// drain waits for background ingestion to finish or ctx to expire.
func (s *Server) drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.jobs.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// buildRouter configures all routes and middleware.
func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	origins := []string{"*"}
	if len(s.cfg.API.CORSOrigins) > 0 {
		origins = s.cfg.API.CORSOrigins
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-ID", ratelimit.APIKeyHeader},
		ExposedHeaders: []string{"X-Request-ID", "X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)

	r.Route("/api/v1", func(r chi.Router) {
		if s.deps.Limiter != nil {
			r.Use(ratelimit.Middleware(s.deps.Limiter, s.deps.Proxies))
		}

		r.Get("/health", s.handleHealth)

		// Ingestion
		r.Post("/ingest/{ticker}", s.handleIngestCompany)
		r.Post("/ingest", s.handleIngestBatch)

		// Stored filings
		r.Get("/companies/{ticker}/filings", s.handleListFilings)

		// Configuration
		r.Get("/config/keys", s.handleGetConfigKeys)

		// Ingestion events
		r.Get("/ws", s.handleWebSocket)
	})

	return r
}

// ============================================================
// Request / Response types
// ============================================================

// APIResponse is the standard JSON envelope.
type APIResponse struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// IngestRequest is the optional body for POST /api/v1/ingest/{ticker}.
type IngestRequest struct {
	Forms     []string `json:"forms,omitempty"`
	StartDate string   `json:"start_date,omitempty"` // YYYY-MM-DD
	Async     bool     `json:"async,omitempty"`
}

// BatchRequest is the optional body for POST /api/v1/ingest.
type BatchRequest struct {
	IngestRequest
	Tickers []string `json:"tickers,omitempty"`
}

// ============================================================
// Handlers
// ============================================================

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	code, status, storeState := http.StatusOK, "ok", "ok"
	if err := s.deps.Filings.Ping(ctx); err != nil {
		s.logger.Warn("health check: store unavailable", "err", err)
		code, status, storeState = http.StatusServiceUnavailable, "degraded", "unavailable"
	}
	writeJSON(w, code, APIResponse{
		Success: code == http.StatusOK,
		Data: map[string]any{
			"status":     status,
			"store":      storeState,
			"version":    Version,
			"ws_clients": s.wsHub.ClientCount(),
			"time":       time.Now().UTC().Format(time.RFC3339),
		},
	})
}

func (s *Server) handleIngestCompany(w http.ResponseWriter, r *http.Request) {
	ticker := models.NormalizeTicker(chi.URLParam(r, "ticker"))
	if ticker == "" {
		writeError(w, http.StatusBadRequest, "ticker is required")
		return
	}
	var req IngestRequest
	if !decodeOptional(w, r, &req) {
		return
	}
	f, ok := s.filter(w, req)
	if !ok {
		return
	}

	if req.Async {
		s.background(func(ctx context.Context) { s.deps.Ingester.IngestCompany(ctx, ticker, f) })
		writeJSON(w, http.StatusAccepted, APIResponse{
			Success: true,
			Data:    map[string]string{"ticker": ticker, "status": "accepted"},
		})
		return
	}

	res := s.deps.Ingester.IngestCompany(r.Context(), ticker, f)
	status := http.StatusOK
	if res.Status == ingest.StatusUnresolved {
		status = http.StatusNotFound
	} else if res.Status == ingest.StatusError {
		status = http.StatusBadGateway
	}
	writeJSON(w, status, APIResponse{Success: status == http.StatusOK, Data: res, Error: res.Error})
}

func (s *Server) handleIngestBatch(w http.ResponseWriter, r *http.Request) {
	var req BatchRequest
	if !decodeOptional(w, r, &req) {
		return
	}
	f, ok := s.filter(w, req.IngestRequest)
	if !ok {
		return
	}

	targets := s.deps.Targets
	if len(req.Tickers) > 0 {
		targets = make([]ingest.Target, 0, len(req.Tickers))
		for _, t := range req.Tickers {
			if t = models.NormalizeTicker(t); t != "" {
				targets = append(targets, ingest.Target{Ticker: t})
			}
		}
	}
	if len(targets) == 0 {
		writeError(w, http.StatusBadRequest, "no tickers given and no tracked companies configured")
		return
	}

	if req.Async {
		s.background(func(ctx context.Context) { s.deps.Ingester.IngestBatch(ctx, targets, f) })
		writeJSON(w, http.StatusAccepted, APIResponse{
			Success: true,
			Data:    map[string]any{"companies": len(targets), "status": "accepted"},
		})
		return
	}

	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: s.deps.Ingester.IngestBatch(r.Context(), targets, f)})
}

func (s *Server) handleListFilings(w http.ResponseWriter, r *http.Request) {
	ticker := models.NormalizeTicker(chi.URLParam(r, "ticker"))
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	c, err := s.deps.Filings.CompanyByTicker(r.Context(), ticker)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "company not found: "+ticker)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	list, err := s.deps.Filings.FilingsForCompany(r.Context(), c.ID, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, APIResponse{
		Success: true,
		Data:    map[string]any{"company": c, "filings": list},
	})
}

// ============================================================
// Helpers
// ============================================================

// filter merges request overrides onto the server default.
func (s *Server) filter(w http.ResponseWriter, req IngestRequest) (filings.Filter, bool) {
	f := s.deps.Filter
	if len(req.Forms) == 0 && req.StartDate == "" {
		return f, true
	}
	nf, err := filings.NewFilter(req.Forms, req.StartDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return filings.Filter{}, false
	}
	if len(nf.Forms) == 0 {
		nf.Forms = f.Forms
	}
	if req.StartDate == "" {
		nf.StartDate = f.StartDate
	}
	return nf, true
}

// decodeOptional decodes a JSON body if one was sent.
func decodeOptional(w http.ResponseWriter, r *http.Request, v any) bool {
	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil || errors.Is(err, io.EOF) {
		return true
	}
	writeError(w, http.StatusBadRequest, "invalid request body")
	return false
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to write JSON response", "component", "api", "err", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, APIResponse{
		Success: false,
		Error:   msg,
	})
}

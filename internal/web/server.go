package web

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/vbonduro/tileconsole/internal/service"
)

const shutdownTimeout = 2 * time.Minute

type Server struct {
	service *service.ConsoleService
	mux     *http.ServeMux
	logger  *slog.Logger
}

func NewServer(svc *service.ConsoleService, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		service: svc,
		mux:     http.NewServeMux(),
		logger:  logger,
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, service.ListingPath, http.StatusSeeOther)
	})

	s.mux.HandleFunc("POST /forms", s.handleOpenForm)
	s.mux.HandleFunc("GET /forms/{id}", s.handleGetForm)
	s.mux.HandleFunc("PATCH /forms/{id}", s.handlePatchForm)
	s.mux.HandleFunc("PUT /forms/{id}/faces/{n}", s.handlePutFace)
	s.mux.HandleFunc("DELETE /forms/{id}/faces/{n}", s.handleRemoveFace)
	s.mux.HandleFunc("POST /forms/{id}/validate", s.handleValidateForm)
	s.mux.HandleFunc("POST /forms/{id}/submit", s.handleSubmitForm)
	s.mux.HandleFunc("DELETE /forms/{id}", s.handleCancelForm)

	s.mux.HandleFunc("GET /tiles", s.handleListTiles)
	s.mux.HandleFunc("GET /tiles/{sku}", s.handleTileDetail)
	s.mux.HandleFunc("PUT /tiles/{id}", s.handleEditTile)
	s.mux.HandleFunc("POST /tiles/{id}/block", s.handleBlockTile)

	s.mux.HandleFunc("POST /imports/spreadsheet", s.handleImportSpreadsheet)
	s.mux.HandleFunc("POST /imports/folder", s.handleImportFolder)

	s.mux.HandleFunc("GET /exports/tiles", s.handleExportTiles)
	s.mux.HandleFunc("GET /downloads/{key}", s.handleDownload)

	s.mux.HandleFunc("GET /runs", s.handleListRuns)
	s.mux.HandleFunc("GET /runs/{id}", s.handleGetRun)
}

// securityHeaders adds defensive HTTP response headers to every response.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		h.Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
		next.ServeHTTP(w, r)
	})
}

// statusRecorder wraps http.ResponseWriter to capture the written status code.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func requestLogger(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestLogger(s.logger, securityHeaders(s.mux)).ServeHTTP(w, r)
}

// ListenAndServe serves until ctx is done, then drains in-flight requests.
// Submissions past their create stage finish before the server stops.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	s.logger.Info("starting server", "addr", addr)
	srv := &http.Server{
		Addr:         addr,
		Handler:      s,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	s.logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down server: %w", err)
	}
	return nil
}

// writeJSON encodes v as the response body with the given status.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("write response failed", "error", err)
	}
}

type errorBody struct {
	Error  string            `json:"error"`
	Code   string            `json:"code,omitempty"`
	Fields map[string]string `json:"fields,omitempty"`
	Detail any               `json:"detail,omitempty"`
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, errorBody{Error: msg})
}

// Package api exposes the HTTP interface for the bookmark service.
package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/emee-dev/pandamark/internal/bookmark"
	"github.com/emee-dev/pandamark/internal/config"
	"github.com/emee-dev/pandamark/internal/dispatcher"
	"github.com/emee-dev/pandamark/internal/ingest"
	"github.com/emee-dev/pandamark/internal/metrics"
)

// Server wires HTTP handlers to the ingestion pipeline and stores.
type Server struct {
	router     chi.Router
	orch       *ingest.Orchestrator
	records    bookmark.RecordStore
	tags       bookmark.TagRegistry
	gists      bookmark.GistStore
	indexer    bookmark.Indexer
	dispatcher *dispatcher.Dispatcher
	idGen      bookmark.IDGenerator
	clock      bookmark.Clock
	cfg        config.Config
	logger     *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	orch *ingest.Orchestrator,
	records bookmark.RecordStore,
	tags bookmark.TagRegistry,
	gists bookmark.GistStore,
	indexer bookmark.Indexer,
	dispatch *dispatcher.Dispatcher,
	idGen bookmark.IDGenerator,
	clock bookmark.Clock,
	cfg config.Config,
	logger *zap.Logger,
) *Server {
	s := &Server{
		orch:       orch,
		records:    records,
		tags:       tags,
		gists:      gists,
		indexer:    indexer,
		dispatcher: dispatch,
		idGen:      idGen,
		clock:      clock,
		cfg:        cfg,
		logger:     logger,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(cfg.ServerTimeout()))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Post("/webhook/twitter", s.handleWebhook)

	r.Route("/v1", func(r chi.Router) {
		if cfg.Auth.Enabled {
			r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
		}
		r.Route("/bookmarks", func(r chi.Router) {
			r.Get("/", s.listBookmarks)
			r.Route("/{bookmark_id}", func(r chi.Router) {
				r.Get("/", s.getBookmark)
				r.Post("/enrich", s.reEnrich)
			})
		})
		r.Route("/tags", func(r chi.Router) {
			r.Post("/", s.addTag)
			r.Route("/{handle}", func(r chi.Router) {
				r.Get("/", s.getTag)
				r.Delete("/", s.removeTag)
			})
		})
		r.Route("/gists", func(r chi.Router) {
			r.Post("/", s.createGist)
			r.Get("/", s.listGists)
			r.Delete("/{gist_id}", s.deleteGist)
		})
		r.Post("/search", s.search)
		r.Post("/ask", s.ask)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	// In-memory dependencies are always ready; the stores surface their own
	// errors per request.
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// handleWebhook receives tweet batches from the upstream monitoring API.
// The response shape matches what that API expects: a wrong key gets a
// plain Forbidden message and any processing problem a generic 500, so
// upstream retry behavior stays predictable.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Auth.Enabled && r.Header.Get("X-API-Key") != s.cfg.Auth.APIKey {
		writeMessage(w, http.StatusForbidden, "Forbidden")
		return
	}

	var batch ingest.WebhookBatch
	if err := json.NewDecoder(r.Body).Decode(&batch); err != nil {
		s.logger.Warn("Webhook body decode failed", zap.Error(err))
		writeMessage(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	result := s.orch.Process(r.Context(), batch)
	s.logger.Info("Webhook batch processed",
		zap.Int("accepted", result.Accepted),
		zap.Int("untagged", result.Untagged),
		zap.Int("unauthorized", result.Unauthorized),
		zap.Int("duplicates", result.Duplicates),
		zap.Int("failures", result.Failures),
	)
	writeMessage(w, http.StatusOK, "ok")
}

func (s *Server) listBookmarks(w http.ResponseWriter, r *http.Request) {
	handle := r.URL.Query().Get("handle")
	if handle == "" {
		writeError(w, http.StatusBadRequest, "handle is required")
		return
	}
	day, err := parseDay(r.URL.Query().Get("date"), s.clock)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	records, err := s.records.ListBookmarksByDay(r.Context(), handle, day)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list bookmarks")
		return
	}
	if records == nil {
		records = []bookmark.Bookmark{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"bookmarks": records})
}

func (s *Server) getBookmark(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "bookmark_id")
	record, err := s.records.GetBookmark(r.Context(), id)
	if err != nil {
		if errors.Is(err, bookmark.ErrNotFound) {
			writeError(w, http.StatusNotFound, "bookmark not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to fetch bookmark")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"bookmark": record})
}

// reEnrich requeues a bookmark whose enrichment failed or produced partial
// results. The record is reset to pending; fields that already succeeded
// are left in place and the worker will not overwrite them.
func (s *Server) reEnrich(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "bookmark_id")
	record, err := s.records.GetBookmark(r.Context(), id)
	if err != nil {
		if errors.Is(err, bookmark.ErrNotFound) {
			writeError(w, http.StatusNotFound, "bookmark not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to fetch bookmark")
		return
	}
	if record.Status == bookmark.StatusEnriched && record.Summary != "" && record.ScreenshotRef != "" {
		writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": string(record.Status)})
		return
	}

	if err := s.records.SetStatus(r.Context(), id, bookmark.StatusPending, "", s.clock.Now()); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to reset bookmark status")
		return
	}
	job := bookmark.EnrichmentJob{
		BookmarkID:   record.ID,
		TweetID:      record.Tweet.ExternalID,
		Handle:       record.Author.Handle,
		ScrapeURL:    record.MirrorURL,
		SourceURL:    record.Tweet.CanonicalURL,
		OriginalText: record.Tweet.Text,
		Attempt:      1,
		Submitted:    s.clock.Now().Unix(),
	}
	queueCtx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	if err := s.dispatcher.Enqueue(queueCtx, job); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to queue enrichment")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"id": id, "status": string(bookmark.StatusPending)})
}

type tagRequest struct {
	Handle string `json:"handle"`
}

// addTag registers a handle with the admission gate. Only tweets authored
// by a registered handle are bookmarked.
func (s *Server) addTag(w http.ResponseWriter, r *http.Request) {
	var req tagRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Handle == "" {
		writeError(w, http.StatusBadRequest, "handle is required")
		return
	}
	if err := s.tags.AddTag(r.Context(), req.Handle); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to register handle")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"handle": req.Handle, "monitored": true})
}

func (s *Server) getTag(w http.ResponseWriter, r *http.Request) {
	handle := chi.URLParam(r, "handle")
	monitored, err := s.tags.IsMonitored(r.Context(), handle)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to check handle")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"handle": handle, "monitored": monitored})
}

func (s *Server) removeTag(w http.ResponseWriter, r *http.Request) {
	handle := chi.URLParam(r, "handle")
	if err := s.tags.RemoveTag(r.Context(), handle); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to remove handle")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"handle": handle, "monitored": false})
}

type gistRequest struct {
	Handle      string   `json:"handle"`
	Label       string   `json:"label"`
	Description string   `json:"description"`
	Recipients  []string `json:"recipients"`
}

func (s *Server) createGist(w http.ResponseWriter, r *http.Request) {
	var req gistRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Handle == "" || req.Label == "" {
		writeError(w, http.StatusBadRequest, "handle and label are required")
		return
	}
	id, err := s.idGen.NewID()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to generate id")
		return
	}
	gist := bookmark.Gist{
		ID:          id,
		Handle:      req.Handle,
		Label:       req.Label,
		Description: req.Description,
		Recipients:  req.Recipients,
		CreatedAt:   s.clock.Now(),
	}
	if err := s.gists.CreateGist(r.Context(), gist); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create gist")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"gist": gist})
}

func (s *Server) listGists(w http.ResponseWriter, r *http.Request) {
	handle := r.URL.Query().Get("handle")
	if handle == "" {
		writeError(w, http.StatusBadRequest, "handle is required")
		return
	}
	day, err := parseDay(r.URL.Query().Get("date"), s.clock)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	gists, err := s.gists.ListGistsByDay(r.Context(), handle, day)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list gists")
		return
	}
	if gists == nil {
		gists = []bookmark.Gist{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"gists": gists})
}

func (s *Server) deleteGist(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "gist_id")
	if err := s.gists.DeleteGist(r.Context(), id); err != nil {
		if errors.Is(err, bookmark.ErrNotFound) {
			writeError(w, http.StatusNotFound, "gist not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to delete gist")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": "deleted"})
}

type searchRequest struct {
	Handle         string  `json:"handle"`
	Query          string  `json:"query"`
	Limit          int     `json:"limit"`
	ScoreThreshold float64 `json:"score_threshold"`
}

func (s *Server) search(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeSearchRequest(w, r)
	if !ok {
		return
	}
	resp, err := s.indexer.Search(r.Context(), req)
	if err != nil {
		writeError(w, http.StatusBadGateway, "search service unavailable")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) ask(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeSearchRequest(w, r)
	if !ok {
		return
	}
	resp, err := s.indexer.Answer(r.Context(), req)
	if err != nil {
		writeError(w, http.StatusBadGateway, "search service unavailable")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func decodeSearchRequest(w http.ResponseWriter, r *http.Request) (bookmark.SearchRequest, bool) {
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return bookmark.SearchRequest{}, false
	}
	if req.Handle == "" || req.Query == "" {
		writeError(w, http.StatusBadRequest, "handle and query are required")
		return bookmark.SearchRequest{}, false
	}
	return bookmark.SearchRequest{
		EventType:      bookmark.EventTypeTwitterBookmark,
		Handle:         req.Handle,
		Query:          req.Query,
		Limit:          req.Limit,
		ScoreThreshold: req.ScoreThreshold,
	}, true
}

// parseDay interprets an optional YYYY-MM-DD query parameter, defaulting to
// the current UTC day.
func parseDay(raw string, clock bookmark.Clock) (time.Time, error) {
	if raw == "" {
		return clock.Now().UTC(), nil
	}
	day, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("date must be YYYY-MM-DD")
	}
	return day.UTC(), nil
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		s.logger.Info("Request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Int64("durationMs", time.Since(start).Milliseconds()),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("Panic recovered", zap.Any("panic", rec))
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

type requestIDKey struct{}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				writeError(w, http.StatusForbidden, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"message": msg})
}

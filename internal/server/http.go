package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/EmminiX/NeuroBridge-EDU-OpenSource-sub000/internal/audio"
	"github.com/EmminiX/NeuroBridge-EDU-OpenSource-sub000/internal/broadcast"
	"github.com/EmminiX/NeuroBridge-EDU-OpenSource-sub000/internal/config"
	"github.com/EmminiX/NeuroBridge-EDU-OpenSource-sub000/internal/metrics"
	"github.com/EmminiX/NeuroBridge-EDU-OpenSource-sub000/internal/session"
	"github.com/EmminiX/NeuroBridge-EDU-OpenSource-sub000/internal/store"
	"github.com/EmminiX/NeuroBridge-EDU-OpenSource-sub000/internal/summary"
)

// HTTPServer provides the HTTP API for sessions and monitoring
type HTTPServer struct {
	server      *http.Server
	logger      *slog.Logger
	config      *config.Config
	manager     *session.Manager
	broadcaster *broadcast.Broadcaster
	archive     *store.Store
	summarizer  summary.Summarizer
	metrics     *metrics.Metrics

	startTime time.Time
}

// NewHTTPServer creates the HTTP API server with all routes configured
func NewHTTPServer(cfg *config.Config, logger *slog.Logger, manager *session.Manager,
	b *broadcast.Broadcaster, archive *store.Store, summarizer summary.Summarizer, m *metrics.Metrics) *HTTPServer {

	h := &HTTPServer{
		logger:      logger,
		config:      cfg,
		manager:     manager,
		broadcaster: b,
		archive:     archive,
		summarizer:  summarizer,
		metrics:     m,
		startTime:   time.Now(),
	}

	mux := http.NewServeMux()
	h.setupRoutes(mux)

	h.server = &http.Server{
		Addr:        cfg.HTTP.Addr(),
		Handler:     mux,
		ReadTimeout: cfg.HTTP.GetReadTimeout(),
		// WriteTimeout stays zero so SSE streams are not cut off
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	return h
}

// setupRoutes configures HTTP API routes
func (h *HTTPServer) setupRoutes(mux *http.ServeMux) {
	// Session lifecycle
	mux.HandleFunc("POST /api/sessions", h.withMetrics("/api/sessions", h.handleCreateSession))
	mux.HandleFunc("POST /api/sessions/{id}/chunks", h.withMetrics("/api/sessions/{id}/chunks", h.handleSubmitChunk))
	mux.HandleFunc("POST /api/sessions/{id}/end", h.withMetrics("/api/sessions/{id}/end", h.handleEndSession))

	// Live event stream and transcript access
	mux.HandleFunc("GET /api/sessions/{id}/events", h.withMetrics("/api/sessions/{id}/events", h.handleEvents))
	mux.HandleFunc("GET /api/sessions/{id}/transcript", h.withMetrics("/api/sessions/{id}/transcript", h.handleTranscript))
	mux.HandleFunc("POST /api/sessions/{id}/summary", h.withMetrics("/api/sessions/{id}/summary", h.handleSummarize))

	// Monitoring endpoints
	mux.HandleFunc("GET /health", h.withMetrics("/health", h.handleHealth))
	mux.HandleFunc("GET /sessions", h.withMetrics("/sessions", h.handleSessions))
	mux.HandleFunc("GET /stats", h.withMetrics("/stats", h.handleStats))
	mux.HandleFunc("GET /config", h.withMetrics("/config", h.handleConfig))

	// Prometheus metrics endpoint (no metrics needed for metrics endpoint)
	mux.Handle("GET /metrics", promhttp.Handler())

	// Root endpoint with API documentation
	mux.HandleFunc("/", h.withMetrics("/", h.handleRoot))
}

// withMetrics wraps an HTTP handler with metrics collection
func (h *HTTPServer) withMetrics(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		ww := &responseWriter{ResponseWriter: w, statusCode: 200}
		handler(ww, r)

		duration := time.Since(startTime).Seconds()
		statusCode := fmt.Sprintf("%d", ww.statusCode)
		h.metrics.RecordHTTPRequest(r.Method, endpoint, statusCode, duration)

		if ww.statusCode >= 400 {
			errorType := "client_error"
			if ww.statusCode >= 500 {
				errorType = "server_error"
			}
			h.metrics.RecordHTTPError(r.Method, endpoint, errorType)
		}
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Flush passes through so SSE handlers can stream behind the wrapper.
func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Start starts the HTTP server
func (h *HTTPServer) Start() error {
	h.logger.Info("Starting HTTP API server",
		slog.String("address", h.server.Addr),
	)

	go func() {
		if err := h.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			h.logger.Error("HTTP server error", slog.String("error", err.Error()))
		}
	}()

	return nil
}

// Stop gracefully stops the HTTP server
func (h *HTTPServer) Stop(ctx context.Context) error {
	h.logger.Info("Stopping HTTP API server...")

	return h.server.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// sessionStatus maps domain errors to HTTP status codes.
func sessionStatus(err error) int {
	switch {
	case errors.Is(err, session.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, session.ErrDuplicateSession):
		return http.StatusConflict
	case errors.Is(err, session.ErrSessionEnded):
		return http.StatusConflict
	case errors.Is(err, session.ErrManagerStopped):
		return http.StatusServiceUnavailable
	case errors.Is(err, audio.ErrMalformedChunk):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

type createSessionRequest struct {
	SessionID  string `json:"session_id"`
	SampleRate int    `json:"sample_rate"`
}

// handleCreateSession implements POST /api/sessions
func (h *HTTPServer) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}
	if req.SampleRate != 0 && (req.SampleRate < 8000 || req.SampleRate > 48000) {
		writeError(w, http.StatusBadRequest, "sample_rate must be between 8000 and 48000")
		return
	}

	s, err := h.manager.Create(req.SessionID, req.SampleRate)
	if err != nil {
		writeError(w, sessionStatus(err), err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"session_id":  s.ID(),
		"state":       s.State(),
		"sample_rate": s.SampleRate(),
		"created_at":  s.CreatedAt().UTC(),
	})
}

// handleSubmitChunk implements POST /api/sessions/{id}/chunks. The body is
// raw little-endian PCM-16 audio.
func (h *HTTPServer) handleSubmitChunk(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, int64(h.config.HTTP.MaxChunkBytes)))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "chunk too large")
		return
	}
	if len(raw) == 0 {
		writeError(w, http.StatusBadRequest, "empty chunk")
		return
	}

	if err := h.manager.SubmitChunk(id, raw); err != nil {
		writeError(w, sessionStatus(err), err.Error())
		return
	}

	s, err := h.manager.Get(id)
	if err != nil {
		writeError(w, sessionStatus(err), err.Error())
		return
	}
	stats := s.GetStats()
	writeJSON(w, http.StatusAccepted, map[string]any{
		"session_id":    id,
		"chunk_count":   stats.ChunkCount,
		"last_sequence": stats.LastSequence,
	})
}

// handleEndSession implements POST /api/sessions/{id}/end. Ending an
// already archived session is a no-op success so network retries of the
// end call stay safe after the registry lets go of the session.
func (h *HTTPServer) handleEndSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	if err := h.manager.End(id); err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			if _, archErr := h.archive.GetSession(r.Context(), id); archErr == nil {
				writeJSON(w, http.StatusOK, map[string]any{
					"session_id": id,
					"state":      session.StateEnded,
				})
				return
			}
		}
		writeError(w, sessionStatus(err), err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"session_id": id,
		"state":      session.StateEnding,
	})
}

// handleEvents implements GET /api/sessions/{id}/events as a server-sent
// event stream. Each event carries the full transcript so a reconnecting
// client needs no replay.
func (h *HTTPServer) handleEvents(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	events, cancel, err := h.broadcaster.Subscribe(r.Context(), id)
	if err != nil {
		if errors.Is(err, broadcast.ErrNoTopic) {
			writeError(w, http.StatusNotFound, "session not found or already ended")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case ev, open := <-events:
			if !open {
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data)
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

// handleTranscript implements GET /api/sessions/{id}/transcript. Live
// sessions answer from memory; ended sessions fall back to the archive.
func (h *HTTPServer) handleTranscript(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	if s, err := h.manager.Get(id); err == nil {
		stats := s.GetStats()
		writeJSON(w, http.StatusOK, map[string]any{
			"session_id": id,
			"state":      stats.State,
			"transcript": stats.Transcript,
		})
		return
	}

	rec, err := h.archive.GetSession(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "session not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id": rec.ID,
		"state":      session.StateEnded,
		"transcript": rec.Transcript,
		"summary":    rec.Summary,
		"ended_at":   rec.EndedAt.UTC(),
	})
}

// handleSummarize implements POST /api/sessions/{id}/summary. Only ended,
// archived sessions can be summarized.
func (h *HTTPServer) handleSummarize(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	if _, err := h.manager.Get(id); err == nil {
		writeError(w, http.StatusConflict, "session is still live, end it first")
		return
	}

	rec, err := h.archive.GetSession(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "session not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if rec.Summary != "" {
		writeJSON(w, http.StatusOK, map[string]any{
			"session_id": id,
			"summary":    rec.Summary,
			"cached":     true,
		})
		return
	}

	text, err := h.summarizer.Summarize(r.Context(), rec.Transcript)
	if err != nil {
		switch {
		case errors.Is(err, summary.ErrDisabled):
			writeError(w, http.StatusNotImplemented, "summarization is not configured")
		case errors.Is(err, summary.ErrEmptyTranscript):
			writeError(w, http.StatusUnprocessableEntity, "transcript is empty")
		default:
			h.logger.Error("summarization failed",
				slog.String("session_id", id),
				slog.String("error", err.Error()))
			writeError(w, http.StatusBadGateway, "summarization failed")
		}
		return
	}

	if err := h.archive.SaveSummary(r.Context(), id, text); err != nil {
		h.logger.Error("failed to persist summary",
			slog.String("session_id", id),
			slog.String("error", err.Error()))
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"session_id": id,
		"summary":    text,
		"cached":     false,
	})
}

// handleHealth implements the /health endpoint
func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	uptime := time.Since(h.startTime)
	bstats := h.broadcaster.GetStats()

	health := map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"uptime":    uptime.String(),
		"service": map[string]any{
			"name":    "neurobridge-transcription",
			"version": "1.0.0",
		},
		"components": map[string]any{
			"sessions": map[string]any{
				"status": "running",
				"active": h.manager.Count(),
			},
			"broadcast": map[string]any{
				"status":      "running",
				"topics":      bstats.Topics,
				"subscribers": bstats.Subscribers,
			},
			"archive": map[string]any{
				"enabled": h.archive.Enabled(),
			},
		},
	}

	writeJSON(w, http.StatusOK, health)
}

// handleSessions implements the /sessions monitoring endpoint
func (h *HTTPServer) handleSessions(w http.ResponseWriter, r *http.Request) {
	list := h.manager.List()

	archived, err := h.archive.ListSessions(r.Context(), 20)
	if err != nil {
		h.logger.Error("failed to list archived sessions", slog.String("error", err.Error()))
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"total_sessions": len(list),
		"timestamp":      time.Now().UTC(),
		"sessions":       list,
		"archived":       archived,
	})
}

// handleStats implements the /stats endpoint
func (h *HTTPServer) handleStats(w http.ResponseWriter, r *http.Request) {
	uptime := time.Since(h.startTime)

	stats := map[string]any{
		"uptime":    uptime.String(),
		"timestamp": time.Now().UTC(),
		"sessions": map[string]any{
			"active_count": h.manager.Count(),
		},
		"broadcast": h.broadcaster.GetStats(),
	}

	writeJSON(w, http.StatusOK, stats)
}

// handleConfig implements the /config endpoint
func (h *HTTPServer) handleConfig(w http.ResponseWriter, r *http.Request) {
	// Sanitized configuration, API keys intentionally omitted
	sanitized := map[string]any{
		"http": map[string]any{
			"host": h.config.HTTP.Host,
			"port": h.config.HTTP.Port,
		},
		"audio": map[string]any{
			"sample_rate":              h.config.Audio.SampleRate,
			"chunk_duration_seconds":   h.config.Audio.ChunkDuration,
			"overlap_duration_seconds": h.config.Audio.OverlapDuration,
		},
		"gate": map[string]any{
			"enabled":          h.config.Gate.Enabled,
			"peak_threshold":   h.config.Gate.PeakThreshold,
			"rms_threshold":    h.config.Gate.RMSThreshold,
			"min_active_ratio": h.config.Gate.MinActiveRatio,
			"always_flush":     h.config.Gate.AlwaysFlush,
		},
		"engine": map[string]any{
			"endpoint":        h.config.Engine.Endpoint,
			"language":        h.config.Engine.Language,
			"timeout_seconds": h.config.Engine.Timeout,
			"max_retries":     h.config.Engine.MaxRetries,
			"max_concurrent":  h.config.Engine.MaxConcurrent,
		},
		"session": map[string]any{
			"idle_timeout_seconds":   h.config.Session.IdleTimeout,
			"sweep_interval_seconds": h.config.Session.SweepInterval,
		},
		"logging": map[string]any{
			"level":  h.config.Logging.Level,
			"format": h.config.Logging.Format,
		},
	}

	writeJSON(w, http.StatusOK, sanitized)
}

// handleRoot implements the / endpoint with API documentation
func (h *HTTPServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	apiDoc := map[string]any{
		"service": "NeuroBridge Transcription Service",
		"version": "1.0.0",
		"endpoints": map[string]any{
			"POST /api/sessions":                 "Create a transcription session",
			"POST /api/sessions/{id}/chunks":     "Submit a raw PCM-16 audio chunk",
			"GET /api/sessions/{id}/events":      "Live transcript event stream (SSE)",
			"POST /api/sessions/{id}/end":        "End a session",
			"GET /api/sessions/{id}/transcript":  "Get the transcript (live or archived)",
			"POST /api/sessions/{id}/summary":    "Generate a summary of an ended session",
			"GET /health":                        "Service health check",
			"GET /sessions":                      "List live sessions",
			"GET /stats":                         "Service statistics",
			"GET /config":                        "Sanitized configuration",
			"GET /metrics":                       "Prometheus metrics",
		},
		"timestamp": time.Now().UTC(),
	}

	writeJSON(w, http.StatusOK, apiDoc)
}

package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bryanchriswhite/FaceRelay/internal/annotate"
	"github.com/bryanchriswhite/FaceRelay/internal/config"
	"github.com/bryanchriswhite/FaceRelay/internal/journal"
	"github.com/bryanchriswhite/FaceRelay/internal/logger"
	"github.com/bryanchriswhite/FaceRelay/internal/metrics"
	"github.com/bryanchriswhite/FaceRelay/internal/output"
	"github.com/bryanchriswhite/FaceRelay/internal/overlay"
	"github.com/bryanchriswhite/FaceRelay/internal/session"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

// Version is reported by the health endpoint
const Version = "0.1.0"

const defaultHistoryLimit = 100

// SharerControl is the capture side as seen by the API
type SharerControl interface {
	Start() error
	Stop()
	Status() session.Status
}

// MonitorControl is the receive side as seen by the API
type MonitorControl interface {
	Start(ctx context.Context, peer string) error
	Stop()
	Status() session.Status
}

// History serves annotation results that outlive a store reset
type History interface {
	Recent(limit int) ([]journal.Entry, error)
	LabelCounts() ([]annotate.LabelCount, error)
}

// Deps holds the components the server exposes. Any of them may be nil;
// the matching routes then answer 404 or 503.
type Deps struct {
	Store   *annotate.Store
	History History
	Sharer  SharerControl
	Monitor MonitorControl
	Config  *config.Manager
	Metrics *metrics.Metrics
	MJPEG   *output.MJPEGOutput
	Overlay *overlay.Manager
}

// Server represents the HTTP API server
type Server struct {
	router   *mux.Router
	deps     Deps
	upgrader websocket.Upgrader
	http     *http.Server
}

// NewServer creates a new API server
func NewServer(deps Deps) *Server {
	s := &Server{
		router: mux.NewRouter(),
		deps:   deps,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // Allow all origins for development
			},
		},
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures the API routes
func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api").Subrouter()

	// Annotations
	if s.deps.Store != nil {
		api.HandleFunc("/annotations", s.handleGetAnnotations).Methods("GET")
		api.HandleFunc("/annotations/reset", s.handleResetAnnotations).Methods("POST")
		api.HandleFunc("/annotations/labels", s.handleGetLabels).Methods("GET")
		api.HandleFunc("/annotations/stream", s.handleAnnotationStream)
	}
	api.HandleFunc("/annotations/history", s.handleGetHistory).Methods("GET")
	api.HandleFunc("/annotations/history/labels", s.handleGetHistoryLabels).Methods("GET")

	// Sessions
	api.HandleFunc("/sessions", s.handleGetSessions).Methods("GET")
	if s.deps.Sharer != nil {
		api.HandleFunc("/sharer/start", s.handleSharerStart).Methods("POST")
		api.HandleFunc("/sharer/stop", s.handleSharerStop).Methods("POST")
	}
	if s.deps.Monitor != nil {
		api.HandleFunc("/monitor/start", s.handleMonitorStart).Methods("POST")
		api.HandleFunc("/monitor/stop", s.handleMonitorStop).Methods("POST")
	}

	// Configuration
	if s.deps.Config != nil {
		api.HandleFunc("/config", s.handleGetConfig).Methods("GET")
	}

	// Overlay widgets
	if s.deps.Overlay != nil {
		api.HandleFunc("/overlay", s.handleGetOverlay).Methods("GET")
		api.HandleFunc("/overlay", s.handleSetOverlay).Methods("PUT")
		api.HandleFunc("/overlay/{id}", s.handleUpdateWidget).Methods("PUT")
	}

	// Health check
	api.HandleFunc("/health", s.handleHealth).Methods("GET")

	if s.deps.Metrics != nil {
		s.router.Handle("/metrics", s.deps.Metrics.Handler()).Methods("GET")
	}

	if s.deps.MJPEG != nil {
		s.router.HandleFunc("/stream", s.deps.MJPEG.GetHTTPHandler()).Methods("GET")
		s.router.HandleFunc("/viewer", s.deps.MJPEG.GetViewerHandler()).Methods("GET")
		s.router.HandleFunc("/stats", s.deps.MJPEG.GetStatsHandler()).Methods("GET")
	}

	s.router.PathPrefix("/").HandlerFunc(s.handleIndex)
}

// Handler returns the routed handler with CORS and request metrics applied
func (s *Server) Handler() http.Handler {
	return s.enableCORS(s.countRequests(s.router))
}

// Start serves HTTP on port until Shutdown is called
func (s *Server) Start(port int) error {
	addr := fmt.Sprintf(":%d", port)
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.WithComponent("api").Info().Msgf("Starting server on http://localhost%s", addr)
	err := s.http.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops accepting requests and waits for active ones, up to ctx
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

// enableCORS adds CORS headers
func (s *Server) enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// countRequests records every request by route template and status
func (s *Server) countRequests(next http.Handler) http.Handler {
	if s.deps.Metrics == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		path := "other"
		var match mux.RouteMatch
		if s.router.Match(r, &match) && match.Route != nil {
			if tpl, err := match.Route.GetPathTemplate(); err == nil && !strings.HasSuffix(tpl, "/") {
				path = tpl
			}
		}
		s.deps.Metrics.HTTPRequests.WithLabelValues(r.Method, path, strconv.Itoa(rec.status)).Inc()
	})
}

// statusRecorder keeps the response status while still letting the MJPEG
// stream flush and the websocket hijack the connection
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// HTTP Handlers

func (s *Server) handleGetAnnotations(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Store.Snapshot())
}

func (s *Server) handleResetAnnotations(w http.ResponseWriter, r *http.Request) {
	n := s.deps.Store.Reset()
	logger.WithComponent("api").Info().Int("cleared", n).Msg("Annotations reset")
	writeJSON(w, http.StatusOK, map[string]any{"status": "success", "cleared": n})
}

func (s *Server) handleGetLabels(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Store.Labels())
}

func (s *Server) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	if s.deps.History == nil {
		writeError(w, http.StatusNotFound, errors.New("annotation journal disabled"))
		return
	}

	limit := defaultHistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid limit: %s", v))
			return
		}
		limit = n
	}

	entries, err := s.deps.History.Recent(limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// handleGetHistoryLabels returns label totals over the journal's lifetime
func (s *Server) handleGetHistoryLabels(w http.ResponseWriter, r *http.Request) {
	if s.deps.History == nil {
		writeError(w, http.StatusNotFound, errors.New("annotation journal disabled"))
		return
	}

	counts, err := s.deps.History.LabelCounts()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, counts)
}

func (s *Server) handleAnnotationStream(w http.ResponseWriter, r *http.Request) {
	log := logger.WithComponent("api")

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("WebSocket upgrade error")
		return
	}
	defer conn.Close()

	// Subscribe to new results
	updates := s.deps.Store.Subscribe(64)
	defer s.deps.Store.Unsubscribe(updates)

	// The client never sends anything; reading detects its close.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case result, ok := <-updates:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteJSON(result); err != nil {
				log.Debug().Err(err).Msg("WebSocket write error")
				return
			}
		case <-closed:
			return
		}
	}
}

type sessionsResponse struct {
	Sharer  *session.Status `json:"sharer,omitempty"`
	Monitor *session.Status `json:"monitor,omitempty"`
}

func (s *Server) handleGetSessions(w http.ResponseWriter, r *http.Request) {
	var resp sessionsResponse
	if s.deps.Sharer != nil {
		st := s.deps.Sharer.Status()
		resp.Sharer = &st
	}
	if s.deps.Monitor != nil {
		st := s.deps.Monitor.Status()
		resp.Monitor = &st
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSharerStart(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Sharer.Start(); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Sharer.Status())
}

func (s *Server) handleSharerStop(w http.ResponseWriter, r *http.Request) {
	s.deps.Sharer.Stop()
	writeJSON(w, http.StatusOK, s.deps.Sharer.Status())
}

func (s *Server) handleMonitorStart(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Peer string `json:"peer"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Peer == "" {
		writeError(w, http.StatusBadRequest, errors.New("peer is required"))
		return
	}

	if err := s.deps.Monitor.Start(r.Context(), req.Peer); err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Monitor.Status())
}

func (s *Server) handleMonitorStop(w http.ResponseWriter, r *http.Request) {
	s.deps.Monitor.Stop()
	writeJSON(w, http.StatusOK, s.deps.Monitor.Status())
}

type overlayResponse struct {
	Enabled bool             `json:"enabled"`
	Widgets []map[string]any `json:"widgets"`
}

func (s *Server) overlayState() overlayResponse {
	resp := overlayResponse{
		Enabled: s.deps.Overlay.IsEnabled(),
		Widgets: []map[string]any{},
	}
	for _, w := range s.deps.Overlay.GetAllWidgets() {
		resp.Widgets = append(resp.Widgets, w.Config())
	}
	return resp
}

func (s *Server) handleGetOverlay(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.overlayState())
}

func (s *Server) handleSetOverlay(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Enabled *bool `json:"enabled"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Enabled == nil {
		writeError(w, http.StatusBadRequest, errors.New("enabled is required"))
		return
	}

	s.deps.Overlay.SetEnabled(*req.Enabled)
	writeJSON(w, http.StatusOK, s.overlayState())
}

func (s *Server) handleUpdateWidget(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var cfg map[string]any
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	if _, ok := s.deps.Overlay.GetWidget(id); !ok {
		writeError(w, http.StatusNotFound, fmt.Errorf("widget with ID %s not found", id))
		return
	}
	if err := s.deps.Overlay.UpdateWidget(id, cfg); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	widget, _ := s.deps.Overlay.GetWidget(id)
	writeJSON(w, http.StatusOK, widget.Config())
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Config.Get())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"version": Version,
	})
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	// Only serve HTML for root path
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	w.Header().Set("Content-Type", "text/html")
	w.Write([]byte(indexHTML))
}

const indexHTML = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>FaceRelay</title>
    <style>
        body {
            font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, Oxygen, Ubuntu, Cantarell, sans-serif;
            max-width: 800px;
            margin: 50px auto;
            padding: 20px;
            background: #f5f5f5;
        }
        .container {
            background: white;
            padding: 30px;
            border-radius: 8px;
            box-shadow: 0 2px 4px rgba(0,0,0,0.1);
        }
        h1 { color: #333; margin-top: 0; }
        .info { color: #666; line-height: 1.6; }
        a { color: #1976d2; text-decoration: none; }
        a:hover { text-decoration: underline; }
    </style>
</head>
<body>
    <div class="container">
        <h1>FaceRelay</h1>
        <div class="info">
            <h3>Pages:</h3>
            <ul>
                <li><a href="/viewer">/viewer</a> - Live annotated stream</li>
                <li><a href="/stats">/stats</a> - Stream statistics</li>
            </ul>
            <h3>API Endpoints:</h3>
            <ul>
                <li><a href="/api/health">/api/health</a> - Server health check</li>
                <li><a href="/api/sessions">/api/sessions</a> - Session status</li>
                <li><a href="/api/annotations">/api/annotations</a> - Annotation results</li>
                <li><a href="/api/annotations/labels">/api/annotations/labels</a> - Label counts</li>
                <li><a href="/api/annotations/history">/api/annotations/history</a> - Journal history</li>
                <li><a href="/api/annotations/history/labels">/api/annotations/history/labels</a> - Journal label totals</li>
                <li><a href="/api/overlay">/api/overlay</a> - Overlay widgets</li>
                <li><a href="/metrics">/metrics</a> - Prometheus metrics</li>
            </ul>
        </div>
    </div>
</body>
</html>`

package api

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzhttp"

	"github.com/ernie/trinity-replay/internal/domain"
	"github.com/ernie/trinity-replay/internal/metrics"
	"github.com/ernie/trinity-replay/internal/replay"
	"github.com/ernie/trinity-replay/internal/storage"
)

// EventSource produces round events, typically the telemetry ingestor
type EventSource interface {
	Events() <-chan domain.Event
}

// Router holds the HTTP routes and dependencies
type Router struct {
	mux        *http.ServeMux
	store      *storage.Store
	source     EventSource
	metrics    *metrics.Metrics
	wsHub      *WebSocketHub
	replays    *ReplayManager
	replayOpts replay.Options
	staticDir  string
}

// NewRouter creates a new HTTP router. source may be nil when live ingest
// is disabled.
func NewRouter(store *storage.Store, source EventSource, m *metrics.Metrics, replayOpts replay.Options, staticDir string) *Router {
	r := &Router{
		mux:        http.NewServeMux(),
		store:      store,
		source:     source,
		metrics:    m,
		wsHub:      NewWebSocketHub(),
		replays:    NewReplayManager(store, m),
		replayOpts: replayOpts,
		staticDir:  staticDir,
	}

	// API routes
	r.handleAPI("GET", "/api/rounds", r.handleGetRounds)
	r.handleAPI("GET", "/api/rounds/{id}", r.handleGetRound)
	r.handleAPI("GET", "/api/rounds/{id}/data", r.handleGetRoundData)
	r.handleAPI("GET", "/api/rounds/{id}/replay", r.handleGetReplay)

	// WebSocket endpoints
	r.mux.HandleFunc("GET /ws", r.handleWebSocket)
	r.mux.HandleFunc("GET /ws/rounds/{id}/replay", r.handleReplayWebSocket)

	// Health check and metrics
	r.mux.HandleFunc("GET /health", r.handleHealth)
	r.mux.Handle("GET /metrics", m.Handler())

	// Static files - only serve if staticDir is configured
	if staticDir != "" {
		r.mux.HandleFunc("GET /", r.handleStatic)
	}

	return r
}

// handleAPI registers a JSON route with compression and request metrics.
// WebSocket routes must not go through here.
func (r *Router) handleAPI(method, pattern string, h http.HandlerFunc) {
	r.mux.Handle(method+" "+pattern, r.metrics.Instrument(pattern, gzhttp.GzipHandler(h)))
}

// ServeHTTP implements http.Handler
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	// CORS headers for API
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

	if req.Method == "OPTIONS" {
		w.WriteHeader(http.StatusOK)
		return
	}

	r.mux.ServeHTTP(w, req)
}

// StartWebSocketHub starts broadcasting events to WebSocket clients and
// reloading live replay sessions
func (r *Router) StartWebSocketHub() {
	go r.wsHub.Run()

	if r.source == nil {
		return
	}

	// Forward events from the ingestor to the hub and replay sessions
	go func() {
		for event := range r.source.Events() {
			r.wsHub.Broadcast(event)
			r.replays.HandleEvent(context.Background(), event)
		}
	}()
}

// handleStatic serves static files from the configured directory
// For SPA support, serves index.html for any path that doesn't match a file
func (r *Router) handleStatic(w http.ResponseWriter, req *http.Request) {
	path := filepath.Clean(req.URL.Path)
	if path == "/" {
		path = "/index.html"
	}

	fullPath := filepath.Join(r.staticDir, path)

	// Security: ensure the path is within staticDir
	absStaticDir, _ := filepath.Abs(r.staticDir)
	absPath, _ := filepath.Abs(fullPath)
	if !strings.HasPrefix(absPath, absStaticDir) {
		http.NotFound(w, req)
		return
	}

	info, err := os.Stat(fullPath)
	if err != nil || info.IsDir() {
		// SPA fallback: serve index.html for unknown paths
		fullPath = filepath.Join(r.staticDir, "index.html")
		if _, err = os.Stat(fullPath); err != nil {
			http.NotFound(w, req)
			return
		}
	}

	if contentType := getContentType(fullPath); contentType != "" {
		w.Header().Set("Content-Type", contentType)
	}
	http.ServeFile(w, req, fullPath)
}

// getContentType returns the content type for a file based on extension
func getContentType(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".html":
		return "text/html; charset=utf-8"
	case ".css":
		return "text/css; charset=utf-8"
	case ".js":
		return "application/javascript; charset=utf-8"
	case ".json":
		return "application/json; charset=utf-8"
	case ".svg":
		return "image/svg+xml"
	case ".png":
		return "image/png"
	case ".ico":
		return "image/x-icon"
	default:
		return ""
	}
}

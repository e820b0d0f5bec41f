package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jpalmerr/fanout/internal/store"
)

const (
	// sseWriteTimeout bounds a single SSE write so a stalled client cannot
	// pin its handler past shutdown.
	sseWriteTimeout = 5 * time.Second

	shutdownTimeout = 5 * time.Second

	defaultTitle     = "fanout"
	titlePlaceholder = "{{.Title}}"
)

// Config configures a [Server].
type Config struct {
	// Addr is the listen address, e.g. ":8080" or "127.0.0.1:0".
	Addr string

	// Title replaces {{.Title}} in the dashboard page.
	Title string

	// Assets holds assets/index.html. Nil disables the dashboard.
	Assets fs.FS

	// Gatherer backs /metrics. Nil disables the endpoint.
	Gatherer prometheus.Gatherer

	Logger *slog.Logger
}

// Server serves results from a [store.Store].
type Server struct {
	store      store.Store
	cfg        Config
	logger     *slog.Logger
	httpServer *http.Server
	addr       net.Addr
	done       chan struct{}
}

// NewServer creates a new HTTP [Server].
//
// Parameters:
//   - st: Store the results routes read from and subscribe to
//   - cfg: Listen address, page title, assets, metrics gatherer and logger.
//     A nil cfg.Assets disables the page at /, a nil cfg.Gatherer disables
//     /metrics, and a nil cfg.Logger falls back to [slog.Default].
//
// The server is not started until [Server.Start] is called.
func NewServer(st store.Store, cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{store: st, cfg: cfg, logger: logger, done: make(chan struct{})}
}

// Handler returns the server's routes:
//   - GET /api/results: latest result per job as JSON
//   - GET /api/sse: Server-Sent Events stream of new results
//   - GET /healthz: liveness probe
//   - GET /metrics: Prometheus exposition, when a gatherer is configured
//   - GET /: the results page, when assets are configured
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/results", s.handleResults)
	mux.HandleFunc("/api/sse", s.handleSSE)
	mux.HandleFunc("/healthz", s.handleHealth)
	if s.cfg.Gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(s.cfg.Gatherer, promhttp.HandlerOpts{}))
	}
	if s.cfg.Assets != nil {
		mux.HandleFunc("/", s.handleDashboard)
	}
	return mux
}

// Start begins serving HTTP requests in a background goroutine.
//
// Start binds cfg.Addr before returning, so [Server.Addr] is valid once it
// returns nil; ":0" picks a free port. The server runs until ctx is
// cancelled, then shuts down gracefully within 5 seconds and closes
// [Server.Done]. Open SSE streams end with ctx.
//
// Returns an error if the address cannot be bound.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("failed to bind %s: %w", s.cfg.Addr, err)
	}
	s.addr = ln.Addr()

	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		// request contexts end with ctx so SSE handlers exit on shutdown
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server error", "error", err)
		}
	}()

	go func() {
		defer close(s.done)
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("http server shutdown error", "error", err)
		}
	}()

	s.logger.Info("http server listening", "addr", s.addr.String())
	return nil
}

// Addr returns the bound address, or nil before [Server.Start].
func (s *Server) Addr() net.Addr { return s.addr }

// Done is closed once shutdown has finished.
func (s *Server) Done() <-chan struct{} { return s.done }

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("ok\n"))
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	if s.cfg.Assets == nil {
		http.Error(w, "Dashboard not found", http.StatusInternalServerError)
		return
	}

	content, err := fs.ReadFile(s.cfg.Assets, "assets/index.html")
	if err != nil {
		http.Error(w, "Dashboard not found", http.StatusInternalServerError)
		return
	}

	title := s.cfg.Title
	if title == "" {
		title = defaultTitle
	}
	rendered := strings.ReplaceAll(string(content), titlePlaceholder, html.EscapeString(title))

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if _, err := w.Write([]byte(rendered)); err != nil {
		s.logger.Error("failed to write dashboard response", "error", err)
	}
}

func (s *Server) handleResults(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache")
	if err := json.NewEncoder(w).Encode(s.store.GetAll()); err != nil {
		s.logger.Error("failed to encode results", "error", err)
	}
}

// handleSSE sends the current snapshot then streams every update until the
// client disconnects or the server shuts down.
func (s *Server) handleSSE(w http.ResponseWriter, r *http.Request) {
	if _, ok := w.(http.Flusher); !ok {
		http.Error(w, "SSE not supported", http.StatusInternalServerError)
		return
	}

	rc := http.NewResponseController(w)
	deadlines := true
	send := func(result store.Result) error {
		data, err := json.Marshal(result)
		if err != nil {
			s.logger.Warn("failed to encode sse event", "job", result.Name, "error", err)
			return nil
		}
		if deadlines {
			if err := rc.SetWriteDeadline(time.Now().Add(sseWriteTimeout)); err != nil {
				s.logger.Debug("sse write deadlines not supported", "error", err)
				deadlines = false
			}
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
			return err
		}
		return rc.Flush()
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch := s.store.Subscribe()
	defer s.store.Unsubscribe(ch)

	for _, result := range s.store.GetAll() {
		if err := send(result); err != nil {
			return
		}
	}

	for {
		select {
		case result, ok := <-ch:
			if !ok {
				return
			}
			if err := send(result); err != nil {
				return
			}
		case <-r.Context().Done():
			return
		}
	}
}

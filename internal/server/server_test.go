package server

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"testing/fstest"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/jpalmerr/fanout/internal/store"
)

// testLogger returns a logger that discards all output for clean test output.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestServer(st store.Store, cfg Config) *Server {
	cfg.Logger = testLogger()
	return NewServer(st, cfg)
}

func parseSSEEvents(body string) []store.Result {
	var results []store.Result
	for _, line := range strings.Split(body, "\n") {
		data, ok := strings.CutPrefix(line, "data: ")
		if !ok {
			continue
		}
		var r store.Result
		if err := json.Unmarshal([]byte(data), &r); err == nil {
			results = append(results, r)
		}
	}
	return results
}

func TestHandleSSE_SnapshotThenUpdates(t *testing.T) {
	ms := store.NewMemoryStore()
	ms.Update(store.Result{Name: "api-1", Status: "up"})
	srv := newTestServer(ms, Config{})

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/api/sse", nil).WithContext(ctx)
	rec := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		srv.handleSSE(rec, req)
		close(done)
	}()

	// give the handler time to subscribe
	time.Sleep(50 * time.Millisecond)
	ms.Update(store.Result{Name: "api-2", Status: "down", StatusCode: 503})
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("handler did not exit after context cancellation")
	}

	events := parseSSEEvents(rec.Body.String())
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2: %s", len(events), rec.Body.String())
	}
	if events[0].Name != "api-1" || events[1].Name != "api-2" || events[1].StatusCode != 503 {
		t.Errorf("events = %+v", events)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q", ct)
	}
	if cc := rec.Header().Get("Cache-Control"); cc != "no-cache" {
		t.Errorf("Cache-Control = %q", cc)
	}
}

type nonFlushWriter struct {
	header http.Header
	code   int
}

func (n *nonFlushWriter) Header() http.Header         { return n.header }
func (n *nonFlushWriter) Write(b []byte) (int, error) { return len(b), nil }
func (n *nonFlushWriter) WriteHeader(code int)        { n.code = code }

func TestHandleSSE_SSENotSupported(t *testing.T) {
	srv := newTestServer(store.NewMemoryStore(), Config{})
	w := &nonFlushWriter{header: http.Header{}}

	srv.handleSSE(w, httptest.NewRequest(http.MethodGet, "/api/sse", nil))

	if w.code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.code)
	}
}

func TestHandleResults(t *testing.T) {
	ms := store.NewMemoryStore()
	ms.Update(store.Result{Name: "b", Status: "down"})
	ms.Update(store.Result{Name: "a", Status: "up", StatusCode: 200})
	srv := newTestServer(ms, Config{})

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/results", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var got []store.Result
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("decode error = %v", err)
	}
	if len(got) != 2 || got[0].Name != "a" || got[0].StatusCode != 200 {
		t.Errorf("results = %+v", got)
	}

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/results", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("POST status = %d, want 405", rec.Code)
	}
}

func TestHandler_HealthAndMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "fanout_test_total", Help: "test"})
	reg.MustRegister(counter)
	counter.Add(3)

	h := newTestServer(store.NewMemoryStore(), Config{Gatherer: reg}).Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK || rec.Body.String() != "ok\n" {
		t.Errorf("healthz = %d %q", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(rec.Body.String(), "fanout_test_total 3") {
		t.Errorf("metrics body missing counter: %s", rec.Body.String())
	}

	// no gatherer, no dashboard
	h = newTestServer(store.NewMemoryStore(), Config{}).Handler()
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("metrics without gatherer = %d, want 404", rec.Code)
	}
}

func TestHandleDashboard(t *testing.T) {
	assets := fstest.MapFS{"assets/index.html": {Data: []byte("<title>{{.Title}}</title><h1>{{.Title}}</h1>")}}

	tests := []struct {
		name   string
		assets fs.FS
		title  string
		path   string
		code   int
		want   string
	}{
		{"custom title", assets, "Nightly sweep", "/", http.StatusOK, "<title>Nightly sweep</title><h1>Nightly sweep</h1>"},
		{"default title", assets, "", "/", http.StatusOK, "<title>fanout</title>"},
		{"escaped title", assets, "<script>x</script> & co", "/", http.StatusOK, "&lt;script&gt;x&lt;/script&gt; &amp; co"},
		{"non-root path", assets, "", "/other", http.StatusNotFound, ""},
		{"missing page", fstest.MapFS{}, "", "/", http.StatusInternalServerError, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(store.NewMemoryStore(), Config{Assets: tt.assets, Title: tt.title})
			rec := httptest.NewRecorder()
			srv.handleDashboard(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))

			if rec.Code != tt.code {
				t.Fatalf("status = %d, want %d", rec.Code, tt.code)
			}
			if tt.want != "" && !strings.Contains(rec.Body.String(), tt.want) {
				t.Errorf("body = %q, want it to contain %q", rec.Body.String(), tt.want)
			}
			if strings.Contains(rec.Body.String(), "<script>") {
				t.Error("title must be HTML-escaped")
			}
		})
	}
}

func TestServer_StartServesAndShutsDown(t *testing.T) {
	ms := store.NewMemoryStore()
	ms.Update(store.Result{Name: "live", Status: "up"})
	srv := newTestServer(ms, Config{Addr: "127.0.0.1:0"})

	ctx, cancel := context.WithCancel(context.Background())
	if err := srv.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	base := "http://" + srv.Addr().String()

	resp, err := http.Get(base + "/api/sse")
	if err != nil {
		t.Fatalf("GET /api/sse error = %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	line, err := bufio.NewReader(resp.Body).ReadString('\n')
	if err != nil {
		t.Fatalf("read event error = %v", err)
	}
	if !strings.Contains(line, `"name":"live"`) {
		t.Errorf("first event = %q", line)
	}

	// shutdown must end the open stream
	cancel()
	select {
	case <-srv.Done():
	case <-time.After(2 * shutdownTimeout):
		t.Fatal("server did not shut down")
	}
}

func TestServer_StartAddrInUse(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen error = %v", err)
	}
	defer func() { _ = ln.Close() }()

	srv := newTestServer(store.NewMemoryStore(), Config{Addr: ln.Addr().String()})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	err = srv.Start(ctx)
	if err == nil || !strings.Contains(err.Error(), "failed to bind") {
		t.Errorf("Start() error = %v, want bind error", err)
	}
}

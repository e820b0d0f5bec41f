package fanout

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/jpalmerr/fanout/engine"
	"github.com/jpalmerr/fanout/internal/fake"
)

func TestNew_Defaults(t *testing.T) {
	c, _, _ := newTestClient(t)

	if c.Concurrency() != 0 {
		t.Errorf("Concurrency() = %v, want 0 (unlimited)", c.Concurrency())
	}
	want := transferDefaults{}
	if c.defaults != want {
		t.Errorf("defaults = %+v, want zero value", c.defaults)
	}
}

func TestNew_DefaultTickInterval(t *testing.T) {
	c, err := New(fake.NewLoop(), WithEngine(fake.NewMulti()))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if c.tick != defaultTickInterval {
		t.Errorf("tick = %v, want %v", c.tick, defaultTickInterval)
	}
}

func TestClientOptions_SetDefaults(t *testing.T) {
	c, _, _ := newTestClient(t,
		WithConcurrency(8),
		WithTimeout(1500*time.Millisecond),
		WithProxy("socks5://127.0.0.1:1080"),
		WithMaxRedirects(3),
		WithDebug(true),
		WithInsecureSkipVerify(true),
	)

	if c.Concurrency() != 8 {
		t.Errorf("Concurrency() = %v, want 8", c.Concurrency())
	}
	want := transferDefaults{
		timeout:      1500 * time.Millisecond,
		proxy:        "socks5://127.0.0.1:1080",
		maxRedirects: 3,
		debug:        true,
		insecure:     true,
	}
	if c.defaults != want {
		t.Errorf("defaults = %+v, want %+v", c.defaults, want)
	}
}

func TestWithEngineOptions_Accumulate(t *testing.T) {
	cfg := &clientConfig{}
	opts := []Option{
		WithEngineOptions(engine.WithDNSCache(16, time.Minute)),
		WithEngineOptions(engine.WithLogger(testLogger()), engine.WithDNSCache(32, time.Minute)),
	}
	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			t.Fatalf("option error = %v", err)
		}
	}
	if len(cfg.engineOptions) != 3 {
		t.Errorf("len(engineOptions) = %d, want 3", len(cfg.engineOptions))
	}
}

func TestWithLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	c, err := New(fake.NewLoop(), WithEngine(fake.NewMulti()), WithLogger(logger))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if c.logger != logger {
		t.Error("logger was not set")
	}
}

func TestWithLogger_DefaultsToSlogDefault(t *testing.T) {
	c, err := New(fake.NewLoop(), WithEngine(fake.NewMulti()))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if c.logger != slog.Default() {
		t.Error("logger should default to slog.Default()")
	}
}

func TestClient_SettersApplyToLaterRequests(t *testing.T) {
	c, l, m := newTestClient(t)

	mustRequest(t, c, "http://before.test/")

	if err := c.SetTimeout(2 * time.Second); err != nil {
		t.Fatalf("SetTimeout() error = %v", err)
	}
	if err := c.SetMaxRedirects(4); err != nil {
		t.Fatalf("SetMaxRedirects() error = %v", err)
	}
	c.SetProxy("http://proxy.test:3128")
	c.SetDebug(true)

	mustRequest(t, c, "http://after.test/")
	l.Flush()

	before, after := m.ByURL("http://before.test/").Settings, m.ByURL("http://after.test/").Settings
	if before.Timeout != 0 || before.Proxy != "" || before.FollowRedirects || before.Verbose {
		t.Errorf("earlier request picked up later defaults: %+v", before)
	}
	if after.Timeout != 2*time.Second || after.Proxy != "http://proxy.test:3128" ||
		!after.FollowRedirects || after.MaxRedirects != 4 || !after.Verbose {
		t.Errorf("later request settings = %+v", after)
	}
}

func TestClient_SettersRejectNegative(t *testing.T) {
	c, _, _ := newTestClient(t)

	tests := []struct {
		name string
		call func() error
	}{
		{"timeout", func() error { return c.SetTimeout(-time.Second) }},
		{"max redirects", func() error { return c.SetMaxRedirects(-1) }},
		{"concurrency", func() error { return c.SetConcurrency(-1) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.call()
			if err == nil || !strings.Contains(err.Error(), "negative") {
				t.Errorf("error = %v, want a negative-value error", err)
			}
		})
	}
}

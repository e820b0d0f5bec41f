package poller

import (
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/jpalmerr/fanout"
	"github.com/jpalmerr/fanout/engine"
	"github.com/jpalmerr/fanout/internal/fake"
	"github.com/jpalmerr/fanout/internal/store"
)

const clientTick = 100 * time.Millisecond

// testLogger returns a logger that discards all output for clean test output.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type harness struct {
	loop    *fake.Loop
	multi   *fake.Multi
	clock   *clock.Mock
	client  *fanout.Client
	results []store.Result
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{loop: fake.NewLoop(), multi: fake.NewMulti(), clock: clock.NewMock()}
	c, err := fanout.New(h.loop,
		fanout.WithEngine(h.multi),
		fanout.WithLogger(testLogger()),
		fanout.WithTickInterval(clientTick),
		fanout.WithConcurrency(10),
	)
	if err != nil {
		t.Fatalf("fanout.New() error = %v", err)
	}
	h.client = c
	return h
}

func (h *harness) recorder() store.Recorder {
	return store.RecorderFunc(func(r store.Result) error {
		h.results = append(h.results, r)
		return nil
	})
}

func (h *harness) scheduler(t *testing.T, jobs []Job, opts ...Option) *Scheduler {
	t.Helper()
	opts = append([]Option{WithClock(h.clock), WithLogger(testLogger())}, opts...)
	s, err := NewScheduler(h.client, h.loop, jobs, h.recorder(), opts...)
	if err != nil {
		t.Fatalf("NewScheduler() error = %v", err)
	}
	return s
}

// advance moves the scheduler clock and the loop together.
func (h *harness) advance(d time.Duration) {
	h.clock.Add(d)
	h.loop.Advance(d)
}

// active returns the registered transfer for url.
func (h *harness) active(t *testing.T, url string) *engine.Transfer {
	t.Helper()
	for _, tr := range h.multi.Active() {
		if tr.Settings.URL == url {
			return tr
		}
	}
	t.Fatalf("no active transfer for %s", url)
	return nil
}

func (h *harness) respond(t *testing.T, url, status, body string) {
	t.Helper()
	h.multi.Respond(h.active(t, url).ID, status, body)
}

func job(name, url string, interval time.Duration) Job {
	return Job{Name: name, Request: fanout.Message{URL: url}, Interval: interval}
}

func TestScheduler_OneShotRun(t *testing.T) {
	h := newHarness(t)

	var done []Summary
	s := h.scheduler(t, []Job{
		job("ok", "http://a.test/", 0),
		job("json", "http://b.test/", 0),
		{Name: "post", Request: fanout.Message{Method: "POST", URL: "http://c.test/"}, Labels: map[string]string{"env": "prod"}},
	}, WithOnDone(func(sum Summary) { done = append(done, sum) }))

	s.Start()
	h.loop.Flush()
	if s.InFlight() != 3 {
		t.Fatalf("InFlight() = %d, want 3", s.InFlight())
	}
	if s.BaseInterval() != 0 {
		t.Errorf("BaseInterval() = %v, want 0 for a one-shot run", s.BaseInterval())
	}

	h.respond(t, "http://a.test/", "200 OK", "fine")
	h.respond(t, "http://b.test/", "200 OK", `{"status":"degraded"}`)
	h.multi.Fail(h.active(t, "http://c.test/").ID, errors.New("connection refused"))
	h.advance(clientTick)

	if len(done) != 1 {
		t.Fatalf("onDone called %d times, want 1", len(done))
	}
	want := Summary{Up: 1, Degraded: 1, Down: 1}
	if done[0] != want {
		t.Errorf("Summary = %+v, want %+v", done[0], want)
	}
	if done[0].Total() != 3 {
		t.Errorf("Total() = %d, want 3", done[0].Total())
	}

	if len(h.results) != 3 {
		t.Fatalf("recorded %d results, want 3", len(h.results))
	}
	byName := make(map[string]store.Result)
	for _, r := range h.results {
		byName[r.Name] = r
	}
	if r := byName["ok"]; r.Status != "up" || r.StatusCode != 200 || r.Method != "GET" || r.URL != "http://a.test/" || r.Error != nil {
		t.Errorf("ok result = %+v", r)
	}
	if r := byName["json"]; r.Status != "degraded" {
		t.Errorf("json result status = %q, want degraded", r.Status)
	}
	r := byName["post"]
	if r.Status != "down" || r.Method != "POST" || r.Error == nil || !strings.Contains(*r.Error, "connection refused") {
		t.Errorf("post result = %+v", r)
	}
	if r.Labels["env"] != "prod" {
		t.Errorf("post labels = %v", r.Labels)
	}
	if !r.CompletedAt.Equal(h.clock.Now()) {
		t.Errorf("CompletedAt = %v, want scheduler clock %v", r.CompletedAt, h.clock.Now())
	}
}

func TestScheduler_ResubmitsDueJobs(t *testing.T) {
	h := newHarness(t)
	s := h.scheduler(t, []Job{
		job("fast", "http://fast.test/", 2*time.Second),
		job("slow", "http://slow.test/", 3*time.Second),
		job("once", "http://once.test/", 0),
	})
	if s.BaseInterval() != time.Second {
		t.Fatalf("BaseInterval() = %v, want 1s", s.BaseInterval())
	}

	s.Start()
	h.loop.Flush()
	if len(h.multi.Added) != 3 {
		t.Fatalf("initial submissions = %d, want 3", len(h.multi.Added))
	}

	// fast and once finish; slow stays in flight
	h.respond(t, "http://fast.test/", "200 OK", "")
	h.respond(t, "http://once.test/", "200 OK", "")
	h.advance(clientTick)

	h.advance(time.Second - clientTick) // t=1s
	if len(h.multi.Added) != 3 {
		t.Errorf("submissions at 1s = %d, want 3", len(h.multi.Added))
	}

	h.advance(time.Second) // t=2s
	if len(h.multi.Added) != 4 || h.multi.Added[3].Settings.URL != "http://fast.test/" {
		t.Fatalf("fast should be resubmitted at 2s, submissions = %d", len(h.multi.Added))
	}

	h.advance(time.Second) // t=3s, slow is due but busy
	if len(h.multi.Added) != 4 {
		t.Errorf("busy job resubmitted: submissions = %d, want 4", len(h.multi.Added))
	}

	h.respond(t, "http://slow.test/", "200 OK", "")
	h.respond(t, "http://fast.test/", "200 OK", "")
	h.advance(time.Second) // t=4s, both due
	if len(h.multi.Added) != 6 {
		t.Errorf("submissions at 4s = %d, want 6", len(h.multi.Added))
	}
	for _, tr := range h.multi.Added {
		if tr.Settings.URL == "http://once.test/" && tr != h.multi.Added[2] {
			t.Error("one-shot job was resubmitted")
		}
	}
	if got := s.Summary().Up; got != 4 {
		t.Errorf("Summary().Up = %d, want 4", got)
	}
}

func TestScheduler_StopCancelsInFlight(t *testing.T) {
	h := newHarness(t)
	var doneCalls int
	s := h.scheduler(t, []Job{
		job("a", "http://a.test/", time.Second),
		job("b", "http://b.test/", time.Second),
	}, WithOnDone(func(Summary) { doneCalls++ }))

	s.Start()
	h.loop.Flush()
	s.Stop()
	s.Stop()

	if s.InFlight() != 0 {
		t.Errorf("InFlight() = %d, want 0", s.InFlight())
	}
	if len(h.multi.Removed) != 2 {
		t.Errorf("engine removals = %d, want 2", len(h.multi.Removed))
	}
	if h.client.Admitted() != 0 {
		t.Errorf("client Admitted() = %d, want 0", h.client.Admitted())
	}

	h.advance(5 * time.Second)
	if len(h.multi.Added) != 2 {
		t.Errorf("submissions after Stop = %d, want 2", len(h.multi.Added))
	}
	if len(h.results) != 0 || doneCalls != 0 {
		t.Errorf("canceled jobs recorded %d results, onDone %d", len(h.results), doneCalls)
	}

	// start after stop is a no-op
	s.Start()
	if len(h.multi.Added) != 2 {
		t.Error("Start() after Stop() submitted jobs")
	}
}

func TestScheduler_ClassifierPanicIsRecovered(t *testing.T) {
	h := newHarness(t)
	s := h.scheduler(t, []Job{
		{Name: "boom", Request: fanout.Message{URL: "http://a.test/"}, Classify: func([]byte, int) Status { panic("bad classifier") }},
		job("fine", "http://b.test/", 0),
	})

	s.Start()
	h.loop.Flush()
	h.respond(t, "http://a.test/", "200 OK", "")
	h.respond(t, "http://b.test/", "200 OK", "")
	h.advance(clientTick)

	if len(h.results) != 2 {
		t.Fatalf("recorded %d results, want 2", len(h.results))
	}
	for _, r := range h.results {
		switch r.Name {
		case "boom":
			if r.Status != "down" || r.Error == nil || !strings.Contains(*r.Error, "correlation_id") {
				t.Errorf("boom result = %+v, want down with a correlation id", r)
			}
			if r.StatusCode != 200 {
				t.Errorf("boom StatusCode = %d, want 200", r.StatusCode)
			}
		case "fine":
			if r.Status != "up" {
				t.Errorf("fine status = %q, want up", r.Status)
			}
		}
	}
}

func TestScheduler_EngineRejectionCountsAsDown(t *testing.T) {
	h := newHarness(t)
	h.multi.AddErr = func(*engine.Transfer) error { return errors.New("no slots") }

	var done *Summary
	s := h.scheduler(t, []Job{job("a", "http://a.test/", 0), job("b", "http://b.test/", 0)},
		WithOnDone(func(sum Summary) { done = &sum }))
	s.Start()

	if done == nil {
		t.Fatal("onDone should fire once every job failed synchronously")
	}
	if done.Down != 2 {
		t.Errorf("Summary = %+v, want 2 down", *done)
	}
	if s.InFlight() != 0 {
		t.Errorf("InFlight() = %d, want 0", s.InFlight())
	}
}

func TestScheduler_RecorderErrorIsLogged(t *testing.T) {
	h := newHarness(t)
	var calls int
	rec := store.RecorderFunc(func(store.Result) error {
		calls++
		return errors.New("disk full")
	})
	s, err := NewScheduler(h.client, h.loop, []Job{job("a", "http://a.test/", 0)}, rec,
		WithClock(h.clock), WithLogger(testLogger()))
	if err != nil {
		t.Fatalf("NewScheduler() error = %v", err)
	}

	s.Start()
	h.loop.Flush()
	h.respond(t, "http://a.test/", "500 Internal Server Error", "")
	h.advance(clientTick)

	if calls != 1 || s.Summary().Down != 1 {
		t.Errorf("calls = %d, summary = %+v", calls, s.Summary())
	}
}

func TestNewScheduler_Validation(t *testing.T) {
	h := newHarness(t)
	valid := job("a", "http://a.test/", 0)

	tests := []struct {
		name string
		jobs []Job
	}{
		{"no jobs", nil},
		{"missing name", []Job{{Request: fanout.Message{URL: "http://a.test/"}}}},
		{"duplicate name", []Job{valid, valid}},
		{"missing request", []Job{{Name: "a"}}},
		{"negative interval", []Job{job("a", "http://a.test/", -time.Second)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewScheduler(h.client, h.loop, tt.jobs, nil); err == nil {
				t.Error("NewScheduler() should fail")
			}
		})
	}

	if _, err := NewScheduler(nil, h.loop, []Job{valid}, nil); err == nil {
		t.Error("NewScheduler() without a client should fail")
	}
}

func TestBaseInterval(t *testing.T) {
	tests := []struct {
		name      string
		intervals []time.Duration
		want      time.Duration
	}{
		{"all one-shot", []time.Duration{0, 0}, 0},
		{"single", []time.Duration{30 * time.Second}, 30 * time.Second},
		{"gcd", []time.Duration{10 * time.Second, 15 * time.Second, 0}, 5 * time.Second},
		{"coprime", []time.Duration{2 * time.Second, 3 * time.Second}, time.Second},
		{"floored", []time.Duration{1500 * time.Millisecond, 2 * time.Second}, time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			jobs := make([]Job, len(tt.intervals))
			for i, d := range tt.intervals {
				jobs[i] = Job{Interval: d}
			}
			if got := baseInterval(jobs); got != tt.want {
				t.Errorf("baseInterval() = %v, want %v", got, tt.want)
			}
		})
	}
}

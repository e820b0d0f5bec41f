package fanout

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/jpalmerr/fanout/internal/fake"
)

func TestMetrics_TrackQueueAndOutcomes(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, l, m := newTestClient(t, WithConcurrency(1), WithMetrics(reg))
	newRecorder(c)

	mustRequest(t, c, "http://a.test/")
	mustRequest(t, c, "http://b.test/")
	hc := mustRequest(t, c, "http://c.test/")

	if got := testutil.ToFloat64(c.metrics.admitted); got != 1 {
		t.Errorf("admitted gauge = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.metrics.pending); got != 2 {
		t.Errorf("pending gauge = %v, want 2", got)
	}

	if err := c.Cancel(hc); err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}
	l.Flush()
	respond(t, m, "http://a.test/")
	l.Advance(testTick)
	m.Fail(m.ByURL("http://b.test/").ID, errors.New("connection refused"))
	l.Advance(testTick)

	if got := testutil.ToFloat64(c.metrics.responses); got != 1 {
		t.Errorf("responses = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.metrics.errors); got != 1 {
		t.Errorf("errors = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.metrics.canceled); got != 1 {
		t.Errorf("canceled = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.metrics.admitted); got != 0 {
		t.Errorf("admitted gauge = %v, want 0", got)
	}
	if n := testutil.CollectAndCount(reg, "fanout_transfer_duration_seconds"); n != 1 {
		t.Errorf("duration histogram series = %d, want 1", n)
	}
}

func TestMetrics_DuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	if _, err := New(fake.NewLoop(), WithEngine(fake.NewMulti()), WithMetrics(reg)); err != nil {
		t.Fatalf("first New() error = %v", err)
	}
	if _, err := New(fake.NewLoop(), WithEngine(fake.NewMulti()), WithMetrics(reg)); err == nil {
		t.Error("second New() on the same registry should fail")
	}
}

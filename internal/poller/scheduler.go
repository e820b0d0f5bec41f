package poller

import (
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"

	"github.com/jpalmerr/fanout"
	"github.com/jpalmerr/fanout/internal/store"
	"github.com/jpalmerr/fanout/loop"
)

// minTick is the floor for the tick-and-check period.
const minTick = time.Second

// Job is one named request the scheduler submits.
type Job struct {
	Name    string
	Request fanout.Request
	Options []fanout.RequestOption
	Labels  map[string]string

	// Interval resubmits the job this often. Zero runs it once.
	Interval time.Duration

	// Classify derives the job status. Nil uses [DefaultClassifier].
	Classify Classifier
}

// Summary counts finished requests by outcome.
type Summary struct {
	Up       int
	Degraded int
	Down     int
	Unknown  int
}

// Total returns the number of finished requests.
func (s Summary) Total() int { return s.Up + s.Degraded + s.Down + s.Unknown }

// Option configures a [Scheduler].
type Option func(*Scheduler)

// WithClock sets the clock used for interval bookkeeping and result
// timestamps.
func WithClock(c clock.Clock) Option {
	return func(s *Scheduler) { s.clock = c }
}

// WithLogger sets the scheduler logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

// WithOnDone registers fn to run once every one-shot job has finished, when
// no job has an interval.
func WithOnDone(fn func(Summary)) Option {
	return func(s *Scheduler) { s.onDone = fn }
}

// Scheduler submits jobs to a fanout client and records their outcomes.
//
// Jobs are submitted immediately on [Scheduler.Start]. When any job has an
// interval the scheduler ticks at the GCD of all intervals and resubmits the
// jobs that are due and not still in flight. The last submission time is
// taken when a job is submitted, so a slow job runs every interval plus its
// duration at worst.
type Scheduler struct {
	client   *fanout.Client
	host     loop.Host
	recorder store.Recorder
	clock    clock.Clock
	logger   *slog.Logger
	onDone   func(Summary)

	jobs     []Job
	periodic bool
	base     time.Duration

	lastRunAt map[string]time.Time
	inFlight  map[string]*fanout.Handle
	ticker    loop.Timer

	summary    Summary
	started    bool
	submitting bool
	stopped    bool
	finished   bool
}

// NewScheduler validates jobs and returns an idle scheduler. recorder may be
// nil.
func NewScheduler(client *fanout.Client, host loop.Host, jobs []Job, recorder store.Recorder, opts ...Option) (*Scheduler, error) {
	if client == nil || host == nil {
		return nil, errors.New("client and host are required")
	}
	if len(jobs) == 0 {
		return nil, errors.New("at least one job is required")
	}

	seen := make(map[string]struct{}, len(jobs))
	for i, j := range jobs {
		if j.Name == "" {
			return nil, fmt.Errorf("jobs[%d]: name is required", i)
		}
		if _, dup := seen[j.Name]; dup {
			return nil, fmt.Errorf("jobs[%d]: duplicate name %q", i, j.Name)
		}
		seen[j.Name] = struct{}{}
		if j.Request == nil {
			return nil, fmt.Errorf("jobs[%d] (%s): request is required", i, j.Name)
		}
		if j.Interval < 0 {
			return nil, fmt.Errorf("jobs[%d] (%s): interval cannot be negative", i, j.Name)
		}
	}

	s := &Scheduler{
		client:    client,
		host:      host,
		recorder:  recorder,
		clock:     clock.New(),
		logger:    slog.Default(),
		jobs:      jobs,
		lastRunAt: make(map[string]time.Time, len(jobs)),
		inFlight:  make(map[string]*fanout.Handle, len(jobs)),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.base = baseInterval(jobs)
	s.periodic = s.base > 0
	return s, nil
}

// baseInterval is the GCD of all non-zero job intervals, floored at one
// second. It is zero when no job repeats.
func baseInterval(jobs []Job) time.Duration {
	var base time.Duration
	for _, j := range jobs {
		if j.Interval > 0 {
			base = gcd(base, j.Interval)
		}
	}
	if base > 0 && base < minTick {
		base = minTick
	}
	return base
}

func gcd(a, b time.Duration) time.Duration {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}

// Start submits every job. It is a no-op after the first call or after
// [Scheduler.Stop].
func (s *Scheduler) Start() {
	if s.started || s.stopped {
		return
	}
	s.started = true

	now := s.clock.Now()
	s.submitting = true
	for _, j := range s.jobs {
		s.submit(j, now)
	}
	s.submitting = false
	if s.periodic {
		s.ticker = s.host.Every(s.base, s.tick)
		s.logger.Debug("scheduler ticking", "interval", s.base, "jobs", len(s.jobs))
	}
	s.checkDone()
}

// Stop halts resubmission and cancels requests still in flight. Canceled
// requests are not recorded.
func (s *Scheduler) Stop() {
	if s.stopped {
		return
	}
	s.stopped = true
	if s.ticker != nil {
		s.ticker.Stop()
		s.ticker = nil
	}
	for name, h := range s.inFlight {
		if err := s.client.Cancel(h); err != nil && !errors.Is(err, fanout.ErrInvalidHandle) {
			s.logger.Warn("cancel in-flight job", "job", name, "error", err)
		}
		delete(s.inFlight, name)
	}
}

// Summary returns outcome counts so far.
func (s *Scheduler) Summary() Summary { return s.summary }

// InFlight returns how many jobs are submitted and not yet finished.
func (s *Scheduler) InFlight() int { return len(s.inFlight) }

// BaseInterval returns the tick period, or zero for a one-shot run.
func (s *Scheduler) BaseInterval() time.Duration { return s.base }

func (s *Scheduler) tick() {
	if s.stopped {
		return
	}
	now := s.clock.Now()
	for _, j := range s.jobs {
		if j.Interval == 0 {
			continue
		}
		if _, busy := s.inFlight[j.Name]; busy {
			continue
		}
		if last, ok := s.lastRunAt[j.Name]; ok && now.Sub(last) < j.Interval {
			continue
		}
		s.submit(j, now)
	}
}

func (s *Scheduler) submit(j Job, now time.Time) {
	s.lastRunAt[j.Name] = now

	opts := make([]fanout.RequestOption, 0, len(j.Options)+1)
	opts = append(opts, j.Options...)
	opts = append(opts, fanout.WithListener(fanout.Listener{
		OnResponse: func(_ *fanout.Client, req fanout.Request, resp *fanout.Response, st fanout.Stats) {
			s.finish(j, req, resp, nil, st)
		},
		OnError: func(_ *fanout.Client, req fanout.Request, err error, st fanout.Stats) {
			s.finish(j, req, nil, err, st)
		},
	}))

	// placeholder marks the job busy; a synchronous failure inside Request
	// clears it before the handle is known
	s.inFlight[j.Name] = nil
	h, err := s.client.Request(j.Request, opts...)
	if err != nil {
		delete(s.inFlight, j.Name)
		s.finish(j, j.Request, nil, err, fanout.Stats{})
		return
	}
	if _, still := s.inFlight[j.Name]; still {
		s.inFlight[j.Name] = h
	}
}

func (s *Scheduler) finish(j Job, req fanout.Request, resp *fanout.Response, err error, st fanout.Stats) {
	delete(s.inFlight, j.Name)

	r := store.Result{
		Name:            j.Name,
		Labels:          j.Labels,
		ResponseTimeMs:  st.Total.Milliseconds(),
		NameLookupMs:    st.NameLookup.Milliseconds(),
		ConnectMs:       st.Connect.Milliseconds(),
		FirstByteMs:     st.FirstByte.Milliseconds(),
		DownloadedBytes: st.Downloaded,
		UploadedBytes:   st.Uploaded,
		CompletedAt:     s.clock.Now(),
	}
	r.Method, r.URL = describe(req)

	var status Status
	if err != nil {
		msg := err.Error()
		r.Error = &msg
		status = StatusDown
	} else {
		r.StatusCode = resp.StatusCode
		classify := j.Classify
		if classify == nil {
			classify = DefaultClassifier
		}
		status, err = s.safeClassify(classify, resp.Body, resp.StatusCode)
		if err != nil {
			msg := err.Error()
			r.Error = &msg
		}
	}
	r.Status = string(status)

	switch status {
	case StatusUp:
		s.summary.Up++
	case StatusDegraded:
		s.summary.Degraded++
	case StatusDown:
		s.summary.Down++
	default:
		s.summary.Unknown++
	}

	if s.recorder != nil {
		if err := s.recorder.Record(r); err != nil {
			s.logger.Error("record result", "job", j.Name, "error", err)
		}
	}
	s.checkDone()
}

// safeClassify runs classify with panic recovery. A panicking classifier
// yields down with an error carrying a correlation id that is also logged
// with the stack.
func (s *Scheduler) safeClassify(classify Classifier, body []byte, code int) (status Status, err error) {
	defer func() {
		if r := recover(); r != nil {
			id := uuid.NewString()
			s.logger.Error("classifier panic",
				"correlation_id", id,
				"panic", fmt.Sprintf("%v", r),
				"stack", string(debug.Stack()),
			)
			status = StatusDown
			err = fmt.Errorf("classifier panic (correlation_id: %s)", id)
		}
	}()
	return classify(body, code), nil
}

func (s *Scheduler) checkDone() {
	if s.finished || s.periodic || s.stopped || !s.started || s.submitting || len(s.inFlight) > 0 {
		return
	}
	s.finished = true
	if s.onDone != nil {
		s.onDone(s.summary)
	}
}

// describe returns the method and URL of a request for recording.
func describe(req fanout.Request) (method, url string) {
	switch r := req.(type) {
	case fanout.Message:
		method, url = r.Method, r.URL
	case *fanout.StdRequest:
		if hr := r.HTTPRequest(); hr != nil {
			method = hr.Method
			if hr.URL != nil {
				url = hr.URL.String()
			}
		}
	}
	if method == "" {
		method = "GET"
	}
	return method, url
}

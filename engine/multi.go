package engine

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"go.uber.org/multierr"
)

// run is the engine-side state of one registered transfer.
//
// body, header, info and err are written only by the transfer goroutine until
// it publishes the run through HTTPMulti.completed; after that they are read
// only by the goroutine calling Perform.
type run struct {
	t        *Transfer
	cancel   context.CancelFunc
	started  bool
	finished bool

	body   bytes.Buffer
	header bytes.Buffer
	timing timing
	info   Info
	err    error
}

// HTTPMulti is a [Multi] backed by net/http.
//
// Create one with [New]. All methods must be called from a single goroutine;
// internally each transfer runs on its own goroutine and reports back
// through a wake descriptor.
type HTTPMulti struct {
	cfg    engineConfig
	clock  clock.Clock
	logger *slog.Logger
	hosts  *hostCache
	wake   *waker

	transports map[transportKey]*http.Transport
	runs       map[uuid.UUID]*run
	starting   []*run
	results    []Result
	closed     bool

	// mu guards completed and wakeClosed. Transfer goroutines signal the
	// wake descriptor under mu and never after Close sets wakeClosed.
	mu         sync.Mutex
	completed  []*run
	wakeClosed bool
}

// New creates an [HTTPMulti].
//
// Returns an error if an option is invalid or the wake descriptor cannot be
// created.
func New(opts ...Option) (*HTTPMulti, error) {
	cfg := engineConfig{
		clock:       clock.New(),
		dialTimeout: defaultDialTimeout,
	}
	for _, opt := range opts {
		if err := opt(&cfg); err != nil {
			return nil, err
		}
	}
	if cfg.logger == nil {
		cfg.logger = slog.Default()
	}

	w, err := newWaker()
	if err != nil {
		return nil, fmt.Errorf("create wake descriptor: %w", err)
	}

	m := &HTTPMulti{
		cfg:        cfg,
		clock:      cfg.clock,
		logger:     cfg.logger,
		wake:       w,
		transports: make(map[transportKey]*http.Transport),
		runs:       make(map[uuid.UUID]*run),
	}
	if cfg.dnsCacheLen > 0 {
		m.hosts = newHostCache(cfg.dnsCacheLen, cfg.dnsCacheTTL)
	}
	return m, nil
}

// Add registers t. The transfer starts on the next [HTTPMulti.Perform].
func (m *HTTPMulti) Add(t *Transfer) error {
	if m.closed {
		return ErrClosed
	}
	if _, ok := m.runs[t.ID]; ok {
		return ErrAlreadyAdded
	}
	r := &run{t: t}
	m.runs[t.ID] = r
	m.starting = append(m.starting, r)
	return nil
}

// Remove aborts t and discards any result it has not yet reported.
func (m *HTTPMulti) Remove(t *Transfer) error {
	r, ok := m.runs[t.ID]
	if !ok {
		return ErrNotAdded
	}
	if r.cancel != nil {
		r.cancel()
	}
	delete(m.runs, t.ID)

	for i, s := range m.starting {
		if s == r {
			m.starting = append(m.starting[:i], m.starting[i+1:]...)
			break
		}
	}
	kept := m.results[:0]
	for _, res := range m.results {
		if res.ID != t.ID {
			kept = append(kept, res)
		}
	}
	m.results = kept
	return nil
}

// Perform starts newly added transfers, collects finished ones and returns
// the number still active.
func (m *HTTPMulti) Perform() (int, error) {
	if m.closed {
		return 0, ErrClosed
	}
	m.wake.drain()

	starting := m.starting
	m.starting = nil
	for _, r := range starting {
		m.start(r)
	}

	m.mu.Lock()
	done := m.completed
	m.completed = nil
	m.mu.Unlock()

	for _, r := range done {
		// removed while in flight
		if m.runs[r.t.ID] != r {
			continue
		}
		m.finish(r)
	}

	running := 0
	for _, r := range m.runs {
		if !r.finished {
			running++
		}
	}
	return running, nil
}

// FDSet reports the wake descriptor as readable while any transfer is active.
func (m *HTTPMulti) FDSet() FDSet {
	if m.closed {
		return FDSet{}
	}
	for _, r := range m.runs {
		if !r.finished {
			return FDSet{Read: []int{m.wake.readFD()}}
		}
	}
	return FDSet{}
}

// InfoRead drains one finished transfer.
func (m *HTTPMulti) InfoRead() (Result, bool) {
	if len(m.results) == 0 {
		return Result{}, false
	}
	res := m.results[0]
	m.results[0] = Result{}
	m.results = m.results[1:]
	return res, true
}

// Info returns the timings and byte counts of a registered transfer.
// Values are complete once the transfer has been reported by InfoRead.
func (m *HTTPMulti) Info(id uuid.UUID) Info {
	r, ok := m.runs[id]
	if !ok || !r.finished {
		return Info{}
	}
	return r.info
}

// Close aborts every transfer and releases connections and the wake
// descriptor. Close is idempotent.
func (m *HTTPMulti) Close() error {
	if m.closed {
		return nil
	}
	m.closed = true

	for id, r := range m.runs {
		if r.cancel != nil {
			r.cancel()
		}
		delete(m.runs, id)
	}
	m.starting = nil
	m.results = nil

	for key, tr := range m.transports {
		tr.CloseIdleConnections()
		delete(m.transports, key)
	}

	m.mu.Lock()
	m.wakeClosed = true
	m.completed = nil
	m.mu.Unlock()

	var err error
	if m.wake != nil {
		err = multierr.Append(err, m.wake.close())
	}
	return err
}

// start launches the transfer goroutine for r. Setup failures finish the
// transfer immediately with an error.
func (m *HTTPMulti) start(r *run) {
	r.started = true
	s := r.t.Settings

	tr, err := m.transport(s)
	if err != nil {
		r.err = err
		m.finish(r)
		return
	}

	var (
		ctx    context.Context
		cancel context.CancelFunc
	)
	if s.Timeout > 0 {
		ctx, cancel = m.clock.WithTimeout(context.Background(), s.Timeout)
	} else {
		ctx, cancel = context.WithCancel(context.Background())
	}
	r.cancel = cancel

	client := &http.Client{
		Transport: tr,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	go m.exec(ctx, r, client)
}

// exec runs on the transfer goroutine and publishes r when done.
func (m *HTTPMulti) exec(ctx context.Context, r *run, client *http.Client) {
	start := m.clock.Now()
	r.err = m.transfer(ctx, r, client, start)
	r.timing.total(m.clock.Since(start))

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.wakeClosed {
		return
	}
	m.completed = append(m.completed, r)
	m.wake.signal()
}

// finish copies accumulated bytes into the transfer sinks and queues the
// result for InfoRead.
func (m *HTTPMulti) finish(r *run) {
	r.finished = true
	r.info = r.timing.snapshot()

	if r.header.Len() > 0 {
		if _, err := r.t.Header.Write(r.header.Bytes()); err != nil && r.err == nil {
			r.err = fmt.Errorf("write header sink: %w", err)
		}
	}
	if r.body.Len() > 0 {
		if _, err := r.t.Body.Write(r.body.Bytes()); err != nil && r.err == nil {
			r.err = fmt.Errorf("write body sink: %w", err)
		}
	}

	m.results = append(m.results, Result{ID: r.t.ID, Err: r.err})
}

// transport returns the shared transport for s, creating it on first use.
func (m *HTTPMulti) transport(s Settings) (*http.Transport, error) {
	key := transportKey{proxy: s.Proxy, insecure: s.InsecureSkipVerify}
	if tr, ok := m.transports[key]; ok {
		return tr, nil
	}
	tr, err := m.newTransport(key)
	if err != nil {
		return nil, err
	}
	m.transports[key] = tr
	return tr, nil
}

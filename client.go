package fanout

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/eapache/queue"
	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/jpalmerr/fanout/engine"
	"github.com/jpalmerr/fanout/loop"
)

// Client runs HTTP requests concurrently on a single host loop.
//
// A Client admits submitted requests into a transfer engine up to a
// concurrency limit, drives the engine from loop timers and descriptor
// watchers, and reports each finished request exactly once through the
// registered listeners. Requests over the limit wait in submission order.
//
// Client is not safe for concurrent use. Every method must be called from
// the goroutine running the host loop; other goroutines hand work over with
// [loop.Loop.Submit]. Listeners run on the loop goroutine too, and may call
// back into the client.
//
// The typical lifecycle is:
//
//	l, err := loop.New()
//	if err != nil {
//	    return err
//	}
//	c, err := fanout.New(l, fanout.WithConcurrency(4))
//	if err != nil {
//	    return err
//	}
//	c.OnResponse(func(c *fanout.Client, req fanout.Request, resp *fanout.Response, st fanout.Stats) {
//	    slog.Info("done", "status", resp.StatusCode, "total_ms", st.Total.Milliseconds())
//	})
//	_ = l.Submit(func() {
//	    _, _ = c.Request(fanout.Message{URL: "https://example.com"})
//	})
//	return l.Run(ctx)
type Client struct {
	host      loop.Host
	multi     engine.Multi
	ownsMulti bool
	logger    *slog.Logger
	metrics   *metrics
	tick      time.Duration

	limit    int
	defaults transferDefaults

	active   map[uuid.UUID]*requestState
	pending  *queue.Queue
	watchers map[int]*watch

	timer    loop.Timer
	kick     loop.Timer
	running  int
	stepping bool
	closed   bool

	onResponse []ResponseFunc
	onError    []ErrorFunc
}

// requestState is the client's record of one queued or admitted request.
type requestState struct {
	id       uuid.UUID
	req      Request
	transfer *engine.Transfer
	body     bytes.Buffer
	header   bytes.Buffer
	listener Listener
	handle   *Handle
	admitted bool
}

// finalize invalidates the caller's handle.
func (st *requestState) finalize() {
	st.admitted = false
	if st.handle != nil {
		st.handle.state = nil
	}
}

// Handle identifies a submitted request. It becomes invalid once the
// request finishes or is canceled.
type Handle struct {
	id    uuid.UUID
	req   Request
	state *requestState
}

// ID returns the transfer id assigned at submission.
func (h *Handle) ID() uuid.UUID {
	return h.id
}

// Request returns the submitted request.
func (h *Handle) Request() Request {
	return h.req
}

// Done reports whether the request finished or was canceled.
func (h *Handle) Done() bool {
	return h.state == nil
}

// New creates a [Client] that schedules its work on host.
//
// Without [WithEngine], New creates an [engine.HTTPMulti] which the client
// owns and closes in [Client.Close]. Defaults:
//   - Concurrency: unlimited
//   - Timeout: none
//   - Redirects: not followed
//   - TLS verification: on
//   - Tick interval: 500ms
//
// Returns an error if host is nil or any option is invalid.
func New(host loop.Host, opts ...Option) (*Client, error) {
	if host == nil {
		return nil, errors.New("host loop cannot be nil")
	}

	cfg := &clientConfig{tickInterval: defaultTickInterval}
	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}

	// default to slog.Default() if no logger provided
	logger := cfg.logger
	if logger == nil {
		logger = slog.Default()
	}

	var m *metrics
	if cfg.registerer != nil {
		var err error
		if m, err = newMetrics(cfg.registerer); err != nil {
			return nil, err
		}
	}

	multi := cfg.multi
	owns := false
	if multi == nil {
		engineOpts := append([]engine.Option{engine.WithLogger(logger)}, cfg.engineOptions...)
		hm, err := engine.New(engineOpts...)
		if err != nil {
			return nil, fmt.Errorf("create engine: %w", err)
		}
		multi = hm
		owns = true
	}

	return &Client{
		host:      host,
		multi:     multi,
		ownsMulti: owns,
		logger:    logger,
		metrics:   m,
		tick:      cfg.tickInterval,
		limit:     cfg.concurrency,
		defaults:  cfg.defaults,
		active:    make(map[uuid.UUID]*requestState),
		pending:   queue.New(),
		watchers:  make(map[int]*watch),
	}, nil
}

// OnResponse registers fn for every successful request. Client listeners
// run in registration order, after any per-request listener. Nil is
// ignored.
func (c *Client) OnResponse(fn ResponseFunc) {
	if fn != nil {
		c.onResponse = append(c.onResponse, fn)
	}
}

// OnError registers fn for every failed request. Client listeners run in
// registration order, after any per-request listener. Nil is ignored.
func (c *Client) OnError(fn ErrorFunc) {
	if fn != nil {
		c.onError = append(c.onError, fn)
	}
}

// Concurrency returns the concurrency limit. Zero means unlimited.
func (c *Client) Concurrency() int {
	return c.limit
}

// SetConcurrency changes the concurrency limit. Raising it admits waiting
// requests at once; lowering it never interrupts running ones.
//
// Returns an error if n is negative.
func (c *Client) SetConcurrency(n int) error {
	if n < 0 {
		return errors.New("concurrency cannot be negative")
	}
	c.limit = n
	c.admit()
	return nil
}

// SetTimeout changes the default timeout for requests submitted later.
//
// Returns an error if d is negative.
func (c *Client) SetTimeout(d time.Duration) error {
	if d < 0 {
		return errors.New("timeout cannot be negative")
	}
	c.defaults.timeout = d
	return nil
}

// SetProxy changes the default proxy for requests submitted later.
func (c *Client) SetProxy(proxy string) {
	c.defaults.proxy = proxy
}

// SetMaxRedirects changes the default redirect cap for requests submitted
// later. Zero disables following.
//
// Returns an error if n is negative.
func (c *Client) SetMaxRedirects(n int) error {
	if n < 0 {
		return errors.New("max redirects cannot be negative")
	}
	c.defaults.maxRedirects = n
	return nil
}

// SetDebug changes verbose tracing for requests submitted later.
func (c *Client) SetDebug(enabled bool) {
	c.defaults.debug = enabled
}

// Admitted returns how many requests are registered with the engine.
func (c *Client) Admitted() int {
	return len(c.active)
}

// Pending returns how many requests wait for a concurrency slot.
func (c *Client) Pending() int {
	return c.pending.Length()
}

// Close aborts every admitted and waiting request without firing events,
// releases the timer and watchers, and closes the engine if the client
// created it. Close is idempotent.
func (c *Client) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true

	var err error
	for id, st := range c.active {
		err = multierr.Append(err, c.multi.Remove(st.transfer))
		delete(c.active, id)
		st.finalize()
	}
	for c.pending.Length() > 0 {
		st := c.pending.Remove().(*requestState)
		st.finalize()
	}
	c.release()
	c.metrics.setQueue(0, 0)

	if c.ownsMulti {
		err = multierr.Append(err, c.multi.Close())
	}
	return err
}

// emitResponse notifies the request listener, then client listeners.
func (c *Client) emitResponse(st *requestState, resp *Response, stats Stats) {
	if fn := st.listener.OnResponse; fn != nil {
		c.invokeSafe("response", st, func() { fn(c, st.req, resp, stats) })
	}
	for _, fn := range c.onResponse {
		c.invokeSafe("response", st, func() { fn(c, st.req, resp, stats) })
	}
}

// emitError notifies the request listener, then client listeners.
func (c *Client) emitError(st *requestState, err error, stats Stats) {
	if fn := st.listener.OnError; fn != nil {
		c.invokeSafe("error", st, func() { fn(c, st.req, err, stats) })
	}
	for _, fn := range c.onError {
		c.invokeSafe("error", st, func() { fn(c, st.req, err, stats) })
	}
}

// invokeSafe calls a listener with panic recovery. Panics are logged with a
// correlation id and do not propagate.
func (c *Client) invokeSafe(event string, st *requestState, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("listener panicked",
				"correlation_id", uuid.NewString(),
				"event", event,
				"transfer_id", st.id,
				"panic", fmt.Sprintf("%v", r),
				"stack", string(debug.Stack()),
			)
		}
	}()
	fn()
}

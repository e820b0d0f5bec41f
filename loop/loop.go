package loop

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"go.uber.org/multierr"
)

// maxWait caps a single poll so a stalled clock cannot park the loop forever.
const maxWait = 10 * time.Second

// poller is the platform readiness backend.
type poller interface {
	add(fd int, dir Direction) error
	remove(fd int) error
	// wait blocks up to timeout (negative means no limit) and calls fn for
	// every ready descriptor.
	wait(timeout time.Duration, fn func(fd int, ready Direction)) error
	wake() error
	close() error
}

type loopConfig struct {
	clock  clock.Clock
	logger *slog.Logger
}

// Option configures a [Loop] during construction.
type Option func(*loopConfig) error

// WithClock sets the clock timers are measured against. Defaults to the
// wall clock.
func WithClock(c clock.Clock) Option {
	return func(cfg *loopConfig) error {
		if c == nil {
			return errors.New("clock cannot be nil")
		}
		cfg.clock = c
		return nil
	}
}

// WithLogger sets the logger for recovered callback panics and poll
// failures. Defaults to [slog.Default].
func WithLogger(logger *slog.Logger) Option {
	return func(cfg *loopConfig) error {
		if logger == nil {
			return errors.New("logger cannot be nil")
		}
		cfg.logger = logger
		return nil
	}
}

// Loop is an epoll-backed [Host].
//
// Every, AfterFunc and Watch must be called from the loop goroutine or
// before Run starts. Submit and Stop are safe from any goroutine.
type Loop struct {
	clock  clock.Clock
	logger *slog.Logger
	poller poller

	timers   timerHeap
	seq      uint64
	watchers map[int]*watcher

	mu     sync.Mutex
	tasks  []func()
	closed bool

	running  atomic.Bool
	stopping atomic.Bool
}

var _ Host = (*Loop)(nil)

// New creates a [Loop].
//
// Returns [ErrUnsupportedPlatform] where no poller is available.
func New(opts ...Option) (*Loop, error) {
	cfg := loopConfig{clock: clock.New()}
	for _, opt := range opts {
		if err := opt(&cfg); err != nil {
			return nil, err
		}
	}
	if cfg.logger == nil {
		cfg.logger = slog.Default()
	}

	p, err := newPoller()
	if err != nil {
		return nil, fmt.Errorf("create poller: %w", err)
	}

	return &Loop{
		clock:    cfg.clock,
		logger:   cfg.logger,
		poller:   p,
		watchers: make(map[int]*watcher),
	}, nil
}

// Submit queues fn to run on the loop goroutine and wakes the loop.
// Functions run in submission order.
func (l *Loop) Submit(fn func()) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrClosed
	}
	l.tasks = append(l.tasks, fn)
	l.mu.Unlock()

	return l.poller.wake()
}

// Run dispatches timers, watchers and submitted functions until Stop is
// called or ctx is cancelled. Returns nil on a clean stop.
func (l *Loop) Run(ctx context.Context) error {
	l.mu.Lock()
	closed := l.closed
	l.mu.Unlock()
	if closed {
		return ErrClosed
	}
	if !l.running.CompareAndSwap(false, true) {
		return ErrRunning
	}
	defer l.running.Store(false)

	l.stopping.Store(false)
	stop := context.AfterFunc(ctx, l.Stop)
	defer stop()

	for !l.stopping.Load() {
		l.runTasks()
		l.runTimers()
		if l.stopping.Load() {
			break
		}

		if err := l.poller.wait(l.nextWait(), l.dispatch); err != nil {
			l.logger.Error("poll failed", "error", err)
			return fmt.Errorf("poll: %w", err)
		}
	}

	// functions submitted before the stop still run
	l.runTasks()
	return nil
}

// Stop makes Run return after the current callback.
func (l *Loop) Stop() {
	l.stopping.Store(true)
	_ = l.poller.wake()
}

// Close releases the poller. Pending timers, watchers and submitted
// functions are dropped. Close is idempotent.
func (l *Loop) Close() error {
	if l.running.Load() {
		return ErrRunning
	}

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	l.tasks = nil
	l.mu.Unlock()

	var err error
	for fd, w := range l.watchers {
		w.closed = true
		delete(l.watchers, fd)
		err = multierr.Append(err, l.poller.remove(fd))
	}
	for _, t := range l.timers {
		t.stopped = true
		t.index = -1
	}
	l.timers = nil

	return multierr.Append(err, l.poller.close())
}

// Every runs fn every d, first after d has elapsed.
func (l *Loop) Every(d time.Duration, fn func()) Timer {
	if d <= 0 {
		d = time.Millisecond
	}
	return l.schedule(d, d, fn)
}

// AfterFunc runs fn once after d. A non-positive d runs fn on the next
// iteration.
func (l *Loop) AfterFunc(d time.Duration, fn func()) Timer {
	return l.schedule(d, 0, fn)
}

func (l *Loop) schedule(d, period time.Duration, fn func()) *timer {
	l.seq++
	t := &timer{
		l:      l,
		when:   l.clock.Now().Add(d),
		period: period,
		fn:     fn,
		seq:    l.seq,
		index:  -1,
	}
	heap.Push(&l.timers, t)
	return t
}

// Watch registers fn for readiness of fd in dir.
func (l *Loop) Watch(fd int, dir Direction, fn func(Direction)) (Watcher, error) {
	if dir == 0 || dir&^(Read|Write) != 0 {
		return nil, fmt.Errorf("watch fd %d: invalid direction %s", fd, dir)
	}
	if _, ok := l.watchers[fd]; ok {
		return nil, fmt.Errorf("watch fd %d: %w", fd, ErrAlreadyWatched)
	}
	if err := l.poller.add(fd, dir); err != nil {
		return nil, fmt.Errorf("watch fd %d: %w", fd, err)
	}
	w := &watcher{l: l, fd: fd, dir: dir, fn: fn}
	l.watchers[fd] = w
	return w, nil
}

// runTasks drains the submit queue. Functions submitted while draining run
// on the next iteration.
func (l *Loop) runTasks() {
	l.mu.Lock()
	tasks := l.tasks
	l.tasks = nil
	l.mu.Unlock()

	for _, fn := range tasks {
		l.safeCall("task", fn)
	}
}

// runTimers fires every timer due at entry. Timers scheduled by the
// callbacks wait for the next iteration even when already due.
func (l *Loop) runTimers() {
	now := l.clock.Now()
	var due []*timer
	for len(l.timers) > 0 && !l.timers[0].when.After(now) {
		t := heap.Pop(&l.timers).(*timer)
		if t.period > 0 {
			t.when = t.when.Add(t.period)
			if !t.when.After(now) {
				t.when = now.Add(t.period)
			}
			heap.Push(&l.timers, t)
		}
		due = append(due, t)
	}

	for _, t := range due {
		// stopped by an earlier callback in this batch
		if t.stopped {
			continue
		}
		if t.period == 0 {
			t.stopped = true
		}
		l.safeCall("timer", t.fn)
	}
}

// nextWait is the poll timeout: zero when work is queued, otherwise the
// time to the next timer capped at maxWait.
func (l *Loop) nextWait() time.Duration {
	l.mu.Lock()
	pending := len(l.tasks)
	l.mu.Unlock()
	if pending > 0 {
		return 0
	}
	if len(l.timers) == 0 {
		return maxWait
	}
	d := l.clock.Until(l.timers[0].when)
	if d < 0 {
		return 0
	}
	if d > maxWait {
		return maxWait
	}
	return d
}

func (l *Loop) dispatch(fd int, ready Direction) {
	w, ok := l.watchers[fd]
	if !ok || w.closed {
		return
	}
	ready &= w.dir
	if ready == 0 {
		return
	}
	l.safeCall("watcher", func() { w.fn(ready) })
}

// safeCall runs fn with panic recovery. The panic is logged with a
// correlation id and the loop keeps running.
func (l *Loop) safeCall(kind string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("loop callback panicked",
				"correlation_id", uuid.NewString(),
				"kind", kind,
				"panic", fmt.Sprintf("%v", r),
				"stack", string(debug.Stack()),
			)
		}
	}()
	fn()
}

type watcher struct {
	l      *Loop
	fd     int
	dir    Direction
	fn     func(Direction)
	closed bool
}

func (w *watcher) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	if cur, ok := w.l.watchers[w.fd]; ok && cur == w {
		delete(w.l.watchers, w.fd)
		return w.l.poller.remove(w.fd)
	}
	return nil
}

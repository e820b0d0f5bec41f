package fake

import (
	"fmt"
	"sort"
	"time"

	"github.com/jpalmerr/fanout/loop"
)

// Loop is a [loop.Host] driven by the test.
type Loop struct {
	now      time.Duration
	seq      uint64
	timers   []*Timer
	watchers map[int]*Watcher

	// WatchErr, when set, is returned by Watch for the given descriptor.
	WatchErr func(fd int) error

	// WatchCalls counts successful Watch registrations.
	WatchCalls int
}

var _ loop.Host = (*Loop)(nil)

// NewLoop returns an idle Loop at virtual time zero.
func NewLoop() *Loop {
	return &Loop{watchers: make(map[int]*Watcher)}
}

// Timer is a virtual timer.
type Timer struct {
	l       *Loop
	when    time.Duration
	period  time.Duration
	fn      func()
	seq     uint64
	stopped bool
}

// Stop cancels the timer.
func (t *Timer) Stop() {
	t.stopped = true
}

// Watcher is a virtual descriptor registration.
type Watcher struct {
	l      *Loop
	fd     int
	dir    loop.Direction
	fn     func(loop.Direction)
	closed bool
}

// Close removes the registration.
func (w *Watcher) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	if cur, ok := w.l.watchers[w.fd]; ok && cur == w {
		delete(w.l.watchers, w.fd)
	}
	return nil
}

// Every schedules a repeating virtual timer.
func (l *Loop) Every(d time.Duration, fn func()) loop.Timer {
	return l.add(d, d, fn)
}

// AfterFunc schedules a one-shot virtual timer.
func (l *Loop) AfterFunc(d time.Duration, fn func()) loop.Timer {
	return l.add(d, 0, fn)
}

func (l *Loop) add(d, period time.Duration, fn func()) *Timer {
	if d < 0 {
		d = 0
	}
	l.seq++
	t := &Timer{l: l, when: l.now + d, period: period, fn: fn, seq: l.seq}
	l.timers = append(l.timers, t)
	return t
}

// Watch registers fn for fd.
func (l *Loop) Watch(fd int, dir loop.Direction, fn func(loop.Direction)) (loop.Watcher, error) {
	if l.WatchErr != nil {
		if err := l.WatchErr(fd); err != nil {
			return nil, err
		}
	}
	if _, ok := l.watchers[fd]; ok {
		return nil, fmt.Errorf("watch fd %d: %w", fd, loop.ErrAlreadyWatched)
	}
	w := &Watcher{l: l, fd: fd, dir: dir, fn: fn}
	l.watchers[fd] = w
	l.WatchCalls++
	return w, nil
}

// Now returns the virtual time.
func (l *Loop) Now() time.Duration {
	return l.now
}

// Flush fires every timer due at the current virtual time, including ones
// scheduled by the callbacks it runs.
func (l *Loop) Flush() {
	l.Advance(0)
}

// Advance moves virtual time forward by d, firing due timers in deadline
// order.
func (l *Loop) Advance(d time.Duration) {
	target := l.now + d
	for {
		t := l.next(target)
		if t == nil {
			break
		}
		l.now = t.when
		if t.period > 0 {
			t.when += t.period
		} else {
			t.stopped = true
		}
		t.fn()
	}
	l.now = target
	l.prune()
}

func (l *Loop) next(target time.Duration) *Timer {
	var best *Timer
	for _, t := range l.timers {
		if t.stopped || t.when > target {
			continue
		}
		if best == nil || t.when < best.when || (t.when == best.when && t.seq < best.seq) {
			best = t
		}
	}
	return best
}

func (l *Loop) prune() {
	kept := l.timers[:0]
	for _, t := range l.timers {
		if !t.stopped {
			kept = append(kept, t)
		}
	}
	for i := len(kept); i < len(l.timers); i++ {
		l.timers[i] = nil
	}
	l.timers = kept
}

// ActiveTimers reports how many timers are scheduled.
func (l *Loop) ActiveTimers() int {
	n := 0
	for _, t := range l.timers {
		if !t.stopped {
			n++
		}
	}
	return n
}

// Watched returns the registered descriptors and their directions.
func (l *Loop) Watched() map[int]loop.Direction {
	out := make(map[int]loop.Direction, len(l.watchers))
	for fd, w := range l.watchers {
		out[fd] = w.dir
	}
	return out
}

// WatchedFDs returns the registered descriptors in ascending order.
func (l *Loop) WatchedFDs() []int {
	fds := make([]int, 0, len(l.watchers))
	for fd := range l.watchers {
		fds = append(fds, fd)
	}
	sort.Ints(fds)
	return fds
}

// Ready fires the watcher on fd with dir, reporting whether one was
// registered.
func (l *Loop) Ready(fd int, dir loop.Direction) bool {
	w, ok := l.watchers[fd]
	if !ok || w.closed {
		return false
	}
	w.fn(dir & w.dir)
	return true
}

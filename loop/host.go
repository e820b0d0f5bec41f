package loop

import (
	"errors"
	"time"
)

var (
	// ErrClosed is returned when using a loop after Close.
	ErrClosed = errors.New("loop closed")

	// ErrRunning is returned by Run when the loop is already running and by
	// Close while it still is.
	ErrRunning = errors.New("loop already running")

	// ErrUnsupportedPlatform is returned by New where no poller exists.
	ErrUnsupportedPlatform = errors.New("loop: platform not supported")

	// ErrAlreadyWatched is returned by Watch when fd already has a watcher.
	ErrAlreadyWatched = errors.New("fd already watched")
)

// Direction is a set of readiness interests.
type Direction uint8

const (
	// Read reports the descriptor as readable.
	Read Direction = 1 << iota
	// Write reports the descriptor as writable.
	Write
)

func (d Direction) String() string {
	switch d {
	case 0:
		return "none"
	case Read:
		return "read"
	case Write:
		return "write"
	case Read | Write:
		return "read|write"
	default:
		return "invalid"
	}
}

// Timer is a scheduled callback. Stop is idempotent.
type Timer interface {
	Stop()
}

// Watcher is a readiness registration for a descriptor. Close is idempotent
// and the callback never runs after it returns.
type Watcher interface {
	Close() error
}

// Host is the loop surface a client schedules work on. All methods must be
// called from the loop goroutine.
type Host interface {
	// Every runs fn every d until the returned timer is stopped.
	Every(d time.Duration, fn func()) Timer

	// AfterFunc runs fn once after d.
	AfterFunc(d time.Duration, fn func()) Timer

	// Watch calls fn with the ready directions whenever fd is ready for any
	// direction in dir.
	Watch(fd int, dir Direction, fn func(Direction)) (Watcher, error)
}

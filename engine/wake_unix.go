//go:build unix && !linux

package engine

import (
	"golang.org/x/sys/unix"
	"go.uber.org/multierr"
)

// waker is a non-blocking self-pipe that becomes readable when a transfer
// finishes.
type waker struct {
	r, w int
}

func newWaker() (*waker, error) {
	var p [2]int
	if err := unix.Pipe(p[:]); err != nil {
		return nil, err
	}
	for _, fd := range p {
		unix.CloseOnExec(fd)
		if err := unix.SetNonblock(fd, true); err != nil {
			_ = unix.Close(p[0])
			_ = unix.Close(p[1])
			return nil, err
		}
	}
	return &waker{r: p[0], w: p[1]}, nil
}

func (w *waker) readFD() int {
	return w.r
}

func (w *waker) signal() {
	_, _ = unix.Write(w.w, []byte{1})
}

func (w *waker) drain() {
	var buf [64]byte
	for {
		n, err := unix.Read(w.r, buf[:])
		if n <= 0 || err != nil {
			return
		}
	}
}

func (w *waker) close() error {
	return multierr.Combine(unix.Close(w.r), unix.Close(w.w))
}

//go:build linux

package engine

import (
	"encoding/binary"

	"golang.org/x/sys/unix"
)

// waker is an eventfd that becomes readable when a transfer finishes.
type waker struct {
	fd int
}

func newWaker() (*waker, error) {
	fd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		return nil, err
	}
	return &waker{fd: fd}, nil
}

func (w *waker) readFD() int {
	return w.fd
}

// signal is safe to call from any goroutine.
func (w *waker) signal() {
	var buf [8]byte
	binary.NativeEndian.PutUint64(buf[:], 1)
	_, _ = unix.Write(w.fd, buf[:])
}

// drain resets the counter; a single read clears an eventfd.
func (w *waker) drain() {
	var buf [8]byte
	_, _ = unix.Read(w.fd, buf[:])
}

func (w *waker) close() error {
	return unix.Close(w.fd)
}

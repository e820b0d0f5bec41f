//go:build !unix

package engine

type waker struct{}

func newWaker() (*waker, error) {
	return nil, ErrUnsupportedPlatform
}

func (w *waker) readFD() int  { return -1 }
func (w *waker) signal()      {}
func (w *waker) drain()       {}
func (w *waker) close() error { return nil }

//go:build linux

package loop

import (
	"encoding/binary"
	"errors"
	"time"

	"golang.org/x/sys/unix"
)

const maxEvents = 128

// epoller is a level-triggered epoll set with an eventfd for wakeups.
type epoller struct {
	epfd   int
	wakefd int
	events []unix.EpollEvent
}

func newPoller() (poller, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	wakefd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		_ = unix.Close(epfd)
		return nil, err
	}
	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(wakefd)}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, wakefd, &ev); err != nil {
		_ = unix.Close(wakefd)
		_ = unix.Close(epfd)
		return nil, err
	}
	return &epoller{
		epfd:   epfd,
		wakefd: wakefd,
		events: make([]unix.EpollEvent, maxEvents),
	}, nil
}

func toEpoll(dir Direction) uint32 {
	var ev uint32
	if dir&Read != 0 {
		ev |= unix.EPOLLIN
	}
	if dir&Write != 0 {
		ev |= unix.EPOLLOUT
	}
	return ev
}

func fromEpoll(ev uint32) Direction {
	var dir Direction
	if ev&unix.EPOLLIN != 0 {
		dir |= Read
	}
	if ev&unix.EPOLLOUT != 0 {
		dir |= Write
	}
	// errors and hangups wake both directions so the owner observes them
	if ev&(unix.EPOLLERR|unix.EPOLLHUP) != 0 {
		dir |= Read | Write
	}
	return dir
}

func (p *epoller) add(fd int, dir Direction) error {
	if fd == p.wakefd {
		return errors.New("descriptor reserved by the loop")
	}
	ev := unix.EpollEvent{Events: toEpoll(dir), Fd: int32(fd)}
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, &ev)
}

func (p *epoller) remove(fd int) error {
	err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil)
	// the owner may already have closed the descriptor
	if errors.Is(err, unix.EBADF) || errors.Is(err, unix.ENOENT) {
		return nil
	}
	return err
}

func (p *epoller) wait(timeout time.Duration, fn func(int, Direction)) error {
	ms := -1
	if timeout >= 0 {
		ms = int(timeout / time.Millisecond)
		// round up so a sub-millisecond deadline does not spin
		if timeout%time.Millisecond != 0 {
			ms++
		}
	}

	n, err := unix.EpollWait(p.epfd, p.events, ms)
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return nil
		}
		return err
	}

	for i := 0; i < n; i++ {
		fd := int(p.events[i].Fd)
		if fd == p.wakefd {
			p.drain()
			continue
		}
		fn(fd, fromEpoll(p.events[i].Events))
	}
	return nil
}

func (p *epoller) wake() error {
	var buf [8]byte
	binary.NativeEndian.PutUint64(buf[:], 1)
	_, err := unix.Write(p.wakefd, buf[:])
	// counter saturated, a wakeup is already pending
	if errors.Is(err, unix.EAGAIN) {
		return nil
	}
	return err
}

func (p *epoller) drain() {
	var buf [8]byte
	_, _ = unix.Read(p.wakefd, buf[:])
}

func (p *epoller) close() error {
	werr := unix.Close(p.wakefd)
	if err := unix.Close(p.epfd); err != nil {
		return err
	}
	return werr
}

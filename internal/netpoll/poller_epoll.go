// Copyright (c) 2019 Andy Pan
// Copyright (c) 2018 Joshua J Baker
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

//go:build linux

package netpoll

import (
	"os"

	"golang.org/x/sys/unix"
)

const nativeBackendName = "epoll"

const initialEventCap = 16

// epollFacility is the linux readiness backend. It owns one epoll
// instance plus one eventfd used purely for cross-thread wakeup (the
// self-pipe in the spec's vocabulary, implemented with eventfd instead of
// an actual pipe since eventfd coalesces repeated wakeups into a single
// readable event).
type epollFacility struct {
	epfd     int
	wakeFD   int
	events   []unix.EpollEvent
	fdEvents map[int]Event
}

func open() (Facility, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, os.NewSyscallError("epoll_create1", err)
	}
	wakeFD, _, errno := unix.Syscall(unix.SYS_EVENTFD2, 0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC, 0)
	if errno != 0 {
		_ = unix.Close(epfd)
		return nil, os.NewSyscallError("eventfd2", errno)
	}
	p := &epollFacility{
		epfd:     epfd,
		wakeFD:   int(wakeFD),
		events:   make([]unix.EpollEvent, initialEventCap),
		fdEvents: make(map[int]Event),
	}
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, p.wakeFD, &unix.EpollEvent{
		Events: unix.EPOLLIN,
		Fd:     int32(p.wakeFD),
	}); err != nil {
		_ = unix.Close(p.wakeFD)
		_ = unix.Close(p.epfd)
		return nil, os.NewSyscallError("epoll_ctl add(wakefd)", err)
	}
	return p, nil
}

func toEpollBits(e Event) uint32 {
	var bits uint32
	if e&Readable != 0 {
		bits |= unix.EPOLLIN | unix.EPOLLPRI
	}
	if e&Writable != 0 {
		bits |= unix.EPOLLOUT
	}
	return bits
}

func fromEpollBits(bits uint32) Event {
	var e Event
	if bits&(unix.EPOLLIN|unix.EPOLLPRI) != 0 {
		e |= Readable
	}
	if bits&unix.EPOLLOUT != 0 {
		e |= Writable
	}
	if bits&(unix.EPOLLHUP|unix.EPOLLRDHUP) != 0 {
		e |= Closed
	}
	if bits&unix.EPOLLERR != 0 {
		e |= ErrorEvent
	}
	return e
}

func (p *epollFacility) Wait(timeoutMs int) ([]Ready, error) {
	n, err := unix.EpollWait(p.epfd, p.events, timeoutMs)
	if err != nil {
		if err == unix.EINTR {
			return nil, nil
		}
		return nil, os.NewSyscallError("epoll_wait", err)
	}
	out := make([]Ready, 0, n)
	for i := 0; i < n; i++ {
		ev := p.events[i]
		fd := int(ev.Fd)
		if fd == p.wakeFD {
			p.drainWake()
			continue
		}
		out = append(out, Ready{FD: fd, Events: fromEpollBits(ev.Events)})
	}
	if n == len(p.events) {
		p.events = make([]unix.EpollEvent, len(p.events)*2)
	}
	return out, nil
}

func (p *epollFacility) drainWake() {
	var buf [8]byte
	for {
		_, err := unix.Read(p.wakeFD, buf[:])
		if err == nil || err == unix.EAGAIN {
			return
		}
		if err == unix.EINTR {
			continue
		}
		return
	}
}

func (p *epollFacility) Add(fd int, interest Event) error {
	ev := unix.EpollEvent{Events: toEpollBits(interest), Fd: int32(fd)}
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		return os.NewSyscallError("epoll_ctl add", err)
	}
	p.fdEvents[fd] = interest
	return nil
}

func (p *epollFacility) Modify(fd int, interest Event) error {
	ev := unix.EpollEvent{Events: toEpollBits(interest), Fd: int32(fd)}
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_MOD, fd, &ev); err != nil {
		return os.NewSyscallError("epoll_ctl mod", err)
	}
	p.fdEvents[fd] = interest
	return nil
}

func (p *epollFacility) Remove(fd int) error {
	delete(p.fdEvents, fd)
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil); err != nil {
		return os.NewSyscallError("epoll_ctl del", err)
	}
	return nil
}

func (p *epollFacility) Wake() error {
	var val [8]byte
	val[0] = 1
	for {
		_, err := unix.Write(p.wakeFD, val[:])
		if err == nil {
			return nil
		}
		if err == unix.EINTR {
			continue
		}
		if err == unix.EAGAIN {
			// Eventfd counter saturated: a wakeup is already pending.
			return nil
		}
		return os.NewSyscallError("write(eventfd)", err)
	}
}

func (p *epollFacility) Close() error {
	_ = unix.Close(p.wakeFD)
	return os.NewSyscallError("close", unix.Close(p.epfd))
}

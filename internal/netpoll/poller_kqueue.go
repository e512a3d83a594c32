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

//go:build freebsd || dragonfly || darwin

package netpoll

import (
	"os"

	"golang.org/x/sys/unix"
)

const nativeBackendName = "kqueue"

const initialEventCap = 16

// kqueueFacility is the bsd/darwin readiness backend. Wakeup uses a
// self-pipe (kqueue has no portable eventfd equivalent) the way the
// spec's glossary describes the mechanism generically.
type kqueueFacility struct {
	kq         int
	wakeReadFD int
	wakeWriteFD int
	events     []unix.Kevent_t
	interest   map[int]Event
}

func open() (Facility, error) {
	kq, err := unix.Kqueue()
	if err != nil {
		return nil, os.NewSyscallError("kqueue", err)
	}
	var fds [2]int
	if err := unix.Pipe2(fds[:], unix.O_NONBLOCK|unix.O_CLOEXEC); err != nil {
		_ = unix.Close(kq)
		return nil, os.NewSyscallError("pipe2", err)
	}
	p := &kqueueFacility{
		kq:          kq,
		wakeReadFD:  fds[0],
		wakeWriteFD: fds[1],
		events:      make([]unix.Kevent_t, initialEventCap),
		interest:    make(map[int]Event),
	}
	changes := []unix.Kevent_t{{
		Ident:  uint64(p.wakeReadFD),
		Filter: unix.EVFILT_READ,
		Flags:  unix.EV_ADD,
	}}
	if _, err := unix.Kevent(p.kq, changes, nil, nil); err != nil {
		_ = unix.Close(p.wakeReadFD)
		_ = unix.Close(p.wakeWriteFD)
		_ = unix.Close(p.kq)
		return nil, os.NewSyscallError("kevent add(wakefd)", err)
	}
	return p, nil
}

func (p *kqueueFacility) Wait(timeoutMs int) ([]Ready, error) {
	var ts *unix.Timespec
	if timeoutMs >= 0 {
		t := unix.NsecToTimespec(int64(timeoutMs) * 1e6)
		ts = &t
	}
	n, err := unix.Kevent(p.kq, nil, p.events, ts)
	if err != nil {
		if err == unix.EINTR {
			return nil, nil
		}
		return nil, os.NewSyscallError("kevent wait", err)
	}
	out := make([]Ready, 0, n)
	merged := make(map[int]Event, n)
	order := make([]int, 0, n)
	for i := 0; i < n; i++ {
		ev := p.events[i]
		fd := int(ev.Ident)
		if fd == p.wakeReadFD {
			p.drainWake()
			continue
		}
		var e Event
		switch ev.Filter {
		case unix.EVFILT_READ:
			e = Readable
		case unix.EVFILT_WRITE:
			e = Writable
		}
		if ev.Flags&unix.EV_EOF != 0 {
			e |= Closed
		}
		if ev.Flags&unix.EV_ERROR != 0 {
			e |= ErrorEvent
		}
		if _, ok := merged[fd]; !ok {
			order = append(order, fd)
		}
		merged[fd] |= e
	}
	for _, fd := range order {
		out = append(out, Ready{FD: fd, Events: merged[fd]})
	}
	if n == len(p.events) {
		p.events = make([]unix.Kevent_t, len(p.events)*2)
	}
	return out, nil
}

func (p *kqueueFacility) drainWake() {
	var buf [64]byte
	for {
		_, err := unix.Read(p.wakeReadFD, buf[:])
		if err == nil {
			continue
		}
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return
		}
		if err == unix.EINTR {
			continue
		}
		return
	}
}

func (p *kqueueFacility) changesFor(fd int, interest Event) []unix.Kevent_t {
	prev := p.interest[fd]
	var changes []unix.Kevent_t
	addOrDel := func(filter int16, want bool, had bool) {
		switch {
		case want && !had:
			changes = append(changes, unix.Kevent_t{Ident: uint64(fd), Filter: filter, Flags: unix.EV_ADD})
		case !want && had:
			changes = append(changes, unix.Kevent_t{Ident: uint64(fd), Filter: filter, Flags: unix.EV_DELETE})
		}
	}
	addOrDel(unix.EVFILT_READ, interest&Readable != 0, prev&Readable != 0)
	addOrDel(unix.EVFILT_WRITE, interest&Writable != 0, prev&Writable != 0)
	p.interest[fd] = interest
	return changes
}

func (p *kqueueFacility) Add(fd int, interest Event) error {
	delete(p.interest, fd)
	changes := p.changesFor(fd, interest)
	if len(changes) == 0 {
		return nil
	}
	if _, err := unix.Kevent(p.kq, changes, nil, nil); err != nil {
		delete(p.interest, fd)
		return os.NewSyscallError("kevent add", err)
	}
	return nil
}

func (p *kqueueFacility) Modify(fd int, interest Event) error {
	changes := p.changesFor(fd, interest)
	if len(changes) == 0 {
		return nil
	}
	if _, err := unix.Kevent(p.kq, changes, nil, nil); err != nil {
		return os.NewSyscallError("kevent mod", err)
	}
	return nil
}

func (p *kqueueFacility) Remove(fd int) error {
	changes := p.changesFor(fd, None)
	delete(p.interest, fd)
	if len(changes) == 0 {
		return nil
	}
	if _, err := unix.Kevent(p.kq, changes, nil, nil); err != nil {
		return os.NewSyscallError("kevent del", err)
	}
	return nil
}

func (p *kqueueFacility) Wake() error {
	for {
		_, err := unix.Write(p.wakeWriteFD, []byte{1})
		if err == nil || err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return nil
		}
		if err == unix.EINTR {
			continue
		}
		return os.NewSyscallError("write(wakefd)", err)
	}
}

func (p *kqueueFacility) Close() error {
	_ = unix.Close(p.wakeReadFD)
	_ = unix.Close(p.wakeWriteFD)
	return os.NewSyscallError("close", unix.Close(p.kq))
}

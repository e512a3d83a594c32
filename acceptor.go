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

package netreactor

import (
	"time"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/atomic"
	"golang.org/x/sys/unix"

	"github.com/netreactor/netreactor/internal/clock"
	"github.com/netreactor/netreactor/internal/logging"
)

// NewConnectionCallback receives a freshly accepted, not-yet-wrapped
// descriptor and its peer address.
type NewConnectionCallback func(fd int, peer Addr)

// emfileBackoff is how long the acceptor waits before re-probing after
// hitting the process fd limit, mirroring the admission-backpressure note
// in spec.md §4.5/§7 ("EMFILE: log, leave the listening channel armed").
const emfileBackoff = 50 * time.Millisecond

// acceptor owns the listening socket and its Channel on baseLoop. It does
// not itself decide which worker loop a new connection lands on — that's
// Server's job.
type acceptor struct {
	loop          *EventLoop
	sock          *socket
	channel       *Channel
	listening     atomic.Bool
	chores        *ants.Pool
	emfileBackoff atomic.Bool

	newConnectionCallback NewConnectionCallback
}

func newAcceptor(loop *EventLoop, addr Addr, reusePort bool, backlog int) (*acceptor, error) {
	sock, err := listenSocket(addr, reusePort, backlog)
	if err != nil {
		return nil, err
	}
	chores, _ := ants.NewPool(1, ants.WithNonblocking(true))
	a := &acceptor{
		loop:   loop,
		sock:   sock,
		chores: chores,
	}
	a.channel = newChannel(loop, sock.fd)
	a.channel.SetReadCallback(a.handleRead)
	return a, nil
}

func (a *acceptor) setNewConnectionCallback(cb NewConnectionCallback) {
	a.newConnectionCallback = cb
}

// listen arms the listening channel for read readiness. Must run on
// baseLoop.
func (a *acceptor) listen() {
	a.listening.Store(true)
	a.channel.EnableReading()
}

func (a *acceptor) handleRead(_ clock.Timestamp) {
	fd, peer, err := a.sock.accept()
	if err != nil {
		a.handleAcceptError(err)
		return
	}
	if a.newConnectionCallback != nil {
		a.newConnectionCallback(fd, peer)
	} else {
		_ = unix.Close(fd)
	}
}

func (a *acceptor) handleAcceptError(err error) {
	switch err {
	case unix.EAGAIN, unix.EWOULDBLOCK, unix.EINTR:
		return
	case unix.EMFILE, unix.ENFILE:
		// Per spec.md §4.5/§7: log, leave the listening channel armed,
		// and let the operator fix the fd limit. The listener will spin
		// on EMFILE/ENFILE on every remaining poll cycle until a fd
		// frees up, so logging on every single one of those cycles
		// would flood the log; emfileBackoff gates re-logging to once
		// per backoff window, and the ants chore is what clears the
		// gate after emfileBackoff elapses, without blocking the loop
		// thread the way a direct time.Sleep here would.
		if a.emfileBackoff.CompareAndSwap(false, true) {
			logging.Errorf("netreactor: accept: %v (too many open files); listener stays armed", err)
			if a.chores != nil {
				_ = a.chores.Submit(func() {
					time.Sleep(emfileBackoff)
					a.emfileBackoff.Store(false)
				})
			} else {
				a.emfileBackoff.Store(false)
			}
		}
	default:
		logging.Errorf("netreactor: accept: %v", err)
	}
}

func (a *acceptor) close() error {
	if a.chores != nil {
		a.chores.Release()
	}
	a.channel.DisableAll()
	a.channel.Remove()
	return a.sock.close()
}

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
	"sync"
	"testing"
	"time"

	"golang.org/x/sys/unix"

	"github.com/netreactor/netreactor/internal/clock"
)

// newConnPair builds a Conn wrapping one end of a connected unix socket
// pair, driven by loop, and returns both the Conn and the raw fd for the
// "remote" peer end the test drives directly.
func newConnPair(t *testing.T, loop *EventLoop) (*Conn, int) {
	t.Helper()
	fds := make([]int, 2)
	if err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_NONBLOCK, 0, fds); err != nil {
		t.Fatalf("socketpair: %v", err)
	}
	conn := NewConn(loop, "test-conn", fds[0], Addr{}, Addr{})
	done := make(chan struct{})
	loop.RunInLoop(func() {
		conn.connectEstablished()
		close(done)
	})
	<-done
	return conn, fds[1]
}

func TestConnEchoesMessage(t *testing.T) {
	loop := newTestLoop(t)

	var (
		mu       sync.Mutex
		received string
	)
	gotMsg := make(chan struct{}, 1)

	fds := make([]int, 2)
	if err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_NONBLOCK, 0, fds); err != nil {
		t.Fatalf("socketpair: %v", err)
	}
	defer unix.Close(fds[1])

	conn := NewConn(loop, "echo-conn", fds[0], Addr{}, Addr{})
	conn.setMessageCallback(func(c *Conn, buf *Buffer, ts clock.Timestamp) {
		mu.Lock()
		received = buf.RetrieveAllAsString()
		mu.Unlock()
		c.Send([]byte(received))
		gotMsg <- struct{}{}
	})
	doneEstablish := make(chan struct{})
	loop.RunInLoop(func() {
		conn.connectEstablished()
		close(doneEstablish)
	})
	<-doneEstablish

	if _, err := unix.Write(fds[1], []byte("ping")); err != nil {
		t.Fatalf("write: %v", err)
	}

	select {
	case <-gotMsg:
	case <-time.After(2 * time.Second):
		t.Fatal("message callback never fired")
	}

	mu.Lock()
	got := received
	mu.Unlock()
	if got != "ping" {
		t.Fatalf("expected to receive %q, got %q", "ping", got)
	}

	echoBuf := make([]byte, 4)
	if err := readFullWithDeadline(fds[1], echoBuf, 2*time.Second); err != nil {
		t.Fatalf("reading echo: %v", err)
	}
	if string(echoBuf) != "ping" {
		t.Fatalf("expected echo %q, got %q", "ping", echoBuf)
	}
}

func TestConnWriteCompleteCallback(t *testing.T) {
	loop := newTestLoop(t)
	conn, peerFD := newConnPair(t, loop)
	defer unix.Close(peerFD)

	fired := make(chan struct{}, 1)
	loop.RunInLoop(func() {
		conn.setWriteCompleteCallback(func(c *Conn) { fired <- struct{}{} })
	})

	conn.Send([]byte("hello"))

	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("write complete callback never fired for a small send")
	}
}

func TestConnHalfCloseShutsDownWriteSide(t *testing.T) {
	loop := newTestLoop(t)
	conn, peerFD := newConnPair(t, loop)
	defer unix.Close(peerFD)

	conn.Shutdown()
	time.Sleep(100 * time.Millisecond)

	buf := make([]byte, 1)
	n, err := unix.Read(peerFD, buf)
	if n != 0 || err != nil {
		t.Fatalf("expected EOF (n=0, err=nil) on the peer after half-close, got n=%d err=%v", n, err)
	}
}

func TestConnHighWaterMarkCallback(t *testing.T) {
	loop := newTestLoop(t)
	conn, peerFD := newConnPair(t, loop)
	defer unix.Close(peerFD)

	crossed := make(chan int, 1)
	loop.RunInLoop(func() {
		conn.SetHighWaterMarkCallback(func(c *Conn, n int) {
			crossed <- n
		}, 1024)
	})

	// The peer never reads, so the kernel socket buffer plus our own
	// output Buffer will eventually exceed the 1 KiB threshold.
	big := make([]byte, 256*1024)
	conn.Send(big)

	select {
	case n := <-crossed:
		if n < 1024 {
			t.Fatalf("high water callback fired with only %d bytes observed", n)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("high water mark callback never fired for a 256 KiB send against an unread peer")
	}
}

func readFullWithDeadline(fd int, buf []byte, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	total := 0
	for total < len(buf) {
		n, err := unix.Read(fd, buf[total:])
		if err != nil {
			if err == unix.EAGAIN {
				if time.Now().After(deadline) {
					return err
				}
				time.Sleep(5 * time.Millisecond)
				continue
			}
			return err
		}
		total += n
	}
	return nil
}

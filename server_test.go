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
	"net"
	"sync"
	"testing"
	"time"

	"github.com/netreactor/netreactor/internal/clock"
)

func newTestServer(t *testing.T, configure func(*Server)) (*Server, *EventLoop, string) {
	t.Helper()
	// baseLoop is constructed on the goroutine that runs it, so that
	// goroutine is the loop's own thread and the test goroutine is foreign.
	ready := make(chan *EventLoop, 1)
	errc := make(chan error, 1)
	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		l, err := NewEventLoop()
		if err != nil {
			errc <- err
			return
		}
		ready <- l
		l.Loop()
	}()
	var baseLoop *EventLoop
	select {
	case baseLoop = <-ready:
	case err := <-errc:
		t.Fatalf("NewEventLoop: %v", err)
	}
	addr, err := NewAddr("127.0.0.1", 0)
	if err != nil {
		t.Fatalf("NewAddr: %v", err)
	}
	srv, err := Listen(baseLoop, addr, "t")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	if configure != nil {
		configure(srv)
	}

	bound, err := srv.acceptor.sock.localAddr()
	if err != nil {
		t.Fatalf("localAddr: %v", err)
	}

	srv.Start()

	t.Cleanup(func() {
		if err := srv.Stop(); err != nil {
			t.Errorf("server stop: %v", err)
		}
		baseLoop.Quit()
		<-loopDone
		if err := baseLoop.Close(); err != nil {
			t.Errorf("base loop close: %v", err)
		}
	})

	return srv, baseLoop, bound.String()
}

func TestServerEchoesOverRealTCP(t *testing.T) {
	_, _, addrStr := newTestServer(t, func(srv *Server) {
		srv.SetMessageCallback(func(c *Conn, buf *Buffer, ts clock.Timestamp) {
			c.Send([]byte(buf.RetrieveAllAsString()))
		})
	})

	conn, err := net.DialTimeout("tcp", addrStr, 2*time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if _, err := conn.Write([]byte("hello server")); err != nil {
		t.Fatalf("write: %v", err)
	}
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, len("hello server"))
	if _, err := readFullConn(conn, buf); err != nil {
		t.Fatalf("read echo: %v", err)
	}
	if string(buf) != "hello server" {
		t.Fatalf("expected echo %q, got %q", "hello server", buf)
	}
}

func TestServerConnectionCallbackFiresOnConnectAndDisconnect(t *testing.T) {
	var (
		mu         sync.Mutex
		transitions []bool
	)
	fired := make(chan struct{}, 2)

	_, _, addrStr := newTestServer(t, func(srv *Server) {
		srv.SetConnectionCallback(func(c *Conn) {
			mu.Lock()
			transitions = append(transitions, c.Connected())
			mu.Unlock()
			fired <- struct{}{}
		})
	})

	conn, err := net.DialTimeout("tcp", addrStr, 2*time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	<-fired
	conn.Close()
	<-fired

	mu.Lock()
	defer mu.Unlock()
	if len(transitions) != 2 || !transitions[0] || transitions[1] {
		t.Fatalf("expected [connected=true, connected=false], got %v", transitions)
	}
}

func TestServerConnectionCountTracksChurn(t *testing.T) {
	const numClients = 50

	srv, _, addrStr := newTestServer(t, nil)

	conns := make([]net.Conn, 0, numClients)
	for i := 0; i < numClients; i++ {
		c, err := net.DialTimeout("tcp", addrStr, 2*time.Second)
		if err != nil {
			t.Fatalf("dial %d: %v", i, err)
		}
		conns = append(conns, c)
	}

	waitForCount(t, srv, numClients, 3*time.Second)

	for _, c := range conns {
		c.Close()
	}

	waitForCount(t, srv, 0, 3*time.Second)
}

func waitForCount(t *testing.T, srv *Server, want int, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if srv.ConnectionCount() == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("ConnectionCount never reached %d, stuck at %d", want, srv.ConnectionCount())
}

func readFullConn(c net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := c.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

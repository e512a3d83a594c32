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

// Command echoserver is a minimal demonstration of the reactor: it binds
// one address, echoes every message back to its sender, and logs
// connection lifecycle events.
package main

import (
	"flag"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/netreactor/netreactor"
	"github.com/netreactor/netreactor/internal/clock"
	"github.com/netreactor/netreactor/internal/logging"
)

func main() {
	addrFlag := flag.String("addr", "127.0.0.1:9101", "listen address, host:port")
	threads := flag.Int("threads", 2, "worker loop count (0 = single reactor)")
	reusePort := flag.Bool("reuseport", false, "set SO_REUSEPORT on the listening socket")
	flag.Parse()

	host, portStr, err := net.SplitHostPort(*addrFlag)
	if err != nil {
		logging.Fatalf("echoserver: %v", err)
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		logging.Fatalf("echoserver: invalid port %q: %v", portStr, err)
	}
	addr, err := netreactor.NewAddr(host, uint16(port))
	if err != nil {
		logging.Fatalf("echoserver: %v", err)
	}

	baseLoop, err := netreactor.NewEventLoop()
	if err != nil {
		logging.Fatalf("echoserver: %v", err)
	}

	srv, err := netreactor.Listen(baseLoop, addr, "echo", netreactor.WithReusePort(*reusePort))
	if err != nil {
		logging.Fatalf("echoserver: %v", err)
	}

	srv.SetThreadInitCallback(func(loop *netreactor.EventLoop) {
		logging.Infof("echoserver: worker loop started (tid=%d)", loop.ThreadID())
	})
	srv.SetConnectionCallback(func(conn *netreactor.Conn) {
		if conn.Connected() {
			logging.Infof("echoserver: %s connected from %s", conn.Name(), conn.PeerAddr())
		} else {
			logging.Infof("echoserver: %s disconnected", conn.Name())
		}
	})
	srv.SetMessageCallback(func(conn *netreactor.Conn, buf *netreactor.Buffer, ts clock.Timestamp) {
		data := buf.RetrieveAllAsString()
		logging.Debugf("echoserver: %s received %d bytes at %s", conn.Name(), len(data), ts)
		conn.Send([]byte(data))
	})

	srv.SetThreadNum(*threads)
	srv.Start()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logging.Infof("echoserver: shutting down")
		if err := srv.Stop(); err != nil {
			logging.Errorf("echoserver: stop: %v", err)
		}
		baseLoop.Quit()
	}()

	baseLoop.Loop()
}

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
	"fmt"
	"sync"

	"go.uber.org/atomic"
	"go.uber.org/multierr"

	"github.com/netreactor/netreactor/internal/logging"
)

// Server is a TcpServer: an Acceptor plus an EventLoopThreadPool plus a
// name -> Conn registry, wiring spec.md §4.7's accept/close data flow.
type Server struct {
	baseLoop *EventLoop
	name     string
	addr     Addr

	acceptor *acceptor
	pool     *EventLoopThreadPool

	connectionCallback    ConnectionCallback
	messageCallback       MessageCallback
	writeCompleteCallback WriteCompleteCallback

	started atomic.Bool
	nextID  atomic.Uint64

	mu       sync.Mutex
	registry map[string]*Conn
}

// NewServer constructs a TcpServer bound to baseLoop and addr. baseLoop
// both accepts new connections and, with threadNum=0 later passed to
// SetThreadNum, also services them.
func NewServer(baseLoop *EventLoop, addr Addr, name string, reusePort bool) (*Server, error) {
	return newServer(baseLoop, addr, name, reusePort, 1024)
}

func newServer(baseLoop *EventLoop, addr Addr, name string, reusePort bool, backlog int) (*Server, error) {
	a, err := newAcceptor(baseLoop, addr, reusePort, backlog)
	if err != nil {
		return nil, fmt.Errorf("netreactor: new server: %w", err)
	}
	s := &Server{
		baseLoop: baseLoop,
		name:     name,
		addr:     addr,
		acceptor: a,
		pool:     NewEventLoopThreadPool(baseLoop),
		registry: make(map[string]*Conn),
	}
	a.setNewConnectionCallback(s.newConnection)
	return s, nil
}

// SetThreadInitCallback installs the per-worker-goroutine init hook.
func (s *Server) SetThreadInitCallback(cb ThreadInitCallback) { s.pool.SetThreadInitCallback(cb) }

// SetConnectionCallback installs the callback fired on both establish and
// teardown; distinguish the two with conn.Connected().
func (s *Server) SetConnectionCallback(cb ConnectionCallback) { s.connectionCallback = cb }

// SetMessageCallback installs the read-path callback.
func (s *Server) SetMessageCallback(cb MessageCallback) { s.messageCallback = cb }

// SetWriteCompleteCallback installs the callback fired once a Send's
// payload has been fully written to the socket.
func (s *Server) SetWriteCompleteCallback(cb WriteCompleteCallback) { s.writeCompleteCallback = cb }

// SetThreadNum sets how many worker loops service accepted connections.
// Zero means single-reactor: baseLoop both accepts and serves I/O. Must
// be called before Start. It spawns the worker loops immediately, so a
// thread-init callback installed after this call does not run on them.
func (s *Server) SetThreadNum(n int) { s.pool.Start(n) }

// Start is idempotent: only the first call arms the acceptor. It does not
// start any worker loops; those are spawned by SetThreadNum.
func (s *Server) Start() {
	if !s.started.CompareAndSwap(false, true) {
		return
	}
	s.baseLoop.RunInLoop(s.acceptor.listen)
}

// newConnection runs on baseLoop: it picks the next worker loop, builds
// the unique registry name, queries the accepted socket's local address,
// constructs the Conn, registers it, wires the server-level callbacks
// plus the close-path hop back to removeConnection, and finally hops the
// new Conn's connectEstablished onto its worker loop.
func (s *Server) newConnection(fd int, peer Addr) {
	loop := s.pool.GetNextLoop()
	connID := s.nextID.Inc()
	name := fmt.Sprintf("%s-%s#%d", s.name, s.addr.String(), connID)

	local, err := wrapConnectedSocket(fd).localAddr()
	if err != nil {
		logging.Warnf("netreactor: %s: getsockname failed: %v", name, err)
	}

	conn := NewConn(loop, name, fd, local, peer)
	s.mu.Lock()
	s.registry[name] = conn
	s.mu.Unlock()

	conn.setConnectionCallback(s.connectionCallback)
	conn.setMessageCallback(s.messageCallback)
	conn.setWriteCompleteCallback(s.writeCompleteCallback)
	conn.setCloseCallback(s.removeConnection)

	loop.RunInLoop(conn.connectEstablished)
}

// removeConnection is wired as every Conn's close callback. It always
// hops to baseLoop, where the close path erases the registry entry. The
// registry is also guarded by mu, since Stop and ConnectionCount touch it
// from the caller's goroutine.
func (s *Server) removeConnection(conn *Conn) {
	s.baseLoop.RunInLoop(func() { s.removeConnectionInLoop(conn) })
}

func (s *Server) removeConnectionInLoop(conn *Conn) {
	s.mu.Lock()
	delete(s.registry, conn.Name())
	s.mu.Unlock()
	conn.loop.QueueInLoop(conn.connectDestroyed)
}

// Addr returns the address the server is bound to. If NewAddr/Listen was
// given port 0, this still reflects the caller-requested address, not
// the kernel-assigned ephemeral port — query the acceptor's socket
// directly (as tests do) to learn the actual bound port.
func (s *Server) Addr() Addr { return s.addr }

// ConnectionCount returns the number of connections currently in the
// registry (state Connected or Disconnecting per spec.md §3 invariant 7).
func (s *Server) ConnectionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.registry)
}

// Stop tears every registered connection down and closes the acceptor
// and every worker loop's Poller. Iterates over a snapshot of the
// registry so erasing entries mid-loop never invalidates the range.
func (s *Server) Stop() error {
	s.mu.Lock()
	conns := make([]*Conn, 0, len(s.registry))
	for _, c := range s.registry {
		conns = append(conns, c)
	}
	s.registry = make(map[string]*Conn)
	s.mu.Unlock()

	for _, conn := range conns {
		c := conn
		c.loop.RunInLoop(c.connectDestroyed)
	}

	var errs error
	if err := s.acceptor.close(); err != nil {
		errs = multierr.Append(errs, err)
	}
	for _, loop := range s.pool.Loops() {
		loop.Quit()
	}
	s.pool.WaitForExit()
	return errs
}

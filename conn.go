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
	"golang.org/x/sys/unix"

	"go.uber.org/atomic"

	"github.com/netreactor/netreactor/internal/clock"
	"github.com/netreactor/netreactor/internal/logging"
)

// ConnState is the connection's lifecycle state. Transitions are
// monotonic: Connecting -> Connected -> (Disconnecting)? -> Disconnected;
// no transition ever runs backwards (spec.md §3 invariant 4).
type ConnState int32

const (
	StateConnecting ConnState = iota
	StateConnected
	StateDisconnecting
	StateDisconnected
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnecting:
		return "disconnecting"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// defaultHighWaterMark is 64 MiB per spec.md §4.6.
const defaultHighWaterMark = 64 * 1024 * 1024

// MessageCallback delivers newly read bytes. buf is the connection's own
// input Buffer — the callback is expected to Retrieve whatever it
// consumes before returning.
type MessageCallback func(conn *Conn, buf *Buffer, ts clock.Timestamp)

// ConnectionCallback fires once on establish and once on teardown;
// distinguish the two with conn.Connected().
type ConnectionCallback func(conn *Conn)

// WriteCompleteCallback fires asynchronously once a Send's bytes have all
// been written: right after a direct write that took the whole payload,
// or once the output buffer has fully drained.
type WriteCompleteCallback func(conn *Conn)

// HighWaterMarkCallback fires at most once per crossing of the
// high-water threshold, with the output buffer size observed at the
// moment of the crossing.
type HighWaterMarkCallback func(conn *Conn, currentOutputBytes int)

// Conn is a TcpConnection: one connected socket plus its Channel on a
// worker loop, the buffered half of the read/write path, and the
// guarded-callback lifetime discipline described in spec.md §4.6/§9.
// Conn is always used through a pointer and is safe to hold a reference
// to past the point a server drops its own reference, as long as no
// method is called from a thread other than the owning loop's, save for
// Send/Shutdown (documented as cross-thread-safe) and Connected.
type Conn struct {
	loop *EventLoop
	name string

	sock    *socket
	channel *Channel

	local Addr
	peer  Addr

	state atomic.Int32

	input  *Buffer
	output *Buffer

	torndown bool

	connectionCallback     ConnectionCallback
	messageCallback        MessageCallback
	writeCompleteCallback  WriteCompleteCallback
	closeCallback          ConnectionCallback
	highWaterMarkCallback  HighWaterMarkCallback
	highWaterMark          int

	context interface{}
}

// NewConn wraps an already-accepted fd. Construction may happen before
// the owning worker loop starts looping, but every other method must run
// on that loop's own goroutine (Send/Shutdown/Connected excepted).
func NewConn(loop *EventLoop, name string, fd int, local, peer Addr) *Conn {
	c := &Conn{
		loop:          loop,
		name:          name,
		sock:          wrapConnectedSocket(fd),
		local:         local,
		peer:          peer,
		input:         NewBuffer(),
		output:        NewBuffer(),
		highWaterMark: defaultHighWaterMark,
	}
	c.state.Store(int32(StateConnecting))
	c.channel = newChannel(loop, fd)
	c.channel.SetReadCallback(c.handleRead)
	c.channel.SetWriteCallback(c.handleWrite)
	c.channel.SetCloseCallback(c.handleClose)
	c.channel.SetErrorCallback(c.handleError)
	if err := c.sock.setKeepAlive(true); err != nil {
		logging.Warnf("netreactor: conn %s: set keepalive: %v", name, err)
	}
	return c
}

func (c *Conn) state_() ConnState { return ConnState(c.state.Load()) }

// Name returns the connection's registry key.
func (c *Conn) Name() string { return c.name }

// LocalAddr returns the local endpoint.
func (c *Conn) LocalAddr() Addr { return c.local }

// PeerAddr returns the remote endpoint.
func (c *Conn) PeerAddr() Addr { return c.peer }

// Connected reports whether the connection is currently in the
// Connected state. Safe to call from any goroutine.
func (c *Conn) Connected() bool { return c.state_() == StateConnected }

// Context returns the opaque application value set with SetContext.
func (c *Conn) Context() interface{} { return c.context }

// SetContext attaches an opaque application value to the connection.
func (c *Conn) SetContext(v interface{}) { c.context = v }

func (c *Conn) setConnectionCallback(cb ConnectionCallback)       { c.connectionCallback = cb }
func (c *Conn) setMessageCallback(cb MessageCallback)             { c.messageCallback = cb }
func (c *Conn) setWriteCompleteCallback(cb WriteCompleteCallback) { c.writeCompleteCallback = cb }
func (c *Conn) setCloseCallback(cb ConnectionCallback)            { c.closeCallback = cb }

// SetHighWaterMarkCallback installs the backpressure callback and its
// threshold, replacing the 64 MiB default.
func (c *Conn) SetHighWaterMarkCallback(cb HighWaterMarkCallback, threshold int) {
	c.highWaterMarkCallback = cb
	c.highWaterMark = threshold
}

// connectEstablished transitions Connecting -> Connected, ties the
// channel's weak back-reference to this Conn, arms read readiness, and
// invokes the user's connection callback. Must run on the owning loop.
func (c *Conn) connectEstablished() {
	if c.state_() != StateConnecting {
		logging.Fatalf("netreactor: conn %s: connectEstablished from state %s", c.name, c.state_())
		return
	}
	c.state.Store(int32(StateConnected))
	c.channel.Tie(c)
	c.channel.EnableReading()
	if c.connectionCallback != nil {
		c.connectionCallback(c)
	}
}

// connectDestroyed performs the final teardown: if still Connected or
// Disconnecting it first runs the same transition handleClose would, then disables and
// removes the channel and closes the fd exactly once. It can be invoked
// twice for the same Conn (once via Server.Stop's direct sweep, once via
// the ordinary close path's removeConnection -> connectDestroyed hop),
// but socket.close() is not safe to call twice — a second unix.Close can
// hit an fd the kernel has since handed to an unrelated connection — so
// torndown makes everything past the state transition run at most once.
// Both call sites only ever reach this method via RunInLoop/QueueInLoop
// on this Conn's own loop, so the flag needs no synchronization.
func (c *Conn) connectDestroyed() {
	if c.torndown {
		return
	}
	c.torndown = true

	if c.state_() == StateConnected || c.state_() == StateDisconnecting {
		c.state.Store(int32(StateDisconnected))
		c.channel.DisableAll()
		if c.connectionCallback != nil {
			c.connectionCallback(c)
		}
	}
	c.channel.Remove()
	if err := c.sock.close(); err != nil {
		logging.Warnf("netreactor: conn %s: close fd: %v", c.name, err)
	}
}

func (c *Conn) handleRead(ts clock.Timestamp) {
	n, err := c.input.ReadFD(c.sock.fd)
	switch {
	case n > 0:
		if c.messageCallback != nil {
			c.messageCallback(c, c.input, ts)
		}
	case n == 0:
		c.handleClose()
	default:
		logging.Errorf("netreactor: conn %s: read: %v", c.name, err)
		c.handleError()
	}
}

func (c *Conn) handleWrite() {
	if !c.channel.IsWriting() {
		logging.Debugf("netreactor: conn %s: handleWrite with no write interest armed, ignoring", c.name)
		return
	}
	n, err := c.output.WriteFD(c.sock.fd)
	if err != nil {
		logging.Errorf("netreactor: conn %s: write: %v", c.name, err)
		return
	}
	c.output.Retrieve(n)
	if c.output.ReadableBytes() == 0 {
		c.channel.DisableWriting()
		if c.writeCompleteCallback != nil {
			c.loop.QueueInLoop(func() { c.writeCompleteCallback(c) })
		}
		if c.state_() == StateDisconnecting {
			c.shutdownInLoop()
		}
	}
}

// handleClose runs the peer-closed / local-fatal-error teardown path:
// mark Disconnected, disarm the channel, notify the connection callback,
// then hand off to whatever the server wired as the close callback
// (normally Server.removeConnection).
func (c *Conn) handleClose() {
	state := c.state_()
	if state == StateDisconnected {
		return
	}
	logging.Debugf("netreactor: conn %s: handleClose state=%s", c.name, state)
	c.state.Store(int32(StateDisconnected))
	c.channel.DisableAll()

	if c.connectionCallback != nil {
		c.connectionCallback(c)
	}
	if c.closeCallback != nil {
		c.closeCallback(c)
	}
}

func (c *Conn) handleError() {
	errno, err := unix.GetsockoptInt(c.sock.fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil {
		logging.Errorf("netreactor: conn %s: SO_ERROR lookup failed: %v", c.name, err)
		return
	}
	logging.Errorf("netreactor: conn %s: socket error: %v", c.name, unix.Errno(errno))
}

// Send queues bytes for delivery. A no-op once the connection is no
// longer Connected. Safe to call from any goroutine; the payload is
// copied before crossing to the loop thread so the caller's slice need
// not outlive the call.
func (c *Conn) Send(data []byte) {
	if c.state_() != StateConnected {
		logging.Warnf("netreactor: conn %s: Send dropped, state=%s", c.name, c.state_())
		return
	}
	if c.loop.IsInLoopThread() {
		c.sendInLoop(data)
		return
	}
	payload := append([]byte(nil), data...)
	c.loop.QueueInLoop(func() { c.sendInLoop(payload) })
}

func (c *Conn) sendInLoop(data []byte) {
	if c.state_() == StateDisconnected {
		logging.Warnf("netreactor: conn %s: sendInLoop dropped, already disconnected", c.name)
		return
	}

	var (
		written  int
		writeErr error
		faulted  bool
	)

	if !c.channel.IsWriting() && c.output.ReadableBytes() == 0 {
		n, err := unix.Write(c.sock.fd, data)
		if n >= 0 {
			written = n
			if n == len(data) && c.writeCompleteCallback != nil {
				c.loop.QueueInLoop(func() { c.writeCompleteCallback(c) })
			}
		} else {
			written = 0
			writeErr = err
			if err != unix.EAGAIN && err != unix.EWOULDBLOCK {
				if err == unix.EPIPE || err == unix.ECONNRESET {
					faulted = true
				} else {
					logging.Errorf("netreactor: conn %s: write: %v", c.name, writeErr)
				}
			}
		}
	}

	if faulted {
		return
	}

	remaining := data[written:]
	if len(remaining) == 0 {
		return
	}

	oldLen := c.output.ReadableBytes()
	newLen := oldLen + len(remaining)
	if oldLen < c.highWaterMark && newLen >= c.highWaterMark && c.highWaterMarkCallback != nil {
		c.loop.QueueInLoop(func() { c.highWaterMarkCallback(c, newLen) })
	}
	c.output.Append(remaining)
	if !c.channel.IsWriting() {
		c.channel.EnableWriting()
	}
}

// Shutdown half-closes the write side once the output buffer drains. A
// no-op outside the Connected state.
func (c *Conn) Shutdown() {
	if c.state_() != StateConnected {
		return
	}
	c.state.Store(int32(StateDisconnecting))
	c.loop.RunInLoop(c.shutdownInLoop)
}

func (c *Conn) shutdownInLoop() {
	if !c.channel.IsWriting() {
		if err := c.sock.shutdownWrite(); err != nil {
			logging.Warnf("netreactor: conn %s: shutdown write: %v", c.name, err)
		}
	}
}

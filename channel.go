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
	"runtime"
	"weak"

	"github.com/netreactor/netreactor/internal/clock"
	"github.com/netreactor/netreactor/internal/netpoll"
)

// Index classifies a Channel's relationship to its EventLoop's Poller.
// See the invariant in spec.md §3: NEW <=> not in the poller's map,
// ADDED <=> in the map and registered with the facility, DELETED <=> in
// the map but unregistered.
type Index int32

const (
	IndexNew Index = iota
	IndexAdded
	IndexDeleted
)

// ReadCallback is invoked on read/priority readiness.
type ReadCallback func(ts clock.Timestamp)

// SimpleCallback covers write-complete/close/error notifications, none of
// which need anything beyond "it happened".
type SimpleCallback func()

// Channel binds one file descriptor to an interest mask and up to four
// event callbacks within a single EventLoop. It never owns the fd: the
// Socket that opened it is responsible for closing it. Every method
// except Remove must only be called from the owning EventLoop's thread.
type Channel struct {
	loop *EventLoop
	fd   int

	events  netpoll.Event
	revents netpoll.Event
	index   Index

	readCallback  ReadCallback
	writeCallback SimpleCallback
	closeCallback SimpleCallback
	errorCallback SimpleCallback

	tied bool
	tie  weak.Pointer[Conn]

	eventHandling bool
	addedToLoop   bool
}

func newChannel(loop *EventLoop, fd int) *Channel {
	return &Channel{loop: loop, fd: fd, index: IndexNew}
}

// Fd returns the bound file descriptor.
func (c *Channel) Fd() int { return c.fd }

// Events returns the currently registered interest mask.
func (c *Channel) Events() netpoll.Event { return c.events }

// Index returns the channel's current poller-map classification.
func (c *Channel) Index() Index { return c.index }

// SetIndex is called only by Poller to record the outcome of
// updateChannel/removeChannel.
func (c *Channel) SetIndex(i Index) { c.index = i }

// SetRevents records which of the registered events actually fired; only
// Poller calls this, once per poll() cycle, before HandleEvent runs.
func (c *Channel) SetRevents(e netpoll.Event) { c.revents = e }

// SetReadCallback installs the read-readiness handler.
func (c *Channel) SetReadCallback(cb ReadCallback) { c.readCallback = cb }

// SetWriteCallback installs the write-readiness handler.
func (c *Channel) SetWriteCallback(cb SimpleCallback) { c.writeCallback = cb }

// SetCloseCallback installs the close handler (HUP without IN).
func (c *Channel) SetCloseCallback(cb SimpleCallback) { c.closeCallback = cb }

// SetErrorCallback installs the error handler.
func (c *Channel) SetErrorCallback(cb SimpleCallback) { c.errorCallback = cb }

// Tie installs a weak back-reference to the Conn that logically owns this
// channel. HandleEvent upgrades it for the duration of dispatch so a
// handler invocation is never torn down mid-call, while letting the
// server drop its own strong reference at any time. See spec.md §4.2 and
// §9 "Shared-self callback pattern".
func (c *Channel) Tie(conn *Conn) {
	c.tie = weak.Make(conn)
	c.tied = true
}

func (c *Channel) update() {
	c.addedToLoop = true
	c.loop.updateChannel(c)
}

// Remove deregisters the channel from its loop's poller. May be called
// from any goroutine once the caller guarantees no further poller access
// for this fd is in flight; in practice it is always called from the
// owning loop's thread via a queued/inline task.
func (c *Channel) Remove() {
	c.addedToLoop = false
	c.loop.removeChannel(c)
}

// EnableReading arms the channel for read/priority readiness.
func (c *Channel) EnableReading() { c.events |= netpoll.Readable; c.update() }

// DisableReading disarms read/priority readiness.
func (c *Channel) DisableReading() { c.events &^= netpoll.Readable; c.update() }

// EnableWriting arms the channel for write readiness.
func (c *Channel) EnableWriting() { c.events |= netpoll.Writable; c.update() }

// DisableWriting disarms write readiness.
func (c *Channel) DisableWriting() { c.events &^= netpoll.Writable; c.update() }

// DisableAll disarms every interest bit.
func (c *Channel) DisableAll() { c.events = netpoll.None; c.update() }

// IsWriting reports whether write readiness is currently armed.
func (c *Channel) IsWriting() bool { return c.events&netpoll.Writable != 0 }

// IsReading reports whether read readiness is currently armed.
func (c *Channel) IsReading() bool { return c.events&netpoll.Readable != 0 }

// IsNoneEvent reports whether no interest is armed at all.
func (c *Channel) IsNoneEvent() bool { return c.events == netpoll.None }

// HandleEvent dispatches whatever was raised in the most recent poll
// cycle, per the fixed ordering in spec.md §4.2: HUP-without-IN closes,
// ERR reports, IN/PRI reads, OUT writes.
func (c *Channel) HandleEvent(ts clock.Timestamp) {
	if c.tied {
		conn := c.tie.Value()
		if conn == nil {
			return
		}
		c.handleEventGuarded(ts)
		runtime.KeepAlive(conn)
		return
	}
	c.handleEventGuarded(ts)
}

func (c *Channel) handleEventGuarded(ts clock.Timestamp) {
	c.eventHandling = true
	defer func() { c.eventHandling = false }()

	if c.revents&netpoll.Closed != 0 && c.revents&netpoll.Readable == 0 {
		if c.closeCallback != nil {
			c.closeCallback()
		}
		return
	}
	if c.revents&netpoll.ErrorEvent != 0 {
		if c.errorCallback != nil {
			c.errorCallback()
		}
	}
	if c.revents&(netpoll.Readable) != 0 {
		if c.readCallback != nil {
			c.readCallback(ts)
		}
	}
	if c.revents&netpoll.Writable != 0 {
		if c.writeCallback != nil {
			c.writeCallback()
		}
	}
}

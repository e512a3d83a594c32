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
	"sync"

	"go.uber.org/atomic"

	"github.com/netreactor/netreactor/internal/clock"
	"github.com/netreactor/netreactor/internal/logging"
	"github.com/netreactor/netreactor/internal/ostid"
)

// pollTimeoutMs is the fixed poll wait per spec.md §4.3; it only bounds
// wakeup latency for quit() and is not a task scheduling primitive (this
// module has no timers).
const pollTimeoutMs = 10_000

// EventLoop owns one Poller, runs on exactly one pinned goroutine for its
// entire life, and accepts tasks from any goroutine via RunInLoop /
// QueueInLoop. Constructing a second EventLoop on the same OS thread
// (where the platform can tell) is a fatal misuse.
type EventLoop struct {
	poller *Poller

	activeChannels []*Channel

	mu           sync.Mutex
	pendingTasks []func()

	looping             atomic.Bool
	quit                atomic.Bool
	callingPendingTasks atomic.Bool

	threadID int64
	hasTID   bool
}

var (
	threadLoopsMu sync.Mutex
	threadLoops   = map[int64]*EventLoop{}
)

// NewEventLoop constructs an EventLoop. It must be called from the
// goroutine that will eventually call Loop — that goroutine becomes the
// loop's permanently pinned owner.
func NewEventLoop() (*EventLoop, error) {
	runtime.LockOSThread()
	tid, hasTID := ostid.Current()
	if hasTID {
		threadLoopsMu.Lock()
		if existing, ok := threadLoops[tid]; ok && existing != nil {
			threadLoopsMu.Unlock()
			runtime.UnlockOSThread()
			logging.Fatalf("netreactor: %v (tid=%d)", ErrLoopAlreadyExists, tid)
			return nil, ErrLoopAlreadyExists
		}
		threadLoopsMu.Unlock()
	}

	loop := &EventLoop{threadID: tid, hasTID: hasTID}
	p, err := newPoller(loop)
	if err != nil {
		runtime.UnlockOSThread()
		return nil, err
	}
	loop.poller = p

	if hasTID {
		threadLoopsMu.Lock()
		threadLoops[tid] = loop
		threadLoopsMu.Unlock()
	}

	return loop, nil
}

// IsInLoopThread reports whether the calling goroutine is this loop's own
// pinned goroutine. On platforms without a cheap OS thread id it always
// reports false, which only costs the inline fast path, never
// correctness — see internal/ostid.
func (l *EventLoop) IsInLoopThread() bool {
	if !l.hasTID {
		return false
	}
	tid, ok := ostid.Current()
	return ok && tid == l.threadID
}

// ThreadID returns the cached OS thread id this loop is pinned to, or 0
// if the platform doesn't expose one cheaply.
func (l *EventLoop) ThreadID() int64 { return l.threadID }

// Loop runs the reactor until Quit is called. Must be called from the
// same goroutine that constructed the EventLoop.
func (l *EventLoop) Loop() {
	l.looping.Store(true)
	l.quit.Store(false)
	logging.Infof("netreactor: EventLoop %p starts looping", l)

	for !l.quit.Load() {
		l.activeChannels = l.activeChannels[:0]
		var ts clock.Timestamp
		l.activeChannels, ts = l.poller.poll(pollTimeoutMs, l.activeChannels)
		for _, ch := range l.activeChannels {
			ch.HandleEvent(ts)
		}
		l.doPendingTasks()
	}

	logging.Infof("netreactor: EventLoop %p stops looping", l)
	l.looping.Store(false)
}

// Quit asks the loop to return from Loop after finishing its current
// iteration. If called from another goroutine it also wakes the poller so
// the loop doesn't have to wait out the remainder of a poll timeout.
func (l *EventLoop) Quit() {
	l.quit.Store(true)
	if !l.IsInLoopThread() {
		l.Wakeup()
	}
}

// RunInLoop executes task on the loop's own goroutine: immediately if the
// caller is already there, otherwise queued for the next drain.
func (l *EventLoop) RunInLoop(task func()) {
	if l.IsInLoopThread() {
		task()
		return
	}
	l.QueueInLoop(task)
}

// QueueInLoop appends task to the pending queue. It wakes the poller
// whenever the caller isn't the loop's own goroutine, or when the loop is
// in the middle of draining pending tasks right now — the latter ensures
// a task queued by another task doesn't wait a full poll cycle.
func (l *EventLoop) QueueInLoop(task func()) {
	l.mu.Lock()
	l.pendingTasks = append(l.pendingTasks, task)
	l.mu.Unlock()

	if !l.IsInLoopThread() || l.callingPendingTasks.Load() {
		l.Wakeup()
	}
}

// Wakeup forces a blocked poll() to return promptly. Safe from any
// goroutine.
func (l *EventLoop) Wakeup() {
	if err := l.poller.wake(); err != nil {
		logging.Errorf("netreactor: wakeup failed: %v", err)
	}
}

func (l *EventLoop) doPendingTasks() {
	var tasks []func()
	l.mu.Lock()
	tasks, l.pendingTasks = l.pendingTasks, nil
	l.mu.Unlock()

	l.callingPendingTasks.Store(true)
	for _, t := range tasks {
		t()
	}
	l.callingPendingTasks.Store(false)
}

// updateChannel forwards to the Poller; only valid from the loop's own
// goroutine.
func (l *EventLoop) updateChannel(ch *Channel) { l.poller.updateChannel(ch) }

// removeChannel forwards to the Poller; only valid from the loop's own
// goroutine.
func (l *EventLoop) removeChannel(ch *Channel) { l.poller.removeChannel(ch) }

// HasChannel reports whether ch is currently registered with this loop's
// Poller.
func (l *EventLoop) HasChannel(ch *Channel) bool { return l.poller.hasChannel(ch) }

// Close releases the loop's Poller and clears the per-thread registry
// entry. Call only after Loop has returned.
func (l *EventLoop) Close() error {
	if l.hasTID {
		threadLoopsMu.Lock()
		delete(threadLoops, l.threadID)
		threadLoopsMu.Unlock()
	}
	return l.poller.close()
}

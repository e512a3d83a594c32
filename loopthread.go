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

	"github.com/netreactor/netreactor/internal/logging"
)

// ThreadInitCallback runs once inside a worker's goroutine, immediately
// before that goroutine's EventLoop starts looping.
type ThreadInitCallback func(loop *EventLoop)

// EventLoopThread is the one-shot factory from spec.md §4.3/§9.4: it
// spawns a goroutine, constructs an EventLoop inside it (so the loop's
// pinned-thread identity is that goroutine's), publishes the loop pointer
// back to the caller, and only then starts looping.
type EventLoopThread struct {
	once   sync.Once
	initCb ThreadInitCallback
	ready  chan struct{}
	doneCh chan struct{}
	loop   *EventLoop
}

// NewEventLoopThread constructs a thread wrapper with an optional
// per-thread init callback.
func NewEventLoopThread(initCb ThreadInitCallback) *EventLoopThread {
	return &EventLoopThread{
		initCb: initCb,
		ready:  make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// StartLoop spawns the goroutine (the "thread" of spec.md's Thread
// wrapper component) and blocks until the new EventLoop has been
// constructed and published, returning a pointer usable from any
// goroutine for RunInLoop/QueueInLoop. Safe to call more than once; only
// the first call actually spawns the goroutine.
func (t *EventLoopThread) StartLoop() *EventLoop {
	t.once.Do(func() { go t.runThread() })
	<-t.ready
	return t.loop
}

func (t *EventLoopThread) runThread() {
	loop, err := NewEventLoop()
	if err != nil {
		logging.Fatalf("netreactor: worker thread failed to build EventLoop: %v", err)
		close(t.ready)
		close(t.doneCh)
		return
	}

	if t.initCb != nil {
		t.initCb(loop)
	}

	t.loop = loop
	close(t.ready)

	loop.Loop()

	if err := loop.Close(); err != nil {
		logging.Errorf("netreactor: worker thread loop close: %v", err)
	}
	close(t.doneCh)
}

// Wait blocks until the thread's EventLoop has returned from Loop.
func (t *EventLoopThread) Wait() { <-t.doneCh }

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

import "go.uber.org/atomic"

// EventLoopThreadPool owns N EventLoopThreads and round-robins accepted
// connections across their loops. With zero threads, GetNextLoop returns
// baseLoop — the single-reactor mode where accept and I/O share one
// goroutine.
type EventLoopThreadPool struct {
	baseLoop *EventLoop
	initCb   ThreadInitCallback

	threads []*EventLoopThread
	loops   []*EventLoop

	next atomic.Uint64
}

// NewEventLoopThreadPool constructs a pool bound to baseLoop, the
// application-supplied accept loop.
func NewEventLoopThreadPool(baseLoop *EventLoop) *EventLoopThreadPool {
	return &EventLoopThreadPool{baseLoop: baseLoop}
}

// SetThreadInitCallback installs the callback run once on each worker
// goroutine before it starts looping.
func (p *EventLoopThreadPool) SetThreadInitCallback(cb ThreadInitCallback) {
	p.initCb = cb
}

// Start spawns numThreads worker loops. Must be called once, before
// GetNextLoop or Loops are used.
func (p *EventLoopThreadPool) Start(numThreads int) {
	p.threads = make([]*EventLoopThread, 0, numThreads)
	p.loops = make([]*EventLoop, 0, numThreads)
	for i := 0; i < numThreads; i++ {
		t := NewEventLoopThread(p.initCb)
		p.threads = append(p.threads, t)
		p.loops = append(p.loops, t.StartLoop())
	}
}

// GetNextLoop returns the next worker loop in round-robin order, or
// baseLoop when the pool has zero worker threads.
func (p *EventLoopThreadPool) GetNextLoop() *EventLoop {
	if len(p.loops) == 0 {
		return p.baseLoop
	}
	idx := p.next.Inc() - 1
	return p.loops[int(idx)%len(p.loops)]
}

// Loops returns every worker loop, or just baseLoop for single-reactor
// mode. Used by Server to fan a shutdown out to every loop.
func (p *EventLoopThreadPool) Loops() []*EventLoop {
	if len(p.loops) == 0 {
		return []*EventLoop{p.baseLoop}
	}
	return p.loops
}

// WaitForExit blocks until every worker loop has returned from Loop.
func (p *EventLoopThreadPool) WaitForExit() {
	for _, t := range p.threads {
		t.Wait()
	}
}

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

// Package netpoll wraps the OS readiness-notification facility (epoll on
// linux, kqueue on bsd/darwin) behind one small interface. It knows
// nothing about Channels, EventLoops, or connections — it only turns a
// set of registered file descriptors plus an interest mask into a batch
// of (fd, ready-events) pairs, and provides a wakeup primitive for
// cross-thread task submission.
package netpoll

import (
	"fmt"
	"os"
)

// Event is the generic readiness interest/outcome mask, independent of
// the backend's native bit layout.
type Event uint32

const (
	// None means no interest / nothing raised.
	None Event = 0
	// Readable corresponds to EPOLLIN|EPOLLPRI or EVFILT_READ.
	Readable Event = 1 << 0
	// Writable corresponds to EPOLLOUT or EVFILT_WRITE.
	Writable Event = 1 << 1
	// Closed corresponds to EPOLLHUP/EPOLLRDHUP or EV_EOF — the peer or
	// the kernel signaled the descriptor is going away.
	Closed Event = 1 << 2
	// ErrorEvent corresponds to EPOLLERR or EV_ERROR.
	ErrorEvent Event = 1 << 3
)

// Ready is one readiness notification for one descriptor.
type Ready struct {
	FD     int
	Events Event
}

// Facility is the raw readiness-notification multiplexer. All methods are
// only ever called from the single goroutine that owns the Facility,
// except Wake, which any goroutine may call.
type Facility interface {
	// Wait blocks for up to timeoutMs milliseconds (negative blocks
	// forever) and returns the descriptors that became ready. Each call
	// returns a freshly allocated slice.
	Wait(timeoutMs int) ([]Ready, error)
	// Add registers fd for the given interest. Registration failure is
	// always a caller-fatal condition per the calling Poller's contract.
	Add(fd int, interest Event) error
	// Modify changes fd's registered interest.
	Modify(fd int, interest Event) error
	// Remove deregisters fd. Non-fatal if it fails.
	Remove(fd int) error
	// Wake forces a blocked Wait to return promptly. Safe to call from
	// any goroutine, any number of times.
	Wake() error
	// Close releases the facility's own descriptors.
	Close() error
}

// envPollerOverride is the name of the Open-question environment variable
// from spec.md's External Interfaces section (the MUDUO_USE_POLL
// equivalent). Only "epoll"/"kqueue" (the sole implemented backend for
// the host OS) or unset are accepted; anything else is a startup error
// rather than a silent fallback, since no alternative poll(2)-based
// backend exists in this module.
const envPollerOverride = "NETREACTOR_POLLER"

// Open selects and opens the platform's readiness facility.
func Open() (Facility, error) {
	if v := os.Getenv(envPollerOverride); v != "" && v != nativeBackendName {
		return nil, fmt.Errorf("netpoll: unsupported backend %q requested via %s; only %q is implemented",
			v, envPollerOverride, nativeBackendName)
	}
	return open()
}

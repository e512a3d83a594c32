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

	"github.com/netreactor/netreactor/internal/clock"
	"github.com/netreactor/netreactor/internal/logging"
	"github.com/netreactor/netreactor/internal/netpoll"
)

// Poller wraps a netpoll.Facility with the fd->Channel bookkeeping spec.md
// §4.1 assigns to this component: it is the only thing that knows how to
// go from "an fd became ready" to "here is the Channel object to
// dispatch". Every method except wake must only be called from the owning
// EventLoop's thread; wake may be called from any goroutine.
type Poller struct {
	loop     *EventLoop
	facility netpoll.Facility
	channels map[int]*Channel
}

func newPoller(loop *EventLoop) (*Poller, error) {
	facility, err := netpoll.Open()
	if err != nil {
		return nil, fmt.Errorf("netreactor: open poller: %w", err)
	}
	return &Poller{
		loop:     loop,
		facility: facility,
		channels: make(map[int]*Channel),
	}, nil
}

// poll blocks for up to timeoutMs and appends every Channel that became
// ready to activeChannels, returning it alongside the timestamp taken
// right after the wait returns.
func (p *Poller) poll(timeoutMs int, activeChannels []*Channel) ([]*Channel, clock.Timestamp) {
	ready, err := p.facility.Wait(timeoutMs)
	ts := clock.Now()
	if err != nil {
		logging.Errorf("netreactor: poller wait: %v", err)
		return activeChannels, ts
	}
	if len(ready) == 0 {
		logging.Debugf("netreactor: poll returned nothing ready")
		return activeChannels, ts
	}
	for _, r := range ready {
		ch, ok := p.channels[r.FD]
		if !ok {
			continue
		}
		ch.SetRevents(r.Events)
		activeChannels = append(activeChannels, ch)
	}
	return activeChannels, ts
}

// updateChannel implements spec.md §4.1's branch on pollerIndex.
func (p *Poller) updateChannel(ch *Channel) {
	switch ch.Index() {
	case IndexNew, IndexDeleted:
		fd := ch.Fd()
		p.channels[fd] = ch
		if err := p.facility.Add(fd, ch.Events()); err != nil {
			logging.Fatalf("netreactor: poller register fd=%d failed: %v", fd, err)
		}
		ch.SetIndex(IndexAdded)
	case IndexAdded:
		fd := ch.Fd()
		if ch.IsNoneEvent() {
			if err := p.facility.Remove(fd); err != nil {
				logging.Errorf("netreactor: poller unregister fd=%d failed: %v", fd, err)
			}
			ch.SetIndex(IndexDeleted)
			return
		}
		if err := p.facility.Modify(fd, ch.Events()); err != nil {
			logging.Fatalf("netreactor: poller modify fd=%d failed: %v", fd, err)
		}
	}
}

// removeChannel implements spec.md §4.1's removeChannel: erasing a
// channel that was never ADDED (still NEW) is a documented no-op, which
// is what makes TcpConnection's terminal Channel.Remove idempotent.
func (p *Poller) removeChannel(ch *Channel) {
	fd := ch.Fd()
	if ch.Index() == IndexNew {
		return
	}
	delete(p.channels, fd)
	if ch.Index() == IndexAdded {
		if err := p.facility.Remove(fd); err != nil {
			logging.Errorf("netreactor: poller remove fd=%d failed: %v", fd, err)
		}
	}
	ch.SetIndex(IndexNew)
}

// hasChannel reports whether ch is currently tracked by this Poller.
func (p *Poller) hasChannel(ch *Channel) bool {
	found, ok := p.channels[ch.Fd()]
	return ok && found == ch
}

func (p *Poller) wake() error {
	return p.facility.Wake()
}

func (p *Poller) close() error {
	return p.facility.Close()
}

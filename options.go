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

// Option configures server construction, following the functional-options
// pattern the domain's Go ecosystem uses (e.g. gnet.Option in the
// teacher's lineage) rather than a config-file loader — spec.md's
// Non-goals exclude configuration files, not in-code options.
type Option func(*serverOptions)

type serverOptions struct {
	reusePort bool
	backlog   int
}

func defaultServerOptions() serverOptions {
	return serverOptions{backlog: 1024}
}

// WithReusePort enables SO_REUSEPORT on the listening socket, letting
// multiple processes (or, with per-loop listeners, multiple worker
// loops) share one address.
func WithReusePort(on bool) Option {
	return func(o *serverOptions) { o.reusePort = on }
}

// WithBacklog sets the listen(2) backlog.
func WithBacklog(n int) Option {
	return func(o *serverOptions) { o.backlog = n }
}

// Listen builds a Server the way applications typically want it: resolve
// Option values, then delegate to newServer, the constructor NewServer
// also uses.
func Listen(baseLoop *EventLoop, addr Addr, name string, opts ...Option) (*Server, error) {
	o := defaultServerOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return newServer(baseLoop, addr, name, o.reusePort, o.backlog)
}

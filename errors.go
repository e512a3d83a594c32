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

import "errors"

// Sentinel errors a caller can compare against with errors.Is. Named the
// way gnet's pkg/errors package names its sentinels.
var (
	// ErrLoopAlreadyExists is the fatal construction-time error raised
	// when a second EventLoop is created on a thread that already owns
	// one.
	ErrLoopAlreadyExists = errors.New("netreactor: an EventLoop already exists on this thread")
	// ErrUnsupportedOp marks a Non-goal explicitly rejected at the API
	// boundary (e.g. an IPv6 address passed to NewAddr).
	ErrUnsupportedOp = errors.New("netreactor: operation not supported")
)

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

// Package ostid exposes the current OS thread id where the platform
// makes one cheaply available, mirroring the original's
// CurrentThread::tid() cached-__thread-local trick (see
// original_source/CurrentThread.h). It is used only to implement
// EventLoop's same-thread fast path; callers must treat a false ok as
// "unknown, assume cross-thread".
package ostid

// Current returns the OS thread id backing the calling goroutine at the
// moment of the call, and whether the platform supports the concept
// cheaply. It is only meaningful for goroutines that called
// runtime.LockOSThread and never unlock, since otherwise the Go runtime
// is free to migrate the goroutine across OS threads between calls.
func Current() (int64, bool) {
	return current()
}

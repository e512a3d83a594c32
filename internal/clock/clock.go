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

// Package clock provides the monotonic timestamp source the rest of the
// module treats as an injected utility rather than core dispatch logic.
package clock

import "time"

// Timestamp is a point in time captured with time.Now(), which on every
// platform this module targets returns a value backed by the monotonic
// clock reading. Components that need "when did this event happen" take
// a Timestamp rather than calling time.Now() directly, so tests can
// construct fixed values.
type Timestamp struct {
	t time.Time
}

// Now captures the current instant.
func Now() Timestamp {
	return Timestamp{t: time.Now()}
}

// At wraps an existing time.Time, discarding the package's otherwise
// implicit "always time.Now()" rule — useful for tests and for replaying
// recorded receive times.
func At(t time.Time) Timestamp {
	return Timestamp{t: t}
}

// Time returns the underlying time.Time.
func (ts Timestamp) Time() time.Time { return ts.t }

// Valid reports whether the timestamp was ever set.
func (ts Timestamp) Valid() bool { return !ts.t.IsZero() }

// Sub returns ts-other as a duration, useful for computing how long a poll
// wait or a read took.
func (ts Timestamp) Sub(other Timestamp) time.Duration { return ts.t.Sub(other.t) }

// String renders a timestamp the way the original Timestamp::toFormattedString
// did: second-granularity wall clock plus a microsecond remainder.
func (ts Timestamp) String() string {
	return ts.t.Format("2006-01-02 15:04:05.000000")
}

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
	"testing"

	"golang.org/x/sys/unix"
)

func TestBufferAppendRetrieve(t *testing.T) {
	b := NewBuffer()
	if b.ReadableBytes() != 0 {
		t.Fatalf("new buffer should have 0 readable bytes, got %d", b.ReadableBytes())
	}
	if b.PrependableBytes() != prependSize {
		t.Fatalf("new buffer should reserve %d prependable bytes, got %d", prependSize, b.PrependableBytes())
	}

	b.Append([]byte("hello"))
	if b.ReadableBytes() != 5 {
		t.Fatalf("expected 5 readable bytes, got %d", b.ReadableBytes())
	}
	if got := b.RetrieveAsString(5); got != "hello" {
		t.Fatalf("expected %q, got %q", "hello", got)
	}
	if b.ReadableBytes() != 0 {
		t.Fatalf("expected 0 readable bytes after full retrieve, got %d", b.ReadableBytes())
	}
	// Fully drained: cursors reset to the start of the readable region.
	if b.PrependableBytes() != prependSize {
		t.Fatalf("expected cursors to reset to prependSize, got prependable=%d", b.PrependableBytes())
	}
}

func TestBufferPartialRetrieveKeepsRemainder(t *testing.T) {
	b := NewBuffer()
	b.Append([]byte("abcdef"))
	if got := b.RetrieveAsString(3); got != "abc" {
		t.Fatalf("expected %q, got %q", "abc", got)
	}
	if got := b.RetrieveAllAsString(); got != "def" {
		t.Fatalf("expected %q, got %q", "def", got)
	}
}

func TestBufferGrowsBeyondInitialCapacity(t *testing.T) {
	b := NewBuffer()
	payload := make([]byte, initialBufferSize*3)
	for i := range payload {
		payload[i] = byte(i)
	}
	b.Append(payload)
	if b.ReadableBytes() != len(payload) {
		t.Fatalf("expected %d readable bytes, got %d", len(payload), b.ReadableBytes())
	}
	got := b.Bytes()
	for i := range payload {
		if got[i] != payload[i] {
			t.Fatalf("payload mismatch at index %d: want %d got %d", i, payload[i], got[i])
		}
	}
}

func TestBufferEnsureWritableReclaimsViaShift(t *testing.T) {
	b := NewBuffer()
	b.Append([]byte("0123456789"))
	b.Retrieve(8) // readerIndex now far into the buffer, lots of prependable slack
	before := len(b.buf)
	// Ask for something that fits once the consumed prefix is reclaimed by
	// a shift, but would not fit in the current WritableBytes() alone.
	b.EnsureWritable(b.WritableBytes() + b.PrependableBytes() - prependSize)
	if len(b.buf) != before {
		t.Fatalf("expected EnsureWritable to reclaim space via shift without growing, cap changed from %d to %d", before, len(b.buf))
	}
}

func TestBufferReadFDAndWriteFDRoundTrip(t *testing.T) {
	fds := make([]int, 2)
	if err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0, fds); err != nil {
		t.Fatalf("socketpair: %v", err)
	}
	defer unix.Close(fds[0])
	defer unix.Close(fds[1])

	payload := []byte("the quick brown fox jumps over the lazy dog")
	if _, err := unix.Write(fds[0], payload); err != nil {
		t.Fatalf("write: %v", err)
	}

	in := NewBuffer()
	n, err := in.ReadFD(fds[1])
	if err != nil {
		t.Fatalf("ReadFD: %v", err)
	}
	if n != len(payload) {
		t.Fatalf("expected to read %d bytes, got %d", len(payload), n)
	}
	if got := in.RetrieveAllAsString(); got != string(payload) {
		t.Fatalf("expected %q, got %q", payload, got)
	}

	out := NewBuffer()
	out.Append(payload)
	wn, err := out.WriteFD(fds[0])
	if err != nil {
		t.Fatalf("WriteFD: %v", err)
	}
	out.Retrieve(wn)
	if out.ReadableBytes() != 0 {
		t.Fatalf("expected output buffer fully drained, %d bytes remain", out.ReadableBytes())
	}
}

func TestBufferReadFDOverflowsIntoLargerRead(t *testing.T) {
	fds := make([]int, 2)
	if err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0, fds); err != nil {
		t.Fatalf("socketpair: %v", err)
	}
	defer unix.Close(fds[0])
	defer unix.Close(fds[1])

	big := make([]byte, initialBufferSize+4096)
	for i := range big {
		big[i] = byte(i % 251)
	}
	go func() {
		_, _ = unix.Write(fds[0], big)
		_ = unix.Shutdown(fds[0], unix.SHUT_WR)
	}()

	in := NewBuffer()
	total := 0
	for total < len(big) {
		n, err := in.ReadFD(fds[1])
		if err != nil {
			if err == unix.EAGAIN {
				continue
			}
			t.Fatalf("ReadFD: %v", err)
		}
		if n == 0 {
			break
		}
		total += n
	}
	if total != len(big) {
		t.Fatalf("expected to eventually read %d bytes, got %d", len(big), total)
	}
	got := in.Bytes()
	for i := range big {
		if got[i] != big[i] {
			t.Fatalf("overflow payload mismatch at %d", i)
		}
	}
}

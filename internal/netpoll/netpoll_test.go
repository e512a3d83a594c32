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

package netpoll

import (
	"testing"
	"time"

	"golang.org/x/sys/unix"
)

func TestFacilityReportsReadReadiness(t *testing.T) {
	fds := make([]int, 2)
	if err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0, fds); err != nil {
		t.Fatalf("socketpair: %v", err)
	}
	defer unix.Close(fds[0])
	defer unix.Close(fds[1])

	f, err := Open()
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer f.Close()

	if err := f.Add(fds[1], Readable); err != nil {
		t.Fatalf("Add: %v", err)
	}

	if _, err := unix.Write(fds[0], []byte("ping")); err != nil {
		t.Fatalf("write: %v", err)
	}

	ready, err := f.Wait(1000)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	found := false
	for _, r := range ready {
		if r.FD == fds[1] && r.Events&Readable != 0 {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected fd %d to be reported readable, got %+v", fds[1], ready)
	}
}

func TestFacilityWakeUnblocksWait(t *testing.T) {
	f, err := Open()
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer f.Close()

	done := make(chan struct{})
	go func() {
		_, _ = f.Wait(30_000)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	if err := f.Wake(); err != nil {
		t.Fatalf("Wake: %v", err)
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Wake did not unblock a pending Wait within 5s")
	}
}

func TestFacilityModifyAndRemove(t *testing.T) {
	fds := make([]int, 2)
	if err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0, fds); err != nil {
		t.Fatalf("socketpair: %v", err)
	}
	defer unix.Close(fds[0])
	defer unix.Close(fds[1])

	f, err := Open()
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer f.Close()

	if err := f.Add(fds[1], Readable); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := f.Modify(fds[1], None); err != nil {
		t.Fatalf("Modify: %v", err)
	}
	if err := f.Remove(fds[1]); err != nil {
		t.Fatalf("Remove: %v", err)
	}
}

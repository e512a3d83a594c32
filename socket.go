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
	"os"

	"golang.org/x/sys/unix"
)

// socket owns exactly one OS descriptor and closes it in close(). It is a
// thin wrapper, not a core dispatch component — the collaborator spec.md
// calls Socket.
type socket struct {
	fd int
}

// listenSocket creates, binds, and starts listening on a non-blocking,
// close-on-exec IPv4 TCP socket.
func listenSocket(addr Addr, reusePort bool, backlog int) (*socket, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, unix.IPPROTO_TCP)
	if err != nil {
		return nil, os.NewSyscallError("socket", err)
	}
	s := &socket{fd: fd}

	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		s.close()
		return nil, os.NewSyscallError("setsockopt(SO_REUSEADDR)", err)
	}
	if reusePort {
		if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEPORT, 1); err != nil {
			s.close()
			return nil, os.NewSyscallError("setsockopt(SO_REUSEPORT)", err)
		}
	}
	if err := unix.Bind(fd, addr.sockaddr()); err != nil {
		s.close()
		return nil, os.NewSyscallError("bind", err)
	}
	if err := unix.Listen(fd, backlog); err != nil {
		s.close()
		return nil, os.NewSyscallError("listen", err)
	}
	return s, nil
}

// accept performs one non-blocking, atomically close-on-exec accept.
// Returns the bare unix.EAGAIN errno when nothing is pending.
func (s *socket) accept() (connFD int, peer Addr, err error) {
	nfd, sa, err := unix.Accept4(s.fd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
	if err != nil {
		return -1, Addr{}, err
	}
	sa4, ok := sa.(*unix.SockaddrInet4)
	if !ok {
		unix.Close(nfd)
		return -1, Addr{}, fmt.Errorf("netreactor: accepted non-IPv4 peer address")
	}
	return nfd, addrFromSockaddrInet4(sa4), nil
}

func (s *socket) localAddr() (Addr, error) {
	sa, err := unix.Getsockname(s.fd)
	if err != nil {
		return Addr{}, os.NewSyscallError("getsockname", err)
	}
	sa4, ok := sa.(*unix.SockaddrInet4)
	if !ok {
		return Addr{}, fmt.Errorf("netreactor: local address is not IPv4")
	}
	return addrFromSockaddrInet4(sa4), nil
}

func (s *socket) setKeepAlive(on bool) error {
	v := 0
	if on {
		v = 1
	}
	return unix.SetsockoptInt(s.fd, unix.SOL_SOCKET, unix.SO_KEEPALIVE, v)
}

// shutdownWrite half-closes the write side (spec.md's half-close).
func (s *socket) shutdownWrite() error {
	return os.NewSyscallError("shutdown", unix.Shutdown(s.fd, unix.SHUT_WR))
}

func (s *socket) close() error {
	return os.NewSyscallError("close", unix.Close(s.fd))
}

// wrapConnectedSocket wraps an already-accepted fd.
func wrapConnectedSocket(fd int) *socket { return &socket{fd: fd} }

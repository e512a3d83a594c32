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
	"net"

	"golang.org/x/sys/unix"
)

// Addr is the IPv4 endpoint value type the spec treats as an external
// collaborator (InetAddress). It is a small copyable value, not a core
// component — always passed and stored by value.
type Addr struct {
	ip   [4]byte
	port uint16
}

// NewAddr builds an Addr from a dotted-quad IP and a host-endian port. It
// returns ErrUnsupportedOp for anything that is not a dotted-quad IPv4
// address, since IPv6 is an explicit Non-goal.
func NewAddr(ip string, port uint16) (Addr, error) {
	parsed := net.ParseIP(ip)
	v4 := parsed.To4()
	if v4 == nil {
		return Addr{}, fmt.Errorf("%w: %q is not a dotted-quad IPv4 address", ErrUnsupportedOp, ip)
	}
	var a Addr
	copy(a.ip[:], v4)
	a.port = port
	return a, nil
}

// addrFromSockaddrInet4 builds an Addr from a raw sockaddr, as returned by
// accept4/getsockname.
func addrFromSockaddrInet4(sa *unix.SockaddrInet4) Addr {
	var a Addr
	copy(a.ip[:], sa.Addr[:])
	a.port = uint16(sa.Port)
	return a
}

func (a Addr) sockaddr() *unix.SockaddrInet4 {
	sa := &unix.SockaddrInet4{Port: int(a.port)}
	copy(sa.Addr[:], a.ip[:])
	return sa
}

// Port returns the host-endian port.
func (a Addr) Port() uint16 { return a.port }

// IP returns the dotted-quad string form of the address.
func (a Addr) IP() string {
	return net.IP(a.ip[:]).String()
}

// String renders "<dotted-quad>:<port>", the wire-facing format spec.md's
// External Interfaces section names, e.g. "127.0.0.1:8080".
func (a Addr) String() string {
	return fmt.Sprintf("%s:%d", a.IP(), a.port)
}

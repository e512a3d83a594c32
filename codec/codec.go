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

// Package codec defines the message-codec collaborator spec.md lists as
// "any user-supplied message codec" — out of the core's scope. The
// reactor never imports this package; it hands raw bytes to the
// application's MessageCallback and lets the application decide whether
// and how to frame them. This package exists purely as an optional,
// ready-made helper for applications that want one.
package codec

import (
	"encoding/binary"
	"errors"
)

// ErrIncomplete is returned by Decode when buf does not yet contain a
// full frame; the caller should leave buf untouched and wait for more
// bytes to arrive.
var ErrIncomplete = errors.New("codec: incomplete frame")

// Codec turns a connection's accumulated input bytes into application
// frames and turns outgoing frames into wire bytes. Decode must not
// consume from buf itself — it reports how many leading bytes make up
// the next frame (including the header) via the returned int, and the
// caller (the reactor's Buffer owner) performs the Retrieve.
type Codec interface {
	// Decode inspects buf (without mutating it) and returns the decoded
	// payload plus the total number of bytes the frame occupied in buf.
	// ErrIncomplete means "try again once more bytes arrive".
	Decode(buf []byte) (payload []byte, consumed int, err error)
	// Encode renders payload as a wire frame ready to hand to Conn.Send.
	Encode(payload []byte) []byte
}

// LengthPrefixed is a Codec using a 4-byte big-endian length header
// followed by that many bytes of payload — the simplest framing scheme
// and the one most of the pack's length-prefixed transports (smux,
// kcp-go) default to at the next layer up.
type LengthPrefixed struct {
	MaxFrameSize int
}

const lengthPrefixHeaderSize = 4

func (c LengthPrefixed) Decode(buf []byte) ([]byte, int, error) {
	if len(buf) < lengthPrefixHeaderSize {
		return nil, 0, ErrIncomplete
	}
	n := int(binary.BigEndian.Uint32(buf))
	if c.MaxFrameSize > 0 && n > c.MaxFrameSize {
		return nil, 0, errors.New("codec: frame exceeds MaxFrameSize")
	}
	total := lengthPrefixHeaderSize + n
	if len(buf) < total {
		return nil, 0, ErrIncomplete
	}
	payload := make([]byte, n)
	copy(payload, buf[lengthPrefixHeaderSize:total])
	return payload, total, nil
}

func (c LengthPrefixed) Encode(payload []byte) []byte {
	out := make([]byte, lengthPrefixHeaderSize+len(payload))
	binary.BigEndian.PutUint32(out, uint32(len(payload)))
	copy(out[lengthPrefixHeaderSize:], payload)
	return out
}

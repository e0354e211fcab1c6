// This Source Code Form is subject to the terms of the Mozilla Public
// License, version 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package transport implements the two wire primitives every higher layer
// builds on: a fixed-width, space-padded control message, and a
// length-prefixed blob sent as a control message followed by raw bytes.
package transport

import (
	"io"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// MessageLen is the fixed width, in bytes, of every control message.
const MessageLen = 256

// blobChunk is the chunk size used for streaming blob and file bodies.
const blobChunk = 8192

// Return codes shared by every higher-level protocol exchange. They are
// ordinary control messages, not a distinct wire type.
const (
	Success = "-1"
	Failure = "-2"
)

// ErrClosed is returned by Receive when the peer has closed the connection
// (an empty read on the socket).
var ErrClosed = errors.New("transport: connection closed")

// Conn wraps a byte stream with the two framing primitives. It is safe for
// use by one goroutine at a time; the session protocol never pipelines
// reads or writes.
type Conn struct {
	rw io.ReadWriter
}

// New wraps rw (typically a net.Conn) in a Conn.
func New(rw io.ReadWriter) *Conn {
	return &Conn{rw: rw}
}

// Send transmits a fixed-width control message: the payload padded with
// trailing spaces to exactly MessageLen bytes.
func (c *Conn) Send(payload string) error {
	if len(payload) > MessageLen {
		return errors.Errorf("transport: payload %d bytes exceeds MessageLen %d", len(payload), MessageLen)
	}
	buf := make([]byte, MessageLen)
	copy(buf, payload)
	for i := len(payload); i < MessageLen; i++ {
		buf[i] = ' '
	}
	n, err := c.rw.Write(buf)
	if err != nil {
		return errors.Wrap(err, "transport: send control message")
	}
	if n != MessageLen {
		return errors.Errorf("transport: short write, sent %d of %d bytes", n, MessageLen)
	}
	return nil
}

// Receive blocks until MessageLen bytes are read and returns the payload
// with trailing spaces stripped. It returns ErrClosed if the peer closed the
// connection before sending any byte of the message; a message cut short
// part-way is reported as a receive error instead.
func (c *Conn) Receive() (string, error) {
	buf := make([]byte, MessageLen)
	n, err := io.ReadFull(c.rw, buf)
	if n == 0 && (err == io.EOF || err == io.ErrUnexpectedEOF) {
		return "", ErrClosed
	}
	if err != nil {
		return "", errors.Wrap(err, "transport: receive control message")
	}
	return strings.TrimRight(string(buf), " "), nil
}

// SendBlob sends data as a length-prefixed blob: a control message with the
// decimal size, an acknowledgement round-trip, the raw bytes in chunks, then
// a final acknowledgement round-trip.
func (c *Conn) SendBlob(data []byte) error {
	if err := c.Send(strconv.Itoa(len(data))); err != nil {
		return err
	}
	if _, err := c.Receive(); err != nil {
		return err
	}
	for off := 0; off < len(data); {
		end := off + blobChunk
		if end > len(data) {
			end = len(data)
		}
		n, err := c.rw.Write(data[off:end])
		if err != nil {
			return errors.Wrap(err, "transport: send blob body")
		}
		off += n
	}
	if _, err := c.Receive(); err != nil {
		return err
	}
	return nil
}

// ReceiveBlob is the inverse of SendBlob.
func (c *Conn) ReceiveBlob() ([]byte, error) {
	sizeStr, err := c.Receive()
	if err != nil {
		return nil, err
	}
	size, err := strconv.Atoi(sizeStr)
	if err != nil {
		return nil, errors.Wrapf(err, "transport: invalid blob size %q", sizeStr)
	}
	if err := c.Send(""); err != nil {
		return nil, err
	}
	data := make([]byte, size)
	if size > 0 {
		if _, err := io.ReadFull(c.rw, data); err != nil {
			return nil, errors.Wrap(err, "transport: receive blob body")
		}
	}
	if err := c.Send(""); err != nil {
		return nil, err
	}
	return data, nil
}

// SendFile streams size bytes from r as a raw body, after the caller has
// already sent the SUCCESS/size control messages. It is used by the
// full-file transfer fallback and is distinct from SendBlob because there is
// no trailing acknowledgement — the receiver reports completion separately.
func (c *Conn) SendFile(r io.Reader, size int64) error {
	buf := make([]byte, blobChunk)
	for remaining := size; remaining > 0; {
		chunk := buf
		if remaining < int64(len(chunk)) {
			chunk = chunk[:remaining]
		}
		n, err := io.ReadFull(r, chunk)
		if err != nil {
			return errors.Wrap(err, "transport: read file body")
		}
		if _, err := c.rw.Write(chunk[:n]); err != nil {
			return errors.Wrap(err, "transport: send file body")
		}
		remaining -= int64(n)
	}
	return nil
}

// ReceiveFile copies exactly size bytes from the connection into w. A short
// read (peer closed mid-stream) is reported as ErrClosed.
func (c *Conn) ReceiveFile(w io.Writer, size int64) error {
	n, err := io.CopyN(w, c.rw, size)
	if err == io.EOF && n < size {
		return ErrClosed
	}
	if err != nil {
		return errors.Wrap(err, "transport: receive file body")
	}
	return nil
}

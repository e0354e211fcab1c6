// This Source Code Form is subject to the terms of the Mozilla Public
// License, version 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package transport

import (
	"bytes"
	"net"
	"testing"

	"github.com/hooklift/assert"
)

func pipe(t *testing.T) (*Conn, *Conn) {
	t.Helper()
	a, b := net.Pipe()
	t.Cleanup(func() { a.Close(); b.Close() })
	return New(a), New(b)
}

func TestControlMessageRoundTrip(t *testing.T) {
	client, server := pipe(t)

	done := make(chan error, 1)
	go func() { done <- client.Send("hello") }()

	got, err := server.Receive()
	assert.Ok(t, err)
	assert.Equals(t, "hello", got)
	assert.Ok(t, <-done)
}

func TestControlMessageStripsTrailingSpacesOnly(t *testing.T) {
	client, server := pipe(t)

	done := make(chan error, 1)
	go func() { done <- client.Send("-1") }()

	got, err := server.Receive()
	assert.Ok(t, err)
	assert.Equals(t, Success, got)
	assert.Ok(t, <-done)
}

func TestReceiveOnClosedConnection(t *testing.T) {
	client, server := pipe(t)
	client.rw.(net.Conn).Close()

	_, err := server.Receive()
	assert.Cond(t, err != nil, "expected an error on a closed connection")
}

func TestBlobRoundTrip(t *testing.T) {
	client, server := pipe(t)
	payload := bytes.Repeat([]byte("abc123"), 5000)

	done := make(chan error, 1)
	go func() { done <- client.SendBlob(payload) }()

	got, err := server.ReceiveBlob()
	assert.Ok(t, err)
	assert.Ok(t, <-done)
	assert.Cond(t, bytes.Equal(payload, got), "blob round-trip should be byte-identical")
}

func TestEmptyBlobRoundTrip(t *testing.T) {
	client, server := pipe(t)

	done := make(chan error, 1)
	go func() { done <- client.SendBlob(nil) }()

	got, err := server.ReceiveBlob()
	assert.Ok(t, err)
	assert.Ok(t, <-done)
	assert.Equals(t, 0, len(got))
}

func TestFileBodyRoundTrip(t *testing.T) {
	client, server := pipe(t)
	payload := []byte("the quick brown fox jumps over the lazy dog")

	done := make(chan error, 1)
	go func() { done <- client.SendFile(bytes.NewReader(payload), int64(len(payload))) }()

	var out bytes.Buffer
	err := server.ReceiveFile(&out, int64(len(payload)))
	assert.Ok(t, err)
	assert.Ok(t, <-done)
	assert.Cond(t, bytes.Equal(payload, out.Bytes()), "file body round-trip should be byte-identical")
}

// This Source Code Form is subject to the terms of the Mozilla Public
// License, version 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package wire defines the portable, explicit-byte-layout encoding for the
// small control objects that cross the session's socket: directory listings,
// event batches, checksum pairs and delta dictionaries/sequences.
//
// The source encodes these with a language-specific object pickler; this
// package defines one Go type per shape and gob-encodes it, registering all
// four shapes up front so either peer can decode a blob without first
// inspecting it.
package wire

import (
	"bytes"
	"encoding/gob"

	"github.com/pkg/errors"
)

func init() {
	gob.Register(PathList{})
	gob.Register(EventList{})
	gob.Register(ChecksumPair{})
	gob.Register(Delta1{})
	gob.Register(Delta2{})
}

// PathList is a list of shared-folder-relative paths, used for file listings
// and empty-folder listings.
type PathList []string

// EventKind mirrors the four watcher event kinds the coalescer classifies
// into.
type EventKind uint8

const (
	// Created marks a new file or directory.
	Created EventKind = iota
	// Modified marks a content change to an existing file.
	Modified
	// Moved marks a rename/move from Src to Dest.
	Moved
	// Deleted marks removal of a file or directory.
	Deleted
)

func (k EventKind) String() string {
	switch k {
	case Created:
		return "created"
	case Modified:
		return "modified"
	case Moved:
		return "moved"
	case Deleted:
		return "deleted"
	default:
		return "unknown"
	}
}

// Event is the 4-tuple (src, dest, is_dir, kind) from spec §3. Dest is set
// when Kind is Moved, and on a Modified event that the coalescer carried
// forward across a move, where it holds the pre-move path.
type Event struct {
	Src   string
	Dest  string
	IsDir bool
	Kind  EventKind
}

// EventList is an ordered batch of events, as produced by the coalescer and
// consumed by the reconciler/session transactions.
type EventList []Event

// ChecksumPair is the (relative_path, checksum_hex) pair exchanged during
// the delta engine's fast-path gate.
type ChecksumPair struct {
	Path     string
	Checksum string
}

// BlockRef is one (strong_hash, block_index) candidate for a given weak-hash
// bucket.
type BlockRef struct {
	Strong string
	Index  uint64
}

// Delta1 is the weak-hash-keyed dictionary published by the side being
// updated (U). Every bucket is always a list, even when it holds a single
// candidate — this module does not replicate the source's single-vs-list
// wire optimization (spec §9 design note).
type Delta1 struct {
	Buckets map[uint32][]BlockRef
}

// Delta2Item is one element of a Delta2 sequence: either a literal byte run
// or a reference to a block index in the receiver's original copy.
type Delta2Item struct {
	IsLiteral bool
	Literal   []byte
	Index     uint64
}

// Delta2 is the ordered reconstruction sequence returned by the side with
// the authoritative copy (A).
type Delta2 struct {
	Items []Delta2Item
}

// Encode gob-encodes v into a byte slice suitable for transport.SendBlob.
func Encode(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, errors.Wrap(err, "wire: encode")
	}
	return buf.Bytes(), nil
}

// Decode gob-decodes data into v, the inverse of Encode.
func Decode(data []byte, v interface{}) error {
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(v); err != nil {
		return errors.Wrap(err, "wire: decode")
	}
	return nil
}

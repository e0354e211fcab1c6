// This Source Code Form is subject to the terms of the Mozilla Public
// License, version 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package delta implements the block-matching file reconstruction scheme:
// the side that must update its copy (U) publishes block hashes, the side
// with the authoritative copy (A) scans its file with a sliding window and
// reports indices or literal bytes, and U reassembles.
//
// Hashing, scanning and reassembly run synchronously on the caller's
// goroutine, without the teacher (c4milo/gsync)'s channel pipeline, and the
// core match loop is a byte-at-a-time rolling scan rather than gsync's
// block-aligned read loop, because the spec's algorithm (one candidate match
// per byte position, not per block boundary) requires it.
package delta

import (
	"bytes"
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/c4milo/filesync/blocks"
	"github.com/c4milo/filesync/wire"
)

// ErrCorrupt is returned when a Delta2 stream contains neither a valid
// index nor literal bytes in a position where one is required.
var ErrCorrupt = errors.New("delta: corrupted delta-2 stream")

// BuildDelta1 reads path's blocks and returns the Delta1 dictionary:
// weak-hash to every (strong, index) candidate that produced it.
// originalBlocks is the parallel ordered block content, needed later for
// reassembly.
func BuildDelta1(path string) (d1 wire.Delta1, originalBlocks [][]byte, err error) {
	originalBlocks, err = blocks.ReadBlocks(path)
	if err != nil {
		return wire.Delta1{}, nil, err
	}
	d1.Buckets = make(map[uint32][]wire.BlockRef, len(originalBlocks))
	for i, b := range originalBlocks {
		weak := blocks.WeakHash(b)
		strong := blocks.StrongHash(b)
		d1.Buckets[weak] = append(d1.Buckets[weak], wire.BlockRef{Strong: strong, Index: uint64(i)})
	}
	return d1, originalBlocks, nil
}

// lookup finds the BlockRef in d1 whose strong hash matches window, if any.
func lookup(d1 wire.Delta1, weak uint32, window []byte) (wire.BlockRef, bool) {
	candidates, ok := d1.Buckets[weak]
	if !ok {
		return wire.BlockRef{}, false
	}
	strong := blocks.StrongHash(window)
	for _, c := range candidates {
		if c.Strong == strong {
			return c, true
		}
	}
	return wire.BlockRef{}, false
}

// ComputeDelta2 scans path (A's authoritative file) one byte at a time
// against d1 (U's published hashes) and produces the reconstruction
// sequence: literal byte runs for unmatched data, block indices for runs
// that match one of U's blocks.
func ComputeDelta2(path string, d1 wire.Delta1) (wire.Delta2, error) {
	f, err := os.Open(path)
	if err != nil {
		return wire.Delta2{}, errors.Wrapf(err, "delta: open %s", path)
	}
	defer f.Close()

	var (
		out      wire.Delta2
		window   []byte
		prefix   []byte
		weakHash uint32
	)

	flushPrefix := func() {
		if len(prefix) > 0 {
			out.Items = append(out.Items, wire.Delta2Item{IsLiteral: true, Literal: prefix})
			prefix = nil
		}
	}

	buf := make([]byte, 1)
	for {
		n, err := f.Read(buf)
		if n == 0 {
			if err == io.EOF {
				break
			}
			if err != nil {
				return wire.Delta2{}, errors.Wrapf(err, "delta: read %s", path)
			}
			continue
		}
		b := buf[0]

		switch {
		case len(window) < blocks.Size:
			window = append(window, b)
			weakHash += 5 * uint32(b)

		default: // len(window) == blocks.Size
			if ref, ok := lookup(d1, weakHash, window); ok {
				flushPrefix()
				out.Items = append(out.Items, wire.Delta2Item{Index: ref.Index})
				window = []byte{b}
				weakHash = 5 * uint32(b)
				continue
			}
			prefix = append(prefix, window[0])
			weakHash = blocks.RollWeakHash(weakHash, window[0], b)
			window = append(window[1:], b)
		}

		if err == io.EOF {
			break
		}
		if err != nil {
			return wire.Delta2{}, errors.Wrapf(err, "delta: read %s", path)
		}
	}

	flushPrefix()

	if len(window) > 0 {
		if ref, ok := lookup(d1, weakHash, window); ok {
			out.Items = append(out.Items, wire.Delta2Item{Index: ref.Index})
		} else {
			out.Items = append(out.Items, wire.Delta2Item{IsLiteral: true, Literal: window})
		}
	}

	return out, nil
}

// Unchanged reports whether a Delta2 sequence is entirely indices, each
// equal to its own position. Together with a sequence length equal to the
// original block count, this is the shortcut meaning the file did not
// change; on its own it also holds when the new file is a block-aligned
// prefix of the old one.
func Unchanged(d2 wire.Delta2) bool {
	for i, item := range d2.Items {
		if item.IsLiteral || item.Index != uint64(i) {
			return false
		}
	}
	return true
}

// Reassemble writes U's new file content to dstPath by walking a Delta2
// sequence, substituting literal bytes or blocks from originalBlocks (U's
// pre-delta copy) for each item. When d2 reproduces originalBlocks exactly,
// nothing is written.
func Reassemble(dstPath string, originalBlocks [][]byte, d2 wire.Delta2) error {
	if len(d2.Items) == len(originalBlocks) && Unchanged(d2) {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(dstPath), 0755); err != nil {
		return errors.Wrapf(err, "delta: mkdir for %s", dstPath)
	}

	f, err := os.Create(dstPath)
	if err != nil {
		return errors.Wrapf(err, "delta: create %s", dstPath)
	}
	defer f.Close()

	var buf bytes.Buffer
	for _, item := range d2.Items {
		if item.IsLiteral {
			buf.Write(item.Literal)
			continue
		}
		if int(item.Index) >= len(originalBlocks) {
			return errors.Wrapf(ErrCorrupt, "index %d out of range (have %d blocks)", item.Index, len(originalBlocks))
		}
		buf.Write(originalBlocks[item.Index])
	}

	if _, err := f.Write(buf.Bytes()); err != nil {
		return errors.Wrapf(err, "delta: write %s", dstPath)
	}
	return nil
}

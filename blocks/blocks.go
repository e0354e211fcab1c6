// This Source Code Form is subject to the terms of the Mozilla Public
// License, version 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package blocks implements the fixed-size block hashing scheme the delta
// engine matches against: a weak, cheaply-rolled checksum and a strong,
// collision-resistant digest per block, plus a whole-file checksum used for
// the fast-path sync gate.
package blocks

import (
	"crypto/sha1"
	"encoding/hex"
	"io"
	"os"

	"github.com/pkg/errors"
)

// Size is the fixed block size in bytes used for both block hashing and the
// delta engine's sliding window. The source's file format is not versioned,
// so peers must agree on this constant out of band.
const Size = 256

// checksumChunk is the read size used for the whole-file checksum; it has no
// bearing on block boundaries.
const checksumChunk = 8192

// WeakHash is the rolling checksum: the arithmetic sum of 5*byte over the
// block. It is trivially rolling: sliding the window by one byte subtracts
// 5*outgoing and adds 5*incoming.
func WeakHash(block []byte) uint32 {
	var sum uint32
	for _, b := range block {
		sum += 5 * uint32(b)
	}
	return sum
}

// RollWeakHash updates a weak hash in place as the window slides by one
// byte: 'outgoing' leaves the window, 'incoming' enters it.
func RollWeakHash(hash uint32, outgoing, incoming byte) uint32 {
	return hash - 5*uint32(outgoing) + 5*uint32(incoming)
}

// StrongHash returns the hex-encoded SHA-1 digest of a block. Any
// collision-resistant digest of at least 160 bits is an acceptable
// substitute; this module uses SHA-1 to match the reference implementation.
func StrongHash(block []byte) string {
	sum := sha1.Sum(block)
	return hex.EncodeToString(sum[:])
}

// ReadBlocks reads a file into an ordered sequence of block-sized byte
// slices. The final block may be shorter than Size.
func ReadBlocks(path string) ([][]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "blocks: open %s", path)
	}
	defer f.Close()

	var out [][]byte
	buf := make([]byte, Size)
	for {
		n, err := io.ReadFull(f, buf)
		if n > 0 {
			block := make([]byte, n)
			copy(block, buf[:n])
			out = append(out, block)
		}
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			break
		}
		if err != nil {
			return nil, errors.Wrapf(err, "blocks: read %s", path)
		}
	}
	return out, nil
}

// Hashes reads a file into parallel weak and strong hash arrays, one entry
// per Size-byte block (final block may be shorter).
func Hashes(path string) (weak []uint32, strong []string, err error) {
	blocks, err := ReadBlocks(path)
	if err != nil {
		return nil, nil, err
	}
	weak = make([]uint32, len(blocks))
	strong = make([]string, len(blocks))
	for i, b := range blocks {
		weak[i] = WeakHash(b)
		strong[i] = StrongHash(b)
	}
	return weak, strong, nil
}

// FileChecksum computes a streaming SHA-1 checksum over the whole file in
// 8 KiB reads, hex-encoded.
func FileChecksum(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", errors.Wrapf(err, "blocks: open %s", path)
	}
	defer f.Close()

	h := sha1.New()
	buf := make([]byte, checksumChunk)
	for {
		n, err := f.Read(buf)
		if n > 0 {
			h.Write(buf[:n])
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", errors.Wrapf(err, "blocks: read %s", path)
		}
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

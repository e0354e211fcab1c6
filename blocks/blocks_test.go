// This Source Code Form is subject to the terms of the Mozilla Public
// License, version 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package blocks

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/hooklift/assert"
)

func writeTemp(t *testing.T, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "f.bin")
	assert.Ok(t, os.WriteFile(path, data, 0640))
	return path
}

func TestWeakHashRolling(t *testing.T) {
	data := []byte("abcdefgh")
	window := data[:4]
	h := WeakHash(window)
	for i := 4; i < len(data); i++ {
		h = RollWeakHash(h, data[i-4], data[i])
		direct := WeakHash(data[i-3 : i+1])
		assert.Equals(t, direct, h)
	}
}

func TestStrongHashStable(t *testing.T) {
	a := StrongHash([]byte("hello"))
	b := StrongHash([]byte("hello"))
	assert.Equals(t, a, b)
	assert.Cond(t, a != StrongHash([]byte("hellp")), "different blocks should hash differently")
}

func TestReadBlocksSplitsOnSize(t *testing.T) {
	data := make([]byte, Size+10)
	for i := range data {
		data[i] = byte(i)
	}
	path := writeTemp(t, data)

	blks, err := ReadBlocks(path)
	assert.Ok(t, err)
	assert.Equals(t, 2, len(blks))
	assert.Equals(t, Size, len(blks[0]))
	assert.Equals(t, 10, len(blks[1]))
}

func TestHashesParallelArrays(t *testing.T) {
	path := writeTemp(t, make([]byte, Size*3))
	weak, strong, err := Hashes(path)
	assert.Ok(t, err)
	assert.Equals(t, 3, len(weak))
	assert.Equals(t, 3, len(strong))
}

func TestFileChecksumMatchesForIdenticalContent(t *testing.T) {
	p1 := writeTemp(t, []byte("same content"))
	p2 := writeTemp(t, []byte("same content"))
	c1, err := FileChecksum(p1)
	assert.Ok(t, err)
	c2, err := FileChecksum(p2)
	assert.Ok(t, err)
	assert.Equals(t, c1, c2)
}

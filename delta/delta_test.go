// This Source Code Form is subject to the terms of the Mozilla Public
// License, version 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package delta

import (
	"bytes"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/hooklift/assert"
	"github.com/pkg/profile"

	"github.com/c4milo/filesync/blocks"
	"github.com/c4milo/filesync/wire"
)

func write(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	assert.Ok(t, os.WriteFile(path, data, 0640))
	return path
}

// roundTrip runs a full delta round: U holds oldData, A holds newData, and
// asserts U ends up with newData byte-for-byte.
func roundTrip(t *testing.T, oldData, newData []byte) {
	t.Helper()
	dir := t.TempDir()
	oldPath := write(t, dir, "old.bin", oldData)
	newPath := write(t, dir, "new.bin", newData)
	dstPath := filepath.Join(dir, "reassembled.bin")

	d1, originalBlocks, err := BuildDelta1(oldPath)
	assert.Ok(t, err)

	d2, err := ComputeDelta2(newPath, d1)
	assert.Ok(t, err)

	assert.Ok(t, Reassemble(dstPath, originalBlocks, d2))

	if len(d2.Items) == len(originalBlocks) && Unchanged(d2) {
		// Reassemble is a no-op in this case; U's file already equals A's.
		assert.Cond(t, bytes.Equal(oldData, newData), "Unchanged reported for differing content")
		return
	}

	got, err := os.ReadFile(dstPath)
	assert.Ok(t, err)
	assert.Cond(t, bytes.Equal(newData, got), "reassembled content should equal new content")
}

func TestDeltaRoundTripIdenticalFiles(t *testing.T) {
	data := bytes.Repeat([]byte("same content "), 100)
	roundTrip(t, data, data)
}

func TestDeltaRoundTripSmallEdit(t *testing.T) {
	old := bytes.Repeat([]byte{'A'}, blocks.Size*4)
	modified := make([]byte, len(old))
	copy(modified, old)
	modified[blocks.Size*2+10] = 'X'
	roundTrip(t, old, modified)
}

func TestDeltaRoundTripAppend(t *testing.T) {
	old := bytes.Repeat([]byte{'B'}, blocks.Size*2)
	appended := append(append([]byte{}, old...), []byte("tail bytes appended to the file")...)
	roundTrip(t, old, appended)
}

func TestDeltaRoundTripPrepend(t *testing.T) {
	old := bytes.Repeat([]byte{'C'}, blocks.Size*3)
	prepended := append([]byte("new header bytes before the old content"), old...)
	roundTrip(t, old, prepended)
}

func TestDeltaRoundTripShrink(t *testing.T) {
	old := bytes.Repeat([]byte{'D'}, blocks.Size*5)
	shrunk := old[:blocks.Size*2+17]
	roundTrip(t, old, shrunk)
}

func TestDeltaRoundTripTotallyDifferent(t *testing.T) {
	old := bytes.Repeat([]byte{'E'}, blocks.Size*3)
	different := bytes.Repeat([]byte{'F'}, blocks.Size*3)
	roundTrip(t, old, different)
}

func TestDeltaRoundTripRandomLarge(t *testing.T) {
	defer profile.Start().Stop()

	r := rand.New(rand.NewSource(7))
	old := make([]byte, blocks.Size*10)
	r.Read(old)
	newData := append([]byte{}, old...)
	// Splice in a run of novel bytes in the middle, shifting everything after.
	novel := make([]byte, blocks.Size+37)
	r.Read(novel)
	newData = append(newData[:blocks.Size*4], append(novel, newData[blocks.Size*4:]...)...)

	roundTrip(t, old, newData)
}

func TestUnchangedRequiresIdentityPositions(t *testing.T) {
	// Entirely indices, each at its own position: unchanged.
	d2 := wire.Delta2{Items: []wire.Delta2Item{{Index: 0}, {Index: 1}, {Index: 2}}}
	assert.Cond(t, Unchanged(d2), "sequential self-indices should be reported unchanged")

	// Same indices, reordered: not unchanged.
	d2 = wire.Delta2{Items: []wire.Delta2Item{{Index: 1}, {Index: 0}, {Index: 2}}}
	assert.Cond(t, !Unchanged(d2), "reordered indices should not be reported unchanged")
}

// This Source Code Form is subject to the terms of the Mozilla Public
// License, version 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package coalesce

import (
	"testing"

	"github.com/hooklift/assert"

	"github.com/c4milo/filesync/inventory"
	"github.com/c4milo/filesync/watcher"
	"github.com/c4milo/filesync/wire"
)

func chanOf(events ...watcher.Event) chan watcher.Event {
	ch := make(chan watcher.Event, len(events))
	for _, e := range events {
		ch <- e
	}
	return ch
}

func newInv(t *testing.T, files ...string) *inventory.Inventory {
	t.Helper()
	inv, err := inventory.New(t.TempDir())
	assert.Ok(t, err)
	for _, f := range files {
		inv.AddLocalFile(f)
	}
	return inv
}

func TestDuplicateEventsCoalesceToOne(t *testing.T) {
	inv := newInv(t)
	events := chanOf(
		watcher.Event{Src: "a.txt", Kind: wire.Created},
		watcher.Event{Src: "a.txt", Kind: wire.Created},
	)

	out := Drain(events, inv)
	assert.Equals(t, 1, len(out))
}

func TestMoveReclassifiedAsModifiedWhenSourceUnknown(t *testing.T) {
	inv := newInv(t, "dest.txt")
	events := chanOf(watcher.Event{Src: "temp-buffer", Dest: "dest.txt", Kind: wire.Moved})

	out := Drain(events, inv)
	assert.Equals(t, 1, len(out))
	assert.Equals(t, wire.Modified, out[0].Kind)
	assert.Equals(t, "dest.txt", out[0].Src)
}

func TestGenuineMoveStaysAMove(t *testing.T) {
	inv := newInv(t, "a.txt")
	events := chanOf(watcher.Event{Src: "a.txt", Dest: "sub/a.txt", Kind: wire.Moved})

	out := Drain(events, inv)
	assert.Equals(t, 1, len(out))
	assert.Equals(t, wire.Moved, out[0].Kind)
	assert.Cond(t, !inv.HasLocalFile("a.txt"), "source should be removed from the inventory")
	assert.Cond(t, inv.HasLocalFile("sub/a.txt"), "destination should be added to the inventory")
}

func TestPendingModifiedCarriesForwardOntoMoveDestination(t *testing.T) {
	inv := newInv(t, "a.txt")
	events := chanOf(
		watcher.Event{Src: "a.txt", Kind: wire.Modified},
		watcher.Event{Src: "a.txt", Dest: "sub/a.txt", Kind: wire.Moved},
	)

	out := Drain(events, inv)

	var sawMove, sawModifiedOnDest bool
	for _, e := range out {
		if e.Kind == wire.Moved && e.Src == "a.txt" && e.Dest == "sub/a.txt" {
			sawMove = true
		}
		if e.Kind == wire.Modified && e.Src == "sub/a.txt" {
			sawModifiedOnDest = true
		}
	}
	assert.Cond(t, sawMove, "expected the move itself to be emitted")
	assert.Cond(t, sawModifiedOnDest, "expected the pending modify to carry forward onto the destination")
}

func TestJustReceivedEchoIsSuppressedOnce(t *testing.T) {
	inv := newInv(t)
	echo := wire.Event{Src: "a.txt", Kind: wire.Created}
	inv.AddJustReceived(echo)

	out := Drain(chanOf(watcher.Event{Src: "a.txt", Kind: wire.Created}), inv)
	assert.Equals(t, 0, len(out))

	// A second, unrelated CREATED for the same path is a genuine new event.
	out = Drain(chanOf(watcher.Event{Src: "a.txt", Kind: wire.Created}), inv)
	assert.Equals(t, 1, len(out))
}

func TestDeletedRemovesFromInventory(t *testing.T) {
	inv := newInv(t, "a.txt")
	out := Drain(chanOf(watcher.Event{Src: "a.txt", Kind: wire.Deleted}), inv)

	assert.Equals(t, 1, len(out))
	assert.Cond(t, !inv.HasLocalFile("a.txt"), "deleted file should be removed from the inventory")
}

func TestOnlyEventsPresentAtDrainStartAreConsumed(t *testing.T) {
	inv := newInv(t)
	ch := make(chan watcher.Event, 4)
	ch <- watcher.Event{Src: "a.txt", Kind: wire.Created}

	out := Drain(ch, inv)
	assert.Equals(t, 1, len(out))

	// A second event queued after Drain started is left for the next tick.
	ch <- watcher.Event{Src: "b.txt", Kind: wire.Created}
	assert.Equals(t, 1, len(ch))
}

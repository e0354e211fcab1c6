// This Source Code Form is subject to the terms of the Mozilla Public
// License, version 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package coalesce drains the watcher's event channel into a deduplicated,
// classified batch ready for the session's sync round, reclassifying
// spurious move-as-modify events and suppressing echoes of the engine's own
// writes.
package coalesce

import (
	"github.com/c4milo/filesync/inventory"
	"github.com/c4milo/filesync/watcher"
	"github.com/c4milo/filesync/wire"
)

// Drain pulls up to the current length of events off the channel (so events
// arriving mid-coalesce are deferred to the next tick), classifies them, and
// returns the ordered event list for this round, updating inv's local file
// set and just-received suppression along the way.
//
// This reproduces host.py's filter_queue: the classification key is the full
// 4-tuple, last write wins, and a MOVED event whose source the inventory
// doesn't know about but whose destination it does is folded into a
// MODIFIED on the destination — the common pattern of an editor replacing a
// file by renaming a temp file into place.
func Drain(events <-chan watcher.Event, inv *inventory.Inventory) wire.EventList {
	n := len(events)
	classified := make(map[wire.Event]wire.EventKind, n)
	order := make([]wire.Event, 0, n)

	recordOnce := func(key wire.Event, kind wire.EventKind) {
		if _, exists := classified[key]; !exists {
			order = append(order, key)
		}
		classified[key] = kind
	}

	for i := 0; i < n; i++ {
		ev := <-events

		switch ev.Kind {
		case wire.Created, wire.Deleted:
			recordOnce(wire.Event{Src: ev.Src, IsDir: ev.IsDir, Kind: ev.Kind}, ev.Kind)

		case wire.Modified:
			recordOnce(wire.Event{Src: ev.Src, IsDir: ev.IsDir, Kind: wire.Modified}, wire.Modified)

		case wire.Moved:
			if !inv.HasLocalFile(ev.Src) && inv.HasLocalFile(ev.Dest) {
				recordOnce(wire.Event{Src: ev.Dest, IsDir: ev.IsDir, Kind: wire.Modified}, wire.Modified)
				continue
			}
			key := wire.Event{Src: ev.Src, Dest: ev.Dest, IsDir: ev.IsDir, Kind: wire.Moved}
			recordOnce(key, wire.Moved)

			// If the source had a pending MODIFIED, carry it forward onto
			// the destination so the content change isn't lost. Dest on
			// this synthetic event holds the pre-move path, marking it as
			// the carried-forward case (spec §4.6) rather than an ordinary
			// same-path modify.
			modKey := wire.Event{Src: ev.Src, IsDir: ev.IsDir, Kind: wire.Modified}
			if _, hadModify := classified[modKey]; hadModify {
				recordOnce(wire.Event{Src: ev.Dest, Dest: ev.Src, IsDir: ev.IsDir, Kind: wire.Modified}, wire.Modified)
			}
		}
	}

	var out wire.EventList
	for _, key := range order {
		kind := classified[key]
		elem := key
		elem.Kind = kind

		if inv.TakeJustReceived(elem) {
			continue
		}

		switch kind {
		case wire.Created:
			inv.AddLocalFile(elem.Src)
			out = append(out, elem)
		case wire.Deleted:
			inv.RemoveLocalFile(elem.Src)
			out = append(out, elem)
		case wire.Moved:
			inv.RemoveLocalFile(elem.Src)
			inv.AddLocalFile(elem.Dest)
			out = append(out, elem)
		case wire.Modified:
			if elem.Dest != "" {
				// Carried-forward case: elem.Dest is the stale pre-move
				// path, already removed by the MOVED handling above; this
				// mirrors the source's defensive removal.
				inv.RemoveLocalFile(elem.Dest)
			}
			out = append(out, elem)
		}
	}

	return out
}

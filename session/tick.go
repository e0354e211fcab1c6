// This Source Code Form is subject to the terms of the Mozilla Public
// License, version 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package session

import (
	"time"

	"github.com/c4milo/filesync/coalesce"
	"github.com/c4milo/filesync/reconcile"
	"github.com/c4milo/filesync/watcher"
	"github.com/c4milo/filesync/wire"
)

// transportMore and transportDone are the per-event control tokens
// send_all_data/receive_all_data use to announce "one more event follows"
// versus "this round is over" (§4.8.3). They share the control-message
// channel with the SUCCESS/FAILURE sentinels but are never mistaken for them
// since the two vocabularies are never compared against each other.
const (
	transportMore = "MORE"
	transportDone = "DONE"
)

// intent is one side's per-tick announcement: e (no local changes), c
// (created/deleted/moved only), s (modified only), or a combination.
type intent string

const (
	intentEmpty    intent = "e"
	intentCreated  intent = "c"
	intentModified intent = "s"
	intentBoth     intent = "sc"
	intentBothRev  intent = "cs"
)

// tickInterval is the pause between idle ticks when neither side has
// anything to sync, matching the source's polling cadence.
const tickInterval = 1 * time.Second

// Run drives the steady-state loop (§4.8.2) until Stop is called or the
// intent exchange with the peer fails; errors reported on w.Errors are not
// consulted. Each tick: wait for the local watcher to settle, coalesce
// pending events into created/deleted/moved and modified buckets, exchange
// intent tokens with the peer (each side sends its own token, then reads the
// peer's), derive the combined intent, then run whichever combination of
// sendAllData/receiveAllData that combined intent calls for.
func (s *Session) Run(w *watcher.Watcher) error {
	for {
		select {
		case <-s.stop:
			return nil
		default:
		}

		if !w.Ready() {
			s.Log.Progress()
			time.Sleep(tickInterval)
			continue
		}

		events := coalesce.Drain(w.Events, s.Inv)
		local := classify(events)

		combined, err := s.exchangeIntent(local.intent())
		if err != nil {
			return err
		}

		s.Inv.ClearJustReceived()
		if err := s.runCombined(combined, local); err != nil {
			s.Log.Error(err)
		}

		s.Inv.ClearJustReceived()
		time.Sleep(tickInterval)
	}
}

// localEvents splits a coalesced batch into the two buckets the wire
// protocol treats independently: created/deleted/moved (structural changes)
// and modified (content changes to matched files).
type localEvents struct {
	created  wire.EventList
	modified wire.EventList
}

func classify(events wire.EventList) localEvents {
	var le localEvents
	for _, ev := range events {
		switch ev.Kind {
		case wire.Modified:
			le.modified = append(le.modified, ev)
		default:
			le.created = append(le.created, ev)
		}
	}
	return le
}

func (le localEvents) intent() intent {
	hasCreated := len(le.created) > 0
	hasModified := len(le.modified) > 0
	switch {
	case hasCreated && hasModified:
		return intentBoth
	case hasCreated:
		return intentCreated
	case hasModified:
		return intentModified
	default:
		return intentEmpty
	}
}

// exchangeIntent sends this side's intent and then receives the peer's, the
// same order on both sides, and returns the combined intent both sides
// derive identically and independently from the pair.
func (s *Session) exchangeIntent(local intent) (intent, error) {
	var serverIntent, clientIntent intent

	if err := s.Conn.Send(string(local)); err != nil {
		return intentEmpty, err
	}
	peer, err := s.Conn.Receive()
	if err != nil {
		return intentEmpty, err
	}
	if s.isServer() {
		serverIntent, clientIntent = local, intent(peer)
	} else {
		serverIntent, clientIntent = intent(peer), local
	}

	return deriveCombined(serverIntent, clientIntent, s.Mode), nil
}

// deriveCombined is the pure function both sides compute identically (§4.8.2,
// resolving Open Question 3). When only one side has pending work, that side
// sends first. When both sides have pending work, the mode's priority family
// decides who goes first: client-priority modes (ClientPriority,
// ClientOverwriting) resolve steady-state conflicts toward the client ("cs"),
// server-priority modes (ServerPriority, ServerOverwriting) resolve them
// toward the server ("sc"), matching server.py/client.py's mode-dependent
// branch rather than always favoring one side.
func deriveCombined(server, client intent, mode reconcile.Mode) intent {
	if server == intentEmpty && client == intentEmpty {
		return intentEmpty
	}
	if server != intentEmpty && client != intentEmpty {
		if mode == reconcile.ClientPriority || mode == reconcile.ClientOverwriting {
			return intentBothRev
		}
		return intentBoth
	}
	if server != intentEmpty {
		return intentBoth
	}
	return intentBothRev
}

// runCombined dispatches to sendAllData/receiveAllData in the order the
// combined intent calls for. Under "sc" the server sends before receiving
// and the client mirrors that by receiving before sending; under "cs" the
// roles invert. TCP is full duplex so this ordering never deadlocks — it
// only fixes which side's data a given round of acks belongs to.
func (s *Session) runCombined(combined intent, local localEvents) error {
	if combined == intentEmpty {
		return nil
	}

	sendFirst := func() error {
		if err := s.sendAllData(local); err != nil {
			return err
		}
		return s.receiveAllData()
	}
	receiveFirst := func() error {
		if err := s.receiveAllData(); err != nil {
			return err
		}
		return s.sendAllData(local)
	}

	switch combined {
	case intentBothRev: // "cs": server receives first, client sends first
		if s.isServer() {
			return receiveFirst()
		}
		return sendFirst()
	default: // "sc", "c", "s": server sends first, client receives first
		if s.isServer() {
			return sendFirst()
		}
		return receiveFirst()
	}
}

// sendAllData pushes this side's locally observed events to the peer
// (§4.8.3): structural events first (created/deleted/moved), then modified
// content for any matched file this side edited.
func (s *Session) sendAllData(local localEvents) error {
	for _, ev := range local.created {
		if err := s.sendEvent(ev); err != nil {
			s.Log.Error(err)
		}
	}
	for _, ev := range local.modified {
		if err := s.sendEvent(ev); err != nil {
			s.Log.Error(err)
		}
	}
	return s.Conn.Send(transportDone)
}

// receiveAllData reads events from the peer until the peer signals it is
// done for this round, dispatching each into the matching transaction.
func (s *Session) receiveAllData() error {
	for {
		ev, done, err := s.receiveEvent()
		if err != nil {
			return err
		}
		if done {
			return nil
		}
		if err := s.applyReceivedEvent(ev); err != nil {
			s.Log.Error(err)
		}
	}
}

func (s *Session) applyReceivedEvent(ev wire.Event) error {
	switch ev.Kind {
	case wire.Created:
		if ev.IsDir {
			return s.createdFolders(ev)
		}
		return s.receiveCreated(ev)
	case wire.Modified:
		return s.receiveModified(ev)
	case wire.Moved:
		return s.receiveMove(ev)
	case wire.Deleted:
		return s.remove(ev)
	default:
		return nil
	}
}

// sendEvent announces one event's header to the peer, then runs this side's
// half of whichever transaction applies, honoring the server.py/client.py
// fallback rule that a failed delta round degrades to a full-file transfer
// rather than aborting the tick.
func (s *Session) sendEvent(ev wire.Event) error {
	data, err := wire.Encode(ev)
	if err != nil {
		return err
	}
	if err := s.Conn.Send(transportMore); err != nil {
		return err
	}
	if err := s.Conn.SendBlob(data); err != nil {
		return err
	}

	switch ev.Kind {
	case wire.Created:
		if ev.IsDir {
			return nil
		}
		return s.sendCreated(ev)
	case wire.Modified:
		return s.sendModified(ev)
	case wire.Moved:
		return s.sendMove(ev)
	case wire.Deleted:
		return nil
	default:
		return nil
	}
}

func (s *Session) receiveEvent() (wire.Event, bool, error) {
	status, err := s.Conn.Receive()
	if err != nil {
		return wire.Event{}, false, err
	}
	if status == transportDone {
		return wire.Event{}, true, nil
	}

	data, err := s.Conn.ReceiveBlob()
	if err != nil {
		return wire.Event{}, false, err
	}
	var ev wire.Event
	if err := wire.Decode(data, &ev); err != nil {
		return wire.Event{}, false, err
	}
	return ev, false, nil
}

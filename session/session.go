// This Source Code Form is subject to the terms of the Mozilla Public
// License, version 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package session drives one peer's half of the protocol over an already
// connected transport.Conn: the handshake and one-shot reconciliation
// (§4.8.1), then the steady-state tick loop with symmetric intent exchange
// (§4.8.2) dispatching into send_all_data/receive_all_data (§4.8.3) and the
// six per-event transactions (§4.8.4).
package session

import (
	"strconv"

	"github.com/pkg/errors"

	"github.com/c4milo/filesync/inventory"
	"github.com/c4milo/filesync/logging"
	"github.com/c4milo/filesync/reconcile"
	"github.com/c4milo/filesync/transport"
	"github.com/c4milo/filesync/wire"
)

// Session owns one peer's state for the lifetime of a single connection: the
// shared inventory, the negotiated sync-mode and this peer's side of it.
// Nothing inside it is touched concurrently; Run's tick loop, the handshake,
// and every transaction run on the caller's goroutine.
type Session struct {
	Conn *transport.Conn
	Inv  *inventory.Inventory
	Mode reconcile.Mode
	Side reconcile.Side
	Log  *logging.Logger

	stop chan struct{}
}

// New creates a Session. Mode is meaningful for the server side immediately
// (it owns the configured sync-mode); the client side learns it during
// Handshake.
func New(conn *transport.Conn, inv *inventory.Inventory, side reconcile.Side, mode reconcile.Mode, log *logging.Logger) *Session {
	return &Session{
		Conn: conn,
		Inv:  inv,
		Mode: mode,
		Side: side,
		Log:  log,
		stop: make(chan struct{}),
	}
}

// Stop signals Run's tick loop to return after its current tick, adding the
// stop signal the source's design notes call for (§5) in place of leaking
// the session goroutine at shutdown.
func (s *Session) Stop() {
	close(s.stop)
}

func (s *Session) isServer() bool {
	return s.Side == reconcile.Server
}

// Handshake runs §4.8.1: sync-mode announcement (server only), file and
// empty-folder listing exchange, then the one-shot reconciliation.
func (s *Session) Handshake() error {
	if s.isServer() {
		if err := s.Conn.Send(strconv.Itoa(int(s.Mode))); err != nil {
			return errors.Wrap(err, "session: send sync-mode")
		}
	} else {
		modeStr, err := s.Conn.Receive()
		if err != nil {
			return errors.Wrap(err, "session: receive sync-mode")
		}
		n, err := strconv.Atoi(modeStr)
		if err != nil {
			return errors.Wrapf(err, "session: invalid sync-mode %q", modeStr)
		}
		mode, err := reconcile.ParseMode(n)
		if err != nil {
			return errors.Wrap(err, "session: sync-mode out of range")
		}
		s.Mode = mode
	}

	remoteFiles, err := s.exchangeListing(pathListOf(s.Inv.LocalFiles))
	if err != nil {
		return errors.Wrap(err, "session: exchange file listing")
	}
	s.Inv.RemoteFiles = setOf(remoteFiles)

	remoteEmpty, err := s.exchangeListing(pathListOf(s.Inv.LocalEmptyDirs))
	if err != nil {
		return errors.Wrap(err, "session: exchange empty-folder listing")
	}
	s.Inv.RemoteEmptyDirs = setOf(remoteEmpty)

	s.Inv.Reconcile()
	s.runReconciliation()
	s.Log.Info("Shared folder is now in sync")
	return nil
}

// exchangeListing sends local and receives the peer's list, in the order
// §4.8.1 fixes: the server side always sends first, the client side always
// receives first.
func (s *Session) exchangeListing(local wire.PathList) (wire.PathList, error) {
	if s.isServer() {
		if err := s.sendPathList(local); err != nil {
			return nil, err
		}
		return s.receivePathList()
	}
	remote, err := s.receivePathList()
	if err != nil {
		return nil, err
	}
	if err := s.sendPathList(local); err != nil {
		return nil, err
	}
	return remote, nil
}

func (s *Session) sendPathList(list wire.PathList) error {
	data, err := wire.Encode(list)
	if err != nil {
		return err
	}
	return s.Conn.SendBlob(data)
}

func (s *Session) receivePathList() (wire.PathList, error) {
	data, err := s.Conn.ReceiveBlob()
	if err != nil {
		return nil, err
	}
	var list wire.PathList
	if err := wire.Decode(data, &list); err != nil {
		return nil, err
	}
	return list, nil
}

func pathListOf(set map[string]bool) wire.PathList {
	out := make(wire.PathList, 0, len(set))
	for p := range set {
		out = append(out, p)
	}
	return out
}

func setOf(list wire.PathList) map[string]bool {
	out := make(map[string]bool, len(list))
	for _, p := range list {
		out[p] = true
	}
	return out
}

// runReconciliation executes this side's one-shot Plan. A transaction
// failure is logged and the round continues with the next path (§7: "the
// round continues with the next event").
func (s *Session) runReconciliation() {
	for _, step := range reconcile.Plan(s.Side, s.Mode, s.Inv) {
		if err := s.runStep(step); err != nil {
			s.Log.Error(err)
		}
	}
	s.Inv.ClearJustReceived()
}

func (s *Session) runStep(step reconcile.Step) error {
	ev := step.Event
	switch step.Action {
	case reconcile.SendModified:
		ev.Kind = wire.Modified
		return s.sendModified(ev)
	case reconcile.ReceiveModified:
		ev.Kind = wire.Modified
		return s.receiveModified(ev)
	case reconcile.SendCreated:
		ev.Kind = wire.Created
		return s.sendCreated(ev)
	case reconcile.ReceiveCreated:
		ev.Kind = wire.Created
		return s.receiveCreated(ev)
	case reconcile.CreatedFolders:
		ev.Kind = wire.Created
		return s.createdFolders(ev)
	case reconcile.Remove:
		ev.Kind = wire.Deleted
		return s.remove(ev)
	default:
		return nil
	}
}

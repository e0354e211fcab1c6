// This Source Code Form is subject to the terms of the Mozilla Public
// License, version 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package reconcile computes the one-shot reconciliation plan run by both
// peers immediately after listings are exchanged: for a given sync-mode and
// side, it walks the inventory's matched/local-only/remote-only/remote-empty
// sets and decides which transaction each path is bound for.
package reconcile

import (
	"sort"

	"github.com/pkg/errors"

	"github.com/c4milo/filesync/inventory"
	"github.com/c4milo/filesync/wire"
)

// Mode is one of the four conflict-resolution policies from §3.
type Mode int

const (
	ClientPriority Mode = iota
	ServerPriority
	ClientOverwriting
	ServerOverwriting
)

func (m Mode) String() string {
	switch m {
	case ClientPriority:
		return "CLIENT_PRIORITY"
	case ServerPriority:
		return "SERVER_PRIORITY"
	case ClientOverwriting:
		return "CLIENT_OVERWRITING"
	case ServerOverwriting:
		return "SERVER_OVERWRITING"
	default:
		return "UNKNOWN"
	}
}

// ParseMode validates a command-line sync-mode integer, matching the
// source's main() check that rejects anything outside 0..3 before any
// socket work happens.
func ParseMode(n int) (Mode, error) {
	if n < 0 || n > 3 {
		return 0, errors.Errorf("sync mode can only be between 0 and 3, got %d", n)
	}
	return Mode(n), nil
}

// Side identifies which peer a Plan is being computed for.
type Side int

const (
	Server Side = iota
	Client
)

// Action names the transaction (§4.8.4) a reconciliation Step is bound for.
// The actual I/O lives in the session package; reconcile only decides which
// transaction applies to which path, in which order.
type Action int

const (
	SendModified Action = iota
	ReceiveModified
	SendCreated
	ReceiveCreated
	CreatedFolders
	Remove
)

func (a Action) String() string {
	switch a {
	case SendModified:
		return "send_modified"
	case ReceiveModified:
		return "receive_modified"
	case SendCreated:
		return "send_created"
	case ReceiveCreated:
		return "receive_created"
	case CreatedFolders:
		return "created_folders"
	case Remove:
		return "remove"
	default:
		return "unknown"
	}
}

// Step is one entry of a reconciliation Plan.
type Step struct {
	Action Action
	Event  wire.Event
}

// Plan returns the ordered reconciliation steps for side under mode, read
// off inv's Matched/LocalOnly/RemoteOnly/RemoteEmptyDirs sets (inv.Reconcile
// must already have been called, and RemoteFiles/RemoteEmptyDirs populated
// from the handshake listings).
//
// Both peers derive their own Plan independently from their own inventory;
// nothing here crosses the wire. Each set is walked in sorted order rather
// than map/set iteration order so that the two independently-computed plans
// agree position-for-position on the matched set, which the lock-step
// per-event transactions require even though the source's dict-backed
// ordering was accidental rather than guaranteed.
func Plan(side Side, mode Mode, inv *inventory.Inventory) []Step {
	matched := sorted(inv.Matched)
	localOnly := sorted(inv.LocalOnly)
	remoteOnly := sorted(inv.RemoteOnly)
	emptyDirs := sortedKeys(inv.RemoteEmptyDirs)

	var steps []Step
	switch side {
	case Server:
		steps = serverPlan(mode, matched, localOnly, remoteOnly, emptyDirs)
	case Client:
		steps = clientPlan(mode, matched, localOnly, remoteOnly, emptyDirs)
	}
	return steps
}

func serverPlan(mode Mode, matched, localOnly, remoteOnly, emptyDirs []string) []Step {
	var steps []Step
	switch mode {
	case ServerOverwriting:
		steps = append(steps, stepsFor(matched, SendModified, false)...)
		steps = append(steps, stepsFor(localOnly, SendCreated, false)...)
	case ClientOverwriting:
		steps = append(steps, stepsFor(matched, ReceiveModified, false)...)
		steps = append(steps, stepsFor(localOnly, Remove, false)...)
		steps = append(steps, stepsFor(emptyDirs, CreatedFolders, true)...)
		steps = append(steps, stepsFor(remoteOnly, ReceiveCreated, false)...)
	case ServerPriority:
		steps = append(steps, stepsFor(matched, SendModified, false)...)
		steps = append(steps, stepsFor(localOnly, SendCreated, false)...)
		steps = append(steps, stepsFor(emptyDirs, CreatedFolders, true)...)
		steps = append(steps, stepsFor(remoteOnly, ReceiveCreated, false)...)
	case ClientPriority:
		steps = append(steps, stepsFor(matched, ReceiveModified, false)...)
		steps = append(steps, stepsFor(localOnly, SendCreated, false)...)
		steps = append(steps, stepsFor(emptyDirs, CreatedFolders, true)...)
		steps = append(steps, stepsFor(remoteOnly, ReceiveCreated, false)...)
	}
	return steps
}

func clientPlan(mode Mode, matched, localOnly, remoteOnly, emptyDirs []string) []Step {
	var steps []Step
	switch mode {
	case ServerOverwriting:
		steps = append(steps, stepsFor(matched, ReceiveModified, false)...)
		steps = append(steps, stepsFor(localOnly, Remove, false)...)
		steps = append(steps, stepsFor(emptyDirs, CreatedFolders, true)...)
		steps = append(steps, stepsFor(remoteOnly, ReceiveCreated, false)...)
	case ClientOverwriting:
		steps = append(steps, stepsFor(matched, SendModified, false)...)
		steps = append(steps, stepsFor(localOnly, SendCreated, false)...)
	case ServerPriority:
		steps = append(steps, stepsFor(matched, ReceiveModified, false)...)
		steps = append(steps, stepsFor(remoteOnly, ReceiveCreated, false)...)
		steps = append(steps, stepsFor(emptyDirs, CreatedFolders, true)...)
		steps = append(steps, stepsFor(localOnly, SendCreated, false)...)
	case ClientPriority:
		steps = append(steps, stepsFor(matched, SendModified, false)...)
		steps = append(steps, stepsFor(remoteOnly, ReceiveCreated, false)...)
		steps = append(steps, stepsFor(emptyDirs, CreatedFolders, true)...)
		steps = append(steps, stepsFor(localOnly, SendCreated, false)...)
	}
	return steps
}

func stepsFor(paths []string, action Action, isDir bool) []Step {
	out := make([]Step, 0, len(paths))
	for _, p := range paths {
		out = append(out, Step{Action: action, Event: wire.Event{Src: p, IsDir: isDir}})
	}
	return out
}

func sorted(paths []string) []string {
	out := make([]string, len(paths))
	copy(out, paths)
	sort.Strings(out)
	return out
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

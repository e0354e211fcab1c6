// This Source Code Form is subject to the terms of the Mozilla Public
// License, version 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package reconcile

import (
	"testing"

	"github.com/hooklift/assert"

	"github.com/c4milo/filesync/inventory"
)

func invOf(t *testing.T, local, remote map[string]bool, remoteEmptyDirs map[string]bool) *inventory.Inventory {
	t.Helper()
	inv, err := inventory.New(t.TempDir())
	assert.Ok(t, err)
	inv.LocalFiles = local
	inv.RemoteFiles = remote
	inv.RemoteEmptyDirs = remoteEmptyDirs
	inv.Reconcile()
	return inv
}

func actionsOf(steps []Step) []Action {
	out := make([]Action, len(steps))
	for i, s := range steps {
		out[i] = s.Action
	}
	return out
}

func TestParseModeRejectsOutOfRange(t *testing.T) {
	_, err := ParseMode(4)
	assert.Cond(t, err != nil, "mode 4 should be rejected")

	_, err = ParseMode(-1)
	assert.Cond(t, err != nil, "negative mode should be rejected")

	m, err := ParseMode(2)
	assert.Ok(t, err)
	assert.Equals(t, ClientOverwriting, m)
}

func TestServerPriorityPlan(t *testing.T) {
	inv := invOf(t,
		map[string]bool{"matched.txt": true, "local.txt": true},
		map[string]bool{"matched.txt": true, "remote.txt": true},
		map[string]bool{"empty": true},
	)

	steps := Plan(Server, ServerPriority, inv)
	assert.Equals(t, 4, len(steps))
	assert.Equals(t, SendModified, steps[0].Action)
	assert.Equals(t, "matched.txt", steps[0].Event.Src)
	assert.Equals(t, SendCreated, steps[1].Action)
	assert.Equals(t, "local.txt", steps[1].Event.Src)
	assert.Equals(t, CreatedFolders, steps[2].Action)
	assert.Equals(t, ReceiveCreated, steps[3].Action)
	assert.Equals(t, "remote.txt", steps[3].Event.Src)
}

func TestClientPriorityIsServerPriorityMirrored(t *testing.T) {
	inv := invOf(t,
		map[string]bool{"matched.txt": true, "local.txt": true},
		map[string]bool{"matched.txt": true, "remote.txt": true},
		map[string]bool{},
	)

	serverSteps := actionsOf(Plan(Server, ClientPriority, inv))
	clientSteps := actionsOf(Plan(Client, ClientPriority, inv))

	assert.Equals(t, []Action{ReceiveModified, SendCreated, ReceiveCreated}, serverSteps)
	assert.Equals(t, []Action{SendModified, ReceiveCreated, SendCreated}, clientSteps)
}

func TestOverwritingModesHaveNoEmptyDirOrRemoteOnlyStepsOnTheOverwritingSide(t *testing.T) {
	inv := invOf(t,
		map[string]bool{"matched.txt": true, "local.txt": true},
		map[string]bool{"matched.txt": true, "remote.txt": true},
		map[string]bool{"empty": true},
	)

	steps := Plan(Client, ClientOverwriting, inv)
	assert.Equals(t, 2, len(steps))
	assert.Equals(t, SendModified, steps[0].Action)
	assert.Equals(t, SendCreated, steps[1].Action)
}

func TestServerOverwritingDeletesClientLocalOnly(t *testing.T) {
	inv := invOf(t,
		map[string]bool{"extra.log": true},
		map[string]bool{},
		map[string]bool{},
	)

	steps := Plan(Client, ServerOverwriting, inv)
	assert.Equals(t, 1, len(steps))
	assert.Equals(t, Remove, steps[0].Action)
	assert.Equals(t, "extra.log", steps[0].Event.Src)
}

func TestEmptyInventoryProducesEmptyPlan(t *testing.T) {
	inv := invOf(t, map[string]bool{}, map[string]bool{}, map[string]bool{})
	for mode := ClientPriority; mode <= ServerOverwriting; mode++ {
		assert.Equals(t, 0, len(Plan(Server, mode, inv)))
		assert.Equals(t, 0, len(Plan(Client, mode, inv)))
	}
}

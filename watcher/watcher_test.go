// This Source Code Form is subject to the terms of the Mozilla Public
// License, version 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package watcher

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hooklift/assert"

	"github.com/c4milo/filesync/wire"
)

func waitForEvent(t *testing.T, events <-chan Event, timeout time.Duration) Event {
	t.Helper()
	select {
	case e := <-events:
		return e
	case <-time.After(timeout):
		t.Fatal("timed out waiting for watcher event")
		return Event{}
	}
}

func TestNewReadyImmediatelyWhenQuiet(t *testing.T) {
	root := t.TempDir()
	w, err := New(root)
	assert.Ok(t, err)
	defer w.Stop()

	assert.Cond(t, w.Ready(), "a freshly created watcher with no events should read as ready once constructed in the past")
}

func TestCreateEventIsRelative(t *testing.T) {
	root := t.TempDir()
	w, err := New(root)
	assert.Ok(t, err)
	defer w.Stop()

	path := filepath.Join(root, "a.txt")
	assert.Ok(t, os.WriteFile(path, []byte("hi"), 0640))

	e := waitForEvent(t, w.Events, 2*time.Second)
	assert.Equals(t, wire.Created, e.Kind)
	assert.Equals(t, "a.txt", e.Src)
}

func TestReadyFlipsFalseThenTrueAfterQuiet(t *testing.T) {
	root := t.TempDir()
	w, err := New(root)
	assert.Ok(t, err)
	defer w.Stop()

	assert.Ok(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("hi"), 0640))
	waitForEvent(t, w.Events, 2*time.Second)

	assert.Cond(t, !w.Ready(), "should not be ready immediately after an event")

	time.Sleep(DebounceWindow + 200*time.Millisecond)
	assert.Cond(t, w.Ready(), "should be ready after the debounce window elapses")
}

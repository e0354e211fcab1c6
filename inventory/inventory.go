// This Source Code Form is subject to the terms of the Mozilla Public
// License, version 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package inventory tracks the local shared folder's contents and the
// remote peer's last-exchanged listing, exposing the set algebra the
// reconciler needs and the just-received suppression list the coalescer
// consults.
package inventory

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/c4milo/filesync/wire"
)

// Inventory is owned by a single session. It is not safe for concurrent use;
// the session protocol only ever touches it from its own goroutine.
type Inventory struct {
	// SharedFolder is the absolute path to the root being synchronized.
	SharedFolder string

	// LocalFiles holds shared-folder-relative paths of every locally known
	// regular file.
	LocalFiles map[string]bool
	// LocalEmptyDirs holds shared-folder-relative paths of every locally
	// known directory whose own immediate entry list is empty.
	LocalEmptyDirs map[string]bool

	// RemoteFiles and RemoteEmptyDirs are populated from the peer's
	// listings during the handshake.
	RemoteFiles     map[string]bool
	RemoteEmptyDirs map[string]bool

	// Matched, LocalOnly and RemoteOnly are computed by Reconcile from
	// LocalFiles and RemoteFiles.
	Matched    []string
	LocalOnly  []string
	RemoteOnly []string

	// justReceived suppresses re-emission of events the engine's own
	// writes trigger in the watcher. Keyed on the full event tuple so a
	// CREATED and a later MODIFIED on the same path don't alias.
	justReceived map[wire.Event]bool
}

// New walks root and builds the local half of an Inventory: every regular
// file as a relative path, and every directory whose own immediate entry
// list is empty as a relative empty-directory path.
func New(root string) (*Inventory, error) {
	inv := &Inventory{
		SharedFolder:   root,
		LocalFiles:     make(map[string]bool),
		LocalEmptyDirs: make(map[string]bool),
		justReceived:   make(map[wire.Event]bool),
	}

	info, err := os.Stat(root)
	if err != nil || !info.IsDir() {
		return inv, nil
	}

	err = filepath.Walk(root, func(path string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if path == root {
			return nil
		}
		rel, relErr := relativePath(root, path)
		if relErr != nil {
			return relErr
		}
		if fi.IsDir() {
			entries, err := os.ReadDir(path)
			if err != nil {
				return errors.Wrapf(err, "inventory: readdir %s", path)
			}
			if len(entries) == 0 {
				inv.LocalEmptyDirs[rel] = true
			}
			return nil
		}
		inv.LocalFiles[rel] = true
		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "inventory: walk %s", root)
	}
	return inv, nil
}

// relativePath strips root's prefix from path, matching the source's
// "split on shared folder prefix" rule.
func relativePath(root, path string) (string, error) {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return "", errors.Wrapf(err, "inventory: relativize %s against %s", path, root)
	}
	return filepath.ToSlash(rel), nil
}

// Reconcile computes Matched, LocalOnly and RemoteOnly from the current
// LocalFiles/RemoteFiles sets.
func (inv *Inventory) Reconcile() {
	inv.Matched = nil
	inv.LocalOnly = nil
	inv.RemoteOnly = nil

	for p := range inv.LocalFiles {
		if inv.RemoteFiles[p] {
			inv.Matched = append(inv.Matched, p)
		} else {
			inv.LocalOnly = append(inv.LocalOnly, p)
		}
	}
	for p := range inv.RemoteFiles {
		if !inv.LocalFiles[p] {
			inv.RemoteOnly = append(inv.RemoteOnly, p)
		}
	}
}

// ListToEvents lifts a set of relative paths into a list of Created-kind
// event tuples (or any kind the caller specifies) for the reconciler to feed
// uniformly into the session transactions.
func ListToEvents(paths []string, kind wire.EventKind, isDir bool) wire.EventList {
	out := make(wire.EventList, 0, len(paths))
	for _, p := range paths {
		out = append(out, wire.Event{Src: p, IsDir: isDir, Kind: kind})
	}
	return out
}

// AddJustReceived records that event was just applied locally by the
// engine, so the next coalescer pass should drop its echo exactly once.
func (inv *Inventory) AddJustReceived(e wire.Event) {
	if inv.justReceived == nil {
		inv.justReceived = make(map[wire.Event]bool)
	}
	inv.justReceived[e] = true
}

// RemoveJustReceived undoes AddJustReceived, used to roll back suppression
// when the I/O that triggered it failed.
func (inv *Inventory) RemoveJustReceived(e wire.Event) {
	delete(inv.justReceived, e)
}

// TakeJustReceived reports whether e is in the just-received set and, if so,
// removes it (the set suppresses exactly one echo per entry).
func (inv *Inventory) TakeJustReceived(e wire.Event) bool {
	if inv.justReceived[e] {
		delete(inv.justReceived, e)
		return true
	}
	return false
}

// ClearJustReceived empties the just-received set, called at the start and
// end of each sync round.
func (inv *Inventory) ClearJustReceived() {
	inv.justReceived = make(map[wire.Event]bool)
}

// AddLocalFile records path as locally present.
func (inv *Inventory) AddLocalFile(path string) {
	inv.LocalFiles[path] = true
}

// RemoveLocalFile forgets path.
func (inv *Inventory) RemoveLocalFile(path string) {
	delete(inv.LocalFiles, path)
}

// AddLocalEmptyDir records rel as a locally known empty directory.
func (inv *Inventory) AddLocalEmptyDir(rel string) {
	inv.LocalEmptyDirs[rel] = true
}

// RemoveLocalEmptyDir forgets rel.
func (inv *Inventory) RemoveLocalEmptyDir(rel string) {
	delete(inv.LocalEmptyDirs, rel)
}

// AdjustForSubtree walks root (the argument, not inv.SharedFolder — this
// resolves the spec's Open Question about update_local_files_from_dir) and
// adds every file found under it to the inventory, or removes every such
// file, depending on add.
func (inv *Inventory) AdjustForSubtree(root string, add bool) error {
	info, err := os.Stat(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errors.Wrapf(err, "inventory: stat %s", root)
	}
	if !info.IsDir() {
		return nil
	}

	return filepath.Walk(root, func(path string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if fi.IsDir() {
			return nil
		}
		rel, relErr := relativePath(inv.SharedFolder, path)
		if relErr != nil {
			return relErr
		}
		if add {
			inv.AddLocalFile(rel)
		} else {
			inv.RemoveLocalFile(rel)
		}
		return nil
	})
}

// AbsPath joins a shared-folder-relative path back to an absolute path.
func (inv *Inventory) AbsPath(rel string) string {
	return filepath.Join(inv.SharedFolder, filepath.FromSlash(rel))
}

// HasLocalFile reports whether rel is currently a known local file.
func (inv *Inventory) HasLocalFile(rel string) bool {
	return inv.LocalFiles[rel]
}

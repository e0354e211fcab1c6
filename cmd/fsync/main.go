// This Source Code Form is subject to the terms of the Mozilla Public
// License, version 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Command fsync is the client side of the sync protocol: it connects to a
// running fsyncd, runs the handshake, then drives the steady-state loop
// until interrupted.
package main

import (
	"flag"
	"fmt"
	"net"
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/c4milo/filesync/inventory"
	"github.com/c4milo/filesync/logging"
	"github.com/c4milo/filesync/reconcile"
	"github.com/c4milo/filesync/session"
	"github.com/c4milo/filesync/transport"
	"github.com/c4milo/filesync/watcher"
)

func main() {
	sharedFolder := flag.String("shared-folder", "", "shared folder path")
	ip := flag.String("ip", "0.0.0.0", "server ip")
	port := flag.Int("port", 50000, "port number")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	if err := run(*sharedFolder, *ip, *port, *debug); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(sharedFolder, ip string, port int, debug bool) error {
	if sharedFolder == "" {
		return errors.New("fsync: shared folder path is required")
	}
	info, err := os.Stat(sharedFolder)
	if err != nil || !info.IsDir() {
		return errors.Errorf("fsync: not a valid directory path for shared folder: %s", sharedFolder)
	}
	sharedFolder, err = filepath.Abs(sharedFolder)
	if err != nil {
		return errors.Wrap(err, "fsync: resolve shared folder path")
	}

	level := logging.LevelInfo
	if debug {
		level = logging.LevelDebug
	}
	log := logging.New(level)

	addr := fmt.Sprintf("%s:%d", ip, port)
	log.Infof("Connecting to: %s", addr)
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return errors.Wrap(err, "fsync: could not connect to server")
	}
	defer conn.Close()

	inv, err := inventory.New(sharedFolder)
	if err != nil {
		return errors.Wrap(err, "fsync: build inventory")
	}

	w, err := watcher.New(sharedFolder)
	if err != nil {
		return errors.Wrap(err, "fsync: start watcher")
	}
	defer w.Stop()

	sess := session.New(transport.New(conn), inv, reconcile.Client, reconcile.Mode(0), log)
	if err := sess.Handshake(); err != nil {
		return errors.Wrap(err, "fsync: handshake")
	}
	return sess.Run(w)
}

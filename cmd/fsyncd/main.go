// This Source Code Form is subject to the terms of the Mozilla Public
// License, version 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Command fsyncd is the server side of the sync protocol: it accepts
// connections on a TCP port and runs one Session per client, each in its own
// supervised goroutine.
package main

import (
	"flag"
	"fmt"
	"net"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/c4milo/filesync/inventory"
	"github.com/c4milo/filesync/logging"
	"github.com/c4milo/filesync/reconcile"
	"github.com/c4milo/filesync/session"
	"github.com/c4milo/filesync/transport"
	"github.com/c4milo/filesync/watcher"
)

func main() {
	sharedFolder := flag.String("shared-folder", "", "shared folder path")
	port := flag.Int("port", 50000, "port number")
	mode := flag.Int("mode", 0, "sync mode (0-3)")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	if err := run(*sharedFolder, *port, *mode, *debug); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(sharedFolder string, port, modeInt int, debug bool) error {
	if sharedFolder == "" {
		return errors.New("fsyncd: shared folder path is required")
	}
	info, err := os.Stat(sharedFolder)
	if err != nil || !info.IsDir() {
		return errors.Errorf("fsyncd: not a valid directory path for shared folder: %s", sharedFolder)
	}
	mode, err := reconcile.ParseMode(modeInt)
	if err != nil {
		return errors.Wrap(err, "fsyncd")
	}

	sharedFolder, err = filepath.Abs(sharedFolder)
	if err != nil {
		return errors.Wrap(err, "fsyncd: resolve shared folder path")
	}

	level := logging.LevelInfo
	if debug {
		level = logging.LevelDebug
	}
	log := logging.New(level)

	log.Infof("Starting server on port: %d", port)
	log.Infof("Shared folder: %s", sharedFolder)
	log.Infof("Sync mode: %s", mode)

	ln, err := net.Listen("tcp", fmt.Sprintf("0.0.0.0:%d", port))
	if err != nil {
		return errors.Wrap(err, "fsyncd: listen")
	}
	defer ln.Close()

	var g errgroup.Group
	for {
		conn, err := ln.Accept()
		if err != nil {
			return errors.Wrap(err, "fsyncd: accept")
		}
		log.Infof("Connected to: %s", conn.RemoteAddr())

		g.Go(func() error {
			defer conn.Close()
			if err := serve(conn, sharedFolder, mode, log); err != nil {
				log.Error(err)
			}
			return nil
		})
	}
}

// serve builds a fresh inventory and watcher for this connection alone,
// mirroring the source's one-EventMonitor-per-ServerConn model: events from
// one client's session never compete with another's for the same channel.
func serve(conn net.Conn, sharedFolder string, mode reconcile.Mode, log *logging.Logger) error {
	inv, err := inventory.New(sharedFolder)
	if err != nil {
		return errors.Wrap(err, "fsyncd: build inventory")
	}

	w, err := watcher.New(sharedFolder)
	if err != nil {
		return errors.Wrap(err, "fsyncd: start watcher")
	}
	defer w.Stop()

	sess := session.New(transport.New(conn), inv, reconcile.Server, mode, log.Sublogger(conn.RemoteAddr().String()))
	if err := sess.Handshake(); err != nil {
		return errors.Wrap(err, "fsyncd: handshake")
	}
	return sess.Run(w)
}

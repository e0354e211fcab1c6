// This Source Code Form is subject to the terms of the Mozilla Public
// License, version 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package session

import (
	"os"
	"path/filepath"
	"strconv"

	"github.com/pkg/errors"

	"github.com/c4milo/filesync/blocks"
	"github.com/c4milo/filesync/delta"
	"github.com/c4milo/filesync/logging"
	"github.com/c4milo/filesync/transport"
	"github.com/c4milo/filesync/wire"
)

// errSenderFailed reports that the peer announced FAILURE before a transfer
// even began, e.g. the source file vanished between the event firing and
// the transaction running.
var errSenderFailed = errors.New("session: peer reported failure before transfer")

// sendFile implements the full-file transfer sender half (§4.5.5): report
// size, announce SUCCESS/FAILURE, stream the body in 8 KiB chunks. A
// zero-length file skips the body entirely.
func (s *Session) sendFile(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return s.Conn.Send(transport.Failure)
	}
	if err := s.Conn.Send(transport.Success); err != nil {
		return err
	}
	size := info.Size()
	if err := s.Conn.Send(strconv.FormatInt(size, 10)); err != nil {
		return err
	}
	if size == 0 {
		return nil
	}

	f, err := os.Open(path)
	if err != nil {
		return s.Conn.Send(transport.Failure)
	}
	defer f.Close()

	if err := s.Conn.Send(transport.Success); err != nil {
		return err
	}
	ready, err := s.Conn.Receive()
	if err != nil {
		return err
	}
	if ready != transport.Success {
		return nil
	}
	if err := s.Conn.SendFile(f, size); err != nil {
		return err
	}
	_, err = s.Conn.Receive()
	return err
}

// receiveFile is the inverse of sendFile.
func (s *Session) receiveFile(path string) error {
	status, err := s.Conn.Receive()
	if err != nil {
		return err
	}
	if status == transport.Failure {
		return errSenderFailed
	}
	sizeStr, err := s.Conn.Receive()
	if err != nil {
		return err
	}
	size, err := strconv.ParseInt(sizeStr, 10, 64)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	if size == 0 {
		return os.WriteFile(path, nil, 0644)
	}

	openStatus, err := s.Conn.Receive()
	if err != nil {
		return err
	}
	if openStatus != transport.Success {
		return errSenderFailed
	}

	f, err := os.Create(path)
	if err != nil {
		_ = s.Conn.Send(transport.Failure)
		return err
	}
	defer f.Close()
	if err := s.Conn.Send(transport.Success); err != nil {
		return err
	}
	if err := s.Conn.ReceiveFile(f, size); err != nil {
		return err
	}
	return s.Conn.Send(transport.Success)
}

// sendCreated is the sender half of send_created (§4.8.4): a plain
// full-file transfer, no inventory bookkeeping on this side. Created
// directories have no sender half; the receiver creates them on its own.
func (s *Session) sendCreated(ev wire.Event) error {
	abs := s.Inv.AbsPath(ev.Src)
	if info, err := os.Stat(abs); err == nil {
		s.Log.Infof("Send create file : %s (%s)", abs, logging.TransferSize(info.Size()))
	} else {
		s.Log.Infof("Send create file : %s", abs)
	}
	return s.sendFile(abs)
}

// receiveCreated receives a full file, adding it to the inventory and the
// just-received suppression set before the transfer, rolling both back on
// failure.
func (s *Session) receiveCreated(ev wire.Event) error {
	abs := s.Inv.AbsPath(ev.Src)
	s.Inv.AddLocalFile(ev.Src)
	s.Inv.AddJustReceived(ev)
	if err := s.receiveFile(abs); err != nil {
		s.Inv.RemoveLocalFile(ev.Src)
		s.Inv.RemoveJustReceived(ev)
		return err
	}
	if info, err := os.Stat(abs); err == nil {
		s.Log.Infof("Receive file : %s %s (%s)", ev.Src, abs, logging.TransferSize(info.Size()))
	} else {
		s.Log.Infof("Receive file : %s %s", ev.Src, abs)
	}
	return nil
}

// createdFolders creates an empty directory on the receiving side, adding it
// to the inventory and just-received set, rolling both back on IO error.
func (s *Session) createdFolders(ev wire.Event) error {
	abs := s.Inv.AbsPath(ev.Src)
	s.Log.Infof("Send create folder : %s", abs)
	if info, err := os.Stat(abs); err == nil && info.IsDir() {
		return nil
	}
	s.Inv.AddLocalEmptyDir(ev.Src)
	full := wire.Event{Src: ev.Src, IsDir: true, Kind: wire.Created}
	s.Inv.AddJustReceived(full)
	if err := os.MkdirAll(abs, 0755); err != nil {
		s.Inv.RemoveLocalEmptyDir(ev.Src)
		s.Inv.RemoveJustReceived(full)
		return err
	}
	return nil
}

// remove deletes a file or directory tree locally, updating the inventory
// and suppressing the watcher's echo of the deletion.
func (s *Session) remove(ev wire.Event) error {
	abs := s.Inv.AbsPath(ev.Src)
	s.Log.Infof("Receive remove : %s", abs)
	s.Inv.AddJustReceived(ev)

	var err error
	if ev.IsDir {
		err = os.RemoveAll(abs)
	} else if removeErr := os.Remove(abs); removeErr != nil && !os.IsNotExist(removeErr) {
		err = removeErr
	}
	if err != nil {
		s.Inv.RemoveJustReceived(ev)
		return err
	}
	s.Inv.RemoveLocalFile(ev.Src)
	return nil
}

// sendMove announces nothing itself; it waits for the receiver's ack and,
// on FAILURE, escalates by sending dest as a full file (§4.8.4).
func (s *Session) sendMove(ev wire.Event) error {
	s.Log.Infof("Send move file/folder : %s %s", ev.Src, ev.Dest)
	status, err := s.Conn.Receive()
	if err != nil {
		return err
	}
	if status == transport.Failure {
		return s.sendFile(s.Inv.AbsPath(ev.Dest))
	}
	return nil
}

// receiveMove moves src to dest on disk, updating the inventory (walking the
// subtree for directories, per the directory-move bookkeeping the source
// only hints at in §4.8.4). On any failure it reports FAILURE and falls back
// to a full-file receive of dest.
func (s *Session) receiveMove(ev wire.Event) error {
	s.Log.Infof("Receive move file/folder : %s %s", ev.Src, ev.Dest)

	fallback := func() error {
		_ = s.Conn.Send(transport.Failure)
		return s.receiveCreated(wire.Event{Src: ev.Dest, Kind: wire.Created})
	}

	if ev.Src == "" || ev.Dest == "" {
		return fallback()
	}

	srcAbs := s.Inv.AbsPath(ev.Src)
	destAbs := s.Inv.AbsPath(ev.Dest)
	if _, err := os.Stat(srcAbs); err != nil {
		return fallback()
	}
	if err := os.MkdirAll(filepath.Dir(destAbs), 0755); err != nil {
		return fallback()
	}

	s.Inv.AddJustReceived(ev)

	if ev.IsDir {
		if err := s.Inv.AdjustForSubtree(srcAbs, false); err != nil {
			s.Inv.RemoveJustReceived(ev)
			return fallback()
		}
		if err := os.Rename(srcAbs, destAbs); err != nil {
			s.Inv.RemoveJustReceived(ev)
			return fallback()
		}
		if err := s.Inv.AdjustForSubtree(destAbs, true); err != nil {
			s.Inv.RemoveJustReceived(ev)
			return fallback()
		}
	} else {
		s.Inv.RemoveLocalFile(ev.Src)
		if err := os.Rename(srcAbs, destAbs); err != nil {
			s.Inv.RemoveJustReceived(ev)
			return fallback()
		}
		s.Inv.AddLocalFile(ev.Dest)
	}

	return s.Conn.Send(transport.Success)
}

// sendModified plays the authoritative side (A) of the delta round (§4.5):
// it answers U's checksum fast-path gate, and if the files differ, scans its
// own copy against U's published Delta1 and returns Delta2. Any failure
// escalates to a full-file send_created.
func (s *Session) sendModified(ev wire.Event) error {
	status, err := s.Conn.Receive()
	if err != nil {
		return err
	}
	if status == transport.Failure {
		s.Log.Infof("Failed. Sending file : %s", ev.Src)
		return s.sendCreated(ev)
	}

	pairData, err := s.Conn.ReceiveBlob()
	if err != nil {
		return err
	}
	var remote wire.ChecksumPair
	if err := wire.Decode(pairData, &remote); err != nil {
		return err
	}

	s.Log.Infof("Send modified file : %s", ev.Src)
	abs := s.Inv.AbsPath(ev.Src)
	localChecksum, ckErr := blocks.FileChecksum(abs)
	reply := localChecksum
	if ckErr != nil {
		reply = transport.Failure
	}
	if err := s.Conn.Send(reply); err != nil {
		return err
	}
	if ckErr == nil && localChecksum == remote.Checksum {
		return nil
	}

	d1Data, err := s.Conn.ReceiveBlob()
	if err != nil {
		return err
	}
	if ckErr != nil {
		_ = s.Conn.Send(transport.Failure)
		s.Log.Infof("Failed. Sending file : %s", ev.Src)
		return s.sendCreated(ev)
	}
	var d1 wire.Delta1
	if err := wire.Decode(d1Data, &d1); err != nil {
		return err
	}

	d2, err := delta.ComputeDelta2(abs, d1)
	if err != nil {
		_ = s.Conn.Send(transport.Failure)
		s.Log.Infof("Failed. Sending file : %s", ev.Src)
		return s.sendCreated(ev)
	}
	if err := s.Conn.Send(transport.Success); err != nil {
		return err
	}
	d2Data, err := wire.Encode(d2)
	if err != nil {
		return err
	}
	if err := s.Conn.SendBlob(d2Data); err != nil {
		return err
	}

	ack, err := s.Conn.Receive()
	if err != nil {
		return err
	}
	if ack != transport.Success {
		s.Log.Infof("Failed. Sending file : %s", ev.Src)
		return s.sendCreated(ev)
	}
	return nil
}

// receiveModified plays the side to be updated (U): publish the whole-file
// checksum, and if it doesn't match A's, publish Delta1, receive Delta2 and
// reassemble. Any failure escalates to a full-file receive_created.
func (s *Session) receiveModified(ev wire.Event) error {
	s.Log.Infof("Receive modified file : %s", ev.Src)
	abs := s.Inv.AbsPath(ev.Src)

	fallback := func() error {
		s.Log.Infof("Failed. Receive file : %s", ev.Src)
		return s.receiveCreated(ev)
	}

	checksum, err := blocks.FileChecksum(abs)
	if err != nil {
		_ = s.Conn.Send(transport.Failure)
		return fallback()
	}
	if err := s.Conn.Send(transport.Success); err != nil {
		return err
	}
	pairData, err := wire.Encode(wire.ChecksumPair{Path: ev.Src, Checksum: checksum})
	if err != nil {
		return err
	}
	if err := s.Conn.SendBlob(pairData); err != nil {
		return err
	}

	remoteChecksum, err := s.Conn.Receive()
	if err != nil {
		return err
	}
	if remoteChecksum == checksum {
		return nil
	}

	s.Inv.AddJustReceived(ev)
	d1, originalBlocks, err := delta.BuildDelta1(abs)
	if err != nil {
		s.Inv.RemoveJustReceived(ev)
		return fallback()
	}
	d1Data, err := wire.Encode(d1)
	if err != nil {
		return err
	}
	if err := s.Conn.SendBlob(d1Data); err != nil {
		return err
	}

	status, err := s.Conn.Receive()
	if err != nil {
		return err
	}
	if status != transport.Success {
		s.Inv.RemoveJustReceived(ev)
		return fallback()
	}
	d2Data, err := s.Conn.ReceiveBlob()
	if err != nil {
		return err
	}
	var d2 wire.Delta2
	if err := wire.Decode(d2Data, &d2); err != nil {
		s.Inv.RemoveJustReceived(ev)
		_ = s.Conn.Send(transport.Failure)
		return fallback()
	}
	if err := delta.Reassemble(abs, originalBlocks, d2); err != nil {
		s.Inv.RemoveJustReceived(ev)
		_ = s.Conn.Send(transport.Failure)
		return fallback()
	}
	return s.Conn.Send(transport.Success)
}

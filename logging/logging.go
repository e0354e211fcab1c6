// This Source Code Form is subject to the terms of the Mozilla Public
// License, version 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package logging provides the leveled, colorized logger used throughout the
// session, reconciliation and entry-point code, reproducing the original
// implementation's informational log lines (§7: "a stream of informational
// log lines ... and '.' progress dots during idle ticks").
package logging

import (
	"fmt"
	"io"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
)

// Level orders the verbosity tiers a Logger can be configured at, mirroring
// mutagen's pkg/logging hierarchy.
type Level uint

const (
	// LevelDisabled silences every line, including errors.
	LevelDisabled Level = iota
	// LevelError logs only errors, including failed transactions that the
	// session logs and then continues past.
	LevelError
	// LevelWarn additionally logs non-fatal warnings.
	LevelWarn
	// LevelInfo additionally logs the user-visible sync narrative: connect,
	// handshake, per-transaction "Send/Receive ..." lines.
	LevelInfo
	// LevelDebug additionally logs Debug/Debugf lines. No package in this
	// module logs at this level.
	LevelDebug
)

// Logger writes prefixed, colorized lines to an underlying writer. The zero
// value is not usable; construct with New.
type Logger struct {
	level  Level
	prefix string
	out    io.Writer
}

// New creates a root Logger at the given level, writing to os.Stdout.
func New(level Level) *Logger {
	return &Logger{level: level, out: os.Stdout}
}

// Sublogger returns a child Logger that prefixes every line with name,
// nested under this logger's own prefix if it has one.
func (l *Logger) Sublogger(name string) *Logger {
	prefix := name
	if l.prefix != "" {
		prefix = l.prefix + "." + name
	}
	return &Logger{level: l.level, prefix: prefix, out: l.out}
}

func (l *Logger) line(s string) string {
	if l.prefix == "" {
		return s
	}
	return fmt.Sprintf("[%s] %s", l.prefix, s)
}

// Info logs a line at LevelInfo, reproducing one of the source's connection
// or per-transaction narrative lines ("Connected to: ...", "Send create
// file : ...").
func (l *Logger) Info(v ...interface{}) {
	if l.level < LevelInfo {
		return
	}
	fmt.Fprintln(l.out, l.line(color.CyanString(fmt.Sprint(v...))))
}

// Infof is Info with format semantics.
func (l *Logger) Infof(format string, v ...interface{}) {
	l.Info(fmt.Sprintf(format, v...))
}

// Debug logs a line at LevelDebug.
func (l *Logger) Debug(v ...interface{}) {
	if l.level < LevelDebug {
		return
	}
	fmt.Fprintln(l.out, l.line(color.HiBlackString(fmt.Sprint(v...))))
}

// Debugf is Debug with format semantics.
func (l *Logger) Debugf(format string, v ...interface{}) {
	l.Debug(fmt.Sprintf(format, v...))
}

// Warn logs err with a yellow warning prefix, gated on LevelWarn.
func (l *Logger) Warn(err error) {
	if l.level < LevelWarn {
		return
	}
	fmt.Fprintln(l.out, l.line(color.YellowString("Warning: %v", err)))
}

// Error logs err with a red error prefix, gated on LevelError.
func (l *Logger) Error(err error) {
	if l.level < LevelError {
		return
	}
	fmt.Fprintln(l.out, l.line(color.RedString("Error: %v", err)))
}

// Progress writes the "." idle-tick marker inline, without a newline or
// timestamp, matching the source's `print(".", end='', flush=True)`.
func (l *Logger) Progress() {
	if l.level < LevelInfo {
		return
	}
	fmt.Fprint(l.out, color.HiBlackString("."))
}

// TransferSize formats a byte count the way the source's log lines do,
// human-readable rather than a raw integer, for the "Send/Receive ..."
// narrative lines that mention a transfer size.
func TransferSize(n int64) string {
	return humanize.Bytes(uint64(n))
}

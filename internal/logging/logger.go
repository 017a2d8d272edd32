// Copyright (c) 2013-2017 The btcsuite developers
// Copyright (c) 2017 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package logging sets up the per-subsystem loggers shared by the
// chain, tx pool, miner, p2p and engine packages.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/btcsuite/btclog"
	"github.com/jrick/logrotate/rotator"
)

// logWriter relays everything written through it to stdout and to the
// log rotator, once one has been installed by InitLogRotator.
type logWriter struct{}

func (logWriter) Write(p []byte) (n int, err error) {
	os.Stdout.Write(p)
	if logRotator != nil {
		logRotator.Write(p)
	}
	return len(p), nil
}

// backendLog is the logging backend used to create all subsystem loggers.
var backendLog = btclog.NewBackend(logWriter{})

// logRotator is the logging output that rolls the on-disk log file. It is
// nil until InitLogRotator is called, and should be closed on shutdown.
var logRotator *rotator.Rotator

var (
	chanLog = backendLog.Logger(SubsystemTags.CHAN)
	txplLog = backendLog.Logger(SubsystemTags.TXPL)
	minrLog = backendLog.Logger(SubsystemTags.MINR)
	netaLog = backendLog.Logger(SubsystemTags.NETA)
	engnLog = backendLog.Logger(SubsystemTags.ENGN)
)

// SubsystemTags is an enum of all subsystem tags used by the node.
var SubsystemTags = struct {
	CHAN, TXPL, MINR, NETA, ENGN string
}{
	CHAN: "CHAN",
	TXPL: "TXPL",
	MINR: "MINR",
	NETA: "NETA",
	ENGN: "ENGN",
}

// subsystemLoggers maps each subsystem identifier to its associated logger.
var subsystemLoggers = map[string]btclog.Logger{
	SubsystemTags.CHAN: chanLog,
	SubsystemTags.TXPL: txplLog,
	SubsystemTags.MINR: minrLog,
	SubsystemTags.NETA: netaLog,
	SubsystemTags.ENGN: engnLog,
}

// InitLogRotator initializes the rotating log file at logFile. It must be
// called before relying on file-backed logging; until then, loggers still
// write to stdout.
func InitLogRotator(logFile string) {
	logDir, _ := filepath.Split(logFile)
	if logDir != "" {
		if err := os.MkdirAll(logDir, 0700); err != nil {
			fmt.Fprintf(os.Stderr, "failed to create log directory: %s\n", err)
			os.Exit(1)
		}
	}
	r, err := rotator.New(logFile, 10*1024, false, 3)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create file rotator: %s\n", err)
		os.Exit(1)
	}
	logRotator = r
}

// Close flushes and closes the log rotator, if one was installed.
func Close() {
	if logRotator != nil {
		logRotator.Close()
	}
}

// CloseFunc returns a panics.CloseFunc bound to this package's Close.
func CloseFunc() func() {
	return Close
}

// Writer exposes the shared multi-destination writer for callers that need
// an io.Writer rather than a named subsystem logger.
func Writer() io.Writer {
	return logWriter{}
}

// SetLogLevel sets the logging level for the given subsystem. Unknown
// subsystems are ignored.
func SetLogLevel(subsystemID string, logLevel string) {
	logger, ok := subsystemLoggers[subsystemID]
	if !ok {
		return
	}
	level, _ := btclog.LevelFromString(logLevel)
	logger.SetLevel(level)
}

// SetLogLevels sets the log level for every subsystem logger.
func SetLogLevels(logLevel string) {
	for subsystemID := range subsystemLoggers {
		SetLogLevel(subsystemID, logLevel)
	}
}

// SupportedSubsystems returns a sorted slice of the supported subsystem tags.
func SupportedSubsystems() []string {
	subsystems := make([]string, 0, len(subsystemLoggers))
	for subsysID := range subsystemLoggers {
		subsystems = append(subsystems, subsysID)
	}
	sort.Strings(subsystems)
	return subsystems
}

// Get returns the logger for a specific subsystem tag.
func Get(tag string) (logger btclog.Logger, ok bool) {
	logger, ok = subsystemLoggers[tag]
	return
}

// ParseAndSetDebugLevels parses a debug level specifier of the form
// "<level>" or "<SUBSYS>=<level>,<SUBSYS>=<level>,..." and applies it.
func ParseAndSetDebugLevels(debugLevel string) error {
	if !strings.Contains(debugLevel, ",") && !strings.Contains(debugLevel, "=") {
		if !validLogLevel(debugLevel) {
			return fmt.Errorf("the specified debug level [%s] is invalid", debugLevel)
		}
		SetLogLevels(debugLevel)
		return nil
	}

	for _, logLevelPair := range strings.Split(debugLevel, ",") {
		if !strings.Contains(logLevelPair, "=") {
			return fmt.Errorf("the specified debug level contains an invalid subsystem/level pair [%s]", logLevelPair)
		}

		fields := strings.SplitN(logLevelPair, "=", 2)
		subsysID, logLevel := fields[0], fields[1]

		if _, exists := Get(subsysID); !exists {
			return fmt.Errorf("the specified subsystem [%s] is invalid -- supported subsystems %s",
				subsysID, strings.Join(SupportedSubsystems(), ", "))
		}
		if !validLogLevel(logLevel) {
			return fmt.Errorf("the specified debug level [%s] is invalid", logLevel)
		}
		SetLogLevel(subsysID, logLevel)
	}
	return nil
}

func validLogLevel(logLevel string) bool {
	switch logLevel {
	case "trace", "debug", "info", "warn", "error", "critical":
		return true
	}
	return false
}

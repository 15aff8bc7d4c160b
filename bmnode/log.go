// Copyright (c) 2024 The bmnode developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package bmnode

import (
	"os"
	"path/filepath"

	"github.com/btcsuite/btclog"
	"github.com/jrick/logrotate/rotator"

	"github.com/bmnode/core/inventory"
	"github.com/bmnode/core/messaging"
	"github.com/bmnode/core/network"
	"github.com/bmnode/core/peer"
	"github.com/bmnode/core/pow"
	"github.com/bmnode/core/repository/leveldbrepo"
)

// log is this package's own subsystem logger, wired by InitLogRotator
// alongside every other package's.
var log = btclog.Disabled

var logRotator *rotator.Rotator

// InitLogRotator creates a rotating log file at logFile (10MB rolls, 3
// kept) and wires every subsystem's logger to write to it as well as
// stdout, the same two-writer (console + rotated file) backend shape the
// teacher's daemons build around jrick/logrotate.
func InitLogRotator(logFile string) error {
	logDir := filepath.Dir(logFile)
	if err := os.MkdirAll(logDir, 0700); err != nil {
		return err
	}

	r, err := rotator.New(logFile, 10*1024, false, 3)
	if err != nil {
		return err
	}
	logRotator = r

	backend := btclog.NewBackend(logWriter{})
	UseLogger(backend.Logger("NODE"))
	peer.UseLogger(backend.Logger("PEER"))
	network.UseLogger(backend.Logger("NTWK"))
	messaging.UseLogger(backend.Logger("MESG"))
	pow.UseLogger(backend.Logger("POWS"))
	inventory.UseLogger(backend.Logger("INVT"))
	leveldbrepo.UseLogger(backend.Logger("LDBR"))
	return nil
}

// UseLogger sets this package's own logger without touching any
// subsystem's — callers that want to wire loggers individually (tests,
// embedders with their own backend) use this plus each package's own
// UseLogger instead of InitLogRotator.
func UseLogger(logger btclog.Logger) {
	log = logger
}

// logWriter fans every log line out to stdout and the rotator, matching
// the teacher's convention that console output survives even when the
// rotated file can't be opened for some reason.
type logWriter struct{}

func (logWriter) Write(p []byte) (int, error) {
	os.Stdout.Write(p)
	return logRotator.Write(p)
}

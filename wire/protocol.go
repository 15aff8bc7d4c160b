// Copyright (c) 2013-2024 The btcsuite developers
// Copyright (c) 2024 The bmnode developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package wire implements the framed message format peers exchange over
// TCP: a fixed header (magic, command, length, checksum) followed by a
// command-specific payload. It deliberately knows nothing about object
// bodies or proof of work — see the objects and pow packages for those —
// only how bytes are split into discrete messages on the stream.
package wire

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	// ProtocolVersion is the protocol version this package produces in
	// its own version messages. Peers declaring anything below
	// netparams.Params.MinProtocolVersion are rejected during the
	// handshake; see peer.Peer.
	ProtocolVersion uint32 = 3
)

// CommandSize is the fixed width, in bytes, of the command field in a
// message header. Shorter commands are padded with trailing zero bytes;
// longer ones are a programmer error.
const CommandSize = 12

// HeaderSize is the total size in bytes of a message header: 4-byte magic,
// 12-byte command, 4-byte payload length, 4-byte checksum.
const HeaderSize = 4 + CommandSize + 4 + 4

// Command strings recognized on the wire. These map directly onto the
// message types a peer session exchanges during and after the handshake.
const (
	CmdVersion = "version"
	CmdVerAck  = "verack"
	CmdAddr    = "addr"
	CmdInv     = "inv"
	CmdGetData = "getdata"
	CmdObject  = "object"
)

// ServiceFlag identifies services supported by a peer, carried in the
// version message.
type ServiceFlag uint64

const (
	// SFNodeNetwork indicates the peer stores and relays objects for the
	// streams it has announced, rather than only participating in the
	// handshake.
	SFNodeNetwork ServiceFlag = 1 << iota

	// SFNodeGateway indicates the peer bridges messages to or from a
	// system outside the Bitmessage network (e.g. an email gateway).
	SFNodeGateway

	// SFNodeDandelion indicates the peer supports stem-phase relay of
	// newly created objects before they enter normal flood fill.
	SFNodeDandelion
)

// sfStrings maps service flags back to their constant names for pretty
// printing.
var sfStrings = map[ServiceFlag]string{
	SFNodeNetwork:   "SFNodeNetwork",
	SFNodeGateway:   "SFNodeGateway",
	SFNodeDandelion: "SFNodeDandelion",
}

// orderedSFStrings is an ordered list of service flags from lowest to
// highest.
var orderedSFStrings = []ServiceFlag{
	SFNodeNetwork,
	SFNodeGateway,
	SFNodeDandelion,
}

// HasFlag reports whether f carries every bit set in want.
func (f ServiceFlag) HasFlag(want ServiceFlag) bool {
	return f&want == want
}

// String renders f as a pipe-separated list of its known flag names,
// falling back to a trailing hex term for any bits sfStrings doesn't
// recognize.
func (f ServiceFlag) String() string {
	if f == 0 {
		return "0x0"
	}

	var parts []string
	for _, flag := range orderedSFStrings {
		if f.HasFlag(flag) {
			parts = append(parts, sfStrings[flag])
			f &^= flag
		}
	}
	if f != 0 {
		parts = append(parts, "0x"+strconv.FormatUint(uint64(f), 16))
	}
	return strings.Join(parts, "|")
}

// BitmessageNet represents which Bitmessage network a message belongs to,
// carried as the magic value at the start of every frame.
type BitmessageNet uint32

// bnStrings maps known network magics back to their constant names for
// pretty printing. Populated by netparams registration rather than a fixed
// table, since the set of recognized networks is a deployment choice.
var bnStrings = map[BitmessageNet]string{}

// RegisterNetName associates a magic with a display name, called by
// netparams when a Params value is registered.
func RegisterNetName(magic uint32, name string) {
	bnStrings[BitmessageNet(magic)] = name
}

// String returns the BitmessageNet in human-readable form.
func (n BitmessageNet) String() string {
	if s, ok := bnStrings[n]; ok {
		return s
	}
	return fmt.Sprintf("unknown network (0x%08x)", uint32(n))
}

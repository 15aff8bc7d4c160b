// Copyright (c) 2024 The bmnode developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package netparams defines the tunable network parameters a bmnode
// instance runs with: the magic value peers use to recognize each other,
// proof-of-work difficulty knobs, per-object-type time-to-live, and the
// protocol version floor. It follows the register-by-magic pattern used
// throughout the Bitcoin family of codebases: each network's Params value is
// Register-ed once under its magic and looked up by it. bmnode copies a
// registered value and applies operator overrides to the copy without
// registering it.
package netparams

import (
	"errors"
	"time"

	"github.com/bmnode/core/objkind"
	"github.com/bmnode/core/wire"
)

// ErrDuplicateNet is returned by Register when a Params with the same
// Net magic has already been registered.
var ErrDuplicateNet = errors.New("netparams: duplicate network magic")

// Params holds everything that must be agreed between peers for them to
// usefully talk to one another.
type Params struct {
	// Name is the human-readable network name, e.g. "mainnet".
	Name string

	// Net is the four-byte magic value prefixed to every framed message.
	Net uint32

	// DefaultPort is the TCP port peers listen on by default.
	DefaultPort string

	// MinProtocolVersion is the lowest version field a peer's version
	// message may declare before the handshake is rejected.
	MinProtocolVersion uint32

	// NetworkNonceTrialsPerByte and NetworkExtraBytes are the proof-of-work
	// difficulty parameters: NTPB scales work with payload size, EB adds a
	// fixed per-object overhead so tiny objects still cost something to
	// produce.
	NetworkNonceTrialsPerByte uint64
	NetworkExtraBytes         uint64

	// MaxObjectTTL bounds how far in the future an object's expiresTime may
	// be set, keyed by object type. Objects exceeding their type's bound by
	// more than inventory's fixed clock-skew allowance are protocol
	// violations, not merely low priority.
	MaxObjectTTL map[objkind.ObjectType]time.Duration

	// HandshakeTimeout is how long a peer has to complete version/verack
	// after the TCP connection opens before it is dropped.
	HandshakeTimeout time.Duration

	// IdleTimeout is how long an ACTIVE peer may go without sending anything
	// before it is dropped.
	IdleTimeout time.Duration

	// MaxInvPerMessage and MaxAddrPerMessage cap the number of entries a
	// single inv/addr message may carry.
	MaxInvPerMessage  int
	MaxAddrPerMessage int

	// TargetOutboundPeers is how many outbound connections the network
	// agent tries to maintain.
	TargetOutboundPeers int
}

var registered = make(map[uint32]*Params)

// Register adds params to the set of recognized networks. It returns
// ErrDuplicateNet if the same magic is already registered; mustRegister
// below turns that error into a panic for the package's own built-in
// networks.
func Register(params *Params) error {
	if _, exists := registered[params.Net]; exists {
		return ErrDuplicateNet
	}
	registered[params.Net] = params
	wire.RegisterNetName(params.Net, params.Name)
	return nil
}

// mustRegister is Register for parameters defined by this package; a
// collision here is a programmer error, not a runtime condition.
func mustRegister(params *Params) *Params {
	if err := Register(params); err != nil {
		panic("netparams: " + err.Error())
	}
	return params
}

// Lookup returns the Params registered under magic, if any.
func Lookup(magic uint32) (*Params, bool) {
	p, ok := registered[magic]
	return p, ok
}

// MainNetParams are the parameters used by the production Bitmessage
// network.
var MainNetParams = mustRegister(&Params{
	Name:        "mainnet",
	Net:         0xE9BEB4D9,
	DefaultPort: "8444",

	MinProtocolVersion: 3,

	NetworkNonceTrialsPerByte: 1000,
	NetworkExtraBytes:         1000,

	MaxObjectTTL: map[objkind.ObjectType]time.Duration{
		objkind.GetPubkey: 2 * 24 * time.Hour,
		objkind.Pubkey:     28 * 24 * time.Hour,
		objkind.Msg:        2*24*time.Hour + 12*time.Hour,
		objkind.Broadcast:  2 * 24 * time.Hour,
	},

	HandshakeTimeout: 30 * time.Second,
	IdleTimeout:      10 * time.Minute,

	MaxInvPerMessage:  50000,
	MaxAddrPerMessage: 1000,

	TargetOutboundPeers: 8,
})

// TestNetParams relax the proof-of-work cost and TTL bounds for local
// integration testing, while keeping the wire format identical to mainnet.
var TestNetParams = mustRegister(&Params{
	Name:        "testnet",
	Net:         0xFACEDB00,
	DefaultPort: "18444",

	MinProtocolVersion: 3,

	NetworkNonceTrialsPerByte: 1,
	NetworkExtraBytes:         1,

	MaxObjectTTL: map[objkind.ObjectType]time.Duration{
		objkind.GetPubkey: 2 * 24 * time.Hour,
		objkind.Pubkey:     28 * 24 * time.Hour,
		objkind.Msg:        2*24*time.Hour + 12*time.Hour,
		objkind.Broadcast:  2 * 24 * time.Hour,
	},

	HandshakeTimeout: 30 * time.Second,
	IdleTimeout:      10 * time.Minute,

	MaxInvPerMessage:  50000,
	MaxAddrPerMessage: 1000,

	TargetOutboundPeers: 8,
})

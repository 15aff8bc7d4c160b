// Copyright (c) 2024 The bmnode developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package objkind holds the object type enumeration shared by the objects,
// netparams, and inventory packages. It is split out on its own so that
// netparams (which needs the type to key its per-type TTL table) and objects
// (which needs it to tag payload variants) don't have to import each other.
package objkind

import "fmt"

// ObjectType identifies the payload carried by an object envelope.
type ObjectType uint32

const (
	// GetPubkey requests the Pubkey for a given address/tag.
	GetPubkey ObjectType = 0

	// Pubkey announces a public identity, in cleartext (v2/v3) or
	// encrypted (v4).
	Pubkey ObjectType = 1

	// Msg carries an encrypted message addressed to a single recipient.
	Msg ObjectType = 2

	// Broadcast carries a message encrypted for every subscriber of a
	// sender's address (and, in practice, stream).
	Broadcast ObjectType = 3
)

var names = map[ObjectType]string{
	GetPubkey: "getpubkey",
	Pubkey:    "pubkey",
	Msg:       "msg",
	Broadcast: "broadcast",
}

// String returns the ObjectType in human-readable form.
func (t ObjectType) String() string {
	if s, ok := names[t]; ok {
		return s
	}
	return fmt.Sprintf("unknown object type (%d)", uint32(t))
}

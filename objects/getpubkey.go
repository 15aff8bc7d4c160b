// Copyright (c) 2024 The bmnode developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package objects

import (
	"github.com/bmnode/core/bmerr"
	"github.com/bmnode/core/objkind"
)

// GetPubkeyRipe is the getpubkey body for address versions 2 and 3: a bare
// 20-byte ripe hash identifying the requested identity.
type GetPubkeyRipe struct {
	Ripe [20]byte
}

func (g *GetPubkeyRipe) Kind() objkind.ObjectType { return objkind.GetPubkey }

func (g *GetPubkeyRipe) Serialize() []byte {
	return append([]byte(nil), g.Ripe[:]...)
}

// ParseGetPubkeyRipe decodes a v2/v3 getpubkey body.
func ParseGetPubkeyRipe(data []byte) (*GetPubkeyRipe, error) {
	if len(data) != 20 {
		return nil, bmerr.New(bmerr.ParseError, "objects.ParseGetPubkeyRipe", "getpubkey body must be 20 bytes")
	}
	var g GetPubkeyRipe
	copy(g.Ripe[:], data)
	return &g, nil
}

// GetPubkeyTag is the getpubkey body for address version 4: a 32-byte tag
// derived from the address rather than its ripe, so the request does not
// itself reveal which address is being looked up to passive observers.
type GetPubkeyTag struct {
	Tag [32]byte
}

func (g *GetPubkeyTag) Kind() objkind.ObjectType { return objkind.GetPubkey }

func (g *GetPubkeyTag) Serialize() []byte {
	return append([]byte(nil), g.Tag[:]...)
}

// ParseGetPubkeyTag decodes a v4 getpubkey body.
func ParseGetPubkeyTag(data []byte) (*GetPubkeyTag, error) {
	if len(data) != 32 {
		return nil, bmerr.New(bmerr.ParseError, "objects.ParseGetPubkeyTag", "getpubkey v4 body must be 32 bytes")
	}
	var g GetPubkeyTag
	copy(g.Tag[:], data)
	return &g, nil
}

// ParseGetPubkey dispatches on addressVersion to the right concrete type.
func ParseGetPubkey(addressVersion uint64, data []byte) (Payload, error) {
	switch addressVersion {
	case 2, 3:
		return ParseGetPubkeyRipe(data)
	case 4:
		return ParseGetPubkeyTag(data)
	default:
		return nil, bmerr.New(bmerr.ParseError, "objects.ParseGetPubkey", "unsupported address version")
	}
}

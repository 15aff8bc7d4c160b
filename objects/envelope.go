// Copyright (c) 2024 The bmnode developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package objects implements the flood-fill object envelope and its
// payload variants (getpubkey, pubkey v2/v3/v4, msg, broadcast). An Object
// is the unit every peer gossips and every Inventory entry addresses by
// its IV — the first 32 bytes of double SHA-512 over the fully serialized
// envelope, nonce included.
package objects

import (
	"bytes"

	"github.com/bmnode/core/bmcrypto"
	"github.com/bmnode/core/bmerr"
	"github.com/bmnode/core/codec"
	"github.com/bmnode/core/objkind"
)

// IVSize is the length in bytes of an inventory vector.
const IVSize = 32

// IV identifies an object by content address: the first 32 bytes of
// SHA-512(SHA-512(object_bytes)).
type IV [IVSize]byte

// Envelope is the common header carried by every object, preceding its
// payload-type-specific body.
type Envelope struct {
	Nonce       uint64
	ExpiresTime uint64
	ObjectType  objkind.ObjectType
	Version     uint64
	Stream      uint64
	Payload     []byte // canonical serialized payload body
}

// HeaderBytes serializes expiresTime through stream — the span payload
// signatures (pubkey v3, msg, broadcast) are computed over, deliberately
// excluding the nonce since it is chosen after signing.
func (e *Envelope) HeaderBytes() []byte {
	var buf bytes.Buffer
	_ = codec.WriteUint64(&buf, e.ExpiresTime)
	_ = codec.WriteUint32(&buf, uint32(e.ObjectType))
	_ = codec.WriteVarInt(&buf, e.Version)
	_ = codec.WriteVarInt(&buf, e.Stream)
	return buf.Bytes()
}

// Serialize renders the full object: nonce || header || payload.
func (e *Envelope) Serialize() []byte {
	var buf bytes.Buffer
	_ = codec.WriteUint64(&buf, e.Nonce)
	buf.Write(e.HeaderBytes())
	buf.Write(e.Payload)
	return buf.Bytes()
}

// ParseEnvelope splits raw object bytes into an Envelope, leaving Payload
// as the undecoded payload-type-specific tail. Decoding the payload body
// itself is the responsibility of the type-specific Parse functions in
// this package (ParseGetPubkey, ParsePubkeyV2/V3/V4, ParseMsg,
// ParseBroadcast).
func ParseEnvelope(data []byte) (*Envelope, error) {
	r := bytes.NewReader(data)

	nonce, err := codec.ReadUint64(r)
	if err != nil {
		return nil, bmerr.Wrap(bmerr.ParseError, "objects.ParseEnvelope", err)
	}
	expires, err := codec.ReadUint64(r)
	if err != nil {
		return nil, bmerr.Wrap(bmerr.ParseError, "objects.ParseEnvelope", err)
	}
	objType, err := codec.ReadUint32(r)
	if err != nil {
		return nil, bmerr.Wrap(bmerr.ParseError, "objects.ParseEnvelope", err)
	}
	version, err := codec.ReadVarInt(r)
	if err != nil {
		return nil, bmerr.Wrap(bmerr.ParseError, "objects.ParseEnvelope", err)
	}
	stream, err := codec.ReadVarInt(r)
	if err != nil {
		return nil, bmerr.Wrap(bmerr.ParseError, "objects.ParseEnvelope", err)
	}

	payload := make([]byte, r.Len())
	if _, err := r.Read(payload); err != nil && r.Len() != 0 {
		return nil, bmerr.Wrap(bmerr.ParseError, "objects.ParseEnvelope", err)
	}

	return &Envelope{
		Nonce:       nonce,
		ExpiresTime: expires,
		ObjectType:  objkind.ObjectType(objType),
		Version:     version,
		Stream:      stream,
		Payload:     payload,
	}, nil
}

// ComputeIV returns the inventory vector for this envelope's current
// (nonce-inclusive) serialization.
func ComputeIV(c bmcrypto.Cryptography, e *Envelope) IV {
	digest := c.DoubleSHA512(e.Serialize())
	var iv IV
	copy(iv[:], digest[:IVSize])
	return iv
}

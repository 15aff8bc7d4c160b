// Copyright (c) 2024 The bmnode developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package objects

import (
	"bytes"

	"github.com/bmnode/core/bmerr"
	"github.com/bmnode/core/codec"
	"github.com/bmnode/core/objkind"
)

// Behavior bitfield bits, counted from the MSB of a 32-bit field.
const (
	BehaviorIncludeDestination uint32 = 1 << 30
	BehaviorDoesAck            uint32 = 1 << 31
)

// HasBehavior reports whether bitfield has every bit in want set.
func HasBehavior(bitfield, want uint32) bool {
	return bitfield&want == want
}

// PubkeyV2 is the cleartext pubkey body shared by v2 and (as an embedded
// prefix) v3: a behavior bitfield and the two 64-byte uncompressed public
// keys (X||Y, 0x04 prefix stripped).
type PubkeyV2 struct {
	Behavior      uint32
	SigningKey    [64]byte
	EncryptionKey [64]byte
}

func (p *PubkeyV2) Kind() objkind.ObjectType { return objkind.Pubkey }

func (p *PubkeyV2) Serialize() []byte {
	var buf bytes.Buffer
	_ = codec.WriteUint32(&buf, p.Behavior)
	buf.Write(p.SigningKey[:])
	buf.Write(p.EncryptionKey[:])
	return buf.Bytes()
}

// ParsePubkeyV2 decodes a v2 pubkey body.
func ParsePubkeyV2(data []byte) (*PubkeyV2, error) {
	r := bytes.NewReader(data)
	p, err := parsePubkeyV2Fields(r)
	if err != nil {
		return nil, err
	}
	return p, nil
}

func parsePubkeyV2Fields(r *bytes.Reader) (*PubkeyV2, error) {
	behavior, err := codec.ReadUint32(r)
	if err != nil {
		return nil, bmerr.Wrap(bmerr.ParseError, "objects.ParsePubkeyV2", err)
	}
	var p PubkeyV2
	p.Behavior = behavior
	if err := codec.ReadFixedBytes(r, p.SigningKey[:]); err != nil {
		return nil, err
	}
	if err := codec.ReadFixedBytes(r, p.EncryptionKey[:]); err != nil {
		return nil, err
	}
	return &p, nil
}

// PubkeyV3 extends PubkeyV2 with the PoW terms the identity advertises and
// a signature covering the envelope header plus every field above.
type PubkeyV3 struct {
	PubkeyV2
	NonceTrialsPerByte uint64
	ExtraBytes         uint64
	Signature          []byte
}

func (p *PubkeyV3) Kind() objkind.ObjectType { return objkind.Pubkey }

// bodyWithoutSignature serializes every field the signature covers except
// the signature itself — the data SignTarget signs and Verify checks
// against.
func (p *PubkeyV3) bodyWithoutSignature() []byte {
	var buf bytes.Buffer
	buf.Write(p.PubkeyV2.Serialize())
	_ = codec.WriteVarInt(&buf, p.NonceTrialsPerByte)
	_ = codec.WriteVarInt(&buf, p.ExtraBytes)
	return buf.Bytes()
}

// SignTarget returns header || body-without-signature, the data a v3
// pubkey's signature is computed over.
func (p *PubkeyV3) SignTarget(header []byte) []byte {
	return append(append([]byte(nil), header...), p.bodyWithoutSignature()...)
}

func (p *PubkeyV3) Serialize() []byte {
	var buf bytes.Buffer
	buf.Write(p.bodyWithoutSignature())
	_ = codec.WriteVarBytes(&buf, p.Signature)
	return buf.Bytes()
}

// ParsePubkeyV3 decodes a v3 pubkey body.
func ParsePubkeyV3(data []byte) (*PubkeyV3, error) {
	r := bytes.NewReader(data)
	v2, err := parsePubkeyV2Fields(r)
	if err != nil {
		return nil, err
	}

	ntpb, err := codec.ReadVarInt(r)
	if err != nil {
		return nil, bmerr.Wrap(bmerr.ParseError, "objects.ParsePubkeyV3", err)
	}
	eb, err := codec.ReadVarInt(r)
	if err != nil {
		return nil, bmerr.Wrap(bmerr.ParseError, "objects.ParsePubkeyV3", err)
	}
	sig, err := codec.ReadVarBytes(r, codec.MaxPayloadSize, "pubkey signature")
	if err != nil {
		return nil, err
	}

	return &PubkeyV3{
		PubkeyV2:           *v2,
		NonceTrialsPerByte: ntpb,
		ExtraBytes:         eb,
		Signature:          sig,
	}, nil
}

// PubkeyV4 is a v3 pubkey body encrypted under a key derived from the
// owning address, announced alongside a lookup Tag so a requester who
// doesn't yet have the pubkey can still find it.
type PubkeyV4 struct {
	Tag       [32]byte
	Encrypted []byte // ECIES envelope (see EncryptECIES) of a PubkeyV3 body
}

func (p *PubkeyV4) Kind() objkind.ObjectType { return objkind.Pubkey }

func (p *PubkeyV4) Serialize() []byte {
	var buf bytes.Buffer
	buf.Write(p.Tag[:])
	buf.Write(p.Encrypted)
	return buf.Bytes()
}

// ParsePubkeyV4 decodes a v4 pubkey body without decrypting it; callers
// recover the embedded PubkeyV3 via DecryptECIES and ParsePubkeyV3 once
// they hold the derived key.
func ParsePubkeyV4(data []byte) (*PubkeyV4, error) {
	if len(data) < 32 {
		return nil, bmerr.New(bmerr.ParseError, "objects.ParsePubkeyV4", "pubkey v4 body shorter than tag")
	}
	var p PubkeyV4
	copy(p.Tag[:], data[:32])
	p.Encrypted = append([]byte(nil), data[32:]...)
	return &p, nil
}

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

// Broadcast is the on-wire body of a broadcast object: a deterministic tag
// derived from the sender's address (so subscribers can recognize it
// without decrypting) plus the ciphertext, symmetrically encrypted under a
// key also derived from the sender's address — any subscriber of the
// stream can compute that key and decrypt.
type Broadcast struct {
	Tag       [32]byte
	Encrypted []byte
}

func (b *Broadcast) Kind() objkind.ObjectType { return objkind.Broadcast }

func (b *Broadcast) Serialize() []byte {
	var buf bytes.Buffer
	buf.Write(b.Tag[:])
	buf.Write(b.Encrypted)
	return buf.Bytes()
}

// ParseBroadcast decodes a broadcast object body without decrypting it.
func ParseBroadcast(data []byte) (*Broadcast, error) {
	if len(data) < 32 {
		return nil, bmerr.New(bmerr.ParseError, "objects.ParseBroadcast", "broadcast body shorter than tag")
	}
	var b Broadcast
	copy(b.Tag[:], data[:32])
	b.Encrypted = append([]byte(nil), data[32:]...)
	return &b, nil
}

// BroadcastPlaintext is the decrypted body of a broadcast object. It
// mirrors MsgPlaintext but has no single destination: every subscriber who
// derives the same symmetric key can read it.
type BroadcastPlaintext struct {
	BroadcastVersion   uint64
	AddressVersion     uint64
	Stream             uint64
	Behavior           uint32
	SigningKey         [64]byte
	EncryptionKey      [64]byte
	NonceTrialsPerByte uint64
	ExtraBytes         uint64
	Encoding           uint64
	Message            []byte
	Signature          []byte
}

func (b *BroadcastPlaintext) bodyWithoutSignature() []byte {
	var buf bytes.Buffer
	_ = codec.WriteVarInt(&buf, b.BroadcastVersion)
	_ = codec.WriteVarInt(&buf, b.AddressVersion)
	_ = codec.WriteVarInt(&buf, b.Stream)
	_ = codec.WriteUint32(&buf, b.Behavior)
	buf.Write(b.SigningKey[:])
	buf.Write(b.EncryptionKey[:])
	_ = codec.WriteVarInt(&buf, b.NonceTrialsPerByte)
	_ = codec.WriteVarInt(&buf, b.ExtraBytes)
	_ = codec.WriteVarInt(&buf, b.Encoding)
	_ = codec.WriteVarBytes(&buf, b.Message)
	return buf.Bytes()
}

// SignTarget returns header || body-without-signature.
func (b *BroadcastPlaintext) SignTarget(header []byte) []byte {
	return append(append([]byte(nil), header...), b.bodyWithoutSignature()...)
}

func (b *BroadcastPlaintext) Serialize() []byte {
	var buf bytes.Buffer
	buf.Write(b.bodyWithoutSignature())
	_ = codec.WriteVarBytes(&buf, b.Signature)
	return buf.Bytes()
}

// ParseBroadcastPlaintext decodes a decrypted broadcast plaintext body.
func ParseBroadcastPlaintext(data []byte) (*BroadcastPlaintext, error) {
	r := bytes.NewReader(data)
	const op = "objects.ParseBroadcastPlaintext"

	bVersion, err := codec.ReadVarInt(r)
	if err != nil {
		return nil, bmerr.Wrap(bmerr.ParseError, op, err)
	}
	addrVersion, err := codec.ReadVarInt(r)
	if err != nil {
		return nil, bmerr.Wrap(bmerr.ParseError, op, err)
	}
	stream, err := codec.ReadVarInt(r)
	if err != nil {
		return nil, bmerr.Wrap(bmerr.ParseError, op, err)
	}
	behavior, err := codec.ReadUint32(r)
	if err != nil {
		return nil, bmerr.Wrap(bmerr.ParseError, op, err)
	}

	var b BroadcastPlaintext
	b.BroadcastVersion = bVersion
	b.AddressVersion = addrVersion
	b.Stream = stream
	b.Behavior = behavior

	if err := codec.ReadFixedBytes(r, b.SigningKey[:]); err != nil {
		return nil, err
	}
	if err := codec.ReadFixedBytes(r, b.EncryptionKey[:]); err != nil {
		return nil, err
	}

	ntpb, err := codec.ReadVarInt(r)
	if err != nil {
		return nil, bmerr.Wrap(bmerr.ParseError, op, err)
	}
	eb, err := codec.ReadVarInt(r)
	if err != nil {
		return nil, bmerr.Wrap(bmerr.ParseError, op, err)
	}
	b.NonceTrialsPerByte = ntpb
	b.ExtraBytes = eb

	encoding, err := codec.ReadVarInt(r)
	if err != nil {
		return nil, bmerr.Wrap(bmerr.ParseError, op, err)
	}
	b.Encoding = encoding

	msg, err := codec.ReadVarBytes(r, codec.MaxPayloadSize, "message")
	if err != nil {
		return nil, err
	}
	b.Message = msg

	sig, err := codec.ReadVarBytes(r, codec.MaxPayloadSize, "signature")
	if err != nil {
		return nil, err
	}
	b.Signature = sig

	return &b, nil
}

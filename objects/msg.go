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

// Msg is the on-wire body of a msg object: ciphertext only. Its plaintext
// (MsgPlaintext) is recovered by the message pipeline via trial-decryption
// against each local identity's decryption key; see messaging.Pipeline.
type Msg struct {
	Encrypted []byte
}

func (m *Msg) Kind() objkind.ObjectType { return objkind.Msg }

func (m *Msg) Serialize() []byte {
	return append([]byte(nil), m.Encrypted...)
}

// ParseMsg decodes a msg object body without decrypting it.
func ParseMsg(data []byte) (*Msg, error) {
	if len(data) == 0 {
		return nil, bmerr.New(bmerr.ParseError, "objects.ParseMsg", "empty msg body")
	}
	return &Msg{Encrypted: append([]byte(nil), data...)}, nil
}

// MsgPlaintext is the decrypted body of a msg object: the sender's
// identity (so the recipient can reply and verify the signature), the
// destination ripe it was actually encrypted for, and the application
// payload plus optional ack.
type MsgPlaintext struct {
	MsgVersion         uint64
	AddressVersion     uint64
	Stream             uint64
	Behavior           uint32
	SigningKey         [64]byte
	EncryptionKey      [64]byte
	NonceTrialsPerByte uint64 // present when AddressVersion >= 3
	ExtraBytes         uint64 // present when AddressVersion >= 3
	DestinationRipe    [20]byte
	Encoding           uint64
	Message            []byte
	AckData            []byte
	Signature          []byte
}

// bodyWithoutSignature serializes every plaintext field preceding the
// signature, in wire order.
func (m *MsgPlaintext) bodyWithoutSignature() []byte {
	var buf bytes.Buffer
	_ = codec.WriteVarInt(&buf, m.MsgVersion)
	_ = codec.WriteVarInt(&buf, m.AddressVersion)
	_ = codec.WriteVarInt(&buf, m.Stream)
	_ = codec.WriteUint32(&buf, m.Behavior)
	buf.Write(m.SigningKey[:])
	buf.Write(m.EncryptionKey[:])
	if m.AddressVersion >= 3 {
		_ = codec.WriteVarInt(&buf, m.NonceTrialsPerByte)
		_ = codec.WriteVarInt(&buf, m.ExtraBytes)
	}
	buf.Write(m.DestinationRipe[:])
	_ = codec.WriteVarInt(&buf, m.Encoding)
	_ = codec.WriteVarBytes(&buf, m.Message)
	_ = codec.WriteVarBytes(&buf, m.AckData)
	return buf.Bytes()
}

// SignTarget returns header || body-without-signature, the data a msg's
// signature is computed over.
func (m *MsgPlaintext) SignTarget(header []byte) []byte {
	return append(append([]byte(nil), header...), m.bodyWithoutSignature()...)
}

// Serialize renders the full plaintext envelope, signature included. The
// result is what gets AES-CBC encrypted into Msg.Encrypted.
func (m *MsgPlaintext) Serialize() []byte {
	var buf bytes.Buffer
	buf.Write(m.bodyWithoutSignature())
	_ = codec.WriteVarBytes(&buf, m.Signature)
	return buf.Bytes()
}

// ParseMsgPlaintext decodes a decrypted msg plaintext body.
func ParseMsgPlaintext(data []byte) (*MsgPlaintext, error) {
	r := bytes.NewReader(data)
	const op = "objects.ParseMsgPlaintext"

	msgVersion, err := codec.ReadVarInt(r)
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

	var m MsgPlaintext
	m.MsgVersion = msgVersion
	m.AddressVersion = addrVersion
	m.Stream = stream
	m.Behavior = behavior

	if err := codec.ReadFixedBytes(r, m.SigningKey[:]); err != nil {
		return nil, err
	}
	if err := codec.ReadFixedBytes(r, m.EncryptionKey[:]); err != nil {
		return nil, err
	}

	if addrVersion >= 3 {
		ntpb, err := codec.ReadVarInt(r)
		if err != nil {
			return nil, bmerr.Wrap(bmerr.ParseError, op, err)
		}
		eb, err := codec.ReadVarInt(r)
		if err != nil {
			return nil, bmerr.Wrap(bmerr.ParseError, op, err)
		}
		m.NonceTrialsPerByte = ntpb
		m.ExtraBytes = eb
	}

	if err := codec.ReadFixedBytes(r, m.DestinationRipe[:]); err != nil {
		return nil, err
	}

	encoding, err := codec.ReadVarInt(r)
	if err != nil {
		return nil, bmerr.Wrap(bmerr.ParseError, op, err)
	}
	m.Encoding = encoding

	msg, err := codec.ReadVarBytes(r, codec.MaxPayloadSize, "message")
	if err != nil {
		return nil, err
	}
	m.Message = msg

	ack, err := codec.ReadVarBytes(r, codec.MaxPayloadSize, "ackData")
	if err != nil {
		return nil, err
	}
	m.AckData = ack

	sig, err := codec.ReadVarBytes(r, codec.MaxPayloadSize, "signature")
	if err != nil {
		return nil, err
	}
	m.Signature = sig

	return &m, nil
}

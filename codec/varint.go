// Copyright (c) 2024 The bmnode developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package codec implements the Bitmessage wire encoding primitives: Bitcoin-
// style variable-length integers, length-prefixed byte strings, and
// big-endian fixed-width fields, all stream based so a caller can bound how
// much of an io.Reader gets consumed before a payload's declared length is
// known to be sane.
package codec

import (
	"encoding/binary"
	"io"

	"github.com/bmnode/core/bmerr"
)

// MaxPayloadSize is the maximum number of bytes a single object payload (the
// bytes following the nonce/expiresTime/objectType/version/stream header)
// may occupy on the wire.
const MaxPayloadSize = 1600003

// varint tag bytes, following the same convention btcsuite's wire package
// uses for Bitcoin-style varints.
const (
	varIntTag16 = 0xfd
	varIntTag32 = 0xfe
	varIntTag64 = 0xff
)

// VarIntSerializeSize returns the number of bytes it would take to encode
// the passed value as a variable-length integer.
func VarIntSerializeSize(val uint64) int {
	switch {
	case val < 0xfd:
		return 1
	case val <= 0xffff:
		return 3
	case val <= 0xffffffff:
		return 5
	default:
		return 9
	}
}

// WriteVarInt writes val to w using the fewest bytes possible: one byte for
// values under 0xfd, a 0xfd tag followed by two bytes for values that fit in
// 16 bits, a 0xfe tag followed by four bytes for 32 bits, and a 0xff tag
// followed by eight bytes otherwise.
func WriteVarInt(w io.Writer, val uint64) error {
	var buf [9]byte
	switch {
	case val < 0xfd:
		buf[0] = byte(val)
		_, err := w.Write(buf[:1])
		return err

	case val <= 0xffff:
		buf[0] = varIntTag16
		binary.BigEndian.PutUint16(buf[1:3], uint16(val))
		_, err := w.Write(buf[:3])
		return err

	case val <= 0xffffffff:
		buf[0] = varIntTag32
		binary.BigEndian.PutUint32(buf[1:5], uint32(val))
		_, err := w.Write(buf[:5])
		return err

	default:
		buf[0] = varIntTag64
		binary.BigEndian.PutUint64(buf[1:9], val)
		_, err := w.Write(buf[:9])
		return err
	}
}

// ReadVarInt reads a variable-length integer from r. It fails with a
// bmerr.ParseError if the stream ends before the declared length is
// satisfied.
func ReadVarInt(r io.Reader) (uint64, error) {
	var tag [1]byte
	if _, err := io.ReadFull(r, tag[:]); err != nil {
		return 0, bmerr.Wrap(bmerr.ParseError, "codec.ReadVarInt", err)
	}

	switch tag[0] {
	case varIntTag16:
		var b [2]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return 0, bmerr.Wrap(bmerr.ParseError, "codec.ReadVarInt", err)
		}
		return uint64(binary.BigEndian.Uint16(b[:])), nil

	case varIntTag32:
		var b [4]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return 0, bmerr.Wrap(bmerr.ParseError, "codec.ReadVarInt", err)
		}
		return uint64(binary.BigEndian.Uint32(b[:])), nil

	case varIntTag64:
		var b [8]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return 0, bmerr.Wrap(bmerr.ParseError, "codec.ReadVarInt", err)
		}
		return binary.BigEndian.Uint64(b[:]), nil

	default:
		return uint64(tag[0]), nil
	}
}

// WriteVarBytes writes the varint-encoded length of b followed by b itself.
func WriteVarBytes(w io.Writer, b []byte) error {
	if err := WriteVarInt(w, uint64(len(b))); err != nil {
		return err
	}
	_, err := w.Write(b)
	return err
}

// ReadVarBytes reads a varint length prefix followed by that many bytes. It
// fails with bmerr.Oversize if the declared length exceeds maxSize, and
// bmerr.ParseError if the stream doesn't have that many bytes.
func ReadVarBytes(r io.Reader, maxSize uint64, fieldName string) ([]byte, error) {
	n, err := ReadVarInt(r)
	if err != nil {
		return nil, err
	}
	if n > maxSize {
		return nil, bmerr.New(bmerr.Oversize, "codec.ReadVarBytes",
			fieldName+" exceeds maximum allowed size")
	}

	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, bmerr.Wrap(bmerr.ParseError, "codec.ReadVarBytes", err)
	}
	return b, nil
}

// WriteVarString writes s as UTF-8 bytes with a varint length prefix.
func WriteVarString(w io.Writer, s string) error {
	return WriteVarBytes(w, []byte(s))
}

// ReadVarString reads a varint-prefixed UTF-8 string, bounded by maxSize
// bytes.
func ReadVarString(r io.Reader, maxSize uint64) (string, error) {
	b, err := ReadVarBytes(r, maxSize, "varstring")
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Copyright (c) 2024 The bmnode developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package codec

import (
	"encoding/binary"
	"io"

	"github.com/bmnode/core/bmerr"
)

// WriteUint32 writes a big-endian uint32.
func WriteUint32(w io.Writer, v uint32) error {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	_, err := w.Write(b[:])
	return err
}

// ReadUint32 reads a big-endian uint32.
func ReadUint32(r io.Reader) (uint32, error) {
	var b [4]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, bmerr.Wrap(bmerr.ParseError, "codec.ReadUint32", err)
	}
	return binary.BigEndian.Uint32(b[:]), nil
}

// WriteUint64 writes a big-endian uint64.
func WriteUint64(w io.Writer, v uint64) error {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	_, err := w.Write(b[:])
	return err
}

// ReadUint64 reads a big-endian uint64.
func ReadUint64(r io.Reader) (uint64, error) {
	var b [8]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, bmerr.Wrap(bmerr.ParseError, "codec.ReadUint64", err)
	}
	return binary.BigEndian.Uint64(b[:]), nil
}

// WriteFixedBytes writes b verbatim; it exists purely to make call sites
// that move a fixed-width field (a 20-byte ripe, a 32-byte tag, a 64-byte
// public key) read the same way as the varint/varbytes calls around them.
func WriteFixedBytes(w io.Writer, b []byte) error {
	_, err := w.Write(b)
	return err
}

// ReadFixedBytes reads exactly len(b) bytes into b.
func ReadFixedBytes(r io.Reader, b []byte) error {
	if _, err := io.ReadFull(r, b); err != nil {
		return bmerr.Wrap(bmerr.ParseError, "codec.ReadFixedBytes", err)
	}
	return nil
}

// Copyright (c) 2024 The bmnode developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wire

import (
	"bytes"
	"crypto/sha512"
	"encoding/binary"
	"io"

	"github.com/bmnode/core/bmerr"
)

// MaxPayloadLength is the largest payload a single framed message may
// declare. It matches the object size ceiling enforced elsewhere in the
// protocol core; a peer declaring more is misbehaving, not merely slow.
const MaxPayloadLength = 1600003 + 256

// Header is the fixed-size preamble of every framed message.
type Header struct {
	Magic    BitmessageNet
	Command  string
	Length   uint32
	Checksum [4]byte
}

// checksum returns the first four bytes of SHA512(payload), the checksum
// scheme used on the Bitmessage wire (as opposed to Bitcoin's double
// SHA-256).
func checksum(payload []byte) [4]byte {
	sum := sha512.Sum512(payload)
	var out [4]byte
	copy(out[:], sum[:4])
	return out
}

// WriteMessage frames command/payload under magic and writes it to w.
func WriteMessage(w io.Writer, magic BitmessageNet, command string, payload []byte) error {
	if len(command) > CommandSize {
		return bmerr.New(bmerr.ProtocolViolation, "wire.WriteMessage", "command exceeds 12 bytes: "+command)
	}
	if len(payload) > MaxPayloadLength {
		return bmerr.New(bmerr.Oversize, "wire.WriteMessage", "payload exceeds maximum length")
	}

	var cmdBuf [CommandSize]byte
	copy(cmdBuf[:], command)

	var hdr bytes.Buffer
	hdr.Grow(HeaderSize)
	_ = binary.Write(&hdr, binary.BigEndian, uint32(magic))
	hdr.Write(cmdBuf[:])
	_ = binary.Write(&hdr, binary.BigEndian, uint32(len(payload)))
	sum := checksum(payload)
	hdr.Write(sum[:])

	if _, err := w.Write(hdr.Bytes()); err != nil {
		return bmerr.Wrap(bmerr.ProtocolViolation, "wire.WriteMessage", err)
	}
	if _, err := w.Write(payload); err != nil {
		return bmerr.Wrap(bmerr.ProtocolViolation, "wire.WriteMessage", err)
	}
	return nil
}

// ReadHeader reads and parses a message header from r without consuming the
// payload that follows.
func ReadHeader(r io.Reader) (*Header, error) {
	var buf [HeaderSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return nil, bmerr.Wrap(bmerr.ParseError, "wire.ReadHeader", err)
	}

	magic := binary.BigEndian.Uint32(buf[0:4])

	cmdBuf := buf[4 : 4+CommandSize]
	end := bytes.IndexByte(cmdBuf, 0)
	if end == -1 {
		end = len(cmdBuf)
	}
	command := string(cmdBuf[:end])

	length := binary.BigEndian.Uint32(buf[4+CommandSize : 4+CommandSize+4])
	if length > MaxPayloadLength {
		return nil, bmerr.New(bmerr.Oversize, "wire.ReadHeader", "declared payload length exceeds maximum")
	}

	var sum [4]byte
	copy(sum[:], buf[4+CommandSize+4:])

	return &Header{
		Magic:    BitmessageNet(magic),
		Command:  command,
		Length:   length,
		Checksum: sum,
	}, nil
}

// ReadPayload reads exactly hdr.Length bytes from r and verifies them
// against hdr.Checksum.
func ReadPayload(r io.Reader, hdr *Header) ([]byte, error) {
	payload := make([]byte, hdr.Length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, bmerr.Wrap(bmerr.ParseError, "wire.ReadPayload", err)
	}
	if checksum(payload) != hdr.Checksum {
		return nil, bmerr.New(bmerr.ChecksumMismatch, "wire.ReadPayload", "payload checksum mismatch for "+hdr.Command)
	}
	return payload, nil
}

// ReadMessage reads one full framed message (header and payload) from r.
func ReadMessage(r io.Reader) (*Header, []byte, error) {
	hdr, err := ReadHeader(r)
	if err != nil {
		return nil, nil, err
	}
	payload, err := ReadPayload(r, hdr)
	if err != nil {
		return nil, nil, err
	}
	return hdr, payload, nil
}

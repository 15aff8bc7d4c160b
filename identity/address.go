// Copyright (c) 2024 The bmnode developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package identity implements Bitmessage addresses and the key pairs they
// are derived from: a signing key for authenticating messages and a
// decryption key for receiving them. Address encoding follows the
// big-endian varint-prefixed, base58check-with-SHA512 scheme used
// throughout the Bitmessage network; key derivation follows the
// nonce-pair cursor scheme used by deterministic ("passphrase") addresses.
package identity

import (
	"bytes"
	"errors"
	"strings"

	"github.com/btcsuite/btcd/btcutil/base58"

	"github.com/bmnode/core/bmcrypto"
	"github.com/bmnode/core/bmerr"
	"github.com/bmnode/core/codec"
)

// AddressVersion identifies the wire layout of an address's ripe payload.
// Version 2 and 3 addresses carry the raw 20-byte ripe with at most the
// first two leading zero bytes stripped; version 4 addresses strip every
// leading zero byte.
type AddressVersion uint64

const (
	AddressVersion2 AddressVersion = 2
	AddressVersion3 AddressVersion = 3
	AddressVersion4 AddressVersion = 4
)

// addressRipeLen is the length of the unstripped RIPEMD-160 hash every
// address is built from.
const addressRipeLen = 20

// Address is a parsed Bitmessage address: a version, the stream it
// belongs to, and the 20-byte hash of its owner's public keys.
type Address struct {
	Version AddressVersion
	Stream  uint64
	Ripe    [addressRipeLen]byte
}

// NewAddress builds an Address from a signing and decryption public key
// (each uncompressed, 65 bytes) for the given version and stream.
func NewAddress(c bmcrypto.Cryptography, version AddressVersion, stream uint64, signingPub, decryptionPub []byte) (*Address, error) {
	ripe := ripeHash(c, signingPub, decryptionPub)
	return &Address{Version: version, Stream: stream, Ripe: ripe}, nil
}

// ripeHash computes RIPEMD160(SHA512(signingPub || decryptionPub)), the
// hash every address version is built from.
func ripeHash(c bmcrypto.Cryptography, signingPub, decryptionPub []byte) [addressRipeLen]byte {
	sha := c.SHA512(signingPub, decryptionPub)
	return c.RIPEMD160(sha[:])
}

// trimmedRipe returns the ripe bytes as they appear on the wire for this
// address's version: version 2/3 strip at most two leading zero bytes,
// version 4 strips every leading zero byte.
func (a *Address) trimmedRipe() []byte {
	ripe := a.Ripe[:]
	switch a.Version {
	case AddressVersion2, AddressVersion3:
		if len(ripe) > 0 && ripe[0] == 0x00 {
			ripe = ripe[1:]
			if len(ripe) > 0 && ripe[0] == 0x00 {
				ripe = ripe[1:]
			}
		}
	case AddressVersion4:
		ripe = bytes.TrimLeft(ripe, "\x00")
	}
	return ripe
}

// Encode renders the address in its "BM-" base58check form.
func (a *Address) Encode(c bmcrypto.Cryptography) (string, error) {
	ripe := a.trimmedRipe()

	var buf bytes.Buffer
	if err := codec.WriteVarInt(&buf, uint64(a.Version)); err != nil {
		return "", err
	}
	if err := codec.WriteVarInt(&buf, a.Stream); err != nil {
		return "", err
	}
	buf.Write(ripe)

	checksum := c.DoubleSHA512(buf.Bytes())
	buf.Write(checksum[:4])

	return "BM-" + base58.Encode(buf.Bytes()), nil
}

// DecodeAddress parses a "BM-" prefixed address string, verifying its
// checksum and the version-specific padding rules.
func DecodeAddress(c bmcrypto.Cryptography, address string) (*Address, error) {
	if !strings.HasPrefix(address, "BM-") {
		return nil, bmerr.New(bmerr.ParseError, "identity.DecodeAddress", "address missing BM- prefix")
	}

	raw := base58.Decode(address[3:])
	if len(raw) < 4 {
		return nil, bmerr.New(bmerr.ParseError, "identity.DecodeAddress", "address too short")
	}

	payload := raw[:len(raw)-4]
	wantChecksum := raw[len(raw)-4:]

	gotChecksum := c.DoubleSHA512(payload)
	if !bytes.Equal(gotChecksum[:4], wantChecksum) {
		return nil, bmerr.New(bmerr.ChecksumMismatch, "identity.DecodeAddress", "address checksum mismatch")
	}

	buf := bytes.NewReader(payload)
	version, err := codec.ReadVarInt(buf)
	if err != nil {
		return nil, bmerr.Wrap(bmerr.ParseError, "identity.DecodeAddress", err)
	}
	stream, err := codec.ReadVarInt(buf)
	if err != nil {
		return nil, bmerr.Wrap(bmerr.ParseError, "identity.DecodeAddress", err)
	}

	ripe := make([]byte, buf.Len())
	if _, err := buf.Read(ripe); err != nil {
		return nil, bmerr.Wrap(bmerr.ParseError, "identity.DecodeAddress", err)
	}

	addrVersion := AddressVersion(version)
	switch addrVersion {
	case AddressVersion2, AddressVersion3:
		if len(ripe) > addressRipeLen || len(ripe) < addressRipeLen-2 {
			return nil, bmerr.New(bmerr.ParseError, "identity.DecodeAddress", "ripe length invalid for version 2/3")
		}
	case AddressVersion4:
		if len(ripe) == 0 || ripe[0] == 0x00 {
			return nil, bmerr.New(bmerr.ParseError, "identity.DecodeAddress", "version 4 ripe must have leading zeros stripped")
		}
		if len(ripe) > addressRipeLen {
			return nil, bmerr.New(bmerr.ParseError, "identity.DecodeAddress", "ripe length invalid for version 4")
		}
	default:
		return nil, bmerr.New(bmerr.ParseError, "identity.DecodeAddress", "unsupported address version")
	}

	var full [addressRipeLen]byte
	copy(full[addressRipeLen-len(ripe):], ripe)

	return &Address{Version: addrVersion, Stream: stream, Ripe: full}, nil
}

// ErrRipeMismatch is returned when a reconstructed address's ripe hash does
// not match the one it is being compared against.
var ErrRipeMismatch = errors.New("identity: ripe hash mismatch")

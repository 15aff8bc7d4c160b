// Copyright (c) 2024 The bmnode developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package objects

import (
	"bytes"

	"github.com/bmnode/core/bmcrypto"
	"github.com/bmnode/core/codec"
)

// DeriveTag computes the 32-byte lookup tag for a v4 pubkey or broadcast:
// the first 32 bytes of SHA512(SHA512(varint(version) || varint(stream) ||
// ripe)), i.e. the same double hash used for the address checksum but
// truncated differently, so a tag reveals nothing about ripe to a party
// who doesn't already hold the address.
func DeriveTag(c bmcrypto.Cryptography, version, stream uint64, ripe []byte) [32]byte {
	var buf bytes.Buffer
	_ = codec.WriteVarInt(&buf, version)
	_ = codec.WriteVarInt(&buf, stream)
	buf.Write(ripe)

	digest := c.DoubleSHA512(buf.Bytes())
	var tag [32]byte
	copy(tag[:], digest[:32])
	return tag
}

// DeriveEncryptionSecret computes the scalar H = SHA512(varint(version) ||
// varint(stream) || ripe) used as the private key half of the address's
// derived ECDH key pair for v4 pubkey/broadcast encryption.
func DeriveEncryptionSecret(c bmcrypto.Cryptography, version, stream uint64, ripe []byte) []byte {
	var buf bytes.Buffer
	_ = codec.WriteVarInt(&buf, version)
	_ = codec.WriteVarInt(&buf, stream)
	buf.Write(ripe)

	digest := c.SHA512(buf.Bytes())
	return append([]byte(nil), digest[:32]...)
}

// Copyright (c) 2024 The bmnode developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package objects

import (
	"bytes"

	"github.com/bmnode/core/bmcrypto"
	"github.com/bmnode/core/bmerr"
)

// hmacTagLen is the length of the HMAC-SHA256 tag appended to every ECIES
// envelope.
const hmacTagLen = 32

// ivLen is the AES-CBC initialization vector length every ECIES envelope
// carries explicitly.
const ivLen = 16

// EncryptECIES encrypts plaintext for recipientPub (a 65-byte uncompressed
// secp256k1 public key), the scheme msg, broadcast, and pubkey-v4 bodies
// all share: a fresh ephemeral key pair, AES-256-CBC under a key derived
// from ECDH(recipientPub, ephemeralPriv), and an HMAC-SHA256 tag over
// ephemeralPub||iv||ciphertext computed with a second key derived from the
// same ECDH point. The wire layout is ephemeralPub(65B) || iv(16B) ||
// ciphertext || hmac(32B).
func EncryptECIES(c bmcrypto.Cryptography, recipientPub, plaintext []byte) ([]byte, error) {
	ephPriv, err := c.RandomBytes(bmcrypto.PrivKeyLen)
	if err != nil {
		return nil, err
	}
	ephPub, err := c.CreatePublicKey(ephPriv)
	if err != nil {
		return nil, err
	}

	keyE, keyM, err := eciesKeys(c, recipientPub, ephPriv)
	if err != nil {
		return nil, err
	}

	iv, err := c.RandomBytes(ivLen)
	if err != nil {
		return nil, err
	}
	ciphertext, err := c.EncryptAESCBC(keyE, iv, plaintext)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	buf.Write(ephPub)
	buf.Write(iv)
	buf.Write(ciphertext)
	mac := c.HMACSHA256(keyM, buf.Bytes())
	buf.Write(mac[:])
	return buf.Bytes(), nil
}

// DecryptECIES is the inverse of EncryptECIES, given the recipient's
// private scalar. It returns bmerr.DecryptionFailed on any failure —
// envelope too short, HMAC mismatch, or a padding error — since from the
// caller's point of view all three mean the same thing: this ciphertext
// was not meant for this key.
func DecryptECIES(c bmcrypto.Cryptography, recipientPriv, envelope []byte) ([]byte, error) {
	const op = "objects.DecryptECIES"

	if len(envelope) < bmcrypto.UncompressedPubKeyLen+ivLen+hmacTagLen {
		return nil, bmerr.New(bmerr.DecryptionFailed, op, "envelope too short")
	}

	ephPub := envelope[:bmcrypto.UncompressedPubKeyLen]
	rest := envelope[bmcrypto.UncompressedPubKeyLen:]
	iv := rest[:ivLen]
	tagged := rest[ivLen:]
	ciphertext := tagged[:len(tagged)-hmacTagLen]
	wantMAC := tagged[len(tagged)-hmacTagLen:]

	keyE, keyM, err := eciesKeys(c, ephPub, recipientPriv)
	if err != nil {
		return nil, bmerr.Wrap(bmerr.DecryptionFailed, op, err)
	}

	gotMAC := c.HMACSHA256(keyM, envelope[:len(envelope)-hmacTagLen])
	if !bytes.Equal(gotMAC[:], wantMAC) {
		return nil, bmerr.New(bmerr.DecryptionFailed, op, "hmac mismatch")
	}

	plaintext, err := c.DecryptAESCBC(keyE, iv, ciphertext)
	if err != nil {
		return nil, bmerr.Wrap(bmerr.DecryptionFailed, op, err)
	}
	return plaintext, nil
}

// eciesKeys derives the AES key and HMAC key shared by both ends of an
// ECIES exchange: SHA512 of the ECDH point's X coordinate, split in half.
func eciesKeys(c bmcrypto.Cryptography, pub, priv []byte) (keyE, keyM []byte, err error) {
	shared, err := c.ECDH(pub, priv)
	if err != nil {
		return nil, nil, err
	}
	digest := c.SHA512(shared[1:33])
	return digest[:32], digest[32:], nil
}

// Copyright (c) 2024 The bmnode developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package bmcrypto defines the Cryptography capability consumed by the rest
// of the protocol core: hashing, secp256k1 signing/ECDH, AES-CBC, random
// bytes, and proof-of-work grinding/checking. It is passed explicitly into
// every constructor that needs it rather than reached for as a package-level
// singleton — see the design note on Singleton.cryptography() in the
// specification.
package bmcrypto

import "context"

// Cryptography is the full set of cryptographic primitives the protocol
// core depends on. Concrete algorithm choices live behind this interface so
// the core never imports a cipher suite directly.
type Cryptography interface {
	// SHA512 hashes the concatenation of parts and returns the 64-byte
	// digest.
	SHA512(parts ...[]byte) [64]byte

	// DoubleSHA512 is SHA512(SHA512(data)), used throughout for content
	// addressing and checksums.
	DoubleSHA512(data []byte) [64]byte

	// RIPEMD160 returns the 20-byte RIPEMD-160 digest of data.
	RIPEMD160(data []byte) [20]byte

	// HMACSHA256 returns the 32-byte HMAC-SHA256 of data keyed by key.
	HMACSHA256(key, data []byte) [32]byte

	// RandomBytes returns n cryptographically random bytes.
	RandomBytes(n int) ([]byte, error)

	// RandomNonce returns a random 64-bit value suitable for a peer
	// handshake nonce.
	RandomNonce() (uint64, error)

	// CreatePublicKey derives the uncompressed 65-byte secp256k1 public
	// key (leading 0x04) for a 32-byte private scalar.
	CreatePublicKey(priv []byte) ([]byte, error)

	// Sign produces a DER-encoded ECDSA signature of data under priv.
	Sign(priv []byte, data []byte) ([]byte, error)

	// Verify reports whether sig is a valid DER-encoded ECDSA signature
	// of data under the uncompressed public key pub.
	Verify(pub []byte, sig []byte, data []byte) bool

	// ECDH multiplies the uncompressed public key pub by the private
	// scalar priv and returns the resulting uncompressed public point —
	// the Diffie-Hellman shared secret in public-key form.
	ECDH(pub []byte, priv []byte) ([]byte, error)

	// EncryptAESCBC encrypts plaintext under key with PKCS#7 padding,
	// using the supplied 16-byte IV explicitly (never generated
	// internally, so callers can derive deterministic IVs where the
	// protocol requires it).
	EncryptAESCBC(key, iv, plaintext []byte) ([]byte, error)

	// DecryptAESCBC is the inverse of EncryptAESCBC.
	DecryptAESCBC(key, iv, ciphertext []byte) ([]byte, error)

	// Grind searches for a nonce such that
	// CheckProofOfWork(nonce, initialHash, target) holds, blocking until
	// found or ctx is cancelled.
	Grind(ctx context.Context, initialHash [64]byte, target uint64) (uint64, error)

	// CheckProofOfWork reports whether nonce solves the proof of work for
	// initialHash against target: the first 8 bytes of
	// SHA512(SHA512(nonce || initialHash)), read big-endian, must be at
	// most target.
	CheckProofOfWork(nonce uint64, initialHash [64]byte, target uint64) bool
}

// UncompressedPubKeyLen is the length in bytes of an uncompressed secp256k1
// public key (0x04 prefix || 32-byte X || 32-byte Y).
const UncompressedPubKeyLen = 65

// PrivKeyLen is the length in bytes of a secp256k1 private scalar.
const PrivKeyLen = 32

// Copyright (c) 2024 The bmnode developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package identity

import (
	"bytes"
	"errors"

	"github.com/bmnode/core/bmcrypto"
	"github.com/bmnode/core/codec"
)

// KeyPair holds the two secp256k1 key pairs an identity is built from: one
// for signing messages it sends, one for decrypting messages sent to it.
type KeyPair struct {
	SigningPriv    []byte // 32 bytes
	SigningPub     []byte // 65 bytes, uncompressed
	DecryptionPriv []byte // 32 bytes
	DecryptionPub  []byte // 65 bytes, uncompressed
}

// Identity is a fully formed Bitmessage identity: its key pairs, the
// address they resolve to, and the proof-of-work terms it advertises in
// its pubkey object.
type Identity struct {
	Keys                      KeyPair
	Addr                      Address
	NonceTrialsPerByte        uint64
	ExtraBytes                uint64
}

// ErrMinInitialZeros is returned when a caller asks for fewer than one
// leading zero byte during vanity generation; zero would accept the first
// candidate key and isn't a meaningful request.
var ErrMinInitialZeros = errors.New("identity: at least 1 initial zero byte required")

// NewRandom generates a fresh identity with a randomly chosen key pair,
// retried until the ripe hash has at least initialZeros leading zero
// bytes — the common "vanity" address generation loop. Each additional
// zero byte costs roughly 256x more attempts.
func NewRandom(c bmcrypto.Cryptography, version AddressVersion, stream uint64, initialZeros int) (*Identity, error) {
	if initialZeros < 1 {
		return nil, ErrMinInitialZeros
	}

	signingPriv, signingPub, err := generateKeyPair(c)
	if err != nil {
		return nil, err
	}

	want := make([]byte, initialZeros)
	for {
		decryptionPriv, decryptionPub, err := generateKeyPair(c)
		if err != nil {
			return nil, err
		}

		ripe := ripeHash(c, signingPub, decryptionPub)
		if bytes.Equal(ripe[:initialZeros], want) {
			addr := Address{Version: version, Stream: stream, Ripe: ripe}
			return &Identity{
				Keys: KeyPair{
					SigningPriv:    signingPriv,
					SigningPub:     signingPub,
					DecryptionPriv: decryptionPriv,
					DecryptionPub:  decryptionPub,
				},
				Addr:               addr,
				NonceTrialsPerByte: bmcryptoDefaultNonceTrialsPerByte,
				ExtraBytes:         bmcryptoDefaultExtraBytes,
			}, nil
		}
	}
}

// NewDeterministic derives n identities from a passphrase using the
// nonce-pair cursor scheme: the signing key for identity i is
// SHA512(passphrase || varint(signingNonce)), the decryption key is
// SHA512(passphrase || varint(decryptionNonce)), and both nonces advance by
// two on every attempt (accepted or not) so identity i+1 never reuses an
// identity i candidate. Matches the behavior real Bitmessage clients call
// "deterministic addresses".
func NewDeterministic(c bmcrypto.Cryptography, passphrase string, version AddressVersion, stream uint64, initialZeros int, n int) ([]*Identity, error) {
	if initialZeros < 1 {
		return nil, ErrMinInitialZeros
	}

	want := make([]byte, initialZeros)
	identities := make([]*Identity, n)

	var signingNonce, decryptionNonce uint64 = 0, 1

	for i := 0; i < n; i++ {
		for {
			signingPriv := derivePrivateKey(c, passphrase, signingNonce)
			decryptionPriv := derivePrivateKey(c, passphrase, decryptionNonce)

			signingNonce += 2
			decryptionNonce += 2

			signingPub, err := c.CreatePublicKey(signingPriv)
			if err != nil {
				return nil, err
			}
			decryptionPub, err := c.CreatePublicKey(decryptionPriv)
			if err != nil {
				return nil, err
			}

			ripe := ripeHash(c, signingPub, decryptionPub)
			if bytes.Equal(ripe[:initialZeros], want) {
				addr := Address{Version: version, Stream: stream, Ripe: ripe}
				identities[i] = &Identity{
					Keys: KeyPair{
						SigningPriv:    signingPriv,
						SigningPub:     signingPub,
						DecryptionPriv: decryptionPriv,
						DecryptionPub:  decryptionPub,
					},
					Addr:               addr,
					NonceTrialsPerByte: bmcryptoDefaultNonceTrialsPerByte,
					ExtraBytes:         bmcryptoDefaultExtraBytes,
				}
				break
			}
		}
	}

	return identities, nil
}

// derivePrivateKey computes SHA512(passphrase || varint(nonce))[:32], the
// candidate private scalar for a given cursor position.
func derivePrivateKey(c bmcrypto.Cryptography, passphrase string, nonce uint64) []byte {
	var nonceBuf bytes.Buffer
	_ = codec.WriteVarInt(&nonceBuf, nonce)

	digest := c.SHA512([]byte(passphrase), nonceBuf.Bytes())
	priv := make([]byte, bmcrypto.PrivKeyLen)
	copy(priv, digest[:bmcrypto.PrivKeyLen])
	return priv
}

func generateKeyPair(c bmcrypto.Cryptography) (priv, pub []byte, err error) {
	priv, err = c.RandomBytes(bmcrypto.PrivKeyLen)
	if err != nil {
		return nil, nil, err
	}
	pub, err = c.CreatePublicKey(priv)
	if err != nil {
		return nil, nil, err
	}
	return priv, pub, nil
}

// Default proof-of-work terms a freshly generated identity advertises;
// mirrors netparams.MainNetParams so a pubkey built before a node is fully
// configured still has sane values.
const (
	bmcryptoDefaultNonceTrialsPerByte = 1000
	bmcryptoDefaultExtraBytes         = 1000
)

// Copyright (c) 2024 The bmnode developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package bmcrypto

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/binary"
	"errors"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"golang.org/x/crypto/ripemd160" //lint:ignore SA1019 required by the Bitmessage address scheme
)

// Default is the production Cryptography implementation: secp256k1 via
// btcec, SHA-512/RIPEMD-160/HMAC-SHA256/AES-CBC via the standard library.
type Default struct{}

// New returns the default Cryptography capability.
func New() Cryptography {
	return Default{}
}

// SHA512 implements Cryptography.
func (Default) SHA512(parts ...[]byte) [64]byte {
	h := sha512.New()
	for _, p := range parts {
		h.Write(p)
	}
	var out [64]byte
	copy(out[:], h.Sum(nil))
	return out
}

// DoubleSHA512 implements Cryptography.
func (d Default) DoubleSHA512(data []byte) [64]byte {
	first := d.SHA512(data)
	return d.SHA512(first[:])
}

// RIPEMD160 implements Cryptography.
func (Default) RIPEMD160(data []byte) [20]byte {
	h := ripemd160.New()
	h.Write(data)
	var out [20]byte
	copy(out[:], h.Sum(nil))
	return out
}

// HMACSHA256 implements Cryptography.
func (Default) HMACSHA256(key, data []byte) [32]byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(data)
	var out [32]byte
	copy(out[:], mac.Sum(nil))
	return out
}

// RandomBytes implements Cryptography.
func (Default) RandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, err
	}
	return b, nil
}

// RandomNonce implements Cryptography.
func (d Default) RandomNonce() (uint64, error) {
	b, err := d.RandomBytes(8)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b), nil
}

// CreatePublicKey implements Cryptography.
func (Default) CreatePublicKey(priv []byte) ([]byte, error) {
	if len(priv) != PrivKeyLen {
		return nil, errors.New("bmcrypto: private key must be 32 bytes")
	}
	_, pub := btcec.PrivKeyFromBytes(priv)
	return pub.SerializeUncompressed(), nil
}

// Sign implements Cryptography.
func (Default) Sign(priv []byte, data []byte) ([]byte, error) {
	if len(priv) != PrivKeyLen {
		return nil, errors.New("bmcrypto: private key must be 32 bytes")
	}
	privKey, _ := btcec.PrivKeyFromBytes(priv)
	digest := sha256.Sum256(data)
	sig := ecdsa.Sign(privKey, digest[:])
	return sig.Serialize(), nil
}

// Verify implements Cryptography.
func (Default) Verify(pub []byte, sig []byte, data []byte) bool {
	pubKey, err := btcec.ParsePubKey(pub)
	if err != nil {
		return false
	}
	parsedSig, err := ecdsa.ParseDERSignature(sig)
	if err != nil {
		return false
	}
	digest := sha256.Sum256(data)
	return parsedSig.Verify(digest[:], pubKey)
}

// ECDH implements Cryptography.
func (Default) ECDH(pub []byte, priv []byte) ([]byte, error) {
	if len(priv) != PrivKeyLen {
		return nil, errors.New("bmcrypto: private key must be 32 bytes")
	}
	pubKey, err := btcec.ParsePubKey(pub)
	if err != nil {
		return nil, err
	}
	privKey, _ := btcec.PrivKeyFromBytes(priv)

	var pt btcec.JacobianPoint
	pubKey.AsJacobian(&pt)

	var result btcec.JacobianPoint
	btcec.ScalarMultNonConst(&privKey.Key, &pt, &result)
	result.ToAffine()

	sharedPub := btcec.NewPublicKey(&result.X, &result.Y)
	return sharedPub.SerializeUncompressed(), nil
}

// EncryptAESCBC implements Cryptography.
func (Default) EncryptAESCBC(key, iv, plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	if len(iv) != aes.BlockSize {
		return nil, errors.New("bmcrypto: iv must be 16 bytes")
	}

	padded := pkcs7Pad(plaintext, aes.BlockSize)
	out := make([]byte, len(padded))
	mode := cipher.NewCBCEncrypter(block, iv)
	mode.CryptBlocks(out, padded)
	return out, nil
}

// DecryptAESCBC implements Cryptography.
func (Default) DecryptAESCBC(key, iv, ciphertext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	if len(iv) != aes.BlockSize {
		return nil, errors.New("bmcrypto: iv must be 16 bytes")
	}
	if len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return nil, errors.New("bmcrypto: ciphertext is not a multiple of the block size")
	}

	out := make([]byte, len(ciphertext))
	mode := cipher.NewCBCDecrypter(block, iv)
	mode.CryptBlocks(out, ciphertext)
	return pkcs7Unpad(out)
}

// Grind implements Cryptography by sequentially trying nonces starting from
// a random offset. It is the default (CPU) engine the pow package wraps
// with queueing and cancellation; see pow.Engine.
func (d Default) Grind(ctx context.Context, initialHash [64]byte, target uint64) (uint64, error) {
	start, err := d.RandomNonce()
	if err != nil {
		return 0, err
	}

	for nonce := start; ; nonce++ {
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		default:
		}

		if d.CheckProofOfWork(nonce, initialHash, target) {
			return nonce, nil
		}
	}
}

// CheckProofOfWork implements Cryptography.
func (d Default) CheckProofOfWork(nonce uint64, initialHash [64]byte, target uint64) bool {
	var nonceBytes [8]byte
	binary.BigEndian.PutUint64(nonceBytes[:], nonce)

	digest := d.DoubleSHA512(append(nonceBytes[:], initialHash[:]...))
	trialValue := binary.BigEndian.Uint64(digest[:8])
	return trialValue <= target
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	padLen := blockSize - len(data)%blockSize
	padded := make([]byte, len(data)+padLen)
	copy(padded, data)
	for i := len(data); i < len(padded); i++ {
		padded[i] = byte(padLen)
	}
	return padded
}

func pkcs7Unpad(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, errors.New("bmcrypto: empty ciphertext")
	}
	padLen := int(data[len(data)-1])
	if padLen == 0 || padLen > len(data) {
		return nil, errors.New("bmcrypto: invalid padding")
	}
	return data[:len(data)-padLen], nil
}

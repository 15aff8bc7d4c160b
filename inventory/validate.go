// Copyright (c) 2024 The bmnode developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package inventory

import (
	"fmt"
	"time"

	"github.com/bmnode/core/bmcrypto"
	"github.com/bmnode/core/bmerr"
	"github.com/bmnode/core/netparams"
	"github.com/bmnode/core/objects"
	"github.com/bmnode/core/objkind"
	"github.com/bmnode/core/pow"
)

// expiryGrace is how far in the past expiresTime may already be and still
// be accepted — objects just about to lapse are still worth storing long
// enough to finish one more gossip round.
const expiryGrace = 5 * time.Minute

// expiryOvershoot is how far past a type's nominal TTL ceiling expiresTime
// may still reach before the object is rejected outright, absorbing clock
// skew between the peer that built the object and this node.
const expiryOvershoot = 3 * time.Hour

// validateEnvelope checks the TTL bound from §4.5 rule (2). PoW and
// signature checks are performed separately by StoreObject, which calls
// verifyPubkeySignature for the object types whose signature is visible
// without decryption; msg and broadcast bodies are ECIES ciphertext at
// this layer, so their signatures are checked post-decrypt by whichever
// local identity manages to open them (messaging.Pipeline).
func validateEnvelope(params *netparams.Params, env *objects.Envelope, now time.Time) error {
	maxTTL, ok := params.MaxObjectTTL[env.ObjectType]
	if !ok {
		return bmerr.New(bmerr.ProtocolViolation, "inventory.validateEnvelope", "unrecognized object type")
	}

	expires := time.Unix(int64(env.ExpiresTime), 0)
	earliest := now.Add(-expiryGrace)
	latest := now.Add(maxTTL).Add(expiryOvershoot)

	if expires.Before(earliest) || expires.After(latest) {
		return bmerr.New(bmerr.ProtocolViolation, "inventory.validateEnvelope",
			fmt.Sprintf("expiresTime %d outside accepted window", env.ExpiresTime))
	}
	return nil
}

// initialHashFor computes the PoW initial hash: SHA-512 over everything
// but the nonce, matching the target formula's len-excludes-nonce
// convention.
func initialHashFor(c bmcrypto.Cryptography, env *objects.Envelope) [64]byte {
	return c.SHA512(env.HeaderBytes(), env.Payload)
}

// targetFor computes the PoW target this object must meet, using the
// network's default difficulty terms.
func targetFor(params *netparams.Params, env *objects.Envelope, now time.Time) uint64 {
	ttl := env.ExpiresTime - uint64(now.Unix())
	if int64(env.ExpiresTime)-now.Unix() < 0 {
		ttl = 0
	}
	payloadLen := uint64(len(env.HeaderBytes()) + len(env.Payload))
	return pow.ComputeTarget(params.NetworkNonceTrialsPerByte, params.NetworkExtraBytes, ttl, payloadLen)
}

func errPowInvalid(iv objects.IV) error {
	return bmerr.New(bmerr.PowInvalid, "inventory.StoreObject", fmt.Sprintf("proof of work invalid for %x", iv))
}

// verifyPubkeySignature checks §4.5 rule (4) ("signature, if any, verifies")
// for pubkey objects. v2 carries no signature. v3's signing key and
// signature sit in the cleartext body and are self-certifying — the key
// that signs is the key being advertised — so a relaying node that has
// never heard of the owning address can and must check it here, before
// the object is stored or flooded. v4's body is ECIES ciphertext a
// relaying node has no key to open; its embedded v3 signature is checked
// once a local identity actually decrypts it
// (messaging.Pipeline.parsePubkeyBody). Every other object type returns
// nil: msg and broadcast bodies are opaque ciphertext at this layer for
// the same reason v4 is.
func verifyPubkeySignature(c bmcrypto.Cryptography, env *objects.Envelope) error {
	const op = "inventory.verifyPubkeySignature"

	if env.ObjectType != objkind.Pubkey || env.Version != 3 {
		return nil
	}

	v3, err := objects.ParsePubkeyV3(env.Payload)
	if err != nil {
		return err
	}
	if !c.Verify(expandPubkey(v3.SigningKey), v3.Signature, v3.SignTarget(env.HeaderBytes())) {
		return bmerr.New(bmerr.SignatureInvalid, op, "pubkey v3 signature invalid")
	}
	return nil
}

// expandPubkey restores the 0x04 uncompressed-point prefix SigningKey's
// wire form strips.
func expandPubkey(k [64]byte) []byte {
	out := make([]byte, 0, bmcrypto.UncompressedPubKeyLen)
	out = append(out, 0x04)
	return append(out, k[:]...)
}

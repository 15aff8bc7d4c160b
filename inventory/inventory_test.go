// Copyright (c) 2024 The bmnode developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package inventory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bmnode/core/bmcrypto"
	"github.com/bmnode/core/netparams"
	"github.com/bmnode/core/objects"
	"github.com/bmnode/core/objkind"
	"github.com/bmnode/core/repository/memrepo"
)

// buildValidObject grinds a real proof of work so StoreObject's PoW check
// passes, using the relaxed testnet difficulty so the test runs fast.
func buildValidObject(t *testing.T, c bmcrypto.Cryptography, params *netparams.Params, now time.Time, payload []byte) []byte {
	t.Helper()

	env := &objects.Envelope{
		ExpiresTime: uint64(now.Add(time.Hour).Unix()),
		ObjectType:  objkind.GetPubkey,
		Version:     3,
		Stream:      1,
		Payload:     payload,
	}

	initialHash := initialHashFor(c, env)
	target := targetFor(params, env, now)

	nonce, err := c.Grind(context.Background(), initialHash, target)
	require.NoError(t, err)
	env.Nonce = nonce

	return env.Serialize()
}

func TestStoreObjectAcceptsValidObject(t *testing.T) {
	c := bmcrypto.New()
	now := time.Now()
	inv := New(c, netparams.TestNetParams)

	raw := buildValidObject(t, c, netparams.TestNetParams, now, []byte("hello"))

	result, iv, err := inv.StoreObject(raw, now)
	require.NoError(t, err)
	require.Equal(t, Accepted, result)
	require.True(t, inv.Contains(iv))
}

// TestStoreObjectIdempotent covers invariant 9: storing the same object
// twice leaves the Inventory unchanged and reports Duplicate.
func TestStoreObjectIdempotent(t *testing.T) {
	c := bmcrypto.New()
	now := time.Now()
	inv := New(c, netparams.TestNetParams)

	raw := buildValidObject(t, c, netparams.TestNetParams, now, []byte("idempotent"))

	first, _, err := inv.StoreObject(raw, now)
	require.NoError(t, err)
	require.Equal(t, Accepted, first)
	require.Equal(t, 1, inv.Len())

	second, _, err := inv.StoreObject(raw, now)
	require.NoError(t, err)
	require.Equal(t, Duplicate, second)
	require.Equal(t, 1, inv.Len())
}

// TestStoreObjectRejectsBadPow covers scenario S4: nonce=0 against a tight
// target must be rejected with PowInvalid, and rejection is remembered.
func TestStoreObjectRejectsBadPow(t *testing.T) {
	c := bmcrypto.New()
	now := time.Now()
	inv := New(c, netparams.MainNetParams)

	env := &objects.Envelope{
		Nonce:       0,
		ExpiresTime: uint64(now.Add(48 * time.Hour).Unix()),
		ObjectType:  objkind.GetPubkey,
		Version:     3,
		Stream:      1,
		Payload:     make([]byte, 100),
	}

	result, iv, err := inv.StoreObject(env.Serialize(), now)
	require.Error(t, err)
	require.Equal(t, Rejected, result)
	require.False(t, inv.Contains(iv))

	// Re-offering the same object a second time is answered from the
	// suppression set: reported as Duplicate, but with an error, unlike
	// the silent Duplicate of an object that is actually stored.
	result2, _, err2 := inv.StoreObject(env.Serialize(), now)
	require.Error(t, err2)
	require.Equal(t, Duplicate, result2)
}

func TestStoreObjectRejectsExpiryOutsideWindow(t *testing.T) {
	c := bmcrypto.New()
	now := time.Now()
	inv := New(c, netparams.TestNetParams)

	env := &objects.Envelope{
		ExpiresTime: uint64(now.Add(-time.Hour).Unix()), // already long expired
		ObjectType:  objkind.GetPubkey,
		Version:     3,
		Stream:      1,
		Payload:     []byte("stale"),
	}

	result, _, err := inv.StoreObject(env.Serialize(), now)
	require.Error(t, err)
	require.Equal(t, Rejected, result)
}

func TestCleanupRemovesExpiredEntries(t *testing.T) {
	c := bmcrypto.New()
	now := time.Now()
	inv := New(c, netparams.TestNetParams)

	env := &objects.Envelope{
		ExpiresTime: uint64(now.Add(time.Second).Unix()),
		ObjectType:  objkind.GetPubkey,
		Version:     3,
		Stream:      1,
		Payload:     []byte("short-lived"),
	}
	initialHash := initialHashFor(c, env)
	target := targetFor(netparams.TestNetParams, env, now)
	nonce, err := c.Grind(context.Background(), initialHash, target)
	require.NoError(t, err)
	env.Nonce = nonce

	result, _, err := inv.StoreObject(env.Serialize(), now)
	require.NoError(t, err)
	require.Equal(t, Accepted, result)

	removed := inv.Cleanup(now.Add(2 * time.Hour))
	require.Equal(t, 1, removed)
	require.Equal(t, 0, inv.Len())
}

func TestGetObjectsFiltersByStream(t *testing.T) {
	c := bmcrypto.New()
	now := time.Now()
	inv := New(c, netparams.TestNetParams)

	raw := buildValidObject(t, c, netparams.TestNetParams, now, []byte("stream-1-object"))
	_, iv, err := inv.StoreObject(raw, now)
	require.NoError(t, err)

	ivs := inv.GetObjects(1, 0, nil)
	require.Contains(t, ivs, iv)

	ivsOtherStream := inv.GetObjects(2, 0, nil)
	require.Empty(t, ivsOtherStream)
}

// buildPubkeyV3Object grinds and, unless corruptSignature is set, correctly
// signs a v3 pubkey object so StoreObject's acceptance rules can be
// exercised end to end.
func buildPubkeyV3Object(t *testing.T, c bmcrypto.Cryptography, params *netparams.Params, now time.Time, corruptSignature bool) []byte {
	t.Helper()

	signingPriv, err := c.RandomBytes(32)
	require.NoError(t, err)
	signingPub, err := c.CreatePublicKey(signingPriv)
	require.NoError(t, err)

	v3 := &objects.PubkeyV3{
		PubkeyV2: objects.PubkeyV2{
			Behavior:      objects.BehaviorDoesAck,
			EncryptionKey: [64]byte{1, 2, 3},
		},
		NonceTrialsPerByte: params.NetworkNonceTrialsPerByte,
		ExtraBytes:         params.NetworkExtraBytes,
	}
	copy(v3.SigningKey[:], signingPub[1:])

	env := &objects.Envelope{
		ExpiresTime: uint64(now.Add(time.Hour).Unix()),
		ObjectType:  objkind.Pubkey,
		Version:     3,
		Stream:      1,
	}

	sig, err := c.Sign(signingPriv, v3.SignTarget(env.HeaderBytes()))
	require.NoError(t, err)
	if corruptSignature {
		sig[len(sig)-1] ^= 0xFF
	}
	v3.Signature = sig
	env.Payload = v3.Serialize()

	initialHash := initialHashFor(c, env)
	target := targetFor(params, env, now)
	nonce, err := c.Grind(context.Background(), initialHash, target)
	require.NoError(t, err)
	env.Nonce = nonce

	return env.Serialize()
}

// TestStoreObjectAcceptsValidPubkeySignature covers §4.5 rule (4): a v3
// pubkey whose embedded signature verifies against its own embedded
// signing key is accepted.
func TestStoreObjectAcceptsValidPubkeySignature(t *testing.T) {
	c := bmcrypto.New()
	now := time.Now()
	inv := New(c, netparams.TestNetParams)

	raw := buildPubkeyV3Object(t, c, netparams.TestNetParams, now, false)

	result, iv, err := inv.StoreObject(raw, now)
	require.NoError(t, err)
	require.Equal(t, Accepted, result)
	require.True(t, inv.Contains(iv))
}

// TestStoreObjectRejectsForgedPubkeySignature covers the same rule in the
// other direction: valid PoW and a valid TTL window are not enough to
// accept a pubkey whose signature does not verify, and a rejected object
// must not be flooded (network.Agent only floods on inventory.Accepted).
func TestStoreObjectRejectsForgedPubkeySignature(t *testing.T) {
	c := bmcrypto.New()
	now := time.Now()
	inv := New(c, netparams.TestNetParams)

	raw := buildPubkeyV3Object(t, c, netparams.TestNetParams, now, true)

	result, iv, err := inv.StoreObject(raw, now)
	require.Error(t, err)
	require.Equal(t, Rejected, result)
	require.False(t, inv.Contains(iv))
}

// TestLoadFromRepositoryRestoresAcceptedObjects covers the crash-restart
// path: an object accepted with a repository wired is persisted, and a
// fresh Inventory pointed at the same repository restores it without
// ever seeing the original StoreObject call.
func TestLoadFromRepositoryRestoresAcceptedObjects(t *testing.T) {
	c := bmcrypto.New()
	now := time.Now()
	repo := memrepo.NewInventory()

	inv := New(c, netparams.TestNetParams)
	inv.SetRepository(repo)

	raw := buildValidObject(t, c, netparams.TestNetParams, now, []byte("persisted"))
	result, iv, err := inv.StoreObject(raw, now)
	require.NoError(t, err)
	require.Equal(t, Accepted, result)

	fresh := New(c, netparams.TestNetParams)
	fresh.SetRepository(repo)
	require.Equal(t, 0, fresh.Len())

	loaded, err := fresh.LoadFromRepository(context.Background(), []uint64{1}, now)
	require.NoError(t, err)
	require.Equal(t, 1, loaded)
	require.True(t, fresh.Contains(iv))
}

// TestLoadFromRepositoryNoopWithoutRepository covers the default
// (no repository wired) case: it must not panic and must report nothing
// restored.
func TestLoadFromRepositoryNoopWithoutRepository(t *testing.T) {
	c := bmcrypto.New()
	inv := New(c, netparams.TestNetParams)

	loaded, err := inv.LoadFromRepository(context.Background(), []uint64{1}, time.Now())
	require.NoError(t, err)
	require.Equal(t, 0, loaded)
}

func TestGetMissingComputesSetDifference(t *testing.T) {
	var ivA, ivB objects.IV
	ivA[0] = 1
	ivB[0] = 2

	ours := map[objects.IV]struct{}{ivA: {}}
	missing := GetMissing([]objects.IV{ivA, ivB}, ours)
	require.Equal(t, []objects.IV{ivB}, missing)
}

// Copyright (c) 2024 The bmnode developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package messaging

import (
	"context"
	"encoding/hex"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bmnode/core/bmcrypto"
	"github.com/bmnode/core/identity"
	"github.com/bmnode/core/inventory"
	"github.com/bmnode/core/netparams"
	"github.com/bmnode/core/objects"
	"github.com/bmnode/core/pow"
	"github.com/bmnode/core/repository"
	"github.com/bmnode/core/repository/memrepo"
)

// loopbackAnnouncer feeds every object a Pipeline emits straight back into
// that same Pipeline's ObserveAccepted, standing in for a network that
// would otherwise carry the object to a peer and back. It lets a single
// Pipeline hosting two local identities exercise the full getpubkey ->
// pubkey -> msg -> ack round trip without a real network.Agent.
type loopbackAnnouncer struct {
	p   *Pipeline
	ctx context.Context
}

func (a *loopbackAnnouncer) Announce(iv objects.IV) {
	raw, ok := a.p.inv.GetObject(iv)
	if !ok {
		return
	}
	a.p.ObserveAccepted(a.ctx, raw, time.Now())
}

func newTestPipeline(t *testing.T) *Pipeline {
	t.Helper()
	c := bmcrypto.New()
	inv := inventory.New(c, netparams.TestNetParams)
	svc := pow.NewService(pow.NewCPUEngine(c))
	t.Cleanup(svc.Stop)

	p := NewPipeline(Config{
		Crypto:    c,
		Params:    netparams.TestNetParams,
		Messages:  memrepo.NewMessages(),
		Addresses: memrepo.NewAddresses(),
		Inventory: inv,
		PoW:       svc,
	})
	p.announce = &loopbackAnnouncer{p: p, ctx: context.Background()}
	t.Cleanup(p.Close)
	return p
}

func newTestIdentity(t *testing.T, c bmcrypto.Cryptography) *identity.Identity {
	t.Helper()
	id, err := identity.NewRandom(c, identity.AddressVersion3, 1, 1)
	require.NoError(t, err)
	return id
}

func TestPipelineSendRequestsPubkeyWhenUnknown(t *testing.T) {
	p := newTestPipeline(t)
	alice := newTestIdentity(t, p.crypto)
	bob := newTestIdentity(t, p.crypto)

	bobAddr, err := bob.Addr.Encode(p.crypto)
	require.NoError(t, err)

	ctx := context.Background()
	now := time.Now()

	msg, err := p.Send(ctx, alice, bobAddr, 1, []byte("hello"), true, 0, now)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		stored, err := p.messages.GetMessage(ctx, msg.ID)
		return err == nil && stored != nil && stored.Status == repository.StatusPubkeyRequested
	}, time.Second, 10*time.Millisecond)

	require.Equal(t, 1, p.inv.Len())
}

func TestPipelineFullRoundTripSendsDeliversAndAcks(t *testing.T) {
	p := newTestPipeline(t)
	alice := newTestIdentity(t, p.crypto)
	bob := newTestIdentity(t, p.crypto)
	p.AddIdentity(alice)
	p.AddIdentity(bob)

	aliceAddr, err := alice.Addr.Encode(p.crypto)
	require.NoError(t, err)
	bobAddr, err := bob.Addr.Encode(p.crypto)
	require.NoError(t, err)

	ctx := context.Background()
	now := time.Now()

	sent, err := p.Send(ctx, alice, bobAddr, 1, []byte("hello bob"), true, time.Hour, now)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		received, err := p.messages.FindMessages(ctx, repository.StatusReceived, bobAddr)
		return err == nil && len(received) == 1 && string(received[0].Message) == "hello bob" && received[0].From == aliceAddr
	}, 5*time.Second, 20*time.Millisecond)

	require.Eventually(t, func() bool {
		stored, err := p.messages.GetMessage(ctx, sent.ID)
		return err == nil && stored != nil && stored.Status == repository.StatusSentAcknowledged
	}, 5*time.Second, 20*time.Millisecond)
}

func TestProcessResendsDoublesBackoffAndIncrementsRetries(t *testing.T) {
	p := newTestPipeline(t)
	alice := newTestIdentity(t, p.crypto)
	bob := newTestIdentity(t, p.crypto)
	p.AddIdentity(alice)

	ctx := context.Background()
	now := time.Now()

	bobAddr, err := bob.Addr.Encode(p.crypto)
	require.NoError(t, err)
	aliceAddr, err := alice.Addr.Encode(p.crypto)
	require.NoError(t, err)

	iv, err := p.PublishPubkey(ctx, bob, now)
	require.NoError(t, err)
	require.NoError(t, p.addresses.Save(ctx, &repository.StoredAddress{
		Address:  bobAddr,
		PubkeyIV: hex.EncodeToString(iv[:]),
	}))

	ttl := 100 * time.Second
	msg := &repository.Plaintext{
		ID:      "resend-test",
		Kind:    "msg",
		From:    aliceAddr,
		To:      bobAddr,
		Message: []byte("resend me"),
		Status:  repository.StatusSent,
		Sent:    now.Add(-ttl),
		TTL:     ttl,
		NextTry: now.Add(-time.Second),
		Retries: 0,
	}
	require.NoError(t, p.messages.Save(ctx, msg))

	require.NoError(t, p.ProcessResends(ctx, now))

	stored, err := p.messages.GetMessage(ctx, msg.ID)
	require.NoError(t, err)
	require.Equal(t, 1, stored.Retries)
	require.Equal(t, repository.StatusSent, stored.Status)

	wantNextTry := now.Add(ttl * 2)
	require.WithinDuration(t, wantNextTry, stored.NextTry, time.Second)
}

func TestProcessResendsStopsAtMaxRetries(t *testing.T) {
	p := newTestPipeline(t)
	alice := newTestIdentity(t, p.crypto)
	p.AddIdentity(alice)

	ctx := context.Background()
	now := time.Now()

	aliceAddr, err := alice.Addr.Encode(p.crypto)
	require.NoError(t, err)

	msg := &repository.Plaintext{
		ID:      "maxed-out",
		Kind:    "msg",
		From:    aliceAddr,
		To:      "BM-nonexistent",
		Status:  repository.StatusSent,
		TTL:     time.Minute,
		NextTry: now.Add(-time.Second),
		Retries: MaxRetries,
	}
	require.NoError(t, p.messages.Save(ctx, msg))

	require.NoError(t, p.ProcessResends(ctx, now))

	stored, err := p.messages.GetMessage(ctx, msg.ID)
	require.NoError(t, err)
	require.Equal(t, MaxRetries, stored.Retries)
}

// Copyright (c) 2024 The bmnode developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package network

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bmnode/core/bmcrypto"
	"github.com/bmnode/core/inventory"
	"github.com/bmnode/core/netparams"
	"github.com/bmnode/core/objects"
	"github.com/bmnode/core/objkind"
	"github.com/bmnode/core/peer"
	"github.com/bmnode/core/pow"
	"github.com/bmnode/core/repository/memrepo"
	"github.com/bmnode/core/wire"
)

// remoteStub is a minimal peer.Handler used to drive the "other side" of a
// pipe connection in tests, recording whatever the Agent under test sends
// it.
type remoteStub struct {
	mu      sync.Mutex
	invSeen []objects.IV
	objSeen [][]byte
}

func (r *remoteStub) HandleInv(p *peer.Peer, ivs []objects.IV) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.invSeen = append(r.invSeen, ivs...)
}
func (r *remoteStub) HandleGetData(p *peer.Peer, ivs []objects.IV) {}
func (r *remoteStub) HandleAddr(p *peer.Peer, entries []peer.AddrEntry) {}
func (r *remoteStub) HandleObject(p *peer.Peer, raw []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.objSeen = append(r.objSeen, raw)
}
func (r *remoteStub) HandleActive(p *peer.Peer)     {}
func (r *remoteStub) HandleDisconnect(p *peer.Peer) {}

func newTestAgent(t *testing.T) *Agent {
	t.Helper()
	inv := inventory.New(bmcrypto.New(), netparams.TestNetParams)
	agent, err := NewAgent(Config{
		Params:    netparams.TestNetParams,
		Inventory: inv,
		Nodes:     memrepo.NewNodes(),
		UserAgent: "/bmnode:test/",
		Services:  1,
		Streams:   []uint64{1},
	})
	require.NoError(t, err)
	t.Cleanup(agent.Close)
	return agent
}

// attachRemotePeer wires a net.Pipe connection between agent (acting as
// the accepting side) and a bare peer.Peer driven by stub, returning once
// both sides report an active handshake.
func attachRemotePeer(t *testing.T, agent *Agent, remoteNonce uint64) (*peer.Peer, *remoteStub) {
	t.Helper()

	agentConn, remoteConn := net.Pipe()
	stub := &remoteStub{}
	remotePeer := peer.New(remoteConn, netparams.TestNetParams, stub, true, remoteNonce)

	var wg sync.WaitGroup
	wg.Add(2)

	var agentErr, remoteErr error
	go func() {
		defer wg.Done()
		agentErr = agent.handshake(context.Background(), agentConn, false)
	}()
	go func() {
		defer wg.Done()
		remoteErr = remotePeer.Start(context.Background(), &peer.VersionPayload{
			ProtocolVersion: 3,
			Timestamp:       time.Now().Unix(),
			Nonce:           remoteNonce,
			Streams:         []uint64{1},
		})
	}()
	wg.Wait()

	require.NoError(t, agentErr)
	require.NoError(t, remoteErr)

	return remotePeer, stub
}

func buildValidObject(t *testing.T, now time.Time, payload []byte) []byte {
	t.Helper()
	c := bmcrypto.New()

	env := &objects.Envelope{
		ExpiresTime: uint64(now.Add(time.Hour).Unix()),
		ObjectType:  objkind.GetPubkey,
		Version:     3,
		Stream:      1,
		Payload:     payload,
	}
	header := env.HeaderBytes()
	initialHash := c.SHA512(header, env.Payload)

	params := netparams.TestNetParams
	target := pow.ComputeTarget(params.NetworkNonceTrialsPerByte, params.NetworkExtraBytes,
		uint64(time.Hour.Seconds()), uint64(len(header)+len(env.Payload)))

	nonce, err := c.Grind(context.Background(), initialHash, target)
	require.NoError(t, err)
	env.Nonce = nonce
	return env.Serialize()
}

func TestAgentFloodsObjectExcludingOriginator(t *testing.T) {
	agent := newTestAgent(t)

	peerA, _ := attachRemotePeer(t, agent, 1001)
	_, stubB := attachRemotePeer(t, agent, 1002)

	require.Equal(t, 2, agent.PeerCount())

	raw := buildValidObject(t, time.Now(), []byte("flood-me"))
	require.NoError(t, peerA.Send(wire.CmdObject, raw))

	require.Eventually(t, func() bool {
		stubB.mu.Lock()
		defer stubB.mu.Unlock()
		return len(stubB.invSeen) == 1
	}, time.Second, 10*time.Millisecond)
}

func TestAgentAnswersGetDataForKnownObject(t *testing.T) {
	agent := newTestAgent(t)
	raw := buildValidObject(t, time.Now(), []byte("already-known"))

	result, iv, err := agent.cfg.Inventory.StoreObject(raw, time.Now())
	require.NoError(t, err)
	require.Equal(t, inventory.Accepted, result)

	_, stub := attachRemotePeer(t, agent, 2001)

	agent.mu.RLock()
	var target *peer.Peer
	for _, p := range agent.peers {
		target = p
	}
	agent.mu.RUnlock()
	require.NotNil(t, target)

	agent.HandleGetData(target, []objects.IV{iv})

	require.Eventually(t, func() bool {
		stub.mu.Lock()
		defer stub.mu.Unlock()
		return len(stub.objSeen) == 1
	}, time.Second, 10*time.Millisecond)
}

func TestEnsureOutboundPeersSkipsAlreadyConnected(t *testing.T) {
	agent := newTestAgent(t)
	require.NoError(t, agent.cfg.Nodes.Offer(context.Background(), nil))

	err := agent.EnsureOutboundPeers(context.Background(), 1)
	require.NoError(t, err)
}

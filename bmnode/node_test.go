// Copyright (c) 2024 The bmnode developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package bmnode

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bmnode/core/bmcrypto"
	"github.com/bmnode/core/config"
	"github.com/bmnode/core/identity"
	"github.com/bmnode/core/network"
	"github.com/bmnode/core/repository"
	"github.com/bmnode/core/repository/memrepo"
)

func testRepositories() Repositories {
	return Repositories{
		Messages:  memrepo.NewMessages(),
		Addresses: memrepo.NewAddresses(),
		Nodes:     memrepo.NewNodes(),
	}
}

func testOptions(t *testing.T) Options {
	t.Helper()
	cfg := config.Default()
	cfg.TestNet = true
	return Options{
		Config:       cfg,
		Crypto:       bmcrypto.New(),
		Repositories: testRepositories(),
	}
}

func TestNewRejectsMissingConfig(t *testing.T) {
	opts := testOptions(t)
	opts.Config = nil
	_, err := New(opts)
	require.Error(t, err)
}

func TestNewRejectsMissingCrypto(t *testing.T) {
	opts := testOptions(t)
	opts.Crypto = nil
	_, err := New(opts)
	require.Error(t, err)
}

func TestNewRejectsMissingRepositories(t *testing.T) {
	opts := testOptions(t)
	opts.Repositories.Addresses = nil
	_, err := New(opts)
	require.Error(t, err)
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	opts := testOptions(t)
	opts.Config.Port = 0
	_, err := New(opts)
	require.Error(t, err)
}

func TestNewClosesTheObserverAnnouncerLoop(t *testing.T) {
	n, err := New(testOptions(t))
	require.NoError(t, err)
	t.Cleanup(n.Close)

	// network.Agent and messaging.Pipeline each reference the other
	// through an interface: the Pipeline is passed as the Agent's
	// Config.Observer, and the Agent is wired back afterwards with
	// messaging.Pipeline.SetAnnouncer.
	// Confirming both ends point at this Node's instances is the one
	// thing neither package's own tests can see.
	require.Equal(t, n.pipeline, n.agent.cfg.Observer)
	require.Equal(t, n.agent, n.pipeline.announce)
}

func TestDeriveParamsAppliesConfigOverrides(t *testing.T) {
	cfg := config.Default()
	cfg.TestNet = true
	cfg.ConnectionLimit = 12
	cfg.ConnectionTTL = 5 * time.Minute
	cfg.NetworkNonceTrialsPerByte = 7
	cfg.NetworkExtraBytes = 9

	params := deriveParams(cfg)
	require.Equal(t, 12, params.TargetOutboundPeers)
	require.Equal(t, 5*time.Minute, params.IdleTimeout)
	require.Equal(t, uint64(7), params.NetworkNonceTrialsPerByte)
	require.Equal(t, uint64(9), params.NetworkExtraBytes)
}

// TestRunRestoresInventoryFromRepository covers the crash-restart path at
// the Node level: an object stored while Repositories.Inventory is wired
// survives into a second Node pointed at the same repository, once Run
// has had a chance to call inventory.Inventory.LoadFromRepository.
func TestRunRestoresInventoryFromRepository(t *testing.T) {
	ctx := context.Background()
	repo := memrepo.NewInventory()

	opts1 := testOptions(t)
	opts1.Repositories.Inventory = repo
	n1, err := New(opts1)
	require.NoError(t, err)

	alice, err := identity.NewRandom(n1.crypto, identity.AddressVersion3, 1, 1)
	require.NoError(t, err)
	n1.AddIdentity(alice)
	require.NoError(t, n1.PublishPubkey(ctx, alice))
	n1.Close()
	require.True(t, n1.inv.Len() > 0)

	opts2 := testOptions(t)
	opts2.Repositories.Inventory = repo
	n2, err := New(opts2)
	require.NoError(t, err)
	t.Cleanup(n2.Close)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go n2.Run(runCtx, nil)

	require.Eventually(t, func() bool {
		return n2.inv.Len() > 0
	}, time.Second, 10*time.Millisecond)
}

// pipeListener is an in-memory net.Listener backing a single net.Pipe
// connection per Accept call, standing in for a TCP listener so two Nodes
// can complete a real handshake and object exchange without touching the
// network.
type pipeListener struct {
	conns  chan net.Conn
	closed chan struct{}
}

func newPipeListener() *pipeListener {
	return &pipeListener{conns: make(chan net.Conn), closed: make(chan struct{})}
}

func (l *pipeListener) Accept() (net.Conn, error) {
	select {
	case c := <-l.conns:
		return c, nil
	case <-l.closed:
		return nil, errors.New("pipeListener: closed")
	}
}

func (l *pipeListener) Close() error {
	select {
	case <-l.closed:
	default:
		close(l.closed)
	}
	return nil
}

func (l *pipeListener) Addr() net.Addr { return pipeAddr{} }

type pipeAddr struct{}

func (pipeAddr) Network() string { return "pipe" }
func (pipeAddr) String() string  { return "pipe" }

func dialerFor(ln *pipeListener) network.Dialer {
	return func(ctx context.Context, address string) (net.Conn, error) {
		clientConn, serverConn := net.Pipe()
		go func() { ln.conns <- serverConn }()
		return clientConn, nil
	}
}

// TestTwoNodesExchangeMessageOverRealHandshake wires two Nodes through a
// pipeListener/Dialer pair, dials one from the other, and sends a message
// between identities registered on each — exercising the one path neither
// network's nor messaging's own package tests can: a real peer handshake
// carrying an object from one Node's Agent.Announce to the other's
// Observer.ObserveAccepted.
func TestTwoNodesExchangeMessageOverRealHandshake(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	lnB := newPipeListener()
	defer lnB.Close()

	nodeA, err := New(Options{
		Config:       withTestNet(config.Default()),
		Crypto:       bmcrypto.New(),
		Repositories: testRepositories(),
		Dialer:       dialerFor(lnB),
	})
	require.NoError(t, err)
	t.Cleanup(nodeA.Close)

	nodeB, err := New(Options{
		Config:       withTestNet(config.Default()),
		Crypto:       bmcrypto.New(),
		Repositories: testRepositories(),
	})
	require.NoError(t, err)
	t.Cleanup(nodeB.Close)

	go nodeA.Run(ctx, nil)
	go nodeB.Run(ctx, lnB)

	alice, err := identity.NewRandom(nodeA.crypto, identity.AddressVersion3, 1, 1)
	require.NoError(t, err)
	bob, err := identity.NewRandom(nodeB.crypto, identity.AddressVersion3, 1, 1)
	require.NoError(t, err)
	nodeA.AddIdentity(alice)
	nodeB.AddIdentity(bob)

	bobAddr, err := bob.Addr.Encode(nodeB.crypto)
	require.NoError(t, err)

	require.NoError(t, nodeA.Dial(ctx, "bob.example:8444"))

	// Bob's pubkey isn't published yet: Send starts the
	// PUBKEY_REQUESTED -> getpubkey -> pubkey -> SENT round trip instead
	// of sending directly, exercising the same path
	// TestPipelineFullRoundTripSendsDeliversAndAcks does but over a real
	// peer handshake rather than a loopback announcer.
	_, err = nodeA.Send(ctx, alice, bobAddr, 1, []byte("hello from node A"), false, time.Hour)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		received, err := nodeB.repos.Messages.FindMessages(ctx, repository.StatusReceived, bobAddr)
		return err == nil && len(received) == 1 && string(received[0].Message) == "hello from node A"
	}, 5*time.Second, 20*time.Millisecond)
}

func withTestNet(cfg *config.Config) *config.Config {
	cfg.TestNet = true
	return cfg
}

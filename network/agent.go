// Copyright (c) 2024 The bmnode developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package network owns the connection pool: dialing and accepting peers,
// bootstrapping from the node registry, flood-fill dissemination of
// accepted objects, and replacement of outbound peers on disconnect. Its
// "maintain N outbound connections, refill on loss" shape is grounded on
// the teacher's addrmgr package (its KnownAddress scoring survives only as
// a retrieval-pack test fixture, addrmgr/export_test.go, but the
// bootstrap-then-replenish contract it tests against is the one this
// package implements against repository.NodeRegistry instead of
// addrmgr's own on-disk address cache).
package network

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/btcsuite/btclog"

	"github.com/bmnode/core/bmerr"
	"github.com/bmnode/core/inventory"
	"github.com/bmnode/core/netparams"
	"github.com/bmnode/core/objects"
	"github.com/bmnode/core/peer"
	"github.com/bmnode/core/repository"
	"github.com/bmnode/core/wire"
)

// log is the package-level logger, wired by UseLogger.
var log = btclog.Disabled

// UseLogger sets the package-wide logger.
func UseLogger(logger btclog.Logger) {
	log = logger
}

// Dialer opens an outbound connection. It exists so tests can substitute
// net.Pipe-backed dialing instead of real sockets.
type Dialer func(ctx context.Context, address string) (net.Conn, error)

func defaultDialer(ctx context.Context, address string) (net.Conn, error) {
	var d net.Dialer
	return d.DialContext(ctx, "tcp", address)
}

// Observer is notified whenever an object arriving from a peer is newly
// accepted into Inventory (HandleObject). Objects announced through
// Announce are not passed to it.
// It lets the messaging pipeline attempt trial decryption, getpubkey
// replies, and ack correlation without this package importing messaging.
type Observer interface {
	ObserveAccepted(ctx context.Context, raw []byte, now time.Time)
}

// Config bundles what an Agent needs beyond its network parameters.
type Config struct {
	Params    *netparams.Params
	Inventory *inventory.Inventory
	Nodes     repository.NodeRegistry
	UserAgent string
	Services  uint64
	Streams   []uint64
	Dialer    Dialer
	Observer  Observer
}

// Agent maintains the node's connection pool and disseminates objects
// across it.
type Agent struct {
	cfg   Config
	nonce uint64

	mu    sync.RWMutex
	peers map[string]*peer.Peer

	wg      sync.WaitGroup
	die     chan struct{}
	dieOnce sync.Once
}

// NewAgent constructs an Agent from cfg, generating a random handshake
// nonce used to detect self-connections.
func NewAgent(cfg Config) (*Agent, error) {
	if cfg.Dialer == nil {
		cfg.Dialer = defaultDialer
	}

	nonce, err := randomNonce()
	if err != nil {
		return nil, bmerr.Wrap(bmerr.FatalConfigError, "network.NewAgent", err)
	}

	return &Agent{
		cfg:   cfg,
		nonce: nonce,
		peers: make(map[string]*peer.Peer),
		die:   make(chan struct{}),
	}, nil
}

func randomNonce() (uint64, error) {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(buf[:]), nil
}

func (a *Agent) versionPayload() *peer.VersionPayload {
	return &peer.VersionPayload{
		ProtocolVersion: a.cfg.Params.MinProtocolVersion,
		Services:        a.cfg.Services,
		Timestamp:       time.Now().Unix(),
		Nonce:           a.nonce,
		UserAgent:       a.cfg.UserAgent,
		Streams:         a.cfg.Streams,
	}
}

// SetObserver wires (or replaces) the Observer notified of newly accepted
// objects, as an alternative to setting Config.Observer at construction.
// An Agent and a messaging.Pipeline each need a reference to the other
// (Pipeline.Announce needs the Agent, the Agent's Observer needs the
// Pipeline), so one of the two links is made after construction; bmnode.New
// sets Config.Observer and closes the loop with
// messaging.Pipeline.SetAnnouncer instead.
func (a *Agent) SetObserver(o Observer) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cfg.Observer = o
}

// PeerCount returns the number of currently ACTIVE peers.
func (a *Agent) PeerCount() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.peers)
}

// Serve accepts inbound connections on ln until ctx is cancelled or Close
// is called.
func (a *Agent) Serve(ctx context.Context, ln net.Listener) error {
	a.wg.Add(1)
	defer a.wg.Done()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-a.die:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			default:
				return bmerr.Wrap(bmerr.ProtocolViolation, "network.Agent.Serve", err)
			}
		}

		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			a.handshake(ctx, conn, false)
		}()
	}
}

// Dial opens an outbound connection to address and runs its handshake.
func (a *Agent) Dial(ctx context.Context, address string) error {
	conn, err := a.cfg.Dialer(ctx, address)
	if err != nil {
		return bmerr.Wrap(bmerr.Timeout, "network.Agent.Dial", err)
	}
	return a.handshake(ctx, conn, true)
}

func (a *Agent) handshake(ctx context.Context, conn net.Conn, outbound bool) error {
	p := peer.New(conn, a.cfg.Params, a, outbound, a.nonce)
	if err := p.Start(ctx, a.versionPayload()); err != nil {
		log.Debugf("network: handshake with %s failed: %v", conn.RemoteAddr(), err)
		return err
	}
	return nil
}

// EnsureOutboundPeers dials enough new outbound peers from the node
// registry to reach the configured target, skipping addresses already
// connected.
func (a *Agent) EnsureOutboundPeers(ctx context.Context, stream uint64) error {
	deficit := a.cfg.Params.TargetOutboundPeers - a.outboundCount()
	if deficit <= 0 {
		return nil
	}

	candidates, err := a.cfg.Nodes.Known(ctx, stream, deficit*4)
	if err != nil {
		return bmerr.Wrap(bmerr.RepositoryError, "network.Agent.EnsureOutboundPeers", err)
	}

	dialed := 0
	for _, node := range candidates {
		if dialed >= deficit {
			break
		}
		address := fmt.Sprintf("%s:%d", node.IP, node.Port)
		if a.isConnected(address) {
			continue
		}
		if err := a.Dial(ctx, address); err != nil {
			log.Debugf("network: dial %s failed: %v", address, err)
			continue
		}
		dialed++
	}
	return nil
}

func (a *Agent) outboundCount() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	count := 0
	for _, p := range a.peers {
		if p.Outbound() {
			count++
		}
	}
	return count
}

func (a *Agent) isConnected(address string) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	_, ok := a.peers[address]
	return ok
}

// Close disconnects every peer and stops accepting new work.
func (a *Agent) Close() {
	a.dieOnce.Do(func() {
		close(a.die)
		a.mu.RLock()
		peers := make([]*peer.Peer, 0, len(a.peers))
		for _, p := range a.peers {
			peers = append(peers, p)
		}
		a.mu.RUnlock()
		for _, p := range peers {
			p.Close()
		}
	})
	a.wg.Wait()
}

// HandleActive registers p once its handshake completes.
func (a *Agent) HandleActive(p *peer.Peer) {
	a.mu.Lock()
	a.peers[p.RemoteAddr().String()] = p
	a.mu.Unlock()
}

// HandleDisconnect deregisters p. Replacement of a lost outbound peer is
// the maintenance loop's job (EnsureOutboundPeers), not this callback's —
// dialing back out from inside a peer's own read loop would deadlock if
// the dial blocks.
func (a *Agent) HandleDisconnect(p *peer.Peer) {
	a.mu.Lock()
	delete(a.peers, p.RemoteAddr().String())
	a.mu.Unlock()
}

// HandleInv requests whatever p offered that isn't already in inventory,
// respecting the at-most-one-outstanding-GETDATA-batch rule.
func (a *Agent) HandleInv(p *peer.Peer, ivs []objects.IV) {
	var missing []objects.IV
	for _, iv := range ivs {
		if !a.cfg.Inventory.Contains(iv) {
			missing = append(missing, iv)
		}
	}
	if len(missing) == 0 {
		return
	}
	if !p.TryBeginGetData() {
		return
	}
	if err := p.Send(wire.CmdGetData, peer.EncodeIVList(missing)); err != nil {
		p.EndGetData()
	}
}

// HandleGetData answers with one object message per IV p has requested
// and this node actually has.
func (a *Agent) HandleGetData(p *peer.Peer, ivs []objects.IV) {
	for _, iv := range ivs {
		raw, ok := a.cfg.Inventory.GetObject(iv)
		if !ok {
			continue
		}
		_ = p.Send(wire.CmdObject, raw)
	}
}

// HandleAddr offers p's advertised nodes to the registry.
func (a *Agent) HandleAddr(p *peer.Peer, entries []peer.AddrEntry) {
	nodes := make([]repository.KnownNode, len(entries))
	for i, e := range entries {
		nodes[i] = repository.KnownNode{
			IP:       e.IP,
			Port:     e.Port,
			Stream:   e.Stream,
			Services: e.Services,
			LastSeen: time.Unix(e.LastSeen, 0),
		}
	}
	if err := a.cfg.Nodes.Offer(context.Background(), nodes); err != nil {
		log.Warnf("network: offering addr entries failed: %v", err)
	}
}

// HandleObject validates and stores an object, then floods it (INV only)
// to every other ACTIVE peer. Concurrent arrivals of the same object are
// deduplicated by Inventory.StoreObject's locked accept-once semantics:
// only the first caller to reach Accepted ever floods.
func (a *Agent) HandleObject(p *peer.Peer, raw []byte) {
	now := time.Now()
	result, iv, err := a.cfg.Inventory.StoreObject(raw, now)
	p.EndGetData()
	if result != inventory.Accepted {
		if err != nil {
			log.Debugf("network: rejected object from %s: %v", p.RemoteAddr(), err)
		}
		return
	}
	a.flood(iv, p)

	a.mu.RLock()
	observer := a.cfg.Observer
	a.mu.RUnlock()
	if observer != nil {
		observer.ObserveAccepted(context.Background(), raw, now)
	}
}

// Announce floods an object this node just built and inserted into
// Inventory itself — the messaging pipeline's only way to get a locally
// originated getpubkey, pubkey, or msg object out to the network, since
// flood's originator-exclusion has nothing to exclude here.
func (a *Agent) Announce(iv objects.IV) {
	a.flood(iv, nil)
}

// flood sends an INV for iv to every ACTIVE peer except originator.
func (a *Agent) flood(iv objects.IV, originator *peer.Peer) {
	payload := peer.EncodeIVList([]objects.IV{iv})

	a.mu.RLock()
	targets := make([]*peer.Peer, 0, len(a.peers))
	for _, p := range a.peers {
		if p == originator {
			continue
		}
		targets = append(targets, p)
	}
	a.mu.RUnlock()

	for _, p := range targets {
		_ = p.Send(wire.CmdInv, payload)
	}
}

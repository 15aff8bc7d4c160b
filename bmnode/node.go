// Copyright (c) 2024 The bmnode developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package bmnode composes the protocol core's pieces — cryptography,
// inventory, proof-of-work, the network agent, and the message pipeline —
// into a single running node, wired against the caller-supplied repository
// implementations and configuration. It is the "initialization is part of
// node construction" entry point the rest of the core is built to support.
package bmnode

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/bmnode/core/bmcrypto"
	"github.com/bmnode/core/bmerr"
	"github.com/bmnode/core/config"
	"github.com/bmnode/core/identity"
	"github.com/bmnode/core/inventory"
	"github.com/bmnode/core/messaging"
	"github.com/bmnode/core/netparams"
	"github.com/bmnode/core/network"
	"github.com/bmnode/core/pow"
	"github.com/bmnode/core/repository"
	"github.com/bmnode/core/wire"
)

// maintenanceInterval is how often the node re-checks outbound peer count,
// pubkey-retry and resend due dates, and inventory expiry. It is
// independent of any single message's TTL or retry schedule; it only needs
// to be frequent enough that those schedules are noticed promptly.
const maintenanceInterval = 30 * time.Second

// Repositories bundles every persistence backend a Node needs. Messages,
// Addresses, and Nodes are required; ProofOfWork is optional (nil disables
// crash-resume bookkeeping in messaging.Pipeline).
type Repositories struct {
	Messages    repository.MessageRepository
	Addresses   repository.AddressRepository
	Nodes       repository.NodeRegistry
	ProofOfWork repository.ProofOfWorkRepository
	Inventory   repository.InventoryRepository
}

// Options bundles everything New needs to build a Node.
type Options struct {
	Config       *config.Config
	Crypto       bmcrypto.Cryptography
	Repositories Repositories

	// Dialer overrides how the network agent opens outbound connections;
	// nil uses a real net.Dialer. Tests substitute a net.Pipe-backed one.
	Dialer network.Dialer
}

// Node is a fully wired bmnode instance: one cryptography capability, one
// inventory, one proof-of-work service, one network agent, and one message
// pipeline, all sharing the repositories supplied in Options.
type Node struct {
	cfg    *config.Config
	crypto bmcrypto.Cryptography
	params *netparams.Params

	inv      *inventory.Inventory
	pow      *pow.Service
	agent    *network.Agent
	pipeline *messaging.Pipeline
	repos    Repositories

	mu         sync.RWMutex
	identities []*identity.Identity

	// errors surfaces RepositoryError and FatalConfigError to the host
	// per §7; every other error kind is logged and handled locally. It is
	// buffered so a slow-reading host never blocks the maintenance loop.
	errors chan error

	wg      sync.WaitGroup
	die     chan struct{}
	dieOnce sync.Once
}

// New validates opts and wires a Node, but does not start listening or
// dialing — call Run for that.
func New(opts Options) (*Node, error) {
	const op = "bmnode.New"

	if opts.Config == nil {
		return nil, bmerr.New(bmerr.FatalConfigError, op, "config is required")
	}
	if err := opts.Config.Validate(); err != nil {
		return nil, err
	}
	if opts.Crypto == nil {
		return nil, bmerr.New(bmerr.FatalConfigError, op, "cryptography capability is required")
	}
	if opts.Repositories.Messages == nil || opts.Repositories.Addresses == nil || opts.Repositories.Nodes == nil {
		return nil, bmerr.New(bmerr.FatalConfigError, op, "message, address, and node repositories are required")
	}

	params := deriveParams(opts.Config)
	inv := inventory.New(opts.Crypto, params)
	if opts.Repositories.Inventory != nil {
		inv.SetRepository(opts.Repositories.Inventory)
	}
	powSvc := pow.NewService(pow.NewCPUEngine(opts.Crypto))

	pipeline := messaging.NewPipeline(messaging.Config{
		Crypto:      opts.Crypto,
		Params:      params,
		Messages:    opts.Repositories.Messages,
		Addresses:   opts.Repositories.Addresses,
		Inventory:   inv,
		PoW:         powSvc,
		ProofOfWork: opts.Repositories.ProofOfWork,
	})

	agent, err := network.NewAgent(network.Config{
		Params:    params,
		Inventory: inv,
		Nodes:     opts.Repositories.Nodes,
		UserAgent: opts.Config.UserAgent,
		Services:  uint64(wire.SFNodeNetwork),
		Streams:   opts.Config.Streams,
		Dialer:    opts.Dialer,
		Observer:  pipeline,
	})
	if err != nil {
		return nil, bmerr.Wrap(bmerr.FatalConfigError, op, err)
	}
	pipeline.SetAnnouncer(agent)

	return &Node{
		cfg:      opts.Config,
		crypto:   opts.Crypto,
		params:   params,
		inv:      inv,
		pow:      powSvc,
		agent:    agent,
		pipeline: pipeline,
		repos:    opts.Repositories,
		errors:   make(chan error, 32),
		die:      make(chan struct{}),
	}, nil
}

// deriveParams copies the mainnet or testnet base parameters and applies
// cfg's overrides — the operator-tunable subset of §6's configuration
// table that netparams.Params also carries (connection count, PoW
// difficulty, and connection TTL as the peer idle timeout). Streams,
// UserAgent, and port are applied directly from cfg at the call sites that
// need them instead of being folded into Params.
func deriveParams(cfg *config.Config) *netparams.Params {
	base := netparams.MainNetParams
	if cfg.TestNet {
		base = netparams.TestNetParams
	}
	p := *base
	p.NetworkNonceTrialsPerByte = cfg.NetworkNonceTrialsPerByte
	p.NetworkExtraBytes = cfg.NetworkExtraBytes
	p.TargetOutboundPeers = cfg.ConnectionLimit
	p.IdleTimeout = cfg.ConnectionTTL
	return &p
}

// Errors returns the channel RepositoryError and FatalConfigError are
// surfaced on. The host is expected to range over it for the Node's
// lifetime; failing to drain it blocks nothing (the channel is buffered)
// but loses error visibility once the buffer fills.
func (n *Node) Errors() <-chan error {
	return n.errors
}

// AddIdentity registers id with the message pipeline so inbound mail
// addressed to it can be decrypted and getpubkey requests for it answered.
func (n *Node) AddIdentity(id *identity.Identity) {
	n.mu.Lock()
	n.identities = append(n.identities, id)
	n.mu.Unlock()
	n.pipeline.AddIdentity(id)
}

// Send hands a new outbound message to the pipeline. See
// messaging.Pipeline.Send for the lifecycle it goes through.
func (n *Node) Send(ctx context.Context, from *identity.Identity, toAddress string, encoding uint64, message []byte, doesAck bool, ttl time.Duration) (*repository.Plaintext, error) {
	return n.pipeline.Send(ctx, from, toAddress, encoding, message, doesAck, ttl, time.Now())
}

// PublishPubkey announces id's pubkey object to the network, the step a
// freshly generated identity needs before anyone can send to it.
func (n *Node) PublishPubkey(ctx context.Context, id *identity.Identity) error {
	_, err := n.pipeline.PublishPubkey(ctx, id, time.Now())
	return err
}

// Run starts accepting inbound connections on ln (if non-nil) and the
// maintenance loop (outbound peer replenishment, pubkey-retry and resend
// scheduling, inventory expiry, crash-resume of any mid-grind messages),
// returning once ctx is cancelled or Close is called.
func (n *Node) Run(ctx context.Context, ln net.Listener) error {
	if loaded, err := n.inv.LoadFromRepository(ctx, n.cfg.Streams, time.Now()); err != nil {
		n.reportError(err)
	} else if loaded > 0 {
		log.Infof("bmnode: restored %d objects from repository", loaded)
	}

	if err := n.pipeline.ResumePendingProofOfWork(ctx, time.Now()); err != nil {
		n.reportError(err)
	}

	if ln != nil {
		n.wg.Add(1)
		go func() {
			defer n.wg.Done()
			if err := n.agent.Serve(ctx, ln); err != nil {
				n.reportError(err)
			}
		}()
	}

	n.wg.Add(1)
	go n.maintain(ctx)

	select {
	case <-n.die:
	case <-ctx.Done():
	}
	return nil
}

// Dial opens an outbound connection to address, the operator-driven path
// for seeding the peer pool before discovery has found anything.
func (n *Node) Dial(ctx context.Context, address string) error {
	return n.agent.Dial(ctx, address)
}

func (n *Node) maintain(ctx context.Context) {
	defer n.wg.Done()

	ticker := time.NewTicker(maintenanceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-n.die:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			n.runMaintenance(ctx)
		}
	}
}

func (n *Node) runMaintenance(ctx context.Context) {
	now := time.Now()

	for _, stream := range n.cfg.Streams {
		if err := n.agent.EnsureOutboundPeers(ctx, stream); err != nil {
			n.reportError(err)
		}
	}

	if err := n.pipeline.ProcessPubkeyRetries(ctx, now); err != nil {
		n.reportError(err)
	}
	if err := n.pipeline.ProcessResends(ctx, now); err != nil {
		n.reportError(err)
	}

	n.inv.Cleanup(now)
}

// reportError classifies err and, for the two kinds §7 says must reach the
// host, pushes it onto Errors(); everything else this method is called
// with is already logged by whichever package raised it, so it is dropped
// here rather than duplicated.
func (n *Node) reportError(err error) {
	var bmErr *bmerr.Error
	if e, ok := err.(*bmerr.Error); ok {
		bmErr = e
	}
	if bmErr == nil || (bmErr.Kind != bmerr.RepositoryError && bmErr.Kind != bmerr.FatalConfigError) {
		return
	}

	select {
	case n.errors <- err:
	default:
		log.Warnf("bmnode: error channel full, dropping: %v", err)
	}
}

// Close stops the maintenance loop, closes the network agent (disconnecting
// every peer), and shuts down the proof-of-work service and message
// pipeline, waiting for every spawned goroutine to return.
func (n *Node) Close() {
	n.dieOnce.Do(func() {
		close(n.die)
	})
	n.agent.Close()
	n.pipeline.Close()
	n.pow.Stop()
	n.wg.Wait()
}

// String identifies this node for logging, naming its network and listen
// port.
func (n *Node) String() string {
	return fmt.Sprintf("bmnode(%s:%d)", n.params.Name, n.cfg.Port)
}

// Copyright (c) 2024 The bmnode developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package peer implements one connection's wire state machine: the
// version/verack handshake, framed message I/O, and dispatch of inv,
// getdata, addr, and object messages to a Handler. Its shape — a queued
// send loop plus a blocking read loop, both stopped by closing a shared
// die channel — is carried over from the bdls TCPPeer pattern, adapted
// from that protocol's length-prefixed proto frames to Bitmessage's
// magic/command/length/checksum framing (wire.WriteMessage/ReadMessage).
package peer

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/btcsuite/btclog"

	"github.com/bmnode/core/bmerr"
	"github.com/bmnode/core/netparams"
	"github.com/bmnode/core/objects"
	"github.com/bmnode/core/wire"
)

// log is the package-level logger, wired by UseLogger.
var log = btclog.Disabled

// UseLogger sets the package-wide logger.
func UseLogger(logger btclog.Logger) {
	log = logger
}

// State is where a Peer sits in the handshake state machine.
type State int

const (
	StateConnecting State = iota
	StateVersionReceived
	StateActive
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateVersionReceived:
		return "version_received"
	case StateActive:
		return "active"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// Handler receives dispatched messages from an ACTIVE peer. Implementations
// must not block for long inside these callbacks; the read loop is
// single-threaded per peer.
type Handler interface {
	HandleInv(p *Peer, ivs []objects.IV)
	HandleGetData(p *Peer, ivs []objects.IV)
	HandleAddr(p *Peer, entries []AddrEntry)
	HandleObject(p *Peer, raw []byte)
	HandleActive(p *Peer)
	HandleDisconnect(p *Peer)
}

type sendJob struct {
	command string
	payload []byte
}

// Peer is one framed TCP connection to another node.
type Peer struct {
	conn     net.Conn
	params   *netparams.Params
	handler  Handler
	outbound bool
	ourNonce uint64

	mu               sync.Mutex
	state            State
	receivedVersion  bool
	receivedVerAck   bool
	theirNonce       uint64
	theirUserAgent   string
	theirStreams     []uint64
	lastActivity     time.Time
	outstandingGet   bool

	activeOnce sync.Once
	activeCh   chan struct{}

	sendCh  chan sendJob
	die     chan struct{}
	dieOnce sync.Once
	wg      sync.WaitGroup
}

// New wraps conn in a Peer bound to params, dispatching to handler. ourNonce
// is this node's own version-message nonce, used to detect self-connection.
func New(conn net.Conn, params *netparams.Params, handler Handler, outbound bool, ourNonce uint64) *Peer {
	return &Peer{
		conn:     conn,
		params:   params,
		handler:  handler,
		outbound: outbound,
		ourNonce: ourNonce,
		state:    StateConnecting,
		activeCh: make(chan struct{}),
		sendCh:   make(chan sendJob, 256),
		die:      make(chan struct{}),
	}
}

// RemoteAddr returns the underlying connection's remote address.
func (p *Peer) RemoteAddr() net.Addr { return p.conn.RemoteAddr() }

// Outbound reports whether this node initiated the connection.
func (p *Peer) Outbound() bool { return p.outbound }

// State returns the peer's current handshake state.
func (p *Peer) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Streams returns the stream numbers the peer advertised in its version
// message.
func (p *Peer) Streams() []uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]uint64(nil), p.theirStreams...)
}

// Start begins the handshake: it starts the read and write loops, sends our
// version message, and blocks until the peer reaches StateActive, the
// handshake timeout elapses, or ctx is cancelled.
func (p *Peer) Start(ctx context.Context, ourVersion *VersionPayload) error {
	p.wg.Add(2)
	go p.readLoop()
	go p.writeLoop()

	if err := p.Send(wire.CmdVersion, ourVersion.Serialize()); err != nil {
		p.Close()
		return err
	}

	select {
	case <-p.activeCh:
		p.handler.HandleActive(p)
		return nil
	case <-time.After(p.params.HandshakeTimeout):
		p.Close()
		return bmerr.New(bmerr.Timeout, "peer.Start", "handshake did not complete in time")
	case <-p.die:
		return bmerr.New(bmerr.ProtocolViolation, "peer.Start", "connection closed during handshake")
	case <-ctx.Done():
		p.Close()
		return ctx.Err()
	}
}

// Send queues command/payload for transmission. It never blocks the
// caller on network I/O; a full send queue indicates a wedged peer and is
// treated as fatal.
func (p *Peer) Send(command string, payload []byte) error {
	select {
	case p.sendCh <- sendJob{command: command, payload: payload}:
		return nil
	case <-p.die:
		return bmerr.New(bmerr.ProtocolViolation, "peer.Send", "peer is closed")
	default:
		p.Close()
		return bmerr.New(bmerr.ProtocolViolation, "peer.Send", "send queue full, dropping peer")
	}
}

// TryBeginGetData enforces the at-most-one-outstanding-GETDATA-batch rule:
// it returns true (and marks a batch outstanding) only if none is already
// in flight.
func (p *Peer) TryBeginGetData() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.outstandingGet {
		return false
	}
	p.outstandingGet = true
	return true
}

// EndGetData clears the outstanding-GETDATA-batch marker. network.Agent
// calls it when an object arrives from the peer or when sending the
// getdata fails; there is no timeout that clears it.
func (p *Peer) EndGetData() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.outstandingGet = false
}

// Close disconnects the peer exactly once.
func (p *Peer) Close() {
	p.dieOnce.Do(func() {
		close(p.die)
		p.conn.Close()
		p.mu.Lock()
		p.state = StateDisconnected
		p.mu.Unlock()
		p.handler.HandleDisconnect(p)
	})
}

// Wait blocks until both I/O loops have exited.
func (p *Peer) Wait() { p.wg.Wait() }

func (p *Peer) writeLoop() {
	defer p.wg.Done()
	for {
		select {
		case job := <-p.sendCh:
			if err := wire.WriteMessage(p.conn, wire.BitmessageNet(p.params.Net), job.command, job.payload); err != nil {
				log.Debugf("peer %s: write %s failed: %v", p.RemoteAddr(), job.command, err)
				p.Close()
				return
			}
		case <-p.die:
			return
		}
	}
}

func (p *Peer) readLoop() {
	defer p.wg.Done()
	defer p.Close()

	p.conn.SetReadDeadline(time.Now().Add(p.params.HandshakeTimeout))

	for {
		hdr, payload, err := wire.ReadMessage(p.conn)
		if err != nil {
			log.Debugf("peer %s: read failed: %v", p.RemoteAddr(), err)
			return
		}

		p.mu.Lock()
		p.lastActivity = time.Now()
		active := p.state == StateActive
		p.mu.Unlock()

		if active {
			p.conn.SetReadDeadline(time.Now().Add(p.params.IdleTimeout))
		} else {
			p.conn.SetReadDeadline(time.Now().Add(p.params.HandshakeTimeout))
		}

		if err := p.dispatch(hdr.Command, payload); err != nil {
			log.Debugf("peer %s: %s: %v", p.RemoteAddr(), hdr.Command, err)
			return
		}
	}
}

func (p *Peer) dispatch(command string, payload []byte) error {
	switch command {
	case wire.CmdInv, wire.CmdGetData, wire.CmdAddr, wire.CmdObject:
		if p.State() != StateActive {
			return bmerr.New(bmerr.ProtocolViolation, "peer.dispatch", command+" received before handshake completed")
		}
	}

	switch command {
	case wire.CmdVersion:
		return p.onVersion(payload)
	case wire.CmdVerAck:
		return p.onVerAck()
	case wire.CmdInv:
		return p.onInv(payload)
	case wire.CmdGetData:
		return p.onGetData(payload)
	case wire.CmdAddr:
		return p.onAddr(payload)
	case wire.CmdObject:
		return p.onObject(payload)
	default:
		log.Debugf("peer %s: ignoring unknown command %q", p.RemoteAddr(), command)
		return nil
	}
}

func (p *Peer) onVersion(payload []byte) error {
	v, err := ParseVersionPayload(payload)
	if err != nil {
		return err
	}

	if v.ProtocolVersion < p.params.MinProtocolVersion {
		return bmerr.New(bmerr.ProtocolViolation, "peer.onVersion", "protocol version below minimum")
	}
	if v.Nonce == p.ourNonce {
		return bmerr.New(bmerr.ProtocolViolation, "peer.onVersion", "self-connection nonce")
	}
	skew := time.Since(time.Unix(v.Timestamp, 0))
	if skew < 0 {
		skew = -skew
	}
	if skew > time.Hour {
		return bmerr.New(bmerr.ProtocolViolation, "peer.onVersion", "timestamp skew exceeds one hour")
	}

	p.mu.Lock()
	p.receivedVersion = true
	p.theirNonce = v.Nonce
	p.theirUserAgent = v.UserAgent
	p.theirStreams = v.Streams
	if p.state == StateConnecting {
		p.state = StateVersionReceived
	}
	p.mu.Unlock()

	if err := p.Send(wire.CmdVerAck, nil); err != nil {
		return err
	}
	p.maybeActivate()
	return nil
}

func (p *Peer) onVerAck() error {
	p.mu.Lock()
	p.receivedVerAck = true
	p.mu.Unlock()
	p.maybeActivate()
	return nil
}

func (p *Peer) maybeActivate() {
	p.mu.Lock()
	ready := p.receivedVersion && p.receivedVerAck && p.state != StateActive
	if ready {
		p.state = StateActive
	}
	p.mu.Unlock()

	if ready {
		p.activeOnce.Do(func() { close(p.activeCh) })
	}
}

func (p *Peer) onInv(payload []byte) error {
	ivs, err := DecodeIVList(payload, p.params.MaxInvPerMessage)
	if err != nil {
		return err
	}
	p.handler.HandleInv(p, ivs)
	return nil
}

func (p *Peer) onGetData(payload []byte) error {
	ivs, err := DecodeIVList(payload, p.params.MaxInvPerMessage)
	if err != nil {
		return err
	}
	p.handler.HandleGetData(p, ivs)
	return nil
}

func (p *Peer) onAddr(payload []byte) error {
	entries, err := DecodeAddrList(payload, p.params.MaxAddrPerMessage)
	if err != nil {
		return err
	}
	p.handler.HandleAddr(p, entries)
	return nil
}

func (p *Peer) onObject(payload []byte) error {
	p.handler.HandleObject(p, payload)
	return nil
}

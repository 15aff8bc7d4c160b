// Copyright (c) 2024 The bmnode developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package repository declares the persistence interfaces the protocol
// core consumes but does not implement: inventory, messages, addresses,
// the known-node registry, and queued proof-of-work. Concrete backends
// live in subpackages (memrepo for tests, leveldbrepo as a reference
// on-disk implementation) — nothing in this package imports a storage
// engine.
package repository

import (
	"context"
	"time"

	"github.com/bmnode/core/objects"
)

// InventoryRepository persists accepted objects across restarts. The
// in-memory inventory.Inventory is the hot path; a repository is where it
// is made durable.
type InventoryRepository interface {
	GetInventory(ctx context.Context, stream uint64) ([]objects.IV, error)
	GetMissing(ctx context.Context, offered []objects.IV, ours map[objects.IV]struct{}) ([]objects.IV, error)
	GetObject(ctx context.Context, iv objects.IV) ([]byte, error)
	StoreObject(ctx context.Context, iv objects.IV, raw []byte, expires time.Time) error
	Contains(ctx context.Context, iv objects.IV) (bool, error)
	Cleanup(ctx context.Context, now time.Time) (int, error)
}

// MessageStatus mirrors the Plaintext lifecycle from §3.
type MessageStatus int

const (
	StatusNew MessageStatus = iota
	StatusDraft
	StatusPubkeyRequested
	StatusDoingProofOfWork
	StatusSent
	StatusSentAcknowledged
	StatusReceived
)

// Label is a many-to-many tag attached to Plaintext messages.
type Label struct {
	ID    string
	Name  string
	Type  string
	Color string
}

// Plaintext is the persisted form of an application message, independent
// of whichever Object its ciphertext currently lives in.
type Plaintext struct {
	ID          string
	Kind        string // "msg" or "broadcast"
	From        string // textual address
	To          string // textual address; empty for broadcast
	Encoding    uint64
	Message     []byte
	AckData     []byte
	InitialHash [64]byte
	Status      MessageStatus
	Sent        time.Time
	Received    time.Time
	TTL         time.Duration
	Retries     int
	NextTry     time.Time
	Labels      []string
	Signature   []byte
}

// MessageRepository persists application messages and drives the resend
// scheduler in §4.9.
type MessageRepository interface {
	Save(ctx context.Context, msg *Plaintext) error
	Remove(ctx context.Context, id string) error
	GetMessage(ctx context.Context, id string) (*Plaintext, error)
	GetMessageByInitialHash(ctx context.Context, hash [64]byte) (*Plaintext, error)
	FindMessages(ctx context.Context, status MessageStatus, recipient string) ([]*Plaintext, error)
	FindMessagesToResend(ctx context.Context, now time.Time) ([]*Plaintext, error)
	GetMessageForAck(ctx context.Context, ackData []byte) (*Plaintext, error)

	SaveLabel(ctx context.Context, label *Label) error
	RemoveLabel(ctx context.Context, id string) error
	Labels(ctx context.Context) ([]*Label, error)
	CountUnread(ctx context.Context, label string) (int, error)
}

// StoredAddress is a textual address plus the identity or known pubkey
// the address resolves to.
type StoredAddress struct {
	Address    string
	Label      string
	IsIdentity bool   // true if we hold the private keys for this address
	PubkeyIV   string // IV of the last-known pubkey object, if any
}

// AddressRepository persists addresses: both identities owned locally and
// contacts whose pubkeys have been looked up.
type AddressRepository interface {
	Save(ctx context.Context, addr *StoredAddress) error
	Get(ctx context.Context, address string) (*StoredAddress, error)
	AttachPubkey(ctx context.Context, address string, pubkeyIV string) error
	All(ctx context.Context) ([]*StoredAddress, error)
}

// KnownNode is one entry in the node registry used to bootstrap and
// refresh peer connections via ADDR exchange.
type KnownNode struct {
	IP       string
	Port     uint16
	Stream   uint64
	Services uint64
	LastSeen time.Time
}

// NodeRegistry persists the set of known peers.
type NodeRegistry interface {
	Offer(ctx context.Context, nodes []KnownNode) error
	Known(ctx context.Context, stream uint64, limit int) ([]KnownNode, error)
	MarkSeen(ctx context.Context, ip string, port uint16, at time.Time) error
}

// QueuedPoWItem is one outbound proof-of-work job persisted so it
// survives a restart.
type QueuedPoWItem struct {
	ID          string
	InitialHash [64]byte
	Target      uint64
	MessageID   string
}

// ProofOfWorkRepository persists outbound PoW jobs across restarts.
type ProofOfWorkRepository interface {
	Enqueue(ctx context.Context, item *QueuedPoWItem) error
	Dequeue(ctx context.Context, id string) error
	Pending(ctx context.Context) ([]*QueuedPoWItem, error)
}

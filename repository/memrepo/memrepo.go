// Copyright (c) 2024 The bmnode developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package memrepo implements every repository.* interface in memory. It
// exists for tests and local experimentation — see leveldbrepo for the
// on-disk reference implementation.
package memrepo

import (
	"bytes"
	"context"
	"sync"
	"time"

	"github.com/bmnode/core/objects"
	"github.com/bmnode/core/repository"
)

// Inventory implements repository.InventoryRepository.
type Inventory struct {
	mu    sync.RWMutex
	byIV  map[objects.IV][]byte
	exp   map[objects.IV]time.Time
}

// NewInventory returns an empty in-memory InventoryRepository.
func NewInventory() *Inventory {
	return &Inventory{
		byIV: make(map[objects.IV][]byte),
		exp:  make(map[objects.IV]time.Time),
	}
}

func (r *Inventory) GetInventory(ctx context.Context, stream uint64) ([]objects.IV, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ivs := make([]objects.IV, 0, len(r.byIV))
	for iv, raw := range r.byIV {
		env, err := objects.ParseEnvelope(raw)
		if err != nil {
			continue
		}
		if env.Stream == stream {
			ivs = append(ivs, iv)
		}
	}
	return ivs, nil
}

func (r *Inventory) GetMissing(ctx context.Context, offered []objects.IV, ours map[objects.IV]struct{}) ([]objects.IV, error) {
	missing := make([]objects.IV, 0, len(offered))
	for _, iv := range offered {
		if _, ok := ours[iv]; !ok {
			missing = append(missing, iv)
		}
	}
	return missing, nil
}

func (r *Inventory) GetObject(ctx context.Context, iv objects.IV) ([]byte, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	raw, ok := r.byIV[iv]
	if !ok {
		return nil, nil
	}
	return append([]byte(nil), raw...), nil
}

func (r *Inventory) StoreObject(ctx context.Context, iv objects.IV, raw []byte, expires time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byIV[iv] = append([]byte(nil), raw...)
	r.exp[iv] = expires
	return nil
}

func (r *Inventory) Contains(ctx context.Context, iv objects.IV) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.byIV[iv]
	return ok, nil
}

func (r *Inventory) Cleanup(ctx context.Context, now time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for iv, expires := range r.exp {
		if now.After(expires) {
			delete(r.byIV, iv)
			delete(r.exp, iv)
			removed++
		}
	}
	return removed, nil
}

// Messages implements repository.MessageRepository.
type Messages struct {
	mu       sync.RWMutex
	byID     map[string]*repository.Plaintext
	byHash   map[[64]byte]*repository.Plaintext
	byAck    map[string]*repository.Plaintext
	labels   map[string]*repository.Label
}

// NewMessages returns an empty in-memory MessageRepository.
func NewMessages() *Messages {
	return &Messages{
		byID:   make(map[string]*repository.Plaintext),
		byHash: make(map[[64]byte]*repository.Plaintext),
		byAck:  make(map[string]*repository.Plaintext),
		labels: make(map[string]*repository.Label),
	}
}

func (r *Messages) Save(ctx context.Context, msg *repository.Plaintext) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[msg.ID] = msg
	r.byHash[msg.InitialHash] = msg
	if len(msg.AckData) > 0 {
		r.byAck[string(msg.AckData)] = msg
	}
	return nil
}

func (r *Messages) Remove(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	msg, ok := r.byID[id]
	if !ok {
		return nil
	}
	delete(r.byID, id)
	delete(r.byHash, msg.InitialHash)
	if len(msg.AckData) > 0 {
		delete(r.byAck, string(msg.AckData))
	}
	return nil
}

func (r *Messages) GetMessage(ctx context.Context, id string) (*repository.Plaintext, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byID[id], nil
}

func (r *Messages) GetMessageByInitialHash(ctx context.Context, hash [64]byte) (*repository.Plaintext, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byHash[hash], nil
}

func (r *Messages) FindMessages(ctx context.Context, status repository.MessageStatus, recipient string) ([]*repository.Plaintext, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*repository.Plaintext
	for _, msg := range r.byID {
		if msg.Status != status {
			continue
		}
		if recipient != "" && msg.To != recipient {
			continue
		}
		out = append(out, msg)
	}
	return out, nil
}

func (r *Messages) FindMessagesToResend(ctx context.Context, now time.Time) ([]*repository.Plaintext, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*repository.Plaintext
	for _, msg := range r.byID {
		if msg.Status == repository.StatusSent && msg.NextTry.Before(now) {
			out = append(out, msg)
		}
	}
	return out, nil
}

func (r *Messages) GetMessageForAck(ctx context.Context, ackData []byte) (*repository.Plaintext, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byAck[string(ackData)], nil
}

func (r *Messages) SaveLabel(ctx context.Context, label *repository.Label) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.labels[label.ID] = label
	return nil
}

func (r *Messages) RemoveLabel(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.labels, id)
	return nil
}

func (r *Messages) Labels(ctx context.Context) ([]*repository.Label, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*repository.Label, 0, len(r.labels))
	for _, l := range r.labels {
		out = append(out, l)
	}
	return out, nil
}

func (r *Messages) CountUnread(ctx context.Context, label string) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	count := 0
	for _, msg := range r.byID {
		for _, l := range msg.Labels {
			if l == label && msg.Status != repository.StatusReceived {
				count++
			}
		}
	}
	return count, nil
}

// Addresses implements repository.AddressRepository.
type Addresses struct {
	mu   sync.RWMutex
	byID map[string]*repository.StoredAddress
}

func NewAddresses() *Addresses {
	return &Addresses{byID: make(map[string]*repository.StoredAddress)}
}

func (r *Addresses) Save(ctx context.Context, addr *repository.StoredAddress) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[addr.Address] = addr
	return nil
}

func (r *Addresses) Get(ctx context.Context, address string) (*repository.StoredAddress, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byID[address], nil
}

func (r *Addresses) AttachPubkey(ctx context.Context, address string, pubkeyIV string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	addr, ok := r.byID[address]
	if !ok {
		return nil
	}
	addr.PubkeyIV = pubkeyIV
	return nil
}

func (r *Addresses) All(ctx context.Context) ([]*repository.StoredAddress, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*repository.StoredAddress, 0, len(r.byID))
	for _, a := range r.byID {
		out = append(out, a)
	}
	return out, nil
}

// Nodes implements repository.NodeRegistry.
type Nodes struct {
	mu    sync.RWMutex
	nodes map[string]repository.KnownNode
}

func NewNodes() *Nodes {
	return &Nodes{nodes: make(map[string]repository.KnownNode)}
}

func nodeKey(ip string, port uint16) string {
	var buf bytes.Buffer
	buf.WriteString(ip)
	buf.WriteByte(':')
	buf.WriteByte(byte(port >> 8))
	buf.WriteByte(byte(port))
	return buf.String()
}

func (r *Nodes) Offer(ctx context.Context, nodes []repository.KnownNode) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, n := range nodes {
		key := nodeKey(n.IP, n.Port)
		if existing, ok := r.nodes[key]; !ok || n.LastSeen.After(existing.LastSeen) {
			r.nodes[key] = n
		}
	}
	return nil
}

func (r *Nodes) Known(ctx context.Context, stream uint64, limit int) ([]repository.KnownNode, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]repository.KnownNode, 0, limit)
	for _, n := range r.nodes {
		if n.Stream != stream {
			continue
		}
		out = append(out, n)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (r *Nodes) MarkSeen(ctx context.Context, ip string, port uint16, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := nodeKey(ip, port)
	n := r.nodes[key]
	n.IP, n.Port = ip, port
	n.LastSeen = at
	r.nodes[key] = n
	return nil
}

// ProofOfWork implements repository.ProofOfWorkRepository.
type ProofOfWork struct {
	mu    sync.RWMutex
	items map[string]*repository.QueuedPoWItem
}

func NewProofOfWork() *ProofOfWork {
	return &ProofOfWork{items: make(map[string]*repository.QueuedPoWItem)}
}

func (r *ProofOfWork) Enqueue(ctx context.Context, item *repository.QueuedPoWItem) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items[item.ID] = item
	return nil
}

func (r *ProofOfWork) Dequeue(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.items, id)
	return nil
}

func (r *ProofOfWork) Pending(ctx context.Context) ([]*repository.QueuedPoWItem, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*repository.QueuedPoWItem, 0, len(r.items))
	for _, item := range r.items {
		out = append(out, item)
	}
	return out, nil
}

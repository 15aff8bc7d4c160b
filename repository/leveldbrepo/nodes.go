// Copyright (c) 2024 The bmnode developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package leveldbrepo

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/bmnode/core/repository"
)

// Nodes is the goleveldb-backed repository.NodeRegistry.
type Nodes struct {
	db *DB
}

// NewNodes returns a NodeRegistry backed by db.
func NewNodes(db *DB) *Nodes {
	return &Nodes{db: db}
}

func (r *Nodes) key(ip string, port uint16) []byte {
	return prefixedKey(prefixNode, []byte(fmt.Sprintf("%s:%d", ip, port)))
}

func (r *Nodes) get(ip string, port uint16) (*repository.KnownNode, error) {
	raw, err := r.db.ldb.Get(r.key(ip, port), nil)
	if err == leveldb.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var n repository.KnownNode
	if err := json.Unmarshal(raw, &n); err != nil {
		return nil, err
	}
	return &n, nil
}

func (r *Nodes) put(n repository.KnownNode) error {
	raw, err := json.Marshal(n)
	if err != nil {
		return err
	}
	return r.db.ldb.Put(r.key(n.IP, n.Port), raw, nil)
}

func (r *Nodes) Offer(ctx context.Context, nodes []repository.KnownNode) error {
	for _, n := range nodes {
		existing, err := r.get(n.IP, n.Port)
		if err != nil {
			return err
		}
		if existing != nil && !n.LastSeen.After(existing.LastSeen) {
			continue
		}
		if err := r.put(n); err != nil {
			return err
		}
	}
	return nil
}

func (r *Nodes) Known(ctx context.Context, stream uint64, limit int) ([]repository.KnownNode, error) {
	it := r.db.ldb.NewIterator(util.BytesPrefix([]byte{prefixNode}), nil)
	defer it.Release()

	out := make([]repository.KnownNode, 0, limit)
	for it.Next() {
		var n repository.KnownNode
		if err := json.Unmarshal(it.Value(), &n); err != nil {
			log.Warnf("leveldbrepo: skipping unparsable node record: %v", err)
			continue
		}
		if n.Stream != stream {
			continue
		}
		out = append(out, n)
		if len(out) >= limit {
			break
		}
	}
	return out, it.Error()
}

func (r *Nodes) MarkSeen(ctx context.Context, ip string, port uint16, at time.Time) error {
	n, err := r.get(ip, port)
	if err != nil {
		return err
	}
	if n == nil {
		n = &repository.KnownNode{IP: ip, Port: port}
	}
	n.LastSeen = at
	return r.put(*n)
}

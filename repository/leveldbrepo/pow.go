// Copyright (c) 2024 The bmnode developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package leveldbrepo

import (
	"context"
	"encoding/json"

	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/bmnode/core/repository"
)

// ProofOfWork is the goleveldb-backed repository.ProofOfWorkRepository.
type ProofOfWork struct {
	db *DB
}

// NewProofOfWork returns a ProofOfWorkRepository backed by db.
func NewProofOfWork(db *DB) *ProofOfWork {
	return &ProofOfWork{db: db}
}

func (r *ProofOfWork) key(id string) []byte {
	return prefixedKey(prefixPoWItem, []byte(id))
}

func (r *ProofOfWork) Enqueue(ctx context.Context, item *repository.QueuedPoWItem) error {
	raw, err := json.Marshal(item)
	if err != nil {
		return err
	}
	return r.db.ldb.Put(r.key(item.ID), raw, nil)
}

func (r *ProofOfWork) Dequeue(ctx context.Context, id string) error {
	return r.db.ldb.Delete(r.key(id), nil)
}

func (r *ProofOfWork) Pending(ctx context.Context) ([]*repository.QueuedPoWItem, error) {
	it := r.db.ldb.NewIterator(util.BytesPrefix([]byte{prefixPoWItem}), nil)
	defer it.Release()

	var out []*repository.QueuedPoWItem
	for it.Next() {
		var item repository.QueuedPoWItem
		if err := json.Unmarshal(it.Value(), &item); err != nil {
			log.Warnf("leveldbrepo: skipping unparsable pow item: %v", err)
			continue
		}
		out = append(out, &item)
	}
	return out, it.Error()
}

// Copyright (c) 2024 The bmnode developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package leveldbrepo

import (
	"context"
	"encoding/json"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/bmnode/core/repository"
)

// Addresses is the goleveldb-backed repository.AddressRepository.
type Addresses struct {
	db *DB
}

// NewAddresses returns an AddressRepository backed by db.
func NewAddresses(db *DB) *Addresses {
	return &Addresses{db: db}
}

func (r *Addresses) key(address string) []byte {
	return prefixedKey(prefixAddress, []byte(address))
}

func (r *Addresses) Save(ctx context.Context, addr *repository.StoredAddress) error {
	raw, err := json.Marshal(addr)
	if err != nil {
		return err
	}
	return r.db.ldb.Put(r.key(addr.Address), raw, nil)
}

func (r *Addresses) Get(ctx context.Context, address string) (*repository.StoredAddress, error) {
	raw, err := r.db.ldb.Get(r.key(address), nil)
	if err == leveldb.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var addr repository.StoredAddress
	if err := json.Unmarshal(raw, &addr); err != nil {
		return nil, err
	}
	return &addr, nil
}

func (r *Addresses) AttachPubkey(ctx context.Context, address string, pubkeyIV string) error {
	addr, err := r.Get(ctx, address)
	if err != nil {
		return err
	}
	if addr == nil {
		return nil
	}
	addr.PubkeyIV = pubkeyIV
	return r.Save(ctx, addr)
}

func (r *Addresses) All(ctx context.Context) ([]*repository.StoredAddress, error) {
	it := r.db.ldb.NewIterator(util.BytesPrefix([]byte{prefixAddress}), nil)
	defer it.Release()

	var out []*repository.StoredAddress
	for it.Next() {
		var addr repository.StoredAddress
		if err := json.Unmarshal(it.Value(), &addr); err != nil {
			log.Warnf("leveldbrepo: skipping unparsable address record: %v", err)
			continue
		}
		out = append(out, &addr)
	}
	return out, it.Error()
}

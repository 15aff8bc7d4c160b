// Copyright (c) 2024 The bmnode developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package leveldbrepo

import (
	"context"
	"encoding/binary"
	"time"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/bmnode/core/objects"
)

// Inventory is the goleveldb-backed repository.InventoryRepository.
type Inventory struct {
	db *DB
}

// NewInventory returns an InventoryRepository backed by db.
func NewInventory(db *DB) *Inventory {
	return &Inventory{db: db}
}

func (r *Inventory) invKey(iv objects.IV) []byte {
	return prefixedKey(prefixInventory, iv[:])
}

func (r *Inventory) expiryKey(iv objects.IV) []byte {
	return prefixedKey(prefixInventoryExpiry, iv[:])
}

func (r *Inventory) GetInventory(ctx context.Context, stream uint64) ([]objects.IV, error) {
	it := r.db.ldb.NewIterator(util.BytesPrefix([]byte{prefixInventory}), nil)
	defer it.Release()

	var ivs []objects.IV
	for it.Next() {
		env, err := objects.ParseEnvelope(it.Value())
		if err != nil {
			log.Warnf("leveldbrepo: skipping unparsable inventory entry: %v", err)
			continue
		}
		if env.Stream != stream {
			continue
		}
		var iv objects.IV
		copy(iv[:], it.Key()[1:])
		ivs = append(ivs, iv)
	}
	return ivs, it.Error()
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
	raw, err := r.db.ldb.Get(r.invKey(iv), nil)
	if err == leveldb.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return raw, nil
}

func (r *Inventory) StoreObject(ctx context.Context, iv objects.IV, raw []byte, expires time.Time) error {
	batch := new(leveldb.Batch)
	batch.Put(r.invKey(iv), raw)

	var expBuf [8]byte
	binary.BigEndian.PutUint64(expBuf[:], uint64(expires.Unix()))
	batch.Put(r.expiryKey(iv), expBuf[:])

	return r.db.ldb.Write(batch, nil)
}

func (r *Inventory) Contains(ctx context.Context, iv objects.IV) (bool, error) {
	return r.db.ldb.Has(r.invKey(iv), nil)
}

func (r *Inventory) Cleanup(ctx context.Context, now time.Time) (int, error) {
	it := r.db.ldb.NewIterator(util.BytesPrefix([]byte{prefixInventoryExpiry}), nil)
	defer it.Release()

	var expired [][]byte
	for it.Next() {
		expiresUnix := int64(binary.BigEndian.Uint64(it.Value()))
		if now.Unix() >= expiresUnix {
			iv := append([]byte(nil), it.Key()[1:]...)
			expired = append(expired, iv)
		}
	}
	if err := it.Error(); err != nil {
		return 0, err
	}

	if len(expired) == 0 {
		return 0, nil
	}

	batch := new(leveldb.Batch)
	for _, iv := range expired {
		batch.Delete(prefixedKey(prefixInventory, iv))
		batch.Delete(prefixedKey(prefixInventoryExpiry, iv))
	}
	if err := r.db.ldb.Write(batch, nil); err != nil {
		return 0, err
	}
	return len(expired), nil
}

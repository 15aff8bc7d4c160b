// Copyright (c) 2024 The bmnode developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package leveldbrepo implements every repository.* interface on top of
// github.com/syndtr/goleveldb, the storage engine the teacher already
// depends on. Each repository concern gets its own key prefix within a
// single shared database handle.
package leveldbrepo

import (
	"github.com/btcsuite/btclog"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/storage"
)

// log is the package-level logger, wired by UseLogger.
var log = btclog.Disabled

// UseLogger sets the package-wide logger.
func UseLogger(logger btclog.Logger) {
	log = logger
}

// DB wraps a single goleveldb handle shared by every repository in this
// package. Keys are namespaced by a one-byte prefix per concern so they can
// all share one on-disk database.
type DB struct {
	ldb *leveldb.DB
}

const (
	prefixInventory byte = iota
	prefixInventoryExpiry
	prefixMessage
	prefixMessageHash
	prefixMessageAck
	prefixLabel
	prefixAddress
	prefixNode
	prefixPoWItem
)

// Open opens (or creates) a LevelDB database at path. An empty path opens
// an in-memory store, matching the teacher's NewLevelDB helper.
func Open(path string) (*DB, error) {
	if path == "" {
		ldb, err := leveldb.Open(storage.NewMemStorage(), nil)
		if err != nil {
			return nil, err
		}
		return &DB{ldb: ldb}, nil
	}

	ldb, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, err
	}
	return &DB{ldb: ldb}, nil
}

// Close releases the underlying database handle.
func (db *DB) Close() error {
	return db.ldb.Close()
}

func prefixedKey(prefix byte, key []byte) []byte {
	out := make([]byte, 1+len(key))
	out[0] = prefix
	copy(out[1:], key)
	return out
}

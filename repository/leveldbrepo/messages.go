// Copyright (c) 2024 The bmnode developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package leveldbrepo

import (
	"context"
	"encoding/json"
	"time"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/bmnode/core/repository"
)

// Messages is the goleveldb-backed repository.MessageRepository.
type Messages struct {
	db *DB
}

// NewMessages returns a MessageRepository backed by db.
func NewMessages(db *DB) *Messages {
	return &Messages{db: db}
}

func (r *Messages) messageKey(id string) []byte {
	return prefixedKey(prefixMessage, []byte(id))
}

func (r *Messages) hashKey(hash [64]byte) []byte {
	return prefixedKey(prefixMessageHash, hash[:])
}

func (r *Messages) ackKey(ackData []byte) []byte {
	return prefixedKey(prefixMessageAck, ackData)
}

func (r *Messages) labelKey(id string) []byte {
	return prefixedKey(prefixLabel, []byte(id))
}

func (r *Messages) Save(ctx context.Context, msg *repository.Plaintext) error {
	raw, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	batch := new(leveldb.Batch)
	batch.Put(r.messageKey(msg.ID), raw)
	batch.Put(r.hashKey(msg.InitialHash), []byte(msg.ID))
	if len(msg.AckData) > 0 {
		batch.Put(r.ackKey(msg.AckData), []byte(msg.ID))
	}
	return r.db.ldb.Write(batch, nil)
}

func (r *Messages) Remove(ctx context.Context, id string) error {
	msg, err := r.GetMessage(ctx, id)
	if err != nil || msg == nil {
		return err
	}

	batch := new(leveldb.Batch)
	batch.Delete(r.messageKey(id))
	batch.Delete(r.hashKey(msg.InitialHash))
	if len(msg.AckData) > 0 {
		batch.Delete(r.ackKey(msg.AckData))
	}
	return r.db.ldb.Write(batch, nil)
}

func (r *Messages) GetMessage(ctx context.Context, id string) (*repository.Plaintext, error) {
	raw, err := r.db.ldb.Get(r.messageKey(id), nil)
	if err == leveldb.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var msg repository.Plaintext
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

func (r *Messages) GetMessageByInitialHash(ctx context.Context, hash [64]byte) (*repository.Plaintext, error) {
	id, err := r.db.ldb.Get(r.hashKey(hash), nil)
	if err == leveldb.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return r.GetMessage(ctx, string(id))
}

func (r *Messages) GetMessageForAck(ctx context.Context, ackData []byte) (*repository.Plaintext, error) {
	id, err := r.db.ldb.Get(r.ackKey(ackData), nil)
	if err == leveldb.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return r.GetMessage(ctx, string(id))
}

func (r *Messages) eachMessage(fn func(*repository.Plaintext) bool) error {
	it := r.db.ldb.NewIterator(util.BytesPrefix([]byte{prefixMessage}), nil)
	defer it.Release()

	for it.Next() {
		var msg repository.Plaintext
		if err := json.Unmarshal(it.Value(), &msg); err != nil {
			log.Warnf("leveldbrepo: skipping unparsable message record: %v", err)
			continue
		}
		if !fn(&msg) {
			break
		}
	}
	return it.Error()
}

func (r *Messages) FindMessages(ctx context.Context, status repository.MessageStatus, recipient string) ([]*repository.Plaintext, error) {
	var out []*repository.Plaintext
	err := r.eachMessage(func(msg *repository.Plaintext) bool {
		if msg.Status == status && (recipient == "" || msg.To == recipient) {
			out = append(out, msg)
		}
		return true
	})
	return out, err
}

func (r *Messages) FindMessagesToResend(ctx context.Context, now time.Time) ([]*repository.Plaintext, error) {
	var out []*repository.Plaintext
	err := r.eachMessage(func(msg *repository.Plaintext) bool {
		if msg.Status == repository.StatusSent && msg.NextTry.Before(now) {
			out = append(out, msg)
		}
		return true
	})
	return out, err
}

func (r *Messages) SaveLabel(ctx context.Context, label *repository.Label) error {
	raw, err := json.Marshal(label)
	if err != nil {
		return err
	}
	return r.db.ldb.Put(r.labelKey(label.ID), raw, nil)
}

func (r *Messages) RemoveLabel(ctx context.Context, id string) error {
	return r.db.ldb.Delete(r.labelKey(id), nil)
}

func (r *Messages) Labels(ctx context.Context) ([]*repository.Label, error) {
	it := r.db.ldb.NewIterator(util.BytesPrefix([]byte{prefixLabel}), nil)
	defer it.Release()

	var out []*repository.Label
	for it.Next() {
		var label repository.Label
		if err := json.Unmarshal(it.Value(), &label); err != nil {
			log.Warnf("leveldbrepo: skipping unparsable label record: %v", err)
			continue
		}
		out = append(out, &label)
	}
	return out, it.Error()
}

func (r *Messages) CountUnread(ctx context.Context, label string) (int, error) {
	count := 0
	err := r.eachMessage(func(msg *repository.Plaintext) bool {
		for _, l := range msg.Labels {
			if l == label && msg.Status != repository.StatusReceived {
				count++
			}
		}
		return true
	})
	return count, err
}

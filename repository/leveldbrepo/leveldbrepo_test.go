// Copyright (c) 2024 The bmnode developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package leveldbrepo

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bmnode/core/objects"
	"github.com/bmnode/core/repository"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open("")
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, db.Close()) })
	return db
}

func TestInventoryStoreContainsAndCleanup(t *testing.T) {
	ctx := context.Background()
	repo := NewInventory(openTestDB(t))

	var iv objects.IV
	iv[0] = 9

	now := time.Now()
	require.NoError(t, repo.StoreObject(ctx, iv, []byte("payload"), now.Add(time.Second)))

	ok, err := repo.Contains(ctx, iv)
	require.NoError(t, err)
	require.True(t, ok)

	raw, err := repo.GetObject(ctx, iv)
	require.NoError(t, err)
	require.Equal(t, []byte("payload"), raw)

	removed, err := repo.Cleanup(ctx, now.Add(time.Hour))
	require.NoError(t, err)
	require.Equal(t, 1, removed)

	ok, err = repo.Contains(ctx, iv)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestMessagesRoundTripAndResend(t *testing.T) {
	ctx := context.Background()
	repo := NewMessages(openTestDB(t))

	msg := &repository.Plaintext{
		ID:      "m-1",
		Status:  repository.StatusSent,
		AckData: []byte("ack-1"),
		NextTry: time.Now().Add(-time.Minute),
	}
	require.NoError(t, repo.Save(ctx, msg))

	got, err := repo.GetMessage(ctx, "m-1")
	require.NoError(t, err)
	require.Equal(t, msg.ID, got.ID)

	byAck, err := repo.GetMessageForAck(ctx, []byte("ack-1"))
	require.NoError(t, err)
	require.Equal(t, msg.ID, byAck.ID)

	resend, err := repo.FindMessagesToResend(ctx, time.Now())
	require.NoError(t, err)
	require.Len(t, resend, 1)

	require.NoError(t, repo.Remove(ctx, "m-1"))
	got, err = repo.GetMessage(ctx, "m-1")
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestAddressesAttachPubkey(t *testing.T) {
	ctx := context.Background()
	repo := NewAddresses(openTestDB(t))

	require.NoError(t, repo.Save(ctx, &repository.StoredAddress{Address: "BM-xyz"}))
	require.NoError(t, repo.AttachPubkey(ctx, "BM-xyz", "iv-123"))

	got, err := repo.Get(ctx, "BM-xyz")
	require.NoError(t, err)
	require.Equal(t, "iv-123", got.PubkeyIV)
}

func TestNodesKnownFiltersByStream(t *testing.T) {
	ctx := context.Background()
	repo := NewNodes(openTestDB(t))

	require.NoError(t, repo.Offer(ctx, []repository.KnownNode{
		{IP: "198.51.100.7", Port: 8444, Stream: 3, LastSeen: time.Now()},
	}))

	known, err := repo.Known(ctx, 3, 5)
	require.NoError(t, err)
	require.Len(t, known, 1)

	empty, err := repo.Known(ctx, 4, 5)
	require.NoError(t, err)
	require.Empty(t, empty)
}

func TestProofOfWorkEnqueueAndPending(t *testing.T) {
	ctx := context.Background()
	repo := NewProofOfWork(openTestDB(t))

	require.NoError(t, repo.Enqueue(ctx, &repository.QueuedPoWItem{ID: "job-9"}))
	pending, err := repo.Pending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	require.NoError(t, repo.Dequeue(ctx, "job-9"))
	pending, err = repo.Pending(ctx)
	require.NoError(t, err)
	require.Empty(t, pending)
}

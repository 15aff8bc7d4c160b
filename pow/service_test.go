// Copyright (c) 2024 The bmnode developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package pow

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bmnode/core/bmcrypto"
)

func TestServiceSolvesQueuedJob(t *testing.T) {
	svc := NewService(NewCPUEngine(bmcrypto.New()))
	defer svc.Stop()

	var hash [64]byte
	copy(hash[:], []byte("service test initial hash"))

	job := svc.Submit(hash, ^uint64(0)>>2)

	select {
	case res := <-job.Result:
		require.NoError(t, res.Err)
		require.True(t, bmcrypto.New().CheckProofOfWork(res.Nonce, hash, ^uint64(0)>>2))
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for pow result")
	}
}

func TestServiceCancelBeforeStart(t *testing.T) {
	svc := NewService(NewCPUEngine(bmcrypto.New()))
	defer svc.Stop()

	var hash [64]byte
	// Tight target: keeps the first job busy long enough that the
	// second is still queued when we cancel it.
	blocking := svc.Submit(hash, 1)
	second := svc.Submit(hash, ^uint64(0))

	svc.Cancel(second.ID)
	svc.Cancel(blocking.ID)

	res := <-second.Result
	require.ErrorIs(t, res.Err, context.Canceled)
}

func TestServiceStopCancelsInFlight(t *testing.T) {
	svc := NewService(NewCPUEngine(bmcrypto.New()))

	var hash [64]byte
	job := svc.Submit(hash, 0) // unsatisfiable target, grind never returns on its own

	time.Sleep(20 * time.Millisecond)
	svc.Stop()

	select {
	case res := <-job.Result:
		require.Error(t, res.Err)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for stop to cancel in-flight job")
	}
}

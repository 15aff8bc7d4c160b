// Copyright (c) 2024 The bmnode developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package pow

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestComputeTargetDecreasesWithLength(t *testing.T) {
	small := ComputeTarget(1000, 1000, 172800, 100)
	large := ComputeTarget(1000, 1000, 172800, 100000)
	require.Greater(t, small, large, "a larger payload must yield a harder (smaller) target")
}

func TestComputeTargetDecreasesWithTTL(t *testing.T) {
	shortTTL := ComputeTarget(1000, 1000, 3600, 1000)
	longTTL := ComputeTarget(1000, 1000, 3600*24*28, 1000)
	require.Greater(t, shortTTL, longTTL)
}

func TestComputeTargetNeverOverflows(t *testing.T) {
	target := ComputeTarget(1, 0, 0, 0)
	require.True(t, target > 0)
}

// Copyright (c) 2024 The bmnode developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package netparams

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLookupRegisteredNetworks(t *testing.T) {
	p, ok := Lookup(MainNetParams.Net)
	require.True(t, ok)
	require.Equal(t, "mainnet", p.Name)

	p, ok = Lookup(TestNetParams.Net)
	require.True(t, ok)
	require.Equal(t, "testnet", p.Name)
}

func TestRegisterRejectsDuplicateMagic(t *testing.T) {
	err := Register(&Params{Name: "dup", Net: MainNetParams.Net})
	require.ErrorIs(t, err, ErrDuplicateNet)
}

func TestLookupUnknownMagic(t *testing.T) {
	_, ok := Lookup(0x00000000)
	require.False(t, ok)
}

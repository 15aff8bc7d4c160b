// Copyright (c) 2024 The bmnode developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package identity

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bmnode/core/bmcrypto"
)

func TestAddressEncodeDecodeRoundTrip(t *testing.T) {
	c := bmcrypto.New()

	ids, err := NewDeterministic(c, "correct horse battery staple", AddressVersion4, 1, 1, 1)
	require.NoError(t, err)
	require.Len(t, ids, 1)

	encoded, err := ids[0].Addr.Encode(c)
	require.NoError(t, err)
	require.Contains(t, encoded, "BM-")

	decoded, err := DecodeAddress(c, encoded)
	require.NoError(t, err)
	require.Equal(t, ids[0].Addr.Version, decoded.Version)
	require.Equal(t, ids[0].Addr.Stream, decoded.Stream)
	require.Equal(t, ids[0].Addr.Ripe, decoded.Ripe)
}

func TestDecodeAddressRejectsMissingPrefix(t *testing.T) {
	c := bmcrypto.New()
	_, err := DecodeAddress(c, "not-an-address")
	require.Error(t, err)
}

func TestDecodeAddressRejectsBadChecksum(t *testing.T) {
	c := bmcrypto.New()

	ids, err := NewDeterministic(c, "another passphrase", AddressVersion4, 1, 1, 1)
	require.NoError(t, err)

	encoded, err := ids[0].Addr.Encode(c)
	require.NoError(t, err)

	tampered := encoded[:len(encoded)-1] + "z"
	_, err = DecodeAddress(c, tampered)
	require.Error(t, err)
}

func TestNewDeterministicIsReproducible(t *testing.T) {
	c := bmcrypto.New()

	first, err := NewDeterministic(c, "reproducible passphrase", AddressVersion4, 1, 1, 2)
	require.NoError(t, err)
	second, err := NewDeterministic(c, "reproducible passphrase", AddressVersion4, 1, 1, 2)
	require.NoError(t, err)

	require.Equal(t, first[0].Addr.Ripe, second[0].Addr.Ripe)
	require.Equal(t, first[1].Addr.Ripe, second[1].Addr.Ripe)
	require.NotEqual(t, first[0].Addr.Ripe, first[1].Addr.Ripe)
}

func TestNewRandomRejectsZeroInitialZeros(t *testing.T) {
	c := bmcrypto.New()
	_, err := NewRandom(c, AddressVersion4, 1, 0)
	require.ErrorIs(t, err, ErrMinInitialZeros)
}

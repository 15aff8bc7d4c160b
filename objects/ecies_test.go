// Copyright (c) 2024 The bmnode developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package objects

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bmnode/core/bmcrypto"
)

func TestECIESRoundTrip(t *testing.T) {
	c := bmcrypto.New()

	priv, err := c.RandomBytes(bmcrypto.PrivKeyLen)
	require.NoError(t, err)
	pub, err := c.CreatePublicKey(priv)
	require.NoError(t, err)

	plaintext := []byte("the quick brown fox jumps over the lazy dog")

	envelope, err := EncryptECIES(c, pub, plaintext)
	require.NoError(t, err)

	got, err := DecryptECIES(c, priv, envelope)
	require.NoError(t, err)
	require.Equal(t, plaintext, got)
}

func TestECIESWrongKeyFails(t *testing.T) {
	c := bmcrypto.New()

	priv, err := c.RandomBytes(bmcrypto.PrivKeyLen)
	require.NoError(t, err)
	pub, err := c.CreatePublicKey(priv)
	require.NoError(t, err)

	otherPriv, err := c.RandomBytes(bmcrypto.PrivKeyLen)
	require.NoError(t, err)

	envelope, err := EncryptECIES(c, pub, []byte("hello"))
	require.NoError(t, err)

	_, err = DecryptECIES(c, otherPriv, envelope)
	require.Error(t, err)
}

func TestECIESTamperedEnvelopeFails(t *testing.T) {
	c := bmcrypto.New()

	priv, err := c.RandomBytes(bmcrypto.PrivKeyLen)
	require.NoError(t, err)
	pub, err := c.CreatePublicKey(priv)
	require.NoError(t, err)

	envelope, err := EncryptECIES(c, pub, []byte("hello"))
	require.NoError(t, err)

	envelope[len(envelope)-1] ^= 0xFF

	_, err = DecryptECIES(c, priv, envelope)
	require.Error(t, err)
}

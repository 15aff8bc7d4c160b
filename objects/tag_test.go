// Copyright (c) 2024 The bmnode developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package objects

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bmnode/core/bmcrypto"
)

func TestDeriveTagIsDeterministic(t *testing.T) {
	c := bmcrypto.New()
	ripe := make([]byte, 20)
	ripe[3] = 0x09

	tag1 := DeriveTag(c, 4, 1, ripe)
	tag2 := DeriveTag(c, 4, 1, ripe)
	require.Equal(t, tag1, tag2)

	tag3 := DeriveTag(c, 4, 2, ripe)
	require.NotEqual(t, tag1, tag3)
}

func TestDeriveEncryptionSecretIsDeterministic(t *testing.T) {
	c := bmcrypto.New()
	ripe := make([]byte, 20)

	s1 := DeriveEncryptionSecret(c, 4, 1, ripe)
	s2 := DeriveEncryptionSecret(c, 4, 1, ripe)
	require.Equal(t, s1, s2)
	require.Len(t, s1, 32)
}

// Copyright (c) 2024 The bmnode developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package codec

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

// TestVarIntRoundTrip covers scenario S2: the fixed set of boundary values
// and their expected encoded byte lengths.
func TestVarIntRoundTrip(t *testing.T) {
	cases := []struct {
		val    uint64
		length int
	}{
		{0, 1},
		{252, 1},
		{253, 3},
		{0xFFFF, 3},
		{0x10000, 5},
		{0xFFFFFFFF, 5},
		{0x100000000, 9},
	}

	for _, c := range cases {
		var buf bytes.Buffer
		require.NoError(t, WriteVarInt(&buf, c.val))
		require.Equal(t, c.length, buf.Len(), "value %d", c.val)
		require.Equal(t, c.length, VarIntSerializeSize(c.val))

		got, err := ReadVarInt(&buf)
		require.NoError(t, err)
		require.Equal(t, c.val, got)
	}
}

// TestVarIntRoundTripProperty covers invariant 1 for varints over the full
// uint64 range.
func TestVarIntRoundTripProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		val := rapid.Uint64().Draw(t, "val")

		var buf bytes.Buffer
		require.NoError(t, WriteVarInt(&buf, val))
		require.Equal(t, VarIntSerializeSize(val), buf.Len())

		got, err := ReadVarInt(&buf)
		require.NoError(t, err)
		require.Equal(t, val, got)
	})
}

// TestReadVarIntTruncated ensures a declared-but-missing tail fails with a
// ParseError rather than succeeding with a short read.
func TestReadVarIntTruncated(t *testing.T) {
	// Tag byte says "16-bit value follows" but only supplies one byte.
	_, err := ReadVarInt(bytes.NewReader([]byte{varIntTag16, 0x01}))
	require.Error(t, err)
}

func TestVarBytesRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		data := rapid.SliceOfN(rapid.Byte(), 0, 512).Draw(t, "data")

		var buf bytes.Buffer
		require.NoError(t, WriteVarBytes(&buf, data))

		got, err := ReadVarBytes(&buf, MaxPayloadSize, "test")
		require.NoError(t, err)
		require.Equal(t, data, got)
	})
}

func TestReadVarBytesOversize(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteVarInt(&buf, MaxPayloadSize+1))
	_, err := ReadVarBytes(&buf, MaxPayloadSize, "payload")
	require.Error(t, err)
}

func TestVarStringRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteVarString(&buf, "/bmnode:1.0.0/"))

	got, err := ReadVarString(&buf, 256)
	require.NoError(t, err)
	require.Equal(t, "/bmnode:1.0.0/", got)
}

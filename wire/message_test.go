// Copyright (c) 2024 The bmnode developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wire

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWriteReadMessageRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	payload := []byte("deterministic test payload")

	require.NoError(t, WriteMessage(&buf, 0xE9BEB4D9, CmdObject, payload))

	hdr, got, err := ReadMessage(&buf)
	require.NoError(t, err)
	require.Equal(t, CmdObject, hdr.Command)
	require.Equal(t, uint32(len(payload)), hdr.Length)
	require.Equal(t, payload, got)
}

func TestReadPayloadRejectsChecksumMismatch(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteMessage(&buf, 0xE9BEB4D9, CmdInv, []byte("abc")))

	raw := buf.Bytes()
	// Flip a payload byte without touching the header checksum.
	raw[len(raw)-1] ^= 0xFF

	_, _, err := ReadMessage(bytes.NewReader(raw))
	require.Error(t, err)
}

func TestWriteMessageRejectsOversizedPayload(t *testing.T) {
	var buf bytes.Buffer
	big := make([]byte, MaxPayloadLength+1)
	err := WriteMessage(&buf, 0xE9BEB4D9, CmdObject, big)
	require.Error(t, err)
}

func TestReadHeaderRejectsOversizedDeclaredLength(t *testing.T) {
	var hdr bytes.Buffer
	hdr.Write([]byte{0xE9, 0xBE, 0xB4, 0xD9})
	var cmd [CommandSize]byte
	copy(cmd[:], CmdObject)
	hdr.Write(cmd[:])
	hdr.Write([]byte{0x7F, 0xFF, 0xFF, 0xFF}) // huge declared length
	hdr.Write([]byte{0, 0, 0, 0})

	_, err := ReadHeader(&hdr)
	require.Error(t, err)
}

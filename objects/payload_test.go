// Copyright (c) 2024 The bmnode developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package objects

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPubkeyV2RoundTrip(t *testing.T) {
	p := &PubkeyV2{Behavior: BehaviorDoesAck}
	for i := range p.SigningKey {
		p.SigningKey[i] = byte(i)
	}
	for i := range p.EncryptionKey {
		p.EncryptionKey[i] = byte(255 - i)
	}

	got, err := ParsePubkeyV2(p.Serialize())
	require.NoError(t, err)
	require.Equal(t, p, got)
}

func TestPubkeyV3RoundTrip(t *testing.T) {
	p := &PubkeyV3{
		PubkeyV2:           PubkeyV2{Behavior: BehaviorIncludeDestination},
		NonceTrialsPerByte: 1000,
		ExtraBytes:         1000,
		Signature:          []byte{0xde, 0xad, 0xbe, 0xef},
	}

	got, err := ParsePubkeyV3(p.Serialize())
	require.NoError(t, err)
	require.Equal(t, p, got)
}

func TestPubkeyV4RoundTrip(t *testing.T) {
	p := &PubkeyV4{Encrypted: []byte("ciphertext")}
	p.Tag[0] = 0x01

	got, err := ParsePubkeyV4(p.Serialize())
	require.NoError(t, err)
	require.Equal(t, p, got)
}

func TestGetPubkeyDispatch(t *testing.T) {
	ripe := &GetPubkeyRipe{}
	ripe.Ripe[0] = 0xAB

	gotRipe, err := ParseGetPubkey(3, ripe.Serialize())
	require.NoError(t, err)
	require.Equal(t, ripe, gotRipe)

	tag := &GetPubkeyTag{}
	tag.Tag[0] = 0xCD

	gotTag, err := ParseGetPubkey(4, tag.Serialize())
	require.NoError(t, err)
	require.Equal(t, tag, gotTag)

	_, err = ParseGetPubkey(99, []byte{})
	require.Error(t, err)
}

func TestMsgPlaintextRoundTripV3(t *testing.T) {
	m := &MsgPlaintext{
		MsgVersion:         1,
		AddressVersion:     3,
		Stream:             1,
		Behavior:           BehaviorDoesAck,
		NonceTrialsPerByte: 1000,
		ExtraBytes:         1000,
		Encoding:           2,
		Message:            []byte("hello bob"),
		AckData:            []byte{1, 2, 3, 4},
		Signature:          []byte{9, 9, 9},
	}
	m.DestinationRipe[5] = 0x42

	got, err := ParseMsgPlaintext(m.Serialize())
	require.NoError(t, err)
	require.Equal(t, m, got)
}

func TestMsgPlaintextRoundTripV2OmitsPow(t *testing.T) {
	m := &MsgPlaintext{
		MsgVersion:     1,
		AddressVersion: 2,
		Stream:         1,
		Encoding:       1,
		Message:        []byte("hi"),
		AckData:        []byte{},
		Signature:      []byte{1},
	}

	got, err := ParseMsgPlaintext(m.Serialize())
	require.NoError(t, err)
	require.Equal(t, uint64(0), got.NonceTrialsPerByte)
	require.Equal(t, m.Message, got.Message)
}

func TestBroadcastPlaintextRoundTrip(t *testing.T) {
	b := &BroadcastPlaintext{
		BroadcastVersion:   5,
		AddressVersion:     4,
		Stream:             1,
		Behavior:           0,
		NonceTrialsPerByte: 1000,
		ExtraBytes:         1000,
		Encoding:           2,
		Message:            []byte("broadcast to my subscribers"),
		Signature:          []byte{7, 7},
	}

	got, err := ParseBroadcastPlaintext(b.Serialize())
	require.NoError(t, err)
	require.Equal(t, b, got)
}

func TestSignTargetIncludesHeaderAndBody(t *testing.T) {
	header := []byte("header-bytes")
	p := &PubkeyV3{PubkeyV2: PubkeyV2{Behavior: 1}}
	target := p.SignTarget(header)
	require.True(t, len(target) > len(header))
	require.Equal(t, header, target[:len(header)])
}

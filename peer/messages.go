// Copyright (c) 2024 The bmnode developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package peer

import (
	"bytes"

	"github.com/bmnode/core/bmerr"
	"github.com/bmnode/core/codec"
	"github.com/bmnode/core/objects"
)

// maxUserAgentLen bounds the version message's userAgent varstring; no
// legitimate client needs anywhere near this much room to identify itself.
const maxUserAgentLen = 2000

// VersionPayload is the handshake message both sides exchange first. It
// follows §4.2's handshake rules: protocol version floor, self-connection
// nonce, timestamp skew, and the advertised stream list.
type VersionPayload struct {
	ProtocolVersion uint32
	Services        uint64
	Timestamp       int64
	Nonce           uint64
	UserAgent       string
	Streams         []uint64
}

// Serialize renders v to its wire form.
func (v *VersionPayload) Serialize() []byte {
	var buf bytes.Buffer
	_ = codec.WriteUint32(&buf, v.ProtocolVersion)
	_ = codec.WriteUint64(&buf, v.Services)
	_ = codec.WriteUint64(&buf, uint64(v.Timestamp))
	_ = codec.WriteUint64(&buf, v.Nonce)
	_ = codec.WriteVarBytes(&buf, []byte(v.UserAgent))
	_ = codec.WriteVarInt(&buf, uint64(len(v.Streams)))
	for _, s := range v.Streams {
		_ = codec.WriteVarInt(&buf, s)
	}
	return buf.Bytes()
}

// ParseVersionPayload parses the wire form written by Serialize.
func ParseVersionPayload(data []byte) (*VersionPayload, error) {
	r := bytes.NewReader(data)

	protocolVersion, err := codec.ReadUint32(r)
	if err != nil {
		return nil, bmerr.Wrap(bmerr.ParseError, "peer.ParseVersionPayload", err)
	}
	services, err := codec.ReadUint64(r)
	if err != nil {
		return nil, bmerr.Wrap(bmerr.ParseError, "peer.ParseVersionPayload", err)
	}
	timestamp, err := codec.ReadUint64(r)
	if err != nil {
		return nil, bmerr.Wrap(bmerr.ParseError, "peer.ParseVersionPayload", err)
	}
	nonce, err := codec.ReadUint64(r)
	if err != nil {
		return nil, bmerr.Wrap(bmerr.ParseError, "peer.ParseVersionPayload", err)
	}
	userAgent, err := codec.ReadVarBytes(r, maxUserAgentLen, "userAgent")
	if err != nil {
		return nil, err
	}
	streamCount, err := codec.ReadVarInt(r)
	if err != nil {
		return nil, bmerr.Wrap(bmerr.ParseError, "peer.ParseVersionPayload", err)
	}
	if streamCount > maxStreamsPerVersion {
		return nil, bmerr.New(bmerr.Oversize, "peer.ParseVersionPayload", "too many advertised streams")
	}
	streams := make([]uint64, 0, streamCount)
	for i := uint64(0); i < streamCount; i++ {
		s, err := codec.ReadVarInt(r)
		if err != nil {
			return nil, bmerr.Wrap(bmerr.ParseError, "peer.ParseVersionPayload", err)
		}
		streams = append(streams, s)
	}

	return &VersionPayload{
		ProtocolVersion: protocolVersion,
		Services:        services,
		Timestamp:       int64(timestamp),
		Nonce:           nonce,
		UserAgent:       string(userAgent),
		Streams:         streams,
	}, nil
}

// maxStreamsPerVersion bounds the stream list the same way
// netparams.Params.MaxInvPerMessage bounds inv: a well-behaved node subscribes to a handful of streams, never
// thousands.
const maxStreamsPerVersion = 1000

// AddrEntry is one entry of an addr message: a known node plus the stream
// it serves and when it was last seen.
type AddrEntry struct {
	IP       string
	Port     uint16
	Stream   uint64
	Services uint64
	LastSeen int64
}

// EncodeAddrList renders entries as an addr message payload.
func EncodeAddrList(entries []AddrEntry) []byte {
	var buf bytes.Buffer
	_ = codec.WriteVarInt(&buf, uint64(len(entries)))
	for _, e := range entries {
		_ = codec.WriteVarBytes(&buf, []byte(e.IP))
		_ = codec.WriteUint32(&buf, uint32(e.Port))
		_ = codec.WriteVarInt(&buf, e.Stream)
		_ = codec.WriteUint64(&buf, e.Services)
		_ = codec.WriteUint64(&buf, uint64(e.LastSeen))
	}
	return buf.Bytes()
}

const maxIPLen = 64

// DecodeAddrList parses an addr message payload, rejecting more than
// maxEntries entries outright per §4.2's batch cap.
func DecodeAddrList(data []byte, maxEntries int) ([]AddrEntry, error) {
	r := bytes.NewReader(data)

	count, err := codec.ReadVarInt(r)
	if err != nil {
		return nil, bmerr.Wrap(bmerr.ParseError, "peer.DecodeAddrList", err)
	}
	if count > uint64(maxEntries) {
		return nil, bmerr.New(bmerr.Oversize, "peer.DecodeAddrList", "addr message exceeds maximum entries")
	}

	entries := make([]AddrEntry, 0, count)
	for i := uint64(0); i < count; i++ {
		ip, err := codec.ReadVarBytes(r, maxIPLen, "addr.ip")
		if err != nil {
			return nil, err
		}
		port, err := codec.ReadUint32(r)
		if err != nil {
			return nil, bmerr.Wrap(bmerr.ParseError, "peer.DecodeAddrList", err)
		}
		stream, err := codec.ReadVarInt(r)
		if err != nil {
			return nil, bmerr.Wrap(bmerr.ParseError, "peer.DecodeAddrList", err)
		}
		services, err := codec.ReadUint64(r)
		if err != nil {
			return nil, bmerr.Wrap(bmerr.ParseError, "peer.DecodeAddrList", err)
		}
		lastSeen, err := codec.ReadUint64(r)
		if err != nil {
			return nil, bmerr.Wrap(bmerr.ParseError, "peer.DecodeAddrList", err)
		}
		entries = append(entries, AddrEntry{
			IP:       string(ip),
			Port:     uint16(port),
			Stream:   stream,
			Services: services,
			LastSeen: int64(lastSeen),
		})
	}
	return entries, nil
}

// EncodeIVList renders ivs as an inv or getdata message payload — both
// messages share the same varint-count-then-fixed-width-IVs shape.
func EncodeIVList(ivs []objects.IV) []byte {
	var buf bytes.Buffer
	_ = codec.WriteVarInt(&buf, uint64(len(ivs)))
	for _, iv := range ivs {
		buf.Write(iv[:])
	}
	return buf.Bytes()
}

// DecodeIVList parses an inv or getdata message payload, rejecting more
// than maxEntries IVs per §4.2's batch cap.
func DecodeIVList(data []byte, maxEntries int) ([]objects.IV, error) {
	r := bytes.NewReader(data)

	count, err := codec.ReadVarInt(r)
	if err != nil {
		return nil, bmerr.Wrap(bmerr.ParseError, "peer.DecodeIVList", err)
	}
	if count > uint64(maxEntries) {
		return nil, bmerr.New(bmerr.Oversize, "peer.DecodeIVList", "inv/getdata message exceeds maximum entries")
	}

	ivs := make([]objects.IV, count)
	for i := range ivs {
		if err := codec.ReadFixedBytes(r, ivs[i][:]); err != nil {
			return nil, err
		}
	}
	return ivs, nil
}

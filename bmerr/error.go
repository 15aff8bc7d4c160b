// Copyright (c) 2024 The bmnode developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package bmerr defines the error taxonomy shared across the node: every
// failure raised by the protocol core is classified into one of the Kinds
// below so that callers (peer sessions, the network agent, the message
// pipeline) can apply a uniform recovery policy without inspecting error
// strings.
package bmerr

import "fmt"

// Kind classifies an Error by how the rest of the node must react to it.
type Kind int

const (
	// ParseError is returned for a malformed frame or payload.
	ParseError Kind = iota

	// ChecksumMismatch is returned when a frame's checksum does not match
	// its payload.
	ChecksumMismatch

	// ProtocolViolation is returned for an invalid handshake, an oversize
	// frame reaching the wire layer, or a peer whose nonce equals ours.
	ProtocolViolation

	// PowInvalid is returned when a proof of work fails verification.
	PowInvalid

	// SignatureInvalid is returned when a signature fails verification.
	SignatureInvalid

	// DecryptionFailed is returned when a payload cannot be decrypted with
	// the keys on hand. This is the normal outcome for a msg or broadcast
	// object that isn't addressed to any local identity.
	DecryptionFailed

	// Duplicate is returned when an inventory vector is already known.
	Duplicate

	// Oversize is returned when a payload exceeds the maximum payload
	// size.
	Oversize

	// Timeout is returned when a handshake or idle deadline elapses.
	Timeout

	// RepositoryError is returned when a persistence operation fails. It
	// is the only Kind (besides FatalConfigError) surfaced to the host.
	RepositoryError

	// FatalConfigError is returned when node construction cannot proceed,
	// e.g. a missing cryptography capability or an invalid identity. It
	// propagates to the host and stops startup.
	FatalConfigError
)

var kindNames = map[Kind]string{
	ParseError:       "parse error",
	ChecksumMismatch: "checksum mismatch",
	ProtocolViolation: "protocol violation",
	PowInvalid:        "proof of work invalid",
	SignatureInvalid:  "signature invalid",
	DecryptionFailed:  "decryption failed",
	Duplicate:         "duplicate",
	Oversize:          "oversize",
	Timeout:           "timeout",
	RepositoryError:   "repository error",
	FatalConfigError:  "fatal config error",
}

// String returns the Kind in human-readable form.
func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("unknown error kind (%d)", int(k))
}

// Error is the concrete error type returned throughout the node. It wraps
// an underlying cause (which may be nil) with a Kind that tells the caller
// how to react, per the policy table in the specification's error handling
// section.
type Error struct {
	Kind Kind
	Op   string // operation that failed, e.g. "codec.ReadVarInt"
	Err  error  // underlying cause, may be nil
}

// New builds an Error with no wrapped cause.
func New(kind Kind, op, msg string) *Error {
	return &Error{Kind: kind, Op: op, Err: errString(msg)}
}

// Wrap builds an Error that wraps an existing cause.
func Wrap(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

// Unwrap allows errors.Is/errors.As to see through to the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error with the same Kind, which is the
// comparison callers care about ("was this a PowInvalid?") far more often
// than identity of the wrapped cause.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

type errString string

func (s errString) Error() string { return string(s) }

// Recoverable reports whether the error is local to a peer/operation and
// should not be surfaced to the host, i.e. everything except
// RepositoryError and FatalConfigError.
func (e *Error) Recoverable() bool {
	return e.Kind != RepositoryError && e.Kind != FatalConfigError
}

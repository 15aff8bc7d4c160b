// Copyright (c) 2024 The bmnode developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package objects

import "github.com/bmnode/core/objkind"

// Payload is implemented by every decoded object body. It replaces what
// would otherwise be a Pubkey → V2/V3/V4Pubkey inheritance chain with a
// flat tagged variant: each concrete type carries its own fields, Kind
// reports which envelope ObjectType it belongs under, and Serialize
// renders the canonical wire body (the envelope header is handled
// separately by Envelope itself).
type Payload interface {
	Kind() objkind.ObjectType
	Serialize() []byte
}

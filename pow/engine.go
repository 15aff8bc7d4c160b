// Copyright (c) 2024 The bmnode developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package pow

import (
	"context"
	"fmt"

	"golang.org/x/sys/cpu"

	"github.com/bmnode/core/bmcrypto"
)

// Engine grinds and verifies proof of work for a single object at a time.
// The default implementation wraps bmcrypto.Cryptography directly; a host
// that wants a faster or hardware-accelerated solver implements Engine
// against the same signatures and passes it to NewService.
type Engine interface {
	Grind(ctx context.Context, initialHash [64]byte, target uint64) (uint64, error)
	CheckProofOfWork(nonce uint64, initialHash [64]byte, target uint64) bool
}

// cpuEngine is the default Engine: sequential nonce search via
// bmcrypto.Cryptography, same as the teacher's stub RandomX path before a
// real accelerated implementation is wired in — see DetectCapabilities.
type cpuEngine struct {
	c bmcrypto.Cryptography
}

// NewCPUEngine returns the default, always-available Engine.
func NewCPUEngine(c bmcrypto.Cryptography) Engine {
	return cpuEngine{c: c}
}

func (e cpuEngine) Grind(ctx context.Context, initialHash [64]byte, target uint64) (uint64, error) {
	return e.c.Grind(ctx, initialHash, target)
}

func (e cpuEngine) CheckProofOfWork(nonce uint64, initialHash [64]byte, target uint64) bool {
	return e.c.CheckProofOfWork(nonce, initialHash, target)
}

// Capabilities describes what the running CPU offers the grind loop, so a
// host can log why it picked a given worker count or engine.
type Capabilities struct {
	HasAVX2  bool
	HasAVX512 bool
	HasSHA   bool
}

// DetectCapabilities probes the CPU feature bits the grind loop could
// exploit (wide SIMD, dedicated SHA instructions). The CPU engine itself
// doesn't use any of these yet — hash/sha512 picks its own fast path — but
// the probe is what a hardware-accelerated Engine (built the way the
// teacher's mining/randomx engine-detection split a real implementation
// from a portable stub) would key its selection on.
func DetectCapabilities() Capabilities {
	return Capabilities{
		HasAVX2:   cpu.X86.HasAVX2,
		HasAVX512: cpu.X86.HasAVX512F,
		HasSHA:    cpu.X86.HasSHA,
	}
}

// String renders Capabilities for a startup log line.
func (c Capabilities) String() string {
	return fmt.Sprintf("avx2=%v avx512=%v sha=%v", c.HasAVX2, c.HasAVX512, c.HasSHA)
}

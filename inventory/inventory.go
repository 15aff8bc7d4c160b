// Copyright (c) 2024 The bmnode developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package inventory implements the content-addressed set of currently
// valid objects every peer session and the network agent share: TTL-based
// expiry, per-stream indexing, and at-most-once propagation. Its locking
// discipline (an RWMutex-guarded map with a scan-on-insert expiry sweep)
// is carried over from the teacher's transaction pool, generalized from
// transactions keyed by hash to objects keyed by inventory vector.
package inventory

import (
	"context"
	"sync"
	"time"

	"github.com/btcsuite/btclog"

	"github.com/bmnode/core/bmcrypto"
	"github.com/bmnode/core/bmerr"
	"github.com/bmnode/core/netparams"
	"github.com/bmnode/core/objects"
	"github.com/bmnode/core/repository"
)

// log is the package-level logger, wired by UseLogger.
var log = btclog.Disabled

// UseLogger sets the package-wide logger.
func UseLogger(logger btclog.Logger) {
	log = logger
}

// AcceptResult reports the outcome of StoreObject.
type AcceptResult int

const (
	Accepted AcceptResult = iota
	Duplicate
	Rejected
)

func (r AcceptResult) String() string {
	switch r {
	case Accepted:
		return "accepted"
	case Duplicate:
		return "duplicate"
	case Rejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// entry is a stored object plus the bookkeeping needed to expire and
// index it.
type entry struct {
	raw      []byte
	envelope *objects.Envelope
	expires  time.Time
	stored   time.Time
}

// expireScanInterval mirrors the teacher's orphan-pool sweep cadence: the
// mempool does not run cleanup on a hard timer, only opportunistically
// when new entries arrive, so a burst of accepted objects still bounds how
// stale the pool can get.
const expireScanInterval = 5 * time.Minute

// Inventory is the flood-fill object store. Safe for concurrent use by
// multiple peer sessions.
type Inventory struct {
	crypto bmcrypto.Cryptography
	params *netparams.Params

	mtx   sync.RWMutex
	store map[objects.IV]*entry

	// byStream indexes live IVs per stream for getObjects(stream, ...).
	byStream map[uint64]map[objects.IV]struct{}

	// suppressed holds IVs rejected or pruned, still within their
	// would-be TTL, so a peer re-offering the same IV doesn't cause it to
	// be re-validated and re-gossiped — the at-most-once guarantee.
	suppressed map[objects.IV]time.Time

	nextExpireScan time.Time

	// repo durably persists accepted objects so LoadFromRepository can
	// restore them across a restart. Nil (the default) means no
	// repository is wired — this Inventory's in-memory map is the only
	// copy, matching repository.InventoryRepository's own doc comment
	// that the in-memory store is the hot path and a repository exists
	// only to make it durable.
	repo repository.InventoryRepository
}

// New returns an empty Inventory bound to crypto (for IV/PoW checks) and
// params (for TTL bounds and PoW difficulty).
func New(crypto bmcrypto.Cryptography, params *netparams.Params) *Inventory {
	return &Inventory{
		crypto:     crypto,
		params:     params,
		store:      make(map[objects.IV]*entry),
		byStream:   make(map[uint64]map[objects.IV]struct{}),
		suppressed: make(map[objects.IV]time.Time),
	}
}

// SetRepository wires (or replaces) the durable backing store. New takes
// no repository, so bmnode.New attaches the caller's one with this setter
// right after constructing the Inventory.
func (inv *Inventory) SetRepository(repo repository.InventoryRepository) {
	inv.mtx.Lock()
	defer inv.mtx.Unlock()
	inv.repo = repo
}

// LoadFromRepository restores every object the repository holds for each
// of streams into the in-memory store, re-running full acceptance
// validation on each one (cheap relative to a restart, and it keeps this
// from being a second, less-trusted code path). It returns the number of
// objects restored. A nil repository is a no-op.
func (inv *Inventory) LoadFromRepository(ctx context.Context, streams []uint64, now time.Time) (int, error) {
	const op = "inventory.Inventory.LoadFromRepository"

	inv.mtx.RLock()
	repo := inv.repo
	inv.mtx.RUnlock()
	if repo == nil {
		return 0, nil
	}

	loaded := 0
	for _, stream := range streams {
		ivs, err := repo.GetInventory(ctx, stream)
		if err != nil {
			return loaded, bmerr.Wrap(bmerr.RepositoryError, op, err)
		}
		for _, iv := range ivs {
			raw, err := repo.GetObject(ctx, iv)
			if err != nil || raw == nil {
				continue
			}
			if _, _, err := inv.StoreObject(raw, now); err != nil {
				log.Warnf("inventory: dropping unrestorable object %x: %v", iv[:8], err)
				continue
			}
			loaded++
		}
	}
	return loaded, nil
}

// Contains reports whether iv currently has a live entry.
func (inv *Inventory) Contains(iv objects.IV) bool {
	inv.mtx.RLock()
	defer inv.mtx.RUnlock()
	_, ok := inv.store[iv]
	return ok
}

// GetObject returns the raw object bytes for iv, if present.
func (inv *Inventory) GetObject(iv objects.IV) ([]byte, bool) {
	inv.mtx.RLock()
	defer inv.mtx.RUnlock()
	e, ok := inv.store[iv]
	if !ok {
		return nil, false
	}
	return e.raw, true
}

// GetObjects returns the IVs of every live object in stream, optionally
// filtered by objectType (nil means no filter) and by minimum version.
func (inv *Inventory) GetObjects(stream uint64, minVersion uint64, types map[uint32]struct{}) []objects.IV {
	inv.mtx.RLock()
	defer inv.mtx.RUnlock()

	ivs := make([]objects.IV, 0, len(inv.byStream[stream]))
	for iv := range inv.byStream[stream] {
		e := inv.store[iv]
		if e == nil {
			continue
		}
		if e.envelope.Version < minVersion {
			continue
		}
		if types != nil {
			if _, ok := types[uint32(e.envelope.ObjectType)]; !ok {
				continue
			}
		}
		ivs = append(ivs, iv)
	}
	return ivs
}

// GetMissing returns the subset of offered not present in ours (a set of
// IVs this node already has).
func GetMissing(offered []objects.IV, ours map[objects.IV]struct{}) []objects.IV {
	missing := make([]objects.IV, 0, len(offered))
	for _, iv := range offered {
		if _, ok := ours[iv]; !ok {
			missing = append(missing, iv)
		}
	}
	return missing
}

// StoreObject validates raw against the acceptance rules in §4.5 and, if
// accepted, inserts it. now is passed explicitly so the TTL window checks
// are reproducible in tests.
func (inv *Inventory) StoreObject(raw []byte, now time.Time) (AcceptResult, objects.IV, error) {
	env, err := objects.ParseEnvelope(raw)
	if err != nil {
		return Rejected, objects.IV{}, err
	}

	iv := objects.ComputeIV(inv.crypto, env)

	inv.mtx.Lock()
	defer inv.mtx.Unlock()

	if _, ok := inv.store[iv]; ok {
		return Duplicate, iv, nil
	}
	if _, ok := inv.suppressed[iv]; ok {
		return Duplicate, iv, bmerr.New(bmerr.Duplicate, "inventory.StoreObject", "IV was rejected or pruned earlier and is still suppressed")
	}

	if err := validateEnvelope(inv.params, env, now); err != nil {
		inv.suppress(iv, env, now)
		log.Debugf("inventory: rejected %x: %v", iv[:8], err)
		return Rejected, iv, err
	}

	if !inv.crypto.CheckProofOfWork(env.Nonce, initialHashFor(inv.crypto, env), targetFor(inv.params, env, now)) {
		inv.suppress(iv, env, now)
		log.Debugf("inventory: rejected %x: proof of work invalid", iv[:8])
		return Rejected, iv, errPowInvalid(iv)
	}

	if err := verifyPubkeySignature(inv.crypto, env); err != nil {
		inv.suppress(iv, env, now)
		log.Debugf("inventory: rejected %x: %v", iv[:8], err)
		return Rejected, iv, err
	}

	inv.insert(iv, raw, env, now)
	if inv.repo != nil {
		expires := time.Unix(int64(env.ExpiresTime), 0)
		if err := inv.repo.StoreObject(context.Background(), iv, raw, expires); err != nil {
			log.Warnf("inventory: persisting %x: %v", iv[:8], err)
		}
	}
	inv.maybeSweep(now)
	return Accepted, iv, nil
}

// insert must be called with mtx held.
func (inv *Inventory) insert(iv objects.IV, raw []byte, env *objects.Envelope, now time.Time) {
	e := &entry{
		raw:      raw,
		envelope: env,
		expires:  time.Unix(int64(env.ExpiresTime), 0),
		stored:   now,
	}
	inv.store[iv] = e

	if inv.byStream[env.Stream] == nil {
		inv.byStream[env.Stream] = make(map[objects.IV]struct{})
	}
	inv.byStream[env.Stream][iv] = struct{}{}
}

// suppress must be called with mtx held; it records iv as rejected so it
// isn't re-validated for the remainder of its claimed lifetime.
func (inv *Inventory) suppress(iv objects.IV, env *objects.Envelope, now time.Time) {
	ttl := inv.params.MaxObjectTTL[env.ObjectType]
	inv.suppressed[iv] = now.Add(ttl)
}

// maybeSweep runs Cleanup if the scan interval has elapsed; must be called
// with mtx held.
func (inv *Inventory) maybeSweep(now time.Time) {
	if now.Before(inv.nextExpireScan) {
		return
	}
	inv.nextExpireScan = now.Add(expireScanInterval)
	inv.cleanupLocked(now)
}

// Cleanup removes every entry whose expiry has passed and every
// suppression record whose TTL has lapsed, returning the number of live
// entries removed.
func (inv *Inventory) Cleanup(now time.Time) int {
	inv.mtx.Lock()
	defer inv.mtx.Unlock()
	return inv.cleanupLocked(now)
}

func (inv *Inventory) cleanupLocked(now time.Time) int {
	removed := 0
	for iv, e := range inv.store {
		if now.After(e.expires) {
			delete(inv.store, iv)
			inv.suppress(iv, e.envelope, now)
			if set, ok := inv.byStream[e.envelope.Stream]; ok {
				delete(set, iv)
				if len(set) == 0 {
					delete(inv.byStream, e.envelope.Stream)
				}
			}
			removed++
		}
	}
	for iv, until := range inv.suppressed {
		if now.After(until) {
			delete(inv.suppressed, iv)
		}
	}
	if removed > 0 {
		log.Debugf("inventory: swept %d expired entries", removed)
	}

	if inv.repo != nil {
		if _, err := inv.repo.Cleanup(context.Background(), now); err != nil {
			log.Warnf("inventory: pruning repository: %v", err)
		}
	}

	return removed
}

// Len reports the number of live entries, for diagnostics and tests.
func (inv *Inventory) Len() int {
	inv.mtx.RLock()
	defer inv.mtx.RUnlock()
	return len(inv.store)
}

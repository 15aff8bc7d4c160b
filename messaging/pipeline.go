// Copyright (c) 2024 The bmnode developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package messaging implements the outbound/inbound application-message
// pipeline: pubkey lookup with exponential backoff, proof-of-work-gated
// sending, retry scheduling, and — on the receiving side — trial
// decryption against every local identity, signature verification, and
// acknowledgement. It is driven by repository.MessageRepository and
// repository.AddressRepository for persistence and pow.Service for PoW,
// the same "own a goroutine, die channel, WaitGroup" shape used by peer
// and network for off-I/O-path work.
package messaging

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"strconv"
	"sync"
	"time"

	"github.com/btcsuite/btclog"

	"github.com/bmnode/core/bmcrypto"
	"github.com/bmnode/core/bmerr"
	"github.com/bmnode/core/identity"
	"github.com/bmnode/core/inventory"
	"github.com/bmnode/core/netparams"
	"github.com/bmnode/core/objects"
	"github.com/bmnode/core/objkind"
	"github.com/bmnode/core/pow"
	"github.com/bmnode/core/repository"
)

// log is the package-level logger, wired by UseLogger.
var log = btclog.Disabled

// UseLogger sets the package-wide logger.
func UseLogger(logger btclog.Logger) {
	log = logger
}

// Retry/TTL constants from the message pipeline contract.
const (
	InitialGetPubkeyRetry = 2 * 24 * time.Hour
	MaxGetPubkeyRetry     = 28 * 24 * time.Hour
	MaxRetries            = 5

	getPubkeyTTL = 2 * 24 * time.Hour
	pubkeyTTL    = 28 * 24 * time.Hour
	ackObjectTTL = 2 * time.Hour
	defaultMsgTTL = 2*24*time.Hour + 12*time.Hour
)

// Announcer broadcasts a locally-originated, already-accepted object to the
// network. network.Agent implements it by flooding an INV to every peer,
// with no originator to exclude since the object did not arrive from one.
type Announcer interface {
	Announce(iv objects.IV)
}

// Config bundles what a Pipeline needs to run.
type Config struct {
	Crypto    bmcrypto.Cryptography
	Params    *netparams.Params
	Messages  repository.MessageRepository
	Addresses repository.AddressRepository
	Inventory *inventory.Inventory
	PoW       *pow.Service
	Announce  Announcer

	// ProofOfWork persists outstanding grind jobs so ResumePendingProofOfWork
	// can pick them back up after a restart. Nil disables this bookkeeping —
	// a Pipeline built over memrepo has nothing durable to resume anyway.
	ProofOfWork repository.ProofOfWorkRepository
}

// Pipeline drives the outbound send/retry state machine and inbound
// trial-decrypt/ack flow described in the message pipeline contract.
type Pipeline struct {
	crypto    bmcrypto.Cryptography
	params    *netparams.Params
	messages  repository.MessageRepository
	addresses repository.AddressRepository
	inv       *inventory.Inventory
	pow       *pow.Service
	announce  Announcer
	powRepo   repository.ProofOfWorkRepository

	mu         sync.RWMutex
	identities []*identity.Identity

	jobsMu      sync.Mutex
	pendingJobs map[uint64]struct{}

	wg      sync.WaitGroup
	die     chan struct{}
	dieOnce sync.Once
}

// NewPipeline constructs a Pipeline from cfg.
func NewPipeline(cfg Config) *Pipeline {
	return &Pipeline{
		crypto:      cfg.Crypto,
		params:      cfg.Params,
		messages:    cfg.Messages,
		addresses:   cfg.Addresses,
		inv:         cfg.Inventory,
		pow:         cfg.PoW,
		announce:    cfg.Announce,
		powRepo:     cfg.ProofOfWork,
		pendingJobs: make(map[uint64]struct{}),
		die:         make(chan struct{}),
	}
}

// AddIdentity registers a local identity: its decryption key is tried
// against every inbound msg object, and getpubkey requests matching its
// address are answered with its pubkey.
func (p *Pipeline) AddIdentity(id *identity.Identity) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.identities = append(p.identities, id)
}

// SetAnnouncer wires (or replaces) the Announcer objects are flooded
// through. A Pipeline and a network.Agent each need a reference to the
// other, so one of the two links is made after construction: bmnode.New
// passes the Pipeline as the Agent's Config.Observer and then closes the
// loop here.
func (p *Pipeline) SetAnnouncer(a Announcer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.announce = a
}

// Close cancels any outstanding PoW jobs and waits for every spawned
// pipeline goroutine to return.
func (p *Pipeline) Close() {
	p.dieOnce.Do(func() {
		close(p.die)
		p.jobsMu.Lock()
		ids := make([]uint64, 0, len(p.pendingJobs))
		for id := range p.pendingJobs {
			ids = append(ids, id)
		}
		p.jobsMu.Unlock()
		for _, id := range ids {
			p.pow.Cancel(id)
		}
	})
	p.wg.Wait()
}

func (p *Pipeline) spawn(fn func()) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		fn()
	}()
}

// Send persists a new outbound message and asynchronously drives it
// through pubkey lookup, encryption, and proof-of-work. It returns as soon
// as the message is durable, not once it is sent — callers observe
// progress through msg.Status via MessageRepository.
func (p *Pipeline) Send(ctx context.Context, from *identity.Identity, toAddress string, encoding uint64, message []byte, doesAck bool, ttl time.Duration, now time.Time) (*repository.Plaintext, error) {
	const op = "messaging.Pipeline.Send"

	if ttl <= 0 {
		ttl = defaultMsgTTL
	}

	fromAddr, err := from.Addr.Encode(p.crypto)
	if err != nil {
		return nil, bmerr.Wrap(bmerr.FatalConfigError, op, err)
	}

	var ackData []byte
	if doesAck {
		ackData, err = p.crypto.RandomBytes(32)
		if err != nil {
			return nil, err
		}
	}

	msg := &repository.Plaintext{
		ID:       messageID(p.crypto, fromAddr, toAddress, message, now),
		Kind:     "msg",
		From:     fromAddr,
		To:       toAddress,
		Encoding: encoding,
		Message:  append([]byte(nil), message...),
		AckData:  ackData,
		Status:   repository.StatusNew,
		TTL:      ttl,
	}
	if err := p.messages.Save(ctx, msg); err != nil {
		return nil, bmerr.Wrap(bmerr.RepositoryError, op, err)
	}

	p.spawn(func() { p.advance(ctx, from, msg, now) })
	return msg, nil
}

func messageID(c bmcrypto.Cryptography, from, to string, message []byte, now time.Time) string {
	var stamp [8]byte
	binary.BigEndian.PutUint64(stamp[:], uint64(now.UnixNano()))
	digest := c.SHA512([]byte(from), []byte(to), message, stamp[:])
	return hex.EncodeToString(digest[:16])
}

// advance is step 1 of the outbound pipeline: look up the recipient's
// pubkey, falling back to a getpubkey request if it isn't known yet.
func (p *Pipeline) advance(ctx context.Context, from *identity.Identity, msg *repository.Plaintext, now time.Time) {
	addr, pub, err := p.resolveRecipient(ctx, msg.To)
	if err != nil {
		log.Warnf("messaging: resolving recipient %s: %v", msg.To, err)
		return
	}
	if pub == nil {
		p.requestPubkey(ctx, addr, msg, now)
		return
	}
	p.sendWithPubkey(ctx, from, addr, pub, msg, now)
}

// resolveRecipient decodes toAddress and, if this node already holds a
// verified copy of its pubkey, parses and returns it. A nil *PubkeyV3 with
// a nil error means "address is fine, pubkey not known yet" — the normal
// case before the first getpubkey round-trip completes.
func (p *Pipeline) resolveRecipient(ctx context.Context, toAddress string) (*identity.Address, *objects.PubkeyV3, error) {
	const op = "messaging.Pipeline.resolveRecipient"

	addr, err := identity.DecodeAddress(p.crypto, toAddress)
	if err != nil {
		return nil, nil, bmerr.Wrap(bmerr.ParseError, op, err)
	}

	stored, err := p.addresses.Get(ctx, toAddress)
	if err != nil {
		return addr, nil, nil
	}
	if stored == nil || stored.PubkeyIV == "" {
		return addr, nil, nil
	}

	ivBytes, err := hex.DecodeString(stored.PubkeyIV)
	if err != nil || len(ivBytes) != objects.IVSize {
		return addr, nil, nil
	}
	var iv objects.IV
	copy(iv[:], ivBytes)

	raw, ok := p.inv.GetObject(iv)
	if !ok {
		return addr, nil, nil
	}

	pubEnv, err := objects.ParseEnvelope(raw)
	if err != nil || pubEnv.ObjectType != objkind.Pubkey {
		return addr, nil, nil
	}

	pub, err := p.parsePubkeyBody(addr, pubEnv)
	if err != nil {
		log.Warnf("messaging: parsing stored pubkey for %s: %v", toAddress, err)
		return addr, nil, nil
	}
	return addr, pub, nil
}

// parsePubkeyBody decodes a pubkey object's payload into its common v3
// shape regardless of wire version, verifying the v3/v4 signature (v2
// carries none).
func (p *Pipeline) parsePubkeyBody(addr *identity.Address, env *objects.Envelope) (*objects.PubkeyV3, error) {
	const op = "messaging.Pipeline.parsePubkeyBody"

	switch env.Version {
	case 2:
		v2, err := objects.ParsePubkeyV2(env.Payload)
		if err != nil {
			return nil, err
		}
		return &objects.PubkeyV3{
			PubkeyV2:           *v2,
			NonceTrialsPerByte: p.params.NetworkNonceTrialsPerByte,
			ExtraBytes:         p.params.NetworkExtraBytes,
		}, nil

	case 3:
		v3, err := objects.ParsePubkeyV3(env.Payload)
		if err != nil {
			return nil, err
		}
		if !p.crypto.Verify(to65(v3.SigningKey), v3.Signature, v3.SignTarget(env.HeaderBytes())) {
			return nil, bmerr.New(bmerr.SignatureInvalid, op, "pubkey v3 signature invalid")
		}
		return v3, nil

	case 4:
		v4, err := objects.ParsePubkeyV4(env.Payload)
		if err != nil {
			return nil, err
		}
		derivedPriv := objects.DeriveEncryptionSecret(p.crypto, uint64(addr.Version), addr.Stream, addr.Ripe[:])
		plain, err := objects.DecryptECIES(p.crypto, derivedPriv, v4.Encrypted)
		if err != nil {
			return nil, err
		}
		v3, err := objects.ParsePubkeyV3(plain)
		if err != nil {
			return nil, err
		}
		if !p.crypto.Verify(to65(v3.SigningKey), v3.Signature, v3.SignTarget(env.HeaderBytes())) {
			return nil, bmerr.New(bmerr.SignatureInvalid, op, "pubkey v4 signature invalid")
		}
		return v3, nil

	default:
		return nil, bmerr.New(bmerr.ParseError, op, "unsupported pubkey version")
	}
}

// requestPubkey transitions msg to PUBKEY_REQUESTED, schedules its next
// retry if one isn't already scheduled, and emits a getpubkey object.
func (p *Pipeline) requestPubkey(ctx context.Context, addr *identity.Address, msg *repository.Plaintext, now time.Time) {
	msg.Status = repository.StatusPubkeyRequested
	if msg.NextTry.IsZero() {
		msg.NextTry = now.Add(InitialGetPubkeyRetry)
	}
	if err := p.messages.Save(ctx, msg); err != nil {
		log.Warnf("messaging: saving pubkey-requested message %s: %v", msg.ID, err)
		return
	}

	var payload objects.Payload
	switch addr.Version {
	case identity.AddressVersion2, identity.AddressVersion3:
		payload = &objects.GetPubkeyRipe{Ripe: addr.Ripe}
	case identity.AddressVersion4:
		tag := objects.DeriveTag(p.crypto, uint64(addr.Version), addr.Stream, addr.Ripe[:])
		payload = &objects.GetPubkeyTag{Tag: tag}
	default:
		log.Warnf("messaging: unsupported address version for getpubkey: %d", addr.Version)
		return
	}

	if _, err := p.emit(objkind.GetPubkey, uint64(addr.Version), addr.Stream, payload.Serialize(), getPubkeyTTL, p.params.NetworkNonceTrialsPerByte, p.params.NetworkExtraBytes, now); err != nil {
		log.Debugf("messaging: emitting getpubkey for %s: %v", msg.To, err)
	}
}

// sendWithPubkey builds, signs, encrypts, and emits msg's ciphertext now
// that pub is known. On success it transitions msg to SENT and schedules
// its first or next resend; Retries is read but not modified here — the
// caller owns when it advances (zero for a first send, pre-incremented by
// ProcessResends for a retry).
func (p *Pipeline) sendWithPubkey(ctx context.Context, from *identity.Identity, addr *identity.Address, pub *objects.PubkeyV3, msg *repository.Plaintext, now time.Time) {
	msg.Status = repository.StatusDoingProofOfWork
	if err := p.messages.Save(ctx, msg); err != nil {
		log.Warnf("messaging: saving doing-proof-of-work message %s: %v", msg.ID, err)
		return
	}

	plain := &objects.MsgPlaintext{
		MsgVersion:      1,
		AddressVersion:  uint64(from.Addr.Version),
		Stream:          from.Addr.Stream,
		Behavior:        behaviorFor(msg),
		SigningKey:      toFixed64(from.Keys.SigningPub),
		EncryptionKey:   toFixed64(from.Keys.DecryptionPub),
		DestinationRipe: addr.Ripe,
		Encoding:        msg.Encoding,
		Message:         msg.Message,
		AckData:         msg.AckData,
	}
	if from.Addr.Version >= identity.AddressVersion3 {
		plain.NonceTrialsPerByte = from.NonceTrialsPerByte
		plain.ExtraBytes = from.ExtraBytes
	}

	header := (&objects.Envelope{
		ExpiresTime: uint64(now.Add(msg.TTL).Unix()),
		ObjectType:  objkind.Msg,
		Version:     plain.MsgVersion,
		Stream:      addr.Stream,
	}).HeaderBytes()

	sig, err := p.crypto.Sign(from.Keys.SigningPriv, plain.SignTarget(header))
	if err != nil {
		log.Warnf("messaging: signing message %s: %v", msg.ID, err)
		return
	}
	plain.Signature = sig

	encrypted, err := objects.EncryptECIES(p.crypto, to65(pub.EncryptionKey), plain.Serialize())
	if err != nil {
		log.Warnf("messaging: encrypting message %s: %v", msg.ID, err)
		return
	}
	body := (&objects.Msg{Encrypted: encrypted}).Serialize()

	iv, result, err := p.grindAndStore(objkind.Msg, plain.MsgVersion, addr.Stream, body, msg.TTL, pub.NonceTrialsPerByte, pub.ExtraBytes, now, msg.ID)
	if err != nil {
		log.Debugf("messaging: emitting message %s: %v", msg.ID, err)
		return
	}

	msg.Status = repository.StatusSent
	msg.Sent = now
	if msg.Retries == 0 {
		msg.NextTry = now.Add(msg.TTL / 2)
	} else {
		msg.NextTry = now.Add(msg.TTL * time.Duration(uint64(1)<<uint(msg.Retries)))
	}
	if err := p.messages.Save(ctx, msg); err != nil {
		log.Warnf("messaging: saving sent message %s: %v", msg.ID, err)
	}

	// Announce only after msg's own status lands as SENT: the ack this
	// object may provoke is processed by another goroutine the instant
	// Announce returns, and it only recognizes msg as acknowledgeable
	// once GetMessageForAck sees it in the SENT state.
	p.maybeAnnounce(result, iv)
}

func behaviorFor(msg *repository.Plaintext) uint32 {
	if len(msg.AckData) > 0 {
		return objects.BehaviorDoesAck
	}
	return 0
}

// ProcessPubkeyRetries re-checks every PUBKEY_REQUESTED message whose
// retry is due: if the pubkey has since arrived it sends immediately,
// otherwise it re-emits getpubkey with the backoff doubled (capped at
// MaxGetPubkeyRetry).
func (p *Pipeline) ProcessPubkeyRetries(ctx context.Context, now time.Time) error {
	const op = "messaging.Pipeline.ProcessPubkeyRetries"

	pending, err := p.messages.FindMessages(ctx, repository.StatusPubkeyRequested, "")
	if err != nil {
		return bmerr.Wrap(bmerr.RepositoryError, op, err)
	}

	for _, msg := range pending {
		if msg.NextTry.After(now) {
			continue
		}

		addr, err := identity.DecodeAddress(p.crypto, msg.To)
		if err != nil {
			log.Warnf("messaging: pubkey retry for %s: %v", msg.To, err)
			continue
		}

		if _, pub, err := p.resolveRecipient(ctx, msg.To); err == nil && pub != nil {
			if from := p.findLocalIdentity(msg.From); from != nil {
				p.sendWithPubkey(ctx, from, addr, pub, msg, now)
				continue
			}
		}

		msg.Retries++
		next := InitialGetPubkeyRetry * time.Duration(uint64(1)<<uint(msg.Retries))
		if next <= 0 || next > MaxGetPubkeyRetry {
			next = MaxGetPubkeyRetry
		}
		msg.NextTry = now.Add(next)
		p.requestPubkey(ctx, addr, msg, now)
	}
	return nil
}

// ProcessResends drives step 5 of the outbound pipeline: every SENT
// message whose nextTry has elapsed and unacknowledged is rebuilt (new
// object, new proof of work, new IV) up to MaxRetries times.
func (p *Pipeline) ProcessResends(ctx context.Context, now time.Time) error {
	const op = "messaging.Pipeline.ProcessResends"

	due, err := p.messages.FindMessagesToResend(ctx, now)
	if err != nil {
		return bmerr.Wrap(bmerr.RepositoryError, op, err)
	}

	for _, msg := range due {
		if msg.Retries >= MaxRetries {
			continue
		}

		from := p.findLocalIdentity(msg.From)
		if from == nil {
			log.Warnf("messaging: resend %s: no local identity for %s", msg.ID, msg.From)
			continue
		}

		addr, pub, err := p.resolveRecipient(ctx, msg.To)
		if err != nil {
			log.Warnf("messaging: resend %s: %v", msg.ID, err)
			continue
		}
		if pub == nil {
			p.requestPubkey(ctx, addr, msg, now)
			continue
		}

		msg.Retries++
		p.sendWithPubkey(ctx, from, addr, pub, msg, now)
	}
	return nil
}

func (p *Pipeline) findLocalIdentity(address string) *identity.Identity {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, id := range p.identities {
		if encoded, err := id.Addr.Encode(p.crypto); err == nil && encoded == address {
			return id
		}
	}
	return nil
}

// PublishPubkey signs and emits id's pubkey object, encrypting it for v4
// addresses under the key derived from the address itself so any
// requester who doesn't yet hold the pubkey can still decrypt it once
// they've computed the same derivation from the address text.
func (p *Pipeline) PublishPubkey(ctx context.Context, id *identity.Identity, now time.Time) (objects.IV, error) {
	const op = "messaging.Pipeline.PublishPubkey"

	v3 := &objects.PubkeyV3{
		PubkeyV2: objects.PubkeyV2{
			Behavior:      objects.BehaviorDoesAck,
			SigningKey:    toFixed64(id.Keys.SigningPub),
			EncryptionKey: toFixed64(id.Keys.DecryptionPub),
		},
		NonceTrialsPerByte: id.NonceTrialsPerByte,
		ExtraBytes:         id.ExtraBytes,
	}

	header := (&objects.Envelope{
		ExpiresTime: uint64(now.Add(pubkeyTTL).Unix()),
		ObjectType:  objkind.Pubkey,
		Version:     uint64(id.Addr.Version),
		Stream:      id.Addr.Stream,
	}).HeaderBytes()

	sig, err := p.crypto.Sign(id.Keys.SigningPriv, v3.SignTarget(header))
	if err != nil {
		return objects.IV{}, err
	}
	v3.Signature = sig

	var body []byte
	switch id.Addr.Version {
	case identity.AddressVersion2, identity.AddressVersion3:
		body = v3.Serialize()

	case identity.AddressVersion4:
		derivedPriv := objects.DeriveEncryptionSecret(p.crypto, uint64(id.Addr.Version), id.Addr.Stream, id.Addr.Ripe[:])
		derivedPub, err := p.crypto.CreatePublicKey(derivedPriv)
		if err != nil {
			return objects.IV{}, err
		}
		encrypted, err := objects.EncryptECIES(p.crypto, derivedPub, v3.Serialize())
		if err != nil {
			return objects.IV{}, err
		}
		tag := objects.DeriveTag(p.crypto, uint64(id.Addr.Version), id.Addr.Stream, id.Addr.Ripe[:])
		body = (&objects.PubkeyV4{Tag: tag, Encrypted: encrypted}).Serialize()

	default:
		return objects.IV{}, bmerr.New(bmerr.FatalConfigError, op, "unsupported address version")
	}

	return p.emit(objkind.Pubkey, uint64(id.Addr.Version), id.Addr.Stream, body, pubkeyTTL, p.params.NetworkNonceTrialsPerByte, p.params.NetworkExtraBytes, now)
}

// grindAndStore builds a full envelope from its header fields and body,
// grinds proof of work for it, and inserts the result into Inventory. It
// does not announce — callers that need to persist their own state before
// the object reaches the network (sendWithPubkey transitioning msg to
// SENT before the ack it may provoke can arrive) call maybeAnnounce
// themselves once that state is durable. messageID, when non-empty, is the
// backreference persisted to ProofOfWork for the duration of the grind so
// ResumePendingProofOfWork can find the message to re-drive after a
// restart; getpubkey/pubkey/ack emits pass "" since nothing needs resuming
// for them — a fresh one is cheap to re-request.
func (p *Pipeline) grindAndStore(objType objkind.ObjectType, version, stream uint64, body []byte, ttl time.Duration, ntpb, eb uint64, now time.Time, messageID string) (objects.IV, inventory.AcceptResult, error) {
	env := &objects.Envelope{
		ExpiresTime: uint64(now.Add(ttl).Unix()),
		ObjectType:  objType,
		Version:     version,
		Stream:      stream,
		Payload:     body,
	}
	header := env.HeaderBytes()
	initialHash := p.crypto.SHA512(header, env.Payload)
	target := pow.ComputeTarget(ntpb, eb, uint64(ttl.Seconds()), uint64(len(header)+len(env.Payload)))

	job := p.pow.Submit(initialHash, target)
	jobKey := strconv.FormatUint(job.ID, 10)

	p.jobsMu.Lock()
	p.pendingJobs[job.ID] = struct{}{}
	p.jobsMu.Unlock()

	if messageID != "" && p.powRepo != nil {
		if err := p.powRepo.Enqueue(context.Background(), &repository.QueuedPoWItem{
			ID:          jobKey,
			InitialHash: initialHash,
			Target:      target,
			MessageID:   messageID,
		}); err != nil {
			log.Warnf("messaging: persisting queued pow job %s: %v", jobKey, err)
		}
	}

	result := <-job.Result

	p.jobsMu.Lock()
	delete(p.pendingJobs, job.ID)
	p.jobsMu.Unlock()

	if messageID != "" && p.powRepo != nil {
		if err := p.powRepo.Dequeue(context.Background(), jobKey); err != nil {
			log.Warnf("messaging: clearing queued pow job %s: %v", jobKey, err)
		}
	}

	if result.Err != nil {
		return objects.IV{}, inventory.Rejected, result.Err
	}
	env.Nonce = result.Nonce

	raw := env.Serialize()
	acceptResult, iv, err := p.inv.StoreObject(raw, now)
	if err != nil {
		return objects.IV{}, inventory.Rejected, err
	}
	return iv, acceptResult, nil
}

func (p *Pipeline) maybeAnnounce(result inventory.AcceptResult, iv objects.IV) {
	if result != inventory.Accepted {
		return
	}
	p.mu.RLock()
	announce := p.announce
	p.mu.RUnlock()
	if announce != nil {
		announce.Announce(iv)
	}
}

// emit grinds, stores, and immediately announces — the ordering every
// emitter except sendWithPubkey wants.
func (p *Pipeline) emit(objType objkind.ObjectType, version, stream uint64, body []byte, ttl time.Duration, ntpb, eb uint64, now time.Time) (objects.IV, error) {
	iv, result, err := p.grindAndStore(objType, version, stream, body, ttl, ntpb, eb, now, "")
	if err != nil {
		return objects.IV{}, err
	}
	p.maybeAnnounce(result, iv)
	return iv, nil
}

// ResumePendingProofOfWork re-drives every message a crash left mid-grind.
// It does not reuse the persisted initialHash/target — by the time a
// restart has happened, re-resolving the recipient and rebuilding from
// scratch is both simpler and consistent with the resend rule that every
// retry gets a new object, new proof of work, and new IV. Items with no
// backing message (already sent, removed, or belonging to a different
// pipeline instance) are dequeued and skipped.
func (p *Pipeline) ResumePendingProofOfWork(ctx context.Context, now time.Time) error {
	const op = "messaging.Pipeline.ResumePendingProofOfWork"

	if p.powRepo == nil {
		return nil
	}

	pending, err := p.powRepo.Pending(ctx)
	if err != nil {
		return bmerr.Wrap(bmerr.RepositoryError, op, err)
	}

	for _, item := range pending {
		if item.MessageID == "" {
			_ = p.powRepo.Dequeue(ctx, item.ID)
			continue
		}

		msg, err := p.messages.GetMessage(ctx, item.MessageID)
		if err != nil || msg == nil || msg.Status != repository.StatusDoingProofOfWork {
			_ = p.powRepo.Dequeue(ctx, item.ID)
			continue
		}

		from := p.findLocalIdentity(msg.From)
		if from == nil {
			_ = p.powRepo.Dequeue(ctx, item.ID)
			continue
		}

		_ = p.powRepo.Dequeue(ctx, item.ID)
		p.spawn(func() { p.advance(ctx, from, msg, now) })
	}
	return nil
}

// ObserveAccepted is the inbound entry point: call it once for every
// object accepted into Inventory; it returns at once and does its work on
// a goroutine of its own. network.Agent calls it for objects accepted from
// peers; objects this Pipeline emits itself are not passed back to it by
// the Agent. It checks for an
// acknowledgement match, answers getpubkey requests addressed to a local
// identity, attaches newly arrived pubkeys to outstanding sends, and
// attempts trial decryption of msg objects.
func (p *Pipeline) ObserveAccepted(ctx context.Context, raw []byte, now time.Time) {
	p.spawn(func() { p.observeAccepted(ctx, raw, now) })
}

func (p *Pipeline) observeAccepted(ctx context.Context, raw []byte, now time.Time) {
	env, err := objects.ParseEnvelope(raw)
	if err != nil {
		return
	}
	iv := objects.ComputeIV(p.crypto, env)

	p.checkAck(ctx, env, now)

	switch env.ObjectType {
	case objkind.GetPubkey:
		p.handleGetPubkey(ctx, env, now)
	case objkind.Pubkey:
		p.handlePubkeyArrival(ctx, env, iv, now)
	case objkind.Msg:
		p.tryInboundMsg(ctx, env, now)
	}
}

// checkAck recognizes the acknowledgement marker objects this pipeline
// itself emits (a getpubkey-v4-shaped object whose 32-byte payload equals
// some outstanding message's ackData) and, on a match, transitions that
// message from SENT to SENT_ACKNOWLEDGED.
func (p *Pipeline) checkAck(ctx context.Context, env *objects.Envelope, now time.Time) {
	if env.ObjectType != objkind.GetPubkey || len(env.Payload) != 32 {
		return
	}

	msg, err := p.messages.GetMessageForAck(ctx, env.Payload)
	if err != nil || msg == nil || msg.Status != repository.StatusSent {
		return
	}

	msg.Status = repository.StatusSentAcknowledged
	if err := p.messages.Save(ctx, msg); err != nil {
		log.Warnf("messaging: acknowledging message %s: %v", msg.ID, err)
	}
}

// handleGetPubkey answers a getpubkey object addressed (by ripe or tag) to
// one of this node's registered identities with that identity's pubkey.
func (p *Pipeline) handleGetPubkey(ctx context.Context, env *objects.Envelope, now time.Time) {
	p.mu.RLock()
	identities := append([]*identity.Identity(nil), p.identities...)
	p.mu.RUnlock()

	for _, id := range identities {
		if !getPubkeyMatchesIdentity(p.crypto, env, id) {
			continue
		}
		if _, err := p.PublishPubkey(ctx, id, now); err != nil {
			log.Debugf("messaging: publishing pubkey in reply to getpubkey: %v", err)
		}
		return
	}
}

func getPubkeyMatchesIdentity(c bmcrypto.Cryptography, env *objects.Envelope, id *identity.Identity) bool {
	switch env.Version {
	case 2, 3:
		ripe, err := objects.ParseGetPubkeyRipe(env.Payload)
		return err == nil && ripe.Ripe == id.Addr.Ripe
	case 4:
		tag, err := objects.ParseGetPubkeyTag(env.Payload)
		if err != nil {
			return false
		}
		want := objects.DeriveTag(c, uint64(id.Addr.Version), id.Addr.Stream, id.Addr.Ripe[:])
		return tag.Tag == want
	default:
		return false
	}
}

// handlePubkeyArrival attaches a newly accepted pubkey object to every
// outstanding PUBKEY_REQUESTED message it resolves, then immediately
// advances each one to the encrypt/PoW/send stage.
func (p *Pipeline) handlePubkeyArrival(ctx context.Context, env *objects.Envelope, iv objects.IV, now time.Time) {
	pending, err := p.messages.FindMessages(ctx, repository.StatusPubkeyRequested, "")
	if err != nil {
		return
	}

	ivHex := hex.EncodeToString(iv[:])

	for _, msg := range pending {
		addr, err := identity.DecodeAddress(p.crypto, msg.To)
		if err != nil {
			continue
		}
		if !pubkeyMatchesAddress(p.crypto, env, addr) {
			continue
		}

		if err := p.addresses.AttachPubkey(ctx, msg.To, ivHex); err != nil {
			log.Warnf("messaging: attaching pubkey for %s: %v", msg.To, err)
			continue
		}

		from := p.findLocalIdentity(msg.From)
		pub, err := p.parsePubkeyBody(addr, env)
		if from != nil && err == nil {
			p.sendWithPubkey(ctx, from, addr, pub, msg, now)
		}
	}
}

func pubkeyMatchesAddress(c bmcrypto.Cryptography, env *objects.Envelope, addr *identity.Address) bool {
	switch env.Version {
	case 2, 3:
		v2, err := objects.ParsePubkeyV2(env.Payload)
		if err != nil {
			return false
		}
		digest := c.SHA512(to65(v2.SigningKey), to65(v2.EncryptionKey))
		ripe := c.RIPEMD160(digest[:])
		return ripe == addr.Ripe
	case 4:
		v4, err := objects.ParsePubkeyV4(env.Payload)
		if err != nil {
			return false
		}
		want := objects.DeriveTag(c, uint64(addr.Version), addr.Stream, addr.Ripe[:])
		return v4.Tag == want
	default:
		return false
	}
}

// tryInboundMsg attempts trial decryption of a msg object's ciphertext
// against every registered identity's decryption key. DecryptionFailed is
// the ordinary outcome for identities the message wasn't addressed to; it
// is not logged.
func (p *Pipeline) tryInboundMsg(ctx context.Context, env *objects.Envelope, now time.Time) {
	body, err := objects.ParseMsg(env.Payload)
	if err != nil {
		return
	}

	p.mu.RLock()
	identities := append([]*identity.Identity(nil), p.identities...)
	p.mu.RUnlock()

	for _, id := range identities {
		plaintext, err := objects.DecryptECIES(p.crypto, id.Keys.DecryptionPriv, body.Encrypted)
		if err != nil {
			continue
		}

		plain, err := objects.ParseMsgPlaintext(plaintext)
		if err != nil {
			log.Debugf("messaging: decrypted msg body did not parse: %v", err)
			return
		}
		if plain.DestinationRipe != id.Addr.Ripe {
			continue
		}

		signingPub := to65(plain.SigningKey)
		if !p.crypto.Verify(signingPub, plain.Signature, plain.SignTarget(env.HeaderBytes())) {
			log.Warnf("messaging: inbound msg signature invalid for %s", id.Addr.Ripe)
			return
		}

		p.acceptInboundMsg(ctx, id, env, plain, now)
		return
	}
}

func (p *Pipeline) acceptInboundMsg(ctx context.Context, id *identity.Identity, env *objects.Envelope, plain *objects.MsgPlaintext, now time.Time) {
	senderAddr, err := identity.NewAddress(p.crypto, identity.AddressVersion(plain.AddressVersion), plain.Stream, to65(plain.SigningKey), to65(plain.EncryptionKey))
	var from string
	if err == nil {
		from, _ = senderAddr.Encode(p.crypto)
	}
	to, _ := id.Addr.Encode(p.crypto)

	received := &repository.Plaintext{
		ID:        messageID(p.crypto, from, to, plain.Message, now),
		Kind:      "msg",
		From:      from,
		To:        to,
		Encoding:  plain.Encoding,
		Message:   plain.Message,
		AckData:   plain.AckData,
		Status:    repository.StatusReceived,
		Received:  now,
		Signature: plain.Signature,
	}
	if err := p.messages.Save(ctx, received); err != nil {
		log.Warnf("messaging: saving received message: %v", err)
	}

	if objects.HasBehavior(plain.Behavior, objects.BehaviorDoesAck) && len(plain.AckData) == 32 {
		if _, err := p.emit(objkind.GetPubkey, 4, plain.Stream, plain.AckData, ackObjectTTL, p.params.NetworkNonceTrialsPerByte, p.params.NetworkExtraBytes, now); err != nil {
			log.Debugf("messaging: emitting ack for received message: %v", err)
		}
	}
}

// to65 expands a 64-byte X||Y point into the 65-byte uncompressed form
// (0x04 prefix) bmcrypto's key operations expect.
func to65(k [64]byte) []byte {
	out := make([]byte, 0, 65)
	out = append(out, 0x04)
	return append(out, k[:]...)
}

// toFixed64 strips the 0x04 prefix from a 65-byte uncompressed public key.
func toFixed64(pub []byte) [64]byte {
	var out [64]byte
	copy(out[:], pub[1:])
	return out
}

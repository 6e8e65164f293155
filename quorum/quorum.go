// Package quorum implements the QuorumClock causality engine: a vector clock
// whose validity is attested by a quorum of signers instead of a zk-SNARK.
// Directly grounded on consensus/bft/{qc.go,types.go,vote_pool.go,reactor.go}
// for the certificate-assembly-over-signed-votes shape, and on
// original_source/src/boson.rs for the exact client/server state machine and
// field names (Announce, AnnounceOk, WorkingAnnounce).
package quorum

import (
	"errors"
	"fmt"
	"sort"

	"github.com/tos-network/vclock/causality"
	"github.com/tos-network/vclock/crypto"
	"github.com/tos-network/vclock/event"
	"github.com/tos-network/vclock/internal/vlog"
	"github.com/tos-network/vclock/net"
	"github.com/tos-network/vclock/worker"
)

var (
	// ErrConcurrentRequest is returned by Client.SubmitAnnounce when id is
	// already in flight — a second announce for the same id without an
	// intervening completion is a caller bug, per spec.md section 4.D.3.
	ErrConcurrentRequest = errors.New("quorum: request id already in flight")
	// ErrInsufficientCert is returned by Clock.Verify for a non-genesis
	// clock whose certificate has too few entries, duplicate signers, or
	// disagreeing entries.
	ErrInsufficientCert = errors.New("quorum: certificate invalid")
)

// AnnounceOk is the server's signed reply to an Announce: the clock's new
// plain value, the request it advances, and the signer's own identity.
type AnnounceOk struct {
	Plain    causality.PlainClock
	ID       causality.RequestID
	SignerID causality.NodeID
}

// digestAnnounceOk builds the little-endian digest an AnnounceOk is signed
// and verified over. Deps are sorted so the digest does not depend on the
// PlainClock's internal map iteration order.
func digestAnnounceOk(a AnnounceOk) [32]byte {
	ids := a.Plain.Deps()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	d := crypto.NewDigest()
	d.PutUint64(uint64(len(ids)))
	for _, id := range ids {
		d.PutUint64(uint64(id))
		d.PutUint64(a.Plain.At(id))
	}
	d.PutUint64(uint64(a.ID))
	d.PutUint64(uint64(a.SignerID))
	return d.Sum()
}

// Clock is a QuorumClock: a plain vector-clock value plus the certificate of
// signed AnnounceOks that attest it. The genesis clock has a zero Plain and
// an empty Cert; every other clock needs more than f certificate entries.
type Clock struct {
	Plain causality.PlainClock
	Cert  []crypto.Verifiable[AnnounceOk]
}

// IsZero reports whether this is the genesis clock.
func (c Clock) IsZero() bool { return c.Plain.IsZero() && len(c.Cert) == 0 }

// Verify checks the clock per spec.md section 4.D.1: the genesis clock must
// carry an empty certificate; any other clock needs more than f entries,
// all under distinct signer ids, all agreeing on plain and id, and all
// verifying against crypto's public key table. Batched verification is used
// when the provider supports it, falling back to verifying each entry
// individually otherwise.
func (c Clock) Verify(f int, cr *crypto.Crypto) error {
	if c.Plain.IsZero() {
		if len(c.Cert) != 0 {
			return fmt.Errorf("%w: genesis clock carries a certificate", ErrInsufficientCert)
		}
		return nil
	}
	if len(c.Cert) <= f {
		return fmt.Errorf("%w: have %d entries, need more than %d", ErrInsufficientCert, len(c.Cert), f)
	}

	keys := cr.PublicKeys()
	first := c.Cert[0].Inner
	seen := make(map[causality.NodeID]bool, len(c.Cert))
	signers := make([]crypto.PublicKey, len(c.Cert))
	digests := make([][]byte, len(c.Cert))
	sigs := make([]crypto.Signature, len(c.Cert))

	for i, v := range c.Cert {
		if seen[v.Inner.SignerID] {
			return fmt.Errorf("%w: duplicate signer %d", ErrInsufficientCert, v.Inner.SignerID)
		}
		seen[v.Inner.SignerID] = true
		if v.Inner.ID != first.ID || !v.Inner.Plain.Equal(first.Plain) {
			return fmt.Errorf("%w: certificate entries disagree", ErrInsufficientCert)
		}
		if int(v.Inner.SignerID) < 0 || int(v.Inner.SignerID) >= len(keys) {
			return fmt.Errorf("%w: signer %d out of range", ErrInsufficientCert, v.Inner.SignerID)
		}
		signers[i] = keys[v.Inner.SignerID]
		digest := digestAnnounceOk(v.Inner)
		digests[i] = digest[:]
		sigs[i] = v.Signature
	}

	err := cr.VerifyBatched(signers, digests, sigs)
	if err == nil {
		return nil
	}
	if !errors.Is(err, crypto.ErrUnimplemented) {
		return err
	}
	for i := range signers {
		if err := cr.Verify(signers[i], digests[i], sigs[i]); err != nil {
			return err
		}
	}
	return nil
}

// Announce is the client's broadcast request to advance a clock: the
// current clock, the clocks it merges in, the request id, and where to
// reply.
type Announce[A any] struct {
	Prev      Clock
	Merged    []Clock
	ID        causality.RequestID
	ReplyAddr A
}

// Clocked is implemented by every message kind that embeds one or more
// QuorumClocks, letting VerifyGateway dispatch verification without knowing
// the concrete message type — the Go analogue of the reference
// implementation's VerifyClock trait.
type Clocked interface {
	VerifyClocks(f int, cr *crypto.Crypto) error
}

// VerifyClocks verifies Prev and every entry of Merged, matching spec.md
// section 4.D.4's "for Announce it verifies prev and every merged."
func (a Announce[A]) VerifyClocks(f int, cr *crypto.Crypto) error {
	if err := a.Prev.Verify(f, cr); err != nil {
		return err
	}
	for _, m := range a.Merged {
		if err := m.Verify(f, cr); err != nil {
			return err
		}
	}
	return nil
}

// WorkingAnnounce is the client's ephemeral per-request state: the plain
// value the request advances from, and the signed replies collected so far.
type WorkingAnnounce struct {
	PrevPlain causality.PlainClock
	Replies   map[causality.NodeID]crypto.Verifiable[AnnounceOk]
}

// Server is the memoryless QuorumClock signer (spec.md section 4.D.2): on
// every Announce it computes the advanced plain value and offloads signing
// to the worker pool, replying directly to ReplyAddr once signed.
type Server[A any] struct {
	selfID causality.NodeID
	crypto *crypto.Crypto
	pool   *worker.Pool
	sender net.SendMessage[A, crypto.Verifiable[AnnounceOk]]
}

// NewServer builds a Server signing as selfID against cr, submitting
// signing work to pool and replying through sender.
func NewServer[A any](selfID causality.NodeID, cr *crypto.Crypto, pool *worker.Pool, sender net.SendMessage[A, crypto.Verifiable[AnnounceOk]]) *Server[A] {
	return &Server[A]{selfID: selfID, crypto: cr, pool: pool, sender: sender}
}

// HandleAnnounce implements spec.md section 4.D.2: compute plain' and
// submit a signing task that replies to ReplyAddr on completion.
func (s *Server[A]) HandleAnnounce(announce Announce[A]) error {
	mergedPlains := make([]causality.PlainClock, len(announce.Merged))
	for i, m := range announce.Merged {
		mergedPlains[i] = m.Plain
	}
	plain := announce.Prev.Plain.Update(mergedPlains, causality.KeyID(announce.ID))
	ok := AnnounceOk{Plain: plain, ID: announce.ID, SignerID: s.selfID}

	cr := s.crypto
	sender := s.sender
	dest := announce.ReplyAddr
	return worker.Run(s.pool, func() {
		digest := digestAnnounceOk(ok)
		sig, err := cr.Sign(digest[:])
		if err != nil {
			vlog.Error("quorum: sign announce-ok failed", "err", err)
			return
		}
		if err := sender.Send(dest, crypto.Verifiable[AnnounceOk]{Inner: ok, Signature: sig}); err != nil {
			vlog.Warn("quorum: reply send failed", "err", err)
		}
	})
}

// ServerEvent is the sum type a Server reacts to when wired behind an
// event.Session: currently just an inbound Announce.
type ServerEvent[A any] struct {
	Announce *Announce[A]
}

// OnEvent implements event.OnEvent[ServerEvent[A]].
func (s *Server[A]) OnEvent(ev ServerEvent[A], _ event.Timer) error {
	if ev.Announce == nil {
		return nil
	}
	return s.HandleAnnounce(*ev.Announce)
}

// OnTimer implements event.OnTimer. The server keeps no timers.
func (s *Server[A]) OnTimer(_ event.TimerID, _ event.Timer) error { return nil }

// Completion is the client's upcall to its owning actor once a quorum of
// replies has assembled a new Clock.
type Completion struct {
	ID    causality.RequestID
	Clock Clock
}

// Client is the quorum-collecting client (spec.md section 4.D.3): it
// broadcasts Announces and assembles a Clock once more than f replies agree.
// No signature is verified on this hot path — see VerifyGateway.
type Client[A any] struct {
	f         int
	selfAddr  A
	working   map[causality.RequestID]WorkingAnnounce
	broadcast net.SendMessage[net.All, Announce[A]]
	completed worker.Sink[Completion]
}

// NewClient builds a Client tolerating f faults, replying to selfAddr,
// broadcasting Announces through broadcast, and posting completions to
// completed.
func NewClient[A any](f int, selfAddr A, broadcast net.SendMessage[net.All, Announce[A]], completed worker.Sink[Completion]) *Client[A] {
	return &Client[A]{
		f:         f,
		selfAddr:  selfAddr,
		working:   make(map[causality.RequestID]WorkingAnnounce),
		broadcast: broadcast,
		completed: completed,
	}
}

// SubmitAnnounce implements spec.md section 4.D.3's SubmitAnnounce: it
// rejects a second concurrent request for the same id, otherwise records
// WorkingAnnounce state and broadcasts the Announce.
func (c *Client[A]) SubmitAnnounce(prev Clock, merged []Clock, id causality.RequestID) error {
	if _, ok := c.working[id]; ok {
		return ErrConcurrentRequest
	}
	c.working[id] = WorkingAnnounce{
		PrevPlain: prev.Plain,
		Replies:   make(map[causality.NodeID]crypto.Verifiable[AnnounceOk]),
	}
	return c.broadcast.Send(net.All{}, Announce[A]{Prev: prev, Merged: merged, ID: id, ReplyAddr: c.selfAddr})
}

// HandleAnnounceOk implements spec.md section 4.D.3's reply handling: late
// replies (unknown id) and stale replies (not a strict advancement over
// PrevPlain at id) are silently dropped; once more than f replies agree, the
// assembled Clock is posted to completed and the working state is removed.
func (c *Client[A]) HandleAnnounceOk(signed crypto.Verifiable[AnnounceOk]) error {
	wa, ok := c.working[signed.Inner.ID]
	if !ok {
		return nil
	}
	if signed.Inner.Plain.DepCmp(wa.PrevPlain, causality.KeyID(signed.Inner.ID)) != causality.Greater {
		return nil
	}

	wa.Replies[signed.Inner.SignerID] = signed
	c.working[signed.Inner.ID] = wa
	if len(wa.Replies) <= c.f {
		return nil
	}

	delete(c.working, signed.Inner.ID)
	cert := make([]crypto.Verifiable[AnnounceOk], 0, len(wa.Replies))
	for _, v := range wa.Replies {
		cert = append(cert, v)
	}
	return c.completed.Send(Completion{ID: signed.Inner.ID, Clock: Clock{Plain: signed.Inner.Plain, Cert: cert}})
}

// ClientEvent is the sum type a Client reacts to when wired behind an
// event.Session: a local SubmitAnnounce command, or an inbound signed reply.
type ClientEvent[A any] struct {
	Submit *SubmitAnnounceCmd
	Reply  *crypto.Verifiable[AnnounceOk]
}

// SubmitAnnounceCmd carries SubmitAnnounce's arguments through the event
// loop for callers outside the owning goroutine.
type SubmitAnnounceCmd struct {
	Prev   Clock
	Merged []Clock
	ID     causality.RequestID
}

// OnEvent implements event.OnEvent[ClientEvent[A]].
func (c *Client[A]) OnEvent(ev ClientEvent[A], _ event.Timer) error {
	if ev.Submit != nil {
		return c.SubmitAnnounce(ev.Submit.Prev, ev.Submit.Merged, ev.Submit.ID)
	}
	if ev.Reply != nil {
		return c.HandleAnnounceOk(*ev.Reply)
	}
	return nil
}

// OnTimer implements event.OnTimer. The client keeps no timers.
func (c *Client[A]) OnTimer(_ event.TimerID, _ event.Timer) error { return nil }

// VerifyGateway is the clock-verify gateway (spec.md section 4.D.4): it
// offloads Clocked.VerifyClocks to the worker pool for every inbound
// message and only forwards to inner on success, logging and dropping
// otherwise. A VerifyGateway is itself a worker.Sink[M], so it can sit in
// front of any actor that only wants to see already-verified messages.
type VerifyGateway[M Clocked] struct {
	pool   *worker.Pool
	crypto *crypto.Crypto
	f      int
	inner  worker.Sink[M]
}

// NewVerifyGateway builds a gateway tolerating f faults, verifying against
// cr, forwarding verified messages to inner.
func NewVerifyGateway[M Clocked](pool *worker.Pool, cr *crypto.Crypto, f int, inner worker.Sink[M]) *VerifyGateway[M] {
	return &VerifyGateway[M]{pool: pool, crypto: cr, f: f, inner: inner}
}

// Send submits an async verification task for message, forwarding it to the
// inner sink only if verification succeeds.
func (g *VerifyGateway[M]) Send(message M) error {
	cr := g.crypto
	f := g.f
	inner := g.inner
	return worker.Run(g.pool, func() {
		if err := message.VerifyClocks(f, cr); err != nil {
			vlog.Warn("quorum: clock verification failed, dropping message", "err", err)
			return
		}
		if err := inner.Send(message); err != nil {
			vlog.Warn("quorum: forwarding verified message failed", "err", err)
		}
	})
}

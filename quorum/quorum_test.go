package quorum

import (
	"errors"
	"testing"

	"github.com/tos-network/vclock/causality"
	"github.com/tos-network/vclock/crypto"
	"github.com/tos-network/vclock/net"
)

// recordingBroadcaster captures every Announce broadcast by a Client.
type recordingBroadcaster[A any] struct {
	sent []Announce[A]
}

func (b *recordingBroadcaster[A]) Send(_ net.All, message Announce[A]) error {
	b.sent = append(b.sent, message)
	return nil
}

// channelSink delivers Completions to a buffered channel, standing in for
// event.Sender[Completion] in tests that don't drive a real Session.
type channelSink struct {
	ch chan Completion
}

func (s channelSink) Send(c Completion) error {
	s.ch <- c
	return nil
}

func updatedPlain(t *testing.T, ids ...causality.KeyID) causality.PlainClock {
	t.Helper()
	plain := causality.NewPlainClock()
	for _, id := range ids {
		plain = plain.Update(nil, id)
	}
	return plain
}

func reply(plain causality.PlainClock, id causality.RequestID, signer causality.NodeID) crypto.Verifiable[AnnounceOk] {
	return crypto.Verifiable[AnnounceOk]{Inner: AnnounceOk{Plain: plain, ID: id, SignerID: signer}}
}

// TestQuorumAdvancementFOne1N4 exercises S1: four replies collected for an
// announce at id=7 with f=1 complete the clock once the certificate strictly
// exceeds f entries (the rule Client.HandleAnnounceOk and
// original_source/src/boson.rs both implement as replies.len() > num_faulty).
func TestQuorumAdvancementFOne1N4(t *testing.T) {
	broadcaster := &recordingBroadcaster[string]{}
	completions := channelSink{ch: make(chan Completion, 1)}
	client := NewClient[string](1, "client-addr", broadcaster, completions)

	if err := client.SubmitAnnounce(Clock{}, nil, 7); err != nil {
		t.Fatalf("SubmitAnnounce: %v", err)
	}
	if len(broadcaster.sent) != 1 {
		t.Fatalf("expected one broadcast announce, got %d", len(broadcaster.sent))
	}

	plain := updatedPlain(t, causality.KeyID(7))

	for i, signer := range []causality.NodeID{0, 1, 2, 3} {
		if err := client.HandleAnnounceOk(reply(plain, 7, signer)); err != nil {
			t.Fatalf("HandleAnnounceOk(%d): %v", signer, err)
		}
		if i == 0 {
			select {
			case <-completions.ch:
				t.Fatal("completed too early after a single reply")
			default:
			}
		}
	}

	select {
	case completion := <-completions.ch:
		if completion.ID != 7 {
			t.Fatalf("completion id = %d, want 7", completion.ID)
		}
		if len(completion.Clock.Cert) != 2 {
			t.Fatalf("cert length = %d, want 2 (first count exceeding f=1)", len(completion.Clock.Cert))
		}
		if !completion.Clock.Plain.Equal(plain) {
			t.Fatalf("completion plain = %v, want %v", completion.Clock.Plain, plain)
		}
	default:
		t.Fatal("expected a completion to have been posted")
	}

	// Subsequent replies past quorum must be discarded silently: the working
	// entry was removed, so a further reply finds no matching WorkingAnnounce.
	if err := client.HandleAnnounceOk(reply(plain, 7, 3)); err != nil {
		t.Fatalf("post-quorum reply should be dropped without error, got %v", err)
	}
	select {
	case <-completions.ch:
		t.Fatal("no second completion should be posted for the same id")
	default:
	}
}

// TestStaleReplySuppression exercises S2: a reply for a later id whose plain
// does not strictly advance beyond the new PrevPlain at that coordinate is
// dropped before being counted toward quorum.
func TestStaleReplySuppression(t *testing.T) {
	broadcaster := &recordingBroadcaster[string]{}
	completions := channelSink{ch: make(chan Completion, 1)}
	client := NewClient[string](1, "client-addr", broadcaster, completions)

	// id=7 completes first, establishing prev for id=8.
	if err := client.SubmitAnnounce(Clock{}, nil, 7); err != nil {
		t.Fatalf("SubmitAnnounce(7): %v", err)
	}
	plain7 := updatedPlain(t, causality.KeyID(7))
	for _, signer := range []causality.NodeID{0, 1} {
		if err := client.HandleAnnounceOk(reply(plain7, 7, signer)); err != nil {
			t.Fatalf("HandleAnnounceOk: %v", err)
		}
	}
	<-completions.ch

	prev := Clock{Plain: plain7}
	if err := client.SubmitAnnounce(prev, nil, 8); err != nil {
		t.Fatalf("SubmitAnnounce(8): %v", err)
	}

	// A stale reply: plain equal to prev at coordinate 8 (both read 0), so
	// dep_cmp is Equal, not Greater — must be dropped without counting.
	stale := reply(plain7, 8, 0)
	if err := client.HandleAnnounceOk(stale); err != nil {
		t.Fatalf("HandleAnnounceOk(stale): %v", err)
	}

	genuine := plain7.Update(nil, causality.KeyID(8))
	if err := client.HandleAnnounceOk(reply(genuine, 8, 0)); err != nil {
		t.Fatalf("HandleAnnounceOk(genuine#1): %v", err)
	}
	select {
	case <-completions.ch:
		t.Fatal("should not complete after only one genuine reply plus a dropped stale one")
	default:
	}
	if err := client.HandleAnnounceOk(reply(genuine, 8, 1)); err != nil {
		t.Fatalf("HandleAnnounceOk(genuine#2): %v", err)
	}
	select {
	case completion := <-completions.ch:
		if len(completion.Clock.Cert) != 2 {
			t.Fatalf("cert length = %d, want 2", len(completion.Clock.Cert))
		}
	default:
		t.Fatal("expected completion after two genuine replies re-using signer 0 and 1")
	}
}

// TestConcurrentIDRejection exercises S3: a second SubmitAnnounce for an id
// already in flight fails with ErrConcurrentRequest.
func TestConcurrentIDRejection(t *testing.T) {
	broadcaster := &recordingBroadcaster[string]{}
	completions := channelSink{ch: make(chan Completion, 1)}
	client := NewClient[string](1, "client-addr", broadcaster, completions)

	if err := client.SubmitAnnounce(Clock{}, nil, 7); err != nil {
		t.Fatalf("first SubmitAnnounce: %v", err)
	}
	if err := client.SubmitAnnounce(Clock{}, nil, 7); !errors.Is(err, ErrConcurrentRequest) {
		t.Fatalf("got %v, want ErrConcurrentRequest", err)
	}
}

// TestClockVerifyGenesis covers invariant handling for the zero clock: a
// genesis Clock verifies with no certificate, and rejects one with a
// non-empty certificate.
func TestClockVerifyGenesis(t *testing.T) {
	cr, err := crypto.NewHardcoded(4, 0, crypto.FlavorInsecure)
	if err != nil {
		t.Fatalf("NewHardcoded: %v", err)
	}
	if err := (Clock{}).Verify(1, cr); err != nil {
		t.Fatalf("genesis Verify: %v", err)
	}

	bogus := Clock{Cert: []crypto.Verifiable[AnnounceOk]{{}}}
	if err := bogus.Verify(1, cr); !errors.Is(err, ErrInsufficientCert) {
		t.Fatalf("got %v, want ErrInsufficientCert", err)
	}
}

// TestClockVerifyRejectsInsufficientCert covers invariant 1/2: a non-genesis
// clock with too few certificate entries, or entries under duplicate
// signers, is rejected.
func TestClockVerifyRejectsInsufficientCert(t *testing.T) {
	cr, err := crypto.NewHardcoded(4, 0, crypto.FlavorInsecure)
	if err != nil {
		t.Fatalf("NewHardcoded: %v", err)
	}
	plain := updatedPlain(t, causality.KeyID(7))

	tooFew := Clock{Plain: plain, Cert: []crypto.Verifiable[AnnounceOk]{
		{Inner: AnnounceOk{Plain: plain, ID: 7, SignerID: 0}, Signature: crypto.Signature{Flavor: crypto.FlavorInsecure, Plain: string(cr.PublicKeys()[0])}},
	}}
	if err := tooFew.Verify(1, cr); !errors.Is(err, ErrInsufficientCert) {
		t.Fatalf("got %v, want ErrInsufficientCert", err)
	}

	duplicateSigner := Clock{Plain: plain, Cert: []crypto.Verifiable[AnnounceOk]{
		{Inner: AnnounceOk{Plain: plain, ID: 7, SignerID: 0}, Signature: crypto.Signature{Flavor: crypto.FlavorInsecure, Plain: string(cr.PublicKeys()[0])}},
		{Inner: AnnounceOk{Plain: plain, ID: 7, SignerID: 0}, Signature: crypto.Signature{Flavor: crypto.FlavorInsecure, Plain: string(cr.PublicKeys()[0])}},
	}}
	if err := duplicateSigner.Verify(1, cr); !errors.Is(err, ErrInsufficientCert) {
		t.Fatalf("got %v, want ErrInsufficientCert", err)
	}
}

// TestClockVerifyAcceptsValidCert covers invariant 2's positive case: a
// clock signed by f+1 distinct signers under matching plain/id verifies.
func TestClockVerifyAcceptsValidCert(t *testing.T) {
	const n = 4
	cryptos := make([]*crypto.Crypto, n)
	for i := 0; i < n; i++ {
		cr, err := crypto.NewHardcoded(n, i, crypto.FlavorInsecure)
		if err != nil {
			t.Fatalf("NewHardcoded(%d): %v", i, err)
		}
		cryptos[i] = cr
	}

	plain := updatedPlain(t, causality.KeyID(7))

	cert := make([]crypto.Verifiable[AnnounceOk], 0, 2)
	for _, signer := range []causality.NodeID{0, 1} {
		ok := AnnounceOk{Plain: plain, ID: 7, SignerID: signer}
		digest := digestAnnounceOk(ok)
		sig, err := cryptos[signer].Sign(digest[:])
		if err != nil {
			t.Fatalf("Sign: %v", err)
		}
		cert = append(cert, crypto.Verifiable[AnnounceOk]{Inner: ok, Signature: sig})
	}

	clock := Clock{Plain: plain, Cert: cert}
	if err := clock.Verify(1, cryptos[0]); err != nil {
		t.Fatalf("Verify: %v", err)
	}
}

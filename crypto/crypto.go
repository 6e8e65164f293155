// Package crypto implements vclock's pluggable signing/verification provider
// and the little-endian digest contract every clock type hashes against.
// It is modeled on accountsigner's provider-dispatch-by-type idiom
// (normalizeSignerType / CanonicalSignerType / sentinel errors), generalized
// from accountsigner's fixed algorithm set to vclock's three flavors: an
// insecure plaintext flavor for tests, secp256k1 (github.com/decred/dcrd/
// dcrec/secp256k1/v4), and Schnorr over Ed25519 (go.dedis.ch/kyber/v3),
// the latter standing in for the reference implementation's Schnorrkel
// provider since no Go Schnorrkel port exists in the dependency pack.
package crypto

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"go.dedis.ch/kyber/v3"
	"go.dedis.ch/kyber/v3/group/edwards25519"
	kyberSign "go.dedis.ch/kyber/v3/sign/schnorr"
)

// Flavor names a signing provider.
type Flavor string

const (
	FlavorInsecure   Flavor = "insecure"
	FlavorSecp256k1  Flavor = "secp256k1"
	FlavorSchnorr    Flavor = "schnorr"
	hardcodedIDFmt          = "replica-%d"
)

var (
	// ErrUnknownFlavor is returned by NewHardcoded for an unrecognized Flavor.
	ErrUnknownFlavor = errors.New("crypto: unknown flavor")
	// ErrUnimplemented is returned by Sign/Verify/VerifyBatched when the
	// requested combination of provider and signature shape is not
	// supported, mirroring the reference implementation's bail!("unimplemented").
	ErrUnimplemented = errors.New("crypto: unimplemented")
	// ErrVerifyFailed is returned by Verify/VerifyBatched when verification
	// runs to completion but the signature does not check out.
	ErrVerifyFailed = errors.New("crypto: signature verification failed")
)

// NormalizeFlavor accepts case-insensitive aliases the way
// accountsigner.normalizeSignerType does for its algorithm names.
func NormalizeFlavor(s string) (Flavor, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "insecure", "plain":
		return FlavorInsecure, nil
	case "secp256k1", "ecdsa":
		return FlavorSecp256k1, nil
	case "schnorr", "schnorrkel":
		return FlavorSchnorr, nil
	default:
		return "", ErrUnknownFlavor
	}
}

// PublicKey is an opaque, comparable identifier for one party's verification
// key. Its concrete encoding depends on Flavor.
type PublicKey string

// Signature is an opaque, provider-tagged signature blob.
type Signature struct {
	Flavor Flavor
	Bytes  []byte
	// Plain carries a human-readable signature for FlavorInsecure, used by
	// tests that want to assert on signer identity without decoding bytes.
	Plain string
}

// Verifiable pairs a message with the signature over its digest, the Go
// analogue of the reference implementation's Verifiable<M, S>.
type Verifiable[M any] struct {
	Inner     M
	Signature Signature
}

// provider holds one party's key material for exactly one Flavor.
type provider struct {
	flavor Flavor
	// insecure
	insecureID string
	// secp256k1
	secpPriv *secp256k1.PrivateKey
	// schnorr (edwards25519)
	group      kyber.Group
	schnorrKey kyber.Scalar
}

// Crypto signs with one party's own key and verifies against a fixed,
// ordered set of public keys — the same shape as the reference
// implementation's Crypto{provider, public_keys}.
type Crypto struct {
	self       provider
	flavor     Flavor
	publicKeys []PublicKey
}

// NewHardcoded derives deterministic key material for n parties under the
// given flavor and returns the Crypto instance for party index; the ordered
// list of every party's public key is available from its PublicKeys method.
// Determinism (seeding from the
// fixed string "replica-<id>") mirrors new_hardcoded in the reference
// implementation, and exists only so that multi-node tests and local
// clusters need not manage a key distribution step.
func NewHardcoded(n int, index int, flavor Flavor) (*Crypto, error) {
	if index < 0 || index >= n {
		return nil, fmt.Errorf("crypto: index %d out of range for n=%d", index, n)
	}

	publicKeys := make([]PublicKey, n)
	var self provider

	switch flavor {
	case FlavorInsecure:
		for i := 0; i < n; i++ {
			publicKeys[i] = PublicKey(fmt.Sprintf(hardcodedIDFmt, i))
		}
		self = provider{flavor: flavor, insecureID: string(publicKeys[index])}

	case FlavorSecp256k1:
		for i := 0; i < n; i++ {
			priv := secp256k1PrivateKeyFor(i)
			publicKeys[i] = encodeSecpPublicKey(priv.PubKey())
			if i == index {
				self = provider{flavor: flavor, secpPriv: priv}
			}
		}

	case FlavorSchnorr:
		group := edwards25519.NewBlakeSHA256Ed25519()
		for i := 0; i < n; i++ {
			scalar := schnorrScalarFor(group, i)
			point := group.Point().Mul(scalar, nil)
			publicKeys[i] = encodePoint(point)
			if i == index {
				self = provider{flavor: flavor, group: group, schnorrKey: scalar}
			}
		}

	default:
		return nil, ErrUnknownFlavor
	}

	return &Crypto{self: self, flavor: flavor, publicKeys: publicKeys}, nil
}

// Flavor reports the provider this Crypto instance signs and verifies with.
func (c *Crypto) Flavor() Flavor { return c.flavor }

// PublicKeys returns the ordered, fixed set of every party's public key.
func (c *Crypto) PublicKeys() []PublicKey { return c.publicKeys }

// Self returns this party's own public key.
func (c *Crypto) Self() PublicKey { return c.publicKeys[c.selfIndex()] }

func (c *Crypto) selfIndex() int {
	for i, pk := range c.publicKeys {
		if c.owns(pk) {
			return i
		}
	}
	return -1
}

func (c *Crypto) owns(pk PublicKey) bool {
	switch c.flavor {
	case FlavorInsecure:
		return string(pk) == c.self.insecureID
	case FlavorSecp256k1:
		return pk == encodeSecpPublicKey(c.self.secpPriv.PubKey())
	case FlavorSchnorr:
		point := c.self.group.Point().Mul(c.self.schnorrKey, nil)
		return pk == encodePoint(point)
	default:
		return false
	}
}

// Sign signs digest with this party's own key.
func (c *Crypto) Sign(digest []byte) (Signature, error) {
	switch c.flavor {
	case FlavorInsecure:
		return Signature{Flavor: FlavorInsecure, Plain: c.self.insecureID}, nil
	case FlavorSecp256k1:
		sig := ecdsa.Sign(c.self.secpPriv, digest)
		return Signature{Flavor: FlavorSecp256k1, Bytes: sig.Serialize()}, nil
	case FlavorSchnorr:
		b, err := kyberSign.Sign(c.self.group, c.self.schnorrKey, digest)
		if err != nil {
			return Signature{}, err
		}
		return Signature{Flavor: FlavorSchnorr, Bytes: b}, nil
	default:
		return Signature{}, ErrUnimplemented
	}
}

// Verify checks sig over digest against the public key of party signer.
// A signature whose flavor differs from this instance's returns
// ErrUnimplemented; a signer key that does not decode under this flavor
// returns a decode error; a signature that does not check out returns
// ErrVerifyFailed.
func (c *Crypto) Verify(signer PublicKey, digest []byte, sig Signature) error {
	if sig.Flavor != c.flavor {
		return ErrUnimplemented
	}
	switch c.flavor {
	case FlavorInsecure:
		if sig.Plain != string(signer) {
			return ErrVerifyFailed
		}
		return nil
	case FlavorSecp256k1:
		pub, err := decodeSecpPublicKey(signer)
		if err != nil {
			return err
		}
		parsed, err := ecdsa.ParseDERSignature(sig.Bytes)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrVerifyFailed, err)
		}
		if !parsed.Verify(digest, pub) {
			return ErrVerifyFailed
		}
		return nil
	case FlavorSchnorr:
		group := edwards25519.NewBlakeSHA256Ed25519()
		point, err := decodePoint(group, signer)
		if err != nil {
			return err
		}
		if err := kyberSign.Verify(group, point, digest, sig.Bytes); err != nil {
			return fmt.Errorf("%w: %v", ErrVerifyFailed, err)
		}
		return nil
	default:
		return ErrUnimplemented
	}
}

// VerifyBatched verifies a set of (signer, digest, signature) triples as a
// unit. Only FlavorSchnorr is supported, matching the reference
// implementation's verify_batched, which is Schnorrkel-only; all other
// providers return ErrUnimplemented so callers fall back to individually
// verifying with Verify.
func (c *Crypto) VerifyBatched(signers []PublicKey, digests [][]byte, sigs []Signature) error {
	if c.flavor != FlavorSchnorr {
		return ErrUnimplemented
	}
	if len(signers) != len(digests) || len(digests) != len(sigs) {
		return errors.New("crypto: mismatched batch lengths")
	}
	group := edwards25519.NewBlakeSHA256Ed25519()
	for i := range signers {
		if sigs[i].Flavor != FlavorSchnorr {
			return ErrUnimplemented
		}
		point, err := decodePoint(group, signers[i])
		if err != nil {
			return err
		}
		if err := kyberSign.Verify(group, point, digests[i], sigs[i].Bytes); err != nil {
			return fmt.Errorf("%w: %v", ErrVerifyFailed, err)
		}
	}
	return nil
}

// NewDigest starts a little-endian digest accumulation over an arbitrary
// sequence of fields. Every integer field MUST be written through one of
// PutUint{8,16,32,64}, never through a host-order encoding such as
// binary.NativeEndian or fmt's default formatting: the reference
// implementation's ImplHasher contract requires that a digest be
// reproducible independent of the host's byte order, since replicas may run
// on mixed architectures.
func NewDigest() *DigestHasher {
	return &DigestHasher{}
}

// DigestHasher accumulates bytes into a SHA-256 state, exposing only
// little-endian integer writers so every caller is forced through the
// reproducible encoding.
type DigestHasher struct {
	buf []byte
}

func (d *DigestHasher) WriteBytes(b []byte) { d.buf = append(d.buf, b...) }

func (d *DigestHasher) PutUint8(v uint8) { d.buf = append(d.buf, v) }

func (d *DigestHasher) PutUint16(v uint16) {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	d.buf = append(d.buf, b[:]...)
}

func (d *DigestHasher) PutUint32(v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	d.buf = append(d.buf, b[:]...)
}

func (d *DigestHasher) PutUint64(v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	d.buf = append(d.buf, b[:]...)
}

func (d *DigestHasher) PutString(s string) {
	d.PutUint64(uint64(len(s)))
	d.buf = append(d.buf, s...)
}

// Sum finalizes the digest.
func (d *DigestHasher) Sum() [32]byte {
	return sha256.Sum256(d.buf)
}

func secp256k1PrivateKeyFor(index int) *secp256k1.PrivateKey {
	return secp256k1.PrivKeyFromBytes(hardcodedSeed(index))
}

func schnorrScalarFor(group kyber.Group, index int) kyber.Scalar {
	seed := hardcodedSeed(index)
	scalar := group.Scalar()
	scalar.SetBytes(seed)
	return scalar
}

// hardcodedSeed derives 32 bytes of deterministic key material as the
// SHA-256 digest of the fixed string "replica-<index>".
func hardcodedSeed(index int) []byte {
	name := fmt.Sprintf(hardcodedIDFmt, index)
	sum := sha256.Sum256([]byte(name))
	return sum[:]
}

func encodeSecpPublicKey(pub *secp256k1.PublicKey) PublicKey {
	return PublicKey(pub.SerializeCompressed())
}

func decodeSecpPublicKey(pk PublicKey) (*secp256k1.PublicKey, error) {
	pub, err := secp256k1.ParsePubKey([]byte(pk))
	if err != nil {
		return nil, fmt.Errorf("crypto: invalid secp256k1 public key: %w", err)
	}
	return pub, nil
}

func encodePoint(p kyber.Point) PublicKey {
	b, err := p.MarshalBinary()
	if err != nil {
		panic(err)
	}
	return PublicKey(b)
}

func decodePoint(group kyber.Group, pk PublicKey) (kyber.Point, error) {
	point := group.Point()
	if err := point.UnmarshalBinary([]byte(pk)); err != nil {
		return nil, fmt.Errorf("crypto: invalid schnorr public key: %w", err)
	}
	return point, nil
}

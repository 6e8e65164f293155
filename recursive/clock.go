package recursive

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/consensys/gnark-crypto/ecc"
	bn254mimc "github.com/consensys/gnark-crypto/ecc/bn254/fr/mimc"
	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/constraint"
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/frontend/cs/r1cs"
)

var (
	// ErrOutOfBound is returned by Engine.Update for a coordinate index
	// outside [0, NumCoordinates).
	ErrOutOfBound = errors.New("recursive: coordinate index out of bound")
	// ErrProveFailed wraps a witness that cannot satisfy the circuit, e.g.
	// an update with a secret that is not the preimage of its key.
	ErrProveFailed = errors.New("recursive: proving failed")
	// ErrProofInvalid is returned by Engine.Verify for a proof that does
	// not verify against the circuit's verifying key, including a proof
	// whose claimed parents' commitments don't match the ones supplied.
	ErrProofInvalid = errors.New("recursive: proof invalid")
)

// IndexSecret derives the deterministic per-coordinate secret the reference
// implementation's index_secret(index) = 117418 + index produces.
func IndexSecret(index int) *big.Int {
	return big.NewInt(117418 + int64(index))
}

// PublicKey hashes secret with MiMC off-circuit using the same hash the
// circuit computes in-circuit (mimc.NewMiMC), so a caller can build a Keys
// table without running the circuit — the Go analogue of the reference
// implementation's public_key(secret) = PoseidonHash(secret).
func PublicKey(secret *big.Int) *big.Int {
	h := bn254mimc.NewMiMC()
	var block [32]byte
	secret.FillBytes(block[:])
	h.Write(block[:])
	return new(big.Int).SetBytes(h.Sum(nil))
}

// hashCounters MiMC-hashes a counter array off-circuit, one Write call per
// coordinate in index order — matching hashCounterArray in circuit.go
// field-element for field-element, the same way PublicKey matches
// verifyPreimage's single-variable hash. Every Engine method that assigns
// InputCommitment1/2 or Commitment must derive them through this function,
// and Verify never recomputes a digest itself — it only plugs a parent's
// already-computed commitment into the public witness and lets Groth16
// reject a mismatch.
func hashCounters(counters [NumCoordinates]uint32) *big.Int {
	h := bn254mimc.NewMiMC()
	for i := 0; i < NumCoordinates; i++ {
		var block [32]byte
		big.NewInt(int64(counters[i])).FillBytes(block[:])
		h.Write(block[:])
	}
	return new(big.Int).SetBytes(h.Sum(nil))
}

// Clock is a RecursiveClock: a Groth16 proof over the inductive circuit,
// the per-coordinate counters decoded from its own public witness at
// proving time, and that witness's own output commitment — the Go analogue
// of the reference implementation's Clock<S>{proof}, whose counters() reads
// directly from proof.public_inputs. Commitment is what a clock built on top
// of this one must reproduce in its InputCommitment1 or InputCommitment2 to
// legitimately name this clock as a causal parent.
type Clock struct {
	proof      groth16.Proof
	counters   [NumCoordinates]uint32
	commitment *big.Int
}

// Counters returns the clock's per-coordinate counters.
func (c Clock) Counters() [NumCoordinates]uint32 { return c.counters }

// Commitment returns the clock's own public digest, MiMC(Counters()...).
func (c Clock) Commitment() *big.Int { return c.commitment }

// Engine holds one fixed key set's compiled circuit and Groth16 keys, and
// proves/verifies every Clock operation against it — mirroring how the
// reference implementation's genesis() builds the inductive ClockCircuit<S>
// once and reuses it for every subsequent update/merge.
type Engine struct {
	keys [NumCoordinates + 1]*big.Int

	ccs constraint.ConstraintSystem
	pk  groth16.ProvingKey
	vk  groth16.VerifyingKey
}

// NewEngine compiles the inductive circuit and runs Groth16 setup for the
// given key set, one entry per coordinate. Setup is the expensive, one-time
// step the reference implementation amortizes by building its
// ClockCircuit<S> once; callers should construct one Engine per key set and
// reuse it for every Genesis/Update/Merge/Verify call.
func NewEngine(keys [NumCoordinates]*big.Int) (*Engine, error) {
	ccs, err := frontend.Compile(ecc.BN254.ScalarField(), r1cs.NewBuilder, &Circuit{})
	if err != nil {
		return nil, fmt.Errorf("recursive: compile circuit: %w", err)
	}
	pk, vk, err := groth16.Setup(ccs)
	if err != nil {
		return nil, fmt.Errorf("recursive: groth16 setup: %w", err)
	}

	e := &Engine{ccs: ccs, pk: pk, vk: vk}
	for i := 0; i < NumCoordinates; i++ {
		e.keys[i] = keys[i]
	}
	e.keys[NumCoordinates] = PublicKey(big.NewInt(DummySecret))
	return e, nil
}

// genesisAncestor is the fixed, parentless ancestor a Genesis clock claims
// as both of its causal parents: the all-zero counters array and its
// digest, not a clock any Engine ever actually proved. VerifyGenesis passes
// it as both left and right so Genesis's own proof — which is built the
// same way, proving a merge of zero with zero — verifies against it.
func genesisAncestor() Clock {
	var zero [NumCoordinates]uint32
	return Clock{counters: zero, commitment: hashCounters(zero)}
}

// Genesis returns the all-zero clock: both inputs zeroed, UpdatedIndex =
// DummyIndex, proved with the dummy secret. Unlike the reference
// implementation, which converges to this fixed point through four
// merge_internal iterations starting from a separate zero-output genesis
// circuit shape, this package's single inductive circuit already accepts an
// all-zero witness directly, so Genesis proves it in one step and no
// distinct genesis circuit shape is needed.
func (e *Engine) Genesis() (Clock, error) {
	g := genesisAncestor()
	var zero [NumCoordinates]uint32
	return e.prove(zero, zero, g.commitment, g.commitment, DummyIndex, 0, big.NewInt(DummySecret))
}

// Update advances self at coordinate index using secret and merges in
// other — the Go analogue of the reference implementation's update(index,
// secret, other). It fails with ErrOutOfBound for an index outside
// [0, NumCoordinates), and with ErrProveFailed if secret is not the
// preimage of the key at index. The resulting clock's InputCommitment1/2 are
// self.Commitment() and other.Commitment(), so Verify can only accept it
// against the same self/other pair (or clocks that happen to share their
// commitments).
func (e *Engine) Update(self, other Clock, index int, secret *big.Int) (Clock, error) {
	if index < 0 || index >= NumCoordinates {
		return Clock{}, fmt.Errorf("%w: %d", ErrOutOfBound, index)
	}
	counter := self.counters[index]
	if other.counters[index] > counter {
		counter = other.counters[index]
	}
	counter++
	return e.prove(self.counters, other.counters, self.commitment, other.commitment, index, counter, secret)
}

// Merge combines self and other by coordinate-wise max with no secret
// required — the Go analogue of the reference implementation's merge,
// realized by routing through DummyIndex and the publicly-known dummy
// secret so the preimage check still succeeds. Binding InputCommitment1/2 to
// self.Commitment()/other.Commitment() is what keeps this dummy-secret path
// from being a forgery vector: a proof built over counters that don't hash
// to a genuinely-verified parent's commitment fails Verify regardless of the
// secret used.
func (e *Engine) Merge(self, other Clock) (Clock, error) {
	return e.prove(self.counters, other.counters, self.commitment, other.commitment, DummyIndex, 0, big.NewInt(DummySecret))
}

func (e *Engine) prove(in1, in2 [NumCoordinates]uint32, in1Commitment, in2Commitment *big.Int, index int, updatedCounter uint32, secret *big.Int) (Clock, error) {
	var out [NumCoordinates]uint32
	for i := 0; i < NumCoordinates; i++ {
		out[i] = maxUint32(in1[i], in2[i])
	}
	if index < NumCoordinates {
		out[index] = updatedCounter
	}
	outCommitment := hashCounters(out)

	assignment := &Circuit{
		UpdatedIndex:     index,
		UpdatedCounter:   updatedCounter,
		Secret:           secret,
		Commitment:       outCommitment,
		InputCommitment1: in1Commitment,
		InputCommitment2: in2Commitment,
	}
	for i := 0; i < NumCoordinates; i++ {
		assignment.InputCounters1[i] = in1[i]
		assignment.InputCounters2[i] = in2[i]
		assignment.OutputCounters[i] = out[i]
	}
	for i := range e.keys {
		assignment.Keys[i] = e.keys[i]
	}

	witness, err := frontend.NewWitness(assignment, ecc.BN254.ScalarField())
	if err != nil {
		return Clock{}, fmt.Errorf("%w: build witness: %v", ErrProveFailed, err)
	}
	proof, err := groth16.Prove(e.ccs, e.pk, witness)
	if err != nil {
		return Clock{}, fmt.Errorf("%w: %v", ErrProveFailed, err)
	}
	return Clock{proof: proof, counters: out, commitment: outCommitment}, nil
}

// Verify checks clock's proof against the inductive circuit's verifying key
// and against left and right, the two clocks clock claims as its causal
// parents. It builds the public witness from clock's own OutputCounters and
// Commitment plus left.Commitment()/right.Commitment(), so a clock proved
// over counters that don't hash to left/right's own digests fails to verify
// regardless of how the witness was constructed — per spec.md section 3
// constraint 4, this is what stops Engine.Merge's publicly-known dummy
// secret from being usable to fabricate a clock with no genuine causal
// history: the caller can only supply parents it already trusts (because it
// already ran Verify on them, recursively grounding out at VerifyGenesis),
// and the proof only checks out if the prover's witness counters really did
// hash to those parents' commitments.
func (e *Engine) Verify(clock Clock, left, right Clock) error {
	publicAssignment := &Circuit{
		Commitment:       clock.commitment,
		InputCommitment1: left.commitment,
		InputCommitment2: right.commitment,
	}
	for i := 0; i < NumCoordinates; i++ {
		publicAssignment.OutputCounters[i] = clock.counters[i]
	}
	for i := range e.keys {
		publicAssignment.Keys[i] = e.keys[i]
	}
	publicWitness, err := frontend.NewWitness(publicAssignment, ecc.BN254.ScalarField(), frontend.PublicOnly())
	if err != nil {
		return fmt.Errorf("recursive: build public witness: %w", err)
	}
	if err := groth16.Verify(clock.proof, e.vk, publicWitness); err != nil {
		return fmt.Errorf("%w: %v", ErrProofInvalid, err)
	}
	return nil
}

// VerifyGenesis verifies clock as a parentless genesis clock: the one case
// where there are no real ancestor clocks to supply, so it plugs in the
// fixed zero ancestor both Engine.Genesis's own proof and any other
// genesis-shaped proof must have used.
func (e *Engine) VerifyGenesis(clock Clock) error {
	g := genesisAncestor()
	return e.Verify(clock, g, g)
}

func maxUint32(a, b uint32) uint32 {
	if a > b {
		return a
	}
	return b
}

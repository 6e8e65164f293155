// Package recursive implements the RecursiveClock causality engine: a vector
// clock whose validity is attested by a Groth16 proof instead of a quorum
// certificate. It is grounded on original_source/src/lib.rs's plonky2
// Clock<S>/ClockCircuit<S> (genesis construction, update/merge witness
// assignment, the four inductive constraints) translated to gnark's
// circuit-authoring idiom as shown in kysee-zk-chains/circuits/
// eth2_sc_update.go (frontend.API, a Define method calling small helpers,
// gnark's uints/emulated-style per-concern helper split) and the MiMC
// in-circuit hashing pattern used for a secret-preimage commitment in
// other_examples' compute-verification circuit.
//
// Constraint 4 of spec.md section 3 ("verify π1 and π2 against the inductive
// circuit's verifier data") is implemented as a commit-and-compare binding
// rather than a full in-circuit Groth16-of-Groth16 verifier: the circuit
// itself never recursively checks a prior proof, but it does constrain
// InputCommitment1/InputCommitment2 — public inputs — to equal the MiMC
// digest of InputCounters1/InputCounters2, and constrains Commitment,
// likewise public, to equal the digest of OutputCounters. Engine.Verify
// takes the two Clocks a new clock claims as its causal parents and plugs
// their own Commitment values into the public witness it checks the proof
// against; Groth16's soundness means a proof built over different input
// counters fails that check, so a clock can only verify against parents
// whose digest its prover actually used, and genuine parents means parents
// the caller already ran Verify on. This closes the hole a pure free-witness
// circuit has: Engine.Merge's DummyIndex/DummySecret path no longer lets any
// holder of the (necessarily public) proving key fabricate a clock from
// arbitrary, never-verified counters, because the only way to pick
// InputCommitment1/2 that a verifier will accept is to match a digest that
// verifier already has on file for a clock it trusts. A full two-curve
// in-circuit recursive verifier (BW6-761 over this circuit's BN254, per
// gnark/std/recursion/groth16) would additionally prove the parent proofs
// were individually well-formed without the verifier needing to hold them;
// this package accepts that weaker-but-sound shape in exchange for a single
// trusted-setup layer, and records the tradeoff in DESIGN.md.
package recursive

import (
	"fmt"

	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/std/hash/mimc"
)

// NumCoordinates is the fixed vector-clock width S this circuit is built
// for. Like the reference implementation's const generic S, a gnark
// circuit's shape — and therefore its trusted setup — is fixed at compile
// time; supporting a different S means building a new Circuit and rerunning
// Setup, exactly as the original requires a new const-generic instantiation.
const NumCoordinates = 8

// DummyIndex is the out-of-range coordinate sentinel Merge assigns to
// UpdatedIndex so the update branch never matches any real coordinate,
// falling the preimage check onto the dummy key whose secret (DummySecret)
// is public knowledge.
const DummyIndex = NumCoordinates

// DummySecret is the publicly-known preimage of the dummy key, the
// translation of the reference implementation's DUMMY_SECRET = F::NEG_ONE.
// Using -1 would require signed field arithmetic gnark doesn't expose the
// same way plonky2 does; any fixed, publicly-known constant serves the same
// purpose, so this package uses 0 and documents it as the translation. A
// merge built from this dummy path still has to carry InputCommitment1/2
// that match a verifier's trusted parents, so the secret being public no
// longer permits forging the counters themselves.
const DummySecret = 0

// Circuit is the inductive circuit. The two input clocks' counter arrays, a
// designated update coordinate, the new counter value, and the secret
// preimage are all witness; the merged output counters, the two input
// commitments, the output's own commitment, and the key table are public.
type Circuit struct {
	OutputCounters [NumCoordinates]frontend.Variable `gnark:",public"`

	// Commitment is MiMC(OutputCounters...), this clock's own public digest
	// — what a descendant clock's InputCommitment1 or InputCommitment2 must
	// equal to legitimately claim this clock as a causal parent.
	Commitment frontend.Variable `gnark:",public"`

	// InputCommitment1/2 are MiMC(InputCounters1...)/MiMC(InputCounters2...),
	// asserted in-circuit. Engine.Verify supplies the parent clocks' own
	// Commitment values here when building the public witness it checks a
	// proof against, so only a proof whose witness counters actually hash to
	// those parents' commitments verifies.
	InputCommitment1 frontend.Variable `gnark:",public"`
	InputCommitment2 frontend.Variable `gnark:",public"`

	// Keys[i] = MiMC(secret_i) for i < NumCoordinates, Keys[NumCoordinates]
	// = MiMC(DummySecret). Fixed per key set, carried as public input so a
	// verifier can confirm which key table a proof was built against.
	Keys [NumCoordinates + 1]frontend.Variable `gnark:",public"`

	InputCounters1 [NumCoordinates]frontend.Variable
	InputCounters2 [NumCoordinates]frontend.Variable

	UpdatedIndex   frontend.Variable
	UpdatedCounter frontend.Variable
	Secret         frontend.Variable
}

// Define implements frontend.Circuit, encoding the output-counter, preimage,
// and commitment constraints from spec.md section 3: range-checked outputs,
// coordinate-wise max except at the updated index, a MiMC-hashed
// secret-preimage check at that index, and the three digest equalities that
// bind InputCounters1/2 and OutputCounters to their public commitments.
func (c *Circuit) Define(api frontend.API) error {
	if err := c.verifyPreimage(api); err != nil {
		return fmt.Errorf("verify preimage: %w", err)
	}
	if err := c.computeOutputCounters(api); err != nil {
		return fmt.Errorf("compute output counters: %w", err)
	}
	if err := c.verifyCommitments(api); err != nil {
		return fmt.Errorf("verify commitments: %w", err)
	}
	return nil
}

// verifyPreimage enforces constraint 3: MiMC(Secret) equals the key at
// UpdatedIndex (or the dummy key, for any index ≥ NumCoordinates).
func (c *Circuit) verifyPreimage(api frontend.API) error {
	hasher, err := mimc.NewMiMC(api)
	if err != nil {
		return err
	}
	hasher.Write(c.Secret)
	computed := hasher.Sum()

	var selectedKey frontend.Variable = c.Keys[NumCoordinates]
	for i := 0; i < NumCoordinates; i++ {
		isTarget := api.IsZero(api.Sub(c.UpdatedIndex, i))
		selectedKey = api.Select(isTarget, c.Keys[i], selectedKey)
	}
	api.AssertIsEqual(computed, selectedKey)
	return nil
}

// computeOutputCounters enforces constraints 1 and 2: every output counter
// is range-checked to 32 bits, equals max(in1, in2) at every coordinate
// except UpdatedIndex, and equals UpdatedCounter at UpdatedIndex.
func (c *Circuit) computeOutputCounters(api frontend.API) error {
	for i := 0; i < NumCoordinates; i++ {
		in1Bits := api.ToBinary(c.InputCounters1[i], 32)
		in2Bits := api.ToBinary(c.InputCounters2[i], 32)
		in1 := api.FromBinary(in1Bits...)
		in2 := api.FromBinary(in2Bits...)

		isGreater := api.Cmp(in1, in2)
		maxVal := api.Select(api.IsZero(api.Add(isGreater, -1)), in1, in2) // isGreater == 1 -> in1 > in2

		isTarget := api.IsZero(api.Sub(c.UpdatedIndex, i))
		out := api.Select(isTarget, c.UpdatedCounter, maxVal)

		outBits := api.ToBinary(out, 32)
		recomposed := api.FromBinary(outBits...)
		api.AssertIsEqual(recomposed, out)
		api.AssertIsEqual(out, c.OutputCounters[i])
	}
	return nil
}

// verifyCommitments enforces constraint 4: InputCommitment1/2 and Commitment
// equal the MiMC digests of InputCounters1, InputCounters2, and
// OutputCounters respectively. Binding these digests as public inputs is
// what lets Engine.Verify check a clock against its claimed parents' own
// public commitments instead of trusting the witness counters outright.
func (c *Circuit) verifyCommitments(api frontend.API) error {
	in1Digest, err := hashCounterArray(api, c.InputCounters1)
	if err != nil {
		return err
	}
	api.AssertIsEqual(in1Digest, c.InputCommitment1)

	in2Digest, err := hashCounterArray(api, c.InputCounters2)
	if err != nil {
		return err
	}
	api.AssertIsEqual(in2Digest, c.InputCommitment2)

	outDigest, err := hashCounterArray(api, c.OutputCounters)
	if err != nil {
		return err
	}
	api.AssertIsEqual(outDigest, c.Commitment)
	return nil
}

// hashCounterArray MiMC-hashes a counter array in-circuit, one Write call
// per coordinate in index order — the circuit-side half of hashCounters in
// clock.go, which every Engine method must match bit for bit off-circuit.
func hashCounterArray(api frontend.API, arr [NumCoordinates]frontend.Variable) (frontend.Variable, error) {
	hasher, err := mimc.NewMiMC(api)
	if err != nil {
		return nil, err
	}
	for i := 0; i < NumCoordinates; i++ {
		hasher.Write(arr[i])
	}
	return hasher.Sum(), nil
}

// Package app implements the two causality API adapters spec.md section
// 4.G describes: a mutual-exclusion lock adapter and a causally-consistent
// KV adapter, both generic over the underlying clock type C so the same
// adapter code runs unchanged against quorum.Clock or recursive.Clock.
// Grounded on original_source/src/boson.rs's Mutex/Cops actor shape
// (translate an app-level Update into a single causality submission, then
// translate the causality completion back into an app-level UpdateOk),
// adapted to Go by injecting the submission as a plain func field instead
// of Rust's per-type-parameter trait dispatch.
package app

import (
	"errors"

	"github.com/tos-network/vclock/causality"
)

// ErrIDMismatch is returned when a causality completion's id does not match
// the submission that produced it — an invariant violation in the wiring,
// since both adapters only ever have one submission in flight per id.
var ErrIDMismatch = errors.New("app: completion id does not match submission")

// MutexUpdate is the mutual-exclusion lock's Update event: advance past
// prev, merging in a peer's remote clock.
type MutexUpdate[C any] struct {
	Prev   C
	Remote C
}

// MutexUpdateOk is the completion the Mutex adapter hands back to its app.
type MutexUpdateOk[C any] struct {
	Clock C
}

// Mutex translates mutex.Update into a single-dependency causality
// submission (prev, [remote], self_id) per spec.md section 4.G, and
// translates the resulting (id, clock) completion back into UpdateOk,
// asserting the id matches this actor's own identity.
type Mutex[C any] struct {
	SelfID causality.RequestID
	// Submit issues a causality submission for (prev, merged, id); its
	// result eventually arrives at HandleCompletion with a matching id.
	Submit func(prev C, merged []C, id causality.RequestID) error
}

// HandleUpdate implements the mutex adapter's outbound translation.
func (m Mutex[C]) HandleUpdate(update MutexUpdate[C]) error {
	return m.Submit(update.Prev, []C{update.Remote}, m.SelfID)
}

// HandleCompletion implements the mutex adapter's inbound translation. It
// returns ErrIDMismatch if id does not match SelfID, since a Mutex actor
// only ever has its own id in flight.
func (m Mutex[C]) HandleCompletion(id causality.RequestID, clock C) (MutexUpdateOk[C], error) {
	if id != m.SelfID {
		return MutexUpdateOk[C]{}, ErrIDMismatch
	}
	return MutexUpdateOk[C]{Clock: clock}, nil
}

// CopsUpdate is the causal-KV store's Update event: advance past prev,
// merging in a set of read dependencies, tagged with a request id the
// caller chooses (e.g. a key or operation counter).
type CopsUpdate[C any] struct {
	Prev C
	Deps []C
	ID   causality.RequestID
}

// CopsUpdateOk is the completion the Cops adapter hands back to its app,
// naming the version-vector the write is now causally dependent on.
type CopsUpdateOk[C any] struct {
	ID          causality.RequestID
	VersionDeps C
}

// Cops translates cops.Update{prev, deps, id} and back to
// cops.UpdateOk{id, version_deps} per spec.md section 4.G. Unlike Mutex, a
// Cops actor may have many ids in flight concurrently (one per key), so it
// does not track or assert against a single SelfID.
type Cops[C any] struct {
	Submit func(prev C, merged []C, id causality.RequestID) error
}

// HandleUpdate implements the causal-KV adapter's outbound translation.
func (c Cops[C]) HandleUpdate(update CopsUpdate[C]) error {
	return c.Submit(update.Prev, update.Deps, update.ID)
}

// HandleCompletion implements the causal-KV adapter's inbound translation.
func (c Cops[C]) HandleCompletion(id causality.RequestID, clock C) CopsUpdateOk[C] {
	return CopsUpdateOk[C]{ID: id, VersionDeps: clock}
}

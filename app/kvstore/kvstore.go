// Package kvstore is a minimal test-fixture application: a string-keyed
// store with Put/Get/Append operations, JSON-encoded, deterministic. It
// exists solely to exercise app.Cops's generic adapter and the
// execute(op_bytes) -> result_bytes determinism property against real
// op/result types instead of bare []byte — it is not the out-of-scope full
// demo application (no networking, CLI, or persistence). Grounded on
// original_source/src/app/kvstore.rs's KVStore/KVStoreOp/KVStoreResult,
// minus its workload generators (static_workload, InfinitePutGet), which
// are out of scope per spec.md's "static workload generators" non-goal.
package kvstore

import "encoding/json"

// Op is one of Put, Get, or Append, tagged by Kind with the fields the
// reference implementation's KVStoreOp enum variants carry.
type Op struct {
	Kind   OpKind `json:"kind"`
	Key    string `json:"key"`
	Value  string `json:"value,omitempty"`
	Suffix string `json:"suffix,omitempty"`
}

// OpKind names which KVStore operation an Op carries.
type OpKind string

const (
	OpPut    OpKind = "put"
	OpGet    OpKind = "get"
	OpAppend OpKind = "append"
)

// Result is KVStore's execute outcome, tagged by Kind with the fields the
// reference implementation's KVStoreResult enum variants carry.
type Result struct {
	Kind  ResultKind `json:"kind"`
	Value string     `json:"value,omitempty"`
}

// ResultKind names which KVStore outcome a Result carries.
type ResultKind string

const (
	ResultPutOk       ResultKind = "put_ok"
	ResultGet         ResultKind = "get"
	ResultKeyNotFound ResultKind = "key_not_found"
	ResultAppend      ResultKind = "append"
)

// Store is a deterministic, in-process string-keyed KV store.
type Store struct {
	data map[string]string
}

// New returns an empty Store.
func New() *Store {
	return &Store{data: make(map[string]string)}
}

// Execute implements the application contract spec.md section 6 requires:
// given the same sequence of op bytes, two Store instances produce
// byte-identical results and end in the same state.
func (s *Store) Execute(opBytes []byte) ([]byte, error) {
	var op Op
	if err := json.Unmarshal(opBytes, &op); err != nil {
		return nil, err
	}

	var result Result
	switch op.Kind {
	case OpPut:
		s.data[op.Key] = op.Value
		result = Result{Kind: ResultPutOk}
	case OpGet:
		if v, ok := s.data[op.Key]; ok {
			result = Result{Kind: ResultGet, Value: v}
		} else {
			result = Result{Kind: ResultKeyNotFound}
		}
	case OpAppend:
		v := s.data[op.Key] + op.Suffix
		s.data[op.Key] = v
		result = Result{Kind: ResultAppend, Value: v}
	}
	return json.Marshal(result)
}

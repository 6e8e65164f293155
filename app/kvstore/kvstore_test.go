package kvstore

import (
	"encoding/json"
	"testing"
)

func mustMarshal(t *testing.T, op Op) []byte {
	t.Helper()
	b, err := json.Marshal(op)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return b
}

func TestPutGetAppend(t *testing.T) {
	s := New()

	out, err := s.Execute(mustMarshal(t, Op{Kind: OpPut, Key: "a", Value: "1"}))
	if err != nil {
		t.Fatalf("Execute put: %v", err)
	}
	var putResult Result
	if err := json.Unmarshal(out, &putResult); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if putResult.Kind != ResultPutOk {
		t.Fatalf("got %v, want ResultPutOk", putResult.Kind)
	}

	out, err = s.Execute(mustMarshal(t, Op{Kind: OpGet, Key: "a"}))
	if err != nil {
		t.Fatalf("Execute get: %v", err)
	}
	var getResult Result
	if err := json.Unmarshal(out, &getResult); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if getResult.Kind != ResultGet || getResult.Value != "1" {
		t.Fatalf("got %+v, want get(1)", getResult)
	}

	out, err = s.Execute(mustMarshal(t, Op{Kind: OpAppend, Key: "a", Suffix: "2"}))
	if err != nil {
		t.Fatalf("Execute append: %v", err)
	}
	var appendResult Result
	if err := json.Unmarshal(out, &appendResult); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if appendResult.Kind != ResultAppend || appendResult.Value != "12" {
		t.Fatalf("got %+v, want append(12)", appendResult)
	}
}

func TestGetMissingKeyNotFound(t *testing.T) {
	s := New()
	out, err := s.Execute(mustMarshal(t, Op{Kind: OpGet, Key: "missing"}))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	var result Result
	if err := json.Unmarshal(out, &result); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if result.Kind != ResultKeyNotFound {
		t.Fatalf("got %v, want ResultKeyNotFound", result.Kind)
	}
}

// TestExecuteDeterministic covers spec.md invariant 5 (supplemented as a
// named property test per SPEC_FULL.md section 8): applying the same op
// sequence to two fresh Store instances yields byte-identical results and
// equal final state.
func TestExecuteDeterministic(t *testing.T) {
	ops := []Op{
		{Kind: OpPut, Key: "x", Value: "1"},
		{Kind: OpAppend, Key: "x", Suffix: "y"},
		{Kind: OpGet, Key: "x"},
		{Kind: OpPut, Key: "z", Value: "9"},
		{Kind: OpGet, Key: "missing"},
	}

	replica1, replica2 := New(), New()
	for _, op := range ops {
		encoded := mustMarshal(t, op)
		out1, err := replica1.Execute(encoded)
		if err != nil {
			t.Fatalf("replica1 Execute: %v", err)
		}
		out2, err := replica2.Execute(encoded)
		if err != nil {
			t.Fatalf("replica2 Execute: %v", err)
		}
		if string(out1) != string(out2) {
			t.Fatalf("results diverged: %q vs %q", out1, out2)
		}
	}

	if replica1.data["x"] != replica2.data["x"] || replica1.data["z"] != replica2.data["z"] {
		t.Fatalf("final state diverged: %v vs %v", replica1.data, replica2.data)
	}
}

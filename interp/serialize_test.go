package interp

import (
	"testing"

	"github.com/bxcodec/faker/v4"
	"github.com/google/go-cmp/cmp"
)

func TestSerializeRoundTripScalars(t *testing.T) {
	cases := []Value{
		Null(),
		IntVal(42),
		IntVal(-7),
		FltVal(3.5),
		StrVal("hello"),
	}
	for _, v := range cases {
		s, err := Serialize(v)
		if err != nil {
			t.Fatalf("Serialize(%v) failed: %v", v, err)
		}
		got, err := Deserialize(s, nil)
		if err != nil {
			t.Fatalf("Deserialize(%q) failed: %v", s, err)
		}
		if !DeepEqual(got, v) {
			t.Errorf("round trip %v -> %q -> %v, want equal", v, s, got)
		}
	}
}

func TestSerializeIntIsBinaryLiteral(t *testing.T) {
	s, err := Serialize(IntVal(3))
	if err != nil {
		t.Fatalf("Serialize failed: %v", err)
	}
	if !containsBinaryThree(s) {
		t.Errorf("expected binary literal \"11\" for 3 in %q", s)
	}
}

func containsBinaryThree(s string) bool {
	for i := 0; i+2 <= len(s); i++ {
		if s[i:i+2] == "11" {
			return true
		}
	}
	return false
}

func TestSerializeRoundTripTensor(t *testing.T) {
	tn := vecInt(1, 2, 3)
	v := TnsVal(tn)
	s, err := Serialize(v)
	if err != nil {
		t.Fatalf("Serialize failed: %v", err)
	}
	got, err := Deserialize(s, nil)
	if err != nil {
		t.Fatalf("Deserialize failed: %v", err)
	}
	if !DeepEqual(got, v) {
		t.Errorf("round trip tensor mismatch: got %v, want %v", got.T.data, v.T.data)
	}
	if diff := cmp.Diff(v.T.Shape(), got.T.Shape()); diff != "" {
		t.Errorf("round trip tensor shape mismatch (-want +got):\n%s", diff)
	}
}

// TestSerializeRoundTripFakedStrings exercises SER/UNSER over a batch of
// faker-generated strings, complementing the hand-picked scalar cases with
// inputs not chosen to flatter the escaping logic.
func TestSerializeRoundTripFakedStrings(t *testing.T) {
	for n := 0; n < 20; n++ {
		want := faker.Sentence()
		v := StrVal(want)
		s, err := Serialize(v)
		if err != nil {
			t.Fatalf("Serialize(%q) failed: %v", want, err)
		}
		got, err := Deserialize(s, nil)
		if err != nil {
			t.Fatalf("Deserialize(%q) failed: %v", s, err)
		}
		if diff := cmp.Diff(want, got.S); diff != "" {
			t.Errorf("round trip faked string mismatch (-want +got):\n%s", diff)
		}
	}
}

func TestSerializeRoundTripMap(t *testing.T) {
	m := NewMap()
	m.Set(StrVal("a"), IntVal(1))
	m.Set(StrVal("b"), IntVal(2))
	v := MapVal(m)
	s, err := Serialize(v)
	if err != nil {
		t.Fatalf("Serialize failed: %v", err)
	}
	got, err := Deserialize(s, nil)
	if err != nil {
		t.Fatalf("Deserialize failed: %v", err)
	}
	if !DeepEqual(got, v) {
		t.Errorf("round trip map mismatch")
	}
}

func TestSerializeFunctionSharesIdentity(t *testing.T) {
	cl := &Closure{Name: "f", Params: []Param{{Type: "INT", Name: "x"}}, ReturnType: "INT"}
	env := NewEnvironment(nil)
	cl.Env = env
	m := NewMap()
	m.Set(StrVal("a"), FuncVal(cl))
	m.Set(StrVal("b"), FuncVal(cl))

	enc := newSerEncoder()
	envelope, err := enc.encodeMap(m)
	if err != nil {
		t.Fatalf("encodeMap failed: %v", err)
	}
	pairs, ok := envelope.V.([]kvPair)
	if !ok || len(pairs) != 2 {
		t.Fatalf("expected 2 kv pairs, got %#v", envelope.V)
	}
	if pairs[0].V.Def == nil {
		t.Fatalf("first function reference should carry a def")
	}
	if !pairs[1].V.Ref || pairs[1].V.ID != pairs[0].V.ID {
		t.Errorf("second function reference should be a ref sharing id %q, got %#v", pairs[0].V.ID, pairs[1].V)
	}
}

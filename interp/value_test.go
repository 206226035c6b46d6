package interp

import "testing"

func TestTruthy(t *testing.T) {
	cases := []struct {
		v    Value
		want bool
	}{
		{Null(), false},
		{IntVal(0), false},
		{IntVal(1), true},
		{FltVal(0), false},
		{StrVal(""), false},
		{StrVal("a"), true},
	}
	for _, c := range cases {
		if got := c.v.Truthy(); got != c.want {
			t.Errorf("Truthy(%v) = %v, want %v", c.v, got, c.want)
		}
	}
}

func TestDeepEqualTensor(t *testing.T) {
	a := vecInt(1, 2, 3)
	b := vecInt(1, 2, 3)
	c := vecInt(1, 2, 4)
	if !DeepEqual(TnsVal(a), TnsVal(b)) {
		t.Error("expected equal tensors to compare equal")
	}
	if DeepEqual(TnsVal(a), TnsVal(c)) {
		t.Error("expected differing tensors to compare unequal")
	}
}

func TestMapSetGetReplacesInPlace(t *testing.T) {
	m := NewMap()
	m.Set(StrVal("a"), IntVal(1))
	m.Set(StrVal("a"), IntVal(2))
	if m.Len() != 1 {
		t.Fatalf("expected single entry after replace, got %d", m.Len())
	}
	v, ok := m.Get(StrVal("a"))
	if !ok || v.I != 2 {
		t.Errorf("Get(a) = %v, %v, want 2 true", v, ok)
	}
}

func TestMapKeysPreserveInsertionOrder(t *testing.T) {
	m := NewMap()
	m.Set(StrVal("z"), IntVal(1))
	m.Set(StrVal("a"), IntVal(2))
	keys := m.Keys()
	if len(keys) != 2 || keys[0].S != "z" || keys[1].S != "a" {
		t.Errorf("Keys() = %v, want [z a]", keys)
	}
}

func TestTensorDeepCopyIsIndependent(t *testing.T) {
	a := vecInt(1, 2, 3)
	b := a.deepCopy()
	b.Set(0, IntVal(99))
	if a.At(0).I != 1 {
		t.Errorf("deepCopy should not alias the original backing array")
	}
}

package interp

import "testing"

func TestDefineThenGetUninitialized(t *testing.T) {
	e := NewEnvironment(nil)
	if err := e.Define("x", "INT"); err != nil {
		t.Fatalf("Define failed: %v", err)
	}
	_, _, initialized, err := e.Get("x")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if initialized {
		t.Error("freshly defined entry should be uninitialized")
	}
}

func TestDefineDuplicateRejected(t *testing.T) {
	e := NewEnvironment(nil)
	_ = e.Define("x", "INT")
	if err := e.Define("x", "INT"); err == nil {
		t.Fatal("expected error redefining x in the same scope")
	}
}

func TestAssignDeclaredTypeMismatch(t *testing.T) {
	e := NewEnvironment(nil)
	_ = e.Define("x", "INT")
	if err := e.Assign("x", StrVal("nope"), "", false); err == nil || err.Kind != ErrTypeMismatch {
		t.Fatalf("expected ErrTypeMismatch, got %v", err)
	}
}

func TestGetResolvesThroughParentChain(t *testing.T) {
	parent := NewEnvironment(nil)
	_ = parent.Define("x", "INT")
	_ = parent.Assign("x", IntVal(7), "INT", true)
	child := NewEnvironment(parent)

	v, _, initialized, err := child.Get("x")
	if err != nil || !initialized || v.I != 7 {
		t.Fatalf("child.Get(x) = %v, %v, %v, want 7 true nil", v, initialized, err)
	}
}

func TestPermafreezeCannotBeThawed(t *testing.T) {
	e := NewEnvironment(nil)
	_ = e.Define("x", "INT")
	_ = e.Assign("x", IntVal(1), "INT", true)
	if err := e.Permafreeze("x"); err != nil {
		t.Fatalf("Permafreeze failed: %v", err)
	}
	if err := e.Thaw("x"); err == nil || err.Kind != ErrFrozenWrite {
		t.Fatalf("expected ErrFrozenWrite thawing a permafrozen entry, got %v", err)
	}
	if err := e.Assign("x", IntVal(2), "", false); err == nil || err.Kind != ErrFrozenWrite {
		t.Fatalf("expected ErrFrozenWrite assigning a permafrozen entry, got %v", err)
	}
}

func TestAliasCycleRejected(t *testing.T) {
	e := NewEnvironment(nil)
	_ = e.Define("a", "")
	_ = e.Define("b", "")
	if err := e.Alias("a", "b"); err != nil {
		t.Fatalf("Alias(a,b) failed: %v", err)
	}
	if err := e.Alias("b", "a"); err == nil || err.Kind != ErrAliasCycle {
		t.Fatalf("expected ErrAliasCycle, got %v", err)
	}
}

func TestDeleteUnbound(t *testing.T) {
	e := NewEnvironment(nil)
	if err := e.Delete("nope"); err == nil || err.Kind != ErrUnbound {
		t.Fatalf("expected ErrUnbound, got %v", err)
	}
}

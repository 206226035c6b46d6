package interp

import "testing"

func callBuiltinByName(t *testing.T, i *Interpreter, env *Environment, name string, args []Arg) (Value, *RuntimeError) {
	t.Helper()
	bi, ok := i.builtins.lookup(name)
	if !ok {
		t.Fatalf("builtin %q not registered", name)
	}
	ctx := i.newEvalCtx()
	return i.callBuiltin(ctx, bi, Expr{Kind: ECall, Callee: name, Args: args}, env)
}

func arg(e Expr) Arg { return Arg{Expr: e} }

func TestAddBuiltinWritebackThroughPointer(t *testing.T) {
	i := New(Options{})
	env := NewEnvironment(nil)
	_ = env.Define("x", "INT")
	_ = env.Assign("x", IntVal(10), "INT", true)

	v, err := callBuiltinByName(t, i, env, "ADD", []Arg{
		arg(Expr{Kind: EPtr, Ident: "x"}),
		arg(Expr{Kind: EInt, Int: 5}),
	})
	if err != nil {
		t.Fatalf("ADD failed: %v", err)
	}
	if v.I != 15 {
		t.Fatalf("ADD result = %d, want 15", v.I)
	}
	got, _, _, gerr := env.Get("x")
	if gerr != nil || got.I != 15 {
		t.Errorf("expected writeback of x to 15, got %v (err=%v)", got, gerr)
	}
}

func TestModBuiltinNonNegative(t *testing.T) {
	i := New(Options{})
	env := NewEnvironment(nil)
	v, err := callBuiltinByName(t, i, env, "MOD", []Arg{
		arg(Expr{Kind: EInt, Int: -7}),
		arg(Expr{Kind: EInt, Int: 3}),
	})
	if err != nil {
		t.Fatalf("MOD failed: %v", err)
	}
	if v.I != 2 {
		t.Fatalf("MOD(-7,3) = %d, want 2 (non-negative modulus)", v.I)
	}
}

func TestDelBuiltinRequiresPointerArg(t *testing.T) {
	i := New(Options{})
	env := NewEnvironment(nil)
	_, err := callBuiltinByName(t, i, env, "DEL", []Arg{
		arg(Expr{Kind: EIdent, Ident: "x"}),
	})
	if err == nil || err.Kind != ErrTypeMismatch {
		t.Fatalf("expected ErrTypeMismatch for non-pointer DEL argument, got %v", err)
	}
}

func TestFreezeThenAssignFails(t *testing.T) {
	i := New(Options{})
	env := NewEnvironment(nil)
	_ = env.Define("x", "INT")
	_ = env.Assign("x", IntVal(1), "INT", true)

	_, err := callBuiltinByName(t, i, env, "FREEZE", []Arg{
		arg(Expr{Kind: EPtr, Ident: "x"}),
	})
	if err != nil {
		t.Fatalf("FREEZE failed: %v", err)
	}
	if aerr := env.Assign("x", IntVal(2), "INT", false); aerr == nil || aerr.Kind != ErrFrozenWrite {
		t.Fatalf("expected ErrFrozenWrite after FREEZE, got %v", aerr)
	}
}

func TestAliasBuiltinSharesBinding(t *testing.T) {
	i := New(Options{})
	env := NewEnvironment(nil)
	_ = env.Define("x", "INT")
	_ = env.Assign("x", IntVal(1), "INT", true)
	_ = env.Define("y", "")

	_, err := callBuiltinByName(t, i, env, "ALIAS", []Arg{
		arg(Expr{Kind: EPtr, Ident: "y"}),
		arg(Expr{Kind: EStr, Str: "x"}),
	})
	if err != nil {
		t.Fatalf("ALIAS failed: %v", err)
	}
	if aerr := env.Assign("y", IntVal(9), "", false); aerr != nil {
		t.Fatalf("assigning through alias y failed: %v", aerr)
	}
	got, _, _, gerr := env.Get("x")
	if gerr != nil || got.I != 9 {
		t.Errorf("expected x to reflect write through alias y, got %v", got)
	}
}

func TestShaUnshushSuppressesPrint(t *testing.T) {
	i := New(Options{})
	env := NewEnvironment(nil)
	var buf stringWriter
	i.stdout = &buf

	if _, err := callBuiltinByName(t, i, env, "SHUSH", nil); err != nil {
		t.Fatalf("SHUSH failed: %v", err)
	}
	if _, err := callBuiltinByName(t, i, env, "PRINT", []Arg{arg(Expr{Kind: EStr, Str: "hidden"})}); err != nil {
		t.Fatalf("PRINT failed: %v", err)
	}
	if buf.String() != "" {
		t.Errorf("expected no output while shushed, got %q", buf.String())
	}
	if _, err := callBuiltinByName(t, i, env, "UNSHUSH", nil); err != nil {
		t.Fatalf("UNSHUSH failed: %v", err)
	}
	if _, err := callBuiltinByName(t, i, env, "PRINT", []Arg{arg(Expr{Kind: EStr, Str: "shown"})}); err != nil {
		t.Fatalf("PRINT failed: %v", err)
	}
	if buf.String() == "" {
		t.Errorf("expected PRINT output after UNSHUSH")
	}
}

// stringWriter is a minimal io.Writer accumulating bytes, used in place of
// a real terminal for PRINT assertions.
type stringWriter struct {
	data []byte
}

func (w *stringWriter) Write(p []byte) (int, error) {
	w.data = append(w.data, p...)
	return len(p), nil
}

func (w *stringWriter) String() string { return string(w.data) }

package interp

import "testing"

func TestDefineAssignPassthroughOutsideParfor(t *testing.T) {
	i := New(Options{})
	ctx := i.newEvalCtx()
	env := NewEnvironment(nil)

	if err := i.defineVar(ctx, env, "x", "INT"); err != nil {
		t.Fatalf("defineVar failed: %v", err)
	}
	if err := i.assignVar(ctx, env, "x", IntVal(5), "INT", false); err != nil {
		t.Fatalf("assignVar failed: %v", err)
	}
	v, _, initialized, err := i.readVar(ctx, env, "x")
	if err != nil || !initialized || v.I != 5 {
		t.Fatalf("readVar = %v, %v, want 5, true", v, initialized)
	}
}

func TestParforWriteBufferSerializesAssignments(t *testing.T) {
	i := New(Options{})
	outer := NewEnvironment(nil)
	_ = outer.Define("total", "INT")
	_ = outer.Assign("total", IntVal(0), "INT", true)

	items := make([]Value, 50)
	for idx := range items {
		items[idx] = IntVal(1)
	}
	body := []Stmt{
		{
			Kind: SAssign,
			Ident: "total",
			Value: &Expr{
				Kind:   ECall,
				Callee: "ADD",
				Args: []Arg{
					{Expr: Expr{Kind: EIdent, Ident: "total"}},
					{Expr: Expr{Kind: EIdent, Ident: "n"}},
				},
			},
		},
	}
	ctx := i.newEvalCtx()
	res := i.runParfor(ctx, "n", items, body, outer)
	if res.Kind == ResError {
		t.Fatalf("PARFOR failed: %v", res.Err)
	}
	v, _, _, err := outer.Get("total")
	if err != nil {
		t.Fatalf("Get(total) failed: %v", err)
	}
	if v.I != int64(len(items)) {
		t.Errorf("total = %d, want %d", v.I, len(items))
	}
}

func TestRunParallelPropagatesFirstError(t *testing.T) {
	i := New(Options{})
	env := NewEnvironment(nil)
	okBody := []Stmt{{Kind: SExpr, Expr: &Expr{Kind: EInt, Int: 0}}}
	badBody := []Stmt{{Kind: SPop, Ident: "missing"}}
	closures := []*Closure{
		{Name: "ok", Body: okBody, Env: env},
		{Name: "bad", Body: badBody, Env: env},
	}
	ctx := i.newEvalCtx()
	_, err := i.parallel.runParallel(ctx, closures, Pos{})
	if err == nil {
		t.Fatal("expected an error from the failing closure")
	}
}

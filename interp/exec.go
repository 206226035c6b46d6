package interp

// exec.go implements exec_stmt and the ExecResult control-flow sum of
// spec §4.3.

// ResultKind tags the variant of an ExecResult.
type ResultKind int

const (
	ResOk ResultKind = iota
	ResReturn
	ResBreak
	ResContinue
	ResGoto
	ResError
)

// ExecResult is the sum-of-results every statement produces (§4.3, §9
// "Control flow uses a sum-of-results... rather than exceptions").
type ExecResult struct {
	Kind       ResultKind
	Value      Value
	GotoTarget string
	Err        *RuntimeError
}

func okResult(v Value) ExecResult    { return ExecResult{Kind: ResOk, Value: v} }
func returnResult(v Value) ExecResult { return ExecResult{Kind: ResReturn, Value: v} }
func breakResult(v Value) ExecResult  { return ExecResult{Kind: ResBreak, Value: v} }
func continueResult() ExecResult      { return ExecResult{Kind: ResContinue} }
func gotoResult(label string) ExecResult { return ExecResult{Kind: ResGoto, GotoTarget: label} }
func errResult(e *RuntimeError) ExecResult { return ExecResult{Kind: ResError, Err: e} }

// checkSuspend polls the run generation and the owning thread handle's
// finished/paused flags at a statement boundary (§4.6/§5 "suspension
// points"). It returns a StopRequested error if the run was cancelled
// (EvalWithContext) or the worker should unwind, busy-waiting (with a Go
// scheduler yield) while paused.
func (i *Interpreter) checkSuspend(ctx *evalCtx) *RuntimeError {
	if ctx.runGen != i.runid() {
		return Raise(ErrStopRequested, Pos{}, "evaluation cancelled")
	}
	if ctx.thread == nil {
		return nil
	}
	for ctx.thread.isPaused() && !ctx.thread.isFinished() {
		osYield()
	}
	if ctx.thread.isFinished() {
		return Raise(ErrStopRequested, Pos{}, "thread stopped")
	}
	return nil
}

// execBlock runs stmts in order without introducing a new environment
// (§4.3 Block: "scope does NOT introduce a new environment"). A Goto whose
// target label is a Gotopoint within this same statement list is resolved
// here by restarting the scan from that label; any other non-Ok result
// propagates to the caller.
func (i *Interpreter) execBlock(ctx *evalCtx, stmts []Stmt, env *Environment) ExecResult {
	idx := 0
	for idx < len(stmts) {
		if err := i.checkSuspend(ctx); err != nil {
			return errResult(err)
		}
		st := stmts[idx]
		res := i.execStmt(ctx, st, env)
		if res.Kind == ResGoto {
			target := findLabel(stmts, res.GotoTarget)
			if target < 0 {
				return res // propagate: not our label to handle
			}
			idx = target
			continue
		}
		if res.Kind != ResOk {
			return res
		}
		idx++
	}
	return okResult(Null())
}

func findLabel(stmts []Stmt, label string) int {
	for i, s := range stmts {
		if s.Kind == SGotopoint && s.Label == label {
			return i
		}
	}
	return -1
}

// execStmt implements one step of exec_stmt (§4.3 Statement forms).
func (i *Interpreter) execStmt(ctx *evalCtx, st Stmt, env *Environment) ExecResult {
	switch st.Kind {
	case SBlock:
		return i.execBlock(ctx, st.Body, env)

	case SExpr:
		v, err := i.evalExpr(ctx, *st.Expr, env)
		if err != nil {
			return errResult(err)
		}
		return okResult(v)

	case SDecl:
		if err := i.defineVar(ctx, env, st.Ident, st.DeclType); err != nil {
			return errResult(err)
		}
		return okResult(Null())

	case SAssign:
		return i.execAssign(ctx, st, env)

	case SIf:
		for idx, cond := range st.Conds {
			v, err := i.evalExpr(ctx, cond, env)
			if err != nil {
				return errResult(err)
			}
			if v.Truthy() {
				return i.execBlock(ctx, st.Blocks[idx], env)
			}
		}
		if st.Else != nil {
			return i.execBlock(ctx, st.Else, env)
		}
		return okResult(Null())

	case SWhile:
		for {
			if err := i.checkSuspend(ctx); err != nil {
				return errResult(err)
			}
			v, err := i.evalExpr(ctx, *st.Cond, env)
			if err != nil {
				return errResult(err)
			}
			if !v.Truthy() {
				return okResult(Null())
			}
			res := i.execBlock(ctx, st.Body, env)
			switch res.Kind {
			case ResBreak:
				return okResult(res.Value)
			case ResContinue, ResOk:
				continue
			default:
				return res
			}
		}

	case SFor:
		return i.execFor(ctx, st, env, false)

	case SParfor:
		return i.execFor(ctx, st, env, true)

	case SFunc:
		cl := &Closure{Name: st.Name, Params: st.Params, ReturnType: st.ReturnType, Body: st.FuncBody, Env: env}
		if err := i.assignVar(ctx, env, st.Name, FuncVal(cl), "FUNC", true); err != nil {
			return errResult(err)
		}
		return okResult(Null())

	case SReturn:
		v := Null()
		if st.Value != nil {
			var err *RuntimeError
			v, err = i.evalExpr(ctx, *st.Value, env)
			if err != nil {
				return errResult(err)
			}
		}
		return returnResult(v)

	case SBreak:
		v := Null()
		if st.Value != nil {
			var err *RuntimeError
			v, err = i.evalExpr(ctx, *st.Value, env)
			if err != nil {
				return errResult(err)
			}
		}
		return breakResult(v)

	case SContinue:
		return continueResult()

	case SGoto:
		v, err := i.evalExpr(ctx, *st.Value, env)
		if err != nil {
			return errResult(err)
		}
		return gotoResult(valueAsLabel(v))

	case SGotopoint:
		return okResult(Null())

	case SPop:
		if err := i.deleteVar(ctx, env, st.Ident); err != nil {
			return errResult(err)
		}
		return okResult(Null())

	case STry:
		res := i.execBlock(ctx, st.TryBody, env)
		if res.Kind != ResError {
			return res
		}
		if st.CatchSym != "" {
			_ = i.defineVar(ctx, env, st.CatchSym, "STR")
			_ = i.assignVar(ctx, env, st.CatchSym, StrVal(res.Err.Message), "STR", true)
		}
		return i.execBlock(ctx, st.CatchBody, env)

	case SThr:
		th := NewThreadHandle(st.Block, env)
		if err := i.assignVar(ctx, env, st.Name, ThrVal(th), "THR", true); err != nil {
			return errResult(err)
		}
		i.startThread(th)
		return okResult(Null())

	case SAsync:
		th := NewThreadHandle(st.Block, env)
		i.startThread(th)
		return okResult(ThrVal(th))
	}
	return errResult(Raise(ErrParseError, st.Pos, "unknown statement kind %d", st.Kind))
}

func valueAsLabel(v Value) string {
	switch v.Kind {
	case VStr:
		return v.S
	case VInt:
		return itoa(v.I)
	}
	return ""
}

// execAssign implements §4.3's assignment forms, including the writeable
// index chain for indexed targets.
func (i *Interpreter) execAssign(ctx *evalCtx, st Stmt, env *Environment) ExecResult {
	v, err := i.evalExpr(ctx, *st.Value, env)
	if err != nil {
		return errResult(err)
	}
	if st.IndexTarget != nil {
		if err := i.assignIndexChain(ctx, *st.IndexTarget, v, env); err != nil {
			return errResult(err)
		}
		return okResult(v)
	}
	if st.DeclType != "" {
		if err := i.defineVar(ctx, env, st.Ident, st.DeclType); err != nil {
			return errResult(err)
		}
		if err := i.assignVar(ctx, env, st.Ident, v, st.DeclType, true); err != nil {
			return errResult(err)
		}
		return okResult(v)
	}
	if err := i.assignVar(ctx, env, st.Ident, v, "", true); err != nil {
		return errResult(err)
	}
	return okResult(v)
}

// execFor implements FOR/PARFOR iteration semantics (§4.3/§4.6). When
// parallel is true, iterations run concurrently via the ParallelEngine and
// outer-scope writes route through the namespace write buffer.
func (i *Interpreter) execFor(ctx *evalCtx, st Stmt, env *Environment, parallel bool) ExecResult {
	target, err := i.evalExpr(ctx, *st.Target, env)
	if err != nil {
		return errResult(err)
	}
	items, err := iterationItems(target)
	if err != nil {
		return errResult(err)
	}
	if !parallel {
		var last Value
		for _, it := range items {
			if err := i.checkSuspend(ctx); err != nil {
				return errResult(err)
			}
			iterEnv := NewEnvironment(env)
			_ = iterEnv.Define(st.Var, "")
			_ = iterEnv.Assign(st.Var, it, "", true)
			res := i.execBlock(ctx, st.Body, iterEnv)
			switch res.Kind {
			case ResBreak:
				return okResult(res.Value)
			case ResContinue, ResOk:
				last = res.Value
				continue
			default:
				return res
			}
		}
		return okResult(last)
	}
	return i.parallel.runParfor(ctx, st.Var, items, st.Body, env)
}

// iterationItems reifies a FOR/PARFOR target into the sequence of values
// bound to the loop variable, one per iteration (§4.3 For).
func iterationItems(target Value) ([]Value, *RuntimeError) {
	switch target.Kind {
	case VInt:
		n := target.I
		out := make([]Value, 0, n)
		for v := int64(1); v <= n; v++ {
			out = append(out, IntVal(v))
		}
		return out, nil
	case VRange:
		if target.REnd < target.RStart {
			return nil, nil
		}
		out := make([]Value, 0, target.REnd-target.RStart+1)
		for v := target.RStart; v <= target.REnd; v++ {
			out = append(out, IntVal(v))
		}
		return out, nil
	case VTns:
		n := target.T.Len()
		out := make([]Value, n)
		for idx := int64(0); idx < n; idx++ {
			out[idx] = target.T.At(idx)
		}
		return out, nil
	case VMap:
		keys := target.M.Keys()
		out := make([]Value, len(keys))
		for idx, k := range keys {
			v, _ := target.M.Get(k)
			pair := NewTensor(EUnknown, []int64{2})
			pair.Set(0, k)
			pair.Set(1, v)
			out[idx] = TnsVal(pair)
		}
		return out, nil
	}
	return nil, Raise(ErrTypeMismatch, Pos{}, "cannot iterate over %s", target.Kind)
}

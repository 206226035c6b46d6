package interp

// eval.go implements eval_expr, the expression half of spec §4.3.

// evalExpr evaluates one Expr node against env, returning a fresh copy of
// its Value (containers are shared by reference per §4.1).
func (i *Interpreter) evalExpr(ctx *evalCtx, e Expr, env *Environment) (Value, *RuntimeError) {
	switch e.Kind {
	case EInt:
		return IntVal(e.Int), nil
	case EFlt:
		return FltVal(e.Flt), nil
	case EStr:
		return StrVal(e.Str), nil

	case EIdent:
		v, _, initialized, err := i.readVar(ctx, env, e.Ident)
		if err != nil {
			return Value{}, wrapPos(err, e.Pos)
		}
		if !initialized {
			return Value{}, Raise(ErrUninitialized, e.Pos, "%q is not initialized", e.Ident)
		}
		return v, nil

	case EPtr:
		// Pointer expressions resolve to the identifier textually; they
		// are never evaluated standalone outside of call-argument
		// writeback handling (§4.3 "they do not materialize a value").
		return Value{}, Raise(ErrTypeMismatch, e.Pos, "pointer expression @%s used outside of a builtin call", e.Ident)

	case ECall:
		return i.evalCall(ctx, e, env)

	case EAsync:
		th := NewThreadHandle(e.Block, env)
		i.startThread(th)
		return ThrVal(th), nil

	case ETns:
		return i.evalTensorLit(ctx, e, env)

	case EMap:
		m := NewMap()
		for _, kv := range e.Pairs {
			k, err := i.evalExpr(ctx, kv.Key, env)
			if err != nil {
				return Value{}, err
			}
			v, err := i.evalExpr(ctx, kv.Val, env)
			if err != nil {
				return Value{}, err
			}
			m.Set(k, v)
		}
		return MapVal(m), nil

	case EIndex:
		return i.evalIndex(ctx, e, env)

	case ERange:
		start, err := i.evalExpr(ctx, *e.Start, env)
		if err != nil {
			return Value{}, err
		}
		end, err := i.evalExpr(ctx, *e.End, env)
		if err != nil {
			return Value{}, err
		}
		if start.Kind != VInt || end.Kind != VInt {
			return Value{}, Raise(ErrTypeMismatch, e.Pos, "range bounds must be INT")
		}
		return RangeVal(start.I, end.I), nil

	case EWildcard:
		return Value{}, Raise(ErrTypeMismatch, e.Pos, "wildcard index used outside of an index expression")
	}
	return Value{}, Raise(ErrParseError, e.Pos, "unknown expression kind %d", e.Kind)
}

func wrapPos(err error, pos Pos) *RuntimeError {
	if re, ok := err.(*RuntimeError); ok {
		if re.Pos == (Pos{}) {
			re.Pos = pos
		}
		return re
	}
	return Raise(ErrTypeMismatch, pos, "%v", err)
}

// evalTensorLit implements §4.3 "Tensor literal": left-to-right item
// evaluation, common-type inference (or UNKNOWN if mixed), and uniform
// nested-shape concatenation into a higher rank.
func (i *Interpreter) evalTensorLit(ctx *evalCtx, e Expr, env *Environment) (Value, *RuntimeError) {
	if len(e.Items) == 0 {
		return TnsVal(NewTensor(EUnknown, []int64{0})), nil
	}
	vals := make([]Value, len(e.Items))
	for idx, item := range e.Items {
		v, err := i.evalExpr(ctx, item, env)
		if err != nil {
			return Value{}, err
		}
		vals[idx] = v
	}
	// Nested tensor literal: concatenate into a higher rank only when
	// every item is itself a tensor of uniform shape.
	if vals[0].Kind == VTns {
		shape := vals[0].T.Shape()
		elemType := vals[0].T.ElemType()
		uniform := true
		for _, v := range vals {
			if v.Kind != VTns || !int64SliceEqual(v.T.Shape(), shape) {
				uniform = false
				break
			}
			if v.T.ElemType() != elemType {
				elemType = EUnknown
			}
		}
		if uniform {
			outShape := append([]int64{int64(len(vals))}, shape...)
			out := NewTensor(elemType, outShape)
			linear := int64(0)
			for _, v := range vals {
				n := v.T.Len()
				for k := int64(0); k < n; k++ {
					out.Set(linear, v.T.At(k))
					linear++
				}
			}
			return TnsVal(out), nil
		}
	}
	elemType := elemKindOf(vals[0])
	for _, v := range vals[1:] {
		if elemKindOf(v) != elemType {
			elemType = EUnknown
			break
		}
	}
	out := NewTensor(elemType, []int64{int64(len(vals))})
	for idx, v := range vals {
		out.Set(int64(idx), v)
	}
	return TnsVal(out), nil
}

func int64SliceEqual(a, b []int64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// evalCall implements §4.3 call dispatch order: function parameters
// (callee already bound as a Func value in scope), then builtin name
// lookup; unknown callees raise ErrUnknownCallee.
func (i *Interpreter) evalCall(ctx *evalCtx, e Expr, env *Environment) (Value, *RuntimeError) {
	if v, _, initialized, err := i.readVar(ctx, env, e.Callee); err == nil && initialized && v.Kind == VFunc {
		return i.callClosure(ctx, v.Fn, e, env)
	}
	if bi, ok := i.builtins.lookup(e.Callee); ok {
		return i.callBuiltin(ctx, bi, e, env)
	}
	return Value{}, Raise(ErrUnknownCallee, e.Pos, "%q is neither a bound function nor a builtin", e.Callee)
}

// callClosure binds arguments to parameters in a fresh environment whose
// parent is the closure's captured environment (§4.3).
func (i *Interpreter) callClosure(ctx *evalCtx, cl *Closure, call Expr, callerEnv *Environment) (Value, *RuntimeError) {
	callEnv := NewEnvironment(cl.Env)
	positional, named := splitArgs(call.Args)

	bound := map[string]bool{}
	for idx, p := range cl.Params {
		var argExpr *Expr
		if idx < len(positional) {
			argExpr = &positional[idx].Expr
		} else if v, ok := named[p.Name]; ok {
			argExpr = &v
		}
		var val Value
		if argExpr != nil {
			v, err := i.evalExpr(ctx, *argExpr, callerEnv)
			if err != nil {
				return Value{}, err
			}
			val = v
		} else if p.Default != nil {
			v, err := i.evalExpr(ctx, *p.Default, cl.Env)
			if err != nil {
				return Value{}, err
			}
			val = v
		} else {
			return Value{}, Raise(ErrArityMismatch, call.Pos, "missing argument %q for %s", p.Name, cl.Name)
		}
		if p.Type != "" && p.Type != "UNKNOWN" && !typeMatches(p.Type, val) {
			return Value{}, Raise(ErrTypeMismatch, call.Pos, "argument %q must be %s", p.Name, p.Type)
		}
		_ = callEnv.Define(p.Name, p.Type)
		_ = callEnv.Assign(p.Name, val, p.Type, true)
		bound[p.Name] = true
	}

	res := i.execBlock(ctx, cl.Body, callEnv)
	switch res.Kind {
	case ResOk, ResReturn:
		if cl.ReturnType != "" && cl.ReturnType != "UNKNOWN" && res.Value.Kind != VNull && !typeMatches(cl.ReturnType, res.Value) {
			return Value{}, Raise(ErrTypeMismatch, call.Pos, "return value of %s must be %s", cl.Name, cl.ReturnType)
		}
		return res.Value, nil
	case ResError:
		return Value{}, res.Err
	default:
		return Null(), nil
	}
}

func splitArgs(args []Arg) (positional []Arg, named map[string]Expr) {
	named = map[string]Expr{}
	for _, a := range args {
		if a.Name == "" {
			positional = append(positional, a)
		} else {
			named[a.Name] = a.Expr
		}
	}
	return
}

// evalIndex implements §4.3 Index expressions: chained tensor/map
// indexing, partial indexing producing a freshly allocated sub-tensor, and
// the writeback-irrelevant read path (assignment uses assignIndexChain
// instead).
func (i *Interpreter) evalIndex(ctx *evalCtx, e Expr, env *Environment) (Value, *RuntimeError) {
	target, err := i.evalExpr(ctx, *e.Target, env)
	if err != nil {
		return Value{}, err
	}
	return i.indexInto(ctx, target, e.Indices, e.Pos, env)
}

// indexSpec is one resolved dimension of an index chain.
type indexSpec struct {
	kind     int // 0 = single, 1 = range, 2 = wildcard
	single   int64
	lo, hi   int64
}

func (i *Interpreter) resolveIndexSpec(ctx *evalCtx, e Expr, env *Environment, extent int64) (indexSpec, *RuntimeError) {
	switch e.Kind {
	case EWildcard:
		return indexSpec{kind: 2}, nil
	case ERange:
		start, err := i.evalExpr(ctx, *e.Start, env)
		if err != nil {
			return indexSpec{}, err
		}
		end, err := i.evalExpr(ctx, *e.End, env)
		if err != nil {
			return indexSpec{}, err
		}
		if start.Kind != VInt || end.Kind != VInt {
			return indexSpec{}, Raise(ErrTypeMismatch, e.Pos, "range index bounds must be INT")
		}
		lo := normalizeIndex(start.I, extent)
		hi := normalizeIndex(end.I, extent)
		if lo < 1 || hi > extent || lo > hi {
			return indexSpec{}, Raise(ErrIndexOutOfRange, e.Pos, "range [%d,%d] out of bounds for extent %d", start.I, end.I, extent)
		}
		return indexSpec{kind: 1, lo: lo, hi: hi}, nil
	default:
		v, err := i.evalExpr(ctx, e, env)
		if err != nil {
			return indexSpec{}, err
		}
		if v.Kind != VInt {
			return indexSpec{}, Raise(ErrTypeMismatch, e.Pos, "index must be INT")
		}
		idx := normalizeIndex(v.I, extent)
		if idx < 1 || idx > extent {
			return indexSpec{}, Raise(ErrIndexOutOfRange, e.Pos, "index %d out of bounds for extent %d", v.I, extent)
		}
		return indexSpec{kind: 0, single: idx}, nil
	}
}

// normalizeIndex converts a possibly-negative 1-based index (negatives
// count from the end, §4.3) into a positive 1-based index.
func normalizeIndex(idx, extent int64) int64 {
	if idx < 0 {
		return extent + idx + 1
	}
	return idx
}

// indexInto applies a chain of index dimensions to target (tensor or map
// read path).
func (i *Interpreter) indexInto(ctx *evalCtx, target Value, indices []Expr, pos Pos, env *Environment) (Value, *RuntimeError) {
	if target.Kind == VMap {
		if len(indices) != 1 {
			return Value{}, Raise(ErrKeyMissing, pos, "map indexing requires exactly one scalar key")
		}
		k, err := i.evalExpr(ctx, indices[0], env)
		if err != nil {
			return Value{}, err
		}
		v, ok := target.M.Get(k)
		if !ok {
			return Value{}, Raise(ErrKeyMissing, pos, "key not found in map")
		}
		return v, nil
	}
	if target.Kind != VTns {
		return Value{}, Raise(ErrTypeMismatch, pos, "cannot index a %s", target.Kind)
	}
	t := target.T
	shape := t.Shape()
	if len(indices) > len(shape) {
		return Value{}, Raise(ErrIndexOutOfRange, pos, "too many index dimensions for rank %d tensor", len(shape))
	}
	specs := make([]indexSpec, len(shape))
	for d := 0; d < len(shape); d++ {
		if d < len(indices) {
			sp, err := i.resolveIndexSpec(ctx, indices[d], env, shape[d])
			if err != nil {
				return Value{}, err
			}
			specs[d] = sp
		} else {
			specs[d] = indexSpec{kind: 2}
		}
	}
	fullyIndexed := true
	for _, sp := range specs {
		if sp.kind != 0 {
			fullyIndexed = false
			break
		}
	}
	if fullyIndexed {
		linear := linearOffset(t, specs)
		return t.At(linear), nil
	}
	return sliceTensor(t, specs), nil
}

func linearOffset(t *Tensor, specs []indexSpec) int64 {
	strides := stridesFor(t.Shape())
	var off int64
	for d, sp := range specs {
		off += (sp.single - 1) * strides[d]
	}
	return off
}

// sliceTensor allocates a fresh tensor covering the remaining shape after
// partial indexing, with data copied contiguously (§4.3).
func sliceTensor(t *Tensor, specs []indexSpec) Value {
	shape := t.Shape()
	strides := stridesFor(shape)
	var outShape []int64
	for d, sp := range specs {
		switch sp.kind {
		case 1:
			outShape = append(outShape, sp.hi-sp.lo+1)
		case 2:
			outShape = append(outShape, shape[d])
		}
	}
	out := NewTensor(t.ElemType(), outShape)
	var linear int64
	var walk func(d int, base int64)
	walk = func(d int, base int64) {
		if d == len(specs) {
			out.Set(linear, t.At(base))
			linear++
			return
		}
		sp := specs[d]
		switch sp.kind {
		case 0:
			walk(d+1, base+(sp.single-1)*strides[d])
		case 1:
			for v := sp.lo; v <= sp.hi; v++ {
				walk(d+1, base+(v-1)*strides[d])
			}
		case 2:
			for v := int64(1); v <= shape[d]; v++ {
				walk(d+1, base+(v-1)*strides[d])
			}
		}
	}
	walk(0, 0)
	return TnsVal(out)
}

// assignIndexChain implements the "writeable index chain" of §4.3: it
// walks the index path, preserves container sharing semantics, and writes
// at the leaf, requiring a mutable view of the target tensor/map.
func (i *Interpreter) assignIndexChain(ctx *evalCtx, target Expr, value Value, env *Environment) *RuntimeError {
	if target.Kind != EIndex {
		return Raise(ErrTypeMismatch, target.Pos, "invalid assignment target")
	}
	// The container is resolved by evaluating target.Target, which
	// shares the underlying tensor/map by reference (§4.1); the write
	// below mutates that shared storage directly, so intermediate
	// containers are never implicitly copied or reassigned (§4.3).
	container, err := i.evalExpr(ctx, *target.Target, env)
	if err != nil {
		return err
	}
	return i.writeIndexed(ctx, container, target.Indices, value, target.Pos, env)
}

func (i *Interpreter) writeIndexed(ctx *evalCtx, container Value, indices []Expr, value Value, pos Pos, env *Environment) *RuntimeError {
	if container.Kind == VMap {
		if len(indices) != 1 {
			return Raise(ErrKeyMissing, pos, "map indexing requires exactly one scalar key")
		}
		k, err := i.evalExpr(ctx, indices[0], env)
		if err != nil {
			return err
		}
		container.M.Set(k, value)
		return nil
	}
	if container.Kind != VTns {
		return Raise(ErrTypeMismatch, pos, "cannot index-assign into a %s", container.Kind)
	}
	t := container.T
	shape := t.Shape()
	if len(indices) != len(shape) {
		return Raise(ErrIndexOutOfRange, pos, "indexed assignment requires all %d dimensions", len(shape))
	}
	specs := make([]indexSpec, len(shape))
	for d := range shape {
		sp, err := i.resolveIndexSpec(ctx, indices[d], env, shape[d])
		if err != nil {
			return err
		}
		if sp.kind != 0 {
			return Raise(ErrShapeMismatch, pos, "indexed assignment requires single-element indices")
		}
		specs[d] = sp
	}
	if et := t.ElemType(); et != EUnknown && elemKindOf(value) != et {
		return Raise(ErrTypeMismatch, pos, "element type mismatch writing to tensor")
	}
	t.Set(linearOffset(t, specs), value)
	return nil
}

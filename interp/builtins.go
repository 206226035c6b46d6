package interp

import (
	"fmt"
	"math"
	"strings"
)

// builtins.go implements C4 (spec §4.4): the name-keyed registry of
// (arity, implementation, optional keyword parameter names) entries, the
// dispatch/writeback wiring invoked from eval.go's evalCall, and the
// builtin set enumerated across §4.3/§4.5/§4.6/§4.7/§4.8.

// builtinFn is one builtin's implementation. args has already been bound
// positionally/by-name. With positional arguments only, len(args) is the
// number supplied; when named arguments are present, args is padded to
// len(params) (unfilled slots hold the zero Value).
type builtinFn func(ctx *evalCtx, i *Interpreter, env *Environment, args []Value, pos Pos) (Value, *RuntimeError)

// identBuiltinFn is the shape used by builtins that operate on a *binding*
// rather than its value (DEL/FREEZE/THAW/PERMAFREEZE/ALIAS, §4.2): their
// first argument must be a pointer expression (@name), and the builtin
// receives the identifier text instead of an evaluated Value.
type identBuiltinFn func(ctx *evalCtx, i *Interpreter, env *Environment, ident string, rest []Value, pos Pos) (Value, *RuntimeError)

type builtinEntry struct {
	name           string
	minArgs        int
	maxArgs        int // -1 means variadic
	params         []string
	writebackFirst bool
	fn             builtinFn
	identFn        identBuiltinFn // non-nil for identifier-operand builtins
}

// BuiltinRegistry is the name -> entry table of §4.4, safe for concurrent
// lookup and for registration by native extensions before worker threads
// start (§5 "dynamic registrations happen... before worker threads start").
type BuiltinRegistry struct {
	entries map[string]*builtinEntry
}

func newBuiltinRegistry() *BuiltinRegistry {
	r := &BuiltinRegistry{entries: map[string]*builtinEntry{}}
	registerCoreBuiltins(r)
	return r
}

func (r *BuiltinRegistry) lookup(name string) (*builtinEntry, bool) {
	e, ok := r.entries[name]
	return e, ok
}

// Register adds a new builtin, refusing a name already present (§4.4
// "Duplicate registration is refused"). Used by registerCoreBuiltins and
// exported for extension code; the .prex manifest loader in module.go only
// records manifest entries and does not call it.
func (r *BuiltinRegistry) Register(name string, minArgs, maxArgs int, params []string, writebackFirst bool, fn builtinFn) error {
	if _, exists := r.entries[name]; exists {
		return fmt.Errorf("builtin %q already registered", name)
	}
	r.entries[name] = &builtinEntry{name: name, minArgs: minArgs, maxArgs: maxArgs, params: params, writebackFirst: writebackFirst, fn: fn}
	return nil
}

func mustRegister(r *BuiltinRegistry, name string, minArgs, maxArgs int, params []string, writebackFirst bool, fn builtinFn) {
	if err := r.Register(name, minArgs, maxArgs, params, writebackFirst, fn); err != nil {
		panic(err)
	}
}

// registerIdent adds an identifier-operand builtin (§4.2 DEL/FREEZE/THAW/
// PERMAFREEZE/ALIAS), whose first call argument must be a pointer
// expression naming the binding to operate on.
func registerIdent(r *BuiltinRegistry, name string, minArgs, maxArgs int, fn identBuiltinFn) {
	if _, exists := r.entries[name]; exists {
		panic(fmt.Errorf("builtin %q already registered", name))
	}
	r.entries[name] = &builtinEntry{name: name, minArgs: minArgs, maxArgs: maxArgs, identFn: fn}
}

// callBuiltin implements the call-expression dispatch rules of §4.3 for a
// resolved builtin: positional arguments evaluate left-to-right, named
// arguments bind to the builtin's declared parameter names, arity is
// checked against [min_args,max_args], and a pointer-expression (@name)
// first argument triggers writeback of the result into that binding when
// the builtin declares writebackFirst (§4.3 "Writeback semantics").
func (i *Interpreter) callBuiltin(ctx *evalCtx, bi *builtinEntry, call Expr, env *Environment) (Value, *RuntimeError) {
	total := len(call.Args)
	if total < bi.minArgs || (bi.maxArgs >= 0 && total > bi.maxArgs) {
		return Value{}, Raise(ErrArityMismatch, call.Pos, "%s expects [%d,%d] args, got %d", bi.name, bi.minArgs, bi.maxArgs, total)
	}

	if bi.identFn != nil {
		return i.callIdentBuiltin(ctx, bi, call, env)
	}

	positional, named := splitArgs(call.Args)

	var ptrName string
	evalArg := func(e Expr, slot int) (Value, *RuntimeError) {
		if e.Kind == EPtr {
			v, _, init, err := i.readVar(ctx, env, e.Ident)
			if err != nil {
				return Value{}, err
			}
			if !init {
				return Value{}, Raise(ErrUninitialized, e.Pos, "%q is not initialized", e.Ident)
			}
			if slot == 0 {
				ptrName = e.Ident
			}
			return v, nil
		}
		return i.evalExpr(ctx, e, env)
	}

	size := len(positional)
	if len(bi.params) > size {
		size = len(bi.params)
	}
	if len(named) == 0 {
		size = len(positional)
	}
	args := make([]Value, size)
	for idx, a := range positional {
		v, err := evalArg(a.Expr, idx)
		if err != nil {
			return Value{}, err
		}
		args[idx] = v
	}
	for pname, expr := range named {
		slot := indexOfString(bi.params, pname)
		if slot < 0 {
			return Value{}, Raise(ErrArityMismatch, call.Pos, "%s has no parameter %q", bi.name, pname)
		}
		v, err := evalArg(expr, slot)
		if err != nil {
			return Value{}, err
		}
		args[slot] = v
	}

	result, err := bi.fn(ctx, i, env, args, call.Pos)
	if err != nil {
		return Value{}, err
	}
	if bi.writebackFirst && ptrName != "" {
		if werr := i.assignVar(ctx, env, ptrName, result, "", true); werr != nil {
			return Value{}, werr
		}
	}
	return result, nil
}

// callIdentBuiltin evaluates an identifier-operand builtin: its first
// argument must be a pointer expression, supplying the binding name rather
// than a value; remaining arguments evaluate normally (§4.2).
func (i *Interpreter) callIdentBuiltin(ctx *evalCtx, bi *builtinEntry, call Expr, env *Environment) (Value, *RuntimeError) {
	if len(call.Args) == 0 || call.Args[0].Name != "" || call.Args[0].Expr.Kind != EPtr {
		return Value{}, Raise(ErrTypeMismatch, call.Pos, "%s requires a pointer argument (@name) first", bi.name)
	}
	ident := call.Args[0].Expr.Ident
	rest := make([]Value, 0, len(call.Args)-1)
	for _, a := range call.Args[1:] {
		v, err := i.evalExpr(ctx, a.Expr, env)
		if err != nil {
			return Value{}, err
		}
		rest = append(rest, v)
	}
	return bi.identFn(ctx, i, env, ident, rest, call.Pos)
}

func indexOfString(ss []string, s string) int {
	for idx, v := range ss {
		if v == s {
			return idx
		}
	}
	return -1
}

// registerCoreBuiltins installs the builtin set named throughout §4.3 (and
// SPEC_FULL's supplemented OS-wrapper family), grouped by concern.
func registerCoreBuiltins(r *BuiltinRegistry) {
	registerArithmetic(r)
	registerComparisons(r)
	registerScalarMisc(r)
	registerEnvBuiltins(r)
	registerTensorBuiltins(r)
	registerConcurrencyBuiltins(r)
	registerModuleBuiltins(r)
	registerSerializeBuiltins(r)
	registerIOBuiltins(r)
}

func binArgErr(pos Pos, name string) *RuntimeError {
	return Raise(ErrArityMismatch, pos, "%s requires exactly 2 arguments", name)
}

func registerArithmetic(r *BuiltinRegistry) {
	strict := map[string]binaryElemOp{
		"ADD": addElem, "SUB": subElem, "MUL": mulElem, "DIV": divElem, "POW": powElem,
	}
	for name, op := range strict {
		op := op
		name := name
		mustRegister(r, name, 2, 2, []string{"a", "b"}, true, func(ctx *evalCtx, i *Interpreter, env *Environment, args []Value, pos Pos) (Value, *RuntimeError) {
			if len(args) != 2 {
				return Value{}, binArgErr(pos, name)
			}
			return op(args[0], args[1], pos)
		})
	}
	mustRegister(r, "MOD", 2, 2, []string{"a", "b"}, true, func(ctx *evalCtx, i *Interpreter, env *Environment, args []Value, pos Pos) (Value, *RuntimeError) {
		a, b := args[0], args[1]
		switch {
		case a.Kind == VInt && b.Kind == VInt:
			if b.I == 0 {
				return Value{}, Raise(ErrDivisionByZero, pos, "modulo by zero")
			}
			m := a.I % absInt64(b.I)
			if m < 0 {
				m += absInt64(b.I)
			}
			return IntVal(m), nil
		case a.Kind == VFlt && b.Kind == VFlt:
			m := math.Mod(a.F, math.Abs(b.F))
			if m < 0 {
				m += math.Abs(b.F)
			}
			return FltVal(m), nil
		}
		return Value{}, Raise(ErrTypeMismatch, pos, "MOD requires matching numeric operands")
	})

	// Coercing variants convert both operands to the named tag before the
	// strict kernel runs (§4.3 "Coercing variants... convert first").
	coerce := map[string]func(Value) Value{
		"I": func(v Value) Value {
			if v.Kind == VFlt {
				return IntVal(int64(v.F))
			}
			return v
		},
		"F": func(v Value) Value {
			if v.Kind == VInt {
				return FltVal(float64(v.I))
			}
			return v
		},
	}
	for prefix, conv := range coerce {
		conv := conv
		for name, op := range strict {
			op := op
			coercedName := prefix + name
			mustRegister(r, coercedName, 2, 2, []string{"a", "b"}, true, func(ctx *evalCtx, i *Interpreter, env *Environment, args []Value, pos Pos) (Value, *RuntimeError) {
				if len(args) != 2 {
					return Value{}, binArgErr(pos, coercedName)
				}
				return op(conv(args[0]), conv(args[1]), pos)
			})
		}
	}

	mustRegister(r, "TINT", 1, 1, []string{"v"}, true, func(ctx *evalCtx, i *Interpreter, env *Environment, args []Value, pos Pos) (Value, *RuntimeError) {
		switch v := args[0]; v.Kind {
		case VInt:
			return v, nil
		case VFlt:
			return IntVal(int64(v.F)), nil
		case VStr:
			n, err := parseIntBinary(v.S)
			if err != nil {
				return Value{}, Raise(ErrTypeMismatch, pos, "TINT: %v", err)
			}
			return IntVal(n), nil
		}
		return Value{}, Raise(ErrTypeMismatch, pos, "TINT cannot convert %s", args[0].Kind)
	})
	mustRegister(r, "TFLT", 1, 1, []string{"v"}, true, func(ctx *evalCtx, i *Interpreter, env *Environment, args []Value, pos Pos) (Value, *RuntimeError) {
		switch v := args[0]; v.Kind {
		case VFlt:
			return v, nil
		case VInt:
			return FltVal(float64(v.I)), nil
		case VStr:
			var f float64
			fmt.Sscanf(v.S, "%g", &f)
			return FltVal(f), nil
		}
		return Value{}, Raise(ErrTypeMismatch, pos, "TFLT cannot convert %s", args[0].Kind)
	})
	mustRegister(r, "TSTR", 1, 1, []string{"v"}, true, func(ctx *evalCtx, i *Interpreter, env *Environment, args []Value, pos Pos) (Value, *RuntimeError) {
		return StrVal(displayValue(args[0])), nil
	})

	mustRegister(r, "ROOT", 2, 2, []string{"v", "n"}, true, func(ctx *evalCtx, i *Interpreter, env *Environment, args []Value, pos Pos) (Value, *RuntimeError) {
		v, n := args[0], args[1]
		switch {
		case v.Kind == VInt && n.Kind == VInt:
			if n.I == 0 {
				return Value{}, Raise(ErrDivisionByZero, pos, "ROOT requires a non-zero degree")
			}
			root := math.Pow(float64(v.I), 1.0/float64(n.I))
			return IntVal(int64(math.Round(root))), nil
		case v.Kind == VFlt && n.Kind == VFlt:
			if v.F < 0 && math.Mod(n.F, 2) == 0 {
				return Value{}, Raise(ErrTypeMismatch, pos, "even root of a negative FLT is undefined")
			}
			sign := 1.0
			base := v.F
			if base < 0 {
				sign = -1
				base = -base
			}
			return FltVal(sign * math.Pow(base, 1.0/n.F)), nil
		}
		return Value{}, Raise(ErrTypeMismatch, pos, "ROOT requires matching numeric operands")
	})
}

func absInt64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

func registerComparisons(r *BuiltinRegistry) {
	cmp := func(name string, pred func(int) bool) {
		mustRegister(r, name, 2, 2, []string{"a", "b"}, false, func(ctx *evalCtx, i *Interpreter, env *Environment, args []Value, pos Pos) (Value, *RuntimeError) {
			c, err := compareValues(args[0], args[1], pos)
			if err != nil {
				return Value{}, err
			}
			if pred(c) {
				return IntVal(1), nil
			}
			return IntVal(0), nil
		})
	}
	cmp("LT", func(c int) bool { return c < 0 })
	cmp("LE", func(c int) bool { return c <= 0 })
	cmp("GT", func(c int) bool { return c > 0 })
	cmp("GE", func(c int) bool { return c >= 0 })
	mustRegister(r, "EQ", 2, 2, []string{"a", "b"}, false, func(ctx *evalCtx, i *Interpreter, env *Environment, args []Value, pos Pos) (Value, *RuntimeError) {
		if DeepEqual(args[0], args[1]) {
			return IntVal(1), nil
		}
		return IntVal(0), nil
	})
	mustRegister(r, "NE", 2, 2, []string{"a", "b"}, false, func(ctx *evalCtx, i *Interpreter, env *Environment, args []Value, pos Pos) (Value, *RuntimeError) {
		if !DeepEqual(args[0], args[1]) {
			return IntVal(1), nil
		}
		return IntVal(0), nil
	})
}

// compareValues orders same-tagged numeric or string values, and orders
// strings by length (§9 Open Question (a): "source behaviour orders by
// length; specification preserves length").
func compareValues(a, b Value, pos Pos) (int, *RuntimeError) {
	switch {
	case a.Kind == VInt && b.Kind == VInt:
		switch {
		case a.I < b.I:
			return -1, nil
		case a.I > b.I:
			return 1, nil
		}
		return 0, nil
	case a.Kind == VFlt && b.Kind == VFlt:
		switch {
		case a.F < b.F:
			return -1, nil
		case a.F > b.F:
			return 1, nil
		}
		return 0, nil
	case a.Kind == VStr && b.Kind == VStr:
		return len(a.S) - len(b.S), nil
	}
	return 0, Raise(ErrTypeMismatch, pos, "cannot compare %s and %s", a.Kind, b.Kind)
}

func registerScalarMisc(r *BuiltinRegistry) {
	mustRegister(r, "MAX", 2, 2, []string{"a", "b"}, false, func(ctx *evalCtx, i *Interpreter, env *Environment, args []Value, pos Pos) (Value, *RuntimeError) {
		c, err := compareValues(args[0], args[1], pos)
		if err != nil {
			return Value{}, err
		}
		if c >= 0 {
			return args[0], nil
		}
		return args[1], nil
	})
	mustRegister(r, "MIN", 2, 2, []string{"a", "b"}, false, func(ctx *evalCtx, i *Interpreter, env *Environment, args []Value, pos Pos) (Value, *RuntimeError) {
		c, err := compareValues(args[0], args[1], pos)
		if err != nil {
			return Value{}, err
		}
		if c <= 0 {
			return args[0], nil
		}
		return args[1], nil
	})
	// SLICE(str, lo, hi): 1-based inclusive (§9 Open Question (b)).
	mustRegister(r, "SLICE", 3, 3, []string{"s", "lo", "hi"}, false, func(ctx *evalCtx, i *Interpreter, env *Environment, args []Value, pos Pos) (Value, *RuntimeError) {
		s, lo, hi := args[0], args[1], args[2]
		if s.Kind != VStr || lo.Kind != VInt || hi.Kind != VInt {
			return Value{}, Raise(ErrTypeMismatch, pos, "SLICE requires (STR, INT, INT)")
		}
		runes := []rune(s.S)
		n := int64(len(runes))
		loI := normalizeIndex(lo.I, n)
		hiI := normalizeIndex(hi.I, n)
		if loI < 1 || hiI > n || loI > hiI {
			return Value{}, Raise(ErrIndexOutOfRange, pos, "SLICE bounds [%d,%d] out of range for length %d", lo.I, hi.I, n)
		}
		return StrVal(string(runes[loI-1 : hiI])), nil
	})
	mustRegister(r, "PRINT", 1, -1, nil, false, func(ctx *evalCtx, i *Interpreter, env *Environment, args []Value, pos Pos) (Value, *RuntimeError) {
		if i.isShushed() {
			return Null(), nil
		}
		parts := make([]string, len(args))
		for idx, v := range args {
			parts[idx] = displayValue(v)
		}
		fmt.Fprintln(i.stdout, strings.Join(parts, " "))
		return Null(), nil
	})
	mustRegister(r, "THROW", 1, 1, []string{"message"}, false, func(ctx *evalCtx, i *Interpreter, env *Environment, args []Value, pos Pos) (Value, *RuntimeError) {
		return Value{}, RaiseCustom(pos, displayValue(args[0]))
	})
	mustRegister(r, "SHUSH", 0, 0, nil, false, func(ctx *evalCtx, i *Interpreter, env *Environment, args []Value, pos Pos) (Value, *RuntimeError) {
		i.shushPush()
		return Null(), nil
	})
	mustRegister(r, "UNSHUSH", 0, 0, nil, false, func(ctx *evalCtx, i *Interpreter, env *Environment, args []Value, pos Pos) (Value, *RuntimeError) {
		i.shushPop()
		return Null(), nil
	})
	mustRegister(r, "KEYS", 1, 1, []string{"m"}, false, func(ctx *evalCtx, i *Interpreter, env *Environment, args []Value, pos Pos) (Value, *RuntimeError) {
		if args[0].Kind != VMap {
			return Value{}, Raise(ErrTypeMismatch, pos, "KEYS requires a MAP")
		}
		keys := args[0].M.Keys()
		out := NewTensor(EUnknown, []int64{int64(len(keys))})
		for idx, k := range keys {
			out.Set(int64(idx), k)
		}
		return TnsVal(out), nil
	})
	mustRegister(r, "VALUES", 1, 1, []string{"m"}, false, func(ctx *evalCtx, i *Interpreter, env *Environment, args []Value, pos Pos) (Value, *RuntimeError) {
		if args[0].Kind != VMap {
			return Value{}, Raise(ErrTypeMismatch, pos, "VALUES requires a MAP")
		}
		vals := args[0].M.Values()
		out := NewTensor(EUnknown, []int64{int64(len(vals))})
		for idx, v := range vals {
			out.Set(int64(idx), v)
		}
		return TnsVal(out), nil
	})
}

// registerEnvBuiltins exposes the Environment operations of §4.2 that are
// not already statement forms (DEL/FREEZE/THAW/PERMAFREEZE/ALIAS) as
// identifier-operand builtins, matching how the "Pop" statement is
// documented as sugar for "DEL applied to an identifier" (§4.3).
func registerEnvBuiltins(r *BuiltinRegistry) {
	registerIdent(r, "DEL", 1, 1, func(ctx *evalCtx, i *Interpreter, env *Environment, ident string, rest []Value, pos Pos) (Value, *RuntimeError) {
		if err := i.deleteVar(ctx, env, ident); err != nil {
			return Value{}, err
		}
		return Null(), nil
	})
	registerIdent(r, "FREEZE", 1, 1, func(ctx *evalCtx, i *Interpreter, env *Environment, ident string, rest []Value, pos Pos) (Value, *RuntimeError) {
		if err := i.freezeVar(ctx, env, ident); err != nil {
			return Value{}, err
		}
		return Null(), nil
	})
	registerIdent(r, "THAW", 1, 1, func(ctx *evalCtx, i *Interpreter, env *Environment, ident string, rest []Value, pos Pos) (Value, *RuntimeError) {
		if err := i.thawVar(ctx, env, ident); err != nil {
			return Value{}, err
		}
		return Null(), nil
	})
	registerIdent(r, "PERMAFREEZE", 1, 1, func(ctx *evalCtx, i *Interpreter, env *Environment, ident string, rest []Value, pos Pos) (Value, *RuntimeError) {
		if err := i.permafreezeVar(ctx, env, ident); err != nil {
			return Value{}, err
		}
		return Null(), nil
	})
	registerIdent(r, "ALIAS", 2, 2, func(ctx *evalCtx, i *Interpreter, env *Environment, ident string, rest []Value, pos Pos) (Value, *RuntimeError) {
		if rest[0].Kind != VStr {
			return Value{}, Raise(ErrTypeMismatch, pos, "ALIAS requires a STR target name")
		}
		if err := i.aliasVar(ctx, env, ident, rest[0].S); err != nil {
			return Value{}, err
		}
		return Null(), nil
	})
}

func registerTensorBuiltins(r *BuiltinRegistry) {
	tensorBinary := func(name string, op func(a, b Value, pos Pos) (Value, *RuntimeError)) {
		mustRegister(r, name, 2, 2, []string{"a", "b"}, true, func(ctx *evalCtx, i *Interpreter, env *Environment, args []Value, pos Pos) (Value, *RuntimeError) {
			return op(args[0], args[1], pos)
		})
	}
	tensorBinary("TADD", TAdd)
	tensorBinary("TSUB", TSub)
	tensorBinary("TMUL", TMul)
	tensorBinary("TDIV", TDiv)
	tensorBinary("TPOW", TPow)
	tensorBinary("MADD", MAdd)
	tensorBinary("MSUB", MSub)
	tensorBinary("MMUL", MMul)
	tensorBinary("MDIV", MDiv)

	mustRegister(r, "MSUM", 1, -1, nil, false, func(ctx *evalCtx, i *Interpreter, env *Environment, args []Value, pos Pos) (Value, *RuntimeError) {
		return MSum(args, pos)
	})
	mustRegister(r, "MPROD", 1, -1, nil, false, func(ctx *evalCtx, i *Interpreter, env *Environment, args []Value, pos Pos) (Value, *RuntimeError) {
		return MProd(args, pos)
	})

	mustRegister(r, "SHAPE", 1, 1, []string{"t"}, false, func(ctx *evalCtx, i *Interpreter, env *Environment, args []Value, pos Pos) (Value, *RuntimeError) {
		if args[0].Kind != VTns {
			return Value{}, Raise(ErrTypeMismatch, pos, "SHAPE requires a TNS")
		}
		return Shape(args[0].T), nil
	})
	mustRegister(r, "TLEN", 2, 2, []string{"t", "dim"}, false, func(ctx *evalCtx, i *Interpreter, env *Environment, args []Value, pos Pos) (Value, *RuntimeError) {
		if args[0].Kind != VTns || args[1].Kind != VInt {
			return Value{}, Raise(ErrTypeMismatch, pos, "TLEN requires (TNS, INT)")
		}
		return TLen(args[0].T, args[1].I, pos)
	})
	mustRegister(r, "TFLIP", 2, 2, []string{"t", "dim"}, false, func(ctx *evalCtx, i *Interpreter, env *Environment, args []Value, pos Pos) (Value, *RuntimeError) {
		if args[0].Kind != VTns || args[1].Kind != VInt {
			return Value{}, Raise(ErrTypeMismatch, pos, "TFLIP requires (TNS, INT)")
		}
		return TFlip(args[0].T, args[1].I, pos)
	})
	mustRegister(r, "FILL", 2, 2, []string{"t", "v"}, false, func(ctx *evalCtx, i *Interpreter, env *Environment, args []Value, pos Pos) (Value, *RuntimeError) {
		if args[0].Kind != VTns {
			return Value{}, Raise(ErrTypeMismatch, pos, "FILL requires a TNS")
		}
		return Fill(args[0].T, args[1], pos)
	})
	mustRegister(r, "SCAT", 3, 3, []string{"src", "dst", "ind"}, false, func(ctx *evalCtx, i *Interpreter, env *Environment, args []Value, pos Pos) (Value, *RuntimeError) {
		if args[0].Kind != VTns || args[1].Kind != VTns || args[2].Kind != VTns {
			return Value{}, Raise(ErrTypeMismatch, pos, "SCAT requires three TNS arguments")
		}
		return Scat(args[0].T, args[1].T, args[2].T, pos)
	})
	mustRegister(r, "CONV", 2, 2, []string{"x", "kernel"}, false, func(ctx *evalCtx, i *Interpreter, env *Environment, args []Value, pos Pos) (Value, *RuntimeError) {
		if args[0].Kind != VTns || args[1].Kind != VTns {
			return Value{}, Raise(ErrTypeMismatch, pos, "CONV requires two TNS arguments")
		}
		return Conv(args[0].T, args[1].T, pos)
	})
	mustRegister(r, "TNS", 1, 2, []string{"a", "b"}, false, func(ctx *evalCtx, i *Interpreter, env *Environment, args []Value, pos Pos) (Value, *RuntimeError) {
		if len(args) == 1 {
			if args[0].Kind != VStr {
				return Value{}, Raise(ErrTypeMismatch, pos, "one-arg TNS requires a STR")
			}
			return TnsFromString(args[0].S), nil
		}
		if args[0].Kind != VTns {
			return Value{}, Raise(ErrTypeMismatch, pos, "two-arg TNS requires a shape TNS")
		}
		return TnsFromShape(args[0].T, args[1], pos)
	})
}

func registerConcurrencyBuiltins(r *BuiltinRegistry) {
	mustRegister(r, "AWAIT", 1, 1, []string{"thr"}, false, func(ctx *evalCtx, i *Interpreter, env *Environment, args []Value, pos Pos) (Value, *RuntimeError) {
		if args[0].Kind != VThr {
			return Value{}, Raise(ErrTypeMismatch, pos, "AWAIT requires a THR")
		}
		if err := i.Await(args[0].Th); err != nil {
			return Value{}, err
		}
		return Null(), nil
	})
	mustRegister(r, "STOP", 1, 1, []string{"thr"}, false, func(ctx *evalCtx, i *Interpreter, env *Environment, args []Value, pos Pos) (Value, *RuntimeError) {
		if args[0].Kind != VThr {
			return Value{}, Raise(ErrTypeMismatch, pos, "STOP requires a THR")
		}
		i.Stop(args[0].Th)
		return Null(), nil
	})
	mustRegister(r, "PAUSE", 1, 2, []string{"thr", "seconds"}, false, func(ctx *evalCtx, i *Interpreter, env *Environment, args []Value, pos Pos) (Value, *RuntimeError) {
		if args[0].Kind != VThr {
			return Value{}, Raise(ErrTypeMismatch, pos, "PAUSE requires a THR")
		}
		var seconds float64
		if len(args) > 1 {
			if args[1].Kind == VInt {
				seconds = float64(args[1].I)
			} else if args[1].Kind == VFlt {
				seconds = args[1].F
			}
		}
		i.Pause(args[0].Th, seconds)
		return Null(), nil
	})
	mustRegister(r, "RESUME", 1, 1, []string{"thr"}, false, func(ctx *evalCtx, i *Interpreter, env *Environment, args []Value, pos Pos) (Value, *RuntimeError) {
		if args[0].Kind != VThr {
			return Value{}, Raise(ErrTypeMismatch, pos, "RESUME requires a THR")
		}
		i.Resume(args[0].Th)
		return Null(), nil
	})
	mustRegister(r, "RESTART", 1, 1, []string{"thr"}, false, func(ctx *evalCtx, i *Interpreter, env *Environment, args []Value, pos Pos) (Value, *RuntimeError) {
		if args[0].Kind != VThr {
			return Value{}, Raise(ErrTypeMismatch, pos, "RESTART requires a THR")
		}
		if err := i.Restart(args[0].Th); err != nil {
			return Value{}, err
		}
		return args[0], nil
	})
	mustRegister(r, "PARALLEL", 1, -1, nil, false, func(ctx *evalCtx, i *Interpreter, env *Environment, args []Value, pos Pos) (Value, *RuntimeError) {
		closures := make([]*Closure, len(args))
		for idx, v := range args {
			if v.Kind != VFunc {
				return Value{}, Raise(ErrTypeMismatch, pos, "PARALLEL requires nullary FUNC arguments")
			}
			closures[idx] = v.Fn
		}
		return i.parallel.runParallel(ctx, closures, pos)
	})
}

func registerModuleBuiltins(r *BuiltinRegistry) {
	mustRegister(r, "IMPORT", 1, 2, []string{"name", "alias"}, false, func(ctx *evalCtx, i *Interpreter, env *Environment, args []Value, pos Pos) (Value, *RuntimeError) {
		if args[0].Kind != VStr {
			return Value{}, Raise(ErrTypeMismatch, pos, "IMPORT requires a STR name")
		}
		alias := ""
		if len(args) > 1 && args[1].Kind == VStr {
			alias = args[1].S
		}
		return i.modules.Import(ctx, env, args[0].S, alias, pos)
	})
	mustRegister(r, "IMPORT_PATH", 1, 2, []string{"path", "alias"}, false, func(ctx *evalCtx, i *Interpreter, env *Environment, args []Value, pos Pos) (Value, *RuntimeError) {
		if args[0].Kind != VStr {
			return Value{}, Raise(ErrTypeMismatch, pos, "IMPORT_PATH requires a STR path")
		}
		alias := ""
		if len(args) > 1 && args[1].Kind == VStr {
			alias = args[1].S
		}
		return i.modules.ImportPath(ctx, env, args[0].S, alias, pos)
	})
	mustRegister(r, "EXPORT", 2, 2, []string{"symbol", "module"}, false, func(ctx *evalCtx, i *Interpreter, env *Environment, args []Value, pos Pos) (Value, *RuntimeError) {
		if args[0].Kind != VStr || args[1].Kind != VStr {
			return Value{}, Raise(ErrTypeMismatch, pos, "EXPORT requires (STR symbol, STR module)")
		}
		return i.modules.Export(ctx, env, args[0].S, args[1].S, pos)
	})
}

func registerSerializeBuiltins(r *BuiltinRegistry) {
	mustRegister(r, "SER", 1, 1, []string{"v"}, false, func(ctx *evalCtx, i *Interpreter, env *Environment, args []Value, pos Pos) (Value, *RuntimeError) {
		s, err := Serialize(args[0])
		if err != nil {
			return Value{}, Raise(ErrTypeMismatch, pos, "SER failed: %v", err)
		}
		return StrVal(s), nil
	})
	mustRegister(r, "UNSER", 1, 1, []string{"s"}, false, func(ctx *evalCtx, i *Interpreter, env *Environment, args []Value, pos Pos) (Value, *RuntimeError) {
		if args[0].Kind != VStr {
			return Value{}, Raise(ErrTypeMismatch, pos, "UNSER requires a STR")
		}
		v, err := Deserialize(args[0].S, env)
		if err != nil {
			return Value{}, Raise(ErrTypeMismatch, pos, "UNSER failed: %v", err)
		}
		return v, nil
	})
}

// registerIOBuiltins implements the thin OS wrappers §1 treats as
// out-of-scope-but-fixed-at-the-boundary: READFILE/WRITEFILE read and
// write whole files as STR, CL runs a host command line and returns its
// combined stdout+stderr (SPEC_FULL ambient/domain stack notes).
func registerIOBuiltins(r *BuiltinRegistry) {
	mustRegister(r, "READFILE", 1, 1, []string{"path"}, false, func(ctx *evalCtx, i *Interpreter, env *Environment, args []Value, pos Pos) (Value, *RuntimeError) {
		if args[0].Kind != VStr {
			return Value{}, Raise(ErrTypeMismatch, pos, "READFILE requires a STR path")
		}
		data, err := readFileText(args[0].S)
		if err != nil {
			return Value{}, Raise(ErrIOError, pos, "%v", err)
		}
		return StrVal(data), nil
	})
	mustRegister(r, "WRITEFILE", 2, 2, []string{"path", "content"}, false, func(ctx *evalCtx, i *Interpreter, env *Environment, args []Value, pos Pos) (Value, *RuntimeError) {
		if args[0].Kind != VStr || args[1].Kind != VStr {
			return Value{}, Raise(ErrTypeMismatch, pos, "WRITEFILE requires (STR path, STR content)")
		}
		if err := writeFileText(args[0].S, args[1].S); err != nil {
			return Value{}, Raise(ErrIOError, pos, "%v", err)
		}
		return Null(), nil
	})
	mustRegister(r, "CL", 1, 1, []string{"command"}, false, func(ctx *evalCtx, i *Interpreter, env *Environment, args []Value, pos Pos) (Value, *RuntimeError) {
		if args[0].Kind != VStr {
			return Value{}, Raise(ErrTypeMismatch, pos, "CL requires a STR command line")
		}
		out, err := runCommandLine(args[0].S)
		if err != nil {
			return Value{}, Raise(ErrIOError, pos, "%v", err)
		}
		return StrVal(out), nil
	})
}

package interp

import (
	"math"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// ValueKind tags the variant of a Value (§3).
type ValueKind int

const (
	VNull ValueKind = iota
	VInt
	VFlt
	VStr
	VTns
	VMap
	VFunc
	VThr

	// VRange is not part of the user-facing value universe of §3; it is
	// the transient evaluation result of an ERange expression (§4.3
	// "Range expression: pair of start/end values carried without
	// evaluation until used as an index"), produced by evalExpr so
	// FOR/PARFOR can iterate over a range target. Index evaluation does
	// not use it: resolveIndexSpec reads an ERange's bounds directly.
	VRange
)

func (k ValueKind) String() string {
	switch k {
	case VNull:
		return "NULL"
	case VInt:
		return "INT"
	case VFlt:
		return "FLT"
	case VStr:
		return "STR"
	case VTns:
		return "TNS"
	case VMap:
		return "MAP"
	case VFunc:
		return "FUNC"
	case VThr:
		return "THR"
	}
	return "UNKNOWN"
}

// Value is the tagged sum described in spec §3. Scalars are carried
// directly; containers and closures are shared by reference.
type Value struct {
	Kind ValueKind
	I    int64
	F    float64
	S    string
	T    *Tensor
	M    *Map
	Fn   *Closure
	Th   *ThreadHandle

	// RStart/REnd hold the bounds when Kind == VRange.
	RStart int64
	REnd   int64
}

func Null() Value              { return Value{Kind: VNull} }
func IntVal(i int64) Value     { return Value{Kind: VInt, I: i} }
func FltVal(f float64) Value   { return Value{Kind: VFlt, F: f} }
func StrVal(s string) Value    { return Value{Kind: VStr, S: s} }
func TnsVal(t *Tensor) Value   { t.retain(); return Value{Kind: VTns, T: t} }
func MapVal(m *Map) Value      { m.retain(); return Value{Kind: VMap, M: m} }
func FuncVal(f *Closure) Value { return Value{Kind: VFunc, Fn: f} }
func ThrVal(t *ThreadHandle) Value { return Value{Kind: VThr, Th: t} }
func RangeVal(start, end int64) Value { return Value{Kind: VRange, RStart: start, REnd: end} }

// Truthy implements §4.1 truthiness.
func (v Value) Truthy() bool {
	switch v.Kind {
	case VNull:
		return false
	case VInt:
		return v.I != 0
	case VFlt:
		return v.F != 0 && !math.IsNaN(v.F)
	case VStr:
		return v.S != ""
	case VTns:
		return v.T != nil && v.T.Len() > 0
	case VMap:
		return v.M != nil && v.M.Len() > 0
	case VFunc, VThr:
		return true
	}
	return false
}

// DeepCopy recursively duplicates containers (§4.1).
func (v Value) DeepCopy() Value {
	switch v.Kind {
	case VTns:
		return TnsVal(v.T.deepCopy())
	case VMap:
		return MapVal(v.M.deepCopy())
	case VStr:
		return StrVal(string([]byte(v.S)))
	default:
		return v
	}
}

// ShallowCopy bumps refcounts for containers and duplicates owned strings
// (§4.1); scalars are value types so this is identical to a plain copy for
// them, but containers keep sharing their backing storage.
func (v Value) ShallowCopy() Value {
	switch v.Kind {
	case VTns:
		v.T.retain()
		return v
	case VMap:
		v.M.retain()
		return v
	case VStr:
		return StrVal(string([]byte(v.S)))
	default:
		return v
	}
}

// Release decrements refcounts on containers, freeing contents on the last
// reference (§4.1, §3 Lifecycle).
func (v Value) Release() {
	switch v.Kind {
	case VTns:
		v.T.release()
	case VMap:
		v.M.release()
	}
}

// DeepEqual implements §4.1 structural equality; Func and Thr compare by
// identity.
func DeepEqual(a, b Value) bool {
	if a.Kind != b.Kind {
		return false
	}
	switch a.Kind {
	case VNull:
		return true
	case VInt:
		return a.I == b.I
	case VFlt:
		return a.F == b.F
	case VStr:
		return a.S == b.S
	case VTns:
		return tensorsEqual(a.T, b.T)
	case VMap:
		return mapsEqual(a.M, b.M)
	case VFunc:
		return a.Fn == b.Fn
	case VThr:
		return a.Th == b.Th
	}
	return false
}

// ElemKind identifies the static element type of a Tensor (§3); UNKNOWN is
// permitted for heterogeneous internal cases.
type ElemKind int

const (
	EUnknown ElemKind = iota
	EInt64
	EFlt64
	EString
	ETensor
	EFunction
)

func elemKindOf(v Value) ElemKind {
	switch v.Kind {
	case VInt:
		return EInt64
	case VFlt:
		return EFlt64
	case VStr:
		return EString
	case VTns:
		return ETensor
	case VFunc:
		return EFunction
	}
	return EUnknown
}

func (e ElemKind) valueKind() ValueKind {
	switch e {
	case EInt64:
		return VInt
	case EFlt64:
		return VFlt
	case EString:
		return VStr
	case ETensor:
		return VTns
	case EFunction:
		return VFunc
	}
	return VNull
}

// Tensor is the shared, reference-counted N-D array described in §3.
type Tensor struct {
	mu       sync.Mutex
	refcount int32
	elemType ElemKind
	shape    []int64
	strides  []int64
	data     []Value
	id       string
}

// NewTensor allocates a tensor of the given shape and element type, zero
// (default) filled. The invariants length == Π shape and
// strides[i] == Π shape[i+1:] are established here and preserved by every
// subsequent mutation in this package, except that an empty (rank-0) shape
// gives a tensor of length 0 rather than 1.
func NewTensor(elemType ElemKind, shape []int64) *Tensor {
	t := &Tensor{
		refcount: 1,
		elemType: elemType,
		shape:    append([]int64(nil), shape...),
		id:       uuid.NewString(),
	}
	t.strides = stridesFor(shape)
	n := productShape(shape)
	t.data = make([]Value, n)
	zero := zeroValueFor(elemType)
	for i := range t.data {
		t.data[i] = zero
	}
	return t
}

func stridesFor(shape []int64) []int64 {
	s := make([]int64, len(shape))
	acc := int64(1)
	for i := len(shape) - 1; i >= 0; i-- {
		s[i] = acc
		acc *= shape[i]
	}
	return s
}

func productShape(shape []int64) int64 {
	n := int64(1)
	for _, d := range shape {
		n *= d
	}
	if len(shape) == 0 {
		return 0
	}
	return n
}

func zeroValueFor(k ElemKind) Value {
	switch k {
	case EInt64:
		return IntVal(0)
	case EFlt64:
		return FltVal(0)
	case EString:
		return StrVal("")
	case ETensor:
		return Null()
	case EFunction:
		return Null()
	}
	return Null()
}

func (t *Tensor) retain() {
	if t == nil {
		return
	}
	atomic.AddInt32(&t.refcount, 1)
}

func (t *Tensor) release() {
	if t == nil {
		return
	}
	if atomic.AddInt32(&t.refcount, -1) == 0 {
		t.mu.Lock()
		for i := range t.data {
			t.data[i].Release()
		}
		t.data = nil
		t.mu.Unlock()
	}
}

func (t *Tensor) Len() int64 { return int64(len(t.data)) }

func (t *Tensor) Shape() []int64 { return append([]int64(nil), t.shape...) }

func (t *Tensor) Rank() int { return len(t.shape) }

func (t *Tensor) ElemType() ElemKind { return t.elemType }

// At returns a copy of the element at the given linear (row-major) index.
func (t *Tensor) At(linear int64) Value {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.data[linear].ShallowCopy()
}

// Set writes v at the given linear index without checking v against the
// element type; callers that know the target index path enforce the
// element-type and shape rules of §3 before calling it.
func (t *Tensor) Set(linear int64, v Value) {
	t.mu.Lock()
	old := t.data[linear]
	t.data[linear] = v.ShallowCopy()
	t.mu.Unlock()
	old.Release()
}

func (t *Tensor) deepCopy() *Tensor {
	t.mu.Lock()
	defer t.mu.Unlock()
	nt := &Tensor{
		refcount: 1,
		elemType: t.elemType,
		shape:    append([]int64(nil), t.shape...),
		strides:  append([]int64(nil), t.strides...),
		id:       uuid.NewString(),
	}
	nt.data = make([]Value, len(t.data))
	for i, v := range t.data {
		nt.data[i] = v.DeepCopy()
	}
	return nt
}

func tensorsEqual(a, b *Tensor) bool {
	if a == b {
		return true
	}
	if a == nil || b == nil {
		return false
	}
	a.mu.Lock()
	b.mu.Lock()
	defer a.mu.Unlock()
	defer b.mu.Unlock()
	if a.elemType != b.elemType || len(a.shape) != len(b.shape) {
		return false
	}
	for i := range a.shape {
		if a.shape[i] != b.shape[i] {
			return false
		}
	}
	if len(a.data) != len(b.data) {
		return false
	}
	for i := range a.data {
		if !DeepEqual(a.data[i], b.data[i]) {
			return false
		}
	}
	return true
}

// mapEntry is one (key, value) pair of an ordered Map.
type mapEntry struct {
	key Value
	val Value
}

// Map is the shared, reference-counted ordered key/value container of §3.
type Map struct {
	mu       sync.Mutex
	refcount int32
	entries  []mapEntry
	index    map[string]int // scalar key signature -> entries index
	id       string
}

// NewMap allocates an empty map.
func NewMap() *Map {
	return &Map{refcount: 1, index: map[string]int{}, id: uuid.NewString()}
}

func keySig(k Value) string {
	switch k.Kind {
	case VInt:
		return "i:" + itoa(k.I)
	case VFlt:
		return "f:" + ftoa(k.F)
	case VStr:
		return "s:" + k.S
	}
	return "?"
}

func (m *Map) retain() {
	if m == nil {
		return
	}
	atomic.AddInt32(&m.refcount, 1)
}

func (m *Map) release() {
	if m == nil {
		return
	}
	if atomic.AddInt32(&m.refcount, -1) == 0 {
		m.mu.Lock()
		for _, e := range m.entries {
			e.key.Release()
			e.val.Release()
		}
		m.entries = nil
		m.mu.Unlock()
	}
}

func (m *Map) Len() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.entries))
}

// Get returns the value stored under key, preserving insertion order and
// replace-in-place semantics (§3 Map).
func (m *Map) Get(key Value) (Value, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	idx, ok := m.index[keySig(key)]
	if !ok {
		return Value{}, false
	}
	return m.entries[idx].val.ShallowCopy(), true
}

// Set inserts or replaces key's value, preserving insertion order.
func (m *Map) Set(key, val Value) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sig := keySig(key)
	if idx, ok := m.index[sig]; ok {
		old := m.entries[idx].val
		m.entries[idx].val = val.ShallowCopy()
		old.Release()
		return
	}
	m.index[sig] = len(m.entries)
	m.entries = append(m.entries, mapEntry{key: key.ShallowCopy(), val: val.ShallowCopy()})
}

// Delete removes key if present.
func (m *Map) Delete(key Value) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sig := keySig(key)
	idx, ok := m.index[sig]
	if !ok {
		return
	}
	removed := m.entries[idx]
	m.entries = append(m.entries[:idx], m.entries[idx+1:]...)
	delete(m.index, sig)
	for k, v := range m.index {
		if v > idx {
			m.index[k] = v - 1
		}
	}
	removed.key.Release()
	removed.val.Release()
}

// Keys returns keys in insertion order (§4.3 KEYS).
func (m *Map) Keys() []Value {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Value, len(m.entries))
	for i, e := range m.entries {
		out[i] = e.key.ShallowCopy()
	}
	return out
}

// Values returns values in insertion order (§4.3 VALUES).
func (m *Map) Values() []Value {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Value, len(m.entries))
	for i, e := range m.entries {
		out[i] = e.val.ShallowCopy()
	}
	return out
}

func (m *Map) deepCopy() *Map {
	m.mu.Lock()
	defer m.mu.Unlock()
	nm := NewMap()
	for _, e := range m.entries {
		nm.Set(e.key.DeepCopy(), e.val.DeepCopy())
	}
	return nm
}

func mapsEqual(a, b *Map) bool {
	if a == b {
		return true
	}
	if a == nil || b == nil {
		return false
	}
	a.mu.Lock()
	b.mu.Lock()
	defer a.mu.Unlock()
	defer b.mu.Unlock()
	if len(a.entries) != len(b.entries) {
		return false
	}
	for sig, idx := range a.index {
		bidx, ok := b.index[sig]
		if !ok || !DeepEqual(a.entries[idx].val, b.entries[bidx].val) {
			return false
		}
	}
	return true
}

// Closure is the Func value of §3: a user function capturing its defining
// environment.
type Closure struct {
	Name       string
	Params     []Param
	ReturnType string
	Body       []Stmt
	Env        *Environment
}

// ThreadHandle is the Thr value of §3 and the subject of the state
// transitions in §5/§4.6.
type ThreadHandle struct {
	mu       sync.Mutex
	ID       string
	Started  bool
	Paused   bool
	Finished bool
	Body     []Stmt
	Env      *Environment
	err      *RuntimeError
	done     chan struct{}
}

func NewThreadHandle(body []Stmt, env *Environment) *ThreadHandle {
	return &ThreadHandle{ID: uuid.NewString(), Body: body, Env: env, done: make(chan struct{})}
}

func (th *ThreadHandle) setStarted(v bool) {
	th.mu.Lock()
	th.Started = v
	th.mu.Unlock()
}

func (th *ThreadHandle) isPaused() bool {
	th.mu.Lock()
	defer th.mu.Unlock()
	return th.Paused
}

func (th *ThreadHandle) isFinished() bool {
	th.mu.Lock()
	defer th.mu.Unlock()
	return th.Finished
}

func (th *ThreadHandle) setPaused(v bool) {
	th.mu.Lock()
	th.Paused = v
	th.mu.Unlock()
}

func (th *ThreadHandle) markFinished(err *RuntimeError) {
	th.mu.Lock()
	already := th.Finished
	th.Finished = true
	th.err = err
	th.mu.Unlock()
	if !already {
		close(th.done)
	}
}

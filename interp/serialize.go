package interp

import (
	"fmt"
	"strconv"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
)

// serialize.go implements C8 (spec §4.8): structural JSON encode/decode of
// values, with id/ref sharing for functions and environments.

// envelope is the on-wire shape of one serialized Value or Environment. Not
// every field applies to every `t`; unused fields are simply omitted by
// go-json's omitempty.
type envelope struct {
	T    string      `json:"t"`
	V    interface{} `json:"v,omitempty"`
	ID   string      `json:"id,omitempty"`
	Ref  bool        `json:"ref,omitempty"`
	Shape []int64    `json:"shape,omitempty"`
	Elem  string     `json:"elem,omitempty"`
	Def  *funcDef    `json:"def,omitempty"`

	// environment fields, present when T == "ENV"
	Values      map[string]*envelope `json:"values,omitempty"`
	Declared    map[string]string    `json:"declared,omitempty"`
	Frozen      []string             `json:"frozen,omitempty"`
	Permafrozen []string             `json:"permafrozen,omitempty"`
	Parent      *envelope            `json:"parent,omitempty"`

	// thread fields, present when T == "THR"
	Started  bool      `json:"started,omitempty"`
	Paused   bool      `json:"paused,omitempty"`
	Finished bool      `json:"finished,omitempty"`
	Body     []Stmt    `json:"body,omitempty"`
	Env      *envelope `json:"env,omitempty"`
}

type kvPair struct {
	K *envelope `json:"k"`
	V *envelope `json:"v"`
}

// funcDef is the {name,return,params,body,closure} payload of a first-time
// FUNC envelope (§4.8).
type funcDef struct {
	Name    string    `json:"name"`
	Return  string    `json:"return"`
	Params  []Param   `json:"params"`
	Body    []Stmt    `json:"body"`
	Closure *envelope `json:"closure"`
}

// serEncoder tracks object identity so repeated references within one
// SER call share an id instead of duplicating the payload (§4.8).
type serEncoder struct {
	funcIDs map[*Closure]string
	envIDs  map[*Environment]string
}

func newSerEncoder() *serEncoder {
	return &serEncoder{funcIDs: map[*Closure]string{}, envIDs: map[*Environment]string{}}
}

// Serialize renders v as the §4.8 JSON scheme.
func Serialize(v Value) (string, error) {
	enc := newSerEncoder()
	env, err := enc.encodeValue(v)
	if err != nil {
		return "", err
	}
	data, err := json.Marshal(env)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (enc *serEncoder) encodeValue(v Value) (*envelope, error) {
	switch v.Kind {
	case VNull:
		return &envelope{T: "NULL"}, nil
	case VInt:
		return &envelope{T: "INT", V: formatIntBinary(v.I)}, nil
	case VFlt:
		return &envelope{T: "FLT", V: formatFloat(v.F)}, nil
	case VStr:
		return &envelope{T: "STR", V: v.S}, nil
	case VTns:
		return enc.encodeTensor(v.T)
	case VMap:
		return enc.encodeMap(v.M)
	case VFunc:
		return enc.encodeFunc(v.Fn)
	case VThr:
		return enc.encodeThread(v.Th)
	}
	return nil, fmt.Errorf("serialize: unsupported value kind %v", v.Kind)
}

func (enc *serEncoder) encodeTensor(t *Tensor) (*envelope, error) {
	t.mu.Lock()
	data := append([]Value(nil), t.data...)
	shape := append([]int64(nil), t.shape...)
	elem := t.elemType
	t.mu.Unlock()

	items := make([]*envelope, len(data))
	for i, elemVal := range data {
		ev, err := enc.encodeValue(elemVal)
		if err != nil {
			return nil, err
		}
		items[i] = ev
	}
	return &envelope{T: "TNS", Shape: shape, Elem: elemKindString(elem), V: items}, nil
}

func (enc *serEncoder) encodeMap(m *Map) (*envelope, error) {
	m.mu.Lock()
	entries := append([]mapEntry(nil), m.entries...)
	m.mu.Unlock()

	pairs := make([]kvPair, len(entries))
	for i, e := range entries {
		k, err := enc.encodeValue(e.key)
		if err != nil {
			return nil, err
		}
		vv, err := enc.encodeValue(e.val)
		if err != nil {
			return nil, err
		}
		pairs[i] = kvPair{K: k, V: vv}
	}
	return &envelope{T: "MAP", V: pairs}, nil
}

func (enc *serEncoder) encodeFunc(cl *Closure) (*envelope, error) {
	if cl == nil {
		return &envelope{T: "FUNC"}, nil
	}
	if id, ok := enc.funcIDs[cl]; ok {
		return &envelope{T: "FUNC", ID: id, Ref: true}, nil
	}
	id := uuid.NewString()
	enc.funcIDs[cl] = id
	var closureEnv *envelope
	var err error
	if cl.Env != nil {
		closureEnv, err = enc.encodeEnv(cl.Env)
		if err != nil {
			return nil, err
		}
	}
	return &envelope{T: "FUNC", ID: id, Def: &funcDef{
		Name:    cl.Name,
		Return:  cl.ReturnType,
		Params:  cl.Params,
		Body:    cl.Body,
		Closure: closureEnv,
	}}, nil
}

func (enc *serEncoder) encodeThread(th *ThreadHandle) (*envelope, error) {
	if th == nil {
		return &envelope{T: "THR"}, nil
	}
	th.mu.Lock()
	started, paused, finished, body, threadEnv := th.Started, th.Paused, th.Finished, th.Body, th.Env
	th.mu.Unlock()
	var envEnv *envelope
	var err error
	if threadEnv != nil {
		envEnv, err = enc.encodeEnv(threadEnv)
		if err != nil {
			return nil, err
		}
	}
	return &envelope{T: "THR", ID: th.ID, Started: started, Paused: paused, Finished: finished, Body: body, Env: envEnv}, nil
}

func (enc *serEncoder) encodeEnv(e *Environment) (*envelope, error) {
	if id, ok := enc.envIDs[e]; ok {
		return &envelope{T: "ENV", ID: id, Ref: true}, nil
	}
	id := uuid.NewString()
	enc.envIDs[e] = id

	values := map[string]*envelope{}
	declared := map[string]string{}
	var frozen, permafrozen []string
	for _, name := range e.Names() {
		declaredType, v, initialized, isFrozen, isPermafrozen, aliasTarget, ok := e.Entry(name)
		if !ok || aliasTarget != "" {
			continue
		}
		declared[name] = declaredType
		if isFrozen {
			frozen = append(frozen, name)
		}
		if isPermafrozen {
			permafrozen = append(permafrozen, name)
		}
		if !initialized {
			continue
		}
		ev, err := enc.encodeValue(v)
		if err != nil {
			return nil, err
		}
		values[name] = ev
	}
	var parent *envelope
	if e.Parent() != nil {
		var err error
		parent, err = enc.encodeEnv(e.Parent())
		if err != nil {
			return nil, err
		}
	}
	return &envelope{
		T: "ENV", ID: id,
		Values: values, Declared: declared,
		Frozen: frozen, Permafrozen: permafrozen,
		Parent: parent,
	}, nil
}

// serDecoder mirrors serEncoder for UNSER, resolving id/ref back to the
// same *Closure / *Environment instance within one Deserialize call.
type serDecoder struct {
	funcs map[string]*Closure
	envs  map[string]*Environment
	root  *Environment
}

// Deserialize reconstructs a value from its §4.8 JSON form. root becomes
// the parent of any environment whose serialized form had none, so
// restored closures can still see the caller's bindings.
func Deserialize(s string, root *Environment) (Value, error) {
	var env envelope
	if err := json.Unmarshal([]byte(s), &env); err != nil {
		return Value{}, err
	}
	dec := &serDecoder{funcs: map[string]*Closure{}, envs: map[string]*Environment{}, root: root}
	return dec.decodeValue(&env)
}

func (dec *serDecoder) decodeValue(e *envelope) (Value, error) {
	if e == nil {
		return Null(), nil
	}
	switch e.T {
	case "NULL", "":
		return Null(), nil
	case "INT":
		s, _ := e.V.(string)
		i, err := parseIntBinary(s)
		if err != nil {
			return Value{}, err
		}
		return IntVal(i), nil
	case "FLT":
		s, _ := e.V.(string)
		f, err := parseFloat(s)
		if err != nil {
			return Value{}, err
		}
		return FltVal(f), nil
	case "STR":
		s, _ := e.V.(string)
		return StrVal(s), nil
	case "TNS":
		return dec.decodeTensor(e)
	case "MAP":
		return dec.decodeMap(e)
	case "FUNC":
		return dec.decodeFunc(e)
	case "THR":
		return dec.decodeThread(e)
	}
	return Value{}, fmt.Errorf("deserialize: unknown value tag %q", e.T)
}

// decodeTensor reconstructs a tensor with the envelope's elem type and
// shape, storing each element exactly as it decodes. Elements are neither
// converted to the elem type nor checked against it, so a heterogeneous
// (UNKNOWN) tensor keeps each element's own kind (§9 Open Question (c)).
func (dec *serDecoder) decodeTensor(e *envelope) (Value, error) {
	raw, err := json.Marshal(e.V)
	if err != nil {
		return Value{}, err
	}
	var items []*envelope
	if err := json.Unmarshal(raw, &items); err != nil {
		return Value{}, err
	}
	elemType := elemKindFromString(e.Elem)
	t := NewTensor(elemType, e.Shape)
	for i, item := range items {
		if i >= len(t.data) {
			break
		}
		v, err := dec.decodeValue(item)
		if err != nil {
			return Value{}, err
		}
		t.data[i] = v
	}
	return TnsVal(t), nil
}

func (dec *serDecoder) decodeMap(e *envelope) (Value, error) {
	raw, err := json.Marshal(e.V)
	if err != nil {
		return Value{}, err
	}
	var pairs []kvPair
	if err := json.Unmarshal(raw, &pairs); err != nil {
		return Value{}, err
	}
	m := NewMap()
	for _, p := range pairs {
		k, err := dec.decodeValue(p.K)
		if err != nil {
			return Value{}, err
		}
		v, err := dec.decodeValue(p.V)
		if err != nil {
			return Value{}, err
		}
		m.Set(k, v)
	}
	return MapVal(m), nil
}

func (dec *serDecoder) decodeFunc(e *envelope) (Value, error) {
	if e.Ref {
		if cl, ok := dec.funcs[e.ID]; ok {
			return FuncVal(cl), nil
		}
		return Value{}, fmt.Errorf("deserialize: dangling function ref %q", e.ID)
	}
	if e.Def == nil {
		return Value{}, fmt.Errorf("deserialize: FUNC envelope missing def")
	}
	cl := &Closure{Name: e.Def.Name, Params: e.Def.Params, ReturnType: e.Def.Return, Body: e.Def.Body}
	if e.ID != "" {
		dec.funcs[e.ID] = cl
	}
	closureEnv, err := dec.decodeEnv(e.Def.Closure)
	if err != nil {
		return Value{}, err
	}
	cl.Env = closureEnv
	return FuncVal(cl), nil
}

// decodeThread reconstructs the body and captured environment. The
// serialized state flags and id are not restored: a restored handle gets a
// fresh id and is always started, not paused and finished, since the
// goroutine that ran it does not exist in this process (§4.8).
func (dec *serDecoder) decodeThread(e *envelope) (Value, error) {
	env, err := dec.decodeEnv(e.Env)
	if err != nil {
		return Value{}, err
	}
	th := NewThreadHandle(e.Body, env)
	th.Started = true
	th.Paused = false
	th.Finished = true
	close(th.done)
	return ThrVal(th), nil
}

func (dec *serDecoder) decodeEnv(e *envelope) (*Environment, error) {
	if e == nil {
		return dec.root, nil
	}
	if e.Ref {
		if env, ok := dec.envs[e.ID]; ok {
			return env, nil
		}
		return nil, fmt.Errorf("deserialize: dangling environment ref %q", e.ID)
	}
	parent, err := dec.decodeEnv(e.Parent)
	if err != nil {
		return nil, err
	}
	if parent == nil {
		parent = dec.root
	}
	env := NewEnvironment(parent)
	if e.ID != "" {
		dec.envs[e.ID] = env
	}
	for name, declaredType := range e.Declared {
		_ = env.Define(name, declaredType)
	}
	for name, ev := range e.Values {
		v, err := dec.decodeValue(ev)
		if err != nil {
			return nil, err
		}
		if err := env.Assign(name, v, e.Declared[name], true); err != nil {
			return nil, fmt.Errorf("deserialize: restoring %q: %v", name, err)
		}
	}
	for _, name := range e.Frozen {
		_ = env.Freeze(name)
	}
	for _, name := range e.Permafrozen {
		_ = env.Permafreeze(name)
	}
	return env, nil
}

func elemKindString(e ElemKind) string {
	switch e {
	case EInt64:
		return "INT"
	case EFlt64:
		return "FLT"
	case EString:
		return "STR"
	case ETensor:
		return "TNS"
	case EFunction:
		return "FUNC"
	}
	return "UNKNOWN"
}

func elemKindFromString(s string) ElemKind {
	switch s {
	case "INT":
		return EInt64
	case "FLT":
		return EFlt64
	case "STR":
		return EString
	case "TNS":
		return ETensor
	case "FUNC":
		return EFunction
	}
	return EUnknown
}

// parseFloat is UNSER's counterpart to formatFloat, accepting the same
// INF/-INF/NaN sentinels.
func parseFloat(s string) (float64, error) {
	switch s {
	case "INF":
		return maxFloat * 2, nil
	case "-INF":
		return -maxFloat * 2, nil
	case "NaN":
		return nanValue(), nil
	}
	return strconv.ParseFloat(s, 64)
}

func nanValue() float64 {
	zero := zeroFloat()
	return zero / zero
}

func zeroFloat() float64 { return 0 }

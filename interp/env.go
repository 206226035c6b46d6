package interp

import "sync"

// env.go implements the Environment / EnvironmentEntry model of spec §4.2.

const maxAliasDepth = 256

// entry is one binding in an Environment (§3 EnvironmentEntry).
type entry struct {
	name         string
	declaredType string // "" means UNKNOWN
	value        Value
	initialized  bool
	frozen       bool
	permafrozen  bool
	aliasTarget  string // "" unless this entry is an alias
}

// Environment is a lexically nested binding table (§3/§4.2).
type Environment struct {
	mu      sync.RWMutex
	parent  *Environment
	order   []string // preserves definition order for debug/table printing
	entries map[string]*entry
}

// NewEnvironment creates a fresh environment chained to parent (nil for a
// root/module environment).
func NewEnvironment(parent *Environment) *Environment {
	return &Environment{parent: parent, entries: map[string]*entry{}}
}

func (e *Environment) Parent() *Environment { return e.parent }

// Define creates a locally uninitialized entry; fails if name already
// exists in this environment (§4.2 define).
func (e *Environment) Define(name, declaredType string) *RuntimeError {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.entries[name]; ok {
		return errf(ErrTypeMismatch, "%q already defined in this scope", name)
	}
	e.entries[name] = &entry{name: name, declaredType: declaredType}
	e.order = append(e.order, name)
	return nil
}

// lookupChain walks the chain to find the environment owning name,
// returning nil if unbound anywhere.
func (e *Environment) lookupChain(name string) (*Environment, *entry) {
	for env := e; env != nil; env = env.parent {
		env.mu.RLock()
		ent, ok := env.entries[name]
		env.mu.RUnlock()
		if ok {
			return env, ent
		}
	}
	return nil, nil
}

// resolveAlias follows an alias chain to its terminal (owning-environment,
// entry) pair, starting the walk from the environment that owns ent.
// Cycles and excessive depth are rejected per §3/§4.2.
func resolveAlias(owner *Environment, ent *entry) (*Environment, *entry, *RuntimeError) {
	seen := map[*entry]bool{}
	cur := ent
	curEnv := owner
	for depth := 0; cur.aliasTarget != ""; depth++ {
		if depth >= maxAliasDepth {
			return nil, nil, errf(ErrAliasCycle, "alias chain exceeds depth %d", maxAliasDepth)
		}
		if seen[cur] {
			return nil, nil, errf(ErrAliasCycle, "alias cycle detected")
		}
		seen[cur] = true
		nextEnv, next := curEnv.lookupChain(cur.aliasTarget)
		if next == nil {
			return nil, nil, errf(ErrUnbound, "alias target %q not bound", cur.aliasTarget)
		}
		cur = next
		curEnv = nextEnv
	}
	return curEnv, cur, nil
}

// Get returns a copy of the value, its declared type, and whether it is
// initialized, following alias chains (§4.2 get).
func (e *Environment) Get(name string) (Value, string, bool, *RuntimeError) {
	owner, ent := e.lookupChain(name)
	if ent == nil {
		return Value{}, "", false, errf(ErrUnbound, "%q is not bound", name)
	}
	targetEnv, target, err := resolveAlias(owner, ent)
	if err != nil {
		return Value{}, "", false, err
	}
	targetEnv.mu.RLock()
	defer targetEnv.mu.RUnlock()
	return target.value.ShallowCopy(), target.declaredType, target.initialized, nil
}

// Assign honours freezing, alias routing, and declared-type checks, and
// optionally declares locally when missing (§4.2 assign).
func (e *Environment) Assign(name string, v Value, declaredType string, declareIfMissing bool) *RuntimeError {
	owner, ent := e.lookupChain(name)
	if ent == nil {
		if !declareIfMissing {
			return errf(ErrUnbound, "%q is not bound", name)
		}
		e.mu.Lock()
		e.entries[name] = &entry{name: name, declaredType: declaredType}
		e.order = append(e.order, name)
		e.mu.Unlock()
		owner, ent = e, e.entries[name]
	}
	targetEnv, target, err := resolveAlias(owner, ent)
	if err != nil {
		return err
	}
	targetEnv.mu.Lock()
	defer targetEnv.mu.Unlock()
	if target.permafrozen {
		return errf(ErrFrozenWrite, "%q is permafrozen", name)
	}
	if target.frozen {
		return errf(ErrFrozenWrite, "%q is frozen", name)
	}
	dt := target.declaredType
	if declaredType != "" {
		dt = declaredType
		target.declaredType = declaredType
	}
	if dt != "" && dt != "UNKNOWN" && !typeMatches(dt, v) {
		return errf(ErrTypeMismatch, "cannot assign %s to declared type %s", v.Kind, dt)
	}
	old := target.value
	target.value = v.ShallowCopy()
	target.initialized = true
	old.Release()
	return nil
}

func typeMatches(declared string, v Value) bool {
	switch declared {
	case "INT":
		return v.Kind == VInt
	case "FLT":
		return v.Kind == VFlt
	case "STR":
		return v.Kind == VStr
	case "TNS":
		return v.Kind == VTns
	case "MAP":
		return v.Kind == VMap
	case "FUNC":
		return v.Kind == VFunc
	case "THR":
		return v.Kind == VThr
	}
	return true
}

// Delete removes the value but keeps the entry (§4.2 delete); fails on
// frozen/permafrozen.
func (e *Environment) Delete(name string) *RuntimeError {
	owner, ent := e.lookupChain(name)
	if ent == nil {
		return errf(ErrUnbound, "%q is not bound", name)
	}
	targetEnv, target, err := resolveAlias(owner, ent)
	if err != nil {
		return err
	}
	targetEnv.mu.Lock()
	defer targetEnv.mu.Unlock()
	if target.permafrozen || target.frozen {
		return errf(ErrFrozenWrite, "%q is frozen", name)
	}
	old := target.value
	target.value = Value{}
	target.initialized = false
	old.Release()
	return nil
}

// Freeze/Thaw/Permafreeze toggle write-protection flags (§4.2).
func (e *Environment) Freeze(name string) *RuntimeError {
	return e.withLocalEntry(name, func(ent *entry) *RuntimeError {
		ent.frozen = true
		return nil
	})
}

func (e *Environment) Thaw(name string) *RuntimeError {
	return e.withLocalEntry(name, func(ent *entry) *RuntimeError {
		if ent.permafrozen {
			return errf(ErrFrozenWrite, "%q is permafrozen and cannot be thawed", name)
		}
		ent.frozen = false
		return nil
	})
}

func (e *Environment) Permafreeze(name string) *RuntimeError {
	return e.withLocalEntry(name, func(ent *entry) *RuntimeError {
		ent.frozen = true
		ent.permafrozen = true
		return nil
	})
}

func (e *Environment) withLocalEntry(name string, fn func(*entry) *RuntimeError) *RuntimeError {
	owner, ent := e.lookupChain(name)
	if ent == nil {
		return errf(ErrUnbound, "%q is not bound", name)
	}
	targetEnv, target, err := resolveAlias(owner, ent)
	if err != nil {
		return err
	}
	targetEnv.mu.Lock()
	defer targetEnv.mu.Unlock()
	return fn(target)
}

// Alias converts name into an alias of target, disallowing cycles and
// alias-to-frozen targets (§4.2).
func (e *Environment) Alias(name, target string) *RuntimeError {
	owner, ent := e.lookupChain(name)
	if ent == nil {
		return errf(ErrUnbound, "%q is not bound", name)
	}
	targetEnv, targetEnt := e.lookupChain(target)
	if targetEnt == nil {
		return errf(ErrUnbound, "alias target %q is not bound", target)
	}
	targetEnv.mu.RLock()
	frozen := targetEnt.frozen || targetEnt.permafrozen
	targetEnv.mu.RUnlock()
	if frozen {
		return errf(ErrFrozenWrite, "cannot alias to frozen target %q", target)
	}
	owner.mu.Lock()
	if ent.permafrozen {
		owner.mu.Unlock()
		return errf(ErrFrozenWrite, "%q is permafrozen", name)
	}
	old := ent.value
	ent.value = Value{}
	ent.initialized = false
	ent.aliasTarget = target
	owner.mu.Unlock()
	old.Release()
	if _, _, err := resolveAlias(owner, ent); err != nil {
		owner.mu.Lock()
		ent.aliasTarget = ""
		owner.mu.Unlock()
		return err
	}
	return nil
}

// Names returns local entry names in definition order, for the REPL's
// `.env` table dump (SPEC_FULL §4 rodaine/table component).
func (e *Environment) Names() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]string(nil), e.order...)
}

// Entry returns a read-only snapshot of a local entry for display purposes.
func (e *Environment) Entry(name string) (declaredType string, value Value, initialized, frozen, permafrozen bool, aliasTarget string, ok bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	ent, found := e.entries[name]
	if !found {
		return "", Value{}, false, false, false, "", false
	}
	return ent.declaredType, ent.value, ent.initialized, ent.frozen, ent.permafrozen, ent.aliasTarget, true
}

func errf(kind ErrKind, format string, args ...interface{}) *RuntimeError {
	return Raise(kind, Pos{}, format, args...)
}

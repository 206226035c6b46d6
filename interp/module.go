package interp

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	cache "github.com/go-pkgz/expirable-cache/v3"

	"github.com/buildkite/shellwords"
)

// module.go implements C7 (spec §4.7): IMPORT/IMPORT_PATH resolution,
// the canonical-path-keyed module execution cache, EXPORT, and .prex
// native-extension manifests.

// resolveCacheTTL bounds how long a resolved name -> canonical path
// mapping is trusted before IMPORT re-walks the search path, in case the
// script tree changes between runs of a long-lived REPL (grounded on
// zond-juicemud/game/jsstats.go's go-pkgz/expirable-cache usage for
// short-lived derived lookups, as distinct from the permanent
// per-canonical-path module environment cache below).
const resolveCacheTTL = 5 * time.Minute

// ParseFunc parses Prefix source text into a statement list, supplied by
// the external parser (out of scope for this package, §1/§6).
type ParseFunc func(src string) ([]Stmt, error)

// ModuleLoader resolves IMPORT/IMPORT_PATH targets and caches executed
// module environments by canonical path (§4.7).
type ModuleLoader struct {
	interp   *Interpreter
	libPaths []string
	parse    ParseFunc

	resolveCache cache.Cache[string, string]

	mu      sync.Mutex
	modules map[string]*Environment // canonical path -> executed module env
}

func newModuleLoader(i *Interpreter, libPaths []string) *ModuleLoader {
	return &ModuleLoader{
		interp:       i,
		libPaths:     libPaths,
		resolveCache: cache.NewCache[string, string]().WithMaxKeys(4096).WithTTL(resolveCacheTTL).WithLRU(),
		modules:      map[string]*Environment{},
	}
}

// SetParse installs the parser callback used to compile module source;
// required before the first IMPORT (wired from cmd/prefix's main, which
// owns the concrete lexer/parser, §6).
func (l *ModuleLoader) SetParse(p ParseFunc) { l.parse = p }

// Import resolves name against the primary script's directory (set by
// SetScriptDir), the script-local lib/, the interpreter's lib/, and then
// Options.LibPaths (§4.7 IMPORT). The directory of the importing module is
// not searched: a module that imports another resolves it from the primary
// script's directory like any other caller.
func (l *ModuleLoader) Import(ctx *evalCtx, env *Environment, name, alias string, pos Pos) (Value, *RuntimeError) {
	rel := strings.ReplaceAll(name, ".", string(filepath.Separator))
	searchDirs := l.searchDirs()
	canonical, rerr := l.resolve(rel, searchDirs, pos)
	if rerr != nil {
		return Value{}, rerr
	}
	if alias == "" {
		alias = filepath.Base(rel)
	}
	return l.loadAndExpose(ctx, env, canonical, alias, pos)
}

// ImportPath executes the module at an explicit file or directory path
// (§4.7 IMPORT_PATH), deriving a default alias from the basename.
func (l *ModuleLoader) ImportPath(ctx *evalCtx, env *Environment, path, alias string, pos Pos) (Value, *RuntimeError) {
	canonical, rerr := l.resolveExplicit(path, pos)
	if rerr != nil {
		return Value{}, rerr
	}
	if alias == "" {
		alias = strings.TrimSuffix(filepath.Base(canonical), filepath.Ext(canonical))
	}
	return l.loadAndExpose(ctx, env, canonical, alias, pos)
}

// Export installs a value from the caller into the named module's
// environment, and mirrors module.symbol back into the caller (§4.7
// EXPORT).
func (l *ModuleLoader) Export(ctx *evalCtx, env *Environment, symbol, module string, pos Pos) (Value, *RuntimeError) {
	v, _, initialized, err := i_readVar(l.interp, ctx, env, symbol)
	if err != nil {
		return Value{}, err
	}
	if !initialized {
		return Value{}, Raise(ErrUninitialized, pos, "%q is not initialized", symbol)
	}
	l.mu.Lock()
	modEnv, ok := l.modules[module]
	l.mu.Unlock()
	if !ok {
		return Value{}, Raise(ErrImportNotFound, pos, "module %q has not been imported", module)
	}
	_ = l.interp.defineVar(ctx, modEnv, symbol, "")
	if err := l.interp.assignVar(ctx, modEnv, symbol, v, "", true); err != nil {
		return Value{}, err
	}
	qualified := module + "." + symbol
	_ = l.interp.defineVar(ctx, env, qualified, "")
	if err := l.interp.assignVar(ctx, env, qualified, v, "", true); err != nil {
		return Value{}, err
	}
	return v, nil
}

// i_readVar is a free-function shim so module.go (which has no evalCtx
// receiver of its own) can reuse the write-buffer-aware read path.
func i_readVar(i *Interpreter, ctx *evalCtx, env *Environment, name string) (Value, string, bool, *RuntimeError) {
	return i.readVar(ctx, env, name)
}

func (l *ModuleLoader) searchDirs() []string {
	var dirs []string
	if l.interp.scriptDir != "" {
		dirs = append(dirs, l.interp.scriptDir, filepath.Join(l.interp.scriptDir, "lib"))
	}
	if l.interp.exeDir != "" {
		dirs = append(dirs, filepath.Join(l.interp.exeDir, "lib"))
	}
	dirs = append(dirs, l.libPaths...)
	return dirs
}

// resolve walks searchDirs for rel, accepting a package directory
// containing init.pre or a rel.pre file (§4.7).
func (l *ModuleLoader) resolve(rel string, searchDirs []string, pos Pos) (string, *RuntimeError) {
	cacheKey := rel + "\x00" + strings.Join(searchDirs, "\x00")
	if hit, ok := l.resolveCache.Get(cacheKey); ok {
		return hit, nil
	}
	for _, dir := range searchDirs {
		if dir == "" {
			continue
		}
		pkgInit := filepath.Join(dir, rel, "init.pre")
		if fileExists(pkgInit) {
			canonical, err := filepath.Abs(pkgInit)
			if err == nil {
				l.resolveCache.Set(cacheKey, canonical, 0)
				return canonical, nil
			}
		}
		fileMatch := filepath.Join(dir, rel+".pre")
		if fileExists(fileMatch) {
			canonical, err := filepath.Abs(fileMatch)
			if err == nil {
				l.resolveCache.Set(cacheKey, canonical, 0)
				return canonical, nil
			}
		}
	}
	return "", Raise(ErrImportNotFound, pos, "module %q not found in search path", rel)
}

func (l *ModuleLoader) resolveExplicit(path string, pos Pos) (string, *RuntimeError) {
	info, err := os.Stat(path)
	if err != nil {
		return "", Raise(ErrImportNotFound, pos, "%v", err)
	}
	target := path
	if info.IsDir() {
		target = filepath.Join(path, "init.pre")
	}
	canonical, err := filepath.Abs(target)
	if err != nil {
		return "", Raise(ErrImportNotFound, pos, "%v", err)
	}
	return canonical, nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// loadAndExpose executes canonical (if not already cached), then exposes
// every non-underscore module symbol under alias.name in env, plus the
// bare alias binding (§4.7).
func (l *ModuleLoader) loadAndExpose(ctx *evalCtx, env *Environment, canonical, alias string, pos Pos) (Value, *RuntimeError) {
	modEnv, freshlyLoaded, rerr := l.loadOnce(ctx, canonical, pos)
	if rerr != nil {
		return Value{}, rerr
	}
	_ = freshlyLoaded
	for _, name := range modEnv.Names() {
		if strings.HasPrefix(name, "_") {
			continue
		}
		v, declType, initialized, err := modEnv.Get(name)
		if err != nil || !initialized {
			continue
		}
		qualified := alias + "." + name
		_ = l.interp.defineVar(ctx, env, qualified, declType)
		_ = l.interp.assignVar(ctx, env, qualified, v, declType, true)
	}
	_ = l.interp.defineVar(ctx, env, alias, "")
	if _, _, initialized, _ := env.Get(alias); !initialized {
		_ = l.interp.assignVar(ctx, env, alias, StrVal(""), "", true)
	}
	return StrVal(canonical), nil
}

// loadOnce executes the module source at canonical exactly once per
// process, per the §4.7 module cache. Companion .prex manifests are
// processed first so native extensions are registered before the module
// body runs.
func (l *ModuleLoader) loadOnce(ctx *evalCtx, canonical string, pos Pos) (*Environment, bool, *RuntimeError) {
	l.mu.Lock()
	if env, ok := l.modules[canonical]; ok {
		l.mu.Unlock()
		return env, false, nil
	}
	l.mu.Unlock()

	if l.parse == nil {
		return nil, false, Raise(ErrImportNotFound, pos, "no parser installed for module execution")
	}
	if err := l.loadExtensionManifest(canonical + "x"); err != nil {
		return nil, false, Raise(ErrIOError, pos, "%v", err)
	}
	src, err := os.ReadFile(canonical)
	if err != nil {
		return nil, false, Raise(ErrImportNotFound, pos, "%v", err)
	}
	prog, perr := l.parse(string(src))
	if perr != nil {
		return nil, false, Raise(ErrParseError, pos, "%v", perr)
	}
	modEnv := NewEnvironment(nil)
	_ = modEnv.Define("__MODULE_SOURCE__", "STR")
	_ = modEnv.Assign("__MODULE_SOURCE__", StrVal(canonical), "STR", true)

	modCtx := l.interp.newEvalCtx()
	res := l.interp.execBlock(modCtx, prog, modEnv)
	if res.Kind == ResError {
		return nil, false, res.Err
	}
	_ = modEnv.Define("__MODULE_LOADED__", "INT")
	_ = modEnv.Assign("__MODULE_LOADED__", IntVal(1), "INT", true)

	l.mu.Lock()
	l.modules[canonical] = modEnv
	l.mu.Unlock()
	l.interp.audit.Event("module.loaded", map[string]interface{}{"path": canonical})
	return modEnv, true, nil
}

// LoadExtension registers a single native-extension path supplied directly
// on the command line (§6), or a .prex manifest listing several. It shares
// loadExtensionManifest's audit-only stub behavior: no dlopen/plugin.Open
// is attempted, since no native extension binaries ship with this module.
func (i *Interpreter) LoadExtension(path string) error {
	if strings.HasSuffix(path, ".prex") {
		return i.modules.loadExtensionManifest(path)
	}
	i.audit.Event("module.extension", map[string]interface{}{"library": path})
	return nil
}

// loadExtensionManifest parses a .prex file (one extension or further
// .prex path per line, `!` comments, recursively loaded) if present. Each
// entry would register builtins via prefix_extension_init; native plugin
// loading itself is outside this package's portable surface, so entries
// are recorded via an audit event rather than dlopen'd, and no builtins
// are registered.
func (l *ModuleLoader) loadExtensionManifest(path string) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "!") {
			continue
		}
		fields, err := shellwords.SplitPosix(line)
		if err != nil || len(fields) == 0 {
			continue
		}
		entry := fields[0]
		if strings.HasSuffix(entry, ".prex") {
			if err := l.loadExtensionManifest(entry); err != nil {
				return err
			}
			continue
		}
		l.interp.audit.Event("module.extension", map[string]interface{}{"library": entry})
	}
	return nil
}

package interp

import (
	"os"
	"path/filepath"
	"testing"
)

func newTestInterpreter(t *testing.T, scriptDir string) *Interpreter {
	t.Helper()
	i := New(Options{})
	i.SetScriptDir(scriptDir)
	i.modules.SetParse(func(src string) ([]Stmt, error) {
		return []Stmt{}, nil
	})
	return i
}

func TestModuleImportCachesByCanonicalPath(t *testing.T) {
	dir := t.TempDir()
	modPath := filepath.Join(dir, "greet.pre")
	if err := os.WriteFile(modPath, []byte(""), 0644); err != nil {
		t.Fatal(err)
	}
	i := newTestInterpreter(t, dir)
	ctx := i.newEvalCtx()
	env := NewEnvironment(nil)

	if _, err := i.modules.Import(ctx, env, "greet", "", Pos{}); err != nil {
		t.Fatalf("first IMPORT failed: %v", err)
	}
	if len(i.modules.modules) != 1 {
		t.Fatalf("expected one cached module, got %d", len(i.modules.modules))
	}
	if _, err := i.modules.Import(ctx, env, "greet", "", Pos{}); err != nil {
		t.Fatalf("second IMPORT failed: %v", err)
	}
	if len(i.modules.modules) != 1 {
		t.Errorf("second IMPORT should reuse the cached module, cache has %d entries", len(i.modules.modules))
	}
}

func TestModuleImportNotFound(t *testing.T) {
	dir := t.TempDir()
	i := newTestInterpreter(t, dir)
	ctx := i.newEvalCtx()
	env := NewEnvironment(nil)

	_, err := i.modules.Import(ctx, env, "nope", "", Pos{})
	if err == nil || err.Kind != ErrImportNotFound {
		t.Fatalf("expected ErrImportNotFound, got %v", err)
	}
}

func TestModuleImportExposesAlias(t *testing.T) {
	dir := t.TempDir()
	modPath := filepath.Join(dir, "nums.pre")
	if err := os.WriteFile(modPath, []byte(""), 0644); err != nil {
		t.Fatal(err)
	}
	i := newTestInterpreter(t, dir)
	i.modules.parse = func(src string) ([]Stmt, error) { return nil, nil }
	ctx := i.newEvalCtx()
	env := NewEnvironment(nil)

	if _, err := i.modules.Import(ctx, env, "nums", "n", Pos{}); err != nil {
		t.Fatalf("IMPORT failed: %v", err)
	}
	if _, _, initialized, err := env.Get("n"); err != nil || !initialized {
		t.Errorf("expected bare alias %q to be bound, err=%v initialized=%v", "n", err, initialized)
	}
}

func TestModuleExportRequiresPriorImport(t *testing.T) {
	dir := t.TempDir()
	i := newTestInterpreter(t, dir)
	ctx := i.newEvalCtx()
	env := NewEnvironment(nil)
	_ = env.Define("x", "INT")
	_ = env.Assign("x", IntVal(1), "INT", true)

	_, err := i.modules.Export(ctx, env, "x", "nums", Pos{})
	if err == nil || err.Kind != ErrImportNotFound {
		t.Fatalf("expected ErrImportNotFound, got %v", err)
	}
}

func TestModulePrexManifestParsesExtensionEntries(t *testing.T) {
	dir := t.TempDir()
	modPath := filepath.Join(dir, "plug.pre")
	if err := os.WriteFile(modPath, []byte(""), 0644); err != nil {
		t.Fatal(err)
	}
	manifest := "! comment line\nlibplug.so\n"
	if err := os.WriteFile(modPath+"x", []byte(manifest), 0644); err != nil {
		t.Fatal(err)
	}
	i := newTestInterpreter(t, dir)
	ctx := i.newEvalCtx()
	env := NewEnvironment(nil)
	if _, err := i.modules.Import(ctx, env, "plug", "", Pos{}); err != nil {
		t.Fatalf("IMPORT with .prex manifest failed: %v", err)
	}
}

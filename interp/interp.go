// Package interp implements the Prefix tree-walking evaluator and runtime
// value/environment model (spec §1–§5). The package shape — a single
// Interpreter struct holding global resources, a universe scope, and an
// Eval/EvalWithContext/REPL surface — follows the teacher's
// (github.com/breadchris/yaegi) interp.Interpreter.
package interp

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"sync"
	"sync/atomic"

	"golang.org/x/term"
)

// Options configure a new Interpreter (mirrors yaegi's Options).
type Options struct {
	Stdin          io.Reader
	Stdout, Stderr io.Writer

	// LibPaths are additional directories searched by IMPORT after the
	// primary script's directory, the script-local lib/ and the
	// executable-local lib/ (§4.7).
	LibPaths []string

	// Verbose enables extra diagnostic printing (stack traces on
	// unhandled errors).
	Verbose bool

	// Audit receives structured lifecycle events if non-nil (SPEC_FULL
	// §4 ambient logging component). It is an interface so interp does
	// not import internal/auditlog directly (kept decoupled, like the
	// teacher's io.Writer-based opt.stdout/stderr).
	Audit AuditSink
}

// AuditSink receives structured lifecycle events. internal/auditlog.Logger
// implements this.
type AuditSink interface {
	Event(kind string, fields map[string]interface{})
}

type noopAudit struct{}

func (noopAudit) Event(string, map[string]interface{}) {}

// Interpreter holds global resources and state for one Prefix program run,
// analogous to yaegi's Interpreter.
type Interpreter struct {
	id uint64 // cancellation generation counter, atomic

	mu       sync.RWMutex
	universe *Environment
	builtins *BuiltinRegistry
	modules  *ModuleLoader
	parallel *ParallelEngine

	stdin          io.Reader
	stdout, stderr io.Writer
	verbose        bool
	shush          int32 // SHUSH/UNSHUSH nesting counter, interpreter-wide

	audit AuditSink

	scriptDir string
	exeDir    string

	done chan struct{}
}

// New returns a new Interpreter, ready to Eval Prefix programs.
func New(opts Options) *Interpreter {
	i := &Interpreter{
		universe: NewEnvironment(nil),
		stdin:    opts.Stdin,
		stdout:   opts.Stdout,
		stderr:   opts.Stderr,
		verbose:  opts.Verbose,
		audit:    opts.Audit,
		done:     make(chan struct{}),
	}
	if i.stdin == nil {
		i.stdin = os.Stdin
	}
	if i.stdout == nil {
		i.stdout = os.Stdout
	}
	if i.stderr == nil {
		i.stderr = os.Stderr
	}
	if i.audit == nil {
		i.audit = noopAudit{}
	}
	i.builtins = newBuiltinRegistry()
	i.modules = newModuleLoader(i, opts.LibPaths)
	i.parallel = newParallelEngine(i)
	if exe, err := os.Executable(); err == nil {
		i.exeDir = dirOf(exe)
	}
	return i
}

func (i *Interpreter) runid() uint64     { return atomic.LoadUint64(&i.id) }
func (i *Interpreter) bumpRunID() uint64 { return atomic.AddUint64(&i.id, 1) }
func (i *Interpreter) isShushed() bool   { return atomic.LoadInt32(&i.shush) > 0 }
func (i *Interpreter) shushPush()        { atomic.AddInt32(&i.shush, 1) }
func (i *Interpreter) shushPop() {
	if atomic.AddInt32(&i.shush, -1) < 0 {
		atomic.StoreInt32(&i.shush, 0)
	}
}

// Universe returns the interpreter's global environment.
func (i *Interpreter) Universe() *Environment { return i.universe }

// Builtins returns the interpreter's builtin registry (C4), so extensions
// can dynamically register additional entries (§4.4).
func (i *Interpreter) Builtins() *BuiltinRegistry { return i.builtins }

// Modules returns the interpreter's module loader (C7), so the owning
// cmd/ binary can wire in its parser via SetParse before the first IMPORT.
func (i *Interpreter) Modules() *ModuleLoader { return i.modules }

// SetScriptDir records the primary source's directory, used as the first
// IMPORT search location (§4.7) and as the process working directory
// switch target (§6 "Environment variables").
func (i *Interpreter) SetScriptDir(dir string) { i.scriptDir = dir }

// Eval executes a parsed Prefix program (a statement list) against the
// universe environment. It returns the value of a top-level RETURN that
// ends the program, Null otherwise (expression statement values are not
// kept), or a non-nil error on an unhandled runtime error.
func (i *Interpreter) Eval(prog []Stmt) (Value, error) {
	ctx := i.newEvalCtx()
	var last Value
	res := i.execBlock(ctx, prog, i.universe)
	switch res.Kind {
	case ResOk:
		last = res.Value
	case ResError:
		i.audit.Event("error.unhandled", map[string]interface{}{"message": res.Err.Message, "kind": res.Err.Kind.String()})
		return last, res.Err
	case ResReturn:
		last = res.Value
	}
	return last, nil
}

// EvalWithContext evaluates prog, aborting early if ctx is cancelled, the
// same cooperative-cancellation shape as yaegi's EvalWithContext.
func (i *Interpreter) EvalWithContext(ctx context.Context, prog []Stmt) (Value, error) {
	type r struct {
		v   Value
		err error
	}
	out := make(chan r, 1)
	go func() {
		v, err := i.Eval(prog)
		out <- r{v, err}
	}()
	select {
	case <-ctx.Done():
		i.stop()
		return Value{}, ctx.Err()
	case res := <-out:
		return res.v, res.err
	}
}

func (i *Interpreter) stop() {
	i.bumpRunID()
	close(i.done)
	i.done = make(chan struct{})
}

// evalCtx carries the per-call mutable interpreter state threaded through
// eval_expr/exec_stmt (§4.3): the owning thread handle (nil for the main
// program), used for STOP/PAUSE polling at statement boundaries, and the
// run generation this call started under.
type evalCtx struct {
	interp *Interpreter
	thread *ThreadHandle // nil on the main goroutine
	runGen uint64

	// wbuf is non-nil while executing inside a PARFOR worker body, routing
	// every environment mutation through the engine's single-consumer
	// prepare thread instead of acquiring the target Environment's lock
	// directly (§4.6). nil everywhere else, where env ops run unbuffered.
	wbuf *ParallelEngine
}

func (i *Interpreter) newEvalCtx() *evalCtx {
	return &evalCtx{interp: i, runGen: i.runid()}
}

func (i *Interpreter) newEvalCtxFor(th *ThreadHandle) *evalCtx {
	return &evalCtx{interp: i, thread: th, runGen: i.runid()}
}

// withWriteBuffer returns a copy of ctx that routes environment writes
// through pe's prepare thread, used for each PARFOR worker's evalCtx.
func (ctx *evalCtx) withWriteBuffer(pe *ParallelEngine) *evalCtx {
	cp := *ctx
	cp.wbuf = pe
	return &cp
}

// REPL performs a Read-Eval-Print-Loop on the Interpreter's stdin,
// printing results/errors to stdout/stderr, in the manner of yaegi's
// Interpreter.REPL. Unlike yaegi, Prefix statements are supplied already
// parsed by the (external) parser via the parse callback, since parsing is
// out of scope for this package; REPL accumulates raw lines and hands them
// to parse once their braces balance (§6). No line-continuation marker is
// recognised: a line that leaves braces balanced is parsed immediately.
func (i *Interpreter) REPL(parse func(src string) ([]Stmt, error)) error {
	in := bufio.NewScanner(i.stdin)
	prompt := i.replPrompt()
	var src string
	depth := 0

	var tbl *envTable
	if term.IsTerminal(0) {
		tbl = newEnvTable(i.stdout)
	}

	prompt()
	for in.Scan() {
		line := in.Text()
		if depth == 0 && src == "" {
			switch line {
			case ".exit":
				return nil
			case ".env":
				if tbl != nil {
					tbl.dump(i.universe)
				}
				prompt()
				continue
			}
		}
		depth += braceDelta(line)
		src += line + "\n"
		if depth > 0 {
			continue
		}
		prog, err := parse(src)
		if err != nil {
			fmt.Fprintln(i.stderr, err)
			src = ""
			depth = 0
			prompt()
			continue
		}
		v, err := i.Eval(prog)
		if err != nil {
			fmt.Fprintln(i.stderr, "Runtime error:", err)
			if i.verbose {
				if re, ok := err.(*RuntimeError); ok {
					fmt.Fprintln(i.stderr, re.StackTrace())
				}
			}
		} else if v.Kind != VNull {
			fmt.Fprintln(i.stdout, ":", displayValue(v))
		}
		src = ""
		depth = 0
		prompt()
	}
	return in.Err()
}

func (i *Interpreter) replPrompt() func() {
	if !term.IsTerminal(0) {
		return func() {}
	}
	return func() { fmt.Fprint(i.stdout, "> ") }
}

func braceDelta(line string) int {
	d := 0
	for _, c := range line {
		switch c {
		case '{':
			d++
		case '}':
			d--
		}
	}
	return d
}

func dirOf(p string) string {
	for i := len(p) - 1; i >= 0; i-- {
		if p[i] == '/' {
			return p[:i]
		}
	}
	return "."
}

func displayValue(v Value) string {
	switch v.Kind {
	case VInt:
		return formatIntBinary(v.I)
	case VFlt:
		return formatFloat(v.F)
	case VStr:
		return v.S
	case VNull:
		return "NULL"
	case VTns:
		return "<tensor " + shapeString(v.T.Shape()) + ">"
	case VMap:
		return "<map len=" + strconv.FormatInt(v.M.Len(), 10) + ">"
	case VFunc:
		return "<func " + v.Fn.Name + ">"
	case VThr:
		return "<thread " + v.Th.ID + ">"
	}
	return "?"
}

func shapeString(shape []int64) string {
	s := "["
	for idx, d := range shape {
		if idx > 0 {
			s += ","
		}
		s += strconv.FormatInt(d, 10)
	}
	return s + "]"
}

package interp

import (
	"context"
	"runtime"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// concurrency.go implements C6 (spec §4.6/§5): OS-thread workers, the
// cooperative PAUSE/RESUME/STOP/RESTART state machine, PARFOR's namespace
// write buffer, and PARALLEL's errgroup-based fan-out. The bounded
// concurrency idiom (a weighted semaphore capping live workers) is
// grounded on gitrdm-gokando/internal/parallel's WorkerPool, adapted here
// from a generic goal-evaluation pool into a Prefix thread scheduler.

const maxLiveThreads = 256

// bgContext is the root context for threads and parallel fan-out started
// from Prefix code; cancellation of a run is handled separately through
// ThreadHandle.Finished/checkSuspend rather than context cancellation.
func bgContext() context.Context { return context.Background() }

// ParallelEngine owns the namespace write buffer (prepare thread) and the
// semaphore bounding concurrently live OS threads started by THR/ASYNC/
// PARFOR/PARALLEL.
type ParallelEngine struct {
	interp *Interpreter
	sem    *semaphore.Weighted

	writeMu sync.Mutex
	writeQ  chan writeOp
}

type writeOp struct {
	fn   func() *RuntimeError
	done chan *RuntimeError
}

func newParallelEngine(i *Interpreter) *ParallelEngine {
	pe := &ParallelEngine{
		interp: i,
		sem:    semaphore.NewWeighted(maxLiveThreads),
		writeQ: make(chan writeOp, 256),
	}
	go pe.prepareLoop()
	return pe
}

// prepareLoop is the single-consumer "prepare thread" of §4.6: every
// namespace write from a PARFOR worker is enqueued here and executed while
// holding writeMu, the process-wide environment lock described in §4.6,
// giving a per-symbol FIFO happens-before order.
func (pe *ParallelEngine) prepareLoop() {
	for op := range pe.writeQ {
		pe.writeMu.Lock()
		err := op.fn()
		pe.writeMu.Unlock()
		op.done <- err
	}
}

// enqueueWrite submits fn to the prepare thread and blocks for its result.
func (pe *ParallelEngine) enqueueWrite(fn func() *RuntimeError) *RuntimeError {
	done := make(chan *RuntimeError, 1)
	pe.writeQ <- writeOp{fn: fn, done: done}
	return <-done
}

// syncRead runs fn under writeMu, so it waits for a write the prepare
// thread is applying at that moment and never observes a half-applied
// write. Writes still waiting in writeQ are not waited for, and a read
// followed by a write is not atomic with respect to other workers.
func (pe *ParallelEngine) syncRead(fn func()) {
	pe.writeMu.Lock()
	defer pe.writeMu.Unlock()
	fn()
}

// osYield cooperates with the Go scheduler while a thread is paused,
// analogous to a native OS yield (§4.6 "busy-waits (with OS yield)").
func osYield() {
	runtime.Gosched()
	time.Sleep(time.Millisecond)
}

// startThread launches th.Body on a new OS-backed goroutine, scheduling it
// through the engine's semaphore so at most maxLiveThreads run
// concurrently (§4.6 THR/ASYNC starts immediately).
func (i *Interpreter) startThread(th *ThreadHandle) {
	th.setStarted(true)
	i.audit.Event("thread.start", map[string]interface{}{"id": th.ID})
	go func() {
		ctxBg := i.newEvalCtxFor(th)
		_ = i.parallel.sem.Acquire(bgContext(), 1)
		defer i.parallel.sem.Release(1)
		res := i.execBlock(ctxBg, th.Body, th.Env)
		var rerr *RuntimeError
		if res.Kind == ResError && res.Err.Kind != ErrStopRequested {
			rerr = res.Err
		}
		th.markFinished(rerr)
		i.audit.Event("thread.finish", map[string]interface{}{"id": th.ID, "error": errString(rerr)})
	}()
}

func errString(e *RuntimeError) string {
	if e == nil {
		return ""
	}
	return e.Error()
}

// Await blocks until th.Finished, then returns its terminal error, if any
// (§4.6 AWAIT).
func (i *Interpreter) Await(th *ThreadHandle) *RuntimeError {
	<-th.done
	th.mu.Lock()
	defer th.mu.Unlock()
	return th.err
}

// Stop flips the finished flag so the next statement boundary the worker
// checks unwinds it with StopRequested (§4.6 STOP).
func (i *Interpreter) Stop(th *ThreadHandle) {
	th.markFinished(nil)
	i.audit.Event("thread.stop", map[string]interface{}{"id": th.ID})
}

// Pause sets paused=true; if seconds > 0, a helper goroutine auto-RESUMEs
// after the delay (§4.6 PAUSE).
func (i *Interpreter) Pause(th *ThreadHandle, seconds float64) {
	th.setPaused(true)
	i.audit.Event("thread.pause", map[string]interface{}{"id": th.ID, "seconds": seconds})
	if seconds > 0 {
		go func() {
			time.Sleep(time.Duration(seconds * float64(time.Second)))
			i.Resume(th)
		}()
	}
}

// Resume clears the paused flag (§4.6 RESUME).
func (i *Interpreter) Resume(th *ThreadHandle) {
	th.setPaused(false)
	i.audit.Event("thread.resume", map[string]interface{}{"id": th.ID})
}

// Restart requires finished==true, resets flags, and re-runs the stored
// body with the stored environment (§4.6 RESTART).
func (i *Interpreter) Restart(th *ThreadHandle) *RuntimeError {
	th.mu.Lock()
	if !th.Finished {
		th.mu.Unlock()
		return Raise(ErrTypeMismatch, Pos{}, "RESTART requires a finished thread")
	}
	th.Finished = false
	th.Paused = false
	th.Started = true
	th.err = nil
	th.done = make(chan struct{})
	th.mu.Unlock()
	i.startThread(th)
	i.audit.Event("thread.restart", map[string]interface{}{"id": th.ID})
	return nil
}

// runParfor launches one worker per iteration, binding the loop variable
// privately to each and coordinating outer-scope writes through the
// namespace write buffer (§4.3 Parfor, §4.6). It mirrors FOR's result
// semantics: the first Break's value wins, any worker Error is
// propagated after all workers have been awaited (§7), others dropped.
func (i *Interpreter) runParfor(ctx *evalCtx, varName string, items []Value, body []Stmt, outerEnv *Environment) ExecResult {
	return i.parallel.runParfor(ctx, varName, items, body, outerEnv)
}

func (pe *ParallelEngine) runParfor(ctx *evalCtx, varName string, items []Value, body []Stmt, outerEnv *Environment) ExecResult {
	i := pe.interp
	g, _ := errgroup.WithContext(bgContext())

	var mu sync.Mutex
	var firstBreak *Value
	var lastVal Value

	// Every worker shares outerEnv directly; mutations reaching outside a
	// worker's private iteration scope are routed through pe's prepare
	// thread by bufCtx, giving the FIFO per-symbol ordering §4.6 requires
	// whenever more than one worker is live.
	bufCtx := ctx.withWriteBuffer(pe)

	for idx := range items {
		it := items[idx]
		g.Go(func() error {
			if err := pe.sem.Acquire(bgContext(), 1); err != nil {
				return err
			}
			defer pe.sem.Release(1)

			iterEnv := NewEnvironment(outerEnv)
			_ = iterEnv.Define(varName, "")
			_ = iterEnv.Assign(varName, it, "", true)

			res := i.execBlock(bufCtx, body, iterEnv)
			switch res.Kind {
			case ResError:
				return res.Err
			case ResBreak:
				mu.Lock()
				if firstBreak == nil {
					v := res.Value
					firstBreak = &v
				}
				mu.Unlock()
			case ResOk:
				mu.Lock()
				lastVal = res.Value
				mu.Unlock()
			}
			return nil
		})
	}

	err := g.Wait()
	if err != nil {
		if re, ok := err.(*RuntimeError); ok {
			return errResult(re)
		}
		return errResult(Raise(ErrTypeMismatch, Pos{}, "%v", err))
	}
	if firstBreak != nil {
		return okResult(*firstBreak)
	}
	return okResult(lastVal)
}

// runParallel implements PARALLEL(funcs...) (§4.6): one worker per nullary
// closure, the first error reported after every worker has finished,
// others dropped.
func (pe *ParallelEngine) runParallel(ctx *evalCtx, closures []*Closure, pos Pos) (Value, *RuntimeError) {
	i := pe.interp
	g, _ := errgroup.WithContext(bgContext())
	for idx := range closures {
		cl := closures[idx]
		g.Go(func() error {
			if err := pe.sem.Acquire(bgContext(), 1); err != nil {
				return err
			}
			defer pe.sem.Release(1)
			callEnv := NewEnvironment(cl.Env)
			res := i.execBlock(ctx, cl.Body, callEnv)
			if res.Kind == ResError {
				return res.Err
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		if re, ok := err.(*RuntimeError); ok {
			return Value{}, re
		}
		return Value{}, Raise(ErrTypeMismatch, pos, "%v", err)
	}
	return Null(), nil
}

// The wrapper methods below are the single seam every environment
// mutation in exec.go/eval.go passes through. Outside a PARFOR worker
// (ctx.wbuf == nil) they call straight through to the Environment method;
// inside one, the call is enqueued to the prepare thread so concurrent
// workers' writes to shared bindings apply in FIFO order under one lock
// (§4.6), and reads synchronize against the same lock so a worker never
// observes a torn write.

func (i *Interpreter) defineVar(ctx *evalCtx, env *Environment, name, declType string) *RuntimeError {
	if ctx.wbuf == nil {
		return env.Define(name, declType)
	}
	return ctx.wbuf.enqueueWrite(func() *RuntimeError { return env.Define(name, declType) })
}

func (i *Interpreter) assignVar(ctx *evalCtx, env *Environment, name string, v Value, declType string, declareIfMissing bool) *RuntimeError {
	if ctx.wbuf == nil {
		return env.Assign(name, v, declType, declareIfMissing)
	}
	return ctx.wbuf.enqueueWrite(func() *RuntimeError { return env.Assign(name, v, declType, declareIfMissing) })
}

func (i *Interpreter) deleteVar(ctx *evalCtx, env *Environment, name string) *RuntimeError {
	if ctx.wbuf == nil {
		return env.Delete(name)
	}
	return ctx.wbuf.enqueueWrite(func() *RuntimeError { return env.Delete(name) })
}

func (i *Interpreter) aliasVar(ctx *evalCtx, env *Environment, name, target string) *RuntimeError {
	if ctx.wbuf == nil {
		return env.Alias(name, target)
	}
	return ctx.wbuf.enqueueWrite(func() *RuntimeError { return env.Alias(name, target) })
}

func (i *Interpreter) freezeVar(ctx *evalCtx, env *Environment, name string) *RuntimeError {
	if ctx.wbuf == nil {
		return env.Freeze(name)
	}
	return ctx.wbuf.enqueueWrite(func() *RuntimeError { return env.Freeze(name) })
}

func (i *Interpreter) thawVar(ctx *evalCtx, env *Environment, name string) *RuntimeError {
	if ctx.wbuf == nil {
		return env.Thaw(name)
	}
	return ctx.wbuf.enqueueWrite(func() *RuntimeError { return env.Thaw(name) })
}

func (i *Interpreter) permafreezeVar(ctx *evalCtx, env *Environment, name string) *RuntimeError {
	if ctx.wbuf == nil {
		return env.Permafreeze(name)
	}
	return ctx.wbuf.enqueueWrite(func() *RuntimeError { return env.Permafreeze(name) })
}

// readVar reads under the prepare thread's lock (syncRead) when ctx is
// inside a PARFOR worker; writes still queued in writeQ are not waited for.
func (i *Interpreter) readVar(ctx *evalCtx, env *Environment, name string) (Value, string, bool, *RuntimeError) {
	if ctx.wbuf == nil {
		return env.Get(name)
	}
	var v Value
	var dt string
	var init bool
	var rerr *RuntimeError
	ctx.wbuf.syncRead(func() { v, dt, init, rerr = env.Get(name) })
	return v, dt, init, rerr
}

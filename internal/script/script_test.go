package script

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mudpienet/mudpie/internal/dbref"
	"github.com/mudpienet/mudpie/internal/model"
)

type fakeCompiled struct{ id string }

func (fakeCompiled) Close() error { return nil }

type countingCompiler struct {
	calls int32
}

func (c *countingCompiler) Compile(source string) (model.Compiled, error) {
	atomic.AddInt32(&c.calls, 1)
	if source == "bad" {
		return nil, errors.New("syntax error")
	}
	return fakeCompiled{id: source}, nil
}

type scriptedRunner struct {
	writeLines []string
	ret        any
	err        error
	blockUntil <-chan struct{}
}

func (r *scriptedRunner) Run(ctx context.Context, compiled model.Compiled, globals Globals) (any, error) {
	for _, l := range r.writeLines {
		globals.PlayerOutput.WriteLine(l)
	}
	if r.blockUntil != nil {
		select {
		case <-r.blockUntil:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return r.ret, r.err
}

func loaderFor(programs map[dbref.DbRef]*model.Program) ProgramLoader {
	return func(_ context.Context, ref dbref.DbRef) (*model.Program, error) {
		p, ok := programs[ref]
		if !ok {
			return nil, errors.New("no such program")
		}
		return p, nil
	}
}

func TestRunProgramNotSpecified(t *testing.T) {
	e := New(loaderFor(nil), &countingCompiler{}, &scriptedRunner{})
	ctx := e.RunProgram(context.Background(), dbref.Nothing, true, Globals{}, func(string) {})
	if ctx.State != StateErrored || ctx.Category != ErrProgramNotSpecified {
		t.Fatalf("got state=%v category=%v, want Errored/ProgramNotSpecified", ctx.State, ctx.Category)
	}
}

func TestRunProgramNotFound(t *testing.T) {
	e := New(loaderFor(nil), &countingCompiler{}, &scriptedRunner{})
	ctx := e.RunProgram(context.Background(), 42, true, Globals{}, func(string) {})
	if ctx.State != StateErrored || ctx.Category != ErrProgramNotFound {
		t.Fatalf("got state=%v category=%v, want Errored/ProgramNotFound", ctx.State, ctx.Category)
	}
}

func TestRunProgramAuthenticationRequired(t *testing.T) {
	programs := map[dbref.DbRef]*model.Program{
		10: {B: model.Base{DbRef: 10}, Source: "ok", Unauthenticated: false},
	}
	e := New(loaderFor(programs), &countingCompiler{}, &scriptedRunner{})
	ctx := e.RunProgram(context.Background(), 10, false, Globals{}, func(string) {})
	if ctx.State != StateErrored || ctx.Category != ErrAuthenticationRequired {
		t.Fatalf("got state=%v category=%v, want Errored/AuthenticationRequired", ctx.State, ctx.Category)
	}
}

func TestRunProgramUnauthenticatedAllowedWhenFlagged(t *testing.T) {
	programs := map[dbref.DbRef]*model.Program{
		10: {B: model.Base{DbRef: 10}, Source: "ok", Unauthenticated: true},
	}
	e := New(loaderFor(programs), &countingCompiler{}, &scriptedRunner{ret: "done"})
	ctx := e.RunProgram(context.Background(), 10, false, Globals{}, func(string) {})
	if ctx.State != StateCompleted || ctx.Return != "done" {
		t.Fatalf("got state=%v return=%v, want Completed/done", ctx.State, ctx.Return)
	}
}

func TestRunProgramCompileFailure(t *testing.T) {
	programs := map[dbref.DbRef]*model.Program{
		10: {B: model.Base{DbRef: 10}, Source: "bad", Unauthenticated: true},
	}
	e := New(loaderFor(programs), &countingCompiler{}, &scriptedRunner{})
	ctx := e.RunProgram(context.Background(), 10, true, Globals{}, func(string) {})
	if ctx.State != StateErrored || ctx.Err == nil {
		t.Fatalf("got state=%v err=%v, want Errored with an error", ctx.State, ctx.Err)
	}
}

func TestRunProgramCompilesOnlyOnce(t *testing.T) {
	programs := map[dbref.DbRef]*model.Program{
		10: {B: model.Base{DbRef: 10}, Source: "ok", Unauthenticated: true},
	}
	compiler := &countingCompiler{}
	e := New(loaderFor(programs), compiler, &scriptedRunner{ret: 1})
	for i := 0; i < 3; i++ {
		e.RunProgram(context.Background(), 10, true, Globals{}, func(string) {})
	}
	if n := atomic.LoadInt32(&compiler.calls); n != 1 {
		t.Fatalf("compiler called %d times, want 1 (memoised)", n)
	}
}

func TestRunProgramFlushesOutputThroughBridge(t *testing.T) {
	programs := map[dbref.DbRef]*model.Program{
		10: {B: model.Base{DbRef: 10}, Source: "ok", Unauthenticated: true},
	}
	e := New(loaderFor(programs), &countingCompiler{}, &scriptedRunner{writeLines: []string{"hello", "world"}, ret: nil})

	var got []string
	ctx := e.RunProgram(context.Background(), 10, true, Globals{}, func(l string) {
		got = append(got, l)
	})
	if ctx.State != StateCompleted {
		t.Fatalf("state = %v, want Completed", ctx.State)
	}
	if len(got) != 2 || got[0] != "hello" || got[1] != "world" {
		t.Fatalf("bridged output = %v, want [hello world]", got)
	}
}

func TestRunProgramAbortsOnCancellation(t *testing.T) {
	programs := map[dbref.DbRef]*model.Program{
		10: {B: model.Base{DbRef: 10}, Source: "ok", Unauthenticated: true},
	}
	block := make(chan struct{})
	e := New(loaderFor(programs), &countingCompiler{}, &scriptedRunner{blockUntil: block})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan *Context, 1)
	go func() {
		done <- e.RunProgram(ctx, 10, true, Globals{}, func(string) {})
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case runCtx := <-done:
		if runCtx.State != StateAborted {
			t.Fatalf("state = %v, want Aborted", runCtx.State)
		}
	case <-time.After(time.Second):
		t.Fatal("RunProgram did not return after cancellation")
	}
}

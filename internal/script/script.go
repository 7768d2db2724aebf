// Package script implements the program execution engine (spec §4.7, C7)
// and its globals contract (C10): lazy compilation memoised per program
// ref, an execution-context state machine, precondition checks, and an
// output bridge that periodically flushes a program's writes to its
// owning connection.
//
// The compiled script language itself is an external collaborator (spec
// §1) — this package only defines the Compiler/Runner seam a concrete
// language plugs into. State handling follows core/modules.go's
// ModuleManager: a mutex-guarded map plus uuid-tagged correlation (its
// Emit/DebugEvent), and errors from compilation or execution are wrapped
// with github.com/pkg/errors the way aretext and erigon wrap their own
// domain errors, so a caller can unwrap a cause without losing the
// "where" of the failure.
package script

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/mudpienet/mudpie/internal/dbref"
	"github.com/mudpienet/mudpie/internal/model"
)

// State is a program's point in its lifecycle (spec §4.7).
type State string

const (
	StateLoaded    State = "Loaded"
	StateRunning   State = "Running"
	StatePaused    State = "Paused"
	StateAborted   State = "Aborted"
	StateErrored   State = "Errored"
	StateKilled    State = "Killed"
	StateCompleted State = "Completed"
)

// Terminal reports whether s is one of the terminal states.
func (s State) Terminal() bool {
	switch s {
	case StateAborted, StateErrored, StateKilled, StateCompleted:
		return true
	default:
		return false
	}
}

// ErrorCategory classifies why runProgram refused to run at all.
type ErrorCategory string

const (
	ErrAuthenticationRequired ErrorCategory = "AuthenticationRequired"
	ErrProgramNotFound        ErrorCategory = "ProgramNotFound"
	ErrProgramNotSpecified    ErrorCategory = "ProgramNotSpecified"
)

// Context is the value object a program's invocation produces: its state,
// any error category/message, its return value, and its FIFO output
// queue.
type Context struct {
	ID       string
	State    State
	Category ErrorCategory
	Err      error
	Return   any

	mu     sync.Mutex
	output []string
}

// newErrorContext builds a terminal Errored context without scheduling
// execution, per spec §4.7's "Error constructor".
func newErrorContext(category ErrorCategory, err error) *Context {
	return &Context{
		ID:       uuid.New().String(),
		State:    StateErrored,
		Category: category,
		Err:      err,
	}
}

// PushOutput appends a line to the context's output queue.
func (c *Context) PushOutput(line string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.output = append(c.output, line)
}

// DrainOutput removes and returns every queued output line.
func (c *Context) DrainOutput() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	lines := c.output
	c.output = nil
	return lines
}

// Globals is the well-known bag of values handed to a program before
// execution begins (spec §4.7, C10).
type Globals struct {
	Player                dbref.DbRef
	PlayerLocation        dbref.DbRef
	This                  dbref.DbRef
	Caller                dbref.DbRef
	Verb                  string
	ArgString             string
	Args                  []string
	DirectObject          dbref.DbRef
	DirectObjectString    string
	PrepositionString     string
	IndirectObject        dbref.DbRef
	IndirectObjectString  string
	PlayerOutput          OutputSink
	PlayerInput           InputSource
	DatabaseLibrary       DatabaseLibrary
}

// OutputSink is the write-only side a program writes its output lines to.
type OutputSink interface {
	WriteLine(line string)
}

// InputSource is the read side an interactive program blocks on.
type InputSource interface {
	// ReadLine blocks until a CRLF-terminated line is available or ctx is
	// cancelled.
	ReadLine(ctx context.Context) (string, error)
}

// DatabaseLibrary is the capability object spec §4.7 grants programs for
// mutating the world.
type DatabaseLibrary interface {
	CreateRoom(ctx context.Context, name string, owner dbref.DbRef) (dbref.DbRef, error)
	Rename(ctx context.Context, ref dbref.DbRef, name string) error
	GetProperty(ctx context.Context, ref dbref.DbRef, name string) (string, error)
	SetProperty(ctx context.Context, ref dbref.DbRef, name, value string) error
}

// Compiler compiles a program's source into its opaque Compiled form.
type Compiler interface {
	Compile(source string) (model.Compiled, error)
}

// Runner executes a compiled program's body, driving writes into
// globals.PlayerOutput and reads from globals.PlayerInput, and returns
// its final value.
type Runner interface {
	Run(ctx context.Context, compiled model.Compiled, globals Globals) (any, error)
}

// ProgramLoader loads a Program by ref, the engine's only dependency on
// the persistence/cache layers.
type ProgramLoader func(ctx context.Context, ref dbref.DbRef) (*model.Program, error)

type compileCacheEntry struct {
	once     sync.Once
	compiled model.Compiled
	err      error
}

// Engine runs programs, memoising each one's compiled form per ref for
// the lifetime of the Engine (spec §4.7: "memoised on the in-memory
// Program instance (not persisted)" — here scoped to the Engine rather
// than a single transient Program value, since a Program is reloaded
// fresh from the store on every invocation).
type Engine struct {
	load     ProgramLoader
	compiler Compiler
	runner   Runner

	mu          sync.Mutex
	compileCache map[dbref.DbRef]*compileCacheEntry
}

// New builds an Engine.
func New(load ProgramLoader, compiler Compiler, runner Runner) *Engine {
	return &Engine{
		load:         load,
		compiler:     compiler,
		runner:       runner,
		compileCache: make(map[dbref.DbRef]*compileCacheEntry),
	}
}

// RunProgram implements spec §4.7's runProgram: precondition checks in
// order, then lazy compile, then dispatch to the runner with a periodic
// output bridge. authenticated reports whether the invoking connection
// has a logged-in identity.
func (e *Engine) RunProgram(ctx context.Context, programRef dbref.DbRef, authenticated bool, globals Globals, onOutputLine func(string)) *Context {
	if programRef == dbref.Nothing {
		return newErrorContext(ErrProgramNotSpecified, errors.New("no program specified"))
	}

	program, err := e.load(ctx, programRef)
	if err != nil {
		return newErrorContext(ErrProgramNotFound, errors.Wrapf(err, "load program %s", programRef))
	}

	if !authenticated && !program.Unauthenticated {
		return newErrorContext(ErrAuthenticationRequired, errors.New("authentication required"))
	}

	compiled, err := e.compile(program)
	if err != nil {
		return newErrorContext("", errors.Wrapf(err, "compile program %s", programRef))
	}

	runCtx := &Context{ID: uuid.New().String(), State: StateRunning}
	sink := &bridgingSink{ctx: runCtx}
	globals.PlayerOutput = sink

	execCtx, cancel := context.WithCancel(ctx)
	bridgeDone := make(chan struct{})
	go e.bridge(execCtx, runCtx, onOutputLine, bridgeDone)

	returnValue, runErr := e.runner.Run(execCtx, compiled, globals)
	cancel()
	<-bridgeDone
	e.finalDrain(runCtx, onOutputLine)

	switch {
	case ctx.Err() != nil:
		runCtx.State = StateAborted
	case runErr != nil:
		runCtx.State = StateErrored
		runCtx.Err = runErr
	default:
		runCtx.State = StateCompleted
		runCtx.Return = returnValue
	}
	return runCtx
}

// Kill forces ctx into the Killed state; callers are expected to have
// cancelled the execution context that was threaded into RunProgram.
func Kill(ctx *Context, reason string) {
	ctx.mu.Lock()
	defer ctx.mu.Unlock()
	ctx.State = StateKilled
	ctx.Err = errors.New(reason)
}

// Precompile loads and compiles the program at ref without running it,
// memoising the result the same way RunProgram would (spec §4.9's
// start-time precompile phase).
func (e *Engine) Precompile(ctx context.Context, ref dbref.DbRef) error {
	program, err := e.load(ctx, ref)
	if err != nil {
		return errors.Wrapf(err, "load program %s", ref)
	}
	_, err = e.compile(program)
	return errors.Wrapf(err, "compile program %s", ref)
}

// Invalidate drops ref's memoised compiled form, if any, so the next
// RunProgram or Precompile recompiles it from the program's current
// source. Used when seeding reloads a program's source from disk (spec
// §6's program-source directories, watched by internal/config).
func (e *Engine) Invalidate(ref dbref.DbRef) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.compileCache, ref)
}

func (e *Engine) compile(program *model.Program) (model.Compiled, error) {
	e.mu.Lock()
	entry, ok := e.compileCache[program.Ref()]
	if !ok {
		entry = &compileCacheEntry{}
		e.compileCache[program.Ref()] = entry
	}
	e.mu.Unlock()

	entry.once.Do(func() {
		entry.compiled, entry.err = e.compiler.Compile(program.Source)
	})
	return entry.compiled, entry.err
}

// bridgingSink buffers writes for the bridge goroutine to flush, giving
// the program a non-blocking write path.
type bridgingSink struct {
	ctx *Context
}

func (s *bridgingSink) WriteLine(line string) {
	s.ctx.PushOutput(line)
}

// bridgeInterval is how often queued output is flushed to the owning
// connection while a program runs, per spec §4.7 ("every ~100 ms").
const bridgeInterval = 100 * time.Millisecond

func (e *Engine) bridge(ctx context.Context, runCtx *Context, onOutputLine func(string), done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(bridgeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, line := range runCtx.DrainOutput() {
				onOutputLine(line)
			}
		}
	}
}

func (e *Engine) finalDrain(runCtx *Context, onOutputLine func(string)) {
	for _, line := range runCtx.DrainOutput() {
		onOutputLine(line)
	}
}

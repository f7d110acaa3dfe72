// Package runner implements the Runner state machine: the
// object returned by every command constructor, carrying a CommandSpec from
// Created through Started, Running, Finalizing, to Finished, and exposing
// await/iterate/subscribe/kill/sync-run over that single execution.
package runner

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-isatty"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/link-foundation/command-stream-go/coordinator"
	"github.com/link-foundation/command-stream-go/execspec"
	"github.com/link-foundation/command-stream-go/internal/invariant"
	"github.com/link-foundation/command-stream-go/pipeline"
	"github.com/link-foundation/command-stream-go/shellsyntax"
	"github.com/link-foundation/command-stream-go/streamio"
	"github.com/link-foundation/command-stream-go/vcmd"
)

// State is the Runner's position in its Created -> Started -> Running ->
// Finalizing -> Finished lifecycle.
type State int

const (
	StateCreated State = iota
	StateStarted
	StateRunning
	StateFinalizing
	StateFinished
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateStarted:
		return "started"
	case StateRunning:
		return "running"
	case StateFinalizing:
		return "finalizing"
	case StateFinished:
		return "finished"
	default:
		return "unknown"
	}
}

// EventKind tags a lifecycle notification delivered to Subscribe.
type EventKind int

const (
	// EventStart fires once, before any data event, when the Runner
	// transitions to Running.
	EventStart EventKind = iota
	// EventData carries one ChunkEvent; data events only occur between
	// start and end.
	EventData
	// EventEnd fires once all data has been delivered, before exit.
	EventEnd
	// EventExit fires last, carrying the final Result.
	EventExit
)

// Event is one lifecycle notification.
type Event struct {
	Kind   EventKind
	Chunk  execspec.ChunkEvent
	Result execspec.Result
}

// Deps bundles the process-wide collaborators a Runner dispatches through.
// Tests construct a Deps with isolated Registry/Flags/Coordinator instead
// of touching global state.
type Deps struct {
	Registry    *vcmd.Registry
	Flags       *execspec.GlobalFlags
	Coordinator *coordinator.Coordinator
	Logger      *zap.Logger
}

// Runner is the single-execution object every command constructor returns.
// A Runner executes its CommandSpec exactly once.
type Runner struct {
	id   string
	spec execspec.CommandSpec
	opts execspec.Resolved
	deps Deps

	mu           sync.Mutex
	state        State
	subscribers  []func(Event)
	chunkQueue   *chunkQueue
	result       execspec.Result
	runErr       error
	handle       killer
	cancel       context.CancelFunc
	killed       bool
	finished     chan struct{}
	startedOnce  sync.Once
	finishedOnce sync.Once
}

type killer interface {
	Kill(sig os.Signal) error
}

// New creates a Created-state Runner for spec under opts. It does not start
// executing; call Start, Await, or begin Iterate to do that.
func New(spec execspec.CommandSpec, opts execspec.RunOptions, deps Deps) *Runner {
	invariant.NotNil(deps.Registry, "deps.Registry")
	invariant.NotNil(deps.Flags, "deps.Flags")
	invariant.NotNil(deps.Coordinator, "deps.Coordinator")
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &Runner{
		id:       uuid.NewString(),
		spec:     spec,
		opts:     opts.Resolve(),
		deps:     deps,
		state:    StateCreated,
		finished: make(chan struct{}),
	}
}

// ID returns the Runner's unique identifier, used for coordinator
// registration and trace correlation.
func (r *Runner) ID() string { return r.id }

// State returns the Runner's current lifecycle state.
func (r *Runner) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Start transitions Created -> Started and begins executing in the
// background. Calling Start more than once is a no-op: the Runner executes
// its CommandSpec exactly once. If Kill was called before
// this Runner was ever started, Start short-circuits straight to Finished
// with the synthesized {code:130} result and spawns nothing.
func (r *Runner) Start(ctx context.Context) *Runner {
	r.startedOnce.Do(func() {
		r.mu.Lock()
		killedEarly := r.killed
		if !killedEarly {
			r.state = StateStarted
		}
		r.mu.Unlock()

		if killedEarly {
			r.finish(execspec.Result{Code: execspec.ExitInterrupted, Stdout: strPtr(""), Stderr: strPtr("")}, nil)
			return
		}
		r.deps.Coordinator.Register(r.id, r)
		go r.run(ctx)
	})
	return r
}

func strPtr(s string) *string { return &s }

// Await blocks until the Runner finishes, starting it first if needed (the
// "sync-run" convenience), and returns the final Result.
func (r *Runner) Await(ctx context.Context) (execspec.Result, error) {
	r.Start(ctx)
	select {
	case <-r.finished:
		return r.result, r.runErr
	case <-ctx.Done():
		return execspec.Result{}, ctx.Err()
	}
}

// Iterate returns a channel of ChunkEvents, starting the Runner first if
// needed. The channel closes when the Runner reaches Finished. Pulling
// from the returned channel is entirely this consumer's own pace: the
// underlying chunkQueue never blocks the Runner's producer, so a slow or
// absent consumer cannot stall Await or the run itself.
func (r *Runner) Iterate(ctx context.Context) <-chan execspec.ChunkEvent {
	r.mu.Lock()
	if r.chunkQueue == nil {
		r.chunkQueue = newChunkQueue()
	}
	q := r.chunkQueue
	r.mu.Unlock()

	r.Start(ctx)

	out := make(chan execspec.ChunkEvent)
	go func() {
		defer close(out)
		for {
			ev, ok := q.next()
			if !ok {
				return
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// Subscribe registers fn to receive every lifecycle Event from this point
// forward, and returns a function that unsubscribes it.
func (r *Runner) Subscribe(fn func(Event)) func() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subscribers = append(r.subscribers, fn)
	idx := len(r.subscribers) - 1
	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if idx < len(r.subscribers) {
			r.subscribers[idx] = nil
		}
	}
}

// Kill implements coordinator.Killable: it forwards sig to the spawned
// process tree and cancels the run's context so an in-flight virtual
// generator (which has no OS process to signal) unwinds at its next
// context check. Calling Kill before this Runner has ever
// been started marks it so the eventual Start synthesizes a {code:130}
// result without spawning anything.
func (r *Runner) Kill(sig os.Signal) error {
	r.mu.Lock()
	r.killed = true
	if r.state == StateCreated {
		r.mu.Unlock()
		return nil
	}
	h := r.handle
	cancel := r.cancel
	r.mu.Unlock()

	var err error
	if h != nil {
		err = h.Kill(sig)
	}
	if cancel != nil {
		cancel()
	}
	return err
}

// pushChunk forwards ev to the chunkQueue, if Iterate has ever been
// called on this Runner; otherwise it is a no-op, so producing output
// never blocks (or even buffers it) when nobody is consuming the stream.
func (r *Runner) pushChunk(ev execspec.ChunkEvent) {
	r.mu.Lock()
	q := r.chunkQueue
	r.mu.Unlock()
	if q != nil {
		q.push(ev)
	}
}

func (r *Runner) emit(ev Event) {
	r.mu.Lock()
	subs := make([]func(Event), len(r.subscribers))
	copy(subs, r.subscribers)
	r.mu.Unlock()
	for _, fn := range subs {
		if fn != nil {
			fn(ev)
		}
	}
}

// run is the Runner's single background execution: it transitions through
// Running and Finalizing, dispatches to shellsyntax+pipeline, emits events
// in the documented order, and finally closes the chunk channel and
// finished signal exactly once.
func (r *Runner) run(ctx context.Context) {
	r.mu.Lock()
	r.state = StateRunning
	r.mu.Unlock()
	r.trace("running", zap.String("mode", fmt.Sprintf("%v", r.spec.Mode)))
	r.emit(Event{Kind: EventStart})

	var cancel context.CancelFunc
	ctx, cancel = r.withCancel(ctx, r.opts.Timeout)
	defer cancel()

	stages, err := r.resolveStages()
	if err != nil {
		r.finish(execspec.Result{Code: execspec.ExitSpawnFailed}, err)
		return
	}

	env := r.environWithPTYHints()

	var stdoutBuf, stderrBuf bytes.Buffer
	onChunk := func(kind execspec.ChunkKind, data []byte) {
		if r.opts.Capture {
			if kind == execspec.ChunkStdout {
				stdoutBuf.Write(data)
			} else {
				stderrBuf.Write(data)
			}
		}
		if r.opts.Mirror {
			r.mirror(kind, data)
		}
		r.pushChunk(execspec.ChunkEvent{Kind: kind, Data: data})
		r.emit(Event{Kind: EventData, Chunk: execspec.ChunkEvent{Kind: kind, Data: data}})
	}

	stdinReader := r.resolveStdin()

	result, _, runErr := pipeline.Execute(ctx, stages, pipeline.Options{
		Cwd:      r.opts.Cwd,
		Env:      env,
		Stdin:    stdinReader,
		Registry: r.deps.Registry,
		Pipefail: r.deps.Flags.Is(execspec.FlagPipefail),
		OnChunk:  onChunk,
		OnHandle: func(h *pipeline.Handle) {
			r.mu.Lock()
			r.handle = h
			r.mu.Unlock()
		},
	})

	r.mu.Lock()
	r.state = StateFinalizing
	r.mu.Unlock()

	if !r.opts.Capture {
		result.Stdout = nil
		result.Stderr = nil
	} else {
		out := stdoutBuf.String()
		errs := stderrBuf.String()
		result.Stdout = &out
		result.Stderr = &errs
	}

	r.mu.Lock()
	killedFlag := r.killed
	r.mu.Unlock()

	switch {
	case ctx.Err() == context.DeadlineExceeded:
		// Timeout is always surfaced, unlike the conditional ExitNonZero.
		runErr = &TimeoutError{Timeout: r.opts.Timeout}
	case killedFlag:
		// Interrupted is always surfaced too, whether by an explicit Kill
		// or by the coordinator forwarding a process-wide interrupt.
		runErr = &InterruptedError{Code: result.Code}
	case runErr == nil && r.deps.Flags.Is(execspec.FlagErrexit) && result.Code != 0:
		runErr = &ExitError{Code: result.Code}
	}

	r.trace("finished", zap.Int("code", result.Code))
	r.finish(result, runErr)
}

// trace logs at debug level, gated by the per-run Trace option — this is
// "trace: opt-out of diagnostic tracing for this run".
func (r *Runner) trace(msg string, fields ...zap.Field) {
	if !r.opts.Trace || r.deps.Logger == nil {
		return
	}
	r.deps.Logger.Debug(msg, append(fields, zap.String("runner", r.id))...)
}

// withCancel derives a cancellable (and, if timeout > 0, deadline-bound)
// child of ctx and records the cancel func so a concurrent Kill can reach a
// virtual pipeline that has no OS process to signal.
func (r *Runner) withCancel(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	var child context.Context
	var cancel context.CancelFunc
	if timeout > 0 {
		child, cancel = context.WithTimeout(ctx, timeout)
	} else {
		child, cancel = context.WithCancel(ctx)
	}
	r.mu.Lock()
	r.cancel = cancel
	r.mu.Unlock()
	return child, cancel
}

// mirror copies one output chunk to the host's matching stream, tolerating
// a downstream broken pipe (streamio.SafeWrite) by cancelling this run
// instead of propagating the error. When CI=true or the host stream is not a terminal, ANSI escape
// sequences are stripped before writing.
func (r *Runner) mirror(kind execspec.ChunkKind, data []byte) {
	var dst *os.File = os.Stdout
	if kind == execspec.ChunkStderr {
		dst = os.Stderr
	}
	if os.Getenv("CI") == "true" || !isatty.IsTerminal(dst.Fd()) {
		data = []byte(streamio.StripANSI(string(data)))
	}
	_, _ = streamio.SafeWrite(dst, data, func() {
		r.mu.Lock()
		cancel := r.cancel
		r.mu.Unlock()
		if cancel != nil {
			cancel()
		}
	})
}

// environWithPTYHints returns the Env map to pass to the pipeline,
// augmented with COLUMNS/LINES when Interactive is requested and the
// host's stdout is an actual terminal. This module has no
// cross-platform pty-allocation dependency in its stack, so "when
// available" is implemented as a best-effort size hint rather than a real
// pty: the child still inherits pipes, but sees the dimensions a real pty
// would have reported. Returns the caller's Env unchanged (including nil,
// meaning "inherit") when Interactive is false or no terminal is present.
func (r *Runner) environWithPTYHints() map[string]string {
	if !r.opts.Interactive || !isatty.IsTerminal(os.Stdout.Fd()) {
		return r.opts.Env
	}
	cols, rows, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil {
		return r.opts.Env
	}
	env := make(map[string]string, len(r.opts.Env)+2)
	for k, v := range r.opts.Env {
		env[k] = v
	}
	env["COLUMNS"] = strconv.Itoa(cols)
	env["LINES"] = strconv.Itoa(rows)
	return env
}

func (r *Runner) resolveStdin() io.Reader {
	switch r.opts.Stdin.Kind {
	case execspec.StdinBytes:
		return bytes.NewReader(r.opts.Stdin.Bytes)
	case execspec.StdinReader:
		if r.opts.Stdin.Reader != nil {
			return readerAdapter{r.opts.Stdin.Reader}
		}
		return nil
	case execspec.StdinIgnore:
		return nil
	case execspec.StdinInherit:
		return os.Stdin
	default:
		return nil
	}
}

type readerAdapter struct {
	r execspec.ReadCloserLike
}

func (a readerAdapter) Read(p []byte) (int, error) { return a.r.Read(p) }

// resolveStages turns the Runner's CommandSpec into the pipeline stages to
// execute, parsing ModeShell commands via shellsyntax and falling back to
// an external real-shell invocation for ShapeNeedsRealShell.
func (r *Runner) resolveStages() ([]pipeline.Stage, error) {
	switch r.spec.Mode {
	case execspec.ModeExec:
		return []pipeline.Stage{{Program: r.spec.Program, Args: r.spec.Args, ForceExternal: true}}, nil

	case execspec.ModePipeline:
		invariant.Precondition(len(r.spec.Stages) > 0, "ModePipeline requires at least one stage")
		stages := make([]pipeline.Stage, len(r.spec.Stages))
		for i, s := range r.spec.Stages {
			stages[i] = pipeline.Stage{Program: s.Program, Args: s.Args}
		}
		return stages, nil

	case execspec.ModeShell:
		if !r.opts.ShellOperators {
			simple, err := shellsyntax.SplitSimple(r.spec.Command)
			if err != nil {
				return nil, err
			}
			return []pipeline.Stage{{Program: simple.Program, Args: simple.Args}}, nil
		}
		parsed, err := shellsyntax.Parse(r.spec.Command)
		if err != nil {
			return nil, err
		}
		return stagesFromParsed(parsed), nil

	default:
		return nil, fmt.Errorf("unknown command mode %v", r.spec.Mode)
	}
}

func stagesFromParsed(parsed shellsyntax.Parsed) []pipeline.Stage {
	switch parsed.Shape {
	case shellsyntax.ShapeSimple:
		return []pipeline.Stage{{Program: parsed.Simple.Program, Args: parsed.Simple.Args}}
	case shellsyntax.ShapePipeline:
		stages := make([]pipeline.Stage, len(parsed.Pipeline.Stages))
		for i, s := range parsed.Pipeline.Stages {
			stages[i] = pipeline.Stage{Program: s.Program, Args: s.Args}
		}
		return stages
	default: // shellsyntax.ShapeNeedsRealShell
		return []pipeline.Stage{{Program: pipeline.HostShell(), Args: []string{"-c", parsed.Raw}, ForceExternal: true}}
	}
}

// finish records the final Result/error, transitions to Finished, and
// closes the chunk channel and finished signal exactly once, emitting end
// then exit in that order.
func (r *Runner) finish(result execspec.Result, err error) {
	r.finishedOnce.Do(func() {
		r.mu.Lock()
		r.state = StateFinished
		r.result = result
		r.runErr = err
		r.mu.Unlock()

		r.deps.Coordinator.Unregister(r.id)

		r.mu.Lock()
		q := r.chunkQueue
		r.mu.Unlock()

		r.emit(Event{Kind: EventEnd})
		if q != nil {
			q.close()
		}
		r.emit(Event{Kind: EventExit, Result: result})
		close(r.finished)
	})
}

// ExitError reports a non-zero exit code surfaced as an error because the
// errexit global flag was set when this Runner finished.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("command exited with code %d (errexit)", e.Code)
}

// TimeoutError reports that RunOptions.Timeout elapsed before this Runner
// reached a terminal state. Unlike ExitError, it is surfaced on Await
// unconditionally — spec.md §7 lists Timeout among the error kinds always
// raised, not gated behind errexit.
type TimeoutError struct {
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("command timed out after %s", e.Timeout)
}

// InterruptedError reports that this Runner was killed before it reached a
// terminal state on its own — either by an explicit Kill call or by the
// coordinator forwarding a process-wide interrupt. Like TimeoutError, it is
// always surfaced on Await, never gated behind errexit.
type InterruptedError struct {
	Code int
}

func (e *InterruptedError) Error() string {
	return fmt.Sprintf("command interrupted (code %d)", e.Code)
}

// Package pipeline implements the Pipeline Executor: it
// sequences one or more stages — each either dispatched to the virtual
// command registry or spawned as an external process — wiring stdio so
// output becomes readable to the next stage incrementally, and honoring
// the errexit/pipefail global flags.
//
// Consecutive external stages are joined into a single host-shell
// invocation so real OS pipe buffers carry the bytes between them; a
// virtual<->external boundary is bridged with an in-process io.Pipe. A
// run of consecutive virtual stages reads its whole stdin before its
// first stage starts, and passes each stage's complete output to the next;
// only the run's last stage writes to the pipe as it produces output.
package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/link-foundation/command-stream-go/coordinator"
	"github.com/link-foundation/command-stream-go/execspec"
	"github.com/link-foundation/command-stream-go/internal/invariant"
	"github.com/link-foundation/command-stream-go/quoting"
	"github.com/link-foundation/command-stream-go/vcmd"
)

// Stage is one program-and-args invocation within a pipeline run. A stage
// with ForceExternal never consults the virtual registry — used for
// exec-mode CommandSpecs and for the shell wrapper spawned to handle a
// shellsyntax.ShapeNeedsRealShell command.
type Stage struct {
	Program       string
	Args          []string
	ForceExternal bool
}

// Options configures one Execute call.
type Options struct {
	Cwd      string
	Env      map[string]string
	Stdin    io.Reader
	Registry *vcmd.Registry
	Pipefail bool
	// OnChunk is invoked for every byte chunk this pipeline run produces:
	// the final stage's stdout as it arrives, then, once every stage has
	// exited, each stage group's buffered stderr in pipeline order. It is
	// the caller's (runner's) single hook
	// for capture + mirror + event emission, so virtual and external
	// output are indistinguishable to observers.
	OnChunk func(execspec.ChunkKind, []byte)
	// OnHandle, if set, is called once every stage has been spawned but
	// before Execute blocks draining the final stage's stdout — the
	// earliest point at which the caller (Runner) can store the Handle so
	// a concurrent Kill reaches the process tree while the pipeline is
	// still running, rather than only after Execute returns.
	OnHandle func(*Handle)
}

// Handle lets the caller kill every process this pipeline run spawned.
type Handle struct {
	mu    sync.Mutex
	procs []*os.Process
}

func (h *Handle) track(p *os.Process) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.procs = append(h.procs, p)
}

// Kill sends sig to every external process group spawned by this pipeline
// run. On platforms without process groups (Windows), it kills the direct
// child and, best-effort, its enumerated children; there is no attempt to
// synthesize Unix-style parity.
func (h *Handle) Kill(sig os.Signal) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	var firstErr error
	for _, p := range h.procs {
		if err := killProcessGroup(p, sig); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Execute runs stages end-to-end and returns the aggregated Result.
func Execute(ctx context.Context, stages []Stage, opts Options) (execspec.Result, *Handle, error) {
	invariant.Precondition(len(stages) > 0, "pipeline requires at least one stage")
	invariant.NotNil(opts.Registry, "opts.Registry")

	groups := groupConsecutive(stages, opts.Registry)
	handle := &Handle{}

	type waiter struct {
		wait   func() (int, error)
		stderr *bytes.Buffer
	}
	waiters := make([]waiter, 0, len(groups))

	var current io.Reader = opts.Stdin
	for _, g := range groups {
		var stderrBuf bytes.Buffer
		stderrW := &stderrBuf

		if g.virtual {
			out, wait := runVirtualGroup(ctx, opts, g.stages, current, stderrW)
			current = out
			waiters = append(waiters, waiter{wait: wait, stderr: &stderrBuf})
		} else {
			out, proc, wait := runExternalGroup(ctx, opts, g.stages, current, stderrW)
			if proc != nil {
				handle.track(proc)
			}
			current = out
			waiters = append(waiters, waiter{wait: wait, stderr: &stderrBuf})
		}
	}

	// Every stage has now been spawned (external processes started,
	// virtual goroutines launched): hand the Handle to the caller before
	// blocking below, so a concurrent Kill reaches the process tree while
	// this pipeline is still running.
	if opts.OnHandle != nil {
		opts.OnHandle(handle)
	}

	// If ctx carries a deadline (RunOptions.timeout) or is otherwise
	// canceled before every stage finishes on its own, SIGTERM the process
	// group first, then SIGKILL after a grace window if it is still alive.
	// Without this, exec.CommandContext's default Cancel behavior (an
	// immediate Process.Kill of the leader pid only) would fire first and
	// leave any other members of the process group running.
	done := make(chan struct{})
	defer close(done)
	go escalateOnTimeout(ctx, handle, done)

	// Drain the final stage's stdout live: this is the pipeline's own
	// observable stdout (capture/mirror/emit happen in the caller's
	// OnChunk, called here as bytes actually arrive).
	var finalStdout bytes.Buffer
	drainErr := drainLive(current, func(chunk []byte) {
		finalStdout.Write(chunk)
		if opts.OnChunk != nil {
			opts.OnChunk(execspec.ChunkStdout, chunk)
		}
	})

	// Every stage has already been spawned concurrently; wait for them
	// to finish concurrently too (errgroup), but only emit each stage's
	// stderr chunk once *all* waits are complete and in pipeline order —
	// this keeps the emitted-chunk stream consistent with the
	// pipeline-order concatenation the final Result's Stderr requires
	// Result.Stderr (invariant I2), regardless of which stage happens to
	// exit first.
	codes := make([]int, len(waiters))
	waitErrs := make([]error, len(waiters))
	var g errgroup.Group
	for i, w := range waiters {
		i, w := i, w
		g.Go(func() error {
			code, err := w.wait()
			codes[i] = code
			waitErrs[i] = err
			return nil
		})
	}
	_ = g.Wait()

	var firstErr error
	for i, w := range waiters {
		if waitErrs[i] != nil && firstErr == nil {
			firstErr = waitErrs[i]
		}
		if w.stderr.Len() > 0 && opts.OnChunk != nil {
			opts.OnChunk(execspec.ChunkStderr, w.stderr.Bytes())
		}
	}
	if drainErr != nil && firstErr == nil {
		firstErr = drainErr
	}

	exitCode := codes[len(codes)-1]
	if opts.Pipefail {
		for _, c := range codes {
			if c != 0 {
				exitCode = c
				break
			}
		}
	}

	var stderrAll bytes.Buffer
	for _, w := range waiters {
		stderrAll.Write(w.stderr.Bytes())
	}

	stdoutStr := finalStdout.String()
	stderrStr := stderrAll.String()
	return execspec.Result{Code: exitCode, Stdout: &stdoutStr, Stderr: &stderrStr}, handle, firstErr
}

// escalateOnTimeout waits for ctx to end before the pipeline finishes on
// its own (signaled by done being closed first), then sends SIGTERM to
// every external process group this run spawned. If any of them are still
// alive once coordinator.DefaultKillGrace elapses, it escalates to SIGKILL.
// Unlike the coordinator (coordinator.go's handle), which escalates only
// when a second OS interrupt arrives within that window, this escalation
// is driven by a timer started from this single run's own ctx
// deadline/cancel.
func escalateOnTimeout(ctx context.Context, h *Handle, done <-chan struct{}) {
	select {
	case <-done:
		return
	case <-ctx.Done():
	}

	select {
	case <-done:
		return
	default:
	}

	_ = h.Kill(syscall.SIGTERM)

	timer := time.NewTimer(coordinator.DefaultKillGrace)
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.C:
		_ = h.Kill(syscall.SIGKILL)
	}
}

type group struct {
	virtual bool
	stages  []Stage
}

func groupConsecutive(stages []Stage, reg *vcmd.Registry) []group {
	var groups []group
	for _, s := range stages {
		isVirtual := !s.ForceExternal && reg.Has(s.Program)
		if len(groups) > 0 && groups[len(groups)-1].virtual == isVirtual {
			last := &groups[len(groups)-1]
			last.stages = append(last.stages, s)
			continue
		}
		groups = append(groups, group{virtual: isVirtual, stages: []Stage{s}})
	}
	return groups
}

// drainLive reads r to completion, invoking onChunk for every non-empty
// read so the caller can capture/mirror/emit incrementally rather than
// buffering the whole stream first.
func drainLive(r io.Reader, onChunk func([]byte)) error {
	if r == nil {
		return nil
	}
	buf := make([]byte, 32*1024)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			onChunk(chunk)
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
	}
}

func buildEnviron(env map[string]string) []string {
	if env == nil {
		return os.Environ()
	}
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	return out
}

// HostShell returns the real shell this module falls back to for
// shellsyntax.ShapeNeedsRealShell commands.
func HostShell() string { return hostShell() }

func hostShell() string {
	if runtime.GOOS == "windows" {
		if c := os.Getenv("COMSPEC"); c != "" {
			return c
		}
		return "cmd"
	}
	if gitBash := os.Getenv("COMMAND_STREAM_GIT_BASH"); gitBash != "" {
		return gitBash
	}
	return "/bin/sh"
}

func joinShellCommand(stages []Stage) string {
	parts := make([]string, len(stages))
	for i, s := range stages {
		tokens := make([]string, 0, len(s.Args)+1)
		tokens = append(tokens, quoting.Quote(s.Program))
		for _, a := range s.Args {
			tokens = append(tokens, quoting.Quote(a))
		}
		parts[i] = joinSpace(tokens)
	}
	return joinPipe(parts)
}

func joinSpace(parts []string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += " "
		}
		out += p
	}
	return out
}

func joinPipe(parts []string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += " | "
		}
		out += p
	}
	return out
}

// runExternalGroup spawns one or more consecutive external stages joined
// by the host shell so the OS carries bytes between them directly. A stage
// program given by bare name that is not found on PATH is reported as a
// SpawnError before anything is spawned. The group's stdout is returned as
// a live io.Reader; its stderr is written to stderrW as it arrives. The
// group's exit code is the host shell's, i.e. that of its last stage.
func runExternalGroup(ctx context.Context, opts Options, stages []Stage, stdin io.Reader, stderrW io.Writer) (io.Reader, *os.Process, func() (int, error)) {
	for _, s := range stages {
		if strings.ContainsAny(s.Program, `/\`) {
			continue
		}
		if _, err := exec.LookPath(s.Program); err != nil {
			spawnErr := &SpawnError{Program: s.Program, Cause: err, Suggestions: opts.Registry.Suggest(s.Program, 3)}
			if pr, ok := stdin.(*io.PipeReader); ok {
				// Nothing will read the upstream virtual group's output.
				pr.CloseWithError(spawnErr)
			}
			return nil, nil, func() (int, error) { return execspec.ExitSpawnFailed, spawnErr }
		}
	}

	joined := joinShellCommand(stages)
	cmd := exec.CommandContext(ctx, hostShell(), "-c", joined)
	cmd.Dir = opts.Cwd
	cmd.Env = buildEnviron(opts.Env)
	cmd.Stdin = stdin
	cmd.Stderr = stderrW
	setProcessGroup(cmd)
	// Disable exec.Cmd's default ctx-done behavior (an immediate
	// Process.Kill of this leader pid alone): escalateOnTimeout already
	// drives this run's whole process-group SIGTERM-then-grace-SIGKILL
	// sequence, and letting both fire would race a bare SIGKILL of just
	// the leader ahead of the grace period this run's caller asked for.
	cmd.Cancel = func() error { return nil }

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, nil, func() (int, error) { return execspec.ExitSpawnFailed, err }
	}
	if err := cmd.Start(); err != nil {
		spawnErr := &SpawnError{
			Program:     stages[0].Program,
			Cause:       err,
			Suggestions: opts.Registry.Suggest(stages[0].Program, 3),
		}
		return nil, nil, func() (int, error) { return execspec.ExitSpawnFailed, spawnErr }
	}

	wait := func() (int, error) {
		err := cmd.Wait()
		if err == nil {
			return 0, nil
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			if status, ok := exitErr.Sys().(syscall.WaitStatus); ok && status.Signaled() {
				return execspec.SignalExitCode(int(status.Signal())), nil
			}
			return exitErr.ExitCode(), nil
		}
		return execspec.ExitSpawnFailed, err
	}
	return stdout, cmd.Process, wait
}

// runVirtualGroup chains one or more consecutive virtual stages in
// process, after reading the whole of stdin. Batched handlers run
// synchronously on their whole input and produce one whole-output Result;
// a streaming handler in the group's last stage feeds the returned pipe
// incrementally, chunk by chunk, as it yields, while earlier stages'
// output is collected in full before the next stage runs. Under pipefail
// the group reports its leftmost non-zero stage code.
func runVirtualGroup(ctx context.Context, opts Options, stages []Stage, stdin io.Reader, stderrW io.Writer) (io.Reader, func() (int, error)) {
	pr, pw := io.Pipe()
	done := make(chan struct {
		code int
		err  error
	}, 1)

	go func() {
		var stdinBytes []byte
		if stdin != nil {
			b, _ := io.ReadAll(stdin)
			stdinBytes = b
		}

		code := 0
		firstFailed := 0
		var runErr error
		input := stdinBytes
		for i, s := range stages {
			isLast := i == len(stages)-1
			handler, ok := opts.Registry.Lookup(s.Program)
			if !ok {
				code = execspec.ExitSpawnFailed
				runErr = &SpawnError{
					Program:     s.Program,
					Cause:       fmt.Errorf("virtual command %q not found", s.Program),
					Suggestions: opts.Registry.Suggest(s.Program, 3),
				}
				break
			}
			vctx := vcmd.Context{
				Context: ctx,
				Args:    s.Args,
				Stdin:   input,
				Cwd:     opts.Cwd,
				Env:     opts.Env,
				Stderr:  func(chunk []byte) { stderrW.Write(chunk) },
			}

			var stageOut bytes.Buffer
			var sink io.Writer = &stageOut
			if isLast {
				sink = io.MultiWriter(&stageOut, pw)
			}

			if handler.IsStreaming() {
				gen := handler.Stream(vctx)
				for {
					chunk, streamDone, genCode, err := gen.Next(vctx)
					if len(chunk) > 0 {
						sink.Write(chunk)
					}
					if err != nil {
						code = 1
						runErr = &VirtualError{Program: s.Program, Cause: err}
						break
					}
					if streamDone {
						code = genCode
						break
					}
				}
			} else {
				result := handler.Batch(vctx)
				if result.Stderr != "" {
					stderrW.Write([]byte(result.Stderr))
				}
				sink.Write([]byte(result.Stdout))
				code = result.Code
			}

			if code != 0 && firstFailed == 0 {
				// A failing virtual stage still feeds its (possibly empty)
				// stdout forward so downstream stages still run; outside
				// pipefail only the last stage's code is authoritative.
				firstFailed = code
			}
			input = stageOut.Bytes()
		}
		if opts.Pipefail && firstFailed != 0 {
			code = firstFailed
		}
		_ = pw.Close()
		done <- struct {
			code int
			err  error
		}{code, runErr}
	}()

	wait := func() (int, error) {
		r := <-done
		return r.code, r.err
	}
	return pr, wait
}

// SpawnError reports that the OS could not start a program. Suggestions,
// when non-empty, are registered virtual command names that fuzzy-match
// Program — the vcmd.Registry.Suggest "did you mean" diagnostic.
type SpawnError struct {
	Program     string
	Cause       error
	Suggestions []string
}

func (e *SpawnError) Error() string {
	msg := fmt.Sprintf("spawn failed for %q: %v", e.Program, e.Cause)
	if len(e.Suggestions) > 0 {
		msg += fmt.Sprintf(" (did you mean: %s?)", strings.Join(e.Suggestions, ", "))
	}
	return msg
}
func (e *SpawnError) Unwrap() error { return e.Cause }

// VirtualError reports that a registered virtual handler raised
// internally.
type VirtualError struct {
	Program string
	Cause   error
}

func (e *VirtualError) Error() string {
	return fmt.Sprintf("virtual command %q failed: %v", e.Program, e.Cause)
}
func (e *VirtualError) Unwrap() error { return e.Cause }

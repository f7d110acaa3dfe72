// Package execspec is the core data model shared by runner, pipeline, and
// the public commandstream API: CommandSpec, RunOptions, Result, and
// ChunkEvent.
package execspec

import "time"

// Mode selects how a CommandSpec is interpreted.
type Mode int

const (
	// ModeShell holds a single, already-quoted command string to be
	// classified by shellsyntax.Parse.
	ModeShell Mode = iota
	// ModeExec holds a program path and argument vector, bypassing
	// parsing entirely.
	ModeExec
	// ModePipeline holds an ordered, non-empty sequence of exec-style
	// stages joined by the first-class "|" operator.
	ModePipeline
)

// StageSpec is one program-and-args invocation within a ModePipeline
// CommandSpec.
type StageSpec struct {
	Program string
	Args    []string
}

// CommandSpec is immutable after construction.
type CommandSpec struct {
	Mode Mode

	// ModeShell
	Command string

	// ModeExec
	Program string
	Args    []string

	// ModePipeline
	Stages []StageSpec
}

// Shell builds a ModeShell CommandSpec from an already-quoted command
// string (e.g. the output of quoting.BuildCommand).
func Shell(command string) CommandSpec {
	return CommandSpec{Mode: ModeShell, Command: command}
}

// Exec builds a ModeExec CommandSpec that bypasses shell parsing.
func Exec(program string, args ...string) CommandSpec {
	return CommandSpec{Mode: ModeExec, Program: program, Args: args}
}

// PipelineOf builds a ModePipeline CommandSpec from explicit stages.
func PipelineOf(stages ...StageSpec) CommandSpec {
	return CommandSpec{Mode: ModePipeline, Stages: stages}
}

// StdinKind selects how RunOptions.Stdin should be interpreted.
type StdinKind int

const (
	StdinInherit StdinKind = iota
	StdinIgnore
	StdinBytes
	StdinReader
)

// Stdin is a closed sum type over "inherit | ignore | byte string |
// readable handle".
type Stdin struct {
	Kind   StdinKind
	Bytes  []byte
	Reader ReadCloserLike
}

// ReadCloserLike avoids importing io here just for a field type; runner
// accepts anything with a Read method shaped like io.Reader.
type ReadCloserLike interface {
	Read(p []byte) (n int, err error)
}

// RunOptions configures a single run. Boolean/pointer fields that default
// to non-zero values (mirror, capture default true) are pointers so
// "unset" is distinguishable from "explicitly false"; Resolve fills in
// defaults.
type RunOptions struct {
	Mirror         *bool
	Capture        *bool
	Stdin          Stdin
	Cwd            string
	Env            map[string]string
	Interactive    bool
	ShellOperators *bool
	Timeout        time.Duration
	Trace          *bool
}

// Resolved is RunOptions with every default applied.
type Resolved struct {
	Mirror         bool
	Capture        bool
	Stdin          Stdin
	Cwd            string
	Env            map[string]string
	Interactive    bool
	ShellOperators bool
	Timeout        time.Duration
	Trace          bool
}

// Resolve applies defaults: mirror=true, capture=true, shellOperators=true,
// trace=true (tracing is opt-out, not opt-in).
func (o RunOptions) Resolve() Resolved {
	r := Resolved{
		Mirror:         true,
		Capture:        true,
		Stdin:          o.Stdin,
		Cwd:            o.Cwd,
		Env:            o.Env,
		Interactive:    o.Interactive,
		ShellOperators: true,
		Timeout:        o.Timeout,
		Trace:          true,
	}
	if o.Mirror != nil {
		r.Mirror = *o.Mirror
	}
	if o.Capture != nil {
		r.Capture = *o.Capture
	}
	if o.ShellOperators != nil {
		r.ShellOperators = *o.ShellOperators
	}
	if o.Trace != nil {
		r.Trace = *o.Trace
	}
	return r
}

// ChunkKind distinguishes the two output streams.
type ChunkKind int

const (
	ChunkStdout ChunkKind = iota
	ChunkStderr
)

// ChunkEvent is one arrival-ordered slice of output from one stream.
type ChunkEvent struct {
	Kind ChunkKind
	Data []byte
}

// Result is the final outcome of a Runner. Stdout/Stderr/Stdin
// are nil iff capture was false.
type Result struct {
	Code   int
	Stdout *string
	Stderr *string
	Stdin  *string
}

// Canonical exit codes.
const (
	ExitSuccess      = 0
	ExitSpawnFailed  = 127
	ExitInterrupted  = 130
	ExitHardKill     = 137
	ExitTerminated   = 143
	signalExitOffset = 128
)

// SignalExitCode maps a Unix signal number to the canonical 128+N exit
// code used for a signal-terminated process.
func SignalExitCode(signum int) int {
	return signalExitOffset + signum
}

// Package commandstream is the public surface of this module: the command
// constructor, the run/sh/exec convenience functions, the registry and
// shell-flag toggles, and the two global-state operations.
//
// Everything here is a thin, opinionated binding over execspec, runner,
// pipeline, vcmd, and coordinator — this package owns no execution logic
// of its own.
package commandstream

import (
	"context"
	"os"

	"go.uber.org/zap"

	"github.com/link-foundation/command-stream-go/coordinator"
	"github.com/link-foundation/command-stream-go/execspec"
	"github.com/link-foundation/command-stream-go/runner"
	"github.com/link-foundation/command-stream-go/vcmd"
	"github.com/link-foundation/command-stream-go/vcmd/builtins"
)

func init() {
	builtins.RegisterAll(vcmd.Global)
}

// Logger is the process-wide zap logger used for tracing. Replace it (for
// example with a production JSON config) before the first command runs;
// swapping it afterward only affects Runners created afterward.
var Logger = defaultLogger()

func defaultLogger() *zap.Logger {
	verbose := os.Getenv("COMMAND_STREAM_VERBOSE") == "true" || os.Getenv("COMMAND_STREAM_TRACE") != ""
	if !verbose {
		return zap.NewNop()
	}
	cfg := zap.NewDevelopmentConfig()
	l, err := cfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return l
}

func deps() runner.Deps {
	return runner.Deps{
		Registry:    vcmd.Global,
		Flags:       execspec.Global,
		Coordinator: coordinator.Global,
		Logger:      Logger,
	}
}

// Command builds a Runner for spec under opts but does not start it,
// matching the "command constructor ... returning a constructor
// with those defaults bound" — the returned *runner.Runner is itself
// reusable as that bound constructor's single execution handle.
func Command(spec execspec.CommandSpec, opts execspec.RunOptions) *runner.Runner {
	return runner.New(spec, opts, deps())
}

// Run is the convenience entry point: mirror defaults to
// false, capture defaults to true.
func Run(ctx context.Context, commandString string, opts execspec.RunOptions) (execspec.Result, error) {
	opts = withDefaults(opts, false, true)
	return Command(execspec.Shell(commandString), opts).Await(ctx)
}

// Sh runs commandString in explicit shell mode, honoring whatever
// mirror/capture the caller set (default true/true per RunOptions.Resolve).
func Sh(ctx context.Context, commandString string, opts execspec.RunOptions) (execspec.Result, error) {
	return Command(execspec.Shell(commandString), opts).Await(ctx)
}

// Exec runs program directly, bypassing shell parsing entirely.
func Exec(ctx context.Context, program string, args []string, opts execspec.RunOptions) (execspec.Result, error) {
	return Command(execspec.Exec(program, args...), opts).Await(ctx)
}

func withDefaults(opts execspec.RunOptions, mirror, capture bool) execspec.RunOptions {
	if opts.Mirror == nil {
		opts.Mirror = &mirror
	}
	if opts.Capture == nil {
		opts.Capture = &capture
	}
	return opts
}

// Register adds a virtual command handler to the global registry.
func Register(name string, h vcmd.Handler) { vcmd.Global.Register(name, h) }

// Unregister removes a virtual command handler from the global registry.
func Unregister(name string) bool { return vcmd.Global.Unregister(name) }

// List returns every registered virtual command name.
func List() []string { return vcmd.Global.List() }

// Enable turns the global virtual registry back on.
func Enable() { vcmd.Global.Enable() }

// Disable makes the global virtual registry act empty without losing its
// contents.
func Disable() { vcmd.Global.Disable() }

// Set turns a global shell flag on.
func Set(flag execspec.Flag) { execspec.Global.Set(flag) }

// Unset turns a global shell flag off.
func Unset(flag execspec.Flag) { execspec.Global.Unset(flag) }

// ForceCleanupAll immediately SIGKILLs every live Runner's process tree,
// bypassing the Coordinator's grace period.
func ForceCleanupAll() { coordinator.Global.ForceCleanupAll() }

// ResetGlobalState clears the virtual registry (re-enabling it), shell
// flags, and coordinator active set, then registers the built-in virtual
// commands again. Intended for test isolation between independent
// scenarios in one process.
func ResetGlobalState() {
	vcmd.ResetGlobalState()
	execspec.Global.Reset()
	coordinator.Global.ResetGlobalState()
	builtins.RegisterAll(vcmd.Global)
}

package commandstream

import (
	"errors"

	"github.com/link-foundation/command-stream-go/execspec"
	"github.com/link-foundation/command-stream-go/pipeline"
	"github.com/link-foundation/command-stream-go/runner"
)

// ExitCode extracts the numeric exit code from a Result, applying the same
// "what code would a caller piping this through $?" convention buildkite
// agent's internal/shell.ExitCode applies to a raw *exec.ExitError.
func ExitCode(result execspec.Result) int {
	return result.Code
}

// IsExitSignaled reports whether code encodes a Unix "killed by signal N"
// exit.
func IsExitSignaled(code int) bool {
	return code > 128 && code < 128+64
}

// IsExitError reports whether err is this module's errexit-surfaced
// non-zero exit (runner.ExitError), a pipeline spawn failure
// (pipeline.SpawnError), or a virtual handler failure
// (pipeline.VirtualError) — the three ways ExitNonZero-flavored failures
// reach a caller of Await.
func IsExitError(err error) bool {
	var exitErr *runner.ExitError
	var spawnErr *pipeline.SpawnError
	var virtualErr *pipeline.VirtualError
	return errors.As(err, &exitErr) || errors.As(err, &spawnErr) || errors.As(err, &virtualErr)
}

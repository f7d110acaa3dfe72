package pipeline

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/link-foundation/command-stream-go/execspec"
	"github.com/link-foundation/command-stream-go/vcmd"
)

func emptyRegistry() *vcmd.Registry { return vcmd.NewRegistry() }

func collectChunks(kind execspec.ChunkKind, buf *bytes.Buffer) func(execspec.ChunkKind, []byte) {
	return func(k execspec.ChunkKind, data []byte) {
		if k == kind {
			buf.Write(data)
		}
	}
}

func TestExecute_SingleExternalStage(t *testing.T) {
	var stdout bytes.Buffer
	result, handle, err := Execute(context.Background(), []Stage{{Program: "echo", Args: []string{"hello"}, ForceExternal: true}}, Options{
		Registry: emptyRegistry(),
		OnChunk:  collectChunks(execspec.ChunkStdout, &stdout),
	})
	require.NoError(t, err)
	assert.Equal(t, 0, result.Code)
	assert.Equal(t, "hello\n", stdout.String())
	assert.NotNil(t, handle)
}

func TestExecute_TwoExternalStagesPiped(t *testing.T) {
	var stdout bytes.Buffer
	result, _, err := Execute(context.Background(), []Stage{
		{Program: "echo", Args: []string{"hello world"}, ForceExternal: true},
		{Program: "tr", Args: []string{"a-z", "A-Z"}, ForceExternal: true},
	}, Options{
		Registry: emptyRegistry(),
		OnChunk:  collectChunks(execspec.ChunkStdout, &stdout),
	})
	require.NoError(t, err)
	assert.Equal(t, 0, result.Code)
	assert.Equal(t, "HELLO WORLD\n", stdout.String())
}

func TestExecute_VirtualStage(t *testing.T) {
	reg := vcmd.NewRegistry()
	reg.Register("greet", vcmd.Handler{Batch: func(ctx vcmd.Context) vcmd.Result {
		return vcmd.Result{Code: 0, Stdout: "hi " + strings.Join(ctx.Args, " ") + "\n"}
	}})

	var stdout bytes.Buffer
	result, _, err := Execute(context.Background(), []Stage{{Program: "greet", Args: []string{"world"}}}, Options{
		Registry: reg,
		OnChunk:  collectChunks(execspec.ChunkStdout, &stdout),
	})
	require.NoError(t, err)
	assert.Equal(t, 0, result.Code)
	assert.Equal(t, "hi world\n", stdout.String())
}

func TestExecute_VirtualToExternalBridge(t *testing.T) {
	reg := vcmd.NewRegistry()
	reg.Register("greet", vcmd.Handler{Batch: func(vcmd.Context) vcmd.Result {
		return vcmd.Result{Code: 0, Stdout: "hello world\n"}
	}})

	var stdout bytes.Buffer
	result, _, err := Execute(context.Background(), []Stage{
		{Program: "greet"},
		{Program: "tr", Args: []string{"a-z", "A-Z"}, ForceExternal: true},
	}, Options{
		Registry: reg,
		OnChunk:  collectChunks(execspec.ChunkStdout, &stdout),
	})
	require.NoError(t, err)
	assert.Equal(t, 0, result.Code)
	assert.Equal(t, "HELLO WORLD\n", stdout.String())
}

func TestExecute_PipefailPicksLeftmostNonZero(t *testing.T) {
	reg := vcmd.NewRegistry()
	reg.Register("fail", vcmd.Handler{Batch: func(vcmd.Context) vcmd.Result {
		return vcmd.Result{Code: 5, Stdout: "partial\n"}
	}})
	reg.Register("ok", vcmd.Handler{Batch: func(vcmd.Context) vcmd.Result {
		return vcmd.Result{Code: 0, Stdout: "done\n"}
	}})

	result, _, err := Execute(context.Background(), []Stage{
		{Program: "fail"},
		{Program: "ok"},
	}, Options{Registry: reg, Pipefail: true})
	require.NoError(t, err)
	assert.Equal(t, 5, result.Code)
}

func TestExecute_WithoutPipefailUsesLastStageCode(t *testing.T) {
	reg := vcmd.NewRegistry()
	reg.Register("fail", vcmd.Handler{Batch: func(vcmd.Context) vcmd.Result {
		return vcmd.Result{Code: 5}
	}})
	reg.Register("ok", vcmd.Handler{Batch: func(vcmd.Context) vcmd.Result {
		return vcmd.Result{Code: 0}
	}})

	result, _, err := Execute(context.Background(), []Stage{
		{Program: "fail"},
		{Program: "ok"},
	}, Options{Registry: reg})
	require.NoError(t, err)
	assert.Equal(t, 0, result.Code)
}

func TestExecute_SpawnFailedForUnknownExternalProgram(t *testing.T) {
	result, _, err := Execute(context.Background(), []Stage{
		{Program: "definitely-not-a-real-binary-xyz", ForceExternal: true},
	}, Options{Registry: emptyRegistry()})
	require.Error(t, err)
	var spawnErr *SpawnError
	assert.ErrorAs(t, err, &spawnErr)
	assert.Equal(t, execspec.ExitSpawnFailed, result.Code)
}

func TestExecute_SpawnFailedForUnknownVirtualProgram(t *testing.T) {
	result, _, err := Execute(context.Background(), []Stage{
		{Program: "no-such-virtual-command"},
	}, Options{Registry: emptyRegistry()})
	require.Error(t, err)
	var spawnErr *SpawnError
	assert.ErrorAs(t, err, &spawnErr)
	assert.Equal(t, execspec.ExitSpawnFailed, result.Code)
}

func TestExecute_StdinPassedToExternalStage(t *testing.T) {
	var stdout bytes.Buffer
	result, _, err := Execute(context.Background(), []Stage{
		{Program: "cat", ForceExternal: true},
	}, Options{
		Registry: emptyRegistry(),
		Stdin:    strings.NewReader("from stdin\n"),
		OnChunk:  collectChunks(execspec.ChunkStdout, &stdout),
	})
	require.NoError(t, err)
	assert.Equal(t, 0, result.Code)
	assert.Equal(t, "from stdin\n", stdout.String())
}

func TestHandle_KillSignalsTrackedProcess(t *testing.T) {
	var onHandleCalled bool
	var handle *Handle
	_, _, err := Execute(context.Background(), []Stage{
		{Program: "sleep", Args: []string{"5"}, ForceExternal: true},
	}, Options{
		Registry: emptyRegistry(),
		OnHandle: func(h *Handle) {
			onHandleCalled = true
			handle = h
			require.NoError(t, h.Kill(nil))
		},
	})
	assert.True(t, onHandleCalled)
	assert.NotNil(t, handle)
	// Killed early: Execute still returns once the process exits (by
	// signal), though the precise exit code is platform-dependent.
	_ = err
}

func TestHostShell_ReturnsNonEmpty(t *testing.T) {
	assert.NotEmpty(t, HostShell())
}

func TestRunVirtualGroup_NotFoundPopulatesSuggestions(t *testing.T) {
	reg := vcmd.NewRegistry()
	reg.Register("build", vcmd.Handler{Batch: func(vcmd.Context) vcmd.Result { return vcmd.Result{Code: 0} }})
	reg.Register("test", vcmd.Handler{Batch: func(vcmd.Context) vcmd.Result { return vcmd.Result{Code: 0} }})

	var stderr bytes.Buffer
	_, wait := runVirtualGroup(context.Background(), Options{Registry: reg}, []Stage{{Program: "buld"}}, nil, &stderr)
	_, err := wait()
	require.Error(t, err)
	var spawnErr *SpawnError
	require.ErrorAs(t, err, &spawnErr)
	assert.Contains(t, spawnErr.Suggestions, "build")
}

func TestExecute_TimeoutEscalatesToSignalKill(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	start := time.Now()
	result, _, _ := Execute(ctx, []Stage{
		{Program: "sleep", Args: []string{"30"}, ForceExternal: true},
	}, Options{Registry: emptyRegistry()})
	elapsed := time.Since(start)

	// SIGTERM should end an unhandled `sleep` well before
	// coordinator.DefaultKillGrace (5s) forces a SIGKILL escalation.
	assert.Less(t, elapsed, 3*time.Second)
	assert.True(t, result.Code == execspec.ExitTerminated || result.Code == execspec.ExitHardKill,
		"expected a signal-terminated exit code, got %d", result.Code)
}

package builtins

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/link-foundation/command-stream-go/vcmd"
)

func newCtx(args ...string) vcmd.Context {
	return vcmd.Context{Context: context.Background(), Args: args}
}

func TestRegisterAll(t *testing.T) {
	r := vcmd.NewRegistry()
	RegisterAll(r)
	for _, name := range []string{"true", "false", "echo", "pwd", "cd", "cat", "which", "exit", "head", "seq", "ls", "sleep"} {
		assert.True(t, r.Has(name), "expected %q to be registered", name)
	}
}

func TestTrueFalse(t *testing.T) {
	assert.Equal(t, 0, trueCmd(newCtx()).Code)
	assert.Equal(t, 1, falseCmd(newCtx()).Code)
}

func TestEcho(t *testing.T) {
	result := echoCmd(newCtx("hello", "world"))
	assert.Equal(t, 0, result.Code)
	assert.Equal(t, "hello world\n", result.Stdout)
}

func TestPwd_UsesCtxCwdWhenSet(t *testing.T) {
	ctx := newCtx()
	ctx.Cwd = "/some/dir"
	result := pwdCmd(ctx)
	assert.Equal(t, 0, result.Code)
	assert.Equal(t, "/some/dir\n", result.Stdout)
}

func TestCd_ChangesProcessWorkingDirectory(t *testing.T) {
	original, err := os.Getwd()
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.Chdir(original) })

	tmp := t.TempDir()
	result := cdCmd(newCtx(tmp))
	assert.Equal(t, 0, result.Code)

	wd, err := os.Getwd()
	require.NoError(t, err)
	resolvedTmp, err := filepath.EvalSymlinks(tmp)
	require.NoError(t, err)
	resolvedWd, err := filepath.EvalSymlinks(wd)
	require.NoError(t, err)
	assert.Equal(t, resolvedTmp, resolvedWd)
}

func TestCd_MissingOperand(t *testing.T) {
	result := cdCmd(newCtx())
	assert.Equal(t, 1, result.Code)
}

func TestCat_ReadsStdinWhenNoArgs(t *testing.T) {
	ctx := newCtx()
	ctx.Stdin = []byte("piped data")
	result := catCmd(ctx)
	assert.Equal(t, 0, result.Code)
	assert.Equal(t, "piped data", result.Stdout)
}

func TestCat_ReadsFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.txt")
	require.NoError(t, os.WriteFile(path, []byte("contents"), 0o644))

	result := catCmd(newCtx(path))
	assert.Equal(t, 0, result.Code)
	assert.Equal(t, "contents", result.Stdout)
}

func TestCat_MissingFile(t *testing.T) {
	result := catCmd(newCtx("/no/such/file"))
	assert.Equal(t, 1, result.Code)
	assert.Contains(t, result.Stderr, "cat:")
}

func TestWhich_PrefersVirtualOverPath(t *testing.T) {
	r := vcmd.NewRegistry()
	r.Register("greet", vcmd.Handler{Batch: func(vcmd.Context) vcmd.Result { return vcmd.Result{} }})

	result := whichCmd(r)(newCtx("greet"))
	assert.Equal(t, 0, result.Code)
	assert.Equal(t, "(virtual) greet\n", result.Stdout)
}

func TestWhich_FallsBackToPath(t *testing.T) {
	r := vcmd.NewRegistry()
	result := whichCmd(r)(newCtx("ls"))
	// ls is a real external program on every platform this module targets.
	assert.Equal(t, 0, result.Code)
	assert.Contains(t, result.Stdout, "ls")
}

func TestExit_DefaultsToZero(t *testing.T) {
	assert.Equal(t, 0, exitCmd(newCtx()).Code)
}

func TestExit_ParsesCode(t *testing.T) {
	assert.Equal(t, 42, exitCmd(newCtx("42")).Code)
}

func TestHead_DefaultTenLines(t *testing.T) {
	ctx := newCtx()
	lines := ""
	for i := 0; i < 20; i++ {
		lines += "line\n"
	}
	ctx.Stdin = []byte(lines)
	result := headCmd(ctx)
	assert.Equal(t, 10, countLines(result.Stdout))
}

func TestHead_CustomCount(t *testing.T) {
	ctx := newCtx("-n", "2")
	ctx.Stdin = []byte("a\nb\nc\nd\n")
	result := headCmd(ctx)
	assert.Equal(t, "a\nb\n", result.Stdout)
}

func countLines(s string) int {
	n := 0
	for _, c := range s {
		if c == '\n' {
			n++
		}
	}
	return n
}

func TestSeq_SingleArg(t *testing.T) {
	result := seqCmd(newCtx("3"))
	assert.Equal(t, "1\n2\n3\n", result.Stdout)
}

func TestSeq_TwoArgs(t *testing.T) {
	result := seqCmd(newCtx("2", "4"))
	assert.Equal(t, "2\n3\n4\n", result.Stdout)
}

func TestSeq_BadUsage(t *testing.T) {
	result := seqCmd(newCtx("1", "2", "3"))
	assert.Equal(t, 1, result.Code)
}

func TestLs_SortsEntries(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.txt"), nil, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), nil, 0o644))

	result := lsCmd(newCtx(dir))
	assert.Equal(t, 0, result.Code)
	assert.Equal(t, "a.txt\nb.txt\n", result.Stdout)
}

func TestSleep_CompletesAfterDuration(t *testing.T) {
	start := time.Now()
	result := sleepCmd(newCtx("0.01"))
	assert.Equal(t, 0, result.Code)
	assert.GreaterOrEqual(t, time.Since(start), 10*time.Millisecond)
}

func TestSleep_CancelledByContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	result := sleepCmd(vcmd.Context{Context: ctx, Args: []string{"10"}})
	assert.Equal(t, 130, result.Code)
}

func TestSleep_MissingOperand(t *testing.T) {
	result := sleepCmd(newCtx())
	assert.Equal(t, 1, result.Code)
}

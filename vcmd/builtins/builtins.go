// Package builtins provides the concrete virtual commands registered by
// default: small, dependency-free stand-ins for common external programs.
// Each handler's only contract is the vcmd.Handler type — this package is
// deliberately shallow.
package builtins

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/link-foundation/command-stream-go/vcmd"
)

// RegisterAll registers every built-in handler into r.
func RegisterAll(r *vcmd.Registry) {
	r.Register("true", vcmd.Handler{Batch: trueCmd})
	r.Register("false", vcmd.Handler{Batch: falseCmd})
	r.Register("echo", vcmd.Handler{Batch: echoCmd})
	r.Register("pwd", vcmd.Handler{Batch: pwdCmd})
	r.Register("cd", vcmd.Handler{Batch: cdCmd})
	r.Register("cat", vcmd.Handler{Batch: catCmd})
	r.Register("which", vcmd.Handler{Batch: whichCmd(r)})
	r.Register("exit", vcmd.Handler{Batch: exitCmd})
	r.Register("head", vcmd.Handler{Batch: headCmd})
	r.Register("seq", vcmd.Handler{Batch: seqCmd})
	r.Register("ls", vcmd.Handler{Batch: lsCmd})
	r.Register("sleep", vcmd.Handler{Batch: sleepCmd})
}

func trueCmd(vcmd.Context) vcmd.Result  { return vcmd.Result{Code: 0} }
func falseCmd(vcmd.Context) vcmd.Result { return vcmd.Result{Code: 1} }

func echoCmd(ctx vcmd.Context) vcmd.Result {
	return vcmd.Result{Code: 0, Stdout: strings.Join(ctx.Args, " ") + "\n"}
}

func pwdCmd(ctx vcmd.Context) vcmd.Result {
	if ctx.Cwd != "" {
		return vcmd.Result{Code: 0, Stdout: ctx.Cwd + "\n"}
	}
	wd, err := os.Getwd()
	if err != nil {
		return vcmd.Result{Code: 1, Stderr: err.Error() + "\n"}
	}
	return vcmd.Result{Code: 0, Stdout: wd + "\n"}
}

// cdCmd is the virtual `cd` built-in. Observable side effects of built-ins
// are scoped to the process: cd mutates the process working directory, not
// any per-Runner state.
func cdCmd(ctx vcmd.Context) vcmd.Result {
	if len(ctx.Args) == 0 {
		return vcmd.Result{Code: 1, Stderr: "cd: missing operand\n"}
	}
	if err := os.Chdir(ctx.Args[0]); err != nil {
		return vcmd.Result{Code: 1, Stderr: fmt.Sprintf("cd: %v\n", err)}
	}
	return vcmd.Result{Code: 0}
}

func catCmd(ctx vcmd.Context) vcmd.Result {
	if len(ctx.Args) == 0 {
		return vcmd.Result{Code: 0, Stdout: string(ctx.Stdin)}
	}
	var out, errs bytes.Buffer
	var code int
	for _, path := range ctx.Args {
		data, err := os.ReadFile(path)
		if err != nil {
			fmt.Fprintf(&errs, "cat: %v\n", err)
			code = 1
			continue
		}
		out.Write(data)
	}
	return vcmd.Result{Code: code, Stdout: out.String(), Stderr: errs.String()}
}

// whichCmd prints "(virtual) <name>" when the enabled registry resolves
// name; otherwise it searches the inherited PATH and prints the path found,
// exiting 1 when there is none. This matches the Runner's own dispatch
// resolution order.
func whichCmd(r *vcmd.Registry) vcmd.Batched {
	return func(ctx vcmd.Context) vcmd.Result {
		if len(ctx.Args) == 0 {
			return vcmd.Result{Code: 1, Stderr: "which: missing operand\n"}
		}
		name := ctx.Args[0]
		if r.Has(name) {
			return vcmd.Result{Code: 0, Stdout: "(virtual) " + name + "\n"}
		}
		path, err := exec.LookPath(name)
		if err != nil {
			return vcmd.Result{Code: 1}
		}
		return vcmd.Result{Code: 0, Stdout: path + "\n"}
	}
}

func exitCmd(ctx vcmd.Context) vcmd.Result {
	code := 0
	if len(ctx.Args) > 0 {
		if n, err := strconv.Atoi(ctx.Args[0]); err == nil {
			code = n
		}
	}
	return vcmd.Result{Code: code}
}

func headCmd(ctx vcmd.Context) vcmd.Result {
	n := 10
	args := ctx.Args
	if len(args) >= 2 && args[0] == "-n" {
		if v, err := strconv.Atoi(args[1]); err == nil {
			n = v
		}
		args = args[2:]
	}
	var data []byte
	if len(args) > 0 {
		raw, err := os.ReadFile(args[0])
		if err != nil {
			return vcmd.Result{Code: 1, Stderr: err.Error() + "\n"}
		}
		data = raw
	} else {
		data = ctx.Stdin
	}
	lines := strings.SplitAfter(string(data), "\n")
	if n < len(lines) {
		lines = lines[:n]
	}
	return vcmd.Result{Code: 0, Stdout: strings.Join(lines, "")}
}

func seqCmd(ctx vcmd.Context) vcmd.Result {
	var first, last int
	switch len(ctx.Args) {
	case 1:
		first, last = 1, atoiOr(ctx.Args[0], 0)
	case 2:
		first, last = atoiOr(ctx.Args[0], 1), atoiOr(ctx.Args[1], 0)
	default:
		return vcmd.Result{Code: 1, Stderr: "seq: usage: seq [first] last\n"}
	}
	var b strings.Builder
	for i := first; i <= last; i++ {
		fmt.Fprintf(&b, "%d\n", i)
	}
	return vcmd.Result{Code: 0, Stdout: b.String()}
}

func atoiOr(s string, def int) int {
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	return def
}

func lsCmd(ctx vcmd.Context) vcmd.Result {
	dir := "."
	if len(ctx.Args) > 0 {
		dir = ctx.Args[0]
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return vcmd.Result{Code: 1, Stderr: err.Error() + "\n"}
	}
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Name()
	}
	sort.Strings(names)
	return vcmd.Result{Code: 0, Stdout: strings.Join(names, "\n") + "\n"}
}

func sleepCmd(ctx vcmd.Context) vcmd.Result {
	if len(ctx.Args) == 0 {
		return vcmd.Result{Code: 1, Stderr: "sleep: missing operand\n"}
	}
	secs, err := strconv.ParseFloat(ctx.Args[0], 64)
	if err != nil {
		return vcmd.Result{Code: 1, Stderr: fmt.Sprintf("sleep: %v\n", err)}
	}
	select {
	case <-time.After(time.Duration(secs * float64(time.Second))):
		return vcmd.Result{Code: 0}
	case <-ctx.Done():
		return vcmd.Result{Code: 130}
	}
}

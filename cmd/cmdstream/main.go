// Command cmdstream is a thin demonstration CLI over package commandstream:
// it contributes no execution logic of its own, only argument
// parsing and exit-code plumbing, grounded in the cobra root-command
// pattern of the original project's CLI.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/link-foundation/command-stream-go/commandstream"
	"github.com/link-foundation/command-stream-go/execspec"
)

func main() {
	var (
		noMirror bool
		noCaptureOut bool
		cwd      string
	)

	rootCmd := &cobra.Command{
		Use:           "cmdstream <command string>",
		Short:         "Run a shell-style command through command-stream-go",
		Args:          cobra.MinimumNArgs(1),
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := newCancellableContext()
			defer cancel()

			mirror := !noMirror
			capture := !noCaptureOut
			opts := execspec.RunOptions{Mirror: &mirror, Capture: &capture}
			if cwd != "" {
				opts.Cwd = cwd
			}

			result, err := commandstream.Sh(ctx, joinArgs(args), opts)
			if err != nil {
				return err
			}
			if result.Code != 0 {
				os.Exit(result.Code)
			}
			return nil
		},
	}

	rootCmd.PersistentFlags().BoolVar(&noMirror, "no-mirror", false, "Do not mirror output to the host's stdio")
	rootCmd.PersistentFlags().BoolVar(&noCaptureOut, "no-capture", false, "Do not capture output into the Result")
	rootCmd.PersistentFlags().StringVar(&cwd, "cwd", "", "Working directory for the command")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func joinArgs(args []string) string {
	out := args[0]
	for _, a := range args[1:] {
		out += " " + a
	}
	return out
}

// newCancellableContext cancels on SIGINT/SIGTERM so Ctrl-C reaches the
// whole execution chain, not just this process.
func newCancellableContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()
	return ctx, cancel
}

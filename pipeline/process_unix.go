//go:build !windows

package pipeline

import (
	"os"
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

// setProcessGroup puts cmd in its own process group so Kill can signal the
// whole group — not just the direct child — matching a real shell's job
// control (grounded in devcmd's local_session.go spawn path). The
// exec.Cmd.SysProcAttr field is pinned to *syscall.SysProcAttr by os/exec
// itself, so only the field value, not the type, can come from x/sys.
func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// killProcessGroup signals the process group led by p. Unix process groups
// are addressed by the negative of the leader's pid; unix.Kill/unix.ESRCH
// are used over the syscall package equivalents for the same reason the
// retrieved runc and pexec examples do: x/sys/unix tracks new platforms
// (e.g. riscv64, loong64) that the frozen syscall package no longer gets.
func killProcessGroup(p *os.Process, sig os.Signal) error {
	unixSig, ok := sig.(syscall.Signal)
	if !ok {
		unixSig = syscall.SIGTERM
	}
	err := unix.Kill(-p.Pid, unix.Signal(unixSig))
	if err == unix.ESRCH {
		return nil
	}
	return err
}

//go:build windows

package pipeline

import (
	"os"
	"os/exec"

	gopsutil "github.com/shirou/gopsutil/v4/process"
)

// setProcessGroup is a no-op on Windows: exec.Cmd has no Setpgid equivalent
// usable here without CREATE_NEW_PROCESS_GROUP console semantics that would
// change how Ctrl-C reaches the child. killProcessGroup below kills the
// direct child and its enumerated descendants instead.
func setProcessGroup(cmd *exec.Cmd) {}

// killProcessGroup kills p and, best-effort, its descendants via gopsutil
// since Windows has no process-group signal primitive matching Unix's
// kill(-pid).
func killProcessGroup(p *os.Process, sig os.Signal) error {
	proc, err := gopsutil.NewProcess(int32(p.Pid))
	if err == nil {
		children, cerr := proc.Children()
		if cerr == nil {
			for _, c := range children {
				_ = c.Kill()
			}
		}
	}
	return p.Kill()
}

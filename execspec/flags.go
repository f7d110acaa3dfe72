package execspec

import "sync"

// Flag enumerates the shell-style toggles: errexit, verbose, xtrace,
// pipefail, nounset (the "e|v|x|u|pipefail" flags).
type Flag string

const (
	FlagErrexit  Flag = "e"
	FlagVerbose  Flag = "v"
	FlagXtrace   Flag = "x"
	FlagNounset  Flag = "u"
	FlagPipefail Flag = "pipefail"
)

// GlobalFlags is the process-wide, mutable shell-flag record.
// A single sync.RWMutex guards it, following the locking discipline of
// devcmd's decorator.Registry (core/decorator/registry.go): reads take
// the read lock, writes take the write lock. Changing a flag while runners
// are live takes effect only for evaluations that start afterward — every
// read here is a snapshot taken at runner-start or at non-zero-exit
// handling, never held across a run.
type GlobalFlags struct {
	mu    sync.RWMutex
	flags map[Flag]bool
}

// NewGlobalFlags creates a flag record with every flag unset.
func NewGlobalFlags() *GlobalFlags {
	return &GlobalFlags{flags: make(map[Flag]bool)}
}

// Set turns a flag on.
func (g *GlobalFlags) Set(f Flag) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.flags[f] = true
}

// Unset turns a flag off.
func (g *GlobalFlags) Unset(f Flag) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.flags, f)
}

// Is reports whether f is currently on.
func (g *GlobalFlags) Is(f Flag) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.flags[f]
}

// Reset clears every flag, restoring defaults (all off).
func (g *GlobalFlags) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.flags = make(map[Flag]bool)
}

// Global is the process-wide flag record used by package commandstream.
var Global = NewGlobalFlags()

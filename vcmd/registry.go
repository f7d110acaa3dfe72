// Package vcmd implements the process-wide virtual command registry: a
// name-to-handler map that can substitute for external binaries, with an
// enable/disable flag that preserves contents across a disable/re-enable
// cycle.
//
// The locking discipline follows devcmd's decorator.Registry
// (core/decorator/registry.go): a single sync.RWMutex guards the map,
// reads take the read lock, and registration/enable/disable take the
// write lock.
package vcmd

import (
	"context"
	"sync"

	"github.com/lithammer/fuzzysearch/fuzzy"
)

// Result is the normalized outcome of a batched handler call.
type Result struct {
	Code   int
	Stdout string
	Stderr string
}

// Context is passed to every virtual command invocation.
type Context struct {
	context.Context
	Args       []string
	Stdin      []byte
	Cwd        string
	Env        map[string]string
	// Stderr lets a streaming handler write diagnostic output alongside
	// its stdout chunk stream.
	Stderr func(chunk []byte)
}

// Batched is a synchronous (or future-returning, via goroutine + channel
// at the caller's discretion) handler shape: it runs to completion and
// returns one Result.
type Batched func(ctx Context) Result

// Streaming is a generator handler shape: Next is called repeatedly, each
// call either yielding a chunk of stdout bytes or signalling completion
// via done=true, at which point code holds the handler's exit code
// (default 0 unless explicitly returned otherwise).
type Streaming interface {
	// Next returns the next stdout chunk. done=true means the generator
	// is finished and code is final; a non-empty chunk returned alongside
	// done=true is still written.
	Next(ctx Context) (chunk []byte, done bool, code int, err error)
}

// StreamingFunc adapts a plain function to the Streaming interface for
// simple generators that keep their own iteration state via closure.
type StreamingFunc func(ctx Context) (chunk []byte, done bool, code int, err error)

func (f StreamingFunc) Next(ctx Context) ([]byte, bool, int, error) { return f(ctx) }

// Handler is the tagged variant chosen once at registration time: exactly
// one of Batch or Stream is non-nil.
type Handler struct {
	Batch  Batched
	Stream func(ctx Context) Streaming
}

// IsStreaming reports whether h was registered as a streaming generator.
func (h Handler) IsStreaming() bool { return h.Stream != nil }

// Registry is a process-wide name -> Handler map with an enable flag.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	enabled  bool
}

// NewRegistry creates an empty, enabled registry. The package-level Global
// registry is the one used by the commandstream public API; NewRegistry
// exists for isolated tests.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler), enabled: true}
}

// Register adds or replaces the handler for name.
func (r *Registry) Register(name string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[name] = h
}

// Unregister removes name, reporting whether it was present.
func (r *Registry) Unregister(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.handlers[name]; !ok {
		return false
	}
	delete(r.handlers, name)
	return true
}

// List returns every registered name, regardless of the enable flag.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	return names
}

// Enable turns the registry back on after Disable.
func (r *Registry) Enable() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.enabled = true
}

// Disable makes Has/Lookup behave as if the registry were empty, without
// losing its contents.
func (r *Registry) Disable() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.enabled = false
}

// Enabled reports the current enable flag.
func (r *Registry) Enabled() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.enabled
}

// Has reports whether name resolves to a virtual handler right now
// (honors the enable flag).
func (r *Registry) Has(name string) bool {
	_, ok := r.Lookup(name)
	return ok
}

// Lookup returns the handler for name if the registry is enabled and name
// is registered.
func (r *Registry) Lookup(name string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if !r.enabled {
		return Handler{}, false
	}
	h, ok := r.handlers[name]
	return h, ok
}

// Suggest returns up to n registered names that fuzzy-match name, for
// "command not found: did you mean ...?" diagnostics on SpawnFailed.
func (r *Registry) Suggest(name string, n int) []string {
	r.mu.RLock()
	candidates := make([]string, 0, len(r.handlers))
	for existing := range r.handlers {
		candidates = append(candidates, existing)
	}
	r.mu.RUnlock()

	matches := fuzzy.RankFindFold(name, candidates)
	if len(matches) > n {
		matches = matches[:n]
	}
	out := make([]string, len(matches))
	for i, m := range matches {
		out[i] = m.Target
	}
	return out
}

// Global is the process-wide registry used by package commandstream.
var Global = NewRegistry()

// ResetGlobalState clears every registered handler from Global and
// re-enables it, matching the module-wide resetGlobalState for the registry
// half of global state (shell flags are reset separately by the
// commandstream package).
func ResetGlobalState() {
	Global.mu.Lock()
	defer Global.mu.Unlock()
	Global.handlers = make(map[string]Handler)
	Global.enabled = true
}

// Package invariant provides contract assertions for the runner, pipeline,
// and coordinator state machines.
//
// Precondition/Postcondition express a function's contract with its
// callers; Invariant expresses internal consistency that must hold across a
// state transition. All three panic on violation: these catch programming
// errors inside this module, never a caller's bad input or a child
// process's bad exit code — those are reported through Result/error values
// instead.
package invariant

import (
	"fmt"
	"reflect"
	"runtime"
)

// Precondition panics if condition is false. Use it to validate arguments
// and caller expectations at function entry.
//
//	case execspec.ModePipeline:
//	    invariant.Precondition(len(r.spec.Stages) > 0, "ModePipeline requires at least one stage")
func Precondition(condition bool, format string, args ...interface{}) {
	if !condition {
		fail("PRECONDITION", format, args...)
	}
}

// Postcondition panics if condition is false. Use it to validate a
// function's own guarantees before it returns.
func Postcondition(condition bool, format string, args ...interface{}) {
	if !condition {
		fail("POSTCONDITION", format, args...)
	}
}

// Invariant panics if condition is false. Use it for state-machine
// consistency checks, e.g. that a Runner never emits "end" twice.
func Invariant(condition bool, format string, args ...interface{}) {
	if !condition {
		fail("INVARIANT", format, args...)
	}
}

// NotNil panics if value is nil, including a typed nil pointer/interface.
func NotNil(value interface{}, name string) {
	if value == nil || isNilValue(value) {
		fail("PRECONDITION", "%s must not be nil", name)
	}
}

func isNilValue(value interface{}) bool {
	v := reflect.ValueOf(value)
	switch v.Kind() {
	case reflect.Ptr, reflect.Interface, reflect.Slice, reflect.Map, reflect.Chan, reflect.Func:
		return v.IsNil()
	default:
		return false
	}
}

// ExpectNoError panics if err is non-nil. Use it for operations this
// library guarantees will not fail given its own internal invariants (e.g.
// re-marshalling a Result it just built).
func ExpectNoError(err error, msg string) {
	if err != nil {
		fail("POSTCONDITION", "%s must not fail: %v", msg, err)
	}
}

func fail(kind, format string, args ...interface{}) {
	pc := make([]uintptr, 10)
	n := runtime.Callers(3, pc)
	frames := runtime.CallersFrames(pc[:n])

	msg := fmt.Sprintf("%s VIOLATION: "+format, append([]interface{}{kind}, args...)...)
	if frame, ok := frames.Next(); ok {
		msg += fmt.Sprintf("\n  at %s:%d", frame.File, frame.Line)
	}
	panic(msg)
}

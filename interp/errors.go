package interp

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrKind tags the category of a runtime error (spec §7).
type ErrKind int

const (
	ErrTypeMismatch ErrKind = iota
	ErrArityMismatch
	ErrUnbound
	ErrUninitialized
	ErrDivisionByZero
	ErrShapeMismatch
	ErrIndexOutOfRange
	ErrKeyMissing
	ErrFrozenWrite
	ErrAliasCycle
	ErrParseError
	ErrIOError
	ErrImportNotFound
	ErrStopRequested
	ErrUnknownCallee
	ErrCustom
)

func (k ErrKind) String() string {
	switch k {
	case ErrTypeMismatch:
		return "TypeMismatch"
	case ErrArityMismatch:
		return "ArityMismatch"
	case ErrUnbound:
		return "Unbound"
	case ErrUninitialized:
		return "Uninitialized"
	case ErrDivisionByZero:
		return "DivisionByZero"
	case ErrShapeMismatch:
		return "ShapeMismatch"
	case ErrIndexOutOfRange:
		return "IndexOutOfRange"
	case ErrKeyMissing:
		return "KeyMissing"
	case ErrFrozenWrite:
		return "FrozenWrite"
	case ErrAliasCycle:
		return "AliasCycle"
	case ErrParseError:
		return "ParseError"
	case ErrIOError:
		return "IOError"
	case ErrImportNotFound:
		return "ImportNotFound"
	case ErrStopRequested:
		return "StopRequested"
	case ErrUnknownCallee:
		return "UnknownCallee"
	case ErrCustom:
		return "Custom"
	}
	return "Unknown"
}

// RuntimeError is the payload of an ExecResult/Error variant (§4.3) and the
// concrete Go error type raised through the evaluator (§7). It wraps
// github.com/pkg/errors so a stack trace is attached at the point of
// Raise, mirroring the teacher's Panic capturing a filtered stacktrace at
// the point a panic is recovered.
type RuntimeError struct {
	Kind    ErrKind
	Message string
	Pos     Pos
	cause   error
}

func (e *RuntimeError) Error() string {
	return fmt.Sprintf("%s at %d:%d", e.Message, e.Pos.Line, e.Pos.Column)
}

// Unwrap exposes the pkg/errors-annotated cause so the standard library's
// errors.Is/As can reach it. RuntimeError has no Cause method, so
// pkg/errors' errors.Cause stops at the RuntimeError itself.
func (e *RuntimeError) Unwrap() error { return e.cause }

// Raise constructs a RuntimeError, attaching a stack trace via
// github.com/pkg/errors the same way zond-juicemud wraps storage/game
// errors before they cross a package boundary.
func Raise(kind ErrKind, pos Pos, format string, args ...interface{}) *RuntimeError {
	msg := fmt.Sprintf(format, args...)
	return &RuntimeError{
		Kind:    kind,
		Message: msg,
		Pos:     pos,
		cause:   errors.Errorf("%s: %s", kind, msg),
	}
}

// RaiseCustom builds the Custom(message) kind used by the language-level
// THROW(msg) builtin (§7).
func RaiseCustom(pos Pos, msg string) *RuntimeError {
	return Raise(ErrCustom, pos, "%s", msg)
}

// StackTrace exposes the pkg/errors stack frames of the wrapped cause, for
// diagnostic printing (-verbose CLI mode) without leaking pkg/errors types
// outside this package.
func (e *RuntimeError) StackTrace() string {
	type stackTracer interface{ StackTrace() errors.StackTrace }
	if st, ok := e.cause.(stackTracer); ok {
		return fmt.Sprintf("%+v", st.StackTrace())
	}
	return ""
}

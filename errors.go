package anythread

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Standard errors.
var (
	// ErrNilTarget is returned when a redirected call is made with a nil target.
	ErrNilTarget = errors.New("anythread: nil target")

	// ErrNotMethod is returned by [Redirect] when the wrapped value is not a
	// function whose first parameter implements [Target].
	ErrNotMethod = errors.New("anythread: not a method of a target")

	// ErrNotRegistered is returned when a request is submitted to a target that
	// has not been registered with the bridge.
	ErrNotRegistered = errors.New("anythread: target is not registered")

	// ErrForeignBridge is returned when a target registered with one bridge is
	// used with another. Each target has exactly one owner goroutine.
	ErrForeignBridge = errors.New("anythread: target is registered with a different bridge")

	// ErrAlreadySubmitted is returned when a request is submitted more than once.
	ErrAlreadySubmitted = errors.New("anythread: request already submitted")

	// ErrOutcomeConsumed is returned when the outcome of a request has already
	// been retrieved by a previous await.
	ErrOutcomeConsumed = errors.New("anythread: outcome already consumed")

	// ErrAwaitTimeout is returned when a bounded wait (see
	// [WithAwaitTimeout]) expires before the owner processed the request.
	ErrAwaitTimeout = errors.New("anythread: timed out awaiting owner")

	// ErrGoexit is the cause recorded when the wrapped function called
	// [runtime.Goexit] on the owner goroutine.
	ErrGoexit = errors.New("anythread: function exited via runtime.Goexit")

	// ErrNoLoop is returned by [NewBridge] if no loop was configured.
	ErrNoLoop = errors.New("anythread: no loop configured")
)

// Kind classifies how a call failed on the owner goroutine.
type Kind uint8

const (
	// KindError means the function returned a non-nil error.
	KindError Kind = iota + 1
	// KindPanic means the function panicked.
	KindPanic
	// KindGoexit means the function called runtime.Goexit.
	KindGoexit
)

// String implements fmt.Stringer.
func (k Kind) String() string {
	switch k {
	case KindError:
		return "error"
	case KindPanic:
		return "panic"
	case KindGoexit:
		return "goexit"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// RemoteError describes a failure that occurred on the owner goroutine, and
// is what the caller receives in its place.
//
// Error returns the message of the original failure unchanged, and Unwrap
// yields the original error, so [errors.Is] and [errors.As] behave as they
// would had the call been made locally. The remaining fields carry the
// originating context, for diagnostics.
type RemoteError struct {
	// Err is the original error (KindError), ErrGoexit (KindGoexit), or the
	// panic value if it was an error (KindPanic).
	Err error

	// Value is the recovered panic value, for KindPanic.
	Value any

	// Func is the name of the function that failed.
	Func string

	// Stack is the owner goroutine's stack, captured where the failure was
	// observed (inside the deferred recover, for panics).
	Stack []byte

	// Goroutine is the ID of the owner goroutine.
	Goroutine uint64

	// Thread is the OS thread ID of the owner goroutine, or 0 if unknown.
	Thread int

	// Request identifies the request that carried the call.
	Request uuid.UUID

	Kind Kind
}

// Error implements the error interface.
func (e *RemoteError) Error() string {
	switch {
	case e.Err != nil:
		return e.Err.Error()
	case e.Kind == KindPanic:
		return fmt.Sprint(e.Value)
	default:
		return "anythread: remote failure"
	}
}

// Unwrap returns the original error, for use with [errors.Is] and [errors.As].
func (e *RemoteError) Unwrap() error {
	return e.Err
}

// StackTrace renders the originating context as text, suitable for logs.
func (e *RemoteError) StackTrace() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s on owner goroutine %d", e.Kind, e.Goroutine)
	if e.Thread != 0 {
		fmt.Fprintf(&b, " (thread %d)", e.Thread)
	}
	if e.Func != "" {
		fmt.Fprintf(&b, " in %s", e.Func)
	}
	fmt.Fprintf(&b, ": %s\n", e.Error())
	b.Write(e.Stack)
	return b.String()
}

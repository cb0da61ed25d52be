package anythread

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/joeycumines/go-anythread/internal/goid"
)

// State is the lifecycle state of a [Request].
//
// Transitions are forward only, except that a request rejected by the loop
// returns to Created:
//
//	Created → Submitted → Processing → Completed
type State uint32

const (
	StateCreated State = iota
	StateSubmitted
	StateProcessing
	StateCompleted
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateSubmitted:
		return "submitted"
	case StateProcessing:
		return "processing"
	case StateCompleted:
		return "completed"
	default:
		return fmt.Sprintf("State(%d)", uint32(s))
	}
}

// Outcome is the tagged result of a processed request: success if Err is nil,
// otherwise a failure described by Err. Value holds whatever the function
// returned, including alongside a returned error.
type Outcome[R any] struct {
	Value R
	Err   *RemoteError
}

// OK reports whether the call succeeded.
func (o Outcome[R]) OK() bool { return o.Err == nil }

// Get re-raises the outcome on the calling goroutine: it returns the value
// and error as the function did, except that a panic on the owner is
// re-panicked here, with the [*RemoteError] as the panic value.
func (o Outcome[R]) Get() (R, error) {
	if o.Err == nil {
		return o.Value, nil
	}
	if o.Err.Kind == KindPanic {
		panic(o.Err)
	}
	return o.Value, o.Err
}

// Invocation is the type-erased view of a [Request], as handled by the
// [Bridge]. It is implemented only by *Request.
type Invocation interface {
	ID() uuid.UUID
	Name() string
	State() State
	Process()

	submit() bool
	unsubmit()
	submittedAt() time.Time
	outcomeKind() Kind
}

// Request is a single pending call, to be processed exactly once by the owner
// goroutine and awaited exactly once by the goroutine that created it.
//
// The outcome is written only by Process, and only before the done channel is
// closed. It is read only after the done channel is closed.
type Request[R any] struct {
	fn        func() (R, error)
	done      chan struct{}
	outcome   Outcome[R]
	submitted time.Time
	name      string
	id        uuid.UUID
	state     atomic.Uint32
	kind      Kind
	consumed  atomic.Bool
}

var _ Invocation = (*Request[any])(nil)

// NewRequest builds a request in the [StateCreated] state. Arguments are bound
// into fn by the caller, typically as a closure.
func NewRequest[R any](fn func() (R, error)) *Request[R] {
	return newRequest(funcName(fn), fn)
}

func newRequest[R any](name string, fn func() (R, error)) *Request[R] {
	return &Request[R]{
		fn:   fn,
		done: make(chan struct{}),
		name: name,
		id:   uuid.New(),
	}
}

// ID returns the unique identifier of this request.
func (r *Request[R]) ID() uuid.UUID { return r.id }

// Name returns the name of the function this request calls.
func (r *Request[R]) Name() string { return r.name }

// State returns the current lifecycle state.
func (r *Request[R]) State() State { return State(r.state.Load()) }

// Done returns a channel that is closed once the request is completed.
func (r *Request[R]) Done() <-chan struct{} { return r.done }

// Process calls the function and records its outcome, then signals
// completion. It must only be called by the owner goroutine. Calls after the
// first are no-ops.
//
// No failure escapes Process: returned errors, panics, and runtime.Goexit are
// all recorded as the outcome, for the awaiting goroutine. Note that Goexit
// still terminates the goroutine that called Process, once recorded.
func (r *Request[R]) Process() {
	if !r.state.CompareAndSwap(uint32(StateSubmitted), uint32(StateProcessing)) &&
		!r.state.CompareAndSwap(uint32(StateCreated), uint32(StateProcessing)) {
		return
	}

	var completed bool
	defer func() {
		if !completed {
			if v := recover(); v != nil {
				err, _ := v.(error)
				r.outcome = Outcome[R]{Err: r.remoteError(KindPanic, err, v)}
			} else {
				r.outcome = Outcome[R]{Err: r.remoteError(KindGoexit, ErrGoexit, nil)}
			}
		}
		if r.outcome.Err != nil {
			r.kind = r.outcome.Err.Kind
		}
		r.state.Store(uint32(StateCompleted))
		close(r.done)
	}()

	value, err := r.fn()
	r.outcome.Value = value
	if err != nil {
		r.outcome.Err = r.remoteError(KindError, err, nil)
	}
	completed = true
}

func (r *Request[R]) remoteError(kind Kind, err error, value any) *RemoteError {
	return &RemoteError{
		Err:       err,
		Value:     value,
		Func:      r.name,
		Stack:     debug.Stack(),
		Goroutine: goid.ID(),
		Thread:    goid.Thread(),
		Request:   r.id,
		Kind:      kind,
	}
}

// Await blocks until the request is completed, then consumes and re-raises
// the outcome (see [Outcome.Get]). There is no timeout: if the owner never
// processes the request, Await never returns.
//
// Only the first call receives the outcome, subsequent calls return
// [ErrOutcomeConsumed].
func (r *Request[R]) Await() (R, error) {
	o, err := r.AwaitOutcome()
	if err != nil {
		var zero R
		return zero, err
	}
	return o.Get()
}

// AwaitOutcome is like [Request.Await], but returns the tagged outcome,
// without re-raising it.
func (r *Request[R]) AwaitOutcome() (Outcome[R], error) {
	<-r.done
	return r.consume()
}

// AwaitContext is a bounded variant of [Request.Await]. If ctx is done first,
// it returns ctx.Err() and the outcome remains unconsumed. The request is not
// cancelled, and will still be processed by the owner.
func (r *Request[R]) AwaitContext(ctx context.Context) (R, error) {
	select {
	case <-r.done:
	case <-ctx.Done():
		var zero R
		return zero, ctx.Err()
	}
	o, err := r.consume()
	if err != nil {
		var zero R
		return zero, err
	}
	return o.Get()
}

func (r *Request[R]) consume() (Outcome[R], error) {
	if !r.consumed.CompareAndSwap(false, true) {
		return Outcome[R]{}, ErrOutcomeConsumed
	}
	o := r.outcome
	r.outcome = Outcome[R]{}
	return o, nil
}

func (r *Request[R]) submit() bool {
	if !r.state.CompareAndSwap(uint32(StateCreated), uint32(StateSubmitted)) {
		return false
	}
	r.submitted = time.Now()
	return true
}

func (r *Request[R]) unsubmit() {
	r.state.CompareAndSwap(uint32(StateSubmitted), uint32(StateCreated))
}

func (r *Request[R]) submittedAt() time.Time { return r.submitted }

// outcomeKind returns 0 for success, and must only be called by the goroutine
// that called Process, after it returned.
func (r *Request[R]) outcomeKind() Kind { return r.kind }

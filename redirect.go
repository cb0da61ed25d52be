package anythread

import (
	"context"
	"errors"
	"time"
)

// Redirector decides, per call, whether a method runs inline or is marshalled
// to the owner goroutine of its bridge.
//
// On the owner goroutine, calls run directly, with no allocation or
// synchronization, which also means nested redirected calls made by the
// owner cannot deadlock. Any other goroutine submits a [Request] via the
// [Bridge], and blocks until the owner has processed it.
type Redirector struct {
	bridge   *Bridge
	identity Identity
	timeout  time.Duration
}

// NewRedirector returns a redirector using the given bridge, and its owner
// identity.
func NewRedirector(bridge *Bridge, opts ...RedirectorOption) (*Redirector, error) {
	if bridge == nil {
		return nil, errors.New("anythread: bridge must not be nil")
	}
	cfg, err := resolveRedirectorOptions(opts)
	if err != nil {
		return nil, err
	}
	return &Redirector{
		bridge:   bridge,
		identity: bridge.identity,
		timeout:  cfg.awaitTimeout,
	}, nil
}

// Bridge returns the bridge used by this redirector.
func (r *Redirector) Bridge() *Bridge { return r.bridge }

// Call runs fn on the owner goroutine of r, on behalf of target, and returns
// its results, as described by [Redirector]. Errors returned by fn are
// delivered as a [*RemoteError] chaining the original. Panics are re-raised
// on the calling goroutine.
func Call[R any](r *Redirector, target Target, fn func() (R, error)) (R, error) {
	return call(r, target, funcName(fn), fn)
}

// Do is [Call] for functions with no result besides an error.
func Do(r *Redirector, target Target, fn func() error) error {
	_, err := call(r, target, funcName(fn), func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

func call[R any](r *Redirector, target Target, name string, fn func() (R, error)) (R, error) {
	if isNil(target) {
		var zero R
		return zero, ErrNilTarget
	}

	if r.identity.IsOwner() {
		r.bridge.metrics.observeInline()
		return fn()
	}

	if err := r.bridge.Register(target); err != nil {
		var zero R
		return zero, err
	}

	req := newRequest(name, fn)
	if err := r.bridge.Submit(req, target); err != nil {
		var zero R
		return zero, err
	}

	if r.timeout <= 0 {
		return req.Await()
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	value, err := req.AwaitContext(ctx)
	if errors.Is(err, context.DeadlineExceeded) {
		r.bridge.logger.Warning().
			Str("request", req.ID().String()).
			Str("func", name).
			Dur("timeout", r.timeout).
			Log("anythread: gave up awaiting owner")
		err = ErrAwaitTimeout
	}
	return value, err
}

// Method wraps fn, a method expression such as (*T).Get, returning a
// function of the same signature that redirects calls per [Redirector].
func Method[T Target, R any](r *Redirector, fn func(T) (R, error)) func(T) (R, error) {
	name := funcName(fn)
	return func(t T) (R, error) {
		return call(r, t, name, func() (R, error) { return fn(t) })
	}
}

// Method1 is [Method] for methods taking one argument.
func Method1[T Target, A, R any](r *Redirector, fn func(T, A) (R, error)) func(T, A) (R, error) {
	name := funcName(fn)
	return func(t T, a A) (R, error) {
		return call(r, t, name, func() (R, error) { return fn(t, a) })
	}
}

// Method2 is [Method] for methods taking two arguments.
func Method2[T Target, A1, A2, R any](r *Redirector, fn func(T, A1, A2) (R, error)) func(T, A1, A2) (R, error) {
	name := funcName(fn)
	return func(t T, a1 A1, a2 A2) (R, error) {
		return call(r, t, name, func() (R, error) { return fn(t, a1, a2) })
	}
}

// Method3 is [Method] for methods taking three arguments.
func Method3[T Target, A1, A2, A3, R any](r *Redirector, fn func(T, A1, A2, A3) (R, error)) func(T, A1, A2, A3) (R, error) {
	name := funcName(fn)
	return func(t T, a1 A1, a2 A2, a3 A3) (R, error) {
		return call(r, t, name, func() (R, error) { return fn(t, a1, a2, a3) })
	}
}

// Action wraps fn, a method returning only an error, see [Method].
func Action[T Target](r *Redirector, fn func(T) error) func(T) error {
	name := funcName(fn)
	return func(t T) error {
		_, err := call(r, t, name, func() (struct{}, error) { return struct{}{}, fn(t) })
		return err
	}
}

// Action1 is [Action] for methods taking one argument.
func Action1[T Target, A any](r *Redirector, fn func(T, A) error) func(T, A) error {
	name := funcName(fn)
	return func(t T, a A) error {
		_, err := call(r, t, name, func() (struct{}, error) { return struct{}{}, fn(t, a) })
		return err
	}
}

// Action2 is [Action] for methods taking two arguments.
func Action2[T Target, A1, A2 any](r *Redirector, fn func(T, A1, A2) error) func(T, A1, A2) error {
	name := funcName(fn)
	return func(t T, a1 A1, a2 A2) error {
		_, err := call(r, t, name, func() (struct{}, error) { return struct{}{}, fn(t, a1, a2) })
		return err
	}
}

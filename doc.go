// Package anythread lets any goroutine call methods that must run on a single
// owner goroutine, typically the one running an event loop, such as
// [github.com/joeycumines/go-eventloop]. The caller blocks until the call has
// run on the owner, and receives its results, or its failure, as if the call
// had been made locally.
//
// # Architecture
//
// The package is built from three parts:
//   - [Request] carries one call, and its outcome. It is processed exactly
//     once, on the owner, and awaited exactly once, by its creator.
//   - [Bridge] delivers requests to the owner, by posting them as events to
//     the [EventTarget] of the object being called, via the owner's [Loop].
//   - [Redirector] decides, per call, whether to run inline (on the owner) or
//     to go through the bridge. [Method], [Action], and [Redirect] wrap method
//     expressions into functions of the same signature.
//
// Objects whose methods are redirected implement [Target], usually by
// embedding an *EventTarget obtained from [Bridge.NewTarget].
//
// # Thread Safety
//
// Redirected calls may be made from any goroutine. Calls made on the owner
// run directly, so nested calls never deadlock. Calls from other goroutines
// are processed one at a time, in submission order per submitting goroutine,
// and a caller blocked in a redirected call has no effect on the owner.
//
// Calls from other goroutines made before the loop runs block until it does.
// By default there is no timeout, see [WithAwaitTimeout].
//
// # Errors
//
// An error returned on the owner is delivered as a [*RemoteError], whose
// message is that of the original, and which unwraps to it, so [errors.Is]
// and [errors.As] work as usual. A panic on the owner is recovered, then
// re-panicked on the caller, with the *RemoteError as the value. The
// *RemoteError also records the owner's stack, goroutine, and OS thread.
//
// # Usage
//
//	loop, err := eventloop.New()
//	if err != nil {
//		return err
//	}
//	go loop.Run(ctx)
//
//	bridge, err := anythread.NewBridge(anythread.WithLoop(loop))
//	if err != nil {
//		return err
//	}
//	redirector, err := anythread.NewRedirector(bridge)
//	if err != nil {
//		return err
//	}
//
//	type Counter struct {
//		*anythread.EventTarget
//		n int
//	}
//	counter := &Counter{EventTarget: bridge.NewTarget()}
//
//	add := anythread.Method1(redirector, func(c *Counter, v int) (int, error) {
//		c.n += v
//		return c.n, nil
//	})
//
//	n, err := add(counter, 3) // safe from any goroutine
package anythread

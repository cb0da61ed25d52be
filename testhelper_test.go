package anythread_test

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/joeycumines/go-anythread"
	"github.com/joeycumines/go-eventloop"
	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
	"github.com/stretchr/testify/require"
)

// newTestLoop creates a running event loop, stopped on test cleanup.
func newTestLoop(t testing.TB) *eventloop.Loop {
	t.Helper()
	loop, err := eventloop.New()
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = loop.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return loop
}

type fixture struct {
	loop       *eventloop.Loop
	bridge     *anythread.Bridge
	redirector *anythread.Redirector
}

// newFixture creates a running loop, and a bridge with a bound owner.
func newFixture(t testing.TB, opts ...anythread.Option) *fixture {
	t.Helper()
	loop := newTestLoop(t)
	bridge, err := anythread.NewBridge(append([]anythread.Option{anythread.WithLoop(loop)}, opts...)...)
	require.NoError(t, err)
	waitBound(t, bridge)
	redirector, err := anythread.NewRedirector(bridge)
	require.NoError(t, err)
	return &fixture{
		loop:       loop,
		bridge:     bridge,
		redirector: redirector,
	}
}

func waitBound(t testing.TB, bridge *anythread.Bridge) {
	t.Helper()
	select {
	case <-bridge.Bound():
	case <-time.After(5 * time.Second):
		t.Fatal("owner was not bound")
	}
}

// onLoop runs fn on the loop goroutine, and waits for it.
func (f *fixture) onLoop(t testing.TB, fn func()) {
	t.Helper()
	done := make(chan struct{})
	require.NoError(t, f.loop.Submit(func() {
		defer close(done)
		fn()
	}))
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for loop")
	}
}

var errDivideByZero = errors.New("division by zero")

// calculator is a loop-affine object. Every method records whether it ran on
// the owner, so tests can assert it always did.
type calculator struct {
	*anythread.EventTarget
	identity anythread.Identity
	calls    int
	offOwner int
	total    int
}

func newCalculator(bridge *anythread.Bridge) *calculator {
	return &calculator{
		EventTarget: bridge.NewTarget(),
		identity:    bridge.Identity(),
	}
}

func (c *calculator) enter() {
	c.calls++
	if !c.identity.IsOwner() {
		c.offOwner++
	}
}

func (c *calculator) Add(a, b int) (int, error) {
	c.enter()
	return a + b, nil
}

func (c *calculator) Divide(a, b int) (int, error) {
	c.enter()
	if b == 0 {
		return 0, errDivideByZero
	}
	return a / b, nil
}

func (c *calculator) Accumulate(v int) (int, error) {
	c.enter()
	c.total += v
	return c.total, nil
}

func (c *calculator) Boom(msg string) error {
	c.enter()
	panic(msg)
}

// syncBuffer is written by the loop goroutine, and read by tests.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func newTestLogger(w *syncBuffer) *logiface.Logger[logiface.Event] {
	return stumpy.L.New(
		stumpy.L.WithStumpy(stumpy.WithWriter(w), stumpy.WithTimeField(``)),
		stumpy.L.WithLevel(logiface.LevelDebug),
	).Logger()
}

// recoverPanic calls fn, returning the recovered panic value, if any.
func recoverPanic(fn func()) (v any) {
	defer func() { v = recover() }()
	fn()
	return nil
}

package anythread

import (
	"fmt"
	"time"

	"github.com/joeycumines/go-catrate"
	"github.com/joeycumines/logiface"
)

// Bridge delivers requests from any goroutine to the owner goroutine, by
// posting them as events to their target, via the owner's event loop.
//
// A Bridge has exactly one owner goroutine: the one running its [Loop].
// It is safe for concurrent use.
type Bridge struct {
	loop     Loop
	identity Identity
	owner    *Owner
	bound    chan struct{}
	logger   *logiface.Logger[logiface.Event]
	metrics  *Metrics
	limiter  *catrate.Limiter
	slowCall time.Duration
}

// NewBridge constructs a bridge. [WithLoop] is required.
//
// Unless [WithIdentity] is provided, the owner is bound by a task submitted
// to the loop, and is unknown until the loop runs it (see [Bridge.Bound]).
// If the loop implements [InternalLoop], the task is submitted to its
// internal queue, otherwise via [Loop.Submit]. Until the task runs, every
// goroutine is treated as a non-owner, so redirected calls made by loop
// callbacks that run before it (those queued before NewBridge was called,
// or that the loop runs ahead of its internal queue, such as microtasks)
// will deadlock. Wait for [Bridge.Bound] before scheduling such callbacks,
// or provide an identity.
func NewBridge(opts ...Option) (*Bridge, error) {
	cfg, err := resolveOptions(opts)
	if err != nil {
		return nil, err
	}

	b := &Bridge{
		loop:     cfg.loop,
		identity: cfg.identity,
		bound:    make(chan struct{}),
		logger:   cfg.logger,
		metrics:  cfg.metrics,
		slowCall: cfg.slowCall,
	}

	if b.slowCall > 0 {
		if b.limiter, err = newLimiter(cfg.slowCallRates); err != nil {
			return nil, err
		}
	}

	if b.identity != nil {
		close(b.bound)
		return b, nil
	}

	b.owner = new(Owner)
	b.identity = b.owner
	submit := b.loop.Submit
	if internal, ok := b.loop.(InternalLoop); ok {
		submit = internal.SubmitInternal
	}
	if err := submit(b.bind); err != nil {
		return nil, fmt.Errorf("anythread: failed to bind owner: %w", err)
	}

	return b, nil
}

func newLimiter(rates map[time.Duration]int) (limiter *catrate.Limiter, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("anythread: invalid slow call rates: %v", r)
		}
	}()
	return catrate.NewLimiter(rates), nil
}

func (b *Bridge) bind() {
	b.owner.Bind()
	b.logger.Debug().
		Uint64("goroutine", b.owner.Goroutine()).
		Int("thread", b.owner.Thread()).
		Log("anythread: owner bound")
	close(b.bound)
}

// Bound returns a channel that is closed once the owner identity is known.
func (b *Bridge) Bound() <-chan struct{} { return b.bound }

// Identity returns the owner identity used by this bridge.
func (b *Bridge) Identity() Identity { return b.identity }

// Owner returns the owner bound by this bridge, or nil if it was constructed
// [WithIdentity].
func (b *Bridge) Owner() *Owner { return b.owner }

// NewTarget returns a new [EventTarget], already registered with this
// bridge. Embed it in objects whose methods are redirected.
func (b *Bridge) NewTarget() *EventTarget {
	et := NewEventTarget()
	if err := b.Register(et); err != nil {
		// unreachable: et is new, and non-nil
		panic(err)
	}
	return et
}

// Register attaches the bridge's dispatch handler to the target, if it was
// not already attached. It is idempotent, and safe to call concurrently;
// once any call returns nil, the handler is attached exactly once.
//
// A target may only be registered with one bridge, attempting to register
// it with another returns [ErrForeignBridge].
func (b *Bridge) Register(target Target) error {
	if isNil(target) {
		return ErrNilTarget
	}
	et := target.Events()
	if et == nil {
		return ErrNilTarget
	}

	if !et.bridge.CompareAndSwap(nil, b) && et.bridge.Load() != b {
		return ErrForeignBridge
	}

	et.attach.Do(func() {
		et.AddEventListener(InvokeEventType, b.handleEvent)
		et.attached.Store(true)
		b.logger.Debug().
			Str("target", fmt.Sprintf("%T", target)).
			Log("anythread: target registered")
	})

	return nil
}

// Submit posts the request to the target's event stream, via the loop, and
// returns without waiting. The target must be registered with this bridge.
// On success, the request will be processed exactly once, on the owner
// goroutine, provided the loop keeps running.
func (b *Bridge) Submit(req Invocation, target Target) error {
	if isNil(req) {
		return fmt.Errorf("anythread: nil request")
	}
	if isNil(target) {
		return ErrNilTarget
	}
	et := target.Events()
	if et == nil {
		return ErrNilTarget
	}
	switch et.bridge.Load() {
	case b:
	case nil:
		return ErrNotRegistered
	default:
		return ErrForeignBridge
	}
	if !et.attached.Load() {
		return ErrNotRegistered
	}

	if !req.submit() {
		return ErrAlreadySubmitted
	}
	b.metrics.observeSubmitted()

	event := NewEvent(InvokeEventType, req)
	if err := b.loop.Submit(func() { et.DispatchEvent(event) }); err != nil {
		req.unsubmit()
		b.metrics.observeRejected()
		b.logger.Err().
			Err(err).
			Str("request", req.ID().String()).
			Str("func", req.Name()).
			Log("anythread: loop rejected request")
		return fmt.Errorf("anythread: failed to submit request: %w", err)
	}

	return nil
}

// handleEvent is the dispatch handler, and runs on the owner goroutine.
func (b *Bridge) handleEvent(event *Event) {
	req, ok := event.Detail().(Invocation)
	if !ok || isNil(req) {
		b.logger.Err().
			Str("detail", fmt.Sprintf("%T", event.Detail())).
			Log("anythread: unexpected invoke event payload")
		return
	}

	start := time.Now()
	req.Process()
	took := time.Since(start)

	kind := req.outcomeKind()
	b.metrics.observeCompleted(kind, start.Sub(req.submittedAt()), took)

	switch kind {
	case 0:
	case KindError:
		b.logger.Debug().
			Str("request", req.ID().String()).
			Str("func", req.Name()).
			Log("anythread: call returned an error")
	default:
		b.logger.Warning().
			Str("request", req.ID().String()).
			Str("func", req.Name()).
			Str("kind", kind.String()).
			Log("anythread: call failed on owner goroutine")
	}

	if b.slowCall > 0 && took > b.slowCall {
		if _, ok := b.limiter.Allow(req.Name()); ok {
			b.logger.Warning().
				Str("request", req.ID().String()).
				Str("func", req.Name()).
				Dur("took", took).
				Dur("threshold", b.slowCall).
				Log("anythread: slow call blocked the owner goroutine")
		}
	}
}

package anythread

import (
	"errors"
	"time"

	"github.com/joeycumines/logiface"
)

// Loop is the event loop a [Bridge] delivers requests to. It is satisfied by
// *eventloop.Loop, from github.com/joeycumines/go-eventloop.
//
// Submit must be safe to call from any goroutine, must not block on the
// task, and must run each accepted task exactly once, one at a time, on the
// loop goroutine.
type Loop interface {
	Submit(func()) error
}

// InternalLoop is a [Loop] with a priority queue, that runs ahead of the
// queue fed by Submit. It is satisfied by *eventloop.Loop.
type InternalLoop interface {
	Loop
	SubmitInternal(func()) error
}

// bridgeOptions holds configuration for a [Bridge] instance.
type bridgeOptions struct {
	loop          Loop
	identity      Identity
	logger        *logiface.Logger[logiface.Event]
	metrics       *Metrics
	slowCall      time.Duration
	slowCallRates map[time.Duration]int
}

// Option configures a [Bridge] instance.
type Option interface {
	applyBridge(*bridgeOptions) error
}

// bridgeOptionImpl implements [Option] via a closure.
type bridgeOptionImpl struct {
	fn func(*bridgeOptions) error
}

func (o *bridgeOptionImpl) applyBridge(opts *bridgeOptions) error {
	return o.fn(opts)
}

// WithLoop configures the event loop that owns the bridge's targets. It is
// required, and must not be nil.
func WithLoop(loop Loop) Option {
	return &bridgeOptionImpl{fn: func(opts *bridgeOptions) error {
		if loop == nil {
			return errors.New("anythread: loop must not be nil")
		}
		opts.loop = loop
		return nil
	}}
}

// WithIdentity configures how the bridge determines whether the current
// goroutine is the owner. By default, the bridge binds an [Owner] by
// submitting a task to the loop.
//
// The identity must report true only on the goroutine that runs the loop's
// tasks, otherwise calls will deadlock or run on the wrong goroutine.
func WithIdentity(identity Identity) Option {
	return &bridgeOptionImpl{fn: func(opts *bridgeOptions) error {
		if identity == nil {
			return errors.New("anythread: identity must not be nil")
		}
		opts.identity = identity
		return nil
	}}
}

// WithLogger configures structured logging. A nil logger disables logging,
// which is the default.
func WithLogger(logger *logiface.Logger[logiface.Event]) Option {
	return &bridgeOptionImpl{fn: func(opts *bridgeOptions) error {
		opts.logger = logger
		return nil
	}}
}

// WithMetrics configures metrics collection. The same [Metrics] may be
// shared by multiple bridges.
func WithMetrics(metrics *Metrics) Option {
	return &bridgeOptionImpl{fn: func(opts *bridgeOptions) error {
		opts.metrics = metrics
		return nil
	}}
}

// WithSlowCallThreshold logs a warning for each processed request that kept
// the owner busy for longer than threshold. Warnings are rate limited per
// function, by default to 5 per minute. A threshold of 0 (the default)
// disables the check.
func WithSlowCallThreshold(threshold time.Duration) Option {
	return &bridgeOptionImpl{fn: func(opts *bridgeOptions) error {
		if threshold < 0 {
			return errors.New("anythread: slow call threshold must not be negative")
		}
		opts.slowCall = threshold
		return nil
	}}
}

// WithSlowCallRates overrides the rate limits applied to slow call warnings,
// as a map of window to the maximum number of warnings per function within
// that window.
func WithSlowCallRates(rates map[time.Duration]int) Option {
	return &bridgeOptionImpl{fn: func(opts *bridgeOptions) error {
		if len(rates) == 0 {
			return errors.New("anythread: slow call rates must not be empty")
		}
		for window, limit := range rates {
			if window <= 0 || limit <= 0 {
				return errors.New("anythread: slow call rates must be positive")
			}
		}
		opts.slowCallRates = rates
		return nil
	}}
}

// resolveOptions applies the given options to a default [bridgeOptions].
func resolveOptions(opts []Option) (*bridgeOptions, error) {
	cfg := &bridgeOptions{
		slowCallRates: map[time.Duration]int{time.Minute: 5},
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt.applyBridge(cfg); err != nil {
			return nil, err
		}
	}
	if cfg.loop == nil {
		return nil, ErrNoLoop
	}
	return cfg, nil
}

// redirectorOptions holds configuration for a [Redirector] instance.
type redirectorOptions struct {
	awaitTimeout time.Duration
}

// RedirectorOption configures a [Redirector] instance.
type RedirectorOption interface {
	applyRedirector(*redirectorOptions) error
}

// redirectorOptionImpl implements [RedirectorOption] via a closure.
type redirectorOptionImpl struct {
	fn func(*redirectorOptions) error
}

func (o *redirectorOptionImpl) applyRedirector(opts *redirectorOptions) error {
	return o.fn(opts)
}

// WithAwaitTimeout bounds how long a redirected call waits for the owner,
// after which it returns [ErrAwaitTimeout]. The request is not cancelled,
// and its outcome is discarded. The default of 0 waits indefinitely.
func WithAwaitTimeout(timeout time.Duration) RedirectorOption {
	return &redirectorOptionImpl{fn: func(opts *redirectorOptions) error {
		if timeout < 0 {
			return errors.New("anythread: await timeout must not be negative")
		}
		opts.awaitTimeout = timeout
		return nil
	}}
}

// resolveRedirectorOptions applies the given options to a default
// [redirectorOptions].
func resolveRedirectorOptions(opts []RedirectorOption) (*redirectorOptions, error) {
	cfg := &redirectorOptions{}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt.applyRedirector(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

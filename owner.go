package anythread

import (
	"sync/atomic"

	"github.com/joeycumines/go-anythread/internal/goid"
)

// Identity answers whether the current goroutine is the owner goroutine. It
// must be cheap, and safe to call from any goroutine.
type Identity interface {
	IsOwner() bool
}

// IdentityFunc adapts a function to [Identity].
type IdentityFunc func() bool

// IsOwner implements [Identity].
func (f IdentityFunc) IsOwner() bool { return f() }

// Owner is an [Identity] bound to a single goroutine, by calling
// [Owner.Bind] from it. The zero value is unbound, and reports false for
// every goroutine.
type Owner struct {
	goroutine atomic.Uint64
	thread    atomic.Int64
}

// Bind records the calling goroutine as the owner. The first call wins; it
// reports whether this call bound the owner.
func (o *Owner) Bind() bool {
	if !o.goroutine.CompareAndSwap(0, goid.ID()) {
		return false
	}
	o.thread.Store(int64(goid.Thread()))
	return true
}

// IsOwner implements [Identity].
func (o *Owner) IsOwner() bool {
	id := o.goroutine.Load()
	return id != 0 && id == goid.ID()
}

// Bound reports whether [Owner.Bind] has been called.
func (o *Owner) Bound() bool { return o.goroutine.Load() != 0 }

// Goroutine returns the ID of the owner goroutine, or 0 if unbound.
func (o *Owner) Goroutine() uint64 { return o.goroutine.Load() }

// Thread returns the OS thread ID observed by Bind, or 0 if unknown.
func (o *Owner) Thread() int { return int(o.thread.Load()) }

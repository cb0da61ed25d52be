//go:build linux

package goid

import (
	"golang.org/x/sys/unix"
)

// Thread returns the OS thread ID the calling goroutine is running on. The
// value is only stable while the goroutine holds [runtime.LockOSThread].
func Thread() int {
	return unix.Gettid()
}

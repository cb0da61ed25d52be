//go:build !linux

package goid

// Thread is not supported on this platform, and always returns 0.
func Thread() int {
	return 0
}

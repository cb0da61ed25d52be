// Package goid identifies the calling goroutine and the OS thread it is
// currently running on.
package goid

import (
	"runtime"
)

// ID returns the current goroutine's ID, parsed from the header line of
// [runtime.Stack] ("goroutine N [running]:"). It returns 0 if the header
// could not be parsed, which never matches a real goroutine.
func ID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	return parse(buf[:n])
}

func parse(b []byte) uint64 {
	const prefix = "goroutine "
	if len(b) < len(prefix) || string(b[:len(prefix)]) != prefix {
		return 0
	}
	var id uint64
	for i := len(prefix); i < len(b); i++ {
		if b[i] < '0' || b[i] > '9' {
			break
		}
		id = id*10 + uint64(b[i]-'0')
	}
	return id
}

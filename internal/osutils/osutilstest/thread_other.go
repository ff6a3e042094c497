//go:build !linux && !windows

package osutilstest

// OSThreadID returns 0 where the thread id is not exposed.
func OSThreadID() uint32 { return 0 }

package osutilstest

import "golang.org/x/sys/unix"

// OSThreadID returns the id of the calling OS thread.
func OSThreadID() uint32 { return uint32(unix.Gettid()) }

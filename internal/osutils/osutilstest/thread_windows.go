package osutilstest

import "golang.org/x/sys/windows"

// OSThreadID returns the id of the calling OS thread.
func OSThreadID() uint32 { return windows.GetCurrentThreadId() }

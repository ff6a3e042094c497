//go:build !windows

package autostart

func Enable(args ...string) error { return ErrUnsupported }

func Disable() error { return ErrUnsupported }

func Command() string { return "" }

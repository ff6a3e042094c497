//go:build windows

package autostart

import (
	"os"

	"github.com/pkg/errors"
	"golang.org/x/sys/windows/registry"
)

const runKey = `Software\Microsoft\Windows\CurrentVersion\Run`

// Enable starts the current executable with args on login.
func Enable(args ...string) error {
	exe, err := os.Executable()
	if err != nil {
		return errors.Wrap(err, "failed to get executable path")
	}
	k, _, err := registry.CreateKey(registry.CURRENT_USER, runKey, registry.SET_VALUE)
	if err != nil {
		return errors.Wrap(err, "open run key failed")
	}
	defer k.Close()
	return errors.Wrap(k.SetStringValue(ValueName, CommandLine(exe, args...)), "write run entry failed")
}

// Disable removes the login entry. A missing entry is not an error.
func Disable() error {
	k, err := registry.OpenKey(registry.CURRENT_USER, runKey, registry.SET_VALUE)
	if err != nil {
		return errors.Wrap(err, "open run key failed")
	}
	defer k.Close()
	if err := k.DeleteValue(ValueName); err != nil && !errors.Is(err, registry.ErrNotExist) {
		return errors.Wrap(err, "delete run entry failed")
	}
	return nil
}

// Command returns the registered command line, or "" when disabled.
func Command() string {
	k, err := registry.OpenKey(registry.CURRENT_USER, runKey, registry.QUERY_VALUE)
	if err != nil {
		return ""
	}
	defer k.Close()
	v, _, err := k.GetStringValue(ValueName)
	if err != nil {
		return ""
	}
	return v
}

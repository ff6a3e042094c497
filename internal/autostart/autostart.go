// Package autostart registers the overlay to start on login.
package autostart

import (
	"strings"

	"github.com/pkg/errors"
)

// ValueName is the entry written under the per-user Run key.
const ValueName = "RPOverlay"

// ErrUnsupported is returned on platforms without a Run key.
var ErrUnsupported = errors.New("autostart is only supported on Windows")

// CommandLine quotes exe and args the way the shell expects a Run entry.
func CommandLine(exe string, args ...string) string {
	parts := make([]string, 0, len(args)+1)
	for _, a := range append([]string{exe}, args...) {
		if a == "" || strings.ContainsAny(a, " \t\"") {
			a = `"` + strings.ReplaceAll(a, `"`, `\"`) + `"`
		}
		parts = append(parts, a)
	}
	return strings.Join(parts, " ")
}

//go:build windows

package osutils

import (
	"fmt"
	"sync"

	"golang.design/x/clipboard"
)

var clipboardInit = sync.OnceValue(clipboard.Init)

// SystemClipboard is the OS text clipboard.
type SystemClipboard struct{}

// NewClipboard initializes clipboard access.
func NewClipboard() (Clipboard, error) {
	if err := clipboardInit(); err != nil {
		return nil, fmt.Errorf("clipboard init: %w", err)
	}
	return SystemClipboard{}, nil
}

func (SystemClipboard) ReadText() (string, error) {
	return string(clipboard.Read(clipboard.FmtText)), nil
}

func (SystemClipboard) WriteText(text string) error {
	clipboard.Write(clipboard.FmtText, []byte(text))
	return nil
}

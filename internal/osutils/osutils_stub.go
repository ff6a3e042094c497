//go:build !windows

package osutils

// IsAdmin is a stub for non-Windows platforms
func IsAdmin() bool {
	return false
}

// NewBackend is unavailable off Windows.
func NewBackend() (Backend, error) {
	return nil, ErrUnsupportedPlatform
}

// NewClipboard is unavailable off Windows.
func NewClipboard() (Clipboard, error) {
	return nil, ErrUnsupportedPlatform
}

// OpenWindow is unavailable off Windows.
func OpenWindow(opts WindowOptions, events func(WindowEvent)) (Surface, error) {
	return nil, ErrUnsupportedPlatform
}

// ShowMessage is unavailable off Windows.
func ShowMessage(title, text string) error {
	return ErrUnsupportedPlatform
}

// Package osutils wraps the operating system services the overlay needs:
// synthetic input, foreground/focus control, extended window styles, global
// hotkeys, the clipboard and the overlay surface itself.
//
// Everything above this package talks to the interfaces below, so the
// overlay logic runs unchanged against the recording osutilstest.Fake in tests.
package osutils

import "errors"

// ErrUnsupportedPlatform is returned when running on an unsupported OS
var ErrUnsupportedPlatform = errors.New("unsupported platform")

// HWND is an opaque native window handle. Zero means "no window".
type HWND uintptr

// Rect is a screen rectangle in physical pixels.
type Rect struct {
	Left, Top, Right, Bottom int32
}

// Width of the rectangle.
func (r Rect) Width() int32 { return r.Right - r.Left }

// Height of the rectangle.
func (r Rect) Height() int32 { return r.Bottom - r.Top }

// Color is an opaque RGB colour.
type Color struct {
	R, G, B uint8
}

// Extended window styles (GWL_EXSTYLE)
const (
	WS_EX_TOPMOST     = 0x00000008
	WS_EX_TRANSPARENT = 0x00000020
	WS_EX_TOOLWINDOW  = 0x00000080
	WS_EX_LAYERED     = 0x00080000
	WS_EX_NOACTIVATE  = 0x08000000
)

// ShowWindow commands
const (
	SW_HIDE           = 0
	SW_SHOWNOACTIVATE = 4
	SW_RESTORE        = 9
)

// RegisterHotKey modifier bits
const (
	MOD_ALT      = 0x0001
	MOD_CONTROL  = 0x0002
	MOD_SHIFT    = 0x0004
	MOD_WIN      = 0x0008
	MOD_NOREPEAT = 0x4000
)

// Virtual-key codes referenced outside the key name table
const (
	VK_LBUTTON  = 0x01
	VK_RBUTTON  = 0x02
	VK_MBUTTON  = 0x04
	VK_XBUTTON1 = 0x05
	VK_XBUTTON2 = 0x06
	VK_SHIFT    = 0x10
	VK_CONTROL  = 0x11
	VK_MENU     = 0x12
	VK_LWIN     = 0x5B
)

// WM_HOTKEY is the message id delivered for a registered global hotkey.
const WM_HOTKEY = 0x0312

// InputBackend synthesizes and samples keyboard/mouse state.
type InputBackend interface {
	// KeyDown reports whether the key or mouse button is physically held
	// right now (GetAsyncKeyState high bit).
	KeyDown(vk uint16) bool
	// SendKey injects a virtual-key transition.
	SendKey(vk uint16, up bool) error
	// SendUnicode injects one UTF-16 code unit as a unicode scan code.
	SendUnicode(unit uint16, up bool) error
}

// WindowBackend controls foreign and own top-level windows.
type WindowBackend interface {
	ForegroundWindow() HWND
	// FindWindow returns the first visible top-level window whose title
	// satisfies match, or zero.
	FindWindow(match func(title string) bool) HWND
	WindowTitle(h HWND) string
	// WindowThreadProcess returns the thread and process owning h.
	WindowThreadProcess(h HWND) (tid, pid uint32)
	CurrentThreadID() uint32
	AttachThreadInput(from, to uint32, attach bool) error
	AllowSetForeground(pid uint32) error
	ShowWindow(h HWND, cmd int32) error
	BringToTop(h HWND) error
	SetForeground(h HWND) error
	SetFocus(h HWND) error
	ExStyle(h HWND) (uint32, error)
	SetExStyle(h HWND, style uint32) error
	// SetTopmost re-asserts HWND_TOPMOST without activating, moving or
	// resizing the window.
	SetTopmost(h HWND) error
	// WorkArea returns the primary monitor work area.
	WorkArea() (Rect, error)
}

// Backend is the full platform surface.
type Backend interface {
	InputBackend
	WindowBackend
}

// Clipboard holds plain text.
type Clipboard interface {
	ReadText() (string, error)
	WriteText(text string) error
}

// Surface is the overlay's own window.
type Surface interface {
	Handle() HWND
	RegisterHotKey(id int32, modifiers, vk uint32) error
	UnregisterHotKey(id int32) error
	SetIndicator(c Color)
	SetCursorVisible(visible bool)
	Geometry() Rect
	SetGeometry(r Rect) error
	Destroy()
}

// WindowEventKind identifies a notification from the overlay surface.
type WindowEventKind int

const (
	EventHotkey WindowEventKind = iota
	EventGeometry
	EventClose
)

// WindowEvent is delivered from the surface's message pump.
type WindowEvent struct {
	Kind     WindowEventKind
	HotkeyID int32
	Bounds   Rect
}

// WindowOptions configures the overlay surface at creation.
type WindowOptions struct {
	Title   string
	Bounds  Rect
	Opacity float64
	// ExStyle is OR-ed into the creation extended style.
	ExStyle uint32
}

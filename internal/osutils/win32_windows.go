//go:build windows

package osutils

import (
	"fmt"
	"sync"
	"syscall"
	"unsafe"

	"golang.org/x/sys/windows"
)

var (
	user32   = windows.NewLazySystemDLL("user32.dll")
	kernel32 = windows.NewLazySystemDLL("kernel32.dll")
	gdi32    = windows.NewLazySystemDLL("gdi32.dll")

	procSendInput                = user32.NewProc("SendInput")
	procGetAsyncKeyState         = user32.NewProc("GetAsyncKeyState")
	procGetForegroundWindow      = user32.NewProc("GetForegroundWindow")
	procEnumWindows              = user32.NewProc("EnumWindows")
	procIsWindowVisible          = user32.NewProc("IsWindowVisible")
	procGetWindowTextLengthW     = user32.NewProc("GetWindowTextLengthW")
	procGetWindowTextW           = user32.NewProc("GetWindowTextW")
	procGetWindowThreadProcessId = user32.NewProc("GetWindowThreadProcessId")
	procAttachThreadInput        = user32.NewProc("AttachThreadInput")
	procAllowSetForegroundWindow = user32.NewProc("AllowSetForegroundWindow")
	procShowWindow               = user32.NewProc("ShowWindow")
	procBringWindowToTop         = user32.NewProc("BringWindowToTop")
	procSetForegroundWindow      = user32.NewProc("SetForegroundWindow")
	procSetFocus                 = user32.NewProc("SetFocus")
	procGetWindowLongPtrW        = user32.NewProc("GetWindowLongPtrW")
	procSetWindowLongPtrW        = user32.NewProc("SetWindowLongPtrW")
	procGetWindowLongW           = user32.NewProc("GetWindowLongW")
	procSetWindowLongW           = user32.NewProc("SetWindowLongW")
	procSetWindowPos             = user32.NewProc("SetWindowPos")
	procSystemParametersInfoW    = user32.NewProc("SystemParametersInfoW")
	procGetCurrentThreadId       = kernel32.NewProc("GetCurrentThreadId")
	procSetLastError             = kernel32.NewProc("SetLastError")
)

const (
	INPUT_KEYBOARD        = 1
	KEYEVENTF_KEYUP       = 0x0002
	KEYEVENTF_UNICODE     = 0x0004
	GWL_EXSTYLE           = -20
	SWP_NOSIZE            = 0x0001
	SWP_NOMOVE            = 0x0002
	SWP_NOZORDER          = 0x0004
	SWP_NOACTIVATE        = 0x0010
	SWP_SHOWWINDOW        = 0x0040
	SPI_GETWORKAREA       = 0x0030
	hwndTopmost   uintptr = ^uintptr(0) // (HWND)-1
)

// KEYBDINPUT mirrors the Win32 structure of the same name.
type KEYBDINPUT struct {
	WVk         uint16
	WScan       uint16
	DwFlags     uint32
	Time        uint32
	DwExtraInfo uintptr
}

// keyboardInput is INPUT with the keyboard arm of the union. The trailing
// pad brings it to the size of the mouse arm, which is the union's size.
type keyboardInput struct {
	Type uint32
	Ki   KEYBDINPUT
	_    [8]byte
}

// Win32 is the Windows Backend.
type Win32 struct{}

// NewBackend returns the platform backend.
func NewBackend() (Backend, error) {
	if err := user32.Load(); err != nil {
		return nil, fmt.Errorf("load user32: %w", err)
	}
	return &Win32{}, nil
}

// lastError turns the third return of LazyProc.Call into an error only when
// the OS actually reported one.
func lastError(err error) error {
	if errno, ok := err.(syscall.Errno); ok && errno == 0 {
		return nil
	}
	return err
}

func boolCall(name string, p *windows.LazyProc, args ...uintptr) error {
	ret, _, err := p.Call(args...)
	if ret == 0 {
		if e := lastError(err); e != nil {
			return fmt.Errorf("%s: %w", name, e)
		}
		return fmt.Errorf("%s failed", name)
	}
	return nil
}

func (w *Win32) send(in keyboardInput) error {
	ret, _, err := procSendInput.Call(1, uintptr(unsafe.Pointer(&in)), unsafe.Sizeof(in))
	if ret != 1 {
		// 0 with no error code means UIPI blocked the injection.
		if e := lastError(err); e != nil {
			return fmt.Errorf("SendInput: %w", e)
		}
		return fmt.Errorf("SendInput blocked")
	}
	return nil
}

func (w *Win32) KeyDown(vk uint16) bool {
	ret, _, _ := procGetAsyncKeyState.Call(uintptr(vk))
	return ret&0x8000 != 0
}

func (w *Win32) SendKey(vk uint16, up bool) error {
	in := keyboardInput{Type: INPUT_KEYBOARD}
	in.Ki.WVk = vk
	if up {
		in.Ki.DwFlags = KEYEVENTF_KEYUP
	}
	return w.send(in)
}

func (w *Win32) SendUnicode(unit uint16, up bool) error {
	in := keyboardInput{Type: INPUT_KEYBOARD}
	in.Ki.WScan = unit
	in.Ki.DwFlags = KEYEVENTF_UNICODE
	if up {
		in.Ki.DwFlags |= KEYEVENTF_KEYUP
	}
	return w.send(in)
}

func (w *Win32) ForegroundWindow() HWND {
	ret, _, _ := procGetForegroundWindow.Call()
	return HWND(ret)
}

// syscall.NewCallback slots are never freed, so enumeration shares one
// callback and serializes on enumMu.
var (
	enumMu       sync.Mutex
	enumMatch    func(HWND) bool
	enumFound    HWND
	enumCallback = syscall.NewCallback(func(h uintptr, _ uintptr) uintptr {
		if enumMatch(HWND(h)) {
			enumFound = HWND(h)
			return 0 // stop enumeration
		}
		return 1
	})
)

func (w *Win32) FindWindow(match func(title string) bool) HWND {
	enumMu.Lock()
	defer enumMu.Unlock()

	enumFound = 0
	enumMatch = func(h HWND) bool {
		if visible, _, _ := procIsWindowVisible.Call(uintptr(h)); visible == 0 {
			return false
		}
		title := w.WindowTitle(h)
		return title != "" && match(title)
	}
	procEnumWindows.Call(enumCallback, 0)
	enumMatch = nil
	return enumFound
}

func (w *Win32) WindowTitle(h HWND) string {
	n, _, _ := procGetWindowTextLengthW.Call(uintptr(h))
	if n == 0 {
		return ""
	}
	buf := make([]uint16, n+1)
	procGetWindowTextW.Call(uintptr(h), uintptr(unsafe.Pointer(&buf[0])), uintptr(len(buf)))
	return windows.UTF16ToString(buf)
}

func (w *Win32) WindowThreadProcess(h HWND) (uint32, uint32) {
	var pid uint32
	tid, _, _ := procGetWindowThreadProcessId.Call(uintptr(h), uintptr(unsafe.Pointer(&pid)))
	return uint32(tid), pid
}

func (w *Win32) CurrentThreadID() uint32 {
	ret, _, _ := procGetCurrentThreadId.Call()
	return uint32(ret)
}

func (w *Win32) AttachThreadInput(from, to uint32, attach bool) error {
	var flag uintptr
	if attach {
		flag = 1
	}
	return boolCall("AttachThreadInput", procAttachThreadInput, uintptr(from), uintptr(to), flag)
}

func (w *Win32) AllowSetForeground(pid uint32) error {
	return boolCall("AllowSetForegroundWindow", procAllowSetForegroundWindow, uintptr(pid))
}

func (w *Win32) ShowWindow(h HWND, cmd int32) error {
	// Return value is the previous visibility, not success.
	procShowWindow.Call(uintptr(h), uintptr(cmd))
	return nil
}

func (w *Win32) BringToTop(h HWND) error {
	return boolCall("BringWindowToTop", procBringWindowToTop, uintptr(h))
}

func (w *Win32) SetForeground(h HWND) error {
	return boolCall("SetForegroundWindow", procSetForegroundWindow, uintptr(h))
}

func (w *Win32) SetFocus(h HWND) error {
	ret, _, err := procSetFocus.Call(uintptr(h))
	if ret == 0 {
		if e := lastError(err); e != nil {
			return fmt.Errorf("SetFocus: %w", e)
		}
	}
	return nil
}

func (w *Win32) ExStyle(h HWND) (uint32, error) {
	proc := procGetWindowLongPtrW
	if proc.Find() != nil {
		proc = procGetWindowLongW // 32-bit user32 has no *Ptr exports
	}
	idx := GWL_EXSTYLE
	procSetLastError.Call(0)
	ret, _, err := proc.Call(uintptr(h), uintptr(idx))
	if ret == 0 {
		if e := lastError(err); e != nil {
			return 0, fmt.Errorf("GetWindowLong: %w", e)
		}
	}
	return uint32(ret), nil
}

func (w *Win32) SetExStyle(h HWND, style uint32) error {
	proc := procSetWindowLongPtrW
	if proc.Find() != nil {
		proc = procSetWindowLongW
	}
	idx := GWL_EXSTYLE
	procSetLastError.Call(0)
	ret, _, err := proc.Call(uintptr(h), uintptr(idx), uintptr(style))
	if ret == 0 {
		if e := lastError(err); e != nil {
			return fmt.Errorf("SetWindowLong: %w", e)
		}
	}
	return nil
}

func (w *Win32) SetTopmost(h HWND) error {
	return boolCall("SetWindowPos", procSetWindowPos,
		uintptr(h), hwndTopmost, 0, 0, 0, 0,
		SWP_NOACTIVATE|SWP_NOMOVE|SWP_NOSIZE|SWP_SHOWWINDOW)
}

func (w *Win32) WorkArea() (Rect, error) {
	var r Rect
	if err := boolCall("SystemParametersInfo", procSystemParametersInfoW,
		SPI_GETWORKAREA, 0, uintptr(unsafe.Pointer(&r)), 0); err != nil {
		return Rect{}, err
	}
	return r, nil
}

//go:build windows

package osutils

import (
	"fmt"
	"runtime"
	"sync"
	"syscall"
	"unsafe"
)

var (
	procRegisterClassExW           = user32.NewProc("RegisterClassExW")
	procCreateWindowExW            = user32.NewProc("CreateWindowExW")
	procDefWindowProcW             = user32.NewProc("DefWindowProcW")
	procDestroyWindow              = user32.NewProc("DestroyWindow")
	procGetMessageW                = user32.NewProc("GetMessageW")
	procTranslateMessage           = user32.NewProc("TranslateMessage")
	procDispatchMessageW           = user32.NewProc("DispatchMessageW")
	procPostMessageW               = user32.NewProc("PostMessageW")
	procPostQuitMessage            = user32.NewProc("PostQuitMessage")
	procRegisterHotKey             = user32.NewProc("RegisterHotKey")
	procUnregisterHotKey           = user32.NewProc("UnregisterHotKey")
	procGetWindowRect              = user32.NewProc("GetWindowRect")
	procSetLayeredWindowAttributes = user32.NewProc("SetLayeredWindowAttributes")
	procInvalidateRect             = user32.NewProc("InvalidateRect")
	procBeginPaint                 = user32.NewProc("BeginPaint")
	procEndPaint                   = user32.NewProc("EndPaint")
	procFillRect                   = user32.NewProc("FillRect")
	procSetCursor                  = user32.NewProc("SetCursor")
	procLoadCursorW                = user32.NewProc("LoadCursorW")
	procGetModuleHandleW           = kernel32.NewProc("GetModuleHandleW")
	procCreateSolidBrush           = gdi32.NewProc("CreateSolidBrush")
	procDeleteObject               = gdi32.NewProc("DeleteObject")
)

const (
	WM_DESTROY    = 0x0002
	WM_MOVE       = 0x0003
	WM_SIZE       = 0x0005
	WM_PAINT      = 0x000F
	WM_CLOSE      = 0x0010
	WM_SETCURSOR  = 0x0020
	WM_APP        = 0x8000
	WS_POPUP      = 0x80000000
	WS_THICKFRAME = 0x00040000
	LWA_ALPHA     = 0x00000002
	IDC_ARROW     = 32512
	HTCLIENT      = 1

	wmInvoke = WM_APP + 1
)

type WNDCLASSEX struct {
	CbSize        uint32
	Style         uint32
	LpfnWndProc   uintptr
	CbClsExtra    int32
	CbWndExtra    int32
	HInstance     syscall.Handle
	HIcon         syscall.Handle
	HCursor       syscall.Handle
	HbrBackground syscall.Handle
	LpszMenuName  *uint16
	LpszClassName *uint16
	HIconSm       syscall.Handle
}

type MSG struct {
	Hwnd    syscall.Handle
	Message uint32
	WParam  uintptr
	LParam  uintptr
	Time    uint32
	Pt      struct{ X, Y int32 }
}

type PAINTSTRUCT struct {
	Hdc         syscall.Handle
	FErase      int32
	RcPaint     Rect
	FRestore    int32
	FIncUpdate  int32
	RgbReserved [32]byte
}

const overlayClassName = "RPOverlayWindow"

var (
	classOnce sync.Once
	classErr  error
	// The window procedure is process-wide; windows register here by handle.
	windowsMu sync.Mutex
	windowsBy = map[HWND]*Window{}
	wndProc   = syscall.NewCallback(windowProc)
)

// Window is the overlay surface. All native calls that require the owning
// thread (hotkey registration, destruction) are marshalled onto the pump
// goroutine through invoke.
type Window struct {
	hwnd   HWND
	events func(WindowEvent)

	mu            sync.Mutex
	indicator     Color
	cursorVisible bool
	brush         uintptr

	invokeMu sync.Mutex
	pending  []func()
	done     chan struct{}
}

// OpenWindow creates the overlay window and starts its message pump. events
// is called on the pump thread and must not block.
func OpenWindow(opts WindowOptions, events func(WindowEvent)) (Surface, error) {
	w := &Window{events: events, cursorVisible: true, done: make(chan struct{})}
	created := make(chan error, 1)

	go func() {
		// The window and its queue belong to this OS thread.
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
		defer close(w.done)

		if err := w.create(opts); err != nil {
			created <- err
			return
		}
		created <- nil
		w.pump()
	}()

	if err := <-created; err != nil {
		return nil, err
	}
	return w, nil
}

func registerClass() error {
	classOnce.Do(func() {
		hInstance, _, _ := procGetModuleHandleW.Call(0)
		cursor, _, _ := procLoadCursorW.Call(0, IDC_ARROW)
		wc := WNDCLASSEX{
			CbSize:        uint32(unsafe.Sizeof(WNDCLASSEX{})),
			LpfnWndProc:   wndProc,
			HInstance:     syscall.Handle(hInstance),
			HCursor:       syscall.Handle(cursor),
			LpszClassName: syscall.StringToUTF16Ptr(overlayClassName),
		}
		if ret, _, err := procRegisterClassExW.Call(uintptr(unsafe.Pointer(&wc))); ret == 0 {
			classErr = fmt.Errorf("RegisterClassEx: %v", err)
		}
	})
	return classErr
}

func (w *Window) create(opts WindowOptions) error {
	if err := registerClass(); err != nil {
		return err
	}
	hInstance, _, _ := procGetModuleHandleW.Call(0)
	title, _ := syscall.UTF16PtrFromString(opts.Title)

	// Registration must precede CreateWindowEx: WM_SIZE arrives during creation.
	windowsMu.Lock()
	windowsBy[0] = w
	windowsMu.Unlock()

	hwnd, _, err := procCreateWindowExW.Call(
		uintptr(WS_EX_LAYERED|opts.ExStyle),
		uintptr(unsafe.Pointer(syscall.StringToUTF16Ptr(overlayClassName))),
		uintptr(unsafe.Pointer(title)),
		WS_POPUP|WS_THICKFRAME,
		uintptr(opts.Bounds.Left), uintptr(opts.Bounds.Top),
		uintptr(opts.Bounds.Width()), uintptr(opts.Bounds.Height()),
		0, 0, hInstance, 0,
	)

	windowsMu.Lock()
	delete(windowsBy, 0)
	if hwnd != 0 {
		windowsBy[HWND(hwnd)] = w
	}
	windowsMu.Unlock()

	if hwnd == 0 {
		return fmt.Errorf("CreateWindowEx: %v", err)
	}
	w.hwnd = HWND(hwnd)

	alpha := opts.Opacity
	if alpha <= 0 || alpha > 1 {
		alpha = 1
	}
	procSetLayeredWindowAttributes.Call(hwnd, 0, uintptr(alpha*255), LWA_ALPHA)
	return nil
}

func (w *Window) pump() {
	var msg MSG
	for {
		ret, _, _ := procGetMessageW.Call(uintptr(unsafe.Pointer(&msg)), 0, 0, 0)
		if int32(ret) <= 0 {
			return
		}
		procTranslateMessage.Call(uintptr(unsafe.Pointer(&msg)))
		procDispatchMessageW.Call(uintptr(unsafe.Pointer(&msg)))
	}
}

func lookupWindow(hwnd uintptr) *Window {
	windowsMu.Lock()
	defer windowsMu.Unlock()
	if w, ok := windowsBy[HWND(hwnd)]; ok {
		return w
	}
	return windowsBy[0]
}

func windowProc(hwnd uintptr, msg uint32, wparam, lparam uintptr) uintptr {
	w := lookupWindow(hwnd)
	if w != nil {
		switch msg {
		case WM_HOTKEY:
			w.emit(WindowEvent{Kind: EventHotkey, HotkeyID: int32(wparam)})
			return 0
		case WM_MOVE, WM_SIZE:
			if w.hwnd != 0 {
				w.emit(WindowEvent{Kind: EventGeometry, Bounds: w.Geometry()})
			}
		case WM_CLOSE:
			// Destruction is the session's decision, made after its own shutdown.
			w.emit(WindowEvent{Kind: EventClose})
			return 0
		case WM_PAINT:
			w.paint(hwnd)
			return 0
		case WM_SETCURSOR:
			if uint16(lparam) == HTCLIENT && !w.isCursorVisible() {
				procSetCursor.Call(0)
				return 1
			}
		case wmInvoke:
			w.drain()
			return 0
		case WM_DESTROY:
			windowsMu.Lock()
			delete(windowsBy, HWND(hwnd))
			windowsMu.Unlock()
			procPostQuitMessage.Call(0)
			return 0
		}
	}
	ret, _, _ := procDefWindowProcW.Call(hwnd, uintptr(msg), wparam, lparam)
	return ret
}

func (w *Window) emit(ev WindowEvent) {
	if w.events != nil {
		w.events(ev)
	}
}

func (w *Window) paint(hwnd uintptr) {
	var ps PAINTSTRUCT
	hdc, _, _ := procBeginPaint.Call(hwnd, uintptr(unsafe.Pointer(&ps)))
	w.mu.Lock()
	if w.brush == 0 {
		c := w.indicator
		w.brush, _, _ = procCreateSolidBrush.Call(uintptr(c.R) | uintptr(c.G)<<8 | uintptr(c.B)<<16)
	}
	brush := w.brush
	w.mu.Unlock()
	procFillRect.Call(hdc, uintptr(unsafe.Pointer(&ps.RcPaint)), brush)
	procEndPaint.Call(hwnd, uintptr(unsafe.Pointer(&ps)))
}

// invoke runs fn on the pump thread and waits for it.
func (w *Window) invoke(fn func()) {
	ran := make(chan struct{})
	w.invokeMu.Lock()
	w.pending = append(w.pending, func() { fn(); close(ran) })
	w.invokeMu.Unlock()

	if ret, _, _ := procPostMessageW.Call(uintptr(w.hwnd), wmInvoke, 0, 0); ret == 0 {
		return
	}
	select {
	case <-ran:
	case <-w.done:
	}
}

func (w *Window) drain() {
	w.invokeMu.Lock()
	fns := w.pending
	w.pending = nil
	w.invokeMu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

func (w *Window) Handle() HWND { return w.hwnd }

func (w *Window) RegisterHotKey(id int32, modifiers, vk uint32) error {
	var err error
	w.invoke(func() {
		err = boolCall("RegisterHotKey", procRegisterHotKey, uintptr(w.hwnd), uintptr(id), uintptr(modifiers), uintptr(vk))
	})
	return err
}

func (w *Window) UnregisterHotKey(id int32) error {
	var err error
	w.invoke(func() {
		err = boolCall("UnregisterHotKey", procUnregisterHotKey, uintptr(w.hwnd), uintptr(id))
	})
	return err
}

func (w *Window) SetIndicator(c Color) {
	w.mu.Lock()
	if w.indicator == c && w.brush != 0 {
		w.mu.Unlock()
		return
	}
	w.indicator = c
	if w.brush != 0 {
		procDeleteObject.Call(w.brush)
		w.brush = 0
	}
	w.mu.Unlock()
	procInvalidateRect.Call(uintptr(w.hwnd), 0, 1)
}

func (w *Window) SetCursorVisible(visible bool) {
	w.mu.Lock()
	w.cursorVisible = visible
	w.mu.Unlock()
}

func (w *Window) isCursorVisible() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.cursorVisible
}

func (w *Window) Geometry() Rect {
	var r Rect
	procGetWindowRect.Call(uintptr(w.hwnd), uintptr(unsafe.Pointer(&r)))
	return r
}

func (w *Window) SetGeometry(r Rect) error {
	return boolCall("SetWindowPos", procSetWindowPos,
		uintptr(w.hwnd), 0,
		uintptr(r.Left), uintptr(r.Top), uintptr(r.Width()), uintptr(r.Height()),
		SWP_NOZORDER|SWP_NOACTIVATE)
}

// Destroy tears down the window on its own thread and waits for the pump to
// exit.
func (w *Window) Destroy() {
	w.invoke(func() {
		procDestroyWindow.Call(uintptr(w.hwnd))
	})
	<-w.done
	w.mu.Lock()
	if w.brush != 0 {
		procDeleteObject.Call(w.brush)
		w.brush = 0
	}
	w.mu.Unlock()
}

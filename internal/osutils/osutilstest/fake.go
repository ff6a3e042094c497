// Package osutilstest provides recording in-memory implementations of the
// osutils interfaces.
package osutilstest

import (
	"fmt"
	"strings"
	"sync"

	"rpoverlay/internal/osutils"
)

var (
	_ osutils.Backend   = (*Fake)(nil)
	_ osutils.Surface   = (*FakeSurface)(nil)
	_ osutils.Clipboard = (*FakeClipboard)(nil)
)

// FakeWindow is a top-level window known to Fake.
type FakeWindow struct {
	Title   string
	Thread  uint32
	Process uint32
	ExStyle uint32
	Shown   bool
}

// Fake is an in-memory Backend that records every call. It is safe for
// concurrent use.
type Fake struct {
	mu       sync.Mutex
	calls    []string
	windows  map[osutils.HWND]*FakeWindow
	order    []osutils.HWND
	fg       osutils.HWND
	thread   uint32
	pressed  map[uint16]bool
	failures map[string]error
	refuse   map[osutils.HWND]int
	work     osutils.Rect
	attached map[[2]uint32]bool
	threadID func() uint32
	threads  []uint32
}

// NewFake returns a Fake with an empty desktop and a 1920x1040 work area.
func NewFake() *Fake {
	return &Fake{
		windows:  make(map[osutils.HWND]*FakeWindow),
		thread:   1,
		pressed:  make(map[uint16]bool),
		failures: make(map[string]error),
		refuse:   make(map[osutils.HWND]int),
		work:     osutils.Rect{Right: 1920, Bottom: 1040},
		attached: make(map[[2]uint32]bool),
	}
}

// AddWindow registers a window. Enumeration follows insertion order.
func (f *Fake) AddWindow(h osutils.HWND, w FakeWindow) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := w
	f.windows[h] = &cp
	f.order = append(f.order, h)
}

// Window returns a copy of a registered window's state.
func (f *Fake) Window(h osutils.HWND) (FakeWindow, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	w, ok := f.windows[h]
	if !ok {
		return FakeWindow{}, false
	}
	return *w, true
}

// SetForegroundDirect changes the foreground window without recording a call.
func (f *Fake) SetForegroundDirect(h osutils.HWND) {
	f.mu.Lock()
	f.fg = h
	f.mu.Unlock()
}

// RefuseForeground makes the next n SetForeground calls for h succeed
// without changing the foreground window.
func (f *Fake) RefuseForeground(h osutils.HWND, n int) {
	f.mu.Lock()
	f.refuse[h] = n
	f.mu.Unlock()
}

// Fail makes the named operation return err. A nil err clears it.
func (f *Fake) Fail(op string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.failures, op)
		return
	}
	f.failures[op] = err
}

// Press marks vk as physically held.
func (f *Fake) Press(vk uint16) {
	f.mu.Lock()
	f.pressed[vk] = true
	f.mu.Unlock()
}

// Release marks vk as released.
func (f *Fake) Release(vk uint16) {
	f.mu.Lock()
	delete(f.pressed, vk)
	f.mu.Unlock()
}

// SetWorkArea overrides the reported work area.
func (f *Fake) SetWorkArea(r osutils.Rect) {
	f.mu.Lock()
	f.work = r
	f.mu.Unlock()
}

// Attached reports whether input of thread from is attached to thread to.
func (f *Fake) Attached(from, to uint32) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attached[[2]uint32{from, to}]
}

// UseThreadIDs makes CurrentThreadID report fn and tags every logged call
// with the thread fn reports at that moment. OSThreadID is the usual fn.
func (f *Fake) UseThreadIDs(fn func() uint32) {
	f.mu.Lock()
	f.threadID = fn
	f.mu.Unlock()
}

// Threads returns the thread tags of the logged calls starting with prefix.
func (f *Fake) Threads(prefix string) []uint32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []uint32
	for i, c := range f.calls {
		if strings.HasPrefix(c, prefix) {
			out = append(out, f.threads[i])
		}
	}
	return out
}

// Calls returns a copy of the call log.
func (f *Fake) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// CallsWithPrefix returns logged calls starting with prefix.
func (f *Fake) CallsWithPrefix(prefix string) []string {
	var out []string
	for _, c := range f.Calls() {
		if strings.HasPrefix(c, prefix) {
			out = append(out, c)
		}
	}
	return out
}

// ResetCalls clears the call log.
func (f *Fake) ResetCalls() {
	f.mu.Lock()
	f.calls = nil
	f.threads = nil
	f.mu.Unlock()
}

// record must be called with mu held.
func (f *Fake) record(op string, format string, args ...any) error {
	entry := op
	if format != "" {
		entry += " " + fmt.Sprintf(format, args...)
	}
	f.calls = append(f.calls, entry)
	var tid uint32
	if f.threadID != nil {
		tid = f.threadID()
	}
	f.threads = append(f.threads, tid)
	return f.failures[op]
}

func upDown(up bool) string {
	if up {
		return "up"
	}
	return "down"
}

func (f *Fake) KeyDown(vk uint16) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pressed[vk]
}

func (f *Fake) SendKey(vk uint16, up bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.record("SendKey", "0x%02X %s", vk, upDown(up))
}

func (f *Fake) SendUnicode(unit uint16, up bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.record("SendUnicode", "%q %s", rune(unit), upDown(up))
}

func (f *Fake) ForegroundWindow() osutils.HWND {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fg
}

func (f *Fake) FindWindow(match func(title string) bool) osutils.HWND {
	f.mu.Lock()
	candidates := make([]osutils.HWND, 0, len(f.order))
	titles := make([]string, 0, len(f.order))
	for _, h := range f.order {
		if w, ok := f.windows[h]; ok && w.Shown {
			candidates = append(candidates, h)
			titles = append(titles, w.Title)
		}
	}
	f.mu.Unlock()

	for i, h := range candidates {
		if titles[i] != "" && match(titles[i]) {
			return h
		}
	}
	return 0
}

func (f *Fake) WindowTitle(h osutils.HWND) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if w, ok := f.windows[h]; ok {
		return w.Title
	}
	return ""
}

func (f *Fake) WindowThreadProcess(h osutils.HWND) (uint32, uint32) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if w, ok := f.windows[h]; ok {
		return w.Thread, w.Process
	}
	return 0, 0
}

func (f *Fake) CurrentThreadID() uint32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.threadID != nil {
		return f.threadID()
	}
	return f.thread
}

func (f *Fake) AttachThreadInput(from, to uint32, attach bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("AttachThreadInput", "%d %d %t", from, to, attach); err != nil {
		return err
	}
	key := [2]uint32{from, to}
	if attach {
		f.attached[key] = true
	} else {
		delete(f.attached, key)
	}
	return nil
}

func (f *Fake) AllowSetForeground(pid uint32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.record("AllowSetForeground", "%d", pid)
}

func (f *Fake) ShowWindow(h osutils.HWND, cmd int32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("ShowWindow", "%d %d", h, cmd); err != nil {
		return err
	}
	if w, ok := f.windows[h]; ok {
		w.Shown = cmd != osutils.SW_HIDE
	}
	return nil
}

func (f *Fake) BringToTop(h osutils.HWND) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.record("BringToTop", "%d", h)
}

func (f *Fake) SetForeground(h osutils.HWND) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("SetForeground", "%d", h); err != nil {
		return err
	}
	if f.refuse[h] > 0 {
		f.refuse[h]--
		return nil
	}
	f.fg = h
	return nil
}

func (f *Fake) SetFocus(h osutils.HWND) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.record("SetFocus", "%d", h)
}

func (f *Fake) ExStyle(h osutils.HWND) (uint32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failures["ExStyle"]; err != nil {
		return 0, err
	}
	if w, ok := f.windows[h]; ok {
		return w.ExStyle, nil
	}
	return 0, nil
}

func (f *Fake) SetExStyle(h osutils.HWND, style uint32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("SetExStyle", "%d 0x%08X", h, style); err != nil {
		return err
	}
	if w, ok := f.windows[h]; ok {
		w.ExStyle = style
	}
	return nil
}

func (f *Fake) SetTopmost(h osutils.HWND) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.record("SetTopmost", "%d", h)
}

func (f *Fake) WorkArea() (osutils.Rect, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failures["WorkArea"]; err != nil {
		return osutils.Rect{}, err
	}
	return f.work, nil
}

// FakeSurface is an in-memory Surface.
type FakeSurface struct {
	mu            sync.Mutex
	hwnd          osutils.HWND
	hotkeys       map[int32][2]uint32
	refuse        map[uint32]error
	indicator     osutils.Color
	cursorVisible bool
	bounds        osutils.Rect
	destroyed     bool
	log           []string
}

// NewFakeSurface returns a surface with the given handle and bounds.
func NewFakeSurface(h osutils.HWND, bounds osutils.Rect) *FakeSurface {
	return &FakeSurface{
		hwnd:          h,
		hotkeys:       make(map[int32][2]uint32),
		refuse:        make(map[uint32]error),
		cursorVisible: true,
		bounds:        bounds,
	}
}

// RefuseKey makes registration of vk fail with err.
func (s *FakeSurface) RefuseKey(vk uint32, err error) {
	s.mu.Lock()
	s.refuse[vk] = err
	s.mu.Unlock()
}

// Hotkey returns the modifiers and key registered under id.
func (s *FakeSurface) Hotkey(id int32) (modifiers, vk uint32, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	reg, ok := s.hotkeys[id]
	return reg[0], reg[1], ok
}

// Indicator returns the last indicator colour.
func (s *FakeSurface) Indicator() osutils.Color {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.indicator
}

// CursorVisible returns the last cursor visibility.
func (s *FakeSurface) CursorVisible() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursorVisible
}

// Destroyed reports whether Destroy was called.
func (s *FakeSurface) Destroyed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.destroyed
}

// Log returns the ordered surface operations.
func (s *FakeSurface) Log() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.log...)
}

func (s *FakeSurface) Handle() osutils.HWND { return s.hwnd }

func (s *FakeSurface) RegisterHotKey(id int32, modifiers, vk uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.log = append(s.log, fmt.Sprintf("RegisterHotKey %d", id))
	if s.destroyed {
		return fmt.Errorf("RegisterHotKey: invalid window handle")
	}
	if _, taken := s.hotkeys[id]; taken {
		return fmt.Errorf("RegisterHotKey: id %d already registered", id)
	}
	if err := s.refuse[vk]; err != nil {
		return err
	}
	s.hotkeys[id] = [2]uint32{modifiers, vk}
	return nil
}

func (s *FakeSurface) UnregisterHotKey(id int32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.log = append(s.log, fmt.Sprintf("UnregisterHotKey %d", id))
	if s.destroyed {
		return fmt.Errorf("UnregisterHotKey: invalid window handle")
	}
	if _, ok := s.hotkeys[id]; !ok {
		return fmt.Errorf("UnregisterHotKey: id %d not registered", id)
	}
	delete(s.hotkeys, id)
	return nil
}

func (s *FakeSurface) SetIndicator(c osutils.Color) {
	s.mu.Lock()
	s.indicator = c
	s.mu.Unlock()
}

func (s *FakeSurface) SetCursorVisible(visible bool) {
	s.mu.Lock()
	s.cursorVisible = visible
	s.mu.Unlock()
}

func (s *FakeSurface) Geometry() osutils.Rect {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bounds
}

func (s *FakeSurface) SetGeometry(r osutils.Rect) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bounds = r
	return nil
}

func (s *FakeSurface) Destroy() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.log = append(s.log, "Destroy")
	s.destroyed = true
}

// FakeClipboard is an in-memory Clipboard. Writes listed in DropWrites are
// silently lost, which models another process racing for the clipboard.
type FakeClipboard struct {
	mu         sync.Mutex
	text       string
	dropWrites int
	writes     []string
}

// NewFakeClipboard returns a clipboard holding text.
func NewFakeClipboard(text string) *FakeClipboard {
	return &FakeClipboard{text: text}
}

// DropWrites loses the next n writes.
func (c *FakeClipboard) DropWrites(n int) {
	c.mu.Lock()
	c.dropWrites = n
	c.mu.Unlock()
}

// Writes returns every text written, dropped or not.
func (c *FakeClipboard) Writes() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.writes...)
}

func (c *FakeClipboard) ReadText() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.text, nil
}

func (c *FakeClipboard) WriteText(text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writes = append(c.writes, text)
	if c.dropWrites > 0 {
		c.dropWrites--
		return nil
	}
	c.text = text
	return nil
}

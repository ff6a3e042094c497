// Package focus moves keyboard focus to a foreign window and back.
//
// Windows only lets the foreground process hand out foreground, so the
// transfer attaches to the target's input queue, asks permission for the
// target process and then walks restore, raise, set-foreground and
// set-focus with a settle delay after each step. The attachment is held
// until the caller has finished injecting input.
package focus

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"rpoverlay/internal/input"
	"rpoverlay/internal/osutils"
)

var (
	// ErrWindowNotFound means no visible window matched the predicate.
	ErrWindowNotFound = errors.New("focus: target window not found")
	// ErrFocusFailed means the target existed but never became foreground.
	ErrFocusFailed = errors.New("focus: could not bring target to foreground")
)

// TitlePredicate selects a window by its title.
type TitlePredicate func(title string) bool

// TitleContains matches titles containing any of subs, ignoring case.
func TitleContains(subs ...string) TitlePredicate {
	lowered := make([]string, len(subs))
	for i, s := range subs {
		lowered[i] = strings.ToLower(s)
	}
	return func(title string) bool {
		title = strings.ToLower(title)
		for _, s := range lowered {
			if strings.Contains(title, s) {
				return true
			}
		}
		return false
	}
}

var (
	GamePredicate  = TitleContains("FiveM", "Grand Theft Auto V")
	DebugPredicate = TitleContains("Notepad", "Anteckningar")
)

// Timing holds the settle delays of a transfer.
type Timing struct {
	Restore    time.Duration
	Raise      time.Duration
	Foreground time.Duration
	Focus      time.Duration
	Retry      time.Duration
	// Retries is how many extra set-foreground attempts follow a failed
	// verification.
	Retries int
}

var DefaultTiming = Timing{
	Restore:    150 * time.Millisecond,
	Raise:      100 * time.Millisecond,
	Foreground: 200 * time.Millisecond,
	Focus:      200 * time.Millisecond,
	Retry:      300 * time.Millisecond,
	Retries:    2,
}

// Coordinator performs focus transfers through a WindowBackend.
type Coordinator struct {
	backend osutils.WindowBackend
	timing  Timing
	logger  *zap.Logger

	mu       sync.Mutex
	previous osutils.HWND
}

// NewCoordinator creates a coordinator using timing.
func NewCoordinator(backend osutils.WindowBackend, timing Timing, logger *zap.Logger) *Coordinator {
	return &Coordinator{
		backend: backend,
		timing:  timing,
		logger:  logger.Named("focus"),
	}
}

// FindWindow returns the first visible top-level window whose title
// matches pred.
func (c *Coordinator) FindWindow(pred TitlePredicate) (osutils.HWND, bool) {
	h := c.backend.FindWindow(pred)
	return h, h != 0
}

// RememberForeground records the current foreground window as the one to
// return to, unless it is self.
func (c *Coordinator) RememberForeground(self osutils.HWND) osutils.HWND {
	fg := c.backend.ForegroundWindow()
	c.mu.Lock()
	defer c.mu.Unlock()
	if fg != 0 && fg != self {
		c.previous = fg
	}
	return c.previous
}

// Previous returns the remembered foreground window.
func (c *Coordinator) Previous() osutils.HWND {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.previous
}

// RestorePrevious gives foreground back to the remembered window.
func (c *Coordinator) RestorePrevious() bool {
	prev := c.Previous()
	if prev == 0 {
		return false
	}
	if err := c.backend.SetForeground(prev); err != nil {
		c.logger.Warn("SetForegroundWindow failed", zap.Uintptr("hwnd", uintptr(prev)), zap.Error(err))
		return false
	}
	return c.backend.ForegroundWindow() == prev
}

// Transfer is an acquired foreground. Release must be called once input
// delivery is complete.
type Transfer struct {
	c        *Coordinator
	target   osutils.HWND
	from, to uint32
	attached bool
	once     sync.Once
}

// Target is the window that holds foreground.
func (t *Transfer) Target() osutils.HWND {
	return t.target
}

// Release detaches thread input. It is safe to call more than once.
func (t *Transfer) Release() {
	t.once.Do(func() {
		if !t.attached {
			return
		}
		if err := t.c.backend.AttachThreadInput(t.from, t.to, false); err != nil {
			t.c.logger.Warn("Detach thread input failed", zap.Error(err))
			return
		}
		t.c.logger.Debug("Detached thread input", zap.Uint32("target_thread", t.to))
	})
}

// Reassert checks that the target is still foreground and takes it back
// once if it is not. Targets such as game chat boxes may steal activation
// when they open.
func (t *Transfer) Reassert(ctx context.Context) (bool, error) {
	if t.c.backend.ForegroundWindow() == t.target {
		return true, nil
	}
	t.c.logger.Warn("Target lost foreground, re-focusing", zap.Uintptr("hwnd", uintptr(t.target)))
	t.c.setForeground(t.target)
	if err := input.Sleep(ctx, t.c.timing.Foreground); err != nil {
		return false, err
	}
	return t.c.backend.ForegroundWindow() == t.target, nil
}

// Acquire brings target to the foreground. On error the thread input is
// already detached. The calling goroutine must stay locked to its OS thread
// until Release; Deliver does this.
func (c *Coordinator) Acquire(ctx context.Context, target osutils.HWND) (*Transfer, error) {
	c.RememberForeground(target)

	toThread, pid := c.backend.WindowThreadProcess(target)
	fromThread := c.backend.CurrentThreadID()
	t := &Transfer{c: c, target: target, from: fromThread, to: toThread}

	if toThread != 0 && toThread != fromThread {
		if err := c.backend.AttachThreadInput(fromThread, toThread, true); err != nil {
			c.logger.Warn("AttachThreadInput failed", zap.Uint32("target_thread", toThread), zap.Error(err))
		} else {
			t.attached = true
		}
	}

	if err := c.acquire(ctx, target, pid); err != nil {
		t.Release()
		return nil, err
	}
	return t, nil
}

func (c *Coordinator) acquire(ctx context.Context, target osutils.HWND, pid uint32) error {
	if err := c.backend.AllowSetForeground(pid); err != nil {
		c.logger.Debug("AllowSetForegroundWindow failed", zap.Uint32("pid", pid), zap.Error(err))
	}

	steps := []struct {
		name  string
		run   func() error
		delay time.Duration
	}{
		{"ShowWindow", func() error { return c.backend.ShowWindow(target, osutils.SW_RESTORE) }, c.timing.Restore},
		{"BringWindowToTop", func() error { return c.backend.BringToTop(target) }, c.timing.Raise},
		{"SetForegroundWindow", func() error { return c.backend.SetForeground(target) }, c.timing.Foreground},
		{"SetFocus", func() error { return c.backend.SetFocus(target) }, c.timing.Focus},
	}
	for _, step := range steps {
		if err := step.run(); err != nil {
			c.logger.Warn(step.name+" failed", zap.Uintptr("hwnd", uintptr(target)), zap.Error(err))
		}
		if err := input.Sleep(ctx, step.delay); err != nil {
			return err
		}
	}

	for attempt := 0; ; attempt++ {
		fg := c.backend.ForegroundWindow()
		if fg == target {
			return nil
		}
		if attempt >= c.timing.Retries {
			c.logger.Warn("Focus transfer failed",
				zap.Uintptr("hwnd", uintptr(target)), zap.Uintptr("foreground", uintptr(fg)),
				zap.Int("attempts", attempt+1))
			return fmt.Errorf("%w: hwnd %d", ErrFocusFailed, target)
		}
		c.logger.Debug("Foreground verification failed, retrying",
			zap.Uintptr("foreground", uintptr(fg)), zap.Int("attempt", attempt+1))
		c.setForeground(target)
		if err := input.Sleep(ctx, c.timing.Retry); err != nil {
			return err
		}
		if err := c.backend.SetFocus(target); err != nil {
			c.logger.Debug("SetFocus failed", zap.Error(err))
		}
		if err := input.Sleep(ctx, c.timing.Focus); err != nil {
			return err
		}
	}
}

func (c *Coordinator) setForeground(h osutils.HWND) {
	if err := c.backend.SetForeground(h); err != nil {
		c.logger.Warn("SetForegroundWindow failed", zap.Uintptr("hwnd", uintptr(h)), zap.Error(err))
	}
}

// Deliver finds the window matching pred, acquires it, runs fn and then
// releases the transfer. It returns ErrWindowNotFound, ErrFocusFailed or
// the error of fn.
func (c *Coordinator) Deliver(ctx context.Context, pred TitlePredicate, fn func(context.Context, *Transfer) error) error {
	target, ok := c.FindWindow(pred)
	if !ok {
		return ErrWindowNotFound
	}
	c.logger.Debug("Found target window",
		zap.Uintptr("hwnd", uintptr(target)), zap.String("title", c.backend.WindowTitle(target)))

	// Attach, focus calls, injection and detach must come from one OS thread.
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	t, err := c.Acquire(ctx, target)
	if err != nil {
		return err
	}
	defer t.Release()
	return fn(ctx, t)
}

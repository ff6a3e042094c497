package clickthrough

import (
	"errors"
	"sync/atomic"

	"go.uber.org/zap"

	"rpoverlay/internal/osutils"
)

// ErrReentrant is returned when a style update starts inside another one.
var ErrReentrant = errors.New("clickthrough: re-entrant extended style mutation")

// StyleGuard serializes read-modify-write cycles of one window's extended
// style word. Click-through, note editing and preset delivery all touch the
// same word; a nested update would overwrite the outer one's result, so it
// is rejected instead.
type StyleGuard struct {
	backend osutils.WindowBackend
	hwnd    osutils.HWND
	busy    atomic.Bool
	logger  *zap.Logger
}

func NewStyleGuard(backend osutils.WindowBackend, hwnd osutils.HWND, logger *zap.Logger) *StyleGuard {
	return &StyleGuard{backend: backend, hwnd: hwnd, logger: logger.Named("style")}
}

// Update reads the style, applies fn and writes the result if it changed.
func (g *StyleGuard) Update(fn func(style uint32) uint32) error {
	if !g.busy.CompareAndSwap(false, true) {
		g.logger.Warn("Ignoring re-entrant style mutation", zap.Uintptr("hwnd", uintptr(g.hwnd)))
		return ErrReentrant
	}
	defer g.busy.Store(false)

	cur, err := g.backend.ExStyle(g.hwnd)
	if err != nil {
		g.logger.Warn("GetWindowLong failed", zap.Error(err))
		return err
	}
	next := fn(cur)
	if next == cur {
		return nil
	}
	if err := g.backend.SetExStyle(g.hwnd, next); err != nil {
		g.logger.Warn("SetWindowLong failed", zap.Uint32("style", next), zap.Error(err))
		return err
	}
	return nil
}

// Set turns bits on.
func (g *StyleGuard) Set(bits uint32) error {
	return g.Update(func(s uint32) uint32 { return s | bits })
}

// Clear turns bits off.
func (g *StyleGuard) Clear(bits uint32) error {
	return g.Update(func(s uint32) uint32 { return s &^ bits })
}

// Has reports whether all bits are set. Read errors report false.
func (g *StyleGuard) Has(bits uint32) bool {
	s, err := g.backend.ExStyle(g.hwnd)
	return err == nil && s&bits == bits
}

// Window is the guarded window handle.
func (g *StyleGuard) Window() osutils.HWND {
	return g.hwnd
}

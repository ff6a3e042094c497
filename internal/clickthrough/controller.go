// Package clickthrough decides whether the overlay takes mouse input or lets
// it fall through to the game beneath.
package clickthrough

import (
	"time"

	"go.uber.org/zap"

	"rpoverlay/internal/osutils"
)

// State is the interactivity of the overlay.
type State int

const (
	Interactive State = iota
	ClickThrough
)

func (s State) String() string {
	if s == ClickThrough {
		return "click-through"
	}
	return "interactive"
}

var (
	IndicatorInteractive  = osutils.Color{R: 0x00, G: 0xFF, B: 0x00}
	IndicatorClickThrough = osutils.Color{R: 0x2F, G: 0x9D, B: 0xFF}
)

// Indicator shows the current state to the user.
type Indicator interface {
	SetIndicator(osutils.Color)
	SetCursorVisible(bool)
}

// Scheduler runs fn after d on the UI loop. The returned func cancels it.
type Scheduler interface {
	After(d time.Duration, fn func()) (cancel func())
}

// NoteGrace is how long activation stays allowed after a note loses focus.
const NoteGrace = 100 * time.Millisecond

// Controller owns the interactivity state. All methods must be called on
// the UI loop.
type Controller struct {
	guard     *StyleGuard
	backend   osutils.Backend
	indicator Indicator
	sched     Scheduler
	logger    *zap.Logger

	binding         uint16
	state           State
	awaitingRelease bool

	noteFocused bool
	cancelGrace func()

	observers []func(State)
}

// New creates a controller in the Interactive state bound to XButton2.
// Apply must be called once the window exists.
func New(guard *StyleGuard, backend osutils.Backend, indicator Indicator, sched Scheduler, logger *zap.Logger) *Controller {
	return &Controller{
		guard:     guard,
		backend:   backend,
		indicator: indicator,
		sched:     sched,
		logger:    logger.Named("clickthrough"),
		binding:   osutils.VK_XBUTTON2,
	}
}

// SetBinding changes the polled virtual key. A press in progress on the
// old binding is forgotten.
func (c *Controller) SetBinding(vk uint16) {
	if vk == c.binding {
		return
	}
	c.binding = vk
	c.awaitingRelease = false
	c.logger.Info("Interactivity toggle bound", zap.Uint16("vk", vk))
}

func (c *Controller) Binding() uint16 {
	return c.binding
}

// OnChange registers fn to be called after every state transition.
func (c *Controller) OnChange(fn func(State)) {
	c.observers = append(c.observers, fn)
}

func (c *Controller) State() State {
	return c.state
}

func (c *Controller) IsClickThrough() bool {
	return c.state == ClickThrough
}

// Toggle flips the state.
func (c *Controller) Toggle() {
	c.SetClickThrough(c.state == Interactive)
}

// SetClickThrough moves to the requested state and applies it to the window.
func (c *Controller) SetClickThrough(enabled bool) {
	next := Interactive
	if enabled {
		next = ClickThrough
	}
	changed := next != c.state
	c.state = next
	c.Apply()
	if !changed {
		return
	}
	c.logger.Info("Overlay interactivity changed", zap.Stringer("state", next))
	for _, fn := range c.observers {
		fn(next)
	}
}

// Apply pushes the current state to the window style, the cursor and the
// indicator.
func (c *Controller) Apply() {
	if c.state == ClickThrough {
		_ = c.guard.Set(osutils.WS_EX_TRANSPARENT)
		c.indicator.SetCursorVisible(false)
		c.indicator.SetIndicator(IndicatorClickThrough)
		return
	}
	_ = c.guard.Clear(osutils.WS_EX_TRANSPARENT)
	c.indicator.SetCursorVisible(true)
	c.indicator.SetIndicator(IndicatorInteractive)
}

// Poll samples the toggle binding. A press toggles once and latches until
// the binding is released, so one physical press is one transition however
// many ticks it spans. While click-through, the transparent bit is put back
// if anything cleared it.
func (c *Controller) Poll() {
	pressed := c.backend.KeyDown(c.binding)
	switch {
	case c.awaitingRelease:
		if !pressed {
			c.awaitingRelease = false
		}
	case pressed:
		c.Toggle()
		c.awaitingRelease = true
	}

	if c.state == ClickThrough && !c.guard.Has(osutils.WS_EX_TRANSPARENT) {
		c.logger.Debug("Re-asserting click-through style")
		_ = c.guard.Set(osutils.WS_EX_TRANSPARENT)
	}
}

// NoteFocusGained lets the overlay activate so the note editor receives
// keystrokes, and takes foreground.
func (c *Controller) NoteFocusGained() {
	c.noteFocused = true
	if c.cancelGrace != nil {
		c.cancelGrace()
		c.cancelGrace = nil
	}
	if err := c.guard.Clear(osutils.WS_EX_NOACTIVATE); err != nil {
		return
	}
	if err := c.backend.SetForeground(c.guard.Window()); err != nil {
		c.logger.Warn("Could not activate overlay for note editing", zap.Error(err))
	}
}

// NoteFocusLost restores no-activate after NoteGrace unless a note regains
// focus first.
func (c *Controller) NoteFocusLost() {
	c.noteFocused = false
	if c.cancelGrace != nil {
		c.cancelGrace()
	}
	c.cancelGrace = c.sched.After(NoteGrace, func() {
		c.cancelGrace = nil
		if c.noteFocused {
			return
		}
		if err := c.guard.Set(osutils.WS_EX_NOACTIVATE); err == nil {
			c.logger.Debug("Restored no-activate style")
		}
	})
}

// NoteHasFocus reports whether a note editor currently holds focus.
func (c *Controller) NoteHasFocus() bool {
	return c.noteFocused
}

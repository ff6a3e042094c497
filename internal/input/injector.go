// Package input synthesizes keyboard input for a foreign window.
package input

import (
	"context"
	"errors"
	"time"
	"unicode/utf16"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"rpoverlay/internal/osutils"
)

const (
	VK_T = 0x54
	VK_V = 0x56
)

var (
	// ErrNoClipboard is returned by PasteText when no clipboard was configured.
	ErrNoClipboard = errors.New("input: no clipboard configured")
	// ErrClipboardUnverified means the text never read back from the clipboard.
	ErrClipboardUnverified = errors.New("input: clipboard write could not be verified")
)

// Timing holds the delays between synthetic events. Game engines poll input
// once per frame and drop back-to-back events, so none of these should be
// zero outside tests.
type Timing struct {
	CharDelay       time.Duration
	StepDelay       time.Duration
	ClipboardSettle time.Duration
	PasteSettle     time.Duration
	RestoreDelay    time.Duration
}

// DefaultTiming matches what FiveM's chat box reliably accepts.
var DefaultTiming = Timing{
	CharDelay:       15 * time.Millisecond,
	StepDelay:       10 * time.Millisecond,
	ClipboardSettle: 50 * time.Millisecond,
	PasteSettle:     200 * time.Millisecond,
	RestoreDelay:    500 * time.Millisecond,
}

const clipboardAttempts = 3

// Result counts backend events. Backend failures are silent on Windows
// (SendInput returns 0) so callers only get a tally.
type Result struct {
	Sent   int
	Failed int
}

func (r *Result) add(err error) {
	if err != nil {
		r.Failed++
		return
	}
	r.Sent++
}

// Option configures an Injector.
type Option func(*Injector)

// WithTiming overrides DefaultTiming.
func WithTiming(t Timing) Option {
	return func(i *Injector) { i.timing = t }
}

// WithClipboard enables PasteText.
func WithClipboard(c osutils.Clipboard) Option {
	return func(i *Injector) { i.clipboard = c }
}

// Injector sends keystrokes through an InputBackend. Calls are serialized:
// a chord holds a modifier down and must not overlap other injected input.
type Injector struct {
	backend   osutils.InputBackend
	clipboard osutils.Clipboard
	timing    Timing
	sem       *semaphore.Weighted
	logger    *zap.Logger
}

// NewInjector creates an injector over backend.
func NewInjector(backend osutils.InputBackend, logger *zap.Logger, opts ...Option) *Injector {
	i := &Injector{
		backend: backend,
		timing:  DefaultTiming,
		sem:     semaphore.NewWeighted(1),
		logger:  logger.Named("input"),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// PressKey sends vk down, waits one step and sends it up.
func (i *Injector) PressKey(ctx context.Context, vk uint16) (Result, error) {
	if err := i.sem.Acquire(ctx, 1); err != nil {
		return Result{}, err
	}
	defer i.sem.Release(1)

	var res Result
	err := i.pressKey(ctx, vk, &res)
	return res, err
}

func (i *Injector) pressKey(ctx context.Context, vk uint16, res *Result) error {
	res.add(i.sendKey(vk, false))
	err := sleep(ctx, i.timing.StepDelay)
	// The key is released even when cancelled, otherwise it stays held.
	res.add(i.sendKey(vk, true))
	return err
}

// PressChord sends modifier-down, key-down, key-up, modifier-up with a step
// delay between each. The modifier is always released.
func (i *Injector) PressChord(ctx context.Context, modifier, vk uint16) (Result, error) {
	if err := i.sem.Acquire(ctx, 1); err != nil {
		return Result{}, err
	}
	defer i.sem.Release(1)

	var res Result
	err := i.pressChord(ctx, modifier, vk, &res)
	return res, err
}

func (i *Injector) pressChord(ctx context.Context, modifier, vk uint16, res *Result) error {
	res.add(i.sendKey(modifier, false))
	defer func() { res.add(i.sendKey(modifier, true)) }()

	if err := sleep(ctx, i.timing.StepDelay); err != nil {
		return err
	}
	res.add(i.sendKey(vk, false))
	if err := sleep(ctx, i.timing.StepDelay); err != nil {
		res.add(i.sendKey(vk, true))
		return err
	}
	res.add(i.sendKey(vk, true))
	return sleep(ctx, i.timing.StepDelay)
}

// TypeText sends text as Unicode scancode events, one rune at a time.
// Runes outside the BMP go out as a surrogate pair.
func (i *Injector) TypeText(ctx context.Context, text string) (Result, error) {
	if err := i.sem.Acquire(ctx, 1); err != nil {
		return Result{}, err
	}
	defer i.sem.Release(1)

	var res Result
	for _, r := range text {
		for _, unit := range utf16.Encode([]rune{r}) {
			res.add(i.sendUnicode(unit, false))
			res.add(i.sendUnicode(unit, true))
		}
		if err := sleep(ctx, i.timing.CharDelay); err != nil {
			return res, err
		}
	}
	if res.Failed > 0 {
		i.logger.Warn("Some characters were not injected",
			zap.Int("sent", res.Sent), zap.Int("failed", res.Failed))
	}
	return res, nil
}

// PasteText puts text on the clipboard, verifies it by reading it back and
// sends Ctrl+V. The previous clipboard text is restored afterwards, even
// when ctx is cancelled.
func (i *Injector) PasteText(ctx context.Context, text string) (Result, error) {
	if i.clipboard == nil {
		return Result{}, ErrNoClipboard
	}
	if err := i.sem.Acquire(ctx, 1); err != nil {
		return Result{}, err
	}
	defer i.sem.Release(1)

	original, err := i.clipboard.ReadText()
	if err != nil {
		i.logger.Warn("Could not save original clipboard", zap.Error(err))
		original = ""
	}
	defer i.restoreClipboard(ctx, original)

	if err := i.writeVerified(ctx, text); err != nil {
		return Result{}, err
	}
	if err := sleep(ctx, i.timing.PasteSettle); err != nil {
		return Result{}, err
	}

	var res Result
	err = i.pressChord(ctx, osutils.VK_CONTROL, VK_V, &res)
	return res, err
}

func (i *Injector) writeVerified(ctx context.Context, text string) error {
	for attempt := 1; attempt <= clipboardAttempts; attempt++ {
		if err := i.clipboard.WriteText(text); err != nil {
			i.logger.Debug("Clipboard write failed", zap.Int("attempt", attempt), zap.Error(err))
			if err := sleep(ctx, 2*i.timing.ClipboardSettle); err != nil {
				return err
			}
			continue
		}
		if err := sleep(ctx, i.timing.ClipboardSettle); err != nil {
			return err
		}
		got, err := i.clipboard.ReadText()
		if err == nil && got == text {
			i.logger.Debug("Clipboard set", zap.Int("attempt", attempt))
			return nil
		}
		i.logger.Debug("Clipboard verification failed", zap.Int("attempt", attempt), zap.Error(err))
	}
	i.logger.Error("Failed to set clipboard", zap.Int("attempts", clipboardAttempts))
	return ErrClipboardUnverified
}

func (i *Injector) restoreClipboard(ctx context.Context, original string) {
	if original == "" {
		return
	}
	// The target reads the clipboard asynchronously after Ctrl+V.
	_ = sleep(context.WithoutCancel(ctx), i.timing.RestoreDelay)
	if err := i.clipboard.WriteText(original); err != nil {
		i.logger.Warn("Could not restore clipboard", zap.Error(err))
	}
}

func (i *Injector) sendKey(vk uint16, up bool) error {
	err := i.backend.SendKey(vk, up)
	if err != nil {
		i.logger.Warn("SendKey failed", zap.Uint16("vk", vk), zap.Bool("up", up), zap.Error(err))
	}
	return err
}

func (i *Injector) sendUnicode(unit uint16, up bool) error {
	err := i.backend.SendUnicode(unit, up)
	if err != nil {
		i.logger.Debug("SendUnicode failed", zap.Uint16("unit", unit), zap.Bool("up", up), zap.Error(err))
	}
	return err
}

// sleep waits d or until ctx is done. It reports cancellation even for d == 0.
func sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Sleep is the cancellable wait used between focus and injection steps.
func Sleep(ctx context.Context, d time.Duration) error {
	return sleep(ctx, d)
}

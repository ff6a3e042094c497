package overlay

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"rpoverlay/internal/chat"
	"rpoverlay/internal/clickthrough"
	"rpoverlay/internal/config"
	"rpoverlay/internal/focus"
	"rpoverlay/internal/hotkey"
	"rpoverlay/internal/input"
	"rpoverlay/internal/notes"
	"rpoverlay/internal/osutils"
)

// State is what the user sees of the overlay.
type State int

const (
	Hidden State = iota
	ShownInteractive
	ShownClickThrough
)

func (s State) String() string {
	switch s {
	case Hidden:
		return "hidden"
	case ShownClickThrough:
		return "shown click-through"
	default:
		return "shown interactive"
	}
}

// Messages shown through the Notifier when a preset could not be delivered.
const (
	MsgTargetNotFound  = "Kunde inte hitta %s-fönstret. Se till att %s körs."
	MsgFocusFailed     = "Kunde inte fokusera %s-fönstret. Försök igen."
	MsgClipboardFailed = "Kunde inte kopiera texten till clipboard. Försök igen."
	MsgDeliveryFailed  = "Ett fel uppstod: %v"
)

// StartupStyles are the extended styles the overlay window always carries.
const StartupStyles = osutils.WS_EX_NOACTIVATE | osutils.WS_EX_TOOLWINDOW | osutils.WS_EX_TOPMOST

// Notifier shows a message to the user.
type Notifier interface {
	Notify(message string)
}

type logNotifier struct{ logger *zap.Logger }

func (n logNotifier) Notify(message string) {
	n.logger.Warn("User notification", zap.String("message", message))
}

// Timing holds the session's intervals and delivery delays.
type Timing struct {
	Poll             time.Duration
	GeometryDebounce time.Duration
	// AutoSave is a cron spec.
	AutoSave string
	Focus    focus.Timing
	Input    input.Timing
	// ChatOpen is how long the game takes to open its chat box after T.
	ChatOpen   time.Duration
	TypeSettle time.Duration
	PasteReady time.Duration
	PasteOpen  time.Duration
}

var DefaultTiming = Timing{
	Poll:             50 * time.Millisecond,
	GeometryDebounce: 500 * time.Millisecond,
	AutoSave:         "@every 30s",
	Focus:            focus.DefaultTiming,
	Input:            input.DefaultTiming,
	ChatOpen:         500 * time.Millisecond,
	TypeSettle:       200 * time.Millisecond,
	PasteReady:       500 * time.Millisecond,
	PasteOpen:        300 * time.Millisecond,
}

// Options are the collaborators of a Session. Loop, Backend, Surface,
// Config and Settings are required.
type Options struct {
	Loop         *Loop
	Backend      osutils.Backend
	Surface      osutils.Surface
	Clipboard    osutils.Clipboard
	Config       *config.Manager
	Settings     *config.SettingsStore
	Notebook     *notes.Notebook
	Conversation *chat.Conversation
	Notifier     Notifier
	// Debug delivers presets to Notepad through the clipboard.
	Debug  bool
	Timing Timing
	Logger *zap.Logger
}

// Session is one run of the overlay window. Unless noted otherwise its
// methods must be called on the Loop.
type Session struct {
	loop      *Loop
	backend   osutils.Backend
	surface   osutils.Surface
	clipboard osutils.Clipboard
	cfg       *config.Manager
	settings  *config.SettingsStore
	notebook  *notes.Notebook
	conv      *chat.Conversation
	notifier  Notifier
	debug     bool
	timing    Timing
	logger    *zap.Logger

	guard     *clickthrough.StyleGuard
	clicks    *clickthrough.Controller
	focus     *focus.Coordinator
	injector  *input.Injector
	registrar *hotkey.Registrar
	cron      *cron.Cron

	started         bool
	closed          bool
	visible         bool
	geometry        config.WindowGeometry
	cancelSave      func()
	stopPoll        func()
	observers       []func(State)
	presetObservers []func([]string)
	closeHandler    func()

	sendMu     sync.Mutex
	sendCancel context.CancelFunc
	sends      sync.WaitGroup
}

// New wires a session. Nothing touches the window until Start.
func New(opts Options) (*Session, error) {
	switch {
	case opts.Loop == nil:
		return nil, errors.New("overlay: loop is required")
	case opts.Backend == nil:
		return nil, errors.New("overlay: backend is required")
	case opts.Surface == nil:
		return nil, errors.New("overlay: surface is required")
	case opts.Config == nil || opts.Settings == nil:
		return nil, errors.New("overlay: config and settings are required")
	}

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	timing := opts.Timing
	if timing == (Timing{}) {
		timing = DefaultTiming
	}
	notifier := opts.Notifier
	if notifier == nil {
		notifier = logNotifier{logger: logger}
	}

	s := &Session{
		loop:      opts.Loop,
		backend:   opts.Backend,
		surface:   opts.Surface,
		clipboard: opts.Clipboard,
		cfg:       opts.Config,
		settings:  opts.Settings,
		notebook:  opts.Notebook,
		conv:      opts.Conversation,
		notifier:  notifier,
		debug:     opts.Debug,
		timing:    timing,
		logger:    logger.Named("overlay"),
	}

	hwnd := opts.Surface.Handle()
	s.guard = clickthrough.NewStyleGuard(opts.Backend, hwnd, logger)
	s.clicks = clickthrough.New(s.guard, opts.Backend, opts.Surface, opts.Loop, logger)
	s.focus = focus.NewCoordinator(opts.Backend, timing.Focus, logger)
	injectorOpts := []input.Option{input.WithTiming(timing.Input)}
	if opts.Clipboard != nil {
		injectorOpts = append(injectorOpts, input.WithClipboard(opts.Clipboard))
	}
	s.injector = input.NewInjector(opts.Backend, logger, injectorOpts...)
	s.registrar = hotkey.NewRegistrar(opts.Surface, hotkey.ToggleID, logger)
	return s, nil
}

// Start applies the window styles, geometry, hotkey and interactivity
// binding, shows the overlay and starts the poll and auto-save timers.
func (s *Session) Start() {
	if s.started || s.closed {
		return
	}
	s.started = true

	if err := s.guard.Set(StartupStyles); err != nil {
		s.logger.Warn("Could not apply overlay window styles", zap.Error(err))
	}

	st := s.settings.Current()
	s.ApplySettings(st)
	s.clicks.OnChange(func(clickthrough.State) { s.stateChanged() })
	s.clicks.Apply()

	cfg := s.cfg.Get()
	s.restoreGeometry(st, cfg)
	s.ApplyConfig(cfg)
	s.cfg.RegisterChangeCallback(func(c *config.OverlayConfig) {
		s.loop.Post(func() { s.ApplyConfig(c) })
	})

	s.SetVisible(true)

	s.stopPoll = s.loop.Every(s.timing.Poll, s.poll)
	s.cron = cron.New()
	if _, err := s.cron.AddFunc(s.timing.AutoSave, func() { s.loop.Post(s.autoSave) }); err != nil {
		s.logger.Error("Invalid auto-save schedule", zap.String("spec", s.timing.AutoSave), zap.Error(err))
	}
	s.cron.Start()

	s.logger.Info("Overlay started",
		zap.String("hotkey", s.registrar.Hint()), zap.Bool("debug", s.debug))
}

func (s *Session) poll() {
	if s.closed {
		return
	}
	s.clicks.Poll()
}

// State returns the current overlay state.
func (s *Session) State() State {
	switch {
	case !s.visible:
		return Hidden
	case s.clicks.IsClickThrough():
		return ShownClickThrough
	default:
		return ShownInteractive
	}
}

// ClickThrough reports the click-through sub-state, which is kept while
// the overlay is hidden.
func (s *Session) ClickThrough() bool {
	return s.clicks.IsClickThrough()
}

// OnStateChange registers fn to be called after every state transition.
func (s *Session) OnStateChange(fn func(State)) {
	s.observers = append(s.observers, fn)
}

// OnClose registers fn to be called once Close has finished.
func (s *Session) OnClose(fn func()) {
	s.closeHandler = fn
}

func (s *Session) stateChanged() {
	st := s.State()
	for _, fn := range s.observers {
		fn(st)
	}
}

// HandleEvent forwards a surface notification to the loop. It may be
// called from any goroutine.
func (s *Session) HandleEvent(ev osutils.WindowEvent) {
	s.loop.Post(func() {
		switch ev.Kind {
		case osutils.EventHotkey:
			s.HandleHotkey(ev.HotkeyID)
		case osutils.EventGeometry:
			s.Moved(ev.Bounds)
		case osutils.EventClose:
			s.Close()
		}
	})
}

// HandleHotkey toggles visibility when id is the show/hide hotkey. The
// click-through state survives hiding.
func (s *Session) HandleHotkey(id int32) {
	if id != hotkey.ToggleID {
		return
	}
	s.SetVisible(!s.visible)
}

// SetVisible shows or hides the overlay. Showing never activates it and
// remembers the window that had foreground.
func (s *Session) SetVisible(visible bool) {
	if s.closed || visible == s.visible {
		return
	}
	h := s.surface.Handle()
	if visible {
		s.focus.RememberForeground(h)
		if err := s.backend.ShowWindow(h, osutils.SW_SHOWNOACTIVATE); err != nil {
			s.logger.Warn("ShowWindow failed", zap.Error(err))
		}
		if err := s.backend.SetTopmost(h); err != nil {
			s.logger.Warn("SetWindowPos topmost failed", zap.Error(err))
		}
		s.clicks.Apply()
	} else if err := s.backend.ShowWindow(h, osutils.SW_HIDE); err != nil {
		s.logger.Warn("ShowWindow failed", zap.Error(err))
	}
	s.visible = visible
	s.logger.Debug("Overlay visibility changed", zap.Stringer("state", s.State()))
	s.stateChanged()
}

// SetClickThrough switches between the interactive and click-through
// sub-states.
func (s *Session) SetClickThrough(enabled bool) {
	if s.closed {
		return
	}
	s.clicks.SetClickThrough(enabled)
}

// NoteFocusGained and NoteFocusLost track the note editor's keyboard focus.
func (s *Session) NoteFocusGained() {
	if !s.closed {
		s.clicks.NoteFocusGained()
	}
}

func (s *Session) NoteFocusLost() {
	if !s.closed {
		s.clicks.NoteFocusLost()
	}
}

// HotkeyHint is the display form of the registered show/hide hotkey.
func (s *Session) HotkeyHint() string {
	return s.registrar.Hint()
}

// ApplyConfig registers the configured hotkey. A malformed hotkey falls
// back to F9; a hotkey the system refuses leaves the previous one active.
func (s *Session) ApplyConfig(cfg *config.OverlayConfig) {
	if s.closed || cfg == nil {
		return
	}
	def, err := s.registrar.Apply(cfg.Hotkey)
	if err != nil {
		s.logger.Warn("Hotkey not changed", zap.String("active", def.String()), zap.Error(err))
	}
	s.logger.Debug("Configuration applied", zap.Int("buttons", len(cfg.Buttons)))

	labels := make([]string, 0, len(cfg.Buttons))
	for _, b := range cfg.Buttons {
		labels = append(labels, b.Label)
	}
	for _, fn := range s.presetObservers {
		fn(labels)
	}
}

// OnPresetsChange registers fn to receive the preset labels each time a
// configuration is applied, starting with Start.
func (s *Session) OnPresetsChange(fn func(labels []string)) {
	s.presetObservers = append(s.presetObservers, fn)
}

// ApplySettings rebinds the interactivity toggle.
func (s *Session) ApplySettings(st *config.Settings) {
	if s.closed || st == nil {
		return
	}
	vk, ok := hotkey.BindingVirtualKey(st.InteractivityToggle)
	if !ok {
		s.logger.Warn("Unknown interactivity toggle, using default",
			zap.String("configured", st.InteractivityToggle), zap.String("default", hotkey.DefaultBinding))
	}
	s.clicks.SetBinding(vk)
}

func (s *Session) restoreGeometry(st *config.Settings, cfg *config.OverlayConfig) {
	g := st.Window.Geometry()
	if !st.Window.HasPosition() && cfg.Window != nil {
		g = *cfg.Window
	}
	work, err := s.backend.WorkArea()
	if err != nil {
		s.logger.Warn("Could not read work area", zap.Error(err))
	} else {
		g = g.Clamp(work)
	}
	s.geometry = g
	if err := s.surface.SetGeometry(g.Rect()); err != nil {
		s.logger.Warn("Could not position overlay", zap.Error(err))
	}
}

// Geometry returns the last known window geometry.
func (s *Session) Geometry() config.WindowGeometry {
	return s.geometry
}

// Moved records a new window position or size and saves it once the user
// has stopped dragging.
func (s *Session) Moved(bounds osutils.Rect) {
	if s.closed {
		return
	}
	s.geometry = config.GeometryFromRect(bounds)
	if s.cancelSave != nil {
		s.cancelSave()
	}
	s.cancelSave = s.loop.After(s.timing.GeometryDebounce, func() {
		s.cancelSave = nil
		s.saveSettings()
	})
}

// saveSettings writes the geometry and the open tabs to settings.ini.
func (s *Session) saveSettings() {
	g := s.geometry
	var tabs []string
	if s.notebook != nil {
		tabs = s.notebook.IDs()
	}
	err := s.settings.Update(func(st *config.Settings) {
		st.Window.Left, st.Window.Top = g.Left, g.Top
		st.Window.Width, st.Window.Height = g.Width, g.Height
		if s.notebook != nil {
			st.OpenTabs = tabs
		}
	})
	if err != nil {
		s.logger.Warn("Failed to save settings", zap.Error(err))
	}
}

func (s *Session) autoSave() {
	if s.closed || s.notebook == nil || s.notebook.Dirty() == 0 {
		return
	}
	if err := s.notebook.Flush(); err != nil {
		s.logger.Warn("Auto-save failed, retrying on next tick", zap.Error(err))
	}
}

// SendChat starts a chat turn. onChunk and done run on the loop.
func (s *Session) SendChat(text string, onChunk func(string), done func(chat.Reply)) bool {
	if s.closed || s.conv == nil {
		return false
	}
	var chunk func(string)
	if onChunk != nil {
		chunk = func(c string) { s.loop.Post(func() { onChunk(c) }) }
	}
	return s.conv.Send(text, chunk, func(r chat.Reply) {
		if done != nil {
			s.loop.Post(func() { done(r) })
		}
	})
}

// AskClipboard sends the clipboard text as a chat turn. The reply is shown
// through the Notifier and left on the clipboard.
func (s *Session) AskClipboard() bool {
	if s.clipboard == nil {
		return false
	}
	text, err := s.clipboard.ReadText()
	if err != nil {
		s.logger.Warn("Could not read clipboard", zap.Error(err))
		return false
	}
	return s.SendChat(text, nil, func(r chat.Reply) {
		if s.closed {
			return
		}
		if r.Err == nil && r.Text != "" {
			if err := s.clipboard.WriteText(r.Text); err != nil {
				s.logger.Warn("Could not copy chat reply", zap.Error(err))
			}
		}
		s.notifier.Notify(r.Bubble())
	})
}

func (s *Session) targetName() string {
	if s.debug {
		return "Notepad"
	}
	return "FiveM"
}

// SendPreset delivers the preset's text into the game chat, or into
// Notepad in debug mode. Delivery runs off the loop; its outcome comes back
// to the loop. It returns false when the preset is unknown or a delivery
// is already running.
func (s *Session) SendPreset(label string) bool {
	if s.closed {
		return false
	}
	button, ok := s.cfg.Get().Button(label)
	if !ok {
		s.logger.Warn("Unknown preset", zap.String("label", label))
		return false
	}

	s.sendMu.Lock()
	if s.sendCancel != nil {
		s.sendMu.Unlock()
		s.logger.Debug("Delivery already running, ignoring preset", zap.String("label", label))
		return false
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.sendCancel = cancel
	s.sends.Add(1)
	s.sendMu.Unlock()

	if !s.guard.Has(osutils.WS_EX_NOACTIVATE) {
		if err := s.guard.Set(osutils.WS_EX_NOACTIVATE); err == nil {
			s.logger.Debug("Ensured no-activate during delivery")
		}
	}

	s.logger.Info("Sending preset", zap.String("label", label), zap.String("target", s.targetName()))
	go func() {
		defer s.sends.Done()
		err := s.deliver(ctx, button.Text)

		s.sendMu.Lock()
		s.sendCancel = nil
		s.sendMu.Unlock()
		cancel()

		s.loop.Post(func() { s.delivered(label, err) })
	}()
	return true
}

func (s *Session) deliver(ctx context.Context, text string) error {
	pred := focus.GamePredicate
	if s.debug {
		pred = focus.DebugPredicate
	}
	return s.focus.Deliver(ctx, pred, func(ctx context.Context, t *focus.Transfer) error {
		if s.debug {
			return s.pasteIntoChat(ctx, t, text)
		}
		return s.typeIntoChat(ctx, t, text)
	})
}

func (s *Session) typeIntoChat(ctx context.Context, t *focus.Transfer, text string) error {
	if _, err := s.injector.PressKey(ctx, input.VK_T); err != nil {
		return err
	}
	if err := input.Sleep(ctx, s.timing.ChatOpen); err != nil {
		return err
	}
	if err := s.reassert(ctx, t); err != nil {
		return err
	}
	if _, err := s.injector.TypeText(ctx, text); err != nil {
		return err
	}
	// Let the game consume the last characters before input is detached.
	return input.Sleep(ctx, s.timing.TypeSettle)
}

func (s *Session) pasteIntoChat(ctx context.Context, t *focus.Transfer, text string) error {
	if err := input.Sleep(ctx, s.timing.PasteReady); err != nil {
		return err
	}
	if _, err := s.injector.PressKey(ctx, input.VK_T); err != nil {
		return err
	}
	if err := input.Sleep(ctx, s.timing.PasteOpen); err != nil {
		return err
	}
	if err := s.reassert(ctx, t); err != nil {
		return err
	}
	_, err := s.injector.PasteText(ctx, text)
	return err
}

func (s *Session) reassert(ctx context.Context, t *focus.Transfer) error {
	ok, err := t.Reassert(ctx)
	if err != nil {
		return err
	}
	if !ok {
		s.logger.Warn("Target did not regain foreground, sending anyway", zap.Uintptr("hwnd", uintptr(t.Target())))
	}
	return nil
}

func (s *Session) delivered(label string, err error) {
	name := s.targetName()
	switch {
	case err == nil:
		s.logger.Info("Preset delivered", zap.String("label", label))
		return
	case errors.Is(err, context.Canceled):
		s.logger.Debug("Preset delivery cancelled", zap.String("label", label))
		return
	}

	s.logger.Warn("Preset delivery failed", zap.String("label", label), zap.Error(err))
	if s.closed {
		return
	}
	switch {
	case errors.Is(err, focus.ErrWindowNotFound):
		s.notifier.Notify(fmt.Sprintf(MsgTargetNotFound, name, name))
	case errors.Is(err, focus.ErrFocusFailed):
		s.notifier.Notify(fmt.Sprintf(MsgFocusFailed, name))
	case errors.Is(err, input.ErrClipboardUnverified), errors.Is(err, input.ErrNoClipboard):
		s.notifier.Notify(MsgClipboardFailed)
	default:
		s.notifier.Notify(fmt.Sprintf(MsgDeliveryFailed, err))
	}
}

// CopyPreset puts the preset's text on the clipboard and gives foreground
// back to the window the user came from, unless a note is being edited.
func (s *Session) CopyPreset(label string) bool {
	if s.closed {
		return false
	}
	button, ok := s.cfg.Get().Button(label)
	if !ok {
		s.logger.Warn("Unknown preset", zap.String("label", label))
		return false
	}
	if s.clipboard == nil {
		s.notifier.Notify(MsgClipboardFailed)
		return false
	}
	if err := s.clipboard.WriteText(button.Text); err != nil {
		s.logger.Warn("Clipboard write failed", zap.Error(err))
		s.notifier.Notify(MsgClipboardFailed)
		return false
	}
	if !s.clicks.NoteHasFocus() {
		s.focus.RestorePrevious()
	}
	return true
}

// Close shuts the session down: the chat turn in flight is cancelled
// without its completion running, timers stop, notes are flushed, geometry
// and settings are saved, the hotkey is released and the window destroyed.
// Later calls do nothing.
func (s *Session) Close() {
	if s.closed {
		return
	}
	s.closed = true
	s.logger.Info("Closing overlay")

	if s.conv != nil {
		s.conv.Close()
	}
	s.sendMu.Lock()
	if s.sendCancel != nil {
		s.sendCancel()
	}
	s.sendMu.Unlock()
	s.sends.Wait()

	if s.stopPoll != nil {
		s.stopPoll()
	}
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
	if s.cancelSave != nil {
		s.cancelSave()
		s.cancelSave = nil
	}

	if s.notebook != nil {
		if err := s.notebook.Flush(); err != nil {
			s.logger.Error("Failed to save notes on exit", zap.Error(err))
		}
	}
	if s.started {
		s.saveSettings()
	}

	if err := s.registrar.Unregister(); err != nil {
		s.logger.Warn("Failed to unregister hotkey", zap.Error(err))
	}
	s.surface.Destroy()

	if s.closeHandler != nil {
		s.closeHandler()
	}
}

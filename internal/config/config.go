// Package config provides the overlay's preset configuration and the user
// settings file.
package config

import (
	"bytes"
	"context"
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/radovskyb/watcher"
	"github.com/tailscale/hujson"
	"go.uber.org/zap"

	"rpoverlay/internal/osutils"
)

const (
	// AppDirName is the per-user data directory name.
	AppDirName = "RPOverlay"
	// FileName is the preset configuration file name.
	FileName = "presets.json"
	// ReloadDelay coalesces bursts of file events into one reload.
	ReloadDelay = 150 * time.Millisecond
	// EdgeMargin is the distance kept from the work-area edge when the
	// window is placed automatically.
	EdgeMargin = 24
)

// Button is one quick-text preset.
type Button struct {
	Label string `json:"label"`
	Text  string `json:"text"`
}

// WindowGeometry is the overlay's position and size in screen pixels.
type WindowGeometry struct {
	Left   float64 `json:"left"`
	Top    float64 `json:"top"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// DefaultGeometry is the size used when no geometry is stored.
var DefaultGeometry = WindowGeometry{Width: 320, Height: 500}

// Rect converts the geometry to a screen rectangle.
func (g WindowGeometry) Rect() osutils.Rect {
	l, t := int32(math.Round(g.Left)), int32(math.Round(g.Top))
	return osutils.Rect{
		Left:   l,
		Top:    t,
		Right:  l + int32(math.Round(g.Width)),
		Bottom: t + int32(math.Round(g.Height)),
	}
}

// GeometryFromRect is the inverse of WindowGeometry.Rect.
func GeometryFromRect(r osutils.Rect) WindowGeometry {
	return WindowGeometry{
		Left:   float64(r.Left),
		Top:    float64(r.Top),
		Width:  float64(r.Width()),
		Height: float64(r.Height()),
	}
}

// Clamp returns g with a usable size that lies inside work. A window that
// would not fit is moved to the top-right corner, EdgeMargin from the edges.
func (g WindowGeometry) Clamp(work osutils.Rect) WindowGeometry {
	if g.Width <= 0 {
		g.Width = DefaultGeometry.Width
	}
	if g.Height <= 0 {
		g.Height = DefaultGeometry.Height
	}
	if w := float64(work.Width()); g.Width > w {
		g.Width = w
	}
	if h := float64(work.Height()); g.Height > h {
		g.Height = h
	}

	inside := g.Left >= float64(work.Left) &&
		g.Top >= float64(work.Top) &&
		g.Left+g.Width <= float64(work.Right) &&
		g.Top+g.Height <= float64(work.Bottom)
	if inside {
		return g
	}
	g.Left = math.Max(float64(work.Left), float64(work.Right)-g.Width-EdgeMargin)
	g.Top = float64(work.Top) + EdgeMargin
	return g
}

// OverlayConfig is the contents of presets.json.
type OverlayConfig struct {
	Hotkey  string          `json:"hotkey"`
	Buttons []Button        `json:"buttons"`
	Window  *WindowGeometry `json:"window,omitempty"`
}

// DefaultConfig returns a new OverlayConfig with the stock presets.
func DefaultConfig() *OverlayConfig {
	return &OverlayConfig{
		Hotkey: "F9",
		Buttons: []Button{
			{Label: "Ta fram ID", Text: "/me tar fram sitt ID-kort och visar upp det"},
			{Label: "Behandlar", Text: "/me påbörjar behandling och kontrollerar puls"},
			{Label: "Förband", Text: "/me tar fram ett förband och lindar runt såret"},
			{Label: "Kommunicerar", Text: "/do Patienten svarar svagt men är vid medvetande"},
		},
	}
}

// Button returns the preset with the given label.
func (c *OverlayConfig) Button(label string) (Button, bool) {
	for _, b := range c.Buttons {
		if b.Label == label {
			return b, true
		}
	}
	return Button{}, false
}

// Clone returns a deep copy.
func (c *OverlayConfig) Clone() *OverlayConfig {
	cp := *c
	cp.Buttons = append([]Button(nil), c.Buttons...)
	if c.Window != nil {
		w := *c.Window
		cp.Window = &w
	}
	return &cp
}

// Manager handles loading, saving and watching presets.json.
type Manager struct {
	mu          sync.Mutex
	configPath  string
	config      *OverlayConfig
	onChanged   func(*OverlayConfig)
	lastWritten []byte
	saving      atomic.Bool
	reloadGate  atomic.Bool
	w           *watcher.Watcher
	logger      *zap.Logger
}

// NewManager creates a manager for the file at path. Nothing is read until
// Load.
func NewManager(path string, logger *zap.Logger) *Manager {
	return &Manager{
		configPath: path,
		config:     DefaultConfig(),
		logger:     logger.Named("config"),
	}
}

// DefaultDataDir returns the per-user data directory, creating it.
func DefaultDataDir() (string, error) {
	var dir string

	switch runtime.GOOS {
	case "windows":
		appData := os.Getenv("APPDATA")
		if appData == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", err
			}
			appData = filepath.Join(home, "AppData", "Roaming")
		}
		dir = filepath.Join(appData, AppDirName)
	default:
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		dir = filepath.Join(home, ".config", AppDirName)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	return dir, nil
}

// Path returns the file being managed.
func (m *Manager) Path() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.configPath
}

// Load reads the configuration from disk. A missing file is created with
// the defaults. An unreadable or malformed file leaves the defaults in
// place and is reported through the logger only.
func (m *Manager) Load() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(m.configPath), 0o755); err != nil {
		return errors.Wrap(err, "create config dir failed")
	}

	if _, err := os.Stat(m.configPath); os.IsNotExist(err) {
		m.config = DefaultConfig()
		if err := m.write(m.config); err != nil {
			return err
		}
		m.logger.Info("Created default config", zap.String("path", m.configPath))
		return nil
	}

	m.config = m.readLocked()
	return nil
}

// readLocked must be called with mu held.
func (m *Manager) readLocked() *OverlayConfig {
	data, err := os.ReadFile(m.configPath)
	if err != nil {
		m.logger.Warn("Failed to read config, using defaults", zap.String("path", m.configPath), zap.Error(err))
		return DefaultConfig()
	}
	cfg, err := Decode(data)
	if err != nil {
		m.logger.Warn("Failed to parse config, using defaults", zap.String("path", m.configPath), zap.Error(err))
		return DefaultConfig()
	}
	return cfg
}

// Decode parses presets.json contents. Property names match
// case-insensitively; comments and trailing commas are tolerated.
func Decode(data []byte) (*OverlayConfig, error) {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	std, err := hujson.Standardize(data)
	if err != nil {
		return nil, errors.Wrap(err, "parse config file failed")
	}
	cfg := &OverlayConfig{}
	if err := json.Unmarshal(std, cfg); err != nil {
		return nil, errors.Wrap(err, "parse config file failed")
	}
	if cfg.Hotkey == "" {
		cfg.Hotkey = "F9"
	}
	if cfg.Buttons == nil {
		cfg.Buttons = []Button{}
	}
	return cfg, nil
}

// Save writes config to disk and makes it current. The file change this
// causes is not reported to the change callback.
func (m *Manager) Save(config *OverlayConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.saving.Store(true)
	defer m.saving.Store(false)

	if err := m.write(config); err != nil {
		return err
	}
	m.config = config.Clone()
	return nil
}

// write must be called with mu held.
func (m *Manager) write(config *OverlayConfig) error {
	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return errors.Wrap(err, "marshal config failed")
	}

	m.logger.Debug("Saving configuration", zap.String("path", m.configPath), zap.Int("bytes", len(data)))
	if err := os.WriteFile(m.configPath, data, 0o644); err != nil {
		return errors.Wrap(err, "write config file failed")
	}
	m.lastWritten = data
	return nil
}

// Get returns a copy of the current configuration.
func (m *Manager) Get() *OverlayConfig {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.config.Clone()
}

// RegisterChangeCallback registers a function to be called when the file
// is changed by another process. It runs on the watcher goroutine.
func (m *Manager) RegisterChangeCallback(fn func(*OverlayConfig)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onChanged = fn
}

// SetPath points the manager at another file, as happens when the active
// profile changes, and loads it.
func (m *Manager) SetPath(path string) (*OverlayConfig, error) {
	m.mu.Lock()
	old := m.configPath
	m.configPath = path
	m.lastWritten = nil
	w := m.w
	m.mu.Unlock()

	if w != nil && old != path {
		if err := w.Remove(old); err != nil {
			m.logger.Debug("Unwatch failed", zap.String("path", old), zap.Error(err))
		}
	}
	if err := m.Load(); err != nil {
		return m.Get(), err
	}
	if w != nil && old != path {
		if err := w.Add(path); err != nil {
			m.logger.Warn("config watcher file error", zap.String("path", path), zap.Error(err))
		}
	}
	return m.Get(), nil
}

// Watch polls the file every interval and reloads it when another process
// changes it. It returns once polling has started; polling stops when ctx
// is done.
func (m *Manager) Watch(ctx context.Context, interval time.Duration) error {
	if interval < time.Millisecond {
		return errors.Errorf("config watcher interval %v too short", interval)
	}
	w := watcher.New()
	w.SetMaxEvents(1)
	w.FilterOps(watcher.Write, watcher.Create, watcher.Rename, watcher.Move)

	if err := w.Add(m.Path()); err != nil {
		return errors.Wrap(err, "config watcher file error")
	}

	m.mu.Lock()
	m.w = w
	m.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	go func() {
		defer cancel()
		for {
			select {
			case event := <-w.Event:
				m.logger.Debug("config watcher change", zap.String("event", event.Op.String()), zap.String("file", event.Path))
				m.scheduleReload()
			case err := <-w.Error:
				m.logger.Error("config watcher error", zap.Error(err))
			case <-w.Closed:
				return
			case <-ctx.Done():
				w.Close()
				return
			}
		}
	}()

	startErr := make(chan error, 1)
	go func() { startErr <- w.Start(interval) }()
	started := make(chan struct{})
	go func() {
		w.Wait()
		close(started)
	}()

	select {
	case <-started:
		return nil
	case err := <-startErr:
		cancel()
		return errors.Wrap(err, "config watcher start error")
	}
}

func (m *Manager) scheduleReload() {
	if m.saving.Load() {
		return
	}
	if !m.reloadGate.CompareAndSwap(false, true) {
		return
	}
	time.AfterFunc(ReloadDelay, func() {
		defer m.reloadGate.Store(false)
		m.reload()
	})
}

func (m *Manager) reload() {
	m.mu.Lock()
	data, err := os.ReadFile(m.configPath)
	if err == nil && bytes.Equal(data, m.lastWritten) {
		m.mu.Unlock()
		return
	}
	m.config = m.readLocked()
	cfg := m.config.Clone()
	fn := m.onChanged
	m.mu.Unlock()

	m.logger.Info("Config reloaded", zap.Int("buttons", len(cfg.Buttons)), zap.String("hotkey", cfg.Hotkey))
	if fn != nil {
		fn(cfg)
	}
}

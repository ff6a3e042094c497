package config

import (
	"bytes"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/creasty/defaults"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gopkg.in/ini.v1"
)

// SettingsFileName lives next to presets.json.
const SettingsFileName = "settings.ini"

const settingsHeader = "; RPOverlay User Settings\n; This file is automatically generated\n\n"

// Opacity bounds.
const (
	MinOpacity = 0.1
	MaxOpacity = 1.0
)

// UnsetPosition marks a window coordinate that has never been saved.
const UnsetPosition = -1

// WindowSettings is the [Window] section.
type WindowSettings struct {
	Width  float64 `default:"320"`
	Height float64 `default:"600"`
	Left   float64 `default:"-1"`
	Top    float64 `default:"-1"`
}

// HasPosition reports whether Left and Top were saved.
func (w WindowSettings) HasPosition() bool {
	return w.Left != UnsetPosition && w.Top != UnsetPosition
}

// Geometry converts the section to a WindowGeometry.
func (w WindowSettings) Geometry() WindowGeometry {
	return WindowGeometry{Left: w.Left, Top: w.Top, Width: w.Width, Height: w.Height}
}

// Settings is the contents of settings.ini.
type Settings struct {
	FontSize                float64 `default:"16"`
	Opacity                 float64 `default:"0.8"`
	ToggleHotkey            string  `default:"F9"`
	InteractivityToggle     string  `default:"XButton2"`
	UseMiddleClickAsPrimary bool
	OpenAIAPIKey            string
	SystemPrompt            string
	ActivePromptName        string `default:"default"`
	EnableTabContext        bool
	Window                  WindowSettings
	OpenTabs                []string `default:"[\"Anteckningar\"]"`
}

// DefaultSettings returns the settings used on first run.
func DefaultSettings() *Settings {
	s := &Settings{}
	if err := defaults.Set(s); err != nil {
		// Only reachable with malformed struct tags.
		panic(err)
	}
	return s
}

// ClampOpacity bounds v to the range the overlay can render.
func ClampOpacity(v float64) float64 {
	if math.IsNaN(v) {
		return MaxOpacity
	}
	return math.Min(MaxOpacity, math.Max(MinOpacity, v))
}

// SettingsStore reads and writes settings.ini.
type SettingsStore struct {
	mu      sync.Mutex
	path    string
	current *Settings
	logger  *zap.Logger
}

// NewSettingsStore manages settings.ini inside dir.
func NewSettingsStore(dir string, logger *zap.Logger) *SettingsStore {
	return &SettingsStore{
		path:    filepath.Join(dir, SettingsFileName),
		current: DefaultSettings(),
		logger:  logger.Named("settings"),
	}
}

// Path returns the settings file.
func (s *SettingsStore) Path() string { return s.path }

// Current returns a copy of the last loaded or saved settings.
func (s *SettingsStore) Current() *Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *s.current
	cp.OpenTabs = append([]string(nil), s.current.OpenTabs...)
	return &cp
}

// Load reads settings.ini. A missing file is created with the defaults; an
// unreadable file yields the defaults.
func (s *SettingsStore) Load() *Settings {
	if _, err := os.Stat(s.path); os.IsNotExist(err) {
		def := DefaultSettings()
		if err := s.Save(def); err != nil {
			s.logger.Warn("Failed to write default settings", zap.Error(err))
		}
		return s.Current()
	}

	loaded, err := s.read()
	if err != nil {
		s.logger.Warn("Failed to load user settings, using defaults", zap.String("path", s.path), zap.Error(err))
		loaded = DefaultSettings()
	}

	s.mu.Lock()
	s.current = loaded
	s.mu.Unlock()
	return s.Current()
}

func (s *SettingsStore) read() (*Settings, error) {
	f, err := ini.LoadSources(ini.LoadOptions{
		IgnoreInlineComment:     true,
		SkipUnrecognizableLines: true,
	}, s.path)
	if err != nil {
		return nil, errors.Wrap(err, "read settings file failed")
	}

	out := DefaultSettings()

	g := f.Section("General")
	out.FontSize = g.Key("FontSize").MustFloat64(out.FontSize)
	if g.HasKey("Opacity") {
		out.Opacity = ClampOpacity(g.Key("Opacity").MustFloat64(out.Opacity))
	}
	out.ToggleHotkey = g.Key("ToggleHotkey").MustString(out.ToggleHotkey)
	// ToggleMouseButton is the name older versions wrote.
	if g.HasKey("ToggleMouseButton") {
		out.InteractivityToggle = g.Key("ToggleMouseButton").String()
	}
	if g.HasKey("InteractivityToggle") {
		out.InteractivityToggle = g.Key("InteractivityToggle").String()
	}
	out.UseMiddleClickAsPrimary = g.Key("UseMiddleClickAsPrimary").MustBool(false)
	out.OpenAIAPIKey = g.Key("OpenAiApiKey").String()
	out.SystemPrompt = g.Key("SystemPrompt").String()
	out.ActivePromptName = g.Key("ActivePromptName").MustString(out.ActivePromptName)
	out.EnableTabContext = g.Key("EnableTabContext").MustBool(false)

	w := f.Section("Window")
	out.Window.Width = w.Key("Width").MustFloat64(out.Window.Width)
	out.Window.Height = w.Key("Height").MustFloat64(out.Window.Height)
	out.Window.Left = w.Key("Left").MustFloat64(out.Window.Left)
	out.Window.Top = w.Key("Top").MustFloat64(out.Window.Top)

	if tabs := readTabs(f.Section("Tabs")); len(tabs) > 0 {
		out.OpenTabs = tabs
	}
	return out, nil
}

// readTabs returns the TabN values ordered by N.
func readTabs(sec *ini.Section) []string {
	type entry struct {
		n     int
		value string
	}
	var entries []entry
	for _, k := range sec.Keys() {
		name := k.Name()
		if !strings.HasPrefix(name, "Tab") {
			continue
		}
		n, err := strconv.Atoi(strings.TrimPrefix(name, "Tab"))
		if err != nil {
			n = math.MaxInt
		}
		if v := strings.TrimSpace(k.String()); v != "" {
			entries = append(entries, entry{n, v})
		}
	}
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].n < entries[j].n })
	tabs := make([]string, len(entries))
	for i, e := range entries {
		tabs[i] = e.value
	}
	return tabs
}

// Save writes settings to disk and makes them current.
func (s *SettingsStore) Save(settings *Settings) error {
	f := ini.Empty()

	g := f.Section("General")
	set := func(sec *ini.Section, key, value string) {
		if _, err := sec.NewKey(key, value); err != nil {
			s.logger.Warn("Invalid settings key", zap.String("key", key), zap.Error(err))
		}
	}
	set(g, "FontSize", formatFloat(settings.FontSize))
	set(g, "Opacity", formatFloat(ClampOpacity(settings.Opacity)))
	set(g, "ToggleHotkey", settings.ToggleHotkey)
	set(g, "InteractivityToggle", settings.InteractivityToggle)
	set(g, "UseMiddleClickAsPrimary", strconv.FormatBool(settings.UseMiddleClickAsPrimary))
	set(g, "OpenAiApiKey", settings.OpenAIAPIKey)
	set(g, "SystemPrompt", settings.SystemPrompt)
	set(g, "ActivePromptName", settings.ActivePromptName)
	set(g, "EnableTabContext", strconv.FormatBool(settings.EnableTabContext))

	w := f.Section("Window")
	set(w, "Width", formatFloat(settings.Window.Width))
	set(w, "Height", formatFloat(settings.Window.Height))
	set(w, "Left", formatFloat(settings.Window.Left))
	set(w, "Top", formatFloat(settings.Window.Top))

	t := f.Section("Tabs")
	for i, tab := range settings.OpenTabs {
		set(t, fmt.Sprintf("Tab%d", i+1), tab)
	}

	var buf bytes.Buffer
	buf.WriteString(settingsHeader)
	if _, err := f.WriteTo(&buf); err != nil {
		return errors.Wrap(err, "encode settings failed")
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return errors.Wrap(err, "create settings dir failed")
	}
	if err := os.WriteFile(s.path, buf.Bytes(), 0o644); err != nil {
		return errors.Wrap(err, "write settings file failed")
	}

	cp := *settings
	cp.Opacity = ClampOpacity(settings.Opacity)
	cp.OpenTabs = append([]string(nil), settings.OpenTabs...)
	s.mu.Lock()
	s.current = &cp
	s.mu.Unlock()
	return nil
}

// Update applies fn to a copy of the current settings and saves the result.
func (s *SettingsStore) Update(fn func(*Settings)) error {
	next := s.Current()
	fn(next)
	return s.Save(next)
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

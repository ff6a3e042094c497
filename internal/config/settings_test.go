package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestDefaultSettings(t *testing.T) {
	s := DefaultSettings()
	assert.Equal(t, 16.0, s.FontSize)
	assert.Equal(t, 0.8, s.Opacity)
	assert.Equal(t, "F9", s.ToggleHotkey)
	assert.Equal(t, "XButton2", s.InteractivityToggle)
	assert.Equal(t, "default", s.ActivePromptName)
	assert.False(t, s.EnableTabContext)
	assert.Equal(t, []string{"Anteckningar"}, s.OpenTabs)
	assert.Equal(t, WindowSettings{Width: 320, Height: 600, Left: -1, Top: -1}, s.Window)
	assert.False(t, s.Window.HasPosition())
}

func TestSettingsMissingFileWritesDefaults(t *testing.T) {
	store := NewSettingsStore(t.TempDir(), zap.NewNop())
	s := store.Load()
	assert.Equal(t, DefaultSettings(), s)

	raw, err := os.ReadFile(store.Path())
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(raw), "; RPOverlay User Settings\n"))
	assert.Contains(t, string(raw), "[Tabs]")
}

func TestSettingsRoundTrip(t *testing.T) {
	dir := t.TempDir()
	store := NewSettingsStore(dir, zap.NewNop())

	s := DefaultSettings()
	s.FontSize = 18.5
	s.ToggleHotkey = "Ctrl+Shift+O"
	s.InteractivityToggle = "MiddleClick"
	s.OpenAIAPIKey = "sk-test-123"
	s.SystemPrompt = "Var kortfattad = bra"
	s.EnableTabContext = true
	s.Window = WindowSettings{Width: 400, Height: 700, Left: 12, Top: 0}
	s.OpenTabs = []string{"a", "b", "c"}
	require.NoError(t, store.Save(s))

	got := NewSettingsStore(dir, zap.NewNop()).Load()
	assert.Equal(t, s, got)
	assert.True(t, got.Window.HasPosition())
}

func TestSettingsOpacityClamped(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, SettingsFileName)

	require.NoError(t, os.WriteFile(path, []byte("[General]\nOpacity=5\n"), 0o644))
	assert.Equal(t, 1.0, NewSettingsStore(dir, zap.NewNop()).Load().Opacity)

	require.NoError(t, os.WriteFile(path, []byte("[General]\nOpacity=0.01\n"), 0o644))
	assert.Equal(t, 0.1, NewSettingsStore(dir, zap.NewNop()).Load().Opacity)
}

func TestSettingsLegacyMouseButtonKey(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, SettingsFileName)
	require.NoError(t, os.WriteFile(path, []byte("[General]\nToggleMouseButton=XButton1\n"), 0o644))

	s := NewSettingsStore(dir, zap.NewNop()).Load()
	assert.Equal(t, "XButton1", s.InteractivityToggle)
	assert.Equal(t, "F9", s.ToggleHotkey)
}

func TestSettingsTabsOrderedByIndex(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, SettingsFileName)
	body := "; comment\n[Tabs]\nTab10=j\nTab2=b\nTab1=a\nOther=x\nTab3=\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	s := NewSettingsStore(dir, zap.NewNop()).Load()
	assert.Equal(t, []string{"a", "b", "j"}, s.OpenTabs)
}

func TestSettingsBadNumbersKeepDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, SettingsFileName)
	require.NoError(t, os.WriteFile(path, []byte("[General]\nFontSize=big\n[Window]\nWidth=wide\n"), 0o644))

	s := NewSettingsStore(dir, zap.NewNop()).Load()
	assert.Equal(t, 16.0, s.FontSize)
	assert.Equal(t, 320.0, s.Window.Width)
	assert.Equal(t, []string{"Anteckningar"}, s.OpenTabs)
}

func TestSettingsUpdate(t *testing.T) {
	store := NewSettingsStore(t.TempDir(), zap.NewNop())
	store.Load()
	require.NoError(t, store.Update(func(s *Settings) { s.Opacity = 0 }))
	assert.Equal(t, MinOpacity, store.Current().Opacity)
}

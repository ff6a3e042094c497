package hotkey

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"rpoverlay/internal/osutils"
	"rpoverlay/internal/osutils/osutilstest"
)

func newTestRegistrar() (*Registrar, *osutilstest.FakeSurface) {
	surface := osutilstest.NewFakeSurface(100, osutils.Rect{Right: 320, Bottom: 500})
	return NewRegistrar(surface, ToggleID, zap.NewNop()), surface
}

func TestRegistrarApply(t *testing.T) {
	reg, surface := newTestRegistrar()
	assert.Equal(t, "F9", reg.Hint())

	def, err := reg.Apply("Ctrl+Shift+F8")
	require.NoError(t, err)
	assert.Equal(t, "Ctrl+Shift+F8", def.String())
	assert.Equal(t, "Ctrl+Shift+F8", reg.Hint())

	mods, vk, ok := surface.Hotkey(ToggleID)
	require.True(t, ok)
	assert.Equal(t, uint32(osutils.MOD_CONTROL|osutils.MOD_SHIFT|osutils.MOD_NOREPEAT), mods)
	assert.Equal(t, uint32(0x77), vk)
}

func TestRegistrarUnregistersBeforeRegistering(t *testing.T) {
	reg, surface := newTestRegistrar()
	_, err := reg.Apply("F9")
	require.NoError(t, err)
	_, err = reg.Apply("F10")
	require.NoError(t, err)

	assert.Equal(t, []string{
		"RegisterHotKey 4097",
		"UnregisterHotKey 4097",
		"RegisterHotKey 4097",
	}, surface.Log())
}

func TestRegistrarSameHotkeyIsNoop(t *testing.T) {
	reg, surface := newTestRegistrar()
	_, _ = reg.Apply("F9")
	_, _ = reg.Apply(" f9 ")
	assert.Len(t, surface.Log(), 1)
}

func TestRegistrarMalformedFallsBackToF9(t *testing.T) {
	reg, surface := newTestRegistrar()
	def, err := reg.Apply("Ctrl++")
	require.NoError(t, err)
	assert.Equal(t, Default, def)

	_, vk, ok := surface.Hotkey(ToggleID)
	require.True(t, ok)
	assert.Equal(t, uint32(0x78), vk)
}

func TestRegistrarFailureKeepsPreviousHint(t *testing.T) {
	reg, surface := newTestRegistrar()
	_, err := reg.Apply("F7")
	require.NoError(t, err)

	surface.RefuseKey(0x79, errors.New("hotkey already registered"))
	def, err := reg.Apply("F10")
	require.Error(t, err)
	assert.Equal(t, "F7", def.String())
	assert.Equal(t, "F7", reg.Hint())
	assert.True(t, reg.Registered())

	_, vk, ok := surface.Hotkey(ToggleID)
	require.True(t, ok)
	assert.Equal(t, uint32(0x76), vk)
}

func TestRegistrarUnregister(t *testing.T) {
	reg, surface := newTestRegistrar()
	require.NoError(t, reg.Unregister())
	assert.Empty(t, surface.Log())

	_, _ = reg.Apply("F9")
	require.NoError(t, reg.Unregister())
	assert.False(t, reg.Registered())
	_, _, ok := surface.Hotkey(ToggleID)
	assert.False(t, ok)
}

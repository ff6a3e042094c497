package hotkey

import (
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rpoverlay/internal/osutils"
)

func TestParseSingleKey(t *testing.T) {
	def, ok := Parse("F9")
	require.True(t, ok)
	assert.Equal(t, ModNone, def.Modifiers)
	assert.Equal(t, "F9", def.Key)
}

func TestParseWithModifiers(t *testing.T) {
	def, ok := Parse("Ctrl+Shift+F8")
	require.True(t, ok)
	assert.True(t, def.Modifiers.Has(ModControl))
	assert.True(t, def.Modifiers.Has(ModShift))
	assert.False(t, def.Modifiers.Has(ModAlt))
	assert.Equal(t, "F8", def.Key)
}

func TestParseRejectsInvalid(t *testing.T) {
	for _, input := range []string{"", " ", "Ctrl++", "Ctrl+Alt", "A+B", "+ +"} {
		def, ok := Parse(input)
		assert.False(t, ok, "input %q", input)
		assert.Equal(t, Definition{}, def, "input %q", input)
	}
}

func TestParseAliasesAndCase(t *testing.T) {
	tests := []struct {
		input string
		want  Definition
	}{
		{"control+a", Definition{ModControl, "A"}},
		{" alt + space ", Definition{ModAlt, "SPACE"}},
		{"Win+E", Definition{ModMeta, "E"}},
		{"windows+e", Definition{ModMeta, "E"}},
		{"CMD+shift+k", Definition{ModMeta | ModShift, "K"}},
		{"F1+Ctrl", Definition{ModControl, "F1"}},
		{"Ctrl+Ctrl+F2", Definition{ModControl, "F2"}},
	}
	for _, tt := range tests {
		got, ok := Parse(tt.input)
		require.True(t, ok, tt.input)
		assert.Equal(t, tt.want, got, tt.input)
	}
}

func TestStringOrder(t *testing.T) {
	def := Definition{Modifiers: ModMeta | ModAlt | ModShift | ModControl, Key: "F8"}
	assert.Equal(t, "Ctrl+Shift+Alt+Win+F8", def.String())
	assert.Equal(t, "F9", Default.String())
}

func TestNativeModifiers(t *testing.T) {
	def := Definition{Modifiers: ModControl | ModAlt, Key: "X"}
	assert.Equal(t, uint32(osutils.MOD_CONTROL|osutils.MOD_ALT), def.Modifiers.Native())
	assert.Equal(t, uint32(osutils.MOD_SHIFT|osutils.MOD_WIN), (ModShift | ModMeta).Native())
}

func TestParseOrDefault(t *testing.T) {
	def, fellBack := ParseOrDefault("Ctrl+F10")
	assert.False(t, fellBack)
	assert.Equal(t, Definition{ModControl, "F10"}, def)

	for _, input := range []string{"", "Ctrl+", "Ctrl+NOTAKEY"} {
		def, fellBack = ParseOrDefault(input)
		assert.True(t, fellBack, input)
		assert.Equal(t, Default, def, input)
	}
}

func TestRenderParseRoundTrip(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200

	properties := gopter.NewProperties(parameters)

	properties.Property("parse(render(h)) == h", prop.ForAll(
		func(mods int, key string) bool {
			def := Definition{Modifiers: Modifier(mods), Key: strings.ToUpper(key)}
			got, ok := Parse(def.String())
			return ok && got == def
		},
		gen.IntRange(0, 15),
		gen.AlphaString().SuchThat(func(s string) bool {
			_, isModifier := modifierAliases[strings.ToUpper(s)]
			return s != "" && !isModifier
		}),
	))

	properties.Property("parse never panics", prop.ForAll(
		func(s string) bool {
			def, ok := Parse(s)
			return !ok || def.Key != ""
		},
		gen.AnyString(),
	))

	properties.TestingRun(t)
}

func TestVirtualKey(t *testing.T) {
	tests := map[string]uint16{
		"A": 0x41, "z": 0x5A, "0": 0x30, "D7": 0x37, "F1": 0x70, "F12": 0x7B,
		"F24": 0x87, "space": 0x20, "Escape": 0x1B, "numpad5": 0x65, "PageUp": 0x21,
	}
	for name, want := range tests {
		vk, ok := VirtualKey(name)
		require.True(t, ok, name)
		assert.Equal(t, want, vk, name)
	}
	_, ok := VirtualKey("HYPER")
	assert.False(t, ok)

	assert.Equal(t, "ESC", KeyName(0x1B))
	assert.Equal(t, "F9", KeyName(0x78))
	assert.Equal(t, "D", KeyName(0x44))
	assert.Equal(t, "7", KeyName(0x37))
	assert.Equal(t, "", KeyName(0xFF))
}

func TestBindingVirtualKey(t *testing.T) {
	tests := []struct {
		binding string
		vk      uint16
		ok      bool
	}{
		{"XButton2", osutils.VK_XBUTTON2, true},
		{"XButton1", osutils.VK_XBUTTON1, true},
		{"LeftClick", osutils.VK_LBUTTON, true},
		{"RightClick", osutils.VK_RBUTTON, true},
		{"MiddleClick", osutils.VK_MBUTTON, true},
		{"Ctrl+F9", 0x78, true},
		{"capslock", 0x14, true},
		{"Hyper", osutils.VK_XBUTTON2, false},
		{"", osutils.VK_XBUTTON2, false},
	}
	for _, tt := range tests {
		vk, ok := BindingVirtualKey(tt.binding)
		assert.Equal(t, tt.vk, vk, tt.binding)
		assert.Equal(t, tt.ok, ok, tt.binding)
	}
}

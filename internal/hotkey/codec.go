// Package hotkey parses, renders and registers the overlay's global
// show/hide hotkey.
package hotkey

import (
	"strings"

	"rpoverlay/internal/osutils"
)

// Modifier is a set of modifier keys.
type Modifier uint8

const (
	ModNone    Modifier = 0
	ModControl Modifier = 1 << (iota - 1)
	ModAlt
	ModShift
	ModMeta
)

// Has reports whether m contains mod.
func (m Modifier) Has(mod Modifier) bool {
	return m&mod != 0
}

// Native converts m to RegisterHotKey modifier bits.
func (m Modifier) Native() uint32 {
	var bits uint32
	if m.Has(ModAlt) {
		bits |= osutils.MOD_ALT
	}
	if m.Has(ModControl) {
		bits |= osutils.MOD_CONTROL
	}
	if m.Has(ModShift) {
		bits |= osutils.MOD_SHIFT
	}
	if m.Has(ModMeta) {
		bits |= osutils.MOD_WIN
	}
	return bits
}

// Definition is a parsed hotkey.
type Definition struct {
	Modifiers Modifier
	// Key is the upper-cased non-modifier token, never empty.
	Key string
}

// Default is used whenever the configured hotkey is unusable.
var Default = Definition{Key: "F9"}

var modifierAliases = map[string]Modifier{
	"CTRL":    ModControl,
	"CONTROL": ModControl,
	"ALT":     ModAlt,
	"SHIFT":   ModShift,
	"WIN":     ModMeta,
	"WINDOWS": ModMeta,
	"CMD":     ModMeta,
}

// Parse reads a hotkey such as "Ctrl+Shift+F8". Tokens are separated by '+',
// trimmed, and empty tokens dropped. Every modifier alias is removed and
// exactly one token must remain as the key.
func Parse(text string) (Definition, bool) {
	var tokens []string
	for _, tok := range strings.Split(text, "+") {
		if tok = strings.TrimSpace(tok); tok != "" {
			tokens = append(tokens, tok)
		}
	}
	if len(tokens) == 0 {
		return Definition{}, false
	}

	var mods Modifier
	for i := len(tokens) - 1; i >= 0; i-- {
		mod, ok := modifierAliases[strings.ToUpper(tokens[i])]
		if !ok {
			continue
		}
		mods |= mod
		tokens = append(tokens[:i], tokens[i+1:]...)
	}

	if len(tokens) != 1 {
		return Definition{}, false
	}
	return Definition{Modifiers: mods, Key: strings.ToUpper(tokens[0])}, true
}

// String renders the definition in display order: Ctrl, Shift, Alt, Win,
// then the key. Parse(d.String()) == d for any valid d.
func (d Definition) String() string {
	parts := make([]string, 0, 5)
	if d.Modifiers.Has(ModControl) {
		parts = append(parts, "Ctrl")
	}
	if d.Modifiers.Has(ModShift) {
		parts = append(parts, "Shift")
	}
	if d.Modifiers.Has(ModAlt) {
		parts = append(parts, "Alt")
	}
	if d.Modifiers.Has(ModMeta) {
		parts = append(parts, "Win")
	}
	parts = append(parts, d.Key)
	return strings.Join(parts, "+")
}

// ParseOrDefault parses text and falls back to Default. The second result
// reports whether the fallback was taken.
func ParseOrDefault(text string) (Definition, bool) {
	if strings.TrimSpace(text) == "" {
		return Default, true
	}
	def, ok := Parse(text)
	if !ok {
		return Default, true
	}
	if _, known := VirtualKey(def.Key); !known {
		return Default, true
	}
	return def, false
}

package hotkey

import (
	"fmt"
	"strings"

	"rpoverlay/internal/osutils"
)

var (
	nameToVK = map[string]uint16{
		"SPACE":       0x20,
		"ENTER":       0x0D,
		"RETURN":      0x0D,
		"ESC":         0x1B,
		"ESCAPE":      0x1B,
		"BACKSPACE":   0x08,
		"BACK":        0x08,
		"TAB":         0x09,
		"CAPSLOCK":    0x14,
		"CAPITAL":     0x14,
		"PAGEUP":      0x21,
		"PRIOR":       0x21,
		"PAGEDOWN":    0x22,
		"NEXT":        0x22,
		"END":         0x23,
		"HOME":        0x24,
		"LEFT":        0x25,
		"UP":          0x26,
		"RIGHT":       0x27,
		"DOWN":        0x28,
		"PRINTSCREEN": 0x2C,
		"SNAPSHOT":    0x2C,
		"INSERT":      0x2D,
		"DELETE":      0x2E,
		"PAUSE":       0x13,
		"SCROLLLOCK":  0x91,
		"SCROLL":      0x91,
		"NUMLOCK":     0x90,
		"OEM3":        0xC0,
		"OEMTILDE":    0xC0,
		"MULTIPLY":    0x6A,
		"ADD":         0x6B,
		"SUBTRACT":    0x6D,
		"DIVIDE":      0x6F,
	}
	vkToName = map[uint16]string{}
)

func init() {
	for c := 'A'; c <= 'Z'; c++ {
		nameToVK[string(c)] = uint16(c)
	}
	for c := '0'; c <= '9'; c++ {
		nameToVK[string(c)] = uint16(c)
		// D0..D9 is how .NET-era configs spell the digit row.
		nameToVK["D"+string(c)] = uint16(c)
		nameToVK["NUMPAD"+string(c)] = uint16(0x60 + c - '0')
	}
	for i := 1; i <= 24; i++ {
		nameToVK[fmt.Sprintf("F%d", i)] = uint16(0x6F + i)
	}

	// Prefer the first-listed spelling for reverse lookup.
	for _, name := range []string{"SPACE", "ENTER", "ESC", "BACKSPACE", "TAB", "CAPSLOCK",
		"PAGEUP", "PAGEDOWN", "END", "HOME", "LEFT", "UP", "RIGHT", "DOWN",
		"PRINTSCREEN", "INSERT", "DELETE", "PAUSE", "SCROLLLOCK", "NUMLOCK", "OEM3",
		"MULTIPLY", "ADD", "SUBTRACT", "DIVIDE"} {
		vkToName[nameToVK[name]] = name
	}
	for name, vk := range nameToVK {
		if _, ok := vkToName[vk]; !ok && !isDigitAlias(name) {
			vkToName[vk] = name
		}
	}
}

func isDigitAlias(name string) bool {
	return len(name) == 2 && name[0] == 'D' && name[1] >= '0' && name[1] <= '9'
}

// VirtualKey maps a key token (case-insensitive) to its virtual-key code.
func VirtualKey(name string) (uint16, bool) {
	vk, ok := nameToVK[strings.ToUpper(strings.TrimSpace(name))]
	return vk, ok
}

// KeyName is the inverse of VirtualKey, returning "" for unmapped codes.
func KeyName(vk uint16) string {
	return vkToName[vk]
}

// DefaultBinding is the click-through toggle used when none is configured.
const DefaultBinding = "XButton2"

var mouseBindings = map[string]uint16{
	"XBUTTON1":    osutils.VK_XBUTTON1,
	"XBUTTON2":    osutils.VK_XBUTTON2,
	"LEFTCLICK":   osutils.VK_LBUTTON,
	"RIGHTCLICK":  osutils.VK_RBUTTON,
	"MIDDLECLICK": osutils.VK_MBUTTON,
}

// BindingVirtualKey resolves the click-through toggle binding: a mouse button
// name, or a key name where any modifier prefix ("Ctrl+F9") is ignored.
// Unknown bindings resolve to XButton2 with ok=false.
func BindingVirtualKey(binding string) (uint16, bool) {
	name := strings.ToUpper(strings.TrimSpace(binding))
	if vk, ok := mouseBindings[name]; ok {
		return vk, true
	}
	if i := strings.LastIndex(name, "+"); i >= 0 {
		name = name[i+1:]
	}
	if vk, ok := VirtualKey(name); ok {
		return vk, true
	}
	return osutils.VK_XBUTTON2, false
}

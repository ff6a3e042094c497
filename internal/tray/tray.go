// Package tray provides system tray functionality using getlantern/systray.
package tray

import (
	"bytes"
	"encoding/binary"
	"sync"

	"github.com/getlantern/systray"
)

// MenuItem represents a menu item
type MenuItem struct {
	ID       int
	Title    string
	Checkbox bool
	Callback func()
	checked  bool
	item     *systray.MenuItem
	labels   *labelMenu
}

// labelMenu is a submenu whose entries are replaced at runtime. systray
// cannot remove items, so surplus entries are hidden and reused.
type labelMenu struct {
	onClick func(label string)
	labels  []string
	entries []*systray.MenuItem
}

// Tray manages the system tray icon and menu
type Tray struct {
	mu      sync.Mutex
	title   string
	tooltip string
	icon    []byte
	items   []*MenuItem
	ready   bool
	quitCh  chan struct{}
}

// New creates a tray icon showing title and tooltip.
func New(title, tooltip string) *Tray {
	return &Tray{
		title:   title,
		tooltip: tooltip,
		icon:    Icon(0x00, 0xFF, 0x00),
		quitCh:  make(chan struct{}),
	}
}

// AddMenuItem adds a menu item to the tray
func (t *Tray) AddMenuItem(title string, callback func()) int {
	return t.add(&MenuItem{Title: title, Callback: callback})
}

// AddCheckbox adds a menu item that shows a check mark. callback runs on
// click; the check mark only changes through SetItemChecked.
func (t *Tray) AddCheckbox(title string, checked bool, callback func()) int {
	return t.add(&MenuItem{Title: title, Checkbox: true, checked: checked, Callback: callback})
}

func (t *Tray) add(mi *MenuItem) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	mi.ID = len(t.items)
	t.items = append(t.items, mi)
	return mi.ID
}

// AddSeparator adds a separator to the menu
func (t *Tray) AddSeparator() {
	t.mu.Lock()
	t.items = append(t.items, nil) // nil indicates separator
	t.mu.Unlock()
}

// AddLabelMenu adds a submenu listing labels set through SetLabels.
// onClick receives the label of the clicked entry.
func (t *Tray) AddLabelMenu(title string, onClick func(label string)) int {
	return t.add(&MenuItem{Title: title, labels: &labelMenu{onClick: onClick}})
}

// SetLabels replaces the entries of a label menu. It may be called from any
// goroutine, before or after the menu exists.
func (t *Tray) SetLabels(id int, labels []string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if id < 0 || id >= len(t.items) || t.items[id] == nil || t.items[id].labels == nil {
		return
	}
	mi := t.items[id]
	mi.labels.labels = append([]string(nil), labels...)
	if mi.item != nil {
		t.syncLabels(mi)
	}
}

// syncLabels must be called with mu held after the menu exists.
func (t *Tray) syncLabels(mi *MenuItem) {
	lm := mi.labels
	for i, label := range lm.labels {
		if i < len(lm.entries) {
			lm.entries[i].SetTitle(label)
			lm.entries[i].Show()
			continue
		}
		entry := mi.item.AddSubMenuItem(label, "")
		lm.entries = append(lm.entries, entry)
		go t.watchLabel(lm, entry, i)
	}
	for _, entry := range lm.entries[len(lm.labels):] {
		entry.Hide()
	}
	if len(lm.labels) == 0 {
		mi.item.Disable()
	} else {
		mi.item.Enable()
	}
}

func (t *Tray) watchLabel(lm *labelMenu, entry *systray.MenuItem, i int) {
	for {
		select {
		case <-entry.ClickedCh:
			t.mu.Lock()
			var label string
			if i < len(lm.labels) {
				label = lm.labels[i]
			}
			t.mu.Unlock()
			if label != "" && lm.onClick != nil {
				lm.onClick(label)
			}
		case <-t.quitCh:
			return
		}
	}
}

// SetItemChecked sets the checked state of a menu item. It may be called
// from any goroutine, before or after the menu exists.
func (t *Tray) SetItemChecked(id int, checked bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if id < 0 || id >= len(t.items) || t.items[id] == nil {
		return
	}
	mi := t.items[id]
	mi.checked = checked
	if mi.item == nil {
		return
	}
	if checked {
		mi.item.Check()
	} else {
		mi.item.Uncheck()
	}
}

// SetIndicator recolours the tray icon.
func (t *Tray) SetIndicator(r, g, b uint8) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.icon = Icon(r, g, b)
	if t.ready {
		systray.SetIcon(t.icon)
	}
}

// Run starts the tray event loop (blocks)
func (t *Tray) Run() {
	systray.Run(t.setupMenu, func() { close(t.quitCh) })
}

// setupMenu is called when systray is ready
func (t *Tray) setupMenu() {
	t.mu.Lock()
	defer t.mu.Unlock()

	systray.SetTitle(t.title)
	systray.SetTooltip(t.tooltip)
	systray.SetIcon(t.icon)
	t.ready = true

	for _, mi := range t.items {
		if mi == nil {
			systray.AddSeparator()
			continue
		}
		mi.item = systray.AddMenuItem(mi.Title, "")
		if mi.labels != nil {
			t.syncLabels(mi)
			continue
		}
		if mi.Checkbox && mi.checked {
			mi.item.Check()
		}
		if mi.Callback == nil {
			continue
		}
		go func(mi *MenuItem) {
			for {
				select {
				case <-mi.item.ClickedCh:
					mi.Callback()
				case <-t.quitCh:
					return
				}
			}
		}(mi)
	}
}

// Stop stops the tray
func (t *Tray) Stop() {
	systray.Quit()
}

const iconSize = 16

// Icon returns a 16x16 32-bit ICO with a filled circle in the given colour
// on a transparent background.
func Icon(r, g, b uint8) []byte {
	const (
		headerSize = 6 + 16
		dibSize    = 40
		pixelBytes = iconSize * iconSize * 4
		maskBytes  = iconSize * 4 // 1 bpp rows padded to 32 bits
	)
	var buf bytes.Buffer
	le := func(v any) { _ = binary.Write(&buf, binary.LittleEndian, v) }

	// ICONDIR and one ICONDIRENTRY
	le([3]uint16{0, 1, 1})
	buf.Write([]byte{iconSize, iconSize, 0, 0})
	le([2]uint16{1, 32})
	le(uint32(dibSize + pixelBytes + maskBytes))
	le(uint32(headerSize))

	// BITMAPINFOHEADER; the height counts the XOR and AND masks.
	le(uint32(dibSize))
	le(int32(iconSize))
	le(int32(iconSize * 2))
	le([2]uint16{1, 32})
	le([6]uint32{0, pixelBytes, 0, 0, 0, 0})

	// Bottom-up BGRA rows.
	const c = float64(iconSize-1) / 2
	const radius = 6.5
	for y := iconSize - 1; y >= 0; y-- {
		for x := 0; x < iconSize; x++ {
			dx, dy := float64(x)-c, float64(y)-c
			if dx*dx+dy*dy <= radius*radius {
				buf.Write([]byte{b, g, r, 0xFF})
			} else {
				buf.Write([]byte{0, 0, 0, 0})
			}
		}
	}
	// The alpha channel decides transparency, so the AND mask stays clear.
	buf.Write(make([]byte, maskBytes))
	return buf.Bytes()
}

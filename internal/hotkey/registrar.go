package hotkey

import (
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"rpoverlay/internal/osutils"
)

// ToggleID is the registration id of the show/hide hotkey.
const ToggleID int32 = 0x1001

// Target is the window that receives WM_HOTKEY.
type Target interface {
	RegisterHotKey(id int32, modifiers, vk uint32) error
	UnregisterHotKey(id int32) error
}

// Registrar owns one global hotkey registration. A failed re-registration
// restores the previous working hotkey so the overlay stays reachable.
type Registrar struct {
	mu       sync.Mutex
	target   Target
	id       int32
	logger   *zap.Logger
	active   *Definition
	lastGood Definition
}

// NewRegistrar creates a registrar for id on target. Nothing is registered
// until Apply.
func NewRegistrar(target Target, id int32, logger *zap.Logger) *Registrar {
	return &Registrar{
		target:   target,
		id:       id,
		logger:   logger.Named("hotkey"),
		lastGood: Default,
	}
}

// Apply parses text and registers it. Malformed input registers Default.
// On a registration failure the previous definition is re-registered and
// the returned Definition is that previous one.
func (r *Registrar) Apply(text string) (Definition, error) {
	def, fellBack := ParseOrDefault(text)
	if fellBack && strings.TrimSpace(text) != "" {
		r.logger.Warn("Invalid hotkey, using default",
			zap.String("configured", text), zap.String("default", Default.String()))
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.active != nil && *r.active == def {
		return def, nil
	}

	prev := r.active
	if prev != nil {
		if err := r.target.UnregisterHotKey(r.id); err != nil {
			r.logger.Warn("UnregisterHotKey failed", zap.Error(err))
		}
		r.active = nil
	}

	if err := r.register(def); err != nil {
		r.logger.Warn("RegisterHotKey failed, keeping previous hotkey",
			zap.String("hotkey", def.String()), zap.Error(err))
		if prev != nil {
			if rerr := r.register(*prev); rerr != nil {
				r.logger.Error("Could not restore previous hotkey",
					zap.String("hotkey", prev.String()), zap.Error(rerr))
			}
		}
		return r.lastGood, fmt.Errorf("register hotkey %s: %w", def, err)
	}

	r.logger.Info("Registered hotkey", zap.String("hotkey", def.String()))
	return def, nil
}

// register must be called with mu held.
func (r *Registrar) register(def Definition) error {
	vk, ok := VirtualKey(def.Key)
	if !ok {
		return fmt.Errorf("unknown key %q", def.Key)
	}
	if err := r.target.RegisterHotKey(r.id, def.Modifiers.Native()|osutils.MOD_NOREPEAT, uint32(vk)); err != nil {
		return err
	}
	d := def
	r.active = &d
	r.lastGood = def
	return nil
}

// Hint is the display string of the last hotkey that registered
// successfully, or of Default before any registration.
func (r *Registrar) Hint() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastGood.String()
}

// Registered reports whether a hotkey is currently held.
func (r *Registrar) Registered() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active != nil
}

// Unregister releases the registration. It is a no-op when nothing is held.
func (r *Registrar) Unregister() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active == nil {
		return nil
	}
	r.active = nil
	return r.target.UnregisterHotKey(r.id)
}

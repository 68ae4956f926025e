package hotkey

import (
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// Chord is a set of modifiers plus exactly one key.
type Chord struct {
	modifiers map[string]bool
	keyName   string
	keyCodes  []uint16
}

// ParseChord parses "Primary+Shift+H" style strings.
func ParseChord(s string) (Chord, error) {
	c := Chord{modifiers: map[string]bool{}}
	for _, name := range parseHotkey(s) {
		if isModifier(name) {
			c.modifiers[name] = true
			continue
		}
		if c.keyName != "" {
			return Chord{}, errors.Errorf("hotkey %q has more than one non-modifier key", s)
		}
		codes := keyNameToKeycodes(name)
		if len(codes) == 0 {
			return Chord{}, errors.Errorf("hotkey %q: unknown key %q", s, name)
		}
		c.keyName, c.keyCodes = name, codes
	}
	if c.keyName == "" {
		return Chord{}, errors.Errorf("hotkey %q has no key", s)
	}
	return c, nil
}

func (c Chord) String() string {
	mods := make([]string, 0, len(c.modifiers))
	for m := range c.modifiers {
		mods = append(mods, m)
	}
	sort.Strings(mods)
	return strings.Join(append(mods, c.keyName), "+")
}

func (c Chord) isKey(keycode uint16) bool {
	for _, k := range c.keyCodes {
		if k == keycode {
			return true
		}
	}
	return false
}

// matches reports whether the held modifiers are exactly the chord's.
func (c Chord) matches(held map[string]bool) bool {
	for _, m := range modifierNames {
		if c.modifiers[m] != held[m] {
			return false
		}
	}
	return true
}

// keyState tracks which keys are down.
type keyState struct {
	down map[uint16]bool
}

func newKeyState() *keyState {
	return &keyState{down: map[uint16]bool{}}
}

// press records keycode as held and reports whether it was up before,
// so auto-repeat does not re-fire a chord.
func (k *keyState) press(keycode uint16) bool {
	if k.down[keycode] {
		return false
	}
	k.down[keycode] = true
	return true
}

func (k *keyState) release(keycode uint16) {
	delete(k.down, keycode)
}

func (k *keyState) heldModifiers() map[string]bool {
	held := map[string]bool{}
	for _, m := range modifierNames {
		for _, code := range modifierKeycodes[m] {
			if k.down[code] {
				held[m] = true
				break
			}
		}
	}
	return held
}

package hotkey

import (
	"runtime"
	"strings"

	gohook "github.com/robotn/gohook"
	"github.com/rs/zerolog/log"
)

// Modifier names after normalization.
const (
	modCtrl  = "ctrl"
	modAlt   = "alt"
	modShift = "shift"
	modCmd   = "cmd"
)

var modifierNames = []string{modCtrl, modAlt, modShift, modCmd}

// primaryModifier is what "Primary" resolves to on this platform.
var primaryModifier = platformPrimary(runtime.GOOS)

func platformPrimary(goos string) string {
	if goos == "darwin" {
		return modCmd
	}
	return modCtrl
}

func isModifier(name string) bool {
	for _, m := range modifierNames {
		if m == name {
			return true
		}
	}
	return false
}

// parseHotkey converts a hotkey string like "Primary+Shift+H" to normalized key names.
func parseHotkey(hotkeyConfig string) []string {
	parts := strings.Split(strings.ToLower(hotkeyConfig), "+")
	var keys []string
	for _, part := range parts {
		part = strings.TrimSpace(part)
		switch part {
		case "":
			continue
		case "ctrl", "control":
			keys = append(keys, modCtrl)
		case "alt", "option":
			keys = append(keys, modAlt)
		case "shift":
			keys = append(keys, modShift)
		case "win", "cmd", "super", "command", "meta":
			keys = append(keys, modCmd)
		case "primary", "cmdorctrl", "commandorcontrol":
			keys = append(keys, primaryModifier)
		default:
			keys = append(keys, part)
		}
	}
	return keys
}

// Key codes missing from gohook.Keycode, or named differently there. The
// values are the key codes gohook reports in Event.Keycode on every
// platform.
var extraKeycodes = map[string]uint16{
	"rctrl":     3613,
	"backspace": 14,
	"delete":    3667,
	"del":       3667,
	"insert":    3666,
	"ins":       3666,
	"home":      3655,
	"end":       3663,
	"pageup":    3657,
	"pgup":      3657,
	"pagedown":  3665,
	"pgdn":      3665,
	"return":    28,
	"escape":    1,
	"f13":       91,
	"f14":       92,
	"f15":       93,
	"f16":       99,
	"f17":       100,
	"f18":       101,
	"f19":       102,
	"f20":       103,
	"f21":       104,
	"f22":       105,
	"f23":       106,
	"f24":       118,
}

// modifierKeycodes lists the left and right key codes of each modifier.
var modifierKeycodes = map[string][]uint16{
	modCtrl:  {gohook.Keycode["ctrl"], extraKeycodes["rctrl"]},
	modAlt:   {gohook.Keycode["alt"], gohook.Keycode["ralt"]},
	modShift: {gohook.Keycode["shift"], gohook.Keycode["rshift"]},
	modCmd:   {gohook.Keycode["cmd"], gohook.Keycode["rcmd"]},
}

// keyNameToKeycodes maps a key name to the key codes that may report it.
func keyNameToKeycodes(keyName string) []uint16 {
	keyName = strings.ToLower(strings.TrimSpace(keyName))
	switch keyName {
	case "win", "super", "command", "meta":
		keyName = modCmd
	case "control":
		keyName = modCtrl
	case "option":
		keyName = modAlt
	}
	if codes, ok := modifierKeycodes[keyName]; ok {
		return codes
	}
	if code, ok := extraKeycodes[keyName]; ok {
		return []uint16{code}
	}
	if code, ok := gohook.Keycode[keyName]; ok {
		return []uint16{code}
	}

	log.Warn().Str("key", keyName).Msg("hotkey: unknown key name, cannot map to keycode")
	return nil
}

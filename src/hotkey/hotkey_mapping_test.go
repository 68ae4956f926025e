package hotkey

import (
	"testing"
)

func TestKeyNameToKeycodes(t *testing.T) {
	tests := []struct {
		keyName  string
		expected []uint16
	}{
		{"ctrl", []uint16{29, 3613}},
		{"control", []uint16{29, 3613}},
		{"alt", []uint16{56, 3640}},
		{"shift", []uint16{42, 54}},
		{"win", []uint16{3675, 3676}},
		{"cmd", []uint16{3675, 3676}},
		{"super", []uint16{3675, 3676}},

		{"h", []uint16{35}},
		{"j", []uint16{36}},
		{"a", []uint16{30}},
		{"z", []uint16{44}},
		{"H", []uint16{35}},

		{"0", []uint16{11}},
		{"9", []uint16{10}},

		{"f1", []uint16{59}},
		{"f12", []uint16{70}},
		{"f24", []uint16{118}},
		{"f25", nil},

		{"space", []uint16{57}},
		{"enter", []uint16{28}},
		{"esc", []uint16{1}},
		{"delete", []uint16{3667}},
		{"backspace", []uint16{14}},
		{"pgdn", []uint16{3665}},

		{"unknown", nil},
	}

	for _, tt := range tests {
		t.Run(tt.keyName, func(t *testing.T) {
			result := keyNameToKeycodes(tt.keyName)
			if len(result) != len(tt.expected) {
				t.Errorf("keyNameToKeycodes(%q) returned %d keycodes, expected %d",
					tt.keyName, len(result), len(tt.expected))
				return
			}
			for i := range result {
				if result[i] != tt.expected[i] {
					t.Errorf("keyNameToKeycodes(%q)[%d] = %d, expected %d",
						tt.keyName, i, result[i], tt.expected[i])
				}
			}
		})
	}
}

func TestParseHotkey(t *testing.T) {
	tests := []struct {
		input    string
		expected []string
	}{
		{"Ctrl+Shift+H", []string{"ctrl", "shift", "h"}},
		{"Ctrl+Shift+J", []string{"ctrl", "shift", "j"}},
		{"Primary+Shift+H", []string{primaryModifier, "shift", "h"}},
		{"CmdOrCtrl+Shift+J", []string{primaryModifier, "shift", "j"}},
		{"Alt+F4", []string{"alt", "f4"}},
		{"Ctrl+Win+E", []string{"ctrl", "cmd", "e"}},
		{"Super + Alt + T", []string{"cmd", "alt", "t"}},
		{"Ctrl++H", []string{"ctrl", "h"}},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			result := parseHotkey(tt.input)
			if len(result) != len(tt.expected) {
				t.Errorf("parseHotkey(%q) returned %d keys, expected %d",
					tt.input, len(result), len(tt.expected))
				return
			}
			for i := range result {
				if result[i] != tt.expected[i] {
					t.Errorf("parseHotkey(%q)[%d] = %q, expected %q",
						tt.input, i, result[i], tt.expected[i])
				}
			}
		})
	}
}

func TestPlatformPrimary(t *testing.T) {
	if got := platformPrimary("darwin"); got != "cmd" {
		t.Errorf("darwin primary = %q, want cmd", got)
	}
	for _, goos := range []string{"windows", "linux"} {
		if got := platformPrimary(goos); got != "ctrl" {
			t.Errorf("%s primary = %q, want ctrl", goos, got)
		}
	}
}

func TestParseChordErrors(t *testing.T) {
	for _, in := range []string{"", "Ctrl+Shift", "Ctrl+H+J", "Ctrl+Bogus"} {
		if _, err := ParseChord(in); err == nil {
			t.Errorf("ParseChord(%q) succeeded, want error", in)
		}
	}
}

package keystroke

// Linux input event codes (linux/input-event-codes.h) for the keys a
// keyboard-wedge scanner or a US keyboard produces.
const (
	evKeyEsc        = 1
	evKeyBackspace  = 14
	evKeyTab        = 15
	evKeyEnter      = 28
	evKeyLeftCtrl   = 29
	evKeyLeftShift  = 42
	evKeyRightShift = 54
	evKeyLeftAlt    = 56
	evKeyCapsLock   = 58
	evKeyKPEnter    = 96
	evKeyRightCtrl  = 97
	evKeyRightAlt   = 100
	evKeyHome       = 102
	evKeyUp         = 103
	evKeyPageUp     = 104
	evKeyLeft       = 105
	evKeyRight      = 106
	evKeyEnd        = 107
	evKeyDown       = 108
	evKeyPageDown   = 109
	evKeyInsert     = 110
	evKeyDelete     = 111
	evKeyLeftMeta   = 125
	evKeyRightMeta  = 126
)

// usLayout maps key codes to {unshifted, shifted} characters.
var usLayout = map[uint16][2]rune{
	2: {'1', '!'}, 3: {'2', '@'}, 4: {'3', '#'}, 5: {'4', '$'}, 6: {'5', '%'},
	7: {'6', '^'}, 8: {'7', '&'}, 9: {'8', '*'}, 10: {'9', '('}, 11: {'0', ')'},
	12: {'-', '_'}, 13: {'=', '+'},
	16: {'q', 'Q'}, 17: {'w', 'W'}, 18: {'e', 'E'}, 19: {'r', 'R'}, 20: {'t', 'T'},
	21: {'y', 'Y'}, 22: {'u', 'U'}, 23: {'i', 'I'}, 24: {'o', 'O'}, 25: {'p', 'P'},
	26: {'[', '{'}, 27: {']', '}'},
	30: {'a', 'A'}, 31: {'s', 'S'}, 32: {'d', 'D'}, 33: {'f', 'F'}, 34: {'g', 'G'},
	35: {'h', 'H'}, 36: {'j', 'J'}, 37: {'k', 'K'}, 38: {'l', 'L'},
	39: {';', ':'}, 40: {'\'', '"'}, 41: {'`', '~'}, 43: {'\\', '|'},
	44: {'z', 'Z'}, 45: {'x', 'X'}, 46: {'c', 'C'}, 47: {'v', 'V'}, 48: {'b', 'B'},
	49: {'n', 'N'}, 50: {'m', 'M'},
	51: {',', '<'}, 52: {'.', '>'}, 53: {'/', '?'},
	55: {'*', '*'}, 57: {' ', ' '},
	// keypad
	71: {'7', '7'}, 72: {'8', '8'}, 73: {'9', '9'}, 74: {'-', '-'},
	75: {'4', '4'}, 76: {'5', '5'}, 77: {'6', '6'}, 78: {'+', '+'},
	79: {'1', '1'}, 80: {'2', '2'}, 81: {'3', '3'}, 82: {'0', '0'}, 83: {'.', '.'},
	98: {'/', '/'},
}

var namedKeys = map[uint16]string{
	evKeyEsc:        KeyEscape,
	evKeyBackspace:  KeyBackspace,
	evKeyTab:        KeyTab,
	evKeyEnter:      KeyEnter,
	evKeyKPEnter:    KeyEnter,
	evKeyLeftCtrl:   KeyControl,
	evKeyRightCtrl:  KeyControl,
	evKeyLeftShift:  KeyShift,
	evKeyRightShift: KeyShift,
	evKeyLeftAlt:    KeyAlt,
	evKeyRightAlt:   KeyAlt,
	evKeyLeftMeta:   KeyMeta,
	evKeyRightMeta:  KeyMeta,
	evKeyCapsLock:   KeyCapsLock,
	evKeyHome:       KeyHome,
	evKeyUp:         KeyUp,
	evKeyPageUp:     KeyPageUp,
	evKeyLeft:       KeyLeft,
	evKeyRight:      KeyRight,
	evKeyEnd:        KeyEnd,
	evKeyDown:       KeyDown,
	evKeyPageDown:   KeyPageDown,
	evKeyInsert:     KeyInsert,
	evKeyDelete:     KeyDelete,
}

// ModifierState tracks shift and caps lock across evdev events.
type ModifierState struct {
	leftShift  bool
	rightShift bool
	capsLock   bool
}

// Update applies a key press (value 1) or release (value 0) to the state.
func (m *ModifierState) Update(code uint16, value int32) {
	switch code {
	case evKeyLeftShift:
		m.leftShift = value != 0
	case evKeyRightShift:
		m.rightShift = value != 0
	case evKeyCapsLock:
		if value == 1 {
			m.capsLock = !m.capsLock
		}
	}
}

// Shift reports whether either shift key is held.
func (m *ModifierState) Shift() bool {
	return m.leftShift || m.rightShift
}

// KeyFromEvdev translates an evdev key code into a key name using the US
// layout. Letters honour caps lock; other characters only honour shift.
func KeyFromEvdev(code uint16, m *ModifierState) string {
	if name, ok := namedKeys[code]; ok {
		return name
	}
	if code >= 59 && code <= 68 {
		return functionKeyNames[code-59]
	}
	if code == 87 || code == 88 {
		return functionKeyNames[code-87+10]
	}

	pair, ok := usLayout[code]
	if !ok {
		return KeyUnknown
	}

	shift := m != nil && m.Shift()
	if m != nil && m.capsLock && pair[0] >= 'a' && pair[0] <= 'z' {
		shift = !shift
	}
	if shift {
		return string(pair[1])
	}
	return string(pair[0])
}

var functionKeyNames = [12]string{"F1", "F2", "F3", "F4", "F5", "F6", "F7", "F8", "F9", "F10", "F11", "F12"}

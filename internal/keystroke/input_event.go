package keystroke

import (
	"time"
	"unicode"
	"unicode/utf8"
)

// InputType categorizes different types of keyboard input.
type InputType int

const (
	InputTypeUnknown    InputType = iota
	InputTypeCharacter            // Single printable character
	InputTypeBackspace            // Backspace/Delete backward
	InputTypeDelete               // Delete forward
	InputTypeNavigation           // Arrow keys, Home, End, Page Up/Down
	InputTypeModifier             // Shift, Ctrl, Alt, Meta
	InputTypeFunction             // F1-F12
	InputTypeReturn               // Enter/Return
	InputTypeTab                  // Tab
	InputTypeEscape               // Escape
)

// String returns the input type name.
func (t InputType) String() string {
	switch t {
	case InputTypeCharacter:
		return "character"
	case InputTypeBackspace:
		return "backspace"
	case InputTypeDelete:
		return "delete"
	case InputTypeNavigation:
		return "navigation"
	case InputTypeModifier:
		return "modifier"
	case InputTypeFunction:
		return "function"
	case InputTypeReturn:
		return "return"
	case InputTypeTab:
		return "tab"
	case InputTypeEscape:
		return "escape"
	default:
		return "unknown"
	}
}

// InputSource indicates which backend produced the event.
type InputSource int

const (
	SourceUnknown InputSource = iota
	SourceEvdev
	SourceTerminal
	SourceSimulated
)

// String returns the source name.
func (s InputSource) String() string {
	switch s {
	case SourceEvdev:
		return "evdev"
	case SourceTerminal:
		return "terminal"
	case SourceSimulated:
		return "simulated"
	default:
		return "unknown"
	}
}

// Key names for non-character keys. Names follow the DOM KeyboardEvent.key
// convention so printable keys are exactly one character long.
const (
	KeyEnter     = "Enter"
	KeyTab       = "Tab"
	KeyBackspace = "Backspace"
	KeyDelete    = "Delete"
	KeyEscape    = "Escape"
	KeyShift     = "Shift"
	KeyControl   = "Control"
	KeyAlt       = "Alt"
	KeyMeta      = "Meta"
	KeyCapsLock  = "CapsLock"
	KeyUp        = "ArrowUp"
	KeyDown      = "ArrowDown"
	KeyLeft      = "ArrowLeft"
	KeyRight     = "ArrowRight"
	KeyHome      = "Home"
	KeyEnd       = "End"
	KeyPageUp    = "PageUp"
	KeyPageDown  = "PageDown"
	KeyInsert    = "Insert"
	KeyUnknown   = "Unidentified"
)

// TargetKind describes the focused element an event was delivered to.
type TargetKind int

const (
	TargetNone     TargetKind = iota // nothing focused / document body
	TargetInput                      // single-line text input
	TargetTextArea                   // multi-line text entry
	TargetSelect                     // option picker
	TargetOther                      // any other focusable element
)

// String returns the target kind name.
func (k TargetKind) String() string {
	switch k {
	case TargetInput:
		return "input"
	case TargetTextArea:
		return "textarea"
	case TargetSelect:
		return "select"
	case TargetOther:
		return "other"
	default:
		return "none"
	}
}

// Target describes where keyboard focus was when the event fired.
type Target struct {
	Kind TargetKind `json:"kind"`

	// Exempt marks an input that opted into scan capture (e.g. a field
	// flagged as a scanner field). Exempt inputs are not treated as text
	// entry.
	Exempt bool `json:"exempt,omitempty"`

	// Name is a free-form label such as a window class.
	Name string `json:"name,omitempty"`
}

// IsTextEntry reports whether keystrokes for this target belong to a
// visible control and must not be captured.
func (t Target) IsTextEntry() bool {
	switch t.Kind {
	case TargetInput:
		return !t.Exempt
	case TargetTextArea, TargetSelect:
		return true
	default:
		return false
	}
}

// KeyEvent represents a single key press.
type KeyEvent struct {
	Key       string      `json:"key"`
	Code      uint16      `json:"code,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	Target    Target      `json:"target"`
	Source    InputSource `json:"source"`

	consumed bool
}

// Consume marks the event as handled so the source suppresses its default
// action where the backend supports it.
func (e *KeyEvent) Consume() {
	e.consumed = true
}

// Consumed reports whether a handler consumed the event.
func (e *KeyEvent) Consumed() bool {
	return e.consumed
}

// Type classifies the event's key.
func (e *KeyEvent) Type() InputType {
	return ClassifyKey(e.Key)
}

// Rune returns the character for InputTypeCharacter events.
func (e *KeyEvent) Rune() (rune, bool) {
	if ClassifyKey(e.Key) != InputTypeCharacter {
		return 0, false
	}
	r, _ := utf8.DecodeRuneInString(e.Key)
	return r, true
}

// ClassifyKey converts a key name to an InputType. A key is a character
// only when it is a single printable rune.
func ClassifyKey(key string) InputType {
	switch key {
	case KeyEnter:
		return InputTypeReturn
	case KeyTab:
		return InputTypeTab
	case KeyBackspace:
		return InputTypeBackspace
	case KeyDelete:
		return InputTypeDelete
	case KeyEscape:
		return InputTypeEscape
	case KeyShift, KeyControl, KeyAlt, KeyMeta, KeyCapsLock:
		return InputTypeModifier
	case KeyUp, KeyDown, KeyLeft, KeyRight, KeyHome, KeyEnd, KeyPageUp, KeyPageDown, KeyInsert:
		return InputTypeNavigation
	}

	if len(key) > 1 && key[0] == 'F' {
		if _, ok := functionKeys[key]; ok {
			return InputTypeFunction
		}
	}

	if utf8.RuneCountInString(key) == 1 {
		r, _ := utf8.DecodeRuneInString(key)
		if r != utf8.RuneError && unicode.IsPrint(r) {
			return InputTypeCharacter
		}
	}
	return InputTypeUnknown
}

var functionKeys = map[string]struct{}{
	"F1": {}, "F2": {}, "F3": {}, "F4": {}, "F5": {}, "F6": {},
	"F7": {}, "F8": {}, "F9": {}, "F10": {}, "F11": {}, "F12": {},
}

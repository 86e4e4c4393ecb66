package keystroke

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestStaticFocus(t *testing.T) {
	var zero StaticFocus
	if zero.Focused().Kind != TargetNone {
		t.Error("zero StaticFocus should report none")
	}
	f := StaticFocus{Kind: TargetTextArea}
	if f.Focused().Kind != TargetTextArea {
		t.Error("StaticFocus should report its target")
	}
}

func TestWindowFocusClassify(t *testing.T) {
	class := ""
	var lookupErr error
	w := NewWindowFocus(WindowFocusConfig{
		TextEntryClasses: []string{"gnome-terminal", "Code"},
		ExemptClasses:    []string{"Inventory"},
		Lookup: func(context.Context) (string, error) {
			return class, lookupErr
		},
	})

	tests := []struct {
		class  string
		err    error
		kind   TargetKind
		exempt bool
	}{
		{"Gnome-terminal", nil, TargetInput, false},
		{"code", nil, TargetInput, false},
		{"inventory", nil, TargetInput, true},
		{"firefox", nil, TargetOther, false},
		{"", nil, TargetNone, false},
		{"anything", errors.New("no display"), TargetNone, false},
	}

	for _, tt := range tests {
		class, lookupErr = tt.class, tt.err
		got := w.Focused()
		if got.Kind != tt.kind || got.Exempt != tt.exempt {
			t.Errorf("class %q: got %+v, want kind=%v exempt=%v", tt.class, got, tt.kind, tt.exempt)
		}
		if got.IsTextEntry() != (tt.kind == TargetInput && !tt.exempt) {
			t.Errorf("class %q: unexpected IsTextEntry", tt.class)
		}
	}
}

func TestWindowFocusCache(t *testing.T) {
	calls := 0
	w := NewWindowFocus(WindowFocusConfig{
		CacheTTL: 100 * time.Millisecond,
		Lookup: func(context.Context) (string, error) {
			calls++
			return "firefox", nil
		},
	})
	now := time.Unix(1000, 0)
	w.now = func() time.Time { return now }

	w.Focused()
	w.Focused()
	if calls != 1 {
		t.Errorf("expected 1 lookup within TTL, got %d", calls)
	}

	now = now.Add(150 * time.Millisecond)
	w.Focused()
	if calls != 2 {
		t.Errorf("expected refresh after TTL, got %d lookups", calls)
	}
}

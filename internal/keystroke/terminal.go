package keystroke

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"
	"unicode/utf8"

	"golang.org/x/term"
)

// KeyInterrupt is emitted for Ctrl-C while the terminal is in raw mode.
const KeyInterrupt = "Interrupt"

// stopGrace bounds how long stopReader waits for a blocked Read.
const stopGrace = 250 * time.Millisecond

// TerminalSource reads keys from a terminal in raw mode. A USB scanner
// typing into the terminal shows up here exactly like it would in a
// focused application window.
type TerminalSource struct {
	BaseSource

	in  *os.File
	log *slog.Logger

	runMu    sync.Mutex
	running  bool
	rc       io.ReadCloser
	oldState *term.State
	done     chan struct{}
}

// NewTerminalSource creates a source reading from in (usually os.Stdin).
func NewTerminalSource(in *os.File, logger *slog.Logger) *TerminalSource {
	if logger == nil {
		logger = slog.Default()
	}
	s := &TerminalSource{in: in, log: logger}
	s.onEmpty = func() { s.stopReader(false) }
	return s
}

// Available reports whether in is an interactive terminal.
func (s *TerminalSource) Available() (bool, string) {
	if s.in == nil {
		return false, "no input file"
	}
	if !term.IsTerminal(int(s.in.Fd())) {
		return true, "input is not a terminal; reading cooked bytes"
	}
	return true, "terminal input"
}

// Subscribe attaches h and puts the terminal into raw mode if needed.
func (s *TerminalSource) Subscribe(h Handler) (func(), error) {
	detach, err := s.BaseSource.Subscribe(h)
	if err != nil {
		return nil, err
	}
	if err := s.startReader(); err != nil {
		detach()
		return nil, err
	}
	return detach, nil
}

// Close restores the terminal and detaches every handler.
func (s *TerminalSource) Close() error {
	s.CloseHandlers()
	s.stopReader(true)
	return nil
}

func (s *TerminalSource) startReader() error {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	if s.running {
		return nil
	}
	if s.in == nil {
		return ErrNotAvailable
	}

	fd := int(s.in.Fd())
	if term.IsTerminal(fd) {
		state, err := term.MakeRaw(fd)
		if err != nil {
			return errors.Join(ErrNotAvailable, err)
		}
		s.oldState = state
	}

	rc, err := openInterruptible(s.in)
	if err != nil {
		s.restoreLocked()
		return errors.Join(ErrNotAvailable, err)
	}

	s.rc = rc
	s.done = make(chan struct{})
	s.running = true
	go s.readLoop(rc, s.done)
	return nil
}

// stopReader closes the reader and restores the terminal. When wait is
// set it also gives the read goroutine a grace period to exit; detaching
// from inside a handler must not wait on its own goroutine.
func (s *TerminalSource) stopReader(wait bool) {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	if !s.running {
		return
	}
	s.running = false
	s.rc.Close()
	if wait {
		select {
		case <-s.done:
		case <-time.After(stopGrace):
			s.log.Debug("terminal reader still blocked after close")
		}
	}
	s.restoreLocked()
}

func (s *TerminalSource) restoreLocked() {
	if s.oldState != nil {
		if err := term.Restore(int(s.in.Fd()), s.oldState); err != nil {
			s.log.Warn("restore terminal", "error", err)
		}
		s.oldState = nil
	}
}

func (s *TerminalSource) readLoop(r io.Reader, done chan<- struct{}) {
	defer close(done)

	var dec TerminalDecoder
	buf := make([]byte, 256)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			now := time.Now()
			for _, key := range dec.Feed(buf[:n]) {
				s.Dispatch(&KeyEvent{Key: key, Timestamp: now, Source: SourceTerminal})
			}
		}
		if err != nil {
			if !errors.Is(err, os.ErrClosed) && !errors.Is(err, io.EOF) {
				s.log.Debug("terminal read ended", "error", err)
			}
			return
		}
	}
}

// TerminalDecoder turns raw terminal bytes into key names. It keeps
// incomplete UTF-8 and escape sequences between Feed calls.
type TerminalDecoder struct {
	pending []byte
	lastCR  bool
}

// Feed decodes p and returns the keys it completes.
func (d *TerminalDecoder) Feed(p []byte) []string {
	data := append(d.pending, p...)
	d.pending = nil

	var keys []string
	for i := 0; i < len(data); {
		b := data[i]
		cr := false

		switch {
		case b == '\r':
			keys = append(keys, KeyEnter)
			cr = true
			i++
		case b == '\n':
			if !d.lastCR {
				keys = append(keys, KeyEnter)
			}
			i++
		case b == '\t':
			keys = append(keys, KeyTab)
			i++
		case b == 0x7f || b == 0x08:
			keys = append(keys, KeyBackspace)
			i++
		case b == 0x03:
			keys = append(keys, KeyInterrupt)
			i++
		case b == 0x1b:
			key, size, complete := decodeEscape(data[i:])
			if !complete {
				d.pending = append([]byte(nil), data[i:]...)
				return keys
			}
			keys = append(keys, key)
			i += size
		case b < 0x20:
			i++
		default:
			if !utf8.FullRune(data[i:]) {
				d.pending = append([]byte(nil), data[i:]...)
				return keys
			}
			r, size := utf8.DecodeRune(data[i:])
			if r != utf8.RuneError {
				keys = append(keys, string(r))
			}
			i += size
		}
		d.lastCR = cr
	}
	return keys
}

// decodeEscape decodes a CSI sequence starting at data[0] == ESC. A lone
// ESC is reported as Escape.
func decodeEscape(data []byte) (key string, size int, complete bool) {
	if len(data) == 1 {
		return KeyEscape, 1, true
	}
	if data[1] != '[' && data[1] != 'O' {
		return KeyEscape, 1, true
	}
	for j := 2; j < len(data); j++ {
		c := data[j]
		if c >= 0x40 && c <= 0x7e {
			return csiKey(data[2:j], c), j + 1, true
		}
	}
	return "", 0, false
}

func csiKey(params []byte, final byte) string {
	switch final {
	case 'A':
		return KeyUp
	case 'B':
		return KeyDown
	case 'C':
		return KeyRight
	case 'D':
		return KeyLeft
	case 'H':
		return KeyHome
	case 'F':
		return KeyEnd
	case '~':
		switch string(params) {
		case "2":
			return KeyInsert
		case "3":
			return KeyDelete
		case "5":
			return KeyPageUp
		case "6":
			return KeyPageDown
		}
	}
	return KeyUnknown
}

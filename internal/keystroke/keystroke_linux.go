//go:build linux

package keystroke

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

// EvdevSource reads key presses from Linux /dev/input event devices.
// Devices are opened when the first handler subscribes and closed when the
// last one detaches.
type EvdevSource struct {
	BaseSource

	devices []string
	focus   FocusProvider
	log     *slog.Logger

	runMu   sync.Mutex
	running bool
	live    int
	stop    chan struct{}
	wg      sync.WaitGroup
}

// NewEvdevSource creates an evdev source. An empty device list means
// auto-discover keyboards from /proc/bus/input/devices.
func NewEvdevSource(devices []string, focus FocusProvider, logger *slog.Logger) *EvdevSource {
	if focus == nil {
		focus = StaticFocus{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &EvdevSource{
		devices: devices,
		focus:   focus,
		log:     logger,
	}
	s.onEmpty = func() { s.stopReaders(false) }
	return s
}

// NewPlatformSource returns the native capture backend for this platform.
func NewPlatformSource(devices []string, focus FocusProvider, logger *slog.Logger) Source {
	return NewEvdevSource(devices, focus, logger)
}

// Available checks if we can read input devices.
func (s *EvdevSource) Available() (bool, string) {
	devices, err := s.resolveDevices()
	if err != nil {
		return false, fmt.Sprintf("cannot find keyboard devices: %v", err)
	}
	if len(devices) == 0 {
		return false, "no keyboard devices found"
	}

	for _, dev := range devices {
		fd, err := unix.Open(dev, unix.O_RDONLY|unix.O_CLOEXEC, 0)
		if err == nil {
			unix.Close(fd)
			return true, fmt.Sprintf("found keyboard device: %s", dev)
		}
	}

	return false, "cannot read keyboard devices (need to be in 'input' group or run as root)"
}

// Subscribe attaches h, starting the device readers if needed.
func (s *EvdevSource) Subscribe(h Handler) (func(), error) {
	detach, err := s.BaseSource.Subscribe(h)
	if err != nil {
		return nil, err
	}
	if err := s.startReaders(); err != nil {
		detach()
		return nil, err
	}
	return detach, nil
}

// Close stops all readers and detaches every handler.
func (s *EvdevSource) Close() error {
	s.CloseHandlers()
	s.stopReaders(true)
	return nil
}

func (s *EvdevSource) resolveDevices() ([]string, error) {
	if len(s.devices) > 0 {
		return s.devices, nil
	}
	return findKeyboardDevices()
}

func (s *EvdevSource) startReaders() error {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	if s.running {
		return nil
	}

	devices, err := s.resolveDevices()
	if err != nil || len(devices) == 0 {
		return ErrNotAvailable
	}

	var fds []int
	for _, dev := range devices {
		fd, err := unix.Open(dev, unix.O_RDONLY|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
		if err != nil {
			s.log.Debug("skip input device", "device", dev, "error", err)
			continue
		}
		fds = append(fds, fd)
	}
	if len(fds) == 0 {
		return ErrPermissionDenied
	}

	s.stop = make(chan struct{})
	s.running = true
	s.live = len(fds)
	for _, fd := range fds {
		s.wg.Add(1)
		go s.readLoop(fd, s.stop)
	}
	s.log.Info("evdev capture started", "devices", len(fds))
	return nil
}

// stopReaders signals every reader to exit. The last handler may detach
// from inside a handler running on a reader goroutine, so only Close waits
// for the readers to finish.
func (s *EvdevSource) stopReaders(wait bool) {
	s.runMu.Lock()
	if s.running {
		close(s.stop)
		s.running = false
		s.log.Info("evdev capture stopped")
	}
	s.runMu.Unlock()

	if wait {
		s.wg.Wait()
	}
}

var (
	timevalSize = int(unsafe.Sizeof(unix.Timeval{}))
	eventSize   = timevalSize + 8
)

const (
	evKey     = 1
	keyPress  = 1
	keyRepeat = 2
)

// pollTimeoutMs bounds how long a reader waits before re-checking stop.
const pollTimeoutMs = 100

func (s *EvdevSource) readLoop(fd int, stop chan struct{}) {
	defer s.wg.Done()
	s.readDevice(fd, stop)
	unix.Close(fd)
	s.readerExited(stop)
}

// readerExited marks the source stopped when the last reader of the
// current run exits without being asked to, so the next Subscribe
// reopens the devices.
func (s *EvdevSource) readerExited(stop chan struct{}) {
	s.runMu.Lock()
	if s.stop == stop {
		s.live--
	}
	lost := s.running && s.stop == stop && s.live == 0
	if lost {
		s.running = false
	}
	s.runMu.Unlock()

	if lost {
		s.log.Warn("all input devices closed, capture stopped")
		s.NotifyLost("all input devices closed")
	}
}

func (s *EvdevSource) readDevice(fd int, stop <-chan struct{}) {
	var mods ModifierState
	buf := make([]byte, eventSize*64)
	fds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}

	for {
		select {
		case <-stop:
			return
		default:
		}

		n, err := unix.Poll(fds, pollTimeoutMs)
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			s.log.Warn("poll input device", "error", err)
			return
		}
		if n == 0 {
			continue
		}
		if fds[0].Revents&(unix.POLLERR|unix.POLLHUP|unix.POLLNVAL) != 0 {
			s.log.Warn("input device went away")
			return
		}

		read, err := unix.Read(fd, buf)
		if err != nil {
			if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EINTR) {
				continue
			}
			s.log.Warn("read input device", "error", err)
			return
		}
		if read == 0 {
			s.log.Warn("input device closed")
			return
		}

		for off := 0; off+eventSize <= read; off += eventSize {
			s.handleRaw(buf[off:off+eventSize], &mods)
		}
	}
}

// handleRaw decodes one struct input_event.
func (s *EvdevSource) handleRaw(raw []byte, mods *ModifierState) {
	typ, code, value, ts := decodeInputEvent(raw)
	if typ != evKey {
		return
	}

	mods.Update(code, value)
	if value != keyPress {
		// releases and autorepeat never come from a scanner burst
		return
	}

	ev := &KeyEvent{
		Key:       KeyFromEvdev(code, mods),
		Code:      code,
		Timestamp: ts,
		Target:    s.focus.Focused(),
		Source:    SourceEvdev,
	}
	s.Dispatch(ev)
}

func decodeInputEvent(raw []byte) (typ, code uint16, value int32, ts time.Time) {
	var sec, usec int64
	if timevalSize == 16 {
		sec = int64(binary.LittleEndian.Uint64(raw[0:8]))
		usec = int64(binary.LittleEndian.Uint64(raw[8:16]))
	} else {
		sec = int64(int32(binary.LittleEndian.Uint32(raw[0:4])))
		usec = int64(int32(binary.LittleEndian.Uint32(raw[4:8])))
	}
	typ = binary.LittleEndian.Uint16(raw[timevalSize : timevalSize+2])
	code = binary.LittleEndian.Uint16(raw[timevalSize+2 : timevalSize+4])
	value = int32(binary.LittleEndian.Uint32(raw[timevalSize+4 : timevalSize+8]))
	ts = time.Unix(sec, usec*1000)
	return
}

// findKeyboardDevices finds /dev/input devices that are keyboards.
func findKeyboardDevices() ([]string, error) {
	f, err := os.Open("/proc/bus/input/devices")
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return parseInputDevices(bufio.NewScanner(f)), nil
}

// parseInputDevices reads the /proc/bus/input/devices format. A device is a
// keyboard when its handlers include "kbd" and it has an event node.
func parseInputDevices(scanner *bufio.Scanner) []string {
	var devices []string
	seen := make(map[string]bool)

	var handler string
	isKeyboard := false
	flush := func() {
		if isKeyboard && handler != "" && !seen[handler] {
			seen[handler] = true
			devices = append(devices, handler)
		}
		handler = ""
		isKeyboard = false
	}

	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "H: Handlers=") {
			for _, part := range strings.Fields(strings.TrimPrefix(line, "H: Handlers=")) {
				if part == "kbd" {
					isKeyboard = true
				}
				if strings.HasPrefix(part, "event") {
					handler = filepath.Join("/dev/input", part)
				}
			}
		}
		if line == "" {
			flush()
		}
	}
	flush()

	return devices
}

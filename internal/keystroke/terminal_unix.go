//go:build unix

package keystroke

import (
	"io"
	"os"

	"golang.org/x/sys/unix"
)

// openInterruptible duplicates in's descriptor in non-blocking mode so the
// runtime poller owns it and Close unblocks a pending Read.
func openInterruptible(in *os.File) (io.ReadCloser, error) {
	fd, err := unix.Dup(int(in.Fd()))
	if err != nil {
		return nil, err
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return nil, err
	}
	return &nonblockFile{File: os.NewFile(uintptr(fd), in.Name()), fd: fd}, nil
}

// nonblockFile clears O_NONBLOCK on close; the flag lives on the shared
// open file description and would otherwise leak into the parent shell.
type nonblockFile struct {
	*os.File
	fd int
}

func (f *nonblockFile) Close() error {
	_ = unix.SetNonblock(f.fd, false)
	return f.File.Close()
}

package logging

import (
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
)

// RotateConfig configures a FileRotator.
type RotateConfig struct {
	Path string

	// MaxBytes triggers rotation when the next write would exceed it.
	// Zero disables rotation.
	MaxBytes int64

	// MaxBackups is how many rotated files (path.1 ... path.N) are kept.
	MaxBackups int

	// Compress gzips rotated files (path.1.gz ...).
	Compress bool
}

// FileRotator is an io.Writer that rotates its file by size. The newest
// backup is path.1; older backups shift up and the oldest is dropped.
type FileRotator struct {
	cfg  RotateConfig
	mu   sync.Mutex
	file *os.File
	size int64
}

// NewFileRotator opens (or creates) cfg.Path for appending.
func NewFileRotator(cfg RotateConfig) (*FileRotator, error) {
	if cfg.Path == "" {
		return nil, errors.New("log file path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0750); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}

	r := &FileRotator{cfg: cfg}
	if err := r.openFile(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *FileRotator) openFile() error {
	file, err := os.OpenFile(r.cfg.Path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0640)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return fmt.Errorf("stat log file: %w", err)
	}

	r.file = file
	r.size = info.Size()
	return nil
}

// Write implements io.Writer.
func (r *FileRotator) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.file == nil {
		if err := r.openFile(); err != nil {
			return 0, err
		}
	}

	if r.cfg.MaxBytes > 0 && r.size > 0 && r.size+int64(len(p)) > r.cfg.MaxBytes {
		if err := r.rotate(); err != nil {
			return 0, fmt.Errorf("rotate log: %w", err)
		}
	}

	n, err := r.file.Write(p)
	r.size += int64(n)
	return n, err
}

func (r *FileRotator) backupName(i int) string {
	name := fmt.Sprintf("%s.%d", r.cfg.Path, i)
	if r.cfg.Compress {
		name += ".gz"
	}
	return name
}

// rotate shifts backups and reopens an empty file.
func (r *FileRotator) rotate() error {
	if err := r.file.Close(); err != nil {
		return fmt.Errorf("close current log: %w", err)
	}
	r.file = nil

	if r.cfg.MaxBackups <= 0 {
		if err := os.Remove(r.cfg.Path); err != nil && !os.IsNotExist(err) {
			return err
		}
		return r.openFile()
	}

	os.Remove(r.backupName(r.cfg.MaxBackups))
	for i := r.cfg.MaxBackups - 1; i >= 1; i-- {
		if err := os.Rename(r.backupName(i), r.backupName(i+1)); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("shift backup: %w", err)
		}
	}

	if r.cfg.Compress {
		if err := compressFile(r.cfg.Path, r.backupName(1)); err != nil {
			return err
		}
	} else if err := os.Rename(r.cfg.Path, r.backupName(1)); err != nil {
		return fmt.Errorf("rename log file: %w", err)
	}

	return r.openFile()
}

// compressFile gzips src into dst and removes src.
func compressFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}

	gz := gzip.NewWriter(out)
	gz.Name = filepath.Base(src)
	if _, err := io.Copy(gz, in); err != nil {
		gz.Close()
		out.Close()
		os.Remove(dst)
		return fmt.Errorf("compress log: %w", err)
	}
	if err := gz.Close(); err != nil {
		out.Close()
		os.Remove(dst)
		return fmt.Errorf("compress log: %w", err)
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Remove(src)
}

// Close closes the underlying file.
func (r *FileRotator) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.file != nil {
		err := r.file.Close()
		r.file = nil
		return err
	}
	return nil
}

// Sync flushes the file to disk.
func (r *FileRotator) Sync() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.file != nil {
		return r.file.Sync()
	}
	return nil
}

// Files returns the current file followed by existing backups, newest first.
func (r *FileRotator) Files() []string {
	files := []string{r.cfg.Path}
	for i := 1; i <= r.cfg.MaxBackups; i++ {
		if _, err := os.Stat(r.backupName(i)); err == nil {
			files = append(files, r.backupName(i))
		}
	}
	return files
}

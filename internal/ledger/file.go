package ledger

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// FileBackend keeps the ledger as a single JSON document on disk.
type FileBackend struct {
	Path string

	lock *flock.Flock
}

// NewFileBackend returns a backend storing the ledger at path. Writers in
// other processes are excluded through "<path>.lock".
func NewFileBackend(path string) *FileBackend {
	return &FileBackend{Path: path, lock: flock.New(path + ".lock")}
}

// Lock takes the exclusive inter-process lock, creating the directory if
// needed.
func (b *FileBackend) Lock() (unlock func() error, err error) {
	return lockFile(b.lock)
}

// Read returns the stored document, or nil if none was written yet.
func (b *FileBackend) Read() ([]byte, error) {
	data, err := os.ReadFile(b.Path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("storage error reading %s: %w", b.Path, err)
	}
	return data, nil
}

// Write atomically replaces the stored document.
func (b *FileBackend) Write(data []byte) error {
	dir := filepath.Dir(b.Path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("storage error creating directories: %w", err)
	}

	// Atomic write: write to a unique temp file in the same directory, then rename.
	tmp, err := os.CreateTemp(dir, filepath.Base(b.Path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("storage error creating temp file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("storage error writing temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("storage error syncing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("storage error closing temp file: %w", err)
	}
	if err := os.Rename(tmpPath, b.Path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("storage error renaming temp file: %w", err)
	}
	return nil
}

// Quarantine moves an unreadable document aside so the next write starts
// fresh without destroying it.
func (b *FileBackend) Quarantine() (string, error) {
	backupPath := b.Path + ".corrupt"
	if err := os.Rename(b.Path, backupPath); err != nil {
		return "", fmt.Errorf("storage error backing up %s: %w", b.Path, err)
	}
	return backupPath, nil
}

// Close is a no-op for files.
func (b *FileBackend) Close() error { return nil }

// lockFile blocks until the exclusive lock is held.
func lockFile(l *flock.Flock) (func() error, error) {
	if err := os.MkdirAll(filepath.Dir(l.Path()), 0o700); err != nil {
		return nil, fmt.Errorf("storage error creating directories: %w", err)
	}
	if err := l.Lock(); err != nil {
		return nil, fmt.Errorf("storage error locking %s: %w", l.Path(), err)
	}
	return l.Unlock, nil
}

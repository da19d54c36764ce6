package storage

import (
	"fmt"
	"os"
	"path/filepath"
)

// partSuffix marks a destination file that is still being received.
const partSuffix = ".part"

// FileSink writes the received stream to its destination path. Data goes to
// a hidden part file that is renamed into place only on Commit, so the
// destination exists only when the whole stream arrived.
type FileSink struct {
	path    string
	tmpPath string
	file    *os.File
	written int64
}

// Create opens a sink for path, creating the parent directory if needed.
func Create(path string) (*FileSink, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create destination directory: %w", err)
	}

	tmpPath := filepath.Join(dir, "."+filepath.Base(path)+partSuffix)
	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open destination file: %w", err)
	}

	return &FileSink{
		path:    path,
		tmpPath: tmpPath,
		file:    f,
	}, nil
}

func (s *FileSink) Write(p []byte) (int, error) {
	n, err := s.file.Write(p)
	s.written += int64(n)
	return n, err
}

// Written returns the number of bytes written so far.
func (s *FileSink) Written() int64 {
	return s.written
}

// Path returns the final destination path.
func (s *FileSink) Path() string {
	return s.path
}

// Commit flushes the file to disk and moves it to its destination.
func (s *FileSink) Commit() error {
	if err := s.file.Sync(); err != nil {
		s.Abort()
		return fmt.Errorf("failed to sync destination file: %w", err)
	}
	if err := s.file.Close(); err != nil {
		os.Remove(s.tmpPath)
		return fmt.Errorf("failed to close destination file: %w", err)
	}
	if err := os.Rename(s.tmpPath, s.path); err != nil {
		os.Remove(s.tmpPath)
		return fmt.Errorf("failed to move destination file into place: %w", err)
	}
	return nil
}

// Abort discards everything written.
func (s *FileSink) Abort() {
	s.file.Close()
	os.Remove(s.tmpPath)
}

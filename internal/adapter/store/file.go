package store

import (
	"context"
	"fmt"
	"os"
)

// File is a Source backed by a local file.
type File struct {
	f    *os.File
	path string
	size int64
}

// OpenFile opens a local file as a Source.
func OpenFile(path string) (*File, error) {
	//nolint:gosec // G304: path comes from the operator.
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	st, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	if st.IsDir() {
		_ = f.Close()
		return nil, fmt.Errorf("%s is a directory", path)
	}
	return &File{f: f, path: path, size: st.Size()}, nil
}

// ReadAt implements io.ReaderAt.
func (s *File) ReadAt(p []byte, off int64) (int, error) { return s.f.ReadAt(p, off) }

// Size returns the file length.
func (s *File) Size() int64 { return s.size }

// URI returns the path.
func (s *File) URI() string { return s.path }

// LocalPath returns the path itself; nothing is staged.
func (s *File) LocalPath(context.Context) (string, error) { return s.path, nil }

// Close closes the file.
func (s *File) Close() error { return s.f.Close() }

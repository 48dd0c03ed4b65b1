package calendar

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// Blob holds the whole appointment document. Read returns nil data when the
// document does not exist yet.
type Blob interface {
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, data []byte) error
}

// FileBlob keeps the document on local disk.
type FileBlob struct {
	path string
}

// NewFileBlob returns a blob at path. The parent directory is created on the
// first write.
func NewFileBlob(path string) *FileBlob {
	return &FileBlob{path: path}
}

func (b *FileBlob) Read(_ context.Context) ([]byte, error) {
	data, err := os.ReadFile(b.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("calendar: read %s: %w", b.path, err)
	}
	return data, nil
}

// Write replaces the document atomically through a temp file and rename.
func (b *FileBlob) Write(_ context.Context, data []byte) error {
	dir := filepath.Dir(b.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("calendar: create %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".appointments-*.json")
	if err != nil {
		return fmt.Errorf("calendar: temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("calendar: write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("calendar: close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), b.path); err != nil {
		return fmt.Errorf("calendar: replace %s: %w", b.path, err)
	}
	return nil
}

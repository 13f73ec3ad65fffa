package persist

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// File stores each key as a JSON file in a directory. Writes go through a
// temporary file and a rename so readers never see a partial document.
type File struct {
	dir      string
	interval time.Duration
}

// NewFile creates a file backend rooted at dir, creating it if needed.
// pollInterval controls how quickly outside writes are noticed (0 = default).
func NewFile(dir string, pollInterval time.Duration) (*File, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("cache directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	return &File{dir: dir, interval: pollInterval}, nil
}

// path maps a key to a file name inside the cache directory.
func (f *File) path(key string) string {
	name := strings.NewReplacer("/", "_", ":", "_", "\\", "_").Replace(key)
	return filepath.Join(f.dir, name+".json")
}

// Read implements Backend.
func (f *File) Read(_ context.Context, key string) ([]byte, error) {
	data, err := os.ReadFile(f.path(key))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrAbsent
	}
	if err != nil {
		return nil, fmt.Errorf("read cache file: %w", err)
	}
	return data, nil
}

// Write implements Backend.
func (f *File) Write(_ context.Context, key string, data []byte) error {
	target := f.path(key)
	tmp, err := os.CreateTemp(f.dir, ".cartsync-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		return fmt.Errorf("replace cache file: %w", err)
	}
	return nil
}

// Remove implements Backend.
func (f *File) Remove(_ context.Context, key string) error {
	err := os.Remove(f.path(key))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove cache file: %w", err)
	}
	return nil
}

// Subscribe implements Backend by polling the file's size and modification time.
func (f *File) Subscribe(key string, fn func()) func() {
	path := f.path(key)
	return PollChanges(f.interval, func() string {
		info, err := os.Stat(path)
		if err != nil {
			return "absent"
		}
		return strconv.FormatInt(info.ModTime().UnixNano(), 10) + "/" + strconv.FormatInt(info.Size(), 10)
	}, fn)
}

// Close implements Backend.
func (f *File) Close() error {
	return nil
}

var _ Backend = (*File)(nil)

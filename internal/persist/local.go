package persist

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/samcharles93/checkpoint/internal/safetensors"
	"github.com/samcharles93/checkpoint/internal/weights"
)

// Local stores checkpoints as files in a directory.
type Local struct {
	dir string
}

// NewLocal opens a directory-backed store. The directory must already
// exist; the store never creates its own collection.
func NewLocal(dir string) (*Local, error) {
	stat, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("persist: collection %s: %w", dir, err)
	}
	if !stat.IsDir() {
		return nil, fmt.Errorf("persist: collection %s is not a directory", dir)
	}
	return &Local{dir: dir}, nil
}

// Dir returns the collection root.
func (l *Local) Dir() string {
	return l.dir
}

func (l *Local) Save(ctx context.Context, m *weights.Map, step int) error {
	_ = ctx

	key := Key(step)
	path := filepath.Join(l.dir, key)
	if _, err := os.Stat(path); err == nil {
		return &OverwriteError{Key: key}
	} else if !errors.Is(err, fs.ErrNotExist) {
		return &BackendError{Op: "stat " + key, Err: err}
	}

	data, err := safetensors.Encode(m)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return &BackendError{Op: "write " + key, Err: err}
	}
	return nil
}

func (l *Local) Load(ctx context.Context, key string) (*weights.Map, error) {
	_ = ctx

	data, err := os.ReadFile(filepath.Join(l.dir, key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, &NotFoundError{Key: key}
	}
	if err != nil {
		return nil, &BackendError{Op: "read " + key, Err: err}
	}
	return safetensors.Decode(data)
}

func (l *Local) List(ctx context.Context) ([]string, error) {
	_ = ctx

	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return nil, &BackendError{Op: "list " + l.dir, Err: err}
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		names = append(names, e.Name())
	}
	return sortKeys(names), nil
}

package quire

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
)

// DirImageStore writes uploaded images into Dir and serves them under
// URLPrefix.
type DirImageStore struct {
	Dir       string
	URLPrefix string
}

// Put stores data as name and returns its public URL.
func (s DirImageStore) Put(_ context.Context, name, _ string, data []byte) (string, error) {
	if name != filepath.Base(name) {
		return "", fmt.Errorf("image name %q must not contain a path", name)
	}
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return "", fmt.Errorf("creating %s: %w", s.Dir, err)
	}
	if err := os.WriteFile(filepath.Join(s.Dir, name), data, 0o644); err != nil {
		return "", fmt.Errorf("writing image: %w", err)
	}
	prefix := s.URLPrefix
	if prefix == "" {
		prefix = "/uploads"
	}
	return path.Join(prefix, name), nil
}

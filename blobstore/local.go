package blobstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// Local writes blobs under a root directory on the local filesystem.
type Local struct {
	Root string
}

// NewLocal returns a Local sink rooted at dir.
func NewLocal(dir string) *Local {
	return &Local{Root: dir}
}

func (l *Local) Put(_ context.Context, path string, data []byte) (string, error) {
	var full = filepath.Join(l.Root, path)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", fmt.Errorf("creating output directory for %q: %w", path, err)
	}
	if err := os.WriteFile(full, data, 0o644); err != nil {
		return "", fmt.Errorf("writing %q: %w", full, err)
	}
	return "file://" + full, nil
}

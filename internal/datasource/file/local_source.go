// Package file opens and enumerates local input files.
package file

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Local is a CSV file on the local disk.
type Local struct{ path string }

// NewLocal returns a Local bound to path. It is safe for concurrent use.
func NewLocal(path string) *Local { return &Local{path: path} }

// Name is the path, used as the file name in reports and rejects.
func (l *Local) Name() string { return l.path }

// Stem is the base name without extension, the default label of the file.
func (l *Local) Stem() string {
	base := filepath.Base(l.path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// Open opens the file for a single sequential pass and hints the kernel to
// read ahead. A cancelled context fails before touching the filesystem.
// Errors keep os.ErrNotExist and friends reachable through errors.Is.
func (l *Local) Open(ctx context.Context) (io.ReadCloser, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	f, err := os.Open(l.path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", l.path, err)
	}
	adviseSequential(f)
	return f, nil
}

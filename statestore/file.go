package statestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// ErrPathOutsideRoots is returned by NewFileStore for a state-file path that
// resolves outside the allowed roots (the working directory and the system
// temp directory).
var ErrPathOutsideRoots = errors.New("state file path outside allowed roots")

// FileStore persists snapshots to a single JSON file. Saves are atomic: the
// document is written to a temp file in the target directory, suffixed with
// the process id, then renamed over the target path. Concurrent writers may
// lose updates but never produce a partial file.
type FileStore struct {
	path string
	log  *slog.Logger
}

// NewFileStore validates path and returns a store bound to it. Relative paths
// resolve against the working directory. The resolved path is normalized and
// must reside under the working directory or the system temp directory;
// anything else is rejected with ErrPathOutsideRoots.
func NewFileStore(path string, log *slog.Logger) (*FileStore, error) {
	if log == nil {
		log = slog.Default()
	}
	resolved, err := resolveStatePath(path)
	if err != nil {
		return nil, err
	}
	return &FileStore{path: resolved, log: log}, nil
}

// Path returns the resolved target path.
func (f *FileStore) Path() string { return f.path }

// Load reads and parses the state file. A missing or malformed file yields an
// empty result with a warning, never an error: the limiter starts fresh.
func (f *FileStore) Load(ctx context.Context) (*Snapshot, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			f.log.Warn("state file not found, starting with empty state",
				"path", f.path)
		} else {
			f.log.Warn("failed to read state file, starting with empty state",
				"path", f.path, "error", err)
		}
		return nil, nil
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		f.log.Warn("state file is malformed, starting with empty state",
			"path", f.path, "error", err)
		return nil, nil
	}
	return &snap, nil
}

// Save serializes the snapshot compactly and atomically replaces the target
// file.
func (f *FileStore) Save(ctx context.Context, snap *Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(f.path), 0700); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}
	tmp := fmt.Sprintf("%s.%d.tmp", f.path, os.Getpid())
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("failed to write temp state file: %w", err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to replace state file: %w", err)
	}
	return nil
}

func (f *FileStore) Close() error { return nil }

// resolveStatePath makes path absolute against the working directory,
// eliminates "." and ".." segments, resolves symlinks in the deepest existing
// ancestor, and checks the result against the allowed roots.
func resolveStatePath(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("%w: empty path", ErrPathOutsideRoots)
	}
	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("failed to resolve working directory: %w", err)
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(cwd, path)
	}
	path = filepath.Clean(path)

	real := realPath(path)
	for _, root := range []string{cwd, os.TempDir()} {
		if within(realPath(root), real) {
			return path, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrPathOutsideRoots, path)
}

// realPath resolves symlinks in the deepest existing ancestor of p, keeping
// the not-yet-existing tail textual.
func realPath(p string) string {
	tail := ""
	for cur := p; ; {
		resolved, err := filepath.EvalSymlinks(cur)
		if err == nil {
			return filepath.Join(resolved, tail)
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			return p
		}
		tail = filepath.Join(filepath.Base(cur), tail)
		cur = parent
	}
}

// within reports whether path is root or lives underneath it.
func within(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

// Package osfs adapts ports.FS onto the local filesystem, rooted at a
// base directory so every path the core sees is relative and cannot
// escape via "..".
//
// Writes reuse the teacher's atomic-durable-write discipline (temp file
// in the same directory, fsync, rename, directory fsync) — the same
// guarantee the checkpoint store relies on, just exercised here for
// generated source files instead of execution-state snapshots.
package osfs

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"devengine/internal/ports"
)

// FS roots every operation at BaseDir.
type FS struct {
	BaseDir string
}

// New builds an FS rooted at baseDir.
func New(baseDir string) *FS { return &FS{BaseDir: baseDir} }

func (f *FS) resolve(path string) (string, error) {
	clean := filepath.Clean("/" + path)
	full := filepath.Join(f.BaseDir, clean)
	if !strings.HasPrefix(full, filepath.Clean(f.BaseDir)+string(filepath.Separator)) && full != filepath.Clean(f.BaseDir) {
		return "", fmt.Errorf("path %q escapes base directory", path)
	}
	return full, nil
}

func (f *FS) Read(_ context.Context, path string) ([]byte, error) {
	full, err := f.resolve(path)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(full)
}

func (f *FS) Write(_ context.Context, path string, data []byte) error {
	full, err := f.resolve(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return fmt.Errorf("mkdir parent: %w", err)
	}
	return writeFileAtomicDurable(full, data, 0o644)
}

func (f *FS) Exists(_ context.Context, path string) (bool, error) {
	full, err := f.resolve(path)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(full)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

func (f *FS) Mkdir(_ context.Context, path string, recursive bool) error {
	full, err := f.resolve(path)
	if err != nil {
		return err
	}
	if recursive {
		return os.MkdirAll(full, 0o755)
	}
	return os.Mkdir(full, 0o755)
}

func (f *FS) Delete(_ context.Context, path string) error {
	full, err := f.resolve(path)
	if err != nil {
		return err
	}
	return os.RemoveAll(full)
}

func (f *FS) Stat(_ context.Context, path string) (ports.FileInfo, error) {
	full, err := f.resolve(path)
	if err != nil {
		return ports.FileInfo{}, err
	}
	info, err := os.Stat(full)
	if err != nil {
		return ports.FileInfo{}, err
	}
	return ports.FileInfo{Path: path, Size: info.Size(), IsDir: info.IsDir(), ModTime: info.ModTime().Unix()}, nil
}

func (f *FS) List(_ context.Context, dir string, opts ports.ListOptions) ([]ports.FileInfo, error) {
	full, err := f.resolve(dir)
	if err != nil {
		return nil, err
	}

	var out []ports.FileInfo
	err = filepath.Walk(full, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, relErr := filepath.Rel(f.BaseDir, p)
		if relErr != nil {
			return relErr
		}
		rel = filepath.ToSlash(rel)
		depth := strings.Count(rel, "/")

		if info.IsDir() {
			if p != full && !opts.Recursive {
				return filepath.SkipDir
			}
			if opts.MaxDepth > 0 && depth >= opts.MaxDepth {
				return filepath.SkipDir
			}
			return nil
		}
		if opts.MaxDepth > 0 && depth > opts.MaxDepth {
			return nil
		}
		if !matchesAny(rel, opts.Include) || (len(opts.Exclude) > 0 && matchesAny(rel, opts.Exclude)) {
			return nil
		}
		out = append(out, ports.FileInfo{Path: rel, Size: info.Size(), IsDir: false, ModTime: info.ModTime().Unix()})
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

func matchesAny(path string, patterns []string) bool {
	if len(patterns) == 0 {
		return true
	}
	for _, p := range patterns {
		if ok, _ := filepath.Match(p, filepath.Base(path)); ok {
			return true
		}
	}
	return false
}

func writeFileAtomicDurable(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp.*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		_ = tmp.Close()
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := io.Copy(tmp, bytes.NewReader(data)); err != nil {
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return err
	}
	committed = true

	dirHandle, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer dirHandle.Close()
	return dirHandle.Sync()
}

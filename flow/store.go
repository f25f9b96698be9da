package flow

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ErrNotFound is returned by stores when a flow file does not exist.
var ErrNotFound = errors.New("flow file not found")

// Store abstracts the persistence of flow definitions for one bot.
type Store interface {
	// ListFlowPaths returns the relative paths of every flow
	// definition file, sorted by path.
	ListFlowPaths(ctx context.Context) ([]string, error)

	// ReadFlow returns the raw flow definition at path.
	ReadFlow(ctx context.Context, path string) ([]byte, error)

	// ReadLayout returns the raw layout file paired with the flow at
	// path. A missing layout is not an error; it returns ErrNotFound.
	ReadLayout(ctx context.Context, path string) ([]byte, error)

	// WriteFlow persists both the flow definition and its layout.
	WriteFlow(ctx context.Context, path string, flowData, layoutData []byte) error

	// DeleteFlow removes the flow definition and its layout.
	DeleteFlow(ctx context.Context, path string) error

	// RenameFlow moves the flow definition and its layout.
	RenameFlow(ctx context.Context, oldPath, newPath string) error
}

// DiskStore is a filesystem-backed Store rooted at one bot's flow
// directory.
type DiskStore struct {
	root string
}

// NewDiskStore returns a store reading flows under root.
func NewDiskStore(root string) *DiskStore {
	return &DiskStore{root: root}
}

// ListFlowPaths walks the root for *.flow.json files.
func (s *DiskStore) ListFlowPaths(ctx context.Context) ([]string, error) {
	var paths []string
	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), FileSuffix) {
			return nil
		}
		rel, err := filepath.Rel(s.root, path)
		if err != nil {
			return err
		}
		paths = append(paths, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("listing flows under %s: %w", s.root, err)
	}
	sort.Strings(paths)
	return paths, nil
}

func (s *DiskStore) read(path string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(s.root, filepath.FromSlash(path)))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	return data, err
}

// ReadFlow implements Store.
func (s *DiskStore) ReadFlow(_ context.Context, path string) ([]byte, error) {
	return s.read(path)
}

// ReadLayout implements Store.
func (s *DiskStore) ReadLayout(_ context.Context, path string) ([]byte, error) {
	return s.read(LayoutPath(path))
}

// WriteFlow implements Store.
func (s *DiskStore) WriteFlow(_ context.Context, path string, flowData, layoutData []byte) error {
	full := filepath.Join(s.root, filepath.FromSlash(path))
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(full, flowData, 0o644); err != nil {
		return err
	}
	if layoutData != nil {
		layout := filepath.Join(s.root, filepath.FromSlash(LayoutPath(path)))
		if err := os.WriteFile(layout, layoutData, 0o644); err != nil {
			return err
		}
	}
	return nil
}

// DeleteFlow implements Store.
func (s *DiskStore) DeleteFlow(_ context.Context, path string) error {
	if err := os.Remove(filepath.Join(s.root, filepath.FromSlash(path))); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	layout := filepath.Join(s.root, filepath.FromSlash(LayoutPath(path)))
	if err := os.Remove(layout); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// RenameFlow implements Store.
func (s *DiskStore) RenameFlow(_ context.Context, oldPath, newPath string) error {
	oldFull := filepath.Join(s.root, filepath.FromSlash(oldPath))
	newFull := filepath.Join(s.root, filepath.FromSlash(newPath))
	if err := os.MkdirAll(filepath.Dir(newFull), 0o755); err != nil {
		return err
	}
	if err := os.Rename(oldFull, newFull); err != nil {
		return err
	}
	oldLayout := filepath.Join(s.root, filepath.FromSlash(LayoutPath(oldPath)))
	newLayout := filepath.Join(s.root, filepath.FromSlash(LayoutPath(newPath)))
	if err := os.Rename(oldLayout, newLayout); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// LayoutPath maps a flow definition path to its paired layout path.
func LayoutPath(flowPath string) string {
	return strings.TrimSuffix(flowPath, FileSuffix) + LayoutSuffix
}

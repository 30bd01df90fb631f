package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"modsmith/internal/artifact"
	"modsmith/internal/safeio"
)

// DiskStore writes each run to <root>/<run id>/. A tree is first written to
// a staging directory and renamed into place, so a run directory is either
// complete or absent.
type DiskStore struct {
	root string
}

func NewDiskStore(root string) *DiskStore {
	return &DiskStore{root: strings.TrimSpace(root)}
}

func (s *DiskStore) Save(_ context.Context, runID string, tree artifact.Tree) error {
	id, err := saveKey(runID, tree)
	if err != nil {
		return err
	}
	if s.root == "" {
		return errors.New("disk store: root is required")
	}
	staging := filepath.Join(s.root, ".staging-"+id)
	if err := os.RemoveAll(staging); err != nil {
		return err
	}
	if err := safeio.WriteTree(staging, tree); err != nil {
		_ = os.RemoveAll(staging)
		return fmt.Errorf("disk store: write run %s: %w", id, err)
	}
	dir := filepath.Join(s.root, id)
	if err := os.RemoveAll(dir); err != nil {
		_ = os.RemoveAll(staging)
		return err
	}
	return os.Rename(staging, dir)
}

func (s *DiskStore) Load(_ context.Context, runID string) (artifact.Tree, error) {
	dir, err := s.runDir(runID)
	if err != nil {
		return artifact.Tree{}, err
	}
	return safeio.LoadTree(dir)
}

// Link returns a file:// URL for a stored file.
func (s *DiskStore) Link(_ context.Context, runID, path string) (string, error) {
	dir, err := s.runDir(runID)
	if err != nil {
		return "", err
	}
	clean, err := artifact.CleanPath(path)
	if err != nil {
		return "", err
	}
	abs, err := filepath.Abs(filepath.Join(dir, filepath.FromSlash(clean)))
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(abs); errors.Is(err, fs.ErrNotExist) {
		return "", ErrNotFound
	}
	u := url.URL{Scheme: "file", Path: filepath.ToSlash(abs)}
	return u.String(), nil
}

// runDir returns the directory of a saved run, or ErrNotFound.
func (s *DiskStore) runDir(runID string) (string, error) {
	id, err := runKey(runID)
	if err != nil {
		return "", err
	}
	dir := filepath.Join(s.root, id)
	info, err := os.Stat(dir)
	if errors.Is(err, fs.ErrNotExist) || (err == nil && !info.IsDir()) {
		return "", ErrNotFound
	}
	return dir, err
}

// Package safeio reads module sources from, and writes generated trees to,
// a fixed root directory without following paths outside of it.
package safeio

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strings"

	"modsmith/internal/artifact"
)

// SkipDirs are directory names never loaded into a tree.
var SkipDirs = []string{".git", "node_modules", ".venv", "__pycache__", ".modsmith"}

// SafeFS provides read-only helpers that resolve paths relative to a fixed root.
// It implements fs.FS, fs.ReadFileFS and fs.ReadDirFS.
type SafeFS struct {
	absRoot string // absolute root with symlinks resolved
}

// NewSafeFS locks all future operations to the given root directory.
// The root path is resolved to an absolute, symlink-free directory.
func NewSafeFS(root string) (*SafeFS, error) {
	if root == "" {
		return nil, errors.New("safeio: empty root")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	abs, err = filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, errors.New("safeio: root is not a directory")
	}
	return &SafeFS{absRoot: abs}, nil
}

// Root returns the absolute root directory bound to this SafeFS.
func (s *SafeFS) Root() string {
	if s == nil {
		return ""
	}
	return s.absRoot
}

// Open implements fs.FS (names use "/" separators).
func (s *SafeFS) Open(name string) (fs.File, error) {
	if !fs.ValidPath(name) {
		return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrInvalid}
	}
	p, err := s.resolve(filepath.FromSlash(name))
	if err != nil {
		return nil, err
	}
	return os.Open(p)
}

// ReadFile reads a regular file relative to the root.
func (s *SafeFS) ReadFile(name string) ([]byte, error) {
	p, err := s.resolve(filepath.FromSlash(name))
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(p)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, errors.New("safeio: path is a directory")
	}
	return os.ReadFile(p)
}

// ReadDir lists entries for a directory relative to the root.
func (s *SafeFS) ReadDir(name string) ([]fs.DirEntry, error) {
	dir, err := s.resolve(filepath.FromSlash(name))
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(dir)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, errors.New("safeio: path is not a directory")
	}
	return os.ReadDir(dir)
}

// LoadTree reads every regular file under root into a tree, skipping
// SkipDirs.
func LoadTree(root string) (artifact.Tree, error) {
	fsys, err := NewSafeFS(root)
	if err != nil {
		return artifact.Tree{}, err
	}
	files := map[string][]byte{}
	err = fs.WalkDir(fsys, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if p != "." && slices.Contains(SkipDirs, d.Name()) {
				return fs.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		content, err := fsys.ReadFile(p)
		if err != nil {
			return err
		}
		files[p] = content
		return nil
	})
	if err != nil {
		return artifact.Tree{}, fmt.Errorf("safeio: load %s: %w", root, err)
	}
	return artifact.NewTree(files)
}

// WriteTree writes tree under root, creating directories as needed.
// Existing files with the same paths are overwritten.
func WriteTree(root string, tree artifact.Tree) error {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return err
	}
	fsys, err := NewSafeFS(root)
	if err != nil {
		return err
	}
	return tree.Each(func(p string, content []byte) error {
		target := filepath.Join(fsys.absRoot, filepath.FromSlash(p))
		if !hasPathPrefix(target, fsys.absRoot) {
			return fmt.Errorf("safeio: %s escapes %s", p, fsys.absRoot)
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		return os.WriteFile(target, content, 0o644)
	})
}

func (s *SafeFS) resolve(userPath string) (string, error) {
	if s == nil {
		return "", errors.New("safeio: filesystem not configured")
	}
	if userPath == "" {
		return "", errors.New("safeio: empty path")
	}
	clean := filepath.Clean(userPath)
	if clean == "." {
		return s.absRoot, nil
	}

	isAbs := filepath.IsAbs(clean) || (runtime.GOOS == "windows" && filepath.VolumeName(clean) != "")
	if !isAbs {
		if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
			return "", errors.New("safeio: path traversal not allowed")
		}
	}

	var joined string
	if isAbs {
		joined = clean
	} else {
		joined = filepath.Join(s.absRoot, clean)
	}

	resolved, err := filepath.EvalSymlinks(joined)
	if err != nil {
		return "", err
	}
	if !hasPathPrefix(resolved, s.absRoot) {
		return "", fmt.Errorf("safeio: resolved outside root (root=%s, path=%s)", s.absRoot, resolved)
	}
	return resolved, nil
}

func hasPathPrefix(path, root string) bool {
	path = filepath.Clean(path)
	root = filepath.Clean(root)
	if runtime.GOOS == "windows" {
		path = strings.ToLower(path)
		root = strings.ToLower(root)
	}
	if len(root) == 0 || path == root {
		return true
	}
	sep := string(os.PathSeparator)
	if !strings.HasSuffix(root, sep) {
		root += sep
	}
	return strings.HasPrefix(path+sep, root)
}

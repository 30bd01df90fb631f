// Package artifact holds the immutable file tree produced by an accepted
// generation run.
package artifact

import (
	"fmt"
	"path"
	"sort"
	"strings"
)

// Tree is an immutable set of files keyed by slash-separated relative path.
// Every mutating method returns a new Tree.
type Tree struct {
	files map[string][]byte
}

// NewTree builds a Tree from path->content pairs.
func NewTree(files map[string][]byte) (Tree, error) {
	t := Tree{files: make(map[string][]byte, len(files))}
	for p, c := range files {
		clean, err := CleanPath(p)
		if err != nil {
			return Tree{}, err
		}
		t.files[clean] = append([]byte(nil), c...)
	}
	return t, nil
}

// CleanPath normalizes p and rejects absolute or escaping paths.
func CleanPath(p string) (string, error) {
	p = strings.TrimSpace(strings.ReplaceAll(p, "\\", "/"))
	if p == "" {
		return "", fmt.Errorf("artifact: path is required")
	}
	if strings.HasPrefix(p, "/") {
		return "", fmt.Errorf("artifact: absolute path %q", p)
	}
	clean := path.Clean(p)
	if clean == "." || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("artifact: invalid path %q", p)
	}
	return clean, nil
}

// Len returns the number of files.
func (t Tree) Len() int { return len(t.files) }

// Empty reports whether the tree has no files.
func (t Tree) Empty() bool { return len(t.files) == 0 }

// Paths returns every file path in lexical order.
func (t Tree) Paths() []string {
	out := make([]string, 0, len(t.files))
	for p := range t.files {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Has reports whether p exists.
func (t Tree) Has(p string) bool {
	clean, err := CleanPath(p)
	if err != nil {
		return false
	}
	_, ok := t.files[clean]
	return ok
}

// Bytes returns a copy of the file at p.
func (t Tree) Bytes(p string) ([]byte, error) {
	clean, err := CleanPath(p)
	if err != nil {
		return nil, err
	}
	c, ok := t.files[clean]
	if !ok {
		return nil, fmt.Errorf("artifact: file %q not found", clean)
	}
	return append([]byte(nil), c...), nil
}

// File returns the contents of p as text.
func (t Tree) File(p string) (string, error) {
	b, err := t.Bytes(p)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// WithFile returns a copy of t with p set to content.
func (t Tree) WithFile(p string, content []byte) (Tree, error) {
	clean, err := CleanPath(p)
	if err != nil {
		return Tree{}, err
	}
	out := t.clone(1)
	out.files[clean] = append([]byte(nil), content...)
	return out, nil
}

// WithDirectory returns a copy of t with every file of sub placed under prefix.
func (t Tree) WithDirectory(prefix string, sub Tree) (Tree, error) {
	clean, err := CleanPath(prefix)
	if err != nil {
		return Tree{}, err
	}
	out := t.clone(sub.Len())
	for p, c := range sub.files {
		out.files[clean+"/"+p] = append([]byte(nil), c...)
	}
	return out, nil
}

// Directory returns the subtree rooted at prefix, with prefix stripped.
func (t Tree) Directory(prefix string) Tree {
	clean, err := CleanPath(prefix)
	if err != nil {
		return Tree{}
	}
	out := Tree{files: map[string][]byte{}}
	for p, c := range t.files {
		if rest, ok := strings.CutPrefix(p, clean+"/"); ok {
			out.files[rest] = c
		}
	}
	return out
}

// WithoutDirectory returns a copy of t with every file under prefix removed.
func (t Tree) WithoutDirectory(prefix string) (Tree, error) {
	clean, err := CleanPath(prefix)
	if err != nil {
		return Tree{}, err
	}
	out := Tree{files: make(map[string][]byte, len(t.files))}
	for p, c := range t.files {
		if !strings.HasPrefix(p, clean+"/") {
			out.files[p] = c
		}
	}
	return out, nil
}

// Each calls fn for every file in path order and stops on the first error.
func (t Tree) Each(fn func(path string, content []byte) error) error {
	for _, p := range t.Paths() {
		if err := fn(p, t.files[p]); err != nil {
			return err
		}
	}
	return nil
}

func (t Tree) clone(extra int) Tree {
	out := Tree{files: make(map[string][]byte, len(t.files)+extra)}
	for p, c := range t.files {
		out.files[p] = c
	}
	return out
}

// Package manifest writes the dagger.json descriptor at the root of an
// artifact tree.
//
// An example module depends on the module it exemplifies. Once the example
// sits at examples/<lang>/ inside that module, a relative source path reaches
// the dependency (linked mode). Before that placement exists the example is
// still needed as translation input, so bootstrap mode embeds a copy of the
// dependency inside the example's own tree and points the manifest at it.
package manifest

import (
	"bytes"
	"encoding/json"
	"fmt"

	"modsmith/internal/artifact"
	"modsmith/internal/faults"
)

const (
	// FileName is the manifest path at the artifact root.
	FileName = "dagger.json"
	// LinkedSource reaches the module root from examples/<lang>/.
	LinkedSource = "../.."
	// bootstrapRoot holds embedded dependency copies.
	bootstrapRoot = ".dependency"
)

type Mode string

const (
	Linked    Mode = "linked"
	Bootstrap Mode = "bootstrap"
)

// Dependency is one entry of the manifest's dependency list.
type Dependency struct {
	Name   string `json:"name"`
	Source string `json:"source"`
	Pin    string `json:"pin"`
}

// Manifest is the module descriptor. Field order is the serialized order.
type Manifest struct {
	Name          string       `json:"name"`
	EngineVersion string       `json:"engineVersion"`
	SDK           string       `json:"sdk"`
	Dependencies  []Dependency `json:"dependencies"`
	Source        string       `json:"source"`
}

// Options configure Build.
type Options struct {
	// Name is the artifact module's own name.
	Name           string
	DependencyName string
	SDK            string
	EngineVersion  string
	Mode           Mode
	// Embedded is the dependency's source tree; required in bootstrap mode.
	Embedded artifact.Tree
}

// BootstrapDir is where bootstrap mode embeds the named dependency.
func BootstrapDir(dependencyName string) string {
	return bootstrapRoot + "/" + dependencyName
}

// Source returns the dependency source path for the given mode.
func Source(mode Mode, dependencyName string) (string, error) {
	switch mode {
	case Linked:
		return LinkedSource, nil
	case Bootstrap:
		return BootstrapDir(dependencyName), nil
	}
	return "", faults.New(faults.Configuration, "manifest", fmt.Sprintf("unknown manifest mode %q", mode))
}

// New returns the manifest for opts.
func New(opts Options) (Manifest, error) {
	if opts.Name == "" || opts.DependencyName == "" || opts.SDK == "" {
		return Manifest{}, faults.New(faults.Configuration, "manifest", "name, dependency name and sdk are required")
	}
	src, err := Source(opts.Mode, opts.DependencyName)
	if err != nil {
		return Manifest{}, err
	}
	return Manifest{
		Name:          opts.Name,
		EngineVersion: opts.EngineVersion,
		SDK:           opts.SDK,
		Dependencies:  []Dependency{{Name: opts.DependencyName, Source: src, Pin: ""}},
		Source:        ".",
	}, nil
}

// Encode renders m deterministically: two-space indent, trailing newline,
// no HTML escaping.
func (m Manifest) Encode() ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(m); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Parse decodes a manifest.
func Parse(raw []byte) (Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return Manifest{}, fmt.Errorf("manifest: decode: %w", err)
	}
	return m, nil
}

// Build returns tree with the manifest for opts written at its root, replacing
// any existing one. In bootstrap mode the Embedded tree is copied under
// BootstrapDir; in linked mode any previously embedded copy is dropped so an
// artifact never carries both variants.
func Build(tree artifact.Tree, opts Options) (artifact.Tree, error) {
	m, err := New(opts)
	if err != nil {
		return artifact.Tree{}, err
	}
	raw, err := m.Encode()
	if err != nil {
		return artifact.Tree{}, faults.Wrap(faults.Configuration, "manifest", "encode manifest", err)
	}

	out, err := tree.WithoutDirectory(bootstrapRoot)
	if err != nil {
		return artifact.Tree{}, faults.Wrap(faults.Configuration, "manifest", "drop embedded dependency", err)
	}
	if opts.Mode == Bootstrap {
		if opts.Embedded.Empty() {
			return artifact.Tree{}, faults.New(faults.Configuration, "manifest", "bootstrap mode needs the dependency source to embed")
		}
		if out, err = out.WithDirectory(BootstrapDir(opts.DependencyName), opts.Embedded); err != nil {
			return artifact.Tree{}, faults.Wrap(faults.Configuration, "manifest", "embed dependency", err)
		}
	}
	return out.WithFile(FileName, raw)
}

// Read parses the manifest at the root of tree.
func Read(tree artifact.Tree) (Manifest, error) {
	raw, err := tree.Bytes(FileName)
	if err != nil {
		return Manifest{}, err
	}
	return Parse(raw)
}

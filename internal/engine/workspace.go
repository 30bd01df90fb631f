package engine

import (
	"context"
	"fmt"
	"io/fs"
	"sync/atomic"

	"modsmith/internal/artifact"
	"modsmith/internal/sdk"
)

// placeholder is the content of the main file of a freshly scaffolded workspace.
const placeholder = "EMPTY FILE"

// files is the host-side state shared by workspace implementations.
type files struct {
	spec   Spec
	tree   artifact.Tree
	refs   sdk.Catalog
	tested *atomic.Bool
}

func scaffold(spec Spec, refs fs.FS) (files, error) {
	if spec.ModuleName == "" {
		return files{}, fmt.Errorf("engine: module name is required")
	}
	mainPath, err := sdk.MainFile(spec.Language, spec.ModuleName)
	if err != nil {
		return files{}, err
	}
	tree, err := artifact.Tree{}.WithFile(mainPath, []byte(placeholder))
	if err != nil {
		return files{}, err
	}
	return files{spec: spec, tree: tree, refs: sdk.Catalog{FS: refs}, tested: &atomic.Bool{}}, nil
}

func (f files) with(path, content string) (files, error) {
	tree, err := f.tree.WithFile(path, []byte(content))
	if err != nil {
		return files{}, err
	}
	return files{spec: f.spec, tree: tree, refs: f.refs, tested: &atomic.Bool{}}, nil
}

// consume marks the workspace tested and fails if it already was.
func (f files) consume() error {
	if !f.tested.CompareAndSwap(false, true) {
		return ErrConsumed
	}
	return nil
}

func (f files) mainFile() (string, error) {
	return sdk.MainFile(f.spec.Language, f.spec.ModuleName)
}

func (f files) Spec() Spec { return f.spec }

func (f files) SDKReference(_ context.Context, id string) (string, error) {
	if id == "" {
		id = f.spec.Language
	}
	return f.refs.Reference(id, f.spec.ModuleName)
}

func (f files) ExamplesReference(_ context.Context) (string, error) {
	return sdk.ExamplesReference(f.spec.Language), nil
}

func (f files) Tree(_ context.Context) (artifact.Tree, error) {
	return f.tree, nil
}

// Package engine provides the build/execution workspaces a generated module
// is written into and tested in.
package engine

import (
	"context"
	"errors"

	"modsmith/internal/artifact"
)

// Sentinel is the exact Test result that counts as success.
const Sentinel = "TEST PASSED"

// ErrConsumed is returned when Test is called a second time on a workspace.
var ErrConsumed = errors.New("engine: workspace already tested")

// Dependency is a module installed into the workspace before testing.
type Dependency struct {
	Name   string
	Source artifact.Tree
}

// Spec identifies the workspace to scaffold.
type Spec struct {
	Language      string
	ModuleName    string
	EngineVersion string
	Dependencies  []Dependency
}

// Engine scaffolds workspaces.
type Engine interface {
	CreateWorkspace(ctx context.Context, spec Spec) (Workspace, error)
}

// Workspace is a single-use module skeleton for one target language.
// WithFile never mutates the receiver. Test may run once per instance.
type Workspace interface {
	Spec() Spec
	SDKReference(ctx context.Context, sdk string) (string, error)
	ExamplesReference(ctx context.Context) (string, error)
	WithFile(path, content string) (Workspace, error)
	Test(ctx context.Context) (string, error)
	Tree(ctx context.Context) (artifact.Tree, error)
}

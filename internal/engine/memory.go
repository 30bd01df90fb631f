package engine

import (
	"context"
	"io/fs"
	"strings"

	"modsmith/internal/artifact"
)

// TestFunc decides the gate result for a workspace's files.
type TestFunc func(ctx context.Context, spec Spec, tree artifact.Tree) (string, error)

// MemoryEngine keeps workspaces in process and delegates the test gate to Test.
type MemoryEngine struct {
	Test TestFunc
	// References overrides the built-in SDK snippet catalog.
	References fs.FS
	// Created records every spec passed to CreateWorkspace, in order.
	Created []Spec
}

func (e *MemoryEngine) CreateWorkspace(_ context.Context, spec Spec) (Workspace, error) {
	f, err := scaffold(spec, e.References)
	if err != nil {
		return nil, err
	}
	e.Created = append(e.Created, spec)
	test := e.Test
	if test == nil {
		test = MainFileWritten
	}
	return &memoryWorkspace{files: f, test: test}, nil
}

// MainFileWritten passes when the main file holds something other than the
// scaffold placeholder. It is the gate used for dry runs.
func MainFileWritten(_ context.Context, spec Spec, tree artifact.Tree) (string, error) {
	f := files{spec: spec}
	path, err := f.mainFile()
	if err != nil {
		return "", err
	}
	content, err := tree.File(path)
	if err != nil {
		return "main file missing: " + path, nil
	}
	if strings.TrimSpace(content) == "" || content == placeholder {
		return "main file not written: " + path, nil
	}
	return Sentinel, nil
}

type memoryWorkspace struct {
	files
	test TestFunc
}

func (w *memoryWorkspace) WithFile(path, content string) (Workspace, error) {
	f, err := w.files.with(path, content)
	if err != nil {
		return nil, err
	}
	return &memoryWorkspace{files: f, test: w.test}, nil
}

func (w *memoryWorkspace) Test(ctx context.Context) (string, error) {
	if err := w.consume(); err != nil {
		return "", err
	}
	return w.test(ctx, w.spec, w.tree)
}

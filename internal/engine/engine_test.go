package engine

import (
	"context"
	"errors"
	"os"
	"testing"
	"testing/fstest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"

	"modsmith/internal/artifact"
	"modsmith/internal/faults"
)

func TestScaffoldWritesPlaceholderMainFile(t *testing.T) {
	e := &MemoryEngine{}
	ws, err := e.CreateWorkspace(context.Background(), Spec{Language: "python", ModuleName: "example"})
	require.NoError(t, err)

	tree, err := ws.Tree(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"src/example/main.py"}, tree.Paths())
	content, err := tree.File("src/example/main.py")
	require.NoError(t, err)
	assert.Equal(t, placeholder, content)
	assert.Len(t, e.Created, 1)
}

func TestCreateWorkspaceRejectsBadSpec(t *testing.T) {
	e := &MemoryEngine{}
	_, err := e.CreateWorkspace(context.Background(), Spec{Language: "cobol", ModuleName: "x"})
	assert.True(t, errors.Is(err, faults.ErrConfiguration))

	_, err = e.CreateWorkspace(context.Background(), Spec{Language: "go"})
	assert.Error(t, err)
	assert.Empty(t, e.Created)
}

func TestWithFileDoesNotMutateReceiver(t *testing.T) {
	ctx := context.Background()
	ws, err := (&MemoryEngine{}).CreateWorkspace(ctx, Spec{Language: "go", ModuleName: "foo"})
	require.NoError(t, err)

	next, err := ws.WithFile("main.go", "package main\n")
	require.NoError(t, err)

	before, _ := ws.Tree(ctx)
	after, _ := next.Tree(ctx)
	b, _ := before.File("main.go")
	a, _ := after.File("main.go")
	assert.Equal(t, placeholder, b)
	assert.Equal(t, "package main\n", a)
	assert.Equal(t, ws.Spec(), next.Spec())

	_, err = ws.WithFile("../escape.go", "x")
	assert.Error(t, err)
}

func TestTestRunsOncePerWorkspace(t *testing.T) {
	ctx := context.Background()
	calls := 0
	e := &MemoryEngine{Test: func(context.Context, Spec, artifact.Tree) (string, error) {
		calls++
		return Sentinel, nil
	}}
	ws, err := e.CreateWorkspace(ctx, Spec{Language: "go", ModuleName: "foo"})
	require.NoError(t, err)

	out, err := ws.Test(ctx)
	require.NoError(t, err)
	assert.Equal(t, Sentinel, out)

	_, err = ws.Test(ctx)
	assert.ErrorIs(t, err, ErrConsumed)
	assert.Equal(t, 1, calls)

	// A derived workspace is a fresh instance.
	next, err := ws.WithFile("extra.txt", "x")
	require.NoError(t, err)
	_, err = next.Test(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestMainFileWritten(t *testing.T) {
	ctx := context.Background()
	e := &MemoryEngine{}

	ws, err := e.CreateWorkspace(ctx, Spec{Language: "typescript", ModuleName: "foo"})
	require.NoError(t, err)
	out, err := ws.Test(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, Sentinel, out)

	ws, err = e.CreateWorkspace(ctx, Spec{Language: "typescript", ModuleName: "foo"})
	require.NoError(t, err)
	ws, err = ws.WithFile("src/index.ts", "export class Foo {}\n")
	require.NoError(t, err)
	out, err = ws.Test(ctx)
	require.NoError(t, err)
	assert.Equal(t, Sentinel, out)
}

func TestReferences(t *testing.T) {
	ctx := context.Background()
	ws, err := (&MemoryEngine{}).CreateWorkspace(ctx, Spec{Language: "go", ModuleName: "foo"})
	require.NoError(t, err)

	own, err := ws.SDKReference(ctx, "")
	require.NoError(t, err)
	explicit, err := ws.SDKReference(ctx, "go")
	require.NoError(t, err)
	assert.Equal(t, own, explicit)
	assert.NotEmpty(t, own)

	ex, err := ws.ExamplesReference(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, ex)

	_, err = ws.SDKReference(ctx, "cobol")
	assert.Error(t, err)
}

func TestReferencesUseConfiguredSnippets(t *testing.T) {
	ctx := context.Background()
	refs := fstest.MapFS{
		"cache-volumes/python.txt": {Data: []byte("dag.cache_volume(\"pip\")\n")},
	}
	ws, err := (&MemoryEngine{References: refs}).CreateWorkspace(ctx, Spec{Language: "python", ModuleName: "foo"})
	require.NoError(t, err)

	ref, err := ws.SDKReference(ctx, "")
	require.NoError(t, err)
	assert.Contains(t, ref, "\ncache volumes:\n<code>\ndag.cache_volume(\"pip\")\n</code>\n")
	assert.NotContains(t, ref, "bind services to containers")

	ws, err = ws.WithFile("src/foo/main.py", "x")
	require.NoError(t, err)
	again, err := ws.SDKReference(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, ref, again)
}

func containersAvailable() (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
		}
	}()
	provider, err := testcontainers.ProviderDocker.GetProvider()
	if err != nil {
		return false
	}
	defer provider.Close()
	return true
}

// The container gate pulls the dagger CLI and starts a nested engine, so it
// only runs when explicitly requested.
func TestContainerEngineRejectsPlaceholder(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	if os.Getenv("MODSMITH_CONTAINER_TESTS") == "" {
		t.Skip("set MODSMITH_CONTAINER_TESTS=1 to run container engine tests")
	}
	if !containersAvailable() {
		t.Skip("skipping container engine test: docker provider not available")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Minute)
	defer cancel()

	ws, err := (&ContainerEngine{}).CreateWorkspace(ctx, Spec{Language: "go", ModuleName: "probe"})
	require.NoError(t, err)
	out, err := ws.Test(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, Sentinel, out)
}

package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"modsmith/internal/artifact"
	"modsmith/internal/engine"
	"modsmith/internal/faults"
	"modsmith/internal/generate"
	"modsmith/internal/llm"
	"modsmith/internal/manifest"
	"modsmith/internal/prompt"
	"modsmith/internal/schema"
	"modsmith/internal/sdk"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const barDescriptor = `
name: Bar
description: Bar module
sdk: python
objects:
  - name: Bar
    functions:
      - name: hello
        description: says hello
        returns: {kind: STRING}
        args:
          - name: name
            description: who to greet
            type: {kind: STRING, optional: true}
  - name: Helper
    functions:
      - name: assist
        description: helps
        returns: {kind: VOID}
`

type fixture struct {
	engine *engine.MemoryEngine
	llm    *llm.FakeClient
	events []Event
	p      *Pipeline
}

func newFixture(t *testing.T, gate engine.TestFunc) *fixture {
	t.Helper()
	f := &fixture{
		engine: &engine.MemoryEngine{Test: gate},
		llm:    &llm.FakeClient{Respond: generate.Offline},
	}
	f.p = &Pipeline{
		Engine:    f.engine,
		Generator: &generate.LLMGenerator{Client: f.llm},
		Observer:  func(e Event) { f.events = append(f.events, e) },
	}
	return f
}

func barInput(t *testing.T) Input {
	t.Helper()
	table, err := schema.ParseTable([]byte(barDescriptor))
	require.NoError(t, err)
	src, err := artifact.NewTree(map[string][]byte{
		"src/Bar/main.py": []byte("class Bar: ...\n"),
		"dagger.json":     []byte(`{"name":"Bar"}`),
	})
	require.NoError(t, err)
	return Input{Model: table, Source: src}
}

func fooInput(t *testing.T) Input {
	t.Helper()
	table := schema.NewTable(schema.Module{Name: "Foo", SDK: "python"})
	src, err := artifact.NewTree(map[string][]byte{"src/Foo/main.py": []byte("class Foo: ...\n")})
	require.NoError(t, err)
	return Input{Model: table, Source: src}
}

func gateReturning(out string) engine.TestFunc {
	return func(context.Context, engine.Spec, artifact.Tree) (string, error) { return out, nil }
}

func TestAcceptanceRequiresExactSentinel(t *testing.T) {
	cases := []struct {
		out    string
		accept bool
	}{
		{"TEST PASSED", true},
		{"TEST PASSED.", false},
		{"", false},
		{"test passed", false},
		{" TEST PASSED", false},
		{"TEST PASSED\n", false},
		{"FAILED: 3 errors", false},
	}
	for _, tc := range cases {
		t.Run(tc.out, func(t *testing.T) {
			f := newFixture(t, gateReturning(tc.out))
			tree, err := f.p.Translate(context.Background(), fooInput(t), "go", Settings{})
			if tc.accept {
				require.NoError(t, err)
				assert.False(t, tree.Empty())
				return
			}
			assert.True(t, errors.Is(err, faults.ErrValidationRejected))
			assert.True(t, tree.Empty())
			var fe *faults.Error
			require.True(t, errors.As(err, &fe))
			assert.Equal(t, tc.out, fe.Details)
		})
	}
}

func TestTranslateFooFromPython(t *testing.T) {
	f := newFixture(t, gateReturning(engine.Sentinel))
	tree, err := f.p.Translate(context.Background(), fooInput(t), "go", Settings{EngineVersion: "v0.16.1", Model: "m"})
	require.NoError(t, err)

	assert.Equal(t, []string{"main.go"}, tree.Paths())
	require.Len(t, f.engine.Created, 1)
	assert.Equal(t, engine.Spec{Language: "go", ModuleName: "Foo", EngineVersion: "v0.16.1"}, f.engine.Created[0])

	calls := f.llm.Calls()
	require.Len(t, calls, 1)
	assert.Contains(t, calls[0].Prompt, "class Foo: ...")
	assert.Contains(t, calls[0].Prompt, "python SDK")
	assert.Equal(t, "translate:go/generate", calls[0].Stage)

	var states []State
	for _, e := range f.events {
		assert.Equal(t, "translate:go", e.Job)
		states = append(states, e.State)
	}
	assert.Equal(t, []State{Initialized, Prompted, Accepted}, states)
}

func TestTranslateRejected(t *testing.T) {
	f := newFixture(t, gateReturning("compile error"))
	tree, err := f.p.Translate(context.Background(), fooInput(t), "typescript", Settings{})

	assert.True(t, tree.Empty())
	assert.True(t, errors.Is(err, faults.ErrValidationRejected))
	assert.Equal(t, "translate:typescript/test", faults.StageOf(err))
	require.NotEmpty(t, f.events)
	last := f.events[len(f.events)-1]
	assert.Equal(t, Rejected, last.State)
	assert.Equal(t, "compile error", last.Output)
	assert.Len(t, f.llm.Calls(), 1, "rejection is terminal")
}

func TestTestGateRunsOnce(t *testing.T) {
	calls := 0
	f := newFixture(t, func(context.Context, engine.Spec, artifact.Tree) (string, error) {
		calls++
		return engine.Sentinel, nil
	})
	_, err := f.p.Translate(context.Background(), fooInput(t), "python", Settings{})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

type failingEngine struct{ err error }

func (e failingEngine) CreateWorkspace(context.Context, engine.Spec) (engine.Workspace, error) {
	return nil, e.err
}

type brokenModel struct{ schema.ObjectModel }

func (brokenModel) Module(context.Context) (schema.Module, error) {
	return schema.Module{}, errors.New("api down")
}

func TestTranslateFailures(t *testing.T) {
	ctx := context.Background()

	t.Run("create workspace", func(t *testing.T) {
		f := newFixture(t, nil)
		f.p.Engine = failingEngine{err: errors.New("no engine")}
		_, err := f.p.Translate(ctx, fooInput(t), "go", Settings{})
		assert.True(t, errors.Is(err, faults.ErrUpstreamFailure))
		assert.Equal(t, "translate:go/create-workspace", faults.StageOf(err))
	})

	t.Run("generation", func(t *testing.T) {
		f := newFixture(t, nil)
		f.llm.Respond = nil
		_, err := f.p.Translate(ctx, fooInput(t), "go", Settings{})
		assert.True(t, errors.Is(err, faults.ErrUpstreamFailure))
		assert.ErrorIs(t, err, generate.ErrNoFiles)
		assert.Equal(t, "translate:go/generate", faults.StageOf(err))
		require.Len(t, f.events, 1)
		assert.Equal(t, Initialized, f.events[0].State)
	})

	t.Run("missing variable", func(t *testing.T) {
		f := newFixture(t, nil)
		f.p.Assembler = prompt.Assembler{FS: fstest.MapFS{
			prompt.TranslatorTemplate: {Data: []byte("$language $source_mod_file $style")},
		}}
		_, err := f.p.Translate(ctx, fooInput(t), "go", Settings{})
		assert.True(t, errors.Is(err, faults.ErrMissingVariable))
		assert.Equal(t, "translate:go/generate", faults.StageOf(err))
		assert.Empty(t, f.llm.Calls())
	})

	t.Run("module access", func(t *testing.T) {
		f := newFixture(t, nil)
		_, err := f.p.Translate(ctx, Input{Model: brokenModel{}}, "go", Settings{})
		assert.True(t, errors.Is(err, faults.ErrUpstreamFailure))
		assert.Equal(t, "introspect", faults.StageOf(err))
	})

	t.Run("unknown sdks", func(t *testing.T) {
		f := newFixture(t, nil)
		_, err := f.p.Translate(ctx, fooInput(t), "cobol", Settings{})
		assert.True(t, errors.Is(err, faults.ErrConfiguration))

		in := fooInput(t)
		in.Model = schema.NewTable(schema.Module{Name: "Foo", SDK: "rust"})
		_, err = f.p.Translate(ctx, in, "go", Settings{})
		assert.True(t, errors.Is(err, faults.ErrConfiguration))
		assert.Empty(t, f.engine.Created)
	})

	t.Run("source without main file", func(t *testing.T) {
		f := newFixture(t, nil)
		in := fooInput(t)
		in.Source = artifact.Tree{}
		_, err := f.p.Translate(ctx, in, "go", Settings{})
		assert.True(t, errors.Is(err, faults.ErrConfiguration))
		assert.Equal(t, "translate:go/source", faults.StageOf(err))
	})
}

func TestWriteExamplesForBar(t *testing.T) {
	f := newFixture(t, nil)
	tree, err := f.p.WriteExamples(context.Background(), barInput(t), Settings{EngineVersion: "v0.16.1"})
	require.NoError(t, err)

	var dirs []string
	for _, p := range tree.Paths() {
		dir := strings.Join(strings.SplitN(p, "/", 3)[:2], "/")
		if len(dirs) == 0 || dirs[len(dirs)-1] != dir {
			dirs = append(dirs, dir)
		}
	}
	assert.Equal(t, []string{"examples/go", "examples/python", "examples/typescript"}, dirs)

	// Base language first, then the others in fixed order, all depending on Bar.
	require.Len(t, f.engine.Created, 3)
	for i, lang := range []string{"go", "python", "typescript"} {
		spec := f.engine.Created[i]
		assert.Equal(t, lang, spec.Language)
		assert.Equal(t, ExampleModule, spec.ModuleName)
		require.Len(t, spec.Dependencies, 1)
		assert.Equal(t, "Bar", spec.Dependencies[0].Name)
		assert.Equal(t, []string{"dagger.json", "src/Bar/main.py"}, spec.Dependencies[0].Source.Paths(), lang)
	}

	// Translations are generated from the accepted base example.
	calls := f.llm.Calls()
	require.Len(t, calls, 3)
	assert.Contains(t, calls[0].Prompt, "<module name='Bar'")
	assert.Contains(t, calls[0].Prompt, "Foo_Baz", "base run carries the example naming rules")
	for _, c := range calls[1:] {
		assert.Contains(t, c.Prompt, "offline go module example")
	}

	for _, lang := range []string{"go", "python", "typescript"} {
		dir := tree.Directory("examples/" + lang)
		m, err := manifest.Read(dir)
		require.NoError(t, err, lang)
		assert.Equal(t, lang, m.SDK)
		assert.Equal(t, ExampleModule, m.Name)
		assert.Equal(t, manifest.LinkedSource, m.Dependencies[0].Source)
		assert.True(t, dir.Directory(".dependency").Empty(), "final tree carries no bootstrap copy")
	}
}

func TestWriteExamplesIsAllOrNothing(t *testing.T) {
	f := newFixture(t, func(ctx context.Context, spec engine.Spec, tree artifact.Tree) (string, error) {
		if spec.Language == "typescript" {
			return "error TS2304", nil
		}
		return engine.MainFileWritten(ctx, spec, tree)
	})
	tree, err := f.p.WriteExamples(context.Background(), barInput(t), Settings{})

	assert.True(t, tree.Empty())
	assert.True(t, errors.Is(err, faults.ErrValidationRejected))
	assert.Equal(t, "examples:typescript/test", faults.StageOf(err))
	assert.Len(t, f.engine.Created, 3)
}

func TestWriteExamplesBaseRejectedStopsEarly(t *testing.T) {
	f := newFixture(t, gateReturning("nope"))
	_, err := f.p.WriteExamples(context.Background(), barInput(t), Settings{BaseLanguage: "python"})
	assert.True(t, errors.Is(err, faults.ErrValidationRejected))
	assert.Equal(t, "examples:python/test", faults.StageOf(err))
	assert.Len(t, f.engine.Created, 1)
}

func TestWriteExamplesSchemaFilter(t *testing.T) {
	for _, filter := range []bool{false, true} {
		f := newFixture(t, nil)
		_, err := f.p.WriteExamples(context.Background(), barInput(t), Settings{FilterToMainObject: filter})
		require.NoError(t, err)
		base := f.llm.Calls()[0].Prompt
		assert.Contains(t, base, "<object name='Bar'>")
		assert.Equal(t, !filter, strings.Contains(base, "<object name='Helper'>"), "filter=%v", filter)
	}
}

func TestWriteExamplesBadBaseLanguage(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.p.WriteExamples(context.Background(), barInput(t), Settings{BaseLanguage: "java"})
	assert.True(t, errors.Is(err, faults.ErrConfiguration))
	assert.Empty(t, f.engine.Created)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "initialized", Initialized.String())
	assert.Equal(t, "rejected", Rejected.String())
	assert.Equal(t, "unknown", State(42).String())
}

func exampleTree(t *testing.T, name, language string) artifact.Tree {
	t.Helper()
	mainPath, err := sdk.MainFile(language, name)
	require.NoError(t, err)
	tree, err := artifact.NewTree(map[string][]byte{mainPath: []byte("example body\n")})
	require.NoError(t, err)
	return tree
}

func TestTranslateExampleReadsBootstrapManifest(t *testing.T) {
	f := newFixture(t, nil)
	dep, err := artifact.NewTree(map[string][]byte{"src/Bar/main.py": []byte("class Bar: ...\n")})
	require.NoError(t, err)
	bootstrap, err := manifest.Build(exampleTree(t, "demo", "python"), manifest.Options{
		Name:           "demo",
		DependencyName: "Bar",
		SDK:            "python",
		Mode:           manifest.Bootstrap,
		Embedded:       dep,
	})
	require.NoError(t, err)

	tree, err := f.p.translateExample(context.Background(), Settings{}, "examples:go", "go", bootstrap)
	require.NoError(t, err)
	assert.Equal(t, "offline go module demo\n", mustFile(t, tree, "main.go"))

	require.Len(t, f.engine.Created, 1)
	spec := f.engine.Created[0]
	assert.Equal(t, "demo", spec.ModuleName)
	require.Len(t, spec.Dependencies, 1)
	assert.Equal(t, "Bar", spec.Dependencies[0].Name)
	assert.Equal(t, dep.Paths(), spec.Dependencies[0].Source.Paths())

	calls := f.llm.Calls()
	require.Len(t, calls, 1)
	assert.Contains(t, calls[0].Prompt, "example body")
	assert.Contains(t, calls[0].Prompt, "python")
}

func TestTranslateExampleNeedsEmbeddedDependency(t *testing.T) {
	example := exampleTree(t, ExampleModule, "go")
	opts := manifest.Options{Name: ExampleModule, DependencyName: "Bar", SDK: "go", Mode: manifest.Linked}
	linked, err := manifest.Build(example, opts)
	require.NoError(t, err)

	opts.Mode = manifest.Bootstrap
	opts.Embedded = barInput(t).Source
	bootstrap, err := manifest.Build(example, opts)
	require.NoError(t, err)
	stripped, err := bootstrap.WithoutDirectory(manifest.BootstrapDir("Bar"))
	require.NoError(t, err)

	cases := map[string]artifact.Tree{
		"no manifest":        example,
		"linked manifest":    linked,
		"embedded copy gone": stripped,
	}
	for name, tree := range cases {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t, nil)
			_, err := f.p.translateExample(context.Background(), Settings{}, "examples:python", "python", tree)
			assert.True(t, errors.Is(err, faults.ErrConfiguration), "%v", err)
			assert.Equal(t, "examples:python/source", faults.StageOf(err))
			assert.Empty(t, f.engine.Created)
			assert.Empty(t, f.llm.Calls())
		})
	}
}

func TestWriteExamplesRejectsEmptySourceUpFront(t *testing.T) {
	f := newFixture(t, nil)
	in := barInput(t)
	in.Source = artifact.Tree{}
	_, err := f.p.WriteExamples(context.Background(), in, Settings{})
	assert.True(t, errors.Is(err, faults.ErrConfiguration))
	assert.Equal(t, "examples:go/source", faults.StageOf(err))
	assert.Empty(t, f.engine.Created)
	assert.Empty(t, f.llm.Calls())
}

func TestWriteExamplesManifestFailureNamesJob(t *testing.T) {
	f := newFixture(t, nil)
	in := barInput(t)
	in.Model = schema.NewTable(schema.Module{SDK: "python"})
	_, err := f.p.WriteExamples(context.Background(), in, Settings{BaseLanguage: "python"})
	assert.True(t, errors.Is(err, faults.ErrConfiguration), "%v", err)
	assert.Equal(t, "examples:python/manifest", faults.StageOf(err))
	assert.Len(t, f.engine.Created, 1)
}

func mustFile(t *testing.T, tree artifact.Tree, p string) string {
	t.Helper()
	got, err := tree.File(p)
	require.NoError(t, err)
	return got
}

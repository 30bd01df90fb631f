// Package pipeline runs the generate-validate-package flow: translating a
// module to another SDK and bootstrapping worked examples for it.
package pipeline

import (
	"context"
	"fmt"
	"slices"

	"go.uber.org/zap"

	"modsmith/internal/artifact"
	"modsmith/internal/engine"
	"modsmith/internal/faults"
	"modsmith/internal/generate"
	"modsmith/internal/manifest"
	"modsmith/internal/prompt"
	"modsmith/internal/schema"
	"modsmith/internal/sdk"
)

const (
	// ExampleModule is the name of every generated example module.
	ExampleModule = "example"
	// ExamplesDir is the root of the tree returned by WriteExamples.
	ExamplesDir = "examples"
	// DefaultBaseLanguage is the language the first example is written in.
	DefaultBaseLanguage = sdk.Go
)

// Settings is the per-invocation configuration.
type Settings struct {
	Model              string
	EngineVersion      string
	BaseLanguage       string
	FilterToMainObject bool
}

func (s Settings) baseLanguage() string {
	if s.BaseLanguage == "" {
		return DefaultBaseLanguage
	}
	return s.BaseLanguage
}

// Input is the module a pipeline call works on.
type Input struct {
	Model  schema.ObjectModel
	Source artifact.Tree
}

// Pipeline holds the collaborators. It keeps no state between calls.
type Pipeline struct {
	Engine    engine.Engine
	Generator generate.Generator
	Assembler prompt.Assembler
	Logger    *zap.Logger
	Observer  Observer
}

func (p *Pipeline) loop(s Settings) Loop {
	return Loop{
		Engine:    p.Engine,
		Generator: p.Generator,
		Assembler: p.Assembler,
		Model:     s.Model,
		Logger:    p.logger(),
		Observer:  p.Observer,
	}
}

func (p *Pipeline) logger() *zap.Logger {
	if p.Logger == nil {
		return zap.NewNop()
	}
	return p.Logger
}

// Translate returns the module rewritten for language, accepted by its test
// gate. Translating to the module's own SDK is allowed.
func (p *Pipeline) Translate(ctx context.Context, in Input, language string, s Settings) (artifact.Tree, error) {
	mod, err := in.Model.Module(ctx)
	if err != nil {
		return artifact.Tree{}, faults.Upstream("introspect", err)
	}
	return p.translate(ctx, s, translation{
		job:        "translate:" + language,
		moduleName: mod.Name,
		sourceSDK:  mod.SDK,
		source:     in.Source,
		language:   language,
	})
}

type translation struct {
	job        string
	moduleName string
	sourceSDK  string
	source     artifact.Tree
	language   string
	deps       []engine.Dependency
}

func (p *Pipeline) translate(ctx context.Context, s Settings, t translation) (artifact.Tree, error) {
	if !sdk.Known(t.language) {
		return artifact.Tree{}, faults.New(faults.Configuration, t.job, fmt.Sprintf("unknown target sdk %q", t.language))
	}
	mainPath, err := sdk.MainFile(t.sourceSDK, t.moduleName)
	if err != nil {
		return artifact.Tree{}, err
	}
	src, err := t.source.File(mainPath)
	if err != nil {
		return artifact.Tree{}, faults.Wrap(faults.Configuration, stage(t.job, "source"), "source module has no main file", err)
	}
	return p.loop(s).Run(ctx, Job{
		Name: t.job,
		Spec: engine.Spec{
			Language:      t.language,
			ModuleName:    t.moduleName,
			EngineVersion: s.EngineVersion,
			Dependencies:  t.deps,
		},
		Template: prompt.TranslatorTemplate,
		Vars: prompt.Vars{}.
			With("language", t.language).
			With("source_mod_sdk", t.sourceSDK).
			With("source_mod_file", src),
	})
}

// WriteExamples writes an example module in every language of
// sdk.ExampleLanguages, each under examples/<language>. The base language
// example is generated from the schema and the others are translated from
// it. Any failure discards everything.
func (p *Pipeline) WriteExamples(ctx context.Context, in Input, s Settings) (artifact.Tree, error) {
	log := p.logger()
	base := s.baseLanguage()
	if !slices.Contains(sdk.ExampleLanguages, base) {
		return artifact.Tree{}, faults.New(faults.Configuration, "examples", fmt.Sprintf("base language %q is not an example language", base))
	}

	mod, err := in.Model.Module(ctx)
	if err != nil {
		return artifact.Tree{}, faults.Upstream("introspect", err)
	}
	baseJob := "examples:" + base
	if in.Source.Empty() {
		return artifact.Tree{}, faults.New(faults.Configuration, stage(baseJob, "source"),
			fmt.Sprintf("module %s has no source files for examples to depend on", mod.Name))
	}
	text, err := schema.Introspector{FilterToMainObject: s.FilterToMainObject, Logger: log}.Introspect(ctx, in.Model)
	if err != nil {
		return artifact.Tree{}, faults.Upstream("introspect", err)
	}

	example, err := p.loop(s).Run(ctx, Job{
		Name: baseJob,
		Spec: engine.Spec{
			Language:      base,
			ModuleName:    ExampleModule,
			EngineVersion: s.EngineVersion,
			Dependencies:  []engine.Dependency{{Name: mod.Name, Source: in.Source}},
		},
		Template: prompt.ExamplerTemplate,
		Vars: prompt.Vars{}.
			With("language", base).
			With("source_mod_name", mod.Name).
			With("source_mod_schema", text),
		ExamplesReference: true,
	})
	if err != nil {
		return artifact.Tree{}, err
	}

	opts := manifest.Options{
		Name:           ExampleModule,
		DependencyName: mod.Name,
		SDK:            base,
		EngineVersion:  s.EngineVersion,
		Mode:           manifest.Bootstrap,
		Embedded:       in.Source,
	}
	bootstrap, err := manifest.Build(example, opts)
	if err != nil {
		return artifact.Tree{}, faults.WithStage(stage(baseJob, "manifest"), err)
	}
	out, err := place(artifact.Tree{}, example, opts, base)
	if err != nil {
		return artifact.Tree{}, faults.WithStage(stage(baseJob, "manifest"), err)
	}

	for _, lang := range sdk.ExampleLanguages {
		if lang == base {
			continue
		}
		job := "examples:" + lang
		translated, err := p.translateExample(ctx, s, job, lang, bootstrap)
		if err != nil {
			log.Warn("examples aborted", zap.String("language", lang), zap.Error(err))
			return artifact.Tree{}, err
		}
		if out, err = place(out, translated, opts, lang); err != nil {
			return artifact.Tree{}, faults.WithStage(stage(job, "manifest"), err)
		}
	}
	log.Info("examples written", zap.String("module", mod.Name), zap.Int("files", out.Len()))
	return out, nil
}

// translateExample translates an example that carries a bootstrap manifest.
// The example is read as a module: its name and SDK come from the manifest
// and its dependency from the copy embedded at the manifest's source path.
func (p *Pipeline) translateExample(ctx context.Context, s Settings, job, language string, bootstrap artifact.Tree) (artifact.Tree, error) {
	m, err := manifest.Read(bootstrap)
	if err != nil {
		return artifact.Tree{}, faults.Wrap(faults.Configuration, stage(job, "source"), "example has no readable manifest", err)
	}
	if len(m.Dependencies) == 0 {
		return artifact.Tree{}, faults.New(faults.Configuration, stage(job, "source"), "example manifest declares no dependency")
	}
	dep := m.Dependencies[0]
	embedded := bootstrap.Directory(dep.Source)
	if embedded.Empty() {
		return artifact.Tree{}, faults.New(faults.Configuration, stage(job, "source"),
			fmt.Sprintf("dependency %s is not embedded at %q", dep.Name, dep.Source))
	}
	return p.translate(ctx, s, translation{
		job:        job,
		moduleName: m.Name,
		sourceSDK:  m.SDK,
		source:     bootstrap,
		language:   language,
		deps:       []engine.Dependency{{Name: dep.Name, Source: embedded}},
	})
}

// place writes a linked manifest into example and mounts it at
// examples/<language>.
func place(out, example artifact.Tree, opts manifest.Options, language string) (artifact.Tree, error) {
	opts.Mode = manifest.Linked
	opts.SDK = language
	opts.Embedded = artifact.Tree{}
	linked, err := manifest.Build(example, opts)
	if err != nil {
		return artifact.Tree{}, err
	}
	return out.WithDirectory(ExamplesDir+"/"+language, linked)
}

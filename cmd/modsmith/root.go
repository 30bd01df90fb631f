package main

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"modsmith/internal/artifact"
	"modsmith/internal/artifact/store"
	"modsmith/internal/config"
	"modsmith/internal/engine"
	"modsmith/internal/generate"
	"modsmith/internal/llm"
	"modsmith/internal/logging"
	"modsmith/internal/pipeline"
	"modsmith/internal/prompt"
	"modsmith/internal/safeio"
	"modsmith/internal/schema"
)

// app carries what the persistent flags resolve to.
type app struct {
	configFile string
	envFile    string
	verbose    bool
	dryRun     bool

	cfg    *config.Config
	logger *zap.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "modsmith",
		Short: "Generate, validate and package modules across SDKs",
		Long: `modsmith asks a language model to rewrite a module for another SDK, or to
write example modules that call it, and accepts the result only when the
engine's test gate passes.

Accepted trees are published to the artifact store under a fresh run id.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup()
		},
		PersistentPostRun: func(_ *cobra.Command, _ []string) {
			if a.logger != nil {
				_ = a.logger.Sync()
			}
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.configFile, "config", "", "config file (yaml, json or toml)")
	pf.StringVar(&a.envFile, "env-file", "", "env file to load instead of ./.env")
	pf.BoolVarP(&a.verbose, "verbose", "v", false, "debug logging")
	pf.BoolVar(&a.dryRun, "dry-run", false, "use the offline model and the in-memory engine")

	root.AddCommand(
		a.translateCmd(),
		a.examplesCmd(),
		a.schemaCmd(),
		mainFileCmd(),
		a.inspectCmd(),
	)
	return root
}

func (a *app) setup() error {
	cfg, err := config.Load(config.LoadOptions{ConfigFile: a.configFile, EnvFile: a.envFile})
	if err != nil {
		return err
	}
	if a.dryRun {
		cfg.LLM.Provider = llm.ProviderFake
		cfg.LLM.RPS = 0
		cfg.Engine.Kind = config.EngineMemory
	}
	logCfg := cfg.LogConfig()
	if a.verbose {
		logCfg.Level = "debug"
	}
	logger, err := logging.New(logCfg)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	a.cfg = cfg
	a.logger = logger
	return nil
}

func (a *app) settings() pipeline.Settings {
	return pipeline.Settings{
		Model:              a.cfg.LLM.Model,
		EngineVersion:      a.cfg.Engine.Version,
		BaseLanguage:       a.cfg.Examples.BaseLanguage,
		FilterToMainObject: a.cfg.Introspection.FilterToMainObject,
	}
}

// pipeline wires the configured model and engine. The returned context
// carries the per-job usage hook; the returned func logs outstanding usage
// and closes the model client.
func (a *app) pipeline(ctx context.Context) (context.Context, *pipeline.Pipeline, func() error, error) {
	var fake *llm.FakeClient
	if a.cfg.LLM.Provider == llm.ProviderFake {
		fake = &llm.FakeClient{Respond: generate.Offline}
	}
	client, err := llm.Open(ctx, a.cfg.LLMOptions(), fake, a.logger.Named("llm"))
	if err != nil {
		return nil, nil, nil, err
	}

	refs, err := a.references()
	if err != nil {
		_ = client.Close()
		return nil, nil, nil, err
	}
	var eng engine.Engine
	switch a.cfg.Engine.Kind {
	case config.EngineMemory:
		eng = &engine.MemoryEngine{References: refs}
	default:
		eng = &engine.ContainerEngine{
			Image:      a.cfg.Engine.Image,
			DockerHost: a.cfg.Engine.DockerHost,
			References: refs,
			Logger:     a.logger.Named("engine"),
		}
	}
	tally := newJobUsage(a.logger.Named("usage"))

	assembler := prompt.Assembler{}
	p := &pipeline.Pipeline{
		Engine: eng,
		Generator: &generate.LLMGenerator{
			Client:    client,
			Assembler: assembler,
			Logger:    a.logger.Named("generate"),
		},
		Assembler: assembler,
		Logger:    a.logger.Named("pipeline"),
		Observer:  tally.observe(a.observe),
	}
	done := func() error {
		tally.flush()
		return client.Close()
	}
	return llm.WithHook(ctx, tally), p, done, nil
}

// references returns the snippet catalog override, or nil for the embedded
// snippets.
func (a *app) references() (fs.FS, error) {
	dir := strings.TrimSpace(a.cfg.Engine.ReferencesDir)
	if dir == "" {
		return nil, nil
	}
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("references dir: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("references dir %s is not a directory", dir)
	}
	return os.DirFS(dir), nil
}

func (a *app) observe(e pipeline.Event) {
	fields := []zap.Field{
		zap.String("job", e.Job),
		zap.String("language", e.Language),
		zap.Stringer("state", e.State),
	}
	if e.State == pipeline.Rejected {
		a.logger.Warn("job rejected", append(fields, zap.String("output", e.Output))...)
		return
	}
	a.logger.Info("job state", fields...)
}

func loadInput(modulePath, sourceDir string) (pipeline.Input, error) {
	table, err := schema.LoadTable(modulePath)
	if err != nil {
		return pipeline.Input{}, err
	}
	source, err := safeio.LoadTree(sourceDir)
	if err != nil {
		return pipeline.Input{}, err
	}
	return pipeline.Input{Model: table, Source: source}, nil
}

// withStore opens the artifact store for fn and logs its cache stats
// afterwards.
func (a *app) withStore(ctx context.Context, fn func(*store.CachedStore) error) error {
	log := a.logger.Named("store")
	s, err := store.Open(ctx, a.cfg.StoreOptions(), log)
	if err != nil {
		return err
	}
	defer func() {
		log.Debug("artifact store stats", zap.Object("stats", s.Stats()))
		_ = s.Close()
	}()
	return fn(s)
}

// publish saves tree under a new run id and, when out is set, writes it to
// disk as well. It returns the run id and the links the store hands out.
func (a *app) publish(ctx context.Context, tree artifact.Tree, out string) (string, map[string]string, error) {
	runID := store.NewRunID()
	var links map[string]string
	err := a.withStore(ctx, func(s *store.CachedStore) error {
		if err := s.Save(ctx, runID, tree); err != nil {
			return err
		}
		a.logger.Info("published", zap.String("run_id", runID), zap.Int("files", tree.Len()))
		var err error
		links, err = s.Links(ctx, runID, tree)
		return err
	})
	if err != nil {
		return "", nil, err
	}
	if out != "" {
		if err := safeio.WriteTree(out, tree); err != nil {
			return "", nil, err
		}
	}
	return runID, links, nil
}

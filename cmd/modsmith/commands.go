package main

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/spf13/cobra"

	"modsmith/internal/artifact"
	"modsmith/internal/artifact/store"
	"modsmith/internal/manifest"
	"modsmith/internal/pipeline"
	"modsmith/internal/schema"
	"modsmith/internal/sdk"
)

type moduleFlags struct {
	module string
	source string
	out    string
}

func (f *moduleFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.module, "module", "", "object-model descriptor (yaml)")
	cmd.Flags().StringVar(&f.source, "source", ".", "module source directory")
	cmd.Flags().StringVar(&f.out, "out", "", "also write the accepted tree to this directory")
	_ = cmd.MarkFlagRequired("module")
}

func (a *app) translateCmd() *cobra.Command {
	var (
		mf       moduleFlags
		language string
	)
	cmd := &cobra.Command{
		Use:   "translate",
		Short: "Rewrite a module for another SDK",
		Example: `  modsmith translate --module foo.yaml --source ./foo --language python
  modsmith --dry-run translate --module foo.yaml --source ./foo --language go --out ./foo-go`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			in, err := loadInput(mf.module, mf.source)
			if err != nil {
				return err
			}
			ctx, p, closeClient, err := a.pipeline(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = closeClient() }()

			tree, err := p.Translate(ctx, in, language, a.settings())
			if err != nil {
				return err
			}
			return a.report(ctx, cmd, tree, mf.out)
		},
	}
	mf.register(cmd)
	cmd.Flags().StringVarP(&language, "language", "l", "", "target SDK ("+strings.Join(sdk.ExampleLanguages, ", ")+", ...)")
	_ = cmd.MarkFlagRequired("language")
	return cmd
}

func (a *app) examplesCmd() *cobra.Command {
	var (
		mf           moduleFlags
		baseLanguage string
		filterMain   bool
	)
	cmd := &cobra.Command{
		Use:   "examples",
		Short: "Write example modules calling a module, one per example language",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			in, err := loadInput(mf.module, mf.source)
			if err != nil {
				return err
			}
			s := a.settings()
			if cmd.Flags().Changed("base-language") {
				s.BaseLanguage = baseLanguage
			}
			if cmd.Flags().Changed("filter-main-object") {
				s.FilterToMainObject = filterMain
			}

			ctx, p, closeClient, err := a.pipeline(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = closeClient() }()

			tree, err := p.WriteExamples(ctx, in, s)
			if err != nil {
				return err
			}
			return a.report(ctx, cmd, tree, mf.out)
		},
	}
	mf.register(cmd)
	cmd.Flags().StringVar(&baseLanguage, "base-language", pipeline.DefaultBaseLanguage, "language of the first example")
	cmd.Flags().BoolVar(&filterMain, "filter-main-object", false, "describe only the object named after the module")
	return cmd
}

func (a *app) schemaCmd() *cobra.Command {
	var (
		module     string
		filterMain bool
	)
	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Print the schema text a module contributes to example prompts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			table, err := schema.LoadTable(module)
			if err != nil {
				return err
			}
			filter := a.cfg.Introspection.FilterToMainObject
			if cmd.Flags().Changed("filter-main-object") {
				filter = filterMain
			}
			in := schema.Introspector{FilterToMainObject: filter, Logger: a.logger.Named("schema")}
			text, err := in.Introspect(cmd.Context(), table)
			if err != nil {
				return err
			}
			_, err = fmt.Fprint(cmd.OutOrStdout(), text)
			return err
		},
	}
	cmd.Flags().StringVar(&module, "module", "", "object-model descriptor (yaml)")
	cmd.Flags().BoolVar(&filterMain, "filter-main-object", false, "describe only the object named after the module")
	_ = cmd.MarkFlagRequired("module")
	return cmd
}

func mainFileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "main-file <sdk> <module-name>",
		Short: "Print the main source file path for an SDK",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := sdk.MainFile(args[0], args[1])
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), p)
			return err
		},
	}
}

func (a *app) inspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <run-id>",
		Short: "List a published artifact and print its manifests",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return a.withStore(ctx, func(s *store.CachedStore) error {
				tree, err := s.Load(ctx, args[0])
				if err != nil {
					return fmt.Errorf("run %s: %w", args[0], err)
				}
				links, err := s.Links(ctx, args[0], tree)
				if err != nil {
					return err
				}
				return printTree(cmd, tree, links)
			})
		},
	}
}

// report prints the run id and file list of an accepted tree.
func (a *app) report(ctx context.Context, cmd *cobra.Command, tree artifact.Tree, out string) error {
	runID, links, err := a.publish(ctx, tree, out)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(cmd.OutOrStdout(), "run %s\n", runID); err != nil {
		return err
	}
	return printTree(cmd, tree, links)
}

// printTree lists the files of tree, each followed by its link when the
// store gave one, then summarizes every manifest.
func printTree(cmd *cobra.Command, tree artifact.Tree, links map[string]string) error {
	w := cmd.OutOrStdout()
	for _, p := range tree.Paths() {
		if link := links[p]; link != "" {
			fmt.Fprintf(w, "  %s %s\n", p, link)
			continue
		}
		fmt.Fprintf(w, "  %s\n", p)
	}
	for _, p := range tree.Paths() {
		if path.Base(p) != manifest.FileName {
			continue
		}
		raw, err := tree.Bytes(p)
		if err != nil {
			return err
		}
		m, err := manifest.Parse(raw)
		if err != nil {
			return fmt.Errorf("%s: %w", p, err)
		}
		fmt.Fprintf(w, "%s: name=%s sdk=%s engine=%s\n", p, m.Name, m.SDK, m.EngineVersion)
		for _, d := range m.Dependencies {
			fmt.Fprintf(w, "  depends on %s (%s)\n", d.Name, d.Source)
		}
	}
	return nil
}

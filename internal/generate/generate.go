// Package generate binds a generation request to a workspace and writes the
// model's output into it.
package generate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"modsmith/internal/engine"
	"modsmith/internal/llm"
	"modsmith/internal/prompt"
	"modsmith/internal/sdk"
)

var (
	ErrNoWorkspace = errors.New("generate: session has no workspace")
	ErrNoTemplate  = errors.New("generate: session has no template")
	ErrNoFiles     = errors.New("generate: model returned no files")
)

// Generator opens generation sessions.
type Generator interface {
	Session(model string) Session
}

// Session is an immutable request builder; every With method returns a new
// Session and leaves the receiver unchanged.
type Session interface {
	WithWorkspace(ws engine.Workspace) Session
	WithReferenceText(text string) Session
	WithVariable(name, value string) Session
	WithTemplateFile(path string) Session
	ResolveWorkspace(ctx context.Context) (engine.Workspace, error)
}

// File is one file written by the model.
type File struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// Input is the structured input sent alongside the rendered prompt.
type Input struct {
	Language   string `json:"language"`
	ModuleName string `json:"module_name"`
	MainFile   string `json:"main_file"`
	Files      []File `json:"files"`
}

// Output is the JSON document the model must return.
type Output struct {
	Files []File `json:"files"`
}

const outputInstructions = `[OUTPUT_FORMAT]
Respond with a single JSON object of the form {"files":[{"path":"<path relative to the module root>","content":"<full file content>"}]}.
Always include the main file given in the input. Paths must be relative and must not leave the module root.
`

// LLMGenerator renders requests and asks an llm.Client for the module files.
type LLMGenerator struct {
	Client    llm.Client
	Assembler prompt.Assembler
	Logger    *zap.Logger
}

func (g *LLMGenerator) Session(model string) Session {
	return session{gen: g, model: model}
}

type session struct {
	gen      *LLMGenerator
	model    string
	ws       engine.Workspace
	refs     []string
	vars     prompt.Vars
	template string
}

func (s session) WithWorkspace(ws engine.Workspace) Session {
	s.ws = ws
	return s
}

func (s session) WithReferenceText(text string) Session {
	s.refs = append(append([]string(nil), s.refs...), text)
	return s
}

func (s session) WithVariable(name, value string) Session {
	s.vars = s.vars.With(name, value)
	return s
}

func (s session) WithTemplateFile(path string) Session {
	s.template = path
	return s
}

// ResolveWorkspace submits the request and returns a workspace holding the
// generated files. The bound workspace is not modified.
func (s session) ResolveWorkspace(ctx context.Context) (engine.Workspace, error) {
	if s.ws == nil {
		return nil, ErrNoWorkspace
	}
	if s.template == "" {
		return nil, ErrNoTemplate
	}
	log := s.gen.logger().With(zap.String("model", s.model), zap.String("template", s.template))

	req, err := s.gen.Assembler.Assemble(s.refs, s.vars, s.template)
	if err != nil {
		return nil, err
	}

	spec := s.ws.Spec()
	mainFile, err := sdk.MainFile(spec.Language, spec.ModuleName)
	if err != nil {
		return nil, err
	}
	tree, err := s.ws.Tree(ctx)
	if err != nil {
		return nil, fmt.Errorf("generate: read workspace: %w", err)
	}
	in := Input{Language: spec.Language, ModuleName: spec.ModuleName, MainFile: mainFile}
	if err := tree.Each(func(path string, content []byte) error {
		in.Files = append(in.Files, File{Path: path, Content: string(content)})
		return nil
	}); err != nil {
		return nil, fmt.Errorf("generate: read workspace: %w", err)
	}

	raw, err := s.gen.Client.GenerateJSON(llm.WithDefaultStage(ctx, "generate"), prompt.Render(req)+"\n"+outputInstructions, in)
	if err != nil {
		return nil, err
	}
	var out Output
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("generate: decode model output: %w", err)
	}
	if len(out.Files) == 0 {
		return nil, ErrNoFiles
	}

	ws := s.ws
	for _, f := range out.Files {
		next, err := ws.WithFile(f.Path, f.Content)
		if err != nil {
			return nil, fmt.Errorf("generate: write %s: %w", f.Path, err)
		}
		ws = next
	}
	log.Info("generated files", zap.String("language", spec.Language), zap.Int("files", len(out.Files)))
	return ws, nil
}

func (g *LLMGenerator) logger() *zap.Logger {
	if g.Logger == nil {
		return zap.NewNop()
	}
	return g.Logger
}

// Offline answers generation requests without a model by writing a stub
// main file. It is the responder used for dry runs.
func Offline(_ context.Context, _ string, input any) (json.RawMessage, error) {
	in, ok := input.(Input)
	if !ok {
		return nil, fmt.Errorf("generate: unexpected input %T", input)
	}
	return json.Marshal(Output{Files: []File{{
		Path:    in.MainFile,
		Content: fmt.Sprintf("offline %s module %s\n", in.Language, in.ModuleName),
	}}})
}

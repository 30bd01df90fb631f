package pipeline

import (
	"context"

	"go.uber.org/zap"

	"modsmith/internal/artifact"
	"modsmith/internal/engine"
	"modsmith/internal/faults"
	"modsmith/internal/generate"
	"modsmith/internal/llm"
	"modsmith/internal/prompt"
)

// State is a step of a generate-validate run.
type State int

const (
	Initialized State = iota
	Prompted
	Accepted
	Rejected
)

func (s State) String() string {
	switch s {
	case Initialized:
		return "initialized"
	case Prompted:
		return "prompted"
	case Accepted:
		return "accepted"
	case Rejected:
		return "rejected"
	}
	return "unknown"
}

// Event reports a state change of one job.
type Event struct {
	Job      string
	Language string
	State    State
	// Output is the test gate result; set for Accepted and Rejected.
	Output string
}

// Observer receives every Event synchronously.
type Observer func(Event)

// Job is one generate-validate run.
type Job struct {
	// Name prefixes the stage of every error the job returns,
	// e.g. "translate:python".
	Name     string
	Spec     engine.Spec
	Template string
	Vars     prompt.Vars
	// ExamplesReference adds the workspace's example naming rules to the
	// reference documents.
	ExamplesReference bool
}

// Loop runs jobs: create a workspace, generate into it, test it once, and
// return its files only when the test gate reports engine.Sentinel.
type Loop struct {
	Engine    engine.Engine
	Generator generate.Generator
	Assembler prompt.Assembler
	Model     string
	Logger    *zap.Logger
	Observer  Observer
}

func (l Loop) Run(ctx context.Context, job Job) (artifact.Tree, error) {
	log := l.logger().With(zap.String("job", job.Name), zap.String("language", job.Spec.Language))
	fail := func(step string, err error) (artifact.Tree, error) {
		err = faults.Upstream(stage(job.Name, step), err)
		log.Warn("job failed", zap.String("step", step), zap.Error(err))
		return artifact.Tree{}, err
	}

	ws, err := l.Engine.CreateWorkspace(ctx, job.Spec)
	if err != nil {
		return fail("create-workspace", err)
	}
	l.emit(log, job, Initialized, "")

	refs, err := references(ctx, ws, job)
	if err != nil {
		return fail("generate", err)
	}
	req, err := l.Assembler.Assemble(refs, job.Vars, job.Template)
	if err != nil {
		return fail("generate", err)
	}
	sess := l.Generator.Session(l.Model).WithWorkspace(ws)
	for _, ref := range req.References {
		sess = sess.WithReferenceText(ref)
	}
	for _, b := range req.Vars {
		sess = sess.WithVariable(b.Name, b.Value)
	}
	candidate, err := sess.WithTemplateFile(req.TemplatePath).ResolveWorkspace(llm.WithStage(ctx, stage(job.Name, "generate")))
	if err != nil {
		return fail("generate", err)
	}
	l.emit(log, job, Prompted, "")

	out, err := candidate.Test(ctx)
	if err != nil {
		return fail("test", err)
	}
	if out != engine.Sentinel {
		l.emit(log, job, Rejected, out)
		err := faults.New(faults.ValidationRejected, stage(job.Name, "test"), "test gate did not pass").WithDetails(out)
		log.Warn("job rejected", zap.String("output", out))
		return artifact.Tree{}, err
	}
	l.emit(log, job, Accepted, out)

	tree, err := candidate.Tree(ctx)
	if err != nil {
		return fail("extract", err)
	}
	return tree, nil
}

func references(ctx context.Context, ws engine.Workspace, job Job) ([]string, error) {
	ref, err := ws.SDKReference(ctx, job.Spec.Language)
	if err != nil {
		return nil, err
	}
	refs := []string{ref}
	if job.ExamplesReference {
		ex, err := ws.ExamplesReference(ctx)
		if err != nil {
			return nil, err
		}
		if ex != "" {
			refs = append(refs, ex)
		}
	}
	return refs, nil
}

func (l Loop) emit(log *zap.Logger, job Job, s State, out string) {
	log.Info("job state", zap.Stringer("state", s))
	if l.Observer != nil {
		l.Observer(Event{Job: job.Name, Language: job.Spec.Language, State: s, Output: out})
	}
}

func (l Loop) logger() *zap.Logger {
	if l.Logger == nil {
		return zap.NewNop()
	}
	return l.Logger
}

func stage(job, step string) string {
	if job == "" {
		return step
	}
	return job + "/" + step
}

package main

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"modsmith/internal/llm"
	"modsmith/internal/pipeline"
)

// jobUsage tallies model traffic per pipeline job. It rides the request
// context as an llm.Hook and logs a job's totals once the job settles.
type jobUsage struct {
	logger *zap.Logger

	mu   sync.Mutex
	jobs map[string]*usage
}

type usage struct {
	calls         int
	errors        int
	promptBytes   int
	responseBytes int
}

var _ llm.Hook = (*jobUsage)(nil)

func newJobUsage(logger *zap.Logger) *jobUsage {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &jobUsage{logger: logger, jobs: map[string]*usage{}}
}

// jobOf strips the step from a "<job>/<step>" stage.
func jobOf(stage string) string {
	job, _, _ := strings.Cut(stage, "/")
	return job
}

func (u *jobUsage) entry(stage string) *usage {
	job := jobOf(stage)
	t, ok := u.jobs[job]
	if !ok {
		t = &usage{}
		u.jobs[job] = t
	}
	return t
}

func (u *jobUsage) Before(_ context.Context, stage, prompt string, _ any) {
	u.mu.Lock()
	defer u.mu.Unlock()
	t := u.entry(stage)
	t.calls++
	t.promptBytes += len(prompt)
}

func (u *jobUsage) After(_ context.Context, stage string, raw json.RawMessage, err error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	t := u.entry(stage)
	t.responseBytes += len(raw)
	if err != nil {
		t.errors++
	}
}

// observe reports a job's usage when it is accepted or rejected, then hands
// the event to next.
func (u *jobUsage) observe(next pipeline.Observer) pipeline.Observer {
	return func(e pipeline.Event) {
		if e.State == pipeline.Accepted || e.State == pipeline.Rejected {
			u.report(e.Job)
		}
		if next != nil {
			next(e)
		}
	}
}

func (u *jobUsage) report(job string) {
	u.mu.Lock()
	t, ok := u.jobs[job]
	delete(u.jobs, job)
	u.mu.Unlock()
	if !ok {
		return
	}
	u.logger.Info("model usage",
		zap.String("job", job),
		zap.Int("calls", t.calls),
		zap.Int("errors", t.errors),
		zap.Int("prompt_bytes", t.promptBytes),
		zap.Int("response_bytes", t.responseBytes),
	)
}

// flush reports jobs that failed before reaching the test gate.
func (u *jobUsage) flush() {
	u.mu.Lock()
	jobs := make([]string, 0, len(u.jobs))
	for job := range u.jobs {
		jobs = append(jobs, job)
	}
	u.mu.Unlock()
	sort.Strings(jobs)
	for _, job := range jobs {
		u.report(job)
	}
}

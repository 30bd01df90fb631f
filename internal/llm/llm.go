// Package llm provides JSON-mode model clients and the middleware that wraps
// them.
package llm

import (
	"context"
	"encoding/json"
	"errors"
)

var ErrInvalidJSON = errors.New("llm: invalid JSON from model")

// Client generates a JSON document from a prompt and a structured input.
type Client interface {
	Name() string
	GenerateJSON(ctx context.Context, prompt string, input any) (json.RawMessage, error)
	Close() error
}

// Hook observes every call made through a client wrapped with WithHooks.
type Hook interface {
	Before(ctx context.Context, stage, prompt string, input any)
	After(ctx context.Context, stage string, raw json.RawMessage, err error)
}

type ctxKeyHook struct{}
type ctxKeyStage struct{}

// WithHook attaches a Hook to ctx.
func WithHook(ctx context.Context, hook Hook) context.Context {
	return context.WithValue(ctx, ctxKeyHook{}, hook)
}

// HookFrom returns the hook stored in the context.
func HookFrom(ctx context.Context) Hook {
	if h, ok := ctx.Value(ctxKeyHook{}).(Hook); ok {
		return h
	}
	return nil
}

// WithStage tags ctx with the pipeline stage issuing the call.
func WithStage(ctx context.Context, stage string) context.Context {
	return context.WithValue(ctx, ctxKeyStage{}, stage)
}

// WithDefaultStage tags ctx with stage unless a caller already set one.
func WithDefaultStage(ctx context.Context, stage string) context.Context {
	if _, ok := ctx.Value(ctxKeyStage{}).(string); ok {
		return ctx
	}
	return WithStage(ctx, stage)
}

// StageFrom returns the stage string stored in the context.
func StageFrom(ctx context.Context) string {
	if s, ok := ctx.Value(ctxKeyStage{}).(string); ok {
		return s
	}
	return "unknown"
}

func validJSON(raw []byte) (json.RawMessage, error) {
	if !json.Valid(raw) {
		return nil, ErrInvalidJSON
	}
	return json.RawMessage(raw), nil
}

func fullPrompt(prompt string, input any) string {
	if input == nil {
		return prompt
	}
	in, _ := json.MarshalIndent(input, "", "  ")
	return prompt + "\n\n[INPUT JSON]\n" + string(in)
}

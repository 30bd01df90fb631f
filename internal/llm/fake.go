package llm

import (
	"context"
	"encoding/json"
	"sync"
)

// Call is one request observed by FakeClient.
type Call struct {
	Stage  string
	Prompt string
	Input  any
}

// FakeClient answers with Respond, or "{}" when Respond is nil, and records
// every call. It is used offline and in tests.
type FakeClient struct {
	Respond func(ctx context.Context, prompt string, input any) (json.RawMessage, error)

	mu    sync.Mutex
	calls []Call
}

func (f *FakeClient) Name() string { return "FakeLLM" }
func (f *FakeClient) Close() error { return nil }

func (f *FakeClient) GenerateJSON(ctx context.Context, prompt string, input any) (json.RawMessage, error) {
	f.mu.Lock()
	f.calls = append(f.calls, Call{Stage: StageFrom(ctx), Prompt: prompt, Input: input})
	f.mu.Unlock()
	if f.Respond == nil {
		return json.RawMessage(`{}`), nil
	}
	return f.Respond(ctx, prompt, input)
}

// Calls returns a copy of the recorded calls.
func (f *FakeClient) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.calls...)
}

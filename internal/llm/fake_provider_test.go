package llm

import (
	"context"
	"sync"
)

type fakeProvider struct {
	cfg   ProviderConfig
	mu    sync.Mutex
	calls int
	steps []func(ctx context.Context) (*Response, error)
}

func newFakeProvider(name string, steps ...func(ctx context.Context) (*Response, error)) *fakeProvider {
	return &fakeProvider{
		cfg:   ProviderConfig{Name: name, Type: "fake", Model: "fake-1", SupportsToolCalling: true},
		steps: steps,
	}
}

func (f *fakeProvider) Name() string           { return f.cfg.Name }
func (f *fakeProvider) Config() ProviderConfig { return f.cfg }

func (f *fakeProvider) Complete(ctx context.Context, req *Request) (*Response, error) {
	f.mu.Lock()
	i := f.calls
	f.calls++
	f.mu.Unlock()
	if i >= len(f.steps) {
		i = len(f.steps) - 1
	}
	return f.steps[i](ctx)
}

func (f *fakeProvider) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func textStep(text string) func(context.Context) (*Response, error) {
	return func(context.Context) (*Response, error) {
		return &Response{Model: "fake-1", Text: text, Usage: Usage{PromptTokens: 10, CompletionTokens: 2}}, nil
	}
}

func errStep(err error) func(context.Context) (*Response, error) {
	return func(context.Context) (*Response, error) {
		return nil, err
	}
}

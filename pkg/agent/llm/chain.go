package llm

import "context"

// Middleware wraps a Client with additional behavior (retry, metrics,
// token-budget enforcement). Middlewares compose via Chain the same way
// the teacher's agent middleware stack composes around its LLMClient.
type Middleware func(next Client) Client

type clientFunc struct {
	complete func(context.Context, CompletionRequest) (CompletionResponse, error)
	modelFn  func() string
}

func (f clientFunc) Complete(ctx context.Context, req CompletionRequest) (CompletionResponse, error) {
	return f.complete(ctx, req)
}

func (f clientFunc) GetModelName() string {
	return f.modelFn()
}

// WrapClient builds a Client from plain functions; middleware
// implementations use this instead of defining a named type per wrapper.
func WrapClient(
	complete func(context.Context, CompletionRequest) (CompletionResponse, error),
	modelFn func() string,
) Client {
	return clientFunc{complete: complete, modelFn: modelFn}
}

// Chain composes middlewares around base, with the first middleware in the
// slice becoming the outermost wrapper: Chain(base, mw1, mw2) runs
// mw1 -> mw2 -> base.
func Chain(base Client, middlewares ...Middleware) Client {
	client := base
	for i := len(middlewares) - 1; i >= 0; i-- {
		client = middlewares[i](client)
	}
	return client
}

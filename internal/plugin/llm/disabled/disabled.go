package disabled

import (
	"context"

	"github.com/agentmemory/memory-service/internal/registry/llm"
)

func init() {
	llm.Register(llm.Plugin{
		Name: "disabled",
		Loader: func(ctx context.Context) (llm.Client, error) {
			return &disabledClient{}, nil
		},
	})
}

type disabledClient struct{}

func (c *disabledClient) ExtractFacts(_ context.Context, _, _ string) ([]string, error) {
	return nil, llm.ErrLLMUnavailable
}

func (c *disabledClient) DecideMerge(_ context.Context, _ string, _ []llm.Neighbor, _ string) ([]llm.MergeEvent, error) {
	return nil, llm.ErrLLMUnavailable
}

func (c *disabledClient) Name() string { return "disabled" }

var _ llm.Client = (*disabledClient)(nil)

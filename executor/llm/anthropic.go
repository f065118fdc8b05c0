package llm

import (
	"context"
	"errors"
	"fmt"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/flowlattice/dispatcher/executor"
)

// AnthropicExecutor runs a node's callable as a single-turn completion
// against Anthropic's Claude API.
//
// Not shared by default: nodes resolving to the same instance_id (which
// defaults to the short name) reuse one cached instance, which is torn
// down once the last of them releases it unless the descriptor's
// attributes mark it shared.
type AnthropicExecutor struct {
	apiKey    string
	modelName string
	client    anthropicClient
}

// anthropicClient narrows the SDK surface used, so tests can substitute a
// fake without hitting the network.
type anthropicClient interface {
	createMessage(ctx context.Context, system, prompt string) (string, error)
}

// NewAnthropicExecutor constructs an executor bound to modelName (falling
// back to a current Claude model when empty).
func NewAnthropicExecutor(apiKey, modelName string) *AnthropicExecutor {
	if modelName == "" {
		modelName = "claude-sonnet-4-5-20250929"
	}
	return &AnthropicExecutor{
		apiKey:    apiKey,
		modelName: modelName,
		client:    &anthropicLiveClient{apiKey: apiKey, modelName: modelName},
	}
}

// NewAnthropicConstructor adapts NewAnthropicExecutor into an
// executor.Constructor, reading "api_key" and "model" from attrs.
func NewAnthropicConstructor() executor.Constructor {
	return func(attrs map[string]any) (executor.Executor, error) {
		apiKey, _ := attrs["api_key"].(string)
		if apiKey == "" {
			return nil, errors.New("llm: anthropic executor requires attrs[\"api_key\"]")
		}
		modelName, _ := attrs["model"].(string)
		return NewAnthropicExecutor(apiKey, modelName), nil
	}
}

// ShortName implements executor.Executor.
func (e *AnthropicExecutor) ShortName() string { return "anthropic" }

// Execute implements executor.Executor. The callable's Payload is treated
// as the user prompt; kwargs["system"], if present, is sent as the system
// prompt.
func (e *AnthropicExecutor) Execute(ctx context.Context, c executor.Callable, args []any, kwargs map[string]any, dispatchID string, nodeID int) (executor.Result, error) {
	if ctx.Err() != nil {
		return executor.Result{}, ctx.Err()
	}

	system, _ := kwargs["system"].(string)
	text, err := e.client.createMessage(ctx, system, string(c.Payload))
	if err != nil {
		return executor.Result{ExceptionFlag: true}, fmt.Errorf("anthropic executor: node %d: %w", nodeID, err)
	}
	return executor.Result{Output: text}, nil
}

// Teardown implements executor.Executor; the Anthropic SDK client holds no
// resources that need explicit release.
func (e *AnthropicExecutor) Teardown(_ context.Context) error { return nil }

type anthropicLiveClient struct {
	apiKey    string
	modelName string
}

func (c *anthropicLiveClient) createMessage(ctx context.Context, system, prompt string) (string, error) {
	if c.apiKey == "" {
		return "", errors.New("anthropic API key is required")
	}

	client := anthropicsdk.NewClient(option.WithAPIKey(c.apiKey))

	params := anthropicsdk.MessageNewParams{
		Model:     anthropicsdk.Model(c.modelName),
		MaxTokens: 4096,
		Messages: []anthropicsdk.MessageParam{
			anthropicsdk.NewUserMessage(anthropicsdk.NewTextBlock(prompt)),
		},
	}
	if system != "" {
		params.System = []anthropicsdk.TextBlockParam{{Text: system}}
	}

	resp, err := client.Messages.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("anthropic API call failed: %w", err)
	}

	var out string
	for _, block := range resp.Content {
		if text, ok := block.AsAny().(anthropicsdk.TextBlock); ok {
			out += text.Text
		}
	}
	return out, nil
}

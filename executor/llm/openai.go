package llm

import (
	"context"
	"errors"
	"fmt"

	openaisdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/flowlattice/dispatcher/executor"
)

// OpenAIExecutor runs a node's callable as a single-turn chat completion
// against OpenAI's API.
type OpenAIExecutor struct {
	apiKey    string
	modelName string
	client    openaiClient
}

type openaiClient interface {
	createChatCompletion(ctx context.Context, system, prompt string) (string, error)
}

// NewOpenAIExecutor constructs an executor bound to modelName (falling back
// to a current GPT model when empty).
func NewOpenAIExecutor(apiKey, modelName string) *OpenAIExecutor {
	if modelName == "" {
		modelName = "gpt-4o"
	}
	return &OpenAIExecutor{
		apiKey:    apiKey,
		modelName: modelName,
		client:    &openaiLiveClient{apiKey: apiKey, modelName: modelName},
	}
}

// NewOpenAIConstructor adapts NewOpenAIExecutor into an executor.Constructor,
// reading "api_key" and "model" from attrs.
func NewOpenAIConstructor() executor.Constructor {
	return func(attrs map[string]any) (executor.Executor, error) {
		apiKey, _ := attrs["api_key"].(string)
		if apiKey == "" {
			return nil, errors.New("llm: openai executor requires attrs[\"api_key\"]")
		}
		modelName, _ := attrs["model"].(string)
		return NewOpenAIExecutor(apiKey, modelName), nil
	}
}

// ShortName implements executor.Executor.
func (e *OpenAIExecutor) ShortName() string { return "openai" }

// Execute implements executor.Executor.
func (e *OpenAIExecutor) Execute(ctx context.Context, c executor.Callable, args []any, kwargs map[string]any, dispatchID string, nodeID int) (executor.Result, error) {
	if ctx.Err() != nil {
		return executor.Result{}, ctx.Err()
	}

	system, _ := kwargs["system"].(string)
	text, err := e.client.createChatCompletion(ctx, system, string(c.Payload))
	if err != nil {
		return executor.Result{ExceptionFlag: true}, fmt.Errorf("openai executor: node %d: %w", nodeID, err)
	}
	return executor.Result{Output: text}, nil
}

// Teardown implements executor.Executor.
func (e *OpenAIExecutor) Teardown(_ context.Context) error { return nil }

type openaiLiveClient struct {
	apiKey    string
	modelName string
}

func (c *openaiLiveClient) createChatCompletion(ctx context.Context, system, prompt string) (string, error) {
	if c.apiKey == "" {
		return "", errors.New("openai API key is required")
	}

	client := openaisdk.NewClient(option.WithAPIKey(c.apiKey))

	messages := make([]openaisdk.ChatCompletionMessageParamUnion, 0, 2)
	if system != "" {
		messages = append(messages, openaisdk.SystemMessage(system))
	}
	messages = append(messages, openaisdk.UserMessage(prompt))

	params := openaisdk.ChatCompletionNewParams{
		Model:    openaisdk.ChatModel(c.modelName),
		Messages: messages,
	}

	resp, err := client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("openai API call failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", nil
	}
	return resp.Choices[0].Message.Content, nil
}

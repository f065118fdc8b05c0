package llm

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/flowlattice/dispatcher/executor"
)

// GoogleExecutor runs a node's callable as a single-turn generation against
// Google's Gemini API.
type GoogleExecutor struct {
	apiKey    string
	modelName string
	client    googleClient
}

type googleClient interface {
	generateContent(ctx context.Context, prompt string) (string, error)
}

// NewGoogleExecutor constructs an executor bound to modelName (falling back
// to a current Gemini model when empty).
func NewGoogleExecutor(apiKey, modelName string) *GoogleExecutor {
	if modelName == "" {
		modelName = "gemini-2.5-flash"
	}
	return &GoogleExecutor{
		apiKey:    apiKey,
		modelName: modelName,
		client:    &googleLiveClient{apiKey: apiKey, modelName: modelName},
	}
}

// NewGoogleConstructor adapts NewGoogleExecutor into an executor.Constructor,
// reading "api_key" and "model" from attrs.
func NewGoogleConstructor() executor.Constructor {
	return func(attrs map[string]any) (executor.Executor, error) {
		apiKey, _ := attrs["api_key"].(string)
		if apiKey == "" {
			return nil, errors.New("llm: google executor requires attrs[\"api_key\"]")
		}
		modelName, _ := attrs["model"].(string)
		return NewGoogleExecutor(apiKey, modelName), nil
	}
}

// ShortName implements executor.Executor.
func (e *GoogleExecutor) ShortName() string { return "google" }

// Execute implements executor.Executor.
func (e *GoogleExecutor) Execute(ctx context.Context, c executor.Callable, args []any, kwargs map[string]any, dispatchID string, nodeID int) (executor.Result, error) {
	if ctx.Err() != nil {
		return executor.Result{}, ctx.Err()
	}

	text, err := e.client.generateContent(ctx, string(c.Payload))
	if err != nil {
		return executor.Result{ExceptionFlag: true}, fmt.Errorf("google executor: node %d: %w", nodeID, err)
	}
	return executor.Result{Output: text}, nil
}

// Teardown implements executor.Executor; closes the underlying genai client.
func (e *GoogleExecutor) Teardown(ctx context.Context) error {
	if live, ok := e.client.(*googleLiveClient); ok {
		return live.close()
	}
	return nil
}

type googleLiveClient struct {
	apiKey    string
	modelName string
	client    *genai.Client
}

func (c *googleLiveClient) generateContent(ctx context.Context, prompt string) (string, error) {
	if c.apiKey == "" {
		return "", errors.New("google API key is required")
	}

	if c.client == nil {
		client, err := genai.NewClient(ctx, option.WithAPIKey(c.apiKey))
		if err != nil {
			return "", fmt.Errorf("google client init failed: %w", err)
		}
		c.client = client
	}

	model := c.client.GenerativeModel(c.modelName)
	resp, err := model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", fmt.Errorf("google API call failed: %w", err)
	}

	var out string
	for _, cand := range resp.Candidates {
		if cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if text, ok := part.(genai.Text); ok {
				out += string(text)
			}
		}
	}
	return out, nil
}

func (c *googleLiveClient) close() error {
	if c.client == nil {
		return nil
	}
	return c.client.Close()
}

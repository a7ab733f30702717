// Package openai adapts the official OpenAI client to the provider
// interface. Calls are non-streaming and run at temperature zero.
package openai

import (
	"context"
	"errors"
	"fmt"

	"github.com/openai/openai-go"

	"github.com/roach88/stepflow/internal/fault"
	"github.com/roach88/stepflow/internal/provider"
)

// Client wraps an OpenAI client behind provider.Provider.
type Client struct {
	client *openai.Client
}

// New creates an adapter using default client configuration (API key from
// the environment).
func New() *Client {
	client := openai.NewClient()
	return &Client{client: &client}
}

// NewFromClient creates an adapter from an existing client.
func NewFromClient(client *openai.Client) *Client {
	return &Client{client: client}
}

// Complete performs one chat completion at temperature zero.
func (c *Client) Complete(ctx context.Context, req provider.Request) (provider.Response, error) {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages))
	for _, m := range req.Messages {
		switch m.Role {
		case "system":
			messages = append(messages, openai.SystemMessage(m.Content))
		case "assistant":
			messages = append(messages, openai.AssistantMessage(m.Content))
		default:
			messages = append(messages, openai.UserMessage(m.Content))
		}
	}

	resp, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(req.Model),
		Messages:    messages,
		Temperature: openai.Float(0),
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return provider.Response{}, fault.New(fault.CodeCollaboratorTimeout, "openai call timed out: %v", err)
		}
		return provider.Response{}, fmt.Errorf("openai api error: %w", err)
	}
	if len(resp.Choices) == 0 {
		return provider.Response{}, fmt.Errorf("openai returned no choices")
	}
	return provider.Response{
		Model:   req.Model,
		Content: resp.Choices[0].Message.Content,
	}, nil
}

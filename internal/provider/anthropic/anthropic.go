// Package anthropic adapts the official Anthropic client to the provider
// interface. Calls are non-streaming and run at temperature zero.
package anthropic

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/roach88/stepflow/internal/fault"
	"github.com/roach88/stepflow/internal/provider"
)

// DefaultMaxTokens bounds completions; deterministic oracle responses are
// short JSON payloads, not long generations.
const DefaultMaxTokens = 1024

// Client wraps an Anthropic client behind provider.Provider.
type Client struct {
	client    *anthropic.Client
	maxTokens int64
}

// New creates an adapter using default client configuration (API key from
// the environment).
func New() *Client {
	client := anthropic.NewClient()
	return &Client{client: &client, maxTokens: DefaultMaxTokens}
}

// NewFromClient creates an adapter from an existing client.
func NewFromClient(client *anthropic.Client) *Client {
	return &Client{client: client, maxTokens: DefaultMaxTokens}
}

// Complete performs one message call at temperature zero and concatenates
// the text blocks of the response.
func (c *Client) Complete(ctx context.Context, req provider.Request) (provider.Response, error) {
	messages := make([]anthropic.MessageParam, 0, len(req.Messages))
	var system []anthropic.TextBlockParam
	for _, m := range req.Messages {
		switch m.Role {
		case "system":
			system = append(system, anthropic.TextBlockParam{Text: m.Content})
		case "assistant":
			messages = append(messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		default:
			messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}

	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(req.Model),
		Messages:    messages,
		MaxTokens:   c.maxTokens,
		Temperature: anthropic.Float(0),
	}
	if len(system) > 0 {
		params.System = system
	}

	resp, err := c.client.Messages.New(ctx, params)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return provider.Response{}, fault.New(fault.CodeCollaboratorTimeout, "anthropic call timed out: %v", err)
		}
		return provider.Response{}, fmt.Errorf("anthropic api error: %w", err)
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.AsText().Text)
		}
	}
	return provider.Response{
		Model:   req.Model,
		Content: text.String(),
	}, nil
}

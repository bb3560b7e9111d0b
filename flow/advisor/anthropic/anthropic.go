// Package anthropic provides the advisor.Chat adapter for Anthropic's
// Claude API, built on the official anthropic-sdk-go.
package anthropic

import (
	"context"
	"errors"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const defaultModel = "claude-sonnet-4-20250514"

// Chat implements advisor.Chat for Claude.
//
// Example usage:
//
//	chat := anthropic.NewChat(os.Getenv("ANTHROPIC_API_KEY"), "")
//	adv := advisor.NewLLM(chat)
type Chat struct {
	modelName string
	client    messageClient
}

// messageClient is the SDK surface used by Chat, extracted so tests
// can substitute a mock.
type messageClient interface {
	createMessage(ctx context.Context, model, prompt string) (string, error)
}

// NewChat creates a Claude-backed chat. An empty modelName uses the
// package default.
func NewChat(apiKey, modelName string) *Chat {
	if modelName == "" {
		modelName = defaultModel
	}
	return &Chat{
		modelName: modelName,
		client:    &sdkClient{apiKey: apiKey},
	}
}

// Complete implements advisor.Chat.
func (c *Chat) Complete(ctx context.Context, prompt string) (string, error) {
	if ctx.Err() != nil {
		return "", ctx.Err()
	}
	return c.client.createMessage(ctx, c.modelName, prompt)
}

// sdkClient wraps the official SDK.
type sdkClient struct {
	apiKey string
}

func (s *sdkClient) createMessage(ctx context.Context, modelName, prompt string) (string, error) {
	if s.apiKey == "" {
		return "", errors.New("anthropic API key is required")
	}

	client := anthropic.NewClient(option.WithAPIKey(s.apiKey))
	message, err := client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(modelName),
		MaxTokens: 4096,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("anthropic request failed: %w", err)
	}

	var text string
	for _, block := range message.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}
	if text == "" {
		return "", errors.New("anthropic reply contained no text content")
	}
	return text, nil
}

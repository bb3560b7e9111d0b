// Package openai provides the advisor.Chat adapter for OpenAI's chat
// completions API, built on the official openai-go SDK.
package openai

import (
	"context"
	"errors"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
)

const defaultModel = "gpt-4o"

// Chat implements advisor.Chat for OpenAI models.
//
// Example usage:
//
//	chat := openai.NewChat(os.Getenv("OPENAI_API_KEY"), "")
//	adv := advisor.NewLLM(chat)
type Chat struct {
	modelName string
	client    completionClient
}

// completionClient is the SDK surface used by Chat, extracted so tests
// can substitute a mock.
type completionClient interface {
	createCompletion(ctx context.Context, model, prompt string) (string, error)
}

// NewChat creates an OpenAI-backed chat. An empty modelName uses the
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
	return c.client.createCompletion(ctx, c.modelName, prompt)
}

// sdkClient wraps the official SDK.
type sdkClient struct {
	apiKey string
}

func (s *sdkClient) createCompletion(ctx context.Context, modelName, prompt string) (string, error) {
	if s.apiKey == "" {
		return "", errors.New("openAI API key is required")
	}

	client := openai.NewClient(option.WithAPIKey(s.apiKey))
	completion, err := client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: shared.ChatModel(modelName),
		Messages: []openai.ChatCompletionMessageParamUnion{
			{
				OfUser: &openai.ChatCompletionUserMessageParam{
					Content: openai.ChatCompletionUserMessageParamContentUnion{
						OfString: openai.String(prompt),
					},
				},
			},
		},
	})
	if err != nil {
		return "", fmt.Errorf("openAI request failed: %w", err)
	}
	if len(completion.Choices) == 0 {
		return "", errors.New("openAI reply contained no choices")
	}
	return completion.Choices[0].Message.Content, nil
}

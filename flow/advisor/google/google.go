// Package google provides the advisor.Chat adapter for Google's
// Gemini API, built on the official generative-ai-go SDK.
package google

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

const defaultModel = "gemini-2.5-flash"

// Chat implements advisor.Chat for Gemini models.
//
// Example usage:
//
//	chat := google.NewChat(os.Getenv("GOOGLE_API_KEY"), "")
//	adv := advisor.NewLLM(chat)
type Chat struct {
	modelName string
	client    contentClient
}

// contentClient is the SDK surface used by Chat, extracted so tests
// can substitute a mock.
type contentClient interface {
	generateContent(ctx context.Context, model, prompt string) (string, error)
}

// NewChat creates a Gemini-backed chat. An empty modelName uses the
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
	return c.client.generateContent(ctx, c.modelName, prompt)
}

// sdkClient wraps the official SDK. A fresh client per call keeps the
// adapter stateless; connection reuse happens inside the transport.
type sdkClient struct {
	apiKey string
}

func (s *sdkClient) generateContent(ctx context.Context, modelName, prompt string) (string, error) {
	if s.apiKey == "" {
		return "", errors.New("google API key is required")
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(s.apiKey))
	if err != nil {
		return "", fmt.Errorf("failed to create Google client: %w", err)
	}
	defer func() { _ = client.Close() }()

	resp, err := client.GenerativeModel(modelName).GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", fmt.Errorf("gemini request failed: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", errors.New("gemini reply contained no candidates")
	}

	var text string
	for _, part := range resp.Candidates[0].Content.Parts {
		if t, ok := part.(genai.Text); ok {
			text += string(t)
		}
	}
	if text == "" {
		return "", errors.New("gemini reply contained no text parts")
	}
	return text, nil
}

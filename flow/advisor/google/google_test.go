package google

import (
	"context"
	"errors"
	"testing"
)

type mockClient struct {
	model  string
	prompt string
	reply  string
	err    error
}

func (m *mockClient) generateContent(_ context.Context, model, prompt string) (string, error) {
	m.model = model
	m.prompt = prompt
	return m.reply, m.err
}

func TestChatComplete(t *testing.T) {
	mock := &mockClient{reply: `{"ok": true}`}
	chat := &Chat{modelName: "gemini-test", client: mock}

	reply, err := chat.Complete(context.Background(), "analyze this")
	if err != nil {
		t.Fatal(err)
	}
	if reply != `{"ok": true}` {
		t.Errorf("unexpected reply %q", reply)
	}
	if mock.model != "gemini-test" || mock.prompt != "analyze this" {
		t.Errorf("unexpected call: model=%q prompt=%q", mock.model, mock.prompt)
	}
}

func TestChatCompletePropagatesError(t *testing.T) {
	wantErr := errors.New("safety block")
	chat := &Chat{modelName: "gemini-test", client: &mockClient{err: wantErr}}

	if _, err := chat.Complete(context.Background(), "p"); !errors.Is(err, wantErr) {
		t.Fatalf("expected provider error, got %v", err)
	}
}

func TestChatCompleteHonorsCancelledContext(t *testing.T) {
	chat := &Chat{modelName: "gemini-test", client: &mockClient{reply: "unused"}}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := chat.Complete(ctx, "p"); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestNewChatDefaultModel(t *testing.T) {
	chat := NewChat("key", "")
	if chat.modelName != defaultModel {
		t.Errorf("expected default model, got %q", chat.modelName)
	}
}

func TestSDKClientRequiresAPIKey(t *testing.T) {
	client := &sdkClient{}
	if _, err := client.generateContent(context.Background(), defaultModel, "p"); err == nil {
		t.Fatal("expected missing API key error")
	}
}

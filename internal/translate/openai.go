package translate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// ErrNoChoicesReturned is returned when the API responds without any choices.
var ErrNoChoicesReturned = errors.New("no choices returned")

// chatService defines minimal interface for chat completions.
type chatService interface {
	New(ctx context.Context, body openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error)
}

// OpenAIOpts holds configuration for OpenAITranslator.
type OpenAIOpts struct {
	APIKey  string
	BaseURL string
	Model   string
}

// OpenAIOption configures an OpenAITranslator.
type OpenAIOption func(*OpenAIOpts)

// WithAPIKey sets the OpenAI API key.
func WithAPIKey(key string) OpenAIOption {
	return func(o *OpenAIOpts) {
		o.APIKey = key
	}
}

// WithBaseURL points the client at an OpenAI-compatible server.
func WithBaseURL(u string) OpenAIOption {
	return func(o *OpenAIOpts) {
		o.BaseURL = u
	}
}

// WithModel overrides the chat model.
func WithModel(model string) OpenAIOption {
	return func(o *OpenAIOpts) {
		o.Model = model
	}
}

// OpenAITranslator translates with an OpenAI chat model.
type OpenAITranslator struct {
	chat  chatService
	model string
}

// NewOpenAITranslator creates a translator. An API key is required.
func NewOpenAITranslator(opts ...OpenAIOption) (*OpenAITranslator, error) {
	cfg := OpenAIOpts{Model: openai.ChatModelGPT4oMini}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("OpenAI API key not set")
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.BaseURL))
	}
	cli := openai.NewClient(reqOpts...)
	slog.Debug("OpenAITranslator created", "model", cfg.Model, "base_url_set", cfg.BaseURL != "")
	return &OpenAITranslator{chat: &cli.Chat.Completions, model: cfg.Model}, nil
}

// Translate returns text in the target language, or text itself on any failure.
func (t *OpenAITranslator) Translate(ctx context.Context, text string, target Language) string {
	if isBlank(text) {
		return text
	}
	out, err := t.complete(ctx, systemPrompt(target), text)
	if err != nil {
		slog.Warn("OpenAITranslator.Translate: falling back to original text", "target", target, "error", err)
		return text
	}
	return out
}

func (t *OpenAITranslator) complete(ctx context.Context, system, user string) (string, error) {
	resp, err := t.chat.New(ctx, openai.ChatCompletionNewParams{
		Model: t.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(system),
			openai.UserMessage(user),
		},
		Temperature: openai.Float(0),
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", ErrNoChoicesReturned
	}
	out := strings.TrimSpace(resp.Choices[0].Message.Content)
	if out == "" {
		return "", ErrNoChoicesReturned
	}
	return out, nil
}

func systemPrompt(target Language) string {
	name := "English"
	if target == RU {
		name = "Russian"
	}
	return "You are a culinary translator. Translate the user's message into " + name +
		". Keep quantities, units and line breaks. Keep '|' separators between ingredients. " +
		"Reply with the translation only."
}

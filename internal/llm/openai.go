package llm

import (
	"context"
	"fmt"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAICompatInvoker implements Invoker against any OpenAI-compatible
// chat completions endpoint, including self-hosted gateways via a custom
// BaseURL.
type OpenAICompatInvoker struct {
	client *openai.Client
	model  string
}

// OpenAIConfig configures an OpenAICompatInvoker.
type OpenAIConfig struct {
	APIKey      string
	BaseURL     string // empty uses the official OpenAI API
	Model       string
	HTTPTimeout time.Duration
}

// NewOpenAICompatInvoker builds an invoker against cfg.
func NewOpenAICompatInvoker(cfg OpenAIConfig) (*OpenAICompatInvoker, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("llm: API key is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("llm: model is required")
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	timeout := cfg.HTTPTimeout
	if timeout == 0 {
		timeout = 120 * time.Second
	}
	clientConfig.HTTPClient = &http.Client{Timeout: timeout}

	return &OpenAICompatInvoker{
		client: openai.NewClientWithConfig(clientConfig),
		model:  cfg.Model,
	}, nil
}

// Complete implements Invoker.
func (o *OpenAICompatInvoker) Complete(ctx context.Context, messages []Message, opts CompletionOptions) (string, error) {
	if len(messages) == 0 {
		return "", fmt.Errorf("llm: no messages to send")
	}

	chatMsgs := make([]openai.ChatCompletionMessage, len(messages))
	for i, m := range messages {
		chatMsgs[i] = openai.ChatCompletionMessage{Role: m.Role, Content: m.Content}
	}

	req := openai.ChatCompletionRequest{
		Model:    o.model,
		Messages: chatMsgs,
	}
	if opts.Temperature > 0 {
		req.Temperature = opts.Temperature
	}
	if opts.MaxTokens > 0 {
		req.MaxTokens = opts.MaxTokens
	}

	resp, err := o.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("llm: chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("llm: no choices returned")
	}
	return resp.Choices[0].Message.Content, nil
}

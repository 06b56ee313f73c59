// Package llm talks to chat-completion providers for text generation. The
// OpenAI-compatible client covers OpenAI itself plus any endpoint speaking
// the same protocol (OpenRouter, local llama.cpp servers) via BaseURL.
package llm

import (
	"context"
	"fmt"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// Defaults for generation requests.
const (
	DefaultMaxTokens   = 4000
	DefaultTemperature = 0.7
	DefaultTimeout     = 5 * time.Minute

	systemPrompt = "You are a professional writing assistant."
)

// Client generates text from a prompt.
type Client interface {
	// Generate returns the completion for a prompt.
	Generate(ctx context.Context, prompt string) (string, error)

	// ModelName reports the configured model.
	ModelName() string
}

// Config configures an OpenAI-compatible client.
type Config struct {
	// APIKey authenticates requests.
	APIKey string

	// BaseURL overrides the API endpoint. Empty uses api.openai.com.
	BaseURL string

	// Model is the chat model to use.
	Model string

	// MaxTokens caps the completion length (0 = DefaultMaxTokens).
	MaxTokens int

	// Temperature controls sampling (0 = DefaultTemperature).
	Temperature float32

	// Timeout bounds one request (0 = DefaultTimeout).
	Timeout time.Duration
}

// OpenAIClient is a chat-completion client for OpenAI-compatible endpoints.
type OpenAIClient struct {
	client      *openai.Client
	model       string
	maxTokens   int
	temperature float32
	timeout     time.Duration
}

// NewOpenAIClient creates a client from config.
func NewOpenAIClient(cfg Config) (*OpenAIClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("llm: API key is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("llm: model is required")
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = DefaultTemperature
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}

	return &OpenAIClient{
		client:      openai.NewClientWithConfig(clientConfig),
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		timeout:     cfg.Timeout,
	}, nil
}

// Generate sends the prompt as a single user message with a writing-assistant
// system message.
func (c *OpenAIClient) Generate(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.model,
		MaxTokens:   c.maxTokens,
		Temperature: c.temperature,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		return "", fmt.Errorf("llm: completion request failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("llm: completion returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

// ModelName reports the configured model.
func (c *OpenAIClient) ModelName() string {
	return c.model
}

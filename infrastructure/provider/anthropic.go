package provider

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const defaultAnthropicModel = "claude-3-5-haiku-20241022"

// AnthropicProvider generates text through the Anthropic Messages API.
type AnthropicProvider struct {
	client    anthropic.Client
	model     anthropic.Model
	maxTokens int64
	apiKey    string
}

// AnthropicOption configures an AnthropicProvider.
type AnthropicOption func(*AnthropicProvider)

// WithAnthropicModel overrides the default model.
func WithAnthropicModel(model string) AnthropicOption {
	return func(p *AnthropicProvider) { p.model = anthropic.Model(model) }
}

// WithAnthropicMaxTokens caps the response length.
func WithAnthropicMaxTokens(n int64) AnthropicOption {
	return func(p *AnthropicProvider) { p.maxTokens = n }
}

// NewAnthropicProvider creates the provider. The ANTHROPIC_API_KEY
// environment variable takes precedence over the explicit key.
func NewAnthropicProvider(apiKey string, opts ...AnthropicOption) *AnthropicProvider {
	if envKey := os.Getenv("ANTHROPIC_API_KEY"); envKey != "" {
		apiKey = envKey
	}
	p := &AnthropicProvider{
		client:    anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:     defaultAnthropicModel,
		maxTokens: 2048,
		apiKey:    apiKey,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Name implements TextGenerator.
func (p *AnthropicProvider) Name() string { return "anthropic" }

// Available reports whether an API key is configured.
func (p *AnthropicProvider) Available() bool { return p.apiKey != "" }

// Generate implements TextGenerator with bounded retry on transient errors.
func (p *AnthropicProvider) Generate(ctx context.Context, prompt string) (string, error) {
	if !p.Available() {
		return "", &ProviderError{Provider: p.Name(), Err: errors.New("ANTHROPIC_API_KEY not set")}
	}

	ctx, cancel := context.WithTimeout(ctx, GenerationTimeout)
	defer cancel()

	params := anthropic.MessageNewParams{
		Model:     p.model,
		MaxTokens: p.maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	}

	out, err := generateWithRetry(ctx, func() (string, error) {
		message, err := p.client.Messages.New(ctx, params)
		if err != nil {
			return "", err
		}
		if len(message.Content) == 0 {
			return "", errors.New("response has no content blocks")
		}
		block := message.Content[0]
		if block.Type != "text" {
			return "", fmt.Errorf("unexpected response block type %s", block.Type)
		}
		return block.Text, nil
	}, anthropicRetryable)
	if err != nil {
		return "", &ProviderError{Provider: p.Name(), Err: err}
	}
	return out, nil
}

func anthropicRetryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if timeoutError(err) {
		return true
	}
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 429 || apiErr.StatusCode >= 500
	}
	return false
}

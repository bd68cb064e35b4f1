package provider

import (
	"context"
	"errors"
	"os"

	openai "github.com/sashabaranov/go-openai"
)

// Defaults for the OpenAI-compatible backends.
const (
	OpenRouterBaseURL = "https://openrouter.ai/api/v1"
	OllamaBaseURL     = "http://localhost:11434/v1"

	defaultOpenRouterModel = "anthropic/claude-3.5-haiku"
	defaultOllamaModel     = "llama3.1"
)

// OpenAICompatProvider generates text through any OpenAI-compatible chat
// endpoint. Both OpenRouter and a local Ollama speak this protocol, so one
// adapter covers both with a different base URL and key requirement.
type OpenAICompatProvider struct {
	name       string
	client     *openai.Client
	model      string
	needsKey   bool
	keyPresent bool
}

// OpenAICompatOption configures an OpenAICompatProvider.
type OpenAICompatOption func(*openAICompatSettings)

type openAICompatSettings struct {
	model   string
	baseURL string
}

// WithCompatModel overrides the default model.
func WithCompatModel(model string) OpenAICompatOption {
	return func(s *openAICompatSettings) {
		if model != "" {
			s.model = model
		}
	}
}

// WithCompatBaseURL overrides the endpoint.
func WithCompatBaseURL(url string) OpenAICompatOption {
	return func(s *openAICompatSettings) {
		if url != "" {
			s.baseURL = url
		}
	}
}

// NewOpenRouterProvider creates a provider backed by OpenRouter. The
// OPENROUTER_API_KEY environment variable takes precedence over the
// explicit key.
func NewOpenRouterProvider(apiKey string, opts ...OpenAICompatOption) *OpenAICompatProvider {
	if envKey := os.Getenv("OPENROUTER_API_KEY"); envKey != "" {
		apiKey = envKey
	}
	s := &openAICompatSettings{model: defaultOpenRouterModel, baseURL: OpenRouterBaseURL}
	for _, opt := range opts {
		opt(s)
	}
	return newCompat("openrouter", apiKey, s, true)
}

// NewOllamaProvider creates a provider backed by a local ollama daemon. No
// key is required.
func NewOllamaProvider(opts ...OpenAICompatOption) *OpenAICompatProvider {
	s := &openAICompatSettings{model: defaultOllamaModel, baseURL: OllamaBaseURL}
	for _, opt := range opts {
		opt(s)
	}
	return newCompat("ollama", "ollama", s, false)
}

func newCompat(name, apiKey string, s *openAICompatSettings, needsKey bool) *OpenAICompatProvider {
	cfg := openai.DefaultConfig(apiKey)
	cfg.BaseURL = s.baseURL
	return &OpenAICompatProvider{
		name:       name,
		client:     openai.NewClientWithConfig(cfg),
		model:      s.model,
		needsKey:   needsKey,
		keyPresent: apiKey != "",
	}
}

// Name implements TextGenerator.
func (p *OpenAICompatProvider) Name() string { return p.name }

// Available reports whether the provider can be called at all. Reachability
// of a local ollama is only discovered on use.
func (p *OpenAICompatProvider) Available() bool {
	return !p.needsKey || p.keyPresent
}

// Generate implements TextGenerator with bounded retry on transient errors.
func (p *OpenAICompatProvider) Generate(ctx context.Context, prompt string) (string, error) {
	if !p.Available() {
		return "", &ProviderError{Provider: p.name, Err: errors.New("API key not set")}
	}

	ctx, cancel := context.WithTimeout(ctx, GenerationTimeout)
	defer cancel()

	req := openai.ChatCompletionRequest{
		Model: p.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	}

	out, err := generateWithRetry(ctx, func() (string, error) {
		resp, err := p.client.CreateChatCompletion(ctx, req)
		if err != nil {
			return "", err
		}
		if len(resp.Choices) == 0 {
			return "", errors.New("response has no choices")
		}
		return resp.Choices[0].Message.Content, nil
	}, openAIRetryable)
	if err != nil {
		return "", &ProviderError{Provider: p.name, Err: err}
	}
	return out, nil
}

func openAIRetryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if timeoutError(err) {
		return true
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == 429 || apiErr.HTTPStatusCode >= 500
	}
	// Connection refused and similar transport failures are worth retrying
	// once the backoff has given a local daemon time to come up.
	return true
}

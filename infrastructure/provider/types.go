// Package provider contains the adapters over external model backends: the
// local hugot embedding and reranking pipelines, the Anthropic and
// OpenAI-compatible text generators, the claude CLI subprocess, and the
// fallback chain that composes them.
package provider

import (
	"context"
	"fmt"
	"time"
)

// GenerationTimeout bounds a single LLM generation call.
const GenerationTimeout = 120 * time.Second

// TextGenerator produces free-form text from a prompt. Implementations are
// safe for concurrent use.
type TextGenerator interface {
	// Name is the provider identifier used in configuration and logs.
	Name() string
	// Available reports whether the provider is usable (key present,
	// binary installed, model on disk).
	Available() bool
	// Generate returns the model output for a prompt. An empty result with
	// a nil error is treated as a failure by callers.
	Generate(ctx context.Context, prompt string) (string, error)
}

// ProviderError wraps a failure with the provider it came from so chain
// callers can log which link broke.
type ProviderError struct {
	Provider string
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider %s: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

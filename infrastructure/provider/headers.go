package provider

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
)

// headerPromptLimit caps how much of a chunk is sent for header generation.
const headerPromptLimit = 3000

// HeaderProvider produces the short contextual header prepended to each code
// chunk before embedding. Any generation failure degrades to the trivial
// header; ingest never aborts because of a header.
type HeaderProvider struct {
	gen TextGenerator
	log *slog.Logger
}

// NewHeaderProvider wraps a text generator. A nil generator always yields
// trivial headers.
func NewHeaderProvider(gen TextGenerator, log *slog.Logger) *HeaderProvider {
	if log == nil {
		log = slog.Default()
	}
	return &HeaderProvider{gen: gen, log: log.With(slog.String("component", "header_provider"))}
}

// Header returns a one-to-two sentence description of what the chunk does in
// the context of its file.
func (h *HeaderProvider) Header(ctx context.Context, filePath, chunk string) string {
	trivial := TrivialHeader(filePath)
	if h.gen == nil || !h.gen.Available() {
		return trivial
	}

	excerpt := chunk
	if len(excerpt) > headerPromptLimit {
		excerpt = excerpt[:headerPromptLimit]
	}
	prompt := fmt.Sprintf(
		"Write one or two sentences describing what this code from %s does. Reply with the description only.\n\n%s",
		filePath, excerpt,
	)

	out, err := h.gen.Generate(ctx, prompt)
	if err != nil || strings.TrimSpace(out) == "" {
		if err != nil {
			h.log.Debug("header generation failed",
				slog.String("file", filePath),
				slog.String("error", err.Error()),
			)
		}
		return trivial
	}
	return strings.TrimSpace(out)
}

// TrivialHeader is the degraded header used when no provider is configured
// or generation fails.
func TrivialHeader(filePath string) string {
	return "Code from " + filepath.Base(filePath)
}

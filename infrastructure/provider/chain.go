package provider

import (
	"context"
	"errors"
	"log/slog"
	"strings"
)

// NoneProvider is the terminal chain link: always available, always empty.
// Callers treat an empty generation as "no model output" and degrade.
type NoneProvider struct{}

// Name implements TextGenerator.
func (NoneProvider) Name() string { return "none" }

// Available implements TextGenerator.
func (NoneProvider) Available() bool { return true }

// Generate implements TextGenerator.
func (NoneProvider) Generate(context.Context, string) (string, error) { return "", nil }

// Chain tries a sequence of text generators in order, returning the first
// non-empty result. Unavailable providers are skipped; failures are logged
// and the next link is tried.
type Chain struct {
	links []TextGenerator
	log   *slog.Logger
}

// NewChain builds a fallback chain. Nil links are ignored.
func NewChain(log *slog.Logger, links ...TextGenerator) *Chain {
	if log == nil {
		log = slog.Default()
	}
	var kept []TextGenerator
	for _, l := range links {
		if l != nil {
			kept = append(kept, l)
		}
	}
	return &Chain{links: kept, log: log.With(slog.String("component", "provider_chain"))}
}

// Name implements TextGenerator.
func (c *Chain) Name() string { return "chain(" + strings.Join(c.Names(), ",") + ")" }

// Available implements TextGenerator: a chain is usable when any link is.
func (c *Chain) Available() bool {
	for _, l := range c.links {
		if l.Available() {
			return true
		}
	}
	return false
}

// Names lists the chain's providers in order.
func (c *Chain) Names() []string {
	names := make([]string, 0, len(c.links))
	for _, l := range c.links {
		names = append(names, l.Name())
	}
	return names
}

// Generate walks the chain. It returns an error only when every link failed
// or produced an empty result.
func (c *Chain) Generate(ctx context.Context, prompt string) (string, error) {
	var failures []string
	for _, link := range c.links {
		if !link.Available() {
			c.log.Debug("provider unavailable, skipping", slog.String("provider", link.Name()))
			continue
		}
		out, err := link.Generate(ctx, prompt)
		if err != nil {
			c.log.Warn("provider failed, trying next",
				slog.String("provider", link.Name()),
				slog.String("error", err.Error()),
			)
			failures = append(failures, link.Name())
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			continue
		}
		if strings.TrimSpace(out) == "" {
			// The none provider lands here by design.
			failures = append(failures, link.Name())
			continue
		}
		return out, nil
	}
	if len(failures) == 0 {
		return "", errors.New("no text provider configured")
	}
	return "", errors.New("all providers failed: " + strings.Join(failures, ", "))
}

package provider

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"strings"
	"time"
)

// DefaultClaudeCLITimeout bounds one CLI invocation.
const DefaultClaudeCLITimeout = 30 * time.Second

// ClaudeCLIProvider generates text by spawning the locally installed claude
// binary in non-interactive print mode. It needs no API key of its own; the
// CLI carries its own authentication.
type ClaudeCLIProvider struct {
	binary  string
	timeout time.Duration
}

// ClaudeCLIOption configures a ClaudeCLIProvider.
type ClaudeCLIOption func(*ClaudeCLIProvider)

// WithClaudeCLIBinary overrides the binary name, mainly for tests.
func WithClaudeCLIBinary(name string) ClaudeCLIOption {
	return func(p *ClaudeCLIProvider) { p.binary = name }
}

// WithClaudeCLITimeout overrides the per-call timeout.
func WithClaudeCLITimeout(d time.Duration) ClaudeCLIOption {
	return func(p *ClaudeCLIProvider) { p.timeout = d }
}

// NewClaudeCLIProvider creates the provider.
func NewClaudeCLIProvider(opts ...ClaudeCLIOption) *ClaudeCLIProvider {
	p := &ClaudeCLIProvider{
		binary:  "claude",
		timeout: DefaultClaudeCLITimeout,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Name implements TextGenerator.
func (p *ClaudeCLIProvider) Name() string { return "claude-cli" }

// Available reports whether the binary is on PATH.
func (p *ClaudeCLIProvider) Available() bool {
	_, err := exec.LookPath(p.binary)
	return err == nil
}

// Generate implements TextGenerator. The prompt goes over stdin to avoid
// argv length limits on large transcripts.
func (p *ClaudeCLIProvider) Generate(ctx context.Context, prompt string) (string, error) {
	if !p.Available() {
		return "", &ProviderError{Provider: p.Name(), Err: errors.New("claude binary not found on PATH")}
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, p.binary, "-p")
	cmd.Stdin = strings.NewReader(prompt)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return "", &ProviderError{Provider: p.Name(), Err: ctx.Err()}
		}
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			return "", &ProviderError{Provider: p.Name(), Err: errors.New(msg)}
		}
		return "", &ProviderError{Provider: p.Name(), Err: err}
	}
	return strings.TrimSpace(stdout.String()), nil
}

package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"

	"github.com/scottyroges/cortex/internal/config"
)

// transcriptTruncateChars bounds how much transcript is sent for
// summarization.
const transcriptTruncateChars = 100000

// Summarizer is the generation surface capture needs, satisfied by the
// provider fallback chain.
type Summarizer interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// CaptureRequest is the session payload delivered by the out-of-process hook.
type CaptureRequest struct {
	SessionID   string   `json:"session_id"`
	Transcript  string   `json:"transcript"`
	FilesEdited []string `json:"files_edited"`
	ToolCalls   int      `json:"tool_calls"`
	Repository  string   `json:"repository"`
	RepoPath    string   `json:"repo_path"`
	Initiative  string   `json:"initiative"`
}

// Params flattens the request into a task-params map for queueing.
func (r CaptureRequest) Params() map[string]any {
	raw, _ := json.Marshal(r)
	var params map[string]any
	_ = json.Unmarshal(raw, &params)
	return params
}

// CaptureRequestFromParams rebuilds a request from queued task params.
func CaptureRequestFromParams(params map[string]any) (CaptureRequest, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return CaptureRequest{}, fmt.Errorf("encode capture params: %w", err)
	}
	var req CaptureRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return CaptureRequest{}, fmt.Errorf("decode capture params: %w", err)
	}
	return req, nil
}

// CaptureResult reports what auto-capture did with a session.
type CaptureResult struct {
	Captured  bool   `json:"captured"`
	Skipped   bool   `json:"skipped"`
	Reason    string `json:"reason,omitempty"`
	SummaryID string `json:"summary_id,omitempty"`
}

// CaptureService summarizes session transcripts and commits them as
// session-summary documents.
type CaptureService struct {
	memory       *MemoryService
	summarizer   Summarizer
	significance config.SignificanceConfig
	enabled      atomic.Bool
	log          *slog.Logger
}

func NewCaptureService(memory *MemoryService, summarizer Summarizer, cfg config.AutocaptureConfig, log *slog.Logger) *CaptureService {
	if log == nil {
		log = slog.Default()
	}
	s := &CaptureService{
		memory:       memory,
		summarizer:   summarizer,
		significance: cfg.Significance,
		log:          log.With(slog.String("component", "capture")),
	}
	s.enabled.Store(cfg.Enabled)
	return s
}

// Enabled reports whether auto-capture is currently on.
func (s *CaptureService) Enabled() bool { return s.enabled.Load() }

// SetEnabled toggles auto-capture at runtime.
func (s *CaptureService) SetEnabled(on bool) { s.enabled.Store(on) }

// Significance returns the active gate thresholds.
func (s *CaptureService) Significance() config.SignificanceConfig { return s.significance }

// Significant applies the capture gate: any one threshold crossing makes the
// session worth keeping.
func (s *CaptureService) Significant(req CaptureRequest) (bool, string) {
	tokens := estimateTokens(req.Transcript)
	if tokens >= s.significance.MinTokens {
		return true, fmt.Sprintf("~%d tokens", tokens)
	}
	if len(req.FilesEdited) >= s.significance.MinFileEdits {
		return true, fmt.Sprintf("%d files edited", len(req.FilesEdited))
	}
	toolCalls := req.ToolCalls
	if toolCalls == 0 {
		toolCalls = strings.Count(req.Transcript, `"type":"tool_use"`)
	}
	if toolCalls >= s.significance.MinToolCalls {
		return true, fmt.Sprintf("%d tool calls", toolCalls)
	}
	return false, fmt.Sprintf("below thresholds (~%d tokens, %d files, %d tool calls)", tokens, len(req.FilesEdited), toolCalls)
}

// Capture runs the full pipeline: gate, summarize, commit. An insignificant
// session is skipped, not failed.
func (s *CaptureService) Capture(ctx context.Context, req CaptureRequest) (CaptureResult, error) {
	if strings.TrimSpace(req.Transcript) == "" {
		return CaptureResult{}, fmt.Errorf("transcript must not be empty")
	}
	if significant, reason := s.Significant(req); !significant {
		s.log.Debug("session skipped",
			slog.String("session", req.SessionID),
			slog.String("reason", reason),
		)
		return CaptureResult{Skipped: true, Reason: reason}, nil
	}

	summary, err := s.summarize(ctx, req)
	if err != nil {
		return CaptureResult{}, err
	}

	resp, err := s.memory.ConcludeSession(ctx, ConcludeSessionRequest{
		Summary:      summary,
		ChangedFiles: req.FilesEdited,
		Repository:   req.Repository,
		RepoPath:     req.RepoPath,
		Initiative:   req.Initiative,
	})
	if err != nil {
		return CaptureResult{}, fmt.Errorf("commit session summary: %w", err)
	}
	s.log.Info("session captured",
		slog.String("session", req.SessionID),
		slog.String("summary", resp.ID),
	)
	return CaptureResult{Captured: true, SummaryID: resp.ID}, nil
}

// summarize truncates the transcript and asks the provider chain for a
// summary. An empty result is an explicit failure.
func (s *CaptureService) summarize(ctx context.Context, req CaptureRequest) (string, error) {
	if s.summarizer == nil {
		return "", fmt.Errorf("summarize session: no LLM provider configured")
	}

	transcript := req.Transcript
	if len(transcript) > transcriptTruncateChars {
		transcript = transcript[:transcriptTruncateChars]
	}

	var b strings.Builder
	b.WriteString("Summarize this coding session in a few short paragraphs: what was worked on, ")
	b.WriteString("key decisions and why, problems hit and how they were resolved, and any follow-up work. ")
	b.WriteString("Reply with the summary only.\n\n")
	if len(req.FilesEdited) > 0 {
		fmt.Fprintf(&b, "Files edited: %s\n\n", strings.Join(req.FilesEdited, ", "))
	}
	b.WriteString(transcript)

	out, err := s.summarizer.Generate(ctx, b.String())
	if err != nil {
		return "", fmt.Errorf("summarize session: %w", err)
	}
	if strings.TrimSpace(out) == "" {
		return "", fmt.Errorf("summarize session: provider returned empty output")
	}
	return strings.TrimSpace(out), nil
}

// estimateTokens approximates token count at four characters per token.
func estimateTokens(text string) int {
	return len(text) / 4
}

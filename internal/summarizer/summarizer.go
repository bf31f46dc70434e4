// Package summarizer turns a run of session messages into a short prose
// summary and extracts durable facts from them, both via an LLM call
// (spec.md §4.8).
package summarizer

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/skyefall/nanobot/internal/providers"
)

const (
	summaryTemperature = 0.3
	summaryMaxTokens   = 1024
	factsTemperature   = 0.2
	factsMaxTokens     = 512
)

const defaultSummaryInstruction = "Summarize the following conversation concisely, preserving any decisions, commitments, and open threads. Write prose, not a transcript."

const factExtractionInstruction = "Extract any durable facts worth remembering long-term from the following conversation: names, preferences, decisions, commitments, or project details. One fact per line. If there is nothing worth remembering, reply with exactly \"nothing to extract\"."

// Service is an LLM-backed Summarizer (internal/context.Summarizer).
type Service struct {
	Provider providers.Provider
	Model    string
}

// NewService constructs a summarizer bound to a provider and model.
func NewService(provider providers.Provider, model string) *Service {
	return &Service{Provider: provider, Model: model}
}

// Session is the result of summarizing one session's full history.
type Session struct {
	Summary string
	Facts   string
}

// SummarizeMessages filters out system/tool messages, renders the rest as
// "Role: content" lines, and asks the provider for a summary. On failure
// it returns a non-empty placeholder rather than propagating the error,
// so compaction always has something to write.
func (s *Service) SummarizeMessages(ctx context.Context, messages []providers.Message) (string, error) {
	rendered := renderConversation(messages)
	if rendered == "" {
		return "", nil
	}

	resp, err := s.Provider.Chat(ctx, providers.ChatRequest{
		Model: s.modelOrDefault(),
		Messages: []providers.Message{
			{Role: "system", Content: defaultSummaryInstruction},
			{Role: "user", Content: rendered},
		},
		Options: map[string]interface{}{
			providers.OptMaxTokens: summaryMaxTokens,
			"temperature":          summaryTemperature,
		},
	})
	if err != nil {
		slog.Warn("summarizer: summary call failed", "error", err)
		return fmt.Sprintf("[Summary unavailable: %d messages]", len(messages)), nil
	}
	return strings.TrimSpace(resp.Content), nil
}

// ExtractFacts asks the provider to pull durable facts out of messages.
// A response of "nothing to extract" (case-insensitive) or an empty
// response both normalize to the empty string.
func (s *Service) ExtractFacts(ctx context.Context, messages []providers.Message) (string, error) {
	rendered := renderConversation(messages)
	if rendered == "" {
		return "", nil
	}

	resp, err := s.Provider.Chat(ctx, providers.ChatRequest{
		Model: s.modelOrDefault(),
		Messages: []providers.Message{
			{Role: "system", Content: factExtractionInstruction},
			{Role: "user", Content: rendered},
		},
		Options: map[string]interface{}{
			providers.OptMaxTokens: factsMaxTokens,
			"temperature":          factsTemperature,
		},
	})
	if err != nil {
		return "", err
	}

	text := strings.TrimSpace(resp.Content)
	if text == "" || strings.EqualFold(text, "nothing to extract") {
		return "", nil
	}
	return text, nil
}

// SummarizeSession summarizes and extracts facts from one session's
// history in a single call pair.
func (s *Service) SummarizeSession(ctx context.Context, messages []providers.Message, sessionKey string) (Session, error) {
	summary, err := s.SummarizeMessages(ctx, messages)
	if err != nil {
		return Session{Summary: summary}, err
	}
	facts, err := s.ExtractFacts(ctx, messages)
	if err != nil {
		return Session{Summary: summary}, err
	}
	return Session{Summary: summary, Facts: facts}, nil
}

func (s *Service) modelOrDefault() string {
	if s.Model != "" {
		return s.Model
	}
	return s.Provider.DefaultModel()
}

func renderConversation(messages []providers.Message) string {
	var b strings.Builder
	for _, m := range messages {
		if m.Role == "system" || m.Role == "tool" {
			continue
		}
		if strings.TrimSpace(m.Content) == "" {
			continue
		}
		fmt.Fprintf(&b, "%s: %s\n", capitalize(m.Role), m.Content)
	}
	return strings.TrimSpace(b.String())
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

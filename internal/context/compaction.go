package contextmgr

import (
	"context"
	"log/slog"

	"github.com/skyefall/nanobot/internal/providers"
)

// Summarizer is the collaborator that turns a run of old messages into a
// short prose summary. Implemented by internal/summarizer.Service.
type Summarizer interface {
	SummarizeMessages(ctx context.Context, messages []providers.Message) (string, error)
}

// NeedsCompaction reports whether the session should be compacted: either
// the user+assistant message count exceeds windowSize, or the estimated
// total token count exceeds tokenThreshold*maxTokens (spec.md §4.6).
func NeedsCompaction(messages []providers.Message, windowSize, maxTokens int, tokenThreshold float64, model string) bool {
	if tokenThreshold <= 0 {
		tokenThreshold = 0.75
	}

	count := 0
	total := 0
	for _, m := range messages {
		if m.Role == "user" || m.Role == "assistant" {
			count++
		}
		total += CountTokens(m.Content, model)
	}

	if count > windowSize {
		return true
	}
	if maxTokens > 0 && float64(total) > tokenThreshold*float64(maxTokens) {
		return true
	}
	return false
}

// PrepareForCompaction splits off the leading system message (if any),
// then cuts the remaining conversation at len-keepRecent: everything
// before the cut is "old" (eligible for summarization), everything after
// is "recent" (kept verbatim).
func PrepareForCompaction(messages []providers.Message, keepRecent int) (old, recent []providers.Message, systemMsg *providers.Message) {
	rest := messages
	if len(rest) > 0 && rest[0].Role == "system" {
		m := rest[0]
		systemMsg = &m
		rest = rest[1:]
	}

	if keepRecent < 0 {
		keepRecent = 0
	}
	if len(rest) <= keepRecent {
		return nil, rest, systemMsg
	}
	cut := len(rest) - keepRecent
	return rest[:cut], rest[cut:], systemMsg
}

// CompactIfNeeded runs the full compaction decision and rewrite. If
// compaction is not needed, no summarizer is configured, or there is
// nothing to summarize, it returns the original messages unchanged and
// false. On summarizer success it returns the rebuilt message list and
// true. On summarizer failure it logs and returns the original messages
// unchanged — compaction never loses data.
func CompactIfNeeded(ctx context.Context, messages []providers.Message, windowSize, maxTokens int, tokenThreshold float64, keepRecent int, model string, summarizer Summarizer) ([]providers.Message, bool) {
	if !NeedsCompaction(messages, windowSize, maxTokens, tokenThreshold, model) {
		return messages, false
	}
	if summarizer == nil {
		return messages, false
	}

	old, recent, systemMsg := PrepareForCompaction(messages, keepRecent)
	if len(old) == 0 {
		return messages, false
	}

	summary, err := summarizer.SummarizeMessages(ctx, old)
	if err != nil {
		slog.Warn("context: compaction summarizer failed, keeping session uncompacted", "error", err)
		return messages, false
	}

	rebuilt := make([]providers.Message, 0, len(recent)+2)
	if systemMsg != nil {
		rebuilt = append(rebuilt, *systemMsg)
	}
	rebuilt = append(rebuilt, providers.Message{
		Role:    "system",
		Content: "[Summary of earlier conversation]\n" + summary,
	})
	rebuilt = append(rebuilt, recent...)

	return rebuilt, true
}

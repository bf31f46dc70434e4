package agent

import (
	"strings"
	"unicode/utf8"

	"github.com/skyefall/nanobot/internal/providers"
)

// truncateStr clamps a string to maxLen bytes without splitting a
// multi-byte rune, used when attaching LLM/tool previews to spans.
func truncateStr(s string, maxLen int) string {
	s = strings.ToValidUTF8(s, "")
	if len(s) <= maxLen {
		return s
	}
	for maxLen > 0 && !utf8.RuneStart(s[maxLen]) {
		maxLen--
	}
	return s[:maxLen] + "..."
}

// EstimateTokens returns a rough token estimate for a slice of messages,
// used for summarization thresholds ahead of an exact provider count.
func EstimateTokens(messages []providers.Message) int {
	total := 0
	for _, m := range messages {
		total += utf8.RuneCountInString(m.Content) / 3
	}
	return total
}

package contextmgr

import (
	"log/slog"
	"unicode/utf8"
)

// modelCharsPerToken approximates the chars-per-token ratio for models this
// runtime knows about; everything else falls back to genericCharsPerToken.
// No tokenizer library ships in this corpus, so CountTokens uses a
// conservative heuristic rather than an exact BPE count.
var modelCharsPerToken = map[string]float64{
	"gpt-4o":            4.0,
	"gpt-4":             4.0,
	"gpt-3.5-turbo":     4.0,
	"claude-3-5-sonnet": 3.6,
	"claude-3-opus":     3.6,
	"claude-sonnet-4":   3.6,
}

const genericCharsPerToken = 4.0

// CountTokens estimates the number of tokens `text` would occupy for
// `model`. Uses the model's known ratio if recognized, else a generic
// fallback (spec.md §4.5: "uses the model's tokenizer if known, else a
// generic fallback").
func CountTokens(text, model string) int {
	ratio, ok := modelCharsPerToken[model]
	if !ok {
		ratio = genericCharsPerToken
	}
	n := utf8.RuneCountInString(text)
	return int(float64(n)/ratio + 0.5)
}

// logTokenPressure logs at >80% of maxTokens and warns at >95%, per
// spec.md §4.5.
func logTokenPressure(used, maxTokens int, sessionKey string) {
	if maxTokens <= 0 {
		return
	}
	ratio := float64(used) / float64(maxTokens)
	switch {
	case ratio > 0.95:
		slog.Warn("context: token usage near limit", "session", sessionKey, "used", used, "max", maxTokens, "ratio", ratio)
	case ratio > 0.80:
		slog.Info("context: token usage elevated", "session", sessionKey, "used", used, "max", maxTokens, "ratio", ratio)
	}
}

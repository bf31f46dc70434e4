// Package sessions implements the per-conversation session cache and the
// JSONL-backed archive described in SPEC_FULL.md §3/§4.2.
package sessions

import (
	"fmt"
	"strings"
)

// BuildSessionKey returns the canonical "channel:chat_id" session key.
func BuildSessionKey(channel, chatID string) string {
	return channel + ":" + chatID
}

// BuildTopicSessionKey returns a session key scoped to a single forum topic
// within a chat, isolating history per-topic the way a Telegram supergroup's
// forum topics behave like independent rooms.
func BuildTopicSessionKey(channel, chatID string, topicID int) string {
	return BuildSessionKey(channel, fmt.Sprintf("%s:topic:%d", chatID, topicID))
}

// SplitSessionKey reverses BuildSessionKey. Channel is everything before the
// first colon; chat_id is everything after (chat IDs may themselves contain
// colons, e.g. system-channel origin encoding).
func SplitSessionKey(key string) (channel, chatID string) {
	idx := strings.Index(key, ":")
	if idx < 0 {
		return key, ""
	}
	return key[:idx], key[idx+1:]
}

// SanitizeFilename makes a session key safe to use as a filename component
// by replacing path-hostile characters.
func SanitizeFilename(key string) string {
	return strings.NewReplacer(":", "_", "/", "_", "\\", "_").Replace(key)
}

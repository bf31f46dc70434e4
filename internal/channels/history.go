package channels

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// DefaultGroupHistoryLimit is the number of un-mentioned group messages
// retained as context for the turn that finally mentions the bot.
const DefaultGroupHistoryLimit = 20

// HistoryEntry is one recorded group message awaiting a bot mention.
type HistoryEntry struct {
	Sender    string
	Body      string
	Timestamp time.Time
	MessageID string
}

// PendingHistory buffers recent group messages per chat/topic key while the
// bot hasn't been mentioned yet, so that once it is mentioned the reply can
// be grounded in the conversation that led up to it (spec's mention-gating
// group behavior).
type PendingHistory struct {
	mu      sync.Mutex
	entries map[string][]HistoryEntry
}

// NewPendingHistory creates an empty buffer.
func NewPendingHistory() *PendingHistory {
	return &PendingHistory{entries: make(map[string][]HistoryEntry)}
}

// Record appends an entry for key, keeping only the most recent limit
// entries.
func (p *PendingHistory) Record(key string, entry HistoryEntry, limit int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	entries := append(p.entries[key], entry)
	if limit > 0 && len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	p.entries[key] = entries
}

// BuildContext renders the buffered history for key followed by the
// current (mentioning) message, capped to limit prior entries.
func (p *PendingHistory) BuildContext(key, current string, limit int) string {
	p.mu.Lock()
	entries := p.entries[key]
	p.mu.Unlock()

	if len(entries) == 0 {
		return current
	}
	if limit > 0 && len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}

	var sb strings.Builder
	sb.WriteString("[Recent group messages before this mention]\n")
	for _, e := range entries {
		fmt.Fprintf(&sb, "%s: %s\n", e.Sender, e.Body)
	}
	sb.WriteString("\n")
	sb.WriteString(current)
	return sb.String()
}

// Clear drops the buffered history for key.
func (p *PendingHistory) Clear(key string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.entries, key)
}

// Package store defines the SessionStore abstraction used by the agent loop,
// scheduler, and CLI so they never depend on sessions.Manager's on-disk
// layout directly (SPEC_FULL.md §4.2).
package store

import (
	"time"

	"github.com/skyefall/nanobot/internal/providers"
)

// SessionInfo is lightweight session metadata for listing.
type SessionInfo struct {
	Key          string    `json:"key"`
	MessageCount int       `json:"messageCount"`
	Created      time.Time `json:"created"`
	Updated      time.Time `json:"updated"`
}

// SessionStore manages conversation sessions for a single-tenant runtime:
// one store per running agent, keyed by "channel:chat_id"
// (SPEC_FULL.md §3 Non-goals exclude multi-tenant isolation).
type SessionStore interface {
	GetOrCreate(key string) *SessionData
	AddMessage(key string, msg providers.Message)
	GetHistory(key string, maxN int) []providers.Message
	GetSummary(key string) string
	SetSummary(key, summary string)
	SetLabel(key, label string)
	AccumulateTokens(key string, input, output int64)
	IncrementCompaction(key string)
	GetCompactionCount(key string) int
	SetSpawnInfo(key, spawnedBy string, depth int)
	SetContextWindow(key string, cw int)
	GetContextWindow(key string) int
	Reset(key string)
	Delete(key string) error
	List() []SessionInfo
	Save(key string) error
}

// SessionData is a snapshot of one session's archive and metadata.
type SessionData struct {
	Key      string              `json:"key"`
	Messages []providers.Message `json:"messages"`
	Summary  string              `json:"summary,omitempty"`
	Created  time.Time           `json:"created"`
	Updated  time.Time           `json:"updated"`

	CompactionCount int    `json:"compactionCount,omitempty"`
	InputTokens     int64  `json:"inputTokens,omitempty"`
	OutputTokens    int64  `json:"outputTokens,omitempty"`
	Label           string `json:"label,omitempty"`
	SpawnedBy       string `json:"spawnedBy,omitempty"`
	SpawnDepth      int    `json:"spawnDepth,omitempty"`
	ContextWindow   int    `json:"contextWindow,omitempty"`
}

// Package file adapts internal/sessions.Manager to the store.SessionStore
// interface.
package file

import (
	"github.com/skyefall/nanobot/internal/providers"
	"github.com/skyefall/nanobot/internal/sessions"
	"github.com/skyefall/nanobot/internal/store"
)

// SessionStore wraps sessions.Manager to implement store.SessionStore.
type SessionStore struct {
	mgr *sessions.Manager
}

func NewSessionStore(mgr *sessions.Manager) *SessionStore {
	return &SessionStore{mgr: mgr}
}

// Manager returns the underlying sessions.Manager for direct access by
// components that need Session-level detail the interface doesn't expose.
func (f *SessionStore) Manager() *sessions.Manager { return f.mgr }

func (f *SessionStore) GetOrCreate(key string) *store.SessionData {
	return sessionToData(f.mgr.GetOrCreate(key))
}

func (f *SessionStore) AddMessage(key string, msg providers.Message) {
	f.mgr.AddMessage(key, msg)
}

func (f *SessionStore) GetHistory(key string, maxN int) []providers.Message {
	return f.mgr.GetHistory(key, maxN)
}

func (f *SessionStore) GetSummary(key string) string { return f.mgr.GetSummary(key) }

func (f *SessionStore) SetSummary(key, summary string) { f.mgr.SetSummary(key, summary) }

func (f *SessionStore) SetLabel(key, label string) { f.mgr.SetLabel(key, label) }

func (f *SessionStore) AccumulateTokens(key string, input, output int64) {
	f.mgr.AccumulateTokens(key, input, output)
}

func (f *SessionStore) IncrementCompaction(key string) { f.mgr.IncrementCompaction(key) }

func (f *SessionStore) GetCompactionCount(key string) int { return f.mgr.GetCompactionCount(key) }

func (f *SessionStore) SetSpawnInfo(key, spawnedBy string, depth int) {
	f.mgr.SetSpawnInfo(key, spawnedBy, depth)
}

func (f *SessionStore) SetContextWindow(key string, cw int) { f.mgr.SetContextWindow(key, cw) }

func (f *SessionStore) GetContextWindow(key string) int { return f.mgr.GetContextWindow(key) }

func (f *SessionStore) Reset(key string) { f.mgr.Reset(key) }

func (f *SessionStore) Delete(key string) error { return f.mgr.Delete(key) }

func (f *SessionStore) List() []store.SessionInfo {
	items := f.mgr.List()
	result := make([]store.SessionInfo, len(items))
	for i, item := range items {
		result[i] = store.SessionInfo{
			Key:          item.Key,
			MessageCount: item.MessageCount,
			Created:      item.Created,
			Updated:      item.Updated,
		}
	}
	return result
}

func (f *SessionStore) Save(key string) error { return f.mgr.Save(key) }

func sessionToData(s *sessions.Session) *store.SessionData {
	return &store.SessionData{
		Key:             s.Key,
		Messages:        s.Messages,
		Summary:         s.Summary,
		Created:         s.Created,
		Updated:         s.Updated,
		CompactionCount: s.CompactionCount,
		InputTokens:     s.InputTokens,
		OutputTokens:    s.OutputTokens,
		Label:           s.Label,
		SpawnedBy:       s.SpawnedBy,
		SpawnDepth:      s.SpawnDepth,
		ContextWindow:   s.ContextWindow,
	}
}

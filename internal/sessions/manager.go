package sessions

import (
	"bufio"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/skyefall/nanobot/internal/providers"
)

// Session holds the in-memory message archive for one conversation, keyed
// by "channel:chat_id". Messages are append-only; Session never mutates a
// message in place (SPEC_FULL.md §3).
type Session struct {
	Key      string
	Messages []providers.Message
	Summary  string
	Created  time.Time
	Updated  time.Time

	Label           string
	CompactionCount int
	InputTokens     int64
	OutputTokens    int64
	ContextWindow   int
	SpawnedBy       string
	SpawnDepth      int
}

// AddMessage appends a message, stamping Timestamp if unset.
func (s *Session) AddMessage(msg providers.Message) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	s.Messages = append(s.Messages, msg)
	s.Updated = time.Now().UTC()
}

// GetHistory returns the compaction-aware projection of the archive,
// capped to the last maxN messages: scan from the tail backward for the
// most recent system-role message, keep that message and everything after
// it, then cap to maxN from the tail (filter-then-cap — see SPEC_FULL.md §9
// Open Question decisions). maxN<=0 means unbounded.
func (s *Session) GetHistory(maxN int) []providers.Message {
	msgs := s.Messages
	lastSystem := -1
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == "system" {
			lastSystem = i
			break
		}
	}
	view := msgs
	if lastSystem >= 0 {
		view = msgs[lastSystem:]
	}
	if maxN > 0 && len(view) > maxN {
		view = view[len(view)-maxN:]
	}
	out := make([]providers.Message, len(view))
	copy(out, view)
	return out
}

// Clear empties the in-memory archive. Persistence happens on next Save.
func (s *Session) Clear() {
	s.Messages = nil
	s.Summary = ""
	s.Updated = time.Now().UTC()
}

// Manager caches Sessions in memory and persists them through Store.
// All mutations happen through the single agent-loop goroutine per
// SPEC_FULL.md §5, so the map itself only needs to guard concurrent reads
// from ancillary goroutines (gateway status endpoint, cron, subagents).
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	storage  string
}

// NewManager creates a Manager backed by a JSONL directory. If storage is
// empty, sessions are in-memory only (used by tests).
func NewManager(storage string) *Manager {
	m := &Manager{sessions: make(map[string]*Session), storage: storage}
	if storage != "" {
		if err := os.MkdirAll(storage, 0o755); err != nil {
			slog.Error("sessions: create storage dir", "dir", storage, "error", err)
		}
	}
	return m
}

// GetOrCreate returns the cached session, or loads it from disk, or creates
// a fresh empty one.
func (m *Manager) GetOrCreate(key string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.sessions[key]; ok {
		return s
	}
	if s := m.loadFromDisk(key); s != nil {
		m.sessions[key] = s
		return s
	}
	s := &Session{Key: key, Created: time.Now().UTC(), Updated: time.Now().UTC()}
	m.sessions[key] = s
	return s
}

// GetHistory returns the compaction-aware history for key (0 if the
// session doesn't exist).
func (m *Manager) GetHistory(key string, maxN int) []providers.Message {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[key]
	if !ok {
		return nil
	}
	return s.GetHistory(maxN)
}

// AddMessage appends a message to the named session, creating it if absent.
func (m *Manager) AddMessage(key string, msg providers.Message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[key]
	if !ok {
		s = &Session{Key: key, Created: time.Now().UTC()}
		m.sessions[key] = s
	}
	s.AddMessage(msg)
}

func (m *Manager) GetSummary(key string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if s, ok := m.sessions[key]; ok {
		return s.Summary
	}
	return ""
}

func (m *Manager) SetSummary(key, summary string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[key]; ok {
		s.Summary = summary
		s.Updated = time.Now().UTC()
	}
}

func (m *Manager) SetLabel(key, label string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[key]; ok {
		s.Label = label
	}
}

func (m *Manager) AccumulateTokens(key string, inputTokens, outputTokens int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[key]; ok {
		s.InputTokens += inputTokens
		s.OutputTokens += outputTokens
	}
}

func (m *Manager) IncrementCompaction(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[key]; ok {
		s.CompactionCount++
	}
}

func (m *Manager) GetCompactionCount(key string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if s, ok := m.sessions[key]; ok {
		return s.CompactionCount
	}
	return 0
}

func (m *Manager) SetContextWindow(key string, cw int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[key]; ok {
		s.ContextWindow = cw
	}
}

func (m *Manager) GetContextWindow(key string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if s, ok := m.sessions[key]; ok {
		return s.ContextWindow
	}
	return 0
}

func (m *Manager) SetSpawnInfo(key, spawnedBy string, depth int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[key]; ok {
		s.SpawnedBy = spawnedBy
		s.SpawnDepth = depth
	}
}

// Reset clears a session's in-memory archive (persisted on next Save).
func (m *Manager) Reset(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[key]; ok {
		s.Clear()
	}
}

// Delete removes a session from the cache and from disk.
func (m *Manager) Delete(key string) error {
	m.mu.Lock()
	delete(m.sessions, key)
	m.mu.Unlock()

	if m.storage == "" {
		return nil
	}
	path := filepath.Join(m.storage, SanitizeFilename(key)+".jsonl")
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// SessionInfo is a lightweight descriptor returned by List.
type SessionInfo struct {
	Key          string
	MessageCount int
	Created      time.Time
	Updated      time.Time
}

// List returns descriptors for every cached session, plus any session files
// on disk not yet loaded into the cache (their metadata line is read but
// their messages are not materialized).
func (m *Manager) List() []SessionInfo {
	m.mu.RLock()
	seen := make(map[string]bool, len(m.sessions))
	result := make([]SessionInfo, 0, len(m.sessions))
	for key, s := range m.sessions {
		seen[key] = true
		result = append(result, SessionInfo{Key: key, MessageCount: len(s.Messages), Created: s.Created, Updated: s.Updated})
	}
	m.mu.RUnlock()

	if m.storage != "" {
		entries, err := os.ReadDir(m.storage)
		if err == nil {
			for _, e := range entries {
				if e.IsDir() || filepath.Ext(e.Name()) != ".jsonl" {
					continue
				}
				meta, ok := readMetadataLine(filepath.Join(m.storage, e.Name()))
				if !ok || seen[meta.Key] {
					continue
				}
				result = append(result, SessionInfo{Key: meta.Key, Created: meta.CreatedAt})
			}
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Key < result[j].Key })
	return result
}

// metadataRecord is always the first line of a session's .jsonl file.
type metadataRecord struct {
	Type      string    `json:"type"`
	Key       string    `json:"key"`
	CreatedAt time.Time `json:"created_at"`
}

// messageRecord is every subsequent line.
type messageRecord struct {
	Type string `json:"type"`
	providers.Message
}

// Save rewrites key's session file: metadata line, then every message
// line, UTF-8, no ASCII-escaping — per SPEC_FULL.md §4.2. Written via a
// temp-file-then-rename in the same directory so a crash mid-write never
// corrupts the prior, still-valid file.
func (m *Manager) Save(key string) error {
	if m.storage == "" {
		return nil
	}
	m.mu.RLock()
	s, ok := m.sessions[key]
	if !ok {
		m.mu.RUnlock()
		return nil
	}
	msgs := make([]providers.Message, len(s.Messages))
	copy(msgs, s.Messages)
	created := s.Created
	m.mu.RUnlock()

	filename := SanitizeFilename(key)
	if filename == "" || filename == "." || filepath.Base(filename) != filename {
		return os.ErrInvalid
	}
	sessionPath := filepath.Join(m.storage, filename+".jsonl")

	tmp, err := os.CreateTemp(m.storage, "session-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	cleanup := true
	defer func() {
		if cleanup {
			os.Remove(tmpPath)
		}
	}()

	enc := json.NewEncoder(tmp)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(metadataRecord{Type: "metadata", Key: key, CreatedAt: created}); err != nil {
		tmp.Close()
		return err
	}
	for _, msg := range msgs {
		if err := enc.Encode(messageRecord{Type: "message", Message: msg}); err != nil {
			tmp.Close()
			return err
		}
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, sessionPath); err != nil {
		return err
	}
	cleanup = false
	return nil
}

// loadFromDisk loads one session file. On a corrupted file it logs and
// returns nil so the caller falls back to a fresh empty session
// (PersistenceCorruption, SPEC_FULL.md §7) rather than crashing.
func (m *Manager) loadFromDisk(key string) *Session {
	if m.storage == "" {
		return nil
	}
	path := filepath.Join(m.storage, SanitizeFilename(key)+".jsonl")
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)

	var meta metadataRecord
	if !scanner.Scan() {
		return nil
	}
	if err := json.Unmarshal(scanner.Bytes(), &meta); err != nil || meta.Type != "metadata" {
		slog.Error("sessions: corrupted metadata line, starting fresh", "key", key, "error", err)
		return nil
	}

	s := &Session{Key: meta.Key, Created: meta.CreatedAt, Updated: meta.CreatedAt}
	for scanner.Scan() {
		var rec messageRecord
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			slog.Error("sessions: corrupted message line, skipping rest of file", "key", key, "error", err)
			break
		}
		s.Messages = append(s.Messages, rec.Message)
		s.Updated = rec.Message.Timestamp
	}
	if err := scanner.Err(); err != nil {
		slog.Error("sessions: read error, starting fresh", "key", key, "error", err)
		return &Session{Key: key, Created: time.Now().UTC(), Updated: time.Now().UTC()}
	}
	return s
}

func readMetadataLine(path string) (metadataRecord, bool) {
	f, err := os.Open(path)
	if err != nil {
		return metadataRecord{}, false
	}
	defer f.Close()
	scanner := bufio.NewScanner(f)
	if !scanner.Scan() {
		return metadataRecord{}, false
	}
	var meta metadataRecord
	if err := json.Unmarshal(scanner.Bytes(), &meta); err != nil || meta.Type != "metadata" {
		return metadataRecord{}, false
	}
	return meta, true
}

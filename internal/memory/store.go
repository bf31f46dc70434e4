// Package memory implements the vector-memory collaborator referenced by
// the Context Manager and the Daily Summary service (spec.md §3, §4.11):
// a JSONL-backed store of MemoryRecords with naive token-overlap recall
// rather than an embedding model, since none is specified as available
// (grounded on the Query/Add shape of philippgille/chromem-go, see
// DESIGN.md).
package memory

import (
	"bufio"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Tag buckets a MemoryRecord by durability/importance.
type Tag string

const (
	TagCore    Tag = "core"
	TagCrucial Tag = "crucial"
	TagDefault Tag = "default"
)

// Metadata carries the classification and provenance of a MemoryRecord.
type Metadata struct {
	Tag         Tag       `json:"tag"`
	Weight      float64   `json:"weight"`
	Timestamp   time.Time `json:"timestamp"`
	Author      string    `json:"author,omitempty"`
	Categories  []string  `json:"categories,omitempty"`
	ContentHash string    `json:"content_hash"`
	Source      string    `json:"source,omitempty"`
	Project     string    `json:"project,omitempty"`
	Decision    bool      `json:"decision,omitempty"`
}

// Record is one stored memory.
type Record struct {
	ID       string   `json:"id"`
	Content  string   `json:"content"`
	Metadata Metadata `json:"metadata"`
}

// Store is a JSONL-backed, append-only MemoryRecord collection guarded by
// a mutex; Forget rewrites the file in place (the same "full rewrite on
// mutation" idiom the Cron Engine uses for its catalog).
type Store struct {
	path string

	mu      sync.RWMutex
	records []Record
}

// Open loads (or creates) the memory store at path.
func Open(path string) (*Store, error) {
	s := &Store{path: path}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) load() error {
	f, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var rec Record
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			continue
		}
		s.records = append(s.records, rec)
	}
	return scanner.Err()
}

// Remember appends a new MemoryRecord, computing its id and content hash.
func (s *Store) Remember(content string, meta Metadata) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if meta.Timestamp.IsZero() {
		meta.Timestamp = time.Now().UTC()
	}
	if meta.Tag == "" {
		meta.Tag = TagDefault
	}
	meta.ContentHash = fmt.Sprintf("%x", sha256.Sum256([]byte(content)))

	rec := Record{ID: uuid.NewString(), Content: content, Metadata: meta}
	s.records = append(s.records, rec)

	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return rec, err
	}
	defer f.Close()

	line, err := json.Marshal(rec)
	if err != nil {
		return rec, err
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		return rec, err
	}
	return rec, nil
}

// Recall returns up to maxResults records scored against query by naive
// token overlap, highest score first, filtered to scores >= minScore.
func (s *Store) Recall(query string, maxResults int, minScore float64) []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()

	qTokens := tokenize(query)
	type scored struct {
		rec   Record
		score float64
	}
	var candidates []scored
	for _, rec := range s.records {
		score := overlapScore(qTokens, tokenize(rec.Content))
		if score >= minScore {
			candidates = append(candidates, scored{rec, score})
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].score > candidates[j].score
	})
	if maxResults > 0 && len(candidates) > maxResults {
		candidates = candidates[:maxResults]
	}
	out := make([]Record, len(candidates))
	for i, c := range candidates {
		out[i] = c.rec
	}
	return out
}

// Forget removes the record with the given id and rewrites the store file.
func (s *Store) Forget(id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := -1
	for i, rec := range s.records {
		if rec.ID == id {
			idx = i
			break
		}
	}
	if idx == -1 {
		return false, nil
	}
	s.records = append(s.records[:idx], s.records[idx+1:]...)

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".memory-*.tmp")
	if err != nil {
		return true, err
	}
	defer os.Remove(tmp.Name())

	w := bufio.NewWriter(tmp)
	for _, rec := range s.records {
		line, err := json.Marshal(rec)
		if err != nil {
			tmp.Close()
			return true, err
		}
		if _, err := w.Write(append(line, '\n')); err != nil {
			tmp.Close()
			return true, err
		}
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		return true, err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return true, err
	}
	if err := tmp.Close(); err != nil {
		return true, err
	}
	return true, os.Rename(tmp.Name(), s.path)
}

// Count returns the number of stored records.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

func tokenize(s string) map[string]bool {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !('a' <= r && r <= 'z' || '0' <= r && r <= '9')
	})
	set := make(map[string]bool, len(fields))
	for _, f := range fields {
		if f != "" {
			set[f] = true
		}
	}
	return set
}

func overlapScore(a, b map[string]bool) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	common := 0
	for tok := range a {
		if b[tok] {
			common++
		}
	}
	return float64(common) / float64(len(a))
}

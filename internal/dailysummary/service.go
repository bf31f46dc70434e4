// Package dailysummary implements the once-per-day session consolidation
// service (spec.md §4.11): summarize every session, accumulate facts into
// a long-term memory journal, and optionally push facts into the vector
// memory collaborator.
package dailysummary

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/skyefall/nanobot/internal/memory"
	"github.com/skyefall/nanobot/internal/providers"
	"github.com/skyefall/nanobot/internal/store"
	"github.com/skyefall/nanobot/internal/summarizer"
)

const minMessagesToSummarize = 2

// Summarizer is the collaborator that turns a session's messages into a
// summary and a set of facts. Implemented by *summarizer.Service.
type Summarizer interface {
	SummarizeSession(ctx context.Context, messages []providers.Message, sessionKey string) (summarizer.Session, error)
}

// Service runs the daily consolidation job at a configured hour.
type Service struct {
	sessions   store.SessionStore
	summarizer Summarizer
	memory     *memory.Store
	memoryDir  string
	hour       int

	mu          sync.Mutex
	lastRunDate string
}

// NewService constructs the daily summary service. memStore may be nil if
// no vector memory collaborator is configured.
func NewService(sessions store.SessionStore, summarizer Summarizer, memStore *memory.Store, memoryDir string, hour int) *Service {
	return &Service{
		sessions:   sessions,
		summarizer: summarizer,
		memory:     memStore,
		memoryDir:  memoryDir,
		hour:       hour,
	}
}

// Run blocks, checking every minute whether it's time to run today's
// consolidation, until ctx is cancelled.
func (s *Service) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	s.maybeRun(ctx, time.Now())
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.maybeRun(ctx, now)
		}
	}
}

// maybeRun fires the consolidation once per calendar day, the first time
// the clock reaches the configured hour. last_run_date makes later
// same-day checks no-ops.
func (s *Service) maybeRun(ctx context.Context, now time.Time) {
	if now.Hour() != s.hour {
		return
	}
	today := now.Format("2006-01-02")

	s.mu.Lock()
	if s.lastRunDate == today {
		s.mu.Unlock()
		return
	}
	s.lastRunDate = today
	s.mu.Unlock()

	if err := s.consolidate(ctx, today); err != nil {
		slog.Error("dailysummary: consolidation failed", "error", err)
	}
}

// RunNow forces consolidation immediately, regardless of the clock or
// last_run_date, for manual/CLI invocation.
func (s *Service) RunNow(ctx context.Context) error {
	today := time.Now().Format("2006-01-02")
	s.mu.Lock()
	s.lastRunDate = today
	s.mu.Unlock()
	return s.consolidate(ctx, today)
}

func (s *Service) consolidate(ctx context.Context, today string) error {
	sessions := s.sessions.List()

	var journal strings.Builder
	fmt.Fprintf(&journal, "# %s\n\n", today)

	var facts []string

	for _, info := range sessions {
		data := s.sessions.GetOrCreate(info.Key)
		if len(data.Messages) < minMessagesToSummarize {
			continue
		}

		result, err := s.summarizer.SummarizeSession(ctx, data.Messages, info.Key)
		if err != nil {
			slog.Warn("dailysummary: session summarize failed", "session", info.Key, "error", err)
			continue
		}

		fmt.Fprintf(&journal, "## %s\n%s\n\n", info.Key, result.Summary)

		for _, line := range strings.Split(result.Facts, "\n") {
			line = strings.TrimSpace(line)
			if line != "" {
				facts = append(facts, line)
			}
		}
	}

	if err := s.appendTodayJournal(today, journal.String()); err != nil {
		return fmt.Errorf("dailysummary: write today's journal: %w", err)
	}
	if len(facts) == 0 {
		return nil
	}
	if err := s.appendLongTermJournal(facts); err != nil {
		return fmt.Errorf("dailysummary: write long-term journal: %w", err)
	}

	if s.memory != nil {
		s.storeFactsAsMemory(facts)
	}
	return nil
}

func (s *Service) appendTodayJournal(today, content string) error {
	if err := os.MkdirAll(s.memoryDir, 0755); err != nil {
		return err
	}
	path := filepath.Join(s.memoryDir, today+".md")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.WriteString(content)
	return err
}

func (s *Service) appendLongTermJournal(facts []string) error {
	if err := os.MkdirAll(s.memoryDir, 0755); err != nil {
		return err
	}
	path := filepath.Join(s.memoryDir, "MEMORY.md")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer f.Close()
	for _, fact := range facts {
		if _, err := fmt.Fprintf(f, "- %s\n", fact); err != nil {
			return err
		}
	}
	return nil
}

// storeFactsAsMemory stores each non-blank, non-header fact line as a
// default-tagged MemoryRecord with source "consolidation".
func (s *Service) storeFactsAsMemory(facts []string) {
	for _, fact := range facts {
		if fact == "" || strings.HasPrefix(fact, "#") {
			continue
		}
		if _, err := s.memory.Remember(fact, memory.Metadata{
			Tag:    memory.TagDefault,
			Source: "consolidation",
		}); err != nil {
			slog.Warn("dailysummary: failed to store fact in vector memory", "error", err)
		}
	}
}

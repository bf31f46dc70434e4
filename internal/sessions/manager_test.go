package sessions

import (
	"os"
	"testing"
	"time"

	"github.com/skyefall/nanobot/internal/providers"
)

func TestAddMessageAndGetHistory(t *testing.T) {
	m := NewManager("")
	key := BuildSessionKey("telegram", "123")

	m.AddMessage(key, providers.Message{Role: "system", Content: "you are an agent"})
	m.AddMessage(key, providers.Message{Role: "user", Content: "hello"})
	m.AddMessage(key, providers.Message{Role: "assistant", Content: "hi there"})

	hist := m.GetHistory(key, 0)
	if len(hist) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(hist))
	}
}

func TestGetHistoryFiltersToLastSystemMessageThenCaps(t *testing.T) {
	m := NewManager("")
	key := BuildSessionKey("telegram", "123")

	m.AddMessage(key, providers.Message{Role: "system", Content: "old system prompt"})
	m.AddMessage(key, providers.Message{Role: "user", Content: "msg1"})
	m.AddMessage(key, providers.Message{Role: "system", Content: "compacted system prompt"})
	m.AddMessage(key, providers.Message{Role: "user", Content: "msg2"})
	m.AddMessage(key, providers.Message{Role: "assistant", Content: "reply2"})
	m.AddMessage(key, providers.Message{Role: "user", Content: "msg3"})

	hist := m.GetHistory(key, 100)
	if len(hist) != 4 {
		t.Fatalf("expected filter-then-cap to drop everything before the last system message, got %d: %+v", len(hist), hist)
	}
	if hist[0].Content != "compacted system prompt" {
		t.Fatalf("expected view to start at the last system message, got %q", hist[0].Content)
	}

	capped := m.GetHistory(key, 2)
	if len(capped) != 2 {
		t.Fatalf("expected cap to 2, got %d", len(capped))
	}
	if capped[len(capped)-1].Content != "msg3" {
		t.Fatalf("expected cap to keep the tail, got %+v", capped)
	}
}

func TestSaveAndReloadRoundTripsJSONL(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(dir)
	key := BuildSessionKey("discord", "chan:42")

	m.AddMessage(key, providers.Message{Role: "system", Content: "sys"})
	m.AddMessage(key, providers.Message{Role: "user", Content: "hello", Timestamp: time.Now().UTC()})
	if err := m.Save(key); err != nil {
		t.Fatalf("Save: %v", err)
	}

	path := dir + "/" + SanitizeFilename(key) + ".jsonl"
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected session file at %s: %v", path, err)
	}

	m2 := NewManager(dir)
	s := m2.GetOrCreate(key)
	if len(s.Messages) != 2 {
		t.Fatalf("expected reload to restore 2 messages, got %d", len(s.Messages))
	}
	if s.Messages[1].Content != "hello" {
		t.Fatalf("unexpected reloaded content: %+v", s.Messages[1])
	}
}

func TestDeleteRemovesCacheAndFile(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(dir)
	key := BuildSessionKey("telegram", "1")
	m.AddMessage(key, providers.Message{Role: "user", Content: "hi"})
	if err := m.Save(key); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := m.Delete(key); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	path := dir + "/" + SanitizeFilename(key) + ".jsonl"
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("expected file removed, stat err = %v", err)
	}
}

func TestListIncludesUnloadedDiskSessions(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(dir)
	key := BuildSessionKey("telegram", "99")
	m.AddMessage(key, providers.Message{Role: "user", Content: "hi"})
	if err := m.Save(key); err != nil {
		t.Fatalf("Save: %v", err)
	}

	m2 := NewManager(dir)
	infos := m2.List()
	if len(infos) != 1 || infos[0].Key != key {
		t.Fatalf("expected List to surface on-disk session, got %+v", infos)
	}
}

// Package subagent implements the Subagent Manager (spec.md §4.12):
// spawning an independent agent instance for a task that shares the
// parent's provider, workspace, and tool policies, but runs to completion
// in its own iterative loop and reports back via the message bus.
package subagent

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/skyefall/nanobot/internal/bus"
	"github.com/skyefall/nanobot/internal/tracing"
)

// Config bounds subagent spawning (SPEC_FULL.md §4.12 / config.go
// AgentConfig.Subagents).
type Config struct {
	MaxConcurrent       int
	MaxSpawnDepth       int
	MaxChildrenPerAgent int
	ArchiveAfterMinutes int
	Model               string
}

// DefaultConfig matches the donor's historical defaults.
func DefaultConfig() Config {
	return Config{
		MaxConcurrent:       4,
		MaxSpawnDepth:       2,
		MaxChildrenPerAgent: 8,
		ArchiveAfterMinutes: 60,
	}
}

// Task is one unit of subagent work.
type Task struct {
	ID            string
	Prompt        string
	SpawnedBy     string // parent session key
	Depth         int
	OriginChannel string
	OriginChatID  string
	TraceID       uuid.UUID
}

// RunFunc executes a subagent's full reason-act loop to completion and
// returns its final content (or an error). Supplied by internal/agent to
// avoid an import cycle between agent and subagent.
type RunFunc func(ctx context.Context, task Task) (string, error)

// Manager tracks in-flight subagents and enforces depth/concurrency/
// per-parent limits.
type Manager struct {
	cfg       Config
	msgBus    *bus.MessageBus
	run       RunFunc
	collector *tracing.Collector

	mu               sync.Mutex
	active           int
	childrenByParent map[string]int
}

// NewManager constructs a Manager. collector may be nil to disable
// tracing for spawned subagents.
func NewManager(cfg Config, msgBus *bus.MessageBus, run RunFunc, collector *tracing.Collector) *Manager {
	return &Manager{
		cfg:              cfg,
		msgBus:           msgBus,
		run:              run,
		collector:        collector,
		childrenByParent: make(map[string]int),
	}
}

// Spawn launches a subagent in the background and returns an
// acknowledgement string immediately; the parent's turn continues without
// waiting. The subagent publishes its own OutboundMessage on completion.
func (m *Manager) Spawn(ctx context.Context, parentSessionKey string, depth int, prompt, originChannel, originChatID string) (string, error) {
	if depth >= m.cfg.MaxSpawnDepth {
		return "", fmt.Errorf("subagent: max spawn depth %d reached", m.cfg.MaxSpawnDepth)
	}

	m.mu.Lock()
	if m.active >= m.cfg.MaxConcurrent {
		m.mu.Unlock()
		return "", fmt.Errorf("subagent: max concurrent subagents (%d) reached", m.cfg.MaxConcurrent)
	}
	if m.childrenByParent[parentSessionKey] >= m.cfg.MaxChildrenPerAgent {
		m.mu.Unlock()
		return "", fmt.Errorf("subagent: max children per agent (%d) reached", m.cfg.MaxChildrenPerAgent)
	}
	m.active++
	m.childrenByParent[parentSessionKey]++
	m.mu.Unlock()

	task := Task{
		ID:            uuid.NewString(),
		Prompt:        prompt,
		SpawnedBy:     parentSessionKey,
		Depth:         depth + 1,
		OriginChannel: originChannel,
		OriginChatID:  originChatID,
		TraceID:       tracing.GenNewID(),
	}

	go m.runTask(task)

	return fmt.Sprintf("subagent %s spawned", task.ID), nil
}

func (m *Manager) runTask(task Task) {
	defer func() {
		m.mu.Lock()
		m.active--
		m.childrenByParent[task.SpawnedBy]--
		m.mu.Unlock()
	}()

	ctx := context.Background()
	ctx = tracing.WithTraceID(ctx, task.TraceID)
	if m.collector != nil {
		ctx = tracing.WithCollector(ctx, m.collector)
	}

	var content string
	var err error
	if m.collector != nil {
		var span trace.Span
		ctx, span = m.collector.StartSpan(ctx, "subagent.run",
			attribute.String("subagent.id", task.ID),
			attribute.String("subagent.spawned_by", task.SpawnedBy),
			attribute.Int("subagent.depth", task.Depth),
		)
		content, err = m.run(ctx, task)
		tracing.EndSpan(span, err)
	} else {
		content, err = m.run(ctx, task)
	}

	reply := content
	if err != nil {
		slog.Error("subagent: task failed", "task", task.ID, "error", err)
		reply = fmt.Sprintf("Subagent task failed: %s", err.Error())
	}

	if m.msgBus != nil {
		m.msgBus.PublishOutbound(bus.OutboundMessage{
			Channel: task.OriginChannel,
			ChatID:  task.OriginChatID,
			Content: reply,
		})
	}
}

// ArchiveAfter returns the configured archive duration, defaulting to one
// hour if unset.
func (m *Manager) ArchiveAfter() time.Duration {
	if m.cfg.ArchiveAfterMinutes <= 0 {
		return time.Hour
	}
	return time.Duration(m.cfg.ArchiveAfterMinutes) * time.Minute
}
